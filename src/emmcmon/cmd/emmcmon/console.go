package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	tty "github.com/mattn/go-tty"

	"sdmmc/src/drivers/emmc"
	"sdmmc/src/drivers/emmc/emmctest"
	"sdmmc/src/hardware/dwcmshc"
	"sdmmc/src/lib/dump"
	"sdmmc/src/lib/trust"
)

///////////////////////////////////////////////////////////////////////
// console is the terminal the monitor talks to
///////////////////////////////////////////////////////////////////////
type console struct {
	io *tty.TTY
}

func openConsole(path string) (*console, error) {
	var t *tty.TTY
	var err error
	if path == "" {
		t, err = tty.Open()
	} else {
		t, err = tty.OpenDevice(path)
	}
	if err != nil {
		return nil, err
	}
	return &console{io: t}, nil
}

func (c *console) Close() error {
	return c.io.Close()
}

func (c *console) Write(p []byte) (int, error) {
	return c.io.Output().Write(p)
}

func (c *console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c, format, args...)
}

// readLine reads one command.  The tty does the echo and line editing.
func (c *console) readLine() (string, error) {
	c.printf("emmc> ")
	return c.io.ReadString()
}

///////////////////////////////////////////////////////////////////////
// monitor owns the simulated controller and the driver on top of it
///////////////////////////////////////////////////////////////////////
type monitor struct {
	ctl   *emmctest.Controller
	clock *emmctest.Clock
	mem   *emmctest.Memory
	card  *emmctest.Card
	host  *emmc.Host
	sess  *emmc.Session
	dev   *emmc.BlockDevice
}

func newMonitor(cfg emmc.Config, card *emmctest.Card, memSize int, dma bool) *monitor {
	m := &monitor{
		ctl:   emmctest.NewController(emmctest.DefaultCaps),
		clock: &emmctest.Clock{},
		mem:   emmctest.NewMemory(emmctest.DefaultMemoryBase, memSize),
		card:  card,
	}
	m.ctl.Mem = m.mem
	m.ctl.Insert(card)
	var opts []emmc.Option
	if dma {
		opts = append(opts, emmc.WithDMA(m.mem))
	}
	m.host = emmc.New(m.ctl, m.clock, cfg, opts...)
	m.sess = emmc.NewSession(m.host)
	return m
}

type command struct {
	name  string
	args  string
	help  string
	fn    func(m *monitor, out io.Writer, args []string) error
	nargs int
}

var commands []command

func init() {
	commands = []command{
		{"init", "", "power up and initialize the card", (*monitor).cmdInit, 0},
		{"info", "", "show the card and bus setup", (*monitor).cmdInfo, 0},
		{"read", "lba [count]", "read and dump blocks", (*monitor).cmdRead, 1},
		{"write", "lba byte [count]", "fill blocks with a byte", (*monitor).cmdWrite, 2},
		{"peek", "offset length", "read bytes through the sector cache", (*monitor).cmdPeek, 2},
		{"poke", "offset text", "write text through the sector cache", (*monitor).cmdPoke, 2},
		{"flush", "", "write back cached sectors", (*monitor).cmdFlush, 0},
		{"status", "", "send CMD13", (*monitor).cmdStatus, 0},
		{"regs", "", "dump the controller registers", (*monitor).cmdRegs, 0},
		{"load", "file", "load an Intel hex image onto the card", (*monitor).cmdLoad, 1},
		{"save", "file lba count", "save blocks as Intel hex", (*monitor).cmdSave, 3},
		{"stats", "", "log sector cache statistics", (*monitor).cmdStats, 0},
		{"log", "levels", "set log levels", (*monitor).cmdLog, 1},
		{"off", "", "power the card off", (*monitor).cmdOff, 0},
	}
}

func (m *monitor) run(c *console) {
	c.printf("emmcmon: %s card, %d blocks. 'help' lists commands.\n", *cardFlag, m.card.Blocks)
	for {
		line, err := c.readLine()
		if err != nil {
			if err != io.EOF {
				trust.Errorf("console: %v", err)
			}
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "quit", "exit", "q":
			return
		case "help", "?":
			m.help(c)
			continue
		}
		if err := m.dispatch(c, fields[0], fields[1:]); err != nil {
			c.printf("%s: %v\n", fields[0], err)
		}
	}
}

func (m *monitor) dispatch(out io.Writer, name string, args []string) error {
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if len(args) < cmd.nargs {
			return fmt.Errorf("usage: %s %s", cmd.name, cmd.args)
		}
		return cmd.fn(m, out, args)
	}
	return fmt.Errorf("unknown command, try help")
}

func (m *monitor) help(c *console) {
	for _, cmd := range commands {
		c.printf("  %-6s %-18s %s\n", cmd.name, cmd.args, cmd.help)
	}
	c.printf("  %-6s %-18s %s\n", "quit", "", "leave the monitor")
}

func (m *monitor) cmdInit(out io.Writer, _ []string) error {
	if err := m.sess.Init(); err != nil {
		return err
	}
	dev, err := emmc.NewBlockDevice(m.sess, uint32(*cacheFlag))
	if err != nil {
		return err
	}
	m.dev = dev
	fmt.Fprintf(out, "%v\n", m.sess.Card())
	return nil
}

func (m *monitor) cmdInfo(out io.Writer, _ []string) error {
	fmt.Fprintf(out, "state %v, clock %d Hz, %v, %v, %v, dma %v\n", m.sess.State(), m.host.Clock(),
		m.host.Timing(), m.host.BusWidth(), m.host.Voltage(), m.host.DMAEnabled())
	if c := m.sess.Card(); c != nil {
		id := c.Identity()
		fmt.Fprintf(out, "%v\n", c)
		fmt.Fprintf(out, "manufacturer %02x oem %04x %d/%02d, rca %04x, modes %08b\n",
			id.Manufacturer, id.OEM, id.Year, id.Month, c.RCA, c.Modes)
	}
	if err := m.sess.Err(); err != nil {
		fmt.Fprintf(out, "faulted: %v\n", err)
	}
	fmt.Fprintf(out, "simulated time %dus, %d commands, %d register writes\n",
		m.clock.Now, len(m.ctl.Log), m.ctl.Writes)
	return nil
}

func parseNum(s string) (uint64, error) {
	return strconv.ParseUint(s, 0, 64)
}

func (m *monitor) cmdRead(out io.Writer, args []string) error {
	lba, err := parseNum(args[0])
	if err != nil {
		return err
	}
	count := uint64(1)
	if len(args) > 1 {
		if count, err = parseNum(args[1]); err != nil {
			return err
		}
	}
	buf := make([]byte, count*emmc.BlockSize)
	if err := m.sess.ReadBlocks(uint32(lba), buf); err != nil {
		return err
	}
	for _, l := range dump.Lines(lba*emmc.BlockSize, buf) {
		fmt.Fprintln(out, l)
	}
	return nil
}

func (m *monitor) cmdWrite(out io.Writer, args []string) error {
	lba, err := parseNum(args[0])
	if err != nil {
		return err
	}
	fill, err := parseNum(args[1])
	if err != nil || fill > 0xFF {
		return fmt.Errorf("bad fill byte %q", args[1])
	}
	count := uint64(1)
	if len(args) > 2 {
		if count, err = parseNum(args[2]); err != nil {
			return err
		}
	}
	buf := make([]byte, count*emmc.BlockSize)
	for i := range buf {
		buf[i] = byte(fill)
	}
	if m.dev != nil {
		for i := uint64(0); i < count; i++ {
			m.dev.Cache().Invalidate(uint32(lba + i))
		}
	}
	if err := m.sess.WriteBlocks(uint32(lba), buf); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d blocks at %d\n", count, lba)
	return nil
}

func (m *monitor) device() (*emmc.BlockDevice, error) {
	if m.dev == nil {
		return nil, fmt.Errorf("card not initialized")
	}
	return m.dev, nil
}

func (m *monitor) cmdPeek(out io.Writer, args []string) error {
	dev, err := m.device()
	if err != nil {
		return err
	}
	off, err := parseNum(args[0])
	if err != nil {
		return err
	}
	n, err := parseNum(args[1])
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	got, err := dev.ReadAt(buf, int64(off))
	for _, l := range dump.Lines(off, buf[:got]) {
		fmt.Fprintln(out, l)
	}
	if err == io.EOF {
		fmt.Fprintf(out, "end of card after %d bytes\n", got)
		return nil
	}
	return err
}

func (m *monitor) cmdPoke(out io.Writer, args []string) error {
	dev, err := m.device()
	if err != nil {
		return err
	}
	off, err := parseNum(args[0])
	if err != nil {
		return err
	}
	text := strings.Join(args[1:], " ")
	n, err := dev.WriteAt([]byte(text), int64(off))
	fmt.Fprintf(out, "%d bytes cached, flush to write them\n", n)
	return err
}

func (m *monitor) cmdFlush(_ io.Writer, _ []string) error {
	dev, err := m.device()
	if err != nil {
		return err
	}
	return dev.Flush()
}

func (m *monitor) cmdStatus(out io.Writer, _ []string) error {
	status, err := m.host.SendStatus()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "status %08x, state %d, ready %v\n", status, emmc.CardState(status),
		status&emmc.StatusReadyForData != 0)
	return nil
}

// peeker reads registers without the side effects of a real read.
type peeker struct {
	ctl *emmctest.Controller
}

func (p peeker) Read32(off uintptr) uint32 {
	return p.ctl.Peek32(off)
}

func (m *monitor) cmdRegs(out io.Writer, _ []string) error {
	const standardArea = 0x100
	for _, l := range dump.RegisterLines(peeker{m.ctl}, standardArea) {
		fmt.Fprintln(out, l)
	}
	regs := m.host.Registers()
	fmt.Fprintf(out, "vendor: emmc ctrl %04x, dll status %08x\n",
		m.ctl.Peek32(regs.EMMCControl.Offset())&0xFFFF, m.ctl.Peek32(dwcmshc.DLLStatus0))
	return nil
}

func (m *monitor) cmdLoad(out io.Writer, args []string) error {
	fp, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer fp.Close()
	if err := m.card.LoadHex(fp); err != nil {
		return err
	}
	if m.dev != nil {
		m.dev.Cache().InvalidateAll()
	}
	fmt.Fprintf(out, "loaded %s\n", args[0])
	return nil
}

func (m *monitor) cmdSave(out io.Writer, args []string) error {
	lba, err := parseNum(args[1])
	if err != nil {
		return err
	}
	count, err := parseNum(args[2])
	if err != nil {
		return err
	}
	fp, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := m.card.SaveHex(fp, lba, int(count)); err != nil {
		fp.Close()
		return err
	}
	return fp.Close()
}

func (m *monitor) cmdStats(_ io.Writer, _ []string) error {
	dev, err := m.device()
	if err != nil {
		return err
	}
	if !trust.Enabled(trust.StatsMask) {
		return fmt.Errorf("stats logging is off, try: log stats")
	}
	dev.Cache().DumpStats(false)
	return nil
}

func (m *monitor) cmdLog(out io.Writer, args []string) error {
	level, err := trust.ParseLevel(strings.Join(args, ","))
	if err != nil {
		return err
	}
	trust.SetLevel(level)
	fmt.Fprintf(out, "logging %s\n", trust.LevelToString())
	return nil
}

func (m *monitor) cmdOff(_ io.Writer, _ []string) error {
	m.sess.PowerOff()
	m.dev = nil
	return nil
}
