// Package emmctest is a register level simulation of a DWCMSHC controller
// with an SD, MMC or eMMC device attached.  The driver runs against it
// unchanged through the dwcmshc.Bus interface.
package emmctest

import (
	"encoding/binary"

	"sdmmc/src/hardware/dwcmshc"
)

// DefaultCaps is an RK3588 style host: 200MHz base clock, 8 bit, ADMA2,
// 1.8V and every UHS mode.
var DefaultCaps = dwcmshc.Caps{
	BaseClockHz:    200000000,
	TimeoutClockHz: 1000000,
	MaxBlockLen:    512,
	Bus8Bit:        true,
	ADMA2:          true,
	HighSpeed:      true,
	SDMA:           true,
	Voltage33:      true,
	Voltage18:      true,
	Bus64Bit:       true,
	SDR50:          true,
	SDR104:         true,
	DDR50:          true,
}

// Faults are misbehaviours the controller can be told to show.
type Faults struct {
	NoBusPower           bool //the bus power bit never latches
	BusPowerError        bool //power on raises the bus power error
	Hang                 bool //the next command with HangIndex never completes
	HangIndex            uint8
	StuckInhibit         bool //CMD inhibit never clears
	DLLNeverLocks        bool
	TuningNeverConverges bool
	DatNeverSettles      bool   //DAT[3:0] stay low after a voltage switch
	ReadDataCRC          bool   //every read fails with a data CRC error
	BadIfCondEcho        bool   //CMD8 answers with the check pattern garbled
	Inject               uint32 //raised with the next command, once
}

// Issued is one entry of the command log.
type Issued struct {
	Index uint8
	Arg   uint32
	App   bool
	Data  bool
}

// transfer is the data phase in progress.
type transfer struct {
	read      bool
	blockSize int
	data      []byte
	pos       int
	autoStop  bool
	commit    func([]byte)
}

// Controller implements dwcmshc.Bus over a plain register file.
type Controller struct {
	Faults         Faults
	Mem            *Memory
	TuningAttempts int //tuning blocks the controller needs to find a point

	Writes        int //register writes of any width
	CommandWrites int //writes that issued a command
	Log           []Issued

	regs    [dwcmshc.RegisterFileSize]byte
	caps    dwcmshc.Caps
	card    *Card
	powered bool
	hang    bool
	xfer    *transfer
	tuning  int
	vswitch bool
}

var _ dwcmshc.Bus = (*Controller)(nil)

func NewController(caps dwcmshc.Caps) *Controller {
	c := &Controller{caps: caps, TuningAttempts: 4}
	c.reset()
	return c
}

// Insert puts a card in the slot.  It powers up with the bus.
func (c *Controller) Insert(k *Card) {
	c.card = k
	if c.powered {
		k.powerCycle()
	}
}

// Remove pulls the card out, abandoning any transfer.
func (c *Controller) Remove() {
	c.card = nil
	c.xfer = nil
}

func (c *Controller) Card() *Card {
	return c.card
}

// Powered reports the bus power state.
func (c *Controller) Powered() bool {
	return c.powered
}

// Peek32 reads a register without side effects and without counting.
func (c *Controller) Peek32(off uintptr) uint32 {
	if off == dwcmshc.PresentState {
		return c.presentState()
	}
	return c.get(off, 4)
}

func (c *Controller) reset() {
	c.regs = [dwcmshc.RegisterFileSize]byte{}
	c0, c1 := dwcmshc.EncodeCaps(c.caps)
	c.put(dwcmshc.Capabilities, 4, c0)
	c.put(dwcmshc.Capabilities1, 4, c1)
	c.put(dwcmshc.VendorAreaPointer, 2, dwcmshc.DefaultVendorArea)
	c.put(dwcmshc.HostVersion, 2, 0x1000|dwcmshc.HostSpecV4)
	c.hang = false
	c.xfer = nil
	c.tuning = 0
	c.vswitch = false
	c.powered = false
}

func (c *Controller) Read8(off uintptr) uint8   { return uint8(c.read(off, 1)) }
func (c *Controller) Read16(off uintptr) uint16 { return uint16(c.read(off, 2)) }
func (c *Controller) Read32(off uintptr) uint32 { return c.read(off, 4) }

func (c *Controller) Write8(off uintptr, v uint8)   { c.write(off, 1, uint32(v)) }
func (c *Controller) Write16(off uintptr, v uint16) { c.write(off, 2, uint32(v)) }
func (c *Controller) Write32(off uintptr, v uint32) { c.write(off, 4, v) }

func (c *Controller) get(off uintptr, size int) uint32 {
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(c.regs[off+uintptr(i)])
	}
	return v
}

func (c *Controller) put(off uintptr, size int, v uint32) {
	for i := 0; i < size; i++ {
		c.regs[off+uintptr(i)] = byte(v >> (8 * i))
	}
}

// overlaps is true when [off, end) touches the register at reg.
func overlaps(off, end, reg uintptr, size int) bool {
	return off < reg+uintptr(size) && reg < end
}

func (c *Controller) read(off uintptr, size int) uint32 {
	if off == dwcmshc.BufferData && size == 4 {
		return c.popWord()
	}
	end := off + uintptr(size)
	if overlaps(off, end, dwcmshc.PresentState, 4) {
		c.put(dwcmshc.PresentState, 4, c.presentState())
	}
	return c.get(off, size)
}

func (c *Controller) write(off uintptr, size int, v uint32) {
	c.Writes++
	end := off + uintptr(size)
	switch {
	case overlaps(off, end, dwcmshc.IntStatus, 4):
		c.clear(v << (8 * (off - dwcmshc.IntStatus)))
		return
	case off == dwcmshc.BufferData && size == 4:
		c.pushWord(v)
		return
	case overlaps(off, end, dwcmshc.PresentState, 4),
		overlaps(off, end, dwcmshc.Capabilities, 8),
		overlaps(off, end, dwcmshc.HostVersion, 2),
		overlaps(off, end, dwcmshc.DLLStatus0, 4):
		return
	}
	hc2 := c.get(dwcmshc.HostControl2, 2)
	c.put(off, size, v)
	switch {
	case overlaps(off, end, dwcmshc.Command+1, 1):
		c.CommandWrites++
		c.issue()
	case overlaps(off, end, dwcmshc.SoftwareReset, 1):
		c.softwareReset(c.regs[dwcmshc.SoftwareReset])
	case overlaps(off, end, dwcmshc.ClockControl, 2):
		c.clockControl()
	case overlaps(off, end, dwcmshc.PowerControl, 1):
		c.powerControl()
	case overlaps(off, end, dwcmshc.HostControl2, 2):
		c.hostControl2(uint16(hc2))
	case overlaps(off, end, dwcmshc.DLLControl, 4):
		c.dllControl()
	}
}

func (c *Controller) raise(bits uint32) {
	s := c.get(dwcmshc.IntStatus, 4) | bits
	if s&dwcmshc.IntErrorMask != 0 {
		s |= dwcmshc.IntError
	}
	c.put(dwcmshc.IntStatus, 4, s)
}

// clear is the write-1-to-clear of INT_STATUS.  The error summary follows
// the error half.
func (c *Controller) clear(mask uint32) {
	s := c.get(dwcmshc.IntStatus, 4) &^ mask
	if s&dwcmshc.IntErrorMask != 0 {
		s |= dwcmshc.IntError
	} else {
		s &^= dwcmshc.IntError
	}
	c.put(dwcmshc.IntStatus, 4, s)
}

func (c *Controller) presentState() uint32 {
	var ps uint32
	if c.hang || c.Faults.StuckInhibit {
		ps |= dwcmshc.PSCmdInhibit
	}
	if x := c.xfer; x != nil {
		ps |= dwcmshc.PSDatInhibit | dwcmshc.PSDatActive
		if x.read {
			ps |= dwcmshc.PSReadActive | dwcmshc.PSBufferReadEnable
		} else {
			ps |= dwcmshc.PSWriteActive | dwcmshc.PSBufferWriteEnable
		}
	}
	if c.card != nil {
		ps |= dwcmshc.PSCardInserted | dwcmshc.PSCardStable | dwcmshc.PSCardDetectLevel
	}
	dat := uint32(0xF)
	if c.vswitch {
		hc2 := c.get(dwcmshc.HostControl2, 2)
		cc := c.get(dwcmshc.ClockControl, 2)
		if hc2&dwcmshc.HC2Signal18V == 0 || cc&dwcmshc.CCCardEnable == 0 || c.Faults.DatNeverSettles {
			dat = 0
		} else {
			c.vswitch = false
		}
	}
	return ps | dat<<dwcmshc.PSDatLevelShift | dwcmshc.PSCmdLevel
}

func (c *Controller) softwareReset(v uint8) {
	if v&dwcmshc.SRAll != 0 {
		c.reset()
		return
	}
	if v&dwcmshc.SRCmd != 0 {
		c.hang = false
	}
	if v&dwcmshc.SRData != 0 {
		c.xfer = nil
	}
	c.regs[dwcmshc.SoftwareReset] = 0
}

func (c *Controller) clockControl() {
	cc := c.get(dwcmshc.ClockControl, 2)
	if cc&dwcmshc.CCInternalEnable != 0 {
		cc |= dwcmshc.CCInternalStable
	} else {
		cc &^= dwcmshc.CCInternalStable
	}
	c.put(dwcmshc.ClockControl, 2, cc)
}

func (c *Controller) powerControl() {
	pc := c.regs[dwcmshc.PowerControl]
	if pc&dwcmshc.PCBusPower == 0 {
		c.powered = false
		c.xfer = nil
		return
	}
	if c.Faults.NoBusPower {
		c.regs[dwcmshc.PowerControl] = pc &^ dwcmshc.PCBusPower
		return
	}
	if c.Faults.BusPowerError {
		c.raise(dwcmshc.IntBusPower)
	}
	if !c.powered {
		c.powered = true
		if c.card != nil {
			c.card.powerCycle()
		}
	}
}

func (c *Controller) hostControl2(old uint16) {
	hc2 := uint16(c.get(dwcmshc.HostControl2, 2))
	if hc2&dwcmshc.HC2ExecuteTuning != 0 && old&dwcmshc.HC2ExecuteTuning == 0 {
		c.tuning = 0
		c.put(dwcmshc.HostControl2, 2, uint32(hc2&^dwcmshc.HC2SamplingClock))
	}
}

func (c *Controller) dllControl() {
	v := c.get(dwcmshc.DLLControl, 4)
	var status uint32
	if v&dwcmshc.DLLStart != 0 && v&dwcmshc.DLLBypass == 0 && v&dwcmshc.DLLSoftReset == 0 {
		if c.Faults.DLLNeverLocks {
			status = dwcmshc.DLLTimeout
		} else {
			status = dwcmshc.DLLLocked
		}
	}
	c.put(dwcmshc.DLLStatus0, 4, status)
}

// issue is the write to the top byte of COMMAND.
func (c *Controller) issue() {
	cmd := c.get(dwcmshc.Command, 2)
	index := uint8(cmd>>dwcmshc.CmdIndexShift) & 0x3F
	arg := c.get(dwcmshc.Argument, 4)
	data := cmd&dwcmshc.CmdDataPresent != 0
	app := c.card != nil && c.card.appCmd
	c.Log = append(c.Log, Issued{Index: index, Arg: arg, App: app, Data: data})

	if c.Faults.Hang && index == c.Faults.HangIndex {
		c.Faults.Hang = false
		c.hang = true
		return
	}
	if inject := c.Faults.Inject; inject != 0 {
		c.Faults.Inject = 0
		c.raise(inject)
	}
	if c.card == nil || !c.powered || c.get(dwcmshc.ClockControl, 2)&dwcmshc.CCCardEnable == 0 {
		// nothing is listening; only a command without a response completes
		if cmd&0x3 == dwcmshc.CmdRespNone && !data {
			c.raise(dwcmshc.IntCmdComplete)
		} else {
			c.raise(dwcmshc.IntCmdTimeout)
		}
		return
	}
	if c.strobeMismatch() {
		c.raise(dwcmshc.IntCmdCRC)
		return
	}
	if data && (index == 19 || index == 21) && c.get(dwcmshc.HostControl2, 2)&dwcmshc.HC2ExecuteTuning != 0 {
		c.tune()
		return
	}
	tm := c.get(dwcmshc.TransferMode, 2)
	blocks := 1
	if tm&dwcmshc.TMBlockCountEnable != 0 {
		blocks = int(c.get(dwcmshc.BlockCount, 2))
	}
	req := request{
		index:     index,
		arg:       arg,
		data:      data,
		blocks:    blocks,
		blockSize: int(c.get(dwcmshc.BlockSize, 2) & 0xFFF),
	}
	rep := c.card.command(req)
	if rep.timeout {
		c.raise(dwcmshc.IntCmdTimeout)
		return
	}
	if index == 8 && !data && c.Faults.BadIfCondEcho {
		rep.short ^= 0xFF
	}
	switch cmd & 0x3 {
	case dwcmshc.CmdResp136:
		w := rep.long
		c.put(dwcmshc.Response0, 4, w[3]>>8|w[2]<<24)
		c.put(dwcmshc.Response1, 4, w[2]>>8|w[1]<<24)
		c.put(dwcmshc.Response2, 4, w[1]>>8|w[0]<<24)
		c.put(dwcmshc.Response3, 4, w[0]>>8)
	case dwcmshc.CmdResp48, dwcmshc.CmdResp48Busy:
		c.put(dwcmshc.Response0, 4, rep.short)
	}
	if rep.switchVoltage {
		c.vswitch = true
	}
	if !data {
		bits := uint32(dwcmshc.IntCmdComplete)
		if cmd&0x3 == dwcmshc.CmdResp48Busy {
			bits |= dwcmshc.IntTransferComplete
		}
		c.raise(bits)
		return
	}
	c.startTransfer(tm, req, rep)
}

// strobeMismatch is true in HS400 when the host samples with a strobe the
// card is not driving, or the other way round, or when the strobe delay
// line was never set up.  Everything then arrives garbled.
func (c *Controller) strobeMismatch() bool {
	k := c.card
	if k.Kind != KindEMMC || k.ext[extHSTiming] != extHS400Mode {
		return false
	}
	if c.get(dwcmshc.HostControl2, 2)&dwcmshc.HC2UHSModeMask != dwcmshc.HC2UHSHS400 {
		return false
	}
	hostES := c.get(dwcmshc.DefaultVendorArea+dwcmshc.VendorEMMCControl, 4)&dwcmshc.EMMCEnhancedStrobe != 0
	cardES := k.ext[extBusWidth]&extBusWidthES != 0
	return hostES != cardES || c.get(dwcmshc.DLLStrobeIn, 4)&dwcmshc.DLLDelayEnable == 0
}

// tune handles one tuning block.  The pattern itself is consumed by the
// controller; the driver only sees buffer-read-ready.
func (c *Controller) tune() {
	c.tuning++
	c.raise(dwcmshc.IntCmdComplete | dwcmshc.IntBufferReadReady)
	if c.tuning >= c.TuningAttempts && !c.Faults.TuningNeverConverges {
		hc2 := c.get(dwcmshc.HostControl2, 2)
		hc2 = hc2&^dwcmshc.HC2ExecuteTuning | dwcmshc.HC2SamplingClock
		c.put(dwcmshc.HostControl2, 2, hc2)
	}
}

func (c *Controller) startTransfer(tm uint32, req request, rep reply) {
	x := &transfer{
		read:      tm&dwcmshc.TMDataRead != 0,
		blockSize: req.blockSize,
		data:      make([]byte, req.blocks*req.blockSize),
		autoStop:  tm&dwcmshc.TMAutoCmd12 != 0 && tm&dwcmshc.TMMultiBlock != 0,
		commit:    rep.commit,
	}
	if x.read {
		copy(x.data, rep.data)
		if c.Faults.ReadDataCRC {
			c.raise(dwcmshc.IntCmdComplete | dwcmshc.IntDataCRC)
			return
		}
	}
	if x.blockSize == 0 || len(x.data) == 0 {
		c.raise(dwcmshc.IntCmdComplete | dwcmshc.IntDataEndBit)
		return
	}
	c.raise(dwcmshc.IntCmdComplete)
	if tm&dwcmshc.TMDMAEnable != 0 {
		c.dma(x)
		return
	}
	c.xfer = x
	if x.read {
		c.raise(dwcmshc.IntBufferReadReady)
	} else {
		c.raise(dwcmshc.IntBufferWriteReady)
	}
}

func (c *Controller) popWord() uint32 {
	x := c.xfer
	if x == nil || !x.read || x.pos >= len(x.data) {
		return 0
	}
	v := binary.LittleEndian.Uint32(x.data[x.pos:])
	x.pos += 4
	c.blockDone(x)
	return v
}

func (c *Controller) pushWord(v uint32) {
	x := c.xfer
	if x == nil || x.read || x.pos >= len(x.data) {
		return
	}
	binary.LittleEndian.PutUint32(x.data[x.pos:], v)
	x.pos += 4
	c.blockDone(x)
}

// blockDone raises the next buffer ready at a block boundary, or finishes
// the transfer after the last block.
func (c *Controller) blockDone(x *transfer) {
	if x.pos%x.blockSize != 0 {
		return
	}
	if x.pos < len(x.data) {
		if x.read {
			c.raise(dwcmshc.IntBufferReadReady)
		} else {
			c.raise(dwcmshc.IntBufferWriteReady)
		}
		return
	}
	c.finish(x)
}

func (c *Controller) finish(x *transfer) {
	c.xfer = nil
	if !x.read && x.commit != nil {
		x.commit(x.data)
	}
	if x.autoStop && c.card != nil {
		c.put(dwcmshc.Response3, 4, c.card.stop().short)
	}
	c.raise(dwcmshc.IntTransferComplete)
}

// dma walks the ADMA2 table at ADMA_ADDRESS and moves the whole transfer
// at once.
func (c *Controller) dma(x *transfer) {
	const maxWalk = 1024
	if c.Mem == nil {
		c.admaError(0)
		return
	}
	table := uint(c.get(dwcmshc.ADMAAddressLo, 4))
	moved := 0
	for i := 0; ; i++ {
		if i == maxWalk {
			c.admaError(1)
			return
		}
		b := c.Mem.Slice(table+uint(8*i), 8)
		if b == nil {
			c.admaError(1)
			return
		}
		attr := binary.LittleEndian.Uint16(b[0:])
		n := int(binary.LittleEndian.Uint16(b[2:]))
		addr := uint(binary.LittleEndian.Uint32(b[4:]))
		if attr&1 == 0 {
			c.admaError(1)
			return
		}
		if n == 0 {
			n = 64 * 1024
		}
		if attr&0x30 == 0x20 {
			buf := c.Mem.Slice(addr, n)
			if buf == nil || moved+n > len(x.data) {
				c.admaError(3)
				return
			}
			if x.read {
				copy(buf, x.data[moved:])
			} else {
				copy(x.data[moved:], buf)
			}
			moved += n
		}
		if attr&2 != 0 {
			break
		}
	}
	if moved != len(x.data) {
		c.admaError(3 | dwcmshc.ADMAErrorLength)
		return
	}
	x.pos = moved
	c.finish(x)
}

func (c *Controller) admaError(state uint8) {
	c.regs[dwcmshc.ADMAErrorStatus] = state
	c.raise(dwcmshc.IntADMA)
}
