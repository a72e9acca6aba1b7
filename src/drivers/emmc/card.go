package emmc

import (
	"encoding/binary"
	"fmt"
	"strings"
)

type CardType uint8

const (
	CardUnknown CardType = iota
	CardSDSC
	CardSDHC
	CardSDXC
	CardSDIO
	CardMMC
	CardEMMC
)

func (c CardType) String() string {
	switch c {
	case CardSDSC:
		return "SDSC"
	case CardSDHC:
		return "SDHC"
	case CardSDXC:
		return "SDXC"
	case CardSDIO:
		return "SDIO"
	case CardMMC:
		return "MMC"
	case CardEMMC:
		return "eMMC"
	}
	return "unknown"
}

// IsSD is true for the SD memory card family.
func (c CardType) IsSD() bool {
	return c == CardSDSC || c == CardSDHC || c == CardSDXC
}

// IsMMC is true for MMC and eMMC.
func (c CardType) IsMMC() bool {
	return c == CardMMC || c == CardEMMC
}

// Card is what identification learned about the device plus the mode the
// session finally settled on.
type Card struct {
	Type           CardType
	OCR            uint32
	CID            [4]uint32
	CSD            [4]uint32
	RCA            uint16
	Selected       bool
	CapacityBlocks uint64
	HighCapacity   bool //block addressed
	Supports18V    bool
	Widths         []BusWidth
	Modes          TimingMask
	EnhancedStrobe bool
	ExtCSDRev      uint8
	SCR            [8]byte
	SpecVersion    uint8

	Timing   Timing
	BusWidth BusWidth
	ClockHz  uint32
}

func (c *Card) supportsWidth(w BusWidth) bool {
	for _, x := range c.Widths {
		if x == w {
			return true
		}
	}
	return false
}

func (c *Card) String() string {
	id := c.Identity()
	return fmt.Sprintf("%v %q rev %d.%d sn %08x, %d blocks, %v %v @ %d Hz",
		c.Type, id.Name, id.Revision>>4, id.Revision&0xF, id.Serial,
		c.CapacityBlocks, c.Timing, c.BusWidth, c.ClockHz)
}

// bits128 extracts width bits starting at bit start of a 128 bit register
// stored most significant word first.
func bits128(raw [4]uint32, start, width int) uint32 {
	var v uint64
	for i := 0; i < width; i++ {
		b := start + i
		word := raw[3-b/32]
		if word&(1<<(uint(b)%32)) != 0 {
			v |= 1 << uint(i)
		}
	}
	return uint32(v)
}

// CID is the decoded identification register.
type CID struct {
	Manufacturer uint8
	OEM          uint16
	Name         string
	Revision     uint8
	Serial       uint32
	Year         int
	Month        int
}

// Identity decodes the CID in the layout of the card's family.
func (c *Card) Identity() CID {
	raw := c.CID
	id := CID{Manufacturer: uint8(bits128(raw, 120, 8))}
	var name []byte
	if c.Type.IsMMC() {
		id.OEM = uint16(bits128(raw, 104, 8))
		for i := 0; i < 6; i++ {
			name = append(name, byte(bits128(raw, 96-8*i, 8)))
		}
		id.Revision = uint8(bits128(raw, 48, 8))
		id.Serial = bits128(raw, 16, 32)
		id.Month = int(bits128(raw, 12, 4))
		id.Year = 1997 + int(bits128(raw, 8, 4))
		if c.ExtCSDRev > 4 && id.Year < 2010 {
			id.Year += 16
		}
	} else {
		id.OEM = uint16(bits128(raw, 104, 16))
		for i := 0; i < 5; i++ {
			name = append(name, byte(bits128(raw, 96-8*i, 8)))
		}
		id.Revision = uint8(bits128(raw, 56, 8))
		id.Serial = bits128(raw, 24, 32)
		id.Month = int(bits128(raw, 8, 4))
		id.Year = 2000 + int(bits128(raw, 12, 8))
	}
	id.Name = strings.TrimRight(string(name), " \x00")
	return id
}

// csdStructure is the CSD version field.
func csdStructure(csd [4]uint32) uint32 {
	return bits128(csd, 126, 2)
}

// csdCapacity is the capacity in 512 byte blocks the CSD describes.  For
// version 2 (SDHC/SDXC) C_SIZE counts 512KiB units.
func csdCapacity(csd [4]uint32, sd bool) uint64 {
	if sd && csdStructure(csd) == 1 {
		cSize := uint64(bits128(csd, 48, 22))
		return (cSize + 1) * 1024
	}
	cSize := uint64(bits128(csd, 62, 12))
	mult := uint64(bits128(csd, 47, 3))
	readBlLen := uint64(bits128(csd, 80, 4))
	bytes := (cSize + 1) << (mult + 2) << readBlLen
	return bytes / BlockSize
}

// mmcSpecVersion is SPEC_VERS from an MMC CSD; 4 and up have EXT_CSD.
func mmcSpecVersion(csd [4]uint32) uint8 {
	return uint8(bits128(csd, 122, 4))
}

// EXT_CSD CARD_TYPE bits
const (
	mmcTypeHS26      = 1 << 0
	mmcTypeHS52      = 1 << 1
	mmcTypeHS200_18V = 1 << 4
	mmcTypeHS200_12V = 1 << 5
	mmcTypeHS400_18V = 1 << 6
	mmcTypeHS400_12V = 1 << 7
)

// applyExtCSD fills the capability fields an EXT_CSD provides.
func (c *Card) applyExtCSD(ext []byte) {
	c.ExtCSDRev = ext[extCSDRev]
	if sec := binary.LittleEndian.Uint32(ext[extCSDSecCount:]); sec != 0 {
		c.CapacityBlocks = uint64(sec)
	}
	ct := ext[extCSDCardType]
	c.Modes = MaskOf(TimingLegacy)
	if ct&(mmcTypeHS26|mmcTypeHS52) != 0 {
		c.Modes |= MaskOf(TimingHS)
	}
	if ct&(mmcTypeHS200_18V|mmcTypeHS200_12V) != 0 {
		c.Modes |= MaskOf(TimingHS200)
		c.Supports18V = true
	}
	if ct&(mmcTypeHS400_18V|mmcTypeHS400_12V) != 0 {
		c.Modes |= MaskOf(TimingHS400)
	}
	c.EnhancedStrobe = ext[extCSDStrobeSupport]&1 != 0
	c.Widths = []BusWidth{BusWidth1, BusWidth4, BusWidth8}
}

// SD switch function group 1
const (
	sdFnDefault = 0
	sdFnHS      = 1
	sdFnSDR50   = 2
	sdFnSDR104  = 3
	sdFnDDR50   = 4
)

// sdSwitchSupport is the group 1 support mask of a CMD6 status block.
func sdSwitchSupport(status []byte) uint16 {
	return binary.BigEndian.Uint16(status[12:])
}

// sdSwitchResult is the group 1 function the card selected (0xF on error).
func sdSwitchResult(status []byte) uint8 {
	return status[16] & 0xF
}

// applySCR fills the fields the SD configuration register provides.
func (c *Card) applySCR(scr []byte) {
	copy(c.SCR[:], scr)
	c.SpecVersion = scr[0] & 0xF
	widths := scr[1] & 0xF
	c.Widths = nil
	if widths&1 != 0 {
		c.Widths = append(c.Widths, BusWidth1)
	}
	if widths&4 != 0 {
		c.Widths = append(c.Widths, BusWidth4)
	}
	if len(c.Widths) == 0 {
		c.Widths = []BusWidth{BusWidth1}
	}
}

// applySwitchSupport turns the CMD6 support mask into timing modes.  The
// UHS modes only count on a card already signaling at 1.8V.
func (c *Card) applySwitchSupport(support uint16, uhs bool) {
	c.Modes = MaskOf(TimingLegacy)
	if support&(1<<sdFnHS) != 0 {
		c.Modes |= MaskOf(TimingHS)
	}
	if !uhs {
		return
	}
	if support&(1<<sdFnSDR50) != 0 {
		c.Modes |= MaskOf(TimingSDR50)
	}
	if support&(1<<sdFnSDR104) != 0 {
		c.Modes |= MaskOf(TimingSDR104)
	}
}

// ReadExtCSD reads the 512 byte EXT_CSD of an MMC.
func (h *Host) ReadExtCSD() ([]byte, error) {
	if h.card == nil || !h.card.Type.IsMMC() {
		return nil, EmmcUnsupportedCard
	}
	ext := make([]byte, BlockSize)
	if err := h.readData(Command{Index: CmdSendExtCSD, Resp: RespR1}, ext); err != nil {
		return nil, err
	}
	return ext, nil
}

// readSCR reads the 8 byte SD configuration register.
func (h *Host) readSCR() ([]byte, error) {
	scr := make([]byte, 8)
	if err := h.readData(Command{Index: AcmdSendSCR, Resp: RespR1, App: true}, scr); err != nil {
		return nil, err
	}
	return scr, nil
}

// sdSwitch runs CMD6 in check (set false) or switch mode for group 1 and
// returns the 64 byte status block.
func (h *Host) sdSwitch(set bool, function uint8) ([]byte, error) {
	status := make([]byte, 64)
	if err := h.readData(Command{Index: CmdSwitch, Arg: sdSwitchArg(set, function), Resp: RespR1}, status); err != nil {
		return nil, err
	}
	return status, nil
}
