package dwcmshc

import (
	"github.com/usbarmory/tamago/bits"
)

// Capabilities register fields (SDHCI 3.00 layout, which DWCMSHC follows).
const (
	capTimeoutClock     = 0
	capTimeoutClockMask = 0x3F
	capTimeoutUnitMHz   = 7
	capBaseClock        = 8
	capBaseClockMask    = 0xFF
	capMaxBlock         = 16
	capMaxBlockMask     = 0x3
	cap8Bit             = 18
	capADMA2            = 19
	capHighSpeed        = 21
	capSDMA             = 22
	cap33V              = 24
	cap30V              = 25
	cap18V              = 26
	cap64Bit            = 28
	capSlotType         = 30
	capSlotTypeMask     = 0x3

	cap1SDR50          = 0
	cap1SDR104         = 1
	cap1DDR50          = 2
	cap1TuneSDR50      = 13
	cap1Multiplier     = 16
	cap1MultiplierMask = 0xFF
)

// SlotTypeEmbedded marks a non-removable device (eMMC soldered down).
const SlotTypeEmbedded = 1

// Caps is the decoded form of Capabilities and Capabilities1.
type Caps struct {
	Raw             [2]uint32
	BaseClockHz     uint32
	TimeoutClockHz  uint32
	ClockMultiplier uint32
	MaxBlockLen     int
	Bus8Bit         bool
	ADMA2           bool
	HighSpeed       bool
	SDMA            bool
	Voltage33       bool
	Voltage30       bool
	Voltage18       bool
	Bus64Bit        bool
	SDR50           bool
	SDR104          bool
	DDR50           bool
	TuneSDR50       bool
	SlotType        uint32
}

// DecodeCaps splits the two capability words into fields.
func DecodeCaps(c0, c1 uint32) Caps {
	c := Caps{Raw: [2]uint32{c0, c1}}
	c.BaseClockHz = bits.Get(&c0, capBaseClock, capBaseClockMask) * 1000000
	tc := bits.Get(&c0, capTimeoutClock, capTimeoutClockMask)
	if isSet(c0, capTimeoutUnitMHz) {
		tc *= 1000000
	} else {
		tc *= 1000
	}
	c.TimeoutClockHz = tc
	c.MaxBlockLen = 512 << bits.Get(&c0, capMaxBlock, capMaxBlockMask)
	c.Bus8Bit = isSet(c0, cap8Bit)
	c.ADMA2 = isSet(c0, capADMA2)
	c.HighSpeed = isSet(c0, capHighSpeed)
	c.SDMA = isSet(c0, capSDMA)
	c.Voltage33 = isSet(c0, cap33V)
	c.Voltage30 = isSet(c0, cap30V)
	c.Voltage18 = isSet(c0, cap18V)
	c.Bus64Bit = isSet(c0, cap64Bit)
	c.SlotType = bits.Get(&c0, capSlotType, capSlotTypeMask)

	c.SDR50 = isSet(c1, cap1SDR50)
	c.SDR104 = isSet(c1, cap1SDR104)
	c.DDR50 = isSet(c1, cap1DDR50)
	c.TuneSDR50 = isSet(c1, cap1TuneSDR50)
	c.ClockMultiplier = bits.Get(&c1, cap1Multiplier, cap1MultiplierMask)
	return c
}

// EncodeCaps is the inverse of DecodeCaps for the fields a simulation needs
// to advertise.  Raw is ignored.
func EncodeCaps(c Caps) (c0, c1 uint32) {
	bits.SetN(&c0, capBaseClock, capBaseClockMask, c.BaseClockHz/1000000)
	if c.TimeoutClockHz >= 1000000 {
		bits.SetN(&c0, capTimeoutClock, capTimeoutClockMask, c.TimeoutClockHz/1000000)
		bits.Set(&c0, capTimeoutUnitMHz)
	} else {
		bits.SetN(&c0, capTimeoutClock, capTimeoutClockMask, c.TimeoutClockHz/1000)
	}
	switch c.MaxBlockLen {
	case 1024:
		bits.SetN(&c0, capMaxBlock, capMaxBlockMask, 1)
	case 2048:
		bits.SetN(&c0, capMaxBlock, capMaxBlockMask, 2)
	}
	bits.SetTo(&c0, cap8Bit, c.Bus8Bit)
	bits.SetTo(&c0, capADMA2, c.ADMA2)
	bits.SetTo(&c0, capHighSpeed, c.HighSpeed)
	bits.SetTo(&c0, capSDMA, c.SDMA)
	bits.SetTo(&c0, cap33V, c.Voltage33)
	bits.SetTo(&c0, cap30V, c.Voltage30)
	bits.SetTo(&c0, cap18V, c.Voltage18)
	bits.SetTo(&c0, cap64Bit, c.Bus64Bit)
	bits.SetN(&c0, capSlotType, capSlotTypeMask, c.SlotType)

	bits.SetTo(&c1, cap1SDR50, c.SDR50)
	bits.SetTo(&c1, cap1SDR104, c.SDR104)
	bits.SetTo(&c1, cap1DDR50, c.DDR50)
	bits.SetTo(&c1, cap1TuneSDR50, c.TuneSDR50)
	bits.SetN(&c1, cap1Multiplier, cap1MultiplierMask, c.ClockMultiplier)
	return c0, c1
}

// ReadCaps reads and decodes both capability registers.
func (r *Registers) ReadCaps() Caps {
	return DecodeCaps(r.Capabilities.Get(), r.Capabilities1.Get())
}

func isSet(w uint32, pos int) bool {
	return bits.Get(&w, pos, 1) == 1
}
