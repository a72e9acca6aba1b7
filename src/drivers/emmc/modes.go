package emmc

import "fmt"

type BusWidth uint8

const (
	BusWidth1 BusWidth = 1
	BusWidth4 BusWidth = 4
	BusWidth8 BusWidth = 8
)

func (w BusWidth) valid() bool {
	return w == BusWidth1 || w == BusWidth4 || w == BusWidth8
}

func (w BusWidth) String() string {
	return fmt.Sprintf("%d-bit", uint8(w))
}

type SignalVoltage uint8

const (
	Signal330 SignalVoltage = iota
	Signal180
)

func (v SignalVoltage) String() string {
	if v == Signal180 {
		return "1.8V"
	}
	return "3.3V"
}

// Timing is the bus timing mode.  The order is slowest first, which is
// also the order negotiation falls back through.
type Timing uint8

const (
	TimingLegacy Timing = iota
	TimingHS
	TimingSDR50
	TimingSDR104
	TimingHS200
	TimingHS400
	timingCount
)

func (t Timing) String() string {
	switch t {
	case TimingLegacy:
		return "legacy"
	case TimingHS:
		return "HS"
	case TimingSDR50:
		return "SDR50"
	case TimingSDR104:
		return "SDR104"
	case TimingHS200:
		return "HS200"
	case TimingHS400:
		return "HS400"
	}
	return fmt.Sprintf("Timing(%d)", uint8(t))
}

// ParseTiming is the inverse of String, for flags.
func ParseTiming(s string) (Timing, error) {
	for t := TimingLegacy; t < timingCount; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return TimingLegacy, fmt.Errorf("unknown timing %q", s)
}

// TimingMask is a set of timings.
type TimingMask uint8

func MaskOf(ts ...Timing) TimingMask {
	var m TimingMask
	for _, t := range ts {
		m |= 1 << t
	}
	return m
}

func (m TimingMask) Has(t Timing) bool {
	return m&(1<<t) != 0
}

const AllTimings = TimingMask(1<<timingCount - 1)

// nominal bus clock for each timing
var timingClockHz = [timingCount]uint32{
	TimingLegacy: 25000000,
	TimingHS:     50000000,
	TimingSDR50:  100000000,
	TimingSDR104: 208000000,
	TimingHS200:  200000000,
	TimingHS400:  200000000,
}

const identClockHz = 400000
const mmcLegacyClockHz = 26000000
const mmcHSClockHz = 52000000

// maximum clock that does not need the DLL
const dllThresholdHz = 52000000
