package emmc

import (
	"sdmmc/src/hardware/dwcmshc"
	"sdmmc/src/lib/trust"
)

const emmcDriverDebug = false

// BlockSize is the only block length the driver transfers.
const BlockSize = 512

// Config holds every tunable of the host.  Times are microseconds of the
// Delayer.
type Config struct {
	BaseClockHz            uint32 //0 means take it from the capabilities
	PollIntervalUs         uint64
	CommandTimeoutUs       uint64
	InhibitTimeoutUs       uint64
	BusyTimeoutUs          uint64
	DataTimeoutUs          uint64 //per block
	ResetTimeoutUs         uint64
	ClockStableTimeoutUs   uint64
	ClockSettleUs          uint64
	PowerSettleUs          uint64
	CardDetectTimeoutUs    uint64
	VoltageSettleUs        uint64
	VoltageSwitchTimeoutUs uint64
	DLLLockTimeoutUs       uint64
	OpCondRetries          int
	OpCondIntervalUs       uint64
	WriteReadyRetries      int
	MaxTuningAttempts      int

	UseDMA       bool
	AutoCmd12    bool
	MaxBusWidth  BusWidth
	EnableUHS    bool //try 1.8V signaling on SD cards
	NonRemovable bool
	HostModes    TimingMask
	EnableDLL    bool
	DetectSDIO    bool
}

// DefaultConfig is tuned for an RK35xx eMMC controller.
func DefaultConfig() Config {
	return Config{
		PollIntervalUs:         10,
		CommandTimeoutUs:       100000,
		InhibitTimeoutUs:       10000,
		BusyTimeoutUs:          1000000,
		DataTimeoutUs:          250000,
		ResetTimeoutUs:         100000,
		ClockStableTimeoutUs:   20000,
		ClockSettleUs:          1000,
		PowerSettleUs:          10000,
		CardDetectTimeoutUs:    100000,
		VoltageSettleUs:        5000,
		VoltageSwitchTimeoutUs: 1000,
		DLLLockTimeoutUs:       500,
		OpCondRetries:          1000,
		OpCondIntervalUs:       1000,
		WriteReadyRetries:      1000,
		MaxTuningAttempts:      40,
		AutoCmd12:              true,
		MaxBusWidth:            BusWidth8,
		EnableUHS:              true,
		HostModes:              AllTimings,
		EnableDLL:              true,
		DetectSDIO:              true,
	}
}

type Option func(*Host)

// WithDMA turns on the ADMA2 data path using mem for descriptor tables and
// bounce buffers.
func WithDMA(mem DMAMemory) Option {
	return func(h *Host) {
		h.mem = mem
		h.cfg.UseDMA = mem != nil
	}
}

// WithBaseClock overrides the base clock reported by the capabilities.
func WithBaseClock(hz uint32) Option {
	return func(h *Host) {
		h.cfg.BaseClockHz = hz
	}
}

// Host owns one controller instance.  It is not safe for concurrent use;
// the caller serializes.
type Host struct {
	regs  *dwcmshc.Registers
	delay Delayer
	cfg   Config
	mem   DMAMemory
	caps  dwcmshc.Caps

	clockHz    uint32
	clockReady bool
	width      BusWidth
	voltage    SignalVoltage
	timing     Timing
	tuned      [timingCount]bool
	inFlight   bool

	card  *Card
	chain DescriptorChain
}

// New binds a host to a controller.  Nothing is written to the controller
// until Reset (or Session.Init).
func New(bus dwcmshc.Bus, delay Delayer, cfg Config, opts ...Option) *Host {
	if delay == nil {
		panic("emmc: a Delayer is required")
	}
	h := &Host{
		regs:    dwcmshc.New(bus),
		delay:   delay,
		cfg:     cfg,
		width:   BusWidth1,
		voltage: Signal330,
		timing:  TimingLegacy,
	}
	for _, o := range opts {
		o(h)
	}
	if h.cfg.UseDMA && h.mem == nil {
		trust.Warnf("emmc: DMA requested without DMA memory, using PIO")
		h.cfg.UseDMA = false
	}
	return h
}

func (h *Host) Registers() *dwcmshc.Registers { return h.regs }
func (h *Host) Config() Config                { return h.cfg }
func (h *Host) Caps() dwcmshc.Caps            { return h.caps }
func (h *Host) Clock() uint32                 { return h.clockHz }
func (h *Host) BusWidth() BusWidth            { return h.width }
func (h *Host) Voltage() SignalVoltage        { return h.voltage }
func (h *Host) Timing() Timing                { return h.timing }
func (h *Host) DMAEnabled() bool              { return h.cfg.UseDMA }
func (h *Host) InFlight() bool                { return h.inFlight }
func (h *Host) Card() *Card                   { return h.card }

// Tuned reports whether t has a completed tuning.  HS400 samples with the
// HS200 tuning result.
func (h *Host) Tuned(t Timing) bool {
	if t == TimingHS400 {
		return h.tuned[TimingHS200]
	}
	return h.tuned[t]
}

// needsTuning is true for the timings that refuse commands until tuned.
func (h *Host) needsTuning(t Timing) bool {
	switch t {
	case TimingSDR104, TimingHS200, TimingHS400:
		return true
	case TimingSDR50:
		return h.caps.TuneSDR50
	}
	return false
}

// attach makes card the target of ACMD prefixes, bus width changes and
// block transfers.
func (h *Host) attach(card *Card) {
	h.card = card
}

// Reset does a full software reset, reads the capabilities and puts every
// software view of the bus back to its power-on value.
func (h *Host) Reset() error {
	h.regs.SoftwareReset.Set(dwcmshc.SRAll)
	if !poll(h.delay, h.cfg.ResetTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		return h.regs.SoftwareReset.Get()&dwcmshc.SRAll == 0
	}) {
		trust.Errorf("emmc: controller reset did not complete")
		return EmmcTimeout
	}
	h.caps = h.regs.ReadCaps()
	h.clockHz = 0
	h.clockReady = false
	h.width = BusWidth1
	h.voltage = Signal330
	h.timing = TimingLegacy
	h.tuned = [timingCount]bool{}
	h.inFlight = false
	h.card = nil

	// polled operation: status latches, nothing signals
	h.regs.IntEnable.Set(dwcmshc.IntAll &^ (dwcmshc.IntCardInsert | dwcmshc.IntCardRemove | dwcmshc.IntCard))
	h.regs.IntSignal.Set(0)
	h.regs.IntStatus.Set(dwcmshc.IntAll)
	h.regs.TimeoutControl.Set(dwcmshc.TimeoutMax)
	if emmcDriverDebug {
		trust.Debugf("emmc: reset done, caps %08x %08x, spec %d", h.caps.Raw[0], h.caps.Raw[1], h.regs.Spec())
	}
	return nil
}

// PowerOn applies 3.3V bus power.  A controller that will not latch the
// power bit is over its current limit.
func (h *Host) PowerOn() error {
	h.regs.PowerControl.Set(dwcmshc.PCVoltage33)
	h.regs.PowerControl.Set(dwcmshc.PCVoltage33 | dwcmshc.PCBusPower)
	h.delay.Sleep(h.cfg.PowerSettleUs)
	if !h.regs.PowerControl.HasBits(dwcmshc.PCBusPower) {
		trust.Errorf("emmc: bus power did not latch")
		return EmmcCurrentLimit
	}
	if h.regs.IntStatus.Get()&dwcmshc.IntBusPower != 0 {
		h.regs.IntStatus.Set(dwcmshc.IntBusPower)
		return EmmcBusPower
	}
	return nil
}

// PowerOff gates the clock and removes bus power.  The bus goes back to
// its power-on shape: 1 bit, 3.3V, legacy timing.
func (h *Host) PowerOff() {
	h.regs.ClockControl.ClearBits(dwcmshc.CCCardEnable | dwcmshc.CCInternalEnable)
	h.regs.PowerControl.Set(0)
	h.regs.HostControl2.ClearBits(dwcmshc.HC2Signal18V | dwcmshc.HC2UHSModeMask)
	h.regs.HostControl1.ClearBits(dwcmshc.HC1HighSpeed | dwcmshc.HC1DataWidth4 | dwcmshc.HC1DataWidth8)
	h.regs.EMMCControl.ClearBits(dwcmshc.EMMCEnhancedStrobe)
	h.clockHz = 0
	h.clockReady = false
	h.width = BusWidth1
	h.voltage = Signal330
	h.timing = TimingLegacy
	h.card = nil
	h.tuned = [timingCount]bool{}
}

// CardPresent reports the debounced card detect.
func (h *Host) CardPresent() bool {
	ps := h.regs.PresentState.Get()
	return ps&dwcmshc.PSCardInserted != 0 && ps&dwcmshc.PSCardStable != 0
}

// waitCard waits for card detect, except on slots that cannot report it.
func (h *Host) waitCard() error {
	if h.cfg.NonRemovable || h.caps.SlotType == dwcmshc.SlotTypeEmbedded {
		return nil
	}
	if !poll(h.delay, h.cfg.CardDetectTimeoutUs, h.cfg.PollIntervalUs, h.CardPresent) {
		return EmmcNoCard
	}
	return nil
}

// resetLines resets the CMD and/or DAT state machines after an error and
// drops any status they left behind.
func (h *Host) resetLines(mask uint8) {
	h.regs.SoftwareReset.Set(mask)
	if !poll(h.delay, h.cfg.ResetTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		return h.regs.SoftwareReset.Get()&mask == 0
	}) {
		trust.Errorf("emmc: line reset %x did not complete", mask)
	}
	h.regs.IntStatus.Set(dwcmshc.IntAll)
}

// setEMMCMode tells the DWCMSHC vendor logic whether the device is eMMC.
func (h *Host) setEMMCMode(on bool) {
	if on {
		h.regs.EMMCControl.SetBits(dwcmshc.EMMCCardIsEMMC)
	} else {
		h.regs.EMMCControl.ClearBits(dwcmshc.EMMCCardIsEMMC)
	}
}
