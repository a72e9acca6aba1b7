package emmc

import (
	"sdmmc/src/hardware/dwcmshc"
	"sdmmc/src/lib/trust"
)

// clockDivisor returns the 10 bit divided-clock value N for base/(2N) <= hz.
// N of zero is the undivided base clock.
func clockDivisor(base, hz uint32) uint32 {
	if hz == 0 || hz >= base {
		return 0
	}
	n := (base + 2*hz - 1) / (2 * hz)
	if n > dwcmshc.CCDividerMax {
		n = dwcmshc.CCDividerMax
	}
	return n
}

// divisorHz is the frequency a divisor produces.
func divisorHz(base, n uint32) uint32 {
	if n == 0 {
		return base
	}
	return base / (2 * n)
}

// divisorBits places N in the CLOCK_CONTROL layout: low 8 bits at 15:8,
// upper 2 bits at 7:6.
func divisorBits(n uint32) uint16 {
	return uint16((n&0xFF)<<dwcmshc.CCDividerShift) | uint16(((n>>8)&0x3)<<dwcmshc.CCDividerUpperShift)
}

func (h *Host) baseClock() uint32 {
	if h.cfg.BaseClockHz != 0 {
		return h.cfg.BaseClockHz
	}
	if h.caps.BaseClockHz != 0 {
		return h.caps.BaseClockHz
	}
	return 200000000
}

// SetClock gates the SD clock, reprograms the divider, waits for the
// internal clock to settle and gates the SD clock back on.  Commands are
// refused until the settle delay has passed.  Zero turns the clock off.
func (h *Host) SetClock(hz uint32) error {
	if !poll(h.delay, h.cfg.InhibitTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		return h.regs.PresentState.Get()&(dwcmshc.PSCmdInhibit|dwcmshc.PSDatInhibit) == 0
	}) {
		trust.Errorf("emmc: bus not idle for a clock change")
		return EmmcTimeout
	}
	h.clockReady = false
	h.regs.ClockControl.ClearBits(dwcmshc.CCCardEnable)
	if hz == 0 {
		h.clockHz = 0
		return nil
	}
	base := h.baseClock()
	n := clockDivisor(base, hz)
	h.regs.ClockControl.Set(divisorBits(n) | dwcmshc.CCInternalEnable)
	if !poll(h.delay, h.cfg.ClockStableTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		return h.regs.ClockControl.HasBits(dwcmshc.CCInternalStable)
	}) {
		trust.Errorf("emmc: internal clock never stable (divisor %d)", n)
		return EmmcTimeout
	}
	actual := divisorHz(base, n)
	if h.cfg.EnableDLL {
		if err := h.configureDLL(actual); err != nil {
			return err
		}
	}
	h.regs.ClockControl.SetBits(dwcmshc.CCCardEnable)
	h.delay.Sleep(h.cfg.ClockSettleUs)
	h.clockHz = actual
	h.clockReady = true
	if emmcDriverDebug {
		trust.Debugf("emmc: clock %d Hz requested, %d Hz (divisor %d)", hz, actual, n)
	}
	return nil
}

// configureDLL sets up the Rockchip delay line.  At or below 52MHz it is
// bypassed; above, it is started and must lock.  The transmit and strobe
// taps depend on the timing, so SetTiming comes before SetClock.
func (h *Host) configureDLL(hz uint32) error {
	if hz <= dllThresholdHz {
		h.regs.DLLControl.Set(dwcmshc.DLLBypass | dwcmshc.DLLStart)
		h.regs.DLLRxClock.Set(dwcmshc.DLLRxClockOriginal)
		h.regs.DLLTxClock.Set(0)
		h.regs.DLLStrobeIn.Set(0)
		return nil
	}
	h.regs.DLLControl.Set(dwcmshc.DLLSoftReset)
	h.delay.Sleep(1)
	h.regs.DLLControl.Set(0)
	h.regs.DLLControl.Set(dwcmshc.DLLStartPoint | dwcmshc.DLLIncrement | dwcmshc.DLLStart)
	var status uint32
	if !poll(h.delay, h.cfg.DLLLockTimeoutUs, 1, func() bool {
		status = h.regs.DLLStatus0.Get()
		return status&(dwcmshc.DLLLocked|dwcmshc.DLLTimeout) != 0
	}) || status&dwcmshc.DLLTimeout != 0 {
		trust.Errorf("emmc: DLL failed to lock at %d Hz (status %08x)", hz, status)
		return EmmcIoError
	}
	h.regs.DLLRxClock.Set(0)
	tap := uint32(dwcmshc.DLLTxTapDefault)
	if h.timing == TimingHS400 {
		tap = dwcmshc.DLLTxTapHS400
	}
	h.regs.DLLTxClock.Set(dwcmshc.DLLDelayEnable | dwcmshc.DLLTapFromSW | dwcmshc.DLLTxClockNoInverter | tap)
	// the data strobe is only sampled in HS400
	if h.timing == TimingHS400 {
		h.regs.DLLStrobeIn.Set(dwcmshc.DLLDelayEnable | dwcmshc.DLLTapFromSW | dwcmshc.DLLStrobeTapDefault)
	} else {
		h.regs.DLLStrobeIn.Set(0)
	}
	return nil
}
