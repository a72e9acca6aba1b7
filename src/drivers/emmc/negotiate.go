package emmc

import (
	"sdmmc/src/lib/trust"
)

// negotiate picks the fastest timing card and host both support.  Each
// failed step puts the bus back to a safe legacy setup and tries the next
// slower timing; only a failure of legacy itself is fatal.
func (s *Session) negotiate() error {
	var order []Timing
	if s.card.Type.IsMMC() {
		order = []Timing{TimingHS400, TimingHS200, TimingHS}
	} else {
		s.sdWidth()
		order = []Timing{TimingSDR104, TimingSDR50, TimingHS}
	}
	for _, t := range order {
		if !s.allowed(t) {
			continue
		}
		err := s.try(t)
		if err == nil {
			s.record()
			return nil
		}
		trust.Warnf("emmc: %v setup failed (%v), falling back", t, err)
		s.baseline()
	}
	if err := s.legacy(); err != nil {
		return err
	}
	s.record()
	return nil
}

// allowed is true when the card, the host configuration and the controller
// capabilities all permit t.
func (s *Session) allowed(t Timing) bool {
	h := s.host
	if !s.card.Modes.Has(t) || !h.cfg.HostModes.Has(t) {
		return false
	}
	switch t {
	case TimingHS:
		return h.caps.HighSpeed
	case TimingSDR50:
		return h.caps.SDR50 && h.voltage == Signal180
	case TimingSDR104:
		return h.caps.SDR104 && h.voltage == Signal180
	case TimingHS200:
		return h.caps.SDR104 && h.caps.Voltage18 && s.mmcWidth() >= BusWidth4
	case TimingHS400:
		return h.caps.SDR104 && h.caps.Voltage18 && h.caps.Bus8Bit && s.mmcWidth() == BusWidth8
	}
	return true
}

func (s *Session) try(t Timing) error {
	switch t {
	case TimingHS400:
		return s.tryHS400()
	case TimingHS200:
		return s.tryHS200()
	case TimingHS:
		if s.card.Type.IsMMC() {
			return s.tryMMCHS()
		}
		return s.trySD(t, sdFnHS)
	case TimingSDR50:
		return s.trySD(t, sdFnSDR50)
	case TimingSDR104:
		return s.trySD(t, sdFnSDR104)
	}
	return EmmcInvalidArgument
}

// sdWidth moves an SD card to 4 bit if it can; staying at 1 bit is not
// an error.
func (s *Session) sdWidth() {
	h := s.host
	if h.cfg.MaxBusWidth < BusWidth4 || !s.card.supportsWidth(BusWidth4) {
		return
	}
	if err := h.SetBusWidth(BusWidth4); err != nil {
		trust.Warnf("emmc: 4 bit bus refused (%v), staying at 1 bit", err)
		h.setHostWidth(BusWidth1)
	}
}

// mmcWidth is the widest bus both ends allow.
func (s *Session) mmcWidth() BusWidth {
	h := s.host
	switch {
	case h.cfg.MaxBusWidth >= BusWidth8 && h.caps.Bus8Bit && s.card.supportsWidth(BusWidth8):
		return BusWidth8
	case h.cfg.MaxBusWidth >= BusWidth4 && s.card.supportsWidth(BusWidth4):
		return BusWidth4
	}
	return BusWidth1
}

func (s *Session) trySD(t Timing, fn uint8) error {
	h := s.host
	status, err := h.sdSwitch(true, fn)
	if err != nil {
		return err
	}
	if sdSwitchResult(status) != fn {
		trust.Warnf("emmc: card refused switch function %d", fn)
		return EmmcUnsupportedCard
	}
	if err := h.SetTiming(t); err != nil {
		return err
	}
	if err := h.SetClock(timingClockHz[t]); err != nil {
		return err
	}
	if h.needsTuning(t) {
		return h.RunTuning(t)
	}
	return nil
}

func (s *Session) tryMMCHS() error {
	h := s.host
	if w := s.mmcWidth(); w != h.width {
		if err := h.SetBusWidth(w); err != nil {
			return err
		}
	}
	if err := h.mmcSwitch(extCSDHSTiming, extTimingHS); err != nil {
		return err
	}
	if err := h.SetTiming(TimingHS); err != nil {
		return err
	}
	return h.SetClock(mmcHSClockHz)
}

func (s *Session) tryHS200() error {
	h := s.host
	if h.voltage != Signal180 {
		if err := h.SwitchVoltage(Signal180); err != nil {
			return err
		}
	}
	if w := s.mmcWidth(); w != h.width {
		if err := h.SetBusWidth(w); err != nil {
			return err
		}
	}
	if err := h.mmcSwitch(extCSDHSTiming, extTimingHS200); err != nil {
		return err
	}
	if err := h.SetTiming(TimingHS200); err != nil {
		return err
	}
	if err := h.SetClock(timingClockHz[TimingHS200]); err != nil {
		return err
	}
	return h.RunTuning(TimingHS200)
}

// tryHS400 tunes in HS200, drops to HS to change the bus to DDR 8 bit,
// then switches to HS400 which keeps the HS200 sampling point.
func (s *Session) tryHS400() error {
	h := s.host
	if err := s.tryHS200(); err != nil {
		return err
	}
	if err := h.mmcSwitch(extCSDHSTiming, extTimingHS); err != nil {
		return err
	}
	if err := h.SetTiming(TimingHS); err != nil {
		return err
	}
	if err := h.SetClock(mmcHSClockHz); err != nil {
		return err
	}
	// the host turns on enhanced strobe in SetTiming under the same
	// condition, so card and host agree on who drives the strobe
	width := uint8(extBusWidth8DDR)
	if s.card.EnhancedStrobe {
		width |= extBusWidthES
	}
	if err := h.mmcSwitch(extCSDBusWidth, width); err != nil {
		return err
	}
	if err := h.mmcSwitch(extCSDHSTiming, extTimingHS400); err != nil {
		return err
	}
	if err := h.SetTiming(TimingHS400); err != nil {
		return err
	}
	if err := h.SetClock(timingClockHz[TimingHS400]); err != nil {
		return err
	}
	return h.RunTuning(TimingHS400)
}

// baseline undoes a failed attempt.  Errors are only logged; the legacy
// setup that follows reports anything that really matters.
func (s *Session) baseline() {
	h := s.host
	h.tuned = [timingCount]bool{}
	if err := h.SetTiming(TimingLegacy); err != nil {
		trust.Warnf("emmc: baseline timing: %v", err)
	}
	clock := uint32(timingClockHz[TimingLegacy])
	if s.card.Type.IsMMC() {
		clock = mmcLegacyClockHz
	}
	if err := h.SetClock(clock); err != nil {
		trust.Warnf("emmc: baseline clock: %v", err)
	}
	if s.card.Type.IsMMC() {
		if err := h.mmcSwitch(extCSDHSTiming, extTimingLegacy); err != nil {
			trust.Warnf("emmc: baseline HS_TIMING: %v", err)
		}
		if err := h.mmcSwitch(extCSDBusWidth, extBusWidth1); err != nil {
			trust.Warnf("emmc: baseline bus width: %v", err)
		}
		h.setHostWidth(BusWidth1)
	} else if _, err := h.sdSwitch(true, sdFnDefault); err != nil {
		trust.Warnf("emmc: baseline switch function: %v", err)
	}
}

// legacy is the last resort, and the only setup whose failure faults
// the session.
func (s *Session) legacy() error {
	h := s.host
	if err := h.SetTiming(TimingLegacy); err != nil {
		return err
	}
	clock := uint32(timingClockHz[TimingLegacy])
	if s.card.Type.IsMMC() {
		clock = mmcLegacyClockHz
		if w := s.mmcWidth(); w != h.width {
			if err := h.SetBusWidth(w); err != nil {
				trust.Warnf("emmc: %v bus refused (%v), staying at 1 bit", w, err)
				h.setHostWidth(BusWidth1)
			}
		}
	}
	return h.SetClock(clock)
}

func (s *Session) record() {
	h := s.host
	s.card.Timing = h.timing
	s.card.BusWidth = h.width
	s.card.ClockHz = h.clockHz
	trust.Infof("emmc: negotiated %v, %v bus, %d Hz, %v signaling", h.timing, h.width, h.clockHz, h.voltage)
}
