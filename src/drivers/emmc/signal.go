package emmc

import (
	"sdmmc/src/hardware/dwcmshc"
	"sdmmc/src/lib/trust"
)

// EXT_CSD bytes the driver reads or writes
const (
	extCSDBusWidth      = 183
	extCSDStrobeSupport = 184
	extCSDHSTiming      = 185
	extCSDRev           = 192
	extCSDCardType      = 196
	extCSDSecCount      = 212
)

// EXT_CSD BUS_WIDTH values
const (
	extBusWidth1    = 0
	extBusWidth4    = 1
	extBusWidth8    = 2
	extBusWidth8DDR = 6
	extBusWidthES   = 0x80 //enhanced strobe, HS400 only
)

// EXT_CSD HS_TIMING values
const (
	extTimingLegacy = 0
	extTimingHS     = 1
	extTimingHS200  = 2
	extTimingHS400  = 3
)

// SetBusWidth changes the data bus width.  The card is told first and the
// host follows; the width is then read back from the card.
func (h *Host) SetBusWidth(w BusWidth) error {
	if !w.valid() {
		return EmmcInvalidArgument
	}
	if h.card == nil {
		return EmmcNoCard
	}
	if h.card.Type.IsSD() {
		if w == BusWidth8 {
			return EmmcBusWidth
		}
		arg := uint32(0)
		if w == BusWidth4 {
			arg = 2
		}
		if _, err := h.Execute(Command{Index: AcmdSetBusWidth, Arg: arg, Resp: RespR1, App: true}); err != nil {
			return err
		}
	} else {
		if err := h.mmcSwitch(extCSDBusWidth, mmcWidthValue(w)); err != nil {
			return err
		}
	}
	h.setHostWidth(w)
	return h.verifyBusWidth(w)
}

// mmcWidthValue is the single data rate EXT_CSD BUS_WIDTH value for w.
func mmcWidthValue(w BusWidth) uint8 {
	switch w {
	case BusWidth4:
		return extBusWidth4
	case BusWidth8:
		return extBusWidth8
	}
	return extBusWidth1
}

// setHostWidth only touches HOST_CONTROL_1.
func (h *Host) setHostWidth(w BusWidth) {
	var bits uint8
	switch w {
	case BusWidth4:
		bits = dwcmshc.HC1DataWidth4
	case BusWidth8:
		bits = dwcmshc.HC1DataWidth8
	}
	h.regs.HostControl1.Update(dwcmshc.HC1DataWidth4|dwcmshc.HC1DataWidth8, bits)
	h.width = w
}

// verifyBusWidth asks the card what width it is using.
func (h *Host) verifyBusWidth(w BusWidth) error {
	if h.card.Type.IsSD() {
		var status [64]byte
		if err := h.readData(Command{Index: AcmdSDStatus, Resp: RespR1, App: true}, status[:]); err != nil {
			trust.Warnf("emmc: SD status read after bus width change failed: %v", err)
			return EmmcBusWidth
		}
		got := BusWidth1
		if status[0]>>6 == 2 {
			got = BusWidth4
		}
		if got != w {
			trust.Errorf("emmc: card reports %v, host set %v", got, w)
			return EmmcBusWidth
		}
		return nil
	}
	ext, err := h.ReadExtCSD()
	if err != nil {
		trust.Warnf("emmc: EXT_CSD read after bus width change failed: %v", err)
		return EmmcBusWidth
	}
	if ext[extCSDBusWidth] != mmcWidthValue(w) {
		trust.Errorf("emmc: EXT_CSD bus width %d, host set %v", ext[extCSDBusWidth], w)
		return EmmcBusWidth
	}
	return nil
}

// mmcSwitch writes one EXT_CSD byte with CMD6 and checks SWITCH_ERROR.
func (h *Host) mmcSwitch(index, value uint8) error {
	if _, err := h.Execute(Command{Index: CmdSwitch, Arg: mmcSwitchArg(index, value), Resp: RespR1b}); err != nil {
		return err
	}
	status, err := h.SendStatus()
	if err != nil {
		return err
	}
	if status&StatusSwitchError != 0 {
		return &CardStatusError{Status: status, Description: "switch error"}
	}
	return nil
}

// SwitchVoltage moves the I/O signaling to v.  On SD cards going to 1.8V
// the card is asked with CMD11 and must release DAT[3:0] within the
// switch window; eMMC only needs the host side.
func (h *Host) SwitchVoltage(v SignalVoltage) error {
	if v == Signal330 {
		h.regs.HostControl2.ClearBits(dwcmshc.HC2Signal18V)
		h.delay.Sleep(h.cfg.VoltageSettleUs)
		h.voltage = Signal330
		return nil
	}
	sd := h.card != nil && h.card.Type.IsSD()
	if sd {
		if _, err := h.Execute(Command{Index: CmdVoltageSwitch, Resp: RespR1}); err != nil {
			trust.Errorf("emmc: CMD11 rejected: %v", err)
			return EmmcVoltageSwitchFailed
		}
	}
	h.clockReady = false
	h.regs.ClockControl.ClearBits(dwcmshc.CCCardEnable)
	if sd && h.regs.DatLevel() != 0 {
		trust.Errorf("emmc: card did not drive DAT[3:0] low for voltage switch (%x)", h.regs.DatLevel())
		return EmmcVoltageSwitchFailed
	}
	h.regs.HostControl2.SetBits(dwcmshc.HC2Signal18V)
	h.delay.Sleep(h.cfg.VoltageSettleUs)
	if !h.regs.HostControl2.HasBits(dwcmshc.HC2Signal18V) {
		trust.Errorf("emmc: host regulator did not switch to 1.8V")
		return EmmcVoltageSwitchFailed
	}
	h.regs.ClockControl.SetBits(dwcmshc.CCCardEnable)
	if sd && !poll(h.delay, h.cfg.VoltageSwitchTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		return h.regs.DatLevel() == 0xF
	}) {
		trust.Errorf("emmc: DAT[3:0] did not return high after voltage switch (%x)", h.regs.DatLevel())
		return EmmcVoltageSwitchFailed
	}
	h.delay.Sleep(h.cfg.ClockSettleUs)
	h.clockReady = h.clockHz != 0
	h.voltage = Signal180
	return nil
}

// SetTiming programs the host half of a timing change: the high speed
// enable and the UHS mode select.  The SD clock is gated while the mode
// select changes.  The tuned flag of the new timing is left alone.
func (h *Host) SetTiming(t Timing) error {
	if t >= timingCount {
		return EmmcInvalidArgument
	}
	var uhs uint16
	switch t {
	case TimingLegacy:
		uhs = dwcmshc.HC2UHSSDR12
	case TimingHS:
		uhs = dwcmshc.HC2UHSSDR25
	case TimingSDR50:
		uhs = dwcmshc.HC2UHSSDR50
	case TimingSDR104, TimingHS200:
		uhs = dwcmshc.HC2UHSSDR104
	case TimingHS400:
		uhs = dwcmshc.HC2UHSHS400
	}
	card := h.regs.ClockControl.HasBits(dwcmshc.CCCardEnable)
	h.regs.ClockControl.ClearBits(dwcmshc.CCCardEnable)
	if t == TimingLegacy {
		h.regs.HostControl1.ClearBits(dwcmshc.HC1HighSpeed)
	} else {
		h.regs.HostControl1.SetBits(dwcmshc.HC1HighSpeed)
	}
	h.regs.HostControl2.Update(dwcmshc.HC2UHSModeMask, uhs)
	if t == TimingHS400 && h.card != nil && h.card.EnhancedStrobe {
		h.regs.EMMCControl.SetBits(dwcmshc.EMMCEnhancedStrobe)
	} else {
		h.regs.EMMCControl.ClearBits(dwcmshc.EMMCEnhancedStrobe)
	}
	if card {
		h.regs.ClockControl.SetBits(dwcmshc.CCCardEnable)
	}
	h.timing = t
	return nil
}
