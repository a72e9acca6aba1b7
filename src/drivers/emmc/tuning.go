package emmc

import (
	"sdmmc/src/hardware/dwcmshc"
	"sdmmc/src/lib/trust"
)

// RunTuning runs the sampling clock tuning procedure for t, which must
// already be the host timing.  The controller sweeps the sampling point
// while we feed it tuning blocks; it clears ExecuteTuning when done and
// sets SamplingClock if it found a good point.
func (h *Host) RunTuning(t Timing) error {
	if t == TimingHS400 {
		// HS400 uses the HS200 result
		if !h.tuned[TimingHS200] {
			return EmmcTuningFailed
		}
		return nil
	}
	if !h.needsTuning(t) {
		return nil
	}
	if h.timing != t {
		return EmmcInvalidArgument
	}
	h.tuned[t] = false
	cmd := Command{Index: CmdSendTuningSD, Resp: RespR1, Data: true, tuning: true}
	blockSize := 64
	if h.card != nil && !h.card.Type.IsSD() {
		cmd.Index = CmdSendTuningMMC
		if h.width == BusWidth8 {
			blockSize = 128
		}
	}

	h.regs.HostControl2.ClearBits(dwcmshc.HC2SamplingClock)
	h.regs.HostControl2.SetBits(dwcmshc.HC2ExecuteTuning)
	attempts := 0
	for attempts < h.cfg.MaxTuningAttempts {
		attempts++
		if err := h.sendTuningBlock(cmd, blockSize); err != nil {
			trust.Debugf("emmc: tuning block %d: %v", attempts, err)
		}
		if !h.regs.HostControl2.HasBits(dwcmshc.HC2ExecuteTuning) {
			break
		}
	}
	hc2 := h.regs.HostControl2.Get()
	if hc2&dwcmshc.HC2ExecuteTuning != 0 || hc2&dwcmshc.HC2SamplingClock == 0 {
		trust.Errorf("emmc: tuning for %v did not converge after %d attempts (hc2 %04x)", t, attempts, hc2)
		h.regs.HostControl2.ClearBits(dwcmshc.HC2ExecuteTuning | dwcmshc.HC2SamplingClock)
		h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
		return EmmcTuningFailed
	}
	h.tuned[t] = true
	if emmcDriverDebug {
		trust.Debugf("emmc: %v tuned after %d attempts", t, attempts)
	}
	return nil
}

// sendTuningBlock issues one tuning command.  The controller consumes the
// tuning pattern itself, so only buffer-read-ready is waited for.
func (h *Host) sendTuningBlock(cmd Command, blockSize int) error {
	if err := h.commandReady(cmd); err != nil {
		return err
	}
	if !poll(h.delay, h.cfg.InhibitTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		return h.regs.PresentState.Get()&(dwcmshc.PSCmdInhibit|dwcmshc.PSDatInhibit) == 0
	}) {
		return EmmcCommandError
	}
	h.inFlight = true
	defer func() { h.inFlight = false }()

	h.regs.IntStatus.Set(dwcmshc.IntAll)
	h.regs.BlockSize.Set(uint16(blockSize))
	h.regs.BlockCount.Set(1)
	h.regs.Argument.Set(0)
	h.regs.TransferMode.Set(dwcmshc.TMDataRead)
	h.regs.Command.Set(cmd.commandRegister())

	var status uint32
	if !poll(h.delay, h.cfg.CommandTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		status = h.regs.IntStatus.Get()
		return status&(dwcmshc.IntBufferReadReady|dwcmshc.IntErrorMask) != 0
	}) {
		h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
		return EmmcTimeout
	}
	h.regs.IntStatus.Set(dwcmshc.IntAll)
	if err := ClassifyInterrupt(status); err != nil {
		h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
		return err
	}
	return nil
}
