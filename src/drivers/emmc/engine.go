package emmc

import (
	"sdmmc/src/hardware/dwcmshc"
	"sdmmc/src/lib/trust"
)

// Execute issues one command and waits for its response.  Data commands
// must go through the block transfer calls, which own the data phase.
func (h *Host) Execute(cmd Command) (Response, error) {
	if cmd.Data {
		return Response{}, EmmcInvalidArgument
	}
	return h.execute(cmd, nil)
}

// execute checks the command, issues the CMD55 prefix for app commands,
// then the command itself.  req is the data phase, if any.
func (h *Host) execute(cmd Command, req *dataRequest) (Response, error) {
	if err := cmd.validate(); err != nil {
		return Response{}, err
	}
	if err := h.commandReady(cmd); err != nil {
		return Response{}, err
	}
	if cmd.App {
		var rca uint32
		if h.card != nil {
			rca = uint32(h.card.RCA)
		}
		resp, err := h.issue(Command{Index: CmdAppCmd, Arg: rca << 16, Resp: RespR1}, nil)
		if err != nil {
			return Response{}, err
		}
		if resp.CardStatus()&StatusAppCmd == 0 {
			trust.Errorf("emmc: card did not accept APP_CMD before %v (status %08x)", cmd, resp.CardStatus())
			return Response{}, EmmcCommandError
		}
	}
	return h.issue(cmd, req)
}

// commandReady is the set of preconditions that must hold before anything
// is written for a command.
func (h *Host) commandReady(cmd Command) error {
	if h.inFlight {
		return EmmcCommandError
	}
	if !h.clockReady {
		return EmmcCommandError
	}
	if !cmd.tuning && h.needsTuning(h.timing) && !h.Tuned(h.timing) {
		trust.Errorf("emmc: %v refused, %v is not tuned", cmd, h.timing)
		return EmmcCommandError
	}
	return nil
}

// issue drives the registers for one command and, when req is not nil,
// its data phase.
func (h *Host) issue(cmd Command, req *dataRequest) (Response, error) {
	inhibit := uint32(dwcmshc.PSCmdInhibit)
	if (cmd.Data || cmd.Resp == RespR1b) && !cmd.abort {
		inhibit |= dwcmshc.PSDatInhibit
	}
	if !poll(h.delay, h.cfg.InhibitTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		return h.regs.PresentState.Get()&inhibit == 0
	}) {
		trust.Errorf("emmc: %v refused, previous command still owns the bus (present %08x)",
			cmd, h.regs.PresentState.Get())
		return Response{}, EmmcCommandError
	}

	h.inFlight = true
	defer func() { h.inFlight = false }()

	if emmcDriverDebug {
		trust.Debugf("emmc: issue %v resp %v", cmd, cmd.Resp)
	}
	h.regs.IntStatus.Set(dwcmshc.IntAll)
	if req != nil {
		h.prepareData(req)
	}
	h.regs.Argument.Set(cmd.Arg)
	if req != nil {
		h.regs.TransferMode.Set(req.transferMode())
	}
	h.regs.Command.Set(cmd.commandRegister())
	if req != nil {
		req.issued = true
	}

	lines := uint8(dwcmshc.SRCmd)
	if req != nil || cmd.Resp == RespR1b {
		lines |= dwcmshc.SRData
	}
	var status uint32
	if !poll(h.delay, h.cfg.CommandTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		status = h.regs.IntStatus.Get()
		return status&(dwcmshc.IntCmdComplete|dwcmshc.IntError|dwcmshc.IntErrorMask) != 0
	}) {
		trust.Errorf("emmc: %v timed out waiting for completion", cmd)
		h.resetLines(lines)
		return Response{}, EmmcTimeout
	}
	if err := ClassifyInterrupt(status); err != nil {
		if emmcDriverDebug || err != EmmcTimeout {
			trust.Debugf("emmc: %v failed, status %08x: %v", cmd, status, err)
		}
		h.resetLines(lines)
		return Response{}, err
	}
	h.regs.IntStatus.Set(dwcmshc.IntCmdComplete)

	resp := h.readResponse(cmd.Resp)

	if cmd.Resp == RespR1b && req == nil {
		if err := h.waitBusy(cmd); err != nil {
			return resp, err
		}
	}
	if req != nil {
		if err := h.dataPhase(req); err != nil {
			return resp, err
		}
	}
	if err := h.checkStatus(cmd, resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (h *Host) readResponse(t ResponseType) Response {
	resp := Response{Type: t}
	switch t {
	case RespNone:
	case RespR2:
		resp.Raw = realignR2(h.regs.Response[0].Get(), h.regs.Response[1].Get(),
			h.regs.Response[2].Get(), h.regs.Response[3].Get())
	default:
		resp.Raw[0] = h.regs.Response[0].Get()
	}
	return resp
}

// waitBusy waits for the card to let go of DAT0 after an R1b response.
func (h *Host) waitBusy(cmd Command) error {
	var status uint32
	if !poll(h.delay, h.cfg.BusyTimeoutUs, h.cfg.PollIntervalUs, func() bool {
		status = h.regs.IntStatus.Get()
		if status&(dwcmshc.IntTransferComplete|dwcmshc.IntErrorMask) != 0 {
			return true
		}
		return h.regs.PresentState.Get()&dwcmshc.PSDatInhibit == 0
	}) {
		trust.Errorf("emmc: card held DAT0 busy after %v", cmd)
		h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
		return EmmcDataTimeout
	}
	if err := classifyData(status); err != nil {
		h.resetLines(dwcmshc.SRCmd | dwcmshc.SRData)
		return err
	}
	h.regs.IntStatus.Set(dwcmshc.IntTransferComplete)
	return nil
}

// checkStatus looks at the card status carried by R1, R1b and R6.  A
// stop command past the last block reports the address as out of range,
// which is expected.
func (h *Host) checkStatus(cmd Command, resp Response) error {
	switch resp.Type {
	case RespR1, RespR1b, RespR6:
	default:
		return nil
	}
	status := resp.CardStatus()
	if cmd.Index == CmdStopTransmission && !cmd.App {
		status &^= StatusAddressOutOfRange
	}
	if err := ClassifyCardStatus(status); err != nil {
		trust.Warnf("emmc: %v card status %08x: %v", cmd, resp.CardStatus(), err)
		return err
	}
	return nil
}
