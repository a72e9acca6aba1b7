package emmc

import (
	"fmt"

	"sdmmc/src/hardware/dwcmshc"
)

// command indices
const (
	CmdGoIdle           = 0
	CmdSendOpCond       = 1 // MMC
	CmdAllSendCID       = 2
	CmdSendRelativeAddr = 3 // SET_RELATIVE_ADDR on MMC
	CmdIOSendOpCond     = 5 // SDIO
	CmdSwitch           = 6
	CmdSelectCard       = 7
	CmdSendIfCond       = 8 // SD, no data
	CmdSendExtCSD       = 8 // MMC, 512 byte read
	CmdSendCSD          = 9
	CmdSendCID          = 10
	CmdVoltageSwitch    = 11
	CmdStopTransmission = 12
	CmdSendStatus       = 13
	CmdGoInactive       = 15
	CmdSetBlockLen      = 16
	CmdReadSingle       = 17
	CmdReadMulti        = 18
	CmdSendTuningSD     = 19
	CmdSendTuningMMC    = 21
	CmdSetBlockCount    = 23
	CmdWriteSingle      = 24
	CmdWriteMulti       = 25
	CmdAppCmd           = 55

	AcmdSetBusWidth = 6
	AcmdSDStatus    = 13
	AcmdSendOpCond  = 41
	AcmdSendSCR     = 51
)

type ResponseType uint8

const (
	RespNone ResponseType = iota
	RespR1
	RespR1b
	RespR2
	RespR3
	RespR4
	RespR6
	RespR7
	respTypeCount
)

func (r ResponseType) String() string {
	switch r {
	case RespNone:
		return "none"
	case RespR1:
		return "R1"
	case RespR1b:
		return "R1b"
	case RespR2:
		return "R2"
	case RespR3:
		return "R3"
	case RespR4:
		return "R4"
	case RespR6:
		return "R6"
	case RespR7:
		return "R7"
	}
	return fmt.Sprintf("ResponseType(%d)", uint8(r))
}

// commandFlags is the low byte of the COMMAND register for a response type.
func (r ResponseType) commandFlags() uint16 {
	switch r {
	case RespR1, RespR6, RespR7:
		return dwcmshc.CmdResp48 | dwcmshc.CmdCRCCheck | dwcmshc.CmdIndexCheck
	case RespR1b:
		return dwcmshc.CmdResp48Busy | dwcmshc.CmdCRCCheck | dwcmshc.CmdIndexCheck
	case RespR2:
		return dwcmshc.CmdResp136 | dwcmshc.CmdCRCCheck
	case RespR3, RespR4:
		return dwcmshc.CmdResp48
	}
	return dwcmshc.CmdRespNone
}

// Command is one bus command.  App commands get their CMD55 from the engine.
type Command struct {
	Index uint8
	Arg   uint32
	Resp  ResponseType
	Data  bool
	App   bool

	tuning bool //exempt from the tuned gate
	abort  bool //CMD12 issued to end a transfer
}

func (c Command) String() string {
	if c.App {
		return fmt.Sprintf("ACMD%d(%08x)", c.Index, c.Arg)
	}
	return fmt.Sprintf("CMD%d(%08x)", c.Index, c.Arg)
}

// validate rejects commands the engine cannot encode or that pair an
// index with a response type no card would produce.
func (c Command) validate() error {
	if c.Index > 63 {
		return EmmcBadMessage
	}
	if c.App && c.Index == CmdAppCmd {
		return EmmcBadMessage
	}
	if c.Resp >= respTypeCount {
		return EmmcInvalidResponseType
	}
	if c.Data && c.Resp != RespR1 && c.Resp != RespR1b {
		return EmmcInvalidResponseType
	}
	switch c.Resp {
	case RespR2:
		if c.App || (c.Index != CmdAllSendCID && c.Index != CmdSendCSD && c.Index != CmdSendCID) {
			return EmmcInvalidResponseType
		}
	case RespR3:
		if !(c.Index == CmdSendOpCond && !c.App) && !(c.Index == AcmdSendOpCond && c.App) {
			return EmmcInvalidResponseType
		}
	case RespR4:
		if c.App || c.Index != CmdIOSendOpCond {
			return EmmcInvalidResponseType
		}
	case RespR6:
		if c.App || c.Index != CmdSendRelativeAddr {
			return EmmcInvalidResponseType
		}
	case RespR7:
		if c.App || c.Index != CmdSendIfCond || c.Data {
			return EmmcInvalidResponseType
		}
	}
	return nil
}

// commandRegister builds the COMMAND register value.
func (c Command) commandRegister() uint16 {
	v := uint16(c.Index)<<dwcmshc.CmdIndexShift | c.Resp.commandFlags()
	if c.Data {
		v |= dwcmshc.CmdDataPresent
	}
	if c.abort {
		v |= dwcmshc.CmdTypeAbort
	}
	return v
}

// Response holds the raw response.  For R2 Raw is the full 128 bit value
// with Raw[0] holding bits 127:96 (the CRC byte reads as zero); for all
// other types Raw[0] is the 32 bit payload.
type Response struct {
	Type ResponseType
	Raw  [4]uint32
}

// CardStatus is the R1/R1b status word.  For R6 the compressed status
// bits are expanded back into their R1 positions.
func (r Response) CardStatus() uint32 {
	if r.Type == RespR6 {
		s := r.Raw[0] & 0x1FFF
		s |= (r.Raw[0] & (1 << 13)) << 6  //ERROR -> 19
		s |= (r.Raw[0] & (1 << 14)) << 8  //ILLEGAL_COMMAND -> 22
		s |= (r.Raw[0] & (1 << 15)) << 8  //COM_CRC_ERROR -> 23
		return s
	}
	return r.Raw[0]
}

func (r Response) OCR() uint32 {
	return r.Raw[0]
}

// RCA is the card address from an R6 response.
func (r Response) RCA() uint16 {
	return uint16(r.Raw[0] >> 16)
}

// Long is the 128 bit R2 value, most significant word first.
func (r Response) Long() [4]uint32 {
	return r.Raw
}

// realignR2 undoes the controller dropping the CRC byte: the registers
// hold bits 127:8 shifted down by 8.
func realignR2(r0, r1, r2, r3 uint32) [4]uint32 {
	return [4]uint32{
		(r3 << 8) | (r2 >> 24),
		(r2 << 8) | (r1 >> 24),
		(r1 << 8) | (r0 >> 24),
		r0 << 8,
	}
}

// mmcSwitchArg builds a CMD6 argument that writes value into EXT_CSD[index].
func mmcSwitchArg(index, value uint8) uint32 {
	const accessWriteByte = 3
	return accessWriteByte<<24 | uint32(index)<<16 | uint32(value)<<8
}

// sdSwitchArg builds a CMD6 argument for access mode group 1.
func sdSwitchArg(set bool, function uint8) uint32 {
	arg := uint32(0x00FFFFF0) | uint32(function&0xF)
	if set {
		arg |= 1 << 31
	}
	return arg
}
