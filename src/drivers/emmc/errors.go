package emmc

import (
	"errors"
	"fmt"
)

// EmmcError is the closed set of failures the driver reports.  Every
// fallible operation returns nil, one of these, or a *CardStatusError
// (which matches EmmcCardError with errors.Is).
type EmmcError int32

const (
	EmmcOk                  EmmcError = 0
	EmmcTimeout             EmmcError = -1
	EmmcCrc                 EmmcError = -2
	EmmcEndBit              EmmcError = -3
	EmmcIndex               EmmcError = -4
	EmmcInvalidResponse     EmmcError = -5
	EmmcInvalidResponseType EmmcError = -6
	EmmcCommandError        EmmcError = -7
	EmmcDataTimeout         EmmcError = -8
	EmmcDataCrc             EmmcError = -9
	EmmcDataEndBit          EmmcError = -10
	EmmcDataError           EmmcError = -11
	EmmcTransferError       EmmcError = -12
	EmmcAdmaError           EmmcError = -13
	EmmcBusPower            EmmcError = -14
	EmmcVoltageSwitchFailed EmmcError = -15
	EmmcCurrentLimit        EmmcError = -16
	EmmcTuningFailed        EmmcError = -17
	EmmcBusWidth            EmmcError = -18
	EmmcNoCard              EmmcError = -19
	EmmcUnsupportedCard     EmmcError = -20
	EmmcAcmd12Error         EmmcError = -21
	EmmcInvalidArgument     EmmcError = -22
	EmmcBadMessage          EmmcError = -23
	EmmcBufferOverflow      EmmcError = -24
	EmmcMemoryError         EmmcError = -25
	EmmcCardError           EmmcError = -26
	EmmcIoError             EmmcError = -27
)

func (e EmmcError) Error() string {
	return e.String()
}

func (e EmmcError) String() string {
	switch e {
	case EmmcOk:
		return "Ok"
	case EmmcTimeout:
		return "Command timeout error"
	case EmmcCrc:
		return "Command CRC error"
	case EmmcEndBit:
		return "Command end bit error"
	case EmmcIndex:
		return "Command index error"
	case EmmcInvalidResponse:
		return "Invalid response"
	case EmmcInvalidResponseType:
		return "Invalid response type"
	case EmmcCommandError:
		return "Command error"
	case EmmcDataTimeout:
		return "Data timeout error"
	case EmmcDataCrc:
		return "Data CRC error"
	case EmmcDataEndBit:
		return "Data end bit error"
	case EmmcDataError:
		return "Data error"
	case EmmcTransferError:
		return "Transfer error"
	case EmmcAdmaError:
		return "ADMA error"
	case EmmcBusPower:
		return "Bus power error"
	case EmmcVoltageSwitchFailed:
		return "Voltage switch failed"
	case EmmcCurrentLimit:
		return "Current limit error"
	case EmmcTuningFailed:
		return "Tuning failed"
	case EmmcBusWidth:
		return "Bus width error"
	case EmmcNoCard:
		return "No card detected"
	case EmmcUnsupportedCard:
		return "Unsupported card"
	case EmmcAcmd12Error:
		return "ACMD12 error"
	case EmmcInvalidArgument:
		return "Invalid argument"
	case EmmcBadMessage:
		return "Bad message"
	case EmmcBufferOverflow:
		return "Buffer overflow"
	case EmmcMemoryError:
		return "Memory error"
	case EmmcCardError:
		return "Card error"
	case EmmcIoError:
		return "I/O error"
	}
	return "BadEmmcErrorValue"
}

// CardStatusError is a failure reported by the card itself in an R1 status
// word.  Status is the raw word, Description names the highest error bit.
type CardStatusError struct {
	Status      uint32
	Description string
}

func (c *CardStatusError) Error() string {
	return fmt.Sprintf("Card error: 0x%X (%s)", c.Status, c.Description)
}

func (c *CardStatusError) Is(target error) bool {
	return target == EmmcCardError
}

// KindOf flattens any error from this package to its tag.  Errors that did
// not come from the driver are EmmcIoError.
func KindOf(err error) EmmcError {
	if err == nil {
		return EmmcOk
	}
	var cs *CardStatusError
	if errors.As(err, &cs) {
		return EmmcCardError
	}
	var e EmmcError
	if errors.As(err, &e) {
		return e
	}
	return EmmcIoError
}

// isPowerClass marks the errors that mean the slot itself is unusable.
func isPowerClass(err error) bool {
	switch KindOf(err) {
	case EmmcBusPower, EmmcCurrentLimit, EmmcNoCard:
		return true
	}
	return false
}
