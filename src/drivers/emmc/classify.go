package emmc

import (
	"sdmmc/src/hardware/dwcmshc"
)

// R1 card status bits.  Bit 19 is reported by our cards as an address past
// the end of the device, bit 31 as an address outside the addressable range.
const (
	StatusAddressOutOfRange = 1 << 31
	StatusAddressMisaligned = 1 << 30
	StatusBlockLenError     = 1 << 29
	StatusEraseSeqError     = 1 << 28
	StatusEraseParam        = 1 << 27
	StatusWPViolation       = 1 << 26
	StatusCardLocked        = 1 << 25
	StatusLockUnlockFailed  = 1 << 24
	StatusComCRCError       = 1 << 23
	StatusIllegalCommand    = 1 << 22
	StatusCardECCFailed     = 1 << 21
	StatusCCError           = 1 << 20
	StatusOutOfRange        = 1 << 19
	StatusCSDOverwrite      = 1 << 16
	StatusWPEraseSkip       = 1 << 15
	StatusEraseReset        = 1 << 13
	StatusReadyForData      = 1 << 8
	StatusSwitchError       = 1 << 7
	StatusAppCmd            = 1 << 5

	StatusStateShift = 9
	StatusStateMask  = 0xF << StatusStateShift

	// error bits only; CARD_IS_LOCKED is state, not an error
	StatusErrorMask = 0xFFF98080 &^ StatusCardLocked
)

// card states in R1 CURRENT_STATE
const (
	CardStateIdle  = 0
	CardStateReady = 1
	CardStateIdent = 2
	CardStateStby  = 3
	CardStateTran  = 4
	CardStateData  = 5
	CardStateRcv   = 6
	CardStatePrg   = 7
	CardStateDis   = 8
)

// CardState extracts CURRENT_STATE from an R1 status word.
func CardState(status uint32) int {
	return int((status & StatusStateMask) >> StatusStateShift)
}

var cardStatusDescriptions = []struct {
	bit  uint32
	desc string
}{
	{StatusAddressOutOfRange, "address out of range"},
	{StatusAddressMisaligned, "address misaligned"},
	{StatusBlockLenError, "block length error"},
	{StatusEraseSeqError, "erase sequence error"},
	{StatusEraseParam, "erase parameter error"},
	{StatusWPViolation, "write protect violation"},
	{StatusLockUnlockFailed, "lock/unlock failed"},
	{StatusComCRCError, "command CRC error"},
	{StatusIllegalCommand, "illegal command"},
	{StatusCardECCFailed, "card ECC failed"},
	{StatusCCError, "card controller error"},
	{StatusOutOfRange, "out of range"},
	{StatusCSDOverwrite, "CID/CSD overwrite"},
	{StatusWPEraseSkip, "write protect erase skip"},
	{StatusSwitchError, "switch error"},
}

// ClassifyCardStatus returns a *CardStatusError for the highest error bit
// set in an R1 status word, or nil.
func ClassifyCardStatus(status uint32) error {
	if status&StatusErrorMask == 0 {
		return nil
	}
	for _, d := range cardStatusDescriptions {
		if status&d.bit != 0 {
			return &CardStatusError{Status: status, Description: d.desc}
		}
	}
	return &CardStatusError{Status: status, Description: "unknown error"}
}

// interrupt error bits in the order they win
var interruptPrecedence = []struct {
	bit uint32
	err EmmcError
}{
	{dwcmshc.IntBusPower, EmmcBusPower},

	{dwcmshc.IntCmdCRC, EmmcCrc},
	{dwcmshc.IntCmdEndBit, EmmcEndBit},
	{dwcmshc.IntCmdIndex, EmmcIndex},
	{dwcmshc.IntCmdTimeout, EmmcTimeout},
	{dwcmshc.IntDataCRC, EmmcDataCrc},
	{dwcmshc.IntDataEndBit, EmmcDataEndBit},
	{dwcmshc.IntDataTimeout, EmmcDataTimeout},
	{dwcmshc.IntAutoCmd, EmmcAcmd12Error},

	{dwcmshc.IntADMA, EmmcAdmaError},
	{dwcmshc.IntTuning, EmmcTuningFailed},
	{dwcmshc.IntResponse, EmmcInvalidResponse},
	{dwcmshc.IntVendorMask, EmmcIoError},
}

// ClassifyInterrupt maps an INT_STATUS value to one error, or nil if no
// error is signaled.  The error summary bit with nothing decodable behind
// it is EmmcIoError.
func ClassifyInterrupt(status uint32) error {
	if status&(dwcmshc.IntErrorMask|dwcmshc.IntError) == 0 {
		return nil
	}
	for _, p := range interruptPrecedence {
		if status&p.bit != 0 {
			return p.err
		}
	}
	return EmmcIoError
}

// Classify picks the single error for a failure that produced both an
// interrupt status and a card status.  Controller conditions always win
// over what the card reported.
func Classify(intStatus, cardStatus uint32) error {
	if err := ClassifyInterrupt(intStatus); err != nil {
		return err
	}
	return ClassifyCardStatus(cardStatus)
}

// classifyData is ClassifyInterrupt for the data phase, where an error
// interrupt with only vendor bits set is a data error rather than I/O.
func classifyData(status uint32) error {
	err := ClassifyInterrupt(status)
	if err == EmmcIoError && status&dwcmshc.IntErrorMask&^dwcmshc.IntVendorMask == 0 {
		return EmmcDataError
	}
	return err
}
