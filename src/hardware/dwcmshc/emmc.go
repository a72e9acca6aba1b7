package dwcmshc

// Offsets in the SDHCI standard register set (0x00-0xFF) plus the
// Synopsys DWC MSHC vendor area.  The vendor area moves between IP
// revisions, so it is located through the pointer at VendorAreaPointer.

// standard register set
const SDMAAddress = 0x00
const BlockSize = 0x04
const BlockCount = 0x06
const Argument = 0x08
const TransferMode = 0x0C
const Command = 0x0E
const Response0 = 0x10
const Response1 = 0x14
const Response2 = 0x18
const Response3 = 0x1C
const BufferData = 0x20
const PresentState = 0x24
const HostControl1 = 0x28
const PowerControl = 0x29
const BlockGapControl = 0x2A
const WakeupControl = 0x2B
const ClockControl = 0x2C
const TimeoutControl = 0x2E
const SoftwareReset = 0x2F
const IntStatus = 0x30 //normal (15:0) and error (31:16) together
const IntEnable = 0x34
const IntSignal = 0x38
const AutoCmdStatus = 0x3C
const HostControl2 = 0x3E
const Capabilities = 0x40
const Capabilities1 = 0x44
const MaxCurrent = 0x48
const ADMAErrorStatus = 0x54
const ADMAAddressLo = 0x58
const ADMAAddressHi = 0x5C
const VendorAreaPointer = 0xE8
const SlotIntStatus = 0xFC
const HostVersion = 0xFE

// vendor area, relative to the value read from VendorAreaPointer
const VendorMSHCControl = 0x08
const VendorEMMCControl = 0x2C
const VendorAutoTuneControl = 0x40

// Rockchip DLL block of the DWCMSHC instance on RK3568/RK3588
const DLLControl = 0x800
const DLLRxClock = 0x804
const DLLTxClock = 0x808
const DLLStrobeIn = 0x80C
const DLLStatus0 = 0x840

// DefaultVendorArea is what DWCMSHC 1.70a+ reports in VendorAreaPointer.
const DefaultVendorArea = 0x500

// RegisterFileSize covers everything above, including the DLL block.
const RegisterFileSize = 0x900

// TRANSFER_MODE
const TMDMAEnable = 1 << 0
const TMBlockCountEnable = 1 << 1
const TMAutoCmd12 = 1 << 2
const TMAutoCmd23 = 2 << 2
const TMDataRead = 1 << 4
const TMMultiBlock = 1 << 5

// COMMAND
const CmdRespNone = 0x0
const CmdResp136 = 0x1
const CmdResp48 = 0x2
const CmdResp48Busy = 0x3
const CmdCRCCheck = 1 << 3
const CmdIndexCheck = 1 << 4
const CmdDataPresent = 1 << 5
const CmdTypeAbort = 3 << 6
const CmdIndexShift = 8

// PRESENT_STATE
const PSCmdInhibit = 1 << 0
const PSDatInhibit = 1 << 1
const PSDatActive = 1 << 2
const PSRetuneRequest = 1 << 3
const PSWriteActive = 1 << 8
const PSReadActive = 1 << 9
const PSBufferWriteEnable = 1 << 10
const PSBufferReadEnable = 1 << 11
const PSCardInserted = 1 << 16
const PSCardStable = 1 << 17
const PSCardDetectLevel = 1 << 18
const PSWriteProtect = 1 << 19
const PSDatLevelShift = 20
const PSDatLevelMask = 0xF << PSDatLevelShift
const PSCmdLevel = 1 << 24

// HOST_CONTROL_1
const HC1LED = 1 << 0
const HC1DataWidth4 = 1 << 1
const HC1HighSpeed = 1 << 2
const HC1DMASelectMask = 3 << 3
const HC1DMASelectSDMA = 0 << 3
const HC1DMASelectADMA2 = 2 << 3
const HC1DMASelectADMA64 = 3 << 3
const HC1DataWidth8 = 1 << 5

// POWER_CONTROL
const PCBusPower = 1 << 0
const PCVoltage33 = 7 << 1
const PCVoltage30 = 6 << 1
const PCVoltage18 = 5 << 1

// CLOCK_CONTROL
const CCInternalEnable = 1 << 0
const CCInternalStable = 1 << 1
const CCCardEnable = 1 << 2
const CCPLLEnable = 1 << 3
const CCGeneratorSelect = 1 << 5
const CCDividerUpperShift = 6
const CCDividerShift = 8
const CCDividerMax = 0x3FF

// SOFTWARE_RESET
const SRAll = 1 << 0
const SRCmd = 1 << 1
const SRData = 1 << 2

// TIMEOUT_CONTROL, the counter value is TMCLK * 2^(13+n)
const TimeoutMax = 0xE

// INT_STATUS normal half
const IntCmdComplete = 1 << 0
const IntTransferComplete = 1 << 1
const IntBlockGap = 1 << 2
const IntDMA = 1 << 3
const IntBufferWriteReady = 1 << 4
const IntBufferReadReady = 1 << 5
const IntCardInsert = 1 << 6
const IntCardRemove = 1 << 7
const IntCard = 1 << 8
const IntRetune = 1 << 12
const IntError = 1 << 15

// INT_STATUS error half
const IntCmdTimeout = 1 << 16
const IntCmdCRC = 1 << 17
const IntCmdEndBit = 1 << 18
const IntCmdIndex = 1 << 19
const IntDataTimeout = 1 << 20
const IntDataCRC = 1 << 21
const IntDataEndBit = 1 << 22
const IntBusPower = 1 << 23
const IntAutoCmd = 1 << 24
const IntADMA = 1 << 25
const IntTuning = 1 << 26
const IntResponse = 1 << 27
const IntVendorMask = 0xF << 28

const IntCmdErrorMask = IntCmdTimeout | IntCmdCRC | IntCmdEndBit | IntCmdIndex
const IntDataErrorMask = IntDataTimeout | IntDataCRC | IntDataEndBit | IntADMA | IntAutoCmd
const IntErrorMask = 0xFFFF0000
const IntAll = 0xFFFFFFFF

// AUTO_CMD_STATUS
const ACNotExecuted = 1 << 0
const ACTimeout = 1 << 1
const ACCRC = 1 << 2
const ACEndBit = 1 << 3
const ACIndex = 1 << 4
const ACResponse = 1 << 5
const ACNotIssued = 1 << 7

// HOST_CONTROL_2
const HC2UHSModeMask = 0x7
const HC2UHSSDR12 = 0x0
const HC2UHSSDR25 = 0x1
const HC2UHSSDR50 = 0x2
const HC2UHSSDR104 = 0x3
const HC2UHSDDR50 = 0x4
const HC2UHSHS400 = 0x7 //DWCMSHC specific
const HC2Signal18V = 1 << 3
const HC2DriverStrengthMask = 3 << 4
const HC2ExecuteTuning = 1 << 6
const HC2SamplingClock = 1 << 7
const HC2PresetEnable = 1 << 15

// ADMA_ERROR_STATUS
const ADMAErrorStateMask = 0x3
const ADMAErrorLength = 1 << 2

// VendorEMMCControl
const EMMCCardIsEMMC = 1 << 0
const EMMCEnhancedStrobe = 1 << 8

// DLLControl / DLLStatus0
const DLLStart = 1 << 0
const DLLSoftReset = 1 << 1
const DLLBypass = 1 << 24
const DLLStartPoint = 0x5 << 16
const DLLIncrement = 0x2 << 8
const DLLRxClockOriginal = 1 << 29
const DLLLocked = 1 << 8
const DLLTimeout = 1 << 9

// DLLRxClock / DLLTxClock / DLLStrobeIn
const DLLDelayEnable = 1 << 27
const DLLTapFromSW = 1 << 24
const DLLTxClockNoInverter = 1 << 29
const DLLTapMask = 0xFF
const DLLTxTapDefault = 0x10
const DLLTxTapHS400 = 0x08
const DLLStrobeTapDefault = 0x08

// HostVersion, spec number in the low byte
const HostSpecMask = 0xFF
const HostSpecV2 = 1
const HostSpecV3 = 2
const HostSpecV4 = 3
