package emmc

import (
	"errors"
	"fmt"

	"sdmmc/src/lib/trust"
)

type State uint8

const (
	StatePowerOff State = iota
	StateIdle
	StateReadyCheck
	StateIdentification
	StateStandBy
	StateTransfer
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StatePowerOff:
		return "PowerOff"
	case StateIdle:
		return "Idle"
	case StateReadyCheck:
		return "ReadyCheck"
	case StateIdentification:
		return "Identification"
	case StateStandBy:
		return "StandBy"
	case StateTransfer:
		return "Transfer"
	case StateFaulted:
		return "Faulted"
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// OCR bits
const (
	ocrVoltageWindow = 0x00FF8000
	ocrS18           = 1 << 24
	ocrXPC           = 1 << 28
	ocrCCS           = 1 << 30 //HCS in the argument
	ocrBusy          = 1 << 31 //set when power up is done
	ocrMMCSector     = 2 << 29
	ocrIOMemPresent  = 1 << 27

	ifCondCheck   = 0xAA
	ifCondVoltage = 0x1
)

// Session walks one card from power on to the transfer state and gates
// block I/O on having got there.
type Session struct {
	host  *Host
	state State
	err   error
	card  *Card
	noUHS bool
}

func NewSession(h *Host) *Session {
	return &Session{host: h}
}

func (s *Session) Host() *Host { return s.host }

func (s *Session) State() State { return s.state }

// Card is the card found by the last Init, nil before.
func (s *Session) Card() *Card { return s.card }

// Err is the error that faulted the session.
func (s *Session) Err() error { return s.err }

func (s *Session) fault(err error) error {
	s.state = StateFaulted
	s.err = err
	trust.Errorf("emmc: session faulted: %v", err)
	return err
}

// Init brings the card to the transfer state.  Any earlier session state
// is discarded first.  On failure the session is Faulted with the error.
func (s *Session) Init() error {
	s.reset()
	s.noUHS = false
	err := s.identify()
	if err == errRetryWithoutUHS {
		trust.Warnf("emmc: 1.8V switch failed, power cycling and retrying at 3.3V")
		s.noUHS = true
		s.reset()
		err = s.identify()
	}
	if err != nil {
		return s.fault(err)
	}
	if err := s.negotiate(); err != nil {
		return s.fault(err)
	}
	s.state = StateTransfer
	trust.Infof("emmc: %v", s.card)
	return nil
}

// PowerOff tears the session down.  Init may be called again afterwards.
func (s *Session) PowerOff() {
	if s.state != StatePowerOff {
		s.host.PowerOff()
	}
	s.state = StatePowerOff
	s.card = nil
	s.err = nil
}

func (s *Session) reset() {
	s.PowerOff()
	s.card = nil
	s.err = nil
}

var errRetryWithoutUHS = errors.New("emmc: retry without UHS")

// identify runs everything up to and including card selection.
func (s *Session) identify() error {
	h := s.host
	if err := h.Reset(); err != nil {
		return err
	}
	if err := h.PowerOn(); err != nil {
		return err
	}
	if err := h.waitCard(); err != nil {
		return err
	}
	if err := h.SetClock(identClockHz); err != nil {
		return err
	}
	h.setHostWidth(BusWidth1)
	if err := h.SetTiming(TimingLegacy); err != nil {
		return err
	}
	// at least 74 clocks before the first command
	h.delay.Sleep(1000)

	s.card = &Card{Type: CardUnknown}
	h.attach(s.card)

	if _, err := h.Execute(Command{Index: CmdGoIdle, Resp: RespNone}); err != nil {
		return err
	}
	s.state = StateIdle

	v2, err := s.sendIfCond()
	if err != nil {
		return err
	}
	s.state = StateReadyCheck

	if h.cfg.DetectSDIO {
		if err := s.detectSDIO(); err != nil {
			return err
		}
	}

	sd, err := s.opCond(v2)
	if err != nil {
		return err
	}
	s.state = StateIdentification

	if sd && s.card.OCR&ocrS18 != 0 {
		if err := h.SwitchVoltage(Signal180); err != nil {
			return errRetryWithoutUHS
		}
	}

	if err := s.readIdentity(); err != nil {
		return err
	}
	s.state = StateStandBy

	if _, err := h.Execute(Command{Index: CmdSelectCard, Arg: uint32(s.card.RCA) << 16, Resp: RespR1b}); err != nil {
		return err
	}
	s.card.Selected = true

	if s.card.Type.IsMMC() {
		h.setEMMCMode(true)
		if err := s.readMMCCapabilities(); err != nil {
			return err
		}
	} else {
		h.setEMMCMode(false)
		if err := s.readSDCapabilities(); err != nil {
			return err
		}
	}
	if !s.card.HighCapacity {
		if _, err := h.Execute(Command{Index: CmdSetBlockLen, Arg: BlockSize, Resp: RespR1}); err != nil {
			return err
		}
	}
	return nil
}

// sendIfCond runs CMD8.  No answer means an SD 1.x or MMC card.
func (s *Session) sendIfCond() (bool, error) {
	arg := uint32(ifCondVoltage<<8 | ifCondCheck)
	resp, err := s.host.Execute(Command{Index: CmdSendIfCond, Arg: arg, Resp: RespR7})
	if err == EmmcTimeout {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if resp.Raw[0]&0xFF != ifCondCheck {
		trust.Warnf("emmc: CMD8 echo mismatch: %08x, treating as SD 1.x or MMC", resp.Raw[0])
		return false, nil
	}
	if (resp.Raw[0]>>8)&0xF != ifCondVoltage {
		return false, EmmcUnsupportedCard
	}
	return true, nil
}

// detectSDIO runs CMD5.  A card with I/O functions and no memory is not
// something this driver can use.
func (s *Session) detectSDIO() error {
	resp, err := s.host.Execute(Command{Index: CmdIOSendOpCond, Resp: RespR4})
	if err == EmmcTimeout {
		return nil
	}
	if err != nil {
		return err
	}
	if resp.OCR()&ocrIOMemPresent == 0 {
		s.card.Type = CardSDIO
		trust.Warnf("emmc: SDIO card without memory, %d functions", (resp.OCR()>>28)&0x7)
		return EmmcUnsupportedCard
	}
	return nil
}

// opCond runs the ACMD41 or CMD1 loop until the card finishes powering
// up.  It reports whether the card is SD.
func (s *Session) opCond(v2 bool) (bool, error) {
	h := s.host
	resp, err := h.Execute(Command{Index: AcmdSendOpCond, Resp: RespR3, App: true})
	if err == EmmcTimeout {
		return false, s.mmcOpCond()
	}
	if err != nil {
		return false, err
	}
	if resp.OCR()&ocrVoltageWindow == 0 {
		return true, EmmcUnsupportedCard
	}
	arg := uint32(ocrVoltageWindow) & resp.OCR()
	if v2 {
		arg |= ocrCCS | ocrXPC
		if h.cfg.EnableUHS && !s.noUHS && h.caps.Voltage18 {
			arg |= ocrS18
		}
	}
	for i := 0; i < h.cfg.OpCondRetries; i++ {
		resp, err = h.Execute(Command{Index: AcmdSendOpCond, Arg: arg, Resp: RespR3, App: true})
		if err == EmmcTimeout {
			return true, EmmcNoCard
		}
		if err != nil {
			return true, err
		}
		if resp.OCR()&ocrBusy != 0 {
			s.card.OCR = resp.OCR()
			if !v2 {
				s.card.Type = CardSDSC
			} else if resp.OCR()&ocrCCS != 0 {
				s.card.Type = CardSDHC
				s.card.HighCapacity = true
			} else {
				s.card.Type = CardSDSC
			}
			if arg&ocrS18 == 0 {
				s.card.OCR &^= ocrS18
			}
			return true, nil
		}
		h.delay.Sleep(h.cfg.OpCondIntervalUs)
	}
	trust.Errorf("emmc: card never finished powering up")
	return true, EmmcNoCard
}

func (s *Session) mmcOpCond() error {
	h := s.host
	// the failed CMD55 may have left an SD-only state behind
	if _, err := h.Execute(Command{Index: CmdGoIdle, Resp: RespNone}); err != nil {
		return err
	}
	arg := uint32(ocrVoltageWindow | ocrMMCSector)
	for i := 0; i < h.cfg.OpCondRetries; i++ {
		resp, err := h.Execute(Command{Index: CmdSendOpCond, Arg: arg, Resp: RespR3})
		if err == EmmcTimeout {
			return EmmcNoCard
		}
		if err != nil {
			return err
		}
		if resp.OCR()&ocrVoltageWindow == 0 {
			return EmmcUnsupportedCard
		}
		if resp.OCR()&ocrBusy != 0 {
			s.card.OCR = resp.OCR()
			s.card.Type = CardMMC
			s.card.HighCapacity = resp.OCR()&ocrMMCSector == ocrMMCSector
			return nil
		}
		h.delay.Sleep(h.cfg.OpCondIntervalUs)
	}
	trust.Errorf("emmc: MMC never finished powering up")
	return EmmcNoCard
}

// readIdentity gets CID, RCA and CSD.
func (s *Session) readIdentity() error {
	h := s.host
	resp, err := h.Execute(Command{Index: CmdAllSendCID, Resp: RespR2})
	if err != nil {
		return err
	}
	s.card.CID = resp.Long()

	if s.card.Type.IsSD() {
		resp, err = h.Execute(Command{Index: CmdSendRelativeAddr, Resp: RespR6})
		if err != nil {
			return err
		}
		s.card.RCA = resp.RCA()
	} else {
		const mmcRCA = 1
		if _, err = h.Execute(Command{Index: CmdSendRelativeAddr, Arg: mmcRCA << 16, Resp: RespR1}); err != nil {
			return err
		}
		s.card.RCA = mmcRCA
	}

	resp, err = h.Execute(Command{Index: CmdSendCSD, Arg: uint32(s.card.RCA) << 16, Resp: RespR2})
	if err != nil {
		return err
	}
	s.card.CSD = resp.Long()
	s.card.CapacityBlocks = csdCapacity(s.card.CSD, s.card.Type.IsSD())
	if s.card.Type.IsSD() && csdStructure(s.card.CSD) == 1 && s.card.CapacityBlocks > 64*1024*1024 {
		s.card.Type = CardSDXC
	}
	s.card.Supports18V = s.card.OCR&ocrS18 != 0
	return nil
}

func (s *Session) readMMCCapabilities() error {
	s.card.Widths = []BusWidth{BusWidth1}
	s.card.Modes = MaskOf(TimingLegacy)
	s.card.SpecVersion = mmcSpecVersion(s.card.CSD)
	if s.card.SpecVersion < 4 {
		return nil
	}
	ext, err := s.host.ReadExtCSD()
	if err != nil {
		return err
	}
	s.card.applyExtCSD(ext)
	if s.card.ExtCSDRev >= 5 || s.card.CapacityBlocks > 4*1024*1024 {
		s.card.Type = CardEMMC
	}
	return nil
}

func (s *Session) readSDCapabilities() error {
	scr, err := s.host.readSCR()
	if err != nil {
		return err
	}
	s.card.applySCR(scr)
	s.card.Modes = MaskOf(TimingLegacy)
	if s.card.SpecVersion >= 1 {
		status, err := s.host.sdSwitch(false, sdFnDefault)
		if err != nil {
			return err
		}
		s.card.applySwitchSupport(sdSwitchSupport(status), s.host.voltage == Signal180)
	}
	return nil
}

// ReadBlocks reads whole blocks starting at lba.  It is only legal in the
// transfer state.
func (s *Session) ReadBlocks(lba uint32, buf []byte) error {
	return s.blockIO(DirRead, lba, buf)
}

// WriteBlocks writes whole blocks starting at lba.
func (s *Session) WriteBlocks(lba uint32, buf []byte) error {
	return s.blockIO(DirWrite, lba, buf)
}

func (s *Session) blockIO(dir Direction, lba uint32, buf []byte) error {
	if s.state != StateTransfer {
		return EmmcInvalidArgument
	}
	err := s.host.blockIO(dir, lba, buf)
	if isPowerClass(err) {
		return s.fault(err)
	}
	return err
}

// Capacity is the card size in blocks, zero before identification.
func (s *Session) Capacity() uint64 {
	if s.card == nil {
		return 0
	}
	return s.card.CapacityBlocks
}
