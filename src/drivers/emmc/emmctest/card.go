package emmctest

import (
	"encoding/binary"
)

type Kind int

const (
	KindSDSC Kind = iota //SD 1.x, byte addressed, no CMD8
	KindSDHC
	KindSDXC
	KindMMC  //MMC 3.x, no EXT_CSD
	KindEMMC //eMMC 5.1
	KindSDIO //I/O only
)

func (k Kind) sd() bool {
	return k == KindSDSC || k == KindSDHC || k == KindSDXC
}

func (k Kind) mmc() bool {
	return k == KindMMC || k == KindEMMC
}

// card states, as they appear in R1
const (
	stIdle  = 0
	stReady = 1
	stIdent = 2
	stStby  = 3
	stTran  = 4
	stData  = 5
	stRcv   = 6
	stPrg   = 7
)

// R1 bits the card sets
const (
	r1AddressOutOfRange = 1 << 31
	r1IllegalCommand    = 1 << 22
	r1ReadyForData      = 1 << 8
	r1SwitchError       = 1 << 7
	r1AppCmd            = 1 << 5
)

// OCR bits
const (
	ocrWindow    = 0x00FF8000
	ocrS18       = 1 << 24
	ocrIOMem     = 1 << 27
	ocrSector    = 2 << 29
	ocrCCS       = 1 << 30
	ocrBusy      = 1 << 31
	ioFunctions  = 1 << 28
	sectorLimit  = 4 * 1024 * 1024
	sectorSize   = 512
	extCSDSize   = 512
	extBusWidth  = 183
	extStrobe    = 184
	extHSTiming  = 185
	extRev       = 192
	extCardType  = 196
	extSecCount  = 212
	extHS400Mode = 3

	extBusWidthES = 0x80
)

// Card is a simulated SD, MMC or eMMC device.  Storage is sparse: only
// sectors that have been written take memory.
type Card struct {
	Kind   Kind
	Blocks uint64
	RCA    uint16

	Manufacturer uint8
	OEM          uint16
	Name         string
	Revision     uint8
	Serial       uint32
	Year, Month  int

	HS             bool //SD high speed, MMC HS52
	UHS            bool //SD answers S18R and CMD11
	SDR50, SDR104  bool
	HS200, HS400   bool
	EnhancedStrobe bool
	BusyPolls      int //ACMD41/CMD1 polls before power up finishes
	ProgramPolls   int //CMD13 polls that report prg after a write

	RejectHS400  bool   //HS_TIMING=3 sets SWITCH_ERROR
	RejectWidth  bool   //ACMD6 is accepted but the bus stays 1 bit
	RejectSwitch bool   //CMD6 switch mode answers 0xF for every function
	WriteStatus  uint32 //ORed into the first CMD13 after each write

	state    int
	appCmd   bool
	polls    int
	s18      bool
	width    int
	function uint8
	pending  uint32
	wrote    bool
	busy     int
	ext      [extCSDSize]byte
	storage  map[uint64][]byte

	BlocksRead, BlocksWritten int
}

func newCard(kind Kind, blocks uint64) *Card {
	k := &Card{
		Kind:         kind,
		Blocks:       blocks,
		RCA:          0xB368,
		Manufacturer: 0x03,
		OEM:          0x5344,
		Name:         "SIM01",
		Revision:     0x80,
		Serial:       0x12345678,
		Year:         2023,
		Month:        6,
		BusyPolls:    2,
		width:        1,
		storage:      make(map[uint64][]byte),
	}
	return k
}

// NewSDSC is a version 1 card: no CMD8, byte addressing, 1 and 4 bit.
func NewSDSC(blocks uint64) *Card {
	return newCard(KindSDSC, blocks)
}

// NewSDHC is a UHS-I card that can do every SD timing.
func NewSDHC(blocks uint64) *Card {
	k := newCard(KindSDHC, blocks)
	k.HS, k.UHS, k.SDR50, k.SDR104 = true, true, true, true
	return k
}

func NewSDXC(blocks uint64) *Card {
	k := NewSDHC(blocks)
	k.Kind = KindSDXC
	return k
}

// NewMMC is an old MMC without EXT_CSD, stuck at legacy 1 bit.
func NewMMC(blocks uint64) *Card {
	k := newCard(KindMMC, blocks)
	k.Manufacturer, k.OEM, k.Name = 0x15, 0x01, "MMC32M"
	return k
}

// NewEMMC is an eMMC 5.1 part with HS400 and enhanced strobe.
func NewEMMC(blocks uint64) *Card {
	k := newCard(KindEMMC, blocks)
	k.Manufacturer, k.OEM, k.Name = 0x15, 0x01, "8GTF4R"
	k.RCA = 0
	k.HS, k.HS200, k.HS400, k.EnhancedStrobe = true, true, true, true
	k.Year = 2013
	return k
}

// NewSDIO is a WiFi style card with two I/O functions and no memory.
func NewSDIO() *Card {
	return newCard(KindSDIO, 0)
}

// sector returns the storage of lba, creating it if asked.
func (k *Card) sector(lba uint64, create bool) []byte {
	s, ok := k.storage[lba]
	if !ok && create {
		s = make([]byte, sectorSize)
		k.storage[lba] = s
	}
	return s
}

// Sector is a copy of one sector, zeros if never written.
func (k *Card) Sector(lba uint64) []byte {
	out := make([]byte, sectorSize)
	copy(out, k.sector(lba, false))
	return out
}

// SetSector stores one sector directly, bypassing the bus.
func (k *Card) SetSector(lba uint64, data []byte) {
	copy(k.sector(lba, true), data)
}

// Width is the data bus width the card is currently using.
func (k *Card) Width() int {
	return k.width
}

// Signaling18 is true once the card has accepted CMD11.
func (k *Card) Signaling18() bool {
	return k.s18
}

// ExtCSD is the card's current EXT_CSD.
func (k *Card) ExtCSD() []byte {
	out := make([]byte, extCSDSize)
	copy(out, k.ext[:])
	return out
}

func (k *Card) highCapacity() bool {
	switch k.Kind {
	case KindSDHC, KindSDXC, KindEMMC:
		return true
	case KindMMC:
		return k.Blocks > sectorLimit
	}
	return false
}

// powerCycle is what happens when bus power comes on.
func (k *Card) powerCycle() {
	k.state = stIdle
	k.appCmd = false
	k.polls = 0
	k.s18 = false
	k.width = 1
	k.function = 0
	k.pending = 0
	k.wrote = false
	k.busy = 0
	k.ext = [extCSDSize]byte{}
	if k.Kind == KindEMMC {
		k.ext[extRev] = 8
		var ct byte = 0x3
		if k.HS200 {
			ct |= 0x10
		}
		if k.HS400 {
			ct |= 0x40
		}
		k.ext[extCardType] = ct
		if k.EnhancedStrobe {
			k.ext[extStrobe] = 1
		}
		binary.LittleEndian.PutUint32(k.ext[extSecCount:], uint32(k.Blocks))
	}
}

func (k *Card) status() uint32 {
	s := uint32(k.state) << 9
	if k.state == stTran {
		s |= r1ReadyForData
	}
	if k.appCmd {
		s |= r1AppCmd
	}
	s |= k.pending
	k.pending = 0
	return s
}

// request is one command as the controller delivered it.
type request struct {
	index     uint8
	arg       uint32
	data      bool
	blocks    int
	blockSize int
}

// reply is what the card drives back.  A read carries data; a write
// carries commit, which takes the blocks once they have all arrived.
type reply struct {
	timeout       bool
	short         uint32
	long          [4]uint32
	data          []byte
	commit        func([]byte)
	switchVoltage bool
}

var noResponse = reply{timeout: true}

func (k *Card) r1(app bool) reply {
	s := k.status()
	if app {
		s |= r1AppCmd
	}
	return reply{short: s}
}

// command runs one command through the card state machine.
func (k *Card) command(r request) reply {
	app := k.appCmd
	k.appCmd = false
	if app && k.Kind.sd() {
		if rep, ok := k.appCommand(r); ok {
			return rep
		}
	}
	switch r.index {
	case 0:
		k.goIdle()
		return reply{}
	case 1:
		return k.mmcOpCond(r.arg)
	case 2:
		if k.state != stReady {
			return noResponse
		}
		k.state = stIdent
		return reply{long: k.cid()}
	case 3:
		return k.relativeAddr(r.arg)
	case 5:
		if k.Kind != KindSDIO {
			return noResponse
		}
		return reply{short: ocrBusy | 2*ioFunctions | ocrWindow}
	case 6:
		return k.switchCmd(r)
	case 7:
		if uint16(r.arg>>16) != k.RCA || (k.state != stStby && k.state != stTran) {
			return noResponse
		}
		rep := k.r1(false)
		k.state = stTran
		return rep
	case 8:
		return k.cmd8(r)
	case 9:
		if k.state != stStby || uint16(r.arg>>16) != k.RCA {
			return noResponse
		}
		return reply{long: k.csd()}
	case 10:
		if k.state != stStby || uint16(r.arg>>16) != k.RCA {
			return noResponse
		}
		return reply{long: k.cid()}
	case 11:
		if !k.Kind.sd() || !k.UHS || k.s18 {
			return noResponse
		}
		k.s18 = true
		rep := k.r1(false)
		rep.switchVoltage = true
		return rep
	case 12:
		return k.stop()
	case 13:
		if uint16(r.arg>>16) != k.RCA {
			return noResponse
		}
		if k.busy > 0 {
			k.busy--
			return reply{short: stPrg << 9}
		}
		rep := k.r1(false)
		if k.wrote {
			rep.short |= k.WriteStatus
			k.wrote = false
		}
		return rep
	case 16, 23:
		return k.r1(false)
	case 17, 18:
		return k.read(r)
	case 24, 25:
		return k.write(r)
	case 55:
		if !k.Kind.sd() {
			return noResponse
		}
		k.appCmd = true
		return reply{short: k.status()}
	}
	return reply{short: k.status() | r1IllegalCommand}
}

func (k *Card) goIdle() {
	k.state = stIdle
	k.polls = 0
	k.width = 1
	k.function = 0
	if k.Kind == KindEMMC {
		k.ext[extBusWidth] = 0
		k.ext[extHSTiming] = 0
	}
}

func (k *Card) appCommand(r request) (reply, bool) {
	switch r.index {
	case 6:
		if !k.RejectWidth {
			k.width = 1
			if r.arg&3 == 2 {
				k.width = 4
			}
		}
		return k.r1(true), true
	case 13:
		rep := k.r1(true)
		status := make([]byte, 64)
		if k.width == 4 {
			status[0] = 2 << 6
		}
		rep.data = status
		return rep, true
	case 41:
		return k.sdOpCond(r.arg), true
	case 51:
		rep := k.r1(true)
		scr := make([]byte, 8)
		if k.Kind != KindSDSC {
			scr[0] = 2
		}
		scr[1] = 0x5
		rep.data = scr
		return rep, true
	}
	return reply{}, false
}

func (k *Card) sdOpCond(arg uint32) reply {
	if k.state != stIdle && k.state != stReady {
		return noResponse
	}
	if arg&ocrWindow == 0 {
		return reply{short: ocrWindow}
	}
	k.polls++
	if k.polls <= k.BusyPolls {
		return reply{short: ocrWindow}
	}
	ocr := uint32(ocrWindow | ocrBusy)
	if k.Kind != KindSDSC && arg&ocrCCS != 0 {
		ocr |= ocrCCS
		if k.UHS && arg&ocrS18 != 0 {
			ocr |= ocrS18
		}
	}
	k.state = stReady
	return reply{short: ocr}
}

func (k *Card) mmcOpCond(arg uint32) reply {
	if !k.Kind.mmc() || (k.state != stIdle && k.state != stReady) {
		return noResponse
	}
	if arg&ocrWindow == 0 {
		return reply{short: ocrWindow}
	}
	k.polls++
	if k.polls <= k.BusyPolls {
		return reply{short: ocrWindow}
	}
	ocr := uint32(ocrWindow | ocrBusy)
	if k.highCapacity() {
		ocr |= ocrSector
	}
	k.state = stReady
	return reply{short: ocr}
}

func (k *Card) relativeAddr(arg uint32) reply {
	if k.state != stIdent && k.state != stStby {
		return noResponse
	}
	if k.Kind.mmc() {
		rep := k.r1(false)
		k.RCA = uint16(arg >> 16)
		k.state = stStby
		return rep
	}
	s := k.status()
	k.state = stStby
	// R6 carries bits 23, 22, 19 and 12:0 of the status in its low half
	compressed := s&0x1FFF | (s>>8)&(1<<15) | (s>>8)&(1<<14) | (s>>6)&(1<<13)
	return reply{short: uint32(k.RCA)<<16 | compressed}
}

func (k *Card) cmd8(r request) reply {
	switch {
	case k.Kind.sd() && k.Kind != KindSDSC && !r.data:
		if k.state != stIdle {
			return noResponse
		}
		return reply{short: r.arg & 0xFFF}
	case k.Kind == KindEMMC && r.data:
		if k.state != stTran {
			return noResponse
		}
		rep := k.r1(false)
		rep.data = k.ExtCSD()
		return rep
	}
	return noResponse
}

func (k *Card) switchCmd(r request) reply {
	if k.state != stTran {
		return noResponse
	}
	if k.Kind.mmc() {
		access := (r.arg >> 24) & 3
		index := (r.arg >> 16) & 0xFF
		value := byte(r.arg >> 8)
		rep := k.r1(false)
		if access != 3 || k.Kind != KindEMMC {
			k.pending |= r1SwitchError
			return rep
		}
		if k.RejectHS400 && index == extHSTiming && value == extHS400Mode {
			k.pending |= r1SwitchError
			return rep
		}
		k.ext[index] = value
		if index == extBusWidth {
			switch value & 0x3 {
			case 1:
				k.width = 4
			case 2:
				k.width = 8
			default:
				k.width = 1
			}
		}
		return rep
	}
	rep := k.r1(false)
	rep.data = k.switchStatus(r.arg)
	return rep
}

// switchStatus answers an SD CMD6 for function group 1.
func (k *Card) switchStatus(arg uint32) []byte {
	st := make([]byte, 64)
	support := uint16(1)
	if k.HS {
		support |= 1 << 1
	}
	if k.s18 && k.SDR50 {
		support |= 1 << 2
	}
	if k.s18 && k.SDR104 {
		support |= 1 << 3
	}
	binary.BigEndian.PutUint16(st[12:], support)
	fn := uint8(arg & 0xF)
	result := fn
	switch {
	case fn == 0xF:
		result = k.function
	case support&(1<<fn) == 0 || (k.RejectSwitch && arg&(1<<31) != 0):
		result = 0xF
	}
	if arg&(1<<31) != 0 && result != 0xF {
		k.function = result
	}
	st[16] = result & 0xF
	return st
}

func (k *Card) stop() reply {
	rep := k.r1(false)
	if k.state == stData || k.state == stRcv {
		k.state = stTran
	}
	return rep
}

func (k *Card) address(arg uint32) uint64 {
	if k.highCapacity() {
		return uint64(arg)
	}
	return uint64(arg) / sectorSize
}

func (k *Card) read(r request) reply {
	if k.state != stTran || !r.data {
		return noResponse
	}
	lba := k.address(r.arg)
	rep := k.r1(false)
	if lba+uint64(r.blocks) > k.Blocks {
		rep.short |= r1AddressOutOfRange
		return rep
	}
	data := make([]byte, r.blocks*sectorSize)
	for i := 0; i < r.blocks; i++ {
		copy(data[i*sectorSize:], k.sector(lba+uint64(i), false))
	}
	rep.data = data
	k.BlocksRead += r.blocks
	if r.index == 18 {
		k.state = stData
	}
	return rep
}

func (k *Card) write(r request) reply {
	if k.state != stTran || !r.data {
		return noResponse
	}
	lba := k.address(r.arg)
	rep := k.r1(false)
	if lba+uint64(r.blocks) > k.Blocks {
		rep.short |= r1AddressOutOfRange
		return rep
	}
	if r.index == 25 {
		k.state = stRcv
	}
	rep.commit = func(data []byte) {
		for i := 0; i*sectorSize < len(data); i++ {
			k.SetSector(lba+uint64(i), data[i*sectorSize:])
		}
		k.BlocksWritten += len(data) / sectorSize
		k.wrote = true
		k.busy = k.ProgramPolls
	}
	return rep
}

// put128 stores v in width bits starting at bit start of a 128 bit
// register kept most significant word first.
func put128(raw *[4]uint32, start, width int, v uint64) {
	for i := 0; i < width; i++ {
		b := start + i
		w := &raw[3-b/32]
		if v&(1<<uint(i)) != 0 {
			*w |= 1 << (uint(b) % 32)
		} else {
			*w &^= 1 << (uint(b) % 32)
		}
	}
}

func (k *Card) cid() [4]uint32 {
	var raw [4]uint32
	put128(&raw, 120, 8, uint64(k.Manufacturer))
	name := []byte(k.Name)
	if k.Kind.mmc() {
		put128(&raw, 104, 8, uint64(k.OEM))
		for i := 0; i < 6; i++ {
			c := byte(' ')
			if i < len(name) {
				c = name[i]
			}
			put128(&raw, 96-8*i, 8, uint64(c))
		}
		put128(&raw, 48, 8, uint64(k.Revision))
		put128(&raw, 16, 32, uint64(k.Serial))
		put128(&raw, 12, 4, uint64(k.Month))
		put128(&raw, 8, 4, uint64((k.Year-1997)%16))
		return raw
	}
	put128(&raw, 104, 16, uint64(k.OEM))
	for i := 0; i < 5; i++ {
		c := byte(' ')
		if i < len(name) {
			c = name[i]
		}
		put128(&raw, 96-8*i, 8, uint64(c))
	}
	put128(&raw, 56, 8, uint64(k.Revision))
	put128(&raw, 24, 32, uint64(k.Serial))
	put128(&raw, 12, 8, uint64(k.Year-2000))
	put128(&raw, 8, 4, uint64(k.Month))
	return raw
}

func (k *Card) csd() [4]uint32 {
	var raw [4]uint32
	put128(&raw, 80, 4, 9)
	switch {
	case k.Kind == KindSDHC || k.Kind == KindSDXC:
		put128(&raw, 126, 2, 1)
		put128(&raw, 48, 22, k.Blocks/1024-1)
	case k.Kind == KindEMMC:
		put128(&raw, 126, 2, 3)
		put128(&raw, 122, 4, 4)
		put128(&raw, 62, 12, 0xFFF)
		put128(&raw, 47, 3, 7)
	default:
		if k.Kind == KindMMC {
			put128(&raw, 126, 2, 2)
			put128(&raw, 122, 4, 3)
		}
		c := k.Blocks/512 - 1
		if c > 0xFFF {
			c = 0xFFF
		}
		put128(&raw, 62, 12, c)
		put128(&raw, 47, 3, 7)
	}
	return raw
}
