package dwcmshc

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Bus is the raw access path to one controller instance.  Offsets are
// relative to the controller base.  The metal implementation is MMIO; tests
// and the monitor tool use a simulated register file.
type Bus interface {
	Read8(off uintptr) uint8
	Read16(off uintptr) uint16
	Read32(off uintptr) uint32
	Write8(off uintptr, v uint8)
	Write16(off uintptr, v uint16)
	Write32(off uintptr, v uint32)
}

// Register is a single register of width T at a fixed offset.
type Register[T constraints.Unsigned] struct {
	bus Bus
	off uintptr
}

func NewRegister[T constraints.Unsigned](bus Bus, off uintptr) Register[T] {
	return Register[T]{bus: bus, off: off}
}

func (r Register[T]) Offset() uintptr {
	return r.off
}

func (r Register[T]) Get() T {
	var v T
	switch unsafe.Sizeof(v) {
	case 1:
		return T(r.bus.Read8(r.off))
	case 2:
		return T(r.bus.Read16(r.off))
	case 4:
		return T(r.bus.Read32(r.off))
	}
	panic("dwcmshc: unsupported register width")
}

func (r Register[T]) Set(v T) {
	switch unsafe.Sizeof(v) {
	case 1:
		r.bus.Write8(r.off, uint8(v))
		return
	case 2:
		r.bus.Write16(r.off, uint16(v))
		return
	case 4:
		r.bus.Write32(r.off, uint32(v))
		return
	}
	panic("dwcmshc: unsupported register width")
}

// SetBits is a read-modify-write that turns on every bit of mask.
func (r Register[T]) SetBits(mask T) {
	r.Set(r.Get() | mask)
}

// ClearBits is a read-modify-write that turns off every bit of mask.
func (r Register[T]) ClearBits(mask T) {
	r.Set(r.Get() &^ mask)
}

// Update replaces the field selected by mask with val (already shifted).
func (r Register[T]) Update(mask T, val T) {
	r.Set((r.Get() &^ mask) | (val & mask))
}

// HasBits is true if all the bits in mask are set.
func (r Register[T]) HasBits(mask T) bool {
	return r.Get()&mask == mask
}

// AnyBits is true if at least one of the bits in mask is set.
func (r Register[T]) AnyBits(mask T) bool {
	return r.Get()&mask != 0
}

// Registers is the map of the controller, same idea as a struct of
// volatile registers laid over the base address, but routed through a Bus
// so the driver can run against a simulation.
type Registers struct {
	bus Bus

	SDMAAddress     Register[uint32]
	BlockSize       Register[uint16]
	BlockCount      Register[uint16]
	Argument        Register[uint32]
	TransferMode    Register[uint16]
	Command         Register[uint16]
	Response        [4]Register[uint32]
	BufferData      Register[uint32]
	PresentState    Register[uint32]
	HostControl1    Register[uint8]
	PowerControl    Register[uint8]
	ClockControl    Register[uint16]
	TimeoutControl  Register[uint8]
	SoftwareReset   Register[uint8]
	IntStatus       Register[uint32]
	IntEnable       Register[uint32]
	IntSignal       Register[uint32]
	AutoCmdStatus   Register[uint16]
	HostControl2    Register[uint16]
	Capabilities    Register[uint32]
	Capabilities1   Register[uint32]
	ADMAErrorStatus Register[uint8]
	ADMAAddressLo   Register[uint32]
	ADMAAddressHi   Register[uint32]
	VendorArea      Register[uint16]
	HostVersion     Register[uint16]

	// vendor area, resolved at New
	EMMCControl Register[uint32]
	MSHCControl Register[uint32]

	DLLControl  Register[uint32]
	DLLRxClock  Register[uint32]
	DLLTxClock  Register[uint32]
	DLLStrobeIn Register[uint32]
	DLLStatus0  Register[uint32]
}

// New builds the register map.  The vendor area pointer is read once; a
// zero value (older IP, or an unpowered simulation) falls back to
// DefaultVendorArea.
func New(bus Bus) *Registers {
	r := &Registers{
		bus:             bus,
		SDMAAddress:     NewRegister[uint32](bus, SDMAAddress),
		BlockSize:       NewRegister[uint16](bus, BlockSize),
		BlockCount:      NewRegister[uint16](bus, BlockCount),
		Argument:        NewRegister[uint32](bus, Argument),
		TransferMode:    NewRegister[uint16](bus, TransferMode),
		Command:         NewRegister[uint16](bus, Command),
		BufferData:      NewRegister[uint32](bus, BufferData),
		PresentState:    NewRegister[uint32](bus, PresentState),
		HostControl1:    NewRegister[uint8](bus, HostControl1),
		PowerControl:    NewRegister[uint8](bus, PowerControl),
		ClockControl:    NewRegister[uint16](bus, ClockControl),
		TimeoutControl:  NewRegister[uint8](bus, TimeoutControl),
		SoftwareReset:   NewRegister[uint8](bus, SoftwareReset),
		IntStatus:       NewRegister[uint32](bus, IntStatus),
		IntEnable:       NewRegister[uint32](bus, IntEnable),
		IntSignal:       NewRegister[uint32](bus, IntSignal),
		AutoCmdStatus:   NewRegister[uint16](bus, AutoCmdStatus),
		HostControl2:    NewRegister[uint16](bus, HostControl2),
		Capabilities:    NewRegister[uint32](bus, Capabilities),
		Capabilities1:   NewRegister[uint32](bus, Capabilities1),
		ADMAErrorStatus: NewRegister[uint8](bus, ADMAErrorStatus),
		ADMAAddressLo:   NewRegister[uint32](bus, ADMAAddressLo),
		ADMAAddressHi:   NewRegister[uint32](bus, ADMAAddressHi),
		VendorArea:      NewRegister[uint16](bus, VendorAreaPointer),
		HostVersion:     NewRegister[uint16](bus, HostVersion),
		DLLControl:      NewRegister[uint32](bus, DLLControl),
		DLLRxClock:      NewRegister[uint32](bus, DLLRxClock),
		DLLTxClock:      NewRegister[uint32](bus, DLLTxClock),
		DLLStrobeIn:     NewRegister[uint32](bus, DLLStrobeIn),
		DLLStatus0:      NewRegister[uint32](bus, DLLStatus0),
	}
	for i := range r.Response {
		r.Response[i] = NewRegister[uint32](bus, uintptr(Response0+4*i))
	}
	vendor := uintptr(r.VendorArea.Get() & 0xFFF)
	if vendor == 0 {
		vendor = DefaultVendorArea
	}
	r.EMMCControl = NewRegister[uint32](bus, vendor+VendorEMMCControl)
	r.MSHCControl = NewRegister[uint32](bus, vendor+VendorMSHCControl)
	return r
}

func (r *Registers) Bus() Bus {
	return r.bus
}

// DatLevel returns the DAT[3:0] line levels sampled by the controller.
func (r *Registers) DatLevel() uint32 {
	return (r.PresentState.Get() & PSDatLevelMask) >> PSDatLevelShift
}

// Spec returns the SDHCI specification number from HostVersion.
func (r *Registers) Spec() int {
	return int(r.HostVersion.Get() & HostSpecMask)
}
