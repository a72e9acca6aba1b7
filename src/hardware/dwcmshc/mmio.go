//go:build !tinygo

package dwcmshc

import (
	"sync/atomic"
	"unsafe"
)

// MMIO is the metal Bus: loads and stores at Base+off.  Every width goes
// through the load/store helpers below.  They are never inlined, so each
// register access in a polling loop is a real bus access the compiler
// cannot merge, hoist or drop.  32 bit accesses are atomic as well.
type MMIO struct {
	Base uintptr
}

// Rockchip RK3568/RK3588 eMMC controller.
const RK3568Base = 0xFE310000
const RK3588Base = 0xFE2E0000

func (m MMIO) Read8(off uintptr) uint8 {
	return load8(m.Base + off)
}

func (m MMIO) Read16(off uintptr) uint16 {
	return load16(m.Base + off)
}

func (m MMIO) Read32(off uintptr) uint32 {
	return load32(m.Base + off)
}

func (m MMIO) Write8(off uintptr, v uint8) {
	store8(m.Base+off, v)
}

func (m MMIO) Write16(off uintptr, v uint16) {
	store16(m.Base+off, v)
}

func (m MMIO) Write32(off uintptr, v uint32) {
	store32(m.Base+off, v)
}

//go:noinline
func load8(addr uintptr) uint8 {
	return *(*uint8)(unsafe.Pointer(addr))
}

//go:noinline
func load16(addr uintptr) uint16 {
	return *(*uint16)(unsafe.Pointer(addr))
}

//go:noinline
func load32(addr uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

//go:noinline
func store8(addr uintptr, v uint8) {
	*(*uint8)(unsafe.Pointer(addr)) = v
}

//go:noinline
func store16(addr uintptr, v uint16) {
	*(*uint16)(unsafe.Pointer(addr)) = v
}

//go:noinline
func store32(addr uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), v)
}
