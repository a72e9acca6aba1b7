//go:build tinygo

package dwcmshc

import (
	"runtime/volatile"
	"unsafe"
)

type MMIO struct {
	Base uintptr
}

// Rockchip RK3568/RK3588 eMMC controller.
const RK3568Base = 0xFE310000
const RK3588Base = 0xFE2E0000

func (m MMIO) Read8(off uintptr) uint8 {
	return volatile.LoadUint8((*uint8)(unsafe.Pointer(m.Base + off)))
}

func (m MMIO) Read16(off uintptr) uint16 {
	return volatile.LoadUint16((*uint16)(unsafe.Pointer(m.Base + off)))
}

func (m MMIO) Read32(off uintptr) uint32 {
	return volatile.LoadUint32((*uint32)(unsafe.Pointer(m.Base + off)))
}

func (m MMIO) Write8(off uintptr, v uint8) {
	volatile.StoreUint8((*uint8)(unsafe.Pointer(m.Base+off)), v)
}

func (m MMIO) Write16(off uintptr, v uint16) {
	volatile.StoreUint16((*uint16)(unsafe.Pointer(m.Base+off)), v)
}

func (m MMIO) Write32(off uintptr, v uint32) {
	volatile.StoreUint32((*uint32)(unsafe.Pointer(m.Base+off)), v)
}
