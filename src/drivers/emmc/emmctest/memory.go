package emmctest

import "fmt"

// DefaultMemoryBase is the bus address of the first byte of a Memory.
const DefaultMemoryBase = 0x10000000

// Memory is a DMA-able region the simulated controller can walk.  It is a
// bump allocator that starts over once everything has been released.
type Memory struct {
	Base        uint
	FailReserve bool //every Reserve fails

	data     []byte
	next     uint
	live     map[uint]int
	Reserves int
}

func NewMemory(base uint, size int) *Memory {
	return &Memory{Base: base, data: make([]byte, size), live: make(map[uint]int)}
}

// Reserve hands out size bytes at an address that is a multiple of align.
// A failed reservation is a nil buf.
func (m *Memory) Reserve(size int, align int) (uint, []byte) {
	if m.FailReserve || size <= 0 {
		return 0, nil
	}
	if align <= 0 {
		align = 1
	}
	off := m.next
	if r := (m.Base + off) % uint(align); r != 0 {
		off += uint(align) - r
	}
	if off+uint(size) > uint(len(m.data)) {
		return 0, nil
	}
	m.next = off + uint(size)
	addr := m.Base + off
	m.live[addr] = size
	m.Reserves++
	return addr, m.data[off : off+uint(size) : off+uint(size)]
}

// Release returns a reservation.  Releasing something never reserved
// panics, as the real region does.
func (m *Memory) Release(addr uint) {
	if _, ok := m.live[addr]; !ok {
		panic(fmt.Sprintf("emmctest: release of unreserved %#x", addr))
	}
	delete(m.live, addr)
	if len(m.live) == 0 {
		m.next = 0
	}
}

// Live is the number of outstanding reservations.
func (m *Memory) Live() int {
	return len(m.live)
}

// Slice is the memory behind [addr, addr+n), nil when any of it lies
// outside the region.
func (m *Memory) Slice(addr uint, n int) []byte {
	if addr < m.Base || n < 0 {
		return nil
	}
	off := addr - m.Base
	if off+uint(n) > uint(len(m.data)) {
		return nil
	}
	return m.data[off : off+uint(n)]
}

// Clock is simulated time.  Sleep only moves Now forward, so a test that
// waits out a 100ms timeout takes no time at all.
type Clock struct {
	Now     uint64
	Sleeps  int
	OnSleep func(us uint64)
}

func (c *Clock) Sleep(us uint64) {
	c.Now += us
	c.Sleeps++
	if c.OnSleep != nil {
		c.OnSleep(us)
	}
}
