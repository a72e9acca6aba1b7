package upbeat

import (
	"fmt"
)

type BitSet struct {
	size uint32
	data []uint64
}

type BitIndex uint32

//bitsets have to be multiples of 64.  if storage is nil, the bitset
//allocates its own; otherwise storage must hold at least size/64 words
//and is cleared.
func NewBitSet(size uint32, storage []uint64) (*BitSet, error) {
	mask := ^(uint32(0x3f))
	if size&mask != size {
		return nil, fmt.Errorf("bitset size is not a multiple of 64: %d", size)
	}
	words := int(size >> 6)
	if storage == nil {
		storage = make([]uint64, words)
	}
	if len(storage) < words {
		return nil, fmt.Errorf("bitset storage too small: %d words for %d bits", len(storage), size)
	}
	result := &BitSet{
		data: storage[:words],
		size: size,
	}
	result.ClearAll()
	return result, nil
}

func (b *BitSet) Size() uint32 {
	return b.size
}

func (b *BitSet) On(bit BitIndex) bool {
	mask := uint64(1) << (bit % 64) //which bit in the right uint64
	return b.data[bit>>6]&mask != 0
}

func (b *BitSet) Set(bit BitIndex) {
	b.data[bit>>6] |= uint64(1) << (bit % 64)
}

func (b *BitSet) Clear(bit BitIndex) {
	b.data[bit>>6] &^= uint64(1) << (bit % 64)
}

func (b *BitSet) ClearAll() {
	for i := range b.data {
		b.data[i] = 0
	}
}

// FirstClear returns the lowest bit that is off, or false if every bit is on.
func (b *BitSet) FirstClear() (BitIndex, bool) {
	for i, w := range b.data {
		if w == ^uint64(0) {
			continue
		}
		for j := 0; j < 64; j++ {
			if w&(uint64(1)<<j) == 0 {
				return BitIndex(i*64 + j), true
			}
		}
	}
	return 0, false
}

// Count is the number of bits that are on.
func (b *BitSet) Count() int {
	n := 0
	for _, w := range b.data {
		for w != 0 {
			w &= w - 1
			n++
		}
	}
	return n
}
