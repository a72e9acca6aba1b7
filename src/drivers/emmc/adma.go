package emmc

import (
	"encoding/binary"
)

// ADMA2 descriptor attribute bits
const (
	AdmaValid   = 1 << 0
	AdmaEnd     = 1 << 1
	AdmaInt     = 1 << 2
	AdmaActNop  = 0 << 4
	AdmaActTran = 2 << 4
	AdmaActLink = 3 << 4
)

// AdmaMaxLength is what one descriptor can move; the 16 bit length field
// encodes it as zero.
const AdmaMaxLength = 64 * 1024

// DWCMSHC cannot let one descriptor cross a 128MiB boundary.
const AdmaBoundary = 128 * 1024 * 1024

// MaxDescriptors is the size of the descriptor arena.
const MaxDescriptors = 64

// descriptorSize is the 32 bit addressing ADMA2 layout: attr, length, address.
const descriptorSize = 8

// maxBlocksPerTransfer keeps every transfer inside the arena even when it
// has to be split at a boundary.
const maxBlocksPerTransfer = (MaxDescriptors / 2) * AdmaMaxLength / BlockSize

type Descriptor struct {
	Attr   uint16
	Length uint16
	Addr   uint32
}

// Bytes is the number of bytes the descriptor moves.
func (d Descriptor) Bytes() int {
	if d.Length == 0 {
		return AdmaMaxLength
	}
	return int(d.Length)
}

// DescriptorChain is a fixed arena of descriptors; only the first Len()
// are meaningful.
type DescriptorChain struct {
	entries [MaxDescriptors]Descriptor
	count   int
}

func (c *DescriptorChain) Len() int {
	return c.count
}

func (c *DescriptorChain) Entries() []Descriptor {
	return c.entries[:c.count]
}

// TotalBytes is the sum of every valid descriptor.
func (c *DescriptorChain) TotalBytes() int {
	total := 0
	for _, d := range c.Entries() {
		total += d.Bytes()
	}
	return total
}

// Build describes size bytes starting at addr.  The chunks never exceed
// AdmaMaxLength nor cross AdmaBoundary; the last one carries END.
func (c *DescriptorChain) Build(addr uint64, size int) error {
	c.count = 0
	if size <= 0 || size%4 != 0 {
		return EmmcInvalidArgument
	}
	if addr&3 != 0 {
		return EmmcAdmaError
	}
	if addr+uint64(size) > 1<<32 {
		return EmmcAdmaError
	}
	for size > 0 {
		n := size
		if n > AdmaMaxLength {
			n = AdmaMaxLength
		}
		if room := AdmaBoundary - int(addr%AdmaBoundary); n > room {
			n = room
		}
		if c.count == MaxDescriptors {
			c.count = 0
			return EmmcBufferOverflow
		}
		c.entries[c.count] = Descriptor{
			Attr:   AdmaValid | AdmaActTran,
			Length: uint16(n), //64KiB wraps to 0
			Addr:   uint32(addr),
		}
		c.count++
		addr += uint64(n)
		size -= n
	}
	c.entries[c.count-1].Attr |= AdmaEnd
	return nil
}

// Encode writes the table in the little-endian layout the controller reads.
func (c *DescriptorChain) Encode(dst []byte) error {
	if len(dst) < c.count*descriptorSize {
		return EmmcBufferOverflow
	}
	for i, d := range c.Entries() {
		b := dst[i*descriptorSize:]
		binary.LittleEndian.PutUint16(b[0:], d.Attr)
		binary.LittleEndian.PutUint16(b[2:], d.Length)
		binary.LittleEndian.PutUint32(b[4:], d.Addr)
	}
	return nil
}

// DecodeDescriptor is the inverse of one entry of Encode.
func DecodeDescriptor(b []byte) Descriptor {
	return Descriptor{
		Attr:   binary.LittleEndian.Uint16(b[0:]),
		Length: binary.LittleEndian.Uint16(b[2:]),
		Addr:   binary.LittleEndian.Uint32(b[4:]),
	}
}

// DescriptorSize is the encoded size of one entry.
func DescriptorSize() int {
	return descriptorSize
}
