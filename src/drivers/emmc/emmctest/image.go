package emmctest

import (
	"io"

	"sdmmc/src/lib/ihex"
)

// image lets an Intel hex file land on card storage.  Addresses in the
// file are byte offsets on the card.
type image struct {
	card  *Card
	base  uint64
	entry uint32
}

var _ ihex.ByteBuster = (*image)(nil)

func (i *image) Write(addr uint64, value uint8) bool {
	lba := addr / sectorSize
	if lba >= i.card.Blocks {
		return false
	}
	i.card.sector(lba, true)[addr%sectorSize] = value
	return true
}

func (i *image) SetBaseAddr(addr uint32)   { i.base = uint64(addr) }
func (i *image) BaseAddress() uint64       { return i.base }
func (i *image) SetEntryPoint(addr uint32) { i.entry = addr }

// LoadHex writes an Intel hex image onto the card.  Bytes outside the
// card make the load fail.
func (k *Card) LoadHex(r io.Reader) error {
	return ihex.Load(r, &image{card: k})
}

// SaveHex writes count sectors starting at lba as Intel hex, with
// addresses as card byte offsets.
func (k *Card) SaveHex(w io.Writer, lba uint64, count int) error {
	data := make([]byte, 0, count*sectorSize)
	for i := 0; i < count; i++ {
		data = append(data, k.Sector(lba+uint64(i))...)
	}
	return ihex.Encode(w, uint32(lba*sectorSize), data, 32)
}
