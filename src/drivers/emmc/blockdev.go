package emmc

import (
	"errors"
	"io"
)

// BlockIO is the whole-block interface a Session offers.
type BlockIO interface {
	ReadBlocks(lba uint32, buf []byte) error
	WriteBlocks(lba uint32, buf []byte) error
	Capacity() uint64
}

var errNegativeOffset = errors.New("emmc: negative offset")

// BlockDevice turns whole-block I/O into io.ReaderAt and io.WriterAt.
// Sectors touched only in part go through a Tranquil cache; whole sectors
// go straight to the card.  Writes to partial sectors are held in the
// cache until Flush or eviction.
type BlockDevice struct {
	dev   BlockIO
	cache *Tranquil
}

var _ io.ReaderAt = (*BlockDevice)(nil)
var _ io.WriterAt = (*BlockDevice)(nil)

// NewBlockDevice wraps dev with a cache of cachePages sectors (a multiple
// of 64).
func NewBlockDevice(dev BlockIO, cachePages uint32) (*BlockDevice, error) {
	d := &BlockDevice{dev: dev}
	cache, err := NewTranquil(cachePages, d.load, d.save)
	if err != nil {
		return nil, err
	}
	d.cache = cache
	return d, nil
}

func (d *BlockDevice) load(lba uint32, page []byte) error {
	return d.dev.ReadBlocks(lba, page)
}

func (d *BlockDevice) save(lba uint32, page []byte) error {
	return d.dev.WriteBlocks(lba, page)
}

// Size is the device size in bytes.
func (d *BlockDevice) Size() int64 {
	return int64(d.dev.Capacity()) * BlockSize
}

// Cache exposes the sector cache, mostly for its statistics.
func (d *BlockDevice) Cache() *Tranquil {
	return d.cache
}

// span clips [off, off+n) to the device and reports whether it was cut.
func (d *BlockDevice) span(off int64, n int) (int, bool, error) {
	if off < 0 {
		return 0, false, errNegativeOffset
	}
	size := d.Size()
	if off >= size {
		return 0, true, nil
	}
	if rest := size - off; int64(n) > rest {
		return int(rest), true, nil
	}
	return n, false, nil
}

func (d *BlockDevice) ReadAt(p []byte, off int64) (int, error) {
	n, short, err := d.span(off, len(p))
	if err != nil {
		return 0, err
	}
	done := 0
	for done < n {
		pos := off + int64(done)
		lba := uint32(pos / BlockSize)
		within := int(pos % BlockSize)
		if within == 0 && n-done >= BlockSize {
			run := d.directRun(lba, (n-done)/BlockSize)
			if run > 0 {
				if err := d.dev.ReadBlocks(lba, p[done:done+run*BlockSize]); err != nil {
					return done, err
				}
				done += run * BlockSize
				continue
			}
		}
		page, err := d.cache.PossiblyLoad(lba)
		if err != nil {
			return done, err
		}
		done += copy(p[done:n], page[within:])
	}
	if short {
		return done, io.EOF
	}
	return done, nil
}

func (d *BlockDevice) WriteAt(p []byte, off int64) (int, error) {
	n, short, err := d.span(off, len(p))
	if err != nil {
		return 0, err
	}
	done := 0
	for done < n {
		pos := off + int64(done)
		lba := uint32(pos / BlockSize)
		within := int(pos % BlockSize)
		if within == 0 && n-done >= BlockSize {
			run := (n - done) / BlockSize
			for i := 0; i < run; i++ {
				d.cache.Invalidate(lba + uint32(i))
			}
			if err := d.dev.WriteBlocks(lba, p[done:done+run*BlockSize]); err != nil {
				return done, err
			}
			done += run * BlockSize
			continue
		}
		page, err := d.cache.PossiblyLoad(lba)
		if err != nil {
			return done, err
		}
		done += copy(page[within:], p[done:n])
		d.cache.MarkDirty(lba)
	}
	if short {
		return done, io.ErrShortWrite
	}
	return done, nil
}

// directRun is how many of the next max sectors from lba can be read
// without going through the cache, stopping at the first cached one.
func (d *BlockDevice) directRun(lba uint32, max int) int {
	for i := 0; i < max; i++ {
		if _, ok := d.cache.Cached(lba + uint32(i)); ok {
			return i
		}
	}
	return max
}

// Flush writes back every sector changed through a partial write.
func (d *BlockDevice) Flush() error {
	return d.cache.Flush()
}
