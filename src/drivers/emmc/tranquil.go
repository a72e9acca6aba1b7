package emmc

import (
	"math/rand"

	"sdmmc/src/lib/trust"
	"sdmmc/src/lib/upbeat"
)

const tranquilDebug = false
const failLimit = 3

// Tranquil is a small write-back cache of whole sectors.  Pages are picked
// by random sampling and, when everything is full, a random page is
// evicted; dirty pages are saved before their slot is reused.
type Tranquil struct {
	data         []byte //contiguous pages of BlockSize bytes
	sizeInPages  uint32
	inUse        *upbeat.BitSet
	dirty        *upbeat.BitSet
	loader       Loader
	saver        Saver
	pageMap      map[uint32]bufferEntry
	rnd          *rand.Rand
	cacheHits    uint64
	cacheMisses  uint64
	cacheOusters uint64
}

// Loader fills page with the contents of sector lba.
type Loader func(lba uint32, page []byte) error

// Saver writes page back to sector lba.
type Saver func(lba uint32, page []byte) error

type cacheIndex uint32

type bufferEntry struct {
	page      []byte
	cachePage cacheIndex
}

// NewTranquil makes a cache of sizeInPages sectors, which must be a
// multiple of 64.  A nil saver makes the cache read only.
func NewTranquil(sizeInPages uint32, ld Loader, sv Saver) (*Tranquil, error) {
	if ld == nil || sizeInPages == 0 {
		return nil, EmmcInvalidArgument
	}
	inUse, err := upbeat.NewBitSet(sizeInPages, nil)
	if err != nil {
		return nil, err
	}
	dirty, err := upbeat.NewBitSet(sizeInPages, nil)
	if err != nil {
		return nil, err
	}
	return &Tranquil{
		data:        make([]byte, int(sizeInPages)*BlockSize),
		sizeInPages: sizeInPages,
		inUse:       inUse,
		dirty:       dirty,
		loader:      ld,
		saver:       sv,
		pageMap:     make(map[uint32]bufferEntry),
		rnd:         rand.New(rand.NewSource(int64(sizeInPages))),
	}, nil
}

func (t *Tranquil) Size() uint32 {
	return t.sizeInPages
}

// Resident is the number of sectors currently cached.
func (t *Tranquil) Resident() int {
	return t.inUse.Count()
}

// PossiblyLoad returns the cached page for lba, loading it if needed.  The
// returned slice aliases the cache; it is valid until the next call.
func (t *Tranquil) PossiblyLoad(lba uint32) ([]byte, error) {
	entry, ok := t.pageMap[lba]
	if ok {
		if tranquilDebug {
			trust.Debugf("tranquil.PossiblyLoad: cache hit, sector %d -> index %d", lba, entry.cachePage)
		}
		t.cacheHits++
		return entry.page, nil
	}
	t.cacheMisses++
	if tranquilDebug {
		trust.Debugf("tranquil.PossiblyLoad: cache miss for %d", lba)
	}
	winner, err := t.slot()
	if err != nil {
		return nil, err
	}
	page := t.data[int(winner)*BlockSize : int(winner+1)*BlockSize]
	if err := t.loader(lba, page); err != nil {
		trust.Errorf("tranquil: failed to load sector %d: %v", lba, err)
		return nil, err
	}
	t.pageMap[lba] = bufferEntry{page, winner}
	t.inUse.Set(upbeat.BitIndex(winner))
	return page, nil
}

// Cached returns the page for lba if it is resident.
func (t *Tranquil) Cached(lba uint32) ([]byte, bool) {
	entry, ok := t.pageMap[lba]
	return entry.page, ok
}

// MarkDirty records that the cached page for lba was changed.
func (t *Tranquil) MarkDirty(lba uint32) {
	if entry, ok := t.pageMap[lba]; ok {
		t.dirty.Set(upbeat.BitIndex(entry.cachePage))
	}
}

// slot finds a free page, evicting one if they are all in use.
func (t *Tranquil) slot() (cacheIndex, error) {
	//do a few random samples seeing if we get lucky
	for fails := 0; fails < failLimit; fails++ {
		r := cacheIndex(t.rnd.Intn(int(t.sizeInPages)))
		if !t.inUse.On(upbeat.BitIndex(r)) {
			return r, nil
		}
	}
	if free, ok := t.inUse.FirstClear(); ok {
		return cacheIndex(free), nil
	}
	t.cacheOusters++
	r := cacheIndex(t.rnd.Intn(int(t.sizeInPages)))
	for lba, entry := range t.pageMap {
		if entry.cachePage != r {
			continue
		}
		if err := t.writeBack(lba, entry); err != nil {
			return 0, err
		}
		delete(t.pageMap, lba)
		t.inUse.Clear(upbeat.BitIndex(r))
		return r, nil
	}
	trust.Errorf("tranquil: page %d in use but not mapped", r)
	return 0, EmmcIoError
}

func (t *Tranquil) writeBack(lba uint32, entry bufferEntry) error {
	if !t.dirty.On(upbeat.BitIndex(entry.cachePage)) {
		return nil
	}
	if t.saver == nil {
		return EmmcInvalidArgument
	}
	if err := t.saver(lba, entry.page); err != nil {
		trust.Errorf("tranquil: failed to save sector %d: %v", lba, err)
		return err
	}
	t.dirty.Clear(upbeat.BitIndex(entry.cachePage))
	return nil
}

// Flush saves every dirty page.  Pages stay cached.
func (t *Tranquil) Flush() error {
	for lba, entry := range t.pageMap {
		if err := t.writeBack(lba, entry); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops lba from the cache without saving it.
func (t *Tranquil) Invalidate(lba uint32) {
	entry, ok := t.pageMap[lba]
	if !ok {
		return
	}
	t.inUse.Clear(upbeat.BitIndex(entry.cachePage))
	t.dirty.Clear(upbeat.BitIndex(entry.cachePage))
	delete(t.pageMap, lba)
}

// InvalidateAll empties the cache without saving anything.
func (t *Tranquil) InvalidateAll() {
	t.inUse.ClearAll()
	t.dirty.ClearAll()
	t.pageMap = make(map[uint32]bufferEntry)
}

// DumpStats logs the hit ratio on the stats channel.  Pass true to clear
// the counters as well.
func (t *Tranquil) DumpStats(clear bool) {
	ratio := 0.0
	if total := t.cacheHits + t.cacheMisses; total != 0 {
		ratio = float64(t.cacheHits) / float64(total) * 100.0
	}
	trust.Statsf("pageCache", "cache hits: %d, cache misses %d, cache hit %2.0f%%, ousters %d",
		t.cacheHits, t.cacheMisses, ratio, t.cacheOusters)
	if clear {
		t.cacheHits = 0
		t.cacheMisses = 0
		t.cacheOusters = 0
	}
}
