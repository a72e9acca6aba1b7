package emmc

import (
	"errors"
	"testing"

	"sdmmc/src/lib/trust"
)

// sectorStore is a Loader/Saver pair over a map, counting calls.
type sectorStore struct {
	sectors map[uint32][]byte
	loads   int
	saves   int
	failAt  uint32
	failErr error
}

func newSectorStore() *sectorStore {
	return &sectorStore{sectors: make(map[uint32][]byte), failAt: ^uint32(0)}
}

func (s *sectorStore) load(lba uint32, page []byte) error {
	if lba == s.failAt {
		return s.failErr
	}
	s.loads++
	data, ok := s.sectors[lba]
	if !ok {
		for i := range page {
			page[i] = byte(lba)
		}
		return nil
	}
	copy(page, data)
	return nil
}

func (s *sectorStore) save(lba uint32, page []byte) error {
	s.saves++
	s.sectors[lba] = append([]byte(nil), page...)
	return nil
}

func TestTranquilRejectsBadSetup(t *testing.T) {
	s := newSectorStore()
	if _, err := NewTranquil(64, nil, s.save); err != EmmcInvalidArgument {
		t.Errorf("nil loader: %v", err)
	}
	if _, err := NewTranquil(0, s.load, s.save); err != EmmcInvalidArgument {
		t.Errorf("zero size: %v", err)
	}
	if _, err := NewTranquil(63, s.load, s.save); err == nil {
		t.Errorf("size that is not a multiple of 64 accepted")
	}
}

func TestTranquilHitsAndMisses(t *testing.T) {
	s := newSectorStore()
	c, err := NewTranquil(64, s.load, s.save)
	if err != nil {
		t.Fatal(err)
	}
	p1, err := c.PossiblyLoad(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(p1) != BlockSize || p1[0] != 7 {
		t.Errorf("page %d bytes starting %d", len(p1), p1[0])
	}
	p2, _ := c.PossiblyLoad(7)
	if &p1[0] != &p2[0] || s.loads != 1 {
		t.Errorf("second load of a cached sector went to the store")
	}
	if _, ok := c.Cached(8); ok {
		t.Errorf("sector 8 cached without a load")
	}
	if c.Resident() != 1 || c.cacheHits != 1 || c.cacheMisses != 1 {
		t.Errorf("resident %d hits %d misses %d", c.Resident(), c.cacheHits, c.cacheMisses)
	}
}

func TestTranquilFlushSavesDirtyOnly(t *testing.T) {
	s := newSectorStore()
	c, _ := NewTranquil(64, s.load, s.save)
	for lba := uint32(0); lba < 10; lba++ {
		if _, err := c.PossiblyLoad(lba); err != nil {
			t.Fatal(err)
		}
	}
	page, _ := c.Cached(3)
	page[0] = 0xEE
	c.MarkDirty(3)
	c.MarkDirty(99) // not cached, ignored
	if err := c.Flush(); err != nil {
		t.Fatal(err)
	}
	if s.saves != 1 || s.sectors[3][0] != 0xEE {
		t.Errorf("saves %d", s.saves)
	}
	// clean now, a second flush does nothing
	if err := c.Flush(); err != nil || s.saves != 1 {
		t.Errorf("second flush saved again")
	}
	if _, ok := c.Cached(3); !ok {
		t.Errorf("flush dropped the page")
	}
}

func TestTranquilEvictionWritesBack(t *testing.T) {
	s := newSectorStore()
	c, _ := NewTranquil(64, s.load, s.save)
	for lba := uint32(0); lba < 64; lba++ {
		page, err := c.PossiblyLoad(lba)
		if err != nil {
			t.Fatal(err)
		}
		page[1] = 0xD0
		c.MarkDirty(lba)
	}
	if c.Resident() != 64 {
		t.Fatalf("resident %d", c.Resident())
	}
	if _, err := c.PossiblyLoad(1000); err != nil {
		t.Fatal(err)
	}
	if c.Resident() != 64 || c.cacheOusters != 1 {
		t.Errorf("resident %d ousters %d", c.Resident(), c.cacheOusters)
	}
	if s.saves != 1 {
		t.Fatalf("%d saves for one eviction", s.saves)
	}
	for lba, data := range s.sectors {
		if _, ok := c.Cached(lba); ok {
			t.Errorf("saved sector %d still cached", lba)
		}
		if data[1] != 0xD0 {
			t.Errorf("sector %d saved without the change", lba)
		}
	}
}

func TestTranquilReadOnly(t *testing.T) {
	s := newSectorStore()
	c, _ := NewTranquil(64, s.load, nil)
	c.PossiblyLoad(1)
	c.MarkDirty(1)
	if err := c.Flush(); err != EmmcInvalidArgument {
		t.Errorf("flush of a read only cache: %v", err)
	}
	c.Invalidate(1)
	if err := c.Flush(); err != nil {
		t.Errorf("after invalidate: %v", err)
	}
}

func TestTranquilLoadFailure(t *testing.T) {
	s := newSectorStore()
	s.failAt = 5
	s.failErr = errors.New("boom")
	c, _ := NewTranquil(64, s.load, s.save)
	if _, err := c.PossiblyLoad(5); err != s.failErr {
		t.Errorf("got %v", err)
	}
	if _, ok := c.Cached(5); ok || c.Resident() != 0 {
		t.Errorf("failed load left a page behind")
	}
}

func TestTranquilInvalidateAll(t *testing.T) {
	s := newSectorStore()
	c, _ := NewTranquil(64, s.load, s.save)
	for lba := uint32(0); lba < 5; lba++ {
		c.PossiblyLoad(lba)
		c.MarkDirty(lba)
	}
	c.InvalidateAll()
	if c.Resident() != 0 {
		t.Errorf("resident %d", c.Resident())
	}
	if err := c.Flush(); err != nil || s.saves != 0 {
		t.Errorf("invalidated pages were saved")
	}
}

func TestTranquilStats(t *testing.T) {
	rec := &trust.Recorder{}
	prevSink := trust.SetSink(rec)
	prevLevel := trust.SetLevel(trust.StatsMask)
	defer func() {
		trust.SetSink(prevSink)
		trust.SetLevel(prevLevel)
	}()
	s := newSectorStore()
	c, _ := NewTranquil(64, s.load, s.save)
	c.PossiblyLoad(1)
	c.PossiblyLoad(1)
	c.PossiblyLoad(1)
	c.PossiblyLoad(2)
	c.DumpStats(true)
	if !rec.Contains(trust.StatsMask, "cache hits: 2, cache misses 2, cache hit 50%") {
		t.Errorf("stats line %+v", rec.Lines)
	}
	if c.cacheHits != 0 || c.cacheMisses != 0 {
		t.Errorf("counters not cleared")
	}
}
