package upbeat

import "testing"

func TestBitSetBasics(t *testing.T) {
	b, err := NewBitSet(128, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, i := range []BitIndex{0, 63, 64, 127} {
		if b.On(i) {
			t.Errorf("bit %d should start clear", i)
		}
		b.Set(i)
		if !b.On(i) {
			t.Errorf("bit %d should be set", i)
		}
	}
	if b.Count() != 4 {
		t.Errorf("expected 4 bits on, got %d", b.Count())
	}
	b.Clear(63)
	if b.On(63) || !b.On(64) {
		t.Errorf("clear touched the wrong bit")
	}
	if i, ok := b.FirstClear(); !ok || i != 1 {
		t.Errorf("expected first clear of 1, got %d %v", i, ok)
	}
	b.ClearAll()
	if b.Count() != 0 {
		t.Errorf("clear all left %d bits", b.Count())
	}
}

func TestBitSetBadSize(t *testing.T) {
	if _, err := NewBitSet(100, nil); err == nil {
		t.Errorf("expected an error for a size that is not a multiple of 64")
	}
	if _, err := NewBitSet(128, make([]uint64, 1)); err == nil {
		t.Errorf("expected an error for short storage")
	}
}

func TestBitSetFull(t *testing.T) {
	storage := []uint64{0xFF, 0xFF}
	b, _ := NewBitSet(64, storage)
	if storage[0] != 0 {
		t.Errorf("provided storage should be cleared")
	}
	for i := BitIndex(0); i < 64; i++ {
		b.Set(i)
	}
	if _, ok := b.FirstClear(); ok {
		t.Errorf("full bitset reported a clear bit")
	}
}
