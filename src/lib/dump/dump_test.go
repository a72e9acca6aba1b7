package dump

import (
	"testing"
	"unsafe"

	"sdmmc/src/lib/trust"
)

type words []uint32

func (w words) Read32(off uintptr) uint32 {
	return w[off/4]
}

func TestLines(t *testing.T) {
	b := []byte{
		0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00,
		0xEF, 0xBE,
	}
	got := Lines(0x1000, b)
	want := []string{
		"00001000: 00000001 00000002 00000003 00000004",
		"00001010: 0000beef",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestRegisterLines(t *testing.T) {
	r := words{0x11111111, 0x22222222, 0x33333333, 0x44444444, 0x55555555}
	got := RegisterLines(r, 20)
	if len(got) != 2 || got[1] != "00000010: 55555555" {
		t.Errorf("unexpected dump %q", got)
	}
}

func TestDumpsLogAtWarn(t *testing.T) {
	rec := &trust.Recorder{}
	prevSink := trust.SetSink(rec)
	prevLevel := trust.SetLevel(trust.WarnMask)
	defer func() {
		trust.SetSink(prevSink)
		trust.SetLevel(prevLevel)
	}()

	buf := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	Region("stack", uintptr(unsafe.Pointer(&buf[0])), len(buf))
	if !rec.Contains(trust.WarnMask, "ddccbbaa") {
		t.Errorf("region dump missing word: %+v", rec.Lines)
	}
	Registers("host", words{0xCAFEF00D}, 4)
	if !rec.Contains(trust.WarnMask, "cafef00d") {
		t.Errorf("register dump missing word: %+v", rec.Lines)
	}
	Region("nothing", 0, 0)
	if !rec.Contains(trust.WarnMask, "empty region") {
		t.Errorf("expected empty region note")
	}
}
