package dump

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unsafe"

	"sdmmc/src/lib/trust"
)

const wordsPerLine = 4

// WordReader is anything that can be read a 32 bit word at a time, like a
// controller register file.
type WordReader interface {
	Read32(off uintptr) uint32
}

// Lines formats b as little endian words, four to a line, each line
// prefixed with its address.  A trailing partial word is zero padded.
func Lines(base uint64, b []byte) []string {
	var out []string
	var sb strings.Builder
	for off := 0; off < len(b); off += 4 * wordsPerLine {
		sb.Reset()
		fmt.Fprintf(&sb, "%08x:", base+uint64(off))
		for w := 0; w < wordsPerLine && off+4*w < len(b); w++ {
			var word [4]byte
			copy(word[:], b[off+4*w:])
			fmt.Fprintf(&sb, " %08x", binary.LittleEndian.Uint32(word[:]))
		}
		out = append(out, sb.String())
	}
	return out
}

// Bytes logs b at warn level under a title line.
func Bytes(title string, base uint64, b []byte) {
	trust.Warnf("%s (%d bytes)", title, len(b))
	for _, l := range Lines(base, b) {
		trust.Warnf("%s", l)
	}
}

// Region logs size bytes of memory starting at start.  The range must be
// mapped; nothing is checked.
func Region(title string, start uintptr, size int) {
	if size <= 0 {
		trust.Warnf("%s: empty region", title)
		return
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(start)), size)
	Bytes(title, uint64(start), b)
}

// RegisterLines reads size bytes of registers one word at a time.
func RegisterLines(r WordReader, size uintptr) []string {
	b := make([]byte, size&^3)
	for off := uintptr(0); off+4 <= size; off += 4 {
		binary.LittleEndian.PutUint32(b[off:], r.Read32(off))
	}
	return Lines(0, b)
}

// Registers logs a register file at warn level.
func Registers(title string, r WordReader, size uintptr) {
	trust.Warnf("%s registers", title)
	for _, l := range RegisterLines(r, size) {
		trust.Warnf("%s", l)
	}
}
