package ihex

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Intel hex records, minus type 3 which is an old x86 segment thing.
type LineType int

const (
	DataLine               LineType = 0
	EndOfFile              LineType = 1
	ExtendedSegmentAddress LineType = 2
	ExtendedLinearAddress  LineType = 4
	StartLinearAddress     LineType = 5
)

func (lt LineType) String() string {
	switch lt {
	case DataLine:
		return "DataLine"
	case EndOfFile:
		return "EndOfFile"
	case ExtendedSegmentAddress:
		return "ExtendedSegmentAddress"
	case ExtendedLinearAddress:
		return "ExtendedLinearAddress"
	case StartLinearAddress:
		return "StartLinearAddress"
	}
	return fmt.Sprintf("LineType(%d)", int(lt))
}

// DecodeError is a malformed line.
type DecodeError struct {
	Line   int
	Reason string
}

func (d *DecodeError) Error() string {
	if d.Line == 0 {
		return "ihex: " + d.Reason
	}
	return fmt.Sprintf("ihex: line %d: %s", d.Line, d.Reason)
}

func decodeErrorf(format string, args ...interface{}) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// ByteBuster is whatever the decoded bytes land in: memory, a card
// image, a test fake.
type ByteBuster interface {
	Write(addr uint64, value uint8) bool
	SetBaseAddr(addr uint32)
	BaseAddress() uint64
	SetEntryPoint(addr uint32)
}

// Record is one decoded line: length, 16 bit offset, type, payload and
// checksum in wire order.
type Record []byte

func (r Record) Length() int     { return int(r[0]) }
func (r Record) Offset() uint16  { return uint16(r[1])<<8 | uint16(r[2]) }
func (r Record) Type() LineType  { return LineType(r[3]) }
func (r Record) Payload() []byte { return r[4 : 4+r.Length()] }

func (r Record) word32() uint32 {
	p := r.Payload()
	return uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[2])<<8 | uint32(p[3])
}

// DecodeLine converts one text line and checks its framing, length and
// checksum.
func DecodeLine(s string) (Record, error) {
	s = strings.TrimRight(s, "\r\n \t")
	if len(s) < 11 {
		return nil, decodeErrorf("line too short (%d chars)", len(s))
	}
	if s[0] != ':' {
		return nil, decodeErrorf("line does not start with ':'")
	}
	converted, err := ConvertBuffer([]byte(s))
	if err != nil {
		return nil, err
	}
	rec := Record(converted)
	if want := 5 + rec.Length(); len(rec) != want {
		return nil, decodeErrorf("expected %d bytes but got %d", want, len(rec))
	}
	if !CheckChecksum(rec) {
		return nil, decodeErrorf("bad checksum (declared %02x)", rec[len(rec)-1])
	}
	switch rec.Type() {
	case DataLine, EndOfFile, ExtendedSegmentAddress, ExtendedLinearAddress, StartLinearAddress:
	default:
		return nil, decodeErrorf("unsupported line type %02x", rec[3])
	}
	return rec, nil
}

// ConvertBuffer turns ":LLAAAATT..." into bytes, skipping the colon.
func ConvertBuffer(raw []byte) ([]byte, error) {
	if (len(raw)-1)%2 == 1 {
		return nil, decodeErrorf("expected even number of hex digits but got %d", len(raw)-1)
	}
	converted := make([]byte, (len(raw)-1)/2)
	for i := 1; i < len(raw); i += 2 {
		hi, ok := nibble(raw[i])
		if !ok {
			return nil, decodeErrorf("bad character %q at %d", raw[i], i)
		}
		lo, ok := nibble(raw[i+1])
		if !ok {
			return nil, decodeErrorf("bad character %q at %d", raw[i+1], i+1)
		}
		converted[(i-1)/2] = hi<<4 | lo
	}
	return converted, nil
}

func nibble(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0xff, false
}

// CheckChecksum is true when all bytes of the record sum to zero.
func CheckChecksum(converted []byte) bool {
	var sum uint8
	for _, b := range converted {
		sum += b
	}
	return sum == 0
}

// ProcessLine applies one record to bb.  It reports whether the record
// was the end of file.
func ProcessLine(rec Record, bb ByteBuster) (bool, error) {
	switch rec.Type() {
	case DataLine:
		base := bb.BaseAddress() + uint64(rec.Offset())
		for i, v := range rec.Payload() {
			if !bb.Write(base+uint64(i), v) {
				return false, decodeErrorf("write refused at %#x", base+uint64(i))
			}
		}
		return false, nil
	case EndOfFile:
		return true, nil
	case ExtendedSegmentAddress:
		if rec.Length() != 2 {
			return false, decodeErrorf("ESA record has %d bytes", rec.Length())
		}
		p := rec.Payload()
		bb.SetBaseAddr((uint32(p[0])<<8 | uint32(p[1])) << 4)
		return false, nil
	case ExtendedLinearAddress:
		if rec.Length() != 2 {
			return false, decodeErrorf("ELA record has %d bytes", rec.Length())
		}
		p := rec.Payload()
		bb.SetBaseAddr((uint32(p[0])<<8 | uint32(p[1])) << 16)
		return false, nil
	case StartLinearAddress:
		if rec.Length() != 4 {
			return false, decodeErrorf("SLA record has %d bytes", rec.Length())
		}
		bb.SetEntryPoint(rec.word32())
		return false, nil
	}
	return false, decodeErrorf("unable to understand line type %v", rec.Type())
}

// Load reads a whole hex file into bb.  Blank lines are skipped; a missing
// end of file record is an error.
func Load(r io.Reader, bb ByteBuster) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		rec, err := DecodeLine(text)
		if err == nil {
			var done bool
			done, err = ProcessLine(rec, bb)
			if err == nil && done {
				return nil
			}
		}
		if err != nil {
			if d, ok := err.(*DecodeError); ok {
				d.Line = line
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return &DecodeError{Line: line, Reason: "no end of file record"}
}

///////////////////////////////////////////////////////////////////////////////////
// ENCODING
///////////////////////////////////////////////////////////////////////////////////

func encode(t LineType, offset uint16, payload []byte) string {
	buf := bytes.Buffer{}
	buf.WriteString(fmt.Sprintf(":%02X%04X%02X", len(payload), offset, int(t)))
	for _, b := range payload {
		buf.WriteString(fmt.Sprintf("%02X", b))
	}
	buf.WriteString(fmt.Sprintf("%02X", createChecksum(payload, offset, t)))
	return buf.String()
}

// EncodeDataBytes makes a data record.  At most 255 bytes fit in one.
func EncodeDataBytes(raw []byte, offset uint16) (string, error) {
	if len(raw) > 255 {
		return "", decodeErrorf("data record can't be more than 0xff bytes (you have %x)", len(raw))
	}
	return encode(DataLine, offset, raw), nil
}

// EncodeELA takes only the most significant 16 bits of the 32 bit base.
func EncodeELA(base uint16) string {
	return encode(ExtendedLinearAddress, 0, []byte{byte(base >> 8), byte(base)})
}

// EncodeESA takes the top 16 bits of a 20 bit base.
func EncodeESA(base uint16) string {
	return encode(ExtendedSegmentAddress, 0, []byte{byte(base >> 8), byte(base)})
}

func EncodeSLA(addr uint32) string {
	return encode(StartLinearAddress, 0, []byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)})
}

func EncodeEOF() string {
	return encode(EndOfFile, 0, nil)
}

// Encode writes data as a hex file starting at base, emitting ELA records
// whenever the upper 16 bits change.
func Encode(w io.Writer, base uint32, data []byte, lineSize int) error {
	if lineSize <= 0 || lineSize > 255 {
		lineSize = 16
	}
	upper := -1
	for off := 0; off < len(data); {
		addr := base + uint32(off)
		if int(addr>>16) != upper {
			upper = int(addr >> 16)
			if _, err := fmt.Fprintln(w, EncodeELA(uint16(upper))); err != nil {
				return err
			}
		}
		n := lineSize
		if rest := len(data) - off; n > rest {
			n = rest
		}
		// a record must not wrap its 16 bit offset
		if room := 0x10000 - int(addr&0xFFFF); n > room {
			n = room
		}
		line, err := EncodeDataBytes(data[off:off+n], uint16(addr))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		off += n
	}
	_, err := fmt.Fprintln(w, EncodeEOF())
	return err
}

// offset only matters to data records; everything else has 0
func createChecksum(raw []byte, offset uint16, lt LineType) uint8 {
	sum := len(raw)
	sum += int(offset & 0xff)
	sum += int(offset>>8) & 0xff
	sum += int(lt)
	for _, v := range raw {
		sum += int(v)
	}
	sum = ^sum
	sum += 1
	return uint8(sum & 0xff)
}
