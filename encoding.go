package mqtt5

import (
	"encoding/binary"
	"errors"
	"io"
	"unicode/utf8"
)

// Encoding errors.
var (
	ErrStringTooLong      = errors.New("string exceeds 65535 bytes")
	ErrBinaryTooLong      = errors.New("binary data exceeds 65535 bytes")
	ErrInvalidUTF8        = errors.New("invalid UTF-8 string")
	ErrStringContainsNull = errors.New("string contains null character")
	ErrVarintTooLarge     = errors.New("variable byte integer exceeds maximum value")
	ErrVarintMalformed    = errors.New("malformed variable byte integer")
	ErrPacketTruncated    = errors.New("packet truncated")
)

const (
	maxUint16 = 65535
	maxVarint = 268435455
)

// StringPair is a UTF-8 name/value pair, used by the User Property.
type StringPair struct {
	Key   string
	Value string
}

func validateString(s string) error {
	if len(s) > maxUint16 {
		return ErrStringTooLong
	}
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return ErrStringContainsNull
		}
	}
	return nil
}

func putVarint(buf []byte, v uint32) (int, error) {
	if v > maxVarint {
		return 0, ErrVarintTooLarge
	}
	n := 0
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		buf[n] = b
		n++
		if v == 0 {
			return n, nil
		}
	}
}

// readVarint decodes a variable byte integer one byte at a time, for use on
// a stream where the length of the integer is not known up front.
func readVarint(r io.Reader) (uint32, int, error) {
	var (
		value uint32
		shift uint
		one   [1]byte
	)
	for n := 1; n <= 4; n++ {
		if _, err := io.ReadFull(r, one[:]); err != nil {
			return 0, n - 1, err
		}
		value |= uint32(one[0]&0x7F) << shift
		if one[0]&0x80 == 0 {
			return value, n, nil
		}
		shift += 7
	}
	return 0, 4, ErrVarintMalformed
}

func varintSize(v uint32) int {
	switch {
	case v < 1<<7:
		return 1
	case v < 1<<14:
		return 2
	case v < 1<<21:
		return 3
	default:
		return 4
	}
}

// encoder appends MQTT primitive types to a buffer. The first error is
// sticky; later writes are dropped.
type encoder struct {
	buf []byte
	err error
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) uint16(v uint16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, v)
}

func (e *encoder) uint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) varint(v uint32) {
	var tmp [4]byte
	n, err := putVarint(tmp[:], v)
	if err != nil {
		e.fail(err)
		return
	}
	e.buf = append(e.buf, tmp[:n]...)
}

func (e *encoder) string(s string) {
	if err := validateString(s); err != nil {
		e.fail(err)
		return
	}
	e.uint16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) binary(b []byte) {
	if len(b) > maxUint16 {
		e.fail(ErrBinaryTooLong)
		return
	}
	e.uint16(uint16(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) pair(sp StringPair) {
	e.string(sp.Key)
	e.string(sp.Value)
}

func (e *encoder) raw(b []byte) {
	e.buf = append(e.buf, b...)
}

// decoder reads MQTT primitive types from an in-memory packet body. Reading
// past the end sets ErrPacketTruncated; the first error is sticky.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n > d.remaining() {
		d.fail(ErrPacketTruncated)
		d.off = len(d.buf)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) byte() byte {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) uint16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *decoder) varint() uint32 {
	var (
		value uint32
		shift uint
	)
	for i := 0; i < 4; i++ {
		b := d.byte()
		if d.err != nil {
			return 0
		}
		value |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return value
		}
		shift += 7
	}
	d.fail(ErrVarintMalformed)
	return 0
}

func (d *decoder) string() string {
	n := d.uint16()
	b := d.take(int(n))
	if d.err != nil {
		return ""
	}
	s := string(b)
	if err := validateString(s); err != nil {
		d.fail(err)
		return ""
	}
	return s
}

func (d *decoder) binary() []byte {
	n := d.uint16()
	b := d.take(int(n))
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (d *decoder) pair() StringPair {
	k := d.string()
	v := d.string()
	return StringPair{Key: k, Value: v}
}

// rest returns a copy of the unread bytes.
func (d *decoder) rest() []byte {
	b := d.take(d.remaining())
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
