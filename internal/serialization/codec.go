package serialization

import (
	"encoding/binary"
	"math"
)

// Serializer appends fixed-width little-endian values to a byte slice.
type Serializer struct {
	buf []byte
}

// NewSerializer returns a serializer with room for capacity bytes.
func NewSerializer(capacity int) *Serializer {
	return &Serializer{buf: make([]byte, 0, capacity)}
}

// AppendInt8 appends one byte.
func (s *Serializer) AppendInt8(v int8) {
	s.buf = append(s.buf, byte(v))
}

// AppendBool appends 1 or 0.
func (s *Serializer) AppendBool(v bool) {
	if v {
		s.buf = append(s.buf, 1)
	} else {
		s.buf = append(s.buf, 0)
	}
}

// AppendInt32 appends 4 bytes.
func (s *Serializer) AppendInt32(v int32) {
	s.buf = binary.LittleEndian.AppendUint32(s.buf, uint32(v))
}

// AppendInt64 appends 8 bytes.
func (s *Serializer) AppendInt64(v int64) {
	s.buf = binary.LittleEndian.AppendUint64(s.buf, uint64(v))
}

// AppendFloat32 appends the IEEE-754 bits of v.
func (s *Serializer) AppendFloat32(v float32) {
	s.buf = binary.LittleEndian.AppendUint32(s.buf, math.Float32bits(v))
}

// AppendPadding appends n zero bytes.
func (s *Serializer) AppendPadding(n int) {
	for range n {
		s.buf = append(s.buf, 0)
	}
}

// Len is the number of bytes written so far.
func (s *Serializer) Len() int { return len(s.buf) }

// Bytes returns the encoded data. The serializer must not be used afterwards.
func (s *Serializer) Bytes() []byte { return s.buf }

// Deserializer reads values written by a Serializer. The first failure is sticky: later
// reads return zero values and Err reports the original error.
type Deserializer struct {
	buf []byte
	off int
	err error
}

// NewDeserializer reads from data.
func NewDeserializer(data []byte) *Deserializer {
	return &Deserializer{buf: data}
}

func (d *Deserializer) take(field string, n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.off < n {
		d.err = &DecodeError{Field: field, Offset: d.off, Err: ErrShortBuffer,
			Details: "need more bytes than remain"}
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Deserializer) fail(field string, offset int, details string) {
	if d.err == nil {
		d.err = &DecodeError{Field: field, Offset: offset, Details: details, Err: ErrInvalidValue}
	}
}

// PopInt8 reads one byte.
func (d *Deserializer) PopInt8(field string) int8 {
	b := d.take(field, 1)
	if b == nil {
		return 0
	}
	return int8(b[0])
}

// PopBool reads a byte that must be 0 or 1.
func (d *Deserializer) PopBool(field string) bool {
	b := d.take(field, 1)
	if b == nil {
		return false
	}
	if b[0] > 1 {
		d.fail(field, d.off-1, "boolean must be 0 or 1")
		return false
	}
	return b[0] == 1
}

// PopInt32 reads 4 bytes.
func (d *Deserializer) PopInt32(field string) int32 {
	b := d.take(field, 4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

// PopInt64 reads 8 bytes.
func (d *Deserializer) PopInt64(field string) int64 {
	b := d.take(field, 8)
	if b == nil {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b))
}

// PopFloat32 reads 4 bytes of IEEE-754 bits.
func (d *Deserializer) PopFloat32(field string) float32 {
	b := d.take(field, 4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// PopPadding reads n bytes that must all be zero.
func (d *Deserializer) PopPadding(field string, n int) {
	start := d.off
	b := d.take(field, n)
	for i, c := range b {
		if c != 0 {
			d.fail(field, start+i, "padding must be zero")
			return
		}
	}
}

// Fail records a semantic error found by the caller while decoding field.
func (d *Deserializer) Fail(field string, details string) {
	d.fail(field, d.off, details)
}

// Err returns the first decoding error.
func (d *Deserializer) Err() error { return d.err }

// Finish returns the first decoding error, or ErrTrailingBytes if input remains.
func (d *Deserializer) Finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return &DecodeError{Offset: d.off, Err: ErrTrailingBytes,
			Details: "input is longer than the encoded record"}
	}
	return nil
}
