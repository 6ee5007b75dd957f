package classfile

import (
	"encoding/binary"
	"errors"
)

var (
	ErrTruncated = errors.New("classfile: unexpected end of data")
	ErrBadMagic  = errors.New("classfile: bad magic")
)

// Magic is the leading four bytes of every class binary.
const Magic = 0xCAFEBABE

// reader walks a class binary. Everything in the format is big-endian.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) u1() (uint8, error) {
	if r.pos >= len(r.data) {
		return 0, ErrTruncated
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) u2() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u4() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, ErrTruncated
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// bytes returns a copy of the next n bytes.
func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// writer accumulates a big-endian encoding.
type writer struct {
	buf []byte
}

func (w *writer) u1(v uint8)    { w.buf = append(w.buf, v) }
func (w *writer) u2(v uint16)   { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u4(v uint32)   { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }
func (w *writer) raw(b []byte)  { w.buf = append(w.buf, b...) }
func (w *writer) bytes() []byte { return w.buf }

func (w *writer) attr(a Attribute) {
	w.u2(a.NameIndex)
	w.u4(uint32(len(a.Data)))
	w.raw(a.Data)
}
