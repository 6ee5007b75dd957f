package classfile

import (
	"errors"
	"fmt"
)

var ErrNoCode = errors.New("classfile: method has no Code attribute")

// ExceptionHandler is one exception_table row.
type ExceptionHandler struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16 // 0 catches everything
}

// Code is a decoded Code attribute. Nested attributes stay raw.
type Code struct {
	MaxStack   uint16
	MaxLocals  uint16
	Bytecode   []byte
	Handlers   []ExceptionHandler
	Attributes []Attribute
}

// ParseCode decodes the body of a Code attribute.
func ParseCode(data []byte) (*Code, error) {
	r := newReader(data)
	c := &Code{}
	var err error
	if c.MaxStack, err = r.u2(); err != nil {
		return nil, err
	}
	if c.MaxLocals, err = r.u2(); err != nil {
		return nil, err
	}
	n, err := r.u4()
	if err != nil {
		return nil, err
	}
	if n == 0 || n > 0xffff {
		return nil, fmt.Errorf("classfile: code length %d out of range", n)
	}
	if c.Bytecode, err = r.bytes(int(n)); err != nil {
		return nil, err
	}
	hn, err := r.u2()
	if err != nil {
		return nil, err
	}
	c.Handlers = make([]ExceptionHandler, hn)
	for i := range c.Handlers {
		h := &c.Handlers[i]
		for _, p := range []*uint16{&h.StartPC, &h.EndPC, &h.HandlerPC, &h.CatchType} {
			if *p, err = r.u2(); err != nil {
				return nil, err
			}
		}
	}
	if c.Attributes, err = readAttributes(r); err != nil {
		return nil, err
	}
	return c, nil
}

// Encode serialises the attribute body (without name and length).
func (c *Code) Encode() []byte {
	w := &writer{}
	w.u2(c.MaxStack)
	w.u2(c.MaxLocals)
	w.u4(uint32(len(c.Bytecode)))
	w.raw(c.Bytecode)
	w.u2(uint16(len(c.Handlers)))
	for _, h := range c.Handlers {
		w.u2(h.StartPC)
		w.u2(h.EndPC)
		w.u2(h.HandlerPC)
		w.u2(h.CatchType)
	}
	w.u2(uint16(len(c.Attributes)))
	for _, a := range c.Attributes {
		w.attr(a)
	}
	return w.bytes()
}

// Attribute wraps the encoded body into a named Code attribute.
func (c *Code) Attribute(p *Pool) (Attribute, error) {
	n, err := p.AddUtf8(AttrCode)
	if err != nil {
		return Attribute{}, err
	}
	return Attribute{NameIndex: n, Data: c.Encode()}, nil
}

// MethodCode returns the decoded Code attribute of m and its position in
// m.Attributes.
func (cf *ClassFile) MethodCode(m Member) (*Code, int, error) {
	i := cf.FindAttribute(m.Attributes, AttrCode)
	if i < 0 {
		return nil, -1, ErrNoCode
	}
	c, err := ParseCode(m.Attributes[i].Data)
	if err != nil {
		return nil, -1, fmt.Errorf("classfile: code: %w", err)
	}
	return c, i, nil
}

// LineNumber is one LineNumberTable row.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// ParseLineNumbers decodes a LineNumberTable body.
func ParseLineNumbers(data []byte) ([]LineNumber, error) {
	r := newReader(data)
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]LineNumber, n)
	for i := range out {
		if out[i].StartPC, err = r.u2(); err != nil {
			return nil, err
		}
		if out[i].Line, err = r.u2(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncodeLineNumbers encodes a LineNumberTable body.
func EncodeLineNumbers(rows []LineNumber) []byte {
	w := &writer{}
	w.u2(uint16(len(rows)))
	for _, r := range rows {
		w.u2(r.StartPC)
		w.u2(r.Line)
	}
	return w.bytes()
}

// LocalVar is one LocalVariableTable or LocalVariableTypeTable row; the
// descriptor slot holds a signature in the latter.
type LocalVar struct {
	StartPC   uint16
	Length    uint16
	NameIndex uint16
	DescIndex uint16
	Slot      uint16
}

// ParseLocalVars decodes a LocalVariableTable or LocalVariableTypeTable body.
func ParseLocalVars(data []byte) ([]LocalVar, error) {
	r := newReader(data)
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]LocalVar, n)
	for i := range out {
		v := &out[i]
		for _, p := range []*uint16{&v.StartPC, &v.Length, &v.NameIndex, &v.DescIndex, &v.Slot} {
			if *p, err = r.u2(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// EncodeLocalVars encodes a LocalVariableTable or LocalVariableTypeTable body.
func EncodeLocalVars(rows []LocalVar) []byte {
	w := &writer{}
	w.u2(uint16(len(rows)))
	for _, v := range rows {
		w.u2(v.StartPC)
		w.u2(v.Length)
		w.u2(v.NameIndex)
		w.u2(v.DescIndex)
		w.u2(v.Slot)
	}
	return w.bytes()
}
