// Package classfile reads and writes JVM class binaries.
//
// Only the structure needed for method-body rewriting is modelled: the
// constant pool is fully decoded, members and attributes are kept as raw
// bytes and re-emitted verbatim unless a caller replaces them.
package classfile

import (
	"fmt"
)

// Access flags used by the rewriter.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccSuper     = 0x0020
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccNative    = 0x0100
)

// Well-known attribute names.
const (
	AttrCode                   = "Code"
	AttrStackMapTable          = "StackMapTable"
	AttrLineNumberTable        = "LineNumberTable"
	AttrLocalVariableTable     = "LocalVariableTable"
	AttrLocalVariableTypeTable = "LocalVariableTypeTable"
)

// Attribute is an undecoded attribute.
type Attribute struct {
	NameIndex uint16
	Data      []byte
}

// Member is a field or method.
type Member struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []Attribute
}

// ClassFile is a parsed class binary.
type ClassFile struct {
	Minor       uint16
	Major       uint16
	Pool        *Pool
	AccessFlags uint16
	ThisClass   uint16
	SuperClass  uint16
	Interfaces  []uint16
	Fields      []Member
	Methods     []Member
	Attributes  []Attribute
}

// Parse decodes a complete class binary. The input is not retained.
func Parse(data []byte) (*ClassFile, error) {
	r := newReader(data)
	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, magic)
	}

	cf := &ClassFile{}
	if cf.Minor, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.Major, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.Pool, err = readPool(r); err != nil {
		return nil, fmt.Errorf("classfile: constant pool: %w", err)
	}
	if cf.AccessFlags, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.ThisClass, err = r.u2(); err != nil {
		return nil, err
	}
	if cf.SuperClass, err = r.u2(); err != nil {
		return nil, err
	}
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	cf.Interfaces = make([]uint16, n)
	for i := range cf.Interfaces {
		if cf.Interfaces[i], err = r.u2(); err != nil {
			return nil, err
		}
	}
	if cf.Fields, err = readMembers(r); err != nil {
		return nil, fmt.Errorf("classfile: fields: %w", err)
	}
	if cf.Methods, err = readMembers(r); err != nil {
		return nil, fmt.Errorf("classfile: methods: %w", err)
	}
	if cf.Attributes, err = readAttributes(r); err != nil {
		return nil, fmt.Errorf("classfile: attributes: %w", err)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("classfile: %d trailing bytes", r.remaining())
	}
	return cf, nil
}

func readMembers(r *reader) ([]Member, error) {
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]Member, n)
	for i := range out {
		m := &out[i]
		if m.AccessFlags, err = r.u2(); err != nil {
			return nil, err
		}
		if m.NameIndex, err = r.u2(); err != nil {
			return nil, err
		}
		if m.DescriptorIndex, err = r.u2(); err != nil {
			return nil, err
		}
		if m.Attributes, err = readAttributes(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readAttributes(r *reader) ([]Attribute, error) {
	n, err := r.u2()
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, n)
	for i := range out {
		if out[i].NameIndex, err = r.u2(); err != nil {
			return nil, err
		}
		size, err := r.u4()
		if err != nil {
			return nil, err
		}
		if out[i].Data, err = r.bytes(int(size)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Bytes serialises the class.
func (cf *ClassFile) Bytes() []byte {
	w := &writer{}
	w.u4(Magic)
	w.u2(cf.Minor)
	w.u2(cf.Major)
	cf.Pool.write(w)
	w.u2(cf.AccessFlags)
	w.u2(cf.ThisClass)
	w.u2(cf.SuperClass)
	w.u2(uint16(len(cf.Interfaces)))
	for _, i := range cf.Interfaces {
		w.u2(i)
	}
	for _, members := range [][]Member{cf.Fields, cf.Methods} {
		w.u2(uint16(len(members)))
		for _, m := range members {
			w.u2(m.AccessFlags)
			w.u2(m.NameIndex)
			w.u2(m.DescriptorIndex)
			w.u2(uint16(len(m.Attributes)))
			for _, a := range m.Attributes {
				w.attr(a)
			}
		}
	}
	w.u2(uint16(len(cf.Attributes)))
	for _, a := range cf.Attributes {
		w.attr(a)
	}
	return w.bytes()
}

// Name returns the internal name of the class.
func (cf *ClassFile) Name() (string, error) {
	return cf.Pool.ClassName(cf.ThisClass)
}

// SuperName returns the internal name of the superclass, or "" when the
// class declares none (java/lang/Object, module-info).
func (cf *ClassFile) SuperName() (string, error) {
	if cf.SuperClass == 0 {
		return "", nil
	}
	return cf.Pool.ClassName(cf.SuperClass)
}

// IsInterface reports whether the class is an interface.
func (cf *ClassFile) IsInterface() bool { return cf.AccessFlags&AccInterface != 0 }

// MemberName returns a member's name and descriptor.
func (cf *ClassFile) MemberName(m Member) (name, desc string, err error) {
	if name, err = cf.Pool.Utf8(m.NameIndex); err != nil {
		return "", "", err
	}
	if desc, err = cf.Pool.Utf8(m.DescriptorIndex); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// AttributeName resolves an attribute's name.
func (cf *ClassFile) AttributeName(a Attribute) string {
	s, err := cf.Pool.Utf8(a.NameIndex)
	if err != nil {
		return ""
	}
	return s
}

// FindAttribute returns the index of the first attribute with the given
// name, or -1.
func (cf *ClassFile) FindAttribute(attrs []Attribute, name string) int {
	for i, a := range attrs {
		if cf.AttributeName(a) == name {
			return i
		}
	}
	return -1
}

// New returns an empty class with the given names and format version. It is
// the starting point for building class binaries programmatically.
func New(name, super string, major uint16) (*ClassFile, error) {
	cf := &ClassFile{
		Major:       major,
		Pool:        NewPool(),
		AccessFlags: AccPublic | AccSuper,
	}
	var err error
	if cf.ThisClass, err = cf.Pool.AddClass(name); err != nil {
		return nil, err
	}
	if super != "" {
		if cf.SuperClass, err = cf.Pool.AddClass(super); err != nil {
			return nil, err
		}
	}
	return cf, nil
}

// AddMethod appends a method. A nil code produces an abstract/native style
// method without a Code attribute.
func (cf *ClassFile) AddMethod(access uint16, name, desc string, code *Code) error {
	n, err := cf.Pool.AddUtf8(name)
	if err != nil {
		return err
	}
	d, err := cf.Pool.AddUtf8(desc)
	if err != nil {
		return err
	}
	m := Member{AccessFlags: access, NameIndex: n, DescriptorIndex: d}
	if code != nil {
		attr, err := code.Attribute(cf.Pool)
		if err != nil {
			return err
		}
		m.Attributes = append(m.Attributes, attr)
	}
	cf.Methods = append(cf.Methods, m)
	return nil
}
