package classfile

import "fmt"

// Header is the prefix of a class binary up to and including super_class.
type Header struct {
	Minor       uint16
	Major       uint16
	AccessFlags uint16
	Name        string
	SuperName   string // "" when the class declares no superclass
}

// ReadHeader decodes only the constant pool and the class header. It stops
// before interfaces, so it is cheap enough to call for every ancestor lookup.
func ReadHeader(data []byte) (*Header, error) {
	r := newReader(data)
	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, magic)
	}
	h := &Header{}
	if h.Minor, err = r.u2(); err != nil {
		return nil, err
	}
	if h.Major, err = r.u2(); err != nil {
		return nil, err
	}
	pool, err := readPool(r)
	if err != nil {
		return nil, fmt.Errorf("classfile: constant pool: %w", err)
	}
	if h.AccessFlags, err = r.u2(); err != nil {
		return nil, err
	}
	this, err := r.u2()
	if err != nil {
		return nil, err
	}
	super, err := r.u2()
	if err != nil {
		return nil, err
	}
	if h.Name, err = pool.ClassName(this); err != nil {
		return nil, err
	}
	if super != 0 {
		if h.SuperName, err = pool.ClassName(super); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Version returns the format version from the fixed-offset header fields
// without touching the constant pool.
//
//	offset: 0  1  2  3  4  5  6  7
//	bytes:  CA FE BA BE mi mi MA MA
func Version(data []byte) (major, minor uint16, err error) {
	r := newReader(data)
	magic, err := r.u4()
	if err != nil {
		return 0, 0, err
	}
	if magic != Magic {
		return 0, 0, fmt.Errorf("%w: 0x%08x", ErrBadMagic, magic)
	}
	if minor, err = r.u2(); err != nil {
		return 0, 0, err
	}
	if major, err = r.u2(); err != nil {
		return 0, 0, err
	}
	return major, minor, nil
}
