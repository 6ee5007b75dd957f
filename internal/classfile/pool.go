package classfile

import (
	"errors"
	"fmt"
)

// Tag identifies the kind of a constant pool entry.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagDynamic            Tag = 17
	TagInvokeDynamic      Tag = 18
	TagModule             Tag = 19
	TagPackage            Tag = 20

	// tagUnusable marks index 0 and the slot after a long or double.
	tagUnusable Tag = 0
)

var (
	ErrBadIndex = errors.New("classfile: invalid constant pool index")
	ErrBadTag   = errors.New("classfile: unknown constant pool tag")
	ErrPoolFull = errors.New("classfile: constant pool overflow")
)

// Constant is one constant pool entry. Which fields are meaningful depends on
// Tag: Utf8 carries Text (raw modified UTF-8 bytes); numeric kinds carry Raw;
// reference kinds carry Index1/Index2; MethodHandle also carries Kind.
type Constant struct {
	Tag    Tag
	Text   string
	Raw    []byte
	Index1 uint16
	Index2 uint16
	Kind   uint8
}

type poolKey struct {
	tag  Tag
	text string
	i1   uint16
	i2   uint16
}

// Pool is a class's constant pool. Entries are 1-indexed; appended entries
// are de-duplicated against existing ones so rewriting never bloats a pool
// with copies of references it already holds.
type Pool struct {
	entries []Constant
	index   map[poolKey]uint16
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{entries: []Constant{{Tag: tagUnusable}}}
}

// Len returns the constant_pool_count value (entries + 1).
func (p *Pool) Len() int { return len(p.entries) }

// Entry returns the constant at index i.
func (p *Pool) Entry(i uint16) (Constant, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == tagUnusable {
		return Constant{}, fmt.Errorf("%w: %d", ErrBadIndex, i)
	}
	return p.entries[i], nil
}

func (p *Pool) expect(i uint16, tag Tag) (Constant, error) {
	c, err := p.Entry(i)
	if err != nil {
		return c, err
	}
	if c.Tag != tag {
		return c, fmt.Errorf("%w: %d has tag %d, want %d", ErrBadIndex, i, c.Tag, tag)
	}
	return c, nil
}

// Utf8 returns the text of a Utf8 entry.
func (p *Pool) Utf8(i uint16) (string, error) {
	c, err := p.expect(i, TagUtf8)
	if err != nil {
		return "", err
	}
	return c.Text, nil
}

// ClassName returns the internal name referenced by a Class entry. Array
// classes come back in descriptor form ("[Ljava/lang/String;").
func (p *Pool) ClassName(i uint16) (string, error) {
	c, err := p.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.Index1)
}

// NameAndType resolves a NameAndType entry.
func (p *Pool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.Index1); err != nil {
		return "", "", err
	}
	if desc, err = p.Utf8(c.Index2); err != nil {
		return "", "", err
	}
	return name, desc, nil
}

// MemberRef is a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Tag   Tag
	Owner string
	Name  string
	Desc  string
}

// Member resolves a field or method reference.
func (p *Pool) Member(i uint16) (MemberRef, error) {
	c, err := p.Entry(i)
	if err != nil {
		return MemberRef{}, err
	}
	switch c.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
	default:
		return MemberRef{}, fmt.Errorf("%w: %d is not a member reference", ErrBadIndex, i)
	}
	owner, err := p.ClassName(c.Index1)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := p.NameAndType(c.Index2)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Tag: c.Tag, Owner: owner, Name: name, Desc: desc}, nil
}

// DynamicDesc returns the name and descriptor of an InvokeDynamic or Dynamic entry.
func (p *Pool) DynamicDesc(i uint16) (name, desc string, err error) {
	c, err := p.Entry(i)
	if err != nil {
		return "", "", err
	}
	if c.Tag != TagInvokeDynamic && c.Tag != TagDynamic {
		return "", "", fmt.Errorf("%w: %d is not a dynamic constant", ErrBadIndex, i)
	}
	return p.NameAndType(c.Index2)
}

func keyOf(c Constant) poolKey {
	k := poolKey{tag: c.Tag, i1: c.Index1, i2: c.Index2}
	switch c.Tag {
	case TagUtf8:
		k.text = c.Text
	case TagInteger, TagFloat, TagLong, TagDouble:
		k.text = string(c.Raw)
	case TagMethodHandle:
		k.i2 = uint16(c.Kind)
	}
	return k
}

func (p *Pool) add(c Constant) (uint16, error) {
	k := keyOf(c)
	if i, ok := p.index[k]; ok {
		return i, nil
	}
	width := 1
	if c.Tag == TagLong || c.Tag == TagDouble {
		width = 2
	}
	if len(p.entries)+width > 0xffff {
		return 0, ErrPoolFull
	}
	i := uint16(len(p.entries))
	p.entries = append(p.entries, c)
	if width == 2 {
		p.entries = append(p.entries, Constant{Tag: tagUnusable})
	}
	if p.index == nil {
		p.index = make(map[poolKey]uint16)
	}
	p.index[k] = i
	return i, nil
}

// AddUtf8 returns the index of a Utf8 entry holding s, appending one if needed.
func (p *Pool) AddUtf8(s string) (uint16, error) {
	if len(s) > 0xffff {
		return 0, fmt.Errorf("%w: utf8 entry of %d bytes", ErrPoolFull, len(s))
	}
	return p.add(Constant{Tag: TagUtf8, Text: s})
}

// AddClass returns the index of a Class entry for an internal name.
func (p *Pool) AddClass(name string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagClass, Index1: n})
}

// AddString returns the index of a String entry.
func (p *Pool) AddString(s string) (uint16, error) {
	n, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagString, Index1: n})
}

// AddInteger returns the index of an Integer entry.
func (p *Pool) AddInteger(v int32) (uint16, error) {
	raw := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return p.add(Constant{Tag: TagInteger, Raw: raw})
}

// AddNameAndType returns the index of a NameAndType entry.
func (p *Pool) AddNameAndType(name, desc string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(desc)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagNameAndType, Index1: n, Index2: d})
}

func (p *Pool) addRef(tag Tag, owner, name, desc string) (uint16, error) {
	cls, err := p.AddClass(owner)
	if err != nil {
		return 0, err
	}
	nt, err := p.AddNameAndType(name, desc)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: tag, Index1: cls, Index2: nt})
}

// AddMethodref returns the index of a Methodref entry.
func (p *Pool) AddMethodref(owner, name, desc string) (uint16, error) {
	return p.addRef(TagMethodref, owner, name, desc)
}

// AddInterfaceMethodref returns the index of an InterfaceMethodref entry.
func (p *Pool) AddInterfaceMethodref(owner, name, desc string) (uint16, error) {
	return p.addRef(TagInterfaceMethodref, owner, name, desc)
}

// AddFieldref returns the index of a Fieldref entry.
func (p *Pool) AddFieldref(owner, name, desc string) (uint16, error) {
	return p.addRef(TagFieldref, owner, name, desc)
}

// readPool parses constant_pool_count and the entries that follow.
func readPool(r *reader) (*Pool, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: constant_pool_count is 0", ErrBadIndex)
	}
	p := &Pool{
		entries: make([]Constant, 1, count),
		index:   make(map[poolKey]uint16, count),
	}
	p.entries[0] = Constant{Tag: tagUnusable}
	for i := 1; i < int(count); i++ {
		t, err := r.u1()
		if err != nil {
			return nil, err
		}
		c := Constant{Tag: Tag(t)}
		switch c.Tag {
		case TagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			c.Text = string(b)
		case TagInteger, TagFloat:
			if c.Raw, err = r.bytes(4); err != nil {
				return nil, err
			}
		case TagLong, TagDouble:
			if c.Raw, err = r.bytes(8); err != nil {
				return nil, err
			}
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			if c.Index1, err = r.u2(); err != nil {
				return nil, err
			}
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
			TagDynamic, TagInvokeDynamic:
			if c.Index1, err = r.u2(); err != nil {
				return nil, err
			}
			if c.Index2, err = r.u2(); err != nil {
				return nil, err
			}
		case TagMethodHandle:
			if c.Kind, err = r.u1(); err != nil {
				return nil, err
			}
			if c.Index1, err = r.u2(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: %d at index %d", ErrBadTag, t, i)
		}

		idx := uint16(len(p.entries))
		p.entries = append(p.entries, c)
		if _, dup := p.index[keyOf(c)]; !dup {
			p.index[keyOf(c)] = idx
		}
		if c.Tag == TagLong || c.Tag == TagDouble {
			// 8-byte constants take two slots.
			p.entries = append(p.entries, Constant{Tag: tagUnusable})
			i++
		}
	}
	return p, nil
}

func (p *Pool) write(w *writer) {
	w.u2(uint16(len(p.entries)))
	for _, c := range p.entries[1:] {
		if c.Tag == tagUnusable {
			continue
		}
		w.u1(uint8(c.Tag))
		switch c.Tag {
		case TagUtf8:
			w.u2(uint16(len(c.Text)))
			w.raw([]byte(c.Text))
		case TagInteger, TagFloat, TagLong, TagDouble:
			w.raw(c.Raw)
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u2(c.Index1)
		case TagMethodHandle:
			w.u1(c.Kind)
			w.u2(c.Index1)
		default:
			w.u2(c.Index1)
			w.u2(c.Index2)
		}
	}
}
