package emit

import (
	"encoding/binary"
	"slices"

	"classweave/internal/classfile"
)

// Frame type ranges of the StackMapTable attribute.
const (
	sameFrameMax          = 63
	sameLocals1StackMax   = 127
	sameLocals1StackExt   = 247
	chopFrameBase         = 251 // chop k = 251 - k
	sameFrameExtended     = 251
	appendFrameBase       = 251 // append k = 251 + k
	fullFrame             = 255
	sameLocals1StackFirst = 64
)

// compact collapses two-slot values to single entries and drops trailing
// top locals, giving the list form frames are encoded in.
func compact(slotList []vtype, trimTop bool) []vtype {
	out := make([]vtype, 0, len(slotList))
	for i := 0; i < len(slotList); i++ {
		t := slotList[i]
		out = append(out, t)
		if t.wide() {
			i++
		}
	}
	if trimTop {
		for len(out) > 0 && out[len(out)-1] == top {
			out = out[:len(out)-1]
		}
	}
	return out
}

// stackMapEntry is one frame to be written, at a new-code offset.
type stackMapEntry struct {
	pc     int
	locals []vtype // compacted
	stack  []vtype // compacted
}

// encodeStackMap writes the StackMapTable body. prev is the compacted
// locals list of the implicit initial frame. Entries must be sorted by pc
// with no duplicates.
func encodeStackMap(pool *classfile.Pool, prev []vtype, entries []stackMapEntry) ([]byte, error) {
	be := binary.BigEndian
	b := be.AppendUint16(nil, uint16(len(entries)))
	last := -1
	for _, e := range entries {
		delta := e.pc - last - 1
		last = e.pc

		var err error
		switch k := len(e.locals) - len(prev); {
		case len(e.stack) == 0 && k == 0 && slices.Equal(e.locals, prev):
			if delta <= sameFrameMax {
				b = append(b, byte(delta))
			} else {
				b = be.AppendUint16(append(b, sameFrameExtended), uint16(delta))
			}
		case len(e.stack) == 1 && k == 0 && slices.Equal(e.locals, prev):
			if delta <= sameLocals1StackMax-sameLocals1StackFirst {
				b = append(b, byte(sameLocals1StackFirst+delta))
			} else {
				b = be.AppendUint16(append(b, sameLocals1StackExt), uint16(delta))
			}
			b, err = appendVType(b, pool, e.stack[0])
		case len(e.stack) == 0 && k < 0 && k >= -3 && slices.Equal(e.locals, prev[:len(e.locals)]):
			b = be.AppendUint16(append(b, byte(chopFrameBase+k)), uint16(delta))
		case len(e.stack) == 0 && k > 0 && k <= 3 && slices.Equal(e.locals[:len(prev)], prev):
			b = be.AppendUint16(append(b, byte(appendFrameBase+k)), uint16(delta))
			for _, t := range e.locals[len(prev):] {
				if b, err = appendVType(b, pool, t); err != nil {
					break
				}
			}
		default:
			b = be.AppendUint16(append(b, fullFrame), uint16(delta))
			if b, err = appendVTypes(b, pool, e.locals); err == nil {
				b, err = appendVTypes(b, pool, e.stack)
			}
		}
		if err != nil {
			return nil, err
		}
		prev = e.locals
	}
	return b, nil
}

func appendVTypes(b []byte, pool *classfile.Pool, ts []vtype) ([]byte, error) {
	b = binary.BigEndian.AppendUint16(b, uint16(len(ts)))
	for _, t := range ts {
		var err error
		if b, err = appendVType(b, pool, t); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func appendVType(b []byte, pool *classfile.Pool, t vtype) ([]byte, error) {
	b = append(b, t.Tag)
	switch t.Tag {
	case tagObject:
		idx, err := pool.AddClass(t.Name)
		if err != nil {
			return nil, err
		}
		b = binary.BigEndian.AppendUint16(b, idx)
	case tagUninitialized:
		b = binary.BigEndian.AppendUint16(b, uint16(t.Offset))
	}
	return b, nil
}
