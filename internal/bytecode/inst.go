// Package bytecode decodes, re-assembles and inspects JVM method bodies.
package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrTruncated   = errors.New("bytecode: truncated instruction")
	ErrBadOpcode   = errors.New("bytecode: invalid opcode")
	ErrBadTarget   = errors.New("bytecode: branch target is not an instruction boundary")
	ErrBranchRange = errors.New("bytecode: branch offset out of range")
	ErrCodeSize    = errors.New("bytecode: method body exceeds 65535 bytes")
)

// Inst is one decoded instruction.
//
// PC is the offset the instruction had in the body it was decoded from and
// doubles as its label: branch targets, exception ranges and debug tables
// refer to instructions by that value. Synthesised instructions carry PC -1.
type Inst struct {
	PC     int
	Op     Opcode
	Index  uint16 // constant pool index, or local variable slot
	Value  int32  // bipush/sipush operand, iinc delta, newarray type, dimensions, interface arg count
	Wide   bool   // local-variable form encoded with the wide prefix
	Target int    // branch target (PC label)
	Switch *Switch
}

// Switch holds a tableswitch or lookupswitch operand. For tableswitch, Keys
// is Low..High in order.
type Switch struct {
	Default int
	Keys    []int32
	Targets []int
}

// Synth returns a synthesised instruction with no label.
func Synth(op Opcode) Inst { return Inst{PC: -1, Op: op} }

// SynthIndex returns a synthesised instruction with a constant pool or local index.
func SynthIndex(op Opcode, index uint16) Inst { return Inst{PC: -1, Op: op, Index: index} }

// IsBranch reports whether the instruction has a single PC-relative target.
func (in Inst) IsBranch() bool {
	switch in.Op {
	case Ifeq, Ifne, Iflt, Ifge, Ifgt, Ifle,
		IfIcmpeq, IfIcmpne, IfIcmplt, IfIcmpge, IfIcmpgt, IfIcmple,
		IfAcmpeq, IfAcmpne, Goto, Jsr, Ifnull, Ifnonnull, GotoW, JsrW:
		return true
	}
	return false
}

// IsSwitch reports whether the instruction is a tableswitch or lookupswitch.
func (in Inst) IsSwitch() bool { return in.Op == Tableswitch || in.Op == Lookupswitch }

// IsInvoke reports whether the instruction is a method invocation.
func (in Inst) IsInvoke() bool {
	switch in.Op {
	case Invokevirtual, Invokespecial, Invokestatic, Invokeinterface, Invokedynamic:
		return true
	}
	return false
}

// Decode decodes a complete method body.
func Decode(code []byte) ([]Inst, error) {
	var out []Inst
	for pc := 0; pc < len(code); {
		in, n, err := decodeAt(code, pc)
		if err != nil {
			return nil, fmt.Errorf("at pc %d: %w", pc, err)
		}
		out = append(out, in)
		pc += n
	}
	return out, nil
}

func decodeAt(code []byte, pc int) (Inst, int, error) {
	op := Opcode(code[pc])
	in := Inst{PC: pc, Op: op}
	need := func(n int) error {
		if pc+n > len(code) {
			return ErrTruncated
		}
		return nil
	}
	u1 := func(off int) uint8 { return code[pc+off] }
	u2 := func(off int) uint16 { return binary.BigEndian.Uint16(code[pc+off:]) }
	s4 := func(off int) int32 { return int32(binary.BigEndian.Uint32(code[pc+off:])) }

	switch {
	case !op.Valid():
		return in, 0, fmt.Errorf("%w: 0x%02x", ErrBadOpcode, uint8(op))

	case op == Bipush:
		if err := need(2); err != nil {
			return in, 0, err
		}
		in.Value = int32(int8(u1(1)))
		return in, 2, nil

	case op == Sipush:
		if err := need(3); err != nil {
			return in, 0, err
		}
		in.Value = int32(int16(u2(1)))
		return in, 3, nil

	case op == Ldc:
		if err := need(2); err != nil {
			return in, 0, err
		}
		in.Index = uint16(u1(1))
		return in, 2, nil

	case op == Newarray:
		if err := need(2); err != nil {
			return in, 0, err
		}
		in.Value = int32(u1(1))
		return in, 2, nil

	case isLocalOp(op):
		if err := need(2); err != nil {
			return in, 0, err
		}
		in.Index = uint16(u1(1))
		return in, 2, nil

	case op == Iinc:
		if err := need(3); err != nil {
			return in, 0, err
		}
		in.Index = uint16(u1(1))
		in.Value = int32(int8(u1(2)))
		return in, 3, nil

	case isCPOp(op):
		if err := need(3); err != nil {
			return in, 0, err
		}
		in.Index = u2(1)
		return in, 3, nil

	case op == Invokeinterface:
		if err := need(5); err != nil {
			return in, 0, err
		}
		in.Index = u2(1)
		in.Value = int32(u1(3))
		return in, 5, nil

	case op == Invokedynamic:
		if err := need(5); err != nil {
			return in, 0, err
		}
		in.Index = u2(1)
		return in, 5, nil

	case op == Multianewarray:
		if err := need(4); err != nil {
			return in, 0, err
		}
		in.Index = u2(1)
		in.Value = int32(u1(3))
		return in, 4, nil

	case op == GotoW || op == JsrW:
		if err := need(5); err != nil {
			return in, 0, err
		}
		in.Target = pc + int(s4(1))
		return in, 5, nil

	case in.IsBranch():
		if err := need(3); err != nil {
			return in, 0, err
		}
		in.Target = pc + int(int16(u2(1)))
		return in, 3, nil

	case op == Wide:
		if err := need(2); err != nil {
			return in, 0, err
		}
		inner := Opcode(u1(1))
		in.Op = inner
		in.Wide = true
		switch {
		case inner == Iinc:
			if err := need(6); err != nil {
				return in, 0, err
			}
			in.Index = u2(2)
			in.Value = int32(int16(u2(4)))
			return in, 6, nil
		case isLocalOp(inner):
			if err := need(4); err != nil {
				return in, 0, err
			}
			in.Index = u2(2)
			return in, 4, nil
		}
		return in, 0, fmt.Errorf("%w: wide %s", ErrBadOpcode, inner)

	case op == Tableswitch || op == Lookupswitch:
		base := pc + 1 + padding(pc)
		off := base - pc
		if err := need(off + 8); err != nil {
			return in, 0, err
		}
		sw := &Switch{Default: pc + int(s4(off))}
		if op == Tableswitch {
			if err := need(off + 12); err != nil {
				return in, 0, err
			}
			low, high := s4(off+4), s4(off+8)
			if high < low {
				return in, 0, fmt.Errorf("%w: tableswitch high < low", ErrBadOpcode)
			}
			n := int(int64(high) - int64(low) + 1)
			if err := need(off + 12 + 4*n); err != nil {
				return in, 0, err
			}
			for i := 0; i < n; i++ {
				sw.Keys = append(sw.Keys, low+int32(i))
				sw.Targets = append(sw.Targets, pc+int(s4(off+12+4*i)))
			}
			in.Switch = sw
			return in, off + 12 + 4*n, nil
		}
		npairs := int(s4(off + 4))
		if npairs < 0 {
			return in, 0, fmt.Errorf("%w: lookupswitch npairs < 0", ErrBadOpcode)
		}
		if err := need(off + 8 + 8*npairs); err != nil {
			return in, 0, err
		}
		for i := 0; i < npairs; i++ {
			sw.Keys = append(sw.Keys, s4(off+8+8*i))
			sw.Targets = append(sw.Targets, pc+int(s4(off+12+8*i)))
		}
		in.Switch = sw
		return in, off + 8 + 8*npairs, nil
	}
	return in, 1, nil
}

// padding returns the number of alignment bytes after a switch opcode at pc.
func padding(pc int) int { return (4 - (pc+1)%4) % 4 }

func isLocalOp(op Opcode) bool {
	switch op {
	case Iload, Lload, Fload, Dload, Aload,
		Istore, Lstore, Fstore, Dstore, Astore, Ret:
		return true
	}
	return false
}

func isCPOp(op Opcode) bool {
	switch op {
	case LdcW, Ldc2W, Getstatic, Putstatic, Getfield, Putfield,
		Invokevirtual, Invokespecial, Invokestatic,
		New, Anewarray, Checkcast, Instanceof:
		return true
	}
	return false
}

// size returns the encoded length of in when placed at pc.
func size(in Inst, pc int) int {
	op := in.Op
	switch {
	case op == Ldc:
		if in.Index > 0xff {
			return 3 // promoted to ldc_w
		}
		return 2
	case op == Bipush, op == Newarray:
		return 2
	case op == Sipush:
		return 3
	case isLocalOp(op):
		if needsWide(in) {
			return 4
		}
		return 2
	case op == Iinc:
		if needsWide(in) {
			return 6
		}
		return 3
	case isCPOp(op):
		return 3
	case op == Multianewarray:
		return 4
	case op == Invokeinterface, op == Invokedynamic, op == GotoW, op == JsrW:
		return 5
	case in.IsBranch():
		return 3
	case op == Tableswitch:
		return 1 + padding(pc) + 12 + 4*len(in.Switch.Targets)
	case op == Lookupswitch:
		return 1 + padding(pc) + 8 + 8*len(in.Switch.Targets)
	}
	return 1
}

func needsWide(in Inst) bool {
	if in.Wide || in.Index > 0xff {
		return true
	}
	return in.Op == Iinc && (in.Value < -128 || in.Value > 127)
}

// Layout is the result of assembling an instruction list.
type Layout struct {
	Code   []byte
	PCs    []int       // new pc of each instruction
	labels map[int]int // old pc -> new pc
}

// Map translates a label (an old pc, or the old code length) to its new pc.
func (l *Layout) Map(old int) (int, bool) {
	pc, ok := l.labels[old]
	return pc, ok
}

// Assemble encodes insts. oldLen is the length of the body the labels were
// taken from; it maps to the end of the new body so exclusive range ends
// stay valid.
func Assemble(insts []Inst, oldLen int) (*Layout, error) {
	l := &Layout{PCs: make([]int, len(insts)), labels: make(map[int]int, len(insts)+1)}
	pc := 0
	for i, in := range insts {
		l.PCs[i] = pc
		if in.PC >= 0 {
			if _, dup := l.labels[in.PC]; !dup {
				l.labels[in.PC] = pc
			}
		}
		pc += size(in, pc)
	}
	if pc > 0xffff {
		return nil, fmt.Errorf("%w: %d", ErrCodeSize, pc)
	}
	l.labels[oldLen] = pc

	l.Code = make([]byte, 0, pc)
	for i, in := range insts {
		var err error
		if l.Code, err = l.encode(l.Code, in, l.PCs[i]); err != nil {
			return nil, fmt.Errorf("encode %s at pc %d: %w", in.Op, l.PCs[i], err)
		}
	}
	return l, nil
}

func (l *Layout) rel(label, pc int) (int, error) {
	t, ok := l.labels[label]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrBadTarget, label)
	}
	return t - pc, nil
}

func (l *Layout) encode(b []byte, in Inst, pc int) ([]byte, error) {
	op := in.Op
	be := binary.BigEndian
	switch {
	case op == Ldc:
		if in.Index > 0xff {
			return be.AppendUint16(append(b, byte(LdcW)), in.Index), nil
		}
		return append(b, byte(Ldc), byte(in.Index)), nil
	case op == Bipush, op == Newarray:
		return append(b, byte(op), byte(in.Value)), nil
	case op == Sipush:
		return be.AppendUint16(append(b, byte(op)), uint16(in.Value)), nil
	case isLocalOp(op):
		if needsWide(in) {
			return be.AppendUint16(append(b, byte(Wide), byte(op)), in.Index), nil
		}
		return append(b, byte(op), byte(in.Index)), nil
	case op == Iinc:
		if needsWide(in) {
			b = be.AppendUint16(append(b, byte(Wide), byte(op)), in.Index)
			return be.AppendUint16(b, uint16(in.Value)), nil
		}
		return append(b, byte(op), byte(in.Index), byte(in.Value)), nil
	case isCPOp(op):
		return be.AppendUint16(append(b, byte(op)), in.Index), nil
	case op == Multianewarray:
		return append(be.AppendUint16(append(b, byte(op)), in.Index), byte(in.Value)), nil
	case op == Invokeinterface:
		return append(be.AppendUint16(append(b, byte(op)), in.Index), byte(in.Value), 0), nil
	case op == Invokedynamic:
		return append(be.AppendUint16(append(b, byte(op)), in.Index), 0, 0), nil
	case op == GotoW || op == JsrW:
		d, err := l.rel(in.Target, pc)
		if err != nil {
			return nil, err
		}
		return be.AppendUint32(append(b, byte(op)), uint32(int32(d))), nil
	case in.IsBranch():
		d, err := l.rel(in.Target, pc)
		if err != nil {
			return nil, err
		}
		if d < -32768 || d > 32767 {
			return nil, fmt.Errorf("%w: %d", ErrBranchRange, d)
		}
		return be.AppendUint16(append(b, byte(op)), uint16(int16(d))), nil
	case op == Tableswitch || op == Lookupswitch:
		b = append(b, byte(op))
		for i := 0; i < padding(pc); i++ {
			b = append(b, 0)
		}
		d, err := l.rel(in.Switch.Default, pc)
		if err != nil {
			return nil, err
		}
		b = be.AppendUint32(b, uint32(int32(d)))
		if op == Tableswitch {
			keys := in.Switch.Keys
			b = be.AppendUint32(b, uint32(keys[0]))
			b = be.AppendUint32(b, uint32(keys[len(keys)-1]))
			for _, t := range in.Switch.Targets {
				d, err := l.rel(t, pc)
				if err != nil {
					return nil, err
				}
				b = be.AppendUint32(b, uint32(int32(d)))
			}
			return b, nil
		}
		b = be.AppendUint32(b, uint32(len(in.Switch.Keys)))
		for i, k := range in.Switch.Keys {
			d, err := l.rel(in.Switch.Targets[i], pc)
			if err != nil {
				return nil, err
			}
			b = be.AppendUint32(b, uint32(k))
			b = be.AppendUint32(b, uint32(int32(d)))
		}
		return b, nil
	}
	return append(b, byte(op)), nil
}
