package emit

import (
	"fmt"
	"slices"

	"classweave/internal/bytecode"
	"classweave/internal/classfile"
)

// frame is the verifier state before one instruction. Two-slot values
// occupy their slot followed by a top slot, in both locals and stack.
type frame struct {
	locals []vtype
	stack  []vtype
}

func (f *frame) clone() *frame {
	return &frame{locals: slices.Clone(f.locals), stack: slices.Clone(f.stack)}
}

func (f *frame) push(t vtype) {
	f.stack = append(f.stack, t)
	if t.wide() {
		f.stack = append(f.stack, top)
	}
}

// pop removes n slots and returns the value type that started at the
// lowest of them. Popping nothing returns top.
func (f *frame) pop(n int) (vtype, error) {
	if len(f.stack) < n {
		return top, ErrStackUnderflow
	}
	if n == 0 {
		return top, nil
	}
	t := f.stack[len(f.stack)-n]
	f.stack = f.stack[:len(f.stack)-n]
	return t, nil
}

func (f *frame) local(i int) vtype {
	if i < 0 || i >= len(f.locals) {
		return top
	}
	return f.locals[i]
}

func (f *frame) setLocal(i int, t vtype) {
	need := i + 1
	if t.wide() {
		need++
	}
	for len(f.locals) < need {
		f.locals = append(f.locals, top)
	}
	if i > 0 && f.locals[i-1].wide() {
		f.locals[i-1] = top
	}
	f.locals[i] = t
	if t.wide() {
		f.locals[i+1] = top
	}
}

// replace rewrites every occurrence of from, after a constructor call
// initialised it.
func (f *frame) replace(from, to vtype) {
	for i, t := range f.locals {
		if t == from {
			f.locals[i] = to
		}
	}
	for i, t := range f.stack {
		if t == from {
			f.stack[i] = to
		}
	}
}

// analyzer computes the frame before every reachable instruction.
type analyzer struct {
	pool     *classfile.Pool
	class    string
	insts    []bytecode.Inst
	index    map[int]int // pc -> instruction index
	handlers []classfile.ExceptionHandler
	merge    func(a, b vtype) (vtype, error)

	in        []*frame
	maxStack  int
	maxLocals int
}

func newAnalyzer(pool *classfile.Pool, class string, insts []bytecode.Inst, handlers []classfile.ExceptionHandler,
	merge func(a, b vtype) (vtype, error)) *analyzer {
	a := &analyzer{
		pool:     pool,
		class:    class,
		insts:    insts,
		index:    make(map[int]int, len(insts)),
		handlers: handlers,
		merge:    merge,
		in:       make([]*frame, len(insts)),
	}
	for i, in := range insts {
		a.index[in.PC] = i
	}
	return a
}

// initialFrame builds the entry state from the method signature.
func initialFrame(class, name, desc string, access uint16, maxLocals int) (*frame, error) {
	mt, err := bytecode.ParseMethodDesc(desc)
	if err != nil {
		return nil, err
	}
	f := &frame{locals: make([]vtype, 0, maxLocals)}
	if access&classfile.AccStatic == 0 {
		if name == "<init>" && class != rootType {
			f.setLocal(0, uninitThis)
		} else {
			f.setLocal(0, object(class))
		}
	}
	for _, arg := range mt.Args {
		f.setLocal(len(f.locals), fromDesc(arg))
	}
	for len(f.locals) < maxLocals {
		f.locals = append(f.locals, top)
	}
	return f, nil
}

func (a *analyzer) run(entry *frame) error {
	if len(a.insts) == 0 {
		return nil
	}
	a.maxLocals = len(entry.locals)
	a.in[0] = entry.clone()
	work := []int{0}
	queued := make([]bool, len(a.insts))
	queued[0] = true

	flow := func(to int, f *frame) error {
		if a.in[to] == nil {
			a.in[to] = f.clone()
		} else {
			merged, changed, err := a.mergeFrames(a.in[to], f)
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
			a.in[to] = merged
		}
		if !queued[to] {
			queued[to] = true
			work = append(work, to)
		}
		return nil
	}

	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		queued[i] = false
		in := a.insts[i]
		f := a.in[i].clone()

		for _, h := range a.handlers {
			if in.PC < int(h.StartPC) || in.PC >= int(h.EndPC) {
				continue
			}
			catch := throwable
			if h.CatchType != 0 {
				name, err := a.pool.ClassName(h.CatchType)
				if err != nil {
					return fmt.Errorf("exception table: %w", err)
				}
				catch = object(name)
			}
			hi, ok := a.index[int(h.HandlerPC)]
			if !ok {
				return fmt.Errorf("%w: handler at %d", bytecode.ErrBadTarget, h.HandlerPC)
			}
			if err := flow(hi, &frame{locals: f.locals, stack: []vtype{catch}}); err != nil {
				return err
			}
		}

		if err := a.execute(in, f); err != nil {
			return fmt.Errorf("pc %d %s: %w", in.PC, in.Op, err)
		}
		a.maxStack = max(a.maxStack, len(a.in[i].stack), len(f.stack))
		a.maxLocals = max(a.maxLocals, len(f.locals))

		for _, t := range bytecode.Targets(in) {
			ti, ok := a.index[t]
			if !ok {
				return fmt.Errorf("%w: %d", bytecode.ErrBadTarget, t)
			}
			if err := flow(ti, f); err != nil {
				return err
			}
		}
		if bytecode.IsTerminator(in.Op) {
			continue
		}
		if i+1 >= len(a.insts) {
			return fmt.Errorf("%w at pc %d", ErrFallOff, in.PC)
		}
		if err := flow(i+1, f); err != nil {
			return err
		}
	}
	return nil
}

func (a *analyzer) mergeFrames(dst, src *frame) (*frame, bool, error) {
	if len(dst.stack) != len(src.stack) {
		return nil, false, fmt.Errorf("%w: %d vs %d", ErrStackHeight, len(dst.stack), len(src.stack))
	}
	out := &frame{
		locals: make([]vtype, max(len(dst.locals), len(src.locals))),
		stack:  make([]vtype, len(dst.stack)),
	}
	changed := len(out.locals) != len(dst.locals)
	for i := range out.locals {
		t, err := a.merge(dst.local(i), src.local(i))
		if err != nil {
			return nil, false, err
		}
		out.locals[i] = t
		changed = changed || t != dst.local(i)
	}
	for i := range out.stack {
		t, err := a.merge(dst.stack[i], src.stack[i])
		if err != nil {
			return nil, false, err
		}
		out.stack[i] = t
		changed = changed || t != dst.stack[i]
	}
	return out, changed, nil
}

// constantType is the type ldc pushes for a pool entry.
func (a *analyzer) constantType(idx uint16) (vtype, error) {
	c, err := a.pool.Entry(idx)
	if err != nil {
		return top, err
	}
	switch c.Tag {
	case classfile.TagInteger:
		return integer, nil
	case classfile.TagFloat:
		return float, nil
	case classfile.TagLong:
		return long, nil
	case classfile.TagDouble:
		return double, nil
	case classfile.TagString:
		return stringType, nil
	case classfile.TagClass:
		return classObject, nil
	case classfile.TagMethodType:
		return object("java/lang/invoke/MethodType"), nil
	case classfile.TagMethodHandle:
		return object("java/lang/invoke/MethodHandle"), nil
	case classfile.TagDynamic:
		_, desc, err := a.pool.DynamicDesc(idx)
		if err != nil {
			return top, err
		}
		return fromDesc(desc), nil
	}
	return top, fmt.Errorf("%w: ldc of tag %d", ErrBadConstant, c.Tag)
}

// allocatedType returns the class created by the new instruction at pc.
func (a *analyzer) allocatedType(pc int) (vtype, error) {
	i, ok := a.index[pc]
	if !ok || a.insts[i].Op != bytecode.New {
		return top, fmt.Errorf("%w: no new at pc %d", ErrBadConstant, pc)
	}
	name, err := a.pool.ClassName(a.insts[i].Index)
	if err != nil {
		return top, err
	}
	return object(name), nil
}

// Opcode groups laid out in the instruction set by type: int, long, float,
// double (and reference, for loads and stores).
var typeOrder = [...]vtype{integer, long, float, double}

func (a *analyzer) execute(in bytecode.Inst, f *frame) error {
	op := in.Op
	pop := func(n int) error {
		_, err := f.pop(n)
		return err
	}

	switch {
	case op == bytecode.Nop:
		return nil
	case op == bytecode.AconstNull:
		f.push(null)
	case op >= bytecode.IconstM1 && op <= bytecode.Iconst5, op == bytecode.Bipush, op == bytecode.Sipush:
		f.push(integer)
	case op == bytecode.Lconst0 || op == bytecode.Lconst1:
		f.push(long)
	case op >= bytecode.Fconst0 && op <= bytecode.Fconst2:
		f.push(float)
	case op == bytecode.Dconst0 || op == bytecode.Dconst1:
		f.push(double)
	case op == bytecode.Ldc, op == bytecode.LdcW, op == bytecode.Ldc2W:
		t, err := a.constantType(in.Index)
		if err != nil {
			return err
		}
		f.push(t)

	case op >= bytecode.Iload && op <= bytecode.Dload:
		f.push(typeOrder[op-bytecode.Iload])
	case op == bytecode.Aload:
		f.push(f.local(int(in.Index)))
	case op >= bytecode.Iload0 && op <= bytecode.Dload3:
		f.push(typeOrder[(op-bytecode.Iload0)/4])
	case op >= bytecode.Aload0 && op <= bytecode.Aload3:
		f.push(f.local(int(op - bytecode.Aload0)))

	case op >= bytecode.Iaload && op <= bytecode.Saload:
		if err := pop(1); err != nil {
			return err
		}
		arr, err := f.pop(1)
		if err != nil {
			return err
		}
		switch op {
		case bytecode.Laload:
			f.push(long)
		case bytecode.Faload:
			f.push(float)
		case bytecode.Daload:
			f.push(double)
		case bytecode.Aaload:
			f.push(elementType(arr))
		default:
			f.push(integer)
		}

	case op >= bytecode.Istore && op <= bytecode.Astore:
		return a.store(f, int(in.Index), op-bytecode.Istore)
	case op >= bytecode.Istore0 && op <= bytecode.Astore3:
		k := op - bytecode.Istore0
		return a.store(f, int(k%4), k/4)

	case op >= bytecode.Iastore && op <= bytecode.Sastore:
		n := 3
		if op == bytecode.Lastore || op == bytecode.Dastore {
			n = 4
		}
		return pop(n)

	case op == bytecode.Pop:
		return pop(1)
	case op == bytecode.Pop2:
		return pop(2)
	case op >= bytecode.Dup && op <= bytecode.Swap:
		return dupSwap(f, op)

	case op >= bytecode.Iadd && op <= bytecode.Drem:
		t := typeOrder[(op-bytecode.Iadd)%4]
		if err := pop(2 * slots(t)); err != nil {
			return err
		}
		f.push(t)
	case op >= bytecode.Ineg && op <= bytecode.Dneg:
		t := typeOrder[op-bytecode.Ineg]
		if err := pop(slots(t)); err != nil {
			return err
		}
		f.push(t)
	case op >= bytecode.Ishl && op <= bytecode.Lxor:
		t := typeOrder[(op-bytecode.Ishl)%2]
		n := 2 * slots(t)
		if op <= bytecode.Lushr {
			n = slots(t) + 1 // shift distance is always an int
		}
		if err := pop(n); err != nil {
			return err
		}
		f.push(t)
	case op == bytecode.Iinc:
		f.setLocal(int(in.Index), integer)

	case op >= bytecode.I2l && op <= bytecode.I2s:
		from, to := conversion(op)
		if err := pop(slots(from)); err != nil {
			return err
		}
		f.push(to)
	case op == bytecode.Lcmp:
		if err := pop(4); err != nil {
			return err
		}
		f.push(integer)
	case op == bytecode.Fcmpl || op == bytecode.Fcmpg:
		if err := pop(2); err != nil {
			return err
		}
		f.push(integer)
	case op == bytecode.Dcmpl || op == bytecode.Dcmpg:
		if err := pop(4); err != nil {
			return err
		}
		f.push(integer)

	case op >= bytecode.Ifeq && op <= bytecode.Ifle, op == bytecode.Ifnull, op == bytecode.Ifnonnull:
		return pop(1)
	case op >= bytecode.IfIcmpeq && op <= bytecode.IfAcmpne:
		return pop(2)
	case op == bytecode.Goto, op == bytecode.GotoW:
		return nil
	case op == bytecode.Jsr, op == bytecode.JsrW, op == bytecode.Ret:
		return ErrSubroutine
	case op == bytecode.Tableswitch, op == bytecode.Lookupswitch:
		return pop(1)
	case op == bytecode.Ireturn, op == bytecode.Freturn, op == bytecode.Areturn, op == bytecode.Athrow:
		return pop(1)
	case op == bytecode.Lreturn, op == bytecode.Dreturn:
		return pop(2)
	case op == bytecode.Return:
		return nil

	case op >= bytecode.Getstatic && op <= bytecode.Putfield:
		return a.field(in, f)
	case in.IsInvoke():
		return a.invoke(in, f)

	case op == bytecode.New:
		f.push(uninit(in.PC))
	case op == bytecode.Newarray:
		if err := pop(1); err != nil {
			return err
		}
		f.push(primitiveArray(in.Value))
	case op == bytecode.Anewarray:
		if err := pop(1); err != nil {
			return err
		}
		name, err := a.pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		f.push(arrayOf(bytecode.ObjectDesc(name)))
	case op == bytecode.Arraylength, op == bytecode.Instanceof:
		if err := pop(1); err != nil {
			return err
		}
		f.push(integer)
	case op == bytecode.Checkcast:
		if err := pop(1); err != nil {
			return err
		}
		name, err := a.pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		f.push(object(name))
	case op == bytecode.Monitorenter, op == bytecode.Monitorexit:
		return pop(1)
	case op == bytecode.Multianewarray:
		if err := pop(int(in.Value)); err != nil {
			return err
		}
		name, err := a.pool.ClassName(in.Index)
		if err != nil {
			return err
		}
		f.push(object(name))
	default:
		return fmt.Errorf("%w: %s", bytecode.ErrBadOpcode, op)
	}
	return nil
}

func slots(t vtype) int {
	if t.wide() {
		return 2
	}
	return 1
}

// store pops a value of the given group (0 int, 1 long, 2 float, 3 double,
// 4 reference) into local i.
func (a *analyzer) store(f *frame, i int, group bytecode.Opcode) error {
	if group == 4 {
		t, err := f.pop(1)
		if err != nil {
			return err
		}
		f.setLocal(i, t)
		return nil
	}
	t := typeOrder[group]
	if _, err := f.pop(slots(t)); err != nil {
		return err
	}
	f.setLocal(i, t)
	return nil
}

func conversion(op bytecode.Opcode) (from, to vtype) {
	switch op {
	case bytecode.I2l:
		return integer, long
	case bytecode.I2f:
		return integer, float
	case bytecode.I2d:
		return integer, double
	case bytecode.L2i:
		return long, integer
	case bytecode.L2f:
		return long, float
	case bytecode.L2d:
		return long, double
	case bytecode.F2i:
		return float, integer
	case bytecode.F2l:
		return float, long
	case bytecode.F2d:
		return float, double
	case bytecode.D2i:
		return double, integer
	case bytecode.D2l:
		return double, long
	case bytecode.D2f:
		return double, float
	}
	return integer, integer // i2b, i2c, i2s
}

// dupSwap applies the stack-shuffling instructions slot by slot.
func dupSwap(f *frame, op bytecode.Opcode) error {
	need := map[bytecode.Opcode]int{
		bytecode.Dup: 1, bytecode.DupX1: 2, bytecode.DupX2: 3,
		bytecode.Dup2: 2, bytecode.Dup2X1: 3, bytecode.Dup2X2: 4,
		bytecode.Swap: 2,
	}[op]
	n := len(f.stack)
	if n < need {
		return ErrStackUnderflow
	}
	s := f.stack
	switch op {
	case bytecode.Dup:
		f.stack = append(s, s[n-1])
	case bytecode.DupX1:
		f.stack = append(s[:n-2:n-2], s[n-1], s[n-2], s[n-1])
	case bytecode.DupX2:
		f.stack = append(s[:n-3:n-3], s[n-1], s[n-3], s[n-2], s[n-1])
	case bytecode.Dup2:
		f.stack = append(s, s[n-2], s[n-1])
	case bytecode.Dup2X1:
		f.stack = append(s[:n-3:n-3], s[n-2], s[n-1], s[n-3], s[n-2], s[n-1])
	case bytecode.Dup2X2:
		f.stack = append(s[:n-4:n-4], s[n-2], s[n-1], s[n-4], s[n-3], s[n-2], s[n-1])
	case bytecode.Swap:
		s[n-1], s[n-2] = s[n-2], s[n-1]
	}
	return nil
}

func (a *analyzer) field(in bytecode.Inst, f *frame) error {
	ref, err := a.pool.Member(in.Index)
	if err != nil {
		return err
	}
	t := fromDesc(ref.Desc)
	switch in.Op {
	case bytecode.Getstatic:
		f.push(t)
	case bytecode.Putstatic:
		_, err = f.pop(slots(t))
	case bytecode.Getfield:
		if _, err = f.pop(1); err == nil {
			f.push(t)
		}
	case bytecode.Putfield:
		if _, err = f.pop(slots(t)); err == nil {
			_, err = f.pop(1)
		}
	}
	return err
}

func (a *analyzer) invoke(in bytecode.Inst, f *frame) error {
	var name, desc string
	if in.Op == bytecode.Invokedynamic {
		n, d, err := a.pool.DynamicDesc(in.Index)
		if err != nil {
			return err
		}
		name, desc = n, d
	} else {
		ref, err := a.pool.Member(in.Index)
		if err != nil {
			return err
		}
		name, desc = ref.Name, ref.Desc
	}
	mt, err := bytecode.ParseMethodDesc(desc)
	if err != nil {
		return err
	}
	if _, err := f.pop(mt.ArgSlots()); err != nil {
		return err
	}
	if in.Op != bytecode.Invokestatic && in.Op != bytecode.Invokedynamic {
		recv, err := f.pop(1)
		if err != nil {
			return err
		}
		if in.Op == bytecode.Invokespecial && name == "<init>" {
			switch recv.Tag {
			case tagUninitializedThis:
				f.replace(recv, object(a.class))
			case tagUninitialized:
				t, err := a.allocatedType(recv.Offset)
				if err != nil {
					return err
				}
				f.replace(recv, t)
			}
		}
	}
	if mt.Ret != "V" {
		f.push(fromDesc(mt.Ret))
	}
	return nil
}
