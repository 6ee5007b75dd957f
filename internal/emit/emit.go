// Package emit reassembles rewritten method bodies into Code attributes.
//
// Branches, switch tables, the exception table and the debug tables are
// relocated to the new layout. Stack map frames and max_stack are
// recomputed by data-flow analysis; wherever two reference types meet, their
// common superclass is read from class binaries through a Supertypes
// resolver instead of loading anything.
package emit

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"classweave/internal/bytecode"
	"classweave/internal/classfile"
	"classweave/internal/hierarchy"
)

var (
	ErrCommonSuperclassNotFound = errors.New("emit: common superclass not found")
	ErrSubroutine               = errors.New("emit: jsr/ret cannot be reassembled")
	ErrStackHeight              = errors.New("emit: inconsistent stack height at merge point")
	ErrStackUnderflow           = errors.New("emit: operand stack underflow")
	ErrFallOff                  = errors.New("emit: execution falls off the end of the code")
	ErrBadConstant              = errors.New("emit: unusable constant")
)

// CommonSuperclassNotFoundError reports two types whose common superclass is
// not visible to the component being rewritten.
type CommonSuperclassNotFoundError struct {
	Type1     string
	Type2     string
	Component string
	Err       error
}

func (e *CommonSuperclassNotFoundError) Error() string {
	return fmt.Sprintf("emit: %s and %s have no common superclass visible to %s", e.Type1, e.Type2, e.Component)
}

func (e *CommonSuperclassNotFoundError) Is(target error) bool {
	return target == ErrCommonSuperclassNotFound
}

func (e *CommonSuperclassNotFoundError) Unwrap() error { return e.Err }

// Supertypes answers common-superclass queries during frame computation.
type Supertypes interface {
	CommonSuperclass(t1, t2 string) (string, error)
}

// Hierarchy resolves common superclasses by walking ancestor chains read
// from Source.
type Hierarchy struct {
	Source hierarchy.Source
}

func (h Hierarchy) CommonSuperclass(t1, t2 string) (string, error) {
	return hierarchy.CommonAncestor(t1, t2, h.Source)
}

// Emitter rebuilds Code attributes for one class.
type Emitter struct {
	Resolver  Supertypes
	Component string // identity reported in CommonSuperclassNotFoundError
}

// EmitCode lays out insts and returns the Code attribute replacing old for
// method m of class cf. Labels in insts are pcs of old; instructions with
// pc -1 are new. New constants (stack map class entries) are added to
// cf.Pool.
func (e *Emitter) EmitCode(cf *classfile.ClassFile, m classfile.Member, old *classfile.Code, insts []bytecode.Inst) (*classfile.Code, error) {
	class, err := cf.Name()
	if err != nil {
		return nil, err
	}
	name, desc, err := cf.MemberName(m)
	if err != nil {
		return nil, err
	}
	for _, in := range insts {
		switch in.Op {
		case bytecode.Jsr, bytecode.JsrW, bytecode.Ret:
			return nil, fmt.Errorf("%s.%s%s: %w", class, name, desc, ErrSubroutine)
		}
	}

	layout, err := bytecode.Assemble(insts, len(old.Bytecode))
	if err != nil {
		return nil, fmt.Errorf("%s.%s%s: %w", class, name, desc, err)
	}
	handlers, err := relocateHandlers(layout, old.Handlers)
	if err != nil {
		return nil, fmt.Errorf("%s.%s%s: %w", class, name, desc, err)
	}

	code := &classfile.Code{
		MaxStack:  old.MaxStack,
		MaxLocals: old.MaxLocals,
		Bytecode:  layout.Code,
		Handlers:  handlers,
	}
	if err := e.computeFrames(cf, class, name, desc, m.AccessFlags, code); err != nil {
		return nil, fmt.Errorf("%s.%s%s: %w", class, name, desc, err)
	}
	attrs, err := relocateAttributes(cf, layout, old.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%s.%s%s: %w", class, name, desc, err)
	}
	code.Attributes = append(attrs, code.Attributes...)
	return code, nil
}

func relocateHandlers(l *bytecode.Layout, hs []classfile.ExceptionHandler) ([]classfile.ExceptionHandler, error) {
	out := make([]classfile.ExceptionHandler, 0, len(hs))
	for _, h := range hs {
		start, ok1 := l.Map(int(h.StartPC))
		end, ok2 := l.Map(int(h.EndPC))
		handler, ok3 := l.Map(int(h.HandlerPC))
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("%w: exception range %d-%d->%d", bytecode.ErrBadTarget, h.StartPC, h.EndPC, h.HandlerPC)
		}
		if start >= end {
			continue
		}
		out = append(out, classfile.ExceptionHandler{
			StartPC:   uint16(start),
			EndPC:     uint16(end),
			HandlerPC: uint16(handler),
			CatchType: h.CatchType,
		})
	}
	return out, nil
}

// relocateAttributes carries the debug tables over to the new layout. The
// old StackMapTable is replaced; other nested attributes may hold offsets
// this package does not understand, so they are dropped.
func relocateAttributes(cf *classfile.ClassFile, l *bytecode.Layout, attrs []classfile.Attribute) ([]classfile.Attribute, error) {
	var out []classfile.Attribute
	for _, a := range attrs {
		switch cf.AttributeName(a) {
		case classfile.AttrLineNumberTable:
			rows, err := classfile.ParseLineNumbers(a.Data)
			if err != nil {
				return nil, fmt.Errorf("line numbers: %w", err)
			}
			kept := rows[:0]
			for _, r := range rows {
				if pc, ok := l.Map(int(r.StartPC)); ok {
					r.StartPC = uint16(pc)
					kept = append(kept, r)
				}
			}
			out = append(out, classfile.Attribute{NameIndex: a.NameIndex, Data: classfile.EncodeLineNumbers(kept)})

		case classfile.AttrLocalVariableTable, classfile.AttrLocalVariableTypeTable:
			rows, err := classfile.ParseLocalVars(a.Data)
			if err != nil {
				return nil, fmt.Errorf("local variables: %w", err)
			}
			kept := rows[:0]
			for _, r := range rows {
				start, ok1 := l.Map(int(r.StartPC))
				end, ok2 := l.Map(int(r.StartPC) + int(r.Length))
				if !ok1 || !ok2 {
					continue
				}
				r.StartPC, r.Length = uint16(start), uint16(end-start)
				kept = append(kept, r)
			}
			out = append(out, classfile.Attribute{NameIndex: a.NameIndex, Data: classfile.EncodeLocalVars(kept)})
		}
	}
	return out, nil
}

// mergeTypes joins two verification types at a control-flow merge.
func (e *Emitter) mergeTypes(a, b vtype) (vtype, error) {
	switch {
	case a == b:
		return a, nil
	case a.Tag == tagNull && b.Tag == tagObject:
		return b, nil
	case a.Tag == tagObject && b.Tag == tagNull:
		return a, nil
	case a.Tag != tagObject || b.Tag != tagObject:
		return top, nil
	}

	if a.isArray() && b.isArray() {
		ea, eb := fromDesc(a.Name[1:]), fromDesc(b.Name[1:])
		if ea.Tag != tagObject || eb.Tag != tagObject {
			return objectType, nil
		}
		m, err := e.mergeTypes(ea, eb)
		if err != nil {
			return top, err
		}
		return arrayOf(bytecodeDesc(m)), nil
	}
	if a.isArray() || b.isArray() {
		return objectType, nil
	}

	resolver := e.Resolver
	if resolver == nil {
		resolver = Hierarchy{Source: hierarchy.SourceFunc(func(string) ([]byte, bool) { return nil, false })}
	}
	name, err := resolver.CommonSuperclass(a.Name, b.Name)
	if err != nil {
		return top, &CommonSuperclassNotFoundError{Type1: a.Name, Type2: b.Name, Component: e.Component, Err: err}
	}
	return object(name), nil
}

func bytecodeDesc(t vtype) string { return bytecode.ObjectDesc(t.Name) }

// computeFrames analyses code.Bytecode, replaces unreachable instructions
// with nop...athrow, trims the exception table around them, and appends a
// StackMapTable to code.Attributes.
func (e *Emitter) computeFrames(cf *classfile.ClassFile, class, name, desc string, access uint16, code *classfile.Code) error {
	insts, err := bytecode.Decode(code.Bytecode)
	if err != nil {
		return err
	}
	entry, err := initialFrame(class, name, desc, access, int(code.MaxLocals))
	if err != nil {
		return err
	}
	a := newAnalyzer(cf.Pool, class, insts, code.Handlers, e.mergeTypes)
	if err := a.run(entry); err != nil {
		return err
	}

	// Frames are needed at jump targets, handler entries, after every
	// unconditional transfer and at both ends of each dead range.
	need := make(map[int]bool)
	for i, in := range insts {
		if a.in[i] == nil {
			continue
		}
		for _, t := range bytecode.Targets(in) {
			need[t] = true
		}
		if bytecode.IsTerminator(in.Op) && i+1 < len(insts) {
			need[insts[i+1].PC] = true
		}
	}

	dead := deadRanges(insts, a.in, len(code.Bytecode))
	if len(dead) > 0 {
		for _, r := range dead {
			for pc := r.start; pc < r.end-1; pc++ {
				code.Bytecode[pc] = byte(bytecode.Nop)
			}
			code.Bytecode[r.end-1] = byte(bytecode.Athrow)
			need[r.start] = true
			if r.end < len(code.Bytecode) {
				need[r.end] = true
			}
		}
		code.Handlers = trimHandlers(code.Handlers, dead)
		a.maxStack = max(a.maxStack, 1)
	}
	for _, h := range code.Handlers {
		need[int(h.HandlerPC)] = true
	}

	var entries []stackMapEntry
	for i, in := range insts {
		if !need[in.PC] {
			continue
		}
		if f := a.in[i]; f != nil {
			entries = append(entries, stackMapEntry{pc: in.PC, locals: compact(f.locals, true), stack: compact(f.stack, false)})
		} else if isDeadStart(dead, in.PC) {
			entries = append(entries, stackMapEntry{pc: in.PC, stack: []vtype{throwable}})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].pc < entries[j].pc })

	code.MaxStack = max(code.MaxStack, uint16(a.maxStack))
	code.MaxLocals = max(code.MaxLocals, uint16(a.maxLocals))

	if len(entries) == 0 || cf.Major < 50 {
		return nil
	}
	body, err := encodeStackMap(cf.Pool, compact(entry.locals, true), entries)
	if err != nil {
		return err
	}
	n, err := cf.Pool.AddUtf8(classfile.AttrStackMapTable)
	if err != nil {
		return err
	}
	code.Attributes = append(code.Attributes, classfile.Attribute{NameIndex: n, Data: body})
	return nil
}

type pcRange struct{ start, end int }

// deadRanges groups consecutive unreachable instructions.
func deadRanges(insts []bytecode.Inst, in []*frame, codeLen int) []pcRange {
	var out []pcRange
	for i := 0; i < len(insts); i++ {
		if in[i] != nil {
			continue
		}
		j := i
		for j < len(insts) && in[j] == nil {
			j++
		}
		end := codeLen
		if j < len(insts) {
			end = insts[j].PC
		}
		out = append(out, pcRange{insts[i].PC, end})
		i = j
	}
	return out
}

func isDeadStart(dead []pcRange, pc int) bool {
	return slices.ContainsFunc(dead, func(r pcRange) bool { return r.start == pc })
}

// trimHandlers removes dead ranges from every protected range, splitting
// where a dead range falls in the middle, and keeps table order.
func trimHandlers(hs []classfile.ExceptionHandler, dead []pcRange) []classfile.ExceptionHandler {
	var out []classfile.ExceptionHandler
	for _, h := range hs {
		parts := []pcRange{{int(h.StartPC), int(h.EndPC)}}
		for _, d := range dead {
			var next []pcRange
			for _, p := range parts {
				if d.end <= p.start || d.start >= p.end {
					next = append(next, p)
					continue
				}
				if p.start < d.start {
					next = append(next, pcRange{p.start, d.start})
				}
				if d.end < p.end {
					next = append(next, pcRange{d.end, p.end})
				}
			}
			parts = next
		}
		for _, p := range parts {
			part := h
			part.StartPC, part.EndPC = uint16(p.start), uint16(p.end)
			out = append(out, part)
		}
	}
	return out
}
