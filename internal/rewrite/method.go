package rewrite

import (
	"fmt"

	"classweave/internal/bytecode"
	"classweave/internal/classfile"
)

// Method describes the method whose body is being rewritten.
type Method struct {
	Class  string // internal name of the declaring class
	Name   string
	Desc   string
	Access uint16
}

func (m Method) static() bool { return m.Access&classfile.AccStatic != 0 }

// IsInitializer reports whether m is a constructor or static initialiser.
func (m Method) IsInitializer() bool { return m.Name == "<init>" || m.Name == "<clinit>" }

func (m Method) String() string { return m.Name + m.Desc }

// Site is one recognised call site.
type Site struct {
	Method  string `json:"method"` // name and descriptor
	PC      int    `json:"pc"`     // offset of the call in the original body
	Action  Action `json:"action"`
	Call    string `json:"call"`              // the original call
	Guarded bool   `json:"guarded,omitempty"` // recognised but left alone by the context-init guard
}

// MethodRewriter rewrites the call sites of one method body. Replacement
// constants are appended to Pool.
type MethodRewriter struct {
	Table  *Table
	Pool   *classfile.Pool
	Method Method

	// ContextType and ContextMethod name the static accessor pushed as the
	// execution context.
	ContextType   string
	ContextMethod string

	// SkipForName1 leaves 1-argument forName calls alone; SkipAll leaves
	// every call alone while still reporting it.
	SkipForName1 bool
	SkipAll      bool

	// Sites accumulates every recognised call, rewritten or not.
	Sites []Site
}

// Rewrite returns the rewritten instruction list and whether any call was
// replaced. Instructions that are not recognised calls pass through
// unchanged; the first instruction of every replacement keeps the label of
// the call it replaces.
func (r *MethodRewriter) Rewrite(insts []bytecode.Inst) ([]bytecode.Inst, bool, error) {
	var (
		out      []bytecode.Inst
		modified bool
	)
	for i, in := range insts {
		e, ok, err := r.match(in)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if out != nil {
				out = append(out, in)
			}
			continue
		}
		site := Site{Method: r.Method.String(), PC: in.PC, Action: e.Action, Call: e.Match.String()}
		if r.SkipAll || (r.SkipForName1 && e.Action == ForName1) {
			site.Guarded = true
			r.Sites = append(r.Sites, site)
			if out != nil {
				out = append(out, in)
			}
			continue
		}
		seq, err := r.replacement(e)
		if err != nil {
			return nil, false, fmt.Errorf("%s at pc %d: %w", r.Method, in.PC, err)
		}
		if out == nil {
			out = append(make([]bytecode.Inst, 0, len(insts)+8), insts[:i]...)
		}
		seq[0].PC = in.PC
		out = append(out, seq...)
		r.Sites = append(r.Sites, site)
		modified = true
	}
	if !modified {
		return insts, false, nil
	}
	return out, true, nil
}

// match resolves an invoke instruction against the table.
func (r *MethodRewriter) match(in bytecode.Inst) (Entry, bool, error) {
	var kind Kind
	switch in.Op {
	case bytecode.Invokevirtual:
		kind = Virtual
	case bytecode.Invokestatic:
		kind = Static
	default:
		return Entry{}, false, nil
	}
	ref, err := r.Pool.Member(in.Index)
	if err != nil {
		return Entry{}, false, fmt.Errorf("%s at pc %d: %w", r.Method, in.PC, err)
	}
	if ref.Tag != classfile.TagMethodref {
		return Entry{}, false, nil
	}
	e, ok := r.Table.Lookup(Signature{Kind: kind, Owner: ref.Owner, Name: ref.Name, Desc: ref.Desc})
	return e, ok, nil
}

func (r *MethodRewriter) replacement(e Entry) ([]bytecode.Inst, error) {
	ctx, err := r.Pool.AddMethodref(r.ContextType, r.ContextMethod, "()"+bytecode.ObjectDesc(r.ContextType))
	if err != nil {
		return nil, err
	}
	target, err := r.Pool.AddMethodref(e.Target.Owner, e.Target.Name, e.Target.Desc)
	if err != nil {
		return nil, err
	}
	pushContext := bytecode.SynthIndex(bytecode.Invokestatic, ctx)
	call := bytecode.SynthIndex(bytecode.Invokestatic, target)
	swap := bytecode.Synth(bytecode.Swap)

	switch e.Action {
	case LoadClass, GetResource, GetResources, GetResourceAsStream:
		// [loader, name] -> [name, loader] -> [name, loader, ctx] -> [name, ctx, loader]
		return []bytecode.Inst{swap, pushContext, swap, call}, nil

	case ForName1:
		// [name] -> [name, ctx, caller]
		id, err := r.callerIdentity()
		if err != nil {
			return nil, err
		}
		seq := append([]bytecode.Inst{pushContext}, id...)
		return append(seq, call), nil

	case ForName3:
		// [name, init, loader] -> [name, init, loader, ctx] -> [name, init, ctx, loader]
		return []bytecode.Inst{pushContext, swap, call}, nil

	case GetBundle3, GetBundle4:
		// [..., loader(, control)] -> [..., loader(, control), caller]
		id, err := r.callerIdentity()
		if err != nil {
			return nil, err
		}
		return append(id, call), nil
	}
	return nil, fmt.Errorf("%w: unhandled action %s", ErrBadTable, e.Action)
}

// callerIdentity pushes the Class of the calling code. Static code and
// constructors use the class literal; a constructor's receiver may still be
// uninitialised, so getClass cannot be called on it.
func (r *MethodRewriter) callerIdentity() ([]bytecode.Inst, error) {
	if r.Method.static() || r.Method.Name == "<init>" {
		cls, err := r.Pool.AddClass(r.Method.Class)
		if err != nil {
			return nil, err
		}
		return []bytecode.Inst{bytecode.SynthIndex(bytecode.Ldc, cls)}, nil
	}
	getClass, err := r.Pool.AddMethodref("java/lang/Object", "getClass", "()"+descClass)
	if err != nil {
		return nil, err
	}
	return []bytecode.Inst{
		bytecode.Synth(bytecode.Aload0),
		bytecode.SynthIndex(bytecode.Invokevirtual, getClass),
	}, nil
}

// Scan records the recognised call sites of insts without rewriting them.
func (r *MethodRewriter) Scan(insts []bytecode.Inst) error {
	for _, in := range insts {
		e, ok, err := r.match(in)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		r.Sites = append(r.Sites, Site{
			Method:  r.Method.String(),
			PC:      in.PC,
			Action:  e.Action,
			Call:    e.Match.String(),
			Guarded: r.SkipAll || (r.SkipForName1 && e.Action == ForName1),
		})
	}
	return nil
}
