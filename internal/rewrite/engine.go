// Package rewrite redirects classloading call sites to a module-aware
// resolver.
//
// Each recognised call (Table) is replaced in place by a short instruction
// sequence that reorders the operands, pushes the execution context and,
// where needed, the identity of the calling class, and then invokes the
// resolver's static replacement. Everything else passes through untouched.
package rewrite

import (
	"errors"
	"fmt"
	"strings"

	"classweave/internal/bytecode"
	"classweave/internal/classfile"
	"classweave/internal/classpath"
	"classweave/internal/config"
	"classweave/internal/emit"
	"classweave/internal/hierarchy"
)

var ErrClassName = errors.New("rewrite: class name does not match binary")

// Result is the outcome of weaving one class.
type Result struct {
	Binary         []byte // the input itself when Modified is false
	Modified       bool
	DynamicImports []string // declarations the woven class needs at runtime
	Sites          []Site
}

// Engine weaves classes for one component. It holds no per-class state and
// is safe for concurrent use.
type Engine struct {
	table     *Table
	resolver  config.Resolver
	guard     string
	component string
}

// NewEngine validates the resolver configuration and builds its call-site
// table. Configuration errors surface here, before any class is processed.
func NewEngine(r config.Resolver) (*Engine, error) {
	switch r.ContextInitGuard {
	case config.GuardForName, config.GuardMethod, config.GuardOff:
	case "":
		r.ContextInitGuard = config.GuardForName
	default:
		return nil, fmt.Errorf("%w: unknown context_init_guard %q", config.ErrInvalid, r.ContextInitGuard)
	}
	if r.ContextMethod == "" {
		return nil, fmt.Errorf("%w: context method is empty", ErrBadTable)
	}
	t, err := NewTable(r)
	if err != nil {
		return nil, err
	}
	return &Engine{table: t, resolver: r, guard: r.ContextInitGuard}, nil
}

// WithComponent returns a copy of e that reports failures against the
// named component.
func (e *Engine) WithComponent(name string) *Engine {
	c := *e
	c.component = name
	return &c
}

// Table returns the call-site table.
func (e *Engine) Table() *Table { return e.table }

// InternalName converts a dotted class name to internal form.
func InternalName(name string) string { return strings.ReplaceAll(name, ".", "/") }

// Weave rewrites every recognised call site in binary. src resolves the
// component's other classes for ancestor lookups; the class itself is
// overlaid on it. className may be dotted or internal; empty skips the
// check against the binary.
func (e *Engine) Weave(className string, binary []byte, src hierarchy.Source) (*Result, error) {
	cf, err := classfile.Parse(binary)
	if err != nil {
		return nil, err
	}
	name, err := cf.Name()
	if err != nil {
		return nil, err
	}
	if className != "" && InternalName(className) != name {
		return nil, fmt.Errorf("%w: %s is %s", ErrClassName, className, name)
	}

	res := &Result{Binary: binary}
	if !e.mentionsTable(cf.Pool) {
		return res, nil
	}

	overlay := classpath.Overlay{Name: name, Bytes: binary, Base: src}
	emitter := &emit.Emitter{Resolver: emit.Hierarchy{Source: overlay}, Component: e.component}
	guard := e.guardFor(name, overlay)

	for i := range cf.Methods {
		m := &cf.Methods[i]
		code, idx, err := cf.MethodCode(*m)
		if errors.Is(err, classfile.ErrNoCode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rw, err := e.methodRewriter(cf, name, *m, guard)
		if err != nil {
			return nil, err
		}
		insts, err := bytecode.Decode(code.Bytecode)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, rw.Method, err)
		}
		out, modified, err := rw.Rewrite(insts)
		res.Sites = append(res.Sites, rw.Sites...)
		if err != nil {
			return nil, err
		}
		if !modified {
			continue
		}
		newCode, err := emitter.EmitCode(cf, *m, code, out)
		if err != nil {
			return nil, err
		}
		m.Attributes[idx].Data = newCode.Encode()
		res.Modified = true
	}

	if res.Modified {
		res.Binary = cf.Bytes()
		if e.resolver.DynamicImport != "" {
			res.DynamicImports = []string{e.resolver.DynamicImport}
		}
	}
	return res, nil
}

// Scan lists the recognised call sites of binary without rewriting.
// Guarded reports what Weave would leave alone; src may be nil, in which
// case only the class itself is available to the guard.
func (e *Engine) Scan(binary []byte, src hierarchy.Source) ([]Site, error) {
	cf, err := classfile.Parse(binary)
	if err != nil {
		return nil, err
	}
	name, err := cf.Name()
	if err != nil {
		return nil, err
	}
	if !e.mentionsTable(cf.Pool) {
		return nil, nil
	}
	guard := e.guardFor(name, classpath.Overlay{Name: name, Bytes: binary, Base: src})

	var sites []Site
	for _, m := range cf.Methods {
		code, _, err := cf.MethodCode(m)
		if errors.Is(err, classfile.ErrNoCode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rw, err := e.methodRewriter(cf, name, m, guard)
		if err != nil {
			return nil, err
		}
		insts, err := bytecode.Decode(code.Bytecode)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, rw.Method, err)
		}
		if err := rw.Scan(insts); err != nil {
			return nil, err
		}
		sites = append(sites, rw.Sites...)
	}
	return sites, nil
}

func (e *Engine) methodRewriter(cf *classfile.ClassFile, class string, m classfile.Member, guard func() bool) (*MethodRewriter, error) {
	mname, mdesc, err := cf.MemberName(m)
	if err != nil {
		return nil, err
	}
	rw := &MethodRewriter{
		Table:         e.table,
		Pool:          cf.Pool,
		Method:        Method{Class: class, Name: mname, Desc: mdesc, Access: m.AccessFlags},
		ContextType:   e.resolver.ContextType,
		ContextMethod: e.resolver.ContextMethod,
	}
	if rw.Method.IsInitializer() && e.guard != config.GuardOff && guard() {
		rw.SkipForName1 = e.guard == config.GuardForName
		rw.SkipAll = e.guard == config.GuardMethod
	}
	return rw, nil
}

// guardFor returns a memoised check of whether class descends from the
// context type. Resolving the context inside such a class's initialisers
// would recurse into its own construction.
func (e *Engine) guardFor(class string, src hierarchy.Source) func() bool {
	var done, result bool
	return func() bool {
		if !done {
			done = true
			result = hierarchy.Ancestors(class, src).Contains(e.resolver.ContextType)
		}
		return result
	}
}

// mentionsTable reports whether the pool references any recognised call.
func (e *Engine) mentionsTable(p *classfile.Pool) bool {
	for i := 1; i < p.Len(); i++ {
		c, err := p.Entry(uint16(i))
		if err != nil || c.Tag != classfile.TagMethodref {
			continue
		}
		ref, err := p.Member(uint16(i))
		if err != nil {
			continue
		}
		for _, k := range []Kind{Virtual, Static} {
			if _, ok := e.table.Lookup(Signature{Kind: k, Owner: ref.Owner, Name: ref.Name, Desc: ref.Desc}); ok {
				return true
			}
		}
	}
	return false
}

// MethodPlan is the rewritten instruction stream of one method before
// layout.
type MethodPlan struct {
	Method   Method
	Original []bytecode.Inst
	Insts    []bytecode.Inst // synthesised instructions have PC -1
	Sites    []Site
	Modified bool
}

// Plan runs the call-site rewriter over every method body of binary without
// laying anything out, for inspection. Constants the replacements need are
// added to the returned class's pool so Insts can be rendered against it.
func (e *Engine) Plan(binary []byte, src hierarchy.Source) (*classfile.ClassFile, []MethodPlan, error) {
	cf, err := classfile.Parse(binary)
	if err != nil {
		return nil, nil, err
	}
	name, err := cf.Name()
	if err != nil {
		return nil, nil, err
	}
	guard := e.guardFor(name, classpath.Overlay{Name: name, Bytes: binary, Base: src})

	var plans []MethodPlan
	for _, m := range cf.Methods {
		code, _, err := cf.MethodCode(m)
		if errors.Is(err, classfile.ErrNoCode) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		rw, err := e.methodRewriter(cf, name, m, guard)
		if err != nil {
			return nil, nil, err
		}
		insts, err := bytecode.Decode(code.Bytecode)
		if err != nil {
			return nil, nil, fmt.Errorf("%s.%s: %w", name, rw.Method, err)
		}
		out, modified, err := rw.Rewrite(insts)
		if err != nil {
			return nil, nil, err
		}
		plans = append(plans, MethodPlan{Method: rw.Method, Original: insts, Insts: out, Sites: rw.Sites, Modified: modified})
	}
	return cf, plans, nil
}
