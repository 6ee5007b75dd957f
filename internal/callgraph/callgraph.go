// Package callgraph builds lattice call graphs and control flow graphs of
// class methods for rendering.
package callgraph

import (
	"errors"

	"github.com/zboralski/lattice"

	"classweave/internal/bytecode"
	"classweave/internal/classfile"
)

// Call is one invocation inside a method body.
type Call struct {
	PC     int
	Callee string // Owner.name
}

// FuncInfo holds the data needed to build call graph and CFG for one method.
type FuncInfo struct {
	Name     string // Owner.name(desc)
	Insts    []bytecode.Inst
	Handlers []classfile.ExceptionHandler
	Calls    []Call
	Strings  map[int]string // pc -> string constant pushed there
}

// Methods decodes every method body of cf. Only calls whose callee passes
// keep are recorded; a nil keep records all of them.
func Methods(cf *classfile.ClassFile, keep func(callee string) bool) ([]FuncInfo, error) {
	class, err := cf.Name()
	if err != nil {
		return nil, err
	}
	var out []FuncInfo
	for _, m := range cf.Methods {
		code, _, err := cf.MethodCode(m)
		if errors.Is(err, classfile.ErrNoCode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		name, desc, err := cf.MemberName(m)
		if err != nil {
			return nil, err
		}
		insts, err := bytecode.Decode(code.Bytecode)
		if err != nil {
			return nil, err
		}
		f := FuncInfo{
			Name:     class + "." + name + desc,
			Insts:    insts,
			Handlers: code.Handlers,
			Strings:  make(map[int]string),
		}
		for _, in := range insts {
			switch {
			case in.IsInvoke() && in.Op != bytecode.Invokedynamic:
				ref, err := cf.Pool.Member(in.Index)
				if err != nil {
					return nil, err
				}
				callee := ref.Owner + "." + ref.Name
				if keep == nil || keep(callee) {
					f.Calls = append(f.Calls, Call{PC: in.PC, Callee: callee})
				}
			case in.Op == bytecode.Ldc || in.Op == bytecode.LdcW:
				c, err := cf.Pool.Entry(in.Index)
				if err != nil || c.Tag != classfile.TagString {
					continue
				}
				if s, err := cf.Pool.Utf8(c.Index1); err == nil {
					f.Strings[in.PC] = s
				}
			}
		}
		out = append(out, f)
	}
	return out, nil
}

// BuildCallGraph constructs a lattice.Graph from decoded methods.
// Each method becomes a node. Each recorded call becomes an edge.
func BuildCallGraph(funcs []FuncInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, c := range f.Calls {
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: c.Callee,
			})
		}
	}
	g.Dedup()
	return g
}
