package callgraph

import (
	"fmt"
	"sort"

	"github.com/zboralski/lattice"

	"classweave/internal/bytecode"
)

// BuildCFG constructs a lattice.CFGGraph from decoded methods.
// Each FuncInfo is converted to a lattice.FuncCFG via bytecode.BuildCFG
// then mapped to lattice types.
func BuildCFG(funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		lcfg, _ := BuildFuncCFG(f)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG builds a single-method lattice.FuncCFG with calls and string
// constants placed in their blocks. Returns the FuncCFG and the number of
// basic blocks (for filtering trivial methods).
func BuildFuncCFG(f FuncInfo) (*lattice.FuncCFG, int) {
	bcfg := bytecode.BuildCFG(f.Name, f.Insts, f.Handlers)
	lcfg := convertFuncCFG(&bcfg, f.Calls)
	injectStringRefs(lcfg, &bcfg, f.Strings)
	return lcfg, len(bcfg.Blocks)
}

// BuildSummaryFuncCFG builds a single-block FuncCFG listing the method's
// recorded calls and string constants once each, in code order. It
// answers "what does this method load, and by which name" at a glance.
func BuildSummaryFuncCFG(f FuncInfo) *lattice.FuncCFG {
	callByPC := make(map[int]string, len(f.Calls))
	for _, c := range f.Calls {
		callByPC[c.PC] = c.Callee
	}

	seen := make(map[string]bool)
	var calls []lattice.CallSite
	for _, in := range f.Insts {
		label := callByPC[in.PC]
		if s, ok := f.Strings[in.PC]; ok {
			label = quote(s)
		}
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		calls = append(calls, lattice.CallSite{Offset: len(calls), Callee: label})
	}

	lcfg := &lattice.FuncCFG{Name: f.Name}
	if len(calls) > 0 {
		lcfg.Blocks = append(lcfg.Blocks, &lattice.BasicBlock{
			ID:    0,
			Start: 0,
			End:   1,
			Term:  true,
			Calls: calls,
		})
	}
	return lcfg
}

func quote(s string) string {
	if len(s) > 50 {
		s = s[:47] + "..."
	}
	return fmt.Sprintf("%q", s)
}

// injectStringRefs adds string constant CallSite entries into the
// appropriate blocks.
func injectStringRefs(lcfg *lattice.FuncCFG, bcfg *bytecode.FuncCFG, strs map[int]string) {
	if len(strs) == 0 {
		return
	}
	for bi, b := range bcfg.Blocks {
		added := false
		for idx := b.Start; idx < b.End && idx < len(bcfg.Insts); idx++ {
			if s, ok := strs[bcfg.Insts[idx].PC]; ok {
				lcfg.Blocks[bi].Calls = append(lcfg.Blocks[bi].Calls, lattice.CallSite{
					Offset: idx,
					Callee: quote(s),
				})
				added = true
			}
		}
		if added {
			sort.Slice(lcfg.Blocks[bi].Calls, func(i, j int) bool {
				return lcfg.Blocks[bi].Calls[i].Offset < lcfg.Blocks[bi].Calls[j].Offset
			})
		}
	}
}

// convertFuncCFG maps a bytecode.FuncCFG to a lattice.FuncCFG.
// Calls are mapped into blocks by matching instruction pcs.
func convertFuncCFG(bcfg *bytecode.FuncCFG, calls []Call) *lattice.FuncCFG {
	callByPC := make(map[int]string, len(calls))
	for _, c := range calls {
		callByPC[c.PC] = c.Callee
	}

	lcfg := &lattice.FuncCFG{Name: bcfg.Name}
	for _, b := range bcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    b.ID,
			Start: b.Start,
			End:   b.End,
			Term:  b.IsTerm,
		}
		for _, s := range b.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: s.BlockID,
				Cond:    s.Cond,
			})
		}
		for idx := b.Start; idx < b.End && idx < len(bcfg.Insts); idx++ {
			if callee, ok := callByPC[bcfg.Insts[idx].PC]; ok {
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: idx,
					Callee: callee,
				})
			}
		}
		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
