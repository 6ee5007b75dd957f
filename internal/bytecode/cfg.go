package bytecode

import (
	"sort"

	"classweave/internal/classfile"
)

// BasicBlock represents a sequence of instructions with a single entry point.
type BasicBlock struct {
	ID      int
	Start   int    // index into FuncCFG.Insts (inclusive)
	End     int    // index into FuncCFG.Insts (exclusive)
	Succs   []Succ // successor edges
	IsEntry bool
	IsTerm  bool // ends with a return, athrow or ret
	Handler bool // entered through the exception table
}

// Succ describes a control-flow successor edge.
type Succ struct {
	BlockID int
	Cond    string // "" = unconditional, "T" = taken, "F" = fallthrough, "S" = switch arm, "E" = exception
}

// FuncCFG is a per-method control flow graph.
type FuncCFG struct {
	Name   string
	Blocks []BasicBlock
	Insts  []Inst
}

// IsTerminator reports whether control never falls through to the next
// instruction.
func IsTerminator(op Opcode) bool {
	switch op {
	case Goto, GotoW, Tableswitch, Lookupswitch, Athrow, Ret,
		Ireturn, Lreturn, Freturn, Dreturn, Areturn, Return:
		return true
	}
	return false
}

// IsReturn reports whether op leaves the method.
func IsReturn(op Opcode) bool {
	switch op {
	case Ireturn, Lreturn, Freturn, Dreturn, Areturn, Return, Athrow:
		return true
	}
	return false
}

// Targets returns the explicit jump targets of in (branch target or every
// switch arm including the default).
func Targets(in Inst) []int {
	switch {
	case in.IsBranch():
		return []int{in.Target}
	case in.IsSwitch():
		out := make([]int, 0, len(in.Switch.Targets)+1)
		out = append(out, in.Switch.Targets...)
		return append(out, in.Switch.Default)
	}
	return nil
}

// BuildCFG constructs a control flow graph from a method's instruction stream.
// The algorithm:
//  1. Find block leaders: index 0, jump targets, handler entries, instructions after branches.
//  2. Partition instructions into blocks by leaders.
//  3. Compute successor edges from each block's last instruction and the exception table.
func BuildCFG(name string, insts []Inst, handlers []classfile.ExceptionHandler) FuncCFG {
	if len(insts) == 0 {
		return FuncCFG{Name: name, Insts: insts}
	}

	pcToIdx := make(map[int]int, len(insts))
	for i, in := range insts {
		pcToIdx[in.PC] = i
	}

	// Pass 1: Identify block leaders.
	leaders := map[int]bool{0: true}
	handlerIdx := make(map[int]bool)
	for i, in := range insts {
		ts := Targets(in)
		if ts == nil && !IsTerminator(in.Op) {
			continue
		}
		if i+1 < len(insts) {
			leaders[i+1] = true
		}
		for _, t := range ts {
			if idx, ok := pcToIdx[t]; ok {
				leaders[idx] = true
			}
		}
	}
	for _, h := range handlers {
		if idx, ok := pcToIdx[int(h.HandlerPC)]; ok {
			leaders[idx] = true
			handlerIdx[idx] = true
		}
	}

	sorted := make([]int, 0, len(leaders))
	for idx := range leaders {
		sorted = append(sorted, idx)
	}
	sort.Ints(sorted)

	// Pass 2: Partition into blocks.
	blocks := make([]BasicBlock, len(sorted))
	leaderToBlock := make(map[int]int, len(sorted))
	for i, start := range sorted {
		end := len(insts)
		if i+1 < len(sorted) {
			end = sorted[i+1]
		}
		blocks[i] = BasicBlock{
			ID:      i,
			Start:   start,
			End:     end,
			IsEntry: start == 0,
			Handler: handlerIdx[start],
		}
		leaderToBlock[start] = i
	}
	blockOfPC := func(pc int) (int, bool) {
		idx, ok := pcToIdx[pc]
		if !ok {
			return 0, false
		}
		b, ok := leaderToBlock[idx]
		return b, ok
	}

	// Pass 3: Compute successors.
	for i := range blocks {
		blk := &blocks[i]
		last := insts[blk.End-1]
		switch {
		case last.IsSwitch():
			for _, t := range Targets(last) {
				if b, ok := blockOfPC(t); ok {
					blk.Succs = append(blk.Succs, Succ{BlockID: b, Cond: "S"})
				}
			}
		case last.IsBranch():
			b, ok := blockOfPC(last.Target)
			if last.Op == Goto || last.Op == GotoW {
				if ok {
					blk.Succs = append(blk.Succs, Succ{BlockID: b})
				}
				break
			}
			if ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: b, Cond: "T"})
			}
			if next, ok := leaderToBlock[blk.End]; ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: next, Cond: "F"})
			}
		case IsTerminator(last.Op):
			blk.IsTerm = true
		default:
			if next, ok := leaderToBlock[blk.End]; ok {
				blk.Succs = append(blk.Succs, Succ{BlockID: next})
			}
		}

		// Exception edges from any covered instruction.
		seen := make(map[int]bool)
		for _, h := range handlers {
			for idx := blk.Start; idx < blk.End; idx++ {
				pc := insts[idx].PC
				if pc < int(h.StartPC) || pc >= int(h.EndPC) {
					continue
				}
				if b, ok := blockOfPC(int(h.HandlerPC)); ok && !seen[b] {
					seen[b] = true
					blk.Succs = append(blk.Succs, Succ{BlockID: b, Cond: "E"})
				}
				break
			}
		}
	}

	return FuncCFG{
		Name:   name,
		Blocks: blocks,
		Insts:  insts,
	}
}
