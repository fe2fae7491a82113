package vm

import (
	"fmt"
	"sort"

	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/core/state"
	"github.com/berith-chain/devmproofgen/core/word"
)

// BytecodeAnalysis is the queryable result of running the trace engine
// over one instruction sequence: a de-duplicated set of AbstractStates
// reached at every position, plus the convenience queries the block
// builder and the CFG/liveness stages need.
type BytecodeAnalysis struct {
	instrs  []bytecode.Instruction
	states  [][]state.AbstractState
	pcIdx   map[int]int
	targets *branchCache
}

// Analyze runs the trace engine over insns (already havoc-inserted) and
// builds the queryable analysis.
func Analyze(insns []bytecode.Instruction) *BytecodeAnalysis {
	engine := NewTraceEngine(insns)
	raw := engine.Run()

	states := make([][]state.AbstractState, len(raw))
	for i, snaps := range raw {
		var deduped []state.AbstractState
		for _, snap := range snaps {
			st := state.From(snap)
			if !containsAbstractState(deduped, st) {
				deduped = append(deduped, st)
			}
		}
		states[i] = deduped
	}
	a := &BytecodeAnalysis{instrs: insns, states: states, targets: newBranchCache()}
	a.pcIdx = a.buildPCIndex()
	return a
}

func containsAbstractState(states []state.AbstractState, st state.AbstractState) bool {
	for _, s := range states {
		if s.Equal(st) {
			return true
		}
	}
	return false
}

// Instructions returns the (havoc-inserted) instruction sequence this
// analysis was built over.
func (a *BytecodeAnalysis) Instructions() []bytecode.Instruction { return a.instrs }

// StatesAt returns the set of abstract states reached at sequence position
// idx. An empty result means the position is unreachable.
func (a *BytecodeAnalysis) StatesAt(idx int) []state.AbstractState {
	if idx < 0 || idx >= len(a.states) {
		return nil
	}
	return a.states[idx]
}

// IsReachable reports whether any trace reached position idx.
func (a *BytecodeAnalysis) IsReachable(idx int) bool {
	return len(a.StatesAt(idx)) > 0
}

// StackSizeBounds returns the minimum and maximum stack height observed
// across every state reached at idx.
func (a *BytecodeAnalysis) StackSizeBounds(idx int) (min, max int) {
	ss := a.StatesAt(idx)
	if len(ss) == 0 {
		return 0, 0
	}
	min, max = ss[0].Height(), ss[0].Height()
	for _, s := range ss[1:] {
		if h := s.Height(); h < min {
			min = h
		} else if h > max {
			max = h
		}
	}
	return min, max
}

// StackValues returns the sorted, de-duplicated set of concrete words
// observed at stack depth i across every state reached at idx, or
// ok=false if any reached state has Unknown there.
func (a *BytecodeAnalysis) StackValues(i, idx int) (values []word.Word, ok bool) {
	ss := a.StatesAt(idx)
	if len(ss) == 0 {
		return nil, false
	}
	seen := map[string]word.Word{}
	for _, s := range ss {
		if i >= s.Height() {
			return nil, false
		}
		w := s.Peek(i)
		if w == nil {
			return nil, false
		}
		seen[w.Hex()] = *w
	}
	for _, w := range seen {
		values = append(values, w)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Cmp(values[j]) < 0 })
	return values, true
}

// FreememValues returns the sorted, de-duplicated set of concrete
// free-memory-pointer values observed across every state reached at idx;
// empty if any reached state has an unknown FMP.
func (a *BytecodeAnalysis) FreememValues(idx int) []uint64 {
	ss := a.StatesAt(idx)
	if len(ss) == 0 {
		return nil
	}
	seen := map[uint64]bool{}
	for _, s := range ss {
		fmp := s.FreeMemPtr()
		if fmp == nil {
			return nil
		}
		seen[*fmp] = true
	}
	out := make([]uint64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// JoinedState returns the join (consensus) of every state reached at idx,
// the single AbstractState most callers actually want, collapsing to None
// any slot traces disagree on.
func (a *BytecodeAnalysis) JoinedState(idx int) state.AbstractState {
	ss := a.StatesAt(idx)
	if len(ss) == 0 {
		return state.AbstractState{}
	}
	out := ss[0]
	for _, s := range ss[1:] {
		out = out.Join(s)
	}
	return out
}

// BranchTargets resolves the set of instruction-sequence positions a
// JUMP/JUMPI/RJUMP/RJUMPI instruction at idx may transfer control to,
// by inspecting every reached state's top-of-stack (for dynamic jumps)
// or the static relative offset (for RJUMP/RJUMPI). An indirect branch
// whose top of stack is unknown in some reached state is a hard analysis
// failure: the emitter could not satisfy it, so an error is returned
// rather than a partial target set.
func (a *BytecodeAnalysis) BranchTargets(idx int) ([]int, error) {
	if idx < 0 || idx >= len(a.instrs) {
		return nil, fmt.Errorf("vm: branch target query out of range: %d", idx)
	}
	if cached, ok := a.targets.get(idx); ok {
		return cached, nil
	}
	out, err := a.computeBranchTargets(idx)
	if err == nil {
		a.targets.set(idx, out)
	}
	return out, err
}

func (a *BytecodeAnalysis) computeBranchTargets(idx int) ([]int, error) {
	insn := a.instrs[idx]
	pcIndex := a.pcIdx

	switch insn.Kind {
	case bytecode.KindRJump:
		target := insn.PC + insn.Length + insn.N
		ti, ok := pcIndex[target]
		if !ok {
			return nil, fmt.Errorf("vm: RJUMP at pc=%d targets invalid offset %d", insn.PC, target)
		}
		return []int{ti}, nil
	case bytecode.KindRJumpI:
		target := insn.PC + insn.Length + insn.N
		ti, ok := pcIndex[target]
		if !ok {
			return nil, fmt.Errorf("vm: RJUMPI at pc=%d targets invalid offset %d", insn.PC, target)
		}
		return []int{idx + 1, ti}, nil
	case bytecode.KindJump, bytecode.KindJumpI:
		// Only the taken-branch destinations: fall-through for JUMPI is a
		// separate block-builder concern, not part of this set.
		seen := map[int]bool{}
		var out []int
		for _, s := range a.StatesAt(idx) {
			top := s.Peek(0)
			if top == nil {
				return nil, fmt.Errorf("vm: unresolved indirect branch at pc=%d", insn.PC)
			}
			if !top.FitsInt() {
				return nil, fmt.Errorf("vm: branch target out of range at pc=%d", insn.PC)
			}
			ti, ok := pcIndex[top.Int()]
			if !ok {
				return nil, fmt.Errorf("vm: branch at pc=%d targets invalid offset %d", insn.PC, top.Int())
			}
			if !seen[ti] {
				seen[ti] = true
				out = append(out, ti)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("vm: branch at pc=%d is unreachable, cannot resolve targets", insn.PC)
		}
		sort.Ints(out)
		return out, nil
	default:
		return nil, fmt.Errorf("vm: instruction at pc=%d is not a branch", insn.PC)
	}
}

func (a *BytecodeAnalysis) buildPCIndex() map[int]int {
	idx := make(map[int]int, len(a.instrs))
	for i, insn := range a.instrs {
		if insn.Kind == bytecode.KindHavoc {
			continue
		}
		if _, exists := idx[insn.PC]; !exists {
			idx[insn.PC] = i
		}
	}
	return idx
}
