package block

import (
	"fmt"
	"sort"

	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/core/state"
	"github.com/berith-chain/devmproofgen/core/vm"
)

// PreconditionFn is invoked once per instruction before translation; it may
// return Assert bytecodes to prepend ahead of the translated instruction.
type PreconditionFn func(insn bytecode.Instruction, entry state.AbstractState) []Bytecode

// OverflowChecks is the default precondition hook: it emits an Assert
// witnessing operands 0 and 1 for ADD/MUL/SUB, keeping them alive through
// the liveness minimiser so the emitted proof can reason about overflow.
func OverflowChecks(insn bytecode.Instruction, _ state.AbstractState) []Bytecode {
	switch insn.Op {
	case bytecode.ADD, bytecode.MUL, bytecode.SUB:
		return []Bytecode{NewAssert([]int{0, 1}, "no "+insn.Op.String()+" overflow")}
	}
	return nil
}

// NoPrecondition installs no hook.
func NoPrecondition(bytecode.Instruction, state.AbstractState) []Bytecode { return nil }

// BlockState is the per-point record attached to each Bytecode of a
// block: the set of AbstractStates the analysis reached immediately
// before that bytecode, plus the NecessaryState the liveness fixpoint
// accumulates there. The Necessary field is zero-valued (nothing
// necessary) until a fixpoint has run.
type BlockState struct {
	States    []state.AbstractState
	Necessary NecessaryState
}

// Block is one super-block: an entry PC, its translated Bytecode body, a
// parallel per-point BlockState sequence (States[0] is the entry
// snapshot), and the PC of the fall-through successor, if any.
type Block struct {
	PC       int
	StartIdx int
	Next     *int // fall-through PC, nil if the block terminates control flow

	Bytecodes []Bytecode
	// States runs parallel to Bytecodes: States[i] holds what is known
	// immediately before Bytecodes[i] executes.
	States []BlockState
}

// NecessaryState is a stack of liveness bits indexed from the top, the
// same calling convention as the abstract stack itself.
type NecessaryState struct {
	bits []bool
}

func NewNecessaryState(height int) NecessaryState { return NecessaryState{bits: make([]bool, height)} }

func (n NecessaryState) Height() int { return len(n.bits) }

func (n NecessaryState) Get(i int) bool {
	if i < 0 || i >= len(n.bits) {
		return false
	}
	return n.bits[i]
}

func (n *NecessaryState) Set(i int, v bool) {
	for i >= len(n.bits) {
		n.bits = append(n.bits, false)
	}
	n.bits[i] = v
}

func (n *NecessaryState) Push(v bool) { n.bits = append([]bool{v}, n.bits...) }

func (n *NecessaryState) Pop() {
	if len(n.bits) > 0 {
		n.bits = n.bits[1:]
	}
}

// Join computes the point-wise OR of n and o, bottom-padded to the longer
// length, and reports whether the result differs from n.
func (n NecessaryState) Join(o NecessaryState) (NecessaryState, bool) {
	l := len(n.bits)
	if len(o.bits) > l {
		l = len(o.bits)
	}
	if l == 0 {
		return NecessaryState{}, false
	}
	out := make([]bool, l)
	changed := false
	for i := 0; i < l; i++ {
		a := n.Get(i)
		b := o.Get(i)
		v := a || b
		out[i] = v
		if v != a {
			changed = true
		}
	}
	return NecessaryState{bits: out}, changed
}

func (n NecessaryState) Clone() NecessaryState {
	return NecessaryState{bits: append([]bool(nil), n.bits...)}
}

// EntryStates returns the set of AbstractStates reached at the block's
// entry point (States[0]); nil for a degenerate empty block.
func (b *Block) EntryStates() []state.AbstractState {
	if len(b.States) == 0 {
		return nil
	}
	return b.States[0].States
}

// EntryNecessary returns the NecessaryState accumulated at the block's
// entry point by the liveness fixpoint.
func (b *Block) EntryNecessary() NecessaryState {
	if len(b.States) == 0 {
		return NecessaryState{}
	}
	return b.States[0].Necessary
}

// IsUnreachable reports whether no trace reached the block's entry.
func (b *Block) IsUnreachable() bool { return len(b.EntryStates()) == 0 }

// ClearStackItem clears stack slot i from every AbstractState reached at
// the block's entry; the liveness pruning pass drives it.
func (b *Block) ClearStackItem(i int) {
	if len(b.States) == 0 {
		return
	}
	for j := range b.States[0].States {
		b.States[0].States[j].ClearStackItem(i)
	}
}

// StackBounds returns the minimum and maximum stack height observed across
// the block's entry states.
func (b *Block) StackBounds() (min, max int) {
	entry := b.EntryStates()
	if len(entry) == 0 {
		return 0, 0
	}
	min, max = entry[0].Height(), entry[0].Height()
	for _, s := range entry[1:] {
		if h := s.Height(); h < min {
			min = h
		} else if h > max {
			max = h
		}
	}
	return min, max
}

// StackHeights returns the sorted set of distinct stack heights observed
// across the block's entry states.
func (b *Block) StackHeights() []int {
	seen := map[int]bool{}
	for _, s := range b.EntryStates() {
		seen[s.Height()] = true
	}
	out := make([]int, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}

// FreeMemPtrBounds returns the minimum and maximum free-memory-pointer
// value across the block's entry states; ok=false if any entry state has
// an unknown FMP (or there are no entry states).
func (b *Block) FreeMemPtrBounds() (min, max uint64, ok bool) {
	entry := b.EntryStates()
	if len(entry) == 0 {
		return 0, 0, false
	}
	for i, s := range entry {
		fmp := s.FreeMemPtr()
		if fmp == nil {
			return 0, 0, false
		}
		if i == 0 || *fmp < min {
			min = *fmp
		}
		if i == 0 || *fmp > max {
			max = *fmp
		}
	}
	return min, max, true
}

// branchTargetPCs resolves idx's branch targets and converts them from
// analysis sequence positions to the byte offsets that core/liveness and
// downstream consumers key blocks by, re-sorting so the target list stays
// ascending and unique across the index-to-PC translation.
func branchTargetPCs(analysis *vm.BytecodeAnalysis, insns []bytecode.Instruction, idx int) ([]int, error) {
	indices, err := analysis.BranchTargets(idx)
	if err != nil {
		return nil, err
	}
	pcs := make([]int, len(indices))
	for i, ti := range indices {
		pcs[i] = insns[ti].PC
	}
	sort.Ints(pcs)
	return pcs, nil
}

// unsupportedInstruction reports instructions the translator does not
// handle yet: RJUMP/RJUMPI are deferred to future work.
func unsupportedInstruction(insn bytecode.Instruction) error {
	return fmt.Errorf("block: unsupported instruction %s at pc=%d (RJUMP/RJUMPI translation not yet implemented)",
		insn.Op, insn.PC)
}

// snapshotStates copies the analysis's reached-state set at idx, cloning
// each state so later minimisation of the block cannot alias the
// analysis's own records.
func snapshotStates(analysis *vm.BytecodeAnalysis, idx int) []state.AbstractState {
	src := analysis.StatesAt(idx)
	if len(src) == 0 {
		return nil
	}
	out := make([]state.AbstractState, len(src))
	for i, s := range src {
		out[i] = s.Clone()
	}
	return out
}

// Build splits insns (the full, havoc-inserted instruction sequence backing
// analysis) into super-blocks of at most blocksize instructions each,
// cutting at mid-block JUMPDESTs and control-flow terminators. Each
// freshly appended bytecode gets a BlockState copied from the analysis
// snapshot at that instruction's offset (asserts prepended by the hook
// share the offset of the instruction they guard).
func Build(analysis *vm.BytecodeAnalysis, blocksize int, hook PreconditionFn) ([]*Block, error) {
	if hook == nil {
		hook = NoPrecondition
	}
	if blocksize < 1 {
		blocksize = 1
	}
	insns := analysis.Instructions()
	var blocks []*Block
	idx := 0
	for idx < len(insns) {
		blk := &Block{PC: insns[idx].PC, StartIdx: idx}
		budget := blocksize
		blockStart := idx
		done := false
		// A virtual HAVOC marker shares its trigger's PC and must stay in
		// the same block, so it is processed even on an exhausted budget.
		for idx < len(insns) && (budget > 0 || insns[idx].Kind == bytecode.KindHavoc) {
			insn := insns[idx]

			if insn.Kind == bytecode.KindJumpDest && idx != blockStart {
				next := insn.PC
				blk.Next = &next
				done = true
				break
			}

			appendBytecode := func(bc Bytecode) {
				blk.Bytecodes = append(blk.Bytecodes, bc)
				blk.States = append(blk.States, BlockState{States: snapshotStates(analysis, idx)})
			}

			entry := analysis.JoinedState(idx)
			for _, assert := range hook(insn, entry) {
				appendBytecode(assert)
			}

			switch insn.Kind {
			case bytecode.KindRJump, bytecode.KindRJumpI:
				return nil, unsupportedInstruction(insn)
			case bytecode.KindHavoc:
				appendBytecode(NewComment(fmt.Sprintf("Havoc %d", insn.N)))
			case bytecode.KindJump:
				targets, err := branchTargetPCs(analysis, insns, idx)
				if err != nil {
					return nil, err
				}
				appendBytecode(NewJump(targets))
				done = true
			case bytecode.KindJumpI:
				targets, err := branchTargetPCs(analysis, insns, idx)
				if err != nil {
					return nil, err
				}
				appendBytecode(NewJumpI(targets))
				done = true
				if idx+1 < len(insns) {
					next := insns[idx+1].PC
					blk.Next = &next
				}
			case bytecode.KindData:
				appendBytecode(NewUnit(insn))
				done = true
			default:
				isMask := false
				if insn.Op == bytecode.AND {
					if top := entry.Peek(0); top != nil {
						if width, ok := recognizeMask(*top); ok {
							appendBytecode(NewMask(width))
							isMask = true
						}
					}
				}
				if !isMask {
					appendBytecode(NewUnit(insn))
					if !insn.Fallthru {
						done = true
					}
				}
			}

			idx++
			budget--
			if done {
				break
			}
		}
		if !done && idx < len(insns) {
			next := insns[idx].PC
			blk.Next = &next
		}
		blocks = append(blocks, blk)
	}
	return blocks, nil
}
