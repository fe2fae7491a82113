// Package vm implements the bytecode-analysis subsystem: a trace engine
// that interprets the (havoc-inserted) instruction stream over the
// abstract domain, and the BytecodeAnalysis wrapper the rest of the
// pipeline queries. The engine walks an abstract lattice rather than
// executing concrete bytecode; no gas is accounted and no storage is
// modelled.
package vm

import (
	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/core/word"
	"github.com/berith-chain/devmproofgen/log"
)

// maxTraceRounds bounds the trace engine's worklist, the analysis-side
// counterpart to the liveness fixpoint's safety counter: reaching it
// signals pathological (likely cyclic-without-join-progress) input rather
// than a legitimate program.
const maxTraceRounds = 1_000_000

// LatticeState is one reached abstract machine state: a symbolic stack
// (index 0 = top) and a symbolic free-memory-pointer. It implements
// state.Snapshot so core/state.From can lift it straight into an
// AbstractState.
type LatticeState struct {
	stack []word.AbstractWord
	fmp   word.AbstractWord
}

func (l LatticeState) Height() int                   { return len(l.stack) }
func (l LatticeState) Peek(i int) word.AbstractWord  { return l.peek(i) }
func (l LatticeState) FreeMemPtr() word.AbstractWord { return l.fmp }

func (l LatticeState) push(w word.AbstractWord) LatticeState {
	return LatticeState{stack: append(append([]word.AbstractWord(nil), l.stack...), w), fmp: l.fmp}
}

func (l LatticeState) pop(n int) LatticeState {
	if n > len(l.stack) {
		n = len(l.stack)
	}
	return LatticeState{stack: append([]word.AbstractWord(nil), l.stack[:len(l.stack)-n]...), fmp: l.fmp}
}

func (l LatticeState) peek(i int) word.AbstractWord {
	if i < 0 || i >= len(l.stack) {
		return word.Unknown
	}
	return l.stack[len(l.stack)-1-i]
}

func (l LatticeState) withFmp(w word.AbstractWord) LatticeState {
	return LatticeState{stack: l.stack, fmp: w}
}

func (l LatticeState) dup(n int) LatticeState {
	return l.push(l.peek(n - 1))
}

func (l LatticeState) swap(n int) LatticeState {
	out := append([]word.AbstractWord(nil), l.stack...)
	top := len(out) - 1
	out[top], out[top-n] = out[top-n], out[top]
	return LatticeState{stack: out, fmp: l.fmp}
}

// TraceEngine interprets an instruction sequence over the abstract
// domain, recording every lattice state reached at every position.
type TraceEngine struct {
	instrs  []bytecode.Instruction
	pcIndex map[int]int
}

// NewTraceEngine builds a trace engine for one (already havoc-inserted)
// instruction sequence, indexing real (non-virtual) instructions by PC so
// resolved JUMP/JUMPI/RJUMP targets can be looked up.
func NewTraceEngine(instrs []bytecode.Instruction) *TraceEngine {
	idx := make(map[int]int, len(instrs))
	for i, insn := range instrs {
		if insn.Kind == bytecode.KindHavoc {
			continue
		}
		if _, exists := idx[insn.PC]; !exists {
			idx[insn.PC] = i
		}
	}
	return &TraceEngine{instrs: instrs, pcIndex: idx}
}

type succ struct {
	idx int
	st  LatticeState
}

// Run interprets the instruction stream from the empty initial state and
// returns, per instruction-sequence position, the set of lattice states
// reached there (raw, not yet de-duplicated into AbstractStates; that is
// BytecodeAnalysis's job).
func (e *TraceEngine) Run() [][]LatticeState {
	reached := make([][]LatticeState, len(e.instrs))
	worklist := []succ{{idx: 0, st: LatticeState{}}}
	rounds := 0
	for len(worklist) > 0 {
		rounds++
		if rounds > maxTraceRounds {
			log.Error("vm.TraceEngine.Run / exceeded safety counter", "rounds", rounds)
			break
		}
		cur := worklist[0]
		worklist = worklist[1:]
		if cur.idx < 0 || cur.idx >= len(e.instrs) {
			continue
		}
		if containsState(reached[cur.idx], cur.st) {
			continue
		}
		reached[cur.idx] = append(reached[cur.idx], cur.st)

		worklist = append(worklist, e.step(cur.idx, e.instrs[cur.idx], cur.st)...)
	}
	return reached
}

// step executes one instruction symbolically and returns the successor
// (index, state) pairs to continue exploring.
func (e *TraceEngine) step(idx int, insn bytecode.Instruction, cur LatticeState) []succ {
	fallthruIdx := idx + 1

	switch insn.Kind {
	case bytecode.KindPush:
		v := word.FromBytes(insn.Immediate)
		return []succ{{fallthruIdx, cur.push(word.Known(v))}}
	case bytecode.KindDup:
		return []succ{{fallthruIdx, cur.dup(insn.N)}}
	case bytecode.KindSwap:
		return []succ{{fallthruIdx, cur.swap(insn.N)}}
	case bytecode.KindHavoc:
		// Models loss of knowledge from an external effect: the stack
		// itself is untouched (the triggering call's own pops/pushes
		// already ran), but the free-memory-pointer can no longer be
		// assumed stable.
		return []succ{{fallthruIdx, cur.withFmp(word.Unknown)}}
	case bytecode.KindJump:
		target := cur.peek(0)
		after := cur.pop(1)
		if !target.IsKnown() {
			log.Warn("vm.TraceEngine.step / unresolved JUMP target", "pc", insn.PC)
			return nil
		}
		ti, ok := e.pcIndex[int(target.Value().Uint64())]
		if !ok {
			log.Warn("vm.TraceEngine.step / JUMP target not a valid instruction", "pc", insn.PC)
			return nil
		}
		return []succ{{ti, after}}
	case bytecode.KindJumpI:
		target := cur.peek(0)
		after := cur.pop(2)
		out := []succ{{fallthruIdx, after}}
		if target.IsKnown() {
			if ti, ok := e.pcIndex[int(target.Value().Uint64())]; ok {
				out = append(out, succ{ti, after})
			} else {
				log.Warn("vm.TraceEngine.step / JUMPI target not a valid instruction", "pc", insn.PC)
			}
		} else {
			log.Warn("vm.TraceEngine.step / unresolved JUMPI target", "pc", insn.PC)
		}
		return out
	case bytecode.KindRJump:
		ti, ok := e.pcIndex[insn.PC+insn.Length+insn.N]
		if !ok {
			log.Warn("vm.TraceEngine.step / RJUMP target not a valid instruction", "pc", insn.PC)
			return nil
		}
		return []succ{{ti, cur}}
	case bytecode.KindRJumpI:
		after := cur.pop(1)
		out := []succ{{fallthruIdx, after}}
		if ti, ok := e.pcIndex[insn.PC+insn.Length+insn.N]; ok {
			out = append(out, succ{ti, after})
		} else {
			log.Warn("vm.TraceEngine.step / RJUMPI target not a valid instruction", "pc", insn.PC)
		}
		return out
	default:
		if insn.Op == bytecode.STOP || insn.Op == bytecode.RETURN || insn.Op == bytecode.REVERT ||
			insn.Op == bytecode.INVALID || insn.Op == bytecode.SELFDESTRUCT {
			return nil
		}
		switch insn.Op {
		case bytecode.MSTORE:
			return []succ{{fallthruIdx, stepMstore(cur)}}
		case bytecode.MSTORE8:
			return []succ{{fallthruIdx, stepMstore8(cur)}}
		case bytecode.MLOAD:
			return []succ{{fallthruIdx, stepMload(cur)}}
		}
		next := cur.pop(insn.Pops)
		for i := 0; i < insn.Pushes; i++ {
			next = next.push(word.Unknown)
		}
		return []succ{{fallthruIdx, next}}
	}
}

// fmpOffset is where the free-memory-pointer conventionally lives.
const fmpOffset = 0x40

// stepMstore tracks the one memory cell the abstract domain cares about:
// a store to exactly 0x40 installs the stored value as the FMP, a store
// whose 32-byte span may overlap 0x40 (or whose address is unknown)
// invalidates it, and any other store leaves it alone.
func stepMstore(cur LatticeState) LatticeState {
	addr, val := cur.peek(0), cur.peek(1)
	next := cur.pop(2)
	switch {
	case !addr.IsKnown() || !addr.Value().FitsInt():
		return next.withFmp(word.Unknown)
	case addr.Value().Int() == fmpOffset:
		return next.withFmp(val)
	case addr.Value().Int() < fmpOffset+32 && addr.Value().Int()+32 > fmpOffset:
		return next.withFmp(word.Unknown)
	default:
		return next
	}
}

func stepMstore8(cur LatticeState) LatticeState {
	addr := cur.peek(0)
	next := cur.pop(2)
	if !addr.IsKnown() || !addr.Value().FitsInt() {
		return next.withFmp(word.Unknown)
	}
	if a := addr.Value().Int(); a >= fmpOffset && a < fmpOffset+32 {
		return next.withFmp(word.Unknown)
	}
	return next
}

// stepMload reads the FMP back when the load address is exactly 0x40;
// every other load produces Unknown.
func stepMload(cur LatticeState) LatticeState {
	addr := cur.peek(0)
	next := cur.pop(1)
	if addr.IsKnown() && addr.Value().FitsInt() && addr.Value().Int() == fmpOffset {
		return next.push(cur.fmp)
	}
	return next.push(word.Unknown)
}

func containsState(states []LatticeState, st LatticeState) bool {
	for _, s := range states {
		if latticeEqual(s, st) {
			return true
		}
	}
	return false
}

func latticeEqual(a, b LatticeState) bool {
	if len(a.stack) != len(b.stack) || !a.fmp.Eq(b.fmp) {
		return false
	}
	for i := range a.stack {
		if !a.stack[i].Eq(b.stack[i]) {
			return false
		}
	}
	return true
}
