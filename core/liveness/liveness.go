// Package liveness implements the backwards liveness dataflow analysis: a
// NecessaryState fixpoint over a block sequence that determines which
// stack slots actually influence an observable downstream effect, so the
// emitter can safely collapse everything else to None.
package liveness

import (
	"fmt"

	"github.com/berith-chain/devmproofgen/core/block"
	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/log"
)

// maxFixpointRounds bounds the fixpoint loop: reaching it on malformed
// input is a fatal bug, not a silently-truncated result.
const maxFixpointRounds = 100_000

// Minimise runs the liveness fixpoint over blocks and then prunes every
// block's entry states, clearing any stack slot the fixpoint found
// unnecessary. It mutates blocks in place.
func Minimise(blocks []*block.Block) error {
	if err := fixpoint(blocks); err != nil {
		return err
	}
	Prune(blocks)
	return nil
}

// Analyse runs only the fixpoint (without pruning), for callers that prune
// selectively afterwards (the driver's --minimise keeps the util group's
// entry states intact; --minimise-all prunes it too).
func Analyse(blocks []*block.Block) error {
	return fixpoint(blocks)
}

// Prune clears any stack slot the fixpoint found unnecessary from every
// AbstractState reached at each block's entry.
func Prune(blocks []*block.Block) {
	for _, b := range blocks {
		_, max := b.StackBounds()
		necessary := b.EntryNecessary()
		for i := 0; i < max; i++ {
			if !necessary.Get(i) {
				b.ClearStackItem(i)
			}
		}
	}
}

func fixpoint(blocks []*block.Block) error {
	pcToBlock := make(map[int]*block.Block, len(blocks))
	for _, b := range blocks {
		pcToBlock[b.PC] = b
	}

	rounds := 0
	for {
		rounds++
		if rounds > maxFixpointRounds {
			return fmt.Errorf("liveness: fixpoint did not converge after %d rounds (malformed input?)", rounds)
		}
		changedAny := false
		for i := len(blocks) - 1; i >= 0; i-- {
			if stepBlock(blocks[i], pcToBlock) {
				changedAny = true
			}
		}
		if !changedAny {
			log.Debug("liveness.fixpoint / converged", "rounds", rounds)
			return nil
		}
	}
}

// stepBlock walks one block's bytecodes backwards, seeding from the
// fall-through successor's entry NecessaryState (or bottom, if none),
// applying the transfer function at each bytecode and joining the running
// state into the per-point NecessaryState as it goes. Reports whether any
// join changed anything.
func stepBlock(b *block.Block, pcToBlock map[int]*block.Block) bool {
	cur := seed(b, pcToBlock)
	changed := false
	for i := len(b.Bytecodes) - 1; i >= 0; i-- {
		cur = transfer(b.Bytecodes[i], cur, pcToBlock)
		joined, ch := b.States[i].Necessary.Join(cur)
		b.States[i].Necessary = joined
		if ch {
			changed = true
		}
	}
	return changed
}

func seed(b *block.Block, pcToBlock map[int]*block.Block) block.NecessaryState {
	if b.Next == nil {
		return block.NewNecessaryState(0)
	}
	if succ, ok := pcToBlock[*b.Next]; ok {
		return succ.EntryNecessary().Clone()
	}
	return block.NewNecessaryState(0)
}

// mergedTargetEntry joins together the entry NecessaryState of every block
// named in targets (by PC); missing/unbuilt targets contribute bottom.
func mergedTargetEntry(targets []int, pcToBlock map[int]*block.Block) block.NecessaryState {
	out := block.NewNecessaryState(0)
	for _, pc := range targets {
		if tb, ok := pcToBlock[pc]; ok {
			out, _ = out.Join(tb.EntryNecessary())
		}
	}
	return out
}

// transfer computes the state before bc from the state after it (the
// analysis runs backwards).
func transfer(bc block.Bytecode, after block.NecessaryState, pcToBlock map[int]*block.Block) block.NecessaryState {
	switch bc.Kind {
	case block.KindComment:
		return after

	case block.KindAssert:
		out := after.Clone()
		for _, i := range bc.AssertUses {
			out.Set(i, true)
		}
		return out

	case block.KindMask:
		out := after.Clone()
		u := out.Get(0)
		out.Pop()
		out.Push(u)
		out.Push(true)
		return out

	case block.KindUnit:
		return transferUnit(bc.Unit, after)

	case block.KindJumpI:
		joined, _ := after.Join(mergedTargetEntry(bc.Targets, pcToBlock))
		out := joined.Clone()
		out.Push(false)
		out.Push(true)
		return out

	case block.KindJump:
		joined, _ := after.Join(mergedTargetEntry(bc.Targets, pcToBlock))
		out := joined.Clone()
		out.Push(true)
		return out

	default:
		return after
	}
}

// transferUnit handles the Unit(insn) variant: the DUP/SWAP/MSTORE
// special cases, falling back to the generic pop-pushes/push-pops rule.
func transferUnit(insn bytecode.Instruction, after block.NecessaryState) block.NecessaryState {
	out := after.Clone()
	switch {
	case insn.Kind == bytecode.KindDup:
		n := insn.N
		t := out.Get(0) || out.Get(n)
		out.Set(n, t)
		out.Pop()
		return out

	case insn.Kind == bytecode.KindSwap:
		n := insn.N
		top, nth := out.Get(0), out.Get(n)
		out.Set(0, nth)
		out.Set(n, top)
		return out

	case insn.Op == bytecode.MSTORE || insn.Op == bytecode.MSTORE8:
		out.Pop()
		out.Push(false) // stored value: approximated dead
		out.Push(true)  // address: always consumed
		return out

	default:
		u := false
		for i := 0; i < insn.Pushes; i++ {
			u = u || out.Get(0)
			out.Pop()
		}
		for i := 0; i < insn.Pops; i++ {
			out.Push(u)
		}
		return out
	}
}
