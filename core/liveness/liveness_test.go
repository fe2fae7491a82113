package liveness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/berith-chain/devmproofgen/core/block"
	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/core/havoc"
	"github.com/berith-chain/devmproofgen/core/vm"
)

func build(t *testing.T, hexCode string, blocksize int) []*block.Block {
	t.Helper()
	raw, err := bytecode.ParseHex(hexCode)
	require.NoError(t, err)
	insns := havoc.Insert(bytecode.Disassemble(raw))
	a := vm.Analyze(insns)
	blocks, err := block.Build(a, blocksize, nil)
	require.NoError(t, err)
	return blocks
}

func TestLivenessPrunesDeadPush(t *testing.T) {
	// PUSH1 0x42; POP; STOP, split one instruction per block so the block
	// containing the POP enters at height 1. The pushed value is dead
	// (nothing observes it before the POP discards it), so after
	// minimisation its slot in that block's entry state must be None.
	blocks := build(t, "0x60425000", 1)
	require.Len(t, blocks, 3)
	popBlock := blocks[1]
	require.Equal(t, 2, popBlock.PC)

	entry := popBlock.EntryStates()
	require.Len(t, entry, 1)
	require.NotNil(t, entry[0].Peek(0)) // known 0x42 before pruning

	require.NoError(t, Minimise(blocks))

	require.False(t, popBlock.EntryNecessary().Get(0))
	require.Nil(t, popBlock.EntryStates()[0].Peek(0))
}

func TestLivenessKeepsOverflowWitness(t *testing.T) {
	// PUSH1 5; PUSH1 7; PUSH1 7 (jump target); JUMP; JUMPDEST@7; ADD; STOP,
	// with the overflow-check hook. Nothing downstream reads ADD's result
	// (it falls straight into STOP), so without the Assert both operands
	// would be pruned as dead; with it, they must survive.
	raw, err := bytecode.ParseHex("0x600560076007565b0100")
	require.NoError(t, err)
	insns := havoc.Insert(bytecode.Disassemble(raw))
	a := vm.Analyze(insns)
	blocks, err := block.Build(a, 65535, block.OverflowChecks)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, 7, blocks[1].PC)

	require.NoError(t, Minimise(blocks))

	require.True(t, blocks[1].EntryNecessary().Get(0))
	require.True(t, blocks[1].EntryNecessary().Get(1))
}

func TestFixpointIsStable(t *testing.T) {
	// Once Analyse converges, a second run must change nothing: every
	// per-point NecessaryState is already a fixed point of the transfer
	// function.
	blocks := build(t, "0x600060075760015b00", 65535)
	require.NoError(t, Analyse(blocks))

	before := make([][]block.NecessaryState, len(blocks))
	for i, b := range blocks {
		for _, st := range b.States {
			before[i] = append(before[i], st.Necessary.Clone())
		}
	}

	require.NoError(t, Analyse(blocks))
	for i, b := range blocks {
		for j, st := range b.States {
			joined, changed := before[i][j].Join(st.Necessary)
			require.False(t, changed)
			require.Equal(t, before[i][j], joined)
		}
	}
}

func TestNecessaryStateJoinIdempotentAndMonotone(t *testing.T) {
	a := block.NewNecessaryState(3)
	a.Set(1, true)
	joined, changed := a.Join(a)
	require.False(t, changed)
	require.Equal(t, a, joined)

	b := block.NewNecessaryState(3)
	b.Set(0, true)
	merged, didChange := a.Join(b)
	require.True(t, didChange)
	require.True(t, merged.Get(0))
	require.True(t, merged.Get(1))
}
