package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/core/havoc"
	"github.com/berith-chain/devmproofgen/core/vm"
)

func analyze(t *testing.T, hexCode string) *vm.BytecodeAnalysis {
	t.Helper()
	raw, err := bytecode.ParseHex(hexCode)
	require.NoError(t, err)
	insns := havoc.Insert(bytecode.Disassemble(raw))
	return vm.Analyze(insns)
}

func TestHelloPush(t *testing.T) {
	a := analyze(t, "0x6001600255")
	blocks, err := Build(a, 65535, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	b := blocks[0]
	require.Equal(t, 0, b.PC)
	require.Nil(t, b.Next)
	require.Len(t, b.Bytecodes, 3)
	for _, bc := range b.Bytecodes {
		require.Equal(t, KindUnit, bc.Kind)
	}
	entry := b.EntryStates()
	require.Len(t, entry, 1)
	require.Equal(t, 0, entry[0].Height())
	require.Len(t, b.States, len(b.Bytecodes))
}

func TestSimpleJump(t *testing.T) {
	// PUSH1 3; JUMP; JUMPDEST@3; STOP.
	a := analyze(t, "0x6003565b00")
	blocks, err := Build(a, 65535, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	require.Equal(t, 0, blocks[0].PC)
	last := blocks[0].Bytecodes[len(blocks[0].Bytecodes)-1]
	require.Equal(t, KindJump, last.Kind)
	require.Equal(t, []int{3}, last.Targets)

	require.Equal(t, 3, blocks[1].PC)
	require.Nil(t, blocks[1].Next)
	require.Len(t, blocks[1].Bytecodes, 2)
}

func TestConditionalDispatch(t *testing.T) {
	// PUSH1 0 (condition); PUSH1 7 (destination); JUMPI; PUSH1 1 (fall-through
	// block@5); JUMPDEST@7; STOP.
	a := analyze(t, "0x600060075760015b00")
	blocks, err := Build(a, 65535, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	require.Equal(t, 0, blocks[0].PC)
	require.NotNil(t, blocks[0].Next)
	require.Equal(t, 5, *blocks[0].Next)
	last := blocks[0].Bytecodes[len(blocks[0].Bytecodes)-1]
	require.Equal(t, KindJumpI, last.Kind)
	require.Equal(t, []int{7}, last.Targets)

	require.Equal(t, 5, blocks[1].PC)
	require.Equal(t, 7, blocks[2].PC)
}

func TestMaskRecognition(t *testing.T) {
	a := analyze(t, "0x60ff16")
	blocks, err := Build(a, 65535, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Len(t, blocks[0].Bytecodes, 2)
	require.Equal(t, KindUnit, blocks[0].Bytecodes[0].Kind)
	require.Equal(t, KindMask, blocks[0].Bytecodes[1].Kind)
	require.Equal(t, 8, blocks[0].Bytecodes[1].MaskWidth)
}

func TestEmptyStreamYieldsNoBlocks(t *testing.T) {
	a := analyze(t, "0x")
	blocks, err := Build(a, 65535, nil)
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestJumpDestAtPCZeroDoesNotSplit(t *testing.T) {
	a := analyze(t, "0x5b00") // JUMPDEST STOP
	blocks, err := Build(a, 65535, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, 0, blocks[0].PC)
}

func TestCoverageEveryInstructionInExactlyOneBlock(t *testing.T) {
	// Conditional dispatch split with a tiny budget: every instruction
	// position must land in exactly one block's [StartIdx, next StartIdx)
	// span, with block entry PCs strictly increasing.
	a := analyze(t, "0x600060075760015b00")
	blocks, err := Build(a, 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, blocks)

	insns := a.Instructions()
	require.Equal(t, 0, blocks[0].StartIdx)
	for i, b := range blocks {
		end := len(insns)
		if i+1 < len(blocks) {
			end = blocks[i+1].StartIdx
		}
		require.Greater(t, end, b.StartIdx)
		require.Equal(t, insns[b.StartIdx].PC, b.PC)
		if i > 0 {
			require.Greater(t, b.PC, blocks[i-1].PC)
		}
	}
}

func TestJumpTargetsStrictlyIncreasing(t *testing.T) {
	a := analyze(t, "0x600060075760015b00")
	blocks, err := Build(a, 65535, nil)
	require.NoError(t, err)
	for _, b := range blocks {
		for _, bc := range b.Bytecodes {
			if bc.Kind != KindJump && bc.Kind != KindJumpI {
				continue
			}
			for i := 1; i < len(bc.Targets); i++ {
				require.Greater(t, bc.Targets[i], bc.Targets[i-1])
			}
		}
	}
}

func TestBudgetExhaustionForcesNextWithoutForgingTerminator(t *testing.T) {
	a := analyze(t, "0x600160026003") // PUSH1 1; PUSH1 2; PUSH1 3 (no terminator)
	blocks, err := Build(a, 2, nil)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.NotNil(t, blocks[0].Next)
	require.Equal(t, 4, *blocks[0].Next) // pc after two PUSH1s
	require.Nil(t, blocks[1].Next)
}
