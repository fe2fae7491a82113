package cfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/berith-chain/devmproofgen/core/block"
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

// TestOwnershipInnerRootWins: two roots, r1=0 dominating r2=3, with a
// block reachable from the entry only by passing through r2. r2 owns it;
// r1, despite dominating it, does not.
func TestOwnershipInnerRootWins(t *testing.T) {
	// PUSH1 3; JUMP; JUMPDEST@3; PUSH1 7; JUMP; JUMPDEST@7; STOP.
	a := analyze(t, "0x6003565b6007565b00")
	c, err := Build(0, a, 65535, nil, 0)
	require.NoError(t, err)
	require.Len(t, c.Blocks(), 3)

	c.AddRoot(0)
	c.AddRoot(3)

	outerRoot, innerRoot := 0, 3
	blk7 := mustFindBlock(t, c, 7)
	require.True(t, c.Owns(innerRoot, blk7))
	require.False(t, c.Owns(outerRoot, blk7))
}

func TestOwnershipIsExclusive(t *testing.T) {
	a := analyze(t, "0x6003565b6007565b00")
	c, err := Build(0, a, 65535, nil, 0)
	require.NoError(t, err)
	c.AddRoot(0)
	c.AddRoot(3)

	for _, b := range c.Blocks() {
		owners := 0
		for _, r := range c.Roots() {
			if c.Owns(r, b) {
				owners++
			}
		}
		require.Equal(t, 1, owners, "block at pc=%d", b.PC)
	}
}

func TestUnownedBlockIsUtil(t *testing.T) {
	a := analyze(t, "0x6003565b6007565b00")
	c, err := Build(0, a, 65535, nil, 0)
	require.NoError(t, err)
	c.AddRoot(0) // only the dispatcher is a root; nothing else registered
	require.Empty(t, c.Unowned())

	c2, err := Build(0, a, 65535, nil, 0)
	require.NoError(t, err)
	// No roots registered at all: every block is unowned.
	require.Len(t, c2.Unowned(), 3)
}

func mustFindBlock(t *testing.T, c *ControlFlowGraph, pc int) *block.Block {
	t.Helper()
	for _, b := range c.Blocks() {
		if b.PC == pc {
			return b
		}
	}
	t.Fatalf("no block at pc=%d", pc)
	return nil
}
