package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/core/havoc"
)

// asm builds a raw bytecode sequence from a flat list of byte values, so
// test programs read close to the disassembly they exercise.
func asm(b ...byte) []byte { return b }

func TestAnalyzeStraightLineConstantPropagation(t *testing.T) {
	// PUSH1 0x40; PUSH1 0x02; ADD; STOP
	code := asm(byte(bytecode.PUSH1), 0x40, byte(bytecode.PUSH1), 0x02, byte(bytecode.ADD), byte(bytecode.STOP))
	insns := havoc.Insert(bytecode.Disassemble(code))
	a := Analyze(insns)

	require.True(t, a.IsReachable(0))
	min, max := a.StackSizeBounds(2) // at ADD
	require.Equal(t, 2, min)
	require.Equal(t, 2, max)

	vals, ok := a.StackValues(0, 1) // top of stack entering the 2nd PUSH
	require.True(t, ok)
	require.Len(t, vals, 1)
	require.Equal(t, uint64(0x40), vals[0].Uint64())
}

func TestAnalyzeResolvesKnownJump(t *testing.T) {
	// PUSH1 <dest>; JUMP; JUMPDEST; STOP
	code := asm(byte(bytecode.PUSH1), 0x03, byte(bytecode.JUMP), byte(bytecode.JUMPDEST), byte(bytecode.STOP))
	insns := havoc.Insert(bytecode.Disassemble(code))
	a := Analyze(insns)

	jumpIdx := 1 // PUSH1, JUMP, JUMPDEST, STOP => index 1 is JUMP
	require.Equal(t, bytecode.KindJump, insns[jumpIdx].Kind)

	targets, err := a.BranchTargets(jumpIdx)
	require.NoError(t, err)
	require.Equal(t, []int{2}, targets) // JUMPDEST is sequence index 2

	require.True(t, a.IsReachable(2))
	require.False(t, a.IsReachable(1000000))
}

func TestAnalyzeUnresolvedJumpIsHardError(t *testing.T) {
	// CALLDATALOAD (unknown); JUMP
	code := asm(byte(bytecode.CALLDATALOAD), byte(bytecode.JUMP))
	insns := havoc.Insert(bytecode.Disassemble(code))
	a := Analyze(insns)

	_, err := a.BranchTargets(1)
	require.Error(t, err)
}

func TestHavocClobbersFreeMemPtrNotStack(t *testing.T) {
	// PUSH1 0x80; PUSH1 0x40; MSTORE (install the FMP); PUSH1 0 (x7); CALL; STOP
	code := asm(
		byte(bytecode.PUSH1), 0x80,
		byte(bytecode.PUSH1), 0x40,
		byte(bytecode.MSTORE),
		byte(bytecode.PUSH1), 0x00,
		byte(bytecode.PUSH1), 0x00,
		byte(bytecode.PUSH1), 0x00,
		byte(bytecode.PUSH1), 0x00,
		byte(bytecode.PUSH1), 0x00,
		byte(bytecode.PUSH1), 0x00,
		byte(bytecode.PUSH1), 0x00,
		byte(bytecode.CALL),
		byte(bytecode.STOP),
	)
	insns := havoc.Insert(bytecode.Disassemble(code))
	// The havoc pass must have spliced a HAVOC(7) in right after CALL.
	var sawHavoc bool
	for _, insn := range insns {
		if insn.Kind == bytecode.KindHavoc {
			sawHavoc = true
			require.Equal(t, 7, insn.N)
		}
	}
	require.True(t, sawHavoc)

	a := Analyze(insns)
	min, max := a.StackSizeBounds(len(insns) - 1) // at STOP, after CALL+HAVOC
	require.Equal(t, 1, min)
	require.Equal(t, 1, max)

	require.Equal(t, []uint64{0x80}, a.FreememValues(len(insns)-2)) // at HAVOC: still known
	require.Nil(t, a.FreememValues(len(insns)-1))                   // at STOP: clobbered
}

func TestFreeMemPtrTracksStoresToThe40Slot(t *testing.T) {
	// PUSH1 0x80; PUSH1 0x40; MSTORE; PUSH1 0x40; MLOAD; STOP: the
	// canonical Solidity prologue shape: install the FMP, read it back.
	code := asm(
		byte(bytecode.PUSH1), 0x80,
		byte(bytecode.PUSH1), 0x40,
		byte(bytecode.MSTORE),
		byte(bytecode.PUSH1), 0x40,
		byte(bytecode.MLOAD),
		byte(bytecode.STOP),
	)
	insns := havoc.Insert(bytecode.Disassemble(code))
	a := Analyze(insns)

	require.Equal(t, []uint64{0x80}, a.FreememValues(3)) // after the MSTORE
	vals, ok := a.StackValues(0, 5)                      // MLOAD result at STOP
	require.True(t, ok)
	require.Len(t, vals, 1)
	require.Equal(t, uint64(0x80), vals[0].Uint64())

	require.Nil(t, a.FreememValues(0)) // nothing written yet
}

func TestBranchTargetsCachesAcrossCalls(t *testing.T) {
	code := asm(byte(bytecode.PUSH1), 0x04, byte(bytecode.JUMP), byte(bytecode.JUMPDEST), byte(bytecode.STOP))
	insns := havoc.Insert(bytecode.Disassemble(code))
	a := Analyze(insns)

	first, err := a.BranchTargets(1)
	require.NoError(t, err)
	second, err := a.BranchTargets(1)
	require.NoError(t, err)
	require.Equal(t, first, second)
}
