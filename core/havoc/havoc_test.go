package havoc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/berith-chain/devmproofgen/core/bytecode"
)

func TestInsertAfterCallFamily(t *testing.T) {
	insns := bytecode.Disassemble([]byte{byte(bytecode.STATICCALL), byte(bytecode.STOP)})
	out := Insert(insns)
	require.Len(t, out, 3)
	require.Equal(t, bytecode.KindHavoc, out[1].Kind)
	require.Equal(t, 6, out[1].N) // STATICCALL pops 6
	require.Equal(t, out[0].PC, out[1].PC)
}

func TestInsertAfterCreate(t *testing.T) {
	insns := bytecode.Disassemble([]byte{byte(bytecode.CREATE2)})
	out := Insert(insns)
	require.Len(t, out, 2)
	require.Equal(t, bytecode.KindHavoc, out[1].Kind)
	require.Equal(t, 4, out[1].N)
}

func TestNoInsertionForLocalEffects(t *testing.T) {
	insns := bytecode.Disassemble([]byte{
		byte(bytecode.PUSH1), 0x01,
		byte(bytecode.PUSH1), 0x02,
		byte(bytecode.SSTORE),
		byte(bytecode.STOP),
	})
	out := Insert(insns)
	require.Equal(t, len(insns), len(out))
	for _, insn := range out {
		require.NotEqual(t, bytecode.KindHavoc, insn.Kind)
	}
}
