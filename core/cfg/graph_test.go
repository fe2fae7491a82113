package cfg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGraphDiscoversReachableRuns(t *testing.T) {
	// PUSH1 3; JUMP; JUMPDEST@3; PUSH1 7; JUMP; JUMPDEST@7; STOP.
	a := analyze(t, "0x6003565b6007565b00")
	g := BuildGraph(a, 0)
	require.False(t, g.Partial())
	require.Equal(t, 3, g.NodeCount())
	require.Equal(t, 0, g.NodeOf(0))
	require.Equal(t, []int{g.NodeOf(3)}, g.Successors(g.NodeOf(0)))
	require.Equal(t, []int{g.NodeOf(7)}, g.Successors(g.NodeOf(3)))
	require.Empty(t, g.Successors(g.NodeOf(7)))
}

func TestGraphToleratesBranchIntoMidRun(t *testing.T) {
	// PUSH1 0; PUSH1 7; JUMPI; PUSH1 1; ADD@7; STOP@8: the JUMPI lands on
	// the ADD in the middle of the fall-through run, so discovery walks
	// that tail twice. A handful of overlapping re-walks is tolerated;
	// only a pathological pile-up trips the guard.
	a := analyze(t, "0x600060075760010100")
	g := BuildGraph(a, 0)
	require.False(t, g.Partial())
	require.Equal(t, 3, g.NodeCount())
	require.NotEqual(t, -1, g.NodeOf(7))
	require.Equal(t, g.NodeOf(7), g.NodeOf(8))
}

func TestConstructionGuardTripsOnPathologicalRevisit(t *testing.T) {
	g := newConstructionGuard(1000)
	for i := 0; i <= revisitThreshold; i++ {
		require.True(t, g.step(42))
	}
	require.False(t, g.step(42))
}

func TestConstructionGuardEnforcesExactLimit(t *testing.T) {
	g := newConstructionGuard(3)
	require.True(t, g.step(1))
	require.True(t, g.step(2))
	require.True(t, g.step(3))
	require.False(t, g.step(4))
}
