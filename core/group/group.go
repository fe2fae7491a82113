// Package group splits a ControlFlowGraph's blocks into one BlockGroup
// per root plus a synthetic "util" remainder, and computes each group's
// inter-group dependency edges by pairwise touch-checking.
package group

import (
	"sort"
	"strconv"

	"github.com/berith-chain/devmproofgen/core/block"
	"github.com/berith-chain/devmproofgen/core/cfg"
)

// UtilName is the name given to the synthetic group holding every block
// not owned by a designated root.
const UtilName = "util"

// BlockGroup is one named partition of a code section's blocks: the
// blocks owned by a single root (or, for the util group, left over), plus
// the indices of other groups in the same split that this group can reach
// in one step.
type BlockGroup struct {
	ID     int
	Name   string
	Root   *int // nil for the util group
	Blocks []*block.Block
	Deps   []int
}

// Split partitions c's blocks into one BlockGroup per registered root
// (named via names, keyed by root PC) plus a trailing util group, then
// fills in each group's Deps by checking, for every pair of groups,
// whether any block in the first directly touches (per c.Touches) any
// block in the second.
func Split(c *cfg.ControlFlowGraph, names map[int]string) []*BlockGroup {
	if len(c.Blocks()) == 0 {
		return nil
	}
	roots := append([]int(nil), c.Roots()...)
	sort.Ints(roots)

	groups := make([]*BlockGroup, 0, len(roots)+1)
	for _, r := range roots {
		root := r
		name := names[r]
		if name == "" {
			name = defaultName(r)
		}
		groups = append(groups, &BlockGroup{
			ID:     len(groups),
			Name:   name,
			Root:   &root,
			Blocks: c.Owned(r),
		})
	}
	groups = append(groups, &BlockGroup{
		ID:     len(groups),
		Name:   UtilName,
		Blocks: c.Unowned(),
	})

	for _, g := range groups {
		for _, other := range groups {
			if other.ID == g.ID {
				continue
			}
			if anyTouches(c, g.Blocks, other.Blocks) {
				g.Deps = append(g.Deps, other.ID)
			}
		}
	}
	return groups
}

func anyTouches(c *cfg.ControlFlowGraph, from, to []*block.Block) bool {
	for _, a := range from {
		for _, b := range to {
			if c.Touches(a.PC, b.PC) {
				return true
			}
		}
	}
	return false
}

func defaultName(pc int) string {
	return "fn_" + strconv.Itoa(pc)
}
