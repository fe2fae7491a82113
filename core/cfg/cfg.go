package cfg

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/berith-chain/devmproofgen/core/block"
	"github.com/berith-chain/devmproofgen/core/vm"
)

// ControlFlowGraph amalgamates the basic-block graph, its dominator and
// reachability sets, the super-block decomposition and the designated
// roots: everything needed to assign each super-block to exactly one
// owning root. The two decompositions are independent; super-blocks are
// keyed into the graph by their entry PC.
type ControlFlowGraph struct {
	CID int // code-section identifier

	graph      *Graph
	dominators []mapset.Set
	reaches    []mapset.Set
	blocks     []*block.Block
	roots      []int
}

// Build constructs a ControlFlowGraph for one code section: the basic-block
// graph (best-effort if construction hits its limit), dominators,
// transitive closure, and the super-block decomposition from
// core/block.Build. No roots are registered yet; callers add them with
// AddRoot.
func Build(cid int, analysis *vm.BytecodeAnalysis, blocksize int, hook block.PreconditionFn, limit int) (*ControlFlowGraph, error) {
	g := BuildGraph(analysis, limit)
	blocks, err := block.Build(analysis, blocksize, hook)
	if err != nil {
		return nil, err
	}
	return &ControlFlowGraph{
		CID:        cid,
		graph:      g,
		dominators: dominators(g),
		reaches:    reaches(g),
		blocks:     blocks,
	}, nil
}

// Partial reports whether the underlying basic-block graph was built
// best-effort after hitting its construction limit.
func (c *ControlFlowGraph) Partial() bool { return c.graph.Partial() }

// Blocks returns the super-block decomposition.
func (c *ControlFlowGraph) Blocks() []*block.Block { return c.blocks }

// Roots returns the PCs registered as entry points, in registration order.
func (c *ControlFlowGraph) Roots() []int { return c.roots }

// AddRoot designates pc as an entry-point root for ownership partitioning.
func (c *ControlFlowGraph) AddRoot(pc int) { c.roots = append(c.roots, pc) }

// Dominates reports whether parent dominates child (both absolute byte
// offsets). A PC outside the discovered graph dominates nothing and is
// dominated by nothing.
func (c *ControlFlowGraph) Dominates(parent, child int) bool {
	gp, gc := c.graph.NodeOf(parent), c.graph.NodeOf(child)
	if gp < 0 || gc < 0 {
		return false
	}
	return c.dominators[gc].Contains(gp)
}

// Reaches reports whether parent can reach child through zero or more
// edges; zero steps counts, so every PC reaches itself.
func (c *ControlFlowGraph) Reaches(parent, child int) bool {
	if parent == child {
		return true
	}
	gp, gc := c.graph.NodeOf(parent), c.graph.NodeOf(child)
	if gp < 0 || gc < 0 {
		return false
	}
	return c.reaches[gp].Contains(gc)
}

// Touches reports whether there is a direct edge from the node hosting
// from to the node hosting to; core/group uses it to compute inter-group
// dependencies.
func (c *ControlFlowGraph) Touches(from, to int) bool {
	gf, gt := c.graph.NodeOf(from), c.graph.NodeOf(to)
	if gf < 0 || gt < 0 {
		return false
	}
	for _, s := range c.graph.Successors(gf) {
		if s == gt {
			return true
		}
	}
	return false
}

// Owns reports whether root owns blk: root must dominate blk.PC, and no
// other root r' that root dominates may itself reach blk.PC (an "outer"
// root loses ownership to a "more specific" inner one it dominates).
func (c *ControlFlowGraph) Owns(root int, blk *block.Block) bool {
	if !c.Dominates(root, blk.PC) {
		return false
	}
	for _, r := range c.roots {
		if r != root && c.Dominates(root, r) && c.Reaches(r, blk.PC) {
			return false
		}
	}
	return true
}

// Owned returns every block root owns.
func (c *ControlFlowGraph) Owned(root int) []*block.Block {
	var out []*block.Block
	for _, b := range c.blocks {
		if c.Owns(root, b) {
			out = append(out, b)
		}
	}
	return out
}

// Unowned returns every block not owned by any registered root, the
// synthetic "util" remainder.
func (c *ControlFlowGraph) Unowned() []*block.Block {
	var out []*block.Block
	for _, b := range c.blocks {
		owned := false
		for _, r := range c.roots {
			if c.Owns(r, b) {
				owned = true
				break
			}
		}
		if !owned {
			out = append(out, b)
		}
	}
	return out
}
