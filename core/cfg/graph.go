// Package cfg implements the control-flow-graph and ownership-partitioning
// subsystem: a basic-block graph (finer granularity than the super-blocks
// core/block produces), its dominator sets and transitive-closure
// reachability sets, and the "which root owns this block" rule used to
// split the program into per-function groups.
package cfg

import (
	"sort"

	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/core/vm"
	"github.com/berith-chain/devmproofgen/log"
)

// Graph is the basic-block digraph for one code section: nodes are
// maximal straight-line instruction runs (finer-grained than core/block's
// super-blocks), edges are intra-section successors (fall-through and
// resolved branch targets).
type Graph struct {
	starts   []int       // node id -> entry PC
	pcToNode map[int]int // any PC inside a node -> node id
	succ     [][]int     // node id -> successor node ids
	partial  bool        // construction hit its limit before exploring everything
}

// Partial reports whether graph construction stopped early because it hit
// its construction-limit guard.
func (g *Graph) Partial() bool { return g.partial }

// NodeCount returns the number of basic blocks discovered.
func (g *Graph) NodeCount() int { return len(g.starts) }

// NodeOf returns the node id containing byte offset pc, or -1 if pc was
// never discovered (e.g. construction stopped before reaching it).
func (g *Graph) NodeOf(pc int) int {
	if n, ok := g.pcToNode[pc]; ok {
		return n
	}
	return -1
}

// Successors returns the node ids directly reachable in one step from n.
func (g *Graph) Successors(n int) []int { return g.succ[n] }

// BuildGraph discovers the basic-block graph for insns by a worklist walk
// from byte offset 0: each popped start is walked forward to the next
// terminator or mid-run JUMPDEST, and the walk's successors (resolved
// branch targets, the fall-through start) are enqueued for discovery.
// Well-formed programs only ever jump to a JUMPDEST, which always opens
// its own run, so every instruction is stepped at most once; malformed
// input can land a branch inside an already-walked run (or cycle through
// JUMPDEST-free code), forcing overlapping re-walks, which the
// construction guard detects and bounds. An unresolvable branch or a
// tripped guard records a warning and returns the best-effort graph built
// so far; callers check Partial.
func BuildGraph(analysis *vm.BytecodeAnalysis, limit int) *Graph {
	insns := analysis.Instructions()
	g := &Graph{pcToNode: make(map[int]int)}
	if len(insns) == 0 {
		return g
	}
	guard := newConstructionGuard(limit)

	var spans []nodeSpan
	seen := make(map[int]bool)
	worklist := []int{0}
	for len(worklist) > 0 {
		start := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for start < len(insns) && insns[start].Kind == bytecode.KindHavoc {
			start++
		}
		if start >= len(insns) || seen[start] {
			continue
		}
		seen[start] = true

		idx := start
		for idx < len(insns) {
			insn := insns[idx]
			if insn.Kind == bytecode.KindHavoc {
				idx++
				continue
			}
			if insn.Kind == bytecode.KindJumpDest && idx != start {
				worklist = append(worklist, idx)
				break
			}
			idx++
			if !guard.step(insn.PC) {
				g.partial = true
				log.Warn("cfg.BuildGraph / construction limit reached", "pc", insn.PC)
				spans = append(spans, nodeSpan{start, idx})
				return finishGraph(g, insns, sortSpans(spans), analysis)
			}
			if insn.Kind == bytecode.KindJump || insn.Kind == bytecode.KindJumpI {
				if targets, err := analysis.BranchTargets(idx - 1); err == nil {
					worklist = append(worklist, targets...)
				} else {
					g.partial = true
					log.Warn("cfg.BuildGraph / unresolved branch, successors not explored", "pc", insn.PC, "err", err)
				}
				if insn.Kind == bytecode.KindJumpI {
					worklist = append(worklist, idx)
				}
				break
			}
			if insn.Kind == bytecode.KindData || !insn.Fallthru {
				break
			}
		}
		spans = append(spans, nodeSpan{start, idx})
	}
	return finishGraph(g, insns, sortSpans(spans), analysis)
}

// sortSpans orders discovered runs by position so node ids are a pure
// function of the input bytes, not of worklist pop order.
func sortSpans(spans []nodeSpan) []nodeSpan {
	sort.Slice(spans, func(i, j int) bool { return spans[i].startIdx < spans[j].startIdx })
	return spans
}

func finishGraph(g *Graph, insns []bytecode.Instruction, spans []nodeSpan, analysis *vm.BytecodeAnalysis) *Graph {
	g.starts = make([]int, len(spans))
	idxToNode := make(map[int]int, len(insns))
	for n, sp := range spans {
		g.starts[n] = insns[sp.startIdx].PC
		for i := sp.startIdx; i < sp.endIdx; i++ {
			g.pcToNode[insns[i].PC] = n
			idxToNode[i] = n
		}
	}
	g.succ = make([][]int, len(spans))
	for n, sp := range spans {
		lastIdx := sp.endIdx - 1
		for lastIdx >= sp.startIdx && insns[lastIdx].Kind == bytecode.KindHavoc {
			lastIdx--
		}
		if lastIdx < sp.startIdx {
			continue
		}
		last := insns[lastIdx]
		switch last.Kind {
		case bytecode.KindJump, bytecode.KindJumpI:
			if targets, err := analysis.BranchTargets(lastIdx); err == nil {
				for _, ti := range targets {
					if tn, ok := idxToNode[ti]; ok {
						g.succ[n] = appendUnique(g.succ[n], tn)
					}
				}
			} else {
				g.partial = true
				log.Warn("cfg.BuildGraph / unresolved branch, graph edge dropped", "pc", last.PC, "err", err)
			}
			if last.Kind == bytecode.KindJumpI && sp.endIdx < len(insns) {
				if tn, ok := idxToNode[sp.endIdx]; ok {
					g.succ[n] = appendUnique(g.succ[n], tn)
				}
			}
		default:
			if last.Fallthru && sp.endIdx < len(insns) {
				if tn, ok := idxToNode[sp.endIdx]; ok {
					g.succ[n] = appendUnique(g.succ[n], tn)
				}
			}
		}
	}
	return g
}

// nodeSpan is a half-open [startIdx, endIdx) range of instruction-sequence
// positions belonging to one discovered basic block.
type nodeSpan struct{ startIdx, endIdx int }

func appendUnique(xs []int, v int) []int {
	for _, x := range xs {
		if x == v {
			return xs
		}
	}
	return append(xs, v)
}
