package cfg

import (
	"hash/fnv"

	bloomfilter "github.com/holiman/bloomfilter/v2"
)

// constructionGuard bounds basic-block graph discovery against
// pathological (degenerate or cyclic) input. It layers a cheap
// probabilistic check, a bloom filter keyed by visited PC, in front of an
// exact counter, which remains the authority: a bloom hit only
// short-circuits to the exact check sooner, it never substitutes for it.
type constructionGuard struct {
	seen   *bloomfilter.Filter
	visits map[int]int
	limit  int
	steps  int
}

// revisitThreshold is how many times the exact counter allows the same PC
// to be stepped over before treating the walk as non-terminating; it only
// fires once the bloom filter's cheap check flags a PC as plausibly
// already-visited.
const revisitThreshold = 4

func newConstructionGuard(limit int) *constructionGuard {
	if limit <= 0 {
		limit = 1_000_000
	}
	filter, _ := bloomfilter.NewOptimal(uint64(limit), 0.01)
	return &constructionGuard{seen: filter, visits: make(map[int]int), limit: limit}
}

// step records one instruction having been walked at pc and reports
// whether construction may continue: false once the exact step counter
// exceeds the limit, or once a PC the bloom filter flags as seen-before
// has, per the exact map, actually been revisited past revisitThreshold.
// Well-formed programs only branch to JUMPDESTs, so the discovery walk
// never re-steps a PC; a branch into the middle of an already-walked run
// (or a JUMPDEST-free cycle) is what this catches.
func (g *constructionGuard) step(pc int) bool {
	g.steps++
	if g.steps > g.limit {
		return false
	}
	h := fnv.New64a()
	var buf [8]byte
	v := uint64(pc)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	h.Write(buf[:])

	probablySeen := g.seen.Contains(h)
	g.seen.Add(h)
	if probablySeen {
		g.visits[pc]++
		if g.visits[pc] > revisitThreshold {
			return false
		}
	}
	return true
}
