package vm

import (
	"encoding/binary"

	"github.com/VictoriaMetrics/fastcache"
)

// branchCache memoizes BranchTargets resolutions keyed by instruction
// position: block building and the CFG builder both re-resolve the same
// JUMP/JUMPI targets repeatedly while walking overlapping regions of the
// same program, and re-deriving them means re-scanning every reached
// state at that position.
type branchCache struct {
	c *fastcache.Cache
}

// defaultBranchCacheBytes is deliberately small: this cache holds a
// handful of ints per branch instruction, not trie nodes.
const defaultBranchCacheBytes = 2 * 1024 * 1024

func newBranchCache() *branchCache {
	return &branchCache{c: fastcache.New(defaultBranchCacheBytes)}
}

func (b *branchCache) key(idx int) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(idx))
	return buf[:]
}

func (b *branchCache) get(idx int) ([]int, bool) {
	raw, found := b.c.HasGet(nil, b.key(idx))
	if !found {
		return nil, false
	}
	return decodeInts(raw), true
}

func (b *branchCache) set(idx int, targets []int) {
	b.c.Set(b.key(idx), encodeInts(targets))
}

func encodeInts(vals []int) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func decodeInts(raw []byte) []int {
	n := len(raw) / 8
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out
}
