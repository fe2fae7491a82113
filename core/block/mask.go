package block

import (
	"math/big"

	"github.com/berith-chain/devmproofgen/core/word"
)

// canonicalMaskWidths are the bit-widths recognised as "AND with a
// canonical low-bit mask constant": the widths Solidity's code generator
// actually emits for narrowing casts (bool, the common integer widths,
// and the 160-bit address mask).
var canonicalMaskWidths = []int{1, 5, 8, 16, 24, 32, 64, 128, 160}

var canonicalMasks = buildCanonicalMasks()

func buildCanonicalMasks() map[int]word.Word {
	out := make(map[int]word.Word, len(canonicalMaskWidths))
	one := big.NewInt(1)
	for _, bits := range canonicalMaskWidths {
		v := new(big.Int).Lsh(one, uint(bits))
		v.Sub(v, one)
		out[bits] = word.FromBig(v)
	}
	return out
}

// recognizeMask reports the bit-width of w if it is exactly 2^n-1 for one
// of the canonical widths, else ok=false.
func recognizeMask(w word.Word) (width int, ok bool) {
	for _, n := range canonicalMaskWidths {
		if w.Eq(canonicalMasks[n]) {
			return n, true
		}
	}
	return 0, false
}
