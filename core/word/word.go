// Package word provides the 256-bit value types shared across
// devmproofgen's abstract-interpretation pipeline: a concrete Word and an
// AbstractWord that is either a known Word or Unknown. AbstractWord is
// what the (external) trace engine produces; the rest of the pipeline
// only ever observes it.
package word

import (
	"math/big"

	"github.com/holiman/uint256"
)

// Word is a 256-bit unsigned integer, backed by uint256.Int.
type Word struct {
	v uint256.Int
}

// FromUint64 builds a Word from a native uint64.
func FromUint64(n uint64) Word {
	var w Word
	w.v.SetUint64(n)
	return w
}

// FromBig builds a Word from a math/big.Int, truncating to 256 bits.
func FromBig(n *big.Int) Word {
	var w Word
	w.v.SetFromBig(n)
	return w
}

// FromBytes builds a Word from a big-endian byte slice, left-padded/truncated
// to 32 bytes.
func FromBytes(b []byte) Word {
	var w Word
	w.v.SetBytes(b)
	return w
}

// Uint64 returns the low 64 bits of the word. Used for free-memory-pointer
// values, which are always small.
func (w Word) Uint64() uint64 { return w.v.Uint64() }

// FitsInt returns whether the word's value fits in a native int (used to
// convert resolved jump targets, which are always small, to PCs).
func (w Word) FitsInt() bool { return w.v.IsUint64() && w.v.Uint64() <= uint64(^uint(0)>>1) }

// Int returns the word as a native int. Caller must check FitsInt first.
func (w Word) Int() int { return int(w.v.Uint64()) }

// Eq reports whether two words are equal.
func (w Word) Eq(o Word) bool { return w.v.Eq(&o.v) }

// Cmp orders two words (returns -1, 0, 1).
func (w Word) Cmp(o Word) int { return w.v.Cmp(&o.v) }

// Hex renders the word in canonical lower-case hex with a 0x prefix.
func (w Word) Hex() string { return w.v.Hex() }

// ByteLen returns the minimal number of bytes needed to represent the word.
func (w Word) ByteLen() int { return w.v.ByteLen() }

// And returns the bitwise AND of w and o.
func (w Word) And(o Word) Word {
	var r Word
	r.v.And(&w.v, &o.v)
	return r
}

// AbstractWord is either a statically Known value or Unknown (the trace
// engine could not determine a single constant for it).
type AbstractWord struct {
	known bool
	value Word
}

// Known constructs an AbstractWord carrying a concrete value.
func Known(w Word) AbstractWord { return AbstractWord{known: true, value: w} }

// Unknown is the AbstractWord carrying no information.
var Unknown = AbstractWord{}

// IsKnown reports whether the word is statically known.
func (a AbstractWord) IsKnown() bool { return a.known }

// Value returns the concrete word. Caller must check IsKnown first.
func (a AbstractWord) Value() Word { return a.value }

// Eq reports structural equality between two abstract words.
func (a AbstractWord) Eq(b AbstractWord) bool {
	if a.known != b.known {
		return false
	}
	if !a.known {
		return true
	}
	return a.value.Eq(b.value)
}
