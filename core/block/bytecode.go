// Package block implements the super-block builder: it consumes a
// BytecodeAnalysis and produces Blocks, each holding a tagged Bytecode
// stream translated from the raw Instructions, a per-point abstract-state
// snapshot, and the liveness table the minimiser fills in.
package block

import "github.com/berith-chain/devmproofgen/core/bytecode"

// Kind tags a Bytecode by which variant it carries.
type Kind int

const (
	KindComment Kind = iota
	KindAssert
	KindMask
	KindUnit
	KindJump
	KindJumpI
)

// Bytecode is one translated element of a block's body.
type Bytecode struct {
	Kind Kind

	Comment string // KindComment

	AssertUses []int  // KindAssert
	AssertMsg  string // KindAssert

	MaskWidth int // KindMask

	Unit bytecode.Instruction // KindUnit

	Targets []int // KindJump, KindJumpI
}

func NewComment(msg string) Bytecode { return Bytecode{Kind: KindComment, Comment: msg} }

func NewAssert(uses []int, msg string) Bytecode {
	return Bytecode{Kind: KindAssert, AssertUses: uses, AssertMsg: msg}
}

func NewMask(width int) Bytecode { return Bytecode{Kind: KindMask, MaskWidth: width} }

func NewUnit(insn bytecode.Instruction) Bytecode { return Bytecode{Kind: KindUnit, Unit: insn} }

func NewJump(targets []int) Bytecode { return Bytecode{Kind: KindJump, Targets: targets} }

func NewJumpI(targets []int) Bytecode { return Bytecode{Kind: KindJumpI, Targets: targets} }
