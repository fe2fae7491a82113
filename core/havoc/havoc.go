// Package havoc implements the HAVOC-insertion pre-pass: a pass over the
// disassembled instruction stream that splices in virtual HAVOC(n)
// instructions modelling destructive external effects. The trigger set is
// deliberately narrow, only instructions that can transfer control to
// untrusted code (the CALL and CREATE families); SSTORE is plain
// local-storage state the analysis already treats as unknown without
// needing a havoc marker.
package havoc

import "github.com/berith-chain/devmproofgen/core/bytecode"

// triggers instructions after which a HAVOC(n) marker is inserted, with n
// equal to that instruction's own pop count (the number of stack items it
// consumed, which is also what a conservative caller must assume may have
// been read back by the external effect).
func triggers(op bytecode.OpCode) bool {
	switch op {
	case bytecode.CALL, bytecode.CALLCODE, bytecode.DELEGATECALL, bytecode.STATICCALL,
		bytecode.CREATE, bytecode.CREATE2:
		return true
	}
	return false
}

// Insert returns a copy of insns with a virtual HAVOC(n) instruction
// spliced in immediately after every instruction identified by triggers.
// The HAVOC marker carries the triggering instruction's own PC (it
// consumes no bytes of the original stream) so that callers indexing by
// byte offset are unaffected.
func Insert(insns []bytecode.Instruction) []bytecode.Instruction {
	out := make([]bytecode.Instruction, 0, len(insns))
	for _, insn := range insns {
		out = append(out, insn)
		if triggers(insn.Op) {
			havoc := bytecode.NewInstruction(insn.PC, bytecode.HAVOC)
			havoc.N = insn.Pops
			out = append(out, havoc)
		}
	}
	return out
}
