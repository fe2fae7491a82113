package bytecode

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Disassemble walks a raw contract bytecode and produces the typed
// Instruction sequence the rest of devmproofgen consumes: a linear sweep
// emitting one Instruction per opcode, consuming PUSH immediates as it
// goes.
func Disassemble(code []byte) []Instruction {
	var out []Instruction
	pc := 0
	for pc < len(code) {
		op := OpCode(code[pc])
		if op.IsPush() {
			width := op.PushWidth()
			end := pc + 1 + width
			if end > len(code) {
				// Truncated push: not enough data bytes remain, so the
				// tail decodes as plain data.
				out = append(out, Instruction{
					PC:        pc,
					Op:        DATA,
					Kind:      KindData,
					Immediate: append([]byte(nil), code[pc+1:]...),
					Length:    len(code) - pc,
					Fallthru:  false,
				})
				break
			}
			insn := NewInstruction(pc, op)
			insn.Immediate = append([]byte(nil), code[pc+1:end]...)
			out = append(out, insn)
			pc = end
			continue
		}
		if op == RJUMP || op == RJUMPI {
			if pc+3 > len(code) {
				out = append(out, Instruction{
					PC:        pc,
					Op:        DATA,
					Kind:      KindData,
					Immediate: append([]byte(nil), code[pc+1:]...),
					Length:    len(code) - pc,
					Fallthru:  false,
				})
				break
			}
			insn := NewInstruction(pc, op)
			insn.N = int(int16(uint16(code[pc+1])<<8 | uint16(code[pc+2])))
			out = append(out, insn)
			pc += insn.Length
			continue
		}
		insn := NewInstruction(pc, op)
		if op.IsDup() {
			insn.N = op.DupIndex()
		} else if op.IsSwap() {
			insn.N = op.SwapIndex()
		} else if op.IsLog() {
			insn.N = op.LogIndex()
		}
		out = append(out, insn)
		pc += insn.Length
	}
	return out
}

// ParseHex decodes a hex string (with an optional "0x" prefix, and
// leading/trailing whitespace trimmed) into raw bytes.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bytecode: malformed hex input: %w", err)
	}
	return b, nil
}
