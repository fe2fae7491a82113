// Package emit pretty-prints the analysis result as Dafny source: one
// proof-skeleton file per BlockGroup (one verification method per block,
// requires-clauses expressing the pre-conditions an external verifier
// needs) plus one header file per code section. Purely syntactic; the
// hard analysis has already run by the time this package is invoked.
package emit

import (
	"fmt"
	"strings"

	"github.com/berith-chain/devmproofgen/core/block"
	"github.com/berith-chain/devmproofgen/core/bytecode"
	"github.com/berith-chain/devmproofgen/core/group"
	"github.com/berith-chain/devmproofgen/core/state"
)

// Ext is the file extension emitted source files use.
const Ext = "dfy"

// Options controls details of the emitted text that vary by CLI flag.
type Options struct {
	// DevmDir is the path embedded in `include` lines for the downstream
	// Dafny-EVM library (CLI flag --devmdir, default "evm-dafny").
	DevmDir string
}

func (o Options) devmdir() string {
	if o.DevmDir == "" {
		return "evm-dafny"
	}
	return o.DevmDir
}

// bytecodeConstName is the Dafny constant name identifying one code
// section's raw bytes.
func bytecodeConstName(cid int) string { return fmt.Sprintf("BYTECODE_%d", cid) }

// Header renders the per-code-section header file: the bytecode constant
// and the ambient declarations every group file of the same section pulls
// in.
func Header(cid int, code []byte, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "include \"%s/src/dafny/evm.dfy\"\n", opts.devmdir())
	fmt.Fprintf(&b, "include \"%s/src/dafny/evms/berlin.dfy\"\n", opts.devmdir())
	b.WriteString("import opened Int\n")
	b.WriteString("import opened Opcode\n")
	b.WriteString("import opened Memory\n")
	b.WriteString("import opened Bytecode\n")
	b.WriteString("import opened EvmBerlin\n")
	b.WriteString("import opened EvmState\n\n")
	fmt.Fprintf(&b, "const %s : seq<u8> := %s;\n", bytecodeConstName(cid), dafnyByteSeq(code))
	return b.String()
}

func dafnyByteSeq(code []byte) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, by := range code {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", by)
	}
	b.WriteByte(']')
	return b.String()
}

// Group renders one BlockGroup's source file: an include of the section
// header and of every group g depends on, followed by one verification
// method per block.
func Group(g *group.BlockGroup, cid int, headerName string, deps []*group.BlockGroup, opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "include \"%s.%s\"\n", headerName, Ext)
	fmt.Fprintf(&b, "include \"%s/src/dafny/evm.dfy\"\n", opts.devmdir())
	// Dep files share the header's "<prefix>_<cid>" stem.
	stem := strings.TrimSuffix(headerName, "_header")
	for _, d := range deps {
		fmt.Fprintf(&b, "include \"%s_%s.%s\"\n", stem, d.Name, Ext)
	}
	b.WriteString("\n")
	p := &printer{cid: cid, out: &b}
	for _, blk := range g.Blocks {
		p.printBlock(blk)
	}
	return b.String()
}

// printer renders verification methods for one code section, one method
// per block.
type printer struct {
	cid int
	out *strings.Builder
}

// methodName is the verification method name for the block starting at
// pc within code section cid.
func (p *printer) methodName(pc int) string { return fmt.Sprintf("block_%d_0x%04x", p.cid, pc) }

func (p *printer) printBlock(blk *block.Block) {
	fmt.Fprintf(p.out, "method %s(st': EvmState.ExecutingState) returns (st'': EvmState.State)\n", p.methodName(blk.PC))
	fmt.Fprintf(p.out, "requires st'.evm.code == Code.Create(%s)\n", bytecodeConstName(p.cid))
	fmt.Fprintf(p.out, "requires st'.WritesPermitted() && st'.PC() == 0x%04x\n", blk.PC)
	if blk.IsUnreachable() {
		p.out.WriteString("requires false\n")
	} else {
		p.printFmpRequires(blk)
		p.printStackRequires(blk)
	}
	p.out.WriteString("{\n")
	p.out.WriteString("\tvar st := st';\n")
	for _, bc := range blk.Bytecodes {
		p.printCode(bc)
	}
	if blk.Next != nil {
		fmt.Fprintf(p.out, "\tst := %s(st);\n", p.methodName(*blk.Next))
	}
	p.out.WriteString("\treturn st;\n")
	p.out.WriteString("}\n\n")
}

// printFmpRequires renders the free-memory-pointer pre-condition: an
// equality when every entry state agrees on one value, a lower bound
// otherwise; nothing at all when any entry state's FMP is unknown or the
// pointer still sits below the scratch area.
func (p *printer) printFmpRequires(blk *block.Block) {
	min, max, ok := blk.FreeMemPtrBounds()
	if !ok || min < 0x60 {
		return
	}
	if min == max {
		fmt.Fprintf(p.out, "requires Memory.Size(st'.evm.memory) >= 0x60 && st'.Read(0x40) == %#02x\n", min)
	} else {
		fmt.Fprintf(p.out, "requires Memory.Size(st'.evm.memory) >= 0x60 && st'.Read(0x40) >= %#02x\n", min)
	}
}

// printStackRequires renders the stack-height clause (single value,
// contiguous range, or explicit set), then the static per-slot
// equalities shared by every entry state, then the per-height dynamic
// equalities that remain once the consensus is cancelled out.
func (p *printer) printStackRequires(blk *block.Block) {
	states := blk.EntryStates()
	heights := blk.StackHeights()
	min, max := heights[0], heights[len(heights)-1]
	switch {
	case min == max:
		fmt.Fprintf(p.out, "requires st'.Operands() == %d\n", min)
	case len(heights) == max-min+1:
		fmt.Fprintf(p.out, "requires st'.Operands() >= %d && st'.Operands() <= %d\n", min, max)
	default:
		parts := make([]string, len(heights))
		for i, h := range heights {
			parts[i] = fmt.Sprintf("%d", h)
		}
		fmt.Fprintf(p.out, "requires st'.Operands() in {%s}\n", strings.Join(parts, ","))
	}

	consensus := states[0]
	for _, s := range states[1:] {
		consensus = consensus.Join(s)
	}
	for i := 0; i < consensus.Height(); i++ {
		if v := consensus.Peek(i); v != nil {
			fmt.Fprintf(p.out, "requires st'.Peek(%d) == %s\n", i, v.Hex())
		}
	}
	if len(heights) > 1 {
		p.printDynamicRequires(states, consensus, heights)
	}
}

// printDynamicRequires renders, per observed stack height, the
// disjunction of per-state equalities that hold only at that height,
// with the consensus slots cancelled out of each state so the clause
// names only what actually varies.
func (p *printer) printDynamicRequires(states []state.AbstractState, consensus state.AbstractState, heights []int) {
	byHeight := map[int][]state.AbstractState{}
	for _, s := range states {
		byHeight[s.Height()] = append(byHeight[s.Height()], s)
	}
	for _, h := range heights {
		var alts []string
		for _, s := range byHeight[h] {
			residual := s.Cancel(consensus)
			var eqs []string
			for i := 0; i < residual.Height(); i++ {
				if v := residual.Peek(i); v != nil {
					eqs = append(eqs, fmt.Sprintf("st'.Peek(%d) == %s", i, v.Hex()))
				}
			}
			if len(eqs) == 0 {
				// One state at this height constrains nothing beyond the
				// consensus; a disjunction containing "true" is useless.
				alts = nil
				break
			}
			alt := "(" + strings.Join(eqs, " && ") + ")"
			if !containsString(alts, alt) {
				alts = append(alts, alt)
			}
		}
		if len(alts) > 0 {
			fmt.Fprintf(p.out, "requires st'.Operands() == %d ==> (%s)\n", h, strings.Join(alts, " || "))
		}
	}
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func (p *printer) printCode(bc block.Bytecode) {
	switch bc.Kind {
	case block.KindComment:
		fmt.Fprintf(p.out, "\t// %s\n", bc.Comment)
	case block.KindAssert:
		fmt.Fprintf(p.out, "\tassert %s; // %s\n", usesClause(bc.AssertUses), bc.AssertMsg)
	case block.KindMask:
		fmt.Fprintf(p.out, "\tst := And(st); // u%d mask\n", bc.MaskWidth)
	case block.KindUnit:
		p.printUnit(bc.Unit)
	case block.KindJump:
		p.printJump(bc.Targets)
	case block.KindJumpI:
		p.printJumpI(bc.Targets)
	}
}

func usesClause(uses []int) string {
	parts := make([]string, len(uses))
	for i, u := range uses {
		parts[i] = fmt.Sprintf("st.Peek(%d) >= 0", u)
	}
	if len(parts) == 0 {
		return "true"
	}
	return strings.Join(parts, " && ")
}

func (p *printer) printUnit(insn bytecode.Instruction) {
	switch insn.Kind {
	case bytecode.KindPush:
		n := len(insn.Immediate)
		if n == 0 {
			p.out.WriteString("\tst := Push0(st);\n")
		} else if n <= 4 {
			fmt.Fprintf(p.out, "\tst := Push%d(st,%s);\n", n, hexImmediate(insn.Immediate))
		} else {
			fmt.Fprintf(p.out, "\tst := PushN(st,%d,%s);\n", n, hexImmediate(insn.Immediate))
		}
	case bytecode.KindDup:
		fmt.Fprintf(p.out, "\tst := Dup(st,%d);\n", insn.N)
	case bytecode.KindSwap:
		fmt.Fprintf(p.out, "\tst := Swap(st,%d);\n", insn.N)
	case bytecode.KindLog:
		fmt.Fprintf(p.out, "\tst := LogN(st,%d);\n", insn.N)
	case bytecode.KindData:
		fmt.Fprintf(p.out, "\t// data %s\n", hexImmediate(insn.Immediate))
	default:
		if name, ok := dafnyNames[insn.Op]; ok {
			fmt.Fprintf(p.out, "\tst := %s(st);\n", name)
		} else {
			fmt.Fprintf(p.out, "\t// unsupported opcode 0x%02x\n", byte(insn.Op))
		}
	}
}

func (p *printer) printJump(targets []int) {
	p.printJumpAssumes(targets)
	p.out.WriteString("\tst := Jump(st);\n")
	if len(targets) == 1 {
		fmt.Fprintf(p.out, "\tst := %s(st);\n", p.methodName(targets[0]))
		return
	}
	p.out.WriteString("\tmatch st.PC() {\n")
	for _, target := range targets {
		fmt.Fprintf(p.out, "\t\tcase %#x => { st := %s(st); }\n", target, p.methodName(target))
	}
	p.out.WriteString("\t}\n")
}

func (p *printer) printJumpI(targets []int) {
	p.printJumpAssumes(targets)
	p.out.WriteString("\tst := JumpI(st);\n")
	if len(targets) == 1 {
		fmt.Fprintf(p.out, "\tif st.PC() == %#x { st := %s(st); return st; }\n", targets[0], p.methodName(targets[0]))
		return
	}
	p.out.WriteString("\tmatch st.PC() {\n")
	for _, target := range targets {
		fmt.Fprintf(p.out, "\t\tcase %#x => { st := %s(st); return st; }\n", target, p.methodName(target))
	}
	p.out.WriteString("\t\tcase _ => {}\n")
	p.out.WriteString("\t}\n")
}

func (p *printer) printJumpAssumes(targets []int) {
	for _, target := range targets {
		fmt.Fprintf(p.out, "\tassume st.IsJumpDest(%#x);\n", target)
	}
}

func hexImmediate(b []byte) string {
	if len(b) == 0 {
		return "0x00"
	}
	var s strings.Builder
	s.WriteString("0x")
	for _, by := range b {
		fmt.Fprintf(&s, "%02x", by)
	}
	return s.String()
}

// dafnyNames maps each plain opcode to the Dafny-EVM bytecode function
// that models it; opcodes missing here have no model downstream and are
// lowered as a comment instead.
var dafnyNames = map[bytecode.OpCode]string{
	bytecode.STOP: "Stop", bytecode.ADD: "Add", bytecode.MUL: "Mul",
	bytecode.SUB: "Sub", bytecode.DIV: "Div", bytecode.SDIV: "SDiv",
	bytecode.MOD: "Mod", bytecode.SMOD: "SMod", bytecode.ADDMOD: "AddMod",
	bytecode.MULMOD: "MulMod", bytecode.EXP: "Exp", bytecode.SIGNEXTEND: "SignExtend",
	bytecode.LT: "Lt", bytecode.GT: "Gt", bytecode.SLT: "SLt",
	bytecode.SGT: "SGt", bytecode.EQ: "Eq", bytecode.ISZERO: "IsZero",
	bytecode.AND: "And", bytecode.OR: "Or", bytecode.XOR: "Xor",
	bytecode.NOT: "Not", bytecode.BYTE: "Byte", bytecode.SHL: "Shl",
	bytecode.SHR: "Shr", bytecode.SAR: "Sar", bytecode.KECCAK256: "Keccak256",
	bytecode.ADDRESS: "Address", bytecode.BALANCE: "Balance", bytecode.ORIGIN: "Origin",
	bytecode.CALLER: "Caller", bytecode.CALLVALUE: "CallValue",
	bytecode.CALLDATALOAD: "CallDataLoad", bytecode.CALLDATASIZE: "CallDataSize",
	bytecode.CALLDATACOPY: "CallDataCopy", bytecode.CODESIZE: "CodeSize",
	bytecode.CODECOPY: "CodeCopy", bytecode.GASPRICE: "GasPrice",
	bytecode.EXTCODESIZE: "ExtCodeSize", bytecode.EXTCODECOPY: "ExtCodeCopy",
	bytecode.RETURNDATASIZE: "ReturnDataSize", bytecode.RETURNDATACOPY: "ReturnDataCopy",
	bytecode.EXTCODEHASH: "ExtCodeHash", bytecode.BLOCKHASH: "BlockHash",
	bytecode.COINBASE: "CoinBase", bytecode.TIMESTAMP: "TimeStamp",
	bytecode.NUMBER: "Number", bytecode.DIFFICULTY: "Difficulty",
	bytecode.GASLIMIT: "GasLimit", bytecode.CHAINID: "ChainID",
	bytecode.SELFBALANCE: "SelfBalance", bytecode.POP: "Pop",
	bytecode.MLOAD: "MLoad", bytecode.MSTORE: "MStore", bytecode.MSTORE8: "MStore8",
	bytecode.SLOAD: "SLoad", bytecode.SSTORE: "SStore", bytecode.PC: "Pc",
	bytecode.MSIZE: "MSize", bytecode.GAS: "Gas", bytecode.JUMPDEST: "JumpDest",
	bytecode.CREATE: "Create", bytecode.CALL: "Call", bytecode.CALLCODE: "CallCode",
	bytecode.RETURN: "Return", bytecode.DELEGATECALL: "DelegateCall",
	bytecode.CREATE2: "Create2", bytecode.STATICCALL: "StaticCall",
	bytecode.REVERT: "Revert", bytecode.INVALID: "Invalid",
	bytecode.SELFDESTRUCT: "SelfDestruct",
}
