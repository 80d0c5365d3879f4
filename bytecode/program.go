package bytecode

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
)

// DebugPos is one entry of the pos-table: which source position a program
// counter maps back to, for stack-trace construction (spec.md §7).
type DebugPos struct {
	PC       uint32
	Line     uint32
	Char     uint32
	FileIdx  uint32
}

// DebugCmd is one entry of the cmd-table: a human-readable hint for the
// command whose body starts at PC, used only for diagnostics.
type DebugCmd struct {
	PC      uint32
	HintIdx uint32
}

// Program is the accumulating compile output: the opcode byte buffer, the
// string literal pool, the native-command hash table, and the optional
// debug tables. A Program is read-only once compilation finishes and may
// be shared read-only across multiple vm Contexts (spec.md §5).
type Program struct {
	Code    []byte
	Strings []string
	Natives []uint64 // native command hashes referenced by NativeCall
	DebugStrings []string
	Pos     []DebugPos
	Cmds    []DebugCmd
}

// New returns an empty Program ready for the compiler to append to.
func New() *Program {
	return &Program{}
}

// Emit appends one instruction's encoded bytes and returns the PC it was
// written at (for label patch-site bookkeeping).
func (p *Program) Emit(ins Instruction) int {
	pc := len(p.Code)
	p.Code = append(p.Code, ins.Encode()...)
	return pc
}

// PatchJump rewrites the 4-byte little-endian jump displacement stored at
// byte offset argAt (the position immediately after the opcode+regs
// prefix of a control-flow instruction) to target.
func (p *Program) PatchJump(argAt int, target int32) {
	p.Code[argAt] = byte(target)
	p.Code[argAt+1] = byte(target >> 8)
	p.Code[argAt+2] = byte(target >> 16)
	p.Code[argAt+3] = byte(target >> 24)
}

// InternString returns the index of s in the string table, appending it
// if not already present. The compiler calls this for every string
// literal and `embed` result.
func (p *Program) InternString(s string) uint32 {
	for i, existing := range p.Strings {
		if existing == s {
			return uint32(i)
		}
	}
	p.Strings = append(p.Strings, s)
	return uint32(len(p.Strings) - 1)
}

// InternNative returns the index of hash in the native table, appending
// it if new. Collisions (same hash, different name) are rejected by the
// host registry before compilation ever reaches here (spec.md §6).
func (p *Program) InternNative(hash uint64) uint32 {
	for i, existing := range p.Natives {
		if existing == hash {
			return uint32(i)
		}
	}
	p.Natives = append(p.Natives, hash)
	return uint32(len(p.Natives) - 1)
}

// Disassemble renders the program as a human-readable instruction table,
// one row per decoded instruction: PC, mnemonic, operands, and the source
// position if debug info is present. Grounded on the teacher's
// printProgram/formatInstructionStr, upgraded to a real table renderer
// since the opcode set here is an order of magnitude larger.
func (p *Program) Disassemble() string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"pc", "op", "regs", "arg", "line"})

	posByPC := make(map[uint32]DebugPos, len(p.Pos))
	for _, dp := range p.Pos {
		posByPC[dp.PC] = dp
	}

	pc := 0
	for pc < len(p.Code) {
		ins, n, err := Decode(p.Code, pc)
		if err != nil {
			table.Append([]string{fmt.Sprintf("%d", pc), "???", "", err.Error(), ""})
			break
		}
		regs := ""
		for i := 0; i < ins.NumReg; i++ {
			if i > 0 {
				regs += ","
			}
			regs += fmt.Sprintf("r%d.%d", ins.Regs[i].Frame, ins.Regs[i].Slot)
		}
		arg := ""
		if ins.Op.IsControlFlow() {
			arg = fmt.Sprintf("->%d", pc+n+int(ins.Arg))
		} else if ins.Index != 0 || ins.Op == OpStrLit || ins.Op == OpNativeCall {
			arg = fmt.Sprintf("#%d", ins.Index)
		} else if ins.Arg != 0 {
			arg = fmt.Sprintf("%d", ins.Arg)
		}
		line := ""
		if dp, ok := posByPC[uint32(pc)]; ok {
			line = fmt.Sprintf("%d:%d", dp.Line, dp.Char)
		}
		table.Append([]string{fmt.Sprintf("%d", pc), ins.Op.String(), regs, arg, line})
		pc += n
	}
	table.Render()
	return buf.String()
}
