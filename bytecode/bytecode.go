// Package bytecode defines the opcode set, the packed Instruction encoding,
// and the Program container the compiler fills in and the VM executes.
package bytecode

import "fmt"

// Op is one VM opcode. The numbering is arbitrary; the module file
// format's terminator byte is a separate constant in module.go, not an
// opcode value.
type Op byte

const (
	OpNop Op = iota

	// Bookkeeping
	OpMove
	OpInc
	OpNil
	OpNumLit8
	OpNumLit16
	OpNumLit32
	OpNumLitDouble
	OpStrLit
	OpListNew

	// Type predicates
	OpIsNum
	OpIsStr
	OpIsList
	OpIsNative

	// Arithmetic & math
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpNeg
	OpAbs
	OpSign
	OpFloor
	OpCeil
	OpRound
	OpTrunc
	OpMin
	OpMax
	OpClamp
	OpSin
	OpCos
	OpTan
	OpAsin
	OpAcos
	OpAtan
	OpAtan2
	OpLog
	OpLog2
	OpExp
	OpLerp
	OpHex
	OpOct
	OpBin

	// Integer ops
	OpIntCast
	OpIntNot
	OpIntAnd
	OpIntOr
	OpIntXor
	OpIntShl
	OpIntShr
	OpIntSar
	OpIntAdd
	OpIntSub
	OpIntMul
	OpIntDiv
	OpIntMod
	OpIntClz
	OpIntPopcount
	OpIntBswap

	// Comparisons
	OpLt
	OpLte
	OpEq
	OpNeq
	OpOrder

	// Containers
	OpLen
	OpGetAt
	OpSetAt
	OpSlice
	OpSplice
	OpListPush
	OpListPop
	OpListShift
	OpListUnshift
	OpListAppend
	OpListPrepend
	OpListFind
	OpListRFind
	OpListJoin
	OpListReverse
	OpListSort
	OpListRSort
	OpListStr

	// Strings
	OpStrCat
	OpStrSplit
	OpStrReplace
	OpStrBegins
	OpStrEnds
	OpStrPad
	OpStrFind
	OpStrRFind
	OpStrLower
	OpStrUpper
	OpStrTrim
	OpStrRev
	OpStrRep
	OpStrList
	OpStrByte
	OpStrHash

	// UTF-8 / struct packing
	OpUTF8Encode
	OpUTF8Decode
	OpStructSize
	OpStructStr
	OpStructList

	// Pickle
	OpPickleJSON
	OpPickleBin
	OpUnpickle
	OpPickleValid
	OpPickleSibling
	OpPickleCircular
	OpPickleCopy

	// Control
	OpJmp
	OpJmpTrue
	OpJmpFalse
	OpCmdhead
	OpCmdtail
	OpCall
	OpNativeCall
	OpReturn
	OpReturnTail

	// Host I/O
	OpSay
	OpWarn
	OpAsk
	OpExit
	OpAbort
	OpStacktrace

	// Random
	OpRandSeed
	OpRandSeedAuto
	OpRandInt
	OpRandNum
	OpRandRange
	OpRandGetState
	OpRandSetState
	OpRandPick
	OpRandShuffle

	// GC
	OpGCGetLevel
	OpGCSetLevel
	OpGCRun

	// Misc pseudo-commands compiled directly to an opcode
	OpPick
	OpConsumeTicks

	opCount
)

var opNames = map[Op]string{
	OpNop: "nop", OpMove: "move", OpInc: "inc", OpNil: "nil",
	OpNumLit8: "numlit8", OpNumLit16: "numlit16", OpNumLit32: "numlit32",
	OpNumLitDouble: "numlitd", OpStrLit: "strlit", OpListNew: "listnew",
	OpIsNum: "isnum", OpIsStr: "isstr", OpIsList: "islist", OpIsNative: "isnative",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod", OpPow: "pow",
	OpNeg: "neg", OpAbs: "abs", OpSign: "sign", OpFloor: "floor", OpCeil: "ceil",
	OpRound: "round", OpTrunc: "trunc", OpMin: "min", OpMax: "max", OpClamp: "clamp",
	OpSin: "sin", OpCos: "cos", OpTan: "tan", OpAsin: "asin", OpAcos: "acos",
	OpAtan: "atan", OpAtan2: "atan2", OpLog: "log", OpLog2: "log2", OpExp: "exp",
	OpLerp: "lerp", OpHex: "hex", OpOct: "oct", OpBin: "bin",
	OpIntCast: "int", OpIntNot: "int.not", OpIntAnd: "int.and", OpIntOr: "int.or",
	OpIntXor: "int.xor", OpIntShl: "int.shl", OpIntShr: "int.shr", OpIntSar: "int.sar",
	OpIntAdd: "int.add", OpIntSub: "int.sub", OpIntMul: "int.mul", OpIntDiv: "int.div",
	OpIntMod: "int.mod", OpIntClz: "int.clz", OpIntPopcount: "int.popcount",
	OpIntBswap: "int.bswap",
	OpLt: "lt", OpLte: "lte", OpEq: "eq", OpNeq: "neq", OpOrder: "order",
	OpLen: "len", OpGetAt: "getat", OpSetAt: "setat", OpSlice: "slice", OpSplice: "splice",
	OpListPush: "list.push", OpListPop: "list.pop", OpListShift: "list.shift",
	OpListUnshift: "list.unshift", OpListAppend: "list.append",
	OpListPrepend: "list.prepend", OpListFind: "list.find", OpListRFind: "list.rfind",
	OpListJoin: "list.join", OpListReverse: "list.rev", OpListSort: "list.sort",
	OpListRSort: "list.rsort", OpListStr: "list.str",
	OpStrCat: "str.cat", OpStrSplit: "str.split", OpStrReplace: "str.replace",
	OpStrBegins: "str.begins", OpStrEnds: "str.ends", OpStrPad: "str.pad",
	OpStrFind: "str.find", OpStrRFind: "str.rfind", OpStrLower: "str.lower",
	OpStrUpper: "str.upper", OpStrTrim: "str.trim", OpStrRev: "str.rev",
	OpStrRep: "str.rep", OpStrList: "str.list", OpStrByte: "str.byte",
	OpStrHash: "str.hash",
	OpUTF8Encode: "utf8.encode", OpUTF8Decode: "utf8.decode",
	OpStructSize: "struct.size", OpStructStr: "struct.str", OpStructList: "struct.list",
	OpPickleJSON: "pickle.json", OpPickleBin: "pickle.bin", OpUnpickle: "pickle.unpickle",
	OpPickleValid: "pickle.valid", OpPickleSibling: "pickle.sibling",
	OpPickleCircular: "pickle.circular", OpPickleCopy: "pickle.copy",
	OpJmp: "jmp", OpJmpTrue: "jmptrue", OpJmpFalse: "jmpfalse",
	OpCmdhead: "cmdhead", OpCmdtail: "cmdtail", OpCall: "call",
	OpNativeCall: "nativecall", OpReturn: "return", OpReturnTail: "returntail",
	OpSay: "say", OpWarn: "warn", OpAsk: "ask", OpExit: "exit", OpAbort: "abort",
	OpStacktrace: "stacktrace",
	OpRandSeed: "rand.seed", OpRandSeedAuto: "rand.seedauto", OpRandInt: "rand.int",
	OpRandNum: "rand.num", OpRandRange: "rand.range", OpRandGetState: "rand.getstate",
	OpRandSetState: "rand.setstate", OpRandPick: "rand.pick", OpRandShuffle: "rand.shuffle",
	OpGCGetLevel: "gc.getlevel", OpGCSetLevel: "gc.setlevel", OpGCRun: "gc.run",
	OpPick: "pick", OpConsumeTicks: "consumeticks",
}

var nameToOp map[string]Op

func init() {
	nameToOp = make(map[string]Op, len(opNames))
	for op, name := range opNames {
		nameToOp[name] = op
	}
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", byte(op))
}

// Lookup resolves an opcode's mnemonic back to its Op, for disassembly
// round-trips and tests.
func Lookup(name string) (Op, bool) {
	op, ok := nameToOp[name]
	return op, ok
}

// argShape classifies an opcode's operand layout, the way the verifier
// needs it: how many (frame,slot) register operands it reads/writes and
// whether it carries an inline PC-relative jump target, string index, or
// native hash.
type argShape struct {
	regs      int
	hasJump   bool
	hasStrIdx bool
	hasNative bool
	hasLevel  bool // cmdhead's level + rest-position bytes
}

var shapes = map[Op]argShape{
	OpNop:   {},
	OpMove:  {regs: 2},
	OpInc:   {regs: 1},
	OpNil:   {regs: 1},
	OpNumLit8: {regs: 1}, OpNumLit16: {regs: 1}, OpNumLit32: {regs: 1}, OpNumLitDouble: {regs: 1},
	OpStrLit:  {regs: 1, hasStrIdx: true},
	OpListNew: {regs: 1},
	OpIsNum: {regs: 2}, OpIsStr: {regs: 2}, OpIsList: {regs: 2},
	OpIsNative: {regs: 1, hasNative: true},

	OpAdd: {regs: 3}, OpSub: {regs: 3}, OpMul: {regs: 3}, OpDiv: {regs: 3}, OpMod: {regs: 3}, OpPow: {regs: 3},
	OpNeg: {regs: 2}, OpAbs: {regs: 2}, OpSign: {regs: 2},
	OpFloor: {regs: 2}, OpCeil: {regs: 2}, OpRound: {regs: 2}, OpTrunc: {regs: 2},
	OpSin: {regs: 2}, OpCos: {regs: 2}, OpTan: {regs: 2},
	OpAsin: {regs: 2}, OpAcos: {regs: 2}, OpAtan: {regs: 2}, OpAtan2: {regs: 3},
	OpLog: {regs: 2}, OpLog2: {regs: 2}, OpExp: {regs: 2},
	OpMin: {regs: 3}, OpMax: {regs: 3}, OpClamp: {regs: 4}, OpLerp: {regs: 4},
	OpHex: {regs: 2}, OpOct: {regs: 2}, OpBin: {regs: 2},

	OpIntCast: {regs: 2}, OpIntNot: {regs: 2},
	OpIntAnd: {regs: 3}, OpIntOr: {regs: 3}, OpIntXor: {regs: 3},
	OpIntShl: {regs: 3}, OpIntShr: {regs: 3}, OpIntSar: {regs: 3},
	OpIntAdd: {regs: 3}, OpIntSub: {regs: 3}, OpIntMul: {regs: 3}, OpIntDiv: {regs: 3}, OpIntMod: {regs: 3},
	OpIntClz: {regs: 2}, OpIntPopcount: {regs: 2}, OpIntBswap: {regs: 2},

	OpLt: {regs: 3}, OpLte: {regs: 3}, OpEq: {regs: 3}, OpNeq: {regs: 3}, OpOrder: {regs: 3},

	OpLen:   {regs: 2},
	OpGetAt: {regs: 3}, OpSetAt: {regs: 3}, OpSlice: {regs: 4}, OpSplice: {regs: 4},
	OpListPush: {regs: 2}, OpListPop: {regs: 1},
	OpListShift: {regs: 1}, OpListUnshift: {regs: 2},
	OpListAppend: {regs: 2}, OpListPrepend: {regs: 2},
	OpListFind: {regs: 4}, OpListRFind: {regs: 4}, OpListJoin: {regs: 3},
	OpListReverse: {regs: 1}, OpListSort: {regs: 1}, OpListRSort: {regs: 1},
	OpListStr: {regs: 2},

	OpStrCat: {regs: 3}, OpStrSplit: {regs: 3}, OpStrReplace: {regs: 4},
	OpStrBegins: {regs: 3}, OpStrEnds: {regs: 3}, OpStrPad: {regs: 3},
	OpStrFind: {regs: 4}, OpStrRFind: {regs: 4},
	OpStrLower: {regs: 2}, OpStrUpper: {regs: 2}, OpStrTrim: {regs: 2}, OpStrRev: {regs: 2},
	OpStrRep: {regs: 3}, OpStrList: {regs: 2}, OpStrByte: {regs: 3}, OpStrHash: {regs: 2},

	OpUTF8Encode: {regs: 2}, OpUTF8Decode: {regs: 2},
	OpStructSize: {regs: 2}, OpStructStr: {regs: 3}, OpStructList: {regs: 3},

	OpPickleJSON: {regs: 2}, OpPickleBin: {regs: 2}, OpUnpickle: {regs: 2},
	OpPickleValid: {regs: 2}, OpPickleSibling: {regs: 3}, OpPickleCircular: {regs: 2}, OpPickleCopy: {regs: 2},

	OpJmp:      {hasJump: true},
	OpJmpTrue:  {regs: 1, hasJump: true},
	OpJmpFalse: {regs: 1, hasJump: true},
	OpCmdhead:  {hasLevel: true},
	OpCmdtail:  {},
	OpCall:     {regs: 2, hasJump: true},
	OpNativeCall: {regs: 2, hasNative: true},
	OpReturn:     {regs: 1},
	OpReturnTail: {hasJump: true},
	OpSay: {regs: 2}, OpWarn: {regs: 2}, OpAsk: {regs: 2},
	OpExit: {regs: 1}, OpAbort: {regs: 1}, OpStacktrace: {regs: 1},

	OpRandSeed: {regs: 1}, OpRandSeedAuto: {regs: 0},
	OpRandInt: {regs: 1}, OpRandNum: {regs: 1}, OpRandRange: {regs: 3},
	OpRandGetState: {regs: 1}, OpRandSetState: {regs: 1},
	OpRandPick: {regs: 2}, OpRandShuffle: {regs: 1},

	OpGCGetLevel: {regs: 1}, OpGCSetLevel: {regs: 1}, OpGCRun: {regs: 0},

	OpPick:         {regs: 4},
	OpConsumeTicks: {regs: 1},
}

// IsControlFlow reports whether op carries a PC-relative jump target that
// the verifier must check lands on an instruction boundary.
func (op Op) IsControlFlow() bool {
	return shapes[op].hasJump
}

// IsCmdBoundary reports whether op brackets a function body.
func (op Op) IsCmdBoundary() bool {
	return op == OpCmdhead || op == OpCmdtail
}

// NumRegisterOperands reports how many (frame,slot) pairs follow the
// opcode byte, for instruction-length computation during verification and
// disassembly. Every opcode has an entry in the shape table; a byte that
// names no opcode defaults to 2.
func (op Op) NumRegisterOperands() int {
	if s, ok := shapes[op]; ok {
		return s.regs
	}
	return 2
}

// Instruction is one decoded bytecode instruction: an opcode plus up to
// four (frame,slot) register operands, an optional inline numeric/jump
// argument, and an optional string/native table index.
type Instruction struct {
	Op     Op
	Regs   [4]RegRef
	NumReg int
	Arg    int64 // jump displacement, literal payload, or level/rest bytes
	Index  uint32 // string literal index or native hash-table index
}

// RegRef is a (frame, slot) operand: frame is how many lexical levels up
// from the current activation to read, slot is the register within it.
type RegRef struct {
	Frame byte
	Slot  byte
}

// Encode serializes one instruction to its on-the-wire byte form: opcode
// byte, then each register operand as two bytes (frame, slot), then the
// inline argument (if any) as little-endian bytes sized to the opcode's
// payload, then a string/native index as 4 little-endian bytes if present.
func (ins Instruction) Encode() []byte {
	buf := make([]byte, 0, 1+ins.NumReg*2+8)
	buf = append(buf, byte(ins.Op))
	for i := 0; i < ins.NumReg; i++ {
		buf = append(buf, ins.Regs[i].Frame, ins.Regs[i].Slot)
	}
	shape := shapes[ins.Op]
	switch {
	case shape.hasJump:
		buf = appendInt32(buf, int32(ins.Arg))
	case shape.hasLevel:
		buf = append(buf, byte(ins.Arg), byte(ins.Arg>>8))
	case ins.Op == OpNumLit8:
		buf = append(buf, byte(ins.Arg))
	case ins.Op == OpNumLit16:
		buf = append(buf, byte(ins.Arg), byte(ins.Arg>>8))
	case ins.Op == OpNumLit32:
		buf = appendInt32(buf, int32(ins.Arg))
	case ins.Op == OpNumLitDouble:
		buf = appendInt64(buf, ins.Arg)
	}
	if shape.hasStrIdx || shape.hasNative {
		buf = appendInt32(buf, int32(ins.Index))
	}
	return buf
}

func appendInt32(buf []byte, v int32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendInt64(buf []byte, v int64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// Decode reads one instruction starting at buf[pc], returning it along
// with the byte length consumed.
func Decode(buf []byte, pc int) (Instruction, int, error) {
	if pc < 0 || pc >= len(buf) {
		return Instruction{}, 0, fmt.Errorf("decode: pc %d out of range", pc)
	}
	op := Op(buf[pc])
	if op >= opCount {
		return Instruction{}, 0, fmt.Errorf("decode: unknown opcode byte %d at pc %d", buf[pc], pc)
	}
	ins := Instruction{Op: op}
	cursor := pc + 1
	numRegs := op.NumRegisterOperands()
	if shapes[op].hasJump && op == OpJmp {
		numRegs = 0
	}
	for i := 0; i < numRegs && i < 4; i++ {
		if cursor+2 > len(buf) {
			return Instruction{}, 0, fmt.Errorf("decode: truncated register operand at pc %d", pc)
		}
		ins.Regs[i] = RegRef{Frame: buf[cursor], Slot: buf[cursor+1]}
		cursor += 2
	}
	ins.NumReg = numRegs
	shape := shapes[op]
	switch {
	case shape.hasJump:
		if cursor+4 > len(buf) {
			return Instruction{}, 0, fmt.Errorf("decode: truncated jump target at pc %d", pc)
		}
		ins.Arg = int64(readInt32(buf, cursor))
		cursor += 4
	case shape.hasLevel:
		if cursor+2 > len(buf) {
			return Instruction{}, 0, fmt.Errorf("decode: truncated cmdhead args at pc %d", pc)
		}
		ins.Arg = int64(buf[cursor]) | int64(buf[cursor+1])<<8
		cursor += 2
	case op == OpNumLit8:
		if cursor+1 > len(buf) {
			return Instruction{}, 0, fmt.Errorf("decode: truncated numlit8 at pc %d", pc)
		}
		ins.Arg = int64(buf[cursor])
		cursor++
	case op == OpNumLit16:
		if cursor+2 > len(buf) {
			return Instruction{}, 0, fmt.Errorf("decode: truncated numlit16 at pc %d", pc)
		}
		ins.Arg = int64(buf[cursor]) | int64(buf[cursor+1])<<8
		cursor += 2
	case op == OpNumLit32:
		if cursor+4 > len(buf) {
			return Instruction{}, 0, fmt.Errorf("decode: truncated numlit32 at pc %d", pc)
		}
		ins.Arg = int64(readInt32(buf, cursor))
		cursor += 4
	case op == OpNumLitDouble:
		if cursor+8 > len(buf) {
			return Instruction{}, 0, fmt.Errorf("decode: truncated numlitd at pc %d", pc)
		}
		var v int64
		for i := 0; i < 8; i++ {
			v |= int64(buf[cursor+i]) << (8 * i)
		}
		ins.Arg = v
		cursor += 8
	}
	if shape.hasStrIdx || shape.hasNative {
		if cursor+4 > len(buf) {
			return Instruction{}, 0, fmt.Errorf("decode: truncated index at pc %d", pc)
		}
		ins.Index = uint32(readInt32(buf, cursor))
		cursor += 4
	}
	return ins, cursor - pc, nil
}

func readInt32(buf []byte, at int) int32 {
	return int32(buf[at]) | int32(buf[at+1])<<8 | int32(buf[at+2])<<16 | int32(buf[at+3])<<24
}
