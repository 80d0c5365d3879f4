package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructionEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Instruction{
		{Op: OpMove, Regs: [4]RegRef{{0, 1}, {0, 2}}, NumReg: 2},
		{Op: OpAdd, Regs: [4]RegRef{{0, 1}, {0, 2}, {0, 3}}, NumReg: 3},
		{Op: OpStrLit, Regs: [4]RegRef{{0, 0}}, NumReg: 1, Index: 7},
		{Op: OpJmp, Arg: 42},
		{Op: OpNumLitDouble, Regs: [4]RegRef{{0, 0}}, NumReg: 1, Arg: 4607182418800017408}, // 1.0 bit pattern
	}
	for _, want := range cases {
		buf := want.Encode()
		got, n, err := Decode(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, want.Op, got.Op)
		assert.Equal(t, want.Arg, got.Arg)
		assert.Equal(t, want.Index, got.Index)
	}
}

func TestDecodeRejectsUnknownOpcode(t *testing.T) {
	_, _, err := Decode([]byte{0xFF}, 0)
	assert.Error(t, err)
}

func TestOpStringAndLookupRoundTrip(t *testing.T) {
	for op, name := range opNames {
		assert.Equal(t, name, op.String())
		got, ok := Lookup(name)
		assert.True(t, ok)
		assert.Equal(t, op, got)
	}
}

func TestModuleEncodeDecodeRoundTrip(t *testing.T) {
	p := New()
	p.InternString("hello")
	dst := RegRef{0, 0}
	p.Emit(Instruction{Op: OpStrLit, Regs: [4]RegRef{dst}, NumReg: 1, Index: 0})
	p.Emit(Instruction{Op: OpReturn, Regs: [4]RegRef{dst}, NumReg: 1})
	p.Pos = []DebugPos{{PC: 0, Line: 1, Char: 1, FileIdx: 0}}

	buf := EncodeModule(p)
	got, err := DecodeModule(buf)
	require.NoError(t, err)
	assert.Equal(t, p.Strings, got.Strings)
	assert.Equal(t, p.Code, got.Code)
	assert.Equal(t, p.Pos, got.Pos)
}

func TestDecodeModuleRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 28)
	_, err := DecodeModule(buf)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestVerifyCatchesUnmatchedCmdtail(t *testing.T) {
	p := New()
	p.Emit(Instruction{Op: OpCmdtail})
	err := p.Verify()
	assert.Error(t, err)
}

func TestVerifyAcceptsBalancedCmd(t *testing.T) {
	p := New()
	p.Emit(Instruction{Op: OpCmdhead, Arg: 0})
	p.Emit(Instruction{Op: OpReturn, Regs: [4]RegRef{{0, 0}}, NumReg: 1})
	p.Emit(Instruction{Op: OpCmdtail})
	assert.NoError(t, p.Verify())
}

func TestVerifyCatchesBadJumpTarget(t *testing.T) {
	p := New()
	p.Emit(Instruction{Op: OpJmp, Arg: 9999})
	assert.Error(t, p.Verify())
}

func TestDisassembleProducesOneRowPerInstruction(t *testing.T) {
	p := New()
	p.InternString("x")
	p.Emit(Instruction{Op: OpStrLit, Regs: [4]RegRef{{0, 0}}, NumReg: 1, Index: 0})
	p.Emit(Instruction{Op: OpReturn, Regs: [4]RegRef{{0, 0}}, NumReg: 1})
	out := p.Disassemble()
	assert.Contains(t, out, "strlit")
	assert.Contains(t, out, "return")
}
