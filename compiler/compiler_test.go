package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sink/bytecode"
	"sink/compiler"
	"sink/lexer"
	"sink/parser"
	"sink/value"
	"sink/vm"
)

// fakeIO records say calls, mirroring vm/context_test.go's fakeIO for the
// same "assert what the script said" style at the compiler-output level.
type fakeIO struct {
	said []string
}

func (f *fakeIO) Say(s string) *vm.Wait  { f.said = append(f.said, s); return vm.Fulfilled(value.Nil) }
func (f *fakeIO) Warn(s string) *vm.Wait { return vm.Fulfilled(value.Nil) }
func (f *fakeIO) Ask(s string) *vm.Wait  { return vm.Fulfilled(value.Nil) }

// compileSource runs src through the full lexer->parser->compiler pipeline
// and returns the resulting, Verify()-checked Program.
func compileSource(t *testing.T, src string) *bytecode.Program {
	t.Helper()
	lex := lexer.New([]byte(src))
	p := parser.New(lex)
	stmts := p.ParseProgram()
	require.Nil(t, p.Err())

	prog := bytecode.New()
	c := compiler.New(prog, nil, nil)
	for _, stmt := range stmts {
		require.NoError(t, c.CompileStatement(stmt))
	}
	require.NoError(t, c.Finish())
	require.NoError(t, prog.Verify())
	return prog
}

func runSource(t *testing.T, src string) []string {
	t.Helper()
	prog := compileSource(t, src)
	io := &fakeIO{}
	ctx := vm.NewContext(prog, vm.WithIO(io))
	status := ctx.Run()
	require.Equal(t, vm.StatusPassed, status, "runtime error: %v", ctx.Err())
	return io.said
}

// TestSayHello covers spec.md §8 scenario (a): say 'hello'.
func TestSayHello(t *testing.T) {
	said := runSource(t, `say('hello')`)
	assert.Equal(t, []string{"hello"}, said)
}

// TestArithmeticAdd covers spec.md §8 scenario (b): var a=1,b=2; say a+b.
func TestArithmeticAdd(t *testing.T) {
	said := runSource(t, "var a = 1, b = 2\nsay(a + b)")
	assert.Equal(t, []string{"3"}, said)
}

// TestDefAndCall covers spec.md §8 scenario (c):
// def f a,b; return a*b; end; say f(3,4).
func TestDefAndCall(t *testing.T) {
	said := runSource(t, "def f a, b\n  return a * b\nend\nsay(f(3, 4))")
	assert.Equal(t, []string{"12"}, said)
}

// TestForwardDeclaredCommand exercises the placeholder-binding path in
// compileCall/compileLocalCall: g calls f before f is defined.
func TestForwardDeclaredCommand(t *testing.T) {
	said := runSource(t, strJoin(
		"def g x",
		"  return f(x) + 1",
		"end",
		"def f x",
		"  return x * 2",
		"end",
		"say(g(10))",
	))
	assert.Equal(t, []string{"21"}, said)
}

// TestForLoopOverList covers spec.md §8 scenario (g)'s shape, over a list
// literal rather than a `range` native (none is registered in this test).
func TestForLoopOverList(t *testing.T) {
	said := runSource(t, strJoin(
		"for i: {10, 20, 30}",
		"  say(i)",
		"end",
	))
	assert.Equal(t, []string{"10", "20", "30"}, said)
}

// TestForLoopTwoNamesBindsIndexAndValue covers the two-name for-loop
// binding: the first name is the index, the last is the element value.
func TestForLoopTwoNamesBindsIndexAndValue(t *testing.T) {
	said := runSource(t, strJoin(
		"for idx, v: {'a', 'b'}",
		"  say(idx)",
		"  say(v)",
		"end",
	))
	assert.Equal(t, []string{"0", "a", "1", "b"}, said)
}

// TestBreakAndContinue exercises loopCtx's deferred patch lists across a
// labeled loop with both a continue and a break.
func TestBreakAndContinue(t *testing.T) {
	said := runSource(t, strJoin(
		"var i = 0",
		"loop",
		"  i += 1",
		"  if i == 2",
		"    continue",
		"  end",
		"  if i > 3",
		"    break",
		"  end",
		"  say(i)",
		"end",
	))
	assert.Equal(t, []string{"1", "3"}, said)
}

// TestGreaterThanSynthesis covers the GT/GTE-as-swapped-OpLt/OpLte codegen
// path: there is no native greater-than opcode to exercise directly.
func TestGreaterThanSynthesis(t *testing.T) {
	said := runSource(t, strJoin(
		"if 5 > 3",
		"  say('yes')",
		"end",
		"if 3 >= 3",
		"  say('also yes')",
		"end",
		"if 3 > 5",
		"  say('no')",
		"end",
	))
	assert.Equal(t, []string{"yes", "also yes"}, said)
}

// TestConcatScalarIntoList exercises the OpListAppend-drops-scalar fix:
// concatenating a list with a bare scalar must keep the scalar as one
// element, not silently drop it.
func TestConcatScalarIntoList(t *testing.T) {
	said := runSource(t, `say({1, 2} ~ 3)`)
	assert.Equal(t, []string{"{1, 2, 3}"}, said)
}

// TestCondOrAssignPerElement covers spec.md §8 scenario (d)/(e): `||=` on a
// list lvalue combines element-by-element rather than as a single value.
func TestCondOrAssignPerElement(t *testing.T) {
	said := runSource(t, strJoin(
		"var x = {1, 2, 3}",
		"x ||= {4, 5, 6}",
		"say(x)",
	))
	assert.Equal(t, []string{"{1, 2, 3}"}, said)
}

func TestCondOrAssignFillsNilElement(t *testing.T) {
	said := runSource(t, strJoin(
		"var x = {1, nil, 3}",
		"x ||= {4, 5, 6}",
		"say(x)",
	))
	assert.Equal(t, []string{"{1, 5, 3}"}, said)
}

// TestCompoundAssignOnIndex exercises lvalueAddr resolving an indexed
// lvalue's object/key exactly once for a read-modify-write op.
func TestCompoundAssignOnIndex(t *testing.T) {
	said := runSource(t, strJoin(
		"var x = {1, 2, 3}",
		"x[1] += 10",
		"say(x)",
	))
	assert.Equal(t, []string{"{1, 12, 3}"}, said)
}

// TestTailRecursionDoesNotGrowFrameStack covers spec.md §4.5: `return
// f(...)` against a local command in tail position compiles to
// OpReturnTail rather than OpCall+OpReturn, so recursion depth doesn't
// cost a frame per call. 50,000 levels is well past what this VM's
// 256-slot-per-frame activation stack could sustain one frame at a time
// without the test becoming a slow, flaky stress test instead of a sharp
// regression check on the codegen choice.
func TestTailRecursionDoesNotGrowFrameStack(t *testing.T) {
	prog := compileSource(t, strJoin(
		"def sum n, acc",
		"  if n <= 0",
		"    return acc",
		"  end",
		"  return sum(n - 1, acc + n)",
		"end",
		"say(sum(50000, 0))",
	))

	foundTail := false
	for pc := 0; pc < len(prog.Code); {
		ins, n, err := bytecode.Decode(prog.Code, pc)
		require.NoError(t, err)
		if ins.Op == bytecode.OpReturnTail {
			foundTail = true
		}
		pc += n
	}
	assert.True(t, foundTail, "expected compileReturn to emit OpReturnTail for the self tail call")

	io := &fakeIO{}
	ctx := vm.NewContext(prog, vm.WithIO(io))
	status := ctx.Run()
	require.Equal(t, vm.StatusPassed, status, "runtime error: %v", ctx.Err())
	assert.Equal(t, []string{"1250025000"}, io.said)
}

// TestUndefinedCommandLeftUnresolvedFails ensures a forward-declared
// command that never gets a matching def is rejected by Finish, per
// spec.md §4.4's "leaving with unresolved declarations is an error".
func TestUndefinedCommandLeftUnresolvedFails(t *testing.T) {
	lex := lexer.New([]byte("say(neverDefined(1))"))
	p := parser.New(lex)
	stmts := p.ParseProgram()
	require.Nil(t, p.Err())

	prog := bytecode.New()
	c := compiler.New(prog, nil, nil)
	for _, stmt := range stmts {
		require.NoError(t, c.CompileStatement(stmt))
	}
	assert.Error(t, c.Finish())
}

func strJoin(lines ...string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
