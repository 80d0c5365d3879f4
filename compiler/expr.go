package compiler

import (
	"math"

	"sink/ast"
	"sink/bytecode"
	"sink/token"
)

// regResult is one compiled expression's home register. owned marks a
// scratch temp the caller must free via freeTempReg once it is done
// reading it; an unowned result aliases a variable's permanent slot (or a
// parameter living in the caller's frame) and must never be freed.
type regResult struct {
	reg   bytecode.RegRef
	owned bool
}

func (c *Compiler) reg(slot byte) bytecode.RegRef {
	return bytecode.RegRef{Frame: 0, Slot: slot}
}

func (c *Compiler) freeResult(rr regResult) {
	if rr.owned {
		c.fn.freeTempReg(rr.reg.Slot)
	}
}

func (c *Compiler) newTemp() regResult {
	return regResult{reg: c.reg(c.fn.allocTemp()), owned: true}
}

// compileExpr compiles e into some register (a fresh temp for anything but
// a bare identifier, which aliases its existing slot directly) and returns
// it.
func (c *Compiler) compileExpr(e ast.Expr) (regResult, error) {
	if id, ok := e.(*ast.Ident); ok {
		b := c.fn.ns.lookup(id.Name)
		if b == nil {
			return regResult{}, errCompile(id.Pos, "undefined name "+id.Name)
		}
		switch b.kind {
		case bindVar:
			return regResult{reg: b.reg}, nil
		case bindEnum:
			dst := c.newTemp()
			c.emitNumberLit(dst.reg, b.num)
			return dst, nil
		default:
			return regResult{}, errCompile(id.Pos, id.Name+" is not a value")
		}
	}
	dst := c.newTemp()
	if err := c.compileInto(e, dst.reg); err != nil {
		return regResult{}, err
	}
	return dst, nil
}

// compileInto compiles e's value directly into dst, avoiding an extra move
// for every case except the bare-identifier fast path compileExpr already
// special-cases.
func (c *Compiler) compileInto(e ast.Expr, dst bytecode.RegRef) error {
	switch n := e.(type) {
	case *ast.NumberLit:
		c.emitNumberLit(dst, n.Value)
		return nil
	case *ast.StringLit:
		idx := c.Program.InternString(n.Value)
		c.emit1Str(bytecode.OpStrLit, dst, idx)
		return nil
	case *ast.NilLit:
		c.emit1(bytecode.OpNil, dst)
		return nil
	case *ast.ListLit:
		return c.compileListLit(n, dst)
	case *ast.Ident:
		rr, err := c.compileExpr(e)
		if err != nil {
			return err
		}
		defer c.freeResult(rr)
		if rr.reg != dst {
			c.emit2(bytecode.OpMove, dst, rr.reg)
		}
		return nil
	case *ast.Unary:
		return c.compileUnary(n, dst)
	case *ast.Binary:
		return c.compileBinary(n, dst)
	case *ast.Call:
		return c.compileCall(n, dst)
	case *ast.Index:
		return c.compileIndex(n, dst)
	case *ast.Slice:
		return c.compileSlice(n, dst)
	case *ast.Pick:
		return c.compilePick(n, dst)
	case *ast.IsNative:
		hash := bytecode.HashName(n.Name)
		idx := c.Program.InternNative(hash)
		c.emitIsNative(dst, idx)
		return nil
	case *ast.Embed:
		return c.compileEmbed(n, dst)
	case *ast.Assign:
		return c.compileAssign(n, true, dst)
	default:
		return errCompile(e.Position(), "unsupported expression")
	}
}

func (c *Compiler) compileListLit(n *ast.ListLit, dst bytecode.RegRef) error {
	c.emit1(bytecode.OpListNew, dst)
	for _, elem := range n.Elems {
		ev, err := c.compileExpr(elem)
		if err != nil {
			return err
		}
		c.emit2(bytecode.OpListPush, dst, ev.reg)
		c.freeResult(ev)
	}
	return nil
}

func (c *Compiler) compileUnary(n *ast.Unary, dst bytecode.RegRef) error {
	v, err := c.compileExpr(n.Expr)
	if err != nil {
		return err
	}
	defer c.freeResult(v)
	switch n.Op {
	case token.MINUS:
		c.emit2(bytecode.OpNeg, dst, v.reg)
	case token.PLUS:
		if v.reg != dst {
			c.emit2(bytecode.OpMove, dst, v.reg)
		}
	case token.BANG:
		c.emitNot(dst, v.reg)
	case token.AMP:
		// spread: the enclosing call/list-lit flattens a spread argument;
		// evaluated bare it just yields the underlying list/string.
		if v.reg != dst {
			c.emit2(bytecode.OpMove, dst, v.reg)
		}
	default:
		return errCompile(n.Pos, "unsupported unary operator")
	}
	return nil
}

// emitNot computes logical-not against the VM's own truthiness rule (nil is
// false, 0 is false, everything else — including every string and list —
// is true), which OpEq can't reproduce directly (nil isn't numerically
// equal to 0), so it's built from the same JmpTrue the VM uses internally.
func (c *Compiler) emitNot(dst bytecode.RegRef, v bytecode.RegRef) {
	c.emitNumberLit(dst, 0)
	skip := c.emitJmpTrue(v)
	c.emitNumberLit(dst, 1)
	c.patchJumpHere(skip)
}

func (c *Compiler) compileBinary(n *ast.Binary, dst bytecode.RegRef) error {
	switch n.Op {
	case token.ANDAND:
		return c.compileShortCircuit(n, dst, true)
	case token.OROR:
		return c.compileShortCircuit(n, dst, false)
	case token.PIPE:
		// f | g is sugar for g(f): right must be a call whose first
		// argument slot is filled by the left operand's value.
		return c.compilePipe(n, dst)
	case token.TILDE:
		return c.compileConcat(n, dst)
	}

	left, err := c.compileExpr(n.Left)
	if err != nil {
		return err
	}
	right, err := c.compileExpr(n.Right)
	if err != nil {
		return err
	}
	defer c.freeResult(left)
	defer c.freeResult(right)

	// GT/GTE have no dedicated opcode: the VM only implements Lt/Lte, so
	// a > b compiles as b < a (operands swapped).
	switch n.Op {
	case token.GT:
		c.emit3(bytecode.OpLt, dst, right.reg, left.reg)
		return nil
	case token.GTE:
		c.emit3(bytecode.OpLte, dst, right.reg, left.reg)
		return nil
	}

	op, ok := binOpcodes[n.Op]
	if !ok {
		return errCompile(n.Pos, "unsupported binary operator")
	}
	c.emit3(op, dst, left.reg, right.reg)
	return nil
}

var binOpcodes = map[token.Kind]bytecode.Op{
	token.PLUS:    bytecode.OpAdd,
	token.MINUS:   bytecode.OpSub,
	token.STAR:    bytecode.OpMul,
	token.SLASH:   bytecode.OpDiv,
	token.PERCENT: bytecode.OpMod,
	token.CARET:   bytecode.OpPow,
	token.LT:      bytecode.OpLt,
	token.LTE:     bytecode.OpLte,
	token.EQ:      bytecode.OpEq,
	token.NEQ:     bytecode.OpNeq,
}

// compileShortCircuit implements && / || without ever evaluating the right
// operand unless needed (spec.md §4.5: logical operators short-circuit).
func (c *Compiler) compileShortCircuit(n *ast.Binary, dst bytecode.RegRef, isAnd bool) error {
	left, err := c.compileExpr(n.Left)
	if err != nil {
		return err
	}
	if dst != left.reg {
		c.emit2(bytecode.OpMove, dst, left.reg)
	}
	c.freeResult(left)

	var skip int
	if isAnd {
		skip = c.emitJmpFalse(dst)
	} else {
		skip = c.emitJmpTrue(dst)
	}
	right, err := c.compileExpr(n.Right)
	if err != nil {
		return err
	}
	if dst != right.reg {
		c.emit2(bytecode.OpMove, dst, right.reg)
	}
	c.freeResult(right)
	c.patchJumpHere(skip)
	return nil
}

// compilePipe compiles `left | right` where right must be a Call node;
// left's value becomes right's leading argument, matching spec.md §4.3's
// "pipe passes its left operand as the first argument of the call on its
// right".
func (c *Compiler) compilePipe(n *ast.Binary, dst bytecode.RegRef) error {
	call, ok := n.Right.(*ast.Call)
	if !ok {
		return errCompile(n.Pos, "pipe target must be a call")
	}
	piped := &ast.Call{Callee: call.Callee, Args: append([]ast.Expr{n.Left}, call.Args...)}
	return c.compileInto(piped, dst)
}

// compileConcat implements `~`: list~X appends X's elements (or X itself)
// onto a fresh list, anything else renders both sides to a string and
// concatenates. Because the operand types are only known at runtime, this
// branches on IsList dynamically rather than guessing from the AST shape.
func (c *Compiler) compileConcat(n *ast.Binary, dst bytecode.RegRef) error {
	left, err := c.compileExpr(n.Left)
	if err != nil {
		return err
	}
	right, err := c.compileExpr(n.Right)
	if err != nil {
		return err
	}
	defer c.freeResult(left)
	defer c.freeResult(right)
	c.compileConcatRegs(dst, left.reg, right.reg)
	return nil
}

// compileConcatRegs is compileConcat's register-level core, shared with the
// `~=` compound-assignment path (compiler/lvalue.go) which already has both
// operands in registers and has no AST binary node to hand it.
func (c *Compiler) compileConcatRegs(dst, left, right bytecode.RegRef) {
	isList := c.newTemp()
	c.emit2(bytecode.OpIsList, isList.reg, left)
	elseJmp := c.emitJmpFalse(isList.reg)
	c.freeResult(isList)

	// left is already known to be a list here; right may or may not be —
	// OpListAppend only spreads a list operand's items (a scalar register
	// would silently contribute nothing), so a non-list right is pushed as
	// a single trailing element instead.
	listResult := c.newTemp()
	c.emit1(bytecode.OpListNew, listResult.reg)
	c.emit2(bytecode.OpListAppend, listResult.reg, left)
	rightIsList := c.newTemp()
	c.emit2(bytecode.OpIsList, rightIsList.reg, right)
	rightElseJmp := c.emitJmpFalse(rightIsList.reg)
	c.freeResult(rightIsList)
	c.emit2(bytecode.OpListAppend, listResult.reg, right)
	rightEndJmp := c.emitJmp()
	c.patchJumpHere(rightElseJmp)
	c.emit2(bytecode.OpListPush, listResult.reg, right)
	c.patchJumpHere(rightEndJmp)
	if dst != listResult.reg {
		c.emit2(bytecode.OpMove, dst, listResult.reg)
	}
	c.freeResult(listResult)
	endJmp := c.emitJmp()

	c.patchJumpHere(elseJmp)
	c.emit3(bytecode.OpStrCat, dst, left, right)

	c.patchJumpHere(endJmp)
}

func (c *Compiler) compileIndex(n *ast.Index, dst bytecode.RegRef) error {
	obj, err := c.compileExpr(n.Object)
	if err != nil {
		return err
	}
	key, err := c.compileExpr(n.Key)
	if err != nil {
		return err
	}
	defer c.freeResult(obj)
	defer c.freeResult(key)
	c.emit3(bytecode.OpGetAt, dst, obj.reg, key.reg)
	return nil
}

func (c *Compiler) compileSlice(n *ast.Slice, dst bytecode.RegRef) error {
	obj, err := c.compileExpr(n.Object)
	if err != nil {
		return err
	}
	defer c.freeResult(obj)

	from := c.newTemp()
	if n.From != nil {
		if err := c.compileInto(n.From, from.reg); err != nil {
			return err
		}
	} else {
		c.emitNumberLit(from.reg, 0)
	}
	defer c.freeResult(from)

	to := c.newTemp()
	if n.To != nil {
		if err := c.compileInto(n.To, to.reg); err != nil {
			return err
		}
	} else {
		lenReg := c.newTemp()
		c.emit2(bytecode.OpLen, lenReg.reg, obj.reg)
		c.emit2(bytecode.OpMove, to.reg, lenReg.reg)
		c.freeResult(lenReg)
	}
	defer c.freeResult(to)

	c.emit4(bytecode.OpSlice, dst, obj.reg, from.reg, to.reg)
	return nil
}

func (c *Compiler) compilePick(n *ast.Pick, dst bytecode.RegRef) error {
	cond, err := c.compileExpr(n.Cond)
	if err != nil {
		return err
	}
	then, err := c.compileExpr(n.Then)
	if err != nil {
		return err
	}
	els, err := c.compileExpr(n.Else)
	if err != nil {
		return err
	}
	defer c.freeResult(cond)
	defer c.freeResult(then)
	defer c.freeResult(els)
	c.emit4(bytecode.OpPick, dst, cond.reg, then.reg, els.reg)
	return nil
}

func (c *Compiler) compileEmbed(n *ast.Embed, dst bytecode.RegRef) error {
	if c.includer == nil {
		return errCompile(n.Pos, "embed used with no includer configured")
	}
	data, err := c.readIncluded(n.Path)
	if err != nil {
		return errCompile(n.Pos, err.Error())
	}
	idx := c.Program.InternString(string(data))
	c.emit1Str(bytecode.OpStrLit, dst, idx)
	return nil
}

// compileCall dispatches a call to a local user command, a stdlib opcode
// pseudo-command (e.g. str.split, str.lower — resolved by mnemonic against
// bytecode.Lookup), or a host-registered native, in that order (spec.md
// §4.4: "a name not bound locally falls through to the opcode table, then
// to the native registry").
func (c *Compiler) compileCall(n *ast.Call, dst bytecode.RegRef) error {
	name, ok := calleeName(n.Callee)
	if !ok {
		return errCompile(n.Pos, "call target must be a plain name")
	}

	if name == "str.hash" && len(n.Args) == 1 {
		if lit, ok := n.Args[0].(*ast.StringLit); ok {
			c.emitNumberLit(dst, float64(bytecode.HashName(lit.Value)))
			return nil
		}
	}

	if b := c.fn.ns.lookup(name); b != nil {
		if b.kind != bindCommand {
			return errCompile(n.Pos, name+" is not callable")
		}
		return c.compileLocalCall(b.cmd, n.Args, dst, n.Pos)
	}
	if op, ok := bytecode.Lookup(name); ok && op != bytecode.OpNop {
		return c.compileOpcodeCall(op, n.Args, dst, n.Pos)
	}
	if c.natives != nil {
		hash := c.natives.Hash(name)
		if _, ok := c.natives.Lookup(hash); ok {
			return c.compileNativeCall(hash, n.Args, dst)
		}
	}
	// Not a recognized opcode or registered native: treat this as a
	// forward reference to a command whose `def` hasn't been compiled yet
	// (spec.md §4.4 forward-declaration placeholder) — the call itself is
	// the first declaration, and Def fills in the real arity/body PC later.
	// The placeholder is bound in the global namespace, where a later
	// top-level `def` of the same name finds and patches it.
	cmd := &command{name: name, arity: len(n.Args)}
	c.global.names[name] = &binding{kind: bindCommand, cmd: cmd}
	return c.compileLocalCall(cmd, n.Args, dst, n.Pos)
}

func calleeName(e ast.Expr) (string, bool) {
	if id, ok := e.(*ast.Ident); ok {
		return id.Name, true
	}
	return "", false
}

// compileLocalCall stages args into the caller's call-arg slots (0..n-1,
// with any variadic overflow collected into a list at slot n) and emits
// OpCall; if cmd's body PC isn't known yet this is a forward reference and
// the jump displacement is patched once Def resolves it (spec.md §4.4
// forward-declaration placeholder).
func (c *Compiler) compileLocalCall(cmd *command, args []ast.Expr, dst bytecode.RegRef, pos token.Pos) error {
	// A still-unresolved command is a forward reference: its real arity
	// isn't known until Def compiles, so this call site's own argument
	// count is taken on faith (and stands as cmd.arity below if this is
	// the first call anyone made) rather than checked against it.
	if cmd.resolved {
		if !cmd.hasRest && len(args) != cmd.arity {
			return errCompile(pos, "wrong argument count")
		}
		if cmd.hasRest && len(args) < cmd.arity {
			return errCompile(pos, "too few arguments")
		}
	}
	fixed := cmd.arity
	if !cmd.resolved {
		fixed = len(args)
	}
	if fixed+1 > callArgSlots {
		return errCompile(pos, "too many parameters")
	}
	for i := 0; i < fixed; i++ {
		if err := c.compileInto(args[i], c.reg(byte(i))); err != nil {
			return err
		}
	}
	if cmd.hasRest {
		restReg := c.reg(byte(cmd.arity))
		c.emit1(bytecode.OpListNew, restReg)
		for _, a := range args[cmd.arity:] {
			v, err := c.compileExpr(a)
			if err != nil {
				return err
			}
			c.emit2(bytecode.OpListPush, restReg, v.reg)
			c.freeResult(v)
		}
	}
	pc := c.Program.Emit(bytecode.Instruction{
		Op: bytecode.OpCall, Regs: [4]bytecode.RegRef{dst}, NumReg: 2,
	})
	argAt := pc + 1 + 2*2
	if cmd.resolved {
		c.patchJumpTo(argAt, cmd.pc)
	} else {
		cmd.patchSites = append(cmd.patchSites, argAt)
	}
	return nil
}

// compileTailCall compiles `return f(args...)` as OpReturnTail instead of
// OpCall+OpReturn. OpReturnTail never pushes a frame — it wipes the
// current one and jumps — so the callee's Frame:1 parameter reads resolve
// to exactly the same frame a normal call would have staged them in: the
// frame this function's own parameters were read from. That means the new
// arguments must land in *that* frame, not in the current one's call-arg
// bank (there's no further push left to promote it).
//
// Those slots are this function's own incoming parameters, so a bare-name
// argument (e.g. `return f(n, acc)` where acc is also a parameter) may
// alias a slot that an earlier argument's move is about to overwrite.
// Every argument is therefore copied into a scratch temp first, and only
// once all of them are safely captured are they moved into Frame 1 — the
// same evaluate-then-commit ordering compileLocalCall doesn't need,
// because its destination bank is scratch space nothing else reads.
func (c *Compiler) compileTailCall(cmd *command, args []ast.Expr, pos token.Pos) error {
	if cmd.resolved {
		if !cmd.hasRest && len(args) != cmd.arity {
			return errCompile(pos, "wrong argument count")
		}
		if cmd.hasRest && len(args) < cmd.arity {
			return errCompile(pos, "too few arguments")
		}
	}
	fixed := cmd.arity
	if !cmd.resolved {
		fixed = len(args)
	}
	if fixed+1 > callArgSlots {
		return errCompile(pos, "too many parameters")
	}

	temps := make([]regResult, fixed)
	for i := 0; i < fixed; i++ {
		t := c.newTemp()
		if err := c.compileInto(args[i], t.reg); err != nil {
			return err
		}
		temps[i] = t
	}
	var rest regResult
	if cmd.hasRest {
		rest = c.newTemp()
		c.emit1(bytecode.OpListNew, rest.reg)
		for _, a := range args[cmd.arity:] {
			v, err := c.compileExpr(a)
			if err != nil {
				return err
			}
			c.emit2(bytecode.OpListPush, rest.reg, v.reg)
			c.freeResult(v)
		}
	}

	for i, t := range temps {
		c.emit2(bytecode.OpMove, bytecode.RegRef{Frame: 1, Slot: byte(i)}, t.reg)
		c.freeResult(t)
	}
	if cmd.hasRest {
		c.emit2(bytecode.OpMove, bytecode.RegRef{Frame: 1, Slot: byte(cmd.arity)}, rest.reg)
		c.freeResult(rest)
	}

	argAt := c.emitReturnTail()
	if cmd.resolved {
		c.patchJumpTo(argAt, cmd.pc)
	} else {
		cmd.patchSites = append(cmd.patchSites, argAt)
	}
	return nil
}

func (c *Compiler) emitReturnTail() int {
	pc := c.Program.Emit(bytecode.Instruction{Op: bytecode.OpReturnTail})
	return pc + 1
}

// compileOpcodeCall emits one of the stdlib opcodes directly, e.g.
// str.split(s, sep) -> OpStrSplit dst, s, sep. Arg count must equal the
// opcode's declared register shape minus its destination register.
func (c *Compiler) compileOpcodeCall(op bytecode.Op, args []ast.Expr, dst bytecode.RegRef, pos token.Pos) error {
	want := op.NumRegisterOperands() - 1
	if want < 0 {
		want = 0
	}
	if len(args) != want {
		return errCompile(pos, "wrong argument count")
	}
	var regs [4]bytecode.RegRef
	regs[0] = dst
	var owned []regResult
	for i, a := range args {
		v, err := c.compileExpr(a)
		if err != nil {
			return err
		}
		regs[i+1] = v.reg
		owned = append(owned, v)
	}
	c.Program.Emit(bytecode.Instruction{Op: op, Regs: regs, NumReg: want + 1})
	for _, v := range owned {
		c.freeResult(v)
	}
	return nil
}

// compileNativeCall bundles args into a single list register, matching
// OpNativeCall's (dst, argsList) shape (DESIGN.md: widened from the
// teacher-seeded single-register form once real argument passing was
// needed).
func (c *Compiler) compileNativeCall(hash uint64, args []ast.Expr, dst bytecode.RegRef) error {
	argsList := c.newTemp()
	c.emit1(bytecode.OpListNew, argsList.reg)
	for _, a := range args {
		v, err := c.compileExpr(a)
		if err != nil {
			return err
		}
		c.emit2(bytecode.OpListPush, argsList.reg, v.reg)
		c.freeResult(v)
	}
	idx := c.Program.InternNative(hash)
	c.Program.Emit(bytecode.Instruction{
		Op: bytecode.OpNativeCall, Regs: [4]bytecode.RegRef{dst, argsList.reg}, NumReg: 2, Index: idx,
	})
	c.freeResult(argsList)
	return nil
}

// --- low-level emit helpers ---

func (c *Compiler) emit1(op bytecode.Op, dst bytecode.RegRef) {
	c.Program.Emit(bytecode.Instruction{Op: op, Regs: [4]bytecode.RegRef{dst}, NumReg: 1})
}

func (c *Compiler) emit1Str(op bytecode.Op, dst bytecode.RegRef, idx uint32) {
	c.Program.Emit(bytecode.Instruction{Op: op, Regs: [4]bytecode.RegRef{dst}, NumReg: 1, Index: idx})
}

func (c *Compiler) emitIsNative(dst bytecode.RegRef, idx uint32) {
	c.Program.Emit(bytecode.Instruction{Op: bytecode.OpIsNative, Regs: [4]bytecode.RegRef{dst}, NumReg: 1, Index: idx})
}

func (c *Compiler) emit2(op bytecode.Op, dst, a bytecode.RegRef) {
	c.Program.Emit(bytecode.Instruction{Op: op, Regs: [4]bytecode.RegRef{dst, a}, NumReg: 2})
}

func (c *Compiler) emit3(op bytecode.Op, dst, a, b bytecode.RegRef) {
	c.Program.Emit(bytecode.Instruction{Op: op, Regs: [4]bytecode.RegRef{dst, a, b}, NumReg: 3})
}

func (c *Compiler) emit4(op bytecode.Op, dst, a, b, cc bytecode.RegRef) {
	c.Program.Emit(bytecode.Instruction{Op: op, Regs: [4]bytecode.RegRef{dst, a, b, cc}, NumReg: 4})
}

// emitNumberLit picks the smallest literal opcode that can represent v
// exactly, falling back to the 8-byte IEEE-754 form for negatives,
// fractional values, and integers above 2^31-1 (the 32-bit form is a
// signed field) (spec.md §4.5: "constants are packed to their
// narrowest encoding").
func (c *Compiler) emitNumberLit(dst bytecode.RegRef, v float64) {
	if v == math.Trunc(v) && v >= 0 && v <= math.MaxInt32 {
		iv := int64(v)
		switch {
		case iv <= 0xFF:
			c.Program.Emit(bytecode.Instruction{Op: bytecode.OpNumLit8, Regs: [4]bytecode.RegRef{dst}, NumReg: 1, Arg: iv})
			return
		case iv <= 0xFFFF:
			c.Program.Emit(bytecode.Instruction{Op: bytecode.OpNumLit16, Regs: [4]bytecode.RegRef{dst}, NumReg: 1, Arg: iv})
			return
		default:
			c.Program.Emit(bytecode.Instruction{Op: bytecode.OpNumLit32, Regs: [4]bytecode.RegRef{dst}, NumReg: 1, Arg: iv})
			return
		}
	}
	c.Program.Emit(bytecode.Instruction{
		Op: bytecode.OpNumLitDouble, Regs: [4]bytecode.RegRef{dst}, NumReg: 1,
		Arg: int64(math.Float64bits(v)),
	})
}

// --- jump/patch helpers ---
//
// Every control-flow opcode's 4-byte displacement argument sits immediately
// after its register operands with nothing trailing it (none of
// OpJmp/OpJmpTrue/OpJmpFalse/OpCall/OpReturnTail carry a string/native
// index), so the instruction's end is always argAt+4 regardless of which
// of those ops it is. That makes a single displacement formula correct for
// all of them: Arg = target - (argAt+4).

func (c *Compiler) patchJumpTo(argAt int, target int) {
	c.Program.PatchJump(argAt, int32(target-(argAt+4)))
}

func (c *Compiler) patchJumpHere(argAt int) {
	c.patchJumpTo(argAt, len(c.Program.Code))
}

// emitJmp emits an unconditional forward jump with a zero placeholder
// displacement and returns the byte offset to patch once the target is
// known.
func (c *Compiler) emitJmp() int {
	pc := c.Program.Emit(bytecode.Instruction{Op: bytecode.OpJmp})
	return pc + 1
}

// emitJmpTo emits an unconditional jump to an already-known target (loop
// back-edges).
func (c *Compiler) emitJmpTo(target int) {
	pc := c.Program.Emit(bytecode.Instruction{Op: bytecode.OpJmp})
	c.patchJumpTo(pc+1, target)
}

func (c *Compiler) emitJmpFalse(cond bytecode.RegRef) int {
	pc := c.Program.Emit(bytecode.Instruction{Op: bytecode.OpJmpFalse, Regs: [4]bytecode.RegRef{cond}, NumReg: 1})
	return pc + 1 + 2
}

func (c *Compiler) emitJmpTrue(cond bytecode.RegRef) int {
	pc := c.Program.Emit(bytecode.Instruction{Op: bytecode.OpJmpTrue, Regs: [4]bytecode.RegRef{cond}, NumReg: 1})
	return pc + 1 + 2
}
