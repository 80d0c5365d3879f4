package compiler

import (
	"sink/ast"
	"sink/bytecode"
	"sink/token"
)

// compileStmt dispatches one statement to its code generator. Grounded on
// the teacher's vm/compile.go "one case per AST/opcode kind" shape,
// generalized from assembly mnemonics to the full statement grammar
// (spec.md §4.2).
func (c *Compiler) compileStmt(stmt ast.Stmt) error {
	switch n := stmt.(type) {
	case *ast.ExprStmt:
		if asn, ok := n.X.(*ast.Assign); ok {
			return c.compileAssign(asn, false, bytecode.RegRef{})
		}
		v, err := c.compileExpr(n.X)
		if err != nil {
			return err
		}
		c.freeResult(v)
		return nil
	case *ast.VarDecl:
		return c.compileVarDecl(n)
	case *ast.Assign:
		return c.compileAssign(n, false, bytecode.RegRef{})
	case *ast.Block:
		return c.compileBlock(*n)
	case *ast.If:
		return c.compileIf(n)
	case *ast.For:
		return c.compileFor(n)
	case *ast.While:
		return c.compileWhile(n)
	case *ast.Loop:
		return c.compileLoop(n)
	case *ast.Break:
		return c.compileBreak(n)
	case *ast.Continue:
		return c.compileContinue(n)
	case *ast.Return:
		return c.compileReturn(n)
	case *ast.LabelDecl:
		return c.compileLabelDecl(n)
	case *ast.Goto:
		return c.compileGoto(n)
	case *ast.Def:
		return c.compileDef(n)
	case *ast.Using:
		return c.compileUsing(n)
	case *ast.NamespaceDecl:
		return c.compileNamespaceDecl(n)
	case *ast.EnumDecl:
		return c.compileEnumDecl(n)
	case *ast.Include:
		return c.compileInclude(n)
	default:
		return errCompile(stmt.Position(), "unsupported statement")
	}
}

func (c *Compiler) compileBlock(b ast.Block) error {
	for _, s := range b.Stmts {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

// compileVarDecl declares each name (allocating a permanent register, or
// one per leaf for a list-pattern name) and compiles its initializer
// directly into place.
func (c *Compiler) compileVarDecl(d *ast.VarDecl) error {
	for i, lv := range d.Names {
		if err := c.declareLvalueVars(lv); err != nil {
			return err
		}
		switch t := lv.(type) {
		case *ast.LName:
			b := c.fn.ns.names[t.Name]
			if d.Inits[i] != nil {
				if err := c.compileInto(d.Inits[i], b.reg); err != nil {
					return err
				}
			} else {
				c.emit1(bytecode.OpNil, b.reg)
			}
		case *ast.LPattern:
			if d.Inits[i] == nil {
				continue
			}
			v, err := c.compileExpr(d.Inits[i])
			if err != nil {
				return err
			}
			err = c.destructure(t, v.reg)
			c.freeResult(v)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Compiler) compileIf(n *ast.If) error {
	cond, err := c.compileExpr(n.Cond)
	if err != nil {
		return err
	}
	elseJmp := c.emitJmpFalse(cond.reg)
	c.freeResult(cond)

	if err := c.compileBlock(n.Then); err != nil {
		return err
	}
	endJmps := []int{c.emitJmp()}
	c.patchJumpHere(elseJmp)

	for _, ei := range n.Elseifs {
		eiCond, err := c.compileExpr(ei.Cond)
		if err != nil {
			return err
		}
		nextJmp := c.emitJmpFalse(eiCond.reg)
		c.freeResult(eiCond)
		if err := c.compileBlock(ei.Body); err != nil {
			return err
		}
		endJmps = append(endJmps, c.emitJmp())
		c.patchJumpHere(nextJmp)
	}

	if n.Else != nil {
		if err := c.compileBlock(*n.Else); err != nil {
			return err
		}
	}
	for _, j := range endJmps {
		c.patchJumpHere(j)
	}
	return nil
}

// compileWhile compiles `while cond ... end`. continue jumps straight back
// to the condition re-check; break targets are only known once the trailing
// exit jump and the body are both emitted, so they share one patch list
// with that exit jump.
func (c *Compiler) compileWhile(n *ast.While) error {
	head := len(c.Program.Code)
	cond, err := c.compileExpr(n.Cond)
	if err != nil {
		return err
	}
	exitJmp := c.emitJmpFalse(cond.reg)
	c.freeResult(cond)

	loop := &loopCtx{name: n.Label, continuePC: head, continueKnown: true, breakPatch: []int{exitJmp}}
	c.fn.loops = append(c.fn.loops, loop)
	if err := c.compileBlock(n.Body); err != nil {
		c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]
		return err
	}
	c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]

	c.emitJmpTo(head)
	end := len(c.Program.Code)
	for _, s := range loop.breakPatch {
		c.patchJumpTo(s, end)
	}
	return nil
}

// compileLoop compiles the unconditional `loop ... end`; it only ever exits
// via a `break` (or `return`/`goto` out of it).
func (c *Compiler) compileLoop(n *ast.Loop) error {
	head := len(c.Program.Code)
	loop := &loopCtx{name: n.Label, continuePC: head, continueKnown: true}
	c.fn.loops = append(c.fn.loops, loop)
	if err := c.compileBlock(n.Body); err != nil {
		c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]
		return err
	}
	c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]

	c.emitJmpTo(head)
	end := len(c.Program.Code)
	for _, s := range loop.breakPatch {
		c.patchJumpTo(s, end)
	}
	return nil
}

// compileFor compiles `for v: iter ... end` / `for k, v: iter ... end`
// against iter's runtime length (spec.md §4.2): a single bound name
// receives each element in turn; two names receive the index, then the
// element.
func (c *Compiler) compileFor(n *ast.For) error {
	if len(n.Names) != 1 && len(n.Names) != 2 {
		return errCompile(n.Pos, "for loop takes one or two names")
	}
	iterVal, err := c.compileExpr(n.Iter)
	if err != nil {
		return err
	}
	defer c.freeResult(iterVal)

	lenReg := c.newTemp()
	c.emit2(bytecode.OpLen, lenReg.reg, iterVal.reg)
	defer c.freeResult(lenReg)
	idx := c.newTemp()
	c.emitNumberLit(idx.reg, 0)
	defer c.freeResult(idx)

	for _, nm := range n.Names {
		if err := c.declareLvalueVars(nm); err != nil {
			return err
		}
	}

	head := len(c.Program.Code)
	cond := c.newTemp()
	c.emit3(bytecode.OpLt, cond.reg, idx.reg, lenReg.reg)
	exitJmp := c.emitJmpFalse(cond.reg)
	c.freeResult(cond)

	if len(n.Names) == 2 {
		idxCopy := c.newTemp()
		c.emit2(bytecode.OpMove, idxCopy.reg, idx.reg)
		if err := c.writeLvalue(n.Names[0], idxCopy.reg); err != nil {
			c.freeResult(idxCopy)
			return err
		}
		c.freeResult(idxCopy)
	}
	elem := c.newTemp()
	c.emit3(bytecode.OpGetAt, elem.reg, iterVal.reg, idx.reg)
	valueName := n.Names[len(n.Names)-1]
	if err := c.writeLvalue(valueName, elem.reg); err != nil {
		c.freeResult(elem)
		return err
	}
	c.freeResult(elem)

	loop := &loopCtx{name: n.Label, breakPatch: []int{exitJmp}}
	c.fn.loops = append(c.fn.loops, loop)
	if err := c.compileBlock(n.Body); err != nil {
		c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]
		return err
	}
	c.fn.loops = c.fn.loops[:len(c.fn.loops)-1]

	incAt := len(c.Program.Code)
	c.emit1(bytecode.OpInc, idx.reg)
	c.emitJmpTo(head)
	end := len(c.Program.Code)
	for _, s := range loop.continuePatch {
		c.patchJumpTo(s, incAt)
	}
	for _, s := range loop.breakPatch {
		c.patchJumpTo(s, end)
	}
	return nil
}

func (c *Compiler) findLoop(pos token.Pos, label string) (*loopCtx, error) {
	for i := len(c.fn.loops) - 1; i >= 0; i-- {
		if label == "" || c.fn.loops[i].name == label {
			return c.fn.loops[i], nil
		}
	}
	if label != "" {
		return nil, errCompile(pos, "no enclosing loop labeled "+label)
	}
	return nil, errCompile(pos, "break/continue outside of a loop")
}

func (c *Compiler) compileBreak(n *ast.Break) error {
	loop, err := c.findLoop(n.Pos, n.Label)
	if err != nil {
		return err
	}
	loop.breakPatch = append(loop.breakPatch, c.emitJmp())
	return nil
}

func (c *Compiler) compileContinue(n *ast.Continue) error {
	loop, err := c.findLoop(n.Pos, n.Label)
	if err != nil {
		return err
	}
	if loop.continueKnown {
		c.emitJmpTo(loop.continuePC)
	} else {
		loop.continuePatch = append(loop.continuePatch, c.emitJmp())
	}
	return nil
}

// compileReturn compiles a bare return, a normal `return expr`, or — when
// expr is a call to a local command — a tail call (spec.md §4.5: "return
// f(...) targeting a local command ... emits a specialized opcode that
// reuses the current frame"). Only a direct call to a name bound as a
// command in scope qualifies; a call through the opcode table or the
// native registry has no frame of its own to reuse and always returns
// normally.
func (c *Compiler) compileReturn(n *ast.Return) error {
	if n.Value == nil {
		v := c.newTemp()
		c.emit1(bytecode.OpNil, v.reg)
		c.emit1(bytecode.OpReturn, v.reg)
		c.freeResult(v)
		return nil
	}
	if call, ok := n.Value.(*ast.Call); ok {
		if name, ok := calleeName(call.Callee); ok {
			if b := c.fn.ns.lookup(name); b != nil && b.kind == bindCommand {
				return c.compileTailCall(b.cmd, call.Args, n.Pos)
			}
		}
	}
	v, err := c.compileExpr(n.Value)
	if err != nil {
		return err
	}
	c.emit1(bytecode.OpReturn, v.reg)
	c.freeResult(v)
	return nil
}

func (c *Compiler) compileLabelDecl(n *ast.LabelDecl) error {
	lbl := c.fn.labels[n.Name]
	if lbl == nil {
		lbl = &label{}
		c.fn.labels[n.Name] = lbl
	}
	if lbl.resolved {
		return errCompile(n.Pos, "label "+n.Name+" declared twice")
	}
	lbl.resolved = true
	lbl.pc = len(c.Program.Code)
	for _, s := range lbl.patchSites {
		c.patchJumpTo(s, lbl.pc)
	}
	lbl.patchSites = nil
	return nil
}

func (c *Compiler) compileGoto(n *ast.Goto) error {
	lbl := c.fn.labels[n.Name]
	if lbl == nil {
		lbl = &label{}
		c.fn.labels[n.Name] = lbl
	}
	if lbl.resolved {
		c.emitJmpTo(lbl.pc)
		return nil
	}
	argAt := c.emitJmp()
	lbl.patchSites = append(lbl.patchSites, argAt)
	return nil
}

// compileDef compiles `def name params... ...rest ... end`. The body is
// emitted inline in the linear instruction stream (there is no separate
// code segment), so a guard jump skips straight over it for anyone falling
// through from the preceding statement; OpCall jumps directly into the
// cmdhead that follows the guard (spec.md §4.4).
func (c *Compiler) compileDef(n *ast.Def) error {
	b, exists := c.fn.ns.names[n.Name]
	var cmd *command
	if exists {
		if b.kind != bindCommand {
			return errCompile(n.Pos, n.Name+" already declared")
		}
		cmd = b.cmd
		if cmd.resolved {
			return errCompile(n.Pos, "command "+n.Name+" redefined")
		}
	} else {
		cmd = &command{name: n.Name, arity: len(n.Params), hasRest: n.RestName != ""}
		c.fn.ns.names[n.Name] = &binding{kind: bindCommand, cmd: cmd}
	}
	if len(n.Params)+boolToInt(n.RestName != "") > callArgSlots {
		return errCompile(n.Pos, "too many parameters")
	}

	guard := c.emitJmp()
	bodyStart := len(c.Program.Code)

	restFlag := int64(0)
	if n.RestName != "" {
		restFlag = 1
	}
	c.Program.Emit(bytecode.Instruction{Op: bytecode.OpCmdhead, Arg: int64(len(n.Params)) | restFlag<<8})

	cmd.pc = bodyStart
	cmd.arity = len(n.Params)
	cmd.hasRest = n.RestName != ""
	cmd.resolved = true
	for _, s := range cmd.patchSites {
		c.patchJumpTo(s, bodyStart)
	}
	cmd.patchSites = nil

	childNS := newNamespace(c.fn.ns)
	child := newFuncScope(c.fn, childNS)
	parentFn := c.fn
	c.fn = child

	var bodyErr error
	for i, p := range n.Params {
		lname, ok := p.(*ast.LName)
		if !ok || lname.Object != nil {
			bodyErr = errCompile(n.Pos, "destructured parameters are not supported")
			break
		}
		child.ns.names[lname.Name] = &binding{kind: bindVar, reg: bytecode.RegRef{Frame: 1, Slot: byte(i)}}
	}
	if bodyErr == nil && n.RestName != "" {
		child.ns.names[n.RestName] = &binding{kind: bindVar, reg: bytecode.RegRef{Frame: 1, Slot: byte(len(n.Params))}}
	}
	if bodyErr == nil {
		for _, s := range n.Body.Stmts {
			if err := c.compileStmt(s); err != nil {
				bodyErr = err
				break
			}
		}
	}
	if bodyErr == nil {
		bodyErr = c.checkUnresolved(child)
	}
	if bodyErr == nil {
		nilReg := bytecode.RegRef{Slot: child.allocTemp()}
		c.emit1(bytecode.OpNil, nilReg)
		c.emit1(bytecode.OpReturn, nilReg)
	}

	c.Program.Emit(bytecode.Instruction{Op: bytecode.OpCmdtail})
	c.fn = parentFn
	c.patchJumpHere(guard)
	return bodyErr
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (c *Compiler) compileUsing(n *ast.Using) error {
	if len(n.Path) == 0 {
		return nil
	}
	b := c.fn.ns.lookup(n.Path[0])
	if b == nil || b.kind != bindNamespace {
		return errCompile(n.Pos, "undefined namespace "+n.Path[0])
	}
	cur := b.ns
	for _, seg := range n.Path[1:] {
		nb, ok := cur.names[seg]
		if !ok || nb.kind != bindNamespace {
			return errCompile(n.Pos, "undefined namespace "+seg)
		}
		cur = nb.ns
	}
	c.fn.ns.uses = append(c.fn.ns.uses, cur)
	return nil
}

func (c *Compiler) compileNamespaceDecl(n *ast.NamespaceDecl) error {
	b, exists := c.fn.ns.names[n.Name]
	var child *namespace
	if exists {
		if b.kind != bindNamespace {
			return errCompile(n.Pos, n.Name+" already declared")
		}
		child = b.ns
	} else {
		child = newNamespace(c.fn.ns)
		c.fn.ns.names[n.Name] = &binding{kind: bindNamespace, ns: child}
	}
	saved := c.fn.ns
	c.fn.ns = child
	err := c.compileBlock(n.Body)
	c.fn.ns = saved
	return err
}

func (c *Compiler) compileEnumDecl(n *ast.EnumDecl) error {
	next := 0.0
	for i, name := range n.Names {
		v := next
		if n.Values[i] != nil {
			lit, ok := n.Values[i].(*ast.NumberLit)
			if !ok {
				return errCompile(n.Pos, "enum value must be a constant number")
			}
			v = lit.Value
		}
		c.fn.ns.names[name] = &binding{kind: bindEnum, num: v}
		next = v + 1
	}
	return nil
}

func (c *Compiler) compileInclude(n *ast.Include) error {
	stmts, err := c.parseIncluded(n.Path)
	if err != nil {
		return errCompile(n.Pos, err.Error())
	}
	for _, s := range stmts {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}
