package compiler

import (
	"sink/ast"
	"sink/bytecode"
	"sink/token"
)

// lvalueAddr is a resolved assignment target: compiling an lvalue once into
// an address (rather than re-walking the AST for every read and every
// write) is what lets compound assignment ("+=", "&&=", ...) read a sliced
// or indexed target exactly once, per spec.md §4.5.
type lvalueAddr struct {
	pattern *ast.LPattern // set when the target is a `{a, b, ...rest}` pattern
	rest    ast.Lvalue

	varReg bytecode.RegRef // set when this is a plain, already-declared variable

	indexed bool
	slice   bool
	objReg  regResult
	keyReg  regResult // index, or slice "from"
	toReg   regResult // slice "to"
}

func (c *Compiler) resolveLvalueAddr(lv ast.Lvalue) (*lvalueAddr, error) {
	switch t := lv.(type) {
	case *ast.LPattern:
		return &lvalueAddr{pattern: t, rest: t.Rest}, nil
	case *ast.LName:
		if t.Object == nil {
			b := c.fn.ns.lookup(t.Name)
			if b == nil {
				return nil, errCompile(t.Pos, "undefined name "+t.Name)
			}
			if b.kind != bindVar {
				return nil, errCompile(t.Pos, t.Name+" is not assignable")
			}
			return &lvalueAddr{varReg: b.reg}, nil
		}
		obj, err := c.compileExpr(t.Object)
		if err != nil {
			return nil, err
		}
		key, err := c.compileExpr(t.Key)
		if err != nil {
			return nil, err
		}
		addr := &lvalueAddr{indexed: true, objReg: obj, keyReg: key}
		if t.IsSlice {
			addr.slice = true
			if t.SliceTo != nil {
				to, err := c.compileExpr(t.SliceTo)
				if err != nil {
					return nil, err
				}
				addr.toReg = to
			} else {
				to := c.newTemp()
				c.emit2(bytecode.OpLen, to.reg, obj.reg)
				addr.toReg = to
			}
		}
		return addr, nil
	}
	return nil, errCompile(lv.Position(), "unsupported lvalue")
}

func (a *lvalueAddr) free(c *Compiler) {
	if !a.indexed {
		return
	}
	c.freeResult(a.objReg)
	c.freeResult(a.keyReg)
	if a.slice {
		c.freeResult(a.toReg)
	}
}

// readLvalueAddr loads the target's current value into a fresh temp (or, for
// a plain variable, aliases its permanent register directly — the caller
// must not write through the returned register in that case except via
// writeLvalueAddr).
func (c *Compiler) readLvalueAddr(a *lvalueAddr) (regResult, error) {
	if a.pattern != nil {
		return regResult{}, errCompile(a.pattern.Pos, "list pattern is not readable")
	}
	if !a.indexed {
		return regResult{reg: a.varReg}, nil
	}
	dst := c.newTemp()
	if a.slice {
		c.emit4(bytecode.OpSlice, dst.reg, a.objReg.reg, a.keyReg.reg, a.toReg.reg)
	} else {
		c.emit3(bytecode.OpGetAt, dst.reg, a.objReg.reg, a.keyReg.reg)
	}
	return dst, nil
}

// writeLvalueAddr stores v into the target's location. For a sliced target
// v must denote a list (OpSplice's insert operand is only honored when its
// register holds a list value; scalar RHS values assigned to a slice range
// are a degenerate case sink source rarely produces, and are intentionally
// left as "delete the range" rather than guessed at).
func (c *Compiler) writeLvalueAddr(a *lvalueAddr, v bytecode.RegRef) error {
	if a.pattern != nil {
		return c.destructure(a.pattern, v)
	}
	if !a.indexed {
		if a.varReg != v {
			c.emit2(bytecode.OpMove, a.varReg, v)
		}
		return nil
	}
	if a.slice {
		del := c.newTemp()
		c.emit3(bytecode.OpSub, del.reg, a.toReg.reg, a.keyReg.reg)
		c.emit4(bytecode.OpSplice, a.objReg.reg, a.keyReg.reg, del.reg, v)
		c.freeResult(del)
		return nil
	}
	c.emit3(bytecode.OpSetAt, a.objReg.reg, a.keyReg.reg, v)
	return nil
}

// writeLvalue is the one-shot convenience form used by for-loop binding,
// where the target has no compound-assignment reuse to worry about.
func (c *Compiler) writeLvalue(lv ast.Lvalue, v bytecode.RegRef) error {
	addr, err := c.resolveLvalueAddr(lv)
	if err != nil {
		return err
	}
	defer addr.free(c)
	return c.writeLvalueAddr(addr, v)
}

// declareLvalueVars allocates a fresh, permanent register for every plain
// name appearing in lv (recursing through nested list patterns), binding
// each into the current namespace. Called before the first write so that a
// pattern's leaves are assignable the same way a plain var is.
func (c *Compiler) declareLvalueVars(lv ast.Lvalue) error {
	switch t := lv.(type) {
	case *ast.LName:
		if t.Object != nil {
			return errCompile(t.Pos, "declaration target must be a plain name")
		}
		slot := c.fn.allocVar()
		c.fn.ns.names[t.Name] = &binding{kind: bindVar, reg: c.reg(slot)}
		return nil
	case *ast.LPattern:
		for _, e := range t.Elems {
			if err := c.declareLvalueVars(e); err != nil {
				return err
			}
		}
		if t.Rest != nil {
			return c.declareLvalueVars(t.Rest)
		}
		return nil
	}
	return errCompile(lv.Position(), "unsupported lvalue")
}

// destructure writes list's elements into p's leaves positionally, and any
// remainder into p.Rest if present (spec.md §4.5 list-pattern assignment).
func (c *Compiler) destructure(p *ast.LPattern, list bytecode.RegRef) error {
	for i, elem := range p.Elems {
		idx := c.newTemp()
		c.emitNumberLit(idx.reg, float64(i))
		ev := c.newTemp()
		c.emit3(bytecode.OpGetAt, ev.reg, list, idx.reg)
		c.freeResult(idx)
		if err := c.writeLvalue(elem, ev.reg); err != nil {
			c.freeResult(ev)
			return err
		}
		c.freeResult(ev)
	}
	if p.Rest != nil {
		n := c.newTemp()
		c.emit2(bytecode.OpLen, n.reg, list)
		from := c.newTemp()
		c.emitNumberLit(from.reg, float64(len(p.Elems)))
		rest := c.newTemp()
		c.emit4(bytecode.OpSlice, rest.reg, list, from.reg, n.reg)
		c.freeResult(from)
		c.freeResult(n)
		err := c.writeLvalue(p.Rest, rest.reg)
		c.freeResult(rest)
		if err != nil {
			return err
		}
	}
	return nil
}

var compoundOpcodes = map[token.Kind]bytecode.Op{
	token.PLUSEQ:    bytecode.OpAdd,
	token.MINUSEQ:   bytecode.OpSub,
	token.STAREQ:    bytecode.OpMul,
	token.SLASHEQ:   bytecode.OpDiv,
	token.PERCENTEQ: bytecode.OpMod,
}

// compileAssign compiles `lvalue op= value`. If wantResult is set the
// assigned value is additionally copied into dst, for the inline
// assignment-as-expression form (ast.Assign.UseValue — e.g. `say(x = 1)`).
func (c *Compiler) compileAssign(asn *ast.Assign, wantResult bool, dst bytecode.RegRef) error {
	addr, err := c.resolveLvalueAddr(asn.Target)
	if err != nil {
		return err
	}
	defer addr.free(c)

	switch asn.Op {
	case token.ASSIGN:
		if addr.pattern != nil {
			v, err := c.compileExpr(asn.Value)
			if err != nil {
				return err
			}
			defer c.freeResult(v)
			if err := c.destructure(addr.pattern, v.reg); err != nil {
				return err
			}
			if wantResult {
				c.emit2(bytecode.OpMove, dst, v.reg)
			}
			return nil
		}
		if !addr.indexed {
			if err := c.compileInto(asn.Value, addr.varReg); err != nil {
				return err
			}
			if wantResult {
				c.emit2(bytecode.OpMove, dst, addr.varReg)
			}
			return nil
		}
		v, err := c.compileExpr(asn.Value)
		if err != nil {
			return err
		}
		defer c.freeResult(v)
		if err := c.writeLvalueAddr(addr, v.reg); err != nil {
			return err
		}
		if wantResult {
			c.emit2(bytecode.OpMove, dst, v.reg)
		}
		return nil

	case token.ANDANDEQ, token.OROREQ:
		cur, err := c.readLvalueAddr(addr)
		if err != nil {
			return err
		}
		defer c.freeResult(cur)
		v, err := c.compileExpr(asn.Value)
		if err != nil {
			return err
		}
		defer c.freeResult(v)
		result := c.newTemp()
		c.compileCondCombine(result.reg, cur.reg, v.reg, asn.Op == token.ANDANDEQ)
		if err := c.writeLvalueAddr(addr, result.reg); err != nil {
			c.freeResult(result)
			return err
		}
		if wantResult {
			c.emit2(bytecode.OpMove, dst, result.reg)
		}
		c.freeResult(result)
		return nil

	default: // +=, -=, *=, /=, %=, ~=
		cur, err := c.readLvalueAddr(addr)
		if err != nil {
			return err
		}
		defer c.freeResult(cur)
		v, err := c.compileExpr(asn.Value)
		if err != nil {
			return err
		}
		defer c.freeResult(v)
		result := c.newTemp()
		if asn.Op == token.TILDEEQ {
			c.compileConcatRegs(result.reg, cur.reg, v.reg)
		} else {
			op, ok := compoundOpcodes[asn.Op]
			if !ok {
				c.freeResult(result)
				return errCompile(asn.Pos, "unsupported compound assignment")
			}
			// OpAdd/Sub/Mul/Div/Mod already broadcast elementwise when an
			// operand is a list (vm/dispatch.go), so a sliced lvalue's
			// compound arithmetic assignment needs no special-casing here.
			c.emit3(op, result.reg, cur.reg, v.reg)
		}
		if err := c.writeLvalueAddr(addr, result.reg); err != nil {
			c.freeResult(result)
			return err
		}
		if wantResult {
			c.emit2(bytecode.OpMove, dst, result.reg)
		}
		c.freeResult(result)
		return nil
	}
}

// compileCondCombine implements `&&=`/`||=`. Whether the target is a plain
// scalar or a list is only known at runtime, and per spec.md §4.5 the two
// shapes behave differently: a scalar short-circuits in the ordinary sense,
// while a list/slice target combines element-by-element (each element's own
// truthiness decides whether it keeps its current value or takes the
// matching element from the right-hand list). Both paths are compiled and
// selected with a runtime IsList branch.
func (c *Compiler) compileCondCombine(dst, target, value bytecode.RegRef, isAnd bool) {
	isList := c.newTemp()
	c.emit2(bytecode.OpIsList, isList.reg, target)
	elseJmp := c.emitJmpFalse(isList.reg)
	c.freeResult(isList)

	// list path: dst = [] ; for i in 0..len(target): dst[i] = combine(target[i], value[i])
	c.emit1(bytecode.OpListNew, dst)
	n := c.newTemp()
	c.emit2(bytecode.OpLen, n.reg, target)
	i := c.newTemp()
	c.emitNumberLit(i.reg, 0)

	head := len(c.Program.Code)
	cond := c.newTemp()
	c.emit3(bytecode.OpLt, cond.reg, i.reg, n.reg)
	exitJmp := c.emitJmpFalse(cond.reg)
	c.freeResult(cond)

	te := c.newTemp()
	c.emit3(bytecode.OpGetAt, te.reg, target, i.reg)
	ve := c.newTemp()
	c.emit3(bytecode.OpGetAt, ve.reg, value, i.reg)
	elem := c.newTemp()
	c.emit2(bytecode.OpMove, elem.reg, te.reg)
	var skip int
	if isAnd {
		skip = c.emitJmpFalse(te.reg)
	} else {
		skip = c.emitJmpTrue(te.reg)
	}
	c.emit2(bytecode.OpMove, elem.reg, ve.reg)
	c.patchJumpHere(skip)
	c.emit2(bytecode.OpListPush, dst, elem.reg)
	c.freeResult(te)
	c.freeResult(ve)
	c.freeResult(elem)

	c.emit1(bytecode.OpInc, i.reg)
	c.emitJmpTo(head)
	c.patchJumpHere(exitJmp)
	c.freeResult(i)
	c.freeResult(n)
	endJmp := c.emitJmp()

	// scalar path: dst = cond(target) ? (isAnd ? value : target) : (isAnd ? target : value)
	c.patchJumpHere(elseJmp)
	c.emit2(bytecode.OpMove, dst, target)
	var skip2 int
	if isAnd {
		skip2 = c.emitJmpFalse(target)
	} else {
		skip2 = c.emitJmpTrue(target)
	}
	c.emit2(bytecode.OpMove, dst, value)
	c.patchJumpHere(skip2)

	c.patchJumpHere(endJmp)
}
