package vm

import (
	"math"

	"github.com/pkg/errors"

	"sink/bytecode"
	"sink/value"
)

// step executes one decoded instruction, advancing pc by n unless the
// instruction itself redirects control flow (jump/call/return). It
// returns suspended=true if a host I/O call left an async Wait pending.
// Grounded on the teacher's vm/exec.go execNextInstruction switch-per-
// opcode shape, generalized to the spec's full opcode set.
func (c *Context) step(ins bytecode.Instruction, n int) (bool, error) {
	advance := true
	op := ins.Op
	r := ins.Regs

	switch op {
	case bytecode.OpNop:

	case bytecode.OpMove:
		c.setReg(r[0], c.getReg(r[1]))
	case bytecode.OpInc:
		v := c.getReg(r[0])
		if !v.IsNum() {
			return false, errors.Errorf("inc: not a number")
		}
		c.setReg(r[0], value.Number(v.Num()+1))
	case bytecode.OpNil:
		c.setReg(r[0], value.Nil)
	case bytecode.OpNumLit8, bytecode.OpNumLit16, bytecode.OpNumLit32:
		c.setReg(r[0], value.Number(float64(ins.Arg)))
	case bytecode.OpNumLitDouble:
		c.setReg(r[0], value.Number(math.Float64frombits(uint64(ins.Arg))))
	case bytecode.OpStrLit:
		c.setReg(r[0], value.Str(ins.Index))
	case bytecode.OpListNew:
		c.setReg(r[0], value.List(c.lists.Alloc(nil)))

	case bytecode.OpIsNum:
		c.setReg(r[0], boolVal(c.getReg(r[1]).IsNum()))
	case bytecode.OpIsStr:
		c.setReg(r[0], boolVal(c.getReg(r[1]).IsStr()))
	case bytecode.OpIsList:
		c.setReg(r[0], boolVal(c.getReg(r[1]).IsList()))
	case bytecode.OpIsNative:
		_, ok := c.natives[ins.Index]
		c.setReg(r[0], boolVal(ok))

	case bytecode.OpAdd:
		if err := c.binNum(r, func(a, b float64) float64 { return a + b }); err != nil {
			return false, err
		}
	case bytecode.OpSub:
		if err := c.binNum(r, func(a, b float64) float64 { return a - b }); err != nil {
			return false, err
		}
	case bytecode.OpMul:
		if err := c.binNum(r, func(a, b float64) float64 { return a * b }); err != nil {
			return false, err
		}
	case bytecode.OpDiv:
		if err := c.binNum(r, func(a, b float64) float64 { return a / b }); err != nil {
			return false, err
		}
	case bytecode.OpMod:
		if err := c.binNum(r, math.Mod); err != nil {
			return false, err
		}
	case bytecode.OpPow:
		if err := c.binNum(r, math.Pow); err != nil {
			return false, err
		}
	case bytecode.OpNeg:
		if err := c.unNum(r, func(a float64) float64 { return -a }); err != nil {
			return false, err
		}
	case bytecode.OpAbs:
		if err := c.unNum(r, math.Abs); err != nil {
			return false, err
		}
	case bytecode.OpSign:
		if err := c.unNum(r, func(a float64) float64 {
			switch {
			case a > 0:
				return 1
			case a < 0:
				return -1
			default:
				return 0
			}
		}); err != nil {
			return false, err
		}
	case bytecode.OpFloor:
		if err := c.unNum(r, math.Floor); err != nil {
			return false, err
		}
	case bytecode.OpCeil:
		if err := c.unNum(r, math.Ceil); err != nil {
			return false, err
		}
	case bytecode.OpRound:
		if err := c.unNum(r, math.Round); err != nil {
			return false, err
		}
	case bytecode.OpTrunc:
		if err := c.unNum(r, math.Trunc); err != nil {
			return false, err
		}
	case bytecode.OpSin:
		if err := c.unNum(r, math.Sin); err != nil {
			return false, err
		}
	case bytecode.OpCos:
		if err := c.unNum(r, math.Cos); err != nil {
			return false, err
		}
	case bytecode.OpTan:
		if err := c.unNum(r, math.Tan); err != nil {
			return false, err
		}
	case bytecode.OpAsin:
		if err := c.unNum(r, math.Asin); err != nil {
			return false, err
		}
	case bytecode.OpAcos:
		if err := c.unNum(r, math.Acos); err != nil {
			return false, err
		}
	case bytecode.OpAtan:
		if err := c.unNum(r, math.Atan); err != nil {
			return false, err
		}
	case bytecode.OpAtan2:
		if err := c.binNum(r, math.Atan2); err != nil {
			return false, err
		}
	case bytecode.OpLog:
		if err := c.unNum(r, math.Log); err != nil {
			return false, err
		}
	case bytecode.OpLog2:
		if err := c.unNum(r, math.Log2); err != nil {
			return false, err
		}
	case bytecode.OpExp:
		if err := c.unNum(r, math.Exp); err != nil {
			return false, err
		}
	case bytecode.OpMin:
		if err := c.binNum(r, math.Min); err != nil {
			return false, err
		}
	case bytecode.OpMax:
		if err := c.binNum(r, math.Max); err != nil {
			return false, err
		}
	case bytecode.OpClamp:
		lo, hi := c.getReg(r[2]).Num(), c.getReg(r[3]).Num()
		v := c.getReg(r[1]).Num()
		c.setReg(r[0], value.Number(math.Min(math.Max(v, lo), hi)))
	case bytecode.OpLerp:
		a, b, t := c.getReg(r[1]).Num(), c.getReg(r[2]).Num(), c.getReg(r[3]).Num()
		c.setReg(r[0], value.Number(a+(b-a)*t))

	case bytecode.OpLt:
		c.compare(r, func(o int) bool { return o < 0 })
	case bytecode.OpLte:
		c.compare(r, func(o int) bool { return o <= 0 })
	case bytecode.OpEq:
		c.compare(r, func(o int) bool { return o == 0 })
	case bytecode.OpNeq:
		c.compare(r, func(o int) bool { return o != 0 })
	case bytecode.OpOrder:
		o := c.order(c.getReg(r[1]), c.getReg(r[2]))
		c.setReg(r[0], value.Number(float64(o)))

	case bytecode.OpLen:
		v := c.getReg(r[1])
		switch {
		case v.IsList():
			c.setReg(r[0], value.Number(float64(len(c.lists.Get(v.Index()).Items))))
		case v.IsStr():
			c.setReg(r[0], value.Number(float64(len(c.strings.Get(v.Index()).Bytes))))
		default:
			return false, errors.New("len: not a string or list")
		}
	case bytecode.OpGetAt:
		lst := c.getReg(r[1])
		idx := int(c.getReg(r[2]).Num())
		if !lst.IsList() {
			return false, errors.New("getat: not a list")
		}
		items := c.lists.Get(lst.Index()).Items
		if idx < 0 || idx >= len(items) {
			c.setReg(r[0], value.Nil)
		} else {
			c.setReg(r[0], items[idx])
		}
	case bytecode.OpSetAt:
		lst := c.getReg(r[0])
		idx := int(c.getReg(r[1]).Num())
		v := c.getReg(r[2])
		if !lst.IsList() {
			return false, errors.New("setat: not a list")
		}
		obj := c.lists.Get(lst.Index())
		for len(obj.Items) <= idx {
			obj.Items = append(obj.Items, value.Nil)
		}
		obj.Items[idx] = v
	case bytecode.OpSlice:
		lst := c.getReg(r[1])
		from := int(c.getReg(r[2]).Num())
		to := int(c.getReg(r[3]).Num())
		if !lst.IsList() {
			return false, errors.New("slice: not a list")
		}
		items := c.lists.Get(lst.Index()).Items
		from, to = clampRange(from, to, len(items))
		c.setReg(r[0], value.List(c.lists.Alloc(items[from:to])))

	case bytecode.OpListPush:
		lst := c.getReg(r[0])
		if !lst.IsList() {
			return false, errors.New("list.push: not a list")
		}
		obj := c.lists.Get(lst.Index())
		obj.Items = append(obj.Items, c.getReg(r[1]))
	case bytecode.OpListPop:
		lst := c.getReg(r[0])
		obj := c.lists.Get(lst.Index())
		if len(obj.Items) == 0 {
			c.setReg(r[0], value.Nil)
		} else {
			last := obj.Items[len(obj.Items)-1]
			obj.Items = obj.Items[:len(obj.Items)-1]
			c.setReg(r[0], last)
		}
	case bytecode.OpListReverse:
		lst := c.getReg(r[0])
		obj := c.lists.Get(lst.Index())
		for i, j := 0, len(obj.Items)-1; i < j; i, j = i+1, j-1 {
			obj.Items[i], obj.Items[j] = obj.Items[j], obj.Items[i]
		}
	case bytecode.OpListStr:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(s))))

	case bytecode.OpStrCat:
		a := value.Render(c.getReg(r[1]), c.strings, c.lists)
		b := value.Render(c.getReg(r[2]), c.strings, c.lists)
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(a+b))))
	case bytecode.OpStrLower:
		c.strUnary(r, toLower)
	case bytecode.OpStrUpper:
		c.strUnary(r, toUpper)

	case bytecode.OpHex:
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(formatBase(c.getReg(r[1]).Num(), 16)))))
	case bytecode.OpOct:
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(formatBase(c.getReg(r[1]).Num(), 8)))))
	case bytecode.OpBin:
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(formatBase(c.getReg(r[1]).Num(), 2)))))

	case bytecode.OpIntCast:
		c.setReg(r[0], value.Number(u32ToNum(toU32(c.getReg(r[1]).Num()))))
	case bytecode.OpIntNot:
		c.setReg(r[0], value.Number(u32ToNum(intNot(toU32(c.getReg(r[1]).Num())))))
	case bytecode.OpIntAnd:
		c.setReg(r[0], value.Number(u32ToNum(intAnd([]uint32{toU32(c.getReg(r[1]).Num()), toU32(c.getReg(r[2]).Num())}))))
	case bytecode.OpIntOr:
		c.setReg(r[0], value.Number(u32ToNum(intOr([]uint32{toU32(c.getReg(r[1]).Num()), toU32(c.getReg(r[2]).Num())}))))
	case bytecode.OpIntXor:
		c.setReg(r[0], value.Number(u32ToNum(intXor([]uint32{toU32(c.getReg(r[1]).Num()), toU32(c.getReg(r[2]).Num())}))))
	case bytecode.OpIntShl:
		c.setReg(r[0], value.Number(u32ToNum(intShl(toU32(c.getReg(r[1]).Num()), toU32(c.getReg(r[2]).Num())))))
	case bytecode.OpIntShr:
		c.setReg(r[0], value.Number(u32ToNum(intShr(toU32(c.getReg(r[1]).Num()), toU32(c.getReg(r[2]).Num())))))
	case bytecode.OpIntSar:
		c.setReg(r[0], value.Number(u32ToNum(intSar(toU32(c.getReg(r[1]).Num()), toU32(c.getReg(r[2]).Num())))))
	case bytecode.OpIntAdd:
		c.setReg(r[0], value.Number(u32ToNum(toU32(c.getReg(r[1]).Num())+toU32(c.getReg(r[2]).Num()))))
	case bytecode.OpIntSub:
		c.setReg(r[0], value.Number(u32ToNum(toU32(c.getReg(r[1]).Num())-toU32(c.getReg(r[2]).Num()))))
	case bytecode.OpIntMul:
		c.setReg(r[0], value.Number(u32ToNum(toU32(c.getReg(r[1]).Num())*toU32(c.getReg(r[2]).Num()))))
	case bytecode.OpIntDiv:
		b := toU32(c.getReg(r[2]).Num())
		if b == 0 {
			return false, errors.New("int.div: division by zero")
		}
		c.setReg(r[0], value.Number(u32ToNum(toU32(c.getReg(r[1]).Num())/b)))
	case bytecode.OpIntMod:
		b := toU32(c.getReg(r[2]).Num())
		if b == 0 {
			return false, errors.New("int.mod: division by zero")
		}
		c.setReg(r[0], value.Number(u32ToNum(toU32(c.getReg(r[1]).Num())%b)))
	case bytecode.OpIntClz:
		c.setReg(r[0], value.Number(u32ToNum(intClz(toU32(c.getReg(r[1]).Num())))))
	case bytecode.OpIntPopcount:
		c.setReg(r[0], value.Number(u32ToNum(intPopcount(toU32(c.getReg(r[1]).Num())))))
	case bytecode.OpIntBswap:
		c.setReg(r[0], value.Number(u32ToNum(intBswap(toU32(c.getReg(r[1]).Num())))))

	case bytecode.OpSplice:
		lst := c.getReg(r[0])
		if !lst.IsList() {
			return false, errors.New("splice: not a list")
		}
		obj := c.lists.Get(lst.Index())
		start := int(c.getReg(r[1]).Num())
		del := int(c.getReg(r[2]).Num())
		start, end := clampRange(start, start+del, len(obj.Items))
		var insert []value.Value
		if ins := c.getReg(r[3]); ins.IsList() {
			insert = c.lists.Get(ins.Index()).Items
		}
		out := make([]value.Value, 0, len(obj.Items)-(end-start)+len(insert))
		out = append(out, obj.Items[:start]...)
		out = append(out, insert...)
		out = append(out, obj.Items[end:]...)
		obj.Items = out

	case bytecode.OpListShift:
		lst := c.getReg(r[0])
		obj := c.lists.Get(lst.Index())
		v, rest := listShift(obj.Items)
		obj.Items = rest
		c.setReg(r[0], v)
	case bytecode.OpListUnshift:
		lst := c.getReg(r[0])
		obj := c.lists.Get(lst.Index())
		obj.Items = listUnshift(obj.Items, c.getReg(r[1]))
	case bytecode.OpListAppend:
		dst := c.getReg(r[0])
		src := c.getReg(r[1])
		obj := c.lists.Get(dst.Index())
		var srcItems []value.Value
		if src.IsList() {
			srcItems = c.lists.Get(src.Index()).Items
		}
		obj.Items = listAppend(obj.Items, srcItems)
	case bytecode.OpListPrepend:
		dst := c.getReg(r[0])
		src := c.getReg(r[1])
		obj := c.lists.Get(dst.Index())
		var srcItems []value.Value
		if src.IsList() {
			srcItems = c.lists.Get(src.Index()).Items
		}
		obj.Items = listPrepend(obj.Items, srcItems)
	case bytecode.OpListFind:
		lst := c.getReg(r[1])
		obj := c.lists.Get(lst.Index())
		idx := listFind(obj.Items, c.getReg(r[2]), int(c.getReg(r[3]).Num()), c.valuesEqual)
		c.setReg(r[0], value.Number(float64(idx)))
	case bytecode.OpListRFind:
		lst := c.getReg(r[1])
		obj := c.lists.Get(lst.Index())
		idx := listRFind(obj.Items, c.getReg(r[2]), int(c.getReg(r[3]).Num()), c.valuesEqual)
		c.setReg(r[0], value.Number(float64(idx)))
	case bytecode.OpListJoin:
		lst := c.getReg(r[1])
		obj := c.lists.Get(lst.Index())
		sep := value.Render(c.getReg(r[2]), c.strings, c.lists)
		s := listJoin(obj.Items, sep, c.strings, c.lists)
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(s))))
	case bytecode.OpListSort:
		lst := c.getReg(r[0])
		obj := c.lists.Get(lst.Index())
		listSort(obj.Items, c.order)
	case bytecode.OpListRSort:
		lst := c.getReg(r[0])
		obj := c.lists.Get(lst.Index())
		listRSort(obj.Items, c.order)

	case bytecode.OpStrSplit:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		sep := value.Render(c.getReg(r[2]), c.strings, c.lists)
		parts := strSplit(s, sep)
		items := make([]value.Value, len(parts))
		for i, p := range parts {
			items[i] = value.Str(c.strings.Alloc([]byte(p)))
		}
		c.setReg(r[0], value.List(c.lists.Alloc(items)))
	case bytecode.OpStrReplace:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		find := value.Render(c.getReg(r[2]), c.strings, c.lists)
		repl := value.Render(c.getReg(r[3]), c.strings, c.lists)
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(strReplace(s, find, repl)))))
	case bytecode.OpStrBegins:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		prefix := value.Render(c.getReg(r[2]), c.strings, c.lists)
		c.setReg(r[0], boolVal(strBegins(s, prefix)))
	case bytecode.OpStrEnds:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		suffix := value.Render(c.getReg(r[2]), c.strings, c.lists)
		c.setReg(r[0], boolVal(strEnds(s, suffix)))
	case bytecode.OpStrPad:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		width := int(c.getReg(r[2]).Num())
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(strPad(s, width)))))
	case bytecode.OpStrFind:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		needle := value.Render(c.getReg(r[2]), c.strings, c.lists)
		start := int(c.getReg(r[3]).Num())
		c.setReg(r[0], value.Number(float64(strFind(s, needle, start))))
	case bytecode.OpStrRFind:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		needle := value.Render(c.getReg(r[2]), c.strings, c.lists)
		end := int(c.getReg(r[3]).Num())
		c.setReg(r[0], value.Number(float64(strRFind(s, needle, end))))
	case bytecode.OpStrTrim:
		c.strUnary(r, strTrim)
	case bytecode.OpStrRev:
		c.strUnary(r, strRev)
	case bytecode.OpStrRep:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		n := int(c.getReg(r[2]).Num())
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(strRep(s, n)))))
	case bytecode.OpStrList:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		bs := strListBytes(s)
		items := make([]value.Value, len(bs))
		for i, b := range bs {
			items[i] = value.Number(float64(b))
		}
		c.setReg(r[0], value.List(c.lists.Alloc(items)))
	case bytecode.OpStrByte:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		idx := int(c.getReg(r[2]).Num())
		if idx < 0 || idx >= len(s) {
			c.setReg(r[0], value.Nil)
		} else {
			c.setReg(r[0], value.Number(float64(s[idx])))
		}
	case bytecode.OpStrHash:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		c.setReg(r[0], value.Number(float64(bytecode.HashName(s))))

	case bytecode.OpUTF8Encode:
		lst := c.getReg(r[1])
		var items []value.Value
		if lst.IsList() {
			items = c.lists.Get(lst.Index()).Items
		}
		bs, err := utf8Encode(items)
		if err != nil {
			return false, err
		}
		c.setReg(r[0], value.Str(c.strings.Alloc(bs)))
	case bytecode.OpUTF8Decode:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		items := utf8Decode([]byte(s))
		c.setReg(r[0], value.List(c.lists.Alloc(items)))
	case bytecode.OpStructSize:
		format := value.Render(c.getReg(r[1]), c.strings, c.lists)
		n, err := structSize(format)
		if err != nil {
			return false, err
		}
		c.setReg(r[0], value.Number(float64(n)))
	case bytecode.OpStructStr:
		format := value.Render(c.getReg(r[1]), c.strings, c.lists)
		lst := c.getReg(r[2])
		var items []value.Value
		if lst.IsList() {
			items = c.lists.Get(lst.Index()).Items
		}
		bs, err := structPack(format, items)
		if err != nil {
			return false, err
		}
		c.setReg(r[0], value.Str(c.strings.Alloc(bs)))
	case bytecode.OpStructList:
		format := value.Render(c.getReg(r[1]), c.strings, c.lists)
		data := value.Render(c.getReg(r[2]), c.strings, c.lists)
		items, err := structUnpack(format, []byte(data))
		if err != nil {
			return false, err
		}
		c.setReg(r[0], value.List(c.lists.Alloc(items)))

	case bytecode.OpPickleJSON:
		s, err := pickleJSON(c.getReg(r[1]), c.strings, c.lists)
		if err != nil {
			return false, err
		}
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(s))))
	case bytecode.OpPickleBin:
		bs := pickleBin(c.getReg(r[1]), c.strings, c.lists)
		c.setReg(r[0], value.Str(c.strings.Alloc(bs)))
	case bytecode.OpUnpickle:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		v, err := unpickleBinOrJSON(s, c.strings, c.lists)
		if err != nil {
			return false, err
		}
		c.setReg(r[0], v)
	case bytecode.OpPickleValid:
		s := value.Render(c.getReg(r[1]), c.strings, c.lists)
		c.setReg(r[0], value.Number(float64(pickleValid(s))))
	case bytecode.OpPickleSibling:
		c.setReg(r[0], boolVal(pickleSibling(c.getReg(r[1]), c.getReg(r[2]), c.strings, c.lists)))
	case bytecode.OpPickleCircular:
		c.setReg(r[0], boolVal(hasCycle(c.getReg(r[1]), c.lists, map[uint32]bool{})))
	case bytecode.OpPickleCopy:
		c.setReg(r[0], pickleCopy(c.getReg(r[1]), c.strings, c.lists))

	case bytecode.OpJmp:
		c.pc += n + int(ins.Arg)
		advance = false
	case bytecode.OpJmpTrue:
		if truthy(c.getReg(r[0])) {
			c.pc += n + int(ins.Arg)
			advance = false
		}
	case bytecode.OpJmpFalse:
		if !truthy(c.getReg(r[0])) {
			c.pc += n + int(ins.Arg)
			advance = false
		}

	case bytecode.OpCmdhead:
		// Program.Verify checks cmdhead/cmdtail nesting and that calls
		// land here; neither Verify nor this loop reads the argument
		// bytes, so at runtime this is just a marker.
	case bytecode.OpCmdtail:
		// marks a function body's fallthrough guard; unreachable in
		// correctly verified programs except via explicit jump, handled
		// the same as Nop.

	case bytecode.OpCall:
		c.calls = append(c.calls, callRecord{
			returnPC:   c.pc + n,
			targetReg:  r[0],
			priorDepth: c.frames.Depth(),
		})
		c.frames.Push()
		c.pc += n + int(ins.Arg)
		advance = false
	case bytecode.OpReturn:
		v := c.getReg(r[0])
		if len(c.calls) == 0 {
			c.status = StatusPassed
			return false, nil
		}
		top := c.calls[len(c.calls)-1]
		c.calls = c.calls[:len(c.calls)-1]
		c.frames.Pop()
		c.frames.At(top.targetReg.Frame).Slots[top.targetReg.Slot] = v
		c.pc = top.returnPC
		advance = false
	case bytecode.OpReturnTail:
		cur := c.frames.At(0)
		*cur = Frame{}
		c.pc += n + int(ins.Arg)
		advance = false

	case bytecode.OpSay:
		return c.hostIO(r, n, c.io.Say)
	case bytecode.OpWarn:
		return c.hostIO(r, n, c.io.Warn)
	case bytecode.OpAsk:
		return c.hostIO(r, n, c.io.Ask)
	case bytecode.OpExit:
		c.Exit()
	case bytecode.OpAbort:
		c.Abort(value.Render(c.getReg(r[0]), c.strings, c.lists))
	case bytecode.OpStacktrace:
		c.setReg(r[0], value.Str(c.strings.Alloc([]byte(c.stacktrace()))))

	case bytecode.OpRandSeed:
		c.rng.Seed(uint64(c.getReg(r[0]).Num()))
	case bytecode.OpRandSeedAuto:
		c.rng.SeedAuto()
	case bytecode.OpRandInt:
		c.setReg(r[0], value.Number(float64(c.rng.Uint64())))
	case bytecode.OpRandNum:
		c.setReg(r[0], value.Number(c.rng.Float64()))
	case bytecode.OpRandRange:
		lo, hi := c.getReg(r[1]).Num(), c.getReg(r[2]).Num()
		c.setReg(r[0], value.Number(lo+c.rng.Float64()*(hi-lo)))
	case bytecode.OpRandGetState:
		c.setReg(r[0], value.Str(c.strings.Alloc(c.rng.GetState())))
	case bytecode.OpRandSetState:
		sv := c.getReg(r[0])
		c.rng.SetState(c.strings.Get(sv.Index()).Bytes)
	case bytecode.OpRandPick:
		lst := c.getReg(r[1])
		if !lst.IsList() {
			return false, errors.New("rand.pick: not a list")
		}
		items := c.lists.Get(lst.Index()).Items
		if len(items) == 0 {
			c.setReg(r[0], value.Nil)
		} else {
			c.setReg(r[0], items[int(c.rng.Uint64()%uint64(len(items)))])
		}
	case bytecode.OpRandShuffle:
		lst := c.getReg(r[0])
		if !lst.IsList() {
			return false, errors.New("rand.shuffle: not a list")
		}
		items := c.lists.Get(lst.Index()).Items
		for i := len(items) - 1; i > 0; i-- {
			j := int(c.rng.Uint64() % uint64(i+1))
			items[i], items[j] = items[j], items[i]
		}

	case bytecode.OpGCGetLevel:
		c.setReg(r[0], value.Number(float64(c.gc.Level)))
	case bytecode.OpGCSetLevel:
		c.gc.SetLevel(value.Level(int(c.getReg(r[0]).Num())))
	case bytecode.OpGCRun:
		c.runGC()

	case bytecode.OpConsumeTicks:
		// Run's budget decrement charges this instruction its one tick
		// like any other; the extra ticks named by the operand are not
		// charged anywhere, so consumeticks(n) costs the same as a nop
		// whatever n is.

	case bytecode.OpPick:
		if truthy(c.getReg(r[1])) {
			c.setReg(r[0], c.getReg(r[2]))
		} else {
			c.setReg(r[0], c.getReg(r[3]))
		}

	case bytecode.OpNativeCall:
		fn, ok := c.natives[c.Program.Natives[ins.Index]]
		if !ok {
			return false, errors.Errorf("native call: unregistered hash at index %d", ins.Index)
		}
		var args []value.Value
		if argsVal := c.getReg(r[1]); argsVal.IsList() {
			args = c.lists.Get(argsVal.Index()).Items
		}
		result, wait, err := fn(c, args)
		if err != nil {
			return false, err
		}
		if wait != nil && !wait.Done() {
			c.asyncTarget = r[0]
			c.asyncWait = wait
			c.pc += n
			return true, nil
		}
		c.setReg(r[0], result)

	default:
		return false, errors.Errorf("unimplemented opcode %s", op)
	}

	if advance {
		c.pc += n
	}
	return false, nil
}

func (c *Context) getReg(r bytecode.RegRef) value.Value {
	return c.frames.At(r.Frame).Slots[r.Slot]
}

func (c *Context) setReg(r bytecode.RegRef, v value.Value) {
	c.frames.At(r.Frame).Slots[r.Slot] = v
}

func boolVal(b bool) value.Value {
	if b {
		return value.Number(1)
	}
	return value.Number(0)
}

func truthy(v value.Value) bool {
	if v.IsNil() {
		return false
	}
	if v.IsNum() {
		return v.Num() != 0
	}
	return true
}

func (c *Context) binNum(r [4]bytecode.RegRef, fn func(a, b float64) float64) error {
	a, b := c.getReg(r[1]), c.getReg(r[2])
	if a.IsList() || b.IsList() {
		return c.broadcastBinNum(r, a, b, fn)
	}
	if !a.IsNum() || !b.IsNum() {
		return errors.New("arithmetic on non-number operand")
	}
	c.setReg(r[0], value.Number(fn(a.Num(), b.Num())))
	return nil
}

// broadcastBinNum implements spec.md §4.6's arithmetic broadcasting: a
// list operand produces an element-wise result, a scalar operand
// broadcasts across every position, and a shorter list's last value
// repeats for the remaining positions.
func (c *Context) broadcastBinNum(r [4]bytecode.RegRef, a, b value.Value, fn func(x, y float64) float64) error {
	var av, bv []value.Value
	if a.IsList() {
		av = c.lists.Get(a.Index()).Items
	}
	if b.IsList() {
		bv = c.lists.Get(b.Index()).Items
	}
	n := len(av)
	if len(bv) > n {
		n = len(bv)
	}
	out := make([]value.Value, n)
	for i := 0; i < n; i++ {
		x := elemOrBroadcast(a, av, i)
		y := elemOrBroadcast(b, bv, i)
		if !x.IsNum() || !y.IsNum() {
			return errors.New("arithmetic broadcast on non-number element")
		}
		out[i] = value.Number(fn(x.Num(), y.Num()))
	}
	c.setReg(r[0], value.List(c.lists.Alloc(out)))
	return nil
}

func elemOrBroadcast(scalarOrList value.Value, list []value.Value, i int) value.Value {
	if list == nil {
		return scalarOrList
	}
	if i < len(list) {
		return list[i]
	}
	if len(list) == 0 {
		return value.Nil
	}
	return list[len(list)-1]
}

func (c *Context) unNum(r [4]bytecode.RegRef, fn func(a float64) float64) error {
	a := c.getReg(r[1])
	if !a.IsNum() {
		return errors.New("math op on non-number operand")
	}
	c.setReg(r[0], value.Number(fn(a.Num())))
	return nil
}

func (c *Context) strUnary(r [4]bytecode.RegRef, fn func(string) string) {
	s := value.Render(c.getReg(r[1]), c.strings, c.lists)
	c.setReg(r[0], value.Str(c.strings.Alloc([]byte(fn(s)))))
}

func (c *Context) compare(r [4]bytecode.RegRef, pred func(int) bool) {
	o := c.order(c.getReg(r[1]), c.getReg(r[2]))
	c.setReg(r[0], boolVal(pred(o)))
}

// order implements the total ordering spec.md §4.6 names: nil < number <
// string < list, with numeric and lexicographic-byte ordering within a
// type.
func (c *Context) order(a, b value.Value) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch {
	case a.IsNum():
		return cmpFloat(a.Num(), b.Num())
	case a.IsStr():
		sa := c.strings.Get(a.Index()).Bytes
		sb := c.strings.Get(b.Index()).Bytes
		return cmpBytes(sa, sb)
	case a.IsList():
		if a.Index() == b.Index() {
			return 0
		}
		return int(a.Index()) - int(b.Index())
	default:
		return 0
	}
}

func typeRank(v value.Value) int {
	switch {
	case v.IsNil():
		return 0
	case v.IsNum():
		return 1
	case v.IsStr():
		return 2
	default:
		return 3
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return len(a) - len(b)
}

func clampRange(from, to, n int) (int, int) {
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if to < from {
		to = from
	}
	return from, to
}

func hasCycle(v value.Value, lists *value.ListPool, visiting map[uint32]bool) bool {
	if !v.IsList() {
		return false
	}
	idx := v.Index()
	if visiting[idx] {
		return true
	}
	visiting[idx] = true
	defer delete(visiting, idx)
	for _, item := range lists.Get(idx).Items {
		if hasCycle(item, lists, visiting) {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}
	return string(b)
}

// valuesEqual reports a==b under the total order, for list.find/rfind's
// needle comparison.
func (c *Context) valuesEqual(a, b value.Value) bool {
	return c.order(a, b) == 0
}

func formatBase(f float64, base int) string {
	n := int64(f)
	neg := n < 0
	if neg {
		n = -n
	}
	if n == 0 {
		return "0"
	}
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	var buf []byte
	for n > 0 {
		buf = append([]byte{digits[n%int64(base)]}, buf...)
		n /= int64(base)
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

// unpickleBinOrJSON dispatches to the binary or JSON decoder based on
// pickleValid's classification, matching sink_pickle_val's "from either"
// contract (spec.md §4.7).
func unpickleBinOrJSON(s string, strs *value.StringPool, lists *value.ListPool) (value.Value, error) {
	switch pickleValid(s) {
	case 2:
		return unpickleBin([]byte(s), strs, lists)
	case 1:
		return unpickleJSON(s, strs, lists)
	default:
		return value.Nil, errors.New("unpickle: not valid JSON or binary pickle data")
	}
}

func (c *Context) hostIO(r [4]bytecode.RegRef, n int, fn func(string) *Wait) (bool, error) {
	s := value.Render(c.getReg(r[1]), c.strings, c.lists)
	w := fn(s)
	if w.Done() {
		var result value.Value
		w.Then(func(v value.Value) { result = v })
		c.setReg(r[0], result)
		c.pc += n
		return false, nil
	}
	c.asyncTarget = r[0]
	c.asyncWait = w
	c.pc += n
	return true, nil
}

func (c *Context) stacktrace() string {
	depth := len(c.calls)
	if depth > 10 {
		depth = 10
	}
	out := ""
	for i := 0; i < depth; i++ {
		rec := c.calls[len(c.calls)-1-i]
		out += pcToPos(c.Program, rec.returnPC) + "\n"
	}
	return out
}

func pcToPos(p *bytecode.Program, pc int) string {
	best := ""
	for _, row := range p.Pos {
		if int(row.PC) <= pc {
			best = formatPos(row)
		}
	}
	return best
}

func formatPos(row bytecode.DebugPos) string {
	return itoa(int(row.Line)) + ":" + itoa(int(row.Char))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
