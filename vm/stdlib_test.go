package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sink/bytecode"
	"sink/value"
)

func TestStrOpsHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, strSplit("a,b,c", ","))
	assert.Equal(t, "hXllo", strReplace("hello", "e", "X"))
	assert.True(t, strBegins("hello", "he"))
	assert.True(t, strEnds("hello", "lo"))
	assert.Equal(t, "ab  ", strPad("ab", 4))
	assert.Equal(t, "  ab", strPad("ab", -4))
	assert.Equal(t, 2, strFind("hello", "l", 0))
	assert.Equal(t, 3, strRFind("hello", "l", 4))
	assert.Equal(t, "olleh", strRev("hello"))
	assert.Equal(t, "hihihi", strRep("hi", 3))
}

func TestIntOpsWraparound(t *testing.T) {
	assert.Equal(t, uint32(0xFFFFFFFF), toU32(-1))
	assert.Equal(t, uint32(0), intAnd([]uint32{0xF0, 0x0F}))
	assert.Equal(t, uint32(0xFF), intOr([]uint32{0xF0, 0x0F}))
	assert.Equal(t, uint32(8), intShl(1, 3))
	assert.Equal(t, uint32(1), intShr(8, 3))
	assert.Equal(t, uint32(31), intClz(1))
	assert.Equal(t, uint32(1), intPopcount(8))
}

func TestStructPackUnpackRoundTrip(t *testing.T) {
	format := "u16 f64"
	packed, err := structPack(format, []value.Value{value.Number(300), value.Number(1.5)})
	require.NoError(t, err)
	unpacked, err := structUnpack(format, packed)
	require.NoError(t, err)
	assert.Equal(t, 300.0, unpacked[0].Num())
	assert.Equal(t, 1.5, unpacked[1].Num())
}

func TestUTF8EncodeDecodeRoundTrip(t *testing.T) {
	points := []value.Value{value.Number(104), value.Number(105)}
	bs, err := utf8Encode(points)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(bs))
	back := utf8Decode(bs)
	assert.Equal(t, 104.0, back[0].Num())
}

func TestPickleBinRoundTripWithCycle(t *testing.T) {
	strs := value.NewStringPool(8)
	lists := value.NewListPool(8)
	idx := lists.Alloc([]value.Value{value.Number(1)})
	lists.Get(idx).Items = append(lists.Get(idx).Items, value.List(idx))

	bin := pickleBin(value.List(idx), strs, lists)
	out, err := unpickleBin(bin, strs, lists)
	require.NoError(t, err)
	require.True(t, out.IsList())

	items := lists.Get(out.Index()).Items
	require.Len(t, items, 2)
	assert.Equal(t, 1.0, items[0].Num())
	assert.True(t, items[1].IsList())
	assert.Equal(t, out.Index(), items[1].Index())
}

func TestPickleJSONRefusesCycles(t *testing.T) {
	strs := value.NewStringPool(8)
	lists := value.NewListPool(8)
	idx := lists.Alloc(nil)
	lists.Get(idx).Items = []value.Value{value.List(idx)}

	_, err := pickleJSON(value.List(idx), strs, lists)
	assert.Error(t, err)
}

func TestPickleJSONAcyclicRenders(t *testing.T) {
	strs := value.NewStringPool(8)
	lists := value.NewListPool(8)
	idx := lists.Alloc([]value.Value{value.Number(1), value.Nil})

	s, err := pickleJSON(value.List(idx), strs, lists)
	require.NoError(t, err)
	assert.Equal(t, "[1,null]", s)
}

func TestPickleSiblingStructuralEquality(t *testing.T) {
	strs := value.NewStringPool(8)
	lists := value.NewListPool(8)
	a := lists.Alloc([]value.Value{value.Number(1), value.Number(2)})
	b := lists.Alloc([]value.Value{value.Number(1), value.Number(2)})

	assert.True(t, pickleSibling(value.List(a), value.List(b), strs, lists))
	assert.False(t, pickleSibling(value.List(a), value.Number(1), strs, lists))
}

func TestListOpcodesInDispatch(t *testing.T) {
	p := bytecode.New()
	ctx := NewContext(p, WithIO(&fakeIO{}))
	idx := ctx.lists.Alloc([]value.Value{value.Number(1), value.Number(2), value.Number(3)})

	ctx.frames.Push()
	ctx.frames.At(0).Slots[0] = value.List(idx)

	p.Emit(bytecode.Instruction{Op: bytecode.OpListShift, Regs: [4]bytecode.RegRef{reg(0, 0)}, NumReg: 1})
	_, err := ctx.step(mustDecode(t, p, 0))
	require.NoError(t, err)
	assert.Equal(t, 1.0, ctx.frames.At(0).Slots[0].Num())

	items := ctx.lists.Get(idx).Items
	assert.Equal(t, []float64{2, 3}, toFloats(items))
}

func toFloats(items []value.Value) []float64 {
	out := make([]float64, len(items))
	for i, v := range items {
		out[i] = v.Num()
	}
	return out
}
