package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagDisjointness(t *testing.T) {
	vals := []Value{
		Nil,
		Number(0),
		Number(-0.0),
		Number(1.5),
		Number(math.Inf(1)),
		Number(math.Inf(-1)),
		Number(math.NaN()),
		Str(0),
		Str(12345),
		List(0),
		List(7),
	}
	for _, v := range vals {
		assert.True(t, v.TagDisjoint(), "value %x failed tag disjointness", uint64(v))
	}
}

func TestNilIsNotNumber(t *testing.T) {
	assert.True(t, Nil.IsNil())
	assert.False(t, Nil.IsNum())
	assert.False(t, Nil.IsStr())
	assert.False(t, Nil.IsList())
}

func TestNaNCollapsesToCanonicalPattern(t *testing.T) {
	a := Number(math.NaN())
	b := Number(math.Copysign(math.NaN(), -1))
	assert.Equal(t, a, b)
	assert.True(t, a.IsNum())
	assert.True(t, math.IsNaN(a.Num()))
}

func TestStrAndListIndexRoundTrip(t *testing.T) {
	s := Str(42)
	assert.True(t, s.IsStr())
	assert.Equal(t, uint32(42), s.Index())

	l := List(1 << 20)
	assert.True(t, l.IsList())
	assert.Equal(t, uint32(1<<20), l.Index())
}

func TestNumberRoundTrip(t *testing.T) {
	for _, f := range []float64{0, -0.0, 1, -1, 3.14159, math.MaxFloat64, math.SmallestNonzeroFloat64} {
		v := Number(f)
		assert.True(t, v.IsNum())
		assert.Equal(t, f, v.Num())
	}
}
