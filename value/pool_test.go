package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringPoolAllocAndStableIndex(t *testing.T) {
	p := NewStringPool(4)
	i1 := p.Alloc([]byte("hello"))
	i2 := p.Alloc([]byte("world"))
	assert.NotEqual(t, i1, i2)
	assert.Equal(t, "hello", string(p.Get(i1).Bytes))
	assert.Equal(t, "world", string(p.Get(i2).Bytes))
}

func TestStringPoolGrowsAndKeepsIndicesStable(t *testing.T) {
	p := NewStringPool(2)
	var idxs []uint32
	for i := 0; i < 20; i++ {
		idxs = append(idxs, p.Alloc([]byte{byte(i)}))
	}
	for i, idx := range idxs {
		require.Equal(t, byte(i), p.Get(idx).Bytes[0])
	}
}

func TestStringPoolCStringIsNulTerminated(t *testing.T) {
	p := NewStringPool(4)
	idx := p.Alloc([]byte("ab"))
	cs := p.Get(idx).CString()
	assert.Equal(t, byte(0), cs[len(cs)-1])
}

func TestStringPoolSweepFreesUnreached(t *testing.T) {
	p := NewStringPool(4)
	a := p.Alloc([]byte("keep"))
	_ = p.Alloc([]byte("drop"))
	p.BeginMark()
	p.Mark(a)
	freed := p.Sweep()
	assert.Equal(t, 1, freed)
	assert.NotNil(t, p.Get(a))
}

func TestListPoolFinalizerRunsOnceOnSweep(t *testing.T) {
	p := NewListPool(4)
	runs := 0
	p.RegisterFinalizer(5, func(*ListObject) { runs++ })
	idx := p.Alloc(nil)
	p.Get(idx).UserType = 5
	p.BeginMark()
	p.Sweep()
	assert.Equal(t, 1, runs)
}

func TestListPoolAllocHint(t *testing.T) {
	p := NewListPool(4)
	idx := p.Alloc([]Value{Number(1), Number(2)})
	assert.Equal(t, 2, len(p.Get(idx).Items))
}

func TestBitsetFirstClearSkipsFullWords(t *testing.T) {
	b := newBitset(200)
	for i := 0; i < 128; i++ {
		b.set(i)
	}
	assert.Equal(t, 128, b.firstClear(200))
}
