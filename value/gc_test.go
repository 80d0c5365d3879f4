package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGCMarkCompletenessWithCycle(t *testing.T) {
	strs := NewStringPool(4)
	lists := NewListPool(4)
	gc := NewGC(strs, lists, LevelDefault)

	a := lists.Alloc(nil)
	b := lists.Alloc(nil)
	lists.Get(a).Items = []Value{List(b)}
	lists.Get(b).Items = []Value{List(a)} // cycle

	unreachable := lists.Alloc(nil)

	gc.BeginCycle()
	gc.MarkValue(List(a))
	_, freed := gc.EndCycle()

	assert.Equal(t, 1, freed)
	assert.NotNil(t, lists.Get(a))
	assert.NotNil(t, lists.Get(b))
	_ = unreachable
}

func TestGCTickCountdownAndLevels(t *testing.T) {
	gc := NewGC(NewStringPool(4), NewListPool(4), LevelLowMem)
	assert.Equal(t, 1000, gc.Ticks)
	assert.False(t, gc.Tick(999))
	assert.True(t, gc.Tick(1))
}

func TestGCLevelNoneNeverTriggers(t *testing.T) {
	gc := NewGC(NewStringPool(4), NewListPool(4), LevelNone)
	assert.False(t, gc.Tick(1_000_000))
}

func TestStringPoolPreludeSurvivesMarkWithoutExplicitMark(t *testing.T) {
	strs := NewStringPool(4)
	lists := NewListPool(4)
	gc := NewGC(strs, lists, LevelDefault)

	lit := strs.Alloc([]byte("hello"))
	strs.MarkPrelude(lit)

	gc.BeginCycle()
	freed, _ := gc.EndCycle()

	assert.Equal(t, 0, freed)
	assert.NotNil(t, strs.Get(lit))
}
