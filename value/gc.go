package value

// Level selects how aggressively the collector runs.
type Level int

const (
	// LevelNone never collects automatically.
	LevelNone Level = iota
	// LevelDefault collects roughly every 10000 instructions.
	LevelDefault
	// LevelLowMem collects roughly every 1000 instructions, trading
	// throughput for a smaller live set.
	LevelLowMem
)

// TicksFor returns the tick countdown a fresh cycle starts at for level.
func TicksFor(l Level) int {
	switch l {
	case LevelLowMem:
		return 1000
	case LevelDefault:
		return 10000
	default:
		return 0
	}
}

// GCCost is the fixed tick cost charged against the timeout budget every
// time a collection runs, on top of the opcodes executed inside it
// (spec.md §5: "GC consumes a fixed tick cost (default 100)").
const GCCost = 100

// GC orchestrates mark-and-sweep over a StringPool and ListPool. It does
// not know about execution frames or the pinned set — the vm package
// drives those roots through Pool/Mark, since only vm.Context knows what
// a "live frame" is; GC only owns the tick countdown, the level, and the
// cycle-safe recursive list walk.
type GC struct {
	Strings *StringPool
	Lists   *ListPool
	Level   Level
	Ticks   int
}

// NewGC wires a GC to its pools at the given starting level.
func NewGC(strs *StringPool, lists *ListPool, level Level) *GC {
	return &GC{Strings: strs, Lists: lists, Level: level, Ticks: TicksFor(level)}
}

// SetLevel changes the level and resets the tick countdown.
func (g *GC) SetLevel(l Level) {
	g.Level = l
	g.Ticks = TicksFor(l)
}

// Tick decrements the countdown by n and reports whether a collection is
// now due. LevelNone never triggers.
func (g *GC) Tick(n int) bool {
	if g.Level == LevelNone {
		return false
	}
	g.Ticks -= n
	return g.Ticks <= 0
}

// BeginCycle resets both pools' reachability bitmaps (string pool
// re-seeds from its prelude pre-mark) ahead of the caller walking roots.
func (g *GC) BeginCycle() {
	g.Strings.BeginMark()
	g.Lists.BeginMark()
}

// MarkValue marks v's backing slot reachable, recursing into list
// contents. The list pool's Mark returns false once a slot is already
// reachable, which is what makes this safe on cyclic structures: a list
// that references itself is only ever descended into once (spec.md §9
// "Cyclic list structures").
func (g *GC) MarkValue(v Value) {
	switch {
	case v.IsStr():
		g.Strings.Mark(v.Index())
	case v.IsList():
		g.markList(v.Index())
	}
}

func (g *GC) markList(idx uint32) {
	if !g.Lists.Mark(idx) {
		return
	}
	obj := g.Lists.Get(idx)
	if obj == nil {
		return
	}
	for _, item := range obj.Items {
		g.MarkValue(item)
	}
}

// EndCycle sweeps both pools, resets the tick countdown for the current
// level, and returns the number of strings and lists freed.
func (g *GC) EndCycle() (stringsFreed, listsFreed int) {
	stringsFreed = g.Strings.Sweep()
	listsFreed = g.Lists.Sweep()
	g.Ticks = TicksFor(g.Level)
	return
}
