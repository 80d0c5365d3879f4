package value

import (
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
)

// Render produces the script-visible string form of v: numbers print via
// Go's shortest round-trip formatting with -0 normalized to +0 (spec.md
// §8 invariant 5), strings print their raw bytes, lists print
// comma-joined elements in `{a, b, c}` form with cycle detection so a
// list nested inside itself renders as `{...}` at the repeated occurrence
// instead of recursing forever (spec.md §9).
func Render(v Value, strs *StringPool, lists *ListPool) string {
	return renderVisited(v, strs, lists, map[uint32]bool{})
}

func renderVisited(v Value, strs *StringPool, lists *ListPool, visiting map[uint32]bool) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsNum():
		f := v.Num()
		if f == 0 {
			f = 0 // normalizes -0 to +0 per IEEE-754 equality with the literal
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	case v.IsStr():
		return string(strs.Get(v.Index()).Bytes)
	case v.IsList():
		idx := v.Index()
		if visiting[idx] {
			return "{...}"
		}
		visiting[idx] = true
		defer delete(visiting, idx)
		obj := lists.Get(idx)
		parts := make([]string, len(obj.Items))
		for i, item := range obj.Items {
			parts[i] = renderVisited(item, strs, lists, visiting)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "?"
}

// DebugDump renders v with go-spew, for diagnostics that need the raw
// tag/index rather than the script-visible rendering (used by vm.DumpState).
func DebugDump(v Value) string {
	cfg := spew.ConfigState{Indent: "  ", DisableMethods: true}
	if v.IsNum() {
		return cfg.Sdump(v.Num())
	}
	return cfg.Sdump(struct {
		Kind  string
		Index uint32
	}{Kind: kindName(v), Index: safeIndex(v)})
}

func kindName(v Value) string {
	switch {
	case v.IsNil():
		return "nil"
	case v.IsStr():
		return "str"
	case v.IsList():
		return "list"
	default:
		return "num"
	}
}

func safeIndex(v Value) uint32 {
	if v.IsStr() || v.IsList() {
		return v.Index()
	}
	return 0
}
