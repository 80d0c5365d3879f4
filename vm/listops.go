package vm

import (
	"sort"
	"strings"

	"sink/value"
)

func listShift(items []value.Value) (value.Value, []value.Value) {
	if len(items) == 0 {
		return value.Nil, items
	}
	return items[0], items[1:]
}

func listUnshift(items []value.Value, v value.Value) []value.Value {
	out := make([]value.Value, 0, len(items)+1)
	out = append(out, v)
	return append(out, items...)
}

func listAppend(dst, src []value.Value) []value.Value {
	return append(dst, src...)
}

func listPrepend(dst, src []value.Value) []value.Value {
	out := make([]value.Value, 0, len(dst)+len(src))
	out = append(out, src...)
	return append(out, dst...)
}

// listFind returns the index of the first element at or after start that
// orders equal to needle, or -1.
func listFind(items []value.Value, needle value.Value, start int, eq func(a, b value.Value) bool) int {
	if start < 0 {
		start = 0
	}
	for i := start; i < len(items); i++ {
		if eq(items[i], needle) {
			return i
		}
	}
	return -1
}

// listRFind mirrors listFind searching backward from end (inclusive).
func listRFind(items []value.Value, needle value.Value, end int, eq func(a, b value.Value) bool) int {
	if end < 0 || end >= len(items) {
		end = len(items) - 1
	}
	for i := end; i >= 0; i-- {
		if eq(items[i], needle) {
			return i
		}
	}
	return -1
}

func listJoin(items []value.Value, sep string, strs *value.StringPool, lists *value.ListPool) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = value.Render(it, strs, lists)
	}
	return strings.Join(parts, sep)
}

// listSort sorts items in place using the total order cmp provides
// (spec.md §4.6's `order`), and listRSort reverses that order.
func listSort(items []value.Value, cmp func(a, b value.Value) int) {
	sort.SliceStable(items, func(i, j int) bool { return cmp(items[i], items[j]) < 0 })
}

func listRSort(items []value.Value, cmp func(a, b value.Value) int) {
	sort.SliceStable(items, func(i, j int) bool { return cmp(items[i], items[j]) > 0 })
}
