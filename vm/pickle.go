package vm

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"sink/value"
)

// Pickle binary tag bytes. Grounded on spec.md §4.7's naming of the
// back-reference opcode 0xFA; the remaining tags follow the same
// small-tag-plus-payload shape sink.h's sink_pickle_bin/sink_pickle_binstr
// describe without spelling out byte values, so this module picks a
// concrete, internally-consistent encoding (documented in DESIGN.md).
const (
	pickleTagNil     byte = 0x00
	pickleTagNumZero byte = 0x01
	pickleTagNum8    byte = 0x02
	pickleTagNumF64  byte = 0x03
	pickleTagStrSmall byte = 0x10 // length <= 255, one length byte follows
	pickleTagStrLarge byte = 0x11 // length > 255, 4-byte length follows
	pickleTagList     byte = 0x20
	pickleTagBackref   byte = 0xFA
)

// pickleBin encodes v as the compact binary form, emitting a back-reference
// (pickleTagBackref + 4-byte list index) any time a list already visited
// earlier in this same encoding is seen again, so cyclic structures
// round-trip instead of recursing forever (spec.md §4.7/§8 invariant e).
func pickleBin(v value.Value, strs *value.StringPool, lists *value.ListPool) []byte {
	seen := map[uint32]bool{}
	var buf []byte
	buf = appendPickleBin(buf, v, strs, lists, seen)
	return buf
}

func appendPickleBin(buf []byte, v value.Value, strs *value.StringPool, lists *value.ListPool, seen map[uint32]bool) []byte {
	switch {
	case v.IsNil():
		return append(buf, pickleTagNil)
	case v.IsNum():
		f := v.Num()
		if f == 0 {
			return append(buf, pickleTagNumZero)
		}
		if f == math.Trunc(f) && f >= -128 && f <= 127 {
			return append(buf, pickleTagNum8, byte(int8(f)))
		}
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(f))
		return append(append(buf, pickleTagNumF64), b...)
	case v.IsStr():
		bs := strs.Get(v.Index()).Bytes
		if len(bs) <= 255 {
			buf = append(buf, pickleTagStrSmall, byte(len(bs)))
		} else {
			lb := make([]byte, 4)
			binary.LittleEndian.PutUint32(lb, uint32(len(bs)))
			buf = append(append(buf, pickleTagStrLarge), lb...)
		}
		return append(buf, bs...)
	case v.IsList():
		idx := v.Index()
		if seen[idx] {
			ib := make([]byte, 4)
			binary.LittleEndian.PutUint32(ib, idx)
			return append(append(buf, pickleTagBackref), ib...)
		}
		seen[idx] = true
		obj := lists.Get(idx)
		buf = append(buf, pickleTagList)
		ib := make([]byte, 4)
		binary.LittleEndian.PutUint32(ib, idx)
		buf = append(buf, ib...)
		nb := make([]byte, 4)
		binary.LittleEndian.PutUint32(nb, uint32(len(obj.Items)))
		buf = append(buf, nb...)
		for _, item := range obj.Items {
			buf = appendPickleBin(buf, item, strs, lists, seen)
		}
		return buf
	}
	return buf
}

// unpickleBin is the inverse of pickleBin. Back-references resolve against
// backrefs, a map from the original encoding's list index to the newly
// allocated list's index in this pool, populated as each list tag is
// decoded (so a forward-declared cycle resolves once its owning list has
// been allocated, matching encode order: a list's own tag always precedes
// any back-reference to it).
func unpickleBin(buf []byte, strs *value.StringPool, lists *value.ListPool) (value.Value, error) {
	backrefs := map[uint32]uint32{}
	v, _, err := readPickleBin(buf, 0, strs, lists, backrefs)
	return v, err
}

func readPickleBin(buf []byte, pos int, strs *value.StringPool, lists *value.ListPool, backrefs map[uint32]uint32) (value.Value, int, error) {
	if pos >= len(buf) {
		return value.Nil, pos, errors.New("unpickle: truncated binary")
	}
	tag := buf[pos]
	pos++
	switch tag {
	case pickleTagNil:
		return value.Nil, pos, nil
	case pickleTagNumZero:
		return value.Number(0), pos, nil
	case pickleTagNum8:
		if pos >= len(buf) {
			return value.Nil, pos, errors.New("unpickle: truncated num8")
		}
		n := value.Number(float64(int8(buf[pos])))
		return n, pos + 1, nil
	case pickleTagNumF64:
		if pos+8 > len(buf) {
			return value.Nil, pos, errors.New("unpickle: truncated numf64")
		}
		bits := binary.LittleEndian.Uint64(buf[pos : pos+8])
		return value.Number(math.Float64frombits(bits)), pos + 8, nil
	case pickleTagStrSmall:
		if pos >= len(buf) {
			return value.Nil, pos, errors.New("unpickle: truncated strsmall length")
		}
		n := int(buf[pos])
		pos++
		if pos+n > len(buf) {
			return value.Nil, pos, errors.New("unpickle: truncated strsmall body")
		}
		return value.Str(strs.Alloc(buf[pos : pos+n])), pos + n, nil
	case pickleTagStrLarge:
		if pos+4 > len(buf) {
			return value.Nil, pos, errors.New("unpickle: truncated strlarge length")
		}
		n := int(binary.LittleEndian.Uint32(buf[pos : pos+4]))
		pos += 4
		if pos+n > len(buf) {
			return value.Nil, pos, errors.New("unpickle: truncated strlarge body")
		}
		return value.Str(strs.Alloc(buf[pos : pos+n])), pos + n, nil
	case pickleTagList:
		if pos+8 > len(buf) {
			return value.Nil, pos, errors.New("unpickle: truncated list header")
		}
		origIdx := binary.LittleEndian.Uint32(buf[pos : pos+4])
		count := int(binary.LittleEndian.Uint32(buf[pos+4 : pos+8]))
		pos += 8
		newIdx := lists.Alloc(nil)
		backrefs[origIdx] = newIdx
		items := make([]value.Value, count)
		for i := 0; i < count; i++ {
			item, next, err := readPickleBin(buf, pos, strs, lists, backrefs)
			if err != nil {
				return value.Nil, pos, err
			}
			items[i] = item
			pos = next
		}
		lists.Get(newIdx).Items = items
		return value.List(newIdx), pos, nil
	case pickleTagBackref:
		if pos+4 > len(buf) {
			return value.Nil, pos, errors.New("unpickle: truncated backref")
		}
		origIdx := binary.LittleEndian.Uint32(buf[pos : pos+4])
		pos += 4
		newIdx, ok := backrefs[origIdx]
		if !ok {
			return value.Nil, pos, errors.New("unpickle: dangling back-reference")
		}
		return value.List(newIdx), pos, nil
	default:
		return value.Nil, pos, errors.Errorf("unpickle: unknown tag byte %#x", tag)
	}
}

// pickleJSON renders v as JSON-like text; cycles are refused (spec.md §4.7,
// §8 invariant: "JSON pickle refuses cycles").
func pickleJSON(v value.Value, strs *value.StringPool, lists *value.ListPool) (string, error) {
	var sb strings.Builder
	if err := writePickleJSON(&sb, v, strs, lists, map[uint32]bool{}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writePickleJSON(sb *strings.Builder, v value.Value, strs *value.StringPool, lists *value.ListPool, visiting map[uint32]bool) error {
	switch {
	case v.IsNil():
		sb.WriteString("null")
	case v.IsNum():
		sb.WriteString(strconv.FormatFloat(v.Num(), 'g', -1, 64))
	case v.IsStr():
		sb.WriteString(strconv.Quote(string(strs.Get(v.Index()).Bytes)))
	case v.IsList():
		idx := v.Index()
		if visiting[idx] {
			return errors.New("pickle.json: value contains a cycle")
		}
		visiting[idx] = true
		defer delete(visiting, idx)
		sb.WriteByte('[')
		obj := lists.Get(idx)
		for i, item := range obj.Items {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writePickleJSON(sb, item, strs, lists, visiting); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	}
	return nil
}

// unpickleJSON decodes s as the JSON-like textual pickle form. No
// ecosystem JSON decoder appears anywhere in the retrieval pack, and the
// standard decoder is a complete, well-tested implementation of exactly
// the grammar this format borrows (null/number/string/array), so
// encoding/json is used directly rather than hand-rolling a parser.
func unpickleJSON(s string, strs *value.StringPool, lists *value.ListPool) (value.Value, error) {
	var raw any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return value.Nil, errors.Wrap(err, "unpickle: invalid JSON pickle")
	}
	return jsonToValue(raw, strs, lists), nil
}

func jsonToValue(raw any, strs *value.StringPool, lists *value.ListPool) value.Value {
	switch t := raw.(type) {
	case nil:
		return value.Nil
	case float64:
		return value.Number(t)
	case string:
		return value.Str(strs.Alloc([]byte(t)))
	case []any:
		items := make([]value.Value, len(t))
		for i, item := range t {
			items[i] = jsonToValue(item, strs, lists)
		}
		return value.List(lists.Alloc(items))
	default:
		return value.Nil
	}
}

// pickleValid reports 0 (invalid), 1 (well-formed JSON-like text), or 2
// (well-formed binary) for s, matching sink_pickle_valid's tri-state.
func pickleValid(s string) int {
	if len(s) == 0 {
		return 0
	}
	b := []byte(s)
	switch b[0] {
	case pickleTagNil, pickleTagNumZero, pickleTagNum8, pickleTagNumF64,
		pickleTagStrSmall, pickleTagStrLarge, pickleTagList, pickleTagBackref:
		if _, err := unpickleBin(b, value.NewStringPool(1), value.NewListPool(1)); err == nil {
			return 2
		}
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '"' || trimmed[0] == 'n' ||
		(trimmed[0] >= '0' && trimmed[0] <= '9') || trimmed[0] == '-') && json.Valid([]byte(trimmed)) {
		return 1
	}
	return 0
}

// pickleCopy performs a structural deep copy of v, preserving internal
// sharing and cycles through its own map from original to copied list
// index, rather than round-tripping through the binary encoder.
func pickleCopy(v value.Value, strs *value.StringPool, lists *value.ListPool) value.Value {
	return copyVisited(v, strs, lists, map[uint32]uint32{})
}

func copyVisited(v value.Value, strs *value.StringPool, lists *value.ListPool, copied map[uint32]uint32) value.Value {
	if !v.IsList() {
		return v
	}
	idx := v.Index()
	if newIdx, ok := copied[idx]; ok {
		return value.List(newIdx)
	}
	obj := lists.Get(idx)
	newIdx := lists.Alloc(nil)
	copied[idx] = newIdx
	items := make([]value.Value, len(obj.Items))
	for i, item := range obj.Items {
		items[i] = copyVisited(item, strs, lists, copied)
	}
	lists.Get(newIdx).Items = items
	return value.List(newIdx)
}

// pickleSibling reports whether a and b are structurally equal (same
// shape and leaf values) without requiring pointer identity, matching
// sink_pickle_sibling.
func pickleSibling(a, b value.Value, strs *value.StringPool, lists *value.ListPool) bool {
	return siblingVisited(a, b, strs, lists, map[[2]uint32]bool{})
}

func siblingVisited(a, b value.Value, strs *value.StringPool, lists *value.ListPool, seen map[[2]uint32]bool) bool {
	if a.IsNil() != b.IsNil() {
		return false
	}
	if a.IsNum() != b.IsNum() || (a.IsNum() && a.Num() != b.Num()) {
		return false
	}
	if a.IsStr() != b.IsStr() {
		return false
	}
	if a.IsStr() {
		return string(strs.Get(a.Index()).Bytes) == string(strs.Get(b.Index()).Bytes)
	}
	if a.IsList() != b.IsList() {
		return false
	}
	if !a.IsList() {
		return true
	}
	key := [2]uint32{a.Index(), b.Index()}
	if seen[key] {
		return true
	}
	seen[key] = true
	ai, bi := lists.Get(a.Index()).Items, lists.Get(b.Index()).Items
	if len(ai) != len(bi) {
		return false
	}
	for i := range ai {
		if !siblingVisited(ai[i], bi[i], strs, lists, seen) {
			return false
		}
	}
	return true
}
