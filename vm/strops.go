package vm

import "strings"

// strSplit splits s on every non-overlapping occurrence of sep, matching
// Go's strings.Split (sep == "" splits into individual bytes, mirroring
// sink.h's byte-oriented string model).
func strSplit(s, sep string) []string {
	if sep == "" {
		out := make([]string, len(s))
		for i := range s {
			out[i] = string(s[i])
		}
		return out
	}
	return strings.Split(s, sep)
}

func strReplace(s, find, repl string) string {
	if find == "" {
		return s
	}
	return strings.ReplaceAll(s, find, repl)
}

func strBegins(s, prefix string) bool { return strings.HasPrefix(s, prefix) }
func strEnds(s, suffix string) bool   { return strings.HasSuffix(s, suffix) }

// strPad pads s with spaces out to |width|: a positive width right-pads
// (content left-aligned), a negative width left-pads (content
// right-aligned), matching the common sink-family `str.pad` convention.
func strPad(s string, width int) string {
	n := width
	left := n < 0
	if left {
		n = -n
	}
	if len(s) >= n {
		return s
	}
	pad := strings.Repeat(" ", n-len(s))
	if left {
		return pad + s
	}
	return s + pad
}

// strFind returns the byte offset of the first occurrence of needle at or
// after start, or -1.
func strFind(s, needle string, start int) int {
	if start < 0 {
		start = 0
	}
	if start > len(s) {
		return -1
	}
	idx := strings.Index(s[start:], needle)
	if idx < 0 {
		return -1
	}
	return idx + start
}

// strRFind returns the byte offset of the last occurrence of needle that
// lies entirely within s[:end] (an out-of-range end means all of s), or -1.
func strRFind(s, needle string, end int) int {
	if end < 0 || end > len(s) {
		end = len(s)
	}
	idx := strings.LastIndex(s[:end], needle)
	return idx
}

func strTrim(s string) string { return strings.TrimSpace(s) }

func strRev(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

func strRep(s string, n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(s, n)
}

func strListBytes(s string) []byte { return []byte(s) }
