package vm

import "math/bits"

// toU32 coerces a script number to the uint32 domain int.* ops operate in,
// matching spec.md §9's "coerces via a uint32_t cast" note.
func toU32(f float64) uint32 {
	return uint32(int64(f))
}

func u32ToNum(u uint32) float64 { return float64(u) }

func intNot(a uint32) uint32 { return ^a }

func intAnd(vals []uint32) uint32 {
	out := ^uint32(0)
	for _, v := range vals {
		out &= v
	}
	return out
}

func intOr(vals []uint32) uint32 {
	var out uint32
	for _, v := range vals {
		out |= v
	}
	return out
}

func intXor(vals []uint32) uint32 {
	var out uint32
	for _, v := range vals {
		out ^= v
	}
	return out
}

func intShl(a uint32, n uint32) uint32 { return a << (n & 31) }
func intShr(a uint32, n uint32) uint32 { return a >> (n & 31) }
func intSar(a uint32, n uint32) uint32 { return uint32(int32(a) >> (n & 31)) }

func intClz(a uint32) uint32      { return uint32(bits.LeadingZeros32(a)) }
func intPopcount(a uint32) uint32 { return uint32(bits.OnesCount32(a)) }
func intBswap(a uint32) uint32    { return bits.ReverseBytes32(a) }
