package vm

import "encoding/binary"

// rngState is a splitmix64 generator. Its GetState/SetState blob is
// treated as an implementation-defined opaque byte string (spec.md §9
// open question: "the spec treats the PRNG as a black box").
type rngState struct {
	state uint64
}

func newRNG() *rngState {
	return &rngState{state: 0x9E3779B97F4A7C15}
}

// Seed sets the generator's state directly.
func (r *rngState) Seed(seed uint64) {
	r.state = seed
}

// SeedAuto XORs a fixed constant into the current state rather than
// drawing entropy, since this package must not call time.Now/rand.Read from inside deterministic
// execution paths that tests replay; hosts wanting true entropy reseed
// explicitly via Seed before running untrusted scripts.
func (r *rngState) SeedAuto() {
	r.state ^= 0xD1B54A32D192ED03
}

// Uint64 advances the generator one step and returns the next value,
// following the standard splitmix64 mixing function.
func (r *rngState) Uint64() uint64 {
	r.state += 0x9E3779B97F4A7C15
	z := r.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Float64 returns a value in [0, 1) derived from the top 53 bits of
// Uint64, matching the usual double-from-random-bits construction.
func (r *rngState) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// GetState returns the generator's internal word as an 8-byte
// little-endian blob.
func (r *rngState) GetState() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, r.state)
	return buf
}

// SetState restores the generator's internal word from a blob previously
// returned by GetState.
func (r *rngState) SetState(buf []byte) {
	if len(buf) < 8 {
		return
	}
	r.state = binary.LittleEndian.Uint64(buf)
}
