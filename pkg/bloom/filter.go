// Package bloom implements the membership filter used by the
// persistence core: a fixed-size bit vector probed by double hashing,
// used by an SSTable to skip disk lookups for keys it cannot contain.
//
// Each of the K probes is derived deterministically from the key via
// double hashing (h1 + i*h2 mod M) built from two independent FNV
// variants, rather than a seeded pseudo-random sequence, so the bit
// positions stay portable and reproducible across runs and hosts.
package bloom

import (
	"hash/fnv"
)

// Filter is a probabilistic set with no false negatives: MightContain
// always returns true for a key previously passed to Add. Add and
// MightContain may be called concurrently only by a single owning
// component; the owner is responsible for serializing mutation.
type Filter struct {
	bits []bool
	m    uint32
	k    int
}

// New creates a filter with m bits and k hash probes per operation.
// m is clamped to at least 1 and k to at least 1 so a misconfigured
// (zero) size or hash count degrades to a trivial, always-true filter
// rather than panicking on a modulo-by-zero.
func New(m uint32, k int) *Filter {
	if m == 0 {
		m = 1
	}
	if k < 1 {
		k = 1
	}
	return &Filter{
		bits: make([]bool, m),
		m:    m,
		k:    k,
	}
}

// Add records key in the filter.
func (f *Filter) Add(key []byte) {
	for _, idx := range f.indices(key) {
		f.bits[idx] = true
	}
}

// MightContain reports whether key may have been added. A false
// result is definitive; a true result may be a false positive.
func (f *Filter) MightContain(key []byte) bool {
	for _, idx := range f.indices(key) {
		if !f.bits[idx] {
			return false
		}
	}
	return true
}

// Clear resets every bit, forgetting every key added so far.
func (f *Filter) Clear() {
	for i := range f.bits {
		f.bits[i] = false
	}
}

// Size returns the bit-vector length M.
func (f *Filter) Size() uint32 { return f.m }

// HashCount returns the number of probes K.
func (f *Filter) HashCount() int { return f.k }

func (f *Filter) indices(key []byte) []uint32 {
	h1 := fnv32a(key)
	h2 := fnv32(key)
	if h2%f.m == 0 {
		// A zero step degenerates double hashing into a single probe
		// repeated k times; nudge it odd so successive probes spread
		// across the bit vector.
		h2 |= 1
	}
	idxs := make([]uint32, f.k)
	for i := 0; i < f.k; i++ {
		idxs[i] = (h1 + uint32(i)*h2) % f.m
	}
	return idxs
}

func fnv32a(key []byte) uint32 {
	h := fnv.New32a()
	h.Write(key)
	return h.Sum32()
}

func fnv32(key []byte) uint32 {
	h := fnv.New32()
	h.Write(key)
	return h.Sum32()
}
