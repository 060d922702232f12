// Package random seeds pseudo-random generators from a hardware entropy
// source: the ring oscillator on the RP2040, the OS elsewhere.
package random

import "math/rand/v2"

// BitSource yields one random bit per call.
type BitSource func() bool

// Collect assembles 32 bits from src. Each bit is sampled twice with a
// wait of the first sample's length in between, which decorrelates
// successive reads of a slowly toggling oscillator.
func Collect(src BitSource, wait func(bit bool)) uint32 {
	var seed uint32
	for i := 0; i < 32; i++ {
		b := src()
		if wait != nil {
			wait(b)
		}
		if src() {
			seed |= 1 << uint(i)
		}
	}
	return seed
}

// New returns a generator seeded from Seed.
func New() *rand.Rand {
	s := Seed()
	return rand.New(rand.NewPCG(uint64(s), uint64(s)<<32|uint64(Seed())))
}
