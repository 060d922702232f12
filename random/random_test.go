package random

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectUsesSecondSample(t *testing.T) {
	// Odd calls are the discarded first sample.
	calls := 0
	src := func() bool {
		calls++
		return calls%2 == 0
	}
	waits := 0
	got := Collect(src, func(bool) { waits++ })
	assert.Equal(t, uint32(0xFFFFFFFF), got)
	assert.Equal(t, 64, calls)
	assert.Equal(t, 32, waits)

	calls = 0
	odd := func() bool {
		calls++
		return calls%2 == 1
	}
	assert.Zero(t, Collect(odd, nil))
}

func TestNewProducesValues(t *testing.T) {
	r := New()
	seen := map[uint64]bool{}
	for i := 0; i < 16; i++ {
		seen[r.Uint64()] = true
	}
	assert.Greater(t, len(seen), 1)
}
