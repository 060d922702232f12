// Package ramp steps an integer level linearly towards a target.
package ramp

import (
	"time"

	"picoperiph/x/mathx"
)

// Step applies a level in [0..top].
type Step func(level uint16)

// Tick waits d and reports whether to carry on. False cancels the ramp.
type Tick func(d time.Duration) bool

// Linear moves from cur to to in steps equal steps over d, calling set for
// every change and tick between steps. It runs in the caller's goroutine.
// Zero steps or a zero duration snap straight to the target. The target is
// capped at top.
func Linear(cur, to, top uint16, d time.Duration, steps uint16, tick Tick, set Step) {
	to = mathx.Min(to, top)
	if steps == 0 || d <= 0 {
		set(to)
		return
	}
	stepDur := mathx.Max(d/time.Duration(steps), time.Millisecond)

	delta := int32(to) - int32(cur)
	n := int32(steps)
	level := int32(cur)
	var acc int32
	for i := uint16(1); i < steps; i++ {
		if !tick(stepDur) {
			return
		}
		acc += delta
		if inc := acc / n; inc != 0 {
			acc -= inc * n
			level = mathx.Clamp(level+inc, 0, int32(top))
			set(uint16(level))
		}
	}
	set(to)
}
