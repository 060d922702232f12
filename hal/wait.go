package hal

import (
	"time"

	"picoperiph/errcode"
)

// Clock is the time source used by busy-wait helpers and drivers that need
// fixed delays. Host tests substitute a fake.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is backed by the runtime timer.
var SystemClock Clock = systemClock{}

// SleepOr returns fn, or time.Sleep when fn is nil.
func SleepOr(fn func(time.Duration)) func(time.Duration) {
	if fn != nil {
		return fn
	}
	return time.Sleep
}

// Waiter polls input pins for a level or an edge.
// Poll is the pause between samples; zero spins.
type Waiter struct {
	Clock Clock
	Poll  time.Duration
}

func (w Waiter) clock() Clock {
	if w.Clock == nil {
		return SystemClock
	}
	return w.Clock
}

// WaitForLow blocks until p reads low and returns the time spent waiting.
// A zero timeout waits forever. An already-low pin returns 0 immediately.
func (w Waiter) WaitForLow(p Pin, timeout time.Duration) (time.Duration, error) {
	return w.waitLevel(p, false, timeout)
}

// WaitForHigh is WaitForLow for the high level.
func (w Waiter) WaitForHigh(p Pin, timeout time.Duration) (time.Duration, error) {
	return w.waitLevel(p, true, timeout)
}

// WaitForChange blocks until p leaves the level it had on entry.
func (w Waiter) WaitForChange(p Pin, timeout time.Duration) (time.Duration, error) {
	if err := checkInput(p); err != nil {
		return 0, err
	}
	return w.spin(p, !p.Get(), timeout)
}

func (w Waiter) waitLevel(p Pin, level bool, timeout time.Duration) (time.Duration, error) {
	if err := checkInput(p); err != nil {
		return 0, err
	}
	if p.Get() == level {
		return 0, nil
	}
	return w.spin(p, level, timeout)
}

func (w Waiter) spin(p Pin, level bool, timeout time.Duration) (time.Duration, error) {
	clk := w.clock()
	start := clk.Now()
	for p.Get() != level {
		elapsed := clk.Now().Sub(start)
		if timeout > 0 && elapsed >= timeout {
			return elapsed, errcode.Timeout
		}
		if w.Poll > 0 {
			clk.Sleep(w.Poll)
		}
	}
	return clk.Now().Sub(start), nil
}

func checkInput(p Pin) error {
	if p == nil || !IsPin(p.Number()) {
		return errcode.InvalidPin
	}
	if p.IsOutput() {
		return errcode.InvalidDir
	}
	return nil
}

// Package-level shorthands using the system clock.

func WaitForLow(p Pin, timeout time.Duration) (time.Duration, error) {
	return Waiter{}.WaitForLow(p, timeout)
}

func WaitForHigh(p Pin, timeout time.Duration) (time.Duration, error) {
	return Waiter{}.WaitForHigh(p, timeout)
}

func WaitForChange(p Pin, timeout time.Duration) (time.Duration, error) {
	return Waiter{}.WaitForChange(p, timeout)
}
