//go:build rp2040

package hal

import (
	"machine"

	"picoperiph/errcode"
)

// rp2Pin adapts machine.Pin and remembers its direction.
type rp2Pin struct {
	p   machine.Pin
	n   int
	out bool
}

// GPIO returns the SIO-controlled pin n.
func GPIO(n int) (Pin, error) {
	p, ok := Pins.ByNumber(n)
	if !ok {
		return nil, errcode.InvalidPin
	}
	return p, nil
}

func (r *rp2Pin) Number() int    { return r.n }
func (r *rp2Pin) IsOutput() bool { return r.out }

func (r *rp2Pin) ConfigureInput(pull Pull) error {
	var mode machine.PinMode
	switch pull {
	case PullUp:
		mode = machine.PinInputPullup
	case PullDown:
		mode = machine.PinInputPulldown
	default:
		mode = machine.PinInput
	}
	r.p.Configure(machine.PinConfig{Mode: mode})
	r.out = false
	return nil
}

func (r *rp2Pin) ConfigureOutput(initial bool) error {
	r.p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	r.p.Set(initial)
	r.out = true
	return nil
}

func (r *rp2Pin) Set(b bool) { r.p.Set(b) }
func (r *rp2Pin) Get() bool  { return r.p.Get() }

type rp2PinFactory struct {
	pins [NumPins]*rp2Pin
}

// Pins is the board pin factory; pins are cached so direction is shared.
var Pins PinFactory = &rp2PinFactory{}

func (f *rp2PinFactory) ByNumber(n int) (Pin, bool) {
	if !IsPin(n) {
		return nil, false
	}
	if f.pins[n] == nil {
		f.pins[n] = &rp2Pin{p: machine.Pin(n), n: n}
	}
	return f.pins[n], true
}
