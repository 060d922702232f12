// Package pwm manages the eight RP2040 PWM slices: pin muxing, enable and
// phase-correct state, wrap, per-channel level, clock divisor and frequency.
//
// Every operation exists in a slice form and a pin form. A pin maps to
// slice (pin>>1)&7 and channel pin&1.
package pwm

import (
	"errors"
	"sync"
	"time"

	"picoperiph/errcode"
	"picoperiph/hal"
	"picoperiph/x/mathx"
	"picoperiph/x/timex"
)

const (
	NumSlices   = 8
	NumChannels = 2

	// ClockHz is the default system clock feeding the slices.
	ClockHz     = 125_000_000
	DefaultWrap = 0xFFFF

	maxDivInt  = 255
	maxDivFrac = 15
)

var (
	ErrInvalidSlice         = errors.New("pwm: invalid slice")
	ErrInvalidChannel       = errors.New("pwm: invalid channel")
	ErrAlreadyEnabled       = errors.New("pwm: slice already enabled")
	ErrAlreadyDisabled      = errors.New("pwm: slice already disabled")
	ErrPhaseCorrectEnabled  = errors.New("pwm: phase correct already enabled")
	ErrPhaseCorrectDisabled = errors.New("pwm: phase correct already disabled")
	ErrInvalidFrequency     = errors.New("pwm: invalid frequency")
	ErrInvalidDuty          = errors.New("pwm: invalid duty")
	ErrInvalidDivisorInt    = errors.New("pwm: invalid divisor integer")
	ErrInvalidDivisorFrac   = errors.New("pwm: invalid divisor fraction")
	ErrRampActive           = errors.New("pwm: ramp already running")
)

// Backend writes slice registers.
type Backend interface {
	SetFunction(pin int, pwm bool)
	SetEnabled(slice int, on bool)
	SetPhaseCorrect(slice int, on bool)
	SetWrap(slice int, wrap uint16)
	SetLevel(slice, channel int, level uint16)
	SetClockDivisor(slice int, integer, frac uint8)
}

func SliceOf(pin int) int   { return (pin >> 1) & 7 }
func ChannelOf(pin int) int { return pin & 1 }

func IsSlice(slice int) bool     { return slice >= 0 && slice < NumSlices }
func IsChannel(channel int) bool { return channel >= 0 && channel < NumChannels }

type sliceState struct {
	wrap    uint16
	level   [NumChannels]uint16
	divInt  uint8
	divFrac uint8
}

// Controller tracks slice settings. Enabled, phase-correct and pin-init
// state live in the shared Registry.
type Controller struct {
	reg *hal.Registry
	hw  Backend

	mu     sync.Mutex
	slices [NumSlices]sliceState
	ramps  map[int]chan struct{}
}

func New(reg *hal.Registry, hw Backend) *Controller {
	c := &Controller{reg: reg, hw: hw, ramps: make(map[int]chan struct{})}
	for i := range c.slices {
		c.slices[i] = sliceState{wrap: DefaultWrap, divInt: 1}
	}
	return c
}

func checkPin(pin int) (slice, channel int, err error) {
	if !hal.IsPin(pin) {
		return 0, 0, errcode.InvalidPin
	}
	return SliceOf(pin), ChannelOf(pin), nil
}

// ---- pins ----

// InitPin muxes pin to its PWM slice.
func (c *Controller) InitPin(pin int) error {
	if !hal.IsPin(pin) {
		return errcode.InvalidPin
	}
	if c.reg.IsMarked(hal.KindPWMPin, pin) {
		return &errcode.E{C: errcode.AlreadyInitialized, Op: "pwm.InitPin"}
	}
	if err := c.reg.ClaimPin("pwm", pin, hal.FuncPWM); err != nil {
		return err
	}
	if err := c.reg.Mark(hal.KindPWMPin, pin); err != nil {
		return err
	}
	c.hw.SetFunction(pin, true)
	return nil
}

// DeinitPin stops any ramp on pin and returns it to plain GPIO.
func (c *Controller) DeinitPin(pin int) error {
	if !hal.IsPin(pin) {
		return errcode.InvalidPin
	}
	if err := c.reg.Clear(hal.KindPWMPin, pin); err != nil {
		return &errcode.E{C: errcode.NotInitialized, Op: "pwm.DeinitPin"}
	}
	c.StopRamp(pin)
	c.hw.SetFunction(pin, false)
	c.reg.ReleasePin("pwm", pin)
	return nil
}

func (c *Controller) PinInitialized(pin int) bool { return c.reg.IsMarked(hal.KindPWMPin, pin) }

// ---- enable ----

func (c *Controller) Enable(slice int) error {
	if !IsSlice(slice) {
		return ErrInvalidSlice
	}
	if err := c.reg.Mark(hal.KindPWMSlice, slice); err != nil {
		return ErrAlreadyEnabled
	}
	c.hw.SetEnabled(slice, true)
	return nil
}

func (c *Controller) Disable(slice int) error {
	if !IsSlice(slice) {
		return ErrInvalidSlice
	}
	if err := c.reg.Clear(hal.KindPWMSlice, slice); err != nil {
		return ErrAlreadyDisabled
	}
	c.hw.SetEnabled(slice, false)
	return nil
}

func (c *Controller) Enabled(slice int) bool { return c.reg.IsMarked(hal.KindPWMSlice, slice) }

func (c *Controller) EnablePin(pin int) error {
	s, _, err := checkPin(pin)
	if err != nil {
		return err
	}
	return c.Enable(s)
}

func (c *Controller) DisablePin(pin int) error {
	s, _, err := checkPin(pin)
	if err != nil {
		return err
	}
	return c.Disable(s)
}

func (c *Controller) PinEnabled(pin int) bool {
	return hal.IsPin(pin) && c.Enabled(SliceOf(pin))
}

// ---- phase correct ----

func (c *Controller) EnablePhaseCorrect(slice int) error {
	if !IsSlice(slice) {
		return ErrInvalidSlice
	}
	if err := c.reg.Mark(hal.KindPWMPhase, slice); err != nil {
		return ErrPhaseCorrectEnabled
	}
	c.hw.SetPhaseCorrect(slice, true)
	return nil
}

func (c *Controller) DisablePhaseCorrect(slice int) error {
	if !IsSlice(slice) {
		return ErrInvalidSlice
	}
	if err := c.reg.Clear(hal.KindPWMPhase, slice); err != nil {
		return ErrPhaseCorrectDisabled
	}
	c.hw.SetPhaseCorrect(slice, false)
	return nil
}

func (c *Controller) PhaseCorrect(slice int) bool { return c.reg.IsMarked(hal.KindPWMPhase, slice) }

func (c *Controller) EnablePinPhaseCorrect(pin int) error {
	s, _, err := checkPin(pin)
	if err != nil {
		return err
	}
	return c.EnablePhaseCorrect(s)
}

func (c *Controller) DisablePinPhaseCorrect(pin int) error {
	s, _, err := checkPin(pin)
	if err != nil {
		return err
	}
	return c.DisablePhaseCorrect(s)
}

// ---- wrap ----

func (c *Controller) SetWrap(slice int, wrap uint16) error {
	if !IsSlice(slice) {
		return ErrInvalidSlice
	}
	c.mu.Lock()
	c.setWrap(slice, wrap)
	c.mu.Unlock()
	return nil
}

// caller holds c.mu
func (c *Controller) setWrap(slice int, wrap uint16) {
	c.hw.SetWrap(slice, wrap)
	c.slices[slice].wrap = wrap
}

func (c *Controller) Wrap(slice int) (uint16, error) {
	if !IsSlice(slice) {
		return 0, ErrInvalidSlice
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slices[slice].wrap, nil
}

func (c *Controller) SetPinWrap(pin int, wrap uint16) error {
	s, _, err := checkPin(pin)
	if err != nil {
		return err
	}
	return c.SetWrap(s, wrap)
}

func (c *Controller) PinWrap(pin int) (uint16, error) {
	s, _, err := checkPin(pin)
	if err != nil {
		return 0, err
	}
	return c.Wrap(s)
}

// ---- clock divisor ----

// SetClockDivisor sets the slice divider to integer + frac/16.
func (c *Controller) SetClockDivisor(slice int, integer, frac uint8) error {
	if !IsSlice(slice) {
		return ErrInvalidSlice
	}
	if integer == 0 {
		return ErrInvalidDivisorInt
	}
	if frac > maxDivFrac {
		return ErrInvalidDivisorFrac
	}
	c.mu.Lock()
	c.setDivisor(slice, integer, frac)
	c.mu.Unlock()
	return nil
}

// caller holds c.mu
func (c *Controller) setDivisor(slice int, integer, frac uint8) {
	c.hw.SetClockDivisor(slice, integer, frac)
	c.slices[slice].divInt = integer
	c.slices[slice].divFrac = frac
}

func (c *Controller) ClockDivisor(slice int) (integer, frac uint8, err error) {
	if !IsSlice(slice) {
		return 0, 0, ErrInvalidSlice
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slices[slice].divInt, c.slices[slice].divFrac, nil
}

func (c *Controller) SetPinClockDivisor(pin int, integer, frac uint8) error {
	s, _, err := checkPin(pin)
	if err != nil {
		return err
	}
	return c.SetClockDivisor(s, integer, frac)
}

func (c *Controller) PinClockDivisor(pin int) (integer, frac uint8, err error) {
	s, _, err := checkPin(pin)
	if err != nil {
		return 0, 0, err
	}
	return c.ClockDivisor(s)
}

// ---- frequency ----

// Divider computes the 4.4 fixed-point divider and wrap for freq on a clock
// of clockHz. It fails when freq is zero, above clockHz, or too low for an
// 8-bit integer divider.
func Divider(clockHz, freq uint32) (integer, frac uint8, wrap uint16, err error) {
	if freq == 0 || freq > clockHz {
		return 0, 0, 0, ErrInvalidFrequency
	}
	clk := uint64(clockHz)
	div16 := mathx.CeilDiv(clk, uint64(freq)*4096)
	if div16/16 == 0 {
		div16 = 16
	}
	if div16/16 > maxDivInt {
		return 0, 0, 0, ErrInvalidFrequency
	}
	w := clk*16/div16/uint64(freq) - 1
	return uint8(div16 / 16), uint8(div16 & 0x0F), uint16(mathx.Min(w, DefaultWrap)), nil
}

// SetFrequency programs divider and wrap for freq and returns the wrap.
// Phase-correct slices count up and down, so run from half the clock.
func (c *Controller) SetFrequency(slice int, freq uint32) (uint16, error) {
	if !IsSlice(slice) {
		return 0, ErrInvalidSlice
	}
	clock := uint32(ClockHz)
	if c.PhaseCorrect(slice) {
		clock /= 2
	}
	integer, frac, wrap, err := Divider(clock, freq)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.setDivisor(slice, integer, frac)
	c.setWrap(slice, wrap)
	c.mu.Unlock()
	return wrap, nil
}

func (c *Controller) SetPinFrequency(pin int, freq uint32) (uint16, error) {
	s, _, err := checkPin(pin)
	if err != nil {
		return 0, err
	}
	return c.SetFrequency(s, freq)
}

// Frequency is the output frequency the slice settings produce.
func (c *Controller) Frequency(slice int) (uint32, error) {
	if !IsSlice(slice) {
		return 0, ErrInvalidSlice
	}
	c.mu.Lock()
	st := c.slices[slice]
	c.mu.Unlock()
	clock := uint64(ClockHz) * 16
	if c.PhaseCorrect(slice) {
		clock /= 2
	}
	div16 := uint64(st.divInt)*16 + uint64(st.divFrac)
	return uint32(clock / div16 / (uint64(st.wrap) + 1)), nil
}

// Period is 1/Frequency.
func (c *Controller) Period(slice int) (time.Duration, error) {
	f, err := c.Frequency(slice)
	if err != nil {
		return 0, err
	}
	return timex.Period(f), nil
}

// ---- level / duty ----

func (c *Controller) SetLevel(slice, channel int, level uint16) error {
	if !IsSlice(slice) {
		return ErrInvalidSlice
	}
	if !IsChannel(channel) {
		return ErrInvalidChannel
	}
	c.stopRamp(slice*NumChannels + channel)
	c.mu.Lock()
	c.setLevel(slice, channel, level)
	c.mu.Unlock()
	return nil
}

// caller holds c.mu
func (c *Controller) setLevel(slice, channel int, level uint16) {
	c.hw.SetLevel(slice, channel, level)
	c.slices[slice].level[channel] = level
}

func (c *Controller) Level(slice, channel int) (uint16, error) {
	if !IsSlice(slice) {
		return 0, ErrInvalidSlice
	}
	if !IsChannel(channel) {
		return 0, ErrInvalidChannel
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slices[slice].level[channel], nil
}

func (c *Controller) SetPinLevel(pin int, level uint16) error {
	s, ch, err := checkPin(pin)
	if err != nil {
		return err
	}
	return c.SetLevel(s, ch, level)
}

func (c *Controller) PinLevel(pin int) (uint16, error) {
	s, ch, err := checkPin(pin)
	if err != nil {
		return 0, err
	}
	return c.Level(s, ch)
}

// SetDuty sets the channel level to wrap*duty/100, duty in 0..100.
func (c *Controller) SetDuty(slice, channel int, duty uint8) error {
	if !IsSlice(slice) {
		return ErrInvalidSlice
	}
	if !IsChannel(channel) {
		return ErrInvalidChannel
	}
	if duty > 100 {
		return ErrInvalidDuty
	}
	c.mu.Lock()
	level := uint16(uint32(c.slices[slice].wrap) * uint32(duty) / 100)
	c.mu.Unlock()
	return c.SetLevel(slice, channel, level)
}

func (c *Controller) SetPinDuty(pin int, duty uint8) error {
	s, ch, err := checkPin(pin)
	if err != nil {
		return err
	}
	return c.SetDuty(s, ch, duty)
}
