// Package sn74hc595 drives one or more chained 74HC595 serial-in,
// parallel-out shift registers from three GPIO pins.
//
// The driver keeps a shadow copy of every output so single bits can be
// changed without the caller tracking the rest of the chain.
package sn74hc595

import (
	"errors"
	"time"

	"picoperiph/bitbang"
	"picoperiph/hal"
)

var (
	ErrNoPins     = errors.New("sn74hc595: data, clock and latch pins required")
	ErrTooLong    = errors.New("sn74hc595: more bytes than registers in the chain")
	ErrInvalidBit = errors.New("sn74hc595: bit index out of range")
	ErrNoOE       = errors.New("sn74hc595: output enable pin not defined")
)

type Config struct {
	Data  hal.Pin // SER
	Clock hal.Pin // SRCLK
	Latch hal.Pin // RCLK
	// OE is the optional active-low output enable. Outputs start enabled.
	OE hal.Pin
	// Clear is the optional active-low SRCLR.
	Clear hal.Pin

	// Chain is the number of registers; default 1. Register 0 is the one
	// wired to Data.
	Chain int
	// Order selects whether bit 7 (MSBFirst) or bit 0 lands on QH.
	Order hal.BitOrder

	Delay time.Duration // after each clock edge, default none
	Sleep func(time.Duration)
}

type Device struct {
	cfg     Config
	shadow  []byte
	enabled bool
}

// New configures the pins with the clocks low and returns a device whose
// shadow is all zeros. The outputs are not written until the first Write,
// Flush or Clear.
func New(cfg Config) (*Device, error) {
	if cfg.Data == nil || cfg.Clock == nil || cfg.Latch == nil {
		return nil, ErrNoPins
	}
	if cfg.Chain <= 0 {
		cfg.Chain = 1
	}
	cfg.Sleep = hal.SleepOr(cfg.Sleep)
	for _, p := range []hal.Pin{cfg.Data, cfg.Clock, cfg.Latch} {
		if err := p.ConfigureOutput(false); err != nil {
			return nil, err
		}
	}
	if cfg.OE != nil {
		if err := cfg.OE.ConfigureOutput(false); err != nil {
			return nil, err
		}
	}
	if cfg.Clear != nil {
		if err := cfg.Clear.ConfigureOutput(true); err != nil {
			return nil, err
		}
	}
	return &Device{cfg: cfg, shadow: make([]byte, cfg.Chain), enabled: true}, nil
}

func (d *Device) Len() int { return len(d.shadow) }

func (d *Device) wait() {
	if d.cfg.Delay > 0 {
		d.cfg.Sleep(d.cfg.Delay)
	}
}

// Write replaces the first len(b) registers of the shadow, shifts the
// whole chain and latches it. b[0] is register 0.
func (d *Device) Write(b ...byte) error {
	if len(b) > len(d.shadow) {
		return ErrTooLong
	}
	copy(d.shadow, b)
	return d.Flush()
}

// Flush shifts the shadow into the chain and latches it. The farthest
// register goes first.
func (d *Device) Flush() error {
	for i := len(d.shadow) - 1; i >= 0; i-- {
		bitbang.ShiftOut(d.cfg.Data, d.cfg.Clock, d.cfg.Order, d.shadow[i], d.wait)
	}
	d.Latch()
	return nil
}

// Latch pulses RCLK, copying the shift stage to the outputs.
func (d *Device) Latch() {
	d.cfg.Latch.Set(true)
	d.wait()
	d.cfg.Latch.Set(false)
	d.wait()
}

// WriteBit sets output i, counting from bit 0 of register 0, and flushes.
func (d *Device) WriteBit(i int, v bool) error {
	if i < 0 || i >= 8*len(d.shadow) {
		return ErrInvalidBit
	}
	mask := byte(1) << uint(i%8)
	if v {
		d.shadow[i/8] |= mask
	} else {
		d.shadow[i/8] &^= mask
	}
	return d.Flush()
}

// Bit reports the shadow value of output i.
func (d *Device) Bit(i int) bool {
	if i < 0 || i >= 8*len(d.shadow) {
		return false
	}
	return d.shadow[i/8]&(1<<uint(i%8)) != 0
}

// Outputs returns a copy of the shadow.
func (d *Device) Outputs() []byte { return append([]byte(nil), d.shadow...) }

// Clear zeroes every output. With SRCLR wired the shift stage is cleared in
// one pulse; otherwise zeros are shifted through.
func (d *Device) Clear() error {
	for i := range d.shadow {
		d.shadow[i] = 0
	}
	if d.cfg.Clear == nil {
		return d.Flush()
	}
	d.cfg.Clear.Set(false)
	d.wait()
	d.cfg.Clear.Set(true)
	d.Latch()
	return nil
}

// Enable drives OE; off puts the outputs in high impedance.
func (d *Device) Enable(on bool) error {
	if d.cfg.OE == nil {
		return ErrNoOE
	}
	d.cfg.OE.Set(!on)
	d.enabled = on
	return nil
}

func (d *Device) Enabled() bool { return d.enabled }
