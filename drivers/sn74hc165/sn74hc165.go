// Package sn74hc165 reads one or more chained 74HC165 parallel-in,
// serial-out shift registers.
package sn74hc165

import (
	"errors"
	"time"

	"picoperiph/bitbang"
	"picoperiph/hal"
)

var (
	ErrNoPins           = errors.New("sn74hc165: load, clock and data pins required")
	ErrInhibitUndefined = errors.New("sn74hc165: clock inhibit pin not defined")
	ErrAlreadyEnabled   = errors.New("sn74hc165: clock already enabled")
	ErrAlreadyDisabled  = errors.New("sn74hc165: clock already disabled")
)

type Config struct {
	Load  hal.Pin // SH/LD, active low
	Clock hal.Pin // CLK
	Data  hal.Pin // QH of the register nearest the MCU
	// Inhibit is the optional CLK INH pin. High blocks the clock.
	Inhibit hal.Pin

	// Chain is the number of registers; default 1.
	Chain int
	// Order selects whether the first bit shifted out (input H) lands in
	// bit 7 (MSBFirst) or bit 0.
	Order hal.BitOrder

	Delay time.Duration // held after each edge, default 1 µs
	Sleep func(time.Duration)
}

type Device struct {
	cfg     Config
	enabled bool
}

// New configures CLK low, SH/LD high and the data line with a pull-up.
// The clock starts enabled.
func New(cfg Config) (*Device, error) {
	if cfg.Load == nil || cfg.Clock == nil || cfg.Data == nil {
		return nil, ErrNoPins
	}
	if cfg.Chain <= 0 {
		cfg.Chain = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Microsecond
	}
	cfg.Sleep = hal.SleepOr(cfg.Sleep)
	if err := cfg.Clock.ConfigureOutput(false); err != nil {
		return nil, err
	}
	if err := cfg.Load.ConfigureOutput(true); err != nil {
		return nil, err
	}
	if err := cfg.Data.ConfigureInput(hal.PullUp); err != nil {
		return nil, err
	}
	if cfg.Inhibit != nil {
		if err := cfg.Inhibit.ConfigureOutput(false); err != nil {
			return nil, err
		}
	}
	return &Device{cfg: cfg, enabled: true}, nil
}

func (d *Device) Len() int { return d.cfg.Chain }

func (d *Device) wait() { d.cfg.Sleep(d.cfg.Delay) }

// Load pulses SH/LD, capturing the parallel inputs. Input H of the first
// register is then on the data line.
func (d *Device) Load() {
	d.cfg.Load.Set(false)
	d.wait()
	d.cfg.Load.Set(true)
	d.wait()
}

// ReadBit samples the data line and clocks the next bit in.
func (d *Device) ReadBit() bool {
	v := d.cfg.Data.Get()
	d.cfg.Clock.Set(true)
	d.wait()
	d.cfg.Clock.Set(false)
	d.wait()
	return v
}

// ReadByte loads the inputs and returns the first register.
func (d *Device) ReadByte() (byte, error) {
	d.Load()
	return bitbang.ShiftIn(d.cfg.Data, d.cfg.Clock, d.cfg.Order, d.wait), nil
}

// Read loads the inputs and returns every register, nearest first.
func (d *Device) Read() ([]byte, error) {
	buf := make([]byte, d.cfg.Chain)
	return buf, d.ReadInto(buf)
}

// ReadInto is Read without the allocation. len(buf) registers are shifted.
func (d *Device) ReadInto(buf []byte) error {
	d.Load()
	for i := range buf {
		buf[i] = bitbang.ShiftIn(d.cfg.Data, d.cfg.Clock, d.cfg.Order, d.wait)
	}
	return nil
}

// SetEnable drives CLK INH low (on) or high.
func (d *Device) SetEnable(on bool) error {
	if d.cfg.Inhibit == nil {
		return ErrInhibitUndefined
	}
	switch {
	case on && d.enabled:
		return ErrAlreadyEnabled
	case !on && !d.enabled:
		return ErrAlreadyDisabled
	}
	d.cfg.Inhibit.Set(!on)
	d.enabled = on
	return nil
}

func (d *Device) Enabled() bool { return d.enabled }
