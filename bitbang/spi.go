// Package bitbang clocks serial protocols out of plain GPIO pins: a
// four-mode SPI master and the shift-in/shift-out primitives used by the
// shift register drivers.
package bitbang

import (
	"errors"
	"time"

	"picoperiph/hal"

	"tinygo.org/x/drivers"
)

// Mode is the SPI clock mode (CPOL<<1 | CPHA).
type Mode uint8

const (
	Mode0 Mode = iota // idle low, sample on rising edge
	Mode1             // idle low, sample on falling edge
	Mode2             // idle high, sample on falling edge
	Mode3             // idle high, sample on rising edge
)

func (m Mode) cpol() bool { return m&2 != 0 }
func (m Mode) cpha() bool { return m&1 != 0 }

var (
	ErrInvalidMode = errors.New("bitbang: invalid SPI mode")
	ErrNoClock     = errors.New("bitbang: clock pin required")
	ErrLength      = errors.New("bitbang: buffer length mismatch")
)

// Config for a bit-banged SPI master. Zero value is mode 0, MSB first, 1 µs
// half period.
type Config struct {
	Mode  Mode
	Order hal.BitOrder
	// Delay is held after each clock edge. Default 1 µs.
	Delay time.Duration
	// Sleep implements Delay. Default time.Sleep.
	Sleep func(time.Duration)
}

// SPI is a bit-banged SPI master. MISO or MOSI may be nil for
// write-only or read-only links.
type SPI struct {
	sck, miso, mosi hal.Pin

	mode  Mode
	order hal.BitOrder
	delay time.Duration
	sleep func(time.Duration)
}

var _ drivers.SPI = (*SPI)(nil)

// New configures the pins and parks the bus in its idle state.
func New(sck, miso, mosi hal.Pin, cfg Config) (*SPI, error) {
	if cfg.Mode > Mode3 {
		return nil, ErrInvalidMode
	}
	if sck == nil {
		return nil, ErrNoClock
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Microsecond
	}
	s := &SPI{
		sck:   sck,
		miso:  miso,
		mosi:  mosi,
		mode:  cfg.Mode,
		order: cfg.Order,
		delay: cfg.Delay,
		sleep: hal.SleepOr(cfg.Sleep),
	}
	if err := s.sck.ConfigureOutput(s.mode.cpol()); err != nil {
		return nil, err
	}
	if s.mosi != nil {
		if err := s.mosi.ConfigureOutput(false); err != nil {
			return nil, err
		}
	}
	if s.miso != nil {
		if err := s.miso.ConfigureInput(hal.PullNone); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *SPI) Mode() Mode              { return s.mode }
func (s *SPI) Order() hal.BitOrder     { return s.order }
func (s *SPI) SetOrder(o hal.BitOrder) { s.order = o }

// Idle returns SCK to its idle level.
func (s *SPI) Idle() { s.sck.Set(s.mode.cpol()) }

func (s *SPI) wait() {
	if s.delay > 0 {
		s.sleep(s.delay)
	}
}

func (s *SPI) bit(out bool) (in bool) {
	idle := s.mode.cpol()
	if !s.mode.cpha() {
		s.setMOSI(out)
		s.wait()
		s.sck.Set(!idle)
		in = s.getMISO()
		s.wait()
		s.sck.Set(idle)
		return in
	}
	s.sck.Set(!idle)
	s.setMOSI(out)
	s.wait()
	s.sck.Set(idle)
	in = s.getMISO()
	s.wait()
	return in
}

func (s *SPI) setMOSI(v bool) {
	if s.mosi != nil {
		s.mosi.Set(v)
	}
}

func (s *SPI) getMISO() bool {
	return s.miso != nil && s.miso.Get()
}

// Transfer clocks one byte out and returns the byte clocked in.
func (s *SPI) Transfer(b byte) (byte, error) {
	var in byte
	for i := 0; i < 8; i++ {
		mask := bitMask(s.order, i)
		if s.bit(b&mask != 0) {
			in |= mask
		}
	}
	return in, nil
}

// Tx follows the drivers.SPI contract: equal lengths are full duplex, a nil
// side is write-only or read-only (sending zeros).
func (s *SPI) Tx(w, r []byte) error {
	switch {
	case w != nil && r != nil && len(w) != len(r):
		return ErrLength
	case w == nil:
		for i := range r {
			r[i], _ = s.Transfer(0)
		}
	default:
		for i, b := range w {
			in, _ := s.Transfer(b)
			if r != nil {
				r[i] = in
			}
		}
	}
	return nil
}

func bitMask(order hal.BitOrder, i int) byte {
	if order == hal.LSBFirst {
		return 1 << uint(i)
	}
	return 0x80 >> uint(i)
}
