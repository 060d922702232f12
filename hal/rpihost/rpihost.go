// Package rpihost drives the peripherals from a Raspberry Pi header using
// go-rpio's memory-mapped GPIO and SPI0.
package rpihost

import (
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"picoperiph/errcode"
	"picoperiph/hal"

	"tinygo.org/x/drivers"
)

// line is the part of rpio.Pin the adapter uses.
type line interface {
	Input()
	Output()
	Write(rpio.State)
	Read() rpio.State
	Pull(rpio.Pull)
}

type pin struct {
	l line
	n int

	mu  sync.Mutex
	out bool
}

// Pin adapts BCM GPIO n. Open must have succeeded first.
func Pin(n int) hal.Pin { return newPin(rpio.Pin(n), n) }

func newPin(l line, n int) *pin { return &pin{l: l, n: n} }

func (p *pin) ConfigureInput(pull hal.Pull) error {
	p.l.Input()
	switch pull {
	case hal.PullUp:
		p.l.Pull(rpio.PullUp)
	case hal.PullDown:
		p.l.Pull(rpio.PullDown)
	default:
		p.l.Pull(rpio.PullOff)
	}
	p.mu.Lock()
	p.out = false
	p.mu.Unlock()
	return nil
}

func (p *pin) ConfigureOutput(initial bool) error {
	p.l.Output()
	p.Set(initial)
	p.mu.Lock()
	p.out = true
	p.mu.Unlock()
	return nil
}

func (p *pin) Set(level bool) {
	if level {
		p.l.Write(rpio.High)
	} else {
		p.l.Write(rpio.Low)
	}
}

func (p *pin) Get() bool   { return p.l.Read() == rpio.High }
func (p *pin) Number() int { return p.n }

func (p *pin) IsOutput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out
}

// Pins hands out header GPIOs 0..27.
type Pins struct{}

func (Pins) ByNumber(n int) (hal.Pin, bool) {
	if n < 0 || n > 27 {
		return nil, false
	}
	return Pin(n), true
}

// exchange clocks buf out and overwrites it with what came back.
type exchange func(buf []byte)

type spi struct {
	xfer exchange

	mu  sync.Mutex
	buf []byte
}

func newSPI(x exchange) *spi { return &spi{xfer: x} }

func (s *spi) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	if n == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	}
	b := s.buf[:n]
	for i := range b {
		b[i] = 0
	}
	copy(b, w)
	s.xfer(b)
	copy(r, b)
	return nil
}

func (s *spi) Transfer(v byte) (byte, error) {
	b := []byte{v}
	s.xfer(b)
	return b[0], nil
}

// Open maps the GPIO registers. It needs /dev/gpiomem or root.
func Open() error {
	if err := rpio.Open(); err != nil {
		return errcode.Wrap("rpihost.Open", err)
	}
	return nil
}

// SPI starts SPI0 with chip select cs (0 or 1) at speed Hz in mode 0..3
// and returns it as a drivers.SPI. Open must have succeeded first.
func SPI(cs uint8, speed int, mode uint8) (drivers.SPI, error) {
	if mode > 3 || cs > 1 || speed <= 0 {
		return nil, errcode.InvalidParams
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		return nil, &errcode.E{C: errcode.BusInUse, Op: "rpihost.SPI", Err: err}
	}
	rpio.SpiSpeed(speed)
	rpio.SpiMode(mode>>1, mode&1)
	rpio.SpiChipSelect(cs)
	return newSPI(rpio.SpiExchange), nil
}

// Close ends SPI0 when SPI was called and unmaps GPIO.
func Close(spiStarted bool) error {
	if spiStarted {
		rpio.SpiEnd(rpio.Spi0)
	}
	return errcode.Wrap("rpihost.Close", rpio.Close())
}
