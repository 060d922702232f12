// Package periphhost runs the drivers on Linux hosts through periph.io:
// I2C and SPI buses become tinygo drivers.I2C / drivers.SPI and periph
// GPIO lines become hal.Pin.
package periphhost

import (
	"io"
	"strconv"
	"sync"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"picoperiph/errcode"
	"picoperiph/hal"

	"tinygo.org/x/drivers"
)

type i2cBus struct{ bus i2c.Bus }

// I2C adapts a periph bus. Transactions pass straight through.
func I2C(bus i2c.Bus) drivers.I2C { return i2cBus{bus: bus} }

func (b i2cBus) Tx(addr uint16, w, r []byte) error { return b.bus.Tx(addr, w, r) }

type spiConn struct {
	conn spi.Conn

	mu  sync.Mutex
	out []byte
	in  []byte
}

// SPI adapts a connected periph SPI conn. periph needs equal-length write
// and read buffers for full duplex, so short sides are padded with zeros.
func SPI(conn spi.Conn) drivers.SPI { return &spiConn{conn: conn} }

func (s *spiConn) Tx(w, r []byte) error {
	if r == nil {
		return s.conn.Tx(w, nil)
	}
	if len(w) == len(r) {
		return s.conn.Tx(w, r)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	s.out = grow(s.out, n)
	s.in = grow(s.in, n)
	copy(s.out, w)
	if err := s.conn.Tx(s.out, s.in); err != nil {
		return err
	}
	copy(r, s.in)
	return nil
}

func (s *spiConn) Transfer(b byte) (byte, error) {
	var w, r [1]byte
	w[0] = b
	err := s.conn.Tx(w[:], r[:])
	return r[0], err
}

// grow returns a zeroed slice of length n, reusing buf when it fits.
func grow(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

type pin struct {
	p gpio.PinIO

	mu  sync.Mutex
	out bool
}

// Pin adapts a periph GPIO line.
func Pin(p gpio.PinIO) hal.Pin { return &pin{p: p} }

func (p *pin) ConfigureInput(pull hal.Pull) error {
	pp := gpio.Float
	switch pull {
	case hal.PullUp:
		pp = gpio.PullUp
	case hal.PullDown:
		pp = gpio.PullDown
	}
	if err := p.p.In(pp, gpio.NoEdge); err != nil {
		return errcode.Wrap("periphhost.ConfigureInput", err)
	}
	p.mu.Lock()
	p.out = false
	p.mu.Unlock()
	return nil
}

func (p *pin) ConfigureOutput(initial bool) error {
	if err := p.p.Out(gpio.Level(initial)); err != nil {
		return errcode.Wrap("periphhost.ConfigureOutput", err)
	}
	p.mu.Lock()
	p.out = true
	p.mu.Unlock()
	return nil
}

func (p *pin) Set(level bool) { _ = p.p.Out(gpio.Level(level)) }
func (p *pin) Get() bool      { return p.p.Read() == gpio.High }
func (p *pin) Number() int    { return p.p.Number() }

func (p *pin) IsOutput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out
}

// Pins looks GPIO lines up by number in the periph registry.
type Pins struct{}

func (Pins) ByNumber(n int) (hal.Pin, bool) {
	p := gpioreg.ByName(strconv.Itoa(n))
	if p == nil {
		return nil, false
	}
	return Pin(p), true
}

// Host is what Open found. Unrequested buses are nil.
type Host struct {
	I2C  drivers.I2C
	SPI  drivers.SPI
	Pins hal.PinFactory

	closers []io.Closer
}

// Open initialises the periph drivers and opens the named buses. An empty
// name skips that bus; "default" picks the first one registered. SPI is
// connected in mode 0, 8 bits per word, at hz.
func Open(i2cName, spiName string, hz int64) (*Host, error) {
	if _, err := host.Init(); err != nil {
		return nil, errcode.Wrap("periphhost.Open", err)
	}
	h := &Host{Pins: Pins{}}
	if i2cName != "" {
		bus, err := i2creg.Open(regName(i2cName))
		if err != nil {
			return nil, &errcode.E{C: errcode.UnknownBus, Op: "periphhost.Open", Msg: i2cName, Err: err}
		}
		h.closers = append(h.closers, bus)
		h.I2C = I2C(bus)
	}
	if spiName != "" {
		port, err := spireg.Open(regName(spiName))
		if err != nil {
			h.Close()
			return nil, &errcode.E{C: errcode.UnknownBus, Op: "periphhost.Open", Msg: spiName, Err: err}
		}
		h.closers = append(h.closers, port)
		conn, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
		if err != nil {
			h.Close()
			return nil, errcode.Wrap("periphhost.Open", err)
		}
		h.SPI = SPI(conn)
	}
	return h, nil
}

func regName(s string) string {
	if s == "default" {
		return ""
	}
	return s
}

// Close releases every bus Open opened and returns the first error.
func (h *Host) Close() error {
	var first error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	h.closers = nil
	return first
}
