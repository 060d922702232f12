// Package mcp49x2 drives the MCP4902, MCP4912 and MCP4922 dual SPI DACs.
//
// The chips are write-only. Each 16-bit command carries the channel, the
// reference buffer, output gain and shutdown bits plus a left-aligned value.
package mcp49x2

import (
	"errors"

	"picoperiph/hal"
	"picoperiph/spibus"
	"picoperiph/x/mathx"
)

type Model uint8

const (
	MCP4902 Model = iota // 8-bit
	MCP4912              // 10-bit
	MCP4922              // 12-bit
)

// Max returns the largest code the model accepts.
func (m Model) Max() uint16 {
	switch m {
	case MCP4902:
		return 0x00FF
	case MCP4912:
		return 0x03FF
	}
	return 0x0FFF
}

func (m Model) shift() uint {
	switch m {
	case MCP4902:
		return 4
	case MCP4912:
		return 2
	}
	return 0
}

type Channel uint8

const (
	A Channel = iota
	B
)

// Gain is the output amplifier gain.
type Gain uint8

const (
	Gain1x Gain = iota
	Gain2x
)

const (
	bitB    = 0x8000
	bitBuf  = 0x4000
	bitGA   = 0x2000 // set selects 1x
	bitSHDN = 0x1000 // set means the channel is active
)

var (
	ErrInvalidValue   = errors.New("mcp49x2: value out of range")
	ErrInvalidChannel = errors.New("mcp49x2: invalid channel")
	ErrNoLDAC         = errors.New("mcp49x2: LDAC pin not defined")
	ErrNoSHDN         = errors.New("mcp49x2: SHDN pin not defined")
)

type Config struct {
	Model Model
	// LDAC is optional. Without it the pin must be tied low and outputs
	// follow each write when chip select rises.
	LDAC hal.Pin
	// SHDN is the optional hardware shutdown pin, active low.
	SHDN hal.Pin
	// AutoLatch pulses LDAC after every write.
	AutoLatch bool
}

type channelState struct {
	value    uint16
	buffered bool
	gain     Gain
	active   bool
}

// Device is one DAC. The chip select lives in the spibus.Device; the bus
// may be a hardware port or a bitbang.SPI.
type Device struct {
	dev  *spibus.Device
	cfg  Config
	ch   [2]channelState
	word [2]byte
}

// New drives LDAC and SHDN high and leaves both channels active at zero.
// Nothing is written until the first Set call.
func New(dev *spibus.Device, cfg Config) (*Device, error) {
	if cfg.Model > MCP4922 {
		return nil, ErrInvalidValue
	}
	for _, p := range []hal.Pin{cfg.LDAC, cfg.SHDN} {
		if p == nil {
			continue
		}
		if err := p.ConfigureOutput(true); err != nil {
			return nil, err
		}
	}
	d := &Device{dev: dev, cfg: cfg}
	d.ch[A].active = true
	d.ch[B].active = true
	return d, nil
}

func (d *Device) Model() Model { return d.cfg.Model }

// Command returns the 16-bit word that would be sent for ch.
func (d *Device) Command(ch Channel) uint16 {
	if ch > B {
		return 0
	}
	s := d.ch[ch]
	w := s.value << d.cfg.Model.shift()
	if ch == B {
		w |= bitB
	}
	if s.buffered {
		w |= bitBuf
	}
	if s.gain == Gain1x {
		w |= bitGA
	}
	if s.active {
		w |= bitSHDN
	}
	return w
}

func (d *Device) write(ch Channel) error {
	w := d.Command(ch)
	d.word[0], d.word[1] = byte(w>>8), byte(w)
	if err := d.dev.Tx(d.word[:], nil); err != nil {
		return err
	}
	if d.cfg.AutoLatch && d.cfg.LDAC != nil {
		d.pulseLDAC()
	}
	return nil
}

func validChannel(ch Channel) error {
	if ch > B {
		return ErrInvalidChannel
	}
	return nil
}

func (d *Device) Value(ch Channel) uint16 {
	if ch > B {
		return 0
	}
	return d.ch[ch].value
}

func (d *Device) SetValue(ch Channel, v uint16) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	if v > d.cfg.Model.Max() {
		return ErrInvalidValue
	}
	d.ch[ch].value = v
	return d.write(ch)
}

// SetValues writes both channels, first then the other.
func (d *Device) SetValues(a, b uint16, first Channel) error {
	top := d.cfg.Model.Max()
	if a > top || b > top {
		return ErrInvalidValue
	}
	if err := validChannel(first); err != nil {
		return err
	}
	d.ch[A].value, d.ch[B].value = a, b
	if err := d.write(first); err != nil {
		return err
	}
	return d.write(first ^ 1)
}

// SetVoltage converts v to a code against vref and the channel gain, clamping
// to the output range.
func (d *Device) SetVoltage(ch Channel, v, vref float32) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	if vref <= 0 {
		return ErrInvalidValue
	}
	full := vref
	if d.ch[ch].gain == Gain2x {
		full *= 2
	}
	top := float32(d.cfg.Model.Max())
	code := mathx.Clamp(v/full*(top+1), 0, top)
	return d.SetValue(ch, uint16(code+0.5))
}

func (d *Device) SetGain(ch Channel, g Gain) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	if g > Gain2x {
		return ErrInvalidValue
	}
	d.ch[ch].gain = g
	return d.write(ch)
}

func (d *Device) SetBuffered(ch Channel, on bool) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	d.ch[ch].buffered = on
	return d.write(ch)
}

// Shutdown puts one channel's output into high impedance.
func (d *Device) Shutdown(ch Channel) error { return d.setActive(ch, false) }

func (d *Device) Activate(ch Channel) error { return d.setActive(ch, true) }

func (d *Device) setActive(ch Channel, on bool) error {
	if err := validChannel(ch); err != nil {
		return err
	}
	d.ch[ch].active = on
	return d.write(ch)
}

func (d *Device) Active(ch Channel) bool { return ch <= B && d.ch[ch].active }

// Latch pulses LDAC to transfer both input registers to the outputs.
func (d *Device) Latch() error {
	if d.cfg.LDAC == nil {
		return ErrNoLDAC
	}
	d.pulseLDAC()
	return nil
}

func (d *Device) pulseLDAC() {
	d.cfg.LDAC.Set(false)
	d.cfg.LDAC.Set(true)
}

// ShutdownAll drives the SHDN pin. Releasing it rewrites both channels so
// the outputs come back with the cached settings.
func (d *Device) ShutdownAll(shutdown bool) error {
	if d.cfg.SHDN == nil {
		return ErrNoSHDN
	}
	d.cfg.SHDN.Set(!shutdown)
	if shutdown {
		return nil
	}
	if err := d.write(A); err != nil {
		return err
	}
	return d.write(B)
}
