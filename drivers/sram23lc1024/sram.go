// Package sram23lc1024 drives the Microchip 23LC1024/23A1024 128 KiB serial
// SRAM in SPI, SDI (dual) or SQI (quad) mode.
//
// SPI mode may use a hardware port or a bit-banged bus. SDI and SQI are
// always bit-banged over SIO0..SIO3, where SIO0 is SI, SIO1 is SO and SIO3
// doubles as HOLD.
package sram23lc1024

import (
	"errors"
	"time"

	"picoperiph/bitbang"
	"picoperiph/errcode"
	"picoperiph/hal"

	"tinygo.org/x/drivers"
)

const (
	Size       = 0x20000
	MaxAddress = Size - 1
	PageSize   = 32
)

const (
	cmdRead  = 0x03
	cmdWrite = 0x02
	cmdEDIO  = 0x3B
	cmdEQIO  = 0x38
	cmdRSTIO = 0xFF
	cmdRDMR  = 0x05
	cmdWRMR  = 0x01
)

// Mode is the operating mode register.
type Mode uint8

const (
	ModeByte Mode = 0x00
	ModePage Mode = 0x80
	ModeSeq  Mode = 0x40
)

func (m Mode) valid() bool { return m == ModeByte || m == ModePage || m == ModeSeq }

// Comms is the serial interface width.
type Comms uint8

const (
	SPI Comms = iota
	SDI
	SQI
)

// State bits reported by Status.
const (
	StateMask    = 0x03
	StateIdle    = 0x00
	StateReading = 0x01
	StateWriting = 0x02
	StateHeld    = 0x04
)

var (
	ErrHeld           = errors.New("sram23lc1024: device is held")
	ErrInvalidAddress = errors.New("sram23lc1024: address out of range")
	ErrBusy           = errors.New("sram23lc1024: transfer in progress")
	ErrIdle           = errors.New("sram23lc1024: no transfer in progress")
	ErrHoldNotDefined = errors.New("sram23lc1024: hold pin not defined")
	ErrSIO2NotDefined = errors.New("sram23lc1024: SIO2 pin not defined")
	ErrNotHeld        = errors.New("sram23lc1024: device is not held")
	ErrNotReading     = errors.New("sram23lc1024: not reading")
	ErrNotWriting     = errors.New("sram23lc1024: not writing")
	ErrInvalidMode    = errors.New("sram23lc1024: invalid mode")
	ErrNoPins         = errors.New("sram23lc1024: bit-banged comms need SCK, SI and SO")
)

// ErrCommsCheck is returned by Initialize when the mode register does not
// read back what was written.
var ErrCommsCheck = &errcode.E{C: errcode.CommsCheck, Op: "sram23lc1024.Initialize"}

type Config struct {
	Comms Comms
	// Bus is a hardware SPI port used in SPI mode. Nil bit-bangs over the
	// pins below.
	Bus drivers.SPI
	CS  hal.Pin

	SCK  hal.Pin
	SI   hal.Pin // SIO0
	SO   hal.Pin // SIO1
	SIO2 hal.Pin
	Hold hal.Pin // SIO3

	// Delay is the bit-bang half period. Default 1 µs.
	Delay time.Duration
	Sleep func(time.Duration)
}

type stream interface {
	Write(b []byte) error
	Read(b []byte) error
}

type spiStream struct{ bus drivers.SPI }

func (s spiStream) Write(b []byte) error { return s.bus.Tx(b, nil) }
func (s spiStream) Read(b []byte) error  { return s.bus.Tx(nil, b) }

type Device struct {
	cfg  Config
	link stream
	wide *bitbang.Wide

	state uint8
	next  int
	last  int
	hdr   [5]byte
}

func New(cfg Config) *Device {
	return &Device{cfg: cfg, next: -1, last: -1}
}

func (d *Device) Comms() Comms { return d.cfg.Comms }

func (d *Device) bitBanged() bool { return d.cfg.Bus == nil }

func (d *Device) checkPins() error {
	if d.cfg.CS == nil {
		return errcode.InvalidPin
	}
	if d.cfg.Comms > SQI {
		return ErrInvalidMode
	}
	if d.bitBanged() || d.cfg.Comms != SPI {
		if d.cfg.SCK == nil || d.cfg.SI == nil || d.cfg.SO == nil {
			return ErrNoPins
		}
	}
	if d.cfg.Comms == SQI {
		if d.cfg.SIO2 == nil {
			return ErrSIO2NotDefined
		}
		if d.cfg.Hold == nil {
			return ErrHoldNotDefined
		}
	}
	return nil
}

func (d *Device) bitbangCfg() bitbang.Config {
	return bitbang.Config{Delay: d.cfg.Delay, Sleep: d.cfg.Sleep}
}

// Initialize configures the pins, forces the chip back to SPI, switches to
// the requested interface and verifies it by round-tripping the mode
// register. The chip is left in sequential mode.
func (d *Device) Initialize() error {
	if err := d.checkPins(); err != nil {
		return err
	}
	if err := d.cfg.CS.ConfigureOutput(true); err != nil {
		return err
	}
	for _, p := range []hal.Pin{d.cfg.Hold, d.cfg.SIO2} {
		if p == nil {
			continue
		}
		if err := p.ConfigureOutput(true); err != nil {
			return err
		}
	}
	d.state = StateIdle
	d.next, d.last = -1, -1

	if err := d.resetComms(); err != nil {
		return err
	}

	var spi drivers.SPI = d.cfg.Bus
	if d.bitBanged() || d.cfg.Comms != SPI {
		bb, err := bitbang.New(d.cfg.SCK, d.cfg.SO, d.cfg.SI, d.bitbangCfg())
		if err != nil {
			return err
		}
		spi = bb
	}
	d.link = spiStream{bus: spi}
	d.wide = nil

	switch d.cfg.Comms {
	case SDI:
		if err := d.frame([]byte{cmdEDIO}); err != nil {
			return err
		}
		w, err := bitbang.NewWide(d.cfg.SCK, []hal.Pin{d.cfg.SI, d.cfg.SO}, d.bitbangCfg())
		if err != nil {
			return err
		}
		d.wide, d.link = w, w
	case SQI:
		if err := d.frame([]byte{cmdEQIO}); err != nil {
			return err
		}
		w, err := bitbang.NewWide(d.cfg.SCK, []hal.Pin{d.cfg.SI, d.cfg.SO, d.cfg.SIO2, d.cfg.Hold}, d.bitbangCfg())
		if err != nil {
			return err
		}
		d.wide, d.link = w, w
	}
	return d.verify()
}

// resetComms sends RSTIO in every width so a chip left in SDI or SQI by an
// earlier run returns to SPI.
func (d *Device) resetComms() error {
	if !d.bitBanged() && d.cfg.Comms == SPI {
		d.cfg.CS.Set(false)
		_, err := d.cfg.Bus.Transfer(cmdRSTIO)
		d.cfg.CS.Set(true)
		return errcode.Wrap("sram23lc1024.reset", err)
	}
	if err := d.cfg.SCK.ConfigureOutput(false); err != nil {
		return err
	}
	for _, p := range []hal.Pin{d.cfg.SI, d.cfg.SO, d.cfg.SIO2, d.cfg.Hold} {
		if p == nil {
			continue
		}
		if err := p.ConfigureOutput(true); err != nil {
			return err
		}
	}
	delay := d.cfg.Delay
	if delay <= 0 {
		delay = time.Microsecond
	}
	sleep := hal.SleepOr(d.cfg.Sleep)
	// Two clocks is one SQI byte, four one SDI byte.
	for _, n := range []int{2, 4} {
		d.cfg.CS.Set(false)
		for i := 0; i < n; i++ {
			d.cfg.SCK.Set(true)
			sleep(delay)
			d.cfg.SCK.Set(false)
			sleep(delay)
		}
		d.cfg.CS.Set(true)
	}
	return d.cfg.SO.ConfigureInput(hal.PullNone)
}

func (d *Device) frame(w []byte) error {
	d.cfg.CS.Set(false)
	err := d.link.Write(w)
	d.cfg.CS.Set(true)
	return err
}

func (d *Device) verify() error {
	m, err := d.ReadMode()
	if err != nil {
		return err
	}
	if !m.valid() {
		return ErrCommsCheck
	}
	want := ModeSeq
	if m == ModeSeq {
		want = ModePage
	}
	if err := d.WriteMode(want); err != nil {
		return err
	}
	if m, err = d.ReadMode(); err != nil {
		return err
	}
	if m != want {
		return ErrCommsCheck
	}
	if want != ModeSeq {
		return d.WriteMode(ModeSeq)
	}
	return nil
}

func (d *Device) ReadMode() (Mode, error) {
	if d.link == nil {
		return 0, errcode.NotInitialized
	}
	if d.state&StateMask != StateIdle {
		return 0, ErrBusy
	}
	var b [1]byte
	d.cfg.CS.Set(false)
	err := d.link.Write([]byte{cmdRDMR})
	if err == nil {
		err = d.link.Read(b[:])
	}
	d.cfg.CS.Set(true)
	if err != nil {
		return 0, errcode.Wrap("sram23lc1024.ReadMode", err)
	}
	return Mode(b[0]), nil
}

func (d *Device) WriteMode(m Mode) error {
	if !m.valid() {
		return ErrInvalidMode
	}
	if d.link == nil {
		return errcode.NotInitialized
	}
	if d.state&StateMask != StateIdle {
		return ErrBusy
	}
	return errcode.Wrap("sram23lc1024.WriteMode", d.frame([]byte{cmdWRMR, byte(m)}))
}

func IsValidAddress(addr int) bool { return addr >= 0 && addr <= MaxAddress }

func (d *Device) Status() uint8    { return d.state }
func (d *Device) Idle() bool       { return d.state&StateMask == StateIdle }
func (d *Device) Reading() bool    { return d.state&StateMask == StateReading }
func (d *Device) Writing() bool    { return d.state&StateMask == StateWriting }
func (d *Device) Held() bool       { return d.state&StateHeld != 0 }
func (d *Device) NextAddress() int { return d.next }

// LastAddress is the address of the most recent byte moved, or -1.
func (d *Device) LastAddress() int { return d.last }

func (d *Device) setState(s uint8) { d.state = d.state&^StateMask | s }

func (d *Device) start(cmd byte, addr int, state uint8) error {
	if !IsValidAddress(addr) {
		return ErrInvalidAddress
	}
	if d.Held() {
		return ErrHeld
	}
	if !d.Idle() {
		return ErrBusy
	}
	if d.link == nil {
		return errcode.NotInitialized
	}
	h := d.hdr[:4]
	h[0], h[1], h[2], h[3] = cmd, byte(addr>>16), byte(addr>>8), byte(addr)
	// SDI and SQI reads have one dummy byte before data.
	if cmd == cmdRead && d.cfg.Comms != SPI {
		h = d.hdr[:5]
		h[4] = 0
	}
	d.cfg.CS.Set(false)
	if err := d.link.Write(h); err != nil {
		d.cfg.CS.Set(true)
		return errcode.Wrap("sram23lc1024.start", err)
	}
	d.next = addr
	d.setState(state)
	return nil
}

func (d *Device) StartRead(addr int) error  { return d.start(cmdRead, addr, StateReading) }
func (d *Device) StartWrite(addr int) error { return d.start(cmdWrite, addr, StateWriting) }

func (d *Device) advance(n int) {
	if n == 0 {
		return
	}
	d.last = (d.next + n - 1) % Size
	d.next = (d.next + n) % Size
}

func (d *Device) Read(buf []byte) error {
	if d.Idle() {
		return ErrIdle
	}
	if d.Held() {
		return ErrHeld
	}
	if !d.Reading() {
		return ErrNotReading
	}
	if err := d.link.Read(buf); err != nil {
		return errcode.Wrap("sram23lc1024.Read", err)
	}
	d.advance(len(buf))
	return nil
}

func (d *Device) ReadByte() (byte, error) {
	var b [1]byte
	err := d.Read(b[:])
	return b[0], err
}

func (d *Device) Write(data []byte) error {
	if d.Idle() {
		return ErrIdle
	}
	if d.Held() {
		return ErrHeld
	}
	if !d.Writing() {
		return ErrNotWriting
	}
	if err := d.link.Write(data); err != nil {
		return errcode.Wrap("sram23lc1024.Write", err)
	}
	d.advance(len(data))
	return nil
}

func (d *Device) WriteByte(b byte) error { return d.Write([]byte{b}) }

// Stop deselects the chip and ends the transfer.
func (d *Device) Stop() error {
	if d.Idle() {
		return ErrIdle
	}
	if d.Held() {
		return ErrHeld
	}
	d.cfg.CS.Set(true)
	if d.wide != nil {
		if err := d.wide.Release(); err != nil {
			return err
		}
	}
	d.setState(StateIdle)
	return nil
}

// Hold pauses a transfer. HOLD is a data line in SQI mode so it is refused.
func (d *Device) Hold() error {
	if d.cfg.Hold == nil {
		return ErrHoldNotDefined
	}
	if d.cfg.Comms == SQI {
		return ErrInvalidMode
	}
	if d.Held() {
		return ErrHeld
	}
	if d.Idle() {
		return ErrIdle
	}
	d.cfg.Hold.Set(false)
	d.state |= StateHeld
	return nil
}

func (d *Device) Unhold() error {
	if d.cfg.Hold == nil {
		return ErrHoldNotDefined
	}
	if !d.Held() {
		return ErrNotHeld
	}
	if d.Idle() {
		return ErrIdle
	}
	d.cfg.Hold.Set(true)
	d.state &^= StateHeld
	return nil
}

// ReadAt reads len(p) bytes from off in one frame, wrapping at the end of
// the array.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > MaxAddress {
		return 0, ErrInvalidAddress
	}
	if err := d.StartRead(int(off)); err != nil {
		return 0, err
	}
	err := d.Read(p)
	if serr := d.Stop(); err == nil {
		err = serr
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > MaxAddress {
		return 0, ErrInvalidAddress
	}
	if err := d.StartWrite(int(off)); err != nil {
		return 0, err
	}
	err := d.Write(p)
	if serr := d.Stop(); err == nil {
		err = serr
	}
	if err != nil {
		return 0, err
	}
	return len(p), nil
}
