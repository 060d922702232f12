// Package eeprom25xx640a drives the 25AA640A/25LC640A 8 KiB SPI EEPROM.
//
// Reads and writes are streamed: StartRead or StartWrite opens a frame,
// Read and Write move bytes and Stop closes it. Writes that cross a 32 byte
// page are split transparently.
package eeprom25xx640a

import (
	"errors"
	"time"

	"picoperiph/errcode"
	"picoperiph/hal"
	"picoperiph/spibus"
)

const (
	Size       = 8192
	MaxAddress = Size - 1
	PageSize   = 32

	WriteCycle = 5 * time.Millisecond
)

const (
	cmdRead  = 0x03
	cmdWrite = 0x02
	cmdWRDI  = 0x04
	cmdWREN  = 0x06
	cmdRDSR  = 0x05
	cmdWRSR  = 0x01
)

// Status register bits.
const (
	StatusWPEN = 0x80
	StatusBP   = 0x0C
	StatusWEL  = 0x02
	StatusWIP  = 0x01
)

// Block is the BP1:BP0 array protection setting.
type Block uint8

const (
	ProtectNone Block = iota
	ProtectUpperQuarter
	ProtectUpperHalf
	ProtectAll
)

const (
	upperQuarter = 0x1800
	upperHalf    = 0x1000
)

// Driver state bits.
const (
	stateRW    = 0x03
	stateIdle  = 0x00
	stateRead  = 0x01
	stateWrite = 0x02
	stateHeld  = 0x04
	stateWP    = 0x08
)

var (
	ErrInvalidAddress    = errors.New("eeprom25xx640a: address out of range")
	ErrInvalidBlock      = errors.New("eeprom25xx640a: invalid block protect value")
	ErrHeld              = errors.New("eeprom25xx640a: device is held")
	ErrBusy              = errors.New("eeprom25xx640a: transfer in progress")
	ErrIdle              = errors.New("eeprom25xx640a: no transfer in progress")
	ErrHoldNotDefined    = errors.New("eeprom25xx640a: hold pin not defined")
	ErrNotHeld           = errors.New("eeprom25xx640a: device is not held")
	ErrNotReading        = errors.New("eeprom25xx640a: not reading")
	ErrNotWriting        = errors.New("eeprom25xx640a: not writing")
	ErrWriteProtected    = errors.New("eeprom25xx640a: address is write protected")
	ErrNotWriteProtected = errors.New("eeprom25xx640a: write protect not set")
)

// SPIClockForVCC returns the fastest clock the part supports at vcc.
func SPIClockForVCC(vcc float32) uint32 {
	switch {
	case vcc >= 4.5:
		return 10_000_000
	case vcc >= 2.5:
		return 5_000_000
	}
	return 3_000_000
}

type Config struct {
	// Hold and WP are optional, both active low.
	Hold hal.Pin
	WP   hal.Pin
	// Timeout bounds WaitReady. Zero uses 50 ms.
	Timeout time.Duration
	Sleep   func(time.Duration)
}

type Device struct {
	dev   *spibus.Device
	hold  hal.Pin
	wp    hal.Pin
	sleep func(time.Duration)
	wait  time.Duration

	state uint8
	addr  int
	block Block
	one   [1]byte
	cmd   [3]byte
}

func New(dev *spibus.Device, cfg Config) *Device {
	d := &Device{
		dev:   dev,
		hold:  cfg.Hold,
		wp:    cfg.WP,
		sleep: hal.SleepOr(cfg.Sleep),
		wait:  cfg.Timeout,
	}
	if d.wait <= 0 {
		d.wait = 50 * time.Millisecond
	}
	return d
}

// Initialize drives HOLD and WP high and loads the block protect bits from
// the status register.
func (d *Device) Initialize() error {
	for _, p := range []hal.Pin{d.hold, d.wp} {
		if p == nil {
			continue
		}
		if err := p.ConfigureOutput(true); err != nil {
			return err
		}
	}
	d.dev.Deselect()
	s, err := d.ReadStatus()
	if err != nil {
		return err
	}
	d.block = Block(s & StatusBP >> 2)
	if s&StatusWPEN != 0 {
		d.state |= stateWP
		if d.wp != nil {
			d.wp.Set(false)
		}
	}
	return nil
}

// IsWriteProtected reports whether WPEN is set, as read at Initialize or
// changed through SetWriteProtect.
func (d *Device) IsWriteProtected() bool { return d.state&stateWP != 0 }

func IsValidAddress(addr int) bool { return addr >= 0 && addr <= MaxAddress }

// IsProtected reports whether the block protect setting covers addr.
// Addresses outside the array count as protected.
func (d *Device) IsProtected(addr int) bool {
	if !IsValidAddress(addr) {
		return true
	}
	switch d.block {
	case ProtectAll:
		return true
	case ProtectUpperHalf:
		return addr >= upperHalf
	case ProtectUpperQuarter:
		return addr >= upperQuarter
	}
	return false
}

func (d *Device) idle() bool    { return d.state&stateRW == stateIdle }
func (d *Device) reading() bool { return d.state&stateRW == stateRead }
func (d *Device) writing() bool { return d.state&stateRW == stateWrite }
func (d *Device) held() bool    { return d.state&stateHeld != 0 }

func (d *Device) setRW(v uint8) { d.state = d.state&^stateRW | v }

// NextAddress is the address the next streamed byte will use.
func (d *Device) NextAddress() int { return d.addr }

func (d *Device) incAddress() {
	d.addr++
	if d.addr > MaxAddress {
		d.addr = 0
	}
}

func (d *Device) command(c byte) error {
	d.one[0] = c
	return errcode.Wrap("eeprom25xx640a.command", d.dev.Tx(d.one[:], nil))
}

func (d *Device) ReadStatus() (uint8, error) {
	var s [1]byte
	if err := d.dev.WriteRead([]byte{cmdRDSR}, s[:]); err != nil {
		return 0, errcode.Wrap("eeprom25xx640a.ReadStatus", err)
	}
	return s[0], nil
}

// WriteStatus sets the latch and writes the status register, then waits for
// the write cycle.
func (d *Device) WriteStatus(v uint8) error {
	if !d.idle() {
		return ErrBusy
	}
	if err := d.WriteEnable(); err != nil {
		return err
	}
	if err := d.dev.Tx([]byte{cmdWRSR, v}, nil); err != nil {
		return errcode.Wrap("eeprom25xx640a.WriteStatus", err)
	}
	return d.WaitReady()
}

func (d *Device) WriteEnable() error  { return d.command(cmdWREN) }
func (d *Device) WriteDisable() error { return d.command(cmdWRDI) }

// WaitReady polls WIP until the internal write cycle ends.
func (d *Device) WaitReady() error {
	const poll = 500 * time.Microsecond
	for waited := time.Duration(0); ; waited += poll {
		s, err := d.ReadStatus()
		if err != nil {
			return err
		}
		if s&StatusWIP == 0 {
			return nil
		}
		if waited >= d.wait {
			return &errcode.E{C: errcode.Timeout, Op: "eeprom25xx640a.WaitReady"}
		}
		d.sleep(poll)
	}
}

func (d *Device) BlockProtect() Block { return d.block }

func (d *Device) SetBlockProtect(b Block) error {
	if b > ProtectAll {
		return ErrInvalidBlock
	}
	if !d.idle() {
		return ErrBusy
	}
	if d.state&stateWP != 0 {
		return ErrWriteProtected
	}
	s, err := d.ReadStatus()
	if err != nil {
		return err
	}
	if err := d.WriteStatus(s&^StatusBP | uint8(b)<<2); err != nil {
		return err
	}
	d.block = b
	return nil
}

// SetWriteProtect sets WPEN and pulls WP low, locking the status register.
// Clearing releases the pin first so the status register can be written.
func (d *Device) SetWriteProtect(on bool) error {
	if !d.idle() {
		return ErrBusy
	}
	wp := d.state&stateWP != 0
	if on && wp {
		return ErrWriteProtected
	}
	if !on && !wp {
		return ErrNotWriteProtected
	}
	if !on && d.wp != nil {
		d.wp.Set(true)
	}
	s, err := d.ReadStatus()
	if err != nil {
		return err
	}
	if on {
		s |= StatusWPEN
	} else {
		s &^= StatusWPEN
	}
	if err := d.WriteStatus(s); err != nil {
		return err
	}
	if on {
		if d.wp != nil {
			d.wp.Set(false)
		}
		d.state |= stateWP
	} else {
		d.state &^= stateWP
	}
	return nil
}

func (d *Device) open(c byte, addr int) error {
	d.cmd = [3]byte{c, byte(addr >> 8), byte(addr)}
	d.dev.Select()
	if err := d.dev.Bus().Tx(d.cmd[:], nil); err != nil {
		d.dev.Deselect()
		return errcode.Wrap("eeprom25xx640a.open", err)
	}
	d.addr = addr
	return nil
}

func (d *Device) StartRead(addr int) error {
	if !IsValidAddress(addr) {
		return ErrInvalidAddress
	}
	if !d.idle() {
		return ErrBusy
	}
	if d.held() {
		return ErrHeld
	}
	if err := d.open(cmdRead, addr); err != nil {
		return err
	}
	d.setRW(stateRead)
	return nil
}

// Read streams len(buf) bytes. The address wraps from 0x1FFF to 0.
func (d *Device) Read(buf []byte) error {
	if !d.reading() {
		return ErrNotReading
	}
	if d.held() {
		return ErrHeld
	}
	if err := d.dev.Bus().Tx(nil, buf); err != nil {
		return errcode.Wrap("eeprom25xx640a.Read", err)
	}
	d.addr = (d.addr + len(buf)) % Size
	return nil
}

func (d *Device) ReadByte() (byte, error) {
	var b [1]byte
	err := d.Read(b[:])
	return b[0], err
}

func (d *Device) StartWrite(addr int) error {
	if !IsValidAddress(addr) {
		return ErrInvalidAddress
	}
	if !d.idle() {
		return ErrBusy
	}
	if d.held() {
		return ErrHeld
	}
	if d.IsProtected(addr) {
		return ErrWriteProtected
	}
	if err := d.WriteEnable(); err != nil {
		return err
	}
	if err := d.open(cmdWrite, addr); err != nil {
		return err
	}
	d.setRW(stateWrite)
	return nil
}

// Write streams data, restarting the write at each page boundary.
func (d *Device) Write(data []byte) error {
	_, err := d.write(data)
	return err
}

// write returns how many bytes were clocked out before an error.
func (d *Device) write(data []byte) (int, error) {
	if !d.writing() {
		return 0, ErrNotWriting
	}
	if d.held() {
		return 0, ErrHeld
	}
	for i, b := range data {
		if err := d.writeByte(b); err != nil {
			return i, err
		}
	}
	return len(data), nil
}

func (d *Device) WriteByte(b byte) error { return d.Write([]byte{b}) }

func (d *Device) writeByte(b byte) error {
	if d.IsProtected(d.addr) {
		return ErrWriteProtected
	}
	d.one[0] = b
	if err := d.dev.Bus().Tx(d.one[:], nil); err != nil {
		return errcode.Wrap("eeprom25xx640a.Write", err)
	}
	last := d.addr%PageSize == PageSize-1
	d.incAddress()
	if !last {
		return nil
	}
	d.dev.Deselect()
	d.sleep(WriteCycle)
	if err := d.WriteEnable(); err != nil {
		return err
	}
	return d.open(cmdWrite, d.addr)
}

// Stop ends the current transfer. Ending a write waits out the write cycle.
func (d *Device) Stop() error {
	if d.idle() {
		return ErrIdle
	}
	if d.held() {
		return ErrHeld
	}
	d.dev.Deselect()
	if d.writing() {
		d.sleep(WriteCycle)
	}
	d.setRW(stateIdle)
	return nil
}

// Hold pauses a transfer without deselecting the chip.
func (d *Device) Hold() error {
	if d.hold == nil {
		return ErrHoldNotDefined
	}
	if d.held() {
		return ErrHeld
	}
	if d.idle() {
		return ErrIdle
	}
	d.hold.Set(false)
	d.state |= stateHeld
	return nil
}

func (d *Device) Unhold() error {
	if d.hold == nil {
		return ErrHoldNotDefined
	}
	if !d.held() {
		return ErrNotHeld
	}
	if d.idle() {
		return ErrIdle
	}
	d.hold.Set(true)
	d.state &^= stateHeld
	return nil
}

// ReadAt reads len(p) bytes from off in one frame.
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

// WriteAt writes p at off, waiting for the final write cycle. On error n
// counts the bytes already sent; Stop commits them.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > MaxAddress {
		return 0, ErrInvalidAddress
	}
	if err := d.StartWrite(int(off)); err != nil {
		return 0, err
	}
	n, err := d.write(p)
	if serr := d.Stop(); err == nil {
		err = serr
	}
	return n, err
}
