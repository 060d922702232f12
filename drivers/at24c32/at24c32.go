// Package at24c32 drives the AT24C32 4 KiB I2C EEPROM found on most DS1307
// breakout boards.
package at24c32

import (
	"errors"
	"io"
	"time"

	"picoperiph/errcode"

	"tinygo.org/x/drivers"
)

const (
	Size       = 4096
	PageSize   = 32
	NumPages   = Size / PageSize
	MaxAddress = Size - 1

	// Address is the base address; A2..A0 add 0..7.
	Address = 0x50

	// WriteCycle is the worst-case internal programming time per page.
	WriteCycle = 10 * time.Millisecond
)

var (
	ErrInvalidAddress = errors.New("at24c32: address out of range")
	ErrInvalidLength  = errors.New("at24c32: length out of range")
)

type Config struct {
	// Address defaults to 0x50 if zero.
	Address uint16
	// Sleep replaces time.Sleep for the write cycle delay.
	Sleep func(time.Duration)
}

type Device struct {
	bus     drivers.I2C
	Address uint16

	sleep func(time.Duration)
	buf   [2 + PageSize]byte
}

func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address, sleep: time.Sleep}
}

// Configure applies cfg and probes the chip with a one byte read of
// location 0.
func (d *Device) Configure(cfg Config) error {
	if cfg.Address != 0 {
		d.Address = cfg.Address
	}
	if cfg.Sleep != nil {
		d.sleep = cfg.Sleep
	}
	var b [1]byte
	return d.read("at24c32.Configure", 0, b[:])
}

func IsValidAddress(addr int) bool { return addr >= 0 && addr <= MaxAddress }

// Read fills buf starting at addr. Reads wrap at the end of the array the
// way the chip's address counter does, so the length is only bounded by Size.
func (d *Device) Read(addr int, buf []byte) error {
	if !IsValidAddress(addr) {
		return ErrInvalidAddress
	}
	if len(buf) < 1 || len(buf) > Size {
		return ErrInvalidLength
	}
	return d.read("at24c32.Read", addr, buf)
}

func (d *Device) read(op string, addr int, buf []byte) error {
	w := []byte{byte(addr >> 8), byte(addr)}
	return errcode.Wrap(op, d.bus.Tx(d.Address, w, buf))
}

// Write stores data at addr, splitting it at page boundaries and waiting
// out the write cycle after every page.
func (d *Device) Write(addr int, data []byte) error {
	if !IsValidAddress(addr) {
		return ErrInvalidAddress
	}
	if len(data) < 1 || len(data) > Size-addr {
		return ErrInvalidLength
	}
	for len(data) > 0 {
		n := PageSize - addr%PageSize
		if n > len(data) {
			n = len(data)
		}
		w := d.buf[:2+n]
		w[0], w[1] = byte(addr>>8), byte(addr)
		copy(w[2:], data[:n])
		if err := d.bus.Tx(d.Address, w, nil); err != nil {
			return errcode.Wrap("at24c32.Write", err)
		}
		d.sleep(WriteCycle)
		addr += n
		data = data[n:]
	}
	return nil
}

func (d *Device) ReadByte(addr int) (byte, error) {
	var b [1]byte
	err := d.Read(addr, b[:])
	return b[0], err
}

func (d *Device) WriteByte(addr int, v byte) error {
	return d.Write(addr, []byte{v})
}

// ReadAt implements io.ReaderAt. Reads past the end are truncated with io.EOF.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= Size {
		return 0, io.EOF
	}
	n := len(p)
	if rem := Size - int(off); n > rem {
		n = rem
	}
	if n == 0 {
		return 0, nil
	}
	if err := d.Read(int(off), p[:n]); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Writes past the end fail with io.ErrShortWrite.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= Size {
		return 0, ErrInvalidAddress
	}
	n := len(p)
	if rem := Size - int(off); n > rem {
		n = rem
	}
	if n == 0 {
		return 0, nil
	}
	if err := d.Write(int(off), p[:n]); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}
