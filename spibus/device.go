package spibus

import (
	"math/bits"
	"sync"

	"picoperiph/hal"

	"tinygo.org/x/drivers"
)

// LSBFirst wraps bus so bytes go out and come back least significant bit
// first on a controller that only shifts MSB first.
func LSBFirst(bus drivers.SPI) drivers.SPI { return &lsbFirst{bus: bus} }

type lsbFirst struct {
	bus drivers.SPI
	mu  sync.Mutex
	buf []byte
}

func (l *lsbFirst) Transfer(b byte) (byte, error) {
	got, err := l.bus.Transfer(bits.Reverse8(b))
	return bits.Reverse8(got), err
}

func (l *lsbFirst) Tx(w, r []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []byte
	if w != nil {
		if cap(l.buf) < len(w) {
			l.buf = make([]byte, len(w))
		}
		out = l.buf[:len(w)]
		for i, b := range w {
			out[i] = bits.Reverse8(b)
		}
	}
	if err := l.bus.Tx(out, r); err != nil {
		return err
	}
	for i, b := range r {
		r[i] = bits.Reverse8(b)
	}
	return nil
}

// Device is one chip on a shared bus behind an active-low chip select.
// Select/Deselect bracket multi-part frames; Tx is a single framed transfer.
type Device struct {
	bus drivers.SPI
	cs  hal.Pin
}

// NewDevice drives cs high (deselected). A nil cs means the chip select is
// handled elsewhere.
func NewDevice(bus drivers.SPI, cs hal.Pin) (*Device, error) {
	if cs != nil {
		if err := cs.ConfigureOutput(true); err != nil {
			return nil, err
		}
	}
	return &Device{bus: bus, cs: cs}, nil
}

func (d *Device) Bus() drivers.SPI { return d.bus }
func (d *Device) CS() hal.Pin      { return d.cs }

func (d *Device) Select() {
	if d.cs != nil {
		d.cs.Set(false)
	}
}

func (d *Device) Deselect() {
	if d.cs != nil {
		d.cs.Set(true)
	}
}

// Tx runs one transfer with chip select asserted around it.
func (d *Device) Tx(w, r []byte) error {
	d.Select()
	err := d.bus.Tx(w, r)
	d.Deselect()
	return err
}

// Write sends each part in turn within one frame.
func (d *Device) Write(parts ...[]byte) error {
	d.Select()
	defer d.Deselect()
	for _, p := range parts {
		if err := d.bus.Tx(p, nil); err != nil {
			return err
		}
	}
	return nil
}

// WriteRead sends w then clocks len(r) bytes into r within one frame.
func (d *Device) WriteRead(w, r []byte) error {
	d.Select()
	defer d.Deselect()
	if err := d.bus.Tx(w, nil); err != nil {
		return err
	}
	if len(r) == 0 {
		return nil
	}
	return d.bus.Tx(nil, r)
}
