// Package spibus validates RP2040 SPI pin assignments, tracks which SPI
// controllers are initialised, and wraps buses with chip-select handling and
// LSB-first bit order.
package spibus

import (
	"errors"
	"sync"

	"picoperiph/hal"

	"tinygo.org/x/drivers"
)

const NumPorts = 2

// Pin maps per controller (datasheet GPIO function table).
var (
	misoPins = [NumPorts][]int{{0, 4, 16, 20}, {8, 12, 24, 28}}
	mosiPins = [NumPorts][]int{{3, 7, 19, 23}, {11, 15, 27}}
	sckPins  = [NumPorts][]int{{2, 6, 18, 22}, {10, 14, 26}}
	csPins   = [NumPorts][]int{{1, 5, 17, 21}, {9, 13, 25, 29}}
)

var (
	ErrInvalidPort     = errors.New("spibus: invalid port")
	ErrInvalidClockPin = errors.New("spibus: invalid clock pin")
	ErrInvalidMisoPin  = errors.New("spibus: invalid MISO pin")
	ErrInvalidMosiPin  = errors.New("spibus: invalid MOSI pin")
	ErrInvalidCSPin    = errors.New("spibus: invalid chip select pin")
)

func contains(set []int, pin int) bool {
	for _, p := range set {
		if p == pin {
			return true
		}
	}
	return false
}

func validPort(port int) bool { return port >= 0 && port < NumPorts }

func IsClockPin(port, pin int) bool {
	return validPort(port) && hal.IsPin(pin) && contains(sckPins[port], pin)
}

func IsMisoPin(port, pin int) bool {
	return validPort(port) && hal.IsPin(pin) && contains(misoPins[port], pin)
}

func IsMosiPin(port, pin int) bool {
	return validPort(port) && hal.IsPin(pin) && contains(mosiPins[port], pin)
}

func IsChipSelectPin(port, pin int) bool {
	return validPort(port) && hal.IsPin(pin) && contains(csPins[port], pin)
}

// PortForPins returns the controller that can drive sck/miso/mosi, if any.
func PortForPins(sck, miso, mosi int) (int, bool) {
	for port := 0; port < NumPorts; port++ {
		if IsClockPin(port, sck) && IsMisoPin(port, miso) && IsMosiPin(port, mosi) {
			return port, true
		}
	}
	return 0, false
}

// Pins is the pin assignment of one controller. CS is hal.NotAPin for a
// master, where chip select is driven as a plain GPIO by each Device.
type Pins struct {
	SCK, MISO, MOSI, CS int
}

func unassigned() Pins {
	return Pins{SCK: hal.NotAPin, MISO: hal.NotAPin, MOSI: hal.NotAPin, CS: hal.NotAPin}
}

func (p Pins) list() []int {
	out := []int{p.SCK, p.MISO, p.MOSI}
	if p.CS != hal.NotAPin {
		out = append(out, p.CS)
	}
	return out
}

// Backend performs the hardware side of port setup.
type Backend interface {
	// Configure muxes pins to the controller and returns the achieved rate.
	Configure(port int, pins Pins, baud uint32, master bool) (uint32, error)
	Deconfigure(port int, pins Pins)
	Bus(port int) drivers.SPI
}

// Ports tracks controller state in the shared Registry.
type Ports struct {
	reg *hal.Registry
	hw  Backend

	mu     sync.Mutex
	pins   [NumPorts]Pins
	master [NumPorts]bool
	baud   [NumPorts]uint32
}

func NewPorts(reg *hal.Registry, hw Backend) *Ports {
	p := &Ports{reg: reg, hw: hw}
	for i := range p.pins {
		p.pins[i] = unassigned()
	}
	return p
}

func owner(port int) string {
	if port == 0 {
		return "spi0"
	}
	return "spi1"
}

// InitMaster configures port as a master and returns the achieved baud rate.
func (p *Ports) InitMaster(port, sck, miso, mosi int, baud uint32) (uint32, error) {
	return p.init(port, Pins{SCK: sck, MISO: miso, MOSI: mosi, CS: hal.NotAPin}, baud, true)
}

// InitSlave configures port as a slave with a hardware chip select.
func (p *Ports) InitSlave(port, sck, miso, mosi, cs int, baud uint32) (uint32, error) {
	return p.init(port, Pins{SCK: sck, MISO: miso, MOSI: mosi, CS: cs}, baud, false)
}

func (p *Ports) init(port int, pins Pins, baud uint32, master bool) (uint32, error) {
	if !validPort(port) {
		return 0, ErrInvalidPort
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reg.IsMarked(hal.KindSPI, port) {
		return 0, errAlreadyInitialized
	}
	switch {
	case !IsClockPin(port, pins.SCK):
		return 0, ErrInvalidClockPin
	case !IsMisoPin(port, pins.MISO):
		return 0, ErrInvalidMisoPin
	case !IsMosiPin(port, pins.MOSI):
		return 0, ErrInvalidMosiPin
	case !master && !IsChipSelectPin(port, pins.CS):
		return 0, ErrInvalidCSPin
	}
	if err := p.reg.ClaimPins(owner(port), hal.FuncSPI, pins.list()...); err != nil {
		return 0, err
	}
	achieved, err := p.hw.Configure(port, pins, baud, master)
	if err != nil {
		for _, n := range pins.list() {
			p.reg.ReleasePin(owner(port), n)
		}
		return 0, err
	}
	if err := p.reg.Mark(hal.KindSPI, port); err != nil {
		return 0, err
	}
	p.pins[port] = pins
	p.master[port] = master
	p.baud[port] = achieved
	return achieved, nil
}

// Deinit releases the controller and returns its pins to plain GPIO.
func (p *Ports) Deinit(port int) error {
	if !validPort(port) {
		return ErrInvalidPort
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.reg.Clear(hal.KindSPI, port); err != nil {
		return err
	}
	pins := p.pins[port]
	p.hw.Deconfigure(port, pins)
	for _, n := range pins.list() {
		p.reg.ReleasePin(owner(port), n)
	}
	p.pins[port] = unassigned()
	p.master[port] = false
	p.baud[port] = 0
	return nil
}

func (p *Ports) Initialized(port int) bool {
	return validPort(port) && p.reg.IsMarked(hal.KindSPI, port)
}

func (p *Ports) IsMaster(port int) bool {
	if !validPort(port) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.master[port]
}

// Pins returns the assignment of port; unassigned entries are hal.NotAPin.
func (p *Ports) Pins(port int) Pins {
	if !validPort(port) {
		return unassigned()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pins[port]
}

func (p *Ports) Baud(port int) uint32 {
	if !validPort(port) {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baud[port]
}

// Bus returns the initialised controller as a drivers.SPI.
func (p *Ports) Bus(port int) (drivers.SPI, error) {
	if !p.Initialized(port) {
		return nil, errNotInitialized
	}
	return p.hw.Bus(port), nil
}
