// Package i2cbus validates RP2040 I2C pin assignments and addresses, tracks
// controller state in a hal.Registry, and serialises transactions on each
// bus through a single owner goroutine.
package i2cbus

import (
	"errors"
	"sync"
	"time"

	"picoperiph/errcode"
	"picoperiph/hal"

	"tinygo.org/x/drivers"
)

const NumPorts = 2

var (
	sdaPins = [NumPorts][]int{{0, 4, 8, 12, 16, 20, 24, 28}, {2, 6, 10, 14, 18}}
	sclPins = [NumPorts][]int{{1, 5, 9, 13, 17, 21, 25, 29}, {3, 7, 11, 15, 19}}
)

var (
	ErrInvalidPort   = errors.New("i2cbus: invalid port")
	ErrInvalidSDAPin = errors.New("i2cbus: invalid SDA pin")
	ErrInvalidSCLPin = errors.New("i2cbus: invalid SCL pin")
)

// IsValidAddress reports whether a is a usable 7-bit address. 0x00-0x07 and
// 0x79-0x7F are reserved.
func IsValidAddress(a uint8) bool { return a&0x80 == 0 && a >= 0x08 && a <= 0x78 }

func validPort(port int) bool { return port >= 0 && port < NumPorts }

func contains(set []int, pin int) bool {
	for _, p := range set {
		if p == pin {
			return true
		}
	}
	return false
}

func IsSDAPin(port, pin int) bool {
	return validPort(port) && hal.IsPin(pin) && contains(sdaPins[port], pin)
}

func IsSCLPin(port, pin int) bool {
	return validPort(port) && hal.IsPin(pin) && contains(sclPins[port], pin)
}

// PortForPins returns the controller whose pin map holds both sda and scl.
func PortForPins(sda, scl int) (int, bool) {
	for port := 0; port < NumPorts; port++ {
		if IsSDAPin(port, sda) && IsSCLPin(port, scl) {
			return port, true
		}
	}
	return 0, false
}

// Backend performs the hardware side of port setup.
type Backend interface {
	Configure(port, sda, scl int, hz uint32, master bool, addr uint8) (uint32, error)
	Deconfigure(port, sda, scl int)
	Bus(port int) drivers.I2C
}

type portState struct {
	sda, scl int
	master   bool
	addr     uint8
	hz       uint32
	bus      *Bus
}

func idle() portState { return portState{sda: hal.NotAPin, scl: hal.NotAPin} }

// Ports tracks both controllers. Every initialised port gets its own Bus
// worker; Timeout bounds each transaction on it (0 uses the Bus default).
type Ports struct {
	reg     *hal.Registry
	hw      Backend
	Timeout time.Duration

	mu    sync.Mutex
	ports [NumPorts]portState
}

func NewPorts(reg *hal.Registry, hw Backend) *Ports {
	p := &Ports{reg: reg, hw: hw}
	for i := range p.ports {
		p.ports[i] = idle()
	}
	return p
}

func owner(port int) string {
	if port == 0 {
		return "i2c0"
	}
	return "i2c1"
}

// InitMaster configures port as a master and returns the achieved rate.
func (p *Ports) InitMaster(port, sda, scl int, hz uint32) (uint32, error) {
	return p.init(port, sda, scl, hz, true, 0)
}

// InitSlave configures port to answer at addr.
func (p *Ports) InitSlave(port, sda, scl int, hz uint32, addr uint8) (uint32, error) {
	if !IsValidAddress(addr) {
		return 0, errcode.InvalidAddress
	}
	return p.init(port, sda, scl, hz, false, addr)
}

func (p *Ports) init(port, sda, scl int, hz uint32, master bool, addr uint8) (uint32, error) {
	if !validPort(port) {
		return 0, ErrInvalidPort
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reg.IsMarked(hal.KindI2C, port) {
		return 0, &errcode.E{C: errcode.AlreadyInitialized, Op: owner(port)}
	}
	if !IsSDAPin(port, sda) {
		return 0, ErrInvalidSDAPin
	}
	if !IsSCLPin(port, scl) {
		return 0, ErrInvalidSCLPin
	}
	if err := p.reg.ClaimPins(owner(port), hal.FuncI2C, sda, scl); err != nil {
		return 0, err
	}
	achieved, err := p.hw.Configure(port, sda, scl, hz, master, addr)
	if err != nil {
		p.reg.ReleasePin(owner(port), sda)
		p.reg.ReleasePin(owner(port), scl)
		return 0, err
	}
	if err := p.reg.Mark(hal.KindI2C, port); err != nil {
		return 0, err
	}
	st := portState{sda: sda, scl: scl, master: master, addr: addr, hz: achieved}
	if master {
		st.bus = New(p.hw.Bus(port), Config{Timeout: p.Timeout})
	}
	p.ports[port] = st
	return achieved, nil
}

// Deinit stops the port's worker and returns its pins to plain GPIO.
func (p *Ports) Deinit(port int) error {
	if !validPort(port) {
		return ErrInvalidPort
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.reg.Clear(hal.KindI2C, port); err != nil {
		return &errcode.E{C: errcode.NotInitialized, Op: owner(port)}
	}
	st := p.ports[port]
	if st.bus != nil {
		st.bus.Close()
	}
	p.hw.Deconfigure(port, st.sda, st.scl)
	p.reg.ReleasePin(owner(port), st.sda)
	p.reg.ReleasePin(owner(port), st.scl)
	p.ports[port] = idle()
	return nil
}

func (p *Ports) Initialized(port int) bool {
	return validPort(port) && p.reg.IsMarked(hal.KindI2C, port)
}

func (p *Ports) state(port int) portState {
	if !validPort(port) {
		return idle()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ports[port]
}

func (p *Ports) IsMaster(port int) bool { return p.state(port).master }

// Pins returns SDA and SCL of port, hal.NotAPin when unassigned.
func (p *Ports) Pins(port int) (sda, scl int) {
	st := p.state(port)
	return st.sda, st.scl
}

// Address is the slave address of port; 0 for a master.
func (p *Ports) Address(port int) uint8 { return p.state(port).addr }

func (p *Ports) Frequency(port int) uint32 { return p.state(port).hz }

// Bus returns the serialised master bus for port.
func (p *Ports) Bus(port int) (*Bus, error) {
	st := p.state(port)
	if st.bus == nil {
		return nil, &errcode.E{C: errcode.NotInitialized, Op: "i2cbus.Bus"}
	}
	return st.bus, nil
}

// Close deinitialises every open port.
func (p *Ports) Close() {
	for port := 0; port < NumPorts; port++ {
		if p.Initialized(port) {
			_ = p.Deinit(port)
		}
	}
}
