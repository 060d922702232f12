//go:build rp2040

package i2cbus

import (
	"machine"

	"picoperiph/errcode"

	"tinygo.org/x/drivers"
)

type rp2Backend struct{}

// Hardware drives the RP2040 I2C controllers.
var Hardware Backend = rp2Backend{}

func controller(port int) *machine.I2C {
	if port == 0 {
		return machine.I2C0
	}
	return machine.I2C1
}

func (rp2Backend) Configure(port, sda, scl int, hz uint32, master bool, addr uint8) (uint32, error) {
	if !master {
		return 0, errcode.Unsupported
	}
	s, c := machine.Pin(sda), machine.Pin(scl)
	s.Configure(machine.PinConfig{Mode: machine.PinI2C})
	c.Configure(machine.PinConfig{Mode: machine.PinI2C})
	err := controller(port).Configure(machine.I2CConfig{
		SDA:       s,
		SCL:       c,
		Frequency: hz,
	})
	if err != nil {
		return 0, err
	}
	return hz, nil
}

func (rp2Backend) Deconfigure(port, sda, scl int) {
	machine.Pin(sda).Configure(machine.PinConfig{Mode: machine.PinInput})
	machine.Pin(scl).Configure(machine.PinConfig{Mode: machine.PinInput})
}

func (rp2Backend) Bus(port int) drivers.I2C { return controller(port) }
