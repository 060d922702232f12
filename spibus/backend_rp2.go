//go:build rp2040

package spibus

import (
	"machine"

	"picoperiph/errcode"

	"tinygo.org/x/drivers"
)

type rp2Backend struct{}

// Hardware drives the RP2040 SPI controllers.
var Hardware Backend = rp2Backend{}

func controller(port int) *machine.SPI {
	if port == 0 {
		return machine.SPI0
	}
	return machine.SPI1
}

func (rp2Backend) Configure(port int, pins Pins, baud uint32, master bool) (uint32, error) {
	if !master {
		// machine.SPI has no slave mode.
		return 0, errcode.Unsupported
	}
	spi := controller(port)
	err := spi.Configure(machine.SPIConfig{
		Frequency: baud,
		SCK:       machine.Pin(pins.SCK),
		SDO:       machine.Pin(pins.MOSI),
		SDI:       machine.Pin(pins.MISO),
		Mode:      0,
	})
	if err != nil {
		return 0, err
	}
	return spi.GetBaudRate(), nil
}

func (rp2Backend) Deconfigure(port int, pins Pins) {
	for _, n := range pins.list() {
		machine.Pin(n).Configure(machine.PinConfig{Mode: machine.PinInput})
	}
}

func (rp2Backend) Bus(port int) drivers.SPI { return controller(port) }
