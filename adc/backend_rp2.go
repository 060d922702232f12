//go:build rp2040

package adc

import (
	"device/rp"
	"machine"
)

const (
	csTSEN      = 1 << 1
	csStartOnce = 1 << 2
	csReady     = 1 << 8
	csAinselPos = 12
)

type rp2Backend struct{}

// Hardware drives the RP2040 ADC block.
var Hardware Backend = rp2Backend{}

func (rp2Backend) Init() { machine.InitADC() }

func (rp2Backend) InitPin(pin int) {
	machine.Pin(pin).Configure(machine.PinConfig{Mode: machine.PinAnalog})
}

func (rp2Backend) EnableTempSensor(on bool) {
	if on {
		rp.ADC.CS.SetBits(csTSEN)
	} else {
		rp.ADC.CS.ClearBits(csTSEN)
	}
}

func (rp2Backend) Read(channel int) uint16 {
	rp.ADC.CS.ReplaceBits(uint32(channel), 0x7, csAinselPos)
	rp.ADC.CS.SetBits(csStartOnce)
	for !rp.ADC.CS.HasBits(csReady) {
	}
	return uint16(rp.ADC.RESULT.Get())
}
