//go:build rp2040

package pwm

import (
	"device/rp"
	"machine"
	"runtime/volatile"
	"unsafe"
)

// Slice register block; slices are laid out 0x14 bytes apart from rp.PWM.
type sliceRegs struct {
	CSR volatile.Register32
	DIV volatile.Register32
	CTR volatile.Register32
	CC  volatile.Register32
	TOP volatile.Register32
}

const (
	csrEN        = 1 << 0
	csrPHCorrect = 1 << 1
)

func regs(slice int) *sliceRegs {
	return (*sliceRegs)(unsafe.Add(unsafe.Pointer(rp.PWM), 0x14*slice))
}

type rp2Backend struct{}

// Hardware programs the RP2040 PWM block directly.
var Hardware Backend = rp2Backend{}

func (rp2Backend) SetFunction(pin int, on bool) {
	mode := machine.PinInput
	if on {
		mode = machine.PinPWM
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: mode})
}

func (rp2Backend) SetEnabled(slice int, on bool) {
	if on {
		regs(slice).CSR.SetBits(csrEN)
	} else {
		regs(slice).CSR.ClearBits(csrEN)
	}
}

func (rp2Backend) SetPhaseCorrect(slice int, on bool) {
	if on {
		regs(slice).CSR.SetBits(csrPHCorrect)
	} else {
		regs(slice).CSR.ClearBits(csrPHCorrect)
	}
}

func (rp2Backend) SetWrap(slice int, wrap uint16) { regs(slice).TOP.Set(uint32(wrap)) }

func (rp2Backend) SetLevel(slice, channel int, level uint16) {
	r := regs(slice)
	shift := uint32(16 * channel)
	r.CC.ReplaceBits(uint32(level), 0xFFFF, uint8(shift))
}

func (rp2Backend) SetClockDivisor(slice int, integer, frac uint8) {
	regs(slice).DIV.Set(uint32(integer)<<4 | uint32(frac))
}
