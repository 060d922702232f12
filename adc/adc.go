// Package adc reads the RP2040 12-bit ADC: four user channels on GPIO26..29
// and the internal temperature sensor on channel 4.
package adc

import (
	"errors"
	"sync"

	"picoperiph/errcode"
	"picoperiph/hal"
)

const (
	NumUserChannels = 4
	NumChannels     = 5
	TempChannel     = 4
	FirstPin        = 26
	LastPin         = FirstPin + NumUserChannels - 1

	Bits        = 12
	MaxRaw      = 1<<Bits - 1
	DefaultVRef = 3.3
)

var (
	ErrInvalidChannel = errors.New("adc: invalid channel")
	ErrInvalidPin     = errors.New("adc: pin has no ADC channel")
)

func ValidChannel(ch int) bool     { return ch >= 0 && ch < NumChannels }
func ValidUserChannel(ch int) bool { return ch >= 0 && ch < NumUserChannels }
func ValidPin(pin int) bool        { return pin >= FirstPin && pin <= LastPin }

func ChannelToPin(ch int) (int, error) {
	if !ValidUserChannel(ch) {
		return 0, ErrInvalidChannel
	}
	return ch + FirstPin, nil
}

func PinToChannel(pin int) (int, error) {
	if !ValidPin(pin) {
		return 0, ErrInvalidPin
	}
	return pin - FirstPin, nil
}

// Voltage converts a raw reading against vref.
func Voltage(raw uint16, vref float64) float64 {
	return float64(raw) * vref / (1 << Bits)
}

// Celsius converts a raw temperature channel reading.
func Celsius(raw uint16, vref float64) float64 {
	return 27 - (Voltage(raw, vref)-0.706)/0.001721
}

// Backend is the converter hardware.
type Backend interface {
	Init()
	InitPin(pin int)
	EnableTempSensor(on bool)
	Read(channel int) uint16
}

// ADC shares the single converter between channels. Which channels are set
// up is recorded in the Registry.
type ADC struct {
	reg *hal.Registry
	hw  Backend

	mu   sync.Mutex
	init bool
}

func New(reg *hal.Registry, hw Backend) *ADC { return &ADC{reg: reg, hw: hw} }

// Initialize powers up the converter. Repeated calls are no-ops.
func (a *ADC) Initialize() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.init {
		a.hw.Init()
		a.init = true
	}
}

func (a *ADC) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.init
}

// InitChannel claims the channel's pin for analog input.
func (a *ADC) InitChannel(ch int) error {
	pin, err := ChannelToPin(ch)
	if err != nil {
		return err
	}
	if err := a.reg.ClaimPin("adc", pin, hal.FuncADC); err != nil {
		return err
	}
	if err := a.reg.Mark(hal.KindADC, ch); err != nil {
		return err
	}
	a.hw.InitPin(pin)
	return nil
}

func (a *ADC) InitPin(pin int) error {
	ch, err := PinToChannel(pin)
	if err != nil {
		return err
	}
	return a.InitChannel(ch)
}

// InitTemperature enables the on-die sensor.
func (a *ADC) InitTemperature() error {
	if err := a.reg.Mark(hal.KindADC, TempChannel); err != nil {
		return err
	}
	a.hw.EnableTempSensor(true)
	return nil
}

// DeinitChannel releases a user channel's pin.
func (a *ADC) DeinitChannel(ch int) error {
	pin, err := ChannelToPin(ch)
	if err != nil {
		return err
	}
	if err := a.reg.Clear(hal.KindADC, ch); err != nil {
		return err
	}
	a.reg.ReleasePin("adc", pin)
	return nil
}

func (a *ADC) read(ch int) (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.init || !a.reg.IsMarked(hal.KindADC, ch) {
		return 0, &errcode.E{C: errcode.NotInitialized, Op: "adc.Read"}
	}
	return a.hw.Read(ch) & MaxRaw, nil
}

func (a *ADC) ReadChannelRaw(ch int) (uint16, error) {
	if !ValidUserChannel(ch) {
		return 0, ErrInvalidChannel
	}
	return a.read(ch)
}

func (a *ADC) ReadPinRaw(pin int) (uint16, error) {
	ch, err := PinToChannel(pin)
	if err != nil {
		return 0, err
	}
	return a.read(ch)
}

func (a *ADC) ReadTemperatureRaw() (uint16, error) { return a.read(TempChannel) }

// ReadChannelVoltage reads ch and scales it to vref (DefaultVRef when 0).
func (a *ADC) ReadChannelVoltage(ch int, vref float64) (float64, error) {
	raw, err := a.ReadChannelRaw(ch)
	if err != nil {
		return 0, err
	}
	return Voltage(raw, orDefault(vref)), nil
}

func (a *ADC) ReadPinVoltage(pin int, vref float64) (float64, error) {
	raw, err := a.ReadPinRaw(pin)
	if err != nil {
		return 0, err
	}
	return Voltage(raw, orDefault(vref)), nil
}

// ReadTemperature returns the die temperature in degrees Celsius.
func (a *ADC) ReadTemperature() (float64, error) {
	raw, err := a.ReadTemperatureRaw()
	if err != nil {
		return 0, err
	}
	return Celsius(raw, DefaultVRef), nil
}

func orDefault(vref float64) float64 {
	if vref <= 0 {
		return DefaultVRef
	}
	return vref
}
