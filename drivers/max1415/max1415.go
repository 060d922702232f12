// Package max1415 drives the MAX1415 two-channel 16-bit sigma-delta ADC.
//
// Every access starts with a write to the communications register that
// selects the target register, direction and channel. Conversions run
// free while FSYNC is clear; the driver sets FSYNC between single reads
// so the converter idles.
package max1415

import (
	"errors"
	"time"

	"picoperiph/errcode"
	"picoperiph/hal"
	"picoperiph/spibus"
)

// Communications register.
const (
	commsDRDY    = 0x80 // set while no new data is available
	commsRegSel  = 0x70
	commsRead    = 0x08
	commsStandby = 0x04
	commsChannel = 0x03
)

// Register addresses as they appear in bits 6..4 of the comms byte.
const (
	RegComms = 0x00
	RegSetup = 0x10
	RegClock = 0x20
	RegData  = 0x30
)

// Setup register.
const (
	setupMode     = 0xC0
	setupGain     = 0x38
	setupUnipolar = 0x04
	setupBuffered = 0x02
	setupFSYNC    = 0x01
)

// Clock register. Bits 7..6 are reserved and must be written as 1, 0.
const (
	clockReserved = 0x80
	clockIntClk   = 0x20
	clockDisable  = 0x10 // CLK_DIS: no clock on CLKOUT
	clockDivide   = 0x08
	clockSelect   = 0x04 // set for a 2.4576 MHz master clock
	clockFilter   = 0x03
)

type Channel uint8

const (
	A Channel = iota // AIN1+/AIN1-
	B                // AIN2+/AIN2-
)

// Mode is the operating mode in bits 7..6 of the setup register.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeSelfCal
	ModeZeroCal
	ModeFullCal
)

type Gain uint8

const (
	Gain1 Gain = iota
	Gain2
	Gain4
	Gain8
	Gain16
	Gain32
	Gain64
	Gain128
)

// Factor is the amplification the code selects.
func (g Gain) Factor() int { return 1 << g }

// MasterClock is the frequency of the crystal or external clock.
type MasterClock uint8

const (
	Clock1MHz      MasterClock = iota // 1 MHz
	Clock2_4576MHz                    // 2.4576 MHz
)

// Rate is the FS1..FS0 filter selection. Its meaning depends on the
// master clock; see RateHz.
type Rate uint8

const (
	Rate0 Rate = iota // 20 Hz at 1 MHz, 50 Hz at 2.4576 MHz
	Rate1             // 25 Hz, 60 Hz
	Rate2             // 100 Hz, 250 Hz
	Rate3             // 200 Hz, 500 Hz
)

var rateTable = [2][4]int{
	Clock1MHz:      {20, 25, 100, 200},
	Clock2_4576MHz: {50, 60, 250, 500},
}

// RateHz returns the output data rate with the clock divider off.
func RateHz(clk MasterClock, r Rate) int {
	if clk > Clock2_4576MHz || r > Rate3 {
		return 0
	}
	return rateTable[clk][r]
}

var (
	ErrInvalidChannel = errors.New("max1415: invalid channel")
	ErrInvalidGain    = errors.New("max1415: invalid gain")
	ErrInvalidRate    = errors.New("max1415: invalid update rate")
	ErrInvalidMode    = errors.New("max1415: invalid calibration mode")
)

type Config struct {
	MasterClock MasterClock
	Rate        Rate
	// ExternalClock disables the internal oscillator and expects a clock
	// on CLKIN.
	ExternalClock bool
	ClockOut      bool
	ClockDivide   bool

	// Reset is the optional active-low RESET pin.
	Reset hal.Pin
	// DRDY is the optional active-low data ready output. Without it the
	// comms register is polled.
	DRDY hal.Pin

	Timeout time.Duration // per conversion, default 1 s
	Poll    time.Duration // default 1 ms
	Clock   hal.Clock
}

type channelState struct {
	gain     Gain
	buffered bool
	unipolar bool
}

type Device struct {
	dev *spibus.Device
	cfg Config

	ch      [2]channelState
	current Channel
	mode    Mode
	standby bool

	buf [2]byte
}

func New(dev *spibus.Device, cfg Config) *Device {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = hal.SystemClock
	}
	d := &Device{dev: dev, cfg: cfg}
	d.ch[A].unipolar = true
	d.ch[B].unipolar = true
	return d
}

// Initialize resets the part, programs the clock register and self
// calibrates both channels. The converter is left synchronised (idle).
func (d *Device) Initialize() error {
	if d.cfg.MasterClock > Clock2_4576MHz {
		return ErrInvalidRate
	}
	if d.cfg.Rate > Rate3 {
		return ErrInvalidRate
	}
	if p := d.cfg.Reset; p != nil {
		if err := p.ConfigureOutput(true); err != nil {
			return err
		}
	}
	if p := d.cfg.DRDY; p != nil {
		if err := p.ConfigureInput(hal.PullNone); err != nil {
			return err
		}
	}
	if err := d.Reset(); err != nil {
		return err
	}
	if err := d.writeReg("max1415.Initialize", RegClock, d.clockBits()); err != nil {
		return err
	}
	for _, ch := range []Channel{A, B} {
		if err := d.Calibrate(ch, ModeSelfCal); err != nil {
			return err
		}
	}
	return d.stop("max1415.Initialize")
}

// Reset pulses RESET when wired, then clocks 32 ones into DIN, which
// returns the serial interface to waiting for a comms write.
func (d *Device) Reset() error {
	if p := d.cfg.Reset; p != nil {
		p.Set(false)
		d.cfg.Clock.Sleep(time.Microsecond)
		p.Set(true)
	}
	ones := [4]byte{0xFF, 0xFF, 0xFF, 0xFF}
	return errcode.Wrap("max1415.Reset", d.dev.Tx(ones[:], nil))
}

func (d *Device) comms(reg uint8, read bool) byte {
	b := reg | uint8(d.current)
	if read {
		b |= commsRead
	}
	if d.standby {
		b |= commsStandby
	}
	return b
}

func (d *Device) setupBits(fsync bool) byte {
	s := d.ch[d.current]
	b := uint8(d.mode)<<6 | uint8(s.gain)<<3
	if s.unipolar {
		b |= setupUnipolar
	}
	if s.buffered {
		b |= setupBuffered
	}
	if fsync {
		b |= setupFSYNC
	}
	return b
}

func (d *Device) clockBits() byte {
	b := byte(clockReserved)
	if !d.cfg.ExternalClock {
		b |= clockIntClk
	}
	if !d.cfg.ClockOut {
		b |= clockDisable
	}
	if d.cfg.ClockDivide {
		b |= clockDivide
	}
	if d.cfg.MasterClock == Clock2_4576MHz {
		b |= clockSelect
	}
	return b | uint8(d.cfg.Rate)&clockFilter
}

// The comms write and the register access go out as separate frames.
func (d *Device) writeReg(op string, reg, v uint8) error {
	d.buf[0] = d.comms(reg, false)
	if err := d.dev.Tx(d.buf[:1], nil); err != nil {
		return errcode.Wrap(op, err)
	}
	if reg == RegComms {
		return nil
	}
	d.buf[0] = v
	return errcode.Wrap(op, d.dev.Tx(d.buf[:1], nil))
}

func (d *Device) readReg(op string, reg uint8, r []byte) error {
	d.buf[0] = d.comms(reg, true)
	if err := d.dev.Tx(d.buf[:1], nil); err != nil {
		return errcode.Wrap(op, err)
	}
	return errcode.Wrap(op, d.dev.Tx(nil, r))
}

// ReadRegister returns the 8-bit comms, setup or clock register as seen
// through the current channel.
func (d *Device) ReadRegister(reg uint8) (uint8, error) {
	switch reg {
	case RegComms, RegSetup, RegClock:
	default:
		return 0, errcode.InvalidParams
	}
	var b [1]byte
	err := d.readReg("max1415.ReadRegister", reg, b[:])
	return b[0], err
}

func (d *Device) readData(op string) (uint16, error) {
	var b [2]byte
	if err := d.readReg(op, RegData, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// Ready reports whether a new conversion result is waiting.
func (d *Device) Ready() (bool, error) {
	if p := d.cfg.DRDY; p != nil {
		return !p.Get(), nil
	}
	var b [1]byte
	if err := d.readReg("max1415.Ready", RegComms, b[:]); err != nil {
		return false, err
	}
	return b[0]&commsDRDY == 0, nil
}

// WaitReady blocks until a result is available or the configured timeout
// passes.
func (d *Device) WaitReady() error {
	if p := d.cfg.DRDY; p != nil {
		w := hal.Waiter{Clock: d.cfg.Clock, Poll: d.cfg.Poll}
		_, err := w.WaitForLow(p, d.cfg.Timeout)
		return err
	}
	start := d.cfg.Clock.Now()
	for {
		ok, err := d.Ready()
		if err != nil || ok {
			return err
		}
		if d.cfg.Clock.Now().Sub(start) >= d.cfg.Timeout {
			return &errcode.E{C: errcode.Timeout, Op: "max1415.WaitReady"}
		}
		d.cfg.Clock.Sleep(d.cfg.Poll)
	}
}

// FreeRunning reports whether FSYNC is clear for the current channel.
func (d *Device) FreeRunning() (bool, error) {
	v, err := d.ReadRegister(RegSetup)
	if err != nil {
		return false, err
	}
	return v&setupFSYNC == 0, nil
}

func (d *Device) stop(op string) error {
	d.mode = ModeNormal
	return d.writeReg(op, RegSetup, d.setupBits(true))
}

func (d *Device) selectChannel(ch Channel) error {
	if ch > B {
		return ErrInvalidChannel
	}
	d.current = ch
	return nil
}

// Calibrate runs one of the calibration modes on ch and waits for it to
// finish.
func (d *Device) Calibrate(ch Channel, mode Mode) error {
	if mode == ModeNormal || mode > ModeFullCal {
		return ErrInvalidMode
	}
	if err := d.selectChannel(ch); err != nil {
		return err
	}
	d.mode = mode
	if err := d.writeReg("max1415.Calibrate", RegSetup, d.setupBits(false)); err != nil {
		return err
	}
	if err := d.WaitReady(); err != nil {
		return err
	}
	// Reading the data register clears DRDY.
	_, err := d.readData("max1415.Calibrate")
	return err
}

// ReadRaw converts ch once. When the channel is already free running the
// next result is returned and the converter keeps running.
func (d *Device) ReadRaw(ch Channel) (uint16, error) {
	if err := d.selectChannel(ch); err != nil {
		return 0, err
	}
	d.mode = ModeNormal
	free, err := d.FreeRunning()
	if err != nil {
		return 0, err
	}
	if !free {
		if err := d.writeReg("max1415.ReadRaw", RegSetup, d.setupBits(false)); err != nil {
			return 0, err
		}
	}
	if err := d.WaitReady(); err != nil {
		return 0, err
	}
	v, err := d.readData("max1415.ReadRaw")
	if err != nil {
		return 0, err
	}
	if !free {
		if err := d.stop("max1415.ReadRaw"); err != nil {
			return 0, err
		}
	}
	return v, nil
}

// ReadRawBoth reads both channels, first one first.
func (d *Device) ReadRawBoth(first Channel) (a, b uint16, err error) {
	order := [2]Channel{A, B}
	if first == B {
		order = [2]Channel{B, A}
	}
	var v [2]uint16
	for _, ch := range order {
		if v[ch], err = d.ReadRaw(ch); err != nil {
			return 0, 0, err
		}
	}
	return v[A], v[B], nil
}

// Volts converts a code to the differential input voltage for ch's gain
// and polarity.
func (d *Device) Volts(ch Channel, code uint16, vref float32) float32 {
	if ch > B {
		return 0
	}
	s := d.ch[ch]
	span := vref / float32(s.gain.Factor())
	if s.unipolar {
		return float32(code) * span / 65536
	}
	return (float32(code) - 32768) * span / 32768
}

// ReadVoltage converts ch once and scales it with vref.
func (d *Device) ReadVoltage(ch Channel, vref float32) (float32, error) {
	code, err := d.ReadRaw(ch)
	if err != nil {
		return 0, err
	}
	return d.Volts(ch, code, vref), nil
}

// rewrite pushes new channel settings immediately when ch is the selected
// channel and the converter is free running.
func (d *Device) rewrite(op string, ch Channel) error {
	if ch != d.current {
		return nil
	}
	free, err := d.FreeRunning()
	if err != nil || !free {
		return err
	}
	return d.writeReg(op, RegSetup, d.setupBits(false))
}

func (d *Device) SetGain(ch Channel, g Gain) error {
	if ch > B {
		return ErrInvalidChannel
	}
	if g > Gain128 {
		return ErrInvalidGain
	}
	d.ch[ch].gain = g
	return d.rewrite("max1415.SetGain", ch)
}

func (d *Device) Gain(ch Channel) Gain {
	if ch > B {
		return 0
	}
	return d.ch[ch].gain
}

// SetPolarity selects unipolar (true) or bipolar coding.
func (d *Device) SetPolarity(ch Channel, unipolar bool) error {
	if ch > B {
		return ErrInvalidChannel
	}
	d.ch[ch].unipolar = unipolar
	return d.rewrite("max1415.SetPolarity", ch)
}

func (d *Device) SetBuffered(ch Channel, on bool) error {
	if ch > B {
		return ErrInvalidChannel
	}
	d.ch[ch].buffered = on
	return d.rewrite("max1415.SetBuffered", ch)
}

// SetUpdateRate reprograms the filter and returns the resulting rate in Hz.
func (d *Device) SetUpdateRate(r Rate) (int, error) {
	if r > Rate3 {
		return 0, ErrInvalidRate
	}
	d.cfg.Rate = r
	if err := d.writeReg("max1415.SetUpdateRate", RegClock, d.clockBits()); err != nil {
		return 0, err
	}
	return RateHz(d.cfg.MasterClock, r), nil
}

func (d *Device) SetClockOutput(on bool) error {
	d.cfg.ClockOut = on
	return d.writeReg("max1415.SetClockOutput", RegClock, d.clockBits())
}

func (d *Device) SetClockDivide(on bool) error {
	d.cfg.ClockDivide = on
	return d.writeReg("max1415.SetClockDivide", RegClock, d.clockBits())
}

// Standby powers the analogue section down (on) or back up.
func (d *Device) Standby(on bool) error {
	d.standby = on
	return d.writeReg("max1415.Standby", RegComms, 0)
}

// SetFreeRunning selects ch and starts (on) or stops continuous
// conversion.
func (d *Device) SetFreeRunning(ch Channel, on bool) error {
	if err := d.selectChannel(ch); err != nil {
		return err
	}
	d.mode = ModeNormal
	return d.writeReg("max1415.SetFreeRunning", RegSetup, d.setupBits(!on))
}
