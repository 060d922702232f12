// Package bmx280 drives the Bosch BMP280 pressure/temperature sensor and the
// BME280, which adds humidity, over I2C.
//
// Compensation follows the datasheet's fixed-point formulas: temperature in
// hundredths of a degree, pressure in Pa (32-bit variant) and humidity in
// Q22.10 %RH.
package bmx280

import (
	"encoding/binary"
	"errors"
	"time"

	"picoperiph/errcode"

	"tinygo.org/x/drivers"
)

const (
	AddressPrimary   = 0x76 // SDO low
	AddressSecondary = 0x77 // SDO high
)

const (
	ChipBMP280 = 0x58
	ChipBME280 = 0x60
)

const (
	regCalib00  = 0x88
	regCalibH1  = 0xA1
	regID       = 0xD0
	regReset    = 0xE0
	regCalib26  = 0xE1
	regCtrlHum  = 0xF2
	regStatus   = 0xF3
	regCtrlMeas = 0xF4
	regConfig   = 0xF5
	regData     = 0xF7

	resetWord = 0xB6

	statusMeasuring = 0x08
	statusUpdating  = 0x01

	maskStandby = 0xE0
	maskFilter  = 0x1C
	mask3Wire   = 0x01
	maskOSRT    = 0xE0
	maskOSRP    = 0x1C
	maskMode    = 0x03
	maskOSRH    = 0x07

	DefaultConfig   = 0x80
	DefaultCtrlMeas = 0x25
	DefaultCtrlHum  = 0x01
)

// Oversampling is the OSR field shared by temperature, pressure and humidity.
type Oversampling uint8

const (
	Skip Oversampling = iota
	X1
	X2
	X4
	X8
	X16
)

type Mode uint8

const (
	Sleep  Mode = 0
	Forced Mode = 1
	Normal Mode = 3
)

// Standby is the inactive period between normal-mode conversions. The
// durations differ between the BMP280 and BME280 for codes 6 and 7.
type Standby uint8

// Filter is the IIR filter coefficient code, 0 (off) to 4 (16).
type Filter uint8

// Measurand selects which oversampling field SetOversampling writes.
type Measurand uint8

const (
	Temperature Measurand = iota
	Pressure
	Humidity
)

var (
	ErrUnknownChip  = errors.New("bmx280: unexpected chip id")
	ErrNoHumidity   = errors.New("bmx280: humidity requires a BME280")
	ErrOversampling = errors.New("bmx280: oversampling out of range")
	ErrMode         = errors.New("bmx280: invalid mode")
	ErrStandby      = errors.New("bmx280: standby out of range")
	ErrFilter       = errors.New("bmx280: filter out of range")
)

// Config selects the address and the initial register values. Nil register
// pointers keep the power-on defaults the driver writes at Configure.
type Config struct {
	// Address defaults to 0x76 if zero.
	Address uint16

	Config   *uint8
	CtrlMeas *uint8
	CtrlHum  *uint8

	// Timeout bounds the conversion wait in Read. Zero uses 100 ms.
	Timeout time.Duration
	// Sleep replaces time.Sleep while polling.
	Sleep func(time.Duration)
}

type calibration struct {
	t1                             uint16
	t2, t3                         int16
	p1                             uint16
	p2, p3, p4, p5, p6, p7, p8, p9 int16
	h1, h3                         uint8
	h2, h4, h5                     int16
	h6                             int8
}

// Device is a BMP280 or BME280.
type Device struct {
	bus     drivers.I2C
	Address uint16

	id       uint8
	calib    calibration
	config   uint8
	ctrlMeas uint8
	ctrlHum  uint8
	timeout  time.Duration
	sleep    func(time.Duration)
	buf      [26]byte
}

// Raw holds uncompensated ADC values.
type Raw struct {
	Temperature int32
	Pressure    int32
	Humidity    int32
}

// Measurement holds compensated values.
type Measurement struct {
	Temperature int32  // 0.01 °C
	Pressure    uint32 // Pa
	Humidity    uint32 // %RH in Q22.10; zero on a BMP280
}

func (m Measurement) Celsius() float32  { return float32(m.Temperature) / 100 }
func (m Measurement) HPa() float32      { return float32(m.Pressure) / 100 }
func (m Measurement) Relative() float32 { return float32(m.Humidity) / 1024 }

func New(bus drivers.I2C) Device {
	return Device{
		bus:      bus,
		Address:  AddressPrimary,
		config:   DefaultConfig,
		ctrlMeas: DefaultCtrlMeas,
		ctrlHum:  DefaultCtrlHum,
		timeout:  100 * time.Millisecond,
		sleep:    time.Sleep,
	}
}

// Configure is Initialize with a configuration.
func (d *Device) Configure(cfg Config) error {
	if cfg.Address != 0 {
		d.Address = cfg.Address
	}
	if cfg.Config != nil {
		d.config = *cfg.Config
	}
	if cfg.CtrlMeas != nil {
		d.ctrlMeas = *cfg.CtrlMeas
	}
	if cfg.CtrlHum != nil {
		d.ctrlHum = *cfg.CtrlHum
	}
	if cfg.Timeout > 0 {
		d.timeout = cfg.Timeout
	}
	if cfg.Sleep != nil {
		d.sleep = cfg.Sleep
	}
	return d.Initialize()
}

// Initialize checks the chip ID, loads the calibration and writes the cached
// configuration registers.
func (d *Device) Initialize() error {
	if d.Address != AddressPrimary && d.Address != AddressSecondary {
		return &errcode.E{C: errcode.InvalidAddress, Op: "bmx280.Initialize"}
	}
	id, err := d.ChipID()
	if err != nil {
		return err
	}
	if id != ChipBMP280 && id != ChipBME280 {
		return ErrUnknownChip
	}
	d.id = id
	if err := d.readCalibration(); err != nil {
		return err
	}
	if err := d.write("bmx280.Initialize", regConfig, d.config); err != nil {
		return err
	}
	if d.IsBME() {
		if err := d.write("bmx280.Initialize", regCtrlHum, d.ctrlHum); err != nil {
			return err
		}
	}
	return d.write("bmx280.Initialize", regCtrlMeas, d.ctrlMeas)
}

func (d *Device) read(op string, reg uint8, n int) ([]byte, error) {
	b := d.buf[:n]
	if err := d.bus.Tx(d.Address, []byte{reg}, b); err != nil {
		return nil, errcode.Wrap(op, err)
	}
	return b, nil
}

func (d *Device) write(op string, reg, v uint8) error {
	return errcode.Wrap(op, d.bus.Tx(d.Address, []byte{reg, v}, nil))
}

func (d *Device) readCalibration() error {
	b, err := d.read("bmx280.calibration", regCalib00, 24)
	if err != nil {
		return err
	}
	le := binary.LittleEndian
	c := &d.calib
	c.t1 = le.Uint16(b[0:])
	c.t2 = int16(le.Uint16(b[2:]))
	c.t3 = int16(le.Uint16(b[4:]))
	c.p1 = le.Uint16(b[6:])
	c.p2 = int16(le.Uint16(b[8:]))
	c.p3 = int16(le.Uint16(b[10:]))
	c.p4 = int16(le.Uint16(b[12:]))
	c.p5 = int16(le.Uint16(b[14:]))
	c.p6 = int16(le.Uint16(b[16:]))
	c.p7 = int16(le.Uint16(b[18:]))
	c.p8 = int16(le.Uint16(b[20:]))
	c.p9 = int16(le.Uint16(b[22:]))
	if !d.IsBME() {
		return nil
	}

	b, err = d.read("bmx280.calibration", regCalibH1, 1)
	if err != nil {
		return err
	}
	c.h1 = b[0]
	b, err = d.read("bmx280.calibration", regCalib26, 7)
	if err != nil {
		return err
	}
	c.h2 = int16(le.Uint16(b[0:]))
	c.h3 = b[2]
	c.h4 = int16(int8(b[3]))<<4 | int16(b[4]&0x0F)
	c.h5 = int16(int8(b[5]))<<4 | int16(b[4]>>4)
	c.h6 = int8(b[6])
	return nil
}

// Reset issues the soft reset word. The cached register values are not
// rewritten; call Initialize afterwards.
func (d *Device) Reset() error {
	return d.write("bmx280.Reset", regReset, resetWord)
}

func (d *Device) ChipID() (uint8, error) {
	b, err := d.read("bmx280.ChipID", regID, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// IsBME reports whether the chip found by Initialize has a humidity sensor.
func (d *Device) IsBME() bool { return d.id == ChipBME280 }

func (d *Device) Status() (uint8, error) {
	b, err := d.read("bmx280.Status", regStatus, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Measuring reports whether a conversion is running.
func (d *Device) Measuring() (bool, error) {
	s, err := d.Status()
	return s&statusMeasuring != 0, err
}

// Updating reports whether NVM data is being copied to the image registers.
func (d *Device) Updating() (bool, error) {
	s, err := d.Status()
	return s&statusUpdating != 0, err
}

func (d *Device) Mode() Mode { return Mode(d.ctrlMeas & maskMode) }

func (d *Device) SetMode(m Mode) error {
	switch m {
	case Sleep, Forced, 2, Normal:
	default:
		return ErrMode
	}
	d.ctrlMeas = d.ctrlMeas&^maskMode | uint8(m)
	return d.write("bmx280.SetMode", regCtrlMeas, d.ctrlMeas)
}

// SetOversampling sets the OSR of one measurand. Humidity changes only take
// effect after CTRL_MEAS is written, so it is rewritten too.
func (d *Device) SetOversampling(what Measurand, osr Oversampling) error {
	if osr > X16 {
		return ErrOversampling
	}
	switch what {
	case Temperature:
		d.ctrlMeas = d.ctrlMeas&^maskOSRT | uint8(osr)<<5
	case Pressure:
		d.ctrlMeas = d.ctrlMeas&^maskOSRP | uint8(osr)<<2
	case Humidity:
		if !d.IsBME() {
			return ErrNoHumidity
		}
		d.ctrlHum = d.ctrlHum&^maskOSRH | uint8(osr)
		if err := d.write("bmx280.SetOversampling", regCtrlHum, d.ctrlHum); err != nil {
			return err
		}
	default:
		return errcode.InvalidParams
	}
	return d.write("bmx280.SetOversampling", regCtrlMeas, d.ctrlMeas)
}

// Oversampling returns the cached OSR of one measurand.
func (d *Device) Oversampling(what Measurand) Oversampling {
	switch what {
	case Temperature:
		return Oversampling(d.ctrlMeas & maskOSRT >> 5)
	case Pressure:
		return Oversampling(d.ctrlMeas & maskOSRP >> 2)
	case Humidity:
		return Oversampling(d.ctrlHum & maskOSRH)
	}
	return Skip
}

func (d *Device) SetStandby(s Standby) error {
	if s > 7 {
		return ErrStandby
	}
	d.config = d.config&^maskStandby | uint8(s)<<5
	return d.write("bmx280.SetStandby", regConfig, d.config)
}

func (d *Device) SetFilter(f Filter) error {
	if f > 4 {
		return ErrFilter
	}
	d.config = d.config&^maskFilter | uint8(f)<<2
	return d.write("bmx280.SetFilter", regConfig, d.config)
}

// Set3Wire enables the 3-wire SPI interface bit. It has no effect on I2C.
func (d *Device) Set3Wire(on bool) error {
	d.config &^= mask3Wire
	if on {
		d.config |= mask3Wire
	}
	return d.write("bmx280.Set3Wire", regConfig, d.config)
}

// Registers returns the cached CONFIG, CTRL_MEAS and CTRL_HUM values.
func (d *Device) Registers() (config, ctrlMeas, ctrlHum uint8) {
	return d.config, d.ctrlMeas, d.ctrlHum
}

// ReadRaw burst-reads the data registers.
func (d *Device) ReadRaw() (Raw, error) {
	n := 6
	if d.IsBME() {
		n = 8
	}
	b, err := d.read("bmx280.ReadRaw", regData, n)
	if err != nil {
		return Raw{}, err
	}
	r := Raw{
		Pressure:    int32(b[0])<<12 | int32(b[1])<<4 | int32(b[2])>>4,
		Temperature: int32(b[3])<<12 | int32(b[4])<<4 | int32(b[5])>>4,
	}
	if n == 8 {
		r.Humidity = int32(b[6])<<8 | int32(b[7])
	}
	return r, nil
}

// Read returns a compensated measurement. Outside normal mode a forced
// conversion is started first and STATUS is polled until it completes.
func (d *Device) Read() (Measurement, error) {
	if d.Mode() != Normal {
		if err := d.trigger(); err != nil {
			return Measurement{}, err
		}
	}
	raw, err := d.ReadRaw()
	if err != nil {
		return Measurement{}, err
	}
	return d.Compensate(raw), nil
}

func (d *Device) trigger() error {
	meas := d.ctrlMeas&^maskMode | uint8(Forced)
	if err := d.write("bmx280.Read", regCtrlMeas, meas); err != nil {
		return err
	}
	const poll = time.Millisecond
	for waited := time.Duration(0); ; waited += poll {
		busy, err := d.Measuring()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		if waited >= d.timeout {
			return &errcode.E{C: errcode.Timeout, Op: "bmx280.Read"}
		}
		d.sleep(poll)
	}
}

// Compensate converts raw readings with the chip's calibration.
func (d *Device) Compensate(raw Raw) Measurement {
	tf := d.calib.tFine(raw.Temperature)
	m := Measurement{
		Temperature: (tf*5 + 128) >> 8,
		Pressure:    d.calib.pressure(raw.Pressure, tf),
	}
	if d.IsBME() {
		m.Humidity = d.calib.humidity(raw.Humidity, tf)
	}
	return m
}

func (c *calibration) tFine(adcT int32) int32 {
	t1 := int32(c.t1)
	var1 := (((adcT >> 3) - (t1 << 1)) * int32(c.t2)) >> 11
	x := (adcT >> 4) - t1
	var2 := (((x * x) >> 12) * int32(c.t3)) >> 14
	return var1 + var2
}

func (c *calibration) pressure(adcP, tFine int32) uint32 {
	var1 := (tFine >> 1) - 64000
	var2 := (((var1 >> 2) * (var1 >> 2)) >> 11) * int32(c.p6)
	var2 += (var1 * int32(c.p5)) << 1
	var2 = (var2 >> 2) + (int32(c.p4) << 16)
	var1 = (((int32(c.p3) * (((var1 >> 2) * (var1 >> 2)) >> 13)) >> 3) + ((int32(c.p2) * var1) >> 1)) >> 18
	var1 = ((32768 + var1) * int32(c.p1)) >> 15
	if var1 == 0 {
		return 0
	}
	p := (uint32(1048576-adcP) - uint32(var2>>12)) * 3125
	if p < 0x80000000 {
		p = (p << 1) / uint32(var1)
	} else {
		p = (p / uint32(var1)) * 2
	}
	var1 = (int32(c.p9) * int32(((p>>3)*(p>>3))>>13)) >> 12
	var2 = (int32(p>>2) * int32(c.p8)) >> 13
	return uint32(int32(p) + ((var1 + var2 + int32(c.p7)) >> 4))
}

func (c *calibration) humidity(adcH, tFine int32) uint32 {
	v := tFine - 76800
	x1 := ((adcH << 14) - (int32(c.h4) << 20) - (int32(c.h5) * v) + 16384) >> 15
	x2 := (((((v*int32(c.h6))>>10)*(((v*int32(c.h3))>>11)+32768))>>10)+2097152)*int32(c.h2) + 8192
	v = x1 * (x2 >> 14)
	v -= ((((v >> 15) * (v >> 15)) >> 7) * int32(c.h1)) >> 4
	if v < 0 {
		v = 0
	}
	if v > 419430400 {
		v = 419430400
	}
	return uint32(v >> 12)
}
