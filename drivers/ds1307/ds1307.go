// Package ds1307 drives the DS1307 I2C real-time clock: BCD time registers,
// the clock-halt bit, 12/24 hour modes, the SQW/OUT pin and 56 bytes of
// battery-backed RAM.
package ds1307

import (
	"errors"
	"time"

	"picoperiph/errcode"

	"tinygo.org/x/drivers"
)

// Address is the fixed I2C address.
const Address = 0x68

// RAMSize is the number of general purpose bytes at 0x08..0x3F.
const RAMSize = 56

const (
	regSeconds = 0x00
	regMinutes = 0x01
	regHours   = 0x02
	regDay     = 0x03
	regDate    = 0x04
	regMonth   = 0x05
	regYear    = 0x06
	regControl = 0x07
	regRAM     = 0x08

	maskClockHalt = 0x80
	mask12h       = 0x40
	maskPM        = 0x20
	mask12hTens   = 0x10
	mask24hTens   = 0x30

	ctrlOut  = 0x80
	ctrlSQWE = 0x10
	ctrlRS   = 0x03
)

// Rate selects the square wave frequency on SQW/OUT.
type Rate uint8

const (
	Rate1Hz   Rate = 0x00
	Rate4kHz  Rate = 0x01 // 4.096 kHz
	Rate8kHz  Rate = 0x02 // 8.192 kHz
	Rate32kHz Rate = 0x03 // 32.768 kHz
)

var (
	ErrInvalidRAM  = errors.New("ds1307: RAM access out of range")
	ErrInvalidRate = errors.New("ds1307: invalid square wave rate")
	ErrInvalidYear = errors.New("ds1307: year outside 2000..2099")
)

// Config is optional.
type Config struct {
	// Address defaults to 0x68 if zero.
	Address uint16
}

// Device is a DS1307 on an I2C bus.
type Device struct {
	bus     drivers.I2C
	Address uint16

	is12h bool
	buf   [8]byte
}

// New creates the Device without touching the chip.
func New(bus drivers.I2C) Device {
	return Device{bus: bus, Address: Address}
}

// Configure applies cfg and probes the chip by reading the hour mode.
func (d *Device) Configure(cfg Config) error {
	if cfg.Address != 0 {
		d.Address = cfg.Address
	}
	_, err := d.Is12Hour()
	return err
}

func (d *Device) read(op string, reg uint8, n int) ([]byte, error) {
	b := d.buf[:n]
	if err := d.bus.Tx(d.Address, []byte{reg}, b); err != nil {
		return nil, errcode.Wrap(op, err)
	}
	return b, nil
}

func (d *Device) write(op string, reg uint8, data ...byte) error {
	w := append([]byte{reg}, data...)
	return errcode.Wrap(op, d.bus.Tx(d.Address, w, nil))
}

func (d *Device) readByte(op string, reg uint8) (byte, error) {
	b, err := d.read(op, reg, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Is12Hour reports the hour register mode.
func (d *Device) Is12Hour() (bool, error) {
	h, err := d.readByte("ds1307.Is12Hour", regHours)
	if err != nil {
		return false, err
	}
	d.is12h = h&mask12h != 0
	return d.is12h, nil
}

func (d *Device) Seconds() (int, error) {
	b, err := d.readByte("ds1307.Seconds", regSeconds)
	if err != nil {
		return 0, err
	}
	return fromBCD(b &^ maskClockHalt), nil
}

func (d *Device) Minutes() (int, error) {
	b, err := d.readByte("ds1307.Minutes", regMinutes)
	if err != nil {
		return 0, err
	}
	return fromBCD(b & 0x7F), nil
}

// Hour24 returns the hour as 0..23 whichever mode the chip is in.
func (d *Device) Hour24() (int, error) {
	b, err := d.readByte("ds1307.Hour24", regHours)
	if err != nil {
		return 0, err
	}
	d.is12h = b&mask12h != 0
	return decodeHour(b), nil
}

// Hour12 returns the hour as 1..12 and whether it is PM.
func (d *Device) Hour12() (hour int, pm bool, err error) {
	h, err := d.Hour24()
	if err != nil {
		return 0, false, err
	}
	hour, pm = to12(h)
	return hour, pm, nil
}

// Weekday reads the day register (1..7, 1 = Sunday).
func (d *Device) Weekday() (time.Weekday, error) {
	b, err := d.readByte("ds1307.Weekday", regDay)
	if err != nil {
		return 0, err
	}
	return weekdayFrom(b), nil
}

func (d *Device) Date() (int, error) {
	b, err := d.readByte("ds1307.Date", regDate)
	if err != nil {
		return 0, err
	}
	return fromBCD(b & 0x3F), nil
}

func (d *Device) Month() (time.Month, error) {
	b, err := d.readByte("ds1307.Month", regMonth)
	if err != nil {
		return 0, err
	}
	return time.Month(fromBCD(b & 0x1F)), nil
}

// Year returns 2000 + the two-digit year register.
func (d *Device) Year() (int, error) {
	b, err := d.readByte("ds1307.Year", regYear)
	if err != nil {
		return 0, err
	}
	return 2000 + fromBCD(b), nil
}

// Now reads all time registers in one burst.
func (d *Device) Now() (time.Time, error) {
	b, err := d.read("ds1307.Now", regSeconds, 7)
	if err != nil {
		return time.Time{}, err
	}
	d.is12h = b[2]&mask12h != 0
	return time.Date(
		2000+fromBCD(b[6]),
		time.Month(fromBCD(b[5]&0x1F)),
		fromBCD(b[4]&0x3F),
		decodeHour(b[2]),
		fromBCD(b[1]&0x7F),
		fromBCD(b[0]&^maskClockHalt),
		0, time.UTC), nil
}

// SetTime writes t (as UTC wall time) and starts the oscillator. The current
// 12/24 hour mode is kept.
func (d *Device) SetTime(t time.Time) error {
	t = t.UTC()
	if t.Year() < 2000 || t.Year() > 2099 {
		return ErrInvalidYear
	}
	return d.write("ds1307.SetTime", regSeconds,
		toBCD(t.Second()),
		toBCD(t.Minute()),
		encodeHour(t.Hour(), d.is12h),
		byte(t.Weekday())+1,
		toBCD(t.Day()),
		toBCD(int(t.Month())),
		toBCD(t.Year()-2000),
	)
}

// Set24Hour switches the hour register mode, converting the stored hour.
func (d *Device) Set24Hour(on bool) error {
	b, err := d.readByte("ds1307.Set24Hour", regHours)
	if err != nil {
		return err
	}
	d.is12h = !on
	return d.write("ds1307.Set24Hour", regHours, encodeHour(decodeHour(b), !on))
}

// Running reports whether the oscillator runs (CH clear).
func (d *Device) Running() (bool, error) {
	b, err := d.readByte("ds1307.Running", regSeconds)
	if err != nil {
		return false, err
	}
	return b&maskClockHalt == 0, nil
}

// Halt stops the oscillator; the seconds value is kept.
func (d *Device) Halt() error { return d.setHalt(true) }

// Start restarts the oscillator.
func (d *Device) Start() error { return d.setHalt(false) }

func (d *Device) setHalt(halt bool) error {
	b, err := d.readByte("ds1307.setHalt", regSeconds)
	if err != nil {
		return err
	}
	if halt {
		b |= maskClockHalt
	} else {
		b &^= maskClockHalt
	}
	return d.write("ds1307.setHalt", regSeconds, b)
}

// SetSquareWave enables or disables the SQW/OUT square wave. A disabled
// output idles at the OUT level.
func (d *Device) SetSquareWave(enabled bool, rate Rate) error {
	if rate > Rate32kHz {
		return ErrInvalidRate
	}
	c, err := d.readByte("ds1307.SetSquareWave", regControl)
	if err != nil {
		return err
	}
	c &^= ctrlSQWE | ctrlRS
	if enabled {
		c |= ctrlSQWE | byte(rate)
	}
	return d.write("ds1307.SetSquareWave", regControl, c)
}

// SetOutput disables the square wave and drives SQW/OUT to level.
func (d *Device) SetOutput(level bool) error {
	var c byte
	if level {
		c = ctrlOut
	}
	return d.write("ds1307.SetOutput", regControl, c)
}

// Control returns the raw control register.
func (d *Device) Control() (byte, error) {
	return d.readByte("ds1307.Control", regControl)
}

// ReadRAM fills buf from RAM starting at offset.
func (d *Device) ReadRAM(offset int, buf []byte) error {
	if offset < 0 || len(buf) == 0 || offset+len(buf) > RAMSize {
		return ErrInvalidRAM
	}
	return errcode.Wrap("ds1307.ReadRAM", d.bus.Tx(d.Address, []byte{byte(regRAM + offset)}, buf))
}

// WriteRAM stores data in RAM starting at offset.
func (d *Device) WriteRAM(offset int, data []byte) error {
	if offset < 0 || len(data) == 0 || offset+len(data) > RAMSize {
		return ErrInvalidRAM
	}
	return d.write("ds1307.WriteRAM", byte(regRAM+offset), data...)
}

// ---- encoding helpers ----

func fromBCD(b byte) int { return int(b>>4)*10 + int(b&0x0F) }

func toBCD(v int) byte { return byte(v/10)<<4 | byte(v%10) }

// decodeHour returns 0..23 from a raw hour register in either mode.
// 12 AM is 0 and 12 PM is 12.
func decodeHour(b byte) int {
	if b&mask12h == 0 {
		return fromBCD(b & (mask24hTens | 0x0F))
	}
	h := fromBCD(b & (mask12hTens | 0x0F))
	if h == 12 {
		h = 0
	}
	if b&maskPM != 0 {
		h += 12
	}
	return h
}

func encodeHour(h24 int, twelve bool) byte {
	if !twelve {
		return toBCD(h24)
	}
	h, pm := to12(h24)
	b := mask12h | toBCD(h)
	if pm {
		b |= maskPM
	}
	return b
}

func to12(h24 int) (int, bool) {
	pm := h24 >= 12
	h := h24 % 12
	if h == 0 {
		h = 12
	}
	return h, pm
}

func weekdayFrom(b byte) time.Weekday {
	if b < 1 || b > 7 {
		return time.Sunday
	}
	return time.Weekday(b - 1)
}
