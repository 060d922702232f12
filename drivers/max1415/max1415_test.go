package max1415

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picoperiph/errcode"
	"picoperiph/hal/haltest"
	"picoperiph/spibus"
)

type setupWrite struct {
	ch Channel
	v  byte
}

// chip follows the comms register protocol byte by byte. A conversion
// started by clearing FSYNC completes after delay comms polls, or on the
// next clock sleep when DRDY is wired.
type chip struct {
	setup   byte
	clock   byte
	standby bool
	values  [2]uint16
	delay   int
	stuck   bool
	drdy    *haltest.FakePin

	ones   int
	polls  int
	setups []setupWrite

	target  int // -1 while the next byte is a comms write
	reading bool
	ch      Channel
	out     []byte
	ready   bool
	remain  int
}

func newChip() *chip { return &chip{target: -1, setup: setupFSYNC} }

func (c *chip) Select(bool) {}

func (c *chip) start() {
	c.ready, c.remain = false, c.delay
	if c.drdy != nil {
		c.drdy.Drive(true)
	}
}

func (c *chip) finish() {
	if c.stuck {
		return
	}
	c.ready = true
	if c.drdy != nil {
		c.drdy.Drive(false)
	}
}

func (c *chip) converting() bool { return c.setup&setupFSYNC == 0 && !c.ready }

func (c *chip) Exchange(w byte) byte {
	if c.target < 0 {
		if w == 0xFF {
			c.ones += 8
			return 0
		}
		c.ch = Channel(w & commsChannel)
		c.standby = w&commsStandby != 0
		reg := int(w & commsRegSel)
		c.reading = w&commsRead != 0
		if reg == RegComms && !c.reading {
			return 0
		}
		c.target = reg
		if c.reading {
			c.out = c.readout(reg, w)
		}
		return 0
	}
	if c.reading {
		b := c.out[0]
		c.out = c.out[1:]
		if len(c.out) == 0 {
			c.target = -1
		}
		return b
	}
	switch c.target {
	case RegSetup:
		c.setup = w
		c.setups = append(c.setups, setupWrite{c.ch, w})
		if w&setupFSYNC == 0 {
			c.start()
		}
	case RegClock:
		c.clock = w
	}
	c.target = -1
	return 0
}

func (c *chip) readout(reg int, comms byte) []byte {
	switch reg {
	case RegComms:
		c.polls++
		if c.converting() {
			if c.remain <= 0 {
				c.finish()
			} else {
				c.remain--
			}
		}
		v := comms &^ (commsRead | commsDRDY)
		if !c.ready {
			v |= commsDRDY
		}
		return []byte{v}
	case RegSetup:
		return []byte{c.setup}
	case RegClock:
		return []byte{c.clock}
	case RegData:
		v := c.values[c.ch]
		c.start()
		return []byte{byte(v >> 8), byte(v)}
	}
	return []byte{0}
}

func newDevice(t *testing.T, c *chip, cfg Config) *Device {
	t.Helper()
	cs := haltest.NewPin(9)
	haltest.WireCS(cs, c)
	dev, err := spibus.NewDevice(&haltest.SPI{Dev: c}, cs)
	require.NoError(t, err)
	if cfg.Clock == nil {
		cfg.Clock = haltest.NewClock()
	}
	return New(dev, cfg)
}

func TestInitializeCalibratesBothChannels(t *testing.T) {
	c := newChip()
	c.delay = 2
	d := newDevice(t, c, Config{MasterClock: Clock2_4576MHz, Rate: Rate1})
	require.NoError(t, d.Initialize())

	assert.Equal(t, 32, c.ones)
	assert.Equal(t, byte(0x80|0x20|0x10|0x04|0x01), c.clock)
	assert.Equal(t, []setupWrite{
		{A, 0x40 | setupUnipolar},
		{B, 0x40 | setupUnipolar},
		{B, setupUnipolar | setupFSYNC},
	}, c.setups)
	assert.Equal(t, 6, c.polls, "three polls per calibration")
}

func TestReadRawSingleShot(t *testing.T) {
	c := newChip()
	d := newDevice(t, c, Config{})
	require.NoError(t, d.Initialize())
	c.setups = nil
	c.values[A] = 0x1234

	v, err := d.ReadRaw(A)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)
	assert.Equal(t, []setupWrite{
		{A, setupUnipolar},
		{A, setupUnipolar | setupFSYNC},
	}, c.setups)

	_, err = d.ReadRaw(2)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestReadRawFreeRunning(t *testing.T) {
	c := newChip()
	d := newDevice(t, c, Config{})
	require.NoError(t, d.Initialize())
	require.NoError(t, d.SetFreeRunning(B, true))
	c.setups = nil
	c.values = [2]uint16{0x1111, 0xBEEF}

	a, b, err := d.ReadRawBoth(B)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1111), a)
	assert.Equal(t, uint16(0xBEEF), b)
	// The converter keeps running across the channel switch.
	assert.Empty(t, c.setups)
}

func TestDRDYPin(t *testing.T) {
	c := newChip()
	c.drdy = haltest.NewPin(20)
	clk := haltest.NewClock()
	clk.OnSleep = func(time.Duration) {
		if c.converting() {
			c.finish()
		}
	}
	d := newDevice(t, c, Config{DRDY: c.drdy, Reset: haltest.NewPin(21), Clock: clk})
	require.NoError(t, d.Initialize())
	c.values[B] = 0x8000

	v, err := d.ReadRaw(B)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x8000), v)
	assert.Zero(t, c.polls)
	assert.False(t, c.drdy.IsOutput())
}

func TestWaitReadyTimesOut(t *testing.T) {
	c := newChip()
	d := newDevice(t, c, Config{Timeout: 10 * time.Millisecond})
	require.NoError(t, d.Initialize())
	c.stuck = true
	_, err := d.ReadRaw(A)
	assert.ErrorIs(t, err, errcode.Timeout)
}

func TestVolts(t *testing.T) {
	d := newDevice(t, newChip(), Config{})
	assert.InDelta(t, 1.0, d.Volts(A, 32768, 2.0), 1e-6)
	require.NoError(t, d.SetGain(A, Gain2))
	assert.InDelta(t, 0.5, d.Volts(A, 32768, 2.0), 1e-6)
	require.NoError(t, d.SetPolarity(A, false))
	assert.InDelta(t, 0.5, d.Volts(A, 49152, 2.0), 1e-6)
	assert.InDelta(t, -1.0, d.Volts(A, 0, 2.0), 1e-6)
	assert.Equal(t, 128, Gain128.Factor())
}

func TestSettingsRewriteOnlyWhenFreeRunning(t *testing.T) {
	c := newChip()
	d := newDevice(t, c, Config{})
	require.NoError(t, d.Initialize())

	c.setups = nil
	require.NoError(t, d.SetGain(B, Gain4))
	assert.Empty(t, c.setups, "converter idle")

	require.NoError(t, d.SetFreeRunning(A, true))
	c.setups = nil
	require.NoError(t, d.SetGain(A, Gain8))
	require.NoError(t, d.SetBuffered(B, true))
	require.NoError(t, d.SetPolarity(A, false))
	assert.Equal(t, []setupWrite{
		{A, 3<<3 | setupUnipolar},
		{A, 3 << 3},
	}, c.setups)

	assert.ErrorIs(t, d.SetGain(A, 8), ErrInvalidGain)
	assert.ErrorIs(t, d.SetBuffered(3, true), ErrInvalidChannel)
	assert.ErrorIs(t, d.Calibrate(A, ModeNormal), ErrInvalidMode)
}

func TestUpdateRateAndClock(t *testing.T) {
	assert.Equal(t, 100, RateHz(Clock1MHz, Rate2))
	assert.Equal(t, 60, RateHz(Clock2_4576MHz, Rate1))
	assert.Zero(t, RateHz(Clock1MHz, 4))

	c := newChip()
	d := newDevice(t, c, Config{MasterClock: Clock2_4576MHz})
	hz, err := d.SetUpdateRate(Rate3)
	require.NoError(t, err)
	assert.Equal(t, 500, hz)
	assert.Equal(t, byte(Rate3), c.clock&clockFilter)
	_, err = d.SetUpdateRate(4)
	assert.ErrorIs(t, err, ErrInvalidRate)

	require.NoError(t, d.SetClockOutput(true))
	assert.Zero(t, c.clock&clockDisable)
	require.NoError(t, d.SetClockDivide(true))
	assert.NotZero(t, c.clock&clockDivide)
}

func TestStandby(t *testing.T) {
	c := newChip()
	d := newDevice(t, c, Config{})
	require.NoError(t, d.Standby(true))
	assert.True(t, c.standby)
	v, err := d.ReadRegister(RegClock)
	require.NoError(t, err)
	assert.Equal(t, c.clock, v)
	assert.True(t, c.standby, "every comms write carries the standby bit")
	require.NoError(t, d.Standby(false))
	assert.False(t, c.standby)

	_, err = d.ReadRegister(RegData)
	assert.ErrorIs(t, err, errcode.InvalidParams)
}

func TestBusError(t *testing.T) {
	dev, err := spibus.NewDevice(&haltest.SPI{Err: errors.New("nack")}, nil)
	require.NoError(t, err)
	d := New(dev, Config{Clock: haltest.NewClock()})
	err = d.Initialize()
	assert.EqualError(t, err, "max1415.Reset: bus_error: nack")
	assert.ErrorIs(t, err, errcode.BusError)
}
