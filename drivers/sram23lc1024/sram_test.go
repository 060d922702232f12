package sram23lc1024

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picoperiph/errcode"
	"picoperiph/hal/haltest"
)

// chip is a 23LC1024 at pin level (for the bit-banged paths) and at byte
// level (haltest.SPIDevice, for a hardware port). Outputs change after the
// falling clock edge and inputs are sampled on the rising edge.
type chip struct {
	mem   [Size]byte
	mode  Mode
	comms Comms
	stuck bool // ignore WRMR

	si, so, sio2, hold *haltest.FakePin

	selected bool
	in       []byte
	cur      byte
	nbits    int
	pending  bool
	out      bool
	outByte  byte
	outBits  int
	addr     int
	src      func() byte
}

func newChip() *chip { return &chip{mode: ModeSeq} }

func (c *chip) width() int {
	switch c.comms {
	case SDI:
		return 2
	case SQI:
		return 4
	}
	return 1
}

func (c *chip) inLines() []*haltest.FakePin {
	switch c.comms {
	case SDI:
		return []*haltest.FakePin{c.si, c.so}
	case SQI:
		return []*haltest.FakePin{c.si, c.so, c.sio2, c.hold}
	}
	return []*haltest.FakePin{c.si}
}

func (c *chip) outLines() []*haltest.FakePin {
	if c.comms == SPI {
		return []*haltest.FakePin{c.so}
	}
	return c.inLines()
}

func (c *chip) Select(active bool) {
	if c.selected && !active && len(c.in) == 1 {
		switch c.in[0] {
		case cmdEDIO:
			if c.comms == SPI {
				c.comms = SDI
			}
		case cmdEQIO:
			if c.comms == SPI {
				c.comms = SQI
			}
		case cmdRSTIO:
			c.comms = SPI
		}
	}
	c.selected = active
	c.in, c.cur, c.nbits = nil, 0, 0
	c.pending, c.out = false, false
}

func (c *chip) byteIn(b byte) {
	c.in = append(c.in, b)
	n := len(c.in)
	switch c.in[0] {
	case cmdRead:
		if n == 4 {
			c.setAddr()
		}
		need := 4
		if c.comms != SPI {
			need = 5
		}
		if n == need {
			c.pending = true
			c.src = func() byte {
				v := c.mem[c.addr]
				c.addr = (c.addr + 1) % Size
				return v
			}
		}
	case cmdWrite:
		if n == 4 {
			c.setAddr()
		}
		if n > 4 {
			c.mem[c.addr] = b
			c.addr = (c.addr + 1) % Size
		}
	case cmdRDMR:
		if n == 1 {
			c.pending = true
			c.src = func() byte { return byte(c.mode) }
		}
	case cmdWRMR:
		if n == 2 && !c.stuck {
			c.mode = Mode(b)
		}
	}
}

func (c *chip) setAddr() {
	c.addr = (int(c.in[1])<<16 | int(c.in[2])<<8 | int(c.in[3])) % Size
}

func (c *chip) rise() {
	if !c.selected || c.out || c.pending {
		return
	}
	lines := c.inLines()
	for i := len(lines) - 1; i >= 0; i-- {
		c.cur <<= 1
		if lines[i].Get() {
			c.cur |= 1
		}
	}
	c.nbits += len(lines)
	if c.nbits >= 8 {
		c.byteIn(c.cur)
		c.cur, c.nbits = 0, 0
	}
}

func (c *chip) fall() {
	if !c.selected {
		return
	}
	switch {
	case c.pending:
		c.pending, c.out = false, true
		c.outByte, c.outBits = c.src(), 0
	case c.out:
		c.outBits += c.width()
		if c.outBits >= 8 {
			c.outByte, c.outBits = c.src(), 0
		}
	default:
		return
	}
	shift := 8 - c.width() - c.outBits
	for i, p := range c.outLines() {
		p.Drive(c.outByte>>uint(shift+i)&1 != 0)
	}
}

func (c *chip) Exchange(w byte) byte {
	if c.out {
		b := c.outByte
		c.outByte = c.src()
		return b
	}
	c.byteIn(w)
	if c.pending {
		c.pending, c.out = false, true
		c.outByte = c.src()
	}
	return 0
}

func noSleep(time.Duration) {}

func bitBanged(t *testing.T, comms Comms, start Comms) (*Device, *chip, *haltest.FakePin) {
	t.Helper()
	c := newChip()
	c.comms = start
	cs, sck := haltest.NewPin(1), haltest.NewPin(2)
	c.si, c.so, c.sio2, c.hold = haltest.NewPin(3), haltest.NewPin(4), haltest.NewPin(5), haltest.NewPin(6)
	cs.OnSet = func(level bool) { c.Select(!level) }
	sck.OnSet = func(level bool) {
		if level {
			c.rise()
		} else {
			c.fall()
		}
	}
	d := New(Config{
		Comms: comms,
		CS:    cs,
		SCK:   sck,
		SI:    c.si,
		SO:    c.so,
		SIO2:  c.sio2,
		Hold:  c.hold,
		Sleep: noSleep,
	})
	return d, c, cs
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestInitializeEachComms(t *testing.T) {
	for _, comms := range []Comms{SPI, SDI, SQI} {
		// Start the chip in quad mode to exercise the reset sequence.
		d, c, _ := bitBanged(t, comms, SQI)
		require.NoError(t, d.Initialize(), "comms %d", comms)
		assert.Equal(t, comms, c.comms)
		assert.Equal(t, ModeSeq, c.mode)

		data := pattern(40)
		_, err := d.WriteAt(data, 0x1FFF0)
		require.NoError(t, err)
		assert.Equal(t, data[:16], c.mem[0x1FFF0:])
		assert.Equal(t, data[16:], c.mem[:24], "sequential writes wrap")

		got := make([]byte, 40)
		_, err = d.ReadAt(got, 0x1FFF0)
		require.NoError(t, err)
		assert.Equal(t, data, got, "comms %d", comms)
		assert.Equal(t, 0x1FFF0+39-Size, d.LastAddress())
		assert.Equal(t, 0x1FFF0+40-Size, d.NextAddress())
	}
}

func TestHardwareSPI(t *testing.T) {
	c := newChip()
	cs := haltest.NewPin(17)
	haltest.WireCS(cs, c)
	bus := &haltest.SPI{Dev: c}
	d := New(Config{Bus: bus, CS: cs})
	require.NoError(t, d.Initialize())
	assert.Equal(t, byte(cmdRSTIO), bus.Sent()[0])

	require.NoError(t, d.StartWrite(0x100))
	require.NoError(t, d.Write([]byte{0xDE, 0xAD}))
	require.NoError(t, d.WriteByte(0xBE))
	require.NoError(t, d.Stop())
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE}, c.mem[0x100:0x103])

	require.NoError(t, d.StartRead(0x101))
	b, err := d.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0xAD), b)
	require.NoError(t, d.Stop())
}

func TestCommsCheckFails(t *testing.T) {
	d, c, _ := bitBanged(t, SDI, SPI)
	c.stuck = true
	err := d.Initialize()
	assert.ErrorIs(t, err, errcode.CommsCheck)
	assert.ErrorIs(t, err, ErrCommsCheck)
}

func TestConfigValidation(t *testing.T) {
	d := New(Config{Comms: SQI, CS: haltest.NewPin(1), SCK: haltest.NewPin(2), SI: haltest.NewPin(3), SO: haltest.NewPin(4)})
	assert.ErrorIs(t, d.Initialize(), ErrSIO2NotDefined)

	d = New(Config{Comms: SDI, CS: haltest.NewPin(1), Bus: &haltest.SPI{}})
	assert.ErrorIs(t, d.Initialize(), ErrNoPins)

	_, err := New(Config{CS: haltest.NewPin(1)}).ReadMode()
	assert.ErrorIs(t, err, errcode.NotInitialized)
}

func TestStateMachine(t *testing.T) {
	d, _, _ := bitBanged(t, SPI, SPI)
	require.NoError(t, d.Initialize())

	assert.ErrorIs(t, d.Read(make([]byte, 1)), ErrIdle)
	assert.ErrorIs(t, d.Stop(), ErrIdle)
	assert.ErrorIs(t, d.StartRead(Size), ErrInvalidAddress)
	assert.ErrorIs(t, d.StartRead(-1), ErrInvalidAddress)

	require.NoError(t, d.StartRead(0))
	assert.True(t, d.Reading())
	assert.ErrorIs(t, d.StartWrite(0), ErrBusy)
	assert.ErrorIs(t, d.Write([]byte{1}), ErrNotWriting)
	_, err := d.ReadMode()
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, d.Hold())
	assert.Equal(t, uint8(StateReading|StateHeld), d.Status())
	assert.ErrorIs(t, d.Hold(), ErrHeld)
	assert.ErrorIs(t, d.Stop(), ErrHeld)
	require.NoError(t, d.Unhold())
	assert.ErrorIs(t, d.Unhold(), ErrNotHeld)
	require.NoError(t, d.Stop())
	assert.True(t, d.Idle())
}

func TestHoldRefusedInQuadMode(t *testing.T) {
	d, _, _ := bitBanged(t, SQI, SPI)
	require.NoError(t, d.Initialize())
	require.NoError(t, d.StartRead(0))
	assert.ErrorIs(t, d.Hold(), ErrInvalidMode)
	require.NoError(t, d.Stop())
}
