package eeprom25xx640a

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picoperiph/hal/haltest"
	"picoperiph/spibus"
)

// chip models the 25xx640A command set closely enough to check framing:
// writes are buffered per frame and committed on deselect only when the
// latch was set, with page roll-over.
type chip struct {
	mem    [Size]byte
	status byte

	active  bool
	frame   []byte
	pending map[int]byte
	pages   int
}

func newChip() *chip { return &chip{pending: map[int]byte{}} }

func (c *chip) Select(active bool) {
	if c.active && !active {
		c.commit()
	}
	c.active = active
	c.frame = nil
}

func (c *chip) commit() {
	if len(c.frame) == 0 {
		return
	}
	switch c.frame[0] {
	case cmdWREN:
		c.status |= StatusWEL
	case cmdWRDI:
		c.status &^= StatusWEL
	case cmdWRSR:
		if c.status&StatusWEL != 0 && len(c.frame) == 2 {
			c.status = c.frame[1]&(StatusWPEN|StatusBP) | c.status&StatusWEL
			c.status &^= StatusWEL
		}
	case cmdWrite:
		if c.status&StatusWEL != 0 && len(c.pending) > 0 {
			for a, v := range c.pending {
				c.mem[a] = v
			}
			c.pages++
		}
		c.status &^= StatusWEL
	}
	c.pending = map[int]byte{}
}

func (c *chip) addr() int { return (int(c.frame[1])<<8 | int(c.frame[2])) % Size }

func (c *chip) Exchange(w byte) byte {
	c.frame = append(c.frame, w)
	n := len(c.frame)
	switch c.frame[0] {
	case cmdRDSR:
		if n >= 2 {
			return c.status
		}
	case cmdRead:
		if n > 3 {
			return c.mem[(c.addr()+n-4)%Size]
		}
	case cmdWrite:
		if n > 3 {
			a := c.addr()
			base := a &^ (PageSize - 1)
			c.pending[base+(a+n-4)%PageSize] = w
		}
	}
	return 0
}

func newDevice(t *testing.T) (*Device, *chip, *haltest.FakePin, *haltest.FakePin) {
	t.Helper()
	c := newChip()
	cs := haltest.NewPin(5)
	haltest.WireCS(cs, c)
	dev, err := spibus.NewDevice(&haltest.SPI{Dev: c}, cs)
	require.NoError(t, err)
	hold, wp := haltest.NewPin(6), haltest.NewPin(7)
	d := New(dev, Config{Hold: hold, WP: wp, Sleep: func(time.Duration) {}})
	require.NoError(t, d.Initialize())
	return d, c, hold, wp
}

func TestSPIClockForVCC(t *testing.T) {
	assert.Equal(t, uint32(10_000_000), SPIClockForVCC(5))
	assert.Equal(t, uint32(5_000_000), SPIClockForVCC(3.3))
	assert.Equal(t, uint32(3_000_000), SPIClockForVCC(1.8))
}

func TestWriteAcrossPagesAndReadBack(t *testing.T) {
	d, c, _, _ := newDevice(t)
	data := make([]byte, 80)
	for i := range data {
		data[i] = byte(0xA0 + i)
	}
	n, err := d.WriteAt(data, 0x0F0)
	require.NoError(t, err)
	assert.Equal(t, 80, n)
	// 0xF0..0xFF, 0x100..0x11F, 0x120..0x13F
	assert.Equal(t, 3, c.pages)
	assert.Equal(t, data, c.mem[0x0F0:0x0F0+80])

	got := make([]byte, 80)
	_, err = d.ReadAt(got, 0x0F0)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStreamingStateMachine(t *testing.T) {
	d, _, _, _ := newDevice(t)
	assert.ErrorIs(t, d.Read(make([]byte, 1)), ErrNotReading)
	assert.ErrorIs(t, d.Write([]byte{1}), ErrNotWriting)
	assert.ErrorIs(t, d.Stop(), ErrIdle)
	assert.ErrorIs(t, d.StartRead(Size), ErrInvalidAddress)

	require.NoError(t, d.StartRead(MaxAddress))
	assert.ErrorIs(t, d.StartWrite(0), ErrBusy)
	_, err := d.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, 0, d.NextAddress(), "address wraps")
	require.NoError(t, d.Stop())
}

func TestHold(t *testing.T) {
	d, _, hold, _ := newDevice(t)
	assert.ErrorIs(t, d.Hold(), ErrIdle)
	require.NoError(t, d.StartRead(0))
	require.NoError(t, d.Hold())
	assert.False(t, hold.Get())
	assert.ErrorIs(t, d.Hold(), ErrHeld)
	assert.ErrorIs(t, d.Read(make([]byte, 1)), ErrHeld)
	assert.ErrorIs(t, d.Stop(), ErrHeld)
	require.NoError(t, d.Unhold())
	assert.True(t, hold.Get())
	assert.ErrorIs(t, d.Unhold(), ErrNotHeld)
	require.NoError(t, d.Stop())

	dev, err := spibus.NewDevice(&haltest.SPI{}, nil)
	require.NoError(t, err)
	bare := New(dev, Config{})
	require.NoError(t, bare.StartRead(0))
	assert.ErrorIs(t, bare.Hold(), ErrHoldNotDefined)
}

func TestBlockProtect(t *testing.T) {
	d, c, _, _ := newDevice(t)
	require.NoError(t, d.SetBlockProtect(ProtectUpperQuarter))
	assert.Equal(t, byte(0x04), c.status&StatusBP)
	assert.Equal(t, ProtectUpperQuarter, d.BlockProtect())
	assert.False(t, d.IsProtected(0x17FF))
	assert.True(t, d.IsProtected(0x1800))
	assert.True(t, d.IsProtected(-1))

	assert.ErrorIs(t, d.StartWrite(0x1800), ErrWriteProtected)
	require.NoError(t, d.StartWrite(0x17FE))
	assert.ErrorIs(t, d.Write([]byte{1, 2, 3}), ErrWriteProtected)
	require.NoError(t, d.Stop())
	assert.Equal(t, []byte{1, 2}, c.mem[0x17FE:0x1800])

	require.NoError(t, d.SetBlockProtect(ProtectUpperHalf))
	assert.True(t, d.IsProtected(0x1000))
	assert.ErrorIs(t, d.SetBlockProtect(4), ErrInvalidBlock)
}

func TestWriteProtect(t *testing.T) {
	d, c, _, wp := newDevice(t)
	assert.ErrorIs(t, d.SetWriteProtect(false), ErrNotWriteProtected)
	assert.False(t, d.IsWriteProtected())
	require.NoError(t, d.SetWriteProtect(true))
	assert.True(t, d.IsWriteProtected())
	assert.NotZero(t, c.status&StatusWPEN)
	assert.False(t, wp.Get())
	assert.ErrorIs(t, d.SetBlockProtect(ProtectAll), ErrWriteProtected)
	assert.ErrorIs(t, d.SetWriteProtect(true), ErrWriteProtected)

	require.NoError(t, d.SetWriteProtect(false))
	assert.Zero(t, c.status&StatusWPEN)
	assert.True(t, wp.Get())
}

func TestWaitReadyTimesOut(t *testing.T) {
	d, c, _, _ := newDevice(t)
	c.status |= StatusWIP
	assert.Error(t, d.WaitReady())
}

func TestWriteAtReportsCommittedBytes(t *testing.T) {
	d, c, _, _ := newDevice(t)
	require.NoError(t, d.SetBlockProtect(ProtectUpperQuarter))
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i + 1)
	}
	// 0x17F0..0x17FF lands, 0x1800 is protected.
	n, err := d.WriteAt(data, 0x17F0)
	assert.ErrorIs(t, err, ErrWriteProtected)
	assert.Equal(t, 16, n)
	assert.Equal(t, data[:16], c.mem[0x17F0:0x1800])
	assert.Zero(t, c.mem[0x1800])
}

func TestInitializeReadsWPENWithoutPin(t *testing.T) {
	c := newChip()
	c.status = StatusWPEN
	cs := haltest.NewPin(5)
	haltest.WireCS(cs, c)
	dev, err := spibus.NewDevice(&haltest.SPI{Dev: c}, cs)
	require.NoError(t, err)
	d := New(dev, Config{Sleep: func(time.Duration) {}})
	require.NoError(t, d.Initialize())
	assert.True(t, d.IsWriteProtected())
	assert.ErrorIs(t, d.SetBlockProtect(ProtectAll), ErrWriteProtected)

	require.NoError(t, d.SetWriteProtect(false))
	assert.False(t, d.IsWriteProtected())
	assert.Zero(t, c.status&StatusWPEN)
}
