package at24c32

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picoperiph/errcode"
)

var errNack = errors.New("nack")

// chip models the 16-bit addressed array. Page writes roll over inside the
// page the way the part does.
type chip struct {
	mem    [Size]byte
	writes [][]byte
	err    error
}

func (c *chip) Tx(addr uint16, w, r []byte) error {
	if c.err != nil {
		return c.err
	}
	if addr != Address {
		return errNack
	}
	if len(w) < 2 {
		return errors.New("short address")
	}
	at := (int(w[0])<<8 | int(w[1])) % Size
	if len(w) > 2 {
		c.writes = append(c.writes, append([]byte(nil), w...))
		base := at &^ (PageSize - 1)
		for i, b := range w[2:] {
			c.mem[base+(at+i)%PageSize] = b
		}
	}
	for i := range r {
		r[i] = c.mem[(at+i)%Size]
	}
	return nil
}

func newDevice(t *testing.T) (*Device, *chip, *time.Duration) {
	t.Helper()
	c := &chip{}
	var slept time.Duration
	d := New(c)
	require.NoError(t, d.Configure(Config{Sleep: func(d time.Duration) { slept += d }}))
	return &d, c, &slept
}

func TestWriteSplitsAtPageBoundaries(t *testing.T) {
	d, c, slept := newDevice(t)
	data := make([]byte, 70)
	for i := range data {
		data[i] = byte(i + 1)
	}
	require.NoError(t, d.Write(20, data))

	// 20..31, 32..63, 64..89
	require.Len(t, c.writes, 3)
	assert.Equal(t, []byte{0, 20}, c.writes[0][:2])
	assert.Len(t, c.writes[0], 2+12)
	assert.Equal(t, []byte{0, 32}, c.writes[1][:2])
	assert.Len(t, c.writes[1], 2+32)
	assert.Equal(t, []byte{0, 64}, c.writes[2][:2])
	assert.Len(t, c.writes[2], 2+26)
	assert.Equal(t, 3*WriteCycle, *slept)

	got := make([]byte, 70)
	require.NoError(t, d.Read(20, got))
	assert.Equal(t, data, got)
}

func TestBounds(t *testing.T) {
	d, _, _ := newDevice(t)
	assert.ErrorIs(t, d.Read(Size, make([]byte, 1)), ErrInvalidAddress)
	assert.ErrorIs(t, d.Read(0, nil), ErrInvalidLength)
	assert.ErrorIs(t, d.Read(0, make([]byte, Size+1)), ErrInvalidLength)
	assert.ErrorIs(t, d.Write(-1, []byte{1}), ErrInvalidAddress)
	assert.ErrorIs(t, d.Write(MaxAddress, []byte{1, 2}), ErrInvalidLength)
	require.NoError(t, d.WriteByte(MaxAddress, 0xAA))

	v, err := d.ReadByte(MaxAddress)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), v)
}

func TestReaderAtWriterAt(t *testing.T) {
	d, _, _ := newDevice(t)
	n, err := d.WriteAt([]byte("hello"), Size-3)
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, 3, n)

	buf := make([]byte, 8)
	n, err = d.ReadAt(buf, Size-3)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "hel", string(buf[:n]))

	_, err = d.ReadAt(buf, Size)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBusErrors(t *testing.T) {
	c := &chip{}
	d := New(c)
	err := d.Configure(Config{Address: 0x57})
	assert.ErrorIs(t, err, errcode.BusError)

	require.NoError(t, d.Configure(Config{Address: Address}))
	c.err = errNack
	err = d.Write(0, []byte{1})
	assert.ErrorIs(t, err, errNack)
	assert.Equal(t, "at24c32.Write: bus_error: nack", err.Error())
}
