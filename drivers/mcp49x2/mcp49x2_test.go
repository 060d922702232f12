package mcp49x2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picoperiph/hal/haltest"
	"picoperiph/spibus"
)

type rig struct {
	dac    *Device
	frames *haltest.Frames
	ldac   *haltest.FakePin
	shdn   *haltest.FakePin
}

func newRig(t *testing.T, cfg Config) rig {
	t.Helper()
	frames := &haltest.Frames{}
	cs := haltest.NewPin(17)
	haltest.WireCS(cs, frames)
	dev, err := spibus.NewDevice(&haltest.SPI{Dev: frames}, cs)
	require.NoError(t, err)

	r := rig{frames: frames, ldac: haltest.NewPin(20), shdn: haltest.NewPin(21)}
	if cfg.LDAC == nil {
		cfg.LDAC = r.ldac
	}
	if cfg.SHDN == nil {
		cfg.SHDN = r.shdn
	}
	r.dac, err = New(dev, cfg)
	require.NoError(t, err)
	return r
}

func TestCommandWord(t *testing.T) {
	cases := []struct {
		model Model
		value uint16
		want  []byte
	}{
		{MCP4922, 0x0800, []byte{0x38, 0x00}},
		{MCP4912, 0x03FF, []byte{0x3F, 0xFC}},
		{MCP4902, 0x00AB, []byte{0x3A, 0xB0}},
	}
	for _, c := range cases {
		r := newRig(t, Config{Model: c.model})
		require.NoError(t, r.dac.SetValue(A, c.value))
		assert.Equal(t, c.want, r.frames.Last(), "model %d", c.model)
	}
}

func TestSettingsBits(t *testing.T) {
	r := newRig(t, Config{Model: MCP4922})
	require.NoError(t, r.dac.SetGain(B, Gain2x))
	assert.Equal(t, uint16(0x8000|0x1000), r.dac.Command(B), "2x clears GA")

	require.NoError(t, r.dac.SetBuffered(B, true))
	require.NoError(t, r.dac.Shutdown(B))
	assert.Equal(t, uint16(0x8000|0x4000), r.dac.Command(B))
	assert.False(t, r.dac.Active(B))
	assert.Equal(t, []byte{0xC0, 0x00}, r.frames.Last())

	require.NoError(t, r.dac.Activate(B))
	assert.True(t, r.dac.Active(B))
}

func TestValueRange(t *testing.T) {
	r := newRig(t, Config{Model: MCP4912})
	assert.ErrorIs(t, r.dac.SetValue(A, 0x400), ErrInvalidValue)
	assert.ErrorIs(t, r.dac.SetValue(2, 1), ErrInvalidChannel)
	assert.ErrorIs(t, r.dac.SetValues(1, 0x400, A), ErrInvalidValue)
	assert.Empty(t, r.frames.All())
}

func TestSetValuesOrder(t *testing.T) {
	r := newRig(t, Config{Model: MCP4922})
	require.NoError(t, r.dac.SetValues(1, 2, B))
	all := r.frames.All()
	require.Len(t, all, 2)
	assert.Equal(t, byte(0xB0), all[0][0], "channel B first")
	assert.Equal(t, byte(0x30), all[1][0])
	assert.Equal(t, uint16(2), r.dac.Value(B))
}

func TestSetVoltage(t *testing.T) {
	r := newRig(t, Config{Model: MCP4922})
	require.NoError(t, r.dac.SetVoltage(A, 1.65, 3.3))
	assert.Equal(t, uint16(2048), r.dac.Value(A))

	require.NoError(t, r.dac.SetVoltage(A, 5, 3.3))
	assert.Equal(t, uint16(0x0FFF), r.dac.Value(A), "clamped")

	require.NoError(t, r.dac.SetGain(A, Gain2x))
	require.NoError(t, r.dac.SetVoltage(A, 3.3, 3.3))
	assert.Equal(t, uint16(2048), r.dac.Value(A))

	assert.ErrorIs(t, r.dac.SetVoltage(A, 1, 0), ErrInvalidValue)
}

func TestLatchAndShutdownPins(t *testing.T) {
	r := newRig(t, Config{Model: MCP4902})
	assert.True(t, r.ldac.Get(), "LDAC idles high")
	require.NoError(t, r.dac.Latch())
	assert.Equal(t, []bool{false, true}, r.ldac.History())

	require.NoError(t, r.dac.ShutdownAll(true))
	assert.False(t, r.shdn.Get())
	assert.Empty(t, r.frames.All())
	require.NoError(t, r.dac.ShutdownAll(false))
	assert.True(t, r.shdn.Get())
	assert.Len(t, r.frames.All(), 2, "release rewrites both channels")
}

func TestAutoLatch(t *testing.T) {
	r := newRig(t, Config{Model: MCP4922, AutoLatch: true})
	require.NoError(t, r.dac.SetValue(A, 10))
	assert.Equal(t, 1, r.ldac.Pulses())
}

func TestMissingPins(t *testing.T) {
	frames := &haltest.Frames{}
	dev, err := spibus.NewDevice(&haltest.SPI{Dev: frames}, nil)
	require.NoError(t, err)
	dac, err := New(dev, Config{Model: MCP4922})
	require.NoError(t, err)
	assert.ErrorIs(t, dac.Latch(), ErrNoLDAC)
	assert.ErrorIs(t, dac.ShutdownAll(true), ErrNoSHDN)
}
