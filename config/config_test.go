package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picoperiph/errcode"
	"picoperiph/hal"
)

const bench = `
name: bench
monitor: {interval: 250ms}
host:
  i2c: default
  spi: /dev/spidev0.0
i2c:
  - {port: 0, sda: 4, scl: 5}
spi:
  - {port: 0, sck: 18, miso: 16, mosi: 19, baud: 2000000}
devices:
  - {name: rtc, kind: ds1307, bus: i2c0}
  - {name: env, kind: bmx280, bus: i2c0, address: 0x77}
  - {name: rom, kind: eeprom25xx640a, bus: spi0, cs: 17}
  - name: leds
    kind: sn74hc595
    pins: {data: 2, clock: 3, latch: 6}
  - name: radio
    kind: hc12
    bus: uart1
    pins: {tx: 8, rx: 9, set: 10}
`

func TestParseBench(t *testing.T) {
	b, err := Parse([]byte(bench))
	require.NoError(t, err)
	assert.Equal(t, "bench", b.Name)
	assert.Equal(t, "periph", b.Host.Backend)
	assert.Equal(t, int64(DefaultSPIBaud), b.Host.SPIHz)
	assert.Equal(t, uint32(DefaultI2CHz), b.I2C[0].Hz)
	assert.Equal(t, uint32(2_000_000), b.SPI[0].Baud)
	assert.Equal(t, 250*time.Millisecond, b.Monitor.Interval)

	rtc, ok := b.Device("rtc")
	require.True(t, ok)
	assert.Equal(t, uint16(0x68), rtc.Address)
	env, _ := b.Device("env")
	assert.Equal(t, uint16(0x77), env.Address)

	leds := b.OfKind("sn74hc595")
	require.Len(t, leds, 1)
	assert.Equal(t, 1, leds[0].Chain)
	n, ok := leds[0].Pin("latch")
	assert.True(t, ok)
	assert.Equal(t, 6, n)
	_, ok = b.Device("nope")
	assert.False(t, ok)
}

func TestClaimRecordsFunctions(t *testing.T) {
	b, err := Parse([]byte(bench))
	require.NoError(t, err)
	reg := hal.NewRegistry()
	require.NoError(t, b.Claim(reg))

	cases := []struct {
		pin   int
		owner string
		fn    hal.Func
	}{
		{4, "i2c0", hal.FuncI2C},
		{19, "spi0", hal.FuncSPI},
		{17, "rom", hal.FuncGPIOOut},
		{3, "leds", hal.FuncGPIOOut},
		{8, "radio", hal.FuncUART},
	}
	for _, c := range cases {
		owner, fn, ok := reg.Owner(c.pin)
		require.True(t, ok, "pin %d", c.pin)
		assert.Equal(t, c.owner, owner)
		assert.Equal(t, c.fn, fn)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want errcode.Code
	}{
		{"i2c pins", "i2c: [{port: 0, sda: 2, scl: 3}]", errcode.InvalidPin},
		{"i2c port mismatch", "i2c: [{port: 1, sda: 4, scl: 5}]", errcode.InvalidPin},
		{"bus twice", "i2c: [{port: 0, sda: 4, scl: 5}, {port: 0, sda: 8, scl: 9}]", errcode.BusInUse},
		{"spi pins", "spi: [{port: 0, sck: 10, miso: 16, mosi: 19}]", errcode.InvalidPin},
		{"unknown kind", "devices: [{name: x, kind: lcd}]", errcode.Unsupported},
		{"missing name", "devices: [{kind: sn74hc595}]", errcode.InvalidParams},
		{"undefined bus", "devices: [{name: x, kind: ds1307, bus: i2c1}]", errcode.UnknownBus},
		{"bad bus", "devices: [{name: x, kind: ds1307, bus: can0}]", errcode.UnknownBus},
		{"wrong bus type", "spi: [{port: 0, sck: 18, miso: 16, mosi: 19}]\ndevices: [{name: x, kind: ds1307, bus: spi0}]", errcode.InvalidParams},
		{"reserved address", "i2c: [{port: 0, sda: 4, scl: 5}]\ndevices: [{name: x, kind: ds1307, bus: i2c0, address: 0x79}]", errcode.InvalidAddress},
		{"missing pin", "devices: [{name: x, kind: sn74hc595, pins: {data: 1, clock: 2}}]", errcode.InvalidParams},
		{"unknown pin", "devices: [{name: x, kind: sn74hc595, pins: {data: 1, clock: 2, latch: 3, bogus: 4}}]", errcode.InvalidParams},
		{"uart pins", "devices: [{name: x, kind: hc12, bus: uart0, pins: {tx: 4, rx: 5}}]", errcode.InvalidPin},
		{"duplicate device", "devices: [{name: x, kind: sn74hc595, pins: {data: 1, clock: 2, latch: 3}}, {name: x, kind: sn74hc595, pins: {data: 6, clock: 7, latch: 8}}]", errcode.Conflict},
		{"pin shared", "i2c: [{port: 0, sda: 4, scl: 5}]\ndevices: [{name: x, kind: sn74hc595, pins: {data: 4, clock: 2, latch: 3}}]", errcode.PinInUse},
		{"backend", "host: {backend: ftdi}", errcode.InvalidParams},
		{"interval", "monitor: {interval: 1ms}", errcode.InvalidParams},
		{"chain on i2c part", "i2c: [{port: 0, sda: 4, scl: 5}]\ndevices: [{name: x, kind: ds1307, bus: i2c0, chain: 2}]", errcode.InvalidParams},
		{"unknown key", "colour: red", errcode.InvalidParams},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.yaml))
			require.Error(t, err)
			assert.Equal(t, c.want, errcode.Of(err), "%v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bench), 0o644))
	b, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, b.Devices, 5)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKinds(t *testing.T) {
	k := Kinds()
	assert.Contains(t, k, "max1415")
	assert.Equal(t, "at24c32", k[0])
}
