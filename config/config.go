// Package config loads a board description: which I2C and SPI controllers
// are wired to which pins and which devices hang off them.
//
//	name: bench
//	i2c:
//	  - {port: 0, sda: 4, scl: 5, hz: 100000}
//	devices:
//	  - {name: rtc, kind: ds1307, bus: i2c0}
package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"picoperiph/drivers/hc12"
	"picoperiph/errcode"
	"picoperiph/hal"
	"picoperiph/i2cbus"
	"picoperiph/spibus"
	"picoperiph/x/strconvx"
	"picoperiph/x/strx"
)

const (
	DefaultI2CHz    = 100_000
	DefaultSPIBaud  = 1_000_000
	DefaultInterval = time.Second
	MinInterval     = 10 * time.Millisecond
)

type Board struct {
	Name    string   `yaml:"name"`
	Host    Host     `yaml:"host"`
	I2C     []I2C    `yaml:"i2c"`
	SPI     []SPI    `yaml:"spi"`
	Devices []Device `yaml:"devices"`
	Monitor Monitor  `yaml:"monitor"`
}

type Monitor struct {
	// Interval between sampling rounds, e.g. "500ms".
	Interval time.Duration `yaml:"interval"`
}

// Host selects the buses used when the board is driven from a Linux host
// rather than an RP2040.
type Host struct {
	Backend string `yaml:"backend"` // periph (default) or rpio
	I2C     string `yaml:"i2c"`     // periph bus name, "default" for the first
	SPI     string `yaml:"spi"`     // periph port name
	SPIHz   int64  `yaml:"spi_hz"`
	SPIMode uint8  `yaml:"spi_mode"`
	SPICS   uint8  `yaml:"spi_cs"` // rpio chip select
}

type I2C struct {
	Port int    `yaml:"port"`
	SDA  int    `yaml:"sda"`
	SCL  int    `yaml:"scl"`
	Hz   uint32 `yaml:"hz"`
}

type SPI struct {
	Port int    `yaml:"port"`
	SCK  int    `yaml:"sck"`
	MISO int    `yaml:"miso"`
	MOSI int    `yaml:"mosi"`
	Baud uint32 `yaml:"baud"`
}

// Device is one peripheral. Bus is "i2cN", "spiN", "uartN" or empty for
// GPIO-only parts; Pins names the extra lines the driver needs.
type Device struct {
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind"`
	Bus     string         `yaml:"bus"`
	Address uint16         `yaml:"address"`
	CS      *int           `yaml:"cs"`
	Pins    map[string]int `yaml:"pins"`
	// Chain is the number of cascaded shift registers.
	Chain int `yaml:"chain"`
	// VRef is the converter reference in volts.
	VRef float64 `yaml:"vref"`
}

type busType uint8

const (
	busNone busType = iota
	busI2C
	busSPI
	busUART
)

var busNames = [...]string{busNone: "", busI2C: "i2c", busSPI: "spi", busUART: "uart"}

type kindSpec struct {
	bus      busType
	addr     uint16
	vref     float64
	chain    bool
	required []string
	// pin name -> function; names not in required are optional
	pins map[string]hal.Func
}

var kinds = map[string]kindSpec{
	"ds1307":         {bus: busI2C, addr: 0x68},
	"bmx280":         {bus: busI2C, addr: 0x76},
	"at24c32":        {bus: busI2C, addr: 0x50},
	"mcp49x2":        {bus: busSPI, vref: 3.3, pins: map[string]hal.Func{"ldac": hal.FuncGPIOOut}},
	"max1415":        {bus: busSPI, vref: 2.5, pins: map[string]hal.Func{"reset": hal.FuncGPIOOut, "drdy": hal.FuncGPIOIn}},
	"eeprom25xx640a": {bus: busSPI, pins: map[string]hal.Func{"wp": hal.FuncGPIOOut, "hold": hal.FuncGPIOOut}},
	"sram23lc1024":   {bus: busSPI, pins: map[string]hal.Func{"hold": hal.FuncGPIOOut}},
	"nrf24l01":       {bus: busSPI, pins: map[string]hal.Func{"ce": hal.FuncGPIOOut, "irq": hal.FuncGPIOIn}},
	"sn74hc595": {
		chain:    true,
		required: []string{"data", "clock", "latch"},
		pins: map[string]hal.Func{
			"data": hal.FuncGPIOOut, "clock": hal.FuncGPIOOut, "latch": hal.FuncGPIOOut,
			"oe": hal.FuncGPIOOut, "clear": hal.FuncGPIOOut,
		},
	},
	"sn74hc165": {
		chain:    true,
		required: []string{"load", "clock", "data"},
		pins: map[string]hal.Func{
			"load": hal.FuncGPIOOut, "clock": hal.FuncGPIOOut, "data": hal.FuncGPIOIn,
			"inhibit": hal.FuncGPIOOut,
		},
	},
	"hc12": {
		bus:      busUART,
		required: []string{"tx", "rx"},
		pins:     map[string]hal.Func{"tx": hal.FuncUART, "rx": hal.FuncUART, "set": hal.FuncGPIOOut},
	},
}

// Kinds lists the device kinds a board file may name.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func invalid(c errcode.Code, format string, args ...any) error {
	return &errcode.E{C: c, Op: "config.Validate", Msg: fmt.Sprintf(format, args...)}
}

// Load reads and validates the board file at path.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

// Parse decodes YAML, fills defaults and validates. Unknown keys are an
// error.
func Parse(data []byte) (*Board, error) {
	var b Board
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "config.Parse", Err: err}
	}
	b.applyDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Board) applyDefaults() {
	b.Name = strx.Coalesce(b.Name, "board")
	b.Host.Backend = strx.Coalesce(b.Host.Backend, "periph")
	if b.Host.SPIHz == 0 {
		b.Host.SPIHz = DefaultSPIBaud
	}
	for i := range b.I2C {
		if b.I2C[i].Hz == 0 {
			b.I2C[i].Hz = DefaultI2CHz
		}
	}
	for i := range b.SPI {
		if b.SPI[i].Baud == 0 {
			b.SPI[i].Baud = DefaultSPIBaud
		}
	}
	if b.Monitor.Interval == 0 {
		b.Monitor.Interval = DefaultInterval
	}
	for i := range b.Devices {
		d := &b.Devices[i]
		spec, ok := kinds[d.Kind]
		if !ok {
			continue
		}
		if d.Address == 0 {
			d.Address = spec.addr
		}
		if d.VRef == 0 {
			d.VRef = spec.vref
		}
		if spec.chain && d.Chain == 0 {
			d.Chain = 1
		}
	}
}

// Validate checks every bus against the controller pin maps, every device
// against its kind, and that no pin is used twice.
func (b *Board) Validate() error {
	switch b.Host.Backend {
	case "periph", "rpio":
	default:
		return invalid(errcode.InvalidParams, "unknown host backend %q", b.Host.Backend)
	}
	if b.Host.SPIMode > 3 {
		return invalid(errcode.InvalidParams, "spi_mode %d", b.Host.SPIMode)
	}
	if b.Monitor.Interval < MinInterval {
		return invalid(errcode.InvalidParams, "monitor interval %v below %v", b.Monitor.Interval, MinInterval)
	}
	seen := make(map[string]bool)
	for _, c := range b.I2C {
		port, ok := i2cbus.PortForPins(c.SDA, c.SCL)
		if !ok || port != c.Port {
			return invalid(errcode.InvalidPin, "i2c%d: sda %d / scl %d", c.Port, c.SDA, c.SCL)
		}
		name := busNames[busI2C] + strconvx.Itoa(c.Port)
		if seen[name] {
			return invalid(errcode.BusInUse, "%s listed twice", name)
		}
		seen[name] = true
	}
	for _, c := range b.SPI {
		port, ok := spibus.PortForPins(c.SCK, c.MISO, c.MOSI)
		if !ok || port != c.Port {
			return invalid(errcode.InvalidPin, "spi%d: sck %d / miso %d / mosi %d", c.Port, c.SCK, c.MISO, c.MOSI)
		}
		name := busNames[busSPI] + strconvx.Itoa(c.Port)
		if seen[name] {
			return invalid(errcode.BusInUse, "%s listed twice", name)
		}
		seen[name] = true
	}
	names := make(map[string]bool)
	for i, d := range b.Devices {
		if d.Name == "" {
			return invalid(errcode.InvalidParams, "devices[%d]: missing name", i)
		}
		if names[d.Name] {
			return invalid(errcode.Conflict, "device %q listed twice", d.Name)
		}
		names[d.Name] = true
		if err := b.checkDevice(d, seen); err != nil {
			return err
		}
	}
	return b.Claim(hal.NewRegistry())
}

func (b *Board) checkDevice(d Device, buses map[string]bool) error {
	spec, ok := kinds[d.Kind]
	if !ok {
		return invalid(errcode.Unsupported, "%s: unknown kind %q", d.Name, d.Kind)
	}
	bt, port, err := parseBus(d.Bus)
	if err != nil {
		return invalid(errcode.UnknownBus, "%s: bus %q", d.Name, d.Bus)
	}
	if bt != spec.bus {
		return invalid(errcode.InvalidParams, "%s: %s needs a %s bus, got %q", d.Name, d.Kind, strx.Coalesce(busNames[spec.bus], "no"), d.Bus)
	}
	if (bt == busI2C || bt == busSPI) && !buses[d.Bus] {
		return invalid(errcode.UnknownBus, "%s: bus %s not defined", d.Name, d.Bus)
	}
	if bt == busI2C && (d.Address > 0x7F || !i2cbus.IsValidAddress(uint8(d.Address))) {
		return invalid(errcode.InvalidAddress, "%s: address 0x%02x", d.Name, d.Address)
	}
	if d.Chain < 0 || (d.Chain > 0 && !spec.chain) {
		return invalid(errcode.InvalidParams, "%s: chain %d", d.Name, d.Chain)
	}
	if d.VRef < 0 {
		return invalid(errcode.InvalidParams, "%s: vref %v", d.Name, d.VRef)
	}
	if d.CS != nil && bt != busSPI {
		return invalid(errcode.InvalidParams, "%s: cs on a non-SPI device", d.Name)
	}
	for name := range d.Pins {
		if _, ok := spec.pins[name]; !ok {
			return invalid(errcode.InvalidParams, "%s: %s has no %q pin", d.Name, d.Kind, name)
		}
	}
	for _, name := range spec.required {
		if _, ok := d.Pins[name]; !ok {
			return invalid(errcode.InvalidParams, "%s: missing %q pin", d.Name, name)
		}
	}
	if bt == busUART && !hc12.ValidUARTPins(port, d.Pins["tx"], d.Pins["rx"]) {
		return invalid(errcode.InvalidPin, "%s: tx %d / rx %d not on %s", d.Name, d.Pins["tx"], d.Pins["rx"], d.Bus)
	}
	return nil
}

// Claim records every pin the board uses in reg, failing with
// errcode.PinInUse on the first pin two users want.
func (b *Board) Claim(reg *hal.Registry) error {
	for _, c := range b.I2C {
		owner := "i2c" + strconvx.Itoa(c.Port)
		if err := reg.ClaimPins(owner, hal.FuncI2C, c.SDA, c.SCL); err != nil {
			return claimErr(owner, err)
		}
	}
	for _, c := range b.SPI {
		owner := "spi" + strconvx.Itoa(c.Port)
		if err := reg.ClaimPins(owner, hal.FuncSPI, c.SCK, c.MISO, c.MOSI); err != nil {
			return claimErr(owner, err)
		}
	}
	for _, d := range b.Devices {
		if d.CS != nil {
			if err := reg.ClaimPin(d.Name, *d.CS, hal.FuncGPIOOut); err != nil {
				return claimErr(d.Name+" cs", err)
			}
		}
		spec := kinds[d.Kind]
		for _, name := range sortedKeys(d.Pins) {
			if err := reg.ClaimPin(d.Name, d.Pins[name], spec.pins[name]); err != nil {
				return claimErr(d.Name+" "+name, err)
			}
		}
	}
	return nil
}

func claimErr(who string, err error) error {
	return &errcode.E{C: errcode.Of(err), Op: "config.Claim", Msg: who, Err: err}
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// parseBus splits "i2c0", "spi1" or "uart0". An empty name is busNone.
func parseBus(s string) (busType, int, error) {
	if s == "" {
		return busNone, 0, nil
	}
	for bt := busI2C; bt <= busUART; bt++ {
		prefix := busNames[bt]
		if !strings.HasPrefix(s, prefix) {
			continue
		}
		n, err := strconvx.Atoi(s[len(prefix):])
		if err != nil || n < 0 || n > 1 {
			return busNone, 0, errcode.UnknownBus
		}
		return bt, n, nil
	}
	return busNone, 0, errcode.UnknownBus
}

// Device returns the device called name.
func (b *Board) Device(name string) (Device, bool) {
	for _, d := range b.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// OfKind returns the devices of one kind in file order.
func (b *Board) OfKind(kind string) []Device {
	var out []Device
	for _, d := range b.Devices {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Pin returns the named extra pin, if set.
func (d Device) Pin(name string) (int, bool) {
	n, ok := d.Pins[name]
	return n, ok
}
