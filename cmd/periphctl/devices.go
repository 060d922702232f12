package main

import (
	"picoperiph/config"
	"picoperiph/drivers/at24c32"
	"picoperiph/drivers/bmx280"
	"picoperiph/drivers/ds1307"
	"picoperiph/drivers/eeprom25xx640a"
	"picoperiph/drivers/max1415"
	"picoperiph/drivers/mcp49x2"
	"picoperiph/drivers/sn74hc165"
	"picoperiph/drivers/sram23lc1024"
	"picoperiph/errcode"
	"picoperiph/hal"
	"picoperiph/services/monitor"
	"picoperiph/spibus"
)

// device finds name on the board, or the first device of kind when name
// is empty.
func (a *app) device(kind, name string) (config.Device, error) {
	if name == "" {
		ds := a.board.OfKind(kind)
		if len(ds) == 0 {
			return config.Device{}, &errcode.E{C: errcode.InvalidParams, Op: "periphctl", Msg: "no " + kind + " on board " + a.board.Name}
		}
		return ds[0], nil
	}
	d, ok := a.board.Device(name)
	if !ok {
		return config.Device{}, &errcode.E{C: errcode.InvalidParams, Op: "periphctl", Msg: "no device " + name}
	}
	if d.Kind != kind {
		return config.Device{}, &errcode.E{C: errcode.InvalidParams, Op: "periphctl", Msg: name + " is a " + d.Kind + ", not a " + kind}
	}
	return d, nil
}

// pin returns the named extra line of d, or nil when the board leaves it
// out.
func (a *app) pin(d config.Device, name string) (hal.Pin, error) {
	n, ok := d.Pin(name)
	if !ok {
		return nil, nil
	}
	hw, err := a.buses()
	if err != nil {
		return nil, err
	}
	return hw.Pin(n)
}

func (a *app) pins(d config.Device, names ...string) ([]hal.Pin, error) {
	out := make([]hal.Pin, len(names))
	for i, n := range names {
		p, err := a.pin(d, n)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// spiDevice puts d behind a GPIO chip select when the board gives one and
// the controller's own chip select otherwise.
func (a *app) spiDevice(d config.Device) (*spibus.Device, error) {
	hw, err := a.buses()
	if err != nil {
		return nil, err
	}
	bus, err := hw.SPI()
	if err != nil {
		return nil, err
	}
	var cs hal.Pin
	if d.CS != nil {
		if cs, err = hw.Pin(*d.CS); err != nil {
			return nil, err
		}
	}
	return spibus.NewDevice(bus, cs)
}

func (a *app) rtcFor(d config.Device) (*ds1307.Device, error) {
	hw, err := a.buses()
	if err != nil {
		return nil, err
	}
	bus, err := hw.I2C()
	if err != nil {
		return nil, err
	}
	rtc := ds1307.New(bus)
	if err := rtc.Configure(ds1307.Config{Address: d.Address}); err != nil {
		return nil, err
	}
	return &rtc, nil
}

func (a *app) envFor(d config.Device) (*bmx280.Device, error) {
	hw, err := a.buses()
	if err != nil {
		return nil, err
	}
	bus, err := hw.I2C()
	if err != nil {
		return nil, err
	}
	env := bmx280.New(bus)
	if err := env.Configure(bmx280.Config{Address: d.Address}); err != nil {
		return nil, err
	}
	return &env, nil
}

func (a *app) at24For(d config.Device) (*at24c32.Device, error) {
	hw, err := a.buses()
	if err != nil {
		return nil, err
	}
	bus, err := hw.I2C()
	if err != nil {
		return nil, err
	}
	rom := at24c32.New(bus)
	if err := rom.Configure(at24c32.Config{Address: d.Address}); err != nil {
		return nil, err
	}
	return &rom, nil
}

func (a *app) eepromFor(d config.Device) (*eeprom25xx640a.Device, error) {
	dev, err := a.spiDevice(d)
	if err != nil {
		return nil, err
	}
	p, err := a.pins(d, "hold", "wp")
	if err != nil {
		return nil, err
	}
	rom := eeprom25xx640a.New(dev, eeprom25xx640a.Config{Hold: p[0], WP: p[1]})
	if err := rom.Initialize(); err != nil {
		return nil, err
	}
	return rom, nil
}

// sramFor needs a GPIO chip select: a sequential read spans several
// transfers and the hardware select drops between them.
func (a *app) sramFor(d config.Device) (*sram23lc1024.Device, error) {
	if d.CS == nil {
		return nil, &errcode.E{C: errcode.InvalidPin, Op: "periphctl.sram", Msg: d.Name + " needs a cs pin"}
	}
	dev, err := a.spiDevice(d)
	if err != nil {
		return nil, err
	}
	hold, err := a.pin(d, "hold")
	if err != nil {
		return nil, err
	}
	ram := sram23lc1024.New(sram23lc1024.Config{Comms: sram23lc1024.SPI, Bus: dev.Bus(), CS: dev.CS(), Hold: hold})
	if err := ram.Initialize(); err != nil {
		return nil, err
	}
	return ram, nil
}

var dacModels = map[string]mcp49x2.Model{
	"mcp4902": mcp49x2.MCP4902,
	"mcp4912": mcp49x2.MCP4912,
	"mcp4922": mcp49x2.MCP4922,
}

func (a *app) dacFor(d config.Device, model string) (*mcp49x2.Device, error) {
	m, ok := dacModels[model]
	if !ok {
		return nil, &errcode.E{C: errcode.Unsupported, Op: "periphctl.dac", Msg: "model " + model}
	}
	dev, err := a.spiDevice(d)
	if err != nil {
		return nil, err
	}
	ldac, err := a.pin(d, "ldac")
	if err != nil {
		return nil, err
	}
	return mcp49x2.New(dev, mcp49x2.Config{Model: m, LDAC: ldac, AutoLatch: true})
}

func (a *app) adcFor(d config.Device) (*max1415.Device, error) {
	dev, err := a.spiDevice(d)
	if err != nil {
		return nil, err
	}
	p, err := a.pins(d, "reset", "drdy")
	if err != nil {
		return nil, err
	}
	adc := max1415.New(dev, max1415.Config{Reset: p[0], DRDY: p[1]})
	if err := adc.Initialize(); err != nil {
		return nil, err
	}
	return adc, nil
}

func (a *app) inputsFor(d config.Device) (*sn74hc165.Device, error) {
	p, err := a.pins(d, "load", "clock", "data", "inhibit")
	if err != nil {
		return nil, err
	}
	return sn74hc165.New(sn74hc165.Config{Load: p[0], Clock: p[1], Data: p[2], Inhibit: p[3], Chain: d.Chain})
}

// adaptor is the monitor.Builder for host runs. Kinds with nothing to
// sample are skipped.
func (a *app) adaptor(_ *config.Board, d config.Device) (monitor.Adaptor, error) {
	switch d.Kind {
	case "ds1307":
		rtc, err := a.rtcFor(d)
		if err != nil {
			return nil, err
		}
		return monitor.NewRTC(d.Name, rtc), nil
	case "bmx280":
		env, err := a.envFor(d)
		if err != nil {
			return nil, err
		}
		return monitor.NewEnv(d.Name, env), nil
	case "max1415":
		adc, err := a.adcFor(d)
		if err != nil {
			return nil, err
		}
		return monitor.NewADC(d.Name, adc, d.VRef), nil
	case "sn74hc165":
		in, err := a.inputsFor(d)
		if err != nil {
			return nil, err
		}
		return monitor.NewInputs(d.Name, in), nil
	}
	return nil, nil
}
