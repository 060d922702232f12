package main

import (
	"sync"

	"picoperiph/config"
	"picoperiph/errcode"
	"picoperiph/hal"
	"picoperiph/hal/periphhost"
	"picoperiph/hal/rpihost"

	"tinygo.org/x/drivers"
)

// backend is the host side of a board: one I2C bus, one SPI bus and the
// GPIO lines named by number.
type backend interface {
	I2C() (drivers.I2C, error)
	SPI() (drivers.SPI, error)
	Pin(n int) (hal.Pin, error)
	Close() error
}

func openBackend(name string, h config.Host) (backend, error) {
	switch name {
	case "periph":
		return &periphBackend{host: h}, nil
	case "rpio":
		if err := rpihost.Open(); err != nil {
			return nil, err
		}
		return &rpioBackend{host: h}, nil
	}
	return nil, &errcode.E{C: errcode.InvalidParams, Op: "periphctl.backend", Msg: name}
}

// periphBackend opens the buses on first use.
type periphBackend struct {
	host config.Host

	once sync.Once
	h    *periphhost.Host
	err  error
}

func (b *periphBackend) open() (*periphhost.Host, error) {
	b.once.Do(func() {
		b.h, b.err = periphhost.Open(b.host.I2C, b.host.SPI, b.host.SPIHz)
	})
	return b.h, b.err
}

func (b *periphBackend) I2C() (drivers.I2C, error) {
	h, err := b.open()
	if err != nil {
		return nil, err
	}
	if h.I2C == nil {
		return nil, &errcode.E{C: errcode.UnknownBus, Op: "periphctl.I2C", Msg: "host.i2c not set"}
	}
	return h.I2C, nil
}

func (b *periphBackend) SPI() (drivers.SPI, error) {
	h, err := b.open()
	if err != nil {
		return nil, err
	}
	if h.SPI == nil {
		return nil, &errcode.E{C: errcode.UnknownBus, Op: "periphctl.SPI", Msg: "host.spi not set"}
	}
	return h.SPI, nil
}

func (b *periphBackend) Pin(n int) (hal.Pin, error) {
	h, err := b.open()
	if err != nil {
		return nil, err
	}
	return pinFrom(h.Pins, n)
}

func (b *periphBackend) Close() error {
	if b.h == nil {
		return nil
	}
	return b.h.Close()
}

// rpioBackend has no I2C; the BCM2835 registers go-rpio maps only cover
// GPIO and SPI0.
type rpioBackend struct {
	host config.Host
	spi  drivers.SPI
}

func (b *rpioBackend) I2C() (drivers.I2C, error) {
	return nil, &errcode.E{C: errcode.Unsupported, Op: "periphctl.I2C", Msg: "rpio backend has no I2C"}
}

func (b *rpioBackend) SPI() (drivers.SPI, error) {
	if b.spi != nil {
		return b.spi, nil
	}
	s, err := rpihost.SPI(b.host.SPICS, int(b.host.SPIHz), b.host.SPIMode)
	if err != nil {
		return nil, err
	}
	b.spi = s
	return s, nil
}

func (b *rpioBackend) Pin(n int) (hal.Pin, error) { return pinFrom(rpihost.Pins{}, n) }

func (b *rpioBackend) Close() error { return rpihost.Close(b.spi != nil) }

func pinFrom(f hal.PinFactory, n int) (hal.Pin, error) {
	p, ok := f.ByNumber(n)
	if !ok {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: "periphctl.Pin", Msg: "no such line"}
	}
	return p, nil
}
