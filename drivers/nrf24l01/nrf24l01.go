// Package nrf24l01 gives register-level access to the nRF24L01(+) 2.4 GHz
// transceiver: the command set, register map, power and channel control.
// Packet transport is not implemented.
package nrf24l01

import (
	"errors"
	"time"

	"picoperiph/errcode"
	"picoperiph/hal"
	"picoperiph/spibus"
)

// SPI commands. Every command clocks STATUS back in its first byte.
const (
	CmdReadRegister   = 0x00 // 000a aaaa
	CmdWriteRegister  = 0x20 // 001a aaaa
	CmdReadRXPayload  = 0x61
	CmdWriteTXPayload = 0xA0
	CmdFlushTX        = 0xE1
	CmdFlushRX        = 0xE2
	CmdReuseTXPL      = 0xE3
	CmdActivate       = 0x50 // followed by 0x73
	CmdReadRXPLWidth  = 0x60
	CmdWriteACKPL     = 0xA8 // 1010 1ppp
	CmdWriteTXNoACK   = 0xB0
	CmdNOP            = 0xFF

	regMask = 0x1F
)

// Register map.
const (
	RegConfig     = 0x00
	RegEnableAA   = 0x01
	RegEnableRX   = 0x02
	RegSetupAW    = 0x03
	RegSetupRetr  = 0x04
	RegRFChannel  = 0x05
	RegRFSetup    = 0x06
	RegStatus     = 0x07
	RegObserveTX  = 0x08
	RegCD         = 0x09 // RPD on the nRF24L01+
	RegRXAddrP0   = 0x0A
	RegRXAddrP1   = 0x0B
	RegRXAddrP2   = 0x0C
	RegRXAddrP3   = 0x0D
	RegRXAddrP4   = 0x0E
	RegRXAddrP5   = 0x0F
	RegTXAddr     = 0x10
	RegRXPWP0     = 0x11
	RegRXPWP1     = 0x12
	RegRXPWP2     = 0x13
	RegRXPWP3     = 0x14
	RegRXPWP4     = 0x15
	RegRXPWP5     = 0x16
	RegFIFOStatus = 0x17
	RegDynPD      = 0x1C
	RegFeature    = 0x1D
)

// CONFIG bits.
const (
	ConfigMaskRXDR  = 0x40
	ConfigMaskTXDS  = 0x20
	ConfigMaskMaxRT = 0x10
	ConfigEnCRC     = 0x08
	ConfigCRCO      = 0x04
	ConfigPwrUp     = 0x02
	ConfigPrimRX    = 0x01
)

// STATUS bits.
const (
	StatusRXDR   = 0x40
	StatusTXDS   = 0x20
	StatusMaxRT  = 0x10
	StatusRXPNo  = 0x0E
	StatusTXFull = 0x01
)

const (
	MaxChannel = 125
	// PowerUpDelay is Tpd2stby with the internal oscillator.
	PowerUpDelay = 1500 * time.Microsecond
	// SETUP_AW after reset: 5-byte addresses.
	resetSetupAW = 0x03
	probeSetupAW = 0x01
)

var (
	ErrInvalidChannel  = errors.New("nrf24l01: channel above 125")
	ErrInvalidRegister = errors.New("nrf24l01: invalid register")
	ErrNoResponse      = &errcode.E{C: errcode.NoResponse, Op: "nrf24l01.Initialize", Msg: "SETUP_AW did not read back"}
)

// Status is the STATUS register returned by every command.
type Status uint8

func (s Status) RXReady() bool  { return s&StatusRXDR != 0 }
func (s Status) TXSent() bool   { return s&StatusTXDS != 0 }
func (s Status) MaxRetry() bool { return s&StatusMaxRT != 0 }
func (s Status) TXFull() bool   { return s&StatusTXFull != 0 }

// Pipe is the pipe of the payload at the head of the RX FIFO, or -1 when
// the FIFO is empty.
func (s Status) Pipe() int {
	p := int(s&StatusRXPNo) >> 1
	if p > 5 {
		return -1
	}
	return p
}

type Config struct {
	CE  hal.Pin // chip enable, active high
	IRQ hal.Pin // optional, active low
	// Sleep covers the power-up delay. Default time.Sleep.
	Sleep func(time.Duration)
}

type Device struct {
	dev   *spibus.Device
	cfg   Config
	sleep func(time.Duration)

	buf [6]byte
	rx  [6]byte
}

func New(dev *spibus.Device, cfg Config) *Device {
	return &Device{dev: dev, cfg: cfg, sleep: hal.SleepOr(cfg.Sleep)}
}

// Initialize parks CE low and checks that the chip answers by writing a
// different address width and reading it back.
func (d *Device) Initialize() error {
	if p := d.cfg.CE; p != nil {
		if err := p.ConfigureOutput(false); err != nil {
			return err
		}
	}
	if p := d.cfg.IRQ; p != nil {
		if err := p.ConfigureInput(hal.PullUp); err != nil {
			return err
		}
	}
	if err := d.WriteRegister(RegSetupAW, probeSetupAW); err != nil {
		return err
	}
	v, err := d.ReadRegister(RegSetupAW)
	if err != nil {
		return err
	}
	if v != probeSetupAW {
		return ErrNoResponse
	}
	return d.WriteRegister(RegSetupAW, resetSetupAW)
}

// command sends cmd followed by data and returns STATUS. When r is non-nil
// the bytes clocked back after STATUS are copied into it.
func (d *Device) command(op string, cmd byte, data, r []byte) (Status, error) {
	n := 1 + len(data)
	if len(r)+1 > n {
		n = len(r) + 1
	}
	if n > len(d.buf) {
		return 0, ErrInvalidRegister
	}
	w := d.buf[:n]
	w[0] = cmd
	for i := 1; i < n; i++ {
		w[i] = CmdNOP
	}
	copy(w[1:], data)
	rx := d.rx[:n]
	if err := d.dev.Tx(w, rx); err != nil {
		return 0, errcode.Wrap(op, err)
	}
	copy(r, rx[1:])
	return Status(rx[0]), nil
}

func checkReg(reg uint8) error {
	if reg > RegFIFOStatus && reg != RegDynPD && reg != RegFeature {
		return ErrInvalidRegister
	}
	return nil
}

func (d *Device) ReadRegister(reg uint8) (uint8, error) {
	if err := checkReg(reg); err != nil {
		return 0, err
	}
	var b [1]byte
	_, err := d.command("nrf24l01.ReadRegister", CmdReadRegister|reg&regMask, nil, b[:])
	return b[0], err
}

// ReadRegisterN reads a multi-byte register such as an address; up to 5
// bytes, least significant first.
func (d *Device) ReadRegisterN(reg uint8, r []byte) error {
	if err := checkReg(reg); err != nil {
		return err
	}
	_, err := d.command("nrf24l01.ReadRegister", CmdReadRegister|reg&regMask, nil, r)
	return err
}

// WriteRegister writes one byte, or an address when more follow.
func (d *Device) WriteRegister(reg uint8, v ...byte) error {
	if err := checkReg(reg); err != nil {
		return err
	}
	if len(v) == 0 {
		return errcode.InvalidParams
	}
	_, err := d.command("nrf24l01.WriteRegister", CmdWriteRegister|reg&regMask, v, nil)
	return err
}

// Status clocks a NOP and returns STATUS.
func (d *Device) Status() (Status, error) {
	return d.command("nrf24l01.Status", CmdNOP, nil, nil)
}

// ClearInterrupts writes back the RX_DR, TX_DS and MAX_RT flags that are
// set in mask.
func (d *Device) ClearInterrupts(mask Status) error {
	return d.WriteRegister(RegStatus, byte(mask)&(StatusRXDR|StatusTXDS|StatusMaxRT))
}

func (d *Device) SetChannel(ch uint8) error {
	if ch > MaxChannel {
		return ErrInvalidChannel
	}
	return d.WriteRegister(RegRFChannel, ch)
}

func (d *Device) Channel() (uint8, error) { return d.ReadRegister(RegRFChannel) }

// SetPowerUp sets or clears PWR_UP, waiting out the start-up time on the
// way up.
func (d *Device) SetPowerUp(on bool) error {
	cfg, err := d.ReadRegister(RegConfig)
	if err != nil {
		return err
	}
	if on {
		cfg |= ConfigPwrUp
	} else {
		cfg &^= ConfigPwrUp
	}
	if err := d.WriteRegister(RegConfig, cfg); err != nil {
		return err
	}
	if on {
		d.sleep(PowerUpDelay)
	}
	return nil
}

func (d *Device) FlushTX() error {
	_, err := d.command("nrf24l01.FlushTX", CmdFlushTX, nil, nil)
	return err
}

func (d *Device) FlushRX() error {
	_, err := d.command("nrf24l01.FlushRX", CmdFlushRX, nil, nil)
	return err
}

// Enable drives CE.
func (d *Device) Enable(on bool) {
	if d.cfg.CE != nil {
		d.cfg.CE.Set(on)
	}
}

// IRQ reports whether the interrupt line is asserted. False without a pin.
func (d *Device) IRQ() bool { return d.cfg.IRQ != nil && !d.cfg.IRQ.Get() }
