//go:build rp2040

// Bench firmware for a Pico with a DS1307, a BME280 and an AT24C32 on I2C0
// and an HC-12 radio on UART1. Once a second a line of readings goes out
// over the radio while the on-board LED breathes.
package main

import (
	"context"
	"time"

	"picoperiph/adc"
	"picoperiph/drivers/at24c32"
	"picoperiph/drivers/bmx280"
	"picoperiph/drivers/ds1307"
	"picoperiph/drivers/hc12"
	"picoperiph/hal"
	"picoperiph/i2cbus"
	"picoperiph/pwm"
	"picoperiph/random"
	"picoperiph/spinlock"
	"picoperiph/x/conv"
)

const (
	i2cPort = 0
	sdaPin  = 4
	sclPin  = 5
	i2cHz   = 100_000

	ledPin = 25
	ledHz  = 1000

	uartNum = 1
	txPin   = 8
	rxPin   = 9
	setPin  = 10

	// bootCountAt holds a little-endian uint32 in the AT24C32.
	bootCountAt = 0
)

var radioSettings = hc12.Settings{Baud: hc12.Baud9600, Channel: 21, Power: hc12.Power20dBm, Mode: hc12.FU3}

// sample is filled by the sampler and read by the radio loop under a
// hardware spin lock.
type sample struct {
	seq      uint32
	unix     int64
	centiC   int32
	pascal   uint32
	humidity uint32 // 1/1024 %RH
	cpuDeciC int32
	ok       bool
}

// appendLine appends " seq unix centiC pascal humidity cpuDeciC\r\n".
func (s *sample) appendLine(b []byte) []byte {
	b = conv.AppendUint(append(b, ' '), uint64(s.seq))
	b = conv.AppendInt(append(b, ' '), s.unix)
	b = conv.AppendInt(append(b, ' '), int64(s.centiC))
	b = conv.AppendUint(append(b, ' '), uint64(s.pascal))
	b = conv.AppendUint(append(b, ' '), uint64(s.humidity))
	b = conv.AppendInt(append(b, ' '), int64(s.cpuDeciC))
	return append(b, '\r', '\n')
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot")

	reg := hal.NewRegistry()

	locks := spinlock.NewBank(reg, spinlock.SIO)
	n, _ := locks.Claim(true)
	guard := locks.Lock(n)
	if err := guard.Initialize(); err != nil {
		println("spinlock:", err.Error())
	}

	ports := i2cbus.NewPorts(reg, i2cbus.Hardware)
	hz, err := ports.InitMaster(i2cPort, sdaPin, sclPin, i2cHz)
	if err != nil {
		fatal("i2c init", err)
	}
	println("i2c0 at", hz, "Hz")
	bus, _ := ports.Bus(i2cPort)

	rtc := ds1307.New(bus)
	if err := rtc.Configure(ds1307.Config{}); err != nil {
		println("rtc:", err.Error())
	} else if running, err := rtc.Running(); err == nil && !running {
		println("rtc halted, starting at 2025-01-01")
		_ = rtc.SetTime(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	}

	env := bmx280.New(bus)
	envOK := true
	if err := env.Configure(bmx280.Config{}); err != nil {
		println("bmx280:", err.Error())
		envOK = false
	}

	rom := at24c32.New(bus)
	boots := uint32(0)
	if err := rom.Configure(at24c32.Config{}); err != nil {
		println("at24c32:", err.Error())
	} else {
		boots = countBoot(&rom)
	}

	pwms := pwm.New(reg, pwm.Hardware)
	if err := startHeartbeat(pwms); err != nil {
		println("heartbeat:", err.Error())
	}

	temp := adc.New(reg, adc.Hardware)
	temp.Initialize()
	if err := temp.InitTemperature(); err != nil {
		println("adc:", err.Error())
	}

	radio, err := openRadio(reg)
	if err != nil {
		fatal("hc12", err)
	}

	node := conv.AppendHex32(nil, random.Seed())
	println("node", string(node), "boot", boots)

	var shared sample
	go sampler(&shared, guard, &rtc, &env, envOK, temp)

	var line []byte
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for range tick.C {
		if err := guard.Lock(); err != nil {
			continue
		}
		s := shared
		_ = guard.Unlock()
		if !s.ok {
			continue
		}
		line = s.appendLine(append(line[:0], node...))
		if _, err := radio.Write(line); err != nil {
			println("radio:", err.Error())
		}
	}
}

func sampler(out *sample, guard *spinlock.SpinLock, rtc *ds1307.Device, env *bmx280.Device, envOK bool, temp *adc.ADC) {
	var seq uint32
	for {
		var s sample
		seq++
		s.seq = seq
		if t, err := rtc.Now(); err == nil {
			s.unix = t.Unix()
		}
		if envOK {
			if m, err := env.Read(); err == nil {
				s.centiC, s.pascal, s.humidity = m.Temperature, m.Pressure, m.Humidity
			}
		}
		if c, err := temp.ReadTemperature(); err == nil {
			s.cpuDeciC = int32(c * 10)
		}
		s.ok = true

		if err := guard.Lock(); err == nil {
			*out = s
			_ = guard.Unlock()
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// countBoot increments the boot counter kept in the EEPROM.
func countBoot(rom *at24c32.Device) uint32 {
	var b [4]byte
	if _, err := rom.ReadAt(b[:], bootCountAt); err != nil {
		println("boot count:", err.Error())
		return 0
	}
	n := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	if n == 0xFFFFFFFF {
		n = 0
	}
	n++
	b = [4]byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	if _, err := rom.WriteAt(b[:], bootCountAt); err != nil {
		println("boot count:", err.Error())
	}
	return n
}

// startHeartbeat ramps the LED up and down forever.
func startHeartbeat(pwms *pwm.Controller) error {
	if err := pwms.InitPin(ledPin); err != nil {
		return err
	}
	top, err := pwms.SetPinFrequency(ledPin, ledHz)
	if err != nil {
		return err
	}
	if err := pwms.EnablePin(ledPin); err != nil {
		return err
	}
	go func() {
		for lvl := top; ; {
			done := make(chan struct{})
			if err := pwms.Ramp(ledPin, lvl, time.Second, 50, done); err != nil {
				println("ramp:", err.Error())
				return
			}
			<-done
			if lvl == 0 {
				lvl = top
			} else {
				lvl = 0
			}
		}
	}()
	return nil
}

func openRadio(reg *hal.Registry) (*hc12.Device, error) {
	port, err := hc12.OpenUART(reg, uartNum, txPin, rxPin)
	if err != nil {
		return nil, err
	}
	if err := reg.ClaimPin("hc12", setPin, hal.FuncGPIOOut); err != nil {
		return nil, err
	}
	set, err := hal.GPIO(setPin)
	if err != nil {
		return nil, err
	}
	radio, err := hc12.New(hc12.Config{Port: port, Set: set})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := radio.Initialize(ctx, radioSettings); err != nil {
		return nil, err
	}
	return radio, nil
}

func fatal(what string, err error) {
	for {
		println(what+":", err.Error())
		time.Sleep(time.Second)
	}
}
