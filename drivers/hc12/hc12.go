// Package hc12 drives the HC-12 433 MHz serial radio module.
//
// The module is a transparent UART bridge. Pulling SET low switches it to
// AT command mode, where the baud rate, channel, transmit power and
// operating mode are programmed.
package hc12

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"picoperiph/errcode"
	"picoperiph/hal"
	"picoperiph/x/strconvx"
)

// Baud indexes the supported UART rates.
type Baud uint8

const (
	Baud1200 Baud = iota
	Baud2400
	Baud4800
	Baud9600
	Baud19200
	Baud38400
	Baud57600
	Baud115200
)

var baudRates = [...]uint32{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// Rate is the rate in bits per second, or 0 for an invalid index.
func (b Baud) Rate() uint32 {
	if b > Baud115200 {
		return 0
	}
	return baudRates[b]
}

// BaudFor returns the index for a rate in bits per second.
func BaudFor(rate uint32) (Baud, bool) {
	for i, r := range baudRates {
		if r == rate {
			return Baud(i), true
		}
	}
	return 0, false
}

const (
	MinChannel = 1
	MaxChannel = 127
)

// Power is the transmit level 1..8.
type Power uint8

const (
	PowerMinus1dBm Power = iota + 1
	Power2dBm
	Power5dBm
	Power8dBm
	Power11dBm
	Power14dBm
	Power17dBm
	Power20dBm
)

// DBm is the output power the level selects.
func (p Power) DBm() int { return -1 + 3*(int(p)-1) }

// Mode is the transparent transmission mode.
type Mode uint8

const (
	FU1 Mode = iota // moderate power saving
	FU2             // power saving, 1200..4800 baud only
	FU3             // full speed
)

const (
	// ATEnterDelay is the wait after SET goes low.
	ATEnterDelay = 40 * time.Millisecond
	// ATExitDelay is the wait after SET goes high before data flows again.
	ATExitDelay = 80 * time.Millisecond
)

var (
	ErrInvalidBaud    = errors.New("hc12: invalid baud rate")
	ErrInvalidChannel = errors.New("hc12: channel outside 1..127")
	ErrInvalidPower   = errors.New("hc12: power outside 1..8")
	ErrInvalidMode    = errors.New("hc12: invalid mode")
	ErrModeBaud       = errors.New("hc12: FU2 needs 4800 baud or less")
	ErrNoSetPin       = errors.New("hc12: SET pin not defined")
	ErrATMode         = errors.New("hc12: in AT command mode")
	ErrNotATMode      = errors.New("hc12: not in AT command mode")

	errInvalidUARTPins = &errcode.E{C: errcode.InvalidPin, Op: "hc12.OpenUART", Msg: "pins not on that UART"}
)

// Settings are the radio parameters held in the module's flash.
type Settings struct {
	Baud    Baud
	Channel uint8
	Power   Power
	Mode    Mode
}

// DefaultSettings are the factory values.
var DefaultSettings = Settings{Baud: Baud9600, Channel: 1, Power: Power20dBm, Mode: FU3}

func (s Settings) Validate() error {
	switch {
	case s.Baud > Baud115200:
		return ErrInvalidBaud
	case s.Channel < MinChannel || s.Channel > MaxChannel:
		return ErrInvalidChannel
	case s.Power < PowerMinus1dBm || s.Power > Power20dBm:
		return ErrInvalidPower
	case s.Mode > FU3:
		return ErrInvalidMode
	case s.Mode == FU2 && s.Baud > Baud4800:
		return ErrModeBaud
	}
	return nil
}

// Port is the UART the module hangs off. tinygo-uartx ports satisfy it on
// the RP2040 through OpenUART.
type Port interface {
	io.Writer
	RecvSomeContext(ctx context.Context, buf []byte) (int, error)
	SetBaudRate(br uint32) error
}

type Config struct {
	Port Port
	// Set is the active-low SET pin. Without it the settings cannot be
	// changed.
	Set hal.Pin
	// Timeout bounds each AT response. Default 250 ms.
	Timeout time.Duration
	Clock   hal.Clock
}

type Device struct {
	port    Port
	set     hal.Pin
	clock   hal.Clock
	timeout time.Duration

	mu       sync.Mutex
	settings Settings
	at       bool
	lines    deque.Deque[string]
	partial  []byte

	// rx is held by the one reader allowed on the port at a time, so
	// chunks are fed into partial in arrival order.
	rx chan struct{}
}

func New(cfg Config) (*Device, error) {
	if cfg.Port == nil {
		return nil, errcode.InvalidParams
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 250 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = hal.SystemClock
	}
	return &Device{
		port:     cfg.Port,
		set:      cfg.Set,
		clock:    cfg.Clock,
		timeout:  cfg.Timeout,
		settings: DefaultSettings,
		rx:       make(chan struct{}, 1),
	}, nil
}

// Settings returns the parameters last applied.
func (d *Device) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// InATMode reports whether SET is held low.
func (d *Device) InATMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.at
}

// Initialize assumes the module runs the factory defaults. The port is set
// to 9600 baud, SET is released and, when s differs from the defaults, each
// differing parameter is programmed in AT mode. The port then follows the
// new baud rate.
func (d *Device) Initialize(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := d.port.SetBaudRate(Baud9600.Rate()); err != nil {
		return errcode.Wrap("hc12.Initialize", err)
	}
	if d.set != nil {
		if err := d.set.ConfigureOutput(true); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.settings = DefaultSettings
	d.mu.Unlock()
	if s == DefaultSettings {
		return nil
	}
	return d.Apply(ctx, s)
}

// Apply programs every parameter of s that differs from the current
// settings.
func (d *Device) Apply(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if d.set == nil {
		return ErrNoSetPin
	}
	cur := d.Settings()
	if s == cur {
		return nil
	}
	if err := d.EnterATMode(); err != nil {
		return err
	}
	steps := []struct {
		differ bool
		cmd    string
		apply  func(*Settings)
	}{
		{s.Baud != cur.Baud, "AT+B" + strconvx.Itoa(int(s.Baud.Rate())), func(c *Settings) { c.Baud = s.Baud }},
		{s.Channel != cur.Channel, "AT+C" + pad3(int(s.Channel)), func(c *Settings) { c.Channel = s.Channel }},
		{s.Power != cur.Power, "AT+P" + strconvx.Itoa(int(s.Power)), func(c *Settings) { c.Power = s.Power }},
		{s.Mode != cur.Mode, "AT+FU" + strconvx.Itoa(int(s.Mode)+1), func(c *Settings) { c.Mode = s.Mode }},
	}
	var err error
	for _, st := range steps {
		if !st.differ {
			continue
		}
		if err = d.expectOK(ctx, st.cmd); err != nil {
			break
		}
		d.mu.Lock()
		st.apply(&d.settings)
		d.mu.Unlock()
	}
	if xerr := d.ExitATMode(); err == nil {
		err = xerr
	}
	if err != nil {
		return err
	}
	return errcode.Wrap("hc12.Apply", d.port.SetBaudRate(d.Settings().Baud.Rate()))
}

// ResetDefaults sends AT+DEFAULT, restoring the factory settings.
func (d *Device) ResetDefaults(ctx context.Context) error {
	if d.set == nil {
		return ErrNoSetPin
	}
	if err := d.EnterATMode(); err != nil {
		return err
	}
	err := d.expectOK(ctx, "AT+DEFAULT")
	if xerr := d.ExitATMode(); err == nil {
		err = xerr
	}
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.settings = DefaultSettings
	d.mu.Unlock()
	return errcode.Wrap("hc12.ResetDefaults", d.port.SetBaudRate(Baud9600.Rate()))
}

func pad3(n int) string {
	s := strconvx.Itoa(n)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

// expectOK sends cmd and requires the reply "OK+<cmd without AT+>", or
// plain "OK" for a bare "AT".
func (d *Device) expectOK(ctx context.Context, cmd string) error {
	resp, err := d.Command(ctx, cmd)
	if err != nil {
		return err
	}
	want := "OK"
	if rest := strings.TrimPrefix(cmd, "AT+"); rest != cmd {
		want += "+" + rest
	}
	if resp != want {
		return &errcode.E{C: errcode.CommsCheck, Op: "hc12.Command", Msg: cmd + " answered " + resp}
	}
	return nil
}

// EnterATMode pulls SET low and waits for the module to switch.
func (d *Device) EnterATMode() error {
	if d.set == nil {
		return ErrNoSetPin
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.at {
		return nil
	}
	d.set.Set(false)
	d.clock.Sleep(ATEnterDelay)
	d.at = true
	d.lines.Clear()
	d.partial = d.partial[:0]
	return nil
}

// ExitATMode releases SET; new settings take effect once it returns.
func (d *Device) ExitATMode() error {
	if d.set == nil {
		return ErrNoSetPin
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.at {
		return nil
	}
	d.set.Set(true)
	d.clock.Sleep(ATExitDelay)
	d.at = false
	return nil
}

// Command sends an AT command in AT mode and returns the first reply line.
func (d *Device) Command(ctx context.Context, at string) (string, error) {
	if !d.InATMode() {
		return "", ErrNotATMode
	}
	if _, err := d.port.Write([]byte(at)); err != nil {
		return "", errcode.Wrap("hc12.Command", err)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	line, err := d.ReadLine(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &errcode.E{C: errcode.NoResponse, Op: "hc12.Command", Msg: at}
		}
		return "", err
	}
	return line, nil
}

// Write sends payload bytes over the air. It refuses in AT mode, where the
// bytes would be taken as a command.
func (d *Device) Write(b []byte) (int, error) {
	if d.InATMode() {
		return 0, ErrATMode
	}
	n, err := d.port.Write(b)
	return n, errcode.Wrap("hc12.Write", err)
}

// Read returns buffered bytes first (queued lines are given back with
// their newline), then whatever the port has.
func (d *Device) Read(ctx context.Context, b []byte) (int, error) {
	d.mu.Lock()
	if d.lines.Len() > 0 {
		line := d.lines.PopFront() + "\n"
		n := copy(b, line)
		if n < len(line) {
			d.lines.PushFront(line[n : len(line)-1])
		}
		d.mu.Unlock()
		return n, nil
	}
	if len(d.partial) > 0 {
		n := copy(b, d.partial)
		d.partial = append(d.partial[:0], d.partial[n:]...)
		d.mu.Unlock()
		return n, nil
	}
	d.mu.Unlock()
	if err := d.acquireRX(ctx); err != nil {
		return 0, err
	}
	defer d.releaseRX()
	return d.port.RecvSomeContext(ctx, b)
}

// ReadLine returns the next line without its CR/LF, blocking until one
// arrives or ctx ends. Empty lines are dropped.
func (d *Device) ReadLine(ctx context.Context) (string, error) {
	for {
		if line, ok := d.popLine(); ok {
			return line, nil
		}
		if err := d.acquireRX(ctx); err != nil {
			return "", err
		}
		// Another reader may have queued a line while we waited.
		if line, ok := d.popLine(); ok {
			d.releaseRX()
			return line, nil
		}
		var buf [64]byte
		n, err := d.port.RecvSomeContext(ctx, buf[:])
		if n > 0 {
			d.feed(buf[:n])
		}
		d.releaseRX()
		if err != nil {
			return "", err
		}
	}
}

func (d *Device) popLine() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lines.Len() == 0 {
		return "", false
	}
	return d.lines.PopFront(), true
}

func (d *Device) acquireRX(ctx context.Context) error {
	select {
	case d.rx <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) releaseRX() { <-d.rx }

func (d *Device) feed(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range b {
		if c != '\n' {
			d.partial = append(d.partial, c)
			continue
		}
		line := strings.TrimRight(string(d.partial), "\r")
		d.partial = d.partial[:0]
		if line != "" {
			d.lines.PushBack(line)
		}
	}
}

// Pending is the number of complete lines waiting.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines.Len()
}

// Close leaves AT mode if needed. The port stays open.
func (d *Device) Close() error {
	if d.set == nil || !d.InATMode() {
		return nil
	}
	return d.ExitATMode()
}
