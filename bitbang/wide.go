package bitbang

import (
	"errors"
	"time"

	"picoperiph/hal"
)

var ErrWidth = errors.New("bitbang: wide bus needs 2 or 4 data lines")

// Wide clocks bytes MSB first over 2 (dual) or 4 (quad) bidirectional data
// lines, as serial memories do in SDI and SQI mode. IO[0] carries the lowest
// bit of each group. The clock idles low and both sides sample while it is
// high.
type Wide struct {
	sck   hal.Pin
	io    []hal.Pin
	dir   int8 // 0 unset, 1 driving, -1 released
	delay time.Duration
	sleep func(time.Duration)
}

// NewWide parks the clock low. The data lines are configured on first use.
// Only Delay and Sleep of cfg apply.
func NewWide(sck hal.Pin, io []hal.Pin, cfg Config) (*Wide, error) {
	if sck == nil {
		return nil, ErrNoClock
	}
	if len(io) != 2 && len(io) != 4 {
		return nil, ErrWidth
	}
	for _, p := range io {
		if p == nil {
			return nil, ErrWidth
		}
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Microsecond
	}
	w := &Wide{
		sck:   sck,
		io:    append([]hal.Pin(nil), io...),
		delay: cfg.Delay,
		sleep: hal.SleepOr(cfg.Sleep),
	}
	if err := sck.ConfigureOutput(false); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Wide) Width() int { return len(w.io) }

func (w *Wide) wait() {
	if w.delay > 0 {
		w.sleep(w.delay)
	}
}

func (w *Wide) direction(out bool) error {
	want := int8(-1)
	if out {
		want = 1
	}
	if w.dir == want {
		return nil
	}
	for _, p := range w.io {
		var err error
		if out {
			err = p.ConfigureOutput(false)
		} else {
			err = p.ConfigureInput(hal.PullNone)
		}
		if err != nil {
			return err
		}
	}
	w.dir = want
	return nil
}

// Write drives the data lines and clocks out every byte of b.
func (w *Wide) Write(b []byte) error {
	if err := w.direction(true); err != nil {
		return err
	}
	n := len(w.io)
	for _, v := range b {
		for shift := 8 - n; shift >= 0; shift -= n {
			for i, p := range w.io {
				p.Set(v>>uint(shift+i)&1 != 0)
			}
			w.wait()
			w.sck.Set(true)
			w.wait()
			w.sck.Set(false)
		}
	}
	return nil
}

// Read releases the data lines and clocks in len(b) bytes.
func (w *Wide) Read(b []byte) error {
	if err := w.direction(false); err != nil {
		return err
	}
	n := len(w.io)
	for k := range b {
		var v byte
		for shift := 8 - n; shift >= 0; shift -= n {
			w.sck.Set(true)
			w.wait()
			for i, p := range w.io {
				if p.Get() {
					v |= 1 << uint(shift+i)
				}
			}
			w.sck.Set(false)
			w.wait()
		}
		b[k] = v
	}
	return nil
}

// Release returns the data lines to inputs.
func (w *Wide) Release() error { return w.direction(false) }

// Pulse toggles the clock n times without touching the data lines.
func (w *Wide) Pulse(n int) {
	for i := 0; i < n; i++ {
		w.sck.Set(true)
		w.wait()
		w.sck.Set(false)
		w.wait()
	}
}
