// Package haltest provides in-memory pins, clocks and SPI buses for host-side
// driver tests.
package haltest

import (
	"sync"
	"time"

	"picoperiph/hal"
)

// ----------------------------- GPIO ------------------------------------------

// FakePin implements hal.Pin. OnSet, when non-nil, runs after every Set with
// the new level (outside the lock) so tests can model wired peripherals.
type FakePin struct {
	mu      sync.RWMutex
	number  int
	level   bool
	modeOut bool
	pull    hal.Pull
	history []bool

	OnSet func(level bool)
	// OnGet, when non-nil, supplies the level returned by Get.
	OnGet func() bool
}

func NewPin(n int) *FakePin { return &FakePin{number: n} }

func (p *FakePin) ConfigureInput(pull hal.Pull) error {
	p.mu.Lock()
	p.modeOut = false
	p.pull = pull
	switch pull {
	case hal.PullUp:
		p.level = true
	case hal.PullDown:
		p.level = false
	}
	p.mu.Unlock()
	return nil
}

func (p *FakePin) ConfigureOutput(initial bool) error {
	p.mu.Lock()
	p.modeOut = true
	p.level = initial
	p.mu.Unlock()
	return nil
}

func (p *FakePin) Set(level bool) {
	p.mu.Lock()
	p.level = level
	p.history = append(p.history, level)
	hook := p.OnSet
	p.mu.Unlock()
	if hook != nil {
		hook(level)
	}
}

// Drive forces the level seen by Get without recording history, as an
// external device driving an input would.
func (p *FakePin) Drive(level bool) {
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
}

func (p *FakePin) Get() bool {
	p.mu.RLock()
	hook := p.OnGet
	v := p.level
	p.mu.RUnlock()
	if hook != nil {
		return hook()
	}
	return v
}

func (p *FakePin) IsOutput() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modeOut
}

func (p *FakePin) Pull() hal.Pull {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pull
}

func (p *FakePin) Number() int { return p.number }

// History returns every level written with Set, oldest first.
func (p *FakePin) History() []bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]bool(nil), p.history...)
}

// Pulses counts rising edges in the Set history, treating the level
// before the first Set as low.
func (p *FakePin) Pulses() int {
	n := 0
	prev := false
	for _, v := range p.History() {
		if !prev && v {
			n++
		}
		prev = v
	}
	return n
}

func (p *FakePin) ResetHistory() {
	p.mu.Lock()
	p.history = nil
	p.mu.Unlock()
}

// Pins returns stable *FakePin instances per number.
type Pins struct {
	mu   sync.Mutex
	pins map[int]*FakePin
}

func (f *Pins) ByNumber(n int) (hal.Pin, bool) {
	if !hal.IsPin(n) {
		return nil, false
	}
	return f.Get(n), true
}

// Get returns the concrete pin so tests can drive it.
func (f *Pins) Get(n int) *FakePin {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins == nil {
		f.pins = make(map[int]*FakePin)
	}
	p, ok := f.pins[n]
	if !ok {
		p = NewPin(n)
		f.pins[n] = p
	}
	return p
}

// Loopback wires out to in: every Set on out drives in to the same level.
func Loopback(out, in *FakePin) {
	out.OnSet = func(level bool) { in.Drive(level) }
}

// ----------------------------- Clock -----------------------------------------

// Clock is a manual hal.Clock. Sleep advances time instantly and runs
// OnSleep so tests can change pin levels mid-wait.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	slept   time.Duration
	OnSleep func(total time.Duration)
}

func NewClock() *Clock { return &Clock{now: time.Unix(1_700_000_000, 0)} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	total := c.slept
	hook := c.OnSleep
	c.mu.Unlock()
	if hook != nil {
		hook(total)
	}
}

// Slept reports the total time passed to Sleep.
func (c *Clock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

// ----------------------------- SPI -------------------------------------------

// SPIDevice models a chip on a SPI bus, one byte at a time.
type SPIDevice interface {
	// Select is called when chip select changes; active means CS asserted.
	Select(active bool)
	Exchange(w byte) byte
}

// SPI implements drivers.SPI over an SPIDevice and records traffic.
type SPI struct {
	mu  sync.Mutex
	Dev SPIDevice
	Err error

	sent []byte
}

func (s *SPI) Tx(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		var b byte
		if i < len(w) {
			b = w[i]
		}
		got, err := s.Transfer(b)
		if err != nil {
			return err
		}
		if i < len(r) {
			r[i] = got
		}
	}
	return nil
}

func (s *SPI) Transfer(b byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	s.sent = append(s.sent, b)
	if s.Dev == nil {
		return 0, nil
	}
	return s.Dev.Exchange(b), nil
}

// Sent returns every byte written to the bus.
func (s *SPI) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sent...)
}

func (s *SPI) ResetSent() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
}

// WireCS forwards an active-low chip select pin to dev.
func WireCS(cs *FakePin, dev SPIDevice) {
	cs.OnSet = func(level bool) { dev.Select(!level) }
}

// Frames is an SPIDevice that records each CS-delimited frame and answers
// from Reply, which sees the frame so far.
type Frames struct {
	mu     sync.Mutex
	active bool
	cur    []byte
	frames [][]byte
	Reply  func(frame []byte) byte
}

func (f *Frames) Select(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active && !active {
		f.frames = append(f.frames, f.cur)
		f.cur = nil
	}
	f.active = active
}

func (f *Frames) Exchange(w byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur = append(f.cur, w)
	if f.Reply == nil {
		return 0
	}
	return f.Reply(f.cur)
}

// All returns completed frames.
func (f *Frames) All() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.frames))
	copy(out, f.frames)
	return out
}

// Last returns the most recent completed frame.
func (f *Frames) Last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}
