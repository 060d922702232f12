package i2cbus

import (
	"errors"
	"sync"
	"time"

	"picoperiph/errcode"

	"tinygo.org/x/drivers"
)

var ErrClosed = errors.New("i2cbus: bus closed")

const (
	DefaultTimeout = 250 * time.Millisecond
	defaultQueue   = 16
)

// Config for a Bus. A negative Timeout disables deadlines.
type Config struct {
	Timeout time.Duration
	Queue   int
}

// request posted to the worker
type request struct {
	addr uint16
	w, r []byte
	done chan error // buffered(1); worker replies best-effort
}

// Bus owns one I2C controller through a single worker goroutine so that
// callers on different goroutines never interleave transactions.
//
// After a Timeout the worker may still be using the caller's buffers.
type Bus struct {
	hw      drivers.I2C
	timeout time.Duration
	reqs    chan request
	quit    chan struct{}
	once    sync.Once
}

var _ drivers.I2C = (*Bus)(nil)

// New starts the worker for hw.
func New(hw drivers.I2C, cfg Config) *Bus {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Queue <= 0 {
		cfg.Queue = defaultQueue
	}
	b := &Bus{
		hw:      hw,
		timeout: cfg.Timeout,
		reqs:    make(chan request, cfg.Queue),
		quit:    make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Bus) loop() {
	for {
		select {
		case req := <-b.reqs:
			err := b.hw.Tx(req.addr, req.w, req.r)
			select {
			case req.done <- err:
			default:
			}
		case <-b.quit:
			return
		}
	}
}

// Close stops the worker. Pending and later calls fail with ErrClosed.
func (b *Bus) Close() { b.once.Do(func() { close(b.quit) }) }

// Tx posts the transaction and waits for it. A full queue past the timeout
// yields errcode.Busy; a transaction that does not finish in time yields
// errcode.Timeout.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	select {
	case <-b.quit:
		return ErrClosed
	default:
	}
	req := request{addr: addr, w: w, r: r, done: make(chan error, 1)}

	var expire <-chan time.Time
	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		expire = t.C
	}

	select {
	case b.reqs <- req:
	case <-b.quit:
		return ErrClosed
	case <-expire:
		return errcode.Busy
	}

	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case err := <-req.done:
		return err
	case <-b.quit:
		return ErrClosed
	case <-expire:
		return errcode.Timeout
	}
}

// ReadReg reads len(buf) bytes starting at register reg.
func ReadReg(bus drivers.I2C, addr uint16, reg uint8, buf []byte) error {
	return bus.Tx(addr, []byte{reg}, buf)
}

// WriteReg writes data starting at register reg in one transaction.
func WriteReg(bus drivers.I2C, addr uint16, reg uint8, data ...byte) error {
	w := make([]byte, 0, 1+len(data))
	w = append(w, reg)
	w = append(w, data...)
	return bus.Tx(addr, w, nil)
}
