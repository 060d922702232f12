package monitor

import (
	"context"
	"time"
)

// Values is one batch of named readings, e.g. {"temp_c": 21.4}.
type Values map[string]float64

// Adaptor owns one driver instance and exposes the generic sampling hooks.
// Adaptors must not touch the bus or spawn goroutines.
type Adaptor interface {
	ID() string
	Kind() string
	// Trigger starts a measurement and returns how long to wait before
	// Collect.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	// Collect fetches the measurement; it may return ErrNotReady.
	Collect(ctx context.Context) (Values, error)
}

type WorkerConfig struct {
	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	InputQueueSize int
	ResultsQueueSz int
}

type MeasureReq struct {
	ID      string
	Adaptor Adaptor
	Prio    bool // re-trigger once the pending collect finishes
}

type Result struct {
	ID     string
	Kind   string
	Values Values
	Err    error
}

// ErrNotReady makes the worker retry Collect after the backoff.
var ErrNotReady = errNotReady{}

type errNotReady struct{}

func (errNotReady) Error() string { return "not ready" }
