package monitor

import (
	"context"
	"errors"
	"time"
)

// measureWorker runs Trigger/Collect cycles for many adaptors on a single
// goroutine, so drivers sharing a bus never overlap.
type measureWorker struct {
	cfg     WorkerConfig
	reqQ    chan MeasureReq
	results chan Result

	pending  map[string]*collectItem
	want     map[string]bool
	collects []*collectItem
	timer    *time.Timer
}

type collectItem struct {
	id      string
	adaptor Adaptor
	due     time.Time
	retries int
}

func NewWorker(cfg WorkerConfig) *measureWorker {
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 100 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 15 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.InputQueueSize <= 0 {
		cfg.InputQueueSize = 16
	}
	if cfg.ResultsQueueSz <= 0 {
		cfg.ResultsQueueSz = 16
	}
	return &measureWorker{
		cfg:     cfg,
		reqQ:    make(chan MeasureReq, cfg.InputQueueSize),
		results: make(chan Result, cfg.ResultsQueueSz),
		pending: map[string]*collectItem{},
		want:    map[string]bool{},
		timer:   time.NewTimer(time.Hour),
	}
}

func (w *measureWorker) Results() <-chan Result { return w.results }

// Submit queues req without blocking. Priority requests wait briefly for
// room.
func (w *measureWorker) Submit(req MeasureReq) bool {
	select {
	case w.reqQ <- req:
		return true
	default:
	}
	if !req.Prio {
		return false
	}
	select {
	case w.reqQ <- req:
		return true
	case <-time.After(5 * time.Millisecond):
		return false
	}
}

func (w *measureWorker) Start(ctx context.Context) {
	resetTimer(w.timer, time.Hour)
	go w.run(ctx)
}

func (w *measureWorker) run(ctx context.Context) {
	for {
		if next := w.minDue(); next.IsZero() {
			resetTimer(w.timer, time.Hour)
		} else {
			resetTimer(w.timer, time.Until(next))
		}
		select {
		case <-ctx.Done():
			return
		case req := <-w.reqQ:
			if _, ok := w.pending[req.ID]; ok {
				if req.Prio {
					w.want[req.ID] = true
				}
				continue
			}
			w.trigger(ctx, req.ID, req.Adaptor)
		case <-w.timer.C:
			w.collectDue(ctx)
		}
	}
}

func (w *measureWorker) trigger(ctx context.Context, id string, a Adaptor) bool {
	tctx, cancel := context.WithTimeout(ctx, w.cfg.TriggerTimeout)
	after, err := a.Trigger(tctx)
	cancel()
	if err != nil {
		w.emit(ctx, Result{ID: id, Kind: a.Kind(), Err: err})
		return false
	}
	it := &collectItem{id: id, adaptor: a, due: time.Now().Add(after)}
	w.pending[id] = it
	w.collects = append(w.collects, it)
	return true
}

func (w *measureWorker) collectDue(ctx context.Context) {
	now := time.Now()
	items := w.collects
	w.collects = nil
	for _, it := range items {
		if now.Before(it.due) {
			w.collects = append(w.collects, it)
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, w.cfg.CollectTimeout)
		v, err := it.adaptor.Collect(cctx)
		cancel()
		switch {
		case err == nil:
			delete(w.pending, it.id)
			w.emit(ctx, Result{ID: it.id, Kind: it.adaptor.Kind(), Values: v})
		case errors.Is(err, ErrNotReady) && it.retries < w.cfg.MaxRetries:
			it.retries++
			it.due = now.Add(w.cfg.RetryBackoff)
			w.collects = append(w.collects, it)
			continue
		default:
			delete(w.pending, it.id)
			w.emit(ctx, Result{ID: it.id, Kind: it.adaptor.Kind(), Err: err})
		}
		if w.want[it.id] {
			delete(w.want, it.id)
			w.trigger(ctx, it.id, it.adaptor)
		}
	}
}

func (w *measureWorker) emit(ctx context.Context, r Result) {
	select {
	case w.results <- r:
	case <-ctx.Done():
	}
}

func (w *measureWorker) minDue() time.Time {
	var min time.Time
	for _, it := range w.collects {
		if min.IsZero() || it.due.Before(min) {
			min = it.due
		}
	}
	return min
}

// resetTimer stops, drains and re-arms t.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if d < 0 {
		d = 0
	}
	t.Reset(d)
}
