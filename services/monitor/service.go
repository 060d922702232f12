// Package monitor samples the devices of a board on a fixed interval and
// publishes each batch as a telemetry frame on the bus.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"picoperiph/bus"
	"picoperiph/config"
	"picoperiph/services/boardwatch"
	"picoperiph/telemetry"
)

// TopicTelemetry prefixes frame topics: telemetry/<device>.
const TopicTelemetry = "telemetry"

// Builder makes the adaptor for one device. It returns (nil, nil) for
// devices that have nothing to sample.
type Builder func(b *config.Board, d config.Device) (Adaptor, error)

type MeasurementWorker interface {
	Submit(MeasureReq) bool
	Start(ctx context.Context)
	Results() <-chan Result
}

type Service struct {
	Build   Builder
	Log     zerolog.Logger
	Session *telemetry.Session
	Worker  WorkerConfig

	adaptors []Adaptor
}

// Start runs the service until ctx is cancelled. Sampling begins once a
// board is seen on boardwatch.TopicBoard and is rebuilt on every reload.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	if s.Session == nil {
		s.Session = telemetry.NewSession()
	}
	w := NewWorker(s.Worker)
	w.Start(ctx)
	go s.serviceLoop(ctx, conn, w)
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, w MeasurementWorker) {
	boardSub := conn.Subscribe(boardwatch.TopicBoard)
	defer conn.Unsubscribe(boardSub)

	tick := time.NewTicker(config.DefaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("monitor stopping")
			return
		case msg, ok := <-boardSub.Channel():
			if !ok {
				return
			}
			b, isBoard := msg.Payload.(*config.Board)
			if !isBoard {
				continue
			}
			s.rebuild(b)
			tick.Reset(b.Monitor.Interval)
		case <-tick.C:
			for _, a := range s.adaptors {
				if !w.Submit(MeasureReq{ID: a.ID(), Adaptor: a}) {
					s.Log.Warn().Str("device", a.ID()).Msg("sample dropped, worker queue full")
				}
			}
		case r := <-w.Results():
			if r.Err != nil {
				s.Log.Warn().Err(r.Err).Str("device", r.ID).Msg("sample failed")
				continue
			}
			fr := s.Session.Next(r.ID, r.Kind, r.Values)
			conn.Publish(&bus.Message{Topic: bus.T(TopicTelemetry, r.ID), Payload: fr, Retained: true})
		}
	}
}

func (s *Service) rebuild(b *config.Board) {
	s.adaptors = s.adaptors[:0]
	for _, d := range b.Devices {
		a, err := s.Build(b, d)
		if err != nil {
			s.Log.Error().Err(err).Str("device", d.Name).Str("kind", d.Kind).Msg("device skipped")
			continue
		}
		if a != nil {
			s.adaptors = append(s.adaptors, a)
		}
	}
	s.Log.Info().Int("sampled", len(s.adaptors)).Dur("interval", b.Monitor.Interval).Msg("monitor configured")
}

// Sink writes every frame published under telemetry/# with Encode.
type Sink struct {
	Encode func(telemetry.Frame) error
	Log    zerolog.Logger
}

// Start subscribes before returning so no frame published afterwards is
// missed.
func (s *Sink) Start(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(bus.T(TopicTelemetry, bus.AnyRest))
	go func() {
		defer conn.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				fr, isFrame := msg.Payload.(telemetry.Frame)
				if !isFrame {
					continue
				}
				if err := s.Encode(fr); err != nil {
					s.Log.Error().Err(err).Str("device", fr.Device).Msg("frame not written")
					continue
				}
				s.Log.Debug().Str("device", fr.Device).Uint32("seq", fr.Seq).Msg("frame")
			}
		}
	}()
}
