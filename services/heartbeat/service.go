// Package heartbeat logs a liveness line at a fixed interval with the
// number of telemetry frames seen since the previous one.
package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"picoperiph/bus"
	"picoperiph/services/monitor"
)

// TopicConfig takes a time.Duration payload that replaces the interval.
var TopicConfig = bus.T("config", "heartbeat")

const DefaultInterval = 10 * time.Second

type Service struct {
	Interval time.Duration
	Log      zerolog.Logger
	// Beats, if set, receives every beat. Sends never block.
	Beats chan<- Beat
}

// Beat is what one heartbeat reports.
type Beat struct {
	Frames  int
	Devices int
}

// Start subscribes and runs the service until ctx is cancelled.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) {
	cfgSub := conn.Subscribe(TopicConfig)
	frameSub := conn.Subscribe(bus.T(monitor.TopicTelemetry, bus.AnyRest))
	go s.serviceLoop(ctx, conn, cfgSub, frameSub)
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, cfgSub, frameSub *bus.Subscription) {
	defer conn.Unsubscribe(cfgSub)
	defer conn.Unsubscribe(frameSub)

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	frames := 0
	devices := map[string]struct{}{}
	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("heartbeat stopping")
			return
		case <-tick.C:
			b := Beat{Frames: frames, Devices: len(devices)}
			s.Log.Info().Int("frames", b.Frames).Int("devices", b.Devices).Msg("heartbeat")
			if s.Beats != nil {
				select {
				case s.Beats <- b:
				default:
				}
			}
			frames = 0
			clear(devices)
		case msg, ok := <-frameSub.Channel():
			if !ok {
				return
			}
			if len(msg.Topic) > 1 {
				frames++
				devices[msg.Topic[1]] = struct{}{}
			}
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			if iv, isDur := msg.Payload.(time.Duration); isDur && iv > 0 {
				tick.Reset(iv)
				s.Log.Info().Dur("interval", iv).Msg("heartbeat interval changed")
			}
		}
	}
}
