package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"picoperiph/bus"
	"picoperiph/services/monitor"
)

func nextBeat(t *testing.T, beats <-chan Beat) Beat {
	t.Helper()
	select {
	case b := <-beats:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat")
	}
	return Beat{}
}

func TestHeartbeatCountsFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.NewBus(16)
	conn := b.NewConnection("test")

	beats := make(chan Beat, 4)
	s := &Service{Interval: 50 * time.Millisecond, Log: zerolog.Nop(), Beats: beats}
	s.Start(ctx, conn)

	for _, dev := range []string{"rtc", "env", "rtc"} {
		conn.Publish(&bus.Message{Topic: bus.T(monitor.TopicTelemetry, dev), Payload: dev})
	}
	// The frames may straddle a tick; sum until all three are seen.
	var frames, devices int
	for frames < 3 {
		beat := nextBeat(t, beats)
		frames += beat.Frames
		if beat.Devices > devices {
			devices = beat.Devices
		}
	}
	if frames != 3 {
		t.Fatalf("frames = %d, want 3", frames)
	}
	if devices == 0 || devices > 2 {
		t.Fatalf("devices = %d", devices)
	}

	if beat := nextBeat(t, beats); beat.Frames != 0 || beat.Devices != 0 {
		t.Fatalf("counters not reset: %+v", beat)
	}
}

func TestHeartbeatIntervalFromConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.NewBus(16)
	conn := b.NewConnection("test")

	beats := make(chan Beat, 4)
	s := &Service{Interval: time.Hour, Log: zerolog.Nop(), Beats: beats}
	s.Start(ctx, conn)

	conn.Publish(&bus.Message{Topic: TopicConfig, Payload: 20 * time.Millisecond})
	nextBeat(t, beats)
}
