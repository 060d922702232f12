package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"picoperiph/bus"
	"picoperiph/services/boardwatch"
	heartbeatsvc "picoperiph/services/heartbeat"
	"picoperiph/services/monitor"
	"picoperiph/telemetry"
)

func (a *app) monitorCmd() *cobra.Command {
	var (
		format    string
		out       string
		duration  time.Duration
		heartbeat time.Duration
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Sample the board's sensors and write telemetry frames",
		Long: "Samples every ds1307, bmx280, max1415 and sn74hc165 on the board at the\n" +
			"board's monitor interval. JSON frames are written one per line, CBOR\n" +
			"frames with a two byte length prefix. Editing the board file applies\n" +
			"the new board without a restart.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := telemetry.ParseFormat(format)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			return a.runMonitor(ctx, w, f, heartbeat)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "frame encoding, json or cbor")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write frames to this file instead of stdout")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (default run until interrupted)")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", heartbeatsvc.DefaultInterval, "log a frame count this often, 0 to disable")
	return cmd
}

// runMonitor wires the board watcher, the sampler and the frame sink on a
// private bus and blocks until ctx ends.
func (a *app) runMonitor(ctx context.Context, w io.Writer, f telemetry.Format, heartbeat time.Duration) error {
	b := bus.NewBus(64)

	if heartbeat > 0 {
		hb := &heartbeatsvc.Service{Interval: heartbeat, Log: a.log}
		hb.Start(ctx, b.NewConnection("heartbeat"))
	}

	sink := &monitor.Sink{Log: a.log, Encode: frameWriter(w, f)}
	sink.Start(ctx, b.NewConnection("sink"))

	svc := &monitor.Service{Build: a.adaptor, Log: a.log}
	svc.Start(ctx, b.NewConnection("monitor"))

	watch := &boardwatch.Service{Path: a.cfgPath, Log: a.log}
	if err := watch.Start(ctx, b.NewConnection("boardwatch")); err != nil {
		return err
	}
	a.log.Info().Str("session", svc.Session.ID.String()).Str("format", f.String()).Msg("monitoring")
	<-ctx.Done()
	return nil
}

func frameWriter(w io.Writer, f telemetry.Format) func(telemetry.Frame) error {
	if f == telemetry.CBOR {
		return telemetry.NewEncoder(w, f).Encode
	}
	return func(fr telemetry.Frame) error {
		b, err := telemetry.Marshal(f, fr)
		if err != nil {
			return err
		}
		_, err = w.Write(append(b, '\n'))
		return err
	}
}
