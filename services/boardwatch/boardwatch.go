// Package boardwatch publishes the board description on the bus and
// republishes it whenever the file changes on disk.
package boardwatch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"picoperiph/bus"
	"picoperiph/config"
)

var (
	TopicBoard = bus.T("config", "board")
	// TopicError carries reload failures; the last good board stays retained.
	TopicError = bus.T("config", "board", "error")
)

const defaultDebounce = 100 * time.Millisecond

type Service struct {
	Path string
	Log  zerolog.Logger
	// Debounce coalesces the burst of events an editor save produces.
	Debounce time.Duration
	// Load defaults to config.Load.
	Load func(path string) (*config.Board, error)
}

func (s *Service) load() (*config.Board, error) {
	if s.Load != nil {
		return s.Load(s.Path)
	}
	return config.Load(s.Path)
}

// Start publishes the board once and then watches its directory, so
// rename-on-save editors are seen too. The initial load must succeed.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	b, err := s.load()
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.Path)); err != nil {
		w.Close()
		return err
	}
	conn.Publish(&bus.Message{Topic: TopicBoard, Payload: b, Retained: true})
	s.Log.Info().Str("board", b.Name).Int("devices", len(b.Devices)).Msg("board loaded")
	go s.loop(ctx, conn, w)
	return nil
}

func (s *Service) loop(ctx context.Context, conn *bus.Connection, w *fsnotify.Watcher) {
	defer w.Close()
	debounce := s.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	target := filepath.Clean(s.Path)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.Log.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			b, err := s.load()
			if err != nil {
				s.Log.Error().Err(err).Msg("board reload rejected, keeping previous")
				conn.Publish(&bus.Message{Topic: TopicError, Payload: err})
				continue
			}
			s.Log.Info().Str("board", b.Name).Int("devices", len(b.Devices)).Msg("board reloaded")
			conn.Publish(&bus.Message{Topic: TopicBoard, Payload: b, Retained: true})
		}
	}
}
