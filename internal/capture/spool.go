package capture

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
)

// SpoolRecord is the JSON document the kiosk-browser shim drops into the
// spool directory, one file per signal. The shim writes to a temp name and
// renames, so a create event always sees a complete record.
type SpoolRecord struct {
	Type              string            `json:"type" validate:"required"`
	TimestampMs       int64             `json:"timestamp_ms" validate:"gte=0"`
	Details           map[string]string `json:"details,omitempty"`
	DefaultSuppressed bool              `json:"default_suppressed"`
	Viewport          *ViewportMetrics  `json:"viewport,omitempty"`
}

// SpoolSource ingests signal records from a spool directory via fsnotify.
// Records already present at start are ingested first, in name order, so a
// shim that raced ahead of the daemon loses nothing.
type SpoolSource struct {
	mu sync.Mutex

	dir      string
	logger   *slog.Logger
	validate *validator.Validate

	watcher *fsnotify.Watcher
	signals chan Signal

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSpoolSource creates a spool source over dir.
func NewSpoolSource(dir string, logger *slog.Logger) *SpoolSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &SpoolSource{
		dir:      dir,
		logger:   logger.With("component", "spool_source"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		signals:  make(chan Signal, 100),
	}
}

// Available reports whether the spool directory can be created.
func (s *SpoolSource) Available() (bool, string) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return false, "spool directory unavailable: " + err.Error()
	}
	return true, "spool source on " + s.dir
}

// Start begins watching the spool directory.
func (s *SpoolSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}

	s.watcher = watcher
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.watchLoop()

	// Drain records that predate the watch.
	s.ingestExisting()

	return nil
}

// Stop stops watching. Safe when not started.
func (s *SpoolSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	s.wg.Wait()
	return nil
}

// Signals returns the signal channel.
func (s *SpoolSource) Signals() <-chan Signal {
	return s.signals
}

// ingestExisting processes records already on disk, oldest name first.
func (s *SpoolSource) ingestExisting() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("spool scan failed", "error", err)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		s.ingestFile(filepath.Join(s.dir, entry.Name()))
	}
}

// watchLoop handles fsnotify events.
func (s *SpoolSource) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			s.ingestFile(event.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("spool watcher error", "error", err)
		}
	}
}

// ingestFile reads, validates, emits, and removes one record file.
// Malformed records are moved aside rather than deleted, so a broken shim
// stays debuggable.
func (s *SpoolSource) ingestFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("spool record unreadable", "path", path, "error", err)
		}
		return
	}

	var rec SpoolRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("spool record malformed", "path", path, "error", err)
		s.quarantine(path)
		return
	}
	if err := s.validate.Struct(&rec); err != nil {
		s.logger.Warn("spool record invalid", "path", path, "error", err)
		s.quarantine(path)
		return
	}

	sig := Signal{
		Type:              SignalType(rec.Type),
		Details:           rec.Details,
		DefaultSuppressed: rec.DefaultSuppressed,
		Viewport:          rec.Viewport,
	}
	if rec.TimestampMs > 0 {
		sig.Timestamp = time.UnixMilli(rec.TimestampMs)
	}

	select {
	case s.signals <- sig:
	default:
		s.logger.Warn("signal channel full, dropping spool record", "path", path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("spool record cleanup failed", "path", path, "error", err)
	}
}

// quarantine renames a bad record out of the watch pattern.
func (s *SpoolSource) quarantine(path string) {
	if err := os.Rename(path, path+".bad"); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("spool quarantine failed", "path", path, "error", err)
	}
}
