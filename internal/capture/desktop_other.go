//go:build !linux

package capture

import (
	"context"
	"log/slog"
	"runtime"
)

// DesktopSource is a no-op on platforms without a session bus.
type DesktopSource struct {
	signals chan Signal
}

// NewDesktopSource creates the null desktop source.
func NewDesktopSource(logger *slog.Logger) *DesktopSource {
	return &DesktopSource{signals: make(chan Signal)}
}

func (s *DesktopSource) Available() (bool, string) {
	return false, "desktop signals not available on " + runtime.GOOS
}

func (s *DesktopSource) Start(ctx context.Context) error { return nil }

func (s *DesktopSource) Stop() error { return nil }

func (s *DesktopSource) Signals() <-chan Signal { return s.signals }
