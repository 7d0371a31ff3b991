// Package capture translates platform-level signals into violation intents.
//
// The capture layer makes no business-logic decisions: each registered
// signal maps 1:1 to an intent kind, and the debouncer downstream decides
// what is accepted. Sources are platform-specific implementations of the
// Source interface:
//   - spool source: JSON signal records dropped by the kiosk-browser shim
//   - desktop source: D-Bus screensaver/lock signals (Linux)
//
// The developer-tools detection is a heuristic (outer-vs-inner viewport
// delta) and is explicitly approximate; its intents are tagged so that
// downstream consumers treat them with lower confidence.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"proctord/internal/violation"
)

var (
	// ErrNotStarted is returned for operations requiring a started monitor.
	ErrNotStarted = errors.New("capture: not started")
)

// SignalType identifies a platform-level signal.
type SignalType string

const (
	// SignalFullscreenChange reports the exam surface leaving fullscreen.
	SignalFullscreenChange SignalType = "fullscreenchange"

	// SignalWindowBlur reports the exam window losing focus.
	SignalWindowBlur SignalType = "blur"

	// SignalVisibilityHidden reports the exam tab being hidden.
	SignalVisibilityHidden SignalType = "visibility_hidden"

	// SignalBlockedShortcut reports a forbidden keyboard shortcut.
	SignalBlockedShortcut SignalType = "blocked_shortcut"

	// SignalContextMenu reports a right-click / context-menu attempt.
	SignalContextMenu SignalType = "contextmenu"

	// SignalSelectStart reports a text-selection attempt.
	SignalSelectStart SignalType = "selectstart"

	// SignalDragStart reports a drag-and-drop attempt.
	SignalDragStart SignalType = "dragstart"

	// SignalCopy reports a clipboard copy attempt.
	SignalCopy SignalType = "copy"

	// SignalPaste reports a clipboard paste attempt.
	SignalPaste SignalType = "paste"

	// SignalViewportSample carries viewport metrics for the devtools
	// heuristic. It produces an intent only when the heuristic fires.
	SignalViewportSample SignalType = "viewport_sample"

	// SignalEscapeKey reports Escape pressed while fullscreen.
	SignalEscapeKey SignalType = "escape_in_fullscreen"

	// SignalFunctionKey reports a blocked function-key press.
	SignalFunctionKey SignalType = "function_key"
)

// ViewportMetrics are the window dimensions used by the devtools heuristic.
type ViewportMetrics struct {
	OuterWidth  int `json:"outer_width" validate:"gte=0"`
	OuterHeight int `json:"outer_height" validate:"gte=0"`
	InnerWidth  int `json:"inner_width" validate:"gte=0"`
	InnerHeight int `json:"inner_height" validate:"gte=0"`
}

// Signal is one platform-level observation delivered by a Source.
type Signal struct {
	// Type is the platform signal type.
	Type SignalType

	// Timestamp is when the signal was dispatched.
	Timestamp time.Time

	// Details is free-form signal context carried into the intent.
	Details map[string]string

	// DefaultSuppressed records that the source cancelled the underlying
	// platform default action in the same handler invocation. Required
	// for blocking-type signals.
	DefaultSuppressed bool

	// Viewport is set on viewport samples.
	Viewport *ViewportMetrics
}

// Source is implemented by platform-specific signal producers.
type Source interface {
	// Start begins producing signals.
	Start(ctx context.Context) error

	// Stop stops producing signals.
	Stop() error

	// Signals returns the channel of platform signals.
	Signals() <-chan Signal

	// Available returns whether this source can operate here.
	Available() (bool, string)
}

// signalKinds is the 1:1 mapping from platform signal to intent kind.
// SignalViewportSample is absent: it feeds the heuristic instead.
var signalKinds = map[SignalType]violation.Kind{
	SignalFullscreenChange: violation.KindFullscreenExit,
	SignalWindowBlur:       violation.KindWindowBlur,
	SignalVisibilityHidden: violation.KindTabHidden,
	SignalBlockedShortcut:  violation.KindBlockedShortcut,
	SignalContextMenu:      violation.KindRightClick,
	SignalSelectStart:      violation.KindTextSelection,
	SignalDragStart:        violation.KindDragDrop,
	SignalCopy:             violation.KindCopyAttempt,
	SignalPaste:            violation.KindPasteAttempt,
	SignalEscapeKey:        violation.KindEscapeInFullscreen,
	SignalFunctionKey:      violation.KindFunctionKey,
}

// blockingSignals are the signal types whose platform default action must
// be suppressed in the same handler invocation that emits the intent.
var blockingSignals = map[SignalType]bool{
	SignalBlockedShortcut: true,
	SignalContextMenu:     true,
	SignalSelectStart:     true,
	SignalDragStart:       true,
	SignalCopy:            true,
	SignalPaste:           true,
}

// Config configures the capture monitor.
type Config struct {
	// DevtoolsDelta is the outer-vs-inner viewport delta in pixels above
	// which the devtools heuristic fires.
	DevtoolsDelta int

	// Buffer is the intent channel capacity.
	Buffer int
}

// DefaultConfig returns sensible capture defaults.
func DefaultConfig() Config {
	return Config{
		DevtoolsDelta: DefaultDevtoolsDelta,
		Buffer:        100,
	}
}

// Monitor merges sources and normalizes their signals into intents.
type Monitor struct {
	mu sync.Mutex

	config  Config
	sources []Source
	logger  *slog.Logger

	devtools *devtoolsDetector

	intents chan violation.Intent

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	sessionID string
}

// NewMonitor creates a capture monitor over the given sources.
func NewMonitor(cfg Config, sources []Source, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 100
	}

	return &Monitor{
		config:   cfg,
		sources:  sources,
		logger:   logger.With("component", "capture"),
		devtools: newDevtoolsDetector(cfg.DevtoolsDelta),
		intents:  make(chan violation.Intent, cfg.Buffer),
	}
}

// Intents returns the normalized intent channel.
func (m *Monitor) Intents() <-chan violation.Intent {
	return m.intents
}

// Start begins signal capture for the given session. Idempotent: calling
// Start while started is a no-op.
func (m *Monitor) Start(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.sessionID = sessionID
	m.devtools.reset()

	for _, src := range m.sources {
		if ok, reason := src.Available(); !ok {
			m.logger.Warn("signal source unavailable", "reason", reason)
			continue
		}
		if err := src.Start(m.ctx); err != nil {
			m.logger.Error("signal source failed to start", "error", err)
			continue
		}

		m.wg.Add(1)
		go m.forward(src)
	}

	m.running = true
	m.logger.Info("capture started", "session_id", sessionID, "sources", len(m.sources))
	return nil
}

// Stop deregisters all sources. Safe to call when not started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	m.cancel()
	for _, src := range m.sources {
		if err := src.Stop(); err != nil {
			m.logger.Warn("signal source stop failed", "error", err)
		}
	}
	m.wg.Wait()

	m.running = false
	m.logger.Info("capture stopped", "session_id", m.sessionID)
}

// Running reports whether capture is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// forward drains one source into the intent channel.
func (m *Monitor) forward(src Source) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case sig, ok := <-src.Signals():
			if !ok {
				return
			}
			m.handleSignal(sig)
		}
	}
}

// handleSignal normalizes one platform signal into an intent.
func (m *Monitor) handleSignal(sig Signal) {
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}

	if sig.Type == SignalViewportSample {
		m.handleViewportSample(sig)
		return
	}

	kind, ok := signalKinds[sig.Type]
	if !ok {
		m.logger.Warn("unknown signal type", "type", sig.Type)
		return
	}

	if blockingSignals[sig.Type] && !sig.DefaultSuppressed {
		// The source owns suppression; flag the gap but never drop the
		// intent over it.
		m.logger.Warn("blocking signal arrived without default suppression", "type", sig.Type)
	}

	m.emit(violation.Intent{
		Kind:              kind,
		Timestamp:         sig.Timestamp,
		Details:           sig.Details,
		SuppressedDefault: sig.DefaultSuppressed,
	})
}

// handleViewportSample runs the devtools heuristic over a sample.
func (m *Monitor) handleViewportSample(sig Signal) {
	if sig.Viewport == nil {
		return
	}

	fired, details := m.devtools.observe(*sig.Viewport)
	if !fired {
		return
	}

	for k, v := range sig.Details {
		details[k] = v
	}

	m.emit(violation.Intent{
		Kind:      violation.KindDevtoolsSuspected,
		Timestamp: sig.Timestamp,
		Details:   details,
	})
}

// emit sends an intent without blocking the source path.
func (m *Monitor) emit(intent violation.Intent) {
	select {
	case m.intents <- intent:
	default:
		m.logger.Warn("intent channel full, dropping intent", "kind", intent.Kind)
	}
}
