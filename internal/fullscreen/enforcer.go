// Package fullscreen keeps the exam surface in fullscreen.
//
// The enforcer consumes fullscreen observations from a single path: every
// state change, whether reported by the kiosk shim or implied by a driver
// request, funnels through Observe. When an exit is observed during an
// active exam the enforcer asks the driver to re-enter, retrying a bounded
// number of times. Exhausting the retries raises one synthetic critical
// violation through the escalation engine; after that only the manual
// affordance can re-enter.
package fullscreen

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"proctord/internal/violation"
)

var (
	// ErrPermissionDenied is returned by drivers when the platform refuses
	// the request without a fresh user gesture.
	ErrPermissionDenied = errors.New("fullscreen: permission denied")

	// ErrRetriesExhausted is returned by RequestManual when automatic
	// enforcement has already given up and the manual attempt also failed.
	ErrRetriesExhausted = errors.New("fullscreen: retries exhausted")
)

// Driver requests fullscreen re-entry on the platform.
type Driver interface {
	// Enter asks the platform to put the exam surface back in fullscreen.
	// A nil return means the request was dispatched, not that the surface
	// is fullscreen; confirmation arrives through Observe.
	Enter(ctx context.Context) error
}

// Raiser accepts synthetic violations. Satisfied by the escalation engine.
type Raiser interface {
	RaiseSynthetic(kind violation.Kind, details map[string]string)
}

// Config bounds the enforcement loop.
type Config struct {
	// MaxRetries is the number of automatic re-entry attempts per exit.
	MaxRetries int `toml:"max_retries" json:"max_retries" yaml:"max_retries"`

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration `toml:"retry_delay" json:"retry_delay" yaml:"retry_delay"`

	// DeniedTolerance is the number of consecutive permission denials
	// after which automatic retry stops early; the platform will keep
	// refusing until a user gesture arrives, so further attempts only
	// burn the retry budget.
	DeniedTolerance int `toml:"denied_tolerance" json:"denied_tolerance" yaml:"denied_tolerance"`
}

// DefaultConfig returns the standard enforcement bounds.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		RetryDelay:      500 * time.Millisecond,
		DeniedTolerance: 2,
	}
}

// Update is a fullscreen state notification for downstream consumers.
type Update struct {
	// Fullscreen is the observed state.
	Fullscreen bool

	// Exhausted is set once automatic enforcement has given up.
	Exhausted bool
}

// Enforcer drives fullscreen re-entry attempts.
type Enforcer struct {
	mu sync.Mutex

	config Config
	driver Driver
	raiser Raiser
	logger *slog.Logger

	fullscreen bool
	active     bool

	retryCount    int
	deniedStreak  int
	exhausted     bool
	failureRaised bool

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	updates chan Update
}

// New creates an enforcer over the given driver.
func New(cfg Config, driver Driver, raiser Raiser, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.DeniedTolerance <= 0 {
		cfg.DeniedTolerance = 2
	}

	return &Enforcer{
		config: cfg,
		driver: driver,
		raiser: raiser,
		logger: logger.With("component", "fullscreen"),
		// Assumed fullscreen until an exit is observed, so activating
		// enforcement before the first shim report starts no retry loop.
		fullscreen: true,
		updates:    make(chan Update, 16),
	}
}

// Updates returns the state notification channel.
func (e *Enforcer) Updates() <-chan Update {
	return e.updates
}

// IsFullscreen reports the last observed state.
func (e *Enforcer) IsFullscreen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fullscreen
}

// SetActive gates automatic enforcement. Exits observed while inactive are
// recorded but not acted on; a pending retry loop is cancelled.
func (e *Enforcer) SetActive(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active = active
	if !active {
		e.cancelLoopLocked()
	} else if !e.fullscreen {
		e.startLoopLocked()
	}
}

// Observe feeds one fullscreen state change into the enforcer. This is the
// only entry point for state: shim reports and post-request confirmations
// both land here.
func (e *Enforcer) Observe(fullscreen bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fullscreen == e.fullscreen {
		return
	}
	e.fullscreen = fullscreen

	if fullscreen {
		// Re-entry succeeded, by whatever path. The retry budget resets
		// for the next exit; the synthetic failure stays raised.
		e.cancelLoopLocked()
		e.retryCount = 0
		e.deniedStreak = 0
		e.exhausted = false
		e.logger.Info("fullscreen restored")
	} else {
		e.logger.Warn("fullscreen exit observed", "active", e.active)
		if e.active {
			e.startLoopLocked()
		}
	}

	e.notifyLocked()
}

// RequestManual performs one user-initiated re-entry attempt. It is allowed
// even after automatic enforcement has given up.
func (e *Enforcer) RequestManual(ctx context.Context) error {
	e.mu.Lock()
	if e.fullscreen {
		e.mu.Unlock()
		return nil
	}
	exhausted := e.exhausted
	e.mu.Unlock()

	e.logger.Info("manual fullscreen re-entry requested")
	if err := e.driver.Enter(ctx); err != nil {
		if exhausted {
			return errors.Join(ErrRetriesExhausted, err)
		}
		return err
	}
	return nil
}

// startLoopLocked begins the retry loop unless one is already running or
// the budget is spent. Callers hold e.mu.
func (e *Enforcer) startLoopLocked() {
	if e.loopCancel != nil || e.exhausted {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.loopCancel = cancel
	e.loopDone = done

	go e.retryLoop(ctx, done)
}

// cancelLoopLocked stops a running retry loop. Callers hold e.mu.
func (e *Enforcer) cancelLoopLocked() {
	if e.loopCancel == nil {
		return
	}
	e.loopCancel()
	e.loopCancel = nil
	e.loopDone = nil
}

// retryLoop attempts re-entry until confirmation, cancellation, or budget
// exhaustion.
func (e *Enforcer) retryLoop(ctx context.Context, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		// Only clear loop state if a newer loop hasn't replaced it.
		if e.loopDone == done {
			e.loopCancel = nil
			e.loopDone = nil
		}
		e.mu.Unlock()
		close(done)
	}()

	for {
		// Wait before every attempt, the first included, so a re-entry
		// request never races the platform's own fullscreen transition.
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.config.RetryDelay):
		}

		e.mu.Lock()
		if e.fullscreen || !e.active {
			e.mu.Unlock()
			return
		}
		if e.retryCount >= e.config.MaxRetries || e.deniedStreak >= e.config.DeniedTolerance {
			e.giveUpLocked()
			e.mu.Unlock()
			return
		}
		e.retryCount++
		attempt := e.retryCount
		e.mu.Unlock()

		e.logger.Info("attempting fullscreen re-entry", "attempt", attempt, "max", e.config.MaxRetries)

		err := e.driver.Enter(ctx)

		e.mu.Lock()
		switch {
		case err == nil:
			e.deniedStreak = 0
		case errors.Is(err, ErrPermissionDenied):
			e.deniedStreak++
			e.logger.Warn("fullscreen re-entry denied", "attempt", attempt, "consecutive_denials", e.deniedStreak)
		case errors.Is(err, context.Canceled):
			e.mu.Unlock()
			return
		default:
			e.logger.Warn("fullscreen re-entry failed", "attempt", attempt, "error", err)
		}
		e.mu.Unlock()
	}
}

// giveUpLocked marks enforcement exhausted and raises the synthetic
// violation once per session. Callers hold e.mu.
func (e *Enforcer) giveUpLocked() {
	e.exhausted = true

	e.logger.Error("fullscreen enforcement failed",
		"attempts", e.retryCount,
		"consecutive_denials", e.deniedStreak)

	if !e.failureRaised {
		e.failureRaised = true
		e.raiser.RaiseSynthetic(violation.KindEnforcementFailed, map[string]string{
			"attempts":            strconv.Itoa(e.retryCount),
			"consecutive_denials": strconv.Itoa(e.deniedStreak),
		})
	}

	e.notifyLocked()
}

// notifyLocked publishes the current state without blocking. Callers hold
// e.mu.
func (e *Enforcer) notifyLocked() {
	u := Update{Fullscreen: e.fullscreen, Exhausted: e.exhausted}
	select {
	case e.updates <- u:
	default:
		e.logger.Warn("update channel full, dropping fullscreen update")
	}
}
