// Package session owns the exam lifecycle.
//
// The controller is the only component with lifecycle authority: it starts
// and stops the capture monitor, the fullscreen enforcer, and the server
// reconciliation client, and it is the sole consumer of their channels. A
// single event loop processes intents, escalation events, fullscreen
// updates, server verdicts, the countdown tick, and user commands, so
// every handler sees the previous one's fully applied effect.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"proctord/internal/capture"
	"proctord/internal/escalation"
	"proctord/internal/fullscreen"
	"proctord/internal/ledger"
	"proctord/internal/reconcile"
	"proctord/internal/violation"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrNotRunning is returned for commands against a session that has
	// not started or has already finished.
	ErrNotRunning = errors.New("session: not running")
)

// Reconciler is the server synchronization surface the controller needs.
// Satisfied by *reconcile.Client; nil means offline operation.
type Reconciler interface {
	FetchStatus(ctx context.Context) (reconcile.Status, error)
	ReportViolation(v violation.Violation)
	ReportFullscreen(isFullscreen bool)
	Results() <-chan reconcile.Result
	Close()
}

// Config configures one exam session.
type Config struct {
	// ExamID identifies the exam on the server.
	ExamID string `toml:"exam_id" json:"exam_id" yaml:"exam_id"`

	// SessionID identifies this attempt. Assigned at Start when empty;
	// callers that derive per-session key material set it up front.
	SessionID string `toml:"-" json:"-" yaml:"-"`

	// Duration is the exam length. The countdown runs only while ACTIVE.
	Duration time.Duration `toml:"duration" json:"duration" yaml:"duration"`
}

type commandKind int

const (
	cmdAcknowledge commandKind = iota
	cmdManualFullscreen
	cmdEnd
	cmdForceExit
)

type command struct {
	kind   commandKind
	reason string
}

// Controller runs one exam attempt over injected collaborators.
type Controller struct {
	config Config
	logger *slog.Logger

	monitor  *capture.Monitor
	engine   *escalation.Engine
	led      *ledger.Ledger
	enforcer *fullscreen.Enforcer
	recon    Reconciler
	store    *ledger.Store

	sessionID string
	startedAt time.Time

	// Loop-owned state; read externally only through the published view.
	status         Status
	endReason      string
	warningVisible bool
	timeRemaining  time.Duration

	commands chan command
	done     chan Summary

	view viewBox
}

// viewBox holds the published snapshot for concurrent readers.
type viewBox struct {
	mu sync.Mutex
	v  View
}

func (b *viewBox) store(v View) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}

func (b *viewBox) load() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.v
}

// New wires a controller over its collaborators. The reconciler and store
// may be nil; the session then runs on local enforcement alone.
func New(cfg Config, monitor *capture.Monitor, engine *escalation.Engine, led *ledger.Ledger,
	enforcer *fullscreen.Enforcer, recon Reconciler, store *ledger.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		config:   cfg,
		logger:   logger.With("component", "session", "exam_id", cfg.ExamID),
		monitor:  monitor,
		engine:   engine,
		led:      led,
		enforcer: enforcer,
		recon:    recon,
		store:    store,
		status:   StatusIdle,
		commands: make(chan command, 8),
		done:     make(chan Summary, 1),
	}
	c.publishView()
	return c
}

// SessionID returns the identifier assigned at Start.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Done delivers the final summary once the session reaches a terminal
// state.
func (c *Controller) Done() <-chan Summary {
	return c.done
}

// View returns a snapshot for the presentation layer.
func (c *Controller) View() View {
	return c.view.load()
}

// Start reconciles with the server, starts the collaborators, and begins
// the event loop.
func (c *Controller) Start(ctx context.Context) error {
	if c.view.load().Status != StatusIdle.String() {
		return ErrAlreadyStarted
	}

	c.sessionID = c.config.SessionID
	if c.sessionID == "" {
		c.sessionID = uuid.NewString()
	}
	c.status = StatusStarting
	c.publishView()
	c.logger.Info("session starting", "session_id", c.sessionID, "duration", c.config.Duration)

	c.seedFromServer(ctx)

	if c.store != nil {
		if err := c.store.BeginSession(c.sessionID, c.config.ExamID, time.Now().UnixNano()); err != nil {
			return err
		}
	}

	if err := c.monitor.Start(c.sessionID); err != nil {
		return err
	}

	c.startedAt = time.Now()
	c.timeRemaining = c.config.Duration
	c.status = StatusActive
	c.enforcer.SetActive(true)
	c.publishView()
	c.logger.Info("session active", "session_id", c.sessionID, "seed_count", c.engine.Count())

	go c.loop(ctx)
	return nil
}

// seedFromServer pulls the authoritative violation state. The server is
// authoritative for resuming a session; failure here degrades to local
// counters.
func (c *Controller) seedFromServer(ctx context.Context) {
	if c.recon == nil {
		return
	}

	status, err := c.recon.FetchStatus(ctx)
	if err != nil {
		c.logger.Warn("server status unavailable, continuing with local counters", "error", err)
		return
	}

	c.led.Seed(status.TotalViolations)
	if status.TerminationThreshold != c.engine.Policy().MaxViolations {
		c.logger.Warn("server termination threshold differs from local policy",
			"server", status.TerminationThreshold,
			"local", c.engine.Policy().MaxViolations)
	}

	// A seed at or past the maximum means the server already considers
	// this attempt over. Later appends are audit-only past the
	// terminated sink, so the force exit has to fire here.
	if c.engine.Tier() == violation.TierTerminated {
		c.engine.ForceTerminate(escalation.ReasonMaxViolations)
	}

	c.logger.Info("seeded from server",
		"total_violations", status.TotalViolations,
		"tier", c.engine.Tier().String())
}

// AcknowledgeWarning dismisses the warning dialog and resumes the exam if
// nothing else holds it paused.
func (c *Controller) AcknowledgeWarning() error {
	return c.send(command{kind: cmdAcknowledge})
}

// RequestFullscreenManually performs a user-initiated re-entry attempt.
func (c *Controller) RequestFullscreenManually() error {
	return c.send(command{kind: cmdManualFullscreen})
}

// End finishes the exam normally.
func (c *Controller) End() error {
	return c.send(command{kind: cmdEnd, reason: ReasonCompleted})
}

// ForceExit terminates the session administratively.
func (c *Controller) ForceExit(reason string) error {
	return c.send(command{kind: cmdForceExit, reason: reason})
}

func (c *Controller) send(cmd command) error {
	switch c.view.load().Status {
	case StatusIdle.String(), StatusEnded.String(), StatusTerminated.String():
		return ErrNotRunning
	}
	select {
	case c.commands <- cmd:
		return nil
	default:
		return ErrNotRunning
	}
}

// loop is the single mutation point for session state.
func (c *Controller) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var results <-chan reconcile.Result
	if c.recon != nil {
		results = c.recon.Results()
	}

	for {
		select {
		case <-ctx.Done():
			c.finish(StatusEnded, ReasonAborted)
			return

		case intent := <-c.monitor.Intents():
			c.handleIntent(ctx, intent)

		case v := <-c.engine.Appended():
			c.handleAppended(v)

		case ev := <-c.engine.Events():
			c.handleEscalation(ev)

		case u := <-c.enforcer.Updates():
			c.handleFullscreen(u)

		case r := <-results:
			c.handleServerVerdict(r)

		case <-ticker.C:
			c.tick()

		case cmd := <-c.commands:
			c.handleCommand(ctx, cmd)
		}

		c.publishView()

		if c.status.Terminal() {
			c.finish(c.status, c.endReason)
			return
		}
	}
}

// handleIntent routes one capture intent. Fullscreen observations feed the
// enforcer through this single path; only exits continue on as violations.
func (c *Controller) handleIntent(ctx context.Context, intent violation.Intent) {
	if intent.Kind == violation.KindFullscreenExit {
		fs := intent.Details["fullscreen"] == "true"
		c.enforcer.Observe(fs)
		if c.recon != nil {
			c.recon.ReportFullscreen(fs)
		}
		if fs {
			return
		}
	}

	c.engine.Submit(intent)
}

// handleAppended persists and reports one recorded violation.
func (c *Controller) handleAppended(v violation.Violation) {
	if c.store != nil {
		if err := c.store.InsertViolation(c.sessionID, v); err != nil {
			c.logger.Error("audit store insert failed", "sequence", v.Sequence, "error", err)
		}
	}
	if c.recon != nil {
		c.recon.ReportViolation(v)
	}
}

// handleEscalation reacts to tier transitions.
func (c *Controller) handleEscalation(ev escalation.Event) {
	switch ev.Type {
	case escalation.EventWarning:
		c.warningVisible = true
		if c.status == StatusActive {
			c.pause("warning_acknowledgment")
		}
		c.logger.Warn("warning raised", "count", ev.Count, "tier", ev.Tier.String())

	case escalation.EventForceExit:
		c.status = StatusTerminated
		c.endReason = ev.Reason
		c.logger.Error("force exit", "count", ev.Count, "reason", ev.Reason)
	}
}

// handleFullscreen tracks enforcement state and pauses the exam while
// remediation runs.
func (c *Controller) handleFullscreen(u fullscreen.Update) {
	if !u.Fullscreen && c.status == StatusActive {
		c.pause("fullscreen_remediation")
	}
	if u.Fullscreen {
		c.maybeResume()
	}
}

// handleServerVerdict applies the server's response to a reported
// violation. The server is the tie-breaking authority for termination.
func (c *Controller) handleServerVerdict(r reconcile.Result) {
	if r.ShouldTerminate && !c.engine.Terminated() {
		c.logger.Warn("server directed termination", "server_count", r.ViolationCount)
		c.engine.ForceTerminate(escalation.ReasonServerDirective)
	}
}

// tick advances the countdown while ACTIVE.
func (c *Controller) tick() {
	if c.status != StatusActive {
		return
	}

	c.timeRemaining -= time.Second
	if c.timeRemaining <= 0 {
		c.timeRemaining = 0
		c.status = StatusEnded
		c.endReason = ReasonTimeExpired
	}
}

func (c *Controller) handleCommand(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdAcknowledge:
		c.warningVisible = false
		c.maybeResume()

	case cmdManualFullscreen:
		if err := c.enforcer.RequestManual(ctx); err != nil {
			c.logger.Warn("manual fullscreen request failed", "error", err)
		}

	case cmdEnd:
		if !c.status.Terminal() {
			c.status = StatusEnded
			c.endReason = cmd.reason
		}

	case cmdForceExit:
		// Routed through the engine so a racing local force-exit stays
		// exactly-once.
		c.engine.ForceTerminate(cmd.reason)
	}
}

// pause suspends the countdown.
func (c *Controller) pause(reason string) {
	c.status = StatusPaused
	c.logger.Info("session paused", "reason", reason, "time_remaining", c.timeRemaining)
}

// maybeResume re-enters ACTIVE once nothing holds the session paused.
func (c *Controller) maybeResume() {
	if c.status != StatusPaused {
		return
	}
	if c.warningVisible || !c.enforcer.IsFullscreen() {
		return
	}

	c.status = StatusActive
	c.logger.Info("session resumed", "time_remaining", c.timeRemaining)
}

// finish tears down collaborators and delivers the summary. On leaving
// the running states permanently the capture monitor stops, enforcement
// timers are cleared, and a final ledger snapshot is taken.
func (c *Controller) finish(status Status, reason string) {
	c.status = status
	c.endReason = reason

	c.monitor.Stop()
	c.enforcer.SetActive(false)

	elapsed := time.Since(c.startedAt)

	if c.store != nil {
		if err := c.store.EndSession(c.sessionID, time.Now().UnixNano(), status.String(), reason); err != nil {
			c.logger.Error("audit store end failed", "error", err)
		}
	}
	if c.recon != nil {
		c.recon.Close()
	}

	completion := 0.0
	if c.config.Duration > 0 {
		completion = float64(elapsed) / float64(c.config.Duration)
		if completion > 1 {
			completion = 1
		}
	}

	summary := Summary{
		SessionID:      c.sessionID,
		ExamID:         c.config.ExamID,
		Status:         status.String(),
		EndReason:      reason,
		ViolationCount: c.engine.Count(),
		Severities:     c.led.SeverityCounts(),
		Violations:     c.led.Snapshot(),
		Elapsed:        elapsed,
		Completion:     completion,
	}

	c.publishView()
	c.logger.Info("session finished",
		"status", status.String(),
		"reason", reason,
		"violations", summary.ViolationCount,
		"elapsed", elapsed)

	c.done <- summary
}

// publishView refreshes the read surface.
func (c *Controller) publishView() {
	c.view.store(View{
		SessionID:        c.sessionID,
		ExamID:           c.config.ExamID,
		Status:           c.status.String(),
		WarningVisible:   c.warningVisible,
		ViolationCount:   c.engine.Count(),
		ViolationHistory: c.led.Snapshot(),
		IsFullscreen:     c.enforcer.IsFullscreen(),
		Tier:             c.engine.Tier().String(),
		TimeRemaining:    c.timeRemaining,
	})
}
