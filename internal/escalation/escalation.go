// Package escalation maps ledger growth to graduated tiers and emits
// tier-transition events.
//
// The engine owns the single mutation point for the ledger: every accepted
// intent flows through Submit, which appends, recomputes the tier from the
// new count, and compares against the previously observed tier. Tier
// transitions are monotonic forward only. TERMINATED is a one-way sink:
// once entered, later accepted violations are still appended for audit but
// trigger no further events, which prevents duplicate force-exit races when
// several intents land in the same tick.
//
// Transitions surface as typed events on a channel rather than callback
// fields, so consumers hold no scattered mutable callback state.
package escalation

import (
	"log/slog"
	"sync"
	"time"

	"proctord/internal/debounce"
	"proctord/internal/ledger"
	"proctord/internal/violation"
)

// EventType distinguishes escalation events.
type EventType int

const (
	// EventWarning fires on NORMAL→WARNED and again on →CRITICAL with the
	// escalated payload.
	EventWarning EventType = iota

	// EventForceExit fires exactly once, on entry to TERMINATED.
	EventForceExit
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventWarning:
		return "warning"
	case EventForceExit:
		return "force_exit"
	default:
		return "unknown"
	}
}

// ReasonMaxViolations is the force-exit reason when the local count
// reaches the policy maximum.
const ReasonMaxViolations = "max_violations_exceeded"

// ReasonServerDirective is the force-exit reason when the server's
// authoritative record demands termination.
const ReasonServerDirective = "server_directive"

// Event is one tier-transition notification.
type Event struct {
	Type EventType

	// Count is the effective violation count that produced the transition.
	Count int

	// Tier is the tier entered.
	Tier violation.Tier

	// Violation is the entry that crossed the threshold, when one did.
	Violation violation.Violation

	// Reason is set on force-exit events.
	Reason string
}

// Result reports what Submit did with an intent.
type Result struct {
	// Accepted is false when the debouncer suppressed the intent.
	Accepted bool

	// Violation is the appended entry when Accepted.
	Violation violation.Violation

	// Count is the effective count after the append.
	Count int

	// Tier is the tier after the append.
	Tier violation.Tier
}

// Engine is the escalation state machine for one exam attempt. It is an
// explicit instance owned by the session controller and passed by handle
// to collaborators; there is no ambient shared state.
type Engine struct {
	mu sync.Mutex

	policy   violation.Policy
	ledger   *ledger.Ledger
	debounce *debounce.Debouncer
	logger   *slog.Logger

	// observedTier is the last tier transitions were evaluated against.
	// The tier itself is always recomputed from the count; this only
	// remembers how far events have fired, keeping transitions monotonic.
	observedTier violation.Tier

	// forced latches server-directed termination, which can outrun the
	// local count.
	forced       bool
	forcedReason string

	// forceExitFired guards the exactly-once force-exit event.
	forceExitFired bool

	events   chan Event
	appended chan violation.Violation
}

// New creates an escalation engine. The ledger and debouncer are injected
// collaborators shared with the session controller.
func New(policy violation.Policy, l *ledger.Ledger, d *debounce.Debouncer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		policy:   policy,
		ledger:   l,
		debounce: d,
		logger:   logger.With("component", "escalation"),
		events:   make(chan Event, 32),
		appended: make(chan violation.Violation, 64),
	}
}

// Events returns the tier-transition event channel.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Appended returns the channel of every recorded violation, including
// audit-only appends after termination and synthetic raises. Consumers use
// it for persistence and server reporting.
func (e *Engine) Appended() <-chan violation.Violation {
	return e.appended
}

// Policy returns the immutable escalation policy.
func (e *Engine) Policy() violation.Policy {
	return e.policy
}

// Tier returns the current tier, recomputed from the effective count.
// Server-forced termination overrides the count-derived tier.
func (e *Engine) Tier() violation.Tier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tierLocked()
}

func (e *Engine) tierLocked() violation.Tier {
	if e.forced {
		return violation.TierTerminated
	}
	return violation.TierFor(e.ledger.Count(), e.policy)
}

// Count returns the effective violation count.
func (e *Engine) Count() int {
	return e.ledger.Count()
}

// Terminated reports whether the terminal tier has been entered.
func (e *Engine) Terminated() bool {
	return e.Tier() == violation.TierTerminated
}

// Submit runs an intent through the debounce/ledger/tier pipeline.
func (e *Engine) Submit(intent violation.Intent) Result {
	if !e.debounce.Accept(intent.Kind, intent.Timestamp) {
		e.logger.Debug("intent suppressed by debounce", "kind", intent.Kind)
		return Result{Accepted: false, Count: e.ledger.Count(), Tier: e.Tier()}
	}
	return e.append(intent, "")
}

// RaiseSynthetic appends an internally generated violation, bypassing the
// debouncer. Used for enforcement failures; always recorded critical.
func (e *Engine) RaiseSynthetic(kind violation.Kind, details map[string]string) {
	intent := violation.Intent{
		Kind:      kind,
		Timestamp: time.Now(),
		Details:   details,
	}
	e.append(intent, violation.SeverityCritical)
}

// append is the single mutation point for ledger and tier state.
func (e *Engine) append(intent violation.Intent, forceSeverity violation.Severity) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	alreadyTerminated := e.tierLocked() == violation.TierTerminated

	// Severity is resolved against the tier as it will be after this
	// append, so the violation crossing a threshold carries the
	// escalated severity.
	newTier := violation.TierFor(e.ledger.Count()+1, e.policy)
	severity := violation.SeverityFor(newTier)
	if forceSeverity != "" {
		severity = forceSeverity
	}

	v, err := e.ledger.Append(intent, severity)
	if err != nil {
		e.logger.Error("ledger append failed", "kind", intent.Kind, "error", err)
		return Result{Accepted: false, Count: e.ledger.Count(), Tier: e.tierLocked()}
	}

	count := e.ledger.Count()
	tier := e.tierLocked()

	e.logger.Info("violation recorded",
		"kind", v.Kind,
		"severity", v.Severity,
		"confidence", v.Confidence,
		"sequence", v.Sequence,
		"count", count,
		"tier", tier.String(),
	)

	select {
	case e.appended <- v:
	default:
		e.logger.Warn("appended channel full, dropping notification", "kind", v.Kind)
	}

	// Past the sink: audit append only, no further side effects.
	if alreadyTerminated {
		return Result{Accepted: true, Violation: v, Count: count, Tier: tier}
	}

	if tier > e.observedTier {
		e.transitionLocked(tier, count, v)
	}

	return Result{Accepted: true, Violation: v, Count: count, Tier: tier}
}

// ForceTerminate enters TERMINATED regardless of the local count. The
// server is the tie-breaking authority for termination safety; when local
// count and server directive race, whichever arrives first wins and the
// later one is a no-op.
func (e *Engine) ForceTerminate(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.forceExitFired {
		return
	}

	e.forced = true
	e.forcedReason = reason
	e.transitionLocked(violation.TierTerminated, e.ledger.Count(), violation.Violation{})
}

// transitionLocked fires events for an advance to tier. Caller holds mu.
func (e *Engine) transitionLocked(tier violation.Tier, count int, v violation.Violation) {
	e.observedTier = tier

	switch tier {
	case violation.TierWarned, violation.TierCritical:
		e.emit(Event{
			Type:      EventWarning,
			Count:     count,
			Tier:      tier,
			Violation: v,
		})

	case violation.TierTerminated:
		if e.forceExitFired {
			return
		}
		e.forceExitFired = true

		reason := ReasonMaxViolations
		if e.forcedReason != "" {
			reason = e.forcedReason
		}

		e.emit(Event{
			Type:      EventForceExit,
			Count:     count,
			Tier:      tier,
			Violation: v,
			Reason:    reason,
		})
	}
}

// emit sends without blocking; the session loop drains promptly and the
// buffer covers teardown races.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("escalation event channel full, dropping event", "type", ev.Type.String())
	}
}
