package escalation

import (
	"testing"
	"time"

	"proctord/internal/debounce"
	"proctord/internal/ledger"
	"proctord/internal/violation"
)

func newTestEngine(window time.Duration) *Engine {
	return New(violation.DefaultPolicy(), ledger.New(), debounce.New(window), nil)
}

func intentAt(kind violation.Kind, ts time.Time) violation.Intent {
	return violation.Intent{Kind: kind, Timestamp: ts}
}

// drainEvents collects everything currently buffered on the event channel.
func drainEvents(e *Engine) []Event {
	var out []Event
	for {
		select {
		case ev := <-e.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// TestEscalationSequence walks three distinct intents spaced past the
// debounce window: WARNED, then CRITICAL with a second warning event, then
// TERMINATED with exactly one force-exit.
func TestEscalationSequence(t *testing.T) {
	e := newTestEngine(2 * time.Second)
	base := time.Now()

	kinds := []violation.Kind{
		violation.KindFullscreenExit,
		violation.KindWindowBlur,
		violation.KindTabHidden,
	}

	// First intent: count 1, WARNED.
	r := e.Submit(intentAt(kinds[0], base))
	if !r.Accepted {
		t.Fatal("first intent should be accepted")
	}
	if r.Count != 1 || r.Tier != violation.TierWarned {
		t.Fatalf("after intent 1: count=%d tier=%v", r.Count, r.Tier)
	}

	evs := drainEvents(e)
	if len(evs) != 1 || evs[0].Type != EventWarning || evs[0].Tier != violation.TierWarned {
		t.Fatalf("expected one WARNED warning event, got %+v", evs)
	}

	// Second intent 3s later: count 2, CRITICAL, warning fires again with
	// the escalated payload.
	r = e.Submit(intentAt(kinds[1], base.Add(3*time.Second)))
	if r.Count != 2 || r.Tier != violation.TierCritical {
		t.Fatalf("after intent 2: count=%d tier=%v", r.Count, r.Tier)
	}

	evs = drainEvents(e)
	if len(evs) != 1 || evs[0].Type != EventWarning || evs[0].Count != 2 {
		t.Fatalf("expected escalated warning event, got %+v", evs)
	}
	if evs[0].Tier != violation.TierCritical {
		t.Errorf("expected CRITICAL tier on second warning, got %v", evs[0].Tier)
	}

	// Third intent: count 3, TERMINATED, force-exit exactly once.
	r = e.Submit(intentAt(kinds[2], base.Add(6*time.Second)))
	if r.Count != 3 || r.Tier != violation.TierTerminated {
		t.Fatalf("after intent 3: count=%d tier=%v", r.Count, r.Tier)
	}

	evs = drainEvents(e)
	if len(evs) != 1 || evs[0].Type != EventForceExit {
		t.Fatalf("expected one force-exit event, got %+v", evs)
	}
	if evs[0].Reason != ReasonMaxViolations {
		t.Errorf("expected reason %q, got %q", ReasonMaxViolations, evs[0].Reason)
	}
}

// TestSeverityResolvedAfterRecompute verifies the violation crossing a
// threshold carries the escalated severity.
func TestSeverityResolvedAfterRecompute(t *testing.T) {
	e := newTestEngine(0)
	base := time.Now()

	r1 := e.Submit(intentAt(violation.KindWindowBlur, base))
	if r1.Violation.Severity != violation.SeverityWarning {
		t.Errorf("violation 1 should be warning severity, got %q", r1.Violation.Severity)
	}

	r2 := e.Submit(intentAt(violation.KindTabHidden, base))
	if r2.Violation.Severity != violation.SeverityCritical {
		t.Errorf("violation 2 crosses into CRITICAL, got %q", r2.Violation.Severity)
	}
}

// TestDebouncedIntentRejected verifies suppressed intents reach no state.
func TestDebouncedIntentRejected(t *testing.T) {
	e := newTestEngine(2 * time.Second)
	base := time.Now()

	e.Submit(intentAt(violation.KindWindowBlur, base))

	// 500ms later, same kind: dropped silently.
	r := e.Submit(intentAt(violation.KindWindowBlur, base.Add(500*time.Millisecond)))
	if r.Accepted {
		t.Fatal("repeat within window should be rejected")
	}
	if r.Count != 1 {
		t.Errorf("count should remain 1, got %d", r.Count)
	}
	if len(drainEvents(e)) != 1 {
		t.Error("rejected intent must not emit events")
	}
}

// TestTerminatedIsSticky verifies the one-way sink: appends continue for
// audit, events stop.
func TestTerminatedIsSticky(t *testing.T) {
	e := newTestEngine(0)
	base := time.Now()

	kinds := []violation.Kind{
		violation.KindFullscreenExit,
		violation.KindWindowBlur,
		violation.KindTabHidden,
		violation.KindCopyAttempt,
		violation.KindPasteAttempt,
	}
	for _, k := range kinds {
		e.Submit(intentAt(k, base))
	}

	if !e.Terminated() {
		t.Fatal("engine should be terminated")
	}
	if e.Count() != 5 {
		t.Errorf("ledger should keep all 5 appends for audit, got %d", e.Count())
	}

	forceExits := 0
	for _, ev := range drainEvents(e) {
		if ev.Type == EventForceExit {
			forceExits++
		}
	}
	if forceExits != 1 {
		t.Errorf("expected exactly 1 force-exit, got %d", forceExits)
	}

	// Further submits append but stay silent.
	r := e.Submit(intentAt(violation.KindRightClick, base.Add(time.Hour)))
	if !r.Accepted {
		t.Error("post-termination intents are still appended")
	}
	if len(drainEvents(e)) != 0 {
		t.Error("post-termination intents must not emit events")
	}
}

// TestForceTerminate verifies the server directive path and its idempotence.
func TestForceTerminate(t *testing.T) {
	e := newTestEngine(0)
	base := time.Now()

	// Local tier only WARNED.
	e.Submit(intentAt(violation.KindWindowBlur, base))
	drainEvents(e)

	e.ForceTerminate(ReasonServerDirective)

	if !e.Terminated() {
		t.Fatal("engine should be terminated by server directive")
	}

	evs := drainEvents(e)
	if len(evs) != 1 || evs[0].Type != EventForceExit {
		t.Fatalf("expected one force-exit event, got %+v", evs)
	}
	if evs[0].Reason != ReasonServerDirective {
		t.Errorf("expected server directive reason, got %q", evs[0].Reason)
	}

	// Second directive is a no-op.
	e.ForceTerminate(ReasonServerDirective)
	if len(drainEvents(e)) != 0 {
		t.Error("repeated force-terminate must not emit again")
	}
}

// TestTerminationRace verifies whichever terminal signal lands first wins.
func TestTerminationRace(t *testing.T) {
	e := newTestEngine(0)
	base := time.Now()

	for _, k := range []violation.Kind{
		violation.KindFullscreenExit,
		violation.KindWindowBlur,
		violation.KindTabHidden,
	} {
		e.Submit(intentAt(k, base))
	}
	// Local max reached; server directive arrives just after.
	e.ForceTerminate(ReasonServerDirective)

	forceExits := 0
	var reason string
	for _, ev := range drainEvents(e) {
		if ev.Type == EventForceExit {
			forceExits++
			reason = ev.Reason
		}
	}
	if forceExits != 1 {
		t.Fatalf("expected exactly 1 force-exit, got %d", forceExits)
	}
	if reason != ReasonMaxViolations {
		t.Errorf("local termination landed first, expected %q, got %q", ReasonMaxViolations, reason)
	}
}

// TestRaiseSynthetic verifies synthetic violations bypass the debouncer and
// are recorded critical.
func TestRaiseSynthetic(t *testing.T) {
	e := newTestEngine(time.Hour)

	e.RaiseSynthetic(violation.KindEnforcementFailed, map[string]string{"retries": "3"})
	if e.Count() != 1 {
		t.Fatal("synthetic violation should always append")
	}

	var v violation.Violation
	select {
	case v = <-e.Appended():
	default:
		t.Fatal("appended notification missing")
	}
	if v.Severity != violation.SeverityCritical {
		t.Errorf("synthetic violation should be critical, got %q", v.Severity)
	}
	if v.Kind != violation.KindEnforcementFailed {
		t.Errorf("unexpected kind %q", v.Kind)
	}

	// The huge debounce window must not suppress a second synthetic raise
	// (raise-once guarding lives in the enforcer, not here).
	e.RaiseSynthetic(violation.KindEnforcementFailed, nil)
	if e.Count() != 2 {
		t.Error("synthetic raise bypasses the debouncer")
	}
}

// TestSeededTierAdvance verifies a server-seeded count shifts the starting
// tier without emitting events for past violations.
func TestSeededTierAdvance(t *testing.T) {
	l := ledger.New()
	l.Seed(1)
	e := New(violation.DefaultPolicy(), l, debounce.New(0), nil)

	if e.Tier() != violation.TierWarned {
		t.Fatalf("seeded engine should start WARNED, got %v", e.Tier())
	}
	if len(drainEvents(e)) != 0 {
		t.Error("seeding must not emit events")
	}

	// Next violation crosses straight into CRITICAL.
	r := e.Submit(intentAt(violation.KindWindowBlur, time.Now()))
	if r.Tier != violation.TierCritical {
		t.Errorf("expected CRITICAL after seeded append, got %v", r.Tier)
	}

	evs := drainEvents(e)
	if len(evs) != 1 || evs[0].Tier != violation.TierCritical {
		t.Fatalf("expected one CRITICAL warning event, got %+v", evs)
	}
}
