//go:build integration

package integration

import (
	"testing"
	"time"

	"proctord/internal/escalation"
	"proctord/internal/session"
	"proctord/internal/violation"
)

// TestEscalationThroughTermination drives three distinct violations
// through the spool and watches the session walk the full tier ladder to
// a forced exit.
func TestEscalationThroughTermination(t *testing.T) {
	env := newEnv(t, defaultOptions())

	env.writeSignal("blur", nil)
	env.waitForCount(1)
	if tier := env.Controller.View().Tier; tier != "WARNED" {
		t.Errorf("tier after first violation = %q, want WARNED", tier)
	}

	env.writeSignal("visibility_hidden", nil)
	env.waitForCount(2)
	if tier := env.Controller.View().Tier; tier != "CRITICAL" {
		t.Errorf("tier after second violation = %q, want CRITICAL", tier)
	}

	env.writeSignal("blocked_shortcut", map[string]string{"key": "F12"})

	summary := env.awaitSummary(5 * time.Second)
	if summary.Status != "terminated" {
		t.Fatalf("status = %q, want terminated", summary.Status)
	}
	if summary.EndReason != escalation.ReasonMaxViolations {
		t.Errorf("end reason = %q, want %q", summary.EndReason, escalation.ReasonMaxViolations)
	}
	if summary.ViolationCount != 3 {
		t.Errorf("violation count = %d, want 3", summary.ViolationCount)
	}
	if got := summary.Severities[violation.SeverityWarning]; got != 1 {
		t.Errorf("warning severities = %d, want 1", got)
	}
	if got := summary.Severities[violation.SeverityCritical]; got != 2 {
		t.Errorf("critical severities = %d, want 2", got)
	}
}

// TestDebounceCollapsesBursts fires the same signal type twice in quick
// succession. Only the first lands in the ledger.
func TestDebounceCollapsesBursts(t *testing.T) {
	env := newEnv(t, defaultOptions())

	env.writeSignal("blur", nil)
	env.writeSignal("blur", nil)
	env.waitForCount(1)

	// Give the second record time to flow through before asserting it
	// was dropped rather than still in flight.
	time.Sleep(300 * time.Millisecond)
	if got := env.Controller.View().ViolationCount; got != 1 {
		t.Fatalf("violation count = %d, want 1", got)
	}

	// A different type inside the same window is not suppressed.
	env.writeSignal("contextmenu", nil)
	env.waitForCount(2)

	if err := env.Controller.End(); err != nil {
		t.Fatalf("ending session: %v", err)
	}
	summary := env.awaitSummary(5 * time.Second)
	if summary.Status != "ended" {
		t.Errorf("status = %q, want ended", summary.Status)
	}
	if summary.EndReason != session.ReasonCompleted {
		t.Errorf("end reason = %q, want %q", summary.EndReason, session.ReasonCompleted)
	}
	if summary.ViolationCount != 2 {
		t.Errorf("violation count = %d, want 2", summary.ViolationCount)
	}
}

// TestWarningPausesSession checks that each tier advance pauses the
// session for acknowledgment and that acknowledging resumes it.
func TestWarningPausesSession(t *testing.T) {
	env := newEnv(t, defaultOptions())

	env.writeSignal("blur", nil)
	env.waitForCount(1)
	env.waitFor("paused state", func() bool {
		return env.Controller.View().Status == "paused"
	})
	if !env.Controller.View().WarningVisible {
		t.Error("warning not visible while paused")
	}

	if err := env.Controller.AcknowledgeWarning(); err != nil {
		t.Fatalf("acknowledging: %v", err)
	}
	env.waitFor("resumed state", func() bool {
		return env.Controller.View().Status == "active"
	})

	// The critical-tier advance pauses again.
	env.writeSignal("copy", nil)
	env.waitForCount(2)
	env.waitFor("paused again", func() bool {
		return env.Controller.View().Status == "paused"
	})
	if err := env.Controller.AcknowledgeWarning(); err != nil {
		t.Fatalf("acknowledging second warning: %v", err)
	}
	env.waitFor("resumed again", func() bool {
		return env.Controller.View().Status == "active"
	})

	if err := env.Controller.End(); err != nil {
		t.Fatalf("ending session: %v", err)
	}
	env.awaitSummary(5 * time.Second)
}
