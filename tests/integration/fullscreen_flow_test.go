//go:build integration

package integration

import (
	"testing"
	"time"

	"proctord/internal/violation"
)

// TestFullscreenRetryExhaustion leaves fullscreen and never honors the
// re-entry commands. The enforcer retries up to its limit, then raises a
// single synthetic enforcement failure.
func TestFullscreenRetryExhaustion(t *testing.T) {
	opts := defaultOptions()
	opts.debounceWindow = 50 * time.Millisecond
	env := newEnv(t, opts)

	env.writeSignal("fullscreenchange", map[string]string{"fullscreen": "false"})
	env.waitForCount(1)

	// Exit violation plus the synthetic failure.
	env.waitForCount(2)

	snapshot := env.Ledger.Snapshot()
	if got := countKind(snapshot, violation.KindFullscreenExit); got != 1 {
		t.Errorf("fullscreen exit violations = %d, want 1", got)
	}
	if got := countKind(snapshot, violation.KindEnforcementFailed); got != 1 {
		t.Errorf("enforcement failures = %d, want 1", got)
	}

	if cmds := commandFiles(t, env.CommandDir); len(cmds) != 3 {
		t.Errorf("re-entry commands written = %d, want 3", len(cmds))
	}

	// The shim finally reports fullscreen restored. The enforcer resets
	// but a later exit must not raise a second synthetic this session.
	env.writeSignal("fullscreenchange", map[string]string{"fullscreen": "true"})
	env.waitFor("fullscreen restored", env.Enforcer.IsFullscreen)

	time.Sleep(100 * time.Millisecond)
	env.writeSignal("fullscreenchange", map[string]string{"fullscreen": "false"})

	summary := env.awaitSummary(5 * time.Second)
	if summary.Status != "terminated" {
		t.Fatalf("status = %q, want terminated", summary.Status)
	}
	if got := countKind(summary.Violations, violation.KindEnforcementFailed); got != 1 {
		t.Errorf("enforcement failures after second exhaustion = %d, want 1", got)
	}
}

// TestFullscreenRestoreStopsRetries re-enters fullscreen during the
// pre-retry wait and checks the session resumes without a single
// re-entry command being issued.
func TestFullscreenRestoreStopsRetries(t *testing.T) {
	opts := defaultOptions()
	opts.retryDelay = time.Hour
	env := newEnv(t, opts)

	env.writeSignal("fullscreenchange", map[string]string{"fullscreen": "false"})
	env.waitForCount(1)
	env.waitFor("paused for remediation", func() bool {
		return env.Controller.View().Status == "paused"
	})

	// The exit violation also raised a warning, so resuming takes both
	// the fullscreen restore and the acknowledgment.
	env.writeSignal("fullscreenchange", map[string]string{"fullscreen": "true"})
	env.waitFor("fullscreen restored", env.Enforcer.IsFullscreen)
	if err := env.Controller.AcknowledgeWarning(); err != nil {
		t.Fatalf("acknowledging: %v", err)
	}
	env.waitFor("resumed state", func() bool {
		return env.Controller.View().Status == "active"
	})

	time.Sleep(100 * time.Millisecond)
	if cmds := commandFiles(t, env.CommandDir); len(cmds) != 0 {
		t.Errorf("re-entry commands written = %d, want 0 (restore landed inside the wait)", len(cmds))
	}
	if got := env.Controller.View().ViolationCount; got != 1 {
		t.Errorf("violation count = %d, want 1 (restore is not a violation)", got)
	}

	if err := env.Controller.End(); err != nil {
		t.Fatalf("ending session: %v", err)
	}
	env.awaitSummary(5 * time.Second)
}
