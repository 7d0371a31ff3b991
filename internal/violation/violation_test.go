package violation

import (
	"testing"
)

// TestKindValid verifies kind validation covers capture and synthetic kinds.
func TestKindValid(t *testing.T) {
	for _, k := range Kinds {
		if !k.Valid() {
			t.Errorf("expected %q to be valid", k)
		}
	}

	if !KindEnforcementFailed.Valid() {
		t.Error("synthetic enforcement kind should be valid")
	}

	if Kind("made_up").Valid() {
		t.Error("unknown kind should not be valid")
	}
}

// TestKindCount verifies the capture layer maps exactly twelve signal kinds.
func TestKindCount(t *testing.T) {
	if len(Kinds) != 12 {
		t.Errorf("expected 12 capture kinds, got %d", len(Kinds))
	}

	for _, k := range Kinds {
		if k == KindEnforcementFailed {
			t.Error("synthetic kind must not be producible by sources")
		}
	}
}

// TestConfidenceTagging verifies heuristic kinds are tagged low confidence.
func TestConfidenceTagging(t *testing.T) {
	if ConfidenceFor(KindDevtoolsSuspected) != ConfidenceLow {
		t.Error("devtools heuristic should be low confidence")
	}

	if ConfidenceFor(KindFullscreenExit) != ConfidenceHigh {
		t.Error("fullscreen exit should be high confidence")
	}

	if !KindDevtoolsSuspected.Heuristic() {
		t.Error("devtools kind should report heuristic")
	}

	if KindWindowBlur.Heuristic() {
		t.Error("window blur is a direct signal, not a heuristic")
	}
}

// TestTierFor verifies the tier is a pure function of count and policy.
func TestTierFor(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		count int
		want  Tier
	}{
		{0, TierNormal},
		{1, TierWarned},
		{2, TierCritical},
		{3, TierTerminated},
		{4, TierTerminated},
		{100, TierTerminated},
	}

	for _, tt := range tests {
		if got := TierFor(tt.count, p); got != tt.want {
			t.Errorf("TierFor(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

// TestTierForCustomPolicy verifies thresholds are taken from the policy.
func TestTierForCustomPolicy(t *testing.T) {
	p := Policy{WarningThreshold: 5, MaxViolations: 10}

	if TierFor(4, p) != TierWarned {
		t.Error("count below warning threshold should be WARNED")
	}
	if TierFor(5, p) != TierCritical {
		t.Error("count at warning threshold should be CRITICAL")
	}
	if TierFor(9, p) != TierCritical {
		t.Error("count below max should stay CRITICAL")
	}
	if TierFor(10, p) != TierTerminated {
		t.Error("count at max should be TERMINATED")
	}
}

// TestPolicyValidate checks policy validation.
func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default is valid", DefaultPolicy(), false},
		{"zero warning threshold", Policy{WarningThreshold: 0, MaxViolations: 3}, true},
		{"max below warning", Policy{WarningThreshold: 3, MaxViolations: 2}, true},
		{"equal thresholds", Policy{WarningThreshold: 3, MaxViolations: 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestSeverityFor verifies severity resolves from the post-append tier.
func TestSeverityFor(t *testing.T) {
	if SeverityFor(TierNormal) != SeverityWarning {
		t.Error("NORMAL should resolve warning severity")
	}
	if SeverityFor(TierWarned) != SeverityWarning {
		t.Error("WARNED should resolve warning severity")
	}
	if SeverityFor(TierCritical) != SeverityCritical {
		t.Error("CRITICAL should resolve critical severity")
	}
	if SeverityFor(TierTerminated) != SeverityCritical {
		t.Error("TERMINATED should resolve critical severity")
	}
}

// TestTierString verifies tier names.
func TestTierString(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{TierNormal, "NORMAL"},
		{TierWarned, "WARNED"},
		{TierCritical, "CRITICAL"},
		{TierTerminated, "TERMINATED"},
	}

	for _, tt := range tests {
		if got := tt.tier.String(); got != tt.want {
			t.Errorf("Tier(%d).String() = %q, want %q", int(tt.tier), got, tt.want)
		}
	}
}
