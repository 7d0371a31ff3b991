package violation

import "fmt"

// Tier is the discrete escalation level. It is always a pure function of
// the ledger count and the policy, never stored as independent mutable
// state, so it cannot diverge from the count that produced it.
type Tier int

const (
	// TierNormal is the starting tier with no accepted violations.
	TierNormal Tier = iota

	// TierWarned is entered on the first accepted violation.
	TierWarned

	// TierCritical is entered at the policy warning threshold.
	TierCritical

	// TierTerminated is entered at the policy maximum. Terminal.
	TierTerminated
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "NORMAL"
	case TierWarned:
		return "WARNED"
	case TierCritical:
		return "CRITICAL"
	case TierTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Policy sets the escalation thresholds for one exam attempt.
// Supplied at session start and immutable thereafter.
type Policy struct {
	// WarningThreshold is the count at which the tier becomes CRITICAL.
	WarningThreshold int `toml:"warning_threshold" json:"warning_threshold" yaml:"warning_threshold"`

	// MaxViolations is the count at which the tier becomes TERMINATED.
	MaxViolations int `toml:"max_violations" json:"max_violations" yaml:"max_violations"`
}

// DefaultPolicy returns the standard thresholds: warn at 2, terminate at 3.
func DefaultPolicy() Policy {
	return Policy{
		WarningThreshold: 2,
		MaxViolations:    3,
	}
}

// Validate checks the policy thresholds.
func (p Policy) Validate() error {
	if p.WarningThreshold < 1 {
		return fmt.Errorf("warning threshold must be >= 1, got %d", p.WarningThreshold)
	}
	if p.MaxViolations < p.WarningThreshold {
		return fmt.Errorf("max violations %d below warning threshold %d",
			p.MaxViolations, p.WarningThreshold)
	}
	return nil
}

// TierFor computes the tier for a given accepted-violation count.
func TierFor(count int, p Policy) Tier {
	switch {
	case count >= p.MaxViolations:
		return TierTerminated
	case count >= p.WarningThreshold:
		return TierCritical
	case count >= 1:
		return TierWarned
	default:
		return TierNormal
	}
}

// SeverityFor resolves the severity recorded on a violation appended at
// the given tier. The tier is recomputed before severity is resolved, so
// the violation that crosses a threshold carries the escalated severity.
func SeverityFor(t Tier) Severity {
	if t >= TierCritical {
		return SeverityCritical
	}
	return SeverityWarning
}
