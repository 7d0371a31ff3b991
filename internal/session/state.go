package session

import (
	"time"

	"proctord/internal/violation"
)

// Status is the exam session lifecycle state.
type Status int

const (
	// StatusIdle is the initial state before Start.
	StatusIdle Status = iota

	// StatusStarting covers server reconciliation and collaborator startup.
	StatusStarting

	// StatusActive is the running exam with the countdown ticking.
	StatusActive

	// StatusPaused is entered while a warning awaits acknowledgment or
	// fullscreen remediation is in progress. The countdown is suspended.
	StatusPaused

	// StatusEnded is the normal terminal state.
	StatusEnded

	// StatusTerminated is the forced terminal state. Terminal in the
	// strictest sense: no transition out is ever accepted.
	StatusTerminated
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStarting:
		return "starting"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusEnded:
		return "ended"
	case StatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	return s == StatusEnded || s == StatusTerminated
}

// End reasons reported in the session summary.
const (
	// ReasonCompleted marks a normal finish requested by the candidate.
	ReasonCompleted = "completed"

	// ReasonTimeExpired marks the countdown reaching zero.
	ReasonTimeExpired = "time_expired"

	// ReasonAborted marks teardown driven by daemon shutdown.
	ReasonAborted = "aborted"
)

// View is the read surface for the presentation layer.
type View struct {
	SessionID string `json:"session_id"`
	ExamID    string `json:"exam_id"`

	Status         string `json:"status"`
	WarningVisible bool   `json:"warning_visible"`

	ViolationCount   int                   `json:"violation_count"`
	ViolationHistory []violation.Violation `json:"violation_history"`

	IsFullscreen bool   `json:"is_fullscreen"`
	Tier         string `json:"tier"`

	TimeRemaining time.Duration `json:"time_remaining"`
}

// Summary is the final report delivered when the session reaches a
// terminal state.
type Summary struct {
	SessionID string `json:"session_id"`
	ExamID    string `json:"exam_id"`

	Status    string `json:"status"`
	EndReason string `json:"end_reason"`

	ViolationCount int                        `json:"violation_count"`
	Severities     map[violation.Severity]int `json:"severities"`
	Violations     []violation.Violation      `json:"violations"`

	Elapsed time.Duration `json:"elapsed"`

	// Completion is the fraction of the exam duration that elapsed,
	// clamped to [0, 1].
	Completion float64 `json:"completion"`
}
