// Package violation defines the integrity-violation data model for proctord.
//
// A Violation is a single accepted, integrity-breaching client action. It is
// immutable once appended to the ledger: kind, severity, timestamp, detail
// map, and sequence number never change after the fact.
package violation

import (
	"time"
)

// Kind identifies what class of proctoring rule was breached.
type Kind string

const (
	// KindFullscreenExit indicates the exam surface left fullscreen.
	KindFullscreenExit Kind = "exited_fullscreen"

	// KindWindowBlur indicates the exam window lost focus.
	KindWindowBlur Kind = "window_blur"

	// KindTabHidden indicates the exam tab was hidden or backgrounded.
	KindTabHidden Kind = "tab_hidden"

	// KindBlockedShortcut indicates a forbidden keyboard shortcut.
	KindBlockedShortcut Kind = "blocked_shortcut"

	// KindRightClick indicates a context-menu attempt.
	KindRightClick Kind = "right_click"

	// KindTextSelection indicates a text-selection attempt.
	KindTextSelection Kind = "text_selection_attempt"

	// KindDragDrop indicates a drag-and-drop attempt.
	KindDragDrop Kind = "drag_drop_attempt"

	// KindCopyAttempt indicates a clipboard copy attempt.
	KindCopyAttempt Kind = "copy_attempt"

	// KindPasteAttempt indicates a clipboard paste attempt.
	KindPasteAttempt Kind = "paste_attempt"

	// KindDevtoolsSuspected indicates the developer-tools size heuristic
	// fired. Always heuristic, never a hard detection.
	KindDevtoolsSuspected Kind = "devtools_suspected"

	// KindEscapeInFullscreen indicates Escape pressed while fullscreen.
	KindEscapeInFullscreen Kind = "escape_in_fullscreen"

	// KindFunctionKey indicates a blocked function-key press.
	KindFunctionKey Kind = "function_key"

	// KindEnforcementFailed is the synthetic violation raised when
	// automatic fullscreen remediation exhausts its retry budget.
	KindEnforcementFailed Kind = "fullscreen_enforcement_failed"
)

// Kinds lists every violation kind a signal source can produce.
// KindEnforcementFailed is excluded: it is synthesized internally.
var Kinds = []Kind{
	KindFullscreenExit,
	KindWindowBlur,
	KindTabHidden,
	KindBlockedShortcut,
	KindRightClick,
	KindTextSelection,
	KindDragDrop,
	KindCopyAttempt,
	KindPasteAttempt,
	KindDevtoolsSuspected,
	KindEscapeInFullscreen,
	KindFunctionKey,
}

// Valid reports whether k is a known violation kind.
func (k Kind) Valid() bool {
	if k == KindEnforcementFailed {
		return true
	}
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Severity grades a violation.
type Severity string

const (
	// SeverityWarning is the severity below the critical tier.
	SeverityWarning Severity = "warning"

	// SeverityCritical is the severity at or above the critical tier.
	SeverityCritical Severity = "critical"
)

// Confidence distinguishes hard detections from heuristic ones.
// Downstream consumers must treat low-confidence violations as approximate
// and keep them visually and semantically distinct; they are never dropped.
type Confidence string

const (
	// ConfidenceHigh marks a direct platform signal.
	ConfidenceHigh Confidence = "high"

	// ConfidenceLow marks a heuristic detection, e.g. the devtools
	// viewport-delta check or an incidental right-click.
	ConfidenceLow Confidence = "low"
)

// Heuristic reports whether violations of this kind are produced by an
// approximate detector rather than a direct platform signal.
func (k Kind) Heuristic() bool {
	return k == KindDevtoolsSuspected
}

// Violation is one accepted integrity breach. Immutable once appended.
type Violation struct {
	// ID is a unique identifier assigned at append time.
	ID string `json:"id"`

	// Kind is the class of breach.
	Kind Kind `json:"kind"`

	// Severity is resolved from the escalation tier at append time.
	Severity Severity `json:"severity"`

	// Confidence tags heuristic detections.
	Confidence Confidence `json:"confidence"`

	// Timestamp is when the triggering signal was observed.
	Timestamp time.Time `json:"timestamp"`

	// Details is an open key/value map of signal context.
	Details map[string]string `json:"details,omitempty"`

	// Sequence is the 1-based position in the session ledger.
	Sequence int `json:"sequence"`
}

// Intent is a normalized, not-yet-accepted violation produced by the
// capture layer. The debouncer decides whether an intent becomes a
// Violation; rejected intents are dropped, not queued.
type Intent struct {
	// Kind is the class of breach the signal maps to.
	Kind Kind

	// Timestamp is when the triggering signal was dispatched.
	Timestamp time.Time

	// Details carries signal context forward into the Violation.
	Details map[string]string

	// SuppressedDefault records that the source cancelled the underlying
	// platform action in the same handler invocation.
	SuppressedDefault bool
}

// ConfidenceFor returns the confidence tag for an intent of kind k.
func ConfidenceFor(k Kind) Confidence {
	if k.Heuristic() {
		return ConfidenceLow
	}
	return ConfidenceHigh
}
