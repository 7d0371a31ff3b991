// Package ledger holds the append-only violation record for one exam
// session, plus its durable SQLite audit store.
//
// The in-memory ledger is the source of truth for enforcement decisions
// during the session: insertion order is significant, the count grows
// monotonically, and entries are immutable once appended. The SQLite store
// mirrors accepted violations for post-session audit with a tamper-evident
// HMAC chain.
package ledger

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"proctord/internal/violation"
)

// ErrClosed is returned when appending to a ledger after Close.
var ErrClosed = errors.New("ledger: closed")

// Ledger is the ordered, append-only record of accepted violations.
// Cleared only at session start or reset, never mid-session.
type Ledger struct {
	mu      sync.RWMutex
	entries []violation.Violation
	// seeded is the authoritative count carried over from the server when
	// resuming a session. It offsets the effective count but produces no
	// local entries.
	seeded int
	closed bool
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Seed sets the count carried over from the server's authoritative record.
// Valid only before local violations accumulate; a seed below the current
// effective count is ignored so the count never decreases.
func (l *Ledger) Seed(count int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if count > l.seeded {
		l.seeded = count
	}
}

// Append records an accepted intent as a violation and returns the
// immutable entry. Severity is resolved by the caller from the recomputed
// tier. Appends are permitted even once the session is terminated: the
// ledger keeps full history for audit.
func (l *Ledger) Append(intent violation.Intent, severity violation.Severity) (violation.Violation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return violation.Violation{}, ErrClosed
	}

	details := make(map[string]string, len(intent.Details))
	for k, v := range intent.Details {
		details[k] = v
	}

	v := violation.Violation{
		ID:         uuid.NewString(),
		Kind:       intent.Kind,
		Severity:   severity,
		Confidence: violation.ConfidenceFor(intent.Kind),
		Timestamp:  intent.Timestamp,
		Details:    details,
		Sequence:   len(l.entries) + 1,
	}

	l.entries = append(l.entries, v)
	return v, nil
}

// Count returns the effective violation count: local appends plus any
// server-seeded offset. Never decreases within a session.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seeded + len(l.entries)
}

// Len returns the number of locally appended violations.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot returns a copy of all entries in insertion order.
func (l *Ledger) Snapshot() []violation.Violation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]violation.Violation, len(l.entries))
	copy(out, l.entries)
	return out
}

// Last returns the most recently appended violation.
func (l *Ledger) Last() (violation.Violation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.entries) == 0 {
		return violation.Violation{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// SeverityCounts tallies entries by severity for the session summary.
func (l *Ledger) SeverityCounts() map[violation.Severity]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[violation.Severity]int, 2)
	for _, v := range l.entries {
		counts[v.Severity]++
	}
	return counts
}

// Close marks the ledger closed. Further appends fail with ErrClosed.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}
