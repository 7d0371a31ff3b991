// Package debounce suppresses repeated violation intents of the same kind
// within a time window.
//
// The debouncer is keyed per intent kind, so a burst of one kind never
// starves acceptance of a different kind. Rejected intents are dropped, not
// queued or merged: debouncing defers logging of duplicates, it never
// erases history already accepted into the ledger.
package debounce

import (
	"sync"
	"time"

	"proctord/internal/violation"
)

// DefaultWindow is the minimum interval between accepted intents of the
// same kind.
const DefaultWindow = 2000 * time.Millisecond

// Debouncer tracks per-kind acceptance times. State persists for the
// lifetime of the session; only Reset clears it.
type Debouncer struct {
	mu             sync.Mutex
	window         time.Duration
	lastAcceptedAt map[violation.Kind]time.Time
}

// New creates a debouncer. A non-positive window disables suppression.
func New(window time.Duration) *Debouncer {
	return &Debouncer{
		window:         window,
		lastAcceptedAt: make(map[violation.Kind]time.Time),
	}
}

// Accept reports whether an intent of the given kind observed at now passes
// the window, updating the per-kind state when it does.
func (d *Debouncer) Accept(kind violation.Kind, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.window <= 0 {
		d.lastAcceptedAt[kind] = now
		return true
	}

	last, seen := d.lastAcceptedAt[kind]
	if seen && now.Sub(last) < d.window {
		return false
	}

	d.lastAcceptedAt[kind] = now
	return true
}

// LastAccepted returns when an intent of the given kind was last accepted.
func (d *Debouncer) LastAccepted(kind violation.Kind) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.lastAcceptedAt[kind]
	return t, ok
}

// Window returns the configured debounce window.
func (d *Debouncer) Window() time.Duration {
	return d.window
}

// Reset clears all per-kind state. Only valid at session start or reset,
// never mid-session.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastAcceptedAt = make(map[violation.Kind]time.Time)
}
