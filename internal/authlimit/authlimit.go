// Package authlimit implements a sliding-window AUTH failure tracker with
// lockout, keyed by peer address and username.
package authlimit

import (
	"sync"
	"time"
)

// Config tunes the limiter.
type Config struct {
	// Window is the sliding window failures are counted over.
	Window time.Duration
	// MaxFailures is the failure count within Window that triggers a lock.
	MaxFailures int
	// Lockout is how long a key stays locked once MaxFailures is reached.
	Lockout time.Duration
}

type record struct {
	failures    []time.Time
	lockedUntil time.Time
}

// Limiter tracks AUTH failures per (peer, username) key and enforces a
// lockout once too many failures accumulate within the window.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	records map[string]*record
}

// New returns a Limiter configured per cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		records: map[string]*record{},
	}
}

// Key builds the limiter key from a peer address and username, per
// spec.md §4.5: `(peerIp | "unknown") + ":" + username`.
func Key(peerIP, username string) string {
	if peerIP == "" {
		peerIP = "unknown"
	}
	return peerIP + ":" + username
}

// CheckLock returns the remaining lockout duration for key, or zero if
// key is not currently locked. As a side effect, an expired lock is
// cleared.
func (l *Limiter) CheckLock(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[key]
	if !ok {
		return 0
	}

	now := time.Now()
	if now.Before(r.lockedUntil) {
		return r.lockedUntil.Sub(now)
	}
	r.lockedUntil = time.Time{}
	l.maybePurgeLocked(key, r, now)
	return 0
}

// RecordFailure appends a failure for key, pruning entries outside the
// window. It returns true if this failure pushed the key into lockout.
func (l *Limiter) RecordFailure(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	r, ok := l.records[key]
	if !ok {
		r = &record{}
		l.records[key] = r
	}

	r.failures = pruneBefore(r.failures, now.Add(-l.cfg.Window))
	r.failures = append(r.failures, now)

	if len(r.failures) >= l.cfg.MaxFailures {
		r.lockedUntil = now.Add(l.cfg.Lockout)
		return true
	}
	return false
}

// RecordSuccess clears any record for key: a successful AUTH resets the
// failure history entirely.
func (l *Limiter) RecordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key)
}

// Cleanup removes records with no recent failures and no active lock.
// Intended to be called periodically so the map doesn't grow unbounded
// with one-off offenders.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, r := range l.records {
		l.maybePurgeLocked(key, r, now)
	}
}

// maybePurgeLocked deletes records[key] if it has no failures within the
// window and no active lock. Caller must hold l.mu.
func (l *Limiter) maybePurgeLocked(key string, r *record, now time.Time) {
	r.failures = pruneBefore(r.failures, now.Add(-l.cfg.Window))
	if len(r.failures) == 0 && !now.Before(r.lockedUntil) {
		delete(l.records, key)
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
