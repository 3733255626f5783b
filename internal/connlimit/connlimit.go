// Package connlimit enforces two per-peer caps: concurrent connections,
// and accepted messages within a trailing hour.
package connlimit

import (
	"sync"
	"time"
)

// Config tunes the limiter.
type Config struct {
	MaxConnectionsPerIP int
	MaxMessagesPerIPPerHour int
}

type peerState struct {
	connections int
	messages    []time.Time
}

// Limiter tracks connection and message counts per peer IP.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	peers map[string]*peerState
}

// New returns a Limiter configured per cfg. A zero value in either cap
// disables that particular check.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, peers: map[string]*peerState{}}
}

// AllowConnection increments the connection counter for ip and reports
// whether it's allowed. If it isn't, the counter is decremented back
// before returning, so a caller must call ReleaseConnection exactly once
// per accepted (true) connection and never for a rejected one.
func (l *Limiter) AllowConnection(ip string) bool {
	if l.cfg.MaxConnectionsPerIP <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.peer(ip)
	p.connections++
	if p.connections > l.cfg.MaxConnectionsPerIP {
		p.connections--
		return false
	}
	return true
}

// ReleaseConnection decrements the connection counter for ip. Must be
// called exactly once per connection previously allowed by
// AllowConnection.
func (l *Limiter) ReleaseConnection(ip string) {
	if l.cfg.MaxConnectionsPerIP <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p, ok := l.peers[ip]; ok {
		p.connections--
		if p.connections <= 0 && len(p.messages) == 0 {
			delete(l.peers, ip)
		}
	}
}

// AllowMessage checks (and records, if allowed) one message acceptance
// against the hourly window for ip.
func (l *Limiter) AllowMessage(ip string) bool {
	if l.cfg.MaxMessagesPerIPPerHour <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := l.peer(ip)
	now := time.Now()
	p.messages = pruneBefore(p.messages, now.Add(-time.Hour))
	if len(p.messages) >= l.cfg.MaxMessagesPerIPPerHour {
		return false
	}
	p.messages = append(p.messages, now)
	return true
}

// peer returns (creating if necessary) the state for ip. Caller must
// hold l.mu.
func (l *Limiter) peer(ip string) *peerState {
	p, ok := l.peers[ip]
	if !ok {
		p = &peerState{}
		l.peers[ip] = p
	}
	return p
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
