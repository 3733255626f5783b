package spool

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TriggerKind distinguishes a full sweep from a domain-scoped one.
type TriggerKind int

const (
	TriggerNone TriggerKind = iota
	TriggerFull
	TriggerDomain
)

// Trigger is what Coalescer.Poll hands back: either nothing, a request
// to sweep every due entry, or a request to sweep only entries with a
// recipient in Domain.
type Trigger struct {
	Kind   TriggerKind
	Domain string
}

// Coalescer merges delivery triggers submitted between ticks so a burst
// of RCPT/DSN activity for the same domain (or everything) results in
// one sweep instead of one per submission.
type Coalescer struct {
	mu             sync.Mutex
	pendingFull    bool
	pendingDomains map[string]bool

	// limiter enforces the cooldown between polls: a caller that polls
	// more often than the cooldown allows gets back (Trigger{}, false),
	// the same "unavailable, back off" signal as finding nothing pending.
	limiter *rate.Limiter
}

// NewCoalescer returns a Coalescer that refuses to yield a trigger more
// often than once per cooldown.
func NewCoalescer(cooldown time.Duration) *Coalescer {
	return &Coalescer{
		pendingDomains: map[string]bool{},
		limiter:        rate.NewLimiter(rate.Every(cooldown), 1),
	}
}

// Submit records a pending trigger. An empty domain means "sweep
// everything" and supersedes (and discards) any domain-scoped triggers
// recorded since the last poll.
func (c *Coalescer) Submit(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if domain == "" {
		c.pendingFull = true
		c.pendingDomains = map[string]bool{}
		return
	}
	if !c.pendingFull {
		c.pendingDomains[domain] = true
	}
}

// Poll consumes and returns one pending trigger. ok is false when the
// cooldown hasn't elapsed yet, or nothing is pending; the caller should
// back off rather than treat that as "nothing to do, ever".
func (c *Coalescer) Poll() (Trigger, bool) {
	if !c.limiter.Allow() {
		return Trigger{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingFull {
		c.pendingFull = false
		return Trigger{Kind: TriggerFull}, true
	}
	for d := range c.pendingDomains {
		delete(c.pendingDomains, d)
		return Trigger{Kind: TriggerDomain, Domain: d}, true
	}
	return Trigger{}, false
}
