package spool

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"blitiri.com.ar/go/log"

	"github.com/kestrelmail/esmtpd/internal/dsn"
	"github.com/kestrelmail/esmtpd/internal/envelope"
	"github.com/kestrelmail/esmtpd/internal/events"
	"github.com/kestrelmail/esmtpd/internal/relay"
	"github.com/kestrelmail/esmtpd/internal/relaypolicy"
	"github.com/kestrelmail/esmtpd/internal/set"
	"github.com/kestrelmail/esmtpd/internal/trace"
)

// Spool implements smtpsrv.Spool: it persists an accepted envelope's
// metadata next to the raw message the caller's MessageStore already
// wrote (same directory, "<id>.eml" / "<id>.meta.json"), then drives
// retrying delivery in the background.
type Spool struct {
	// Dir is the spool directory. It must be the same directory the
	// embedder's MessageStore writes "<id>.eml" files to: Spool never
	// writes the raw message for an externally-accepted envelope
	// itself, only its own bounce messages.
	Dir string

	// ServerHostname is used as the DSN Reporting-MTA and as the domain
	// of the MAILER-DAEMON sender address.
	ServerHostname string

	// LocalDomains decides which relay a recipient is handed to.
	LocalDomains *set.String

	// LocalRelay delivers to recipients in LocalDomains; RemoteRelay
	// delivers to everyone else.
	LocalRelay  relay.MailRelay
	RemoteRelay relay.MailRelay

	// RelayPolicy gates each delivery attempt, same as the inbound
	// RCPT-time check: a message that sat in the spool long enough for
	// an embedder to revoke relay access should not get a free pass.
	RelayPolicy relaypolicy.Policy

	// RetryDelay and MaxRetryDelay parametrize backoff(k) = RetryDelay
	// * 2^(k-1), capped at MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// MaxRetries is the attempt count after which remaining recipients
	// are treated as permanent failures.
	MaxRetries int

	// SpoolWorkers bounds how many entries are processed concurrently.
	SpoolWorkers int

	// TriggerCooldown is the minimum spacing between sweeps.
	TriggerCooldown time.Duration

	// FullSweepInterval is how often a time-based (not trigger-driven)
	// full sweep is submitted, to catch entries whose nextAttemptAt has
	// elapsed without any new activity waking the engine up.
	FullSweepInterval time.Duration

	coalescer *Coalescer
	locks     *LockManager
	sem       *semaphore.Weighted
	initOnce  sync.Once
}

// New returns a Spool with reasonable defaults. Dir, LocalDomains,
// LocalRelay, RemoteRelay and RelayPolicy must be set by the embedder.
func New(dir string) *Spool {
	return &Spool{
		Dir:               dir,
		RetryDelay:        1 * time.Minute,
		MaxRetryDelay:     20 * time.Minute,
		MaxRetries:        50,
		SpoolWorkers:      8,
		TriggerCooldown:   2 * time.Second,
		FullSweepInterval: 1 * time.Minute,
	}
}

func (s *Spool) init() {
	s.initOnce.Do(func() {
		s.coalescer = NewCoalescer(s.TriggerCooldown)
		s.locks = NewLockManager()
		s.sem = semaphore.NewWeighted(int64(s.SpoolWorkers))
	})
}

// Load initializes the spool directory and reports how many entries are
// currently pending, for the embedder's own startup logging/metrics.
func (s *Spool) Load() (int, error) {
	s.init()
	if err := initializeStore(s.Dir); err != nil {
		return 0, err
	}
	return scanPendingCount(s.Dir)
}

// Enqueue implements smtpsrv.Spool. It assumes the raw message has
// already been written to Dir/<id>.eml by the embedder's MessageStore.
func (s *Spool) Enqueue(id string, env envelope.Envelope, authenticated bool, peerAddr net.Addr) error {
	s.init()

	rcptDSN := make(map[string]RcptDSNParams, len(env.RcptParams))
	for addr, p := range env.RcptParams {
		rcptDSN[addr] = RcptDSNParams{Notify: p.Notify, Orcpt: p.Orcpt}
	}

	peer := ""
	if peerAddr != nil {
		peer = peerAddr.String()
	}

	now := time.Now()
	meta := &Meta{
		ID:                   id,
		Sender:               env.Sender,
		Recipients:           env.Recipients,
		MessageID:            id,
		Authenticated:        authenticated,
		PeerAddress:          peer,
		DSNRet:               env.Ret,
		DSNEnvid:             env.Envid,
		RcptDSN:              rcptDSN,
		NextAttemptAtEpochMs: now.UnixMilli(),
		CreatedAtEpochMs:     now.UnixMilli(),
	}

	if err := writeMeta(s.Dir, meta); err != nil {
		return fmt.Errorf("spool: writing metadata for %s: %v", id, err)
	}

	for _, addr := range env.Recipients {
		s.coalescer.Submit(envelope.DomainOf(addr))
	}
	return nil
}

// Start launches the background sweep loop. It runs until ctx is done.
func (s *Spool) Start(ctx context.Context) {
	s.init()
	go s.periodicSweeps(ctx)
	go s.pollLoop(ctx)
}

func (s *Spool) periodicSweeps(ctx context.Context) {
	t := time.NewTicker(s.FullSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.coalescer.Submit("")
		}
	}
}

func (s *Spool) pollLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		trig, ok := s.coalescer.Poll()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.TriggerCooldown):
			}
			continue
		}
		s.sweep(ctx, trig)
	}
}

// sweep processes every entry matching trig, up to SpoolWorkers at once.
func (s *Spool) sweep(ctx context.Context, trig Trigger) {
	paths, err := list(s.Dir)
	if err != nil {
		log.Errorf("spool: listing entries: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		id := idFromRawPath(p)

		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer s.sem.Release(1)
			s.processEntry(id, trig)
		}(id)
	}
	wg.Wait()
}

// processEntry acquires the entry's lock, attempts delivery to every
// recipient the trigger applies to, classifies the results, emits DSNs
// for fresh permanent failures, and schedules the next attempt (or
// removes the entry, if nothing remains to deliver or to wait on).
func (s *Spool) processEntry(id string, trig Trigger) {
	if !s.locks.TryLock(id) {
		return
	}
	defer s.locks.Unlock(id)

	tr := trace.New("Spool.ProcessEntry", id)
	defer tr.Finish()

	meta, err := readMeta(s.Dir, id)
	if err != nil {
		tr.Errorf("reading meta: %v", err)
		return
	}

	now := time.Now()
	if meta.NextAttemptAtEpochMs > now.UnixMilli() {
		return
	}

	targets := meta.Recipients
	if trig.Kind == TriggerDomain {
		targets = filterByDomain(meta.Recipients, trig.Domain)
		if len(targets) == 0 {
			return
		}
	}

	raw, err := os.ReadFile(rawPath(s.Dir, id))
	if err != nil {
		tr.Errorf("reading raw message: %v", err)
		return
	}

	originalRecipients := meta.Recipients
	remaining := make(map[string]bool, len(originalRecipients))
	for _, r := range originalRecipients {
		remaining[r] = true
	}

	var freshFailures []permFailure
	for _, addr := range targets {
		err, permanent := s.attemptDelivery(meta, addr, raw)
		outcome := classify(err, permanent)

		switch outcome {
		case Delivered:
			delete(remaining, addr)
			tr.Printf("%s delivered", addr)
			events.SendAttempt(id, meta.Sender, addr, nil, false)
		case Permanent:
			delete(remaining, addr)
			tr.Errorf("%s permanent failure: %v", addr, err)
			events.SendAttempt(id, meta.Sender, addr, err, true)
			freshFailures = append(freshFailures, permFailure{addr, err.Error()})
		case Transient:
			tr.Printf("%s transient failure: %v", addr, err)
			events.SendAttempt(id, meta.Sender, addr, err, false)
		}
	}

	if len(freshFailures) > 0 && meta.Sender != "<>" {
		s.emitDSN(meta, freshFailures)
	}

	// remaining already reflects the correct final state: recipients
	// outside targets (skipped by a domain-scoped pass) were never
	// touched and stay true; recipients in targets were deleted on
	// delivery or permanent failure and stay true only if transient.
	meta.Recipients = nil
	newRcptDSN := map[string]RcptDSNParams{}
	for _, r := range originalRecipients {
		if !remaining[r] {
			continue
		}
		meta.Recipients = append(meta.Recipients, r)
		if p, ok := meta.RcptDSN[r]; ok {
			newRcptDSN[r] = p
		}
	}
	meta.RcptDSN = newRcptDSN

	if len(meta.Recipients) == 0 {
		if err := remove(s.Dir, id); err != nil {
			tr.Errorf("removing entry: %v", err)
		}
		events.SpoolLoop(id, meta.Sender, 0)
		return
	}

	// Only a full pass advances the entry's own attempt count and
	// nextAttemptAt; a domain-scoped pass only resolves per-recipient
	// outcomes for the recipients it targeted.
	if trig.Kind == TriggerFull {
		meta.Attempt++
		if meta.Attempt > s.MaxRetries {
			var giveUp []permFailure
			for _, addr := range meta.Recipients {
				giveUp = append(giveUp, permFailure{addr, "delivery retries exhausted"})
			}
			if meta.Sender != "<>" {
				s.emitDSN(meta, giveUp)
			}
			if err := remove(s.Dir, id); err != nil {
				tr.Errorf("removing exhausted entry: %v", err)
			}
			events.SpoolLoop(id, meta.Sender, 0)
			return
		}

		delay := backoff(meta.Attempt, s.RetryDelay, s.MaxRetryDelay)
		meta.NextAttemptAtEpochMs = time.Now().Add(delay).UnixMilli()
		events.SpoolLoop(id, meta.Sender, delay)
	}

	if err := writeMeta(s.Dir, meta); err != nil {
		tr.Errorf("writing meta: %v", err)
	}
}

// attemptDelivery consults the relay access policy, then hands the
// message to the local or remote relay depending on the recipient's
// domain.
func (s *Spool) attemptDelivery(meta *Meta, addr string, raw []byte) (error, bool) {
	domain := envelope.DomainOf(addr)

	verdict, reply := s.RelayPolicy.Evaluate(relaypolicy.Request{
		RecipientDomain: domain,
		Authenticated:   meta.Authenticated,
	})
	if verdict == relaypolicy.Denied {
		msg := "relay not allowed"
		if reply != nil {
			msg = reply.Error()
		}
		return fmt.Errorf("%s", msg), true
	}

	r := s.RemoteRelay
	if s.LocalDomains.Has(domain) {
		r = s.LocalRelay
	}
	return r.Deliver(meta.Sender, addr, raw)
}

// permFailure is a recipient that just failed permanently this round.
type permFailure struct {
	Addr   string
	Reason string
}

// emitDSN builds and enqueues a bounce for the recipients in failures
// that asked (or didn't opt out) for a failure notification.
func (s *Spool) emitDSN(meta *Meta, failures []permFailure) {
	var failed []dsn.FailedRecipient
	for _, f := range failures {
		params := meta.RcptDSN[f.Addr]
		rp := envelope.RcptParams{Notify: params.Notify}
		if !rp.NotifyOnFailure() {
			continue
		}
		failed = append(failed, dsn.FailedRecipient{
			Address:           f.Addr,
			OriginalRecipient: params.Orcpt,
			Reason:            f.Reason,
		})
	}
	if len(failed) == 0 {
		return
	}

	raw, err := os.ReadFile(rawPath(s.Dir, meta.ID))
	if err != nil {
		log.Errorf("spool: reading original message for DSN on %s: %v", meta.ID, err)
		return
	}

	arrival := time.Now()
	if meta.CreatedAtEpochMs > 0 {
		arrival = time.UnixMilli(meta.CreatedAtEpochMs)
	}

	msg, err := dsn.Compose(dsn.Params{
		ServerHostname:  s.ServerHostname,
		OriginalSender:  meta.Sender,
		ArrivalDate:     arrival,
		Envid:           meta.DSNEnvid,
		Ret:             meta.DSNRet,
		OriginalMessage: raw,
		Failed:          failed,
	})
	if err != nil {
		log.Errorf("spool: composing DSN for %s: %v", meta.ID, err)
		return
	}

	bounceID := uuid.New().String()
	now := time.Now()
	bounceMeta := &Meta{
		ID:                   bounceID,
		Sender:               "<>",
		Recipients:           []string{meta.Sender},
		MessageID:            bounceID,
		NextAttemptAtEpochMs: now.UnixMilli(),
		CreatedAtEpochMs:     now.UnixMilli(),
	}
	if err := create(s.Dir, bounceMeta, msg); err != nil {
		log.Errorf("spool: queuing DSN for %s: %v", meta.ID, err)
		return
	}

	log.Infof("spool: queued DSN %s for %s (%d recipient(s))", bounceID, meta.ID, len(failed))
	s.coalescer.Submit(envelope.DomainOf(meta.Sender))
}

func filterByDomain(recipients []string, domain string) []string {
	var out []string
	for _, r := range recipients {
		if envelope.DomainOf(r) == domain {
			out = append(out, r)
		}
	}
	return out
}

// backoff computes the delay before the next attempt: RetryDelay *
// 2^(attempt-1), capped at maxDelay, plus up to 30s of jitter so that a
// burst of messages queued together doesn't retry in lockstep forever.
func backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	exp := attempt - 1
	if exp < 0 {
		exp = 0
	}
	if exp > 30 {
		exp = 30
	}

	d := base * time.Duration(uint64(1)<<uint(exp))
	if d <= 0 || d > maxDelay {
		d = maxDelay
	}
	d += time.Duration(rand.Int63n(int64(30 * time.Second)))
	return d
}

var enhancedStatusRe = regexp.MustCompile(`\b\d\.\d\.\d+\b`)

// Outcome is the per-recipient classification of a delivery attempt.
type Outcome int

const (
	Delivered Outcome = iota
	Transient
	Permanent
)

// classify implements the spool engine's failure classification rules:
// an explicit permanent/transient verdict from the relay wins first,
// then an enhanced status code in the error text, then a couple of
// well-known "this domain will never accept mail" phrasings, defaulting
// to transient for anything else.
func classify(err error, permanent bool) Outcome {
	if err == nil {
		return Delivered
	}
	if permanent {
		return Permanent
	}

	msg := err.Error()
	if code := enhancedStatusRe.FindString(msg); code != "" {
		switch {
		case strings.HasPrefix(code, "5."):
			return Permanent
		case strings.HasPrefix(code, "4."):
			return Transient
		}
	}

	lower := strings.ToLower(msg)
	if strings.Contains(lower, "null mx") || strings.Contains(lower, "does not accept mail") {
		return Permanent
	}
	return Transient
}
