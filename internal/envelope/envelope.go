// Package envelope implements functions and types related to handling
// email envelopes: addresses, and the mutable-then-frozen sender/recipient
// transaction that a session builds up between MAIL FROM and the completion
// of DATA/BDAT.
package envelope

import (
	"fmt"
	"strings"

	"github.com/kestrelmail/esmtpd/internal/set"
)

// Split an user@domain address into user and domain.
func Split(addr string) (string, string) {
	ps := strings.SplitN(addr, "@", 2)
	if len(ps) != 2 {
		return addr, ""
	}

	return ps[0], ps[1]
}

// UserOf user@domain returns user.
func UserOf(addr string) string {
	user, _ := Split(addr)
	return user
}

// DomainOf user@domain returns domain.
func DomainOf(addr string) string {
	_, domain := Split(addr)
	return domain
}

// DomainIn checks that the domain of the address is on the given set.
func DomainIn(addr string, locals *set.String) bool {
	domain := DomainOf(addr)
	if domain == "" {
		return true
	}

	return locals.Has(domain)
}

// AddHeader adds (prepends) a MIME header to the message.
func AddHeader(data []byte, k, v string) []byte {
	if len(v) > 0 {
		// If the value contains newlines, indent them properly.
		if v[len(v)-1] == '\n' {
			v = v[:len(v)-1]
		}
		v = strings.Replace(v, "\n", "\n\t", -1)
	}

	header := []byte(fmt.Sprintf("%s: %s\n", k, v))
	return append(header, data...)
}

// RcptParams carries the per-recipient DSN parameters given on RCPT TO
// (NOTIFY, ORCPT), per RFC 3461.
type RcptParams struct {
	// Notify holds the requested notification conditions, a subset of
	// "SUCCESS", "FAILURE", "DELAY", "NEVER". Empty means the default
	// (notify on failure) applies.
	Notify []string

	// Orcpt is the ORCPT parameter value, verbatim (e.g.
	// "rfc822;user@example.org"), or empty if not given.
	Orcpt string
}

// NotifyOnFailure reports whether this recipient should get a DSN on
// permanent failure, per spec: absent or containing FAILURE means yes,
// NEVER means no.
func (p RcptParams) NotifyOnFailure() bool {
	if len(p.Notify) == 0 {
		return true
	}
	for _, n := range p.Notify {
		if strings.EqualFold(n, "NEVER") {
			return false
		}
		if strings.EqualFold(n, "FAILURE") {
			return true
		}
	}
	return false
}

// Transaction is the mutable, session-scoped builder for an envelope: it
// accumulates MAIL FROM/RCPT TO state until DATA/BDAT completes. It is
// intentionally a distinct type from Envelope so that "an envelope is
// immutable once the transaction completes" is enforced by the type system,
// not a comment.
type Transaction struct {
	Sender string

	// Recipients, in first-seen order, deduplicated.
	Recipients []string

	// RcptParams, keyed by recipient address.
	RcptParams map[string]RcptParams

	// Envid is the per-message DSN ENVID, if given on MAIL FROM.
	Envid string

	// Ret is the per-message DSN RET value ("FULL" or "HDRS"), if given.
	Ret string

	// Size is the declared SIZE parameter, or 0 if not given.
	Size int64

	// SMTPUTF8 is set if the MAIL FROM command included the SMTPUTF8
	// parameter.
	SMTPUTF8 bool

	seen map[string]bool
}

// NewTransaction returns an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{
		RcptParams: map[string]RcptParams{},
		seen:       map[string]bool{},
	}
}

// AddRecipient records a new accepted recipient with its DSN parameters.
// It returns false if the recipient was already present (in which case
// nothing is changed; RFC 5321 does not require rejecting duplicates, and
// silently deduplicating is simplest for callers).
func (t *Transaction) AddRecipient(addr string, params RcptParams) bool {
	if t.seen == nil {
		t.seen = map[string]bool{}
	}
	if t.seen[addr] {
		return false
	}
	t.seen[addr] = true
	t.Recipients = append(t.Recipients, addr)
	if t.RcptParams == nil {
		t.RcptParams = map[string]RcptParams{}
	}
	t.RcptParams[addr] = params
	return true
}

// Reset clears the transaction back to its zero state, as RSET (and a
// successful DATA/BDAT, and STARTTLS) require.
func (t *Transaction) Reset() {
	t.Sender = ""
	t.Recipients = nil
	t.RcptParams = map[string]RcptParams{}
	t.Envid = ""
	t.Ret = ""
	t.Size = 0
	t.SMTPUTF8 = false
	t.seen = map[string]bool{}
}

// Complete freezes the transaction into an immutable Envelope. The
// transaction itself is left untouched; callers reset it separately.
func (t *Transaction) Complete() Envelope {
	recipients := make([]string, len(t.Recipients))
	copy(recipients, t.Recipients)

	params := make(map[string]RcptParams, len(t.RcptParams))
	for k, v := range t.RcptParams {
		params[k] = v
	}

	return Envelope{
		Sender:     t.Sender,
		Recipients: recipients,
		RcptParams: params,
		Envid:      t.Envid,
		Ret:        t.Ret,
		Size:       t.Size,
		SMTPUTF8:   t.SMTPUTF8,
	}
}

// Envelope is the immutable result of a completed transaction: the sender,
// the deduplicated ordered recipients, and their DSN parameters.
type Envelope struct {
	Sender     string
	Recipients []string
	RcptParams map[string]RcptParams
	Envid      string
	Ret        string
	Size       int64
	SMTPUTF8   bool
}

// WithRecipients returns a copy of the envelope with only the given
// recipients retained (preserving their original order and params). This is
// used by the spool engine for domain-targeted passes, and when recipients
// are removed as they are delivered or permanently fail.
func (e Envelope) WithRecipients(keep []string) Envelope {
	keepSet := make(map[string]bool, len(keep))
	for _, r := range keep {
		keepSet[r] = true
	}

	out := e
	out.Recipients = nil
	out.RcptParams = map[string]RcptParams{}
	for _, r := range e.Recipients {
		if keepSet[r] {
			out.Recipients = append(out.Recipients, r)
			out.RcptParams[r] = e.RcptParams[r]
		}
	}
	return out
}
