// Package relaypolicy implements the default RelayAccessPolicy: relay to
// a non-local domain is allowed only once the session has authenticated.
package relaypolicy

import (
	"github.com/kestrelmail/esmtpd/internal/protoerr"
	"github.com/kestrelmail/esmtpd/internal/set"
)

// Verdict is the outcome of a relay access check.
type Verdict int

const (
	Allowed Verdict = iota
	Denied
)

// Request carries what a RelayAccessPolicy needs to evaluate a RCPT TO.
type Request struct {
	RecipientDomain string
	Authenticated   bool
}

// Policy evaluates whether a recipient may be relayed to.
type Policy interface {
	Evaluate(req Request) (Verdict, *protoerr.Reply)
}

// LocalOrAuthenticated allows relay to any domain in Domains, and to any
// other domain only once the session has authenticated. This is the
// RCPT-time relay check every open-relay-averse MTA performs.
type LocalOrAuthenticated struct {
	Domains *set.String
}

// New returns a LocalOrAuthenticated policy accepting mail for the given
// local domains.
func New(domains *set.String) *LocalOrAuthenticated {
	if domains == nil {
		domains = set.NewString()
	}
	return &LocalOrAuthenticated{Domains: domains}
}

func (p *LocalOrAuthenticated) Evaluate(req Request) (Verdict, *protoerr.Reply) {
	if p.Domains.Has(req.RecipientDomain) {
		return Allowed, nil
	}
	if req.Authenticated {
		return Allowed, nil
	}
	return Denied, protoerr.New(503, "5.7.1", "Relay not allowed")
}
