// Package auth implements a multi-backend AuthService: it dispatches
// Verify calls to a per-domain Backend, falling back to a catch-all
// backend, and pads every call to a fixed duration to resist basic
// timing attacks on user enumeration.
package auth

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/kestrelmail/esmtpd/internal/envelope"
)

// Backend is an authentication backend keyed by domain. Operations do
// not include the domain in the username.
type Backend interface {
	Authenticate(user, password string) (bool, error)
	Exists(user string) (bool, error)
	Reload() error
}

// NoErrorBackend is a Backend that never fails except for invalid
// credentials; WrapNoErrorBackend adapts it to Backend. This lets simple
// backends (internal/authdb.DB among them) skip the error return.
type NoErrorBackend interface {
	Authenticate(user, password string) bool
	Exists(user string) bool
	Reload() error
}

// Authenticator implements smtpsrv.AuthService, dispatching to a
// registered Backend by the domain of the user being authenticated, with
// an optional Fallback for
// unregistered domains.
type Authenticator struct {
	// backends maps domain -> Backend.
	backends map[string]Backend

	// Fallback is used when no domain-specific backend matched, or it
	// didn't yield a positive result. It receives the full "user@domain"
	// form.
	Fallback Backend

	// AuthDuration is the approximate duration every Authenticate call
	// takes, successful or not, padded by 0-20%: enough to keep a
	// network observer from timing user existence.
	AuthDuration time.Duration
}

// NewAuthenticator returns an empty Authenticator with no domains
// registered and a 100ms auth floor.
func NewAuthenticator() *Authenticator {
	return &Authenticator{
		backends:     map[string]Backend{},
		AuthDuration: 100 * time.Millisecond,
	}
}

// Register binds a Backend to a domain.
func (a *Authenticator) Register(domain string, be Backend) {
	a.backends[domain] = be
}

// Authenticate checks user@domain's password against the registered
// backend for domain, falling back to Fallback if set.
func (a *Authenticator) Authenticate(user, domain, password string) (bool, error) {
	defer a.pad(time.Now())

	if be, ok := a.backends[domain]; ok {
		ok, err := be.Authenticate(user, password)
		if ok || err != nil {
			return ok, err
		}
	}

	if a.Fallback != nil {
		return a.Fallback.Authenticate(user+"@"+domain, password)
	}

	return false, nil
}

// Verify implements smtpsrv.AuthService: it splits "user@domain" (or a
// bare "user", treated as domain-less) and delegates to Authenticate.
func (a *Authenticator) Verify(user, password string) bool {
	local, domain := envelope.Split(user)
	ok, err := a.Authenticate(local, domain, password)
	return ok && err == nil
}

// Exists reports whether user@domain is known to any backend.
func (a *Authenticator) Exists(user, domain string) (bool, error) {
	if be, ok := a.backends[domain]; ok {
		ok, err := be.Exists(user)
		if ok || err != nil {
			return ok, err
		}
	}

	if a.Fallback != nil {
		return a.Fallback.Exists(user + "@" + domain)
	}

	return false, nil
}

// Reload reloads every registered backend and the fallback, collecting
// and returning all errors encountered.
func (a *Authenticator) Reload() error {
	var msgs []string

	for domain, be := range a.backends {
		if err := be.Reload(); err != nil {
			msgs = append(msgs, fmt.Sprintf("%q: %v", domain, err))
		}
	}
	if a.Fallback != nil {
		if err := a.Fallback.Reload(); err != nil {
			msgs = append(msgs, fmt.Sprintf("<fallback>: %v", err))
		}
	}

	if len(msgs) > 0 {
		return errors.New(strings.Join(msgs, " ; "))
	}
	return nil
}

// pad sleeps out the remainder of AuthDuration since start, plus 0-20%
// jitter, so failed and successful calls take indistinguishable time.
func (a *Authenticator) pad(start time.Time) {
	delay := a.AuthDuration - time.Since(start)
	if delay <= 0 {
		return
	}
	maxDelta := int64(float64(delay) * 0.2)
	if maxDelta > 0 {
		delay += time.Duration(rand.Int63n(maxDelta))
	}
	time.Sleep(delay)
}

// WrapNoErrorBackend adapts a NoErrorBackend into a Backend, for
// registering simple backends (like internal/authdb.DB) that never
// produce their own errors.
func WrapNoErrorBackend(be NoErrorBackend) Backend {
	return &wrapNoErrorBackend{be}
}

type wrapNoErrorBackend struct {
	be NoErrorBackend
}

func (w *wrapNoErrorBackend) Authenticate(user, password string) (bool, error) {
	return w.be.Authenticate(user, password), nil
}

func (w *wrapNoErrorBackend) Exists(user string) (bool, error) {
	return w.be.Exists(user), nil
}

func (w *wrapNoErrorBackend) Reload() error {
	return w.be.Reload()
}
