package session

import (
	"fmt"
	"strings"

	"github.com/kestrelmail/esmtpd/internal/protoerr"
)

// Config tunes the default state machine policy.
type Config struct {
	// EnableAuth turns on AUTH handling at all.
	EnableAuth bool
	// RequireStartTLS demands TLS be active before AUTH is accepted.
	RequireStartTLS bool
	// RequireAuthForMail demands TLS and authentication before MAIL is
	// accepted (submission-port semantics).
	RequireAuthForMail bool
}

// alwaysAllowed lists verbs accepted regardless of greeting/BDAT state,
// per spec.md §4.3.
var alwaysAllowed = map[string]bool{
	"NOOP": true, "QUIT": true, "HELP": true, "RSET": true,
	"EHLO": true, "HELO": true,
}

// bdatAllowed lists verbs accepted while a BDAT transfer is in progress.
var bdatAllowed = map[string]bool{
	"BDAT": true, "RSET": true, "NOOP": true, "QUIT": true, "HELP": true,
}

type stateMachinePolicy struct {
	cfg Config
}

// NewStateMachinePolicy returns the default RFC 5321 transition-rule
// policy described in spec.md §4.3. It runs first in the default chain.
func NewStateMachinePolicy(cfg Config) Policy {
	return &stateMachinePolicy{cfg: cfg}
}

func (p *stateMachinePolicy) Order() int { return 0 }

func (p *stateMachinePolicy) Check(req *Request) *protoerr.Reply {
	s := req.Session
	verb := strings.ToUpper(req.Verb)

	if !s.Greeted && !alwaysAllowed[verb] {
		return protoerr.New(503, "5.5.1", "Send HELO/EHLO first")
	}

	if s.MustReEHLO && verb != "EHLO" && verb != "HELO" && verb != "QUIT" && verb != "NOOP" {
		return protoerr.New(503, "5.5.1", "Must send EHLO/HELO again after STARTTLS")
	}

	if s.BDATInProgress && !bdatAllowed[verb] {
		return protoerr.New(503, "5.5.1", "BDAT in progress; send BDAT <size> [LAST] or RSET")
	}

	switch verb {
	case "STARTTLS":
		if s.TLSActive {
			return protoerr.New(503, "5.5.1", "Already using TLS")
		}

	case "AUTH":
		if !p.cfg.EnableAuth {
			return protoerr.New(502, "5.5.1", "AUTH not supported")
		}
		if p.cfg.RequireStartTLS && !s.TLSActive {
			return protoerr.New(503, "5.7.10", "Must issue STARTTLS first")
		}
		if s.Authenticated {
			return protoerr.New(503, "5.5.1", "Already authenticated")
		}

	case "MAIL":
		if p.cfg.RequireAuthForMail {
			if !s.TLSActive {
				return protoerr.New(530, "5.7.0", "Must issue STARTTLS first")
			}
			if !s.Authenticated {
				return protoerr.New(530, "5.7.0", "Authentication required")
			}
		}

	case "RCPT":
		if !s.MailSet {
			return protoerr.New(503, "5.5.1", "Sender not yet given")
		}

	case "DATA":
		if len(s.Txn.Recipients) == 0 {
			return protoerr.New(503, "5.5.1", "Send MAIL FROM and RCPT TO first")
		}
	}

	return nil
}

// ETRNHandler triggers a spool run restricted to recipients at domain,
// returning an error if the run could not be started.
type ETRNHandler func(domain string) error

type etrnPolicy struct {
	handler ETRNHandler
}

// NewETRNPolicy returns a Policy handling ETRN entirely by itself: since
// ETRN's whole job is to kick off a spool run and reply, it is expressed
// as an interceptor rather than a dispatcher case, so hosts that don't
// want ETRN can simply omit it from their chain.
func NewETRNPolicy(handler ETRNHandler) Policy {
	return &etrnPolicy{handler: handler}
}

func (p *etrnPolicy) Order() int { return 50 }

func (p *etrnPolicy) Check(req *Request) *protoerr.Reply {
	if strings.ToUpper(req.Verb) != "ETRN" {
		return nil
	}

	domain := strings.TrimSpace(req.Arg)
	if domain == "" {
		return protoerr.New(501, "5.5.4", "Syntax: ETRN <domain>")
	}
	if p.handler == nil {
		return protoerr.New(502, "5.5.1", "ETRN not supported")
	}
	if err := p.handler(domain); err != nil {
		return protoerr.New(458, "4.3.0", fmt.Sprintf("Unable to queue messages for node %s: %v", domain, err))
	}
	return protoerr.New(250, "2.0.0", fmt.Sprintf("Queuing for node %s started", domain))
}
