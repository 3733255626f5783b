// Package session holds the per-connection SMTP state machine: the
// Session data the engine mutates as commands come in, and the Policy
// interceptor chain that enforces RFC 5321's command ordering rules
// (and lets a host extend or replace them).
package session

import (
	"net"
	"sort"
	"time"

	"github.com/kestrelmail/esmtpd/internal/envelope"
	"github.com/kestrelmail/esmtpd/internal/protoerr"
)

// Session is bound to one accepted connection, from accept to close. It
// is mutated only by the command interpreter goroutine driving this
// connection; readers elsewhere (event hooks) should treat it as a
// snapshot taken at a point in time.
type Session struct {
	ID             string
	PeerAddr       net.Addr
	ServerIdentity string

	HeloDomain string
	Greeted    bool
	UsedEHLO   bool

	TLSActive  bool
	MustReEHLO bool

	Authenticated bool
	AuthUser      string

	// MailSet is true once a MAIL FROM has been accepted for the current
	// transaction; it is what lets RCPT tell "no sender yet" apart from
	// "sender was the null reverse-path".
	MailSet bool
	Txn     *envelope.Transaction

	BDATInProgress bool
	MessageBytes   int64

	StartedAt time.Time
	EndReason string
}

// New creates a fresh Session for an accepted connection.
func New(id string, peer net.Addr, serverIdentity string) *Session {
	return &Session{
		ID:             id,
		PeerAddr:       peer,
		ServerIdentity: serverIdentity,
		Txn:            envelope.NewTransaction(),
		StartedAt:      time.Now(),
	}
}

// Greet records a successful HELO/EHLO.
func (s *Session) Greet(domain string, usedEHLO bool) {
	s.HeloDomain = domain
	s.Greeted = true
	s.UsedEHLO = usedEHLO
	s.MustReEHLO = false
}

// ResetTransaction clears the envelope (RSET semantics) while preserving
// the greeting and authentication state.
func (s *Session) ResetTransaction() {
	s.Txn.Reset()
	s.MailSet = false
	s.BDATInProgress = false
	s.MessageBytes = 0
}

// StartTLS records a completed STARTTLS handshake: the transaction is
// reset and the client must re-issue EHLO/HELO before anything else is
// accepted, per RFC 3207 §4.2.
func (s *Session) StartTLS() {
	s.TLSActive = true
	s.Greeted = false
	s.MustReEHLO = true
	s.ResetTransaction()
}

// Authenticate records a successful AUTH.
func (s *Session) Authenticate(user string) {
	s.Authenticated = true
	s.AuthUser = user
}

// Stage identifies the point in command processing a Policy is invoked
// at. Most policies only care about StageCommand; StageDataPre and
// StageAuth let a policy react specifically around DATA/BDAT ingestion
// or AUTH exchanges, per spec.md §4.3's "DATA_PRE and AUTH are
// recognized stages".
type Stage int

const (
	StageCommand Stage = iota
	StageDataPre
	StageAuth
)

// Request is what a Policy inspects to decide whether to allow a
// command to proceed.
type Request struct {
	Session *Session
	Stage   Stage
	Verb    string
	Arg     string
}

// Policy is one interceptor in the chain the command interpreter runs
// before dispatching a command. Check returns nil to allow the command
// to proceed to the next policy (and eventually to its handler), or a
// *protoerr.Reply to short-circuit with that SMTP response.
type Policy interface {
	// Order determines placement in the chain; lower runs first.
	Order() int
	Check(req *Request) *protoerr.Reply
}

// Chain is an ordered list of policies, lowest Order first.
type Chain []Policy

// NewChain builds a Chain from policies, sorted by Order.
func NewChain(policies ...Policy) Chain {
	c := make(Chain, len(policies))
	copy(c, policies)
	sort.SliceStable(c, func(i, j int) bool { return c[i].Order() < c[j].Order() })
	return c
}

// Check runs req through every policy in order, stopping at the first
// non-nil reply.
func (c Chain) Check(req *Request) *protoerr.Reply {
	for _, p := range c {
		if reply := p.Check(req); reply != nil {
			return reply
		}
	}
	return nil
}
