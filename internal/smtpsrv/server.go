// Package smtpsrv implements the inbound ESMTP protocol engine: session
// acceptance, the dual-mode frame decoder, command dispatch through a
// policy interceptor chain, DATA/BDAT ingestion, STARTTLS, AUTH, and
// hand-off of completed messages to the message store and spool.
package smtpsrv

import (
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelmail/esmtpd/internal/authlimit"
	"github.com/kestrelmail/esmtpd/internal/connlimit"
	"github.com/kestrelmail/esmtpd/internal/envelope"
	"github.com/kestrelmail/esmtpd/internal/events"
	"github.com/kestrelmail/esmtpd/internal/proxyproto"
	"github.com/kestrelmail/esmtpd/internal/relaypolicy"
	"github.com/kestrelmail/esmtpd/internal/session"
	"github.com/kestrelmail/esmtpd/internal/set"

	"blitiri.com.ar/go/log"
)

// AuthService verifies a username/password pair. The default
// implementation is internal/authdb.DB, which already exposes a Verify
// method of this shape.
type AuthService interface {
	Verify(user, pass string) bool
}

// MessageStore persists a completed message's raw bytes. The default
// implementation is internal/msgstore.Store.
type MessageStore interface {
	StoreRFC822(id, receivedHeader, senderDomain string, raw []byte) (path string, err error)
}

// Spool hands a completed, stored envelope off to the outbound delivery
// engine. The default implementation is internal/spool.
type Spool interface {
	Enqueue(id string, env envelope.Envelope, authenticated bool, peerAddr net.Addr) error
}

// Server holds the configuration and collaborators shared by every
// accepted connection.
type Server struct {
	Hostname string

	MaxDataSize      int64
	MaxBDATChunkSize int64
	MaxLineLength    int

	CommandTimeout time.Duration
	ConnTimeout    time.Duration

	LocalDomains *set.String

	TLSConfig *tls.Config

	HAProxyEnabled bool
	TrustedProxies *proxyproto.TrustedPeers

	SessionPolicy session.Config

	Auth         AuthService
	AuthLimiter  *authlimit.Limiter
	ConnLimiter  *connlimit.Limiter
	MsgStore     MessageStore
	Spool        Spool
	RelayPolicy  relaypolicy.Policy
	ETRNHandler  session.ETRNHandler
	Hooks        events.Hooks

	// Users and Lists back VRFY and EXPN respectively. Both are nil by
	// default, which makes the corresponding command return 502: probing
	// for valid mailboxes is opt-in, not a default capability.
	Users UserHandler
	Lists MailingListHandler

	addrs     []string
	listeners []net.Listener
}

// NewServer returns a Server with reasonable defaults. Collaborators
// (Auth, MsgStore, Spool) are nil and must be set by the embedder before
// ListenAndServe; AuthLimiter/ConnLimiter/RelayPolicy get sane in-memory
// defaults if left unset.
func NewServer(hostname string) *Server {
	domains := set.NewString()
	return &Server{
		Hostname:         hostname,
		MaxDataSize:      32 * 1024 * 1024,
		MaxBDATChunkSize: 32 * 1024 * 1024,
		MaxLineLength:    8192,
		CommandTimeout:   1 * time.Minute,
		ConnTimeout:      20 * time.Minute,
		LocalDomains:     domains,
		TLSConfig:        &tls.Config{},
		AuthLimiter: authlimit.New(authlimit.Config{
			Window:      10 * time.Minute,
			MaxFailures: 10,
			Lockout:     10 * time.Minute,
		}),
		ConnLimiter: connlimit.New(connlimit.Config{
			MaxConnectionsPerIP:     20,
			MaxMessagesPerIPPerHour: 1000,
		}),
		// Bound to the same LocalDomains set above, so AddDomain calls
		// made after NewServer still take effect: relaypolicy.Policy
		// reads through the pointer, it doesn't copy it.
		RelayPolicy: relaypolicy.New(domains),
	}
}

// AddDomain registers a local domain: RCPT TO addresses in this domain
// don't require authentication to relay to, per relaypolicy.
func (s *Server) AddDomain(d string) {
	s.LocalDomains.Add(d)
}

// AddAddr adds a TCP address for the server to listen on.
func (s *Server) AddAddr(addr string) {
	s.addrs = append(s.addrs, addr)
}

// AddListener adds a listener (e.g. one passed down by systemd) for the
// server to serve on.
func (s *Server) AddListener(l net.Listener) {
	s.listeners = append(s.listeners, l)
}

// ListenAndServe starts listening on every configured address and
// listener. It does not return unless all of them fail to start.
func (s *Server) ListenAndServe() error {
	if s.RelayPolicy == nil {
		s.RelayPolicy = relaypolicy.New(s.LocalDomains)
	}

	started := 0
	for _, addr := range s.addrs {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			log.Errorf("error listening on %s: %v", addr, err)
			continue
		}
		log.Infof("listening on %s", addr)
		events.Listening(addr)
		go s.serve(l)
		started++
	}
	for _, l := range s.listeners {
		log.Infof("listening on %s (inherited)", l.Addr())
		events.Listening(l.Addr().String())
		go s.serve(l)
		started++
	}

	if started == 0 {
		return errNoListeners
	}

	select {}
}

func (s *Server) serve(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			log.Errorf("error accepting on %s: %v", l.Addr(), err)
			return
		}

		c := &Conn{
			srv:      s,
			conn:     conn,
			deadline: time.Now().Add(s.ConnTimeout),
			id:       uuid.New().String(),
		}
		go c.Handle()
	}
}

var errNoListeners = errors.New("smtpsrv: no listener could be started")
