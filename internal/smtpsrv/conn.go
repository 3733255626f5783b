package smtpsrv

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"blitiri.com.ar/go/log"

	"github.com/kestrelmail/esmtpd/internal/authlimit"
	"github.com/kestrelmail/esmtpd/internal/envelope"
	"github.com/kestrelmail/esmtpd/internal/events"
	"github.com/kestrelmail/esmtpd/internal/frame"
	"github.com/kestrelmail/esmtpd/internal/mailaddr"
	"github.com/kestrelmail/esmtpd/internal/protoerr"
	"github.com/kestrelmail/esmtpd/internal/proxyproto"
	"github.com/kestrelmail/esmtpd/internal/relaypolicy"
	"github.com/kestrelmail/esmtpd/internal/session"
)

// maxReceivedHeaders bounds how many Received headers a message may carry
// before it is treated as a mail loop, per RFC 5321 §6.3.
const maxReceivedHeaders = 50

// maxErrors is how many error (4xx/5xx) responses a session tolerates
// before the connection is dropped, to make cross-protocol probing more
// expensive.
const maxErrors = 3

// UserHandler resolves a VRFY term to the mailbox(es) it matches. Out of
// scope by default: a nil UserHandler makes VRFY return 502.
type UserHandler interface {
	Verify(term string) ([]string, error)
}

// MailingListHandler expands an EXPN name to its member addresses. Out of
// scope by default: a nil MailingListHandler makes EXPN return 502.
type MailingListHandler interface {
	Expand(name string) ([]string, error)
}

// Conn represents one accepted inbound connection, from accept to close.
type Conn struct {
	srv  *Server
	conn net.Conn

	dec *frame.Decoder
	w   *bufio.Writer

	remoteAddr net.Addr
	tlsState   *tls.ConnectionState

	isESMTP bool

	sess  *session.Session
	chain session.Chain

	id       string
	deadline time.Time

	connLimited bool

	// dataBuf accumulates the raw message bytes across DATA lines or
	// BDAT chunks for the in-progress transaction.
	dataBuf []byte
}

// Close tears down the connection.
func (c *Conn) Close() {
	c.conn.Close()
}

// Handle runs the protocol loop for this connection: greeting, command
// dispatch, and graceful or forced termination.
func (c *Conn) Handle() {
	defer c.Close()

	c.conn.SetDeadline(time.Now().Add(c.srv.CommandTimeout))

	reader := bufio.NewReader(c.conn)
	c.remoteAddr = c.conn.RemoteAddr()

	if c.srv.HAProxyEnabled {
		src, _, err := proxyproto.HandshakeIfTrusted(c.srv.TrustedProxies, c.remoteAddr, reader)
		if err != nil {
			log.Errorf("proxyproto handshake from %v: %v", c.remoteAddr, err)
			return
		}
		if src != nil {
			c.remoteAddr = src
		}
	}

	if tc, ok := c.conn.(*tls.Conn); ok {
		if err := tc.Handshake(); err != nil {
			log.Errorf("TLS handshake from %v: %v", c.remoteAddr, err)
			return
		}
		cstate := tc.ConnectionState()
		c.tlsState = &cstate
	}

	c.dec = frame.NewDecoder(reader, c.srv.MaxLineLength, c.srv.MaxBDATChunkSize)
	c.w = bufio.NewWriter(c.conn)

	ip := peerIP(c.remoteAddr)
	if c.srv.ConnLimiter != nil {
		if !c.srv.ConnLimiter.AllowConnection(ip) {
			c.writeResponse(421, "4.7.0", "Too many concurrent connections")
			return
		}
		c.connLimited = true
		defer c.srv.ConnLimiter.ReleaseConnection(ip)
	}

	c.sess = session.New(c.id, c.remoteAddr, c.srv.Hostname)
	c.chain = session.NewChain(
		session.NewStateMachinePolicy(c.srv.SessionPolicy),
		session.NewETRNPolicy(c.srv.ETRNHandler),
	)

	c.srv.Hooks.SessionStarted(events.SessionInfo{RemoteAddr: c.remoteAddr})
	defer func() {
		c.sess.EndReason = "closed"
		c.srv.Hooks.SessionEnded(events.SessionInfo{RemoteAddr: c.remoteAddr, Hostname: c.sess.HeloDomain})
	}()

	if err := c.writeResponse(220, "", fmt.Sprintf("%s ESMTP Service ready", c.srv.Hostname)); err != nil {
		return
	}

	errCount := 0
	for {
		if time.Since(c.deadline) > 0 {
			c.writeResponse(421, "4.4.2", "Idle timeout")
			return
		}
		c.conn.SetDeadline(time.Now().Add(c.srv.CommandTimeout))

		verb, arg, err := c.readCommand()
		if err != nil {
			switch err {
			case io.EOF:
			case frame.ErrLineTooLong:
				c.writeResponse(500, "5.5.2", "Line too long")
			case frame.ErrChunkTooLarge:
				c.writeResponse(552, "5.3.4", "BDAT chunk too large")
			default:
				c.writeResponse(554, "5.4.0", fmt.Sprintf("Error reading command: %v", err))
			}
			return
		}

		reply := c.dispatch(verb, arg)
		if reply == nil {
			continue
		}
		if reply.Code == 0 {
			// Sentinel: the handler already wrote its own reply (or
			// intentionally wrote none, e.g. mid STARTTLS handshake).
			continue
		}

		if _, err := reply.WriteTo(c.w); err != nil {
			c.w.Flush()
			return
		}
		c.w.Flush()

		if reply.Code >= 400 {
			errCount++
			if errCount >= maxErrors {
				c.writeResponse(421, "4.5.0", "Too many errors, bye")
				return
			}
		}

		if verb == "QUIT" {
			return
		}
	}
}

// dispatch runs the policy chain and, if it allows the command through,
// the command's own handler.
func (c *Conn) dispatch(verb, arg string) *protoerr.Reply {
	req := &session.Request{Session: c.sess, Stage: session.StageCommand, Verb: verb, Arg: arg}
	if reply := c.chain.Check(req); reply != nil {
		return reply
	}

	switch verb {
	case "HELO":
		return c.HELO(arg)
	case "EHLO":
		return c.EHLO(arg)
	case "STARTTLS":
		return c.STARTTLS(arg)
	case "AUTH":
		return c.AUTH(arg)
	case "MAIL":
		return c.MAIL(arg)
	case "RCPT":
		return c.RCPT(arg)
	case "DATA":
		return c.DATA(arg)
	case "BDAT":
		return c.BDAT(arg)
	case "RSET":
		c.sess.ResetTransaction()
		c.dataBuf = nil
		return protoerr.New(250, "2.0.0", "OK")
	case "NOOP":
		return protoerr.New(250, "2.0.0", "OK")
	case "HELP":
		return protoerr.New(214, "2.0.0", "See RFC 5321")
	case "VRFY":
		return c.VRFY(arg)
	case "EXPN":
		return c.EXPN(arg)
	case "QUIT":
		return protoerr.New(221, "2.0.0", fmt.Sprintf("%s closing connection", c.srv.Hostname))
	default:
		return protoerr.New(500, "5.5.1", "Unknown command")
	}
}

// HELO handles the plain SMTP greeting.
func (c *Conn) HELO(arg string) *protoerr.Reply {
	domain := strings.TrimSpace(arg)
	if domain == "" {
		return protoerr.New(501, "5.5.4", "Syntax: HELO <domain>")
	}
	c.sess.Greet(strings.Fields(domain)[0], false)
	return protoerr.New(250, "2.0.0", c.srv.Hostname)
}

// EHLO handles the extended greeting, advertising only the capabilities
// actually available this session.
func (c *Conn) EHLO(arg string) *protoerr.Reply {
	domain := strings.TrimSpace(arg)
	if domain == "" {
		return protoerr.New(501, "5.5.4", "Syntax: EHLO <domain>")
	}
	c.sess.Greet(strings.Fields(domain)[0], true)
	c.isESMTP = true

	lines := []string{c.srv.Hostname}
	lines = append(lines, "PIPELINING", "8BITMIME", "SMTPUTF8", "CHUNKING", "BINARYMIME", "DSN")
	lines = append(lines, fmt.Sprintf("SIZE %d", c.srv.MaxDataSize))
	lines = append(lines, "ENHANCEDSTATUSCODES")

	if len(c.srv.TLSConfig.Certificates) > 0 && !c.sess.TLSActive {
		lines = append(lines, "STARTTLS")
	}
	authReady := c.srv.SessionPolicy.EnableAuth && c.srv.Auth != nil &&
		(!c.srv.SessionPolicy.RequireStartTLS || c.sess.TLSActive)
	if authReady {
		lines = append(lines, "AUTH PLAIN LOGIN")
	}
	if c.srv.ETRNHandler != nil {
		lines = append(lines, "ETRN")
	}

	return protoerr.New(250, "", strings.Join(lines, "\n"))
}

// STARTTLS upgrades the connection in place, per RFC 3207.
func (c *Conn) STARTTLS(arg string) *protoerr.Reply {
	if err := c.writeResponse(220, "2.0.0", "Ready to start TLS"); err != nil {
		return &protoerr.Reply{Code: 0}
	}

	server := tls.Server(c.conn, c.srv.TLSConfig)
	if err := server.Handshake(); err != nil {
		return protoerr.New(554, "5.5.0", fmt.Sprintf("TLS handshake error: %v", err))
	}

	c.conn = server
	reader := bufio.NewReader(c.conn)
	c.dec = frame.NewDecoder(reader, c.srv.MaxLineLength, c.srv.MaxBDATChunkSize)
	c.w = bufio.NewWriter(c.conn)

	cstate := server.ConnectionState()
	c.tlsState = &cstate

	c.sess.StartTLS()
	c.dataBuf = nil

	return &protoerr.Reply{Code: 0}
}

// AUTH implements RFC 4954 PLAIN and LOGIN SASL exchanges.
func (c *Conn) AUTH(arg string) *protoerr.Reply {
	if c.srv.Auth == nil {
		return protoerr.New(502, "5.5.1", "AUTH not supported")
	}

	sp := strings.SplitN(strings.TrimSpace(arg), " ", 2)
	mech := strings.ToUpper(sp[0])
	if mech != "PLAIN" && mech != "LOGIN" {
		return protoerr.New(504, "5.5.4", "Unrecognized authentication type")
	}

	var response string
	var err error

	switch {
	case mech == "PLAIN" && len(sp) == 2:
		response = sp[1]
	case mech == "PLAIN":
		response, err = c.challengeResponse("")
	case mech == "LOGIN":
		var userB64, passB64 string
		if userB64, err = c.challengeResponse(""); err == nil {
			if passB64, err = c.challengeResponse(""); err == nil {
				var user, pass string
				if user, err = session.DecodeBase64Line(userB64); err == nil {
					if pass, err = session.DecodeBase64Line(passB64); err == nil {
						response = session.EncodeLoginAsPlain(user, pass)
					}
				}
			}
		}
	}
	if err != nil {
		return protoerr.New(454, "4.7.0", fmt.Sprintf("Error reading AUTH response: %v", err))
	}

	_, authcid, passwd, err := session.DecodePlainResponse(response)
	if err != nil {
		return protoerr.New(501, "5.5.2", fmt.Sprintf("Error decoding AUTH response: %v", err))
	}

	ip := peerIP(c.remoteAddr)
	key := ""
	if c.srv.AuthLimiter != nil {
		key = authlimit.Key(ip, authcid)
		if remaining := c.srv.AuthLimiter.CheckLock(key); remaining > 0 {
			return protoerr.New(454, "4.7.0", fmt.Sprintf("Too many authentication failures, try again in %s", remaining))
		}
	}

	if !c.srv.Auth.Verify(authcid, passwd) {
		if c.srv.AuthLimiter != nil {
			c.srv.AuthLimiter.RecordFailure(key)
		}
		events.Auth(c.remoteAddr, authcid, false)
		return protoerr.New(535, "5.7.8", "Authentication credentials invalid")
	}

	if c.srv.AuthLimiter != nil {
		c.srv.AuthLimiter.RecordSuccess(key)
	}
	c.sess.Authenticate(authcid)
	events.Auth(c.remoteAddr, authcid, true)
	return protoerr.New(235, "2.7.0", "Authentication successful")
}

// challengeResponse writes a 334 SASL challenge and reads back one line.
func (c *Conn) challengeResponse(challenge string) (string, error) {
	if err := c.writeResponse(334, "", challenge); err != nil {
		return "", err
	}
	f, err := c.dec.Next()
	if err != nil {
		return "", err
	}
	return string(f.Data), nil
}

// MAIL handles "MAIL FROM:<addr> [params]".
func (c *Conn) MAIL(arg string) *protoerr.Reply {
	p, err := mailaddr.ParseMailFrom(arg)
	if err != nil {
		return toReply(err)
	}

	c.sess.ResetTransaction()
	c.dataBuf = nil

	if p.Size > 0 && c.srv.MaxDataSize > 0 && p.Size > c.srv.MaxDataSize {
		return protoerr.New(552, "5.3.4", "Message size exceeds fixed maximum message size")
	}

	c.sess.Txn.Sender = p.Address
	c.sess.Txn.Envid = p.Envid
	c.sess.Txn.Ret = p.Ret
	c.sess.Txn.Size = p.Size
	c.sess.Txn.SMTPUTF8 = p.SMTPUTF8
	c.sess.MailSet = true

	return protoerr.New(250, "2.1.0", "OK")
}

// RCPT handles "RCPT TO:<addr> [params]".
func (c *Conn) RCPT(arg string) *protoerr.Reply {
	p, err := mailaddr.ParseRcptTo(arg)
	if err != nil {
		return toReply(err)
	}

	if len(c.sess.Txn.Recipients) >= 100 {
		return protoerr.New(452, "4.5.3", "Too many recipients")
	}

	verdict, reply := c.srv.RelayPolicy.Evaluate(relaypolicy.Request{
		RecipientDomain: envelope.DomainOf(p.Address),
		Authenticated:   c.sess.Authenticated,
	})
	if verdict != relaypolicy.Allowed {
		events.Rejected(c.remoteAddr, c.sess.Txn.Sender, []string{p.Address}, "relay not allowed")
		return reply
	}

	if c.srv.LocalDomains.Has(envelope.DomainOf(p.Address)) && c.srv.Users != nil {
		matches, err := c.srv.Users.Verify(p.Address)
		if err != nil {
			return protoerr.New(451, "4.4.3", "Temporary error checking address")
		}
		if len(matches) == 0 {
			events.Rejected(c.remoteAddr, c.sess.Txn.Sender, []string{p.Address}, "user does not exist")
			return protoerr.New(550, "5.1.1", "Destination address is unknown")
		}
	}

	c.sess.Txn.AddRecipient(p.Address, envelope.RcptParams{Notify: p.Notify, Orcpt: p.Orcpt})
	return protoerr.New(250, "2.1.5", "OK")
}

// DATA implements classic DATA ingestion with dot-transparency, per
// RFC 5321 §4.5.2.
func (c *Conn) DATA(arg string) *protoerr.Reply {
	if err := c.writeResponse(354, "", "Start mail input; end with <CRLF>.<CRLF>"); err != nil {
		return &protoerr.Reply{Code: 0}
	}

	c.conn.SetDeadline(c.deadline)
	c.dec.SuppressBDAT(true)
	defer c.dec.SuppressBDAT(false)

	for {
		f, err := c.dec.Next()
		if err != nil {
			return protoerr.New(554, "5.4.0", fmt.Sprintf("Error reading DATA: %v", err))
		}
		line := f.Data
		if string(line) == "." {
			break
		}
		if len(line) > 0 && line[0] == '.' {
			line = line[1:]
		}

		c.dataBuf = append(c.dataBuf, line...)
		c.dataBuf = append(c.dataBuf, '\r', '\n')

		if c.srv.MaxDataSize > 0 && int64(len(c.dataBuf)) > c.srv.MaxDataSize {
			return c.abortTooBig()
		}
	}

	return c.finalizeMessage()
}

// abortTooBig keeps reading (and discarding) until the terminating dot
// line, so the client's view of the protocol stays in sync, then replies
// 552 and resets the transaction.
func (c *Conn) abortTooBig() *protoerr.Reply {
	for {
		f, err := c.dec.Next()
		if err != nil {
			break
		}
		if string(f.Data) == "." {
			break
		}
	}
	c.sess.ResetTransaction()
	c.dataBuf = nil
	return protoerr.New(552, "5.3.4", "Message too big")
}

// BDAT implements RFC 3030 CHUNKING ingestion.
func (c *Conn) BDAT(arg string) *protoerr.Reply {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return protoerr.New(501, "5.5.4", "Syntax: BDAT <size> [LAST]")
	}
	size, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || size < 0 {
		return protoerr.New(501, "5.5.4", "Invalid BDAT size")
	}
	last := len(fields) > 1 && strings.EqualFold(fields[1], "LAST")

	f, err := c.dec.Next()
	if err == frame.ErrChunkTooLarge {
		// No reply here: the decoder keeps returning this error, so the
		// command loop's next read replies 552 and closes.
		return &protoerr.Reply{Code: 0}
	}
	if err != nil {
		return protoerr.New(554, "5.4.0", fmt.Sprintf("Error reading BDAT chunk: %v", err))
	}

	c.sess.BDATInProgress = !last
	c.dataBuf = append(c.dataBuf, f.Data...)
	c.sess.MessageBytes += int64(len(f.Data))

	if c.srv.MaxDataSize > 0 && c.sess.MessageBytes > c.srv.MaxDataSize {
		c.sess.ResetTransaction()
		c.dataBuf = nil
		return protoerr.New(552, "5.3.4", "Message too big")
	}

	if !last {
		return protoerr.New(250, "2.0.0", fmt.Sprintf("%d octets received", len(f.Data)))
	}

	if len(c.sess.Txn.Recipients) == 0 {
		c.sess.ResetTransaction()
		c.dataBuf = nil
		return protoerr.New(503, "5.5.1", "Send MAIL FROM and RCPT TO first")
	}

	return c.finalizeMessage()
}

// finalizeMessage hands the accumulated bytes off to the message store
// and spool, then resets the transaction for the next message.
func (c *Conn) finalizeMessage() *protoerr.Reply {
	ip := peerIP(c.remoteAddr)
	if c.srv.ConnLimiter != nil && !c.srv.ConnLimiter.AllowMessage(ip) {
		c.sess.ResetTransaction()
		c.dataBuf = nil
		return protoerr.New(452, "4.7.1", "Too many messages this hour")
	}

	if err := checkLoop(c.dataBuf); err != nil {
		events.Rejected(c.remoteAddr, c.sess.Txn.Sender, c.sess.Txn.Recipients, err.Error())
		c.sess.ResetTransaction()
		c.dataBuf = nil
		return protoerr.New(554, "5.4.6", err.Error())
	}

	id := uuid.New().String()
	received := c.receivedHeader()
	senderDomain := envelope.DomainOf(c.sess.Txn.Sender)

	path, err := c.srv.MsgStore.StoreRFC822(id, received, senderDomain, c.dataBuf)
	if err != nil {
		events.Rejected(c.remoteAddr, c.sess.Txn.Sender, c.sess.Txn.Recipients, err.Error())
		c.sess.ResetTransaction()
		c.dataBuf = nil
		return protoerr.New(451, "4.3.0", fmt.Sprintf("Temporary error storing message: %v", err))
	}
	_ = path

	env := c.sess.Txn.Complete()
	if err := c.srv.Spool.Enqueue(id, env, c.sess.Authenticated, c.remoteAddr); err != nil {
		events.Rejected(c.remoteAddr, c.sess.Txn.Sender, c.sess.Txn.Recipients, err.Error())
		c.sess.ResetTransaction()
		c.dataBuf = nil
		return protoerr.New(451, "4.3.0", fmt.Sprintf("Failed to queue message: %v", err))
	}

	events.Queued(c.remoteAddr, c.sess.Txn.Sender, c.sess.Txn.Recipients, id)
	c.srv.Hooks.MessageAccepted(events.MessageInfo{
		ID: id, From: c.sess.Txn.Sender, To: c.sess.Txn.Recipients, RemoteAddr: c.remoteAddr,
	})

	c.sess.ResetTransaction()
	c.dataBuf = nil
	return protoerr.New(250, "2.0.0", fmt.Sprintf("OK: queued as %s", id))
}

// checkLoop does a minimal sanity check on the message: is the Received
// count under the loop-detection cap. A message whose header section does
// not parse carries no countable Received headers and passes.
func checkLoop(data []byte) error {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	if len(msg.Header["Received"]) > maxReceivedHeaders {
		return fmt.Errorf("loop detected (%d hops)", maxReceivedHeaders)
	}
	return nil
}

// receivedHeader builds the value of the Received trace header for the
// message about to be stored, per RFC 5321 §4.4.
func (c *Conn) receivedHeader() string {
	var v string
	if c.sess.Authenticated {
		v += fmt.Sprintf("from %s\n", c.sess.HeloDomain)
	} else {
		v += fmt.Sprintf("from [%s] (%s)\n", addrLiteral(c.remoteAddr), c.sess.HeloDomain)
	}
	v += fmt.Sprintf("by %s (esmtpd) ", c.srv.Hostname)

	with := "SMTP"
	if c.isESMTP {
		with = "ESMTP"
	}
	if c.sess.TLSActive {
		with += "S"
	}
	if c.sess.Authenticated {
		with += "A"
	}
	v += fmt.Sprintf("with %s\n", with)
	v += fmt.Sprintf("; %s", time.Now().Format(time.RFC1123Z))
	return v
}

// VRFY handles the VRFY command, delegating to the configured
// UserHandler, if any.
func (c *Conn) VRFY(arg string) *protoerr.Reply {
	if c.srv.Users == nil {
		return protoerr.New(502, "5.5.1", "VRFY not supported")
	}
	matches, err := c.srv.Users.Verify(strings.TrimSpace(arg))
	if err != nil || len(matches) == 0 {
		return protoerr.New(550, "5.1.1", "String does not match anything")
	}
	if len(matches) > 1 {
		return protoerr.New(553, "5.5.4", "Ambiguous; specify an address")
	}
	return protoerr.New(250, "2.0.0", matches[0])
}

// EXPN handles the EXPN command, delegating to the configured
// MailingListHandler, if any.
func (c *Conn) EXPN(arg string) *protoerr.Reply {
	if c.srv.Lists == nil {
		return protoerr.New(502, "5.5.1", "EXPN not supported")
	}
	members, err := c.srv.Lists.Expand(strings.TrimSpace(arg))
	if err != nil || len(members) == 0 {
		return protoerr.New(550, "5.1.1", "No such mailing list")
	}
	return protoerr.New(250, "2.0.0", strings.Join(members, "\n"))
}

func (c *Conn) readCommand() (verb, arg string, err error) {
	f, err := c.dec.Next()
	if err != nil {
		return "", "", err
	}
	line := string(f.Data)
	sp := strings.SplitN(line, " ", 2)
	verb = strings.ToUpper(sp[0])
	if len(sp) > 1 {
		arg = sp[1]
	}
	return verb, arg, nil
}

func (c *Conn) writeResponse(code int, enhanced, msg string) error {
	defer c.w.Flush()
	r := protoerr.Reply{Code: code, Enhanced: enhanced, Msg: msg}
	_, err := r.WriteTo(c.w)
	return err
}

func toReply(err error) *protoerr.Reply {
	if r, ok := err.(*protoerr.Reply); ok {
		return r
	}
	return protoerr.New(500, "5.5.2", err.Error())
}

func addrLiteral(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	s := tcp.IP.String()
	if strings.Contains(s, ":") {
		return "IPv6:" + s
	}
	return s
}

func peerIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	return addr.String()
}
