package relay

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"golang.org/x/net/idna"

	"github.com/kestrelmail/esmtpd/internal/envelope"
	"github.com/kestrelmail/esmtpd/internal/smtp"
	"github.com/kestrelmail/esmtpd/internal/tlsconst"
	"github.com/kestrelmail/esmtpd/internal/trace"
)

var (
	// Timeouts for SMTP delivery.
	smtpDialTimeout  = 1 * time.Minute
	smtpTotalTimeout = 10 * time.Minute

	// Port for outgoing SMTP. Tests override this.
	smtpPort = "25"
)

// Resolver looks up the mail exchangers for a domain. It exists as an
// interface, instead of calling net.LookupMX directly, because MX
// resolution policy (caching, DNSSEC validation, split-horizon views) is
// the embedder's concern, not this engine's.
type Resolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
}

// netResolver is the default Resolver, backed by the standard resolver.
type netResolver struct{}

func (netResolver) LookupMX(ctx context.Context, domain string) ([]*net.MX, error) {
	return net.DefaultResolver.LookupMX(ctx, domain)
}

// SMTPRelay delivers remote mail via outgoing SMTP, implementing the
// MailRelay collaborator for non-local recipients.
type SMTPRelay struct {
	HelloDomain string

	// Resolver is used to find mail exchangers. Defaults to DNS if nil.
	Resolver Resolver

	// TLSConfig, if set, is used as a template for outgoing STARTTLS
	// connections (e.g. to set RootCAs in tests).
	TLSConfig *tls.Config
}

func (s *SMTPRelay) resolver() Resolver {
	if s.Resolver != nil {
		return s.Resolver
	}
	return netResolver{}
}

// Deliver an email. On failures, returns an error, and whether or not it is
// permanent.
func (s *SMTPRelay) Deliver(from string, to string, data []byte) (error, bool) {
	a := &attempt{
		relay:    s,
		from:     from,
		to:       to,
		toDomain: envelope.DomainOf(to),
		data:     data,
		tr:       trace.New("Relay.SMTP", to),
	}
	defer a.tr.Finish()
	a.tr.Debugf("%s  ->  %s", from, to)

	// smtp.Client.Mail will add the <> for us when the address is empty.
	if a.from == "<>" {
		a.from = ""
	}

	mxs, err, perm := lookupMXs(a.tr, s.resolver(), a.toDomain)
	if err != nil || len(mxs) == 0 {
		// An empty MX list is a permanent error, in line with what other
		// servers (Exim) do. A lookup error is permanent only when
		// lookupMXs says so: temporary DNS failures and non-DNS errors
		// are reported as transient.
		return a.tr.Errorf("Could not find mail server: %v", err), perm
	}

	for _, mx := range mxs {
		var permanent bool
		err, permanent = a.deliver(mx)
		if err == nil {
			return nil, false
		}
		if permanent {
			return err, true
		}
		a.tr.Errorf("%q returned transient error: %v", mx, err)
	}

	// We exhausted all MXs and failed to deliver, try again later.
	return a.tr.Errorf("all MXs returned transient failures (last: %v)", err), false
}

type attempt struct {
	relay *SMTPRelay

	from string
	to   string
	data []byte

	toDomain string

	tr *trace.Trace
}

func (a *attempt) deliver(mx string) (error, bool) {
	skipTLS := false
retry:
	conn, err := net.DialTimeout("tcp", mx+":"+smtpPort, smtpDialTimeout)
	if err != nil {
		return a.tr.Errorf("Could not dial: %v", err), false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(smtpTotalTimeout))

	c, err := smtp.NewClient(conn, mx)
	if err != nil {
		return a.tr.Errorf("Error creating client: %v", err), false
	}

	if err = c.Hello(a.relay.HelloDomain); err != nil {
		return a.tr.Errorf("Error saying hello: %v", err), false
	}

	if ok, _ := c.Extension("STARTTLS"); ok && !skipTLS {
		config := &tls.Config{ServerName: mx}
		if a.relay.TLSConfig != nil {
			config.RootCAs = a.relay.TLSConfig.RootCAs
			config.InsecureSkipVerify = a.relay.TLSConfig.InsecureSkipVerify
		}

		err = c.StartTLS(config)
		if err != nil {
			// If we could not complete a jump to TLS (either because the
			// STARTTLS command itself failed server-side, or because TLS
			// negotiation failed), retry but without trying to use TLS.
			a.tr.Errorf("TLS error, retrying without TLS: %v", err)
			skipTLS = true
			conn.Close()
			goto retry
		}
		if cs, ok := c.TLSConnectionState(); ok {
			a.tr.Debugf("TLS: %s %s", tlsconst.VersionName(cs.Version),
				tlsconst.CipherSuiteName(cs.CipherSuite))
		}
	} else {
		a.tr.Debugf("Insecure - NOT using TLS")
	}

	if err = c.MailAndRcpt(a.from, a.to); err != nil {
		return a.tr.Errorf("MAIL+RCPT %v", err), smtp.IsPermanent(err)
	}

	w, err := c.Data()
	if err != nil {
		return a.tr.Errorf("DATA %v", err), smtp.IsPermanent(err)
	}
	_, err = w.Write(a.data)
	if err != nil {
		return a.tr.Errorf("DATA writing: %v", err), smtp.IsPermanent(err)
	}

	err = w.Close()
	if err != nil {
		return a.tr.Errorf("DATA closing %v", err), smtp.IsPermanent(err)
	}

	_ = c.Quit()
	a.tr.Debugf("done")

	return nil, false
}

func lookupMXs(tr *trace.Trace, r Resolver, domain string) ([]string, error, bool) {
	asciiDomain, err := idna.ToASCII(domain)
	if err != nil {
		return nil, err, true
	}

	mxs := []string{}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mxRecords, err := r.LookupMX(ctx, asciiDomain)
	if err != nil {
		// There was an error. It could be that the domain has no MX, in
		// which case we have to fall back to A, or a bigger problem.
		dnsErr, ok := err.(*net.DNSError)
		if !ok {
			tr.Debugf("Error resolving MX on %q: %v", asciiDomain, err)
			return nil, err, false
		} else if dnsErr.IsNotFound {
			tr.Debugf("MX for %s not found, falling back to A", asciiDomain)
			mxs = []string{asciiDomain}
		} else {
			tr.Debugf("MX lookup error on %q: %v", asciiDomain, dnsErr)
			return nil, err, !dnsErr.Temporary()
		}
	} else {
		// Already sorted by priority.
		for _, rec := range mxRecords {
			mxs = append(mxs, rec.Host)
		}
	}

	// Note that mxs could be empty; in that case we do NOT fall back to A.
	// This case is explicitly covered by the SMTP RFC.
	// https://tools.ietf.org/html/rfc5321#section-5.1

	// Cap the list of MXs to 5 hosts, to keep delivery attempt times
	// sane and prevent abuse.
	if len(mxs) > 5 {
		mxs = mxs[:5]
	}

	tr.Debugf("MXs: %v", mxs)
	return mxs, nil, true
}
