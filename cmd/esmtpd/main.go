// esmtpd runs the embeddable ESMTP engine as a standalone daemon: it
// wires the protocol server, the authentication/storage/spool
// collaborators, and the relay defaults together from a handful of
// flags, and listens until killed.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"blitiri.com.ar/go/log"
	"blitiri.com.ar/go/systemd"

	"github.com/kestrelmail/esmtpd/internal/authdb"
	"github.com/kestrelmail/esmtpd/internal/authlimit"
	"github.com/kestrelmail/esmtpd/internal/connlimit"
	"github.com/kestrelmail/esmtpd/internal/events"
	"github.com/kestrelmail/esmtpd/internal/msgstore"
	"github.com/kestrelmail/esmtpd/internal/proxyproto"
	"github.com/kestrelmail/esmtpd/internal/relay"
	"github.com/kestrelmail/esmtpd/internal/relaypolicy"
	"github.com/kestrelmail/esmtpd/internal/smtpsrv"
	"github.com/kestrelmail/esmtpd/internal/spool"
)

const usage = `esmtpd: an embeddable ESMTP server engine.

Usage:
  esmtpd [options]
  esmtpd --version

Options:
  --hostname=<name>        Hostname advertised in greetings and DSNs
                            [default: localhost]
  --listen=<addr>...       Address to listen on, or "systemd" to use
                            socket-activated listeners named "smtp"
                            [default: :25]
  --spool-dir=<dir>        Directory for outbound spool and stored
                            messages [default: /var/spool/esmtpd]
  --authdb=<path>          Path to the scrypt-hashed password database
  --local-domain=<d>...    Local domain, accepted as a RCPT TO target
                            without authentication (repeatable)
  --cert=<path>            TLS certificate chain (PEM)
  --key=<path>             TLS private key (PEM)
  --mda-bin=<path>         Local mail delivery agent binary
                            [default: /usr/sbin/sendmail]
  --mda-arg=<arg>...       Argument to pass to the MDA binary
  --trusted-proxy=<cidr>...  CIDR allowed to send a PROXY v1 header
                            (repeatable)
  --max-retries=<n>        Delivery attempts before giving up
                            [default: 50]
  -v, --verbose            Verbose logging
  --version                Show version and exit
`

var version = "undefined"

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log.Init()

	rand.Seed(time.Now().UnixNano())

	hostname, _ := opts.String("--hostname")
	spoolDir, _ := opts.String("--spool-dir")
	maxRetries, _ := opts.Int("--max-retries")

	log.Infof("esmtpd starting (version %s), hostname=%s", version, hostname)

	ms := msgstore.New(spoolDir)

	sp := spool.New(spoolDir)
	sp.ServerHostname = hostname
	sp.MaxRetries = maxRetries

	srv := smtpsrv.NewServer(hostname)
	srv.MsgStore = ms
	srv.Spool = sp

	for _, d := range stringList(opts, "--local-domain") {
		srv.AddDomain(d)
	}
	sp.LocalDomains = srv.LocalDomains
	sp.RelayPolicy = relaypolicy.New(srv.LocalDomains)
	srv.RelayPolicy = sp.RelayPolicy

	if authdbPath, _ := opts.String("--authdb"); authdbPath != "" {
		db, err := authdb.Load(authdbPath)
		if err != nil {
			log.Fatalf("loading authdb %q: %v", authdbPath, err)
		}
		srv.Auth = db
	}

	mdaBin, _ := opts.String("--mda-bin")
	sp.LocalRelay = &relay.MDARelay{
		Binary:  mdaBin,
		Args:    stringList(opts, "--mda-arg"),
		Timeout: 30 * time.Second,
	}
	sp.RemoteRelay = &relay.SMTPRelay{HelloDomain: hostname}

	certPath, _ := opts.String("--cert")
	keyPath, _ := opts.String("--key")
	if certPath != "" && keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			log.Fatalf("loading TLS certificate: %v", err)
		}
		srv.TLSConfig.Certificates = []tls.Certificate{cert}
	}

	if cidrs := stringList(opts, "--trusted-proxy"); len(cidrs) > 0 {
		tp, err := proxyproto.NewTrustedPeers(cidrs)
		if err != nil {
			log.Fatalf("parsing --trusted-proxy: %v", err)
		}
		srv.TrustedProxies = tp
		srv.HAProxyEnabled = true
	}

	srv.AuthLimiter = authlimit.New(authlimit.Config{
		Window:      10 * time.Minute,
		MaxFailures: 10,
		Lockout:     10 * time.Minute,
	})
	srv.ConnLimiter = connlimit.New(connlimit.Config{
		MaxConnectionsPerIP:     20,
		MaxMessagesPerIPPerHour: 1000,
	})
	srv.Hooks = events.Hooks{
		OnMessageAccepted: func(m events.MessageInfo) {
			events.Queued(m.RemoteAddr, m.From, m.To, m.ID)
		},
		OnMessageRejected: func(m events.MessageInfo, err error) {
			events.Rejected(m.RemoteAddr, m.From, m.To, err.Error())
		},
	}

	pending, err := sp.Load()
	if err != nil {
		log.Fatalf("initializing spool: %v", err)
	}
	log.Infof("spool loaded, %d entries pending", pending)

	ctx, cancel := context.WithCancel(context.Background())
	sp.Start(ctx)
	go signalHandler(cancel)

	systemdLs, err := systemd.Listeners()
	if err != nil {
		log.Fatalf("getting systemd listeners: %v", err)
	}

	naddr := 0
	for _, addr := range stringList(opts, "--listen") {
		if addr == "systemd" {
			for _, l := range systemdLs["smtp"] {
				srv.AddListener(l)
				naddr++
			}
			continue
		}
		srv.AddAddr(addr)
		naddr++
	}
	if naddr == 0 {
		log.Fatalf("no address to listen on")
	}

	events.Listening(fmt.Sprintf("%v", stringList(opts, "--listen")))
	if err := srv.ListenAndServe(); err != nil {
		log.Fatalf("%v", err)
	}
}

func signalHandler(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	<-signals
	log.Infof("received shutdown signal, stopping spool")
	cancel()
}

func stringList(opts docopt.Opts, key string) []string {
	v, ok := opts[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]string)
	if !ok {
		return nil
	}
	return raw
}
