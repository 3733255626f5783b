package smtpsrv

import (
	"crypto/tls"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kestrelmail/esmtpd/internal/envelope"
	"github.com/kestrelmail/esmtpd/internal/testlib"
)

// fakeAuth is a trivial AuthService backed by an in-memory user map.
type fakeAuth struct {
	users map[string]string
}

func (a *fakeAuth) Verify(user, pass string) bool {
	want, ok := a.users[user]
	return ok && want == pass
}

// fakeStore records every message it is asked to store.
type fakeStore struct {
	mu   sync.Mutex
	raws [][]byte
}

func (s *fakeStore) StoreRFC822(id, received, senderDomain string, raw []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raws = append(s.raws, raw)
	return "/dev/null/" + id, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.raws)
}

// fakeSpool records every envelope it is asked to enqueue.
type fakeSpool struct {
	mu   sync.Mutex
	envs []envelope.Envelope
}

func (s *fakeSpool) Enqueue(id string, env envelope.Envelope, authenticated bool, peer net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *fakeSpool) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

// testServer starts a Server on a free loopback port and returns its
// address, its fake collaborators, and a cleanup func.
func testServer(t *testing.T) (addr string, srv *Server, store *fakeStore, spool *fakeSpool) {
	t.Helper()

	dir := testlib.MustTempDir(t)
	_, err := testlib.GenerateCert(dir)
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	cert, err := tls.LoadX509KeyPair(dir+"/cert.pem", dir+"/key.pem")
	if err != nil {
		t.Fatalf("LoadX509KeyPair: %v", err)
	}

	store = &fakeStore{}
	spool = &fakeSpool{}

	srv = NewServer("mx.example.org")
	srv.AddDomain("example.org")
	srv.MsgStore = store
	srv.Spool = spool
	srv.Auth = &fakeAuth{users: map[string]string{"alice": "hunter2"}}
	srv.TLSConfig.Certificates = []tls.Certificate{cert}
	srv.SessionPolicy.EnableAuth = true

	addr = testlib.GetFreePort()
	srv.AddAddr(addr)
	go srv.ListenAndServe()

	if !testlib.WaitFor(func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 5*time.Second) {
		t.Fatalf("server at %s never came up", addr)
	}
	return addr, srv, store, spool
}

// authHost returns the host part of addr: net/smtp's PlainAuth checks it
// against the name the client actually dialed, not the server's EHLO
// hostname.
func authHost(t *testing.T, addr string) string {
	t.Helper()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q): %v", addr, err)
	}
	return host
}

func TestPlainDeliveryToLocalDomain(t *testing.T) {
	addr, _, store, spool := testServer(t)

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Hello("client.example.com"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if err := c.Mail("sender@elsewhere.org"); err != nil {
		t.Fatalf("Mail: %v", err)
	}
	if err := c.Rcpt("alice@example.org"); err != nil {
		t.Fatalf("Rcpt: %v", err)
	}
	w, err := c.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	if _, err := w.Write([]byte("Subject: hi\r\n\r\nHello.\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	c.Quit()

	if !testlib.WaitFor(func() bool { return spool.count() == 1 }, 2*time.Second) {
		t.Fatalf("message was never spooled")
	}
	if store.count() != 1 {
		t.Fatalf("expected 1 stored message, got %d", store.count())
	}
	if !strings.Contains(string(store.raws[0]), "Hello.") {
		t.Errorf("stored message missing body: %q", store.raws[0])
	}
}

func TestRelayDeniedWithoutAuth(t *testing.T) {
	addr, _, _, _ := testServer(t)

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Hello("client.example.com"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if err := c.Mail("sender@elsewhere.org"); err != nil {
		t.Fatalf("Mail: %v", err)
	}
	if err := c.Rcpt("bob@faraway.org"); err == nil {
		t.Fatalf("Rcpt to a remote domain should have been rejected unauthenticated")
	}
}

func TestRelayAllowedAfterAuth(t *testing.T) {
	addr, _, _, spool := testServer(t)

	tlsConfig := &tls.Config{InsecureSkipVerify: true}

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Hello("client.example.com"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if ok, _ := c.Extension("STARTTLS"); !ok {
		t.Fatalf("STARTTLS not advertised")
	}
	if err := c.StartTLS(tlsConfig); err != nil {
		t.Fatalf("StartTLS: %v", err)
	}
	if ok, _ := c.Extension("AUTH"); !ok {
		t.Fatalf("AUTH not advertised after STARTTLS")
	}

	auth := smtp.PlainAuth("", "alice", "hunter2", authHost(t, addr))
	if err := c.Auth(auth); err != nil {
		t.Fatalf("Auth: %v", err)
	}

	if err := c.Mail("alice@example.org"); err != nil {
		t.Fatalf("Mail: %v", err)
	}
	if err := c.Rcpt("bob@faraway.org"); err != nil {
		t.Fatalf("Rcpt to remote domain should be allowed once authenticated: %v", err)
	}
	w, err := c.Data()
	if err != nil {
		t.Fatalf("Data: %v", err)
	}
	w.Write([]byte("hi\r\n"))
	w.Close()
	c.Quit()

	if !testlib.WaitFor(func() bool { return spool.count() == 1 }, 2*time.Second) {
		t.Fatalf("message was never spooled")
	}
}

func TestBadAuthIsRejected(t *testing.T) {
	addr, _, _, _ := testServer(t)

	tlsConfig := &tls.Config{InsecureSkipVerify: true}

	c, err := smtp.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Hello("client.example.com"); err != nil {
		t.Fatalf("Hello: %v", err)
	}
	if err := c.StartTLS(tlsConfig); err != nil {
		t.Fatalf("StartTLS: %v", err)
	}

	auth := smtp.PlainAuth("", "alice", "wrongpassword", authHost(t, addr))
	if err := c.Auth(auth); err == nil {
		t.Fatalf("Auth with a wrong password should have failed")
	}
}
