package session

import (
	"net"
	"testing"

	"github.com/kestrelmail/esmtpd/internal/protoerr"
)

func newTestSession() *Session {
	return New("s1", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")}, "mx.example.com")
}

func TestGreet(t *testing.T) {
	s := newTestSession()
	s.Greet("client.example.com", true)
	if !s.Greeted || !s.UsedEHLO || s.HeloDomain != "client.example.com" {
		t.Errorf("got %+v", s)
	}
}

func TestStartTLSForcesReGreeting(t *testing.T) {
	s := newTestSession()
	s.Greet("client.example.com", true)
	s.Txn.Sender = "a@b.com"
	s.MailSet = true

	s.StartTLS()

	if !s.TLSActive || !s.MustReEHLO || s.Greeted {
		t.Errorf("got %+v", s)
	}
	if s.MailSet || s.Txn.Sender != "" {
		t.Errorf("transaction should be reset: %+v", s.Txn)
	}
}

func TestResetTransactionPreservesGreeting(t *testing.T) {
	s := newTestSession()
	s.Greet("client.example.com", false)
	s.Authenticate("bob")
	s.MailSet = true
	s.Txn.Sender = "a@b.com"

	s.ResetTransaction()

	if !s.Greeted || !s.Authenticated {
		t.Errorf("greeting/auth should survive RSET: %+v", s)
	}
	if s.MailSet || s.Txn.Sender != "" {
		t.Errorf("transaction should be cleared: %+v", s.Txn)
	}
}

func TestChainOrdering(t *testing.T) {
	order := []int{}
	c := NewChain(
		recordingPolicy{order: 50, rec: &order},
		recordingPolicy{order: 0, rec: &order},
		recordingPolicy{order: 10, rec: &order},
	)
	c.Check(&Request{Session: newTestSession(), Verb: "NOOP"})
	want := []int{0, 10, 50}
	if len(order) != len(want) {
		t.Fatalf("got %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("got %v, want %v", order, want)
		}
	}
}

type recordingPolicy struct {
	order int
	rec   *[]int
}

func (r recordingPolicy) Order() int { return r.order }
func (r recordingPolicy) Check(req *Request) *protoerr.Reply {
	*r.rec = append(*r.rec, r.order)
	return nil
}
