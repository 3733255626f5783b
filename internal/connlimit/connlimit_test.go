package connlimit

import (
	"testing"
	"time"
)

func TestAllowConnectionCap(t *testing.T) {
	l := New(Config{MaxConnectionsPerIP: 2})

	if !l.AllowConnection("1.2.3.4") {
		t.Fatalf("1st connection should be allowed")
	}
	if !l.AllowConnection("1.2.3.4") {
		t.Fatalf("2nd connection should be allowed")
	}
	if l.AllowConnection("1.2.3.4") {
		t.Fatalf("3rd connection should be rejected")
	}

	// A different peer has its own counter.
	if !l.AllowConnection("5.6.7.8") {
		t.Fatalf("different peer should not share the cap")
	}
}

func TestReleaseConnectionFreesSlot(t *testing.T) {
	l := New(Config{MaxConnectionsPerIP: 1})

	if !l.AllowConnection("1.2.3.4") {
		t.Fatalf("1st connection should be allowed")
	}
	if l.AllowConnection("1.2.3.4") {
		t.Fatalf("2nd connection should be rejected")
	}

	l.ReleaseConnection("1.2.3.4")
	if !l.AllowConnection("1.2.3.4") {
		t.Fatalf("connection should be allowed again after release")
	}
}

func TestRejectedConnectionDoesNotNeedRelease(t *testing.T) {
	l := New(Config{MaxConnectionsPerIP: 1})
	l.AllowConnection("1.2.3.4")
	l.AllowConnection("1.2.3.4") // rejected, counter must not have incremented

	l.ReleaseConnection("1.2.3.4")
	if !l.AllowConnection("1.2.3.4") {
		t.Fatalf("expected the single slot to be free after one release")
	}
}

func TestZeroCapDisablesCheck(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 1000; i++ {
		if !l.AllowConnection("1.2.3.4") {
			t.Fatalf("a zero cap should never reject")
		}
	}
}

func TestAllowMessageHourlyWindow(t *testing.T) {
	l := New(Config{MaxMessagesPerIPPerHour: 2})

	if !l.AllowMessage("1.2.3.4") {
		t.Fatalf("1st message should be allowed")
	}
	if !l.AllowMessage("1.2.3.4") {
		t.Fatalf("2nd message should be allowed")
	}
	if l.AllowMessage("1.2.3.4") {
		t.Fatalf("3rd message should be rejected")
	}
}

func TestAllowMessageWindowPruning(t *testing.T) {
	l := New(Config{MaxMessagesPerIPPerHour: 1})
	l.peers = map[string]*peerState{
		"1.2.3.4": {messages: []time.Time{time.Now().Add(-2 * time.Hour)}},
	}
	if !l.AllowMessage("1.2.3.4") {
		t.Fatalf("stale message outside the window should not count")
	}
}
