package msgstore

import (
	"os"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "msgstore-test")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return New(dir)
}

func TestStoreRFC822PrependsReceived(t *testing.T) {
	s := newTestStore(t)
	raw := []byte("Subject: hi\r\nDate: Mon, 01 Jan 2024 00:00:00 +0000\r\nMessage-ID: <a@b>\r\n\r\nbody\r\n")

	path, err := s.StoreRFC822("msg1", "from x by y; now", "example.com", raw)
	if err != nil {
		t.Fatalf("StoreRFC822: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.HasPrefix(string(data), "Received: from x by y; now\n") {
		t.Errorf("missing Received header: %q", string(data))
	}
	// Pre-existing Date/Message-ID must not be duplicated.
	if strings.Count(string(data), "Date:") != 1 {
		t.Errorf("Date header duplicated: %q", string(data))
	}
	if strings.Count(string(data), "Message-ID:") != 1 {
		t.Errorf("Message-ID header duplicated: %q", string(data))
	}
}

func TestStoreRFC822SynthesizesMissingHeaders(t *testing.T) {
	s := newTestStore(t)
	raw := []byte("Subject: hi\r\n\r\nbody\r\n")

	path, err := s.StoreRFC822("msg2", "from x", "example.com", raw)
	if err != nil {
		t.Fatalf("StoreRFC822: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "Date:") {
		t.Errorf("expected synthesized Date header: %q", string(data))
	}
	if !strings.Contains(string(data), "Message-ID: <") || !strings.Contains(string(data), "@example.com>") {
		t.Errorf("expected synthesized Message-ID with sender domain: %q", string(data))
	}
}

func TestStoreRFC822FallsBackToLocalhost(t *testing.T) {
	s := newTestStore(t)
	raw := []byte("Subject: hi\r\n\r\nbody\r\n")

	path, err := s.StoreRFC822("msg3", "from x", "", raw)
	if err != nil {
		t.Fatalf("StoreRFC822: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "@localhost>") {
		t.Errorf("expected localhost fallback: %q", string(data))
	}
}

func TestHasHeaderIgnoresFoldedContinuations(t *testing.T) {
	header := []byte("Subject: hi\r\n there\r\nX-Foo: bar")
	if hasHeader(header, "there") {
		t.Errorf("a folded continuation line must not be treated as its own header")
	}
	if !hasHeader(header, "Subject") {
		t.Errorf("expected to find Subject header")
	}
}

func TestSplitHeaderLFOnlyFallback(t *testing.T) {
	data := []byte("Subject: hi\n\nbody")
	header, rest := splitHeader(data)
	if string(header) != "Subject: hi" || string(rest) != "body" {
		t.Errorf("got header=%q rest=%q", header, rest)
	}
}
