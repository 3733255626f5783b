package relay

import (
	"bytes"
	"io/ioutil"
	"os"
	"testing"
	"time"
)

func TestMDA(t *testing.T) {
	dir, err := ioutil.TempDir("", "test-esmtpd-relay")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(dir)

	p := MDARelay{
		Binary:  "tee",
		Args:    []string{dir + "/%to_user%"},
		Timeout: 1 * time.Minute,
	}

	err, _ = p.Deliver("from@x", "to@local", []byte("data"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	data, err := ioutil.ReadFile(dir + "/to")
	if err != nil || !bytes.Equal(data, []byte("data")) {
		t.Errorf("Invalid data: %q - %v", string(data), err)
	}
}

func TestMDATimeout(t *testing.T) {
	p := MDARelay{Binary: "/bin/sleep", Args: []string{"1"}, Timeout: 100 * time.Millisecond}

	err, _ := p.Deliver("from", "to@local", []byte("data"))
	if err != errTimeout {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestMDABadCommandLine(t *testing.T) {
	// Non-existent binary.
	p := MDARelay{Binary: "thisdoesnotexist", Timeout: 1 * time.Minute}
	err, _ := p.Deliver("from", "to", []byte("data"))
	if err == nil {
		t.Errorf("unexpected success for non-existent binary")
	}

	// Incorrect arguments.
	p = MDARelay{Binary: "cat", Args: []string{"--fail_unknown_option"}, Timeout: 1 * time.Minute}
	err, _ = p.Deliver("from", "to", []byte("data"))
	if err == nil {
		t.Errorf("unexpected success for incorrect arguments")
	}
}

func TestMDAExitCode75IsTransient(t *testing.T) {
	p := MDARelay{Binary: "/bin/sh", Args: []string{"-c", "exit 75"}, Timeout: 1 * time.Minute}
	err, permanent := p.Deliver("from", "to", []byte("data"))
	if err == nil {
		t.Fatalf("expected failure from exit 75")
	}
	if permanent {
		t.Errorf("expected transient failure for exit code 75, got permanent")
	}
}

func TestMDAOtherExitCodeIsPermanent(t *testing.T) {
	p := MDARelay{Binary: "/bin/sh", Args: []string{"-c", "exit 1"}, Timeout: 1 * time.Minute}
	err, permanent := p.Deliver("from", "to", []byte("data"))
	if err == nil {
		t.Fatalf("expected failure from exit 1")
	}
	if !permanent {
		t.Errorf("expected permanent failure for exit code 1, got transient")
	}
}

func TestSanitizeForMDA(t *testing.T) {
	cases := []struct{ v, expected string }{
		{"thisisfine", "thisisfine"},
		{"123-456_789", "123-456_789"},
		{"123+456~789", "123+456~789"},

		{"with spaces", "withspaces"},
		{"with/slash", "withslash"},
		{"quote';andsemicolon", "quoteandsemicolon"},
		{"a;b", "ab"},
		{`"test"`, "test"},
	}
	for _, c := range cases {
		out := sanitizeForMDA(c.v)
		if out != c.expected {
			t.Errorf("%q: expected %q, got %q", c.v, c.expected, out)
		}
	}
}
