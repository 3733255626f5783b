package protoerr

import (
	"bytes"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	r := New(550, "5.7.1", "Relaying denied")
	if got, want := r.Error(), "550 5.7.1 Relaying denied"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestPermanent(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{250, false},
		{421, false},
		{500, true},
		{550, true},
		{599, true},
		{600, false},
	}
	for _, c := range cases {
		r := &Reply{Code: c.code}
		if got := r.Permanent(); got != c.want {
			t.Errorf("code %d: got %v, want %v", c.code, got, c.want)
		}
	}
}

func TestWriteToSingleLine(t *testing.T) {
	r := New(250, "2.1.0", "Ok")
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if got, want := buf.String(), "250 2.1.0 Ok\r\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWriteToMultiLine(t *testing.T) {
	r := &Reply{Code: 250, Msg: "first\nsecond\nthird"}
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	want := "250-first\r\n250-second\r\n250 third\r\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWriteToEnhancedOnlyFirstLine(t *testing.T) {
	r := New(550, "5.7.1", "line one\nline two")
	var buf bytes.Buffer
	if _, err := r.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got := buf.String()
	if !strings.HasPrefix(got, "550-5.7.1 line one\r\n") {
		t.Errorf("unexpected first line: %q", got)
	}
	if !strings.Contains(got, "550 line two\r\n") {
		t.Errorf("unexpected last line: %q", got)
	}
}
