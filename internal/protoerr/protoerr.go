// Package protoerr defines the explicit, Result-returning error type used
// throughout the protocol engine: every layer that can fail the current
// SMTP command returns a *Reply instead of reaching for a free-form error
// and reverse-engineering a status code from it later.
package protoerr

import (
	"fmt"
	"io"
	"strings"
)

// Reply is an SMTP-level outcome: a three-digit code, an optional
// RFC 2034 enhanced status code, and a human-readable message. Msg may
// contain embedded newlines, in which case it is rendered as a
// multi-line response.
type Reply struct {
	Code     int
	Enhanced string
	Msg      string
}

// New builds a Reply from its parts. msg is stored as given; the enhanced
// code, when one is given, is put in front of it only when the Reply is
// rendered.
func New(code int, enhanced, msg string) *Reply {
	return &Reply{Code: code, Enhanced: enhanced, Msg: msg}
}

// Error implements the error interface.
func (r *Reply) Error() string {
	if r.Enhanced != "" {
		return fmt.Sprintf("%d %s %s", r.Code, r.Enhanced, r.Msg)
	}
	return fmt.Sprintf("%d %s", r.Code, r.Msg)
}

// Permanent reports whether this reply is a permanent (5xx) failure, as
// opposed to transient (4xx) or success (2xx/3xx).
func (r *Reply) Permanent() bool {
	return r.Code >= 500 && r.Code <= 599
}

// text returns the message to put on the wire, with the enhanced code
// prefixed onto the first line if present.
func (r *Reply) text() string {
	if r.Enhanced == "" {
		return r.Msg
	}
	lines := strings.SplitN(r.Msg, "\n", 2)
	lines[0] = r.Enhanced + " " + lines[0]
	return strings.Join(lines, "\n")
}

// WriteTo writes r to w as one or more CRLF-terminated SMTP response
// lines, using "<code>-<text>" for all but the last line and
// "<code> <text>" for the last, matching RFC 5321's multi-line reply
// format (and textproto.Reader.ReadResponse's expectations on the other
// end).
func (r *Reply) WriteTo(w io.Writer) (int64, error) {
	lines := strings.Split(r.text(), "\n")
	var n int64
	for i, line := range lines {
		sep := byte('-')
		if i == len(lines)-1 {
			sep = ' '
		}
		b := []byte(fmt.Sprintf("%d%c%s\r\n", r.Code, sep, line))
		wn, err := w.Write(b)
		n += int64(wn)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
