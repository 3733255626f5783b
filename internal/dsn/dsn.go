// Package dsn builds RFC 3464 delivery status notifications. It only
// assembles MIME, it never parses it: the spool engine hands it the
// recipients that failed and the raw bytes of the message that failed
// to reach them, and gets back a ready-to-enqueue bounce message.
package dsn

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"regexp"
	"time"
)

// maxOriginalMessage is the size cap on the message/rfc822 part when
// RET=FULL (or RET is absent, which defaults to full).
const maxOriginalMessage = 256 * 1024

// maxHeaderValue is the sanitized length cap for any header-interpolated
// value (address, reason string, envelope id).
const maxHeaderValue = 500

// FailedRecipient is one recipient a message permanently failed to
// reach.
type FailedRecipient struct {
	// Address is the recipient that failed, as it appeared in the
	// envelope.
	Address string

	// OriginalRecipient is the RCPT TO ORCPT parameter value, verbatim
	// (e.g. "rfc822;user@example.org"), or empty.
	OriginalRecipient string

	// Reason is a human-readable/SMTP-derived failure reason. If it
	// contains an enhanced status code (x.y.z) that code is reused as
	// the DSN Status field; otherwise Status defaults to 5.0.0.
	Reason string
}

// Params carries everything needed to compose one bounce message.
type Params struct {
	// ServerHostname names this host in Reporting-MTA and as the
	// MAILER-DAEMON sender domain.
	ServerHostname string

	// OriginalSender is the failed message's envelope sender; the
	// bounce is addressed to it.
	OriginalSender string

	// ArrivalDate is the failed message's original acceptance time.
	ArrivalDate time.Time

	// Envid is the DSN ENVID parameter from the original MAIL FROM, or
	// empty.
	Envid string

	// Ret is the DSN RET parameter from the original MAIL FROM
	// ("FULL", "HDRS", or empty, which is treated as FULL).
	Ret string

	// OriginalMessage is the raw bytes of the message that failed to
	// be delivered.
	OriginalMessage []byte

	// Failed lists the recipients that permanently failed.
	Failed []FailedRecipient
}

var enhancedStatusRe = regexp.MustCompile(`\b(\d\.\d\.\d+)\b`)

// Compose builds a complete RFC 3464 bounce message, ready to be
// enqueued with envelope sender "<>" and the single recipient
// p.OriginalSender.
func Compose(p Params) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("From", fmt.Sprintf("MAILER-DAEMON@%s", p.ServerHostname))
	header.Set("To", sanitize(p.OriginalSender))
	header.Set("Subject", "Undelivered Mail Returned to Sender")
	header.Set("Date", time.Now().Format(time.RFC1123Z))
	header.Set("Auto-Submitted", "auto-replied")
	header.Set("MIME-Version", "1.0")
	header.Set("Content-Type", fmt.Sprintf(`multipart/report; report-type="delivery-status"; boundary=%q`, w.Boundary()))

	if err := writeHeader(&buf, header); err != nil {
		return nil, err
	}

	if err := writeHumanPart(w, p); err != nil {
		return nil, err
	}
	if err := writeStatusPart(w, p); err != nil {
		return nil, err
	}
	if err := writeOriginalMessagePart(w, p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// writeHeader writes RFC 5322 top-level headers followed by a blank
// line, in a stable field order.
func writeHeader(buf *bytes.Buffer, header textproto.MIMEHeader) error {
	for _, k := range []string{"From", "To", "Subject", "Date", "Auto-Submitted", "MIME-Version", "Content-Type"} {
		fmt.Fprintf(buf, "%s: %s\r\n", k, header.Get(k))
	}
	buf.WriteString("\r\n")
	return nil
}

func writeHumanPart(w *multipart.Writer, p Params) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(part, "This is an automatically generated delivery status notification.\r\n\r\n")
	fmt.Fprintf(part, "Delivery to the following recipient(s) failed permanently:\r\n\r\n")
	for _, f := range p.Failed {
		fmt.Fprintf(part, "  %s\r\n", sanitize(f.Address))
		if f.Reason != "" {
			fmt.Fprintf(part, "    %s\r\n", sanitize(f.Reason))
		}
	}
	return nil
}

func writeStatusPart(w *multipart.Writer, p Params) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"message/delivery-status"},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(part, "Reporting-MTA: dns; %s\r\n", sanitize(p.ServerHostname))
	fmt.Fprintf(part, "Arrival-Date: %s\r\n", p.ArrivalDate.Format(time.RFC1123Z))
	if p.Envid != "" {
		fmt.Fprintf(part, "Original-Envelope-Id: %s\r\n", sanitize(p.Envid))
	}

	for _, f := range p.Failed {
		part.Write([]byte("\r\n"))
		fmt.Fprintf(part, "Final-Recipient: rfc822; %s\r\n", sanitize(f.Address))
		if f.OriginalRecipient != "" {
			fmt.Fprintf(part, "Original-Recipient: %s\r\n", sanitize(f.OriginalRecipient))
		}
		fmt.Fprintf(part, "Action: failed\r\n")
		fmt.Fprintf(part, "Status: %s\r\n", status(f.Reason))
		fmt.Fprintf(part, "Diagnostic-Code: smtp; %s\r\n", sanitize(f.Reason))
	}
	return nil
}

func writeOriginalMessagePart(w *multipart.Writer, p Params) error {
	headersOnly := p.Ret == "HDRS"

	contentType := "message/rfc822"
	if headersOnly {
		contentType = "text/rfc822-headers"
	}
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type": {contentType},
	})
	if err != nil {
		return err
	}

	body := p.OriginalMessage
	if headersOnly {
		if idx := bytes.Index(body, []byte("\r\n\r\n")); idx >= 0 {
			body = body[:idx]
		} else if idx := bytes.Index(body, []byte("\n\n")); idx >= 0 {
			body = body[:idx]
		}
	}
	if len(body) > maxOriginalMessage {
		body = body[:maxOriginalMessage]
	}

	_, err = part.Write(body)
	return err
}

// status extracts an enhanced status code from reason, defaulting to
// 5.0.0 (a generic permanent failure) when none is present.
func status(reason string) string {
	if m := enhancedStatusRe.FindStringSubmatch(reason); m != nil {
		return m[1]
	}
	return "5.0.0"
}

// sanitize strips CR/LF from a value destined for a header field and
// truncates it, so a malicious or malformed reason/address can't inject
// extra header lines or blow up the bounce size.
func sanitize(s string) string {
	s = stripCRLF(s)
	if len(s) > maxHeaderValue {
		s = s[:maxHeaderValue]
	}
	return s
}

func stripCRLF(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
