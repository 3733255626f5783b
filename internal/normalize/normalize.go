// Package normalize contains functions to normalize usernames, domains and
// addresses.
package normalize

import (
	"bytes"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/secure/precis"

	"github.com/kestrelmail/esmtpd/internal/envelope"
)

// User normalizes a username using PRECIS.
// On error, it will also return the original username to simplify callers.
func User(user string) (string, error) {
	norm, err := precis.UsernameCaseMapped.String(user)
	if err != nil {
		return user, err
	}

	return norm, nil
}

// Domain normalizes a domain name, converting it to Unicode (from IDNA
// ASCII/"punycode" form, if needed) and lower-casing it.
// On error, it will also return the original domain to simplify callers.
func Domain(domain string) (string, error) {
	u, err := idna.ToUnicode(domain)
	if err != nil {
		return domain, err
	}
	return strings.ToLower(u), nil
}

// Addr normalizes an email address using PRECIS for the user part, and
// leaves the domain untouched.
// On error, it will also return the original address to simplify callers.
func Addr(addr string) (string, error) {
	user, domain := envelope.Split(addr)

	user, err := User(user)
	if err != nil {
		return addr, err
	}

	return user + "@" + domain, nil
}

// DomainToUnicode takes a full "user@domain" address and returns it with the
// domain part normalized via Domain, leaving the user part untouched.
// An address without a domain is returned as is.
func DomainToUnicode(addr string) (string, error) {
	user, domain := envelope.Split(addr)
	if domain == "" {
		return addr, nil
	}

	domain, err := Domain(domain)
	if err != nil {
		return addr, err
	}

	return user + "@" + domain, nil
}

// ToCRLF rewrites data so that all line endings are CRLF, converting lone
// LFs as needed. Stored messages can mix line endings (DATA lines are kept
// with CRLF, while headers prepended via envelope.AddHeader end in a bare
// LF); couriers that shell out to external binaries expect RFC-5322-compliant
// CRLF throughout.
func ToCRLF(data []byte) []byte {
	if !bytes.Contains(data, []byte{'\n'}) {
		return data
	}

	out := make([]byte, 0, len(data)+len(data)/8)
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == '\n' && (i == 0 || data[i-1] != '\r') {
			out = append(out, '\r', '\n')
			continue
		}
		out = append(out, b)
	}
	return out
}
