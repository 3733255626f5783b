package session

import (
	"bytes"
	"encoding/base64"
	"fmt"
)

// DecodePlainResponse decodes a SASL PLAIN initial response (RFC 4954
// §4, RFC 4616): base64 of "authzid NUL authcid NUL passwd". authzid
// may be empty.
func DecodePlainResponse(response string) (authzid, authcid, passwd string, err error) {
	buf, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		return "", "", "", err
	}

	parts := bytes.SplitN(buf, []byte{0}, 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("SASL PLAIN response must have 3 NUL-separated fields, got %d", len(parts))
	}

	return string(parts[0]), string(parts[1]), string(parts[2]), nil
}

// DecodeBase64Line decodes a single base64-encoded line, as used for
// each step of the SASL LOGIN challenge/response exchange.
func DecodeBase64Line(line string) (string, error) {
	buf, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// EncodeLoginAsPlain folds a SASL LOGIN exchange's two responses into a
// single PLAIN-style response, so the caller only needs one decode path
// regardless of which mechanism the client used.
func EncodeLoginAsPlain(user, pass string) string {
	buf := make([]byte, 0, len(user)*2+len(pass)+2)
	buf = append(buf, user...)
	buf = append(buf, 0)
	buf = append(buf, user...)
	buf = append(buf, 0)
	buf = append(buf, pass...)
	return base64.StdEncoding.EncodeToString(buf)
}
