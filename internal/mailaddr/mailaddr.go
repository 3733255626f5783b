// Package mailaddr parses the MAIL FROM and RCPT TO command arguments:
// the reverse-path/forward-path and their ESMTP parameters.
package mailaddr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"github.com/kestrelmail/esmtpd/internal/envelope"
	"github.com/kestrelmail/esmtpd/internal/protoerr"
)

// maxParams is the cap on ESMTP parameters accepted per command.
const maxParams = 10

var allowedParams = map[string]bool{
	"SIZE": true, "BODY": true, "SMTPUTF8": true, "AUTH": true,
	"RET": true, "ENVID": true, "NOTIFY": true, "ORCPT": true,
}

// MailFromParams is the parsed result of a MAIL FROM command.
type MailFromParams struct {
	Address  string // normalized; "" for a null reverse-path ("<>")
	Null     bool   // true if the reverse-path was "<>"
	Size     int64
	Body     string // "", "7BIT", "8BITMIME" or "BINARYMIME"
	SMTPUTF8 bool
	Auth     string
	Ret      string // "", "FULL" or "HDRS"
	Envid    string
}

// RcptToParams is the parsed result of a RCPT TO command.
type RcptToParams struct {
	Address string // normalized
	Notify  []string
	Orcpt   string
}

// ParseMailFrom parses the argument of a MAIL command, i.e. everything
// after the verb: "FROM:<addr> [param=value ...]".
func ParseMailFrom(arg string) (*MailFromParams, error) {
	path, rest, err := splitPathAndParams(arg, "FROM:")
	if err != nil {
		return nil, err
	}

	kvs, err := parseParams(rest)
	if err != nil {
		return nil, err
	}

	p := &MailFromParams{}
	for _, kv := range kvs {
		name, value := kv[0], kv[1]
		switch name {
		case "SIZE":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return nil, protoerr.New(501, "5.5.4", "Invalid SIZE parameter")
			}
			p.Size = n
		case "BODY":
			v := strings.ToUpper(value)
			if v != "7BIT" && v != "8BITMIME" && v != "BINARYMIME" {
				return nil, protoerr.New(501, "5.5.4", "Invalid BODY parameter")
			}
			p.Body = v
		case "SMTPUTF8":
			p.SMTPUTF8 = true
		case "AUTH":
			p.Auth = value
		case "RET":
			v := strings.ToUpper(value)
			if v != "FULL" && v != "HDRS" {
				return nil, protoerr.New(501, "5.5.4", "Invalid RET parameter")
			}
			p.Ret = v
		case "ENVID":
			p.Envid = value
		case "NOTIFY", "ORCPT":
			return nil, protoerr.New(501, "5.5.4", name+" is not valid on MAIL FROM")
		}
	}

	if path == "" {
		p.Null = true
		return p, nil
	}

	addr, err := normalizeAddress(path)
	if err != nil {
		return nil, err
	}
	p.Address = addr
	return p, nil
}

// ParseRcptTo parses the argument of a RCPT command, i.e. everything
// after the verb: "TO:<addr> [param=value ...]".
func ParseRcptTo(arg string) (*RcptToParams, error) {
	path, rest, err := splitPathAndParams(arg, "TO:")
	if err != nil {
		return nil, err
	}

	kvs, err := parseParams(rest)
	if err != nil {
		return nil, err
	}

	p := &RcptToParams{}
	for _, kv := range kvs {
		name, value := kv[0], kv[1]
		switch name {
		case "NOTIFY":
			for _, v := range strings.Split(value, ",") {
				v = strings.ToUpper(strings.TrimSpace(v))
				switch v {
				case "NEVER", "SUCCESS", "FAILURE", "DELAY":
				default:
					return nil, protoerr.New(501, "5.5.4", "Invalid NOTIFY parameter")
				}
				p.Notify = append(p.Notify, v)
			}
		case "ORCPT":
			p.Orcpt = value
		case "SIZE", "BODY", "SMTPUTF8", "AUTH", "RET", "ENVID":
			return nil, protoerr.New(501, "5.5.4", name+" is not valid on RCPT TO")
		}
	}

	if path == "" {
		return nil, protoerr.New(501, "5.1.3", "Recipient address malformed")
	}

	if _, domain := envelope.Split(path); domain == "" {
		return nil, protoerr.New(553, "5.1.3", "Empty RCPT domain")
	}

	addr, err := normalizeAddress(path)
	if err != nil {
		return nil, err
	}
	p.Address = addr
	return p, nil
}

// splitPathAndParams splits "PREFIX<path> p1=v1 p2=v2" (or the
// bracket-less "PREFIXpath p1=v1" form some clients send) into the path
// (brackets stripped) and the raw parameter string.
func splitPathAndParams(arg, prefix string) (path, rest string, err error) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", "", protoerr.New(501, "5.5.4", "Syntax error in parameters")
	}
	arg = arg[len(prefix):]
	if strings.ContainsAny(arg, "\r\n") {
		return "", "", protoerr.New(500, "5.5.2", "Syntax error")
	}

	if strings.HasPrefix(arg, "<") {
		end := strings.IndexByte(arg, '>')
		if end < 0 {
			return "", "", protoerr.New(501, "5.5.4", "Malformed path: missing '>'")
		}
		path = arg[1:end]
		rest = strings.TrimSpace(arg[end+1:])
		return path, rest, nil
	}

	path, rest, _ = strings.Cut(arg, " ")
	return path, strings.TrimSpace(rest), nil
}

// parseParams splits a raw "NAME=value NAME=value" string into uppercased
// name/value pairs, enforcing the parameter count cap and the allow-list.
func parseParams(s string) ([][2]string, error) {
	fields := strings.Fields(s)
	if len(fields) > maxParams {
		return nil, protoerr.New(501, "5.5.4", "Too many parameters")
	}

	out := make([][2]string, 0, len(fields))
	for _, f := range fields {
		name, value, _ := strings.Cut(f, "=")
		name = strings.ToUpper(name)
		if !allowedParams[name] {
			return nil, protoerr.New(555, "5.5.4", fmt.Sprintf("Unsupported parameter: %s", name))
		}
		out = append(out, [2]string{name, value})
	}
	return out, nil
}

// normalizeAddress validates and normalizes a non-empty path: rejects
// CR/LF (header/command injection), requires a domain part, validates
// the local part as UTF-8, and lower-cases+IDNA-ToASCII the domain part.
func normalizeAddress(path string) (string, error) {
	if strings.ContainsAny(path, "\r\n") {
		return "", protoerr.New(501, "5.1.7", "Address malformed")
	}

	user, domain := envelope.Split(path)
	if domain == "" {
		return "", protoerr.New(501, "5.1.8", "Address must contain a domain")
	}
	if !utf8.ValidString(user) {
		return "", protoerr.New(501, "5.6.7", "Local part is not valid UTF-8")
	}
	// https://tools.ietf.org/html/rfc5321#section-4.5.3.1.3
	if len(path) > 256 {
		return "", protoerr.New(501, "5.1.7", "Address too long")
	}

	asciiDomain, err := idna.ToASCII(strings.ToLower(domain))
	if err != nil {
		return "", protoerr.New(501, "5.1.8", "Malformed domain (IDNA conversion failed)")
	}

	return user + "@" + asciiDomain, nil
}
