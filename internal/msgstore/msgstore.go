// Package msgstore implements the message store boundary: turning the
// raw bytes accumulated during DATA/BDAT into a persisted RFC 5322
// message file with a Received trace header and, when missing, a
// synthesized Date/Message-ID.
package msgstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelmail/esmtpd/internal/envelope"
	"github.com/kestrelmail/esmtpd/internal/safeio"
)

// Store persists received messages as individual files under Dir, named
// "<id>.eml".
type Store struct {
	Dir string
}

// New returns a Store writing under dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

// StoreRFC822 prepends receivedHeader as a "Received:" header to raw,
// synthesizes Date/Message-ID if the message doesn't already carry them,
// and writes the result atomically to "<id>.eml" under the store
// directory. senderDomain is used as the host part of a synthesized
// Message-ID when the sender has none (falls back to "localhost"). On
// any failure, no partial file is left behind.
func (s *Store) StoreRFC822(id, receivedHeader, senderDomain string, raw []byte) (path string, err error) {
	data := envelope.AddHeader(raw, "Received", receivedHeader)

	header, _ := splitHeader(data)
	if !hasHeader(header, "Date") {
		data = envelope.AddHeader(data, "Date", time.Now().Format(time.RFC1123Z))
	}
	if !hasHeader(header, "Message-ID") {
		host := senderDomain
		if host == "" {
			host = "localhost"
		}
		data = envelope.AddHeader(data, "Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), host))
	}

	path = filepath.Join(s.Dir, id+".eml")
	if err := safeio.WriteFile(path, data, 0600); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// splitHeader returns the header section of an RFC 5322 message (bytes
// before the first CRLF-CRLF, falling back to LF-LF) and whatever
// follows it.
func splitHeader(data []byte) (header, rest []byte) {
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		return data[:i], data[i+4:]
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return data[:i], data[i+2:]
	}
	return data, nil
}

// hasHeader reports whether header contains a field with the given
// name, case-insensitively, at the start of a line.
func hasHeader(header []byte, name string) bool {
	lines := bytes.Split(header, []byte("\n"))
	prefix := []byte(name + ":")
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 || line[0] == ' ' || line[0] == '\t' {
			continue // continuation of a folded header
		}
		if len(line) >= len(prefix) && bytes.EqualFold(line[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}
