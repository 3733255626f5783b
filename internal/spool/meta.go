// Package spool implements the outbound delivery engine: durable
// per-message metadata on disk, a lock manager serializing work per
// entry, a trigger coalescer deciding when to sweep, and the engine
// that drives retries and classifies per-recipient outcomes.
package spool

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/kestrelmail/esmtpd/internal/safeio"
)

// RcptDSNParams carries the per-recipient DSN parameters (NOTIFY, ORCPT)
// that survive from RCPT TO into the persisted metadata.
type RcptDSNParams struct {
	Notify []string `json:"notify,omitempty"`
	Orcpt  string   `json:"orcpt,omitempty"`
}

// Meta is the durable, round-trippable record for one spooled message.
// Unknown fields are ignored on read, so it's safe to add fields across
// versions without a migration step.
type Meta struct {
	ID            string   `json:"id"`
	Sender        string   `json:"sender"`
	Recipients    []string `json:"recipients"`
	MessageID     string   `json:"messageId"`
	Authenticated bool     `json:"authenticated"`
	PeerAddress   string   `json:"peerAddress"`

	DSNRet   string                   `json:"dsnRet,omitempty"`
	DSNEnvid string                   `json:"dsnEnvid,omitempty"`
	RcptDSN  map[string]RcptDSNParams `json:"rcptDsn,omitempty"`

	Attempt              int   `json:"attempt"`
	NextAttemptAtEpochMs int64 `json:"nextAttemptAtEpochMs"`

	// CreatedAtEpochMs isn't in the reference field list but is harmless
	// to carry: it's what lets a DSN report a real Arrival-Date instead
	// of "now" for a message that has been retried for hours.
	CreatedAtEpochMs int64 `json:"createdAtEpochMs,omitempty"`
}

const (
	rawSuffix  = ".eml"
	metaSuffix = ".meta.json"
)

func rawPath(dir, id string) string  { return filepath.Join(dir, id+rawSuffix) }
func metaPath(dir, id string) string { return filepath.Join(dir, id+metaSuffix) }

// initializeStore ensures the spool directory exists.
func initializeStore(dir string) error {
	return os.MkdirAll(dir, 0700)
}

// list returns the raw-message paths of every entry currently in the
// spool, in no particular order.
func list(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"+rawSuffix))
}

// idFromRawPath recovers an entry's id from a path returned by list.
func idFromRawPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), rawSuffix)
}

// scanPendingCount reports how many entries are currently in the spool.
func scanPendingCount(dir string) (int, error) {
	paths, err := list(dir)
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

// create atomically writes a new entry's raw message and metadata. If
// the metadata write fails, the raw message is removed so the entry
// never exists half-written.
func create(dir string, meta *Meta, raw []byte) error {
	if err := safeio.WriteFile(rawPath(dir, meta.ID), raw, 0600); err != nil {
		return err
	}
	if err := writeMeta(dir, meta); err != nil {
		os.Remove(rawPath(dir, meta.ID))
		return err
	}
	return nil
}

// writeMeta persists meta, overwriting any previous version.
func writeMeta(dir string, meta *Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return safeio.WriteFile(metaPath(dir, meta.ID), data, 0600)
}

// readMeta loads the metadata for id.
func readMeta(dir, id string) (*Meta, error) {
	data, err := os.ReadFile(metaPath(dir, id))
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// remove deletes both artifacts of an entry. The metadata is removed
// first: a crash between the two removals leaves an orphaned raw
// message with no metadata pointing at it, which is harmless and gets
// swept up by a future directory scan, rather than a metadata record
// pointing at bytes that no longer exist.
func remove(dir, id string) error {
	metaErr := os.Remove(metaPath(dir, id))
	rawErr := os.Remove(rawPath(dir, id))
	if metaErr != nil && !os.IsNotExist(metaErr) {
		return metaErr
	}
	if rawErr != nil && !os.IsNotExist(rawErr) {
		return rawErr
	}
	return nil
}
