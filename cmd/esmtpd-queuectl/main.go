// esmtpd-queuectl is a command-line utility for inspecting and managing
// an esmtpd spool directory directly on disk, without talking to a
// running daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const usage = `
Usage:
  esmtpd-queuectl [options] list
    List every entry currently in the spool.
  esmtpd-queuectl [options] show <id>
    Show the metadata for one spool entry.
  esmtpd-queuectl [options] requeue <id>
    Clear an entry's backoff, so the next sweep retries it immediately.
  esmtpd-queuectl [options] remove <id>
    Remove an entry and its raw message from the spool.

Options:
  -d=<path>, --spool-dir=<path>  Spool directory [default: /var/spool/esmtpd]
`

// args holds parsed command-line arguments: "$POS" -> positional value,
// "--flag" -> flag value (empty string if given without "=value").
var args map[string]string

func main() {
	args = parseArgs(usage)

	if _, ok := args["--help"]; ok {
		fmt.Print(usage)
		return
	}

	spoolDir := "/var/spool/esmtpd"
	if d, ok := args["--spool-dir"]; ok {
		spoolDir = d
	}
	if d, ok := args["-d"]; ok {
		spoolDir = d
	}

	commands := map[string]func(dir string){
		"list":    listEntries,
		"show":    showEntry,
		"requeue": requeueEntry,
		"remove":  removeEntry,
	}

	cmd := args["$1"]
	f, ok := commands[cmd]
	if !ok {
		fmt.Printf("Unknown argument %q\n", cmd)
		Fatalf(usage)
	}
	f(spoolDir)
}

// meta mirrors internal/spool.Meta's on-disk JSON shape. It's redefined
// here (rather than importing internal/spool) so this tool only ever
// reads a spool directory, never links against the engine that writes
// to it.
type meta struct {
	ID                   string   `json:"id"`
	Sender               string   `json:"sender"`
	Recipients           []string `json:"recipients"`
	MessageID            string   `json:"messageId"`
	Authenticated        bool     `json:"authenticated"`
	PeerAddress          string   `json:"peerAddress"`
	DSNRet               string   `json:"dsnRet,omitempty"`
	DSNEnvid             string   `json:"dsnEnvid,omitempty"`
	Attempt              int      `json:"attempt"`
	NextAttemptAtEpochMs int64    `json:"nextAttemptAtEpochMs"`
	CreatedAtEpochMs     int64    `json:"createdAtEpochMs,omitempty"`

	// RcptDSN is kept verbatim so that requeue writes it back unchanged.
	RcptDSN map[string]json.RawMessage `json:"rcptDsn,omitempty"`
}

func metaPath(dir, id string) string { return filepath.Join(dir, id+".meta.json") }
func rawPath(dir, id string) string  { return filepath.Join(dir, id+".eml") }

func loadMeta(dir, id string) (*meta, error) {
	data, err := os.ReadFile(metaPath(dir, id))
	if err != nil {
		return nil, err
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func listIDs(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.eml"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".eml"))
	}
	sort.Strings(ids)
	return ids, nil
}

// esmtpd-queuectl list
func listEntries(dir string) {
	ids, err := listIDs(dir)
	if err != nil {
		Fatalf("Error listing spool: %v", err)
	}
	if len(ids) == 0 {
		fmt.Println("(spool is empty)")
		return
	}

	for _, id := range ids {
		m, err := loadMeta(dir, id)
		if err != nil {
			fmt.Printf("%s  <error reading metadata: %v>\n", id, err)
			continue
		}
		due := "due now"
		if at := time.UnixMilli(m.NextAttemptAtEpochMs); at.After(time.Now()) {
			due = "next at " + at.Format(time.RFC3339)
		}
		fmt.Printf("%s  from=%s  to=%v  attempt=%d  %s\n",
			id, m.Sender, m.Recipients, m.Attempt, due)
	}
}

// esmtpd-queuectl show <id>
func showEntry(dir string) {
	id := requireID()
	m, err := loadMeta(dir, id)
	if err != nil {
		Fatalf("Error reading entry %q: %v", id, err)
	}

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		Fatalf("Error formatting entry: %v", err)
	}
	fmt.Println(string(out))

	if fi, err := os.Stat(rawPath(dir, id)); err == nil {
		fmt.Printf("raw message: %d bytes\n", fi.Size())
	}
}

// esmtpd-queuectl requeue <id>
func requeueEntry(dir string) {
	id := requireID()
	m, err := loadMeta(dir, id)
	if err != nil {
		Fatalf("Error reading entry %q: %v", id, err)
	}

	m.NextAttemptAtEpochMs = 0
	data, err := json.Marshal(m)
	if err != nil {
		Fatalf("Error encoding entry: %v", err)
	}
	if err := os.WriteFile(metaPath(dir, id), data, 0600); err != nil {
		Fatalf("Error writing entry: %v", err)
	}
	fmt.Println("Requeued")
}

// esmtpd-queuectl remove <id>
func removeEntry(dir string) {
	id := requireID()
	metaErr := os.Remove(metaPath(dir, id))
	rawErr := os.Remove(rawPath(dir, id))
	if metaErr != nil && !os.IsNotExist(metaErr) {
		Fatalf("Error removing metadata: %v", metaErr)
	}
	if rawErr != nil && !os.IsNotExist(rawErr) {
		Fatalf("Error removing raw message: %v", rawErr)
	}
	fmt.Println("Removed")
}

func requireID() string {
	id, ok := args["$2"]
	if !ok || id == "" {
		Fatalf("Missing <id> argument")
	}
	return id
}

// Fatalf prints the given message to stderr, then exits the program with
// an error code.
func Fatalf(s string, arg ...interface{}) {
	fmt.Fprintf(os.Stderr, s+"\n", arg...)
	os.Exit(1)
}

// parseArgs parses the command line arguments into a map. Arguments
// starting with "-" are key-value pairs ("--spool-dir=/x" -> {"--spool-dir":
// "/x"}); everything else is positional ("$1", "$2", ...).
func parseArgs(usage string) map[string]string {
	a := map[string]string{}

	pos := 1
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-") {
			sp := strings.SplitN(arg, "=", 2)
			if len(sp) < 2 {
				a[sp[0]] = ""
			} else {
				a[sp[0]] = sp[1]
			}
		} else {
			a["$"+strconv.Itoa(pos)] = arg
			pos++
		}
	}

	return a
}
