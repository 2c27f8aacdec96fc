// Package events implements the audit event log (component I): a bounded
// in-memory ring, periodic flush-to-disk, rollover into timestamped
// archives once the ring fills, and a queryable archive index.
//
// Grounded on the teacher's store.InsertAuditLog (internal/store/store.go),
// which keeps a bounded audit log by purging rows past a row-count cap.
// This implementation generalizes that "bounded log" shape to file
// rollover (spec.md ties the cap to a fresh ring plus an archive file,
// not a row purge), and keeps modernc.org/sqlite for exactly the part the
// teacher's single-table design doesn't need: an index over archive files
// so reply_archives can filter/page without opening every archive.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"wired/internal/atomicfile"
)

// Noisy event kinds are deduplicated: a repeat from the same actor within
// the last few events is suppressed rather than appended (§4.I).
var noisyKinds = map[string]bool{
	"got_users": true,
	"got_info":  true,
}

const (
	ringCapacity    = 5000
	flushEvery      = 100
	dedupeWindow    = 5
)

// Event is one audit record (§3).
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      string            `json:"kind"`
	Nick      string            `json:"nick"`
	Login     string            `json:"login"`
	IP        string            `json:"ip"`
	Params    map[string]string `json:"params,omitempty"`
}

// Log is the event ring plus its on-disk flush file, archive rollover,
// and archive index (§4.I). One rwlock guards the ring, per §5.
type Log struct {
	mu       sync.RWMutex
	ring     []Event
	sinceFlush int
	dataDir  string
	db       *sql.DB

	onEvent func(Event) // fan-out to event-feed subscribers (component L)
}

// Open creates the event log rooted at dataDir (holding "events/current"
// and "events/<rfc3339>" archives) and opens (creating if absent) the
// archive index database.
func Open(dataDir string) (*Log, error) {
	eventsDir := filepath.Join(dataDir, "events")
	if err := os.MkdirAll(eventsDir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(eventsDir, "archive_index.db"))
	if err != nil {
		return nil, fmt.Errorf("events: open archive index: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS archives (
			path        TEXT PRIMARY KEY,
			from_ts     INTEGER NOT NULL,
			to_ts       INTEGER NOT NULL,
			event_count INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("events: create archive index: %w", err)
	}

	l := &Log{dataDir: eventsDir, db: db}
	if data, err := os.ReadFile(filepath.Join(eventsDir, "current")); err == nil {
		_ = json.Unmarshal(data, &l.ring) // best-effort; a corrupt file just starts empty
	}
	return l, nil
}

// SetOnEvent installs the fan-out callback invoked once per accepted
// (non-deduplicated) event, under the log's lock released.
func (l *Log) SetOnEvent(fn func(Event)) { l.onEvent = fn }

func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Add appends an event, applying the noisy-kind dedupe rule (§4.I): if the
// last up-to-5 events from the same actor already contain this kind and
// the kind is noisy, the event is suppressed and Add returns false.
func (l *Log) Add(kind, nick, login, ip string, params map[string]string) bool {
	l.mu.Lock()
	if noisyKinds[kind] {
		seen := 0
		for i := len(l.ring) - 1; i >= 0 && seen < dedupeWindow; i-- {
			e := l.ring[i]
			if e.Login != login {
				continue
			}
			seen++
			if e.Kind == kind {
				l.mu.Unlock()
				return false
			}
		}
	}
	ev := Event{Timestamp: time.Now(), Kind: kind, Nick: nick, Login: login, IP: ip, Params: params}
	l.ring = append(l.ring, ev)
	l.sinceFlush++
	rolled := len(l.ring) >= ringCapacity
	shouldFlush := l.sinceFlush >= flushEvery || rolled
	var toArchive []Event
	if rolled {
		toArchive = l.ring
		l.ring = nil
	}
	l.mu.Unlock()

	if shouldFlush && !rolled {
		_ = l.flush()
	}
	if rolled {
		_ = l.archive(toArchive)
	}
	if l.onEvent != nil {
		l.onEvent(ev)
	}
	return true
}

// flush writes the current ring to events/current via an atomic
// tempfile-then-rename write (§7).
func (l *Log) flush() error {
	l.mu.Lock()
	data, err := json.Marshal(l.ring)
	l.sinceFlush = 0
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return atomicfile.Write(filepath.Join(l.dataDir, "current"), data, 0o644)
}

// archive renames the full ring out to a timestamped file and records it
// in the archive index, then starts a fresh ring.
func (l *Log) archive(full []Event) error {
	if len(full) == 0 {
		return nil
	}
	name := full[0].Timestamp.UTC().Format(time.RFC3339)
	path := filepath.Join(l.dataDir, name)
	data, err := json.Marshal(full)
	if err != nil {
		return err
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return err
	}
	_ = os.Remove(filepath.Join(l.dataDir, "current"))

	from := full[0].Timestamp.Unix()
	to := full[len(full)-1].Timestamp.Unix()
	_, err = l.db.ExecContext(context.Background(),
		`INSERT OR REPLACE INTO archives(path, from_ts, to_ts, event_count) VALUES (?, ?, ?, ?)`,
		name, from, to, len(full))
	return err
}

// ReplyArchives enumerates archive filenames, most recent first.
func (l *Log) ReplyArchives() ([]string, error) {
	rows, err := l.db.QueryContext(context.Background(),
		`SELECT path FROM archives ORDER BY from_ts DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ReplyEvents streams one archive (by filename) or, if archive is empty,
// the current in-memory ring.
func (l *Log) ReplyEvents(archive string) ([]Event, error) {
	if archive == "" {
		l.mu.RLock()
		defer l.mu.RUnlock()
		out := make([]Event, len(l.ring))
		copy(out, l.ring)
		return out, nil
	}
	data, err := os.ReadFile(filepath.Join(l.dataDir, archive))
	if err != nil {
		return nil, err
	}
	var out []Event
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
