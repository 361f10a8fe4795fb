// internal/game/journal.go
package game

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"time"

	"github.com/oklog/ulid/v2"
)

// JournalEntry is one broadcast state delta, kept so a resuming client can catch up.
type JournalEntry struct {
	ID      string          `json:"eventId"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"event"`
}

// Journal is a bounded, ordered ring of recent deltas. Ids are ULIDs, so lexical order is
// append order. Not safe for concurrent use.
type Journal struct {
	size    int
	entries []JournalEntry
	entropy io.Reader
}

func NewJournal(size int) *Journal {
	if size < 1 {
		size = 256
	}
	return &Journal{
		size:    size,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Append records payload at time at and returns the stored entry.
func (j *Journal) Append(at time.Time, payload json.RawMessage) JournalEntry {
	ms := ulid.Timestamp(at)
	if n := len(j.entries); n > 0 {
		// Never step behind the tail, even if the clock did.
		if tail := ulid.MustParse(j.entries[n-1].ID).Time(); ms < tail {
			ms = tail
		}
	}
	id := ulid.MustNew(ms, j.entropy).String()
	e := JournalEntry{ID: id, At: at, Payload: payload}
	if len(j.entries) == j.size {
		copy(j.entries, j.entries[1:])
		j.entries[len(j.entries)-1] = e
	} else {
		j.entries = append(j.entries, e)
	}
	return e
}

// After returns entries newer than lastID. An empty lastID yields nothing.
func (j *Journal) After(lastID string) []JournalEntry {
	if lastID == "" {
		return nil
	}
	var out []JournalEntry
	for _, e := range j.entries {
		if e.ID > lastID {
			out = append(out, e)
		}
	}
	return out
}

// Since returns entries recorded strictly after t.
func (j *Journal) Since(t time.Time) []JournalEntry {
	var out []JournalEntry
	for _, e := range j.entries {
		if e.At.After(t) {
			out = append(out, e)
		}
	}
	return out
}

func (j *Journal) Len() int { return len(j.entries) }
