package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Receipt records one step of a notification entry's lifecycle.
// Keep it compact and schema-stable.
type Receipt struct {
	At       time.Time
	EntryID  string
	Event    string
	Severity string
	Action   string // created | acknowledged | resolved | sent | failed
	Channel  string
	Note     string
}

// EntryRecord is the persisted form of one queued notification entry.
// PayloadJSON carries the full entry; the scalar columns exist for
// filtering without decoding.
type EntryRecord struct {
	ID          string
	Event       string
	Severity    string
	Status      string // queued | delivered | failed
	CreatedAt   time.Time
	PayloadJSON string
}
