package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "vaultwatch/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.receipts.jsonl        (append-only JSON Lines)
//   - <prefix>.entries.snapshot.json (periodic snapshot)
//   - <prefix>.entries.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	receiptFile *os.File

	entrySnapshotPath string
	entryJournalFile  *os.File
	entries           map[string]entryRecordJSON

	entryWrites int
}

type entryRecordJSON struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	Severity  string `json:"severity"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"` // unix milli
	Payload   string `json:"payload"`
}

type receiptJSON struct {
	At       int64  `json:"at"` // unix milli
	EntryID  string `json:"entry_id"`
	Event    string `json:"event"`
	Severity string `json:"severity"`
	Action   string `json:"action"`
	Channel  string `json:"channel,omitempty"`
	Note     string `json:"note,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	receiptPath := prefix + ".receipts.jsonl"
	snapPath := prefix + ".entries.snapshot.json"
	journalPath := prefix + ".entries.journal.jsonl"

	rf, err := os.OpenFile(receiptPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load entries from snapshot + journal.
	entries := map[string]entryRecordJSON{}
	_ = loadEntrySnapshot(snapPath, entries)
	_ = replayEntryJournal(journalPath, entries)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = rf.Close()
		return nil, err
	}

	return &fileStore{
		log:               log,
		receiptFile:       rf,
		entrySnapshotPath: snapPath,
		entryJournalFile:  jf,
		entries:           entries,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.receiptFile != nil {
		err1 = s.receiptFile.Close()
		s.receiptFile = nil
	}
	if s.entryJournalFile != nil {
		err2 = s.entryJournalFile.Close()
		s.entryJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendReceipt(ctx context.Context, r Receipt) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiptFile == nil {
		return errors.New("receipt file closed")
	}
	enc := json.NewEncoder(s.receiptFile)
	return enc.Encode(receiptJSON{
		At:       r.At.UnixMilli(),
		EntryID:  r.EntryID,
		Event:    r.Event,
		Severity: r.Severity,
		Action:   r.Action,
		Channel:  r.Channel,
		Note:     r.Note,
	})
}

func (s *fileStore) PutEntry(ctx context.Context, rec EntryRecord) error {
	_ = ctx
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return errors.New("entry id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	jr := entryRecordJSON{
		ID:        id,
		Event:     rec.Event,
		Severity:  rec.Severity,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt.UnixMilli(),
		Payload:   rec.PayloadJSON,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entryJournalFile == nil {
		return errors.New("entry journal closed")
	}
	if s.entries == nil {
		s.entries = map[string]entryRecordJSON{}
	}
	s.entries[id] = jr

	enc := json.NewEncoder(s.entryJournalFile)
	if err := enc.Encode(jr); err != nil {
		return err
	}
	s.entryWrites++
	if s.entryWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("entry compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) GetEntry(ctx context.Context, id string) (EntryRecord, bool, error) {
	_ = ctx
	id = strings.TrimSpace(id)
	if id == "" {
		return EntryRecord{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	jr, ok := s.entries[id]
	if !ok {
		return EntryRecord{}, false, nil
	}
	return EntryRecord{
		ID:          jr.ID,
		Event:       jr.Event,
		Severity:    jr.Severity,
		Status:      jr.Status,
		CreatedAt:   time.UnixMilli(jr.CreatedAt),
		PayloadJSON: jr.Payload,
	}, true, nil
}

func (s *fileStore) compactLocked() error {
	if s.entries == nil {
		return nil
	}

	tmp := s.entrySnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.entries); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.entrySnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.entryJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.entryJournalFile.Seek(0, 2)
	return err
}

func loadEntrySnapshot(path string, out map[string]entryRecordJSON) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]entryRecordJSON
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayEntryJournal(path string, out map[string]entryRecordJSON) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r entryRecordJSON
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.ID == "" {
			continue
		}
		out[r.ID] = r
	}
	return s.Err()
}
