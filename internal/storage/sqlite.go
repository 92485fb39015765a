//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "vaultwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendReceipt(ctx context.Context, r Receipt) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts(at, entry_id, event, severity, action, channel, note)
		 VALUES(?,?,?,?,?,?,?)`,
		r.At.Format(time.RFC3339Nano), r.EntryID, r.Event, r.Severity,
		r.Action, nullStr(r.Channel), nullStr(r.Note),
	)
	return err
}

func (s *sqliteStore) PutEntry(ctx context.Context, rec EntryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return errors.New("entry id is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(id, event, severity, status, created_at, payload)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, payload=excluded.payload`,
		id, rec.Event, rec.Severity, rec.Status,
		rec.CreatedAt.UnixMilli(), rec.PayloadJSON,
	)
	return err
}

func (s *sqliteStore) GetEntry(ctx context.Context, id string) (EntryRecord, bool, error) {
	if s == nil || s.db == nil {
		return EntryRecord{}, false, ErrDisabled
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return EntryRecord{}, false, nil
	}
	var (
		rec EntryRecord
		ms  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event, severity, status, created_at, payload FROM entries WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Event, &rec.Severity, &rec.Status, &ms, &rec.PayloadJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return EntryRecord{}, false, nil
	}
	if err != nil {
		return EntryRecord{}, false, err
	}
	rec.CreatedAt = time.UnixMilli(ms)
	return rec, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
