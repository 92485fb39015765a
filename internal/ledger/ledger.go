package ledger

import (
	"context"
	"time"

	"vaultwatch/internal/engine"
	"vaultwatch/internal/storage"

	logx "vaultwatch/pkg/logx"
)

// Receipt actions recorded over an entry's lifetime.
const (
	ActionCreated      = "created"
	ActionAcknowledged = "acknowledged"
	ActionResolved     = "resolved"
)

// Ledger is the audit trail of notification entries. Every write is
// best-effort: a failed receipt must never block delivery.
//
// It implements engine.Ledger.
type Ledger struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{store: store, log: log}
}

// RecordCreation records that an entry was assembled and queued.
func (l *Ledger) RecordCreation(ctx context.Context, e engine.Entry) error {
	return l.append(ctx, storage.Receipt{
		EntryID:  e.ID,
		Event:    e.Event,
		Severity: string(e.Severity),
		Action:   ActionCreated,
	})
}

// RecordAcknowledgment records that an operator acknowledged an entry,
// stopping further escalation.
func (l *Ledger) RecordAcknowledgment(ctx context.Context, entryID, actor string) error {
	return l.append(ctx, storage.Receipt{
		EntryID: entryID,
		Action:  ActionAcknowledged,
		Note:    actor,
	})
}

// RecordResolution records that the underlying condition cleared.
func (l *Ledger) RecordResolution(ctx context.Context, entryID, summary string) error {
	return l.append(ctx, storage.Receipt{
		EntryID: entryID,
		Action:  ActionResolved,
		Note:    summary,
	})
}

func (l *Ledger) append(ctx context.Context, r storage.Receipt) error {
	if l == nil || l.store == nil {
		return nil
	}
	r.At = time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	if err := l.store.AppendReceipt(cctx, r); err != nil {
		l.log.Debug("receipt append failed",
			logx.String("entry", r.EntryID), logx.String("action", r.Action), logx.Err(err))
		return err
	}
	return nil
}
