package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"vaultwatch/internal/engine"
	"vaultwatch/internal/storage"

	logx "vaultwatch/pkg/logx"
)

type memStore struct {
	mu       sync.Mutex
	receipts []storage.Receipt
	err      error
}

func (m *memStore) AppendReceipt(_ context.Context, r storage.Receipt) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	m.receipts = append(m.receipts, r)
	m.mu.Unlock()
	return nil
}

func (m *memStore) PutEntry(context.Context, storage.EntryRecord) error { return nil }
func (m *memStore) GetEntry(context.Context, string) (storage.EntryRecord, bool, error) {
	return storage.EntryRecord{}, false, nil
}
func (m *memStore) Close() error { return nil }

func TestRecordCreation(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	l := New(st, logx.Logger{})

	err := l.RecordCreation(context.Background(), engine.Entry{
		ID: "n-1", Event: "backup_failed", Severity: engine.SeverityCritical,
	})
	if err != nil {
		t.Fatalf("RecordCreation: %v", err)
	}
	if len(st.receipts) != 1 {
		t.Fatalf("receipts = %d", len(st.receipts))
	}
	r := st.receipts[0]
	if r.EntryID != "n-1" || r.Action != ActionCreated || r.Severity != "critical" {
		t.Fatalf("receipt = %+v", r)
	}
	if r.At.IsZero() {
		t.Fatal("receipt timestamp not set")
	}
}

func TestRecordAcknowledgmentAndResolution(t *testing.T) {
	t.Parallel()

	st := &memStore{}
	l := New(st, logx.Logger{})
	ctx := context.Background()

	if err := l.RecordAcknowledgment(ctx, "n-1", "admin"); err != nil {
		t.Fatalf("RecordAcknowledgment: %v", err)
	}
	if err := l.RecordResolution(ctx, "n-1", "storage freed"); err != nil {
		t.Fatalf("RecordResolution: %v", err)
	}
	if len(st.receipts) != 2 {
		t.Fatalf("receipts = %d", len(st.receipts))
	}
	if st.receipts[0].Action != ActionAcknowledged || st.receipts[0].Note != "admin" {
		t.Fatalf("ack receipt = %+v", st.receipts[0])
	}
	if st.receipts[1].Action != ActionResolved || st.receipts[1].Note != "storage freed" {
		t.Fatalf("resolve receipt = %+v", st.receipts[1])
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	t.Parallel()

	l := New(nil, logx.Logger{})
	if err := l.RecordCreation(context.Background(), engine.Entry{ID: "n-1"}); err != nil {
		t.Fatalf("nil store must be a silent no-op, got %v", err)
	}
}

func TestStoreErrorSurfacesButIsLoggable(t *testing.T) {
	t.Parallel()

	st := &memStore{err: errors.New("disk error")}
	l := New(st, logx.Logger{})
	if err := l.RecordCreation(context.Background(), engine.Entry{ID: "n-1"}); err == nil {
		t.Fatal("expected store error to propagate for caller-side logging")
	}
}
