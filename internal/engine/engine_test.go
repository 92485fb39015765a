package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"vaultwatch/internal/lifecycle"
	"vaultwatch/internal/settings"
)

type fakeQueue struct {
	entries []Entry
	nextID  string
	err     error
}

func (q *fakeQueue) Enqueue(_ context.Context, e Entry) (Entry, error) {
	if q.err != nil {
		return Entry{}, q.err
	}
	if e.ID == "" && q.nextID != "" {
		e.ID = q.nextID
	}
	q.entries = append(q.entries, e)
	return e, nil
}

type fakeLedger struct {
	records []Entry
	err     error
}

func (l *fakeLedger) RecordCreation(_ context.Context, e Entry) error {
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, e)
	return nil
}

func emailSettings() settings.Settings {
	st := settings.Defaults()
	st.Enabled = true
	st.EmailRecipients = "ops@example.com"
	st.Channels[settings.ChannelEmail] = settings.ChannelConfig{Enabled: true}
	return st
}

func newTestEngine(st settings.Settings, q *fakeQueue, l *fakeLedger) *Engine {
	opts := Options{
		Settings: st,
		Queue:    q,
		SiteName: "Acme Backup",
		SiteURL:  "https://backup.acme.test",
	}
	if l != nil {
		opts.Ledger = l
	}
	e := New(opts)
	e.nowFn = func() time.Time {
		return time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	}
	return e
}

func TestNotifyEndToEndBackupFailed(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{nextID: "n-1"}
	l := &fakeLedger{}
	e := newTestEngine(emailSettings(), q, l)

	e.Notify(context.Background(), lifecycle.EventBackupFailed, map[string]any{
		"error":      "disk full",
		"components": []string{"db", "uploads"},
	})

	if len(q.entries) != 1 {
		t.Fatalf("queued entries = %d", len(q.entries))
	}
	entry := q.entries[0]
	if entry.Severity != SeverityCritical {
		t.Fatalf("severity = %q", entry.Severity)
	}
	if entry.Event != lifecycle.EventBackupFailed || entry.Title != "Backup failed" {
		t.Fatalf("entry identity = %q / %q", entry.Event, entry.Title)
	}
	if entry.Subject != "[Acme Backup] Backup failed" {
		t.Fatalf("subject = %q", entry.Subject)
	}

	email, ok := entry.Channels[settings.ChannelEmail]
	if !ok || len(entry.Channels) != 1 {
		t.Fatalf("channels = %+v", entry.Channels)
	}
	if !email.Enabled || email.Status != StatusPending || email.Attempts != 0 {
		t.Fatalf("email payload = %+v", email)
	}
	if !reflect.DeepEqual(email.Recipients, []string{"ops@example.com"}) {
		t.Fatalf("recipients = %v", email.Recipients)
	}

	joined := strings.Join(entry.Lines, "\n")
	if !strings.Contains(joined, "disk full") {
		t.Errorf("lines missing error text: %q", entry.Lines)
	}
	if !strings.Contains(joined, "db, uploads") {
		t.Errorf("lines missing component list: %q", entry.Lines)
	}

	if len(entry.Resolution.Steps) != 1 || entry.Resolution.Steps[0].Key != "created" {
		t.Fatalf("resolution skeleton = %+v", entry.Resolution)
	}
	if entry.QuietUntil != 0 || entry.Escalation != nil {
		t.Fatalf("unexpected quiet/escalation: %+v", entry)
	}

	if len(l.records) != 1 || l.records[0].ID != "n-1" {
		t.Fatalf("ledger must receive the queue-assigned entry: %+v", l.records)
	}
}

func TestNotifyDisabledIsNoOp(t *testing.T) {
	t.Parallel()

	st := emailSettings()
	st.Enabled = false
	q := &fakeQueue{}
	e := newTestEngine(st, q, nil)

	e.Notify(context.Background(), lifecycle.EventBackupFailed, nil)
	if len(q.entries) != 0 {
		t.Fatal("disabled settings must be a no-op")
	}
}

func TestNotifyEventToggleIsNoOp(t *testing.T) {
	t.Parallel()

	st := emailSettings()
	st.Events[lifecycle.EventBackupFailed] = false
	q := &fakeQueue{}
	e := newTestEngine(st, q, nil)

	e.Notify(context.Background(), lifecycle.EventBackupFailed, nil)
	if len(q.entries) != 0 {
		t.Fatal("per-event toggle must be a no-op")
	}
}

func TestNotifyUnknownEventRequiresExplicitToggle(t *testing.T) {
	t.Parallel()

	st := emailSettings()
	q := &fakeQueue{}
	e := newTestEngine(st, q, nil)

	// Names absent from the toggle map are gated off.
	e.Notify(context.Background(), "plugin_custom_check", map[string]any{"status": "degraded"})
	if len(q.entries) != 0 {
		t.Fatal("unlisted event must not notify")
	}

	// Explicitly enabling a custom name opens the gate; the body falls
	// back to generic key/value lines.
	st.Events["plugin_custom_check"] = true
	e.ReloadSettings(st)
	e.Notify(context.Background(), "plugin_custom_check", map[string]any{"status": "degraded"})
	if len(q.entries) != 1 {
		t.Fatalf("queued entries = %d", len(q.entries))
	}
	if joined := strings.Join(q.entries[0].Lines, "\n"); !strings.Contains(joined, "status: degraded") {
		t.Fatalf("generic body missing: %q", q.entries[0].Lines)
	}
}

func TestNotifyZeroChannelsIsNoOp(t *testing.T) {
	t.Parallel()

	st := settings.Defaults()
	st.Enabled = true
	q := &fakeQueue{}
	e := newTestEngine(st, q, nil)

	e.Notify(context.Background(), lifecycle.EventBackupFailed, nil)
	if len(q.entries) != 0 {
		t.Fatal("zero valid channels must abort queuing")
	}
}

func TestNotifyQuietHoursShiftsEntryAndChannels(t *testing.T) {
	t.Parallel()

	st := emailSettings()
	st.QuietHours.Enabled = true
	st.QuietHours.Start = "09:00"
	st.QuietHours.End = "17:00"
	st.QuietHours.Timezone = "UTC"
	q := &fakeQueue{}
	e := newTestEngine(st, q, nil)

	// now is 10:00 UTC, inside the window.
	e.Notify(context.Background(), lifecycle.EventStorageWarning, map[string]any{
		"path": "/srv/backups",
	})

	if len(q.entries) != 1 {
		t.Fatalf("queued entries = %d", len(q.entries))
	}
	entry := q.entries[0]
	wantResume := time.Date(2026, 8, 28, 17, 0, 0, 0, time.UTC).Unix()
	if entry.QuietUntil != wantResume {
		t.Fatalf("quiet_until = %d, want %d", entry.QuietUntil, wantResume)
	}
	if entry.QuietHours == nil || entry.QuietHours.ResumeAt != wantResume {
		t.Fatalf("quiet info = %+v", entry.QuietHours)
	}
	if got := entry.Channels[settings.ChannelEmail].NextAttemptAt; got != wantResume {
		t.Fatalf("channel next attempt = %d, want %d", got, wantResume)
	}
}

func TestNotifyEscalationPlanAttached(t *testing.T) {
	t.Parallel()

	st := emailSettings()
	st.Escalation.Enabled = true
	st.Escalation.DelayMinutes = 10
	st.Escalation.Channels[settings.ChannelSlack] = true
	st.Channels[settings.ChannelSlack] = settings.ChannelConfig{
		WebhookURL: "https://hooks.slack.com/services/T/B/x",
	}
	q := &fakeQueue{}
	e := newTestEngine(st, q, nil)

	e.Notify(context.Background(), lifecycle.EventBackupFailed, map[string]any{"error": "boom"})

	if len(q.entries) != 1 {
		t.Fatalf("queued entries = %d", len(q.entries))
	}
	entry := q.entries[0]
	if entry.Escalation == nil {
		t.Fatal("escalation plan missing")
	}
	if entry.Escalation.Delay != 10*60 || entry.Escalation.Strategy != settings.ModeSimple {
		t.Fatalf("plan = %+v", entry.Escalation)
	}
	slack, ok := entry.Channels[settings.ChannelSlack]
	if !ok {
		t.Fatalf("slack channel not force-built: %+v", entry.Channels)
	}
	if !slack.Escalation || slack.NextAttemptAt != e.nowFn().Unix()+10*60 {
		t.Fatalf("slack payload = %+v", slack)
	}
}

func TestNotifyMiddlewareVeto(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	e := newTestEngine(emailSettings(), q, nil)
	e.Use(func(Entry) *Entry { return nil })

	e.Notify(context.Background(), lifecycle.EventBackupFailed, nil)
	if len(q.entries) != 0 {
		t.Fatal("vetoed entry must not be queued")
	}
}

func TestNotifyMiddlewareTransform(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	e := newTestEngine(emailSettings(), q, nil)
	e.Use(func(en Entry) *Entry {
		en.Lines = append(en.Lines, "appended by middleware")
		return &en
	})

	e.Notify(context.Background(), lifecycle.EventBackupFailed, nil)
	if len(q.entries) != 1 {
		t.Fatalf("queued entries = %d", len(q.entries))
	}
	lines := q.entries[0].Lines
	if lines[len(lines)-1] != "appended by middleware" {
		t.Fatalf("middleware transform not applied: %q", lines)
	}
}

func TestNotifyLedgerFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	l := &fakeLedger{err: errors.New("ledger down")}
	e := newTestEngine(emailSettings(), q, l)

	e.Notify(context.Background(), lifecycle.EventBackupFailed, nil)
	if len(q.entries) != 1 {
		t.Fatal("ledger failure must not prevent queueing")
	}
}

func TestReloadSettingsSwapsSnapshot(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	st := emailSettings()
	e := newTestEngine(st, q, nil)

	off := st.Clone()
	off.Enabled = false
	e.ReloadSettings(off)

	e.Notify(context.Background(), lifecycle.EventBackupFailed, nil)
	if len(q.entries) != 0 {
		t.Fatal("reloaded settings must take effect")
	}
}

func TestSendTest(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	l := &fakeLedger{}
	e := newTestEngine(emailSettings(), q, l)

	res, err := e.SendTest(context.Background(), Viewer{DisplayName: "admin"}, nil)
	if err != nil {
		t.Fatalf("SendTest: %v", err)
	}
	if res.Entry.ID == "" {
		t.Fatal("test entries must self-assign an id")
	}
	if res.Entry.Event != lifecycle.EventTestNotification {
		t.Fatalf("event = %q", res.Entry.Event)
	}
	if !reflect.DeepEqual(res.Channels, []string{settings.ChannelEmail}) {
		t.Fatalf("channels = %v", res.Channels)
	}
	joined := strings.Join(res.Entry.Lines, "\n")
	if !strings.Contains(joined, "admin") {
		t.Errorf("initiator missing from body: %q", res.Entry.Lines)
	}
	if len(l.records) != 1 {
		t.Fatalf("ledger records = %d", len(l.records))
	}
}

func TestSendTestBypassesEventToggleButNotEnabled(t *testing.T) {
	t.Parallel()

	st := emailSettings()
	st.Events[lifecycle.EventTestNotification] = false
	q := &fakeQueue{}
	e := newTestEngine(st, q, nil)

	if _, err := e.SendTest(context.Background(), Viewer{}, nil); err != nil {
		t.Fatalf("event toggle must not block test notifications: %v", err)
	}

	off := st.Clone()
	off.Enabled = false
	e.ReloadSettings(off)
	if _, err := e.SendTest(context.Background(), Viewer{}, nil); !errors.Is(err, ErrNotificationsDisabled) {
		t.Fatalf("err = %v, want ErrNotificationsDisabled", err)
	}
}

func TestSendTestNoChannels(t *testing.T) {
	t.Parallel()

	st := settings.Defaults()
	st.Enabled = true
	e := newTestEngine(st, &fakeQueue{}, nil)

	if _, err := e.SendTest(context.Background(), Viewer{}, nil); !errors.Is(err, ErrNoChannelsAvailable) {
		t.Fatalf("err = %v, want ErrNoChannelsAvailable", err)
	}
}

func TestSendTestQueueFailurePassesThrough(t *testing.T) {
	t.Parallel()

	queueErr := errors.New("delivery queue full")
	q := &fakeQueue{err: queueErr}
	e := newTestEngine(emailSettings(), q, nil)

	_, err := e.SendTest(context.Background(), Viewer{}, nil)
	if !errors.Is(err, queueErr) {
		t.Fatalf("err = %v, want the queue error preserved", err)
	}
	// A full queue is not a payload problem.
	if errors.Is(err, ErrPayloadInvalid) {
		t.Fatalf("queue error misreported as payload problem: %v", err)
	}
}

func TestSendTestInvalidChannelConfig(t *testing.T) {
	t.Parallel()

	// Email enabled but no recipients: enabled channels exist, none valid.
	st := emailSettings()
	st.EmailRecipients = ""
	e := newTestEngine(st, &fakeQueue{}, nil)

	if _, err := e.SendTest(context.Background(), Viewer{}, nil); !errors.Is(err, ErrPayloadInvalid) {
		t.Fatalf("err = %v, want ErrPayloadInvalid", err)
	}
}

func TestSendTestOverrideSettings(t *testing.T) {
	t.Parallel()

	live := settings.Defaults() // disabled, no channels
	q := &fakeQueue{}
	e := newTestEngine(live, q, nil)

	override := emailSettings()
	res, err := e.SendTest(context.Background(), Viewer{}, &override)
	if err != nil {
		t.Fatalf("SendTest with override: %v", err)
	}
	if !reflect.DeepEqual(res.Channels, []string{settings.ChannelEmail}) {
		t.Fatalf("channels = %v", res.Channels)
	}
}

func TestHandleEventRoutesThroughDispatcher(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	e := newTestEngine(emailSettings(), q, nil)

	d := lifecycle.NewDispatcher()
	e.Register(d)

	handled := d.Dispatch(context.Background(), lifecycle.BackupFailed{Error: "boom"})
	if !handled {
		t.Fatal("dispatcher did not route the event")
	}
	if len(q.entries) != 1 || q.entries[0].Event != lifecycle.EventBackupFailed {
		t.Fatalf("entries = %+v", q.entries)
	}
}
