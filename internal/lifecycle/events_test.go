package lifecycle

import (
	"context"
	"testing"
	"time"

	"vaultwatch/internal/eventbus"
)

type captureBus struct {
	last eventbus.Event
}

func (b *captureBus) Publish(ev eventbus.Event) { b.last = ev }

func (b *captureBus) Subscribe(int) (<-chan eventbus.Event, func()) {
	return b.SubscribeTopic("", 0)
}

func (b *captureBus) SubscribeTopic(string, int) (<-chan eventbus.Event, func()) {
	ch := make(chan eventbus.Event)
	close(ch)
	return ch, func() {}
}

func TestNamesCoverAllVariants(t *testing.T) {
	t.Parallel()

	events := []Event{
		BackupCompleted{},
		BackupFailed{},
		CleanupComplete{},
		StorageWarning{},
		RemotePurgeFailed{},
		RemotePurgeDelayed{},
		RestoreSelfTestPassed{},
		RestoreSelfTestFailed{},
		SandboxValidationPassed{},
		SandboxValidationFailed{},
		TestNotification{},
		ManagedVaultLatency{},
		ManagedVaultReplicaDegraded{},
	}

	names := map[string]bool{}
	for _, n := range Names() {
		names[n] = true
	}
	if len(names) != len(events) {
		t.Fatalf("Names() has %d entries, %d variants exist", len(names), len(events))
	}
	for _, ev := range events {
		if !names[ev.EventName()] {
			t.Errorf("variant %T name %q missing from Names()", ev, ev.EventName())
		}
	}
}

func TestBackupCompletedContext(t *testing.T) {
	t.Parallel()

	ev := BackupCompleted{
		Filename:   "b.tar",
		SizeBytes:  123,
		Components: []string{"db"},
		Encrypted:  true,
		Duration:   90 * time.Second,
		Checks:     []VerificationCheck{{File: "db.sql", Passed: true}},
	}
	ctx := ev.EventContext()

	if ctx["filename"] != "b.tar" || ctx["size_bytes"] != int64(123) {
		t.Fatalf("context = %+v", ctx)
	}
	if ctx["duration"] != 90.0 {
		t.Fatalf("duration = %v", ctx["duration"])
	}
	// Slices are copied, not shared.
	comps := ctx["components"].([]string)
	comps[0] = "mutated"
	if ev.Components[0] != "db" {
		t.Fatal("context must carry a copy of the components slice")
	}
}

func TestDispatcherRoutesByName(t *testing.T) {
	t.Parallel()

	d := NewDispatcher()
	var got Event
	d.Register(EventBackupFailed, func(_ context.Context, ev Event) { got = ev })

	if handled := d.Dispatch(context.Background(), BackupFailed{Error: "x"}); !handled {
		t.Fatal("registered event not handled")
	}
	if got == nil || got.EventName() != EventBackupFailed {
		t.Fatalf("handler got %v", got)
	}

	if handled := d.Dispatch(context.Background(), CleanupComplete{}); handled {
		t.Fatal("unregistered event must not report handled")
	}
	if d.Dispatch(context.Background(), nil) {
		t.Fatal("nil event must not report handled")
	}
}

func TestPublishTopicPrefix(t *testing.T) {
	t.Parallel()

	bus := &captureBus{}
	Publish(bus, StorageWarning{Path: "/srv"})
	if bus.last.Type != BusTopicPrefix+EventStorageWarning {
		t.Fatalf("topic = %q", bus.last.Type)
	}
	// Nil bus and nil event must be safe no-ops.
	Publish(nil, StorageWarning{})
	Publish(bus, nil)
}
