package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vaultwatch/internal/eventbus"
	"vaultwatch/internal/lifecycle"
	"vaultwatch/internal/settings"

	logx "vaultwatch/pkg/logx"
)

// Bus topics published by the engine for diagnostics.
const (
	TopicQueued  = "notify.queued"
	TopicSkipped = "notify.skipped"
)

// Options wires the engine's collaborators. Queue is required for
// delivery; everything else is optional.
type Options struct {
	Settings settings.Settings
	Queue    Queue
	Ledger   Ledger
	Bus      eventbus.Bus
	Logger   logx.Logger

	// Site identity used in subjects and template tokens.
	SiteName string
	SiteURL  string
}

// Engine turns lifecycle events into queued notification entries.
//
// It is safe for concurrent use: the settings snapshot is replaced
// wholesale under a mutex and each Notify call works from one captured
// snapshot and one sampled clock reading.
type Engine struct {
	mu sync.RWMutex
	st settings.Settings

	queue  Queue
	ledger Ledger
	bus    eventbus.Bus
	log    logx.Logger

	siteName string
	siteURL  string

	mwMu       sync.RWMutex
	middleware []Middleware

	// nowFn is swapped in tests; production uses time.Now.
	nowFn func() time.Time
}

func New(opts Options) *Engine {
	return &Engine{
		st:       opts.Settings.Clone(),
		queue:    opts.Queue,
		ledger:   opts.Ledger,
		bus:      opts.Bus,
		log:      opts.Logger,
		siteName: strings.TrimSpace(opts.SiteName),
		siteURL:  strings.TrimSpace(opts.SiteURL),
		nowFn:    time.Now,
	}
}

// ReloadSettings atomically replaces the settings snapshot. In-flight
// Notify calls finish on the snapshot they captured.
func (e *Engine) ReloadSettings(st settings.Settings) {
	cp := st.Clone()
	e.mu.Lock()
	e.st = cp
	e.mu.Unlock()
}

func (e *Engine) snapshot() settings.Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st
}

// Use appends a middleware applied to every assembled entry before
// queueing. A middleware returning nil vetoes the entry.
func (e *Engine) Use(mw Middleware) {
	if mw == nil {
		return
	}
	e.mwMu.Lock()
	e.middleware = append(e.middleware, mw)
	e.mwMu.Unlock()
}

// Register binds the engine to every recognized lifecycle event on the
// dispatcher.
func (e *Engine) Register(d *lifecycle.Dispatcher) {
	for _, name := range lifecycle.Names() {
		d.Register(name, e.HandleEvent)
	}
}

// HandleEvent is the dispatcher entry point.
func (e *Engine) HandleEvent(ctx context.Context, ev lifecycle.Event) {
	if ev == nil {
		return
	}
	e.Notify(ctx, ev.EventName(), ev.EventContext())
}

// Notify runs the full pipeline for one event. Every failure mode is a
// logged no-op; a broken notification setup must never break the backup
// operation that triggered it.
func (e *Engine) Notify(ctx context.Context, eventName string, evCtx map[string]any) {
	st := e.snapshot()
	now := e.nowFn()

	if !st.Enabled {
		e.skip(eventName, "notifications disabled")
		return
	}
	// Absent names read as false: recognized events are always present
	// after normalization, so only explicitly enabled custom events pass.
	if !st.Events[eventName] {
		e.skip(eventName, "event disabled")
		return
	}

	entry, ok := e.assemble(st, eventName, evCtx, now, false)
	if !ok {
		return
	}

	e.dispatch(ctx, entry)
}

// assemble runs classification, rendering, escalation planning, channel
// building, and quiet-hours shifting. bypassQuiet is set for test
// notifications, which should always deliver immediately.
func (e *Engine) assemble(st settings.Settings, eventName string, evCtx map[string]any, now time.Time, bypassQuiet bool) (Entry, bool) {
	sev := ClassifySeverity(eventName)
	title := EventTitle(eventName)
	body := BuildBodyLines(eventName, evCtx)

	lines := Render(st, sev, body, RenderMeta{
		EventKey: eventName,
		Context:  evCtx,
		SiteName: e.siteName,
		SiteURL:  e.siteURL,
		Now:      now,
	})

	overrides, escMeta := ComputeOverrides(eventName, st)

	channels := BuildChannels(st, overrides, now, e.log)
	if len(channels) == 0 {
		e.skip(eventName, "no valid channels")
		return Entry{}, false
	}

	entry := Entry{
		Event:    eventName,
		Title:    title,
		Subject:  e.subject(title),
		Lines:    lines,
		Body:     strings.Join(lines, "\n"),
		Context:  evCtx,
		Severity: sev,
		Channels: channels,
		Resolution: Resolution{
			Steps: []ResolutionStep{{Key: "created", At: now.Unix()}},
		},
		CreatedAt: now.Unix(),
	}
	if escMeta != nil {
		entry.Escalation = &EscalationPlan{
			Channels: escMeta.Channels,
			Delay:    escMeta.Delay,
			Strategy: escMeta.Strategy,
			Steps:    escMeta.Steps,
		}
	}

	if !bypassQuiet {
		applyQuietHours(&entry, st, eventName, now)
	}
	return entry, true
}

// applyQuietHours shifts the whole entry and any channel whose own
// next attempt would land before the resume time.
func applyQuietHours(entry *Entry, st settings.Settings, eventName string, now time.Time) {
	resume := ResumeTimestamp(eventName, st, now)
	if resume <= 0 {
		return
	}
	entry.QuietUntil = resume
	entry.QuietHours = &QuietInfo{ResumeAt: resume}
	for key, p := range entry.Channels {
		if p.NextAttemptAt < resume {
			p.NextAttemptAt = resume
			entry.Channels[key] = p
		}
	}
}

func (e *Engine) subject(title string) string {
	if e.siteName == "" {
		return title
	}
	return fmt.Sprintf("[%s] %s", e.siteName, title)
}

// dispatch applies middleware, queues the entry, and records the receipt.
func (e *Engine) dispatch(ctx context.Context, entry Entry) {
	e.mwMu.RLock()
	mws := e.middleware
	e.mwMu.RUnlock()
	for _, mw := range mws {
		next := mw(entry)
		if next == nil {
			e.skip(entry.Event, "vetoed by middleware")
			return
		}
		entry = *next
	}

	queued, err := e.queue.Enqueue(ctx, entry)
	if err != nil {
		if !e.log.IsZero() {
			e.log.Error("failed to queue notification",
				logx.String("event", entry.Event), logx.Err(err))
		}
		return
	}

	if e.ledger != nil {
		if err := e.ledger.RecordCreation(ctx, queued); err != nil && !e.log.IsZero() {
			e.log.Warn("receipt ledger rejected creation record",
				logx.String("event", queued.Event), logx.String("id", queued.ID), logx.Err(err))
		}
	}

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: TopicQueued, Data: map[string]any{
			"id":       queued.ID,
			"event":    queued.Event,
			"severity": string(queued.Severity),
			"channels": len(queued.Channels),
		}})
	}
	if !e.log.IsZero() {
		e.log.Info("notification queued",
			logx.String("event", queued.Event),
			logx.String("id", queued.ID),
			logx.String("severity", string(queued.Severity)),
			logx.Int("channels", len(queued.Channels)))
	}
}

func (e *Engine) skip(eventName, reason string) {
	if !e.log.IsZero() {
		e.log.Debug("notification skipped",
			logx.String("event", eventName), logx.String("reason", reason))
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: TopicSkipped, Data: map[string]any{
			"event":  eventName,
			"reason": reason,
		}})
	}
}

// SendTest builds and queues a synthetic test notification on behalf of
// viewer. Unlike Notify it bypasses the per-event enable map and returns
// typed errors, since it is a direct user action expecting feedback.
// Override, when non-nil, is used instead of the live settings so admins
// can try unsaved configuration.
func (e *Engine) SendTest(ctx context.Context, viewer Viewer, override *settings.Settings) (TestResult, error) {
	st := e.snapshot()
	if override != nil {
		st = override.Clone()
	}
	if !st.Enabled {
		return TestResult{}, ErrNotificationsDisabled
	}

	now := e.nowFn()
	ev := lifecycle.TestNotification{
		Initiator: viewer.DisplayName,
		SiteName:  e.siteName,
		SiteURL:   e.siteURL,
	}

	entry, ok := e.assemble(st, ev.EventName(), ev.EventContext(), now, true)
	if !ok {
		// A channel that is enabled but failed validation is a config
		// problem, not an empty channel set.
		if anyChannelEnabled(st) {
			return TestResult{}, ErrPayloadInvalid
		}
		return TestResult{}, ErrNoChannelsAvailable
	}
	entry.ID = uuid.NewString()

	queued, err := e.queue.Enqueue(ctx, entry)
	if err != nil {
		return TestResult{}, fmt.Errorf("queue test notification: %w", err)
	}
	if e.ledger != nil {
		if err := e.ledger.RecordCreation(ctx, queued); err != nil && !e.log.IsZero() {
			e.log.Warn("receipt ledger rejected test record",
				logx.String("id", queued.ID), logx.Err(err))
		}
	}

	channels := make([]string, 0, len(queued.Channels))
	for _, key := range settings.ChannelKeys() {
		if _, ok := queued.Channels[key]; ok {
			channels = append(channels, key)
		}
	}
	return TestResult{Entry: queued, Channels: channels}, nil
}

func anyChannelEnabled(st settings.Settings) bool {
	for _, cc := range st.Channels {
		if cc.Enabled {
			return true
		}
	}
	return false
}
