package engine

import (
	"context"
	"errors"
)

// Severity of a notification. Drives template selection, quiet-hours
// bypass, and escalation eligibility.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Channel payload delivery states. The engine only ever emits
// StatusPending; the delivery queue advances payloads from there.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Entry is one fully-assembled notification handed to the delivery queue.
// The engine holds no entry state across calls; an Entry is built, queued,
// and forgotten in a single Notify invocation.
type Entry struct {
	ID       string                    `json:"id,omitempty"`
	Event    string                    `json:"event"`
	Title    string                    `json:"title"`
	Subject  string                    `json:"subject"`
	Lines    []string                  `json:"lines"`
	Body     string                    `json:"body"`
	Context  map[string]any            `json:"context,omitempty"`
	Severity Severity                  `json:"severity"`
	Channels map[string]ChannelPayload `json:"channels"`

	Resolution Resolution      `json:"resolution"`
	Escalation *EscalationPlan `json:"escalation,omitempty"`

	// QuietUntil mirrors QuietHours.ResumeAt for quick queue filtering.
	QuietUntil int64      `json:"quiet_until,omitempty"`
	QuietHours *QuietInfo `json:"quiet_hours,omitempty"`

	CreatedAt int64 `json:"created_at"`
}

// ChannelPayload is the dispatch unit for one channel of one entry.
// A channel absent from Entry.Channels is never dispatched.
type ChannelPayload struct {
	Enabled       bool     `json:"enabled"`
	Status        string   `json:"status"`
	Attempts      int      `json:"attempts"`
	Recipients    []string `json:"recipients,omitempty"`
	WebhookURL    string   `json:"webhook_url,omitempty"`
	NextAttemptAt int64    `json:"next_attempt_at,omitempty"`
	Escalation    bool     `json:"escalation,omitempty"`
}

// Resolution tracks the acknowledgment lifecycle of an entry.
type Resolution struct {
	AcknowledgedAt *int64           `json:"acknowledged_at,omitempty"`
	ResolvedAt     *int64           `json:"resolved_at,omitempty"`
	Steps          []ResolutionStep `json:"steps"`
	Summary        string           `json:"summary,omitempty"`
}

type ResolutionStep struct {
	Key  string `json:"key"`
	Note string `json:"note,omitempty"`
	At   int64  `json:"at"`
}

// EscalationPlan records how and when an unacknowledged entry reaches
// additional channels.
type EscalationPlan struct {
	Channels []string         `json:"channels"`
	Delay    int64            `json:"delay"` // seconds until first escalation
	Strategy string           `json:"strategy"`
	Steps    []EscalationStep `json:"steps,omitempty"`
}

// EscalationStep is one stage of a staged plan, kept for audit/history.
type EscalationStep struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Channels    []string `json:"channels"`
	Delay       int64    `json:"delay"` // seconds
}

// QuietInfo explains why an entry was shifted.
type QuietInfo struct {
	ResumeAt int64 `json:"resume_at"`
}

// ChannelOverride forces a channel into the payload map regardless of its
// base enabled flag. Delay is in seconds from "now".
type ChannelOverride struct {
	Force      bool
	Delay      int64
	Escalation bool
}

// Queue persists entries for asynchronous delivery. Enqueue may augment
// the entry (assign an ID) and returns the stored form.
type Queue interface {
	Enqueue(ctx context.Context, e Entry) (Entry, error)
}

// Ledger records the audit trail of entry lifecycles. RecordCreation is
// best effort; its failure never blocks delivery.
type Ledger interface {
	RecordCreation(ctx context.Context, e Entry) error
}

// Middleware may transform an assembled entry before it is queued, or
// veto it by returning nil.
type Middleware func(e Entry) *Entry

// Viewer identifies who triggered a direct action such as a test
// notification.
type Viewer struct {
	DisplayName string
}

// TestResult is the synchronous outcome of SendTest.
type TestResult struct {
	Entry    Entry
	Channels []string
}

// Typed errors for SendTest; Notify never returns these (it degrades to a
// logged no-op instead).
var (
	ErrNotificationsDisabled = errors.New("notifications are disabled")
	ErrNoChannelsAvailable   = errors.New("no valid notification channels are configured")
	ErrPayloadInvalid        = errors.New("notification payload is invalid")
)
