package queue

import (
	"context"
	"time"

	"vaultwatch/internal/engine"
)

type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Dispatcher is the transport boundary. The queue hands it one channel
// payload at a time; implementations do the actual SMTP/webhook I/O.
type Dispatcher interface {
	Dispatch(ctx context.Context, e engine.Entry, channel string, p engine.ChannelPayload) error
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, e engine.Entry, channel string, p engine.ChannelPayload) error

func (f DispatchFunc) Dispatch(ctx context.Context, e engine.Entry, channel string, p engine.ChannelPayload) error {
	return f(ctx, e, channel, p)
}

// DeliveryEvent is emitted on the event bus for queue lifecycle events.
// Keep it small; Data may be logged/serialized by subscribers.
type DeliveryEvent struct {
	EntryID string    `json:"entry_id"`
	Event   string    `json:"event"`
	Channel string    `json:"channel,omitempty"`
	At      time.Time `json:"at"`
	Error   string    `json:"error,omitempty"`
}

// Entry statuses persisted alongside the payload.
const (
	StatusQueued    = "queued"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)
