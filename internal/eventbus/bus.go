package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal used to decouple the notification
// pipeline stages (engine, queue, settings watcher, probes).
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers lose events rather than stalling publishers.
//
// Type is a dotted topic ("notify.queued", "queue.sent", "lifecycle.*").
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every event.
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// SubscribeTopic receives only events whose Type starts with prefix.
	SubscribeTopic(prefix string, buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's stack.
func New() Bus {
	return &fanout{}
}

type subscriber struct {
	ch      chan Event
	prefix  string
	closed  atomic.Bool
	dropped atomic.Int64
}

func (s *subscriber) wants(t string) bool {
	return s.prefix == "" || strings.HasPrefix(t, s.prefix)
}

type fanout struct {
	mu   sync.RWMutex
	subs []*subscriber
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.closed.Load() || !s.wants(e.Type) {
			continue
		}
		// The closed flag narrows but does not eliminate the window where
		// an unsubscribe closes the channel mid-send, so recover.
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
				s.dropped.Add(1)
			}
		}()
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	return b.SubscribeTopic("", buffer)
}

func (b *fanout) SubscribeTopic(prefix string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer), prefix: prefix}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Mark closed before removal so a concurrent Publish skips
			// the channel instead of sending on it.
			s.closed.Store(true)
			b.mu.Lock()
			for i, cur := range b.subs {
				if cur == s {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, unsub
}
