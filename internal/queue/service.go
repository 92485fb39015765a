package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"vaultwatch/internal/engine"
	"vaultwatch/internal/eventbus"
	rtsup "vaultwatch/internal/runtime/supervisor"
	"vaultwatch/internal/storage"

	logx "vaultwatch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("delivery queue disabled")
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("delivery queue stopped")
)

// Bus topics published by the queue.
const (
	TopicEnqueued = "queue.enqueued"
	TopicSent     = "queue.sent"
	TopicFailed   = "queue.failed"
	TopicDropped  = "queue.dropped"
)

type job struct {
	entry   engine.Entry
	channel string
	payload engine.ChannelPayload
}

// Service is the asynchronous delivery pipeline behind the engine:
// per-channel jobs + worker pool + rate limit + retry with backoff.
//
// It is safe for concurrent use and implements engine.Queue.
type Service struct {
	mu sync.Mutex

	log        logx.Logger
	dispatcher Dispatcher
	bus        eventbus.Bus
	store      storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// Per-entry outstanding channel counts, used to settle the persisted
	// entry status once every channel has an outcome.
	pmu     sync.Mutex
	pending map[string]*entryProgress

	// Not-yet-due jobs parked on timers so quiet-hours and escalation
	// delays never occupy a worker.
	dmu     sync.Mutex
	dseq    uint64
	delayed map[uint64]*delayedJob
}

type delayedJob struct {
	timer *time.Timer
	j     job
}

type entryProgress struct {
	remaining int
	failed    bool
}

func New(cfg Config, dispatcher Dispatcher, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		dispatcher: dispatcher,
		log:        log,
		bus:        bus,
		store:      store,
		pending:    map[string]*entryProgress{},
		delayed:    map[uint64]*delayedJob{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent. A disabled queue never starts workers.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "queue"))),
		// Delivery failures must not take down the daemon.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("worker.%d", i)
		sup.GoRestart(name, func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("queue worker exited unexpectedly")
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without
	// leaking state.
	go func() {
		defer close(done)
		s.sendWG.Wait()

		// Settle jobs still parked on delay timers; their due time is in
		// the future and the process is going away.
		s.dmu.Lock()
		ids := make([]uint64, 0, len(s.delayed))
		for id := range s.delayed {
			ids = append(ids, id)
		}
		s.dmu.Unlock()
		for _, id := range ids {
			s.cancelDelayed(id)
		}

		func() {
			defer func() { _ = recover() }()
			close(q)
		}()
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Enqueue persists the entry, assigns an ID when missing, and fans its
// channels out to the worker pool. It implements engine.Queue.
func (s *Service) Enqueue(ctx context.Context, e engine.Entry) (engine.Entry, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return engine.Entry{}, ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return engine.Entry{}, ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return engine.Entry{}, ErrStopped
	}
	q := s.queue
	st := s.store
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if len(e.Channels) == 0 {
		return engine.Entry{}, errors.New("entry has no channels")
	}

	jobs := make([]job, 0, len(e.Channels))
	for ch, p := range e.Channels {
		jobs = append(jobs, job{entry: e, channel: ch, payload: p})
	}

	// Reserve queue capacity for the whole entry before committing it.
	if cap(q)-len(q) < len(jobs) {
		s.publish(TopicDropped, e.ID, e.Event, "", ErrQueueFull)
		return engine.Entry{}, ErrQueueFull
	}

	s.persistEntry(ctx, st, e, StatusQueued)
	s.pmu.Lock()
	s.pending[e.ID] = &entryProgress{remaining: len(jobs)}
	s.pmu.Unlock()

	for _, j := range jobs {
		select {
		case q <- j:
		default:
			// Capacity vanished between the check and the send; settle the
			// remaining channels as failed.
			s.settleChannel(context.Background(), j.entry, j.channel, ErrQueueFull)
			s.publish(TopicDropped, e.ID, e.Event, j.channel, ErrQueueFull)
		}
	}

	s.publish(TopicEnqueued, e.ID, e.Event, "", nil)
	return e, nil
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	if ctx == nil {
		ctx = context.Background()
	}
	if q == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliverWithRetry(ctx, j)
		}
	}
}

func (s *Service) deliverWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	d := s.dispatcher
	log := s.log
	s.mu.Unlock()

	if d == nil {
		s.settleChannel(runCtx, j.entry, j.channel, errors.New("no dispatcher configured"))
		return
	}

	// Quiet hours and escalation delays surface as a future
	// next_attempt_at. Hand those jobs to a timer instead of blocking
	// here: a worker parked for hours would starve every due delivery
	// queued behind it.
	if at := j.payload.NextAttemptAt; at > 0 {
		if wait := time.Until(time.Unix(at, 0)); wait > 0 {
			s.scheduleDelayed(j, wait)
			return
		}
	}

	maxAttempts := 1
	if cfg.RetryMax > 0 {
		maxAttempts = 1 + cfg.RetryMax
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(runCtx); err != nil {
				return
			}
		}

		// Bound per-send call. Keep tight to avoid hanging workers.
		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		err := d.Dispatch(callCtx, j.entry, j.channel, j.payload)
		cancel()
		if err == nil {
			s.settleChannel(runCtx, j.entry, j.channel, nil)
			s.publish(TopicSent, j.entry.ID, j.entry.Event, j.channel, nil)
			return
		}
		lastErr = err
		log.Debug("channel dispatch failed",
			logx.String("id", j.entry.ID), logx.String("channel", j.channel),
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	s.settleChannel(runCtx, j.entry, j.channel, lastErr)
	s.publish(TopicFailed, j.entry.ID, j.entry.Event, j.channel, lastErr)
}

// scheduleDelayed parks a not-yet-due job on a timer. When it fires the
// job re-enters the worker queue; Stop cancels whatever is still parked.
func (s *Service) scheduleDelayed(j job, wait time.Duration) {
	s.dmu.Lock()
	s.dseq++
	id := s.dseq
	d := &delayedJob{j: j}
	d.timer = time.AfterFunc(wait, func() { s.requeueDelayed(id) })
	s.delayed[id] = d
	s.dmu.Unlock()
}

// requeueDelayed moves a fired delayed job back onto the worker queue.
// Removal from the map under dmu makes the callback and cancelDelayed
// mutually exclusive owners of the job.
func (s *Service) requeueDelayed(id uint64) {
	s.dmu.Lock()
	d, ok := s.delayed[id]
	delete(s.delayed, id)
	s.dmu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	q := s.queue
	stopping := s.stopDone != nil
	s.mu.Unlock()
	if q == nil || stopping {
		s.dropDelayed(d.j, ErrStopped)
		return
	}

	sent := false
	func() {
		// The queue can close between the check and the send.
		defer func() { _ = recover() }()
		select {
		case q <- d.j:
			sent = true
		default:
		}
	}()
	if !sent {
		s.dropDelayed(d.j, ErrQueueFull)
	}
}

func (s *Service) cancelDelayed(id uint64) {
	s.dmu.Lock()
	d, ok := s.delayed[id]
	delete(s.delayed, id)
	s.dmu.Unlock()
	if !ok {
		return
	}
	d.timer.Stop()
	s.dropDelayed(d.j, ErrStopped)
}

func (s *Service) dropDelayed(j job, err error) {
	s.settleChannel(context.Background(), j.entry, j.channel, err)
	s.publish(TopicDropped, j.entry.ID, j.entry.Event, j.channel, err)
}

// settleChannel records one channel outcome; once every channel of an
// entry is settled the persisted record gets its final status.
func (s *Service) settleChannel(ctx context.Context, e engine.Entry, channel string, sendErr error) {
	_ = channel
	s.pmu.Lock()
	prog := s.pending[e.ID]
	if prog == nil {
		s.pmu.Unlock()
		return
	}
	prog.remaining--
	if sendErr != nil {
		prog.failed = true
	}
	doneAll := prog.remaining <= 0
	failed := prog.failed
	if doneAll {
		delete(s.pending, e.ID)
	}
	s.pmu.Unlock()

	if !doneAll {
		return
	}
	status := StatusDelivered
	if failed {
		status = StatusFailed
	}
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()
	s.persistEntry(ctx, st, e, status)
}

func (s *Service) persistEntry(ctx context.Context, st storage.Store, e engine.Entry, status string) {
	if st == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	err = st.PutEntry(cctx, storage.EntryRecord{
		ID:          e.ID,
		Event:       e.Event,
		Severity:    string(e.Severity),
		Status:      status,
		CreatedAt:   time.Unix(e.CreatedAt, 0),
		PayloadJSON: string(payload),
	})
	if err != nil && !s.log.IsZero() {
		s.log.Debug("entry persist failed", logx.String("id", e.ID), logx.Err(err))
	}
}

func (s *Service) publish(topic, id, event, channel string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DeliveryEvent{EntryID: id, Event: event, Channel: channel, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: topic, Time: now, Data: ev})
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
