// Package dispatch implements the async delivery stage:
// queue + worker pool + rate limit + retry + dedup.
package dispatch

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"hushd/internal/eventbus"
	"hushd/internal/metrics"
	"hushd/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("dispatcher disabled")
	ErrQueueFull = errors.New("dispatcher queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

type job struct {
	d Delivery
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	sink Sink
	bus  eventbus.Bus
	met  *metrics.Metrics

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// In-memory dedup cache: delivery id -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	// In-memory history (for the status surface)
	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus, met *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sink:  sink,
		log:   log,
		bus:   bus,
		met:   met,
		dedup: map[string]time.Time{},
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
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
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
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		// already running
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker", logx.Int("worker", i), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	// Block new dispatches.
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	// Now it's safe to close the queue.
	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	// Wait for workers.
	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()
}

// Dispatch enqueues one delivery. Duplicate delivery ids inside the dedup
// window are silently suppressed; a full queue is reported to the caller so
// the poller can re-queue the item.
func (s *Service) Dispatch(ctx context.Context, d Delivery) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	// Capture current config snapshot for dedup computation.
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if dedupWindow > 0 && d.ID != "" {
		if !s.dedupAllow(d.ID, dedupWindow, dedupMax) {
			if s.met != nil {
				s.met.DispatchDeduped.Inc()
			}
			s.publish(eventbus.EventDispatchDeduped, d, nil)
			return nil
		}
	}

	select {
	case q <- job{d: d}:
		return nil
	default:
		// Forget the dedup record so a re-queued delivery is not suppressed.
		if dedupWindow > 0 && d.ID != "" {
			s.dmu.Lock()
			delete(s.dedup, d.ID)
			s.dmu.Unlock()
		}
		s.publish(eventbus.EventDispatchFailed, d, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(d Delivery) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Kind: d.Kind.String(), UserID: d.UserID, ID: d.ID})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, d Delivery, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := DeliveryEvent{Kind: d.Kind.String(), UserID: d.UserID, ID: d.ID, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func (s *Service) workerLoop() {
	// Copy stable references.
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for j := range q {
		// If the app is stopping, stop quickly.
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		s.sendWithRetry(runCtx, j)
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	// config snapshot for this send
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sink := s.sink
	log := s.log
	s.mu.Unlock()

	if sink == nil {
		return
	}

	maxAttempts := 1
	if cfg.RetryMax > 0 {
		maxAttempts = 1 + cfg.RetryMax
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation).
		if lim != nil {
			wctx := runCtx
			if wctx == nil {
				wctx = context.Background()
			}
			if err := lim.Wait(wctx); err != nil {
				return
			}
		}

		// Bound per-send call. Keep tight to avoid hanging workers.
		callCtx := runCtx
		if callCtx == nil {
			callCtx = context.Background()
		}
		callCtx, cancel := context.WithTimeout(callCtx, 10*time.Second)
		err := sink.Deliver(callCtx, j.d)
		cancel()
		if err == nil {
			s.appendHistory(j.d)
			if s.met != nil {
				s.met.DispatchSent.WithLabelValues(j.d.Kind.String()).Inc()
			}
			s.publish(eventbus.EventDispatchSent, j.d, nil)
			return
		}
		lastErr = err
		log.Debug("delivery failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		rc := runCtx
		if rc == nil {
			rc = context.Background()
		}
		select {
		case <-t.C:
		case <-rc.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		if s.met != nil {
			s.met.DispatchFailed.Inc()
		}
		s.publish(eventbus.EventDispatchFailed, j.d, lastErr)
	}
}

func (s *Service) dedupAllow(key string, window time.Duration, max int) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	// Prune expired and cap.
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	if max > 0 && len(s.dedup) > max {
		// Remove entries with earliest expiry until within cap.
		for len(s.dedup) > max {
			var (
				minKey string
				minT   time.Time
				set    bool
			)
			for k, t := range s.dedup {
				if !set || t.Before(minT) {
					minKey, minT, set = k, t, true
				}
			}
			if minKey == "" {
				break
			}
			delete(s.dedup, minKey)
		}
	}
	return true
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
