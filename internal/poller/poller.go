// Package poller periodically drains due queue items and ready bundles into
// the dispatcher. The queue and bundler evaluate time lazily, so nothing is
// delivered unless something ticks them; this is that tick.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hushd/internal/bundle"
	"hushd/internal/dispatch"
	"hushd/internal/eventbus"
	"hushd/internal/metrics"
	"hushd/internal/queue"
	"hushd/pkg/logx"
)

type Config struct {
	Enabled bool
	// DrainInterval is the cadence of the queue/bundle drain pass.
	DrainInterval time.Duration
	// CleanupInterval is the cadence of the stale-bundle purge.
	CleanupInterval time.Duration
	// BundleMaxAge is the purge bound for bundles that never became ready.
	BundleMaxAge time.Duration
	// MaxPerDrain caps how many queue items one drain hands to the
	// dispatcher per user.
	MaxPerDrain int
}

func (c Config) withDefaults() Config {
	if c.DrainInterval <= 0 {
		c.DrainInterval = 30 * time.Second
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 10 * time.Minute
	}
	if c.BundleMaxAge <= 0 {
		c.BundleMaxAge = 24 * time.Hour
	}
	if c.MaxPerDrain <= 0 {
		c.MaxPerDrain = 50
	}
	return c
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	met     *metrics.Metrics
	parser  cron.Parser
	queue   *queue.Service
	bundler *bundle.Service
	disp    *dispatch.Service

	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, q *queue.Service, b *bundle.Service, d *dispatch.Service, log logx.Logger, bus eventbus.Bus, met *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg.withDefaults(),
		log: log,
		bus: bus,
		met: met,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		queue:   q,
		bundler: b,
		disp:    d,
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg.withDefaults()
	restart := s.c != nil &&
		(old.DrainInterval != s.cfg.DrainInterval || old.CleanupInterval != s.cfg.CleanupInterval || old.Enabled != s.cfg.Enabled)
	ctx := s.runCtx
	s.mu.Unlock()

	if restart {
		s.Stop(context.Background())
		if ctx != nil {
			s.Start(ctx)
		}
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		// already running
		return
	}
	if !s.cfg.Enabled {
		return
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx

	s.c = cron.New(cron.WithParser(s.parser))
	mustAdd := func(spec string, name string, fn func(context.Context)) {
		_, err := s.c.AddFunc(spec, func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in poller job", logx.String("job", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			select {
			case <-runCtx.Done():
				return
			default:
			}
			fn(runCtx)
		})
		if err != nil {
			// Specs are built from validated durations; a failure here is a bug.
			s.log.Error("bad cron spec", logx.String("job", name), logx.String("spec", spec), logx.Err(err))
		}
	}

	mustAdd(everySpec(s.cfg.DrainInterval), "drain", s.Drain)
	mustAdd(everySpec(s.cfg.CleanupInterval), "cleanup", s.cleanup)

	s.c.Start()
	s.log.Info("poller started",
		logx.Duration("drain_interval", s.cfg.DrainInterval),
		logx.Duration("cleanup_interval", s.cfg.CleanupInterval),
	)
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("poller stopped")
}

// Drain hands every due queue item and every ready bundle to the dispatcher.
// Exported so an admin surface can force a pass outside the cron cadence.
func (s *Service) Drain(ctx context.Context) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	// A disabled dispatcher accepts nothing; leave the queues untouched
	// instead of flushing and restoring every item each pass.
	if !s.disp.Enabled() {
		return
	}

	for _, userID := range s.queue.Users() {
		items := s.queue.FlushReady(userID)
		if len(items) > cfg.MaxPerDrain {
			// Re-queue the overflow; next pass picks it up.
			for _, it := range items[cfg.MaxPerDrain:] {
				s.queue.RestoreItem(it)
			}
			items = items[:cfg.MaxPerDrain]
		}
		for _, it := range items {
			it := it
			err := s.disp.Dispatch(ctx, dispatch.Delivery{
				ID:           it.ID,
				Kind:         dispatch.KindQueued,
				UserID:       userID,
				Priority:     it.Priority,
				Notification: &it.Notification,
			})
			if err != nil {
				s.requeue(userID, it, err)
				continue
			}
			if s.met != nil {
				s.met.Flushed.Inc()
			}
			s.publish(eventbus.EventQueueFlushed, userID, it.ID)
		}
	}

	for _, userID := range s.bundler.Users() {
		for _, rb := range s.bundler.ReadyBundles(userID) {
			rb := rb
			err := s.disp.Dispatch(ctx, dispatch.Delivery{
				ID:     bundleDeliveryID(userID, rb),
				Kind:   dispatch.KindBundle,
				UserID: userID,
				Bundle: &rb,
			})
			if err != nil {
				// Bundles are not re-queued: the next notifications for the
				// same key start a fresh bundle.
				s.log.Warn("bundle dispatch failed", logx.String("user", userID), logx.String("key", rb.Key), logx.Err(err))
				continue
			}
			if s.met != nil {
				s.met.BundlesReady.Inc()
			}
			s.publish(eventbus.EventBundleReady, userID, rb.Key)
		}
	}
}

// requeue restores a flushed item the dispatcher could not take. Every
// dispatcher sentinel is transient from the queue's point of view; dropping
// the item here would break at-least-once delivery.
func (s *Service) requeue(userID string, it queue.Item, err error) {
	if errors.Is(err, dispatch.ErrQueueFull) || errors.Is(err, dispatch.ErrStopped) || errors.Is(err, dispatch.ErrDisabled) {
		s.queue.RestoreItem(it)
		return
	}
	s.log.Warn("queue item dispatch failed", logx.String("user", userID), logx.String("id", it.ID), logx.Err(err))
}

func (s *Service) cleanup(context.Context) {
	s.mu.Lock()
	maxAge := s.cfg.BundleMaxAge
	s.mu.Unlock()
	s.bundler.CleanupOldBundles(maxAge)
}

func (s *Service) publish(typ, userID, id string) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: DrainEvent{UserID: userID, ID: id, At: now}})
}

// DrainEvent is the bus payload for queue.flushed and bundle.ready events.
type DrainEvent struct {
	UserID string
	ID     string
	At     time.Time
}

func everySpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

func bundleDeliveryID(userID string, rb bundle.ReadyBundle) string {
	return fmt.Sprintf("bundle:%s:%s:%d", userID, rb.Key, rb.LastUpdatedAt.UnixNano())
}
