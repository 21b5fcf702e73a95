package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"hushd/internal/dnd"
	"hushd/internal/queue"
	"hushd/internal/storage"
	"hushd/pkg/logx"
)

// persister checkpoints durable state (DND schedules and queued items) into
// the storage layer and restores it on startup. Bundles and manual DND
// sessions are deliberately ephemeral.
type persister struct {
	store storage.Store
	dnd   *dnd.Service
	queue *queue.Service
	log   logx.Logger

	interval time.Duration

	// mu serializes Restore/Checkpoint: the ticker loop and the final
	// checkpoint during shutdown may overlap.
	mu sync.Mutex
	// last written keys per kind, used to delete entries that disappeared
	// from the live state since the previous checkpoint.
	last map[storage.Kind]map[entryKey]struct{}
}

type entryKey struct {
	userID string
	id     string
}

func newPersister(store storage.Store, d *dnd.Service, q *queue.Service, log logx.Logger) *persister {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &persister{
		store:    store,
		dnd:      d,
		queue:    q,
		log:      log,
		interval: 30 * time.Second,
		last:     map[storage.Kind]map[entryKey]struct{}{},
	}
}

// Restore loads persisted schedules and queue items back into the services.
// Corrupt entries are skipped, not fatal.
func (p *persister) Restore(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	scheds, err := p.store.List(ctx, storage.KindSchedule)
	if err != nil {
		return err
	}
	restored := 0
	for _, e := range scheds {
		var sc dnd.Schedule
		if err := json.Unmarshal(e.Data, &sc); err != nil {
			p.log.Warn("skipping corrupt schedule entry", logx.String("user", e.UserID), logx.String("id", e.ID), logx.Err(err))
			continue
		}
		p.dnd.RestoreSchedule(sc)
		p.remember(storage.KindSchedule, entryKey{e.UserID, e.ID})
		restored++
	}

	items, err := p.store.List(ctx, storage.KindQueueItem)
	if err != nil {
		return err
	}
	for _, e := range items {
		var it queue.Item
		if err := json.Unmarshal(e.Data, &it); err != nil {
			p.log.Warn("skipping corrupt queue entry", logx.String("user", e.UserID), logx.String("id", e.ID), logx.Err(err))
			continue
		}
		p.queue.RestoreItem(it)
		p.remember(storage.KindQueueItem, entryKey{e.UserID, e.ID})
		restored++
	}

	if restored > 0 {
		p.log.Info("state restored", logx.Int("entries", restored))
	}
	return nil
}

// Run checkpoints on a fixed interval until ctx is canceled. The final
// checkpoint happens in App.Stop, not here.
func (p *persister) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.Checkpoint(context.Background()); err != nil {
				p.log.Warn("checkpoint failed", logx.Err(err))
			}
		}
	}
}

// Checkpoint writes the current durable state and prunes entries that no
// longer exist live.
func (p *persister) Checkpoint(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur := map[storage.Kind]map[entryKey]struct{}{
		storage.KindSchedule:  {},
		storage.KindQueueItem: {},
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, user := range p.dnd.Users() {
		for _, sc := range p.dnd.Schedules(user) {
			data, err := json.Marshal(sc)
			if err != nil {
				keep(err)
				continue
			}
			keep(p.store.Put(ctx, storage.KindSchedule, storage.Entry{UserID: user, ID: sc.ID, Data: data}))
			cur[storage.KindSchedule][entryKey{user, sc.ID}] = struct{}{}
		}
	}

	for _, user := range p.queue.Users() {
		for _, it := range p.queue.PendingItems(user) {
			data, err := json.Marshal(it)
			if err != nil {
				keep(err)
				continue
			}
			keep(p.store.Put(ctx, storage.KindQueueItem, storage.Entry{UserID: user, ID: it.ID, Data: data}))
			cur[storage.KindQueueItem][entryKey{user, it.ID}] = struct{}{}
		}
	}

	// Prune entries gone since the previous checkpoint.
	for kind, keys := range p.last {
		for k := range keys {
			if _, ok := cur[kind][k]; !ok {
				keep(p.store.Delete(ctx, kind, k.userID, k.id))
			}
		}
	}
	p.last = cur
	return firstErr
}

func (p *persister) remember(kind storage.Kind, k entryKey) {
	set, ok := p.last[kind]
	if !ok {
		set = map[entryKey]struct{}{}
		p.last[kind] = set
	}
	set[k] = struct{}{}
}
