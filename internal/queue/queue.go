// Package queue holds per-user delivery queues. Each user owns one indexed
// min-heap keyed by (priority, enqueue order); due-time is evaluated lazily
// against the clock, no timers run here. Priority ordering dominates: a
// dequeue stops at the first not-yet-due head even when due items of lower
// priority sit behind it.
package queue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hushd/internal/notification"
	"hushd/pkg/logx"
)

// Status tracks a queue item's lifecycle. Delivered is terminal; the item is
// removed from its heap and only the returned copy carries the state.
type Status int

const (
	StatusQueued Status = iota
	StatusReady
	StatusDelivered
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusReady:
		return "ready"
	case StatusDelivered:
		return "delivered"
	default:
		return "status(?)"
	}
}

// Item is one queued notification.
type Item struct {
	ID           string
	UserID       string
	Notification notification.Notification
	Priority     notification.Priority
	Strategy     notification.DeliveryStrategy
	EnqueuedAt   time.Time
	DeliverAt    time.Time
	Status       Status
	Attempts     int

	seq   uint64
	index int
}

// Receipt is returned from Enqueue.
type Receipt struct {
	QueueID   string
	Position  int // 1-based rank the item would pop at
	DeliverAt time.Time
}

// Stats summarizes one user's queue for the admin surface.
type Stats struct {
	Depth         int
	Due           int
	NextDeliverAt time.Time
}

type userQueue struct {
	mu    sync.Mutex
	items itemHeap
	byID  map[string]*Item
	seq   uint64
}

type Service struct {
	mu    sync.Mutex
	users map[string]*userQueue
	cfg   Config
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		users: map[string]*userQueue{},
		cfg:   cfg.withDefaults(),
		log:   log,
		now:   time.Now,
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) user(id string) *userQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		u = &userQueue{byID: map[string]*Item{}}
		s.users[id] = u
	}
	return u
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Users lists every user with a queue.
func (s *Service) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Enqueue computes the strategy's deliver-at and pushes the item.
func (s *Service) Enqueue(userID string, n notification.Notification, prio notification.Priority, strategy notification.DeliveryStrategy) (Receipt, error) {
	if !prio.Valid() {
		return Receipt{}, &notification.ValidationError{Field: "priority", Reason: "out of range"}
	}
	switch strategy {
	case notification.StrategyImmediate, notification.StrategyBatchHourly,
		notification.StrategyBatchDaily, notification.StrategySmartTiming:
	default:
		return Receipt{}, &notification.ValidationError{Field: "strategy", Reason: "unknown delivery strategy"}
	}

	now := s.now()
	deliverAt := s.config().deliverAt(strategy, now)
	return s.push(userID, n, prio, strategy, now, deliverAt), nil
}

// EnqueueAt pushes an item with an explicit deliver-at, bypassing strategy
// math. The pipeline uses it for DEFER dispositions.
func (s *Service) EnqueueAt(userID string, n notification.Notification, prio notification.Priority, deliverAt time.Time) (Receipt, error) {
	if !prio.Valid() {
		return Receipt{}, &notification.ValidationError{Field: "priority", Reason: "out of range"}
	}
	return s.push(userID, n, prio, notification.StrategyImmediate, s.now(), deliverAt), nil
}

func (s *Service) push(userID string, n notification.Notification, prio notification.Priority, strategy notification.DeliveryStrategy, now, deliverAt time.Time) Receipt {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.seq++
	it := &Item{
		ID:           uuid.NewString(),
		UserID:       userID,
		Notification: n,
		Priority:     prio,
		Strategy:     strategy,
		EnqueuedAt:   now,
		DeliverAt:    deliverAt,
		Status:       StatusQueued,
		seq:          u.seq,
	}
	heap.Push(&u.items, it)
	u.byID[it.ID] = it

	s.log.Debug("enqueued",
		logx.String("user", userID),
		logx.String("id", it.ID),
		logx.String("priority", prio.String()),
		logx.String("strategy", strategy.String()),
		logx.Time("deliver_at", deliverAt),
	)
	return Receipt{QueueID: it.ID, Position: u.rankLocked(it), DeliverAt: deliverAt}
}

// rankLocked is the 1-based pop rank: one plus the number of items ordering
// strictly ahead. O(n), acceptable at per-user queue sizes.
func (u *userQueue) rankLocked(it *Item) int {
	rank := 1
	for _, other := range u.items {
		if other == it {
			continue
		}
		if other.Priority < it.Priority || (other.Priority == it.Priority && other.seq < it.seq) {
			rank++
		}
	}
	return rank
}

// RestoreItem re-inserts a persisted item verbatim (id and order included).
func (s *Service) RestoreItem(it Item) {
	u := s.user(it.UserID)
	u.mu.Lock()
	defer u.mu.Unlock()

	cp := it
	if cp.seq == 0 {
		u.seq++
		cp.seq = u.seq
	} else if cp.seq > u.seq {
		u.seq = cp.seq
	}
	cp.Status = StatusQueued
	heap.Push(&u.items, &cp)
	u.byID[cp.ID] = &cp
}

// Dequeue pops up to max due items in priority order. It stops at the first
// not-yet-due head; popped items are terminal.
func (s *Service) Dequeue(userID string, max int) []Item {
	if max <= 0 {
		return nil
	}
	now := s.now()
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	var out []Item
	for len(out) < max && u.items.Len() > 0 {
		head := u.items[0]
		if head.DeliverAt.After(now) {
			break
		}
		it := heap.Pop(&u.items).(*Item)
		delete(u.byID, it.ID)
		cp := *it
		cp.Status = StatusDelivered
		cp.Attempts++
		out = append(out, cp)
	}
	return out
}

// Peek returns the head item without removing it.
func (s *Service) Peek(userID string) (Item, bool) {
	now := s.now()
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.items.Len() == 0 {
		return Item{}, false
	}
	cp := *u.items[0]
	if !cp.DeliverAt.After(now) {
		cp.Status = StatusReady
	}
	return cp, true
}

// Cancel removes a pending item. Returns false when the id was already
// delivered or never existed; the queue is untouched in that case.
func (s *Service) Cancel(userID, queueID string) bool {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	it, ok := u.byID[queueID]
	if !ok {
		return false
	}
	heap.Remove(&u.items, it.index)
	delete(u.byID, queueID)
	return true
}

// UpdatePriority re-keys a pending item, keeping its original enqueue order
// for FIFO tie-breaks.
func (s *Service) UpdatePriority(userID, queueID string, prio notification.Priority) error {
	if !prio.Valid() {
		return &notification.ValidationError{Field: "priority", Reason: "out of range"}
	}
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	it, ok := u.byID[queueID]
	if !ok {
		return &notification.NotFoundError{Kind: "queue_item", ID: queueID}
	}
	it.Priority = prio
	heap.Fix(&u.items, it.index)
	return nil
}

// FlushReady drains every currently-due item regardless of count, in
// priority order, and rebuilds the heap from the remainder.
func (s *Service) FlushReady(userID string) []Item {
	now := s.now()
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	var due []*Item
	var rest itemHeap
	for _, it := range u.items {
		if it.DeliverAt.After(now) {
			rest = append(rest, it)
		} else {
			due = append(due, it)
		}
	}
	if len(due) == 0 {
		return nil
	}

	for i, it := range rest {
		it.index = i
	}
	u.items = rest
	heap.Init(&u.items)

	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].seq < due[j].seq
	})

	out := make([]Item, 0, len(due))
	for _, it := range due {
		delete(u.byID, it.ID)
		cp := *it
		cp.Status = StatusDelivered
		cp.Attempts++
		out = append(out, cp)
	}
	s.log.Debug("flushed ready items", logx.String("user", userID), logx.Int("count", len(out)))
	return out
}

// PendingItems snapshots all queued items (persistence checkpoint).
func (s *Service) PendingItems(userID string) []Item {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Item, 0, u.items.Len())
	for _, it := range u.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Stats summarizes a user's queue.
func (s *Service) Stats(userID string) Stats {
	now := s.now()
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	st := Stats{Depth: u.items.Len()}
	for _, it := range u.items {
		if !it.DeliverAt.After(now) {
			st.Due++
		}
		if st.NextDeliverAt.IsZero() || it.DeliverAt.Before(st.NextDeliverAt) {
			st.NextDeliverAt = it.DeliverAt
		}
	}
	return st
}
