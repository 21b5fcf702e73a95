package dispatch

import (
	"context"
	"time"

	"hushd/internal/bundle"
	"hushd/internal/notification"
)

// Kind says what a delivery carries.
type Kind int

const (
	KindImmediate Kind = iota // show-immediately disposition
	KindQueued                // drained queue item
	KindBundle                // drained bundle
)

func (k Kind) String() string {
	switch k {
	case KindImmediate:
		return "immediate"
	case KindQueued:
		return "queued"
	case KindBundle:
		return "bundle"
	default:
		return "kind(?)"
	}
}

// Delivery is one finalized disposition headed for push delivery.
// Exactly one of Notification/Bundle is set, per Kind.
type Delivery struct {
	ID       string // idempotency key; the receiver dedups on it
	Kind     Kind
	UserID   string
	Priority notification.Priority

	Notification *notification.Notification
	Bundle       *bundle.ReadyBundle

	Reason string
}

// Sink performs the actual push delivery. Implementations must be safe for
// concurrent use.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// DeliveryEvent is the bus payload for dispatch.* events.
type DeliveryEvent struct {
	Kind   string
	UserID string
	ID     string
	At     time.Time
	Error  string
}

type Config struct {
	Enabled    bool
	Workers    int
	QueueSize  int
	RatePerSec int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// DedupWindow suppresses re-dispatch of the same delivery id. This is
	// the idempotency backstop for the queue's at-least-once hand-off.
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// HistoryItem records one completed delivery for the status surface.
type HistoryItem struct {
	At     time.Time
	Kind   string
	UserID string
	ID     string
}
