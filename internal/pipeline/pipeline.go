// Package pipeline wires ingestion to the processing stages: classify,
// gate through DND, then hand off to the queue, the bundler or the
// dispatcher according to the decided action.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hushd/internal/bundle"
	"hushd/internal/dispatch"
	"hushd/internal/dnd"
	"hushd/internal/eventbus"
	"hushd/internal/filter"
	"hushd/internal/metrics"
	"hushd/internal/notification"
	"hushd/internal/queue"
	"hushd/pkg/logx"
)

// Ingest is one raw inbound notification. Timestamp is RFC3339; empty means
// "now".
type Ingest struct {
	ID        string
	UserID    string
	AppName   string
	Sender    string
	Text      string
	Timestamp string
	IsCall    bool
	IsAlarm   bool
}

// Outcome reports what the pipeline did with one notification.
type Outcome struct {
	NotificationID string
	Action         notification.Action
	Priority       notification.Priority
	Context        notification.Context
	Reasoning      string

	// Populated per action.
	QueueID    string
	DeferUntil time.Time
	BundleKey  string
	Delivered  bool
}

type Config struct {
	// BundleStrategy groups BUNDLE dispositions. Defaults to MODERATE.
	BundleStrategy notification.BundleStrategy
}

// FocusFunc reports whether the user has focus mode on.
type FocusFunc func(userID string) bool

// MeetingFunc reports whether the user is in a meeting at the given time.
type MeetingFunc func(userID string, at time.Time) bool

type Service struct {
	mu  sync.Mutex
	cfg Config

	filter  *filter.Filter
	dnd     *dnd.Service
	queue   *queue.Service
	bundler *bundle.Service
	disp    *dispatch.Service

	focus   FocusFunc
	meeting MeetingFunc

	log logx.Logger
	bus eventbus.Bus
	met *metrics.Metrics
}

func New(cfg Config, f *filter.Filter, d *dnd.Service, q *queue.Service, b *bundle.Service, disp *dispatch.Service, log logx.Logger, bus eventbus.Bus, met *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		filter:  f,
		dnd:     d,
		queue:   q,
		bundler: b,
		disp:    disp,
		log:     log,
		bus:     bus,
		met:     met,
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// SetFocusProvider installs the focus-mode collaborator. Pass nil to remove.
func (s *Service) SetFocusProvider(fn FocusFunc) {
	s.mu.Lock()
	s.focus = fn
	s.mu.Unlock()
}

// SetMeetingProvider installs the calendar collaborator. Pass nil to remove.
func (s *Service) SetMeetingProvider(fn MeetingFunc) {
	s.mu.Lock()
	s.meeting = fn
	s.mu.Unlock()
}

// Process runs one notification through the full pipeline.
func (s *Service) Process(ctx context.Context, in Ingest) (Outcome, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		default:
		}
	}

	n, err := s.toNotification(in)
	if err != nil {
		return Outcome{}, err
	}

	s.mu.Lock()
	cfg := s.cfg
	focus := s.focus
	meeting := s.meeting
	s.mu.Unlock()

	fin := filter.Input{Notification: n}
	if focus != nil {
		fin.FocusMode = focus(n.UserID)
	}
	if meeting != nil {
		fin.InMeeting = meeting(n.UserID, n.ReceivedAt)
	}
	res := s.filter.Analyze(fin)

	if s.met != nil {
		s.met.Dispositions.WithLabelValues(res.Action.String()).Inc()
	}
	s.publish(eventbus.EventClassified, n, res.Action, res.Reasoning)

	out := Outcome{
		NotificationID: n.ID,
		Action:         res.Action,
		Priority:       res.Priority,
		Context:        res.Context,
		Reasoning:      res.Reasoning,
	}

	switch res.Action {
	case notification.ActionShowImmediately:
		return s.deliverImmediate(ctx, n, res, out)

	case notification.ActionDefer:
		receipt, err := s.queue.EnqueueAt(n.UserID, n, res.Priority, res.DeferUntil)
		if err != nil {
			return Outcome{}, err
		}
		out.QueueID = receipt.QueueID
		out.DeferUntil = receipt.DeliverAt
		if s.met != nil {
			s.met.Enqueued.Inc()
		}
		s.publish(eventbus.EventQueueEnqueued, n, res.Action, "deferred until "+receipt.DeliverAt.Format(time.RFC3339))
		return out, nil

	case notification.ActionBundle:
		if !bundle.ShouldBundle(n, res.Priority) {
			// Calls and alarms bypass bundling even when the context says
			// bundle; they go out now, DND permitting.
			return s.deliverImmediate(ctx, n, res, out)
		}
		added, err := s.bundler.Add(n.UserID, n, res.Priority, bundleStrategyOr(cfg.BundleStrategy))
		if err != nil {
			return Outcome{}, err
		}
		out.BundleKey = added.BundleKey
		s.publish(eventbus.EventBundleAdded, n, res.Action, "bundle "+added.BundleKey)
		return out, nil

	case notification.ActionSilence:
		s.publish(eventbus.EventSilenced, n, res.Action, res.Reasoning)
		return out, nil

	default: // notification.ActionBlock
		s.publish(eventbus.EventBlocked, n, res.Action, res.Reasoning)
		return out, nil
	}
}

// deliverImmediate gates a show-immediately disposition through DND and
// dispatches it when allowed. A DND block downgrades the outcome to BLOCK.
func (s *Service) deliverImmediate(ctx context.Context, n notification.Notification, res notification.ClassificationResult, out Outcome) (Outcome, error) {
	verdict := s.dnd.ShouldAllow(n.UserID, dnd.AllowRequest{
		Type:       requestType(n),
		IsCritical: res.Priority == notification.PriorityCritical,
		Sender:     n.Sender,
	})
	if !verdict.Allowed {
		out.Action = notification.ActionBlock
		out.Reasoning = out.Reasoning + "; " + verdict.Reason
		if s.met != nil {
			s.met.DNDBlocked.Inc()
		}
		s.publish(eventbus.EventDNDBlocked, n, out.Action, verdict.Reason)
		return out, nil
	}

	err := s.disp.Dispatch(ctx, dispatch.Delivery{
		ID:           n.ID,
		Kind:         dispatch.KindImmediate,
		UserID:       n.UserID,
		Priority:     res.Priority,
		Notification: &n,
		Reason:       verdict.Reason,
	})
	switch err {
	case nil:
		out.Delivered = true
	case dispatch.ErrDisabled:
		// No push transport configured; the disposition itself still stands.
	default:
		s.log.Warn("immediate dispatch failed", logx.String("user", n.UserID), logx.String("id", n.ID), logx.Err(err))
	}
	return out, nil
}

func (s *Service) toNotification(in Ingest) (notification.Notification, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return notification.Notification{}, &notification.ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(in.AppName) == "" {
		return notification.Notification{}, &notification.ValidationError{Field: "app_name", Reason: "must not be empty"}
	}

	at := time.Now()
	if in.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, in.Timestamp)
		if err != nil {
			return notification.Notification{}, &notification.ValidationError{Field: "timestamp", Reason: "not RFC3339: " + err.Error()}
		}
		at = t
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	return notification.Notification{
		ID:         id,
		UserID:     in.UserID,
		AppName:    in.AppName,
		Sender:     in.Sender,
		Text:       in.Text,
		ReceivedAt: at,
		IsCall:     in.IsCall,
		IsAlarm:    in.IsAlarm,
	}, nil
}

func (s *Service) publish(typ string, n notification.Notification, act notification.Action, detail string) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ProcessEvent{
		UserID: n.UserID,
		ID:     n.ID,
		App:    n.AppName,
		Action: act.String(),
		Detail: detail,
		At:     now,
	}})
}

// ProcessEvent is the bus payload for pipeline.* events.
type ProcessEvent struct {
	UserID string
	ID     string
	App    string
	Action string
	Detail string
	At     time.Time
}

func requestType(n notification.Notification) string {
	switch {
	case n.IsCall:
		return "call"
	case n.IsAlarm:
		return "alarm"
	default:
		return "message"
	}
}

func bundleStrategyOr(s notification.BundleStrategy) notification.BundleStrategy {
	switch s {
	case notification.BundleAggressive, notification.BundleModerate, notification.BundleConservative:
		return s
	default:
		return notification.BundleModerate
	}
}
