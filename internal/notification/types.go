package notification

import (
	"fmt"
	"strings"
	"time"
)

// Notification is the unit flowing through the pipeline.
// ID is assigned at ingest; the dispatcher is idempotent on it.
type Notification struct {
	ID         string
	UserID     string
	AppName    string
	Sender     string
	Text       string
	ReceivedAt time.Time

	IsCall  bool
	IsAlarm bool
}

// Priority orders notifications by urgency. Lower value pops first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// MoreUrgent reports whether p outranks other.
func (p Priority) MoreUrgent(other Priority) bool { return p < other }

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, &ValidationError{Field: "priority", Reason: "unknown priority " + quote(s)}
	}
}

// Context is the inferred user state driving the action table.
type Context int

const (
	ContextFocusMode Context = iota
	ContextMeeting
	ContextSleeping
	ContextCommuting
	ContextWorking
	ContextLeisure
)

func (c Context) String() string {
	switch c {
	case ContextFocusMode:
		return "focus_mode"
	case ContextMeeting:
		return "meeting"
	case ContextSleeping:
		return "sleeping"
	case ContextCommuting:
		return "commuting"
	case ContextWorking:
		return "working"
	case ContextLeisure:
		return "leisure"
	default:
		return fmt.Sprintf("context(%d)", int(c))
	}
}

// Action is the disposition decided for a notification.
type Action int

const (
	ActionShowImmediately Action = iota
	ActionDefer
	ActionBundle
	ActionSilence
	ActionBlock
)

func (a Action) String() string {
	switch a {
	case ActionShowImmediately:
		return "show_immediately"
	case ActionDefer:
		return "defer"
	case ActionBundle:
		return "bundle"
	case ActionSilence:
		return "silence"
	case ActionBlock:
		return "block"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// ClassificationResult is the filter's verdict for one notification.
type ClassificationResult struct {
	Priority   Priority
	Context    Context
	Action     Action
	DeferUntil time.Time // zero unless Action == ActionDefer
	Reasoning  string
	Metadata   map[string]string
}

// DeliveryStrategy decides when a queued notification becomes due.
type DeliveryStrategy int

const (
	StrategyImmediate DeliveryStrategy = iota
	StrategyBatchHourly
	StrategyBatchDaily
	StrategySmartTiming
)

func (s DeliveryStrategy) String() string {
	switch s {
	case StrategyImmediate:
		return "immediate"
	case StrategyBatchHourly:
		return "batch_hourly"
	case StrategyBatchDaily:
		return "batch_daily"
	case StrategySmartTiming:
		return "smart_timing"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

func ParseDeliveryStrategy(s string) (DeliveryStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "immediate":
		return StrategyImmediate, nil
	case "batch_hourly":
		return StrategyBatchHourly, nil
	case "batch_daily":
		return StrategyBatchDaily, nil
	case "smart_timing":
		return StrategySmartTiming, nil
	default:
		return 0, &ValidationError{Field: "strategy", Reason: "unknown delivery strategy " + quote(s)}
	}
}

// BundleStrategy controls how aggressively notifications are grouped.
type BundleStrategy int

const (
	BundleAggressive BundleStrategy = iota
	BundleModerate
	BundleConservative
)

func (s BundleStrategy) String() string {
	switch s {
	case BundleAggressive:
		return "aggressive"
	case BundleModerate:
		return "moderate"
	case BundleConservative:
		return "conservative"
	default:
		return fmt.Sprintf("bundle_strategy(%d)", int(s))
	}
}

func ParseBundleStrategy(s string) (BundleStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aggressive":
		return BundleAggressive, nil
	case "moderate":
		return BundleModerate, nil
	case "conservative":
		return BundleConservative, nil
	default:
		return 0, &ValidationError{Field: "bundle_strategy", Reason: "unknown bundle strategy " + quote(s)}
	}
}

func quote(s string) string { return fmt.Sprintf("%q", s) }
