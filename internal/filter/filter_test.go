package filter

import (
	"testing"
	"time"

	"hushd/internal/notification"
	"hushd/pkg/logx"
)

func newTestFilter() *Filter {
	return New(Config{}, logx.Nop())
}

// Tuesday 2024-12-10.
func at(hour, min int) time.Time {
	return time.Date(2024, 12, 10, hour, min, 0, 0, time.UTC)
}

func TestAnalyzePriority(t *testing.T) {
	t.Parallel()
	f := newTestFilter()

	tests := []struct {
		name string
		text string
		app  string
		want notification.Priority
	}{
		{name: "critical keyword", text: "URGENT: Security alert detected", app: "Security", want: notification.PriorityCritical},
		{name: "critical beats work app", text: "deadline moved", app: "slack", want: notification.PriorityCritical},
		{name: "high keyword", text: "your interview is tomorrow", app: "Mail", want: notification.PriorityHigh},
		{name: "work app", text: "thread reply", app: "Slack", want: notification.PriorityHigh},
		{name: "low keyword", text: "weekly newsletter", app: "Mail", want: notification.PriorityLow},
		{name: "entertainment app", text: "new video", app: "YouTube", want: notification.PriorityLow},
		{name: "social app", text: "new message from friend", app: "WhatsApp", want: notification.PriorityMedium},
		{name: "default medium", text: "hello", app: "UnknownApp", want: notification.PriorityMedium},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := f.Analyze(Input{Notification: notification.Notification{
				Text: tt.text, AppName: tt.app, UserID: "u1", ReceivedAt: at(10, 0),
			}})
			if res.Priority != tt.want {
				t.Fatalf("priority = %v, want %v", res.Priority, tt.want)
			}
		})
	}
}

func TestAnalyzeContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		at      time.Time
		focus   bool
		meeting bool
		want    notification.Context
	}{
		{name: "focus wins", at: at(10, 0), focus: true, meeting: true, want: notification.ContextFocusMode},
		{name: "meeting", at: at(10, 0), meeting: true, want: notification.ContextMeeting},
		{name: "late night", at: at(23, 30), want: notification.ContextSleeping},
		{name: "early morning", at: at(6, 59), want: notification.ContextSleeping},
		{name: "weekday work hours", at: at(10, 0), want: notification.ContextWorking},
		{name: "morning commute", at: at(8, 0), want: notification.ContextCommuting},
		{name: "evening commute before 19", at: at(18, 30), want: notification.ContextCommuting},
		{name: "weekday evening leisure", at: at(20, 0), want: notification.ContextLeisure},
		// Saturday 2024-12-14: no WORKING outside weekdays.
		{name: "weekend midday leisure", at: time.Date(2024, 12, 14, 10, 0, 0, 0, time.UTC), want: notification.ContextLeisure},
		{name: "weekend commute window", at: time.Date(2024, 12, 14, 8, 0, 0, 0, time.UTC), want: notification.ContextCommuting},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, _ := inferContext(tt.at, tt.focus, tt.meeting)
			if got != tt.want {
				t.Fatalf("context = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeActionTable(t *testing.T) {
	t.Parallel()
	f := newTestFilter()

	tests := []struct {
		name    string
		text    string
		app     string
		at      time.Time
		focus   bool
		meeting bool
		want    notification.Action
	}{
		{name: "critical always shows", text: "security breach", app: "YouTube", at: at(23, 30), want: notification.ActionShowImmediately},
		{name: "focus high work app shows", text: "meeting in 5", app: "Slack", at: at(10, 0), focus: true, want: notification.ActionShowImmediately},
		{name: "focus other defers", text: "new like", app: "Instagram", at: at(10, 0), focus: true, want: notification.ActionDefer},
		{name: "sleeping silences", text: "new message from friend", app: "WhatsApp", at: at(23, 30), want: notification.ActionSilence},
		{name: "meeting high bundles", text: "call me asap", app: "Mail", at: at(10, 0), meeting: true, want: notification.ActionBundle},
		{name: "meeting medium defers", text: "hello", app: "UnknownApp", at: at(10, 0), meeting: true, want: notification.ActionDefer},
		{name: "working work app shows", text: "thread reply", app: "Slack", at: at(10, 0), want: notification.ActionShowImmediately},
		{name: "working social bundles", text: "new like", app: "Facebook", at: at(10, 0), want: notification.ActionBundle},
		{name: "working other defers", text: "hello", app: "UnknownApp", at: at(10, 0), want: notification.ActionDefer},
		{name: "commuting high shows", text: "interview now", app: "Mail", at: at(8, 0), want: notification.ActionShowImmediately},
		{name: "commuting medium bundles", text: "hello", app: "UnknownApp", at: at(8, 0), want: notification.ActionBundle},
		{name: "leisure medium shows", text: "hello", app: "UnknownApp", at: at(20, 0), want: notification.ActionShowImmediately},
		{name: "leisure low bundles", text: "flash sale", app: "Mail", at: at(20, 0), want: notification.ActionBundle},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res := f.Analyze(Input{
				Notification: notification.Notification{Text: tt.text, AppName: tt.app, UserID: "u1", ReceivedAt: tt.at},
				FocusMode:    tt.focus,
				InMeeting:    tt.meeting,
			})
			if res.Action != tt.want {
				t.Fatalf("action = %v, want %v (priority=%v context=%v)", res.Action, tt.want, res.Priority, res.Context)
			}
			switch res.Action {
			case notification.ActionShowImmediately, notification.ActionDefer, notification.ActionBundle,
				notification.ActionSilence, notification.ActionBlock:
			default:
				t.Fatalf("action %v outside the closed set", res.Action)
			}
		})
	}
}

func TestDeferUntil(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  notification.Context
		at   time.Time
		want time.Time
	}{
		{name: "sleeping before 8 rolls same day", ctx: notification.ContextSleeping, at: at(2, 0), want: at(8, 0)},
		{name: "sleeping after 8 rolls next day", ctx: notification.ContextSleeping, at: at(23, 30), want: time.Date(2024, 12, 11, 8, 0, 0, 0, time.UTC)},
		{name: "focus plus hour", ctx: notification.ContextFocusMode, at: at(10, 0), want: at(11, 0)},
		{name: "working morning to noon", ctx: notification.ContextWorking, at: at(9, 30), want: at(12, 0)},
		{name: "working afternoon to 18", ctx: notification.ContextWorking, at: at(14, 0), want: at(18, 0)},
		{name: "default half hour", ctx: notification.ContextLeisure, at: at(20, 0), want: at(20, 30)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := deferUntil(tt.ctx, tt.at)
			if !got.Equal(tt.want) {
				t.Fatalf("deferUntil = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeScorerMetadata(t *testing.T) {
	t.Parallel()
	f := newTestFilter()
	f.SetScorer(func(text, app string, atTime time.Time) float64 { return 0.75 })

	res := f.Analyze(Input{Notification: notification.Notification{
		Text: "hello", AppName: "UnknownApp", UserID: "u1", ReceivedAt: at(10, 0),
	}})
	if res.Metadata["urgency_score"] != "0.750" {
		t.Fatalf("urgency_score = %q, want %q", res.Metadata["urgency_score"], "0.750")
	}
	// Advisory only: the score must not change the table's verdict.
	if res.Action != notification.ActionDefer {
		t.Fatalf("action = %v, want defer", res.Action)
	}
}

func TestAnalyzeSpecExamples(t *testing.T) {
	t.Parallel()
	f := newTestFilter()

	t.Run("urgent security alert", func(t *testing.T) {
		t.Parallel()
		res := f.Analyze(Input{Notification: notification.Notification{
			Text: "URGENT: Security alert detected", Sender: "Security", AppName: "Security",
			UserID: "u1", ReceivedAt: time.Date(2024, 12, 10, 10, 0, 0, 0, time.UTC),
		}})
		if res.Priority != notification.PriorityCritical || res.Action != notification.ActionShowImmediately {
			t.Fatalf("got priority=%v action=%v", res.Priority, res.Action)
		}
	})

	t.Run("late friday message", func(t *testing.T) {
		t.Parallel()
		// Friday 2024-12-13 23:30.
		res := f.Analyze(Input{Notification: notification.Notification{
			Text: "New message from friend", AppName: "WhatsApp",
			UserID: "u1", ReceivedAt: time.Date(2024, 12, 13, 23, 30, 0, 0, time.UTC),
		}})
		if res.Context != notification.ContextSleeping || res.Action != notification.ActionSilence {
			t.Fatalf("got context=%v action=%v", res.Context, res.Action)
		}
	})
}
