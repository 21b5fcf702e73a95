// Package filter classifies incoming notifications: it assigns a priority
// from keyword/app catalogs, infers the user's current context from the
// clock plus collaborator-supplied flags, and decides a disposition from a
// deterministic action table.
//
// Every well-formed input yields exactly one action; there is no path that
// silently drops a notification.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"hushd/internal/notification"
	"hushd/pkg/logx"
)

// Scorer is an optional urgency-scoring collaborator. Its result is recorded
// in classification metadata and never overrides the action table.
type Scorer func(text, app string, at time.Time) float64

type catalogs struct {
	critical      []string
	high          []string
	low           []string
	work          map[string]struct{}
	social        map[string]struct{}
	entertainment map[string]struct{}
}

type Filter struct {
	mu    sync.Mutex
	cat   catalogs
	log   logx.Logger
	score Scorer
}

// Input is one classification request. FocusMode comes from session state,
// InMeeting from the calendar collaborator; neither is computed here.
type Input struct {
	Notification notification.Notification
	FocusMode    bool
	InMeeting    bool
}

func New(cfg Config, log logx.Logger) *Filter {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Filter{log: log}
	f.Apply(cfg)
	return f
}

// Apply swaps the catalogs. Safe during hot-reload.
func (f *Filter) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c := catalogs{
		critical:      normalizeAll(cfg.CriticalKeywords),
		high:          normalizeAll(cfg.HighKeywords),
		low:           normalizeAll(cfg.LowKeywords),
		work:          toSet(cfg.WorkApps),
		social:        toSet(cfg.SocialApps),
		entertainment: toSet(cfg.EntertainmentApps),
	}
	f.mu.Lock()
	f.cat = c
	f.mu.Unlock()
}

// SetScorer installs the urgency-scoring collaborator. Pass nil to remove.
func (f *Filter) SetScorer(s Scorer) {
	f.mu.Lock()
	f.score = s
	f.mu.Unlock()
}

// Analyze classifies one notification. It is a total function: every input
// combination lands on an explicit branch.
func (f *Filter) Analyze(in Input) notification.ClassificationResult {
	f.mu.Lock()
	cat := f.cat
	score := f.score
	f.mu.Unlock()

	n := in.Notification
	app := normalize(n.AppName)

	prio, prioWhy := cat.priority(n.Text, app)
	ctx, ctxWhy := inferContext(n.ReceivedAt, in.FocusMode, in.InMeeting)
	act := cat.action(prio, ctx, app)

	res := notification.ClassificationResult{
		Priority:  prio,
		Context:   ctx,
		Action:    act,
		Reasoning: prioWhy + "; " + ctxWhy + "; action " + act.String(),
		Metadata: map[string]string{
			"app_category": cat.appCategory(app),
		},
	}
	if act == notification.ActionDefer {
		res.DeferUntil = deferUntil(ctx, n.ReceivedAt)
	}
	if score != nil {
		res.Metadata["urgency_score"] = strconv.FormatFloat(score(n.Text, n.AppName, n.ReceivedAt), 'f', 3, 64)
	}

	f.log.Debug("classified",
		logx.String("user", n.UserID),
		logx.String("app", n.AppName),
		logx.String("priority", prio.String()),
		logx.String("context", ctx.String()),
		logx.String("action", act.String()),
	)
	return res
}

// priority picks the most urgent bucket the text or app matches.
// Critical keywords win unconditionally.
func (c catalogs) priority(text, app string) (notification.Priority, string) {
	lower := strings.ToLower(text)
	if kw := firstKeyword(lower, c.critical); kw != "" {
		return notification.PriorityCritical, fmt.Sprintf("critical keyword %q", kw)
	}
	if kw := firstKeyword(lower, c.high); kw != "" {
		return notification.PriorityHigh, fmt.Sprintf("high-priority keyword %q", kw)
	}
	if _, ok := c.work[app]; ok {
		return notification.PriorityHigh, "work app " + app
	}
	if kw := firstKeyword(lower, c.low); kw != "" {
		return notification.PriorityLow, fmt.Sprintf("low-priority keyword %q", kw)
	}
	if _, ok := c.entertainment[app]; ok {
		return notification.PriorityLow, "entertainment app " + app
	}
	if _, ok := c.social[app]; ok {
		return notification.PriorityMedium, "social app " + app
	}
	return notification.PriorityMedium, "no signal, default medium"
}

// inferContext derives the user's state. The focus flag is an explicit user
// gesture and outranks the calendar's meeting flag; both outrank the clock.
func inferContext(at time.Time, focus, meeting bool) (notification.Context, string) {
	if focus {
		return notification.ContextFocusMode, "focus mode enabled"
	}
	if meeting {
		return notification.ContextMeeting, "calendar reports a meeting"
	}
	h := at.Hour()
	switch {
	case h >= 23 || h < 7:
		return notification.ContextSleeping, "sleeping hours"
	case isWeekday(at.Weekday()) && h >= 9 && h < 18:
		return notification.ContextWorking, "weekday working hours"
	case (h >= 7 && h < 9) || (h >= 17 && h < 19):
		return notification.ContextCommuting, "commuting hours"
	default:
		return notification.ContextLeisure, "leisure hours"
	}
}

// action is the deterministic disposition table.
func (c catalogs) action(p notification.Priority, ctx notification.Context, app string) notification.Action {
	if p == notification.PriorityCritical {
		return notification.ActionShowImmediately
	}
	_, workApp := c.work[app]
	_, socialApp := c.social[app]

	switch ctx {
	case notification.ContextFocusMode:
		if p == notification.PriorityHigh && workApp {
			return notification.ActionShowImmediately
		}
		return notification.ActionDefer
	case notification.ContextSleeping:
		return notification.ActionSilence
	case notification.ContextMeeting:
		if p == notification.PriorityHigh {
			return notification.ActionBundle
		}
		return notification.ActionDefer
	case notification.ContextWorking:
		if workApp {
			return notification.ActionShowImmediately
		}
		if socialApp {
			return notification.ActionBundle
		}
		return notification.ActionDefer
	case notification.ContextCommuting:
		if p == notification.PriorityHigh {
			return notification.ActionShowImmediately
		}
		return notification.ActionBundle
	case notification.ContextLeisure:
		if p == notification.PriorityHigh || p == notification.PriorityMedium {
			return notification.ActionShowImmediately
		}
		return notification.ActionBundle
	default:
		return notification.ActionDefer
	}
}

// deferUntil computes when a deferred notification is reconsidered.
func deferUntil(ctx notification.Context, at time.Time) time.Time {
	switch ctx {
	case notification.ContextSleeping:
		next := time.Date(at.Year(), at.Month(), at.Day(), 8, 0, 0, 0, at.Location())
		if !next.After(at) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	case notification.ContextFocusMode:
		return at.Add(time.Hour)
	case notification.ContextWorking:
		noon := time.Date(at.Year(), at.Month(), at.Day(), 12, 0, 0, 0, at.Location())
		if at.Before(noon) {
			return noon
		}
		return time.Date(at.Year(), at.Month(), at.Day(), 18, 0, 0, 0, at.Location())
	default:
		return at.Add(30 * time.Minute)
	}
}

// appCategory mirrors the filter's own catalogs for metadata purposes;
// the bundler owns the finer-grained category map.
func (c catalogs) appCategory(app string) string {
	switch {
	case hasKey(c.work, app):
		return "work"
	case hasKey(c.social, app):
		return "social"
	case hasKey(c.entertainment, app):
		return "entertainment"
	default:
		return "other"
	}
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}

func firstKeyword(lower string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

func normalizeAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, normalize(it))
	}
	return out
}

func isWeekday(d time.Weekday) bool {
	return d != time.Saturday && d != time.Sunday
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
