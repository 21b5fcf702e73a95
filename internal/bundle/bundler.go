// Package bundle groups related notifications per user so they can be
// delivered as one summarized unit. Readiness is evaluated lazily against
// the clock: a bundle is ready once it holds at least MinSize items and is
// either old enough or full enough.
package bundle

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"hushd/internal/notification"
	"hushd/pkg/logx"
)

// Type says what a bundle key denotes.
type Type int

const (
	TypeApp Type = iota
	TypeCategory
)

func (t Type) String() string {
	if t == TypeCategory {
		return "category"
	}
	return "app"
}

type Config struct {
	// MaxAge is the readiness age bound: a bundle with MinSize+ items
	// becomes ready once its oldest item is this old.
	MaxAge time.Duration
	// ReadySize makes a bundle ready regardless of age.
	ReadySize int
	// MinSize is the floor below which a bundle is never ready.
	MinSize int
	// ModerateCategories lists the categories MODERATE groups by category
	// instead of by exact app.
	ModerateCategories []string
}

func (c Config) withDefaults() Config {
	if c.MaxAge <= 0 {
		c.MaxAge = 30 * time.Minute
	}
	if c.ReadySize <= 0 {
		c.ReadySize = 5
	}
	if c.MinSize <= 0 {
		c.MinSize = 2
	}
	if len(c.ModerateCategories) == 0 {
		c.ModerateCategories = []string{CategorySocial, CategoryEmail}
	}
	return c
}

// Item is one notification inside a bundle.
type Item struct {
	Notification notification.Notification
	AddedAt      time.Time
	App          string
	Sender       string
}

// Bundle is an ordered group of related notifications.
type Bundle struct {
	Key           string
	Type          Type
	Items         []Item
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// Summary annotates a drained bundle for delivery.
type Summary struct {
	DominantApp  string
	AppCounts    map[string]int
	SenderCounts map[string]int
	Description  string
}

// ReadyBundle pairs a drained bundle with its summary.
type ReadyBundle struct {
	Bundle
	Summary Summary
}

// AddResult reports the outcome of one Add.
type AddResult struct {
	BundleKey string
	Size      int
	IsReady   bool
}

// Stats summarizes a user's pending bundles.
type Stats struct {
	Bundles int
	Items   int
}

type userBundles struct {
	mu      sync.Mutex
	bundles map[string]*Bundle
}

type Service struct {
	mu    sync.Mutex
	users map[string]*userBundles
	cfg   Config
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		users: map[string]*userBundles{},
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

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) user(id string) *userBundles {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		u = &userBundles{bundles: map[string]*Bundle{}}
		s.users[id] = u
	}
	return u
}

// Users lists every user holding bundles.
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

// DetermineBundle picks the grouping key for a notification.
// AGGRESSIVE ignores the app and groups by coarse category; CONSERVATIVE
// always groups by exact app; MODERATE groups the configured categories
// (social and email by default) by category and everything else by app.
func (s *Service) DetermineBundle(n notification.Notification, strategy notification.BundleStrategy) (Type, string) {
	app := strings.ToLower(strings.TrimSpace(n.AppName))
	cat := categoryOf(app)

	switch strategy {
	case notification.BundleAggressive:
		return TypeCategory, cat
	case notification.BundleModerate:
		for _, c := range s.config().ModerateCategories {
			if c == cat {
				return TypeCategory, cat
			}
		}
		return TypeApp, app
	default: // BundleConservative
		return TypeApp, app
	}
}

// ShouldBundle reports whether a notification may be grouped at all.
// Critical, call and alarm notifications are never bundled, independent of
// strategy.
func ShouldBundle(n notification.Notification, prio notification.Priority) bool {
	if prio == notification.PriorityCritical {
		return false
	}
	if n.IsCall || n.IsAlarm {
		return false
	}
	return true
}

// Add inserts the notification into its bundle, creating the bundle on
// first use.
func (s *Service) Add(userID string, n notification.Notification, prio notification.Priority, strategy notification.BundleStrategy) (AddResult, error) {
	switch strategy {
	case notification.BundleAggressive, notification.BundleModerate, notification.BundleConservative:
	default:
		return AddResult{}, &notification.ValidationError{Field: "bundle_strategy", Reason: "unknown bundle strategy"}
	}
	if !ShouldBundle(n, prio) {
		return AddResult{}, &notification.ValidationError{Field: "notification", Reason: "critical, call and alarm notifications are never bundled"}
	}

	typ, key := s.DetermineBundle(n, strategy)
	now := s.now()

	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	b, ok := u.bundles[key]
	if !ok {
		b = &Bundle{Key: key, Type: typ, CreatedAt: now}
		u.bundles[key] = b
	}
	b.Items = append(b.Items, Item{
		Notification: n,
		AddedAt:      now,
		App:          n.AppName,
		Sender:       n.Sender,
	})
	b.LastUpdatedAt = now

	ready := s.config().isReady(b, now)
	s.log.Debug("bundled",
		logx.String("user", userID),
		logx.String("key", key),
		logx.Int("size", len(b.Items)),
		logx.Bool("ready", ready),
	)
	return AddResult{BundleKey: key, Size: len(b.Items), IsReady: ready}, nil
}

// isReady is the readiness predicate. It is monotonic for an unmodified
// bundle: age only grows and size never shrinks in place.
func (c Config) isReady(b *Bundle, now time.Time) bool {
	if len(b.Items) < c.MinSize {
		return false
	}
	if len(b.Items) >= c.ReadySize {
		return true
	}
	return now.Sub(b.CreatedAt) >= c.MaxAge
}

// ReadyBundles drains and returns every ready bundle with its summary.
func (s *Service) ReadyBundles(userID string) []ReadyBundle {
	now := s.now()
	cfg := s.config()

	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	keys := make([]string, 0, len(u.bundles))
	for k := range u.bundles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []ReadyBundle
	for _, k := range keys {
		b := u.bundles[k]
		if !cfg.isReady(b, now) {
			continue
		}
		delete(u.bundles, k)
		out = append(out, ReadyBundle{Bundle: *b, Summary: summarize(b)})
	}
	return out
}

// CleanupOldBundles purges bundles whose oldest item exceeds maxAge,
// bounding memory for users that never accumulate enough for readiness.
// Returns the number of purged bundles.
func (s *Service) CleanupOldBundles(maxAge time.Duration) int {
	now := s.now()

	s.mu.Lock()
	users := make([]*userBundles, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.Unlock()

	purged := 0
	for _, u := range users {
		u.mu.Lock()
		for k, b := range u.bundles {
			if now.Sub(b.CreatedAt) > maxAge {
				delete(u.bundles, k)
				purged++
			}
		}
		u.mu.Unlock()
	}
	if purged > 0 {
		s.log.Debug("purged stale bundles", logx.Int("count", purged))
	}
	return purged
}

// Stats summarizes a user's pending bundles.
func (s *Service) Stats(userID string) Stats {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	st := Stats{Bundles: len(u.bundles)}
	for _, b := range u.bundles {
		st.Items += len(b.Items)
	}
	return st
}

// summarize computes per-app/per-sender counts, the dominant app and a
// one-line description.
func summarize(b *Bundle) Summary {
	apps := map[string]int{}
	senders := map[string]int{}
	for _, it := range b.Items {
		apps[it.App]++
		if it.Sender != "" {
			senders[it.Sender]++
		}
	}

	dominant := ""
	for app, n := range apps {
		if dominant == "" || n > apps[dominant] || (n == apps[dominant] && app < dominant) {
			dominant = app
		}
	}

	return Summary{
		DominantApp:  dominant,
		AppCounts:    apps,
		SenderCounts: senders,
		Description:  describe(len(b.Items), len(apps)),
	}
}

func describe(items, apps int) string {
	noun := "notifications"
	if items == 1 {
		noun = "notification"
	}
	appNoun := "apps"
	if apps == 1 {
		appNoun = "app"
	}
	return fmt.Sprintf("%d %s from %d %s", items, noun, apps, appNoun)
}
