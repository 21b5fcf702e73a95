package bundle

import (
	"testing"
	"time"

	"hushd/internal/notification"
	"hushd/pkg/logx"
)

var base = time.Date(2024, 12, 10, 10, 0, 0, 0, time.UTC)

func newTestService() *Service {
	s := New(Config{}, logx.Nop())
	s.now = func() time.Time { return base }
	return s
}

func note(app, sender string) notification.Notification {
	return notification.Notification{UserID: "u1", AppName: app, Sender: sender, Text: "hi", ReceivedAt: base}
}

func TestDetermineBundle(t *testing.T) {
	t.Parallel()
	s := newTestService()

	tests := []struct {
		name     string
		app      string
		strategy notification.BundleStrategy
		wantType Type
		wantKey  string
	}{
		{name: "aggressive social", app: "facebook", strategy: notification.BundleAggressive, wantType: TypeCategory, wantKey: "social"},
		{name: "aggressive messaging", app: "WhatsApp", strategy: notification.BundleAggressive, wantType: TypeCategory, wantKey: "messaging"},
		{name: "aggressive unknown", app: "SomeApp", strategy: notification.BundleAggressive, wantType: TypeCategory, wantKey: "other"},
		{name: "moderate social by category", app: "instagram", strategy: notification.BundleModerate, wantType: TypeCategory, wantKey: "social"},
		{name: "moderate email by category", app: "Gmail", strategy: notification.BundleModerate, wantType: TypeCategory, wantKey: "email"},
		{name: "moderate news by app", app: "BBC", strategy: notification.BundleModerate, wantType: TypeApp, wantKey: "bbc"},
		{name: "conservative always app", app: "facebook", strategy: notification.BundleConservative, wantType: TypeApp, wantKey: "facebook"},
		{name: "mail hint", app: "FastMail", strategy: notification.BundleAggressive, wantType: TypeCategory, wantKey: "email"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			typ, key := s.DetermineBundle(note(tt.app, "x"), tt.strategy)
			if typ != tt.wantType || key != tt.wantKey {
				t.Fatalf("DetermineBundle = (%v, %q), want (%v, %q)", typ, key, tt.wantType, tt.wantKey)
			}
		})
	}
}

func TestModerateCategoriesAreConfigurable(t *testing.T) {
	t.Parallel()
	s := New(Config{ModerateCategories: []string{CategoryNews}}, logx.Nop())

	if typ, key := s.DetermineBundle(note("bbc", "x"), notification.BundleModerate); typ != TypeCategory || key != "news" {
		t.Fatalf("news should group by category, got (%v, %q)", typ, key)
	}
	if typ, key := s.DetermineBundle(note("facebook", "x"), notification.BundleModerate); typ != TypeApp || key != "facebook" {
		t.Fatalf("social should fall back to app grouping, got (%v, %q)", typ, key)
	}
}

func TestShouldBundle(t *testing.T) {
	t.Parallel()

	if ShouldBundle(note("facebook", "x"), notification.PriorityCritical) {
		t.Fatal("critical notifications are never bundled")
	}
	call := note("phone", "mom")
	call.IsCall = true
	if ShouldBundle(call, notification.PriorityMedium) {
		t.Fatal("calls are never bundled")
	}
	alarm := note("clock", "")
	alarm.IsAlarm = true
	if ShouldBundle(alarm, notification.PriorityLow) {
		t.Fatal("alarms are never bundled")
	}
	if !ShouldBundle(note("facebook", "x"), notification.PriorityMedium) {
		t.Fatal("plain medium notification should bundle")
	}
}

func TestAddReadinessBySize(t *testing.T) {
	t.Parallel()
	s := newTestService()

	for i := 1; i <= 5; i++ {
		res, err := s.Add("u1", note("facebook", "friend"), notification.PriorityMedium, notification.BundleAggressive)
		if err != nil {
			t.Fatalf("Add %d error: %v", i, err)
		}
		if res.Size != i {
			t.Fatalf("size after add %d = %d", i, res.Size)
		}
		wantReady := i >= 5
		if res.IsReady != wantReady {
			t.Fatalf("ready after add %d = %v, want %v", i, res.IsReady, wantReady)
		}
	}

	ready := s.ReadyBundles("u1")
	if len(ready) != 1 {
		t.Fatalf("ready bundles = %d, want 1", len(ready))
	}
	sum := ready[0].Summary
	if sum.Description != "5 notifications from 1 app" {
		t.Fatalf("description = %q", sum.Description)
	}
	if sum.DominantApp != "facebook" || sum.AppCounts["facebook"] != 5 {
		t.Fatalf("summary = %+v", sum)
	}
	// Drained: nothing left.
	if got := s.Stats("u1"); got.Bundles != 0 {
		t.Fatalf("bundles after drain = %d", got.Bundles)
	}
}

func TestReadinessByAge(t *testing.T) {
	t.Parallel()
	s := newTestService()

	if _, err := s.Add("u1", note("facebook", "a"), notification.PriorityMedium, notification.BundleAggressive); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add("u1", note("instagram", "b"), notification.PriorityMedium, notification.BundleAggressive); err != nil {
		t.Fatal(err)
	}

	if got := s.ReadyBundles("u1"); len(got) != 0 {
		t.Fatalf("bundle ready too early: %+v", got)
	}

	// Readiness is monotonic: once the age bound passes it stays ready.
	s.now = func() time.Time { return base.Add(31 * time.Minute) }
	got := s.ReadyBundles("u1")
	if len(got) != 1 {
		t.Fatalf("ready bundles = %d, want 1", len(got))
	}
	if got[0].Summary.Description != "2 notifications from 2 apps" {
		t.Fatalf("description = %q", got[0].Summary.Description)
	}
}

func TestSingleItemNeverReady(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if _, err := s.Add("u1", note("facebook", "a"), notification.PriorityMedium, notification.BundleAggressive); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	if got := s.ReadyBundles("u1"); len(got) != 0 {
		t.Fatalf("single-item bundle must not be ready, got %+v", got)
	}
}

func TestAddRejectsUnbundleable(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if _, err := s.Add("u1", note("facebook", "a"), notification.PriorityCritical, notification.BundleAggressive); err == nil {
		t.Fatal("expected error for critical notification")
	}
	if got := s.Stats("u1"); got.Bundles != 0 {
		t.Fatalf("rejected add stored state: %+v", got)
	}
}

func TestCleanupOldBundles(t *testing.T) {
	t.Parallel()
	s := newTestService()

	if _, err := s.Add("u1", note("facebook", "a"), notification.PriorityMedium, notification.BundleAggressive); err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return base.Add(25 * time.Hour) }
	if purged := s.CleanupOldBundles(24 * time.Hour); purged != 1 {
		t.Fatalf("purged = %d, want 1", purged)
	}
	if got := s.Stats("u1"); got.Bundles != 0 {
		t.Fatalf("bundles after cleanup = %d", got.Bundles)
	}
}

func TestSeparateKeysPerStrategy(t *testing.T) {
	t.Parallel()
	s := newTestService()

	// Conservative keeps facebook and instagram apart.
	s.Add("u1", note("facebook", "a"), notification.PriorityMedium, notification.BundleConservative)
	s.Add("u1", note("instagram", "b"), notification.PriorityMedium, notification.BundleConservative)
	if got := s.Stats("u1"); got.Bundles != 2 {
		t.Fatalf("conservative bundles = %d, want 2", got.Bundles)
	}

	// Aggressive merges them for another user.
	s.Add("u2", note("facebook", "a"), notification.PriorityMedium, notification.BundleAggressive)
	s.Add("u2", note("instagram", "b"), notification.PriorityMedium, notification.BundleAggressive)
	if got := s.Stats("u2"); got.Bundles != 1 {
		t.Fatalf("aggressive bundles = %d, want 1", got.Bundles)
	}
}

func TestSummaryCounts(t *testing.T) {
	t.Parallel()
	s := newTestService()

	for i := 0; i < 3; i++ {
		s.Add("u1", note("facebook", "alice"), notification.PriorityMedium, notification.BundleAggressive)
	}
	s.Add("u1", note("instagram", "bob"), notification.PriorityMedium, notification.BundleAggressive)
	s.Add("u1", note("instagram", "alice"), notification.PriorityMedium, notification.BundleAggressive)

	ready := s.ReadyBundles("u1")
	if len(ready) != 1 {
		t.Fatalf("ready = %d, want 1", len(ready))
	}
	sum := ready[0].Summary
	if sum.DominantApp != "facebook" {
		t.Fatalf("dominant = %q, want facebook", sum.DominantApp)
	}
	if sum.SenderCounts["alice"] != 4 || sum.SenderCounts["bob"] != 1 {
		t.Fatalf("sender counts = %+v", sum.SenderCounts)
	}
	if sum.Description != "5 notifications from 2 apps" {
		t.Fatalf("description = %q", sum.Description)
	}
}
