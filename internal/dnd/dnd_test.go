package dnd

import (
	"errors"
	"testing"
	"time"

	"hushd/internal/notification"
	"hushd/pkg/logx"
)

func newTestService() *Service {
	return New(Config{}, logx.Nop())
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    TimeOfDay
		wantErr bool
	}{
		{raw: "22:00", want: TimeOfDay{Hour: 22}},
		{raw: "07:30", want: TimeOfDay{Hour: 7, Minute: 30}},
		{raw: "7:05", want: TimeOfDay{Hour: 7, Minute: 5}},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "noon", wantErr: true},
		{raw: "12:00pm", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTimeOfDay(tt.raw)
			if tt.wantErr {
				var verr *notification.ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("ParseTimeOfDay(%q) err = %v, want ValidationError", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseTimeOfDay(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	t.Parallel()
	s := newTestService()

	if _, err := s.CreateSchedule("u1", "daily", "25:00", "07:00", nil, nil); err == nil {
		t.Fatal("expected error for invalid start time")
	}
	if _, err := s.CreateSchedule("u1", "sometimes", "22:00", "07:00", nil, nil); err == nil {
		t.Fatal("expected error for unknown schedule type")
	}
	if _, err := s.CreateSchedule("u1", "daily", "22:00", "07:00", nil, []string{"vip"}); err == nil {
		t.Fatal("expected error for unknown exception")
	}
	// Nothing was stored by the failed attempts.
	if got := len(s.Schedules("u1")); got != 0 {
		t.Fatalf("schedules stored after failed creates: %d", got)
	}
}

func TestOvernightWindow(t *testing.T) {
	t.Parallel()
	s := newTestService()

	id, err := s.CreateSchedule("u1", "weekly", "22:00", "07:00",
		[]time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday}, nil)
	if err != nil {
		t.Fatalf("CreateSchedule error: %v", err)
	}

	day := time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC)
	atHour := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	tests := []struct {
		hour int
		want bool
	}{
		{hour: 23, want: true},
		{hour: 2, want: true},
		{hour: 7, want: true}, // inclusive end
		{hour: 8, want: false},
		{hour: 12, want: false},
		{hour: 21, want: false},
		{hour: 22, want: true}, // inclusive start
	}
	for _, tt := range tests {
		st := s.IsActive("u1", atHour(tt.hour))
		if st.Active != tt.want {
			t.Fatalf("IsActive at %02d:00 = %v, want %v", tt.hour, st.Active, tt.want)
		}
		if tt.want && st.Source != "schedule:"+id {
			t.Fatalf("source = %q, want schedule:%s", st.Source, id)
		}
	}

	// Wrapping window past midnight ends next day.
	st := s.IsActive("u1", atHour(23))
	wantEnd := time.Date(2024, 12, 11, 7, 0, 0, 0, time.UTC)
	if !st.EndsAt.Equal(wantEnd) {
		t.Fatalf("EndsAt = %v, want %v", st.EndsAt, wantEnd)
	}
}

func TestWeeklyRequiresDay(t *testing.T) {
	t.Parallel()
	s := newTestService()

	if _, err := s.CreateSchedule("u1", "weekly", "09:00", "12:00", []time.Weekday{time.Monday}, nil); err != nil {
		t.Fatalf("CreateSchedule error: %v", err)
	}

	monday := time.Date(2024, 12, 9, 10, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)
	if !s.IsActive("u1", monday).Active {
		t.Fatal("expected active on monday")
	}
	if s.IsActive("u1", tuesday).Active {
		t.Fatal("expected inactive on tuesday")
	}
}

func TestManualSessionReplacesAndWins(t *testing.T) {
	t.Parallel()
	s := newTestService()
	base := time.Date(2024, 12, 10, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	first, err := s.StartManualDND("u1", 30, nil)
	if err != nil {
		t.Fatalf("StartManualDND error: %v", err)
	}
	second, err := s.StartManualDND("u1", 60, nil)
	if err != nil {
		t.Fatalf("StartManualDND error: %v", err)
	}
	if !second.End.After(first.End) {
		t.Fatal("second session should replace the first")
	}

	st := s.IsActive("u1", base.Add(45*time.Minute))
	if !st.Active || st.Source != "manual" {
		t.Fatalf("status = %+v, want active manual", st)
	}
	if !st.EndsAt.Equal(second.End) {
		t.Fatalf("EndsAt = %v, want %v", st.EndsAt, second.End)
	}

	// Expired session no longer counts.
	if s.IsActive("u1", base.Add(2*time.Hour)).Active {
		t.Fatal("expected inactive after session end")
	}

	if !s.StopManualDND("u1") {
		t.Fatal("StopManualDND should report an existing session")
	}
	if s.StopManualDND("u1") {
		t.Fatal("second StopManualDND should report nothing to stop")
	}
}

func TestStartManualDNDValidation(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if _, err := s.StartManualDND("u1", 0, nil); err == nil {
		t.Fatal("expected error for non-positive minutes")
	}
	if _, err := s.StartManualDND("u1", 30, []string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown exception")
	}
}

func TestShouldAllowExceptionChain(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 12, 10, 10, 0, 0, 0, time.UTC)

	setup := func(exceptions []string) *Service {
		s := newTestService()
		s.now = func() time.Time { return base }
		if _, err := s.StartManualDND("u1", 60, exceptions); err != nil {
			t.Fatalf("StartManualDND error: %v", err)
		}
		return s
	}

	t.Run("inactive allows everything", func(t *testing.T) {
		t.Parallel()
		s := newTestService()
		v := s.ShouldAllow("u1", AllowRequest{Type: "message", Sender: "anyone"})
		if !v.Allowed {
			t.Fatalf("verdict = %+v, want allowed", v)
		}
	})

	t.Run("no exceptions blocks", func(t *testing.T) {
		t.Parallel()
		s := setup(nil)
		v := s.ShouldAllow("u1", AllowRequest{Type: "message", IsCritical: true, Sender: "boss"})
		if v.Allowed {
			t.Fatalf("verdict = %+v, want blocked", v)
		}
	})

	t.Run("critical exception", func(t *testing.T) {
		t.Parallel()
		s := setup([]string{"critical"})
		if v := s.ShouldAllow("u1", AllowRequest{Type: "message", IsCritical: true}); !v.Allowed {
			t.Fatalf("verdict = %+v, want allowed", v)
		}
		if v := s.ShouldAllow("u1", AllowRequest{Type: "message"}); v.Allowed {
			t.Fatalf("verdict = %+v, want blocked", v)
		}
	})

	t.Run("alarm exception", func(t *testing.T) {
		t.Parallel()
		s := setup([]string{"alarm"})
		if v := s.ShouldAllow("u1", AllowRequest{Type: "alarm"}); !v.Allowed {
			t.Fatalf("verdict = %+v, want allowed", v)
		}
	})

	t.Run("repeated call passes on second attempt", func(t *testing.T) {
		t.Parallel()
		s := setup([]string{"repeated_call"})
		if v := s.ShouldAllow("u1", AllowRequest{Type: "call", Sender: "mom"}); v.Allowed {
			t.Fatalf("first call verdict = %+v, want blocked", v)
		}
		if v := s.ShouldAllow("u1", AllowRequest{Type: "call", Sender: "mom"}); !v.Allowed {
			t.Fatalf("second call verdict = %+v, want allowed", v)
		}
		// A different caller starts its own window.
		if v := s.ShouldAllow("u1", AllowRequest{Type: "call", Sender: "dad"}); v.Allowed {
			t.Fatalf("other caller verdict = %+v, want blocked", v)
		}
	})

	t.Run("favorite beats contact ordering", func(t *testing.T) {
		t.Parallel()
		s := setup([]string{"contact", "favorite_contact"})
		s.AddFavorite("u1", "alice")
		v := s.ShouldAllow("u1", AllowRequest{Type: "message", Sender: "alice"})
		if !v.Allowed || v.Reason != "favorite contact exception" {
			t.Fatalf("verdict = %+v, want favorite contact exception", v)
		}
	})

	t.Run("contact exception", func(t *testing.T) {
		t.Parallel()
		s := setup([]string{"contact"})
		s.AddContact("u1", "bob")
		if v := s.ShouldAllow("u1", AllowRequest{Type: "message", Sender: "bob"}); !v.Allowed {
			t.Fatalf("verdict = %+v, want allowed", v)
		}
		if v := s.ShouldAllow("u1", AllowRequest{Type: "message", Sender: "stranger"}); v.Allowed {
			t.Fatalf("verdict = %+v, want blocked", v)
		}
	})
}

func TestCallTrackingExpiresOldSenders(t *testing.T) {
	t.Parallel()
	s := newTestService()
	now := time.Date(2024, 12, 10, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.StartManualDND("u1", 240, []string{"repeated_call"}); err != nil {
		t.Fatalf("StartManualDND error: %v", err)
	}

	s.ShouldAllow("u1", AllowRequest{Type: "call", Sender: "mom"})
	s.ShouldAllow("u1", AllowRequest{Type: "call", Sender: "dad"})

	// An hour later both entries are far past the repeat window; the next
	// call should evict them and count as a fresh first attempt.
	now = now.Add(time.Hour)
	if v := s.ShouldAllow("u1", AllowRequest{Type: "call", Sender: "mom"}); v.Allowed {
		t.Fatalf("verdict = %+v, want blocked (window expired)", v)
	}

	u := s.user("u1")
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.lastCall) != 1 {
		t.Fatalf("tracked senders = %d, want 1 (stale entries pruned)", len(u.lastCall))
	}
	if _, ok := u.lastCall["mom"]; !ok {
		t.Fatal("current caller must stay tracked")
	}
}

func TestScheduleCRUD(t *testing.T) {
	t.Parallel()
	s := newTestService()

	id, err := s.CreateSchedule("u1", "daily", "22:00", "07:00", nil, []string{"critical"})
	if err != nil {
		t.Fatalf("CreateSchedule error: %v", err)
	}

	if err := s.SetScheduleEnabled("u1", id, false); err != nil {
		t.Fatalf("SetScheduleEnabled error: %v", err)
	}
	if s.IsActive("u1", time.Date(2024, 12, 10, 23, 0, 0, 0, time.UTC)).Active {
		t.Fatal("disabled schedule must not match")
	}

	var nferr *notification.NotFoundError
	if err := s.SetScheduleEnabled("u1", "nope", true); !errors.As(err, &nferr) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if err := s.DeleteSchedule("u1", "nope"); !errors.As(err, &nferr) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if err := s.DeleteSchedule("u1", id); err != nil {
		t.Fatalf("DeleteSchedule error: %v", err)
	}
	if got := len(s.Schedules("u1")); got != 0 {
		t.Fatalf("schedules after delete: %d", got)
	}
}

func TestSuggestedSchedulesAreAdvisory(t *testing.T) {
	t.Parallel()
	s := newTestService()
	if got := len(SuggestedSchedules()); got != 3 {
		t.Fatalf("suggestions = %d, want 3", got)
	}
	if got := len(s.Schedules("u1")); got != 0 {
		t.Fatalf("suggestions must not create schedules, got %d", got)
	}
}
