// Package dnd answers two questions: "is do-not-disturb active for this user"
// and "may this notification pass anyway". Windows are recurring schedules or
// a single manual session per user; evaluation is lazy against the clock at
// call time, there is no background timer.
package dnd

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hushd/internal/notification"
	"hushd/pkg/logx"
)

type Config struct {
	// RepeatCallWindow is how recent a prior call from the same sender must
	// be for the repeated-call exception to match.
	RepeatCallWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.RepeatCallWindow <= 0 {
		c.RepeatCallWindow = 15 * time.Minute
	}
	return c
}

// userState is everything the scheduler knows about one user.
// Its mutex serializes all access for that user; different users never
// contend on it.
type userState struct {
	mu sync.Mutex

	schedules map[string]*Schedule
	manual    *ManualSession

	favorites map[string]struct{}
	contacts  map[string]struct{}

	// lastCall tracks the most recent call per sender for the
	// repeated-call exception.
	lastCall map[string]time.Time
}

type Service struct {
	mu    sync.Mutex
	users map[string]*userState
	cfg   Config
	log   logx.Logger
	now   func() time.Time
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		users: map[string]*userState{},
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

// user returns the per-user shard, creating it on first use.
func (s *Service) user(id string) *userState {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		u = &userState{
			schedules: map[string]*Schedule{},
			favorites: map[string]struct{}{},
			contacts:  map[string]struct{}{},
			lastCall:  map[string]time.Time{},
		}
		s.users[id] = u
	}
	return u
}

// Users lists every user with any DND state.
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

// CreateSchedule validates and stores a recurring window, returning its id.
func (s *Service) CreateSchedule(userID, typ, start, end string, days []time.Weekday, exceptions []string) (string, error) {
	st, err := ParseScheduleType(typ)
	if err != nil {
		return "", err
	}
	from, err := ParseTimeOfDay(start)
	if err != nil {
		return "", err
	}
	to, err := ParseTimeOfDay(end)
	if err != nil {
		return "", err
	}
	exc, err := parseExceptions(exceptions)
	if err != nil {
		return "", err
	}

	sched := &Schedule{
		ID:         uuid.NewString(),
		UserID:     userID,
		Type:       st,
		Start:      from,
		End:        to,
		Days:       append([]time.Weekday(nil), days...),
		Exceptions: exc,
		Enabled:    true,
	}

	u := s.user(userID)
	u.mu.Lock()
	u.schedules[sched.ID] = sched
	u.mu.Unlock()

	s.log.Debug("schedule created",
		logx.String("user", userID),
		logx.String("id", sched.ID),
		logx.String("type", st.String()),
		logx.String("window", from.String()+"-"+to.String()),
	)
	return sched.ID, nil
}

// RestoreSchedule re-inserts a persisted schedule verbatim (id included).
func (s *Service) RestoreSchedule(sched Schedule) {
	u := s.user(sched.UserID)
	u.mu.Lock()
	cp := sched
	cp.Days = append([]time.Weekday(nil), sched.Days...)
	cp.Exceptions = append([]Exception(nil), sched.Exceptions...)
	u.schedules[cp.ID] = &cp
	u.mu.Unlock()
}

func (s *Service) DeleteSchedule(userID, id string) error {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.schedules[id]; !ok {
		return &notification.NotFoundError{Kind: "schedule", ID: id}
	}
	delete(u.schedules, id)
	return nil
}

func (s *Service) SetScheduleEnabled(userID, id string, enabled bool) error {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	sched, ok := u.schedules[id]
	if !ok {
		return &notification.NotFoundError{Kind: "schedule", ID: id}
	}
	sched.Enabled = enabled
	return nil
}

// Schedules returns copies of the user's schedules, stable by id.
func (s *Service) Schedules(userID string) []Schedule {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Schedule, 0, len(u.schedules))
	for _, sched := range u.schedules {
		cp := *sched
		cp.Days = append([]time.Weekday(nil), sched.Days...)
		cp.Exceptions = append([]Exception(nil), sched.Exceptions...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StartManualDND creates the user's manual session, replacing any prior one.
func (s *Service) StartManualDND(userID string, minutes int, exceptions []string) (ManualSession, error) {
	if minutes <= 0 {
		return ManualSession{}, &notification.ValidationError{Field: "minutes", Reason: "must be positive"}
	}
	exc, err := parseExceptions(exceptions)
	if err != nil {
		return ManualSession{}, err
	}

	now := s.now()
	sess := ManualSession{
		UserID:     userID,
		Start:      now,
		End:        now.Add(time.Duration(minutes) * time.Minute),
		Exceptions: exc,
	}

	u := s.user(userID)
	u.mu.Lock()
	u.manual = &sess
	u.mu.Unlock()

	s.log.Debug("manual dnd started", logx.String("user", userID), logx.Int("minutes", minutes))
	return sess, nil
}

// StopManualDND clears the manual session. Returns false if none existed.
func (s *Service) StopManualDND(userID string) bool {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	had := u.manual != nil
	u.manual = nil
	return had
}

// IsActive checks the manual session first, then every enabled schedule.
func (s *Service) IsActive(userID string, now time.Time) Status {
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.statusLocked(now)
}

func (u *userState) statusLocked(now time.Time) Status {
	if u.manual != nil && u.manual.End.After(now) {
		return Status{Active: true, Source: "manual", EndsAt: u.manual.End}
	}
	ids := make([]string, 0, len(u.schedules))
	for id := range u.schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sched := u.schedules[id]
		if !sched.Enabled {
			continue
		}
		if sched.matches(now) {
			return Status{Active: true, Source: "schedule:" + sched.ID, EndsAt: sched.endsAt(now)}
		}
	}
	return Status{}
}

// ShouldAllow evaluates the active window's exceptions in fixed priority
// order: critical > alarm > repeated call > favorite contact > contact.
// With DND inactive everything passes.
func (s *Service) ShouldAllow(userID string, req AllowRequest) Verdict {
	now := s.now()
	u := s.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	// Track calls regardless of outcome so the second call within the
	// window can match the repeated-call exception. Entries past the window
	// can never match again, so prune them while we hold the lock.
	var priorCall time.Time
	if req.Type == "call" && req.Sender != "" {
		window := s.repeatWindow()
		for sender, at := range u.lastCall {
			if now.Sub(at) > window {
				delete(u.lastCall, sender)
			}
		}
		priorCall = u.lastCall[req.Sender]
		u.lastCall[req.Sender] = now
	}

	st := u.statusLocked(now)
	if !st.Active {
		return Verdict{Allowed: true, Reason: "dnd inactive"}
	}

	exc := u.activeExceptionsLocked(st)
	for _, e := range []Exception{ExceptionCritical, ExceptionAlarm, ExceptionRepeatedCall, ExceptionFavoriteContact, ExceptionContact} {
		if !containsException(exc, e) {
			continue
		}
		switch e {
		case ExceptionCritical:
			if req.IsCritical {
				return Verdict{Allowed: true, Reason: "critical exception"}
			}
		case ExceptionAlarm:
			if req.Type == "alarm" {
				return Verdict{Allowed: true, Reason: "alarm exception"}
			}
		case ExceptionRepeatedCall:
			if req.Type == "call" && !priorCall.IsZero() && now.Sub(priorCall) <= s.repeatWindow() {
				return Verdict{Allowed: true, Reason: "repeated call exception"}
			}
		case ExceptionFavoriteContact:
			if _, ok := u.favorites[req.Sender]; ok {
				return Verdict{Allowed: true, Reason: "favorite contact exception"}
			}
		case ExceptionContact:
			if _, ok := u.contacts[req.Sender]; ok {
				return Verdict{Allowed: true, Reason: "contact exception"}
			}
		}
	}
	return Verdict{Allowed: false, Reason: "dnd active (" + st.Source + ")"}
}

func (s *Service) repeatWindow() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.RepeatCallWindow
}

func (u *userState) activeExceptionsLocked(st Status) []Exception {
	if st.Source == "manual" && u.manual != nil {
		return u.manual.Exceptions
	}
	const prefix = "schedule:"
	if len(st.Source) > len(prefix) {
		if sched, ok := u.schedules[st.Source[len(prefix):]]; ok {
			return sched.Exceptions
		}
	}
	return nil
}

// AddFavorite marks a sender as favorite for the favorite-contact exception.
func (s *Service) AddFavorite(userID, sender string) {
	u := s.user(userID)
	u.mu.Lock()
	u.favorites[sender] = struct{}{}
	u.contacts[sender] = struct{}{}
	u.mu.Unlock()
}

// AddContact registers a known sender for the contact exception.
func (s *Service) AddContact(userID, sender string) {
	u := s.user(userID)
	u.mu.Lock()
	u.contacts[sender] = struct{}{}
	u.mu.Unlock()
}

func containsException(list []Exception, e Exception) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}
