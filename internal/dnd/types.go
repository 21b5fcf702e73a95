package dnd

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"hushd/internal/notification"
)

// ScheduleType distinguishes recurring window kinds.
type ScheduleType int

const (
	ScheduleDaily ScheduleType = iota
	ScheduleWeekly
	ScheduleCustom
	ScheduleEventBased
)

func (t ScheduleType) String() string {
	switch t {
	case ScheduleDaily:
		return "daily"
	case ScheduleWeekly:
		return "weekly"
	case ScheduleCustom:
		return "custom"
	case ScheduleEventBased:
		return "event_based"
	default:
		return fmt.Sprintf("schedule_type(%d)", int(t))
	}
}

func ParseScheduleType(s string) (ScheduleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return ScheduleDaily, nil
	case "weekly":
		return ScheduleWeekly, nil
	case "custom":
		return ScheduleCustom, nil
	case "event_based":
		return ScheduleEventBased, nil
	default:
		return 0, &notification.ValidationError{Field: "schedule_type", Reason: fmt.Sprintf("unknown type %q", s)}
	}
}

// Exception lets a notification through an active DND window.
// Evaluation order is fixed; see Service.ShouldAllow.
type Exception int

const (
	ExceptionCritical Exception = iota
	ExceptionAlarm
	ExceptionRepeatedCall
	ExceptionFavoriteContact
	ExceptionContact
)

func (e Exception) String() string {
	switch e {
	case ExceptionCritical:
		return "critical"
	case ExceptionAlarm:
		return "alarm"
	case ExceptionRepeatedCall:
		return "repeated_call"
	case ExceptionFavoriteContact:
		return "favorite_contact"
	case ExceptionContact:
		return "contact"
	default:
		return fmt.Sprintf("exception(%d)", int(e))
	}
}

func ParseException(s string) (Exception, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return ExceptionCritical, nil
	case "alarm":
		return ExceptionAlarm, nil
	case "repeated_call":
		return ExceptionRepeatedCall, nil
	case "favorite_contact":
		return ExceptionFavoriteContact, nil
	case "contact":
		return ExceptionContact, nil
	default:
		return 0, &notification.ValidationError{Field: "exception", Reason: fmt.Sprintf("unknown exception %q", s)}
	}
}

func parseExceptions(names []string) ([]Exception, error) {
	out := make([]Exception, 0, len(names))
	for _, n := range names {
		e, err := ParseException(n)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// TimeOfDay is a wall-clock minute within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

var reTimeOfDay = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseTimeOfDay accepts "HH:MM" with hours 0..23 and minutes 0..59.
func ParseTimeOfDay(v string) (TimeOfDay, error) {
	m := reTimeOfDay.FindStringSubmatch(strings.TrimSpace(v))
	if len(m) != 3 {
		return TimeOfDay{}, &notification.ValidationError{Field: "time_of_day", Reason: fmt.Sprintf("invalid HH:MM %q", v)}
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if hh > 23 {
		return TimeOfDay{}, &notification.ValidationError{Field: "time_of_day", Reason: fmt.Sprintf("invalid hour in %q", v)}
	}
	if mm > 59 {
		return TimeOfDay{}, &notification.ValidationError{Field: "time_of_day", Reason: fmt.Sprintf("invalid minutes in %q", v)}
	}
	return TimeOfDay{Hour: hh, Minute: mm}, nil
}

// Schedule is one recurring DND window. End < Start wraps past midnight.
type Schedule struct {
	ID         string
	UserID     string
	Type       ScheduleType
	Start      TimeOfDay
	End        TimeOfDay
	Days       []time.Weekday
	Exceptions []Exception
	Enabled    bool
}

// wraps reports whether the window crosses midnight.
func (s Schedule) wraps() bool { return s.End.minutes() <= s.Start.minutes() }

// matches reports whether now falls inside the window.
func (s Schedule) matches(now time.Time) bool {
	if len(s.Days) > 0 || s.Type == ScheduleWeekly {
		if !containsWeekday(s.Days, now.Weekday()) {
			return false
		}
	}
	m := now.Hour()*60 + now.Minute()
	if s.wraps() {
		return m >= s.Start.minutes() || m <= s.End.minutes()
	}
	return m >= s.Start.minutes() && m <= s.End.minutes()
}

// endsAt resolves the next wall-clock end of a matching window.
func (s Schedule) endsAt(now time.Time) time.Time {
	end := time.Date(now.Year(), now.Month(), now.Day(), s.End.Hour, s.End.Minute, 0, 0, now.Location())
	if s.wraps() && now.Hour()*60+now.Minute() >= s.Start.minutes() {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, x := range days {
		if x == d {
			return true
		}
	}
	return false
}

// ManualSession is the single on-demand DND session per user.
type ManualSession struct {
	UserID     string
	Start      time.Time
	End        time.Time
	Exceptions []Exception
}

// Status answers "is DND active right now".
type Status struct {
	Active bool
	Source string // "manual" or "schedule:<id>"; empty when inactive
	EndsAt time.Time
}

// AllowRequest asks whether one notification may pass an active DND window.
type AllowRequest struct {
	Type       string // "call", "alarm", "message", ...
	IsCritical bool
	Sender     string
}

// Verdict is the ShouldAllow outcome.
type Verdict struct {
	Allowed bool
	Reason  string
}
