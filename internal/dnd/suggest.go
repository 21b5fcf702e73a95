package dnd

import "time"

// Suggestion is an advisory schedule template. Suggestions never touch
// stored state; callers decide whether to create a real schedule from one.
type Suggestion struct {
	Name       string
	Type       ScheduleType
	Start      TimeOfDay
	End        TimeOfDay
	Days       []time.Weekday
	Exceptions []Exception
}

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// SuggestedSchedules returns the default sleep, work-focus and weekend
// windows.
func SuggestedSchedules() []Suggestion {
	return []Suggestion{
		{
			Name:       "sleep",
			Type:       ScheduleDaily,
			Start:      TimeOfDay{Hour: 22},
			End:        TimeOfDay{Hour: 7},
			Exceptions: []Exception{ExceptionCritical, ExceptionAlarm, ExceptionRepeatedCall},
		},
		{
			Name:       "work focus",
			Type:       ScheduleWeekly,
			Start:      TimeOfDay{Hour: 9},
			End:        TimeOfDay{Hour: 12},
			Days:       weekdays,
			Exceptions: []Exception{ExceptionCritical, ExceptionFavoriteContact},
		},
		{
			Name:       "weekend morning",
			Type:       ScheduleWeekly,
			Start:      TimeOfDay{Hour: 8},
			End:        TimeOfDay{Hour: 10},
			Days:       []time.Weekday{time.Saturday, time.Sunday},
			Exceptions: []Exception{ExceptionCritical},
		},
	}
}
