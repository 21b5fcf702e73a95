package queue

import (
	"sort"
	"time"

	"hushd/internal/notification"
)

// Slot is a wall-clock delivery slot.
type Slot struct {
	Hour   int
	Minute int
}

func (s Slot) at(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, day.Location())
}

// Config tunes the batch slots. Zero values fall back to 18:00 daily and the
// 12:00/15:00/18:00/20:00 smart set.
type Config struct {
	DailySlot  *Slot
	SmartSlots []Slot
}

func (c Config) withDefaults() Config {
	if c.DailySlot == nil {
		c.DailySlot = &Slot{Hour: 18}
	}
	if len(c.SmartSlots) == 0 {
		c.SmartSlots = []Slot{{Hour: 12}, {Hour: 15}, {Hour: 18}, {Hour: 20}}
	}
	sort.Slice(c.SmartSlots, func(i, j int) bool {
		if c.SmartSlots[i].Hour != c.SmartSlots[j].Hour {
			return c.SmartSlots[i].Hour < c.SmartSlots[j].Hour
		}
		return c.SmartSlots[i].Minute < c.SmartSlots[j].Minute
	})
	return c
}

// deliverAt computes when an item becomes due under a strategy.
func (c Config) deliverAt(strategy notification.DeliveryStrategy, now time.Time) time.Time {
	switch strategy {
	case notification.StrategyBatchHourly:
		// Wall-clock top of hour; Truncate would cut absolute time and land
		// mid-hour in zones with a non-whole-hour UTC offset.
		return time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+1, 0, 0, 0, now.Location())
	case notification.StrategyBatchDaily:
		slot := c.DailySlot.at(now)
		if slot.Before(now) {
			slot = slot.AddDate(0, 0, 1)
		}
		return slot
	case notification.StrategySmartTiming:
		for _, s := range c.SmartSlots {
			if t := s.at(now); t.After(now) {
				return t
			}
		}
		// Past the last slot: roll to the first slot tomorrow.
		return c.SmartSlots[0].at(now.AddDate(0, 0, 1))
	default: // StrategyImmediate
		return now
	}
}
