package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Ops     OpsConfig     `json:"ops,omitempty"`
	API     APIConfig     `json:"api,omitempty"`

	Storage  *StorageConfig  `json:"storage,omitempty"`
	Dispatch *DispatchConfig `json:"dispatch,omitempty"`
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Poller   *PollerConfig   `json:"poller,omitempty"`

	Filter   FilterConfig   `json:"filter,omitempty"`
	DND      DNDConfig      `json:"dnd,omitempty"`
	Queue    QueueConfig    `json:"queue,omitempty"`
	Bundle   BundleConfig   `json:"bundle,omitempty"`
	Pipeline PipelineConfig `json:"pipeline,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// OpsConfig controls the operational HTTP server (/metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so pprof profiles work reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// APIConfig controls the ingest/admin HTTP API.
//
// Same security posture as OpsConfig: loopback by default, token required
// for non-loopback binds unless allow_insecure is set.
type APIConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout    string `json:"read_timeout,omitempty"`
	WriteTimeout   string `json:"write_timeout,omitempty"`
	IdleTimeout    string `json:"idle_timeout,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"` // per-request deadline, default "30s"
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./hushd_state" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// DispatchConfig controls the async delivery stage.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, dispatch defaults to enabled with the
// log sink.
type DispatchConfig struct {
	Enabled         bool   `json:"enabled"`
	Sink            string `json:"sink,omitempty"` // "log" (default) or "telegram"
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// TelegramConfig configures the telegram sink. Required when
// dispatch.sink is "telegram".
type TelegramConfig struct {
	Token         string           `json:"token"`
	Recipients    map[string]int64 `json:"recipients,omitempty"` // user id -> chat id
	DefaultChatID int64            `json:"default_chat_id,omitempty"`
}

// PollerConfig controls the periodic queue/bundle drain.
type PollerConfig struct {
	Enabled         bool   `json:"enabled"`
	DrainInterval   string `json:"drain_interval,omitempty"`   // default "30s"
	CleanupInterval string `json:"cleanup_interval,omitempty"` // default "10m"
	BundleMaxAge    string `json:"bundle_max_age,omitempty"`   // default "24h"
	MaxPerDrain     int    `json:"max_per_drain,omitempty"`
}

// FilterConfig overrides the keyword and app catalogs. Empty lists keep the
// built-in defaults.
type FilterConfig struct {
	CriticalKeywords  []string `json:"critical_keywords,omitempty"`
	HighKeywords      []string `json:"high_keywords,omitempty"`
	LowKeywords       []string `json:"low_keywords,omitempty"`
	WorkApps          []string `json:"work_apps,omitempty"`
	SocialApps        []string `json:"social_apps,omitempty"`
	EntertainmentApps []string `json:"entertainment_apps,omitempty"`
}

type DNDConfig struct {
	RepeatCallWindow string `json:"repeat_call_window,omitempty"` // default "15m"
}

// QueueConfig overrides the delivery slots.
type QueueConfig struct {
	// DailySlot is "HH:MM"; default "18:00".
	DailySlot string `json:"daily_slot,omitempty"`
	// SmartSlots are "HH:MM" entries; default 12:00, 15:00, 18:00, 20:00.
	SmartSlots []string `json:"smart_slots,omitempty"`
}

type BundleConfig struct {
	MaxAge             string   `json:"max_age,omitempty"` // default "30m"
	ReadySize          int      `json:"ready_size,omitempty"`
	MinSize            int      `json:"min_size,omitempty"`
	ModerateCategories []string `json:"moderate_categories,omitempty"`
}

type PipelineConfig struct {
	// BundleStrategy is "aggressive", "moderate" (default) or "conservative".
	BundleStrategy string `json:"bundle_strategy,omitempty"`
}

// Validate checks everything that strict decoding cannot: duration strings,
// time-of-day slots, enum values and cross-section requirements.
func (c *Config) Validate() error {
	durations := []struct{ path, raw string }{
		{"ops.read_timeout", c.Ops.ReadTimeout},
		{"ops.write_timeout", c.Ops.WriteTimeout},
		{"ops.idle_timeout", c.Ops.IdleTimeout},
		{"api.read_timeout", c.API.ReadTimeout},
		{"api.write_timeout", c.API.WriteTimeout},
		{"api.idle_timeout", c.API.IdleTimeout},
		{"api.request_timeout", c.API.RequestTimeout},
		{"dnd.repeat_call_window", c.DND.RepeatCallWindow},
		{"bundle.max_age", c.Bundle.MaxAge},
	}
	if c.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	if c.Dispatch != nil {
		durations = append(durations,
			struct{ path, raw string }{"dispatch.retry_base", c.Dispatch.RetryBase},
			struct{ path, raw string }{"dispatch.retry_max_delay", c.Dispatch.RetryMaxDelay},
			struct{ path, raw string }{"dispatch.dedup_window", c.Dispatch.DedupWindow},
		)
	}
	if c.Poller != nil {
		durations = append(durations,
			struct{ path, raw string }{"poller.drain_interval", c.Poller.DrainInterval},
			struct{ path, raw string }{"poller.cleanup_interval", c.Poller.CleanupInterval},
			struct{ path, raw string }{"poller.bundle_max_age", c.Poller.BundleMaxAge},
		)
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Dispatch != nil {
		switch strings.ToLower(strings.TrimSpace(c.Dispatch.Sink)) {
		case "", "log":
		case "telegram":
			if c.Telegram == nil || strings.TrimSpace(c.Telegram.Token) == "" {
				return errors.New("dispatch.sink is telegram but telegram.token is not set")
			}
		default:
			return fmt.Errorf("dispatch.sink: unknown sink %q", c.Dispatch.Sink)
		}
	}

	if c.Pipeline.BundleStrategy != "" {
		switch strings.ToLower(strings.TrimSpace(c.Pipeline.BundleStrategy)) {
		case "aggressive", "moderate", "conservative":
		default:
			return fmt.Errorf("pipeline.bundle_strategy: unknown strategy %q", c.Pipeline.BundleStrategy)
		}
	}

	if c.Queue.DailySlot != "" {
		if _, _, err := ParseSlot("queue.daily_slot", c.Queue.DailySlot); err != nil {
			return err
		}
	}
	for _, s := range c.Queue.SmartSlots {
		if _, _, err := ParseSlot("queue.smart_slots", s); err != nil {
			return err
		}
	}
	return nil
}

var reSlot = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseSlot parses an "HH:MM" delivery slot.
func ParseSlot(path, raw string) (hour, minute int, err error) {
	m := reSlot.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, 0, fmt.Errorf("%s: invalid slot %q (want HH:MM)", path, raw)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%s: slot %q out of range", path, raw)
	}
	return hour, minute, nil
}

// ParseDurationField parses a non-negative Go duration string; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for
// empty or zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
