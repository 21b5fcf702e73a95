package config

import (
	"reflect"
	"sort"
	"strings"

	"hushd/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Ops (never log token)
	if oldCfg.Ops.Enabled != newCfg.Ops.Enabled ||
		strings.TrimSpace(oldCfg.Ops.Addr) != strings.TrimSpace(newCfg.Ops.Addr) ||
		oldCfg.Ops.AllowInsecure != newCfg.Ops.AllowInsecure ||
		strings.TrimSpace(oldCfg.Ops.ReadTimeout) != strings.TrimSpace(newCfg.Ops.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Ops.WriteTimeout) != strings.TrimSpace(newCfg.Ops.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Ops.IdleTimeout) != strings.TrimSpace(newCfg.Ops.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.Ops.Token) != "") != (strings.TrimSpace(newCfg.Ops.Token) != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
		)
	}

	// API (never log token)
	oldAPI, newAPI := oldCfg.API, newCfg.API
	oldAPI.Token, newAPI.Token = "", ""
	if !reflect.DeepEqual(oldAPI, newAPI) ||
		(strings.TrimSpace(oldCfg.API.Token) != "") != (strings.TrimSpace(newCfg.API.Token) != "") {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", newCfg.API.Enabled),
			logx.String("api.addr", strings.TrimSpace(newCfg.API.Addr)),
			logx.Bool("api.token_set", strings.TrimSpace(newCfg.API.Token) != ""),
		)
	}

	// Storage (nil means disabled)
	if !reflect.DeepEqual(deref(oldCfg.Storage), deref(newCfg.Storage)) {
		changed = append(changed, "storage")
		s := deref(newCfg.Storage)
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(s.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(s.Path) != ""),
		)
	}

	// Dispatch (never log the telegram token)
	if !reflect.DeepEqual(deref(oldCfg.Dispatch), deref(newCfg.Dispatch)) {
		changed = append(changed, "dispatch")
		d := deref(newCfg.Dispatch)
		attrs = append(attrs,
			logx.Bool("dispatch.enabled", d.Enabled),
			logx.String("dispatch.sink", d.Sink),
			logx.Int("dispatch.workers", d.Workers),
			logx.Int("dispatch.rate_per_sec", d.RatePerSec),
		)
	}
	if !telegramEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		t := deref(newCfg.Telegram)
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(t.Token) != ""),
			logx.Int("telegram.recipient_count", len(t.Recipients)),
		)
	}

	// Poller
	if !reflect.DeepEqual(deref(oldCfg.Poller), deref(newCfg.Poller)) {
		changed = append(changed, "poller")
		p := deref(newCfg.Poller)
		attrs = append(attrs,
			logx.Bool("poller.enabled", p.Enabled),
			logx.String("poller.drain_interval", p.DrainInterval),
		)
	}

	// Pipeline stages
	if !reflect.DeepEqual(oldCfg.Filter, newCfg.Filter) {
		changed = append(changed, "filter")
	}
	if !reflect.DeepEqual(oldCfg.DND, newCfg.DND) {
		changed = append(changed, "dnd")
	}
	if !reflect.DeepEqual(oldCfg.Queue, newCfg.Queue) {
		changed = append(changed, "queue")
	}
	if !reflect.DeepEqual(oldCfg.Bundle, newCfg.Bundle) {
		changed = append(changed, "bundle")
	}
	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		changed = append(changed, "pipeline")
		attrs = append(attrs, logx.String("pipeline.bundle_strategy", newCfg.Pipeline.BundleStrategy))
	}

	sort.Strings(changed)
	return changed, attrs
}

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// telegramEqual compares telegram sections without leaking whether only the
// token changed.
func telegramEqual(a, b *TelegramConfig) bool {
	av, bv := deref(a), deref(b)
	if (strings.TrimSpace(av.Token) != "") != (strings.TrimSpace(bv.Token) != "") {
		return false
	}
	if av.DefaultChatID != bv.DefaultChatID {
		return false
	}
	return reflect.DeepEqual(av.Recipients, bv.Recipients)
}
