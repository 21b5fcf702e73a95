package core

import (
	"time"

	"hushd/internal/api"
	"hushd/internal/bundle"
	"hushd/internal/config"
	"hushd/internal/dispatch"
	"hushd/internal/dnd"
	"hushd/internal/filter"
	"hushd/internal/notification"
	"hushd/internal/ops"
	"hushd/internal/pipeline"
	"hushd/internal/poller"
	"hushd/internal/queue"
	"hushd/internal/storage"
	"hushd/pkg/logx"
)

// Mapping functions translate the file config (strings, optional sections)
// into the typed configs each service takes. Duration and slot strings are
// pre-checked by Config.Validate, so errors here only occur on the initial
// load of a config that was never validated.

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapFilter(cfg *config.Config) filter.Config {
	return filter.Config{
		CriticalKeywords:  cfg.Filter.CriticalKeywords,
		HighKeywords:      cfg.Filter.HighKeywords,
		LowKeywords:       cfg.Filter.LowKeywords,
		WorkApps:          cfg.Filter.WorkApps,
		SocialApps:        cfg.Filter.SocialApps,
		EntertainmentApps: cfg.Filter.EntertainmentApps,
	}
}

func mapDND(cfg *config.Config) (dnd.Config, error) {
	w, err := config.ParseDurationField("dnd.repeat_call_window", cfg.DND.RepeatCallWindow)
	if err != nil {
		return dnd.Config{}, err
	}
	return dnd.Config{RepeatCallWindow: w}, nil
}

func mapQueue(cfg *config.Config) (queue.Config, error) {
	var out queue.Config
	if cfg.Queue.DailySlot != "" {
		h, m, err := config.ParseSlot("queue.daily_slot", cfg.Queue.DailySlot)
		if err != nil {
			return queue.Config{}, err
		}
		out.DailySlot = &queue.Slot{Hour: h, Minute: m}
	}
	for _, s := range cfg.Queue.SmartSlots {
		h, m, err := config.ParseSlot("queue.smart_slots", s)
		if err != nil {
			return queue.Config{}, err
		}
		out.SmartSlots = append(out.SmartSlots, queue.Slot{Hour: h, Minute: m})
	}
	return out, nil
}

func mapBundle(cfg *config.Config) (bundle.Config, error) {
	maxAge, err := config.ParseDurationField("bundle.max_age", cfg.Bundle.MaxAge)
	if err != nil {
		return bundle.Config{}, err
	}
	return bundle.Config{
		MaxAge:             maxAge,
		ReadySize:          cfg.Bundle.ReadySize,
		MinSize:            cfg.Bundle.MinSize,
		ModerateCategories: cfg.Bundle.ModerateCategories,
	}, nil
}

func mapPipeline(cfg *config.Config) (pipeline.Config, error) {
	var out pipeline.Config
	if cfg.Pipeline.BundleStrategy != "" {
		st, err := notification.ParseBundleStrategy(cfg.Pipeline.BundleStrategy)
		if err != nil {
			return pipeline.Config{}, err
		}
		out.BundleStrategy = st
	}
	return out, nil
}

func mapDispatch(cfg *config.Config) (dispatch.Config, error) {
	// Omitted section means "enabled with the log sink".
	if cfg.Dispatch == nil {
		return dispatch.Config{Enabled: true}, nil
	}
	d := cfg.Dispatch
	retryBase, err := config.ParseDurationField("dispatch.retry_base", d.RetryBase)
	if err != nil {
		return dispatch.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("dispatch.retry_max_delay", d.RetryMaxDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("dispatch.dedup_window", d.DedupWindow)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Enabled:         d.Enabled,
		Workers:         d.Workers,
		QueueSize:       d.QueueSize,
		RatePerSec:      d.RatePerSec,
		RetryMax:        d.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: d.DedupMaxEntries,
	}, nil
}

func mapPoller(cfg *config.Config) (poller.Config, error) {
	// Omitted section means enabled with defaults: queued items would
	// otherwise never drain.
	if cfg.Poller == nil {
		return poller.Config{Enabled: true}, nil
	}
	p := cfg.Poller
	drain, err := config.ParseDurationField("poller.drain_interval", p.DrainInterval)
	if err != nil {
		return poller.Config{}, err
	}
	cleanup, err := config.ParseDurationField("poller.cleanup_interval", p.CleanupInterval)
	if err != nil {
		return poller.Config{}, err
	}
	maxAge, err := config.ParseDurationField("poller.bundle_max_age", p.BundleMaxAge)
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Enabled:         p.Enabled,
		DrainInterval:   drain,
		CleanupInterval: cleanup,
		BundleMaxAge:    maxAge,
		MaxPerDrain:     p.MaxPerDrain,
	}, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	read, err := config.ParseDurationField("ops.read_timeout", cfg.Ops.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	write, err := config.ParseDurationField("ops.write_timeout", cfg.Ops.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", cfg.Ops.IdleTimeout, time.Minute)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapAPI(cfg *config.Config) (api.Config, error) {
	read, err := config.ParseDurationOrDefault("api.read_timeout", cfg.API.ReadTimeout, 10*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	write, err := config.ParseDurationOrDefault("api.write_timeout", cfg.API.WriteTimeout, 30*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("api.idle_timeout", cfg.API.IdleTimeout, time.Minute)
	if err != nil {
		return api.Config{}, err
	}
	reqTimeout, err := config.ParseDurationOrDefault("api.request_timeout", cfg.API.RequestTimeout, 30*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:        cfg.API.Enabled,
		Addr:           cfg.API.Addr,
		Token:          cfg.API.Token,
		AllowInsecure:  cfg.API.AllowInsecure,
		ReadTimeout:    read,
		WriteTimeout:   write,
		IdleTimeout:    idle,
		RequestTimeout: reqTimeout,
	}, nil
}
