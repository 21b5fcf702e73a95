// Package core wires the pipeline together: config, logging, services,
// the HTTP surfaces and persistence.
package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"hushd/internal/api"
	"hushd/internal/bundle"
	"hushd/internal/config"
	"hushd/internal/dispatch"
	"hushd/internal/dnd"
	"hushd/internal/eventbus"
	"hushd/internal/filter"
	"hushd/internal/metrics"
	"hushd/internal/ops"
	"hushd/internal/pipeline"
	"hushd/internal/poller"
	"hushd/internal/queue"
	"hushd/internal/storage"
	"hushd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus
	met  *metrics.Metrics

	filter  *filter.Filter
	dnd     *dnd.Service
	queue   *queue.Service
	bundler *bundle.Service
	disp    *dispatch.Service
	pipe    *pipeline.Service
	poll    *poller.Service

	ops *ops.Server
	api *api.Server

	store storage.Store
	pers  *persister

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	met := metrics.New()

	dndCfg, err := mapDND(cfg)
	if err != nil {
		return nil, err
	}
	queueCfg, err := mapQueue(cfg)
	if err != nil {
		return nil, err
	}
	bundleCfg, err := mapBundle(cfg)
	if err != nil {
		return nil, err
	}
	pipeCfg, err := mapPipeline(cfg)
	if err != nil {
		return nil, err
	}
	dispCfg, err := mapDispatch(cfg)
	if err != nil {
		return nil, err
	}
	pollCfg, err := mapPoller(cfg)
	if err != nil {
		return nil, err
	}
	storeCfg, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	opsCfg, err := mapOps(cfg)
	if err != nil {
		return nil, err
	}
	apiCfg, err := mapAPI(cfg)
	if err != nil {
		return nil, err
	}

	sink, err := buildSink(cfg, logs.Logger())
	if err != nil {
		return nil, err
	}

	f := filter.New(mapFilter(cfg), logs.Logger().With(logx.String("comp", "filter")))
	d := dnd.New(dndCfg, logs.Logger().With(logx.String("comp", "dnd")))
	q := queue.New(queueCfg, logs.Logger().With(logx.String("comp", "queue")))
	b := bundle.New(bundleCfg, logs.Logger().With(logx.String("comp", "bundle")))
	disp := dispatch.New(dispCfg, sink, logs.Logger().With(logx.String("comp", "dispatch")), bus, met)
	pipe := pipeline.New(pipeCfg, f, d, q, b, disp, logs.Logger().With(logx.String("comp", "pipeline")), bus, met)
	poll := poller.New(pollCfg, q, b, disp, logs.Logger().With(logx.String("comp", "poller")), bus, met)

	store, err := storage.Open(storeCfg, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     bus,
		met:     met,
		filter:  f,
		dnd:     d,
		queue:   q,
		bundler: b,
		disp:    disp,
		pipe:    pipe,
		poll:    poll,
		ops:     ops.New(opsCfg, met, logs.Logger().With(logx.String("comp", "ops"))),
		api:     api.New(apiCfg, pipe, d, q, b, logs.Logger().With(logx.String("comp", "api"))),
		store:   store,
	}
	if store != nil {
		a.pers = newPersister(store, d, q, logs.Logger().With(logx.String("comp", "persist")))
	}
	return a, nil
}

// Pipeline exposes the processing entrypoint for embedding callers.
func (a *App) Pipeline() *pipeline.Service { return a.pipe }

func buildSink(cfg *config.Config, log logx.Logger) (dispatch.Sink, error) {
	sinkName := "log"
	if cfg.Dispatch != nil {
		if s := strings.ToLower(strings.TrimSpace(cfg.Dispatch.Sink)); s != "" {
			sinkName = s
		}
	}
	switch sinkName {
	case "log":
		return dispatch.NewLogSink(log.With(logx.String("comp", "sink"))), nil
	case "telegram":
		t := cfg.Telegram
		if t == nil {
			return nil, fmt.Errorf("dispatch.sink is telegram but telegram section is missing")
		}
		return dispatch.NewTelegramSink(dispatch.TelegramConfig{
			Token:         t.Token,
			Recipients:    t.Recipients,
			DefaultChatID: t.DefaultChatID,
		}, log.With(logx.String("comp", "telegram")))
	default:
		return nil, fmt.Errorf("unknown dispatch sink %q", sinkName)
	}
}

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.cancel = context.WithCancel(ctx)

	// Republish WARN+ log records on the bus so operators can observe them.
	bus := a.bus
	a.logs.SetEventHook(func(level logx.Level, msg string) {
		bus.Publish(eventbus.Event{Type: eventbus.EventLogWarn, Data: msg})
	})

	// Transactional hot-reload: a config revision is validated before it is
	// committed and fanned out.
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if a.pers != nil {
		if err := a.pers.Restore(a.runCtx); err != nil {
			return err
		}
	}

	a.disp.Start(a.runCtx)
	a.poll.Start(a.runCtx)
	a.ops.Start(a.runCtx)
	a.api.Start(a.runCtx)

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(a.runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(a.runCtx); err != nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	if a.pers != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.pers.Run(a.runCtx)
		}()
	}

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

// reloadLoop applies committed config revisions to the running services.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest revision.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			// The dispatch sink and the storage driver are fixed at startup.
			if sinkChanged(lastApplied, newCfg) {
				a.log.Warn("dispatch.sink/telegram changes require a restart")
			}
			lastApplied = newCfg

			a.applyConfig(ctx, newCfg)
			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(mapLogging(cfg))
	a.filter.Apply(mapFilter(cfg))

	// The validator accepted this revision, so mapping failures here mean a
	// bug, not bad input. Keep the previous value on error.
	if c, err := mapDND(cfg); err == nil {
		a.dnd.Apply(c)
	} else {
		a.log.Warn("dnd config not applied", logx.Err(err))
	}
	if c, err := mapQueue(cfg); err == nil {
		a.queue.Apply(c)
	} else {
		a.log.Warn("queue config not applied", logx.Err(err))
	}
	if c, err := mapBundle(cfg); err == nil {
		a.bundler.Apply(c)
	} else {
		a.log.Warn("bundle config not applied", logx.Err(err))
	}
	if c, err := mapPipeline(cfg); err == nil {
		a.pipe.Apply(c)
	} else {
		a.log.Warn("pipeline config not applied", logx.Err(err))
	}
	if c, err := mapDispatch(cfg); err == nil {
		a.disp.Apply(c)
	} else {
		a.log.Warn("dispatch config not applied", logx.Err(err))
	}
	if c, err := mapPoller(cfg); err == nil {
		a.poll.Apply(c)
	} else {
		a.log.Warn("poller config not applied", logx.Err(err))
	}
	if c, err := mapOps(cfg); err == nil {
		a.ops.Reconfigure(ctx, c)
	} else {
		a.log.Warn("ops config not applied", logx.Err(err))
	}
	if c, err := mapAPI(cfg); err == nil {
		a.api.Reconfigure(ctx, c)
	} else {
		a.log.Warn("api config not applied", logx.Err(err))
	}
}

func sinkChanged(oldCfg, newCfg *config.Config) bool {
	oldSink, newSink := "", ""
	if oldCfg != nil && oldCfg.Dispatch != nil {
		oldSink = oldCfg.Dispatch.Sink
	}
	if newCfg != nil && newCfg.Dispatch != nil {
		newSink = newCfg.Dispatch.Sink
	}
	return !strings.EqualFold(strings.TrimSpace(oldSink), strings.TrimSpace(newSink))
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.cancel()

	// step runs one shutdown stage with an upper bound so a stuck component
	// cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("poller", 2*time.Second, func(c context.Context) error { a.poll.Stop(c); return nil })
	step("dispatch", 3*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("api", 2*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })

	if a.pers != nil {
		step("persist", 3*time.Second, func(c context.Context) error { return a.pers.Checkpoint(c) })
	}
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	}

	// Background loops: config watch/reload and the persist ticker.
	waitDone := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		a.log.Warn("background loops did not stop in time")
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
