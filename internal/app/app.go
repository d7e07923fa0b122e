// Package app wires coinbot together: config, logging, storage, the job
// registry and scheduler loop, the features that register jobs, and the ops server.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"coinbot/internal/config"
	"coinbot/internal/eventbus"
	"coinbot/internal/features/draw"
	"coinbot/internal/features/economy"
	"coinbot/internal/features/reminders"
	"coinbot/internal/observability/ops"
	"coinbot/internal/runtime/supervisor"
	"coinbot/internal/storage"
	"coinbot/internal/task/registry"
	"coinbot/internal/task/scheduler"
	kit "coinbot/internal/transport"
	"coinbot/internal/transport/telegram"
	logx "coinbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	loc  *time.Location
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	chat  kit.Sender

	metrics *prometheus.Registry
	reg     *registry.Registry
	loop    *scheduler.Loop

	economy   *economy.Feature
	draw      *draw.Feature
	reminders *reminders.Service
	ops       *ops.Service
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("info")

	cfgm := config.NewManager(cfgPath, bootLog.With(logx.String("comp", "config")), config.Validate)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}

	var chat kit.Sender = kit.Discard{}
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		s, err := telegram.New(tcfg, bootLog.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		chat = s
	} else {
		bootLog.Warn("telegram.token empty; chat messages are discarded")
	}

	logCfg, err := mapLogConfig(cfg)
	if err != nil {
		return nil, err
	}
	logs, log := logx.New(logCfg, chat)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := eventbus.New()
	reg := registry.New()
	loopCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	loop := scheduler.New(reg,
		registry.Resources{Chat: chat, Store: store, Bus: bus, Log: log.With(logx.String("comp", "job"))},
		loopCfg,
		log.With(logx.String("comp", "scheduler")),
		scheduler.NewMetrics(promReg),
	)

	a := &App{
		cfgm:      cfgm,
		loc:       loc,
		log:       log.With(logx.String("comp", "app")),
		logs:      logs,
		bus:       bus,
		store:     store,
		chat:      chat,
		metrics:   promReg,
		reg:       reg,
		loop:      loop,
		economy:   economy.New(reg, log.With(logx.String("comp", "economy"))),
		draw:      draw.New(reg, log.With(logx.String("comp", "draw"))),
		reminders: reminders.New(reg, reminders.Config{Location: loc}, log.With(logx.String("comp", "reminders"))),
	}
	if err := a.applyFeatures(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// applyFeatures pushes feature config into the registry. Upsert makes it safe
// to call again on reload.
func (a *App) applyFeatures(cfg *config.Config) error {
	ecfg, err := mapEconomyConfig(cfg, a.loc)
	if err != nil {
		return err
	}
	if err := a.economy.Apply(ecfg); err != nil {
		return err
	}
	dcfg, err := mapDrawConfig(cfg, a.loc)
	if err != nil {
		return err
	}
	if err := a.draw.Apply(dcfg); err != nil {
		return err
	}
	rcfg, err := mapRemindersConfig(cfg, a.loc)
	if err != nil {
		return err
	}
	a.reminders.Apply(rcfg)
	return nil
}

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	if cfg.Reminders.Enabled {
		if _, err := a.reminders.Restore(ctx, a.store); err != nil {
			return err
		}
		a.sup.Go("reminders.watch", func(c context.Context) error {
			return a.reminders.Watch(c, a.bus)
		})
	}

	a.loop.Start(a.sup)

	a.ops = ops.New(mapOpsConfig(cfg), ops.Deps{
		Loop:       a.loop,
		Store:      a.store,
		Bus:        a.bus,
		Draw:       a.draw,
		Gatherer:   a.metrics,
		Supervisor: a.sup,
		Location:   a.loc,
	}, a.log.With(logx.String("comp", "ops")))
	a.ops.Start(a.sup.Context())

	// log bus traffic for debugging; components subscribe on their own.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e := <-events:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Int("jobs", a.reg.Len()),
		logx.String("timezone", a.loc.String()),
		logx.String("config", a.cfgm.Path()),
	)
	return nil
}

// applyReload applies the hot-reloadable parts of next. Sections that need a
// restart are only logged.
func (a *App) applyReload(ctx context.Context, prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}
	if restart := config.RestartRequired(prev, next); len(restart) > 0 {
		a.log.Warn("config changes need a restart", logx.Strings("sections", restart))
	}

	if lc, err := mapLogConfig(next); err != nil {
		a.log.Warn("invalid logging config; keeping previous", logx.Err(err))
	} else {
		a.logs.Apply(lc)
	}
	if sc, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.loop.Apply(sc)
	}
	if err := a.applyFeatures(next); err != nil {
		a.log.Warn("feature reload failed", logx.Err(err))
	}
	a.ops.Reconfigure(ctx, mapOpsConfig(next))

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload})
	a.log.Info("config reloaded", logx.Strings("changed", sections))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "ops", time.Second, func(c context.Context) error {
		a.ops.Stop(c)
		return nil
	})
	// running actions see a cancelled context; give them a moment to unwind.
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by limit so a stuck component cannot
// stall the whole stop. A step that overruns keeps running in the background.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

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
