// Package app wires the bot together and owns its start/stop order.
package app

import (
	"context"
	"fmt"
	"time"

	"schedbot/internal/commands"
	"schedbot/internal/config"
	"schedbot/internal/eventbus"
	"schedbot/internal/eventsched"
	"schedbot/internal/notifier"
	"schedbot/internal/runtime/supervisor"
	"schedbot/internal/storage"
	"schedbot/internal/task/engine"
	"schedbot/internal/task/scheduler"
	"schedbot/internal/transport"
	telegram "schedbot/internal/transport/telegram/adapter"
	"schedbot/internal/transport/telegram/router"
	"schedbot/pkg/logx"
	"schedbot/pkg/systemd"
)

const (
	scheduleReconcile = "events.reconcile"
	schedulePrune     = "timers.prune"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	adapter *telegram.Adapter

	engine *engine.Service
	timers *scheduler.Timers
	sched  *scheduler.Service
	notif  *notifier.Service
	events *eventsched.Engine

	prefixes *commands.PrefixCache
	cmds     *commands.Service
	cmdm     *router.Manager

	updates chan transport.Update
}

// New loads the config, opens storage and builds every component. Nothing
// runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the chat sink off, set its target, then apply the final
	// config so Apply does not warn about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(groupLogChat(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	eng := engine.New(engCfg, log.With(logx.String("comp", "engine")), bus)
	timers := scheduler.NewTimers(scheduler.TimersConfig{}, store, eng, log.With(logx.String("comp", "timers")), bus)
	sched := scheduler.New(scheduler.Config{}, eng, log.With(logx.String("comp", "scheduler")), bus)

	notif := notifier.New(ncfg, store, log.With(logx.String("comp", "notifier")), bus)
	notif.Register(ad)

	events := eventsched.New(mapEventschedConfig(cfg), store, timers, notif, eng, log.With(logx.String("comp", "eventsched")), bus)
	timers.OnFire(events.HandleFire)

	prefixes := commands.NewPrefixCache(store, 5*time.Minute)
	cmds := commands.New(mapCommandsConfig(cfg), store, events, prefixes, log.With(logx.String("comp", "commands")))
	cmdm := router.NewManager(log.With(logx.String("comp", "router")), ad, router.Deps{
		Permissions: store,
		Prefixes:    prefixes,
		Audit:       store,
	}, cfg.Telegram.OwnerUserIDs)

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		engine:   eng,
		timers:   timers,
		sched:    sched,
		notif:    notif,
		events:   events,
		prefixes: prefixes,
		cmds:     cmds,
		cmdm:     cmdm,
		updates:  make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapHousekeeping(cfg)
		return err
	})

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.notif.Start(run)
	a.engine.Start(run)

	// Timers re-arm from the database; anything overdue fires now. Reconcile
	// then repairs events that lost their timers while the bot was down.
	if _, err := a.timers.Start(run); err != nil {
		return fmt.Errorf("restore timers: %w", err)
	}
	if _, err := a.events.Reconcile(run); err != nil {
		a.log.Warn("startup reconcile failed", logx.Err(err))
	}

	if err := a.installHousekeeping(a.cfgm.Get()); err != nil {
		return err
	}
	a.sched.Start(run)

	a.cmdm.SetRegistry(run, a.cmds.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.startBusLog()
	a.startConfigReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	if every := systemd.WatchdogInterval(); every > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			systemd.RunWatchdog(c, every, a.engine.Running)
		})
	}

	a.log.Info("app started")
	return nil
}

// installHousekeeping (re)registers the periodic maintenance jobs. Re-adding a
// name replaces it, so this also applies reloaded intervals.
func (a *App) installHousekeeping(cfg *config.Config) error {
	hk, err := mapHousekeeping(cfg)
	if err != nil {
		return err
	}

	if hk.ReconcileEvery > 0 {
		err := a.sched.AddInterval(scheduleReconcile, hk.ReconcileEvery, 0, func(ctx context.Context) error {
			_, err := a.events.Reconcile(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", scheduleReconcile, err)
		}
	} else {
		a.sched.Remove(scheduleReconcile)
	}

	if hk.PruneEvery > 0 {
		after := hk.PruneAfter
		err := a.sched.AddInterval(schedulePrune, hk.PruneEvery, 0, func(ctx context.Context) error {
			_, err := a.timers.Prune(ctx, after)
			return err
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", schedulePrune, err)
		}
	} else {
		a.sched.Remove(schedulePrune)
	}
	return nil
}

func (a *App) startBusLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error {
		a.sched.Stop(c)
		a.timers.Stop()
		return nil
	})
	a.step(ctx, "engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, command dispatcher, etc.)
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// fn must honor stepCtx; if it doesn't, log when it eventually returns.
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			fields := []logx.Field{logx.String("name", name), logx.Duration("took", time.Since(start))}
			if err != nil {
				a.log.Warn("stop step finished after deadline", append(fields, logx.Err(err))...)
			} else {
				a.log.Info("stop step finished after deadline", fields...)
			}
		}()
	}
}
