package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dosebot/internal/config"
	"dosebot/internal/eventbus"
	"dosebot/internal/notifier"
	"dosebot/internal/observability/debugsrv"
	"dosebot/internal/observability/metrics"
	"dosebot/internal/reminder/planner"
	rtsup "dosebot/internal/runtime/supervisor"
	"dosebot/internal/storage"
	"dosebot/internal/task/scheduler"
	kit "dosebot/internal/transport"
	"dosebot/internal/transport/telegram"
	"dosebot/internal/treatment"
	logx "dosebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	met   *metrics.Metrics
	store storage.Store

	// adapter is nil when no telegram token is configured; deliveries then
	// go to the log.
	adapter kit.Adapter

	src   *treatment.Source
	notif *notifier.Service
	plan  *planner.Planner
	sched *scheduler.Service
	debug *debugsrv.Server

	accessMu sync.RWMutex
	chatID   int64
	allowed  map[int64]struct{}

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	// Chat logging needs the sender and target first; enable it after both are set.
	bootCfg := logConfig(cfg)
	finalCfg := bootCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, nil)
	log = log.With(logx.String("comp", "app"))

	var (
		ad   kit.Adapter
		sink kit.Sink
	)
	if cfg.Telegram.Enabled() {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout},
			log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		ad, sink = tg, tg
		logSvc.SetSender(tg)
		logSvc.SetChatTarget(cfg.Telegram.ChatID, cfg.Logging.Chat.ThreadID)
	} else {
		sink = notifier.NewLogSink(log.With(logx.String("comp", "delivery")))
		log.Warn("telegram disabled; reminders are written to the log")
	}
	logSvc.Apply(finalCfg)

	bus := eventbus.New()
	met := metrics.New()

	sc, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}

	src := treatment.NewSource(cfg.Schedules.Path, log)
	if _, err := src.Reload(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("schedules: %w", err)
	}

	ncfg, err := notifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, sink,
		notifier.WithLogger(log.With(logx.String("comp", "notifier"))),
		notifier.WithBus(bus),
		notifier.WithMetrics(met),
	)

	pcfg, err := plannerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pl, err := planner.New(pcfg, src, store, notif,
		planner.WithLogger(log.With(logx.String("comp", "planner"))),
		planner.WithBus(bus),
		planner.WithMetrics(met),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif.SetHooks(pl.Hooks())

	scfg, err := schedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	dcfg, err := debugConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		met:     met,
		store:   store,
		adapter: ad,
		src:     src,
		notif:   notif,
		plan:    pl,
		sched:   scheduler.New(scfg, log.With(logx.String("comp", "scheduler"))),
		updates: make(chan kit.Update, 64),
	}
	a.debug = debugsrv.New(dcfg, met.Registry(), a.health, log)
	a.setAccess(cfg.Telegram)
	if err := a.registerJobs(cfg); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
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
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.notif.Start(a.sup.Context())

	if _, err := a.plan.Reconcile(a.sup.Context(), "startup"); err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; reminders are only re-planned on reload and delivery")
	}

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("updates.dispatch", a.dispatchLoop)
	}

	a.debug.Start(a.sup.Context())

	if a.cfgm.Get().Schedules.Watch {
		a.sup.Go("schedules.watch", func(c context.Context) error {
			return a.src.Watch(c, func() { a.reconcile(c, "schedules") })
		})
	}

	// Keep this debug-level to avoid noise for frequent reconcile passes.
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

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.Int("schedules", len(a.src.Schedules())),
		logx.Bool("telegram", a.adapter != nil))
	return nil
}

// reconcile runs a pass and logs a failure; used by triggers without a caller
// to return the error to.
func (a *App) reconcile(ctx context.Context, trigger string) {
	if _, err := a.plan.Reconcile(ctx, trigger); err != nil {
		a.log.Warn("reconcile failed", logx.String("trigger", trigger), logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
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
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Triggers first so no pass starts while the poster is going away.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.adapter != nil {
		step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, update dispatcher, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) setAccess(tc config.TelegramConfig) {
	allowed := make(map[int64]struct{}, len(tc.AllowedUserIDs))
	for _, id := range tc.AllowedUserIDs {
		allowed[id] = struct{}{}
	}
	a.accessMu.Lock()
	a.chatID = tc.ChatID
	a.allowed = allowed
	a.accessMu.Unlock()
}

// permitted reports whether userID may act on reminders in chatID.
func (a *App) permitted(chatID, userID int64) bool {
	a.accessMu.RLock()
	defer a.accessMu.RUnlock()
	if a.chatID != 0 && chatID != a.chatID {
		return false
	}
	if len(a.allowed) == 0 {
		return true
	}
	_, ok := a.allowed[userID]
	return ok
}
