// Package app assembles the bot: config, logging, transport, storage and the
// relay/deletion services, with ordered startup and bounded shutdown.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"radiobot/internal/config"
	"radiobot/internal/deletion"
	"radiobot/internal/eventbus"
	"radiobot/internal/notifier"
	"radiobot/internal/relay"
	"radiobot/internal/runtime/supervisor"
	"radiobot/internal/storage"
	kit "radiobot/internal/transport"
	"radiobot/internal/transport/telegram"
	logx "radiobot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	store   storage.Store
	notif   *notifier.Service
	del     *deletion.Service
	rel     *relay.Service
	bus     eventbus.Bus

	updates  chan kit.Update
	stopOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging))
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logSvc.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	storeCfg, err := mapStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open schedule store: %w", err)
	}

	notifCfg, err := mapNotifier(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(notifCfg, ad, logSvc.Logger().With(logx.String("comp", "notifier")))

	bus := eventbus.New()

	delCfg, err := mapDeletion(cfg.Deletion)
	if err != nil {
		return nil, err
	}
	delSvc := deletion.New(delCfg, store, ad, notifSvc, bus,
		logSvc.Logger().With(logx.String("comp", "deletion")))

	relCfg, err := mapRelay(cfg.Relay)
	if err != nil {
		return nil, err
	}
	relSvc := relay.New(relCfg, ad, delSvc, notifSvc, bus,
		logSvc.Logger().With(logx.String("comp", "relay")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		store:   store,
		notif:   notifSvc,
		del:     delSvc,
		rel:     relSvc,
		bus:     bus,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is canceled (fatal error or Stop()).
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
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	// A fatal escalation from the deletion service tears the whole app down.
	// The hook arrives on its own goroutine, so a plain Stop is safe here.
	a.del.OnFatal(func(reason string) {
		a.log.Error("fatal escalation; shutting down", logx.String("reason", reason))
		_ = a.Stop(context.Background(), StopFatalError)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())

	// Recovery runs inside Start; a store that cannot be read aborts boot.
	if err := a.del.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("relay.dispatch", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case up, ok := <-a.updates:
				if !ok {
					return
				}
				a.rel.HandleUpdate(c, up)
			}
		}
	})

	// Event log tap. Every bus event becomes a structured log line so the
	// operator can follow sweeps, deletes and reposts without debug access to
	// the services themselves.
	events, unsubEvents := a.bus.Subscribe(32)
	a.sup.Go0("events.log", func(c context.Context) {
		defer unsubEvents()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	// Hot reload fan-out. Only logging applies live; transport, storage and
	// chat wiring need a restart, which the log line tells the operator.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.logs.Apply(mapLogging(newCfg.Logging))
				a.log.Info("config reloaded; logging applied live, other sections take effect on restart")
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeEscalated:
		a.log.Error("event", logx.String("type", e.Type), logx.Any("data", e.Data))
	case eventbus.TypeRelayReposted:
		a.log.Info("event", logx.String("type", e.Type), logx.Any("data", e.Data))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
			a.log.Debug("stop step end",
				logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Deletion and the notifier stop while the run context is still live:
	// in-flight executors need it to finish their deletes, and the notifier
	// drain must deliver queued escalation messages, not feed dead workers.
	step("deletion", 12*time.Second, func(c context.Context) error { a.del.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })

	// Only now cancel the run context so the dispatch loop, config watcher
	// and adapter unwind.
	a.sup.Cancel()

	step("store", 2*time.Second, func(context.Context) error { return a.store.Close() })
	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
}
