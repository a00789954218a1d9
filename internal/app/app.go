package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"alarmd/internal/alarm"
	"alarmd/internal/commands"
	"alarmd/internal/config"
	"alarmd/internal/eventbus"
	"alarmd/internal/metrics"
	"alarmd/internal/notifier"
	rtsup "alarmd/internal/runtime/supervisor"
	"alarmd/internal/storage"
	"alarmd/internal/timer"
	"alarmd/internal/transport"
	"alarmd/internal/transport/telegram"
	"alarmd/internal/web"
	logx "alarmd/pkg/logx"
)

// App wires the alarm core to its collaborators and owns their lifecycle.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *commands.Router
	// chat is the sender behind the notification chat sink; nil without telegram.
	chat     transport.Sender
	chatLog  logx.Logger
	chatDest transport.ChatTarget

	timers *timer.Service
	notif  *notifier.Service
	sched  *alarm.Scheduler

	hub     *web.Hub
	http    *web.Server
	metrics *metrics.Recorder
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var adapter *telegram.Adapter
	var sender transport.Sender
	if cfg.Telegram.Enabled {
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		adapter, err = telegram.New(tc, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		sender = adapter
	}

	// Bootstrap with chat logging off so Apply() does not warn before the
	// chat target is set, then apply the final config.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg, sender)
	logSvc.SetChatTarget(cfg.Telegram.ChatID, cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		store, err = storage.Open(sc, root)
		if err != nil {
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	timerOpts := []timer.Option{timer.WithBus(bus)}
	if store != nil {
		timerOpts = append(timerOpts, timer.WithStore(store))
	}
	timers := timer.New(mapTimerConfig(cfg), root.With(logx.String("comp", "timer")), timerOpts...)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, root.With(logx.String("comp", "notifier")),
		notifier.WithBus(bus),
		notifier.WithSinks(notifier.LogSink{Log: root.With(logx.String("comp", "notifier.log"))}),
	)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: adapter,
		chatLog: root.With(logx.String("comp", "notifier.chat")),
		timers:  timers,
		notif:   notif,
	}
	if adapter != nil {
		a.chat = adapter
	}
	a.applyChatSink(cfg)

	toastLog := root.With(logx.String("comp", "toast"))
	feedback := []alarm.Feedback{alarm.FeedbackFunc(func(_ context.Context, text string) {
		toastLog.Info(text)
	})}
	if cfg.HTTP.Enabled {
		a.hub = web.NewHub(root.With(logx.String("comp", "web.hub")))
		notif.AddSink(a.hub)
		feedback = append(feedback, a.hub)
	}

	a.sched = alarm.NewScheduler(timers, notif,
		alarm.WithLocation(cfg.Location()),
		alarm.WithFeedback(alarm.MultiFeedback(feedback...)),
		alarm.WithLogger(root.With(logx.String("comp", "alarm"))),
		alarm.WithBus(bus),
	)
	timers.SetReceiver(func(ctx context.Context, payload []byte) error {
		return a.sched.OnFire(alarm.WithActor(ctx, alarm.Actor{Source: "timer"}), payload)
	})

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(func() int { return len(timers.Registrations()) })
	}
	if cfg.HTTP.Enabled {
		wc, err := mapWebConfig(cfg)
		if err != nil {
			return nil, err
		}
		deps := web.Deps{
			Alarms:        a.sched,
			Registry:      timers,
			Notifications: notif,
			Hub:           a.hub,
			Location:      a.sched.Location,
		}
		if a.metrics != nil {
			deps.Metrics = a.metrics.Handler()
		}
		gin.SetMode(gin.ReleaseMode)
		a.http = web.New(wc, deps, root.With(logx.String("comp", "web")))
	}
	if adapter != nil && cfg.Telegram.Commands {
		a.router = commands.New(a.sched, timers, nil, root.With(logx.String("comp", "commands")))
	}
	return a, nil
}

// Scheduler exposes the alarm core, mostly for tests and embedding.
func (a *App) Scheduler() *alarm.Scheduler { return a.sched }

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
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.notif.EnsureChannel(notifier.DefaultChannel())

	// Subscribers attach before the timer service restores registrations:
	// overdue one-shots deliver during Start.
	if a.store != nil {
		ch, unsub := a.bus.Subscribe(128)
		a.sup.Go0("audit", func(c context.Context) {
			defer unsub()
			runAudit(c, ch, a.store, a.log.With(logx.String("comp", "audit")))
		})
	}
	if a.metrics != nil {
		ch, unsub := a.bus.Subscribe(64)
		a.sup.Go0("metrics", func(c context.Context) {
			defer unsub()
			a.metrics.Run(c, ch)
		})
	}
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

	if err := a.timers.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start timers: %w", err)
	}

	if a.http != nil {
		a.sup.Go("http", a.http.Run)
	}
	if a.adapter != nil && a.router != nil {
		if err := a.adapter.Start(a.sup.Context(), a.router); err != nil {
			return fmt.Errorf("start telegram: %w", err)
		}
	}

	changes, unsubCfg := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer unsubCfg()
		for {
			select {
			case <-c.Done():
				return
			case ch, ok := <-changes:
				if !ok {
					return
				}
				a.applyConfig(ch)
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("tz", a.sched.Location().String()),
		logx.Bool("http", a.http != nil),
		logx.Bool("telegram", a.adapter != nil),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// applyConfig applies the live sections of a committed change. Every live
// setting is re-applied, so a change dropped by a slow subscriber is
// covered by the next one.
func (a *App) applyConfig(ch config.Change) {
	if len(ch.Pending) > 0 {
		a.log.Warn("config sections changed that require a restart", logx.String("sections", strings.Join(ch.Pending, ",")))
	}
	if len(ch.Sections) == 0 {
		return
	}
	newCfg := ch.New

	a.logs.SetChatTarget(newCfg.Telegram.ChatID, newCfg.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLoggingConfig(newCfg))

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	a.sched.SetLocation(newCfg.Location())
	a.timers.Apply(mapTimerConfig(newCfg))

	a.applyChatSink(newCfg)
	if a.adapter != nil {
		a.adapter.SetOwners(newCfg.Telegram.OwnerUserIDs)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyChatSink points the chat notification sink at cfg's chat, adding or
// removing it as telegram.chat_id is set or cleared.
func (a *App) applyChatSink(cfg *config.Config) {
	if a.chat == nil {
		return
	}
	to := transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID}
	if to == a.chatDest {
		return
	}
	a.chatDest = to
	if to.ChatID == 0 {
		if a.notif.RemoveSink(notifier.ChatSinkName) {
			a.log.Info("chat notifications disabled")
		}
		return
	}
	a.notif.AddSink(notifier.NewChatSink(a.chat, to, a.chatLog))
	a.log.Info("chat notifications target set", logx.Int64("chat_id", to.ChatID), logx.Int("thread_id", to.ThreadID))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops (http, watchers) start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("telegram", 3*time.Second, func(c context.Context) error {
		if a.adapter == nil {
			return nil
		}
		return a.adapter.Stop(c)
	})
	step("timers", 2*time.Second, func(c context.Context) error { a.timers.Stop(c); return nil })
	step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
