package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"deadman/internal/config"
	"deadman/internal/heartbeat"
	"deadman/internal/notifier"
	"deadman/internal/observability/httpapi"
	"deadman/internal/recovery"
	rtsup "deadman/internal/runtime/supervisor"
	"deadman/internal/sdnotify"
	"deadman/internal/storage"
	"deadman/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	sd   *sdnotify.Notifier

	store     storage.Store
	notif     *notifier.Service
	restarter recovery.Restarter
	beats     *heartbeat.Watcher
	api       *httpapi.Service

	mu        sync.Mutex
	applied   *config.Config
	watchdogs map[string]*watch
	stopped   bool
}

// ErrUnknownWatchdog is returned by Reset for a name that is not running.
var ErrUnknownWatchdog = errors.New("unknown watchdog")

type Option func(*options)

type options struct {
	restarter recovery.Restarter
	sinks     []notifier.Sink
}

// WithRestarter replaces the systemd D-Bus restarter.
func WithRestarter(r recovery.Restarter) Option {
	return func(o *options) { o.restarter = r }
}

// WithSinks adds alert sinks next to the built-in ones.
func WithSinks(sinks ...notifier.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.ToLogx())
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		closeAll(store, logSvc)
		return nil, err
	}
	sinks := []notifier.Sink{notifier.LogSink{Log: log.With(logx.String("comp", "alerts"))}}
	tg, err := telegramSink(cfg)
	if err != nil {
		closeAll(store, logSvc)
		return nil, fmt.Errorf("notifier.telegram: %w", err)
	}
	if tg != nil {
		sinks = append(sinks, tg)
	}
	sinks = append(sinks, o.sinks...)
	notifSvc := notifier.New(ncfg, log, store, sinks...)

	hcfg, err := mapHTTPConfig(cfg)
	if err != nil {
		closeAll(store, logSvc)
		return nil, err
	}

	restarter := o.restarter
	if restarter == nil {
		restarter = recovery.New(log.With(logx.String("comp", "recovery")))
	}

	a := &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		sd:        sdnotify.New(cfg.Systemd.Notify, log.With(logx.String("comp", "sdnotify"))),
		store:     store,
		notif:     notifSvc,
		restarter: restarter,
		beats:     heartbeat.New(log.With(logx.String("comp", "heartbeat"))),
		applied:   cfg,
		watchdogs: map[string]*watch{},
	}
	a.api = httpapi.New(hcfg, httpapi.Handlers{
		Status: func() any { return a.Snapshot() },
		Reset: func(name string) error {
			err := a.Reset(name)
			if errors.Is(err, ErrUnknownWatchdog) {
				return httpapi.ErrNotFound
			}
			return err
		},
		Alarms: a.RecentAlarms,
	}, log.With(logx.String("comp", "httpapi")))
	return a, nil
}

func closeAll(store storage.Store, logs *logx.Service) {
	if store != nil {
		_ = store.Close()
	}
	_ = logs.Close()
}

// Config returns the config currently applied to the running watchdogs.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

// Logger returns the app logger.
func (a *App) Logger() logx.Logger { return a.log }

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
	if a.sup != nil {
		return fmt.Errorf("app already started")
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	a.mu.Lock()
	cfg := a.applied
	for _, wc := range cfg.Enabled() {
		if err := a.addWatchLocked(wc); err != nil {
			a.mu.Unlock()
			return err
		}
	}
	a.syncHeartbeatsLocked()
	n := len(a.watchdogs)
	a.mu.Unlock()

	a.sup.GoRestart("heartbeat.watch", a.beats.Run)
	if a.api.Enabled() {
		a.sup.GoRestart("http.serve", a.api.Serve, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if every, err := a.sd.StartHeartbeat(); err != nil {
		a.log.Warn("systemd watchdog unavailable", logx.Err(err))
	} else if every > 0 {
		a.log.Info("feeding systemd watchdog", logx.Duration("every", every))
	}
	a.sd.Ready()
	a.sd.Status(statusLine(n))

	a.log.Info("app started", logx.Int("watchdogs", n))
	return nil
}

func statusLine(watchdogs int) string {
	return fmt.Sprintf("watching %d watchdog(s)", watchdogs)
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.sup == nil || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	a.log.Info("stopping")
	a.sd.Stopping()
	a.sd.Stop()

	// Cancel first so the reload loop cannot start new timers.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
				var cancel context.CancelFunc
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
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("watchdogs", 3*time.Second, func(context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		for name, w := range a.watchdogs {
			w.timer.Stop()
			delete(a.watchdogs, name)
		}
		return nil
	})
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	step("recovery", time.Second, func(context.Context) error { return a.restarter.Close() })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
