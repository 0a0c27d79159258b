package app

import (
	"context"
	"reflect"
	"strings"
	"time"

	"deadman/internal/config"
	"deadman/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.sd.Reloading()
			a.apply(ctx, next)
			a.sd.Ready()
		}
	}
}

// apply moves the running watchdogs to next. Period-only edits keep the
// timer and restart its countdown; any other edit rebuilds it.
func (a *App) apply(ctx context.Context, next *config.Config) {
	if next == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}

	prev := a.applied
	ch := config.Diff(prev, next)
	a.applied = next
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	if ch.Logging {
		a.logs.Apply(next.Logging.ToLogx())
	}
	if ch.Storage {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if ch.Systemd {
		a.log.Warn("systemd config changed; restart required for changes to take effect")
	}
	if ch.HTTP {
		a.log.Warn("http config changed; restart required for changes to take effect")
	}
	if ch.Notifier {
		a.applyNotifier(ctx, prev, next)
	}

	for _, name := range ch.Removed {
		a.removeWatchLocked(name)
	}
	for _, c := range ch.Changed {
		name := strings.TrimSpace(c.New.Name)
		if w, ok := a.watchdogs[name]; ok && c.PeriodOnly() {
			err := a.retime(w, c.New)
			if err == nil {
				continue
			}
			w.log.Warn("period change failed; rebuilding", logx.Err(err))
		}
		a.removeWatchLocked(name)
		if err := a.addWatchLocked(c.New); err != nil {
			a.log.Error("watchdog rebuild failed", logx.String("watchdog", name), logx.Err(err))
		}
	}
	for _, wc := range ch.Added {
		if err := a.addWatchLocked(wc); err != nil {
			a.log.Error("watchdog start failed", logx.String("watchdog", wc.Name), logx.Err(err))
		}
	}
	a.syncHeartbeatsLocked()

	fields := append(ch.Fields(), logx.Int("watchdogs", len(a.watchdogs)))
	a.log.Info("config reloaded", fields...)
	a.sd.Status(statusLine(len(a.watchdogs)))
}

// retime applies a new period and restarts the countdown with it.
func (a *App) retime(w *watch, wc config.WatchdogConfig) error {
	period, err := config.WatchdogPeriod(wc)
	if err != nil {
		return err
	}
	if err := w.timer.SetPeriod(period); err != nil {
		return err
	}
	if err := w.timer.Reset(); err != nil {
		return err
	}
	w.cfg = wc
	w.log.Info("watchdog period changed", logx.Duration("period", period))
	return nil
}

func (a *App) applyNotifier(ctx context.Context, prev, next *config.Config) {
	ncfg, err := mapNotifierConfig(next)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	if !reflect.DeepEqual(telegramConfig(prev), telegramConfig(next)) {
		a.log.Warn("notifier.telegram changed; restart required for changes to take effect")
	}

	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(ctx)
	}
}
