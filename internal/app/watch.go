package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deadman/internal/config"
	"deadman/internal/heartbeat"
	"deadman/internal/notifier"
	"deadman/internal/recovery"
	"deadman/internal/storage"
	"deadman/pkg/logx"
	"deadman/pkg/periodic"
	"deadman/pkg/watchdog"
)

const (
	restartTimeout = 30 * time.Second
	journalTimeout = 2 * time.Second
)

// watch is one configured watchdog and its running timer.
// cfg is guarded by App.mu; unit is fixed at build time.
type watch struct {
	cfg   config.WatchdogConfig
	unit  string
	timer *watchdog.Timer
	log   logx.Logger
}

// addWatchLocked builds and starts a watchdog for wc. Callers hold a.mu.
func (a *App) addWatchLocked(wc config.WatchdogConfig) error {
	period, err := config.WatchdogPeriod(wc)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(wc.Name)
	w := &watch{
		cfg:  wc,
		unit: strings.TrimSpace(wc.RestartUnit),
		log:  a.log.With(logx.String("watchdog", name)),
	}

	t, err := watchdog.New(period, a.alarmHandler(w),
		watchdog.WithName(name),
		watchdog.WithLogger(a.log.With(logx.String("comp", "watchdog"))),
	)
	if err != nil {
		return fmt.Errorf("watchdog %q: %w", name, err)
	}
	w.timer = t
	if err := t.Start(); err != nil {
		return err
	}
	a.watchdogs[name] = w
	w.log.Info("watchdog armed", logx.Duration("period", period),
		logx.String("heartbeat_file", wc.HeartbeatFile), logx.String("restart_unit", wc.RestartUnit))
	return nil
}

func (a *App) removeWatchLocked(name string) {
	w, ok := a.watchdogs[name]
	if !ok {
		return
	}
	delete(a.watchdogs, name)
	w.timer.Stop()
	w.log.Info("watchdog removed")
}

func (a *App) syncHeartbeatsLocked() {
	targets := make(map[string]heartbeat.Resetter)
	for _, w := range a.watchdogs {
		if p := strings.TrimSpace(w.cfg.HeartbeatFile); p != "" {
			targets[p] = w.timer
		}
	}
	a.beats.SetTargets(targets)
}

// Reset feeds the named watchdog. It is the programmatic heartbeat.
func (a *App) Reset(name string) error {
	a.mu.Lock()
	w, ok := a.watchdogs[name]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownWatchdog, name)
	}
	return w.timer.Reset()
}

// alarmHandler notifies, runs the optional unit restart and journals the
// outcome. It never fails, so a watchdog keeps alarming every period
// until its job shows up again.
func (a *App) alarmHandler(w *watch) periodic.Handler {
	return periodic.HandlerFunc(func(ctx context.Context) error {
		t := w.timer
		rec := storage.AlarmRecord{
			At:       time.Now().UTC(),
			Watchdog: t.Name(),
			Seq:      t.Alarms(),
			Period:   t.Period(),
			Resets:   t.Resets(),
		}

		a.alert(w, notifier.Alert{
			Watchdog: rec.Watchdog,
			Severity: notifier.SeverityWarning,
			Seq:      rec.Seq,
			Period:   rec.Period,
			At:       rec.At,
		})

		if unit := w.unit; unit != "" {
			rec.Action = recovery.Action(unit)
			rctx, cancel := context.WithTimeout(ctx, restartTimeout)
			err := a.restarter.Restart(rctx, unit)
			cancel()
			if err != nil {
				rec.Error = err.Error()
				w.log.Error("unit restart failed", logx.String("unit", recovery.UnitName(unit)), logx.Err(err))
				a.alert(w, notifier.Alert{
					Watchdog: rec.Watchdog,
					Severity: notifier.SeverityCritical,
					Seq:      rec.Seq,
					Period:   rec.Period,
					At:       time.Now(),
					Text:     fmt.Sprintf("watchdog %s: restarting %s failed: %v", rec.Watchdog, recovery.UnitName(unit), err),
				})
			} else {
				w.log.Info("unit restarted", logx.String("unit", recovery.UnitName(unit)))
			}
		}

		if a.store != nil {
			jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
			err := a.store.AppendAlarm(jctx, rec)
			cancel()
			if err != nil {
				w.log.Warn("alarm journal failed", logx.Err(err))
			}
		}
		return nil
	})
}

func (a *App) alert(w *watch, al notifier.Alert) {
	err := a.notif.Notify(al)
	switch {
	case err == nil, errors.Is(err, notifier.ErrDisabled):
	default:
		w.log.Warn("alert dropped", logx.String("severity", al.Severity.String()), logx.Err(err))
	}
}
