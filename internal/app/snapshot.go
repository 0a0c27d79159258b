package app

import (
	"context"
	"sort"
	"time"

	"deadman/internal/config"
	"deadman/internal/notifier"
	rtsup "deadman/internal/runtime/supervisor"
	"deadman/internal/storage"
)

type WatchdogStatus struct {
	Name          string        `json:"name"`
	State         string        `json:"state"`
	Period        time.Duration `json:"period"`
	Alarms        uint64        `json:"alarms"`
	Resets        uint64        `json:"resets"`
	Deadline      time.Time     `json:"deadline,omitempty"`
	LastAlarm     time.Time     `json:"last_alarm,omitempty"`
	HeartbeatFile string        `json:"heartbeat_file,omitempty"`
	RestartUnit   string        `json:"restart_unit,omitempty"`
	Err           string        `json:"err,omitempty"`
}

type Snapshot struct {
	At         time.Time              `json:"at"`
	Watchdogs  []WatchdogStatus       `json:"watchdogs"`
	Heartbeats uint64                 `json:"heartbeats"`
	Alerts     []notifier.HistoryItem `json:"alerts,omitempty"`
	Supervisor *rtsup.Snapshot        `json:"supervisor,omitempty"`
}

// Snapshot reports every running watchdog, sorted by name.
func (a *App) Snapshot() Snapshot {
	type entry struct {
		w   *watch
		cfg config.WatchdogConfig
	}
	a.mu.Lock()
	ws := make([]entry, 0, len(a.watchdogs))
	for _, w := range a.watchdogs {
		ws = append(ws, entry{w: w, cfg: w.cfg})
	}
	a.mu.Unlock()

	out := Snapshot{
		At:         time.Now(),
		Watchdogs:  make([]WatchdogStatus, 0, len(ws)),
		Heartbeats: a.beats.Beats(),
		Alerts:     a.notif.History(),
	}
	for _, e := range ws {
		w := e.w
		st := WatchdogStatus{
			Name:          w.timer.Name(),
			State:         w.timer.State().String(),
			Period:        w.timer.Period(),
			Alarms:        w.timer.Alarms(),
			Resets:        w.timer.Resets(),
			Deadline:      w.timer.Deadline(),
			LastAlarm:     w.timer.LastAlarm(),
			HeartbeatFile: e.cfg.HeartbeatFile,
			RestartUnit:   e.cfg.RestartUnit,
		}
		if err := w.timer.Err(); err != nil {
			st.Err = err.Error()
		}
		out.Watchdogs = append(out.Watchdogs, st)
	}
	sort.Slice(out.Watchdogs, func(i, j int) bool { return out.Watchdogs[i].Name < out.Watchdogs[j].Name })

	if a.sup != nil {
		s := a.sup.Snapshot()
		out.Supervisor = &s
	}
	return out
}

// RecentAlarms reads the alarm journal, newest first. An empty name matches
// every watchdog.
func (a *App) RecentAlarms(ctx context.Context, name string, limit int) ([]storage.AlarmRecord, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentAlarms(ctx, name, limit)
}
