// Package sdnotify reports deadmand's own state to systemd.
//
// Besides READY/STOPPING/STATUS, it keeps systemd's watchdog for the daemon
// itself fed: when the unit sets WatchdogSec=, a heartbeat task sends
// WATCHDOG=1 at half the configured interval.
package sdnotify

import (
	"context"
	"sync"
	"time"

	"deadman/pkg/logx"
	"deadman/pkg/periodic"
	"github.com/coreos/go-systemd/v22/daemon"
)

type Notifier struct {
	enabled bool
	log     logx.Logger

	// Swappable for tests.
	send     func(state string) (bool, error)
	interval func() (time.Duration, error)

	mu sync.Mutex
	hb *periodic.Task
}

// New returns a Notifier. When enabled is false every call is a no-op.
func New(enabled bool, log logx.Logger) *Notifier {
	return &Notifier{
		enabled: enabled,
		log:     log,
		send: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		interval: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}
}

func (n *Notifier) notify(state string) {
	if !n.enabled {
		return
	}
	sent, err := n.send(state)
	if n.log.IsZero() {
		return
	}
	switch {
	case err != nil:
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case !sent:
		n.log.Trace("sd_notify skipped (NOTIFY_SOCKET unset)", logx.String("state", state))
	}
}

func (n *Notifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }
func (n *Notifier) Reloading() {
	n.notify(daemon.SdNotifyReloading)
}

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(s string) { n.notify("STATUS=" + s) }

// StartHeartbeat starts feeding systemd's watchdog and returns the send
// period, or 0 when the service manager did not ask for it.
func (n *Notifier) StartHeartbeat() (time.Duration, error) {
	if !n.enabled {
		return 0, nil
	}
	iv, err := n.interval()
	if err != nil || iv <= 0 {
		return 0, err
	}
	every := iv / 2

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hb != nil {
		return n.hb.Period(), nil
	}

	task, err := periodic.New(every, periodic.HandlerFunc(func(context.Context) error {
		n.notify(daemon.SdNotifyWatchdog)
		return nil
	}), periodic.WithName("sd_watchdog"), periodic.WithLogger(n.log), periodic.WithContinueOnError())
	if err != nil {
		return 0, err
	}
	if err := task.Start(); err != nil {
		return 0, err
	}
	n.hb = task
	// Feed once immediately; the first tick is a full period away.
	n.notify(daemon.SdNotifyWatchdog)
	return every, nil
}

// Stop ends the heartbeat, if running.
func (n *Notifier) Stop() {
	n.mu.Lock()
	hb := n.hb
	n.hb = nil
	n.mu.Unlock()
	if hb != nil {
		hb.Stop()
	}
}
