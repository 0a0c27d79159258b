//go:build linux

package recovery

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"deadman/pkg/logx"
	"github.com/coreos/go-systemd/v22/dbus"
)

type dbusRestarter struct {
	log logx.Logger

	mu     sync.Mutex
	conn   *dbus.Conn
	closed bool
}

// New returns a Restarter talking to the system bus.
// The connection is opened on first use and reopened after it breaks.
func New(log logx.Logger) Restarter {
	return &dbusRestarter{log: log}
}

func (r *dbusRestarter) connLocked(ctx context.Context) (*dbus.Conn, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.conn != nil && r.conn.Connected() {
		return r.conn, nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	r.conn = conn
	return conn, nil
}

func (r *dbusRestarter) Restart(ctx context.Context, unit string) error {
	name := UnitName(unit)

	r.mu.Lock()
	conn, err := r.connLocked(ctx)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	done := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, name, "replace", done); err != nil {
		if isNoSuchUnitErr(err) {
			return fmt.Errorf("restart %s: unit not found: %w", name, err)
		}
		return fmt.Errorf("restart %s: %w", name, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("restart %s: %w", name, ctx.Err())
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("restart %s: job %s", name, res)
		}
	}
	if !r.log.IsZero() {
		r.log.Info("unit restarted", logx.String("unit", name))
	}
	return nil
}

func (r *dbusRestarter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	return nil
}

func isNoSuchUnitErr(err error) bool {
	es := err.Error()
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
