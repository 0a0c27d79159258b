// Package recovery restarts systemd units when a watchdog fires.
package recovery

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnsupported = errors.New("recovery: unit restarts need systemd (linux only)")
	ErrClosed      = errors.New("recovery: restarter closed")
)

// Restarter restarts a unit and waits for the job to finish.
type Restarter interface {
	Restart(ctx context.Context, unit string) error
	Close() error
}

var unitSuffixes = []string{
	".service", ".socket", ".target", ".timer", ".mount", ".path", ".slice", ".scope",
}

// UnitName returns unit with ".service" appended unless it already has a unit suffix.
func UnitName(unit string) string {
	u := strings.TrimSpace(unit)
	for _, s := range unitSuffixes {
		if strings.HasSuffix(u, s) {
			return u
		}
	}
	return u + ".service"
}

// Action describes a restart for journal entries.
func Action(unit string) string {
	return "restart:" + UnitName(unit)
}
