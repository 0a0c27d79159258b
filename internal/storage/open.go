package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"deadman/pkg/logx"
)

// Store is the persistence API used by the daemon.
type Store interface {
	AppendAlarm(ctx context.Context, r AlarmRecord) error
	// RecentAlarms returns up to limit records, newest first.
	// An empty watchdog matches every watchdog.
	RecentAlarms(ctx context.Context, watchdog string, limit int) ([]AlarmRecord, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("storage", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
