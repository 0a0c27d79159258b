package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal next to Path
//   - "sqlite": SQLite database file (build with -tags sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AlarmRecord is one journaled watchdog alarm.
// Keep it compact and schema-stable.
type AlarmRecord struct {
	At       time.Time     `json:"at"`
	Watchdog string        `json:"watchdog"`
	Seq      uint64        `json:"seq"`    // alarm number within the watchdog's lifetime
	Period   time.Duration `json:"period"` // nanoseconds
	Resets   uint64        `json:"resets"`
	Action   string        `json:"action,omitempty"` // e.g. "restart:backup.service"
	Error    string        `json:"error,omitempty"`
}
