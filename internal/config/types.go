package config

import (
	"strings"

	"deadman/pkg/logx"
)

type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Systemd  SystemdConfig   `json:"systemd"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	HTTP     *HTTPConfig     `json:"http,omitempty"`

	Watchdogs []WatchdogConfig `json:"watchdogs"`
}

// WatchdogConfig describes one deadman switch.
//
// Period accepts every form understood by internal/schedule
// ("90s", "00:05", "@every 30s", "*/5 * * * *").
// HeartbeatFile, when set, is watched; any write to it counts as a reset.
// RestartUnit, when set, names a systemd unit restarted on every alarm.
type WatchdogConfig struct {
	Name          string `json:"name"`
	Period        string `json:"period"`
	HeartbeatFile string `json:"heartbeat_file,omitempty"`
	RestartUnit   string `json:"restart_unit,omitempty"`
	Disabled      bool   `json:"disabled,omitempty"`
}

// Enabled returns the watchdogs that are not disabled, in config order.
func (c *Config) Enabled() []WatchdogConfig {
	if c == nil {
		return nil
	}
	out := make([]WatchdogConfig, 0, len(c.Watchdogs))
	for _, w := range c.Watchdogs {
		if !w.Disabled {
			out = append(out, w)
		}
	}
	return out
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING/WATCHDOG messages to the service manager.
	// It is a no-op when NOTIFY_SOCKET is unset.
	Notify bool `json:"notify"`
}

// NotifierConfig controls the async alarm notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, alarms are only logged and journaled.
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	QueueSize   int    `json:"queue_size"`
	RatePerSec  int    `json:"rate_per_sec"`
	RetryMax    int    `json:"retry_max"`
	RetryBase   string `json:"retry_base"`
	HistorySize int    `json:"history_size,omitempty"`

	// DedupWindow suppresses repeats of the same alert per watchdog ("" disables).
	DedupWindow string `json:"dedup_window,omitempty"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// StorageConfig controls the optional alarm journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./deadman_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HTTPConfig controls the local status API (status, alarms, reset, pprof).
//
// Binding to a non-loopback address requires Token unless AllowInsecure is set.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"` // default 127.0.0.1:9797
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ToLogx converts the logging section for logx.New / Service.Apply.
func (l LoggingConfig) ToLogx() logx.Config {
	return logx.Config{
		Level:   strings.TrimSpace(l.Level),
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    strings.TrimSpace(l.File.Path),
		},
	}
}
