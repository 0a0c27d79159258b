package app

import (
	"fmt"
	"strings"
	"time"

	"deadman/internal/config"
	"deadman/internal/notifier"
	"deadman/internal/observability/httpapi"
	"deadman/internal/storage"
	"deadman/internal/telegram"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapNotifierConfig returns a disabled config when the section is absent.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	if cfg == nil || cfg.Notifier == nil {
		return notifier.Config{}, nil
	}
	n := cfg.Notifier
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:     n.Enabled,
		QueueSize:   n.QueueSize,
		RatePerSec:  n.RatePerSec,
		RetryMax:    n.RetryMax,
		RetryBase:   retryBase,
		DedupWindow: dedup,
		HistorySize: n.HistorySize,
	}, nil
}

// telegramSink returns nil when Telegram delivery is not configured.
func telegramSink(cfg *config.Config) (*telegram.Sink, error) {
	if cfg == nil || cfg.Notifier == nil || cfg.Notifier.Telegram == nil || !cfg.Notifier.Telegram.Enabled {
		return nil, nil
	}
	tg := cfg.Notifier.Telegram
	return telegram.New(telegram.Config{
		Token:    strings.TrimSpace(tg.Token),
		ChatID:   tg.ChatID,
		ThreadID: tg.ThreadID,
	})
}

func telegramConfig(cfg *config.Config) config.TelegramConfig {
	if cfg == nil || cfg.Notifier == nil || cfg.Notifier.Telegram == nil {
		return config.TelegramConfig{}
	}
	return *cfg.Notifier.Telegram
}

func mapHTTPConfig(cfg *config.Config) (httpapi.Config, error) {
	if cfg == nil || cfg.HTTP == nil {
		return httpapi.Config{}, nil
	}
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	// pprof's CPU profile streams for 30s by default.
	write, err := config.ParseDurationOrDefault("http.write_timeout", h.WriteTimeout, time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	hc := httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          strings.TrimSpace(h.Addr),
		Token:         strings.TrimSpace(h.Token),
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
	}
	if hc.Enabled {
		if err := httpapi.CheckBind(hc); err != nil {
			return httpapi.Config{}, fmt.Errorf("http: %w", err)
		}
	}
	return hc, nil
}
