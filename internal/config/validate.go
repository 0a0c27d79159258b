package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"deadman/internal/schedule"
)

// Validate checks the whole config and reports every problem at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var errs []error

	seen := make(map[string]int, len(c.Watchdogs))
	beats := make(map[string]string, len(c.Watchdogs))
	for i, w := range c.Watchdogs {
		path := fmt.Sprintf("watchdogs[%d]", i)

		name := strings.TrimSpace(w.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if j, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: %q already used by watchdogs[%d]", path, name, j))
		} else {
			seen[name] = i
			path = fmt.Sprintf("watchdogs[%s]", name)
		}

		if _, err := schedule.ParsePeriod(w.Period); err != nil {
			errs = append(errs, fmt.Errorf("%s.period: %w", path, err))
		}

		if hb := strings.TrimSpace(w.HeartbeatFile); hb != "" && !w.Disabled {
			key := filepath.Clean(hb)
			if other, dup := beats[key]; dup {
				errs = append(errs, fmt.Errorf("%s.heartbeat_file: %q already watched by %q", path, hb, other))
			} else {
				beats[key] = name
			}
		}
	}

	if c.Storage != nil {
		switch d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if n := c.Notifier; n != nil {
		if n.QueueSize < 0 {
			errs = append(errs, errors.New("notifier.queue_size: must be >= 0"))
		}
		if n.RatePerSec < 0 {
			errs = append(errs, errors.New("notifier.rate_per_sec: must be >= 0"))
		}
		if n.RetryMax < 0 {
			errs = append(errs, errors.New("notifier.retry_max: must be >= 0"))
		}
		if _, err := ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
			errs = append(errs, err)
		}
		if tg := n.Telegram; tg != nil && tg.Enabled {
			if strings.TrimSpace(tg.Token) == "" {
				errs = append(errs, errors.New("notifier.telegram.token: required when enabled"))
			}
			if tg.ChatID == 0 {
				errs = append(errs, errors.New("notifier.telegram.chat_id: required when enabled"))
			}
		}
	}

	if h := c.HTTP; h != nil {
		if addr := strings.TrimSpace(h.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Errorf("http.addr: %w", err))
			}
		}
		if _, err := ParseDurationField("http.read_timeout", h.ReadTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("http.write_timeout", h.WriteTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// WatchdogPeriod parses w.Period. Call it only on validated configs.
func WatchdogPeriod(w WatchdogConfig) (time.Duration, error) {
	sp, err := schedule.ParsePeriod(w.Period)
	if err != nil {
		return 0, fmt.Errorf("watchdog %q: %w", w.Name, err)
	}
	return sp.Period, nil
}
