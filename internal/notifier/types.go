package notifier

import (
	"context"
	"fmt"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
	HistorySize   int
}

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Alert is one operator-facing message about a watchdog.
type Alert struct {
	Watchdog string
	Severity Severity
	Seq      uint64 // alarm number, 0 for non-alarm alerts
	Period   time.Duration
	At       time.Time
	Text     string
}

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// HistoryItem records one delivery attempt outcome.
type HistoryItem struct {
	At       time.Time `json:"at"`
	Sink     string    `json:"sink"`
	Watchdog string    `json:"watchdog"`
	Text     string    `json:"text"`
	Attempts int       `json:"attempts"`
	Err      string    `json:"err,omitempty"`
}
