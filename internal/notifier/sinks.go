package notifier

import (
	"context"
	"fmt"
	"strings"

	"deadman/pkg/logx"
)

// FormatText renders a plain-text line for a, used when Text is empty.
func FormatText(a Alert) string {
	if s := strings.TrimSpace(a.Text); s != "" {
		return s
	}
	switch {
	case a.Seq > 0:
		return fmt.Sprintf("watchdog %s missed its deadline (alarm #%d, period %s)", a.Watchdog, a.Seq, a.Period)
	default:
		return fmt.Sprintf("watchdog %s: %s", a.Watchdog, a.Severity)
	}
}

// LogSink writes alerts to a logger. It never fails.
type LogSink struct {
	Log logx.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, a Alert) error {
	if s.Log.IsZero() {
		return nil
	}
	fields := []logx.Field{
		logx.String("watchdog", a.Watchdog),
		logx.String("severity", a.Severity.String()),
		logx.Uint64("seq", a.Seq),
		logx.Duration("period", a.Period),
	}
	msg := FormatText(a)
	switch a.Severity {
	case SeverityCritical:
		s.Log.Error(msg, fields...)
	case SeverityWarning:
		s.Log.Warn(msg, fields...)
	default:
		s.Log.Info(msg, fields...)
	}
	return nil
}
