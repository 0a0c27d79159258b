package telegram

import (
	"strings"
	"testing"
	"time"

	"deadman/internal/notifier"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{ChatID: 1}); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "123:abc"}); err == nil {
		t.Fatal("expected error for missing chat id")
	}
	s, err := New(Config{Token: "123:abc", ChatID: -100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "telegram" {
		t.Fatalf("Name = %q", s.Name())
	}
}

func TestRenderEscapesHTML(t *testing.T) {
	t.Parallel()
	got := Render(notifier.Alert{
		Watchdog: "db<primary>",
		Severity: notifier.SeverityCritical,
		Seq:      3,
		Period:   time.Minute,
		At:       time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	})
	for _, want := range []string{
		"🚨 <b>db&lt;primary&gt;</b>",
		"alarm #3, period 1m0s",
		"<i>2026-03-04 05:06:07 UTC</i>",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("Render() = %q, missing %q", got, want)
		}
	}
}
