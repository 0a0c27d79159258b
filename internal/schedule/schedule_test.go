package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParsePeriodVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		source string
		period time.Duration
	}{
		{name: "duration", raw: "90s", source: "duration", period: 90 * time.Second},
		{name: "sub-second duration", raw: "250ms", source: "duration", period: 250 * time.Millisecond},
		{name: "hhmm", raw: "00:05", source: "hhmm", period: 5 * time.Minute},
		{name: "hhmm hours", raw: "02:30", source: "hhmm", period: 150 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", source: "duration", period: 45 * time.Second},
		{name: "prefixed every", raw: "every: 01:00", source: "hhmm", period: time.Hour},
		{name: "at every", raw: "@every 30s", source: "cron", period: 30 * time.Second},
		{name: "at every rounds up", raw: "@every 200ms", source: "cron", period: time.Second},
		{name: "step minutes", raw: "*/5 * * * *", source: "cron", period: 5 * time.Minute},
		{name: "step hours", raw: "0 */2 * * *", source: "cron", period: 2 * time.Hour},
		{name: "hourly", raw: "@hourly", source: "cron", period: time.Hour},
		{name: "daily", raw: "@daily", source: "cron", period: 24 * time.Hour},
		{name: "weekly", raw: "@weekly", source: "cron", period: 7 * 24 * time.Hour},
		{name: "prefixed cron", raw: "cron:*/15 * * * *", source: "cron", period: 15 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePeriod(tt.raw)
			if err != nil {
				t.Fatalf("ParsePeriod(%q) error: %v", tt.raw, err)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if got.Period != tt.period {
				t.Fatalf("Period = %v, want %v", got.Period, tt.period)
			}
		})
	}
}

func TestParsePeriodInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"   ",
		"not-a-period",
		"0s",
		"-5m",
		"00:00",
		"01:75",
		"interval:",
		"cron:",
		"61 * * * *",
	} {
		if _, err := ParsePeriod(raw); err == nil {
			t.Fatalf("ParsePeriod(%q): expected error", raw)
		}
	}
}

func TestParsePeriodRejectsUnevenCron(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"*/7 * * * *",
		"0 9 * * 1-5",
		"@monthly",
		"@yearly",
		"0,10 * * * *",
	} {
		_, err := ParsePeriod(raw)
		if !errors.Is(err, ErrUneven) {
			t.Fatalf("ParsePeriod(%q) = %v, want ErrUneven", raw, err)
		}
	}
}
