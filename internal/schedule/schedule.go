// Package schedule turns the period strings found in deadman configs into
// fixed durations.
package schedule

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec is a parsed period string.
//
// Supported forms:
//   - Go duration: "90s", "2h30m"
//   - HH:MM: "00:05" (5 minutes), "02:30" (2 hours 30 minutes)
//   - cron "@every": "@every 45s" (whole seconds, at least 1s)
//   - cron expressions and descriptors whose activations are evenly spaced:
//     "*/5 * * * *", "0 */2 * * *", "@hourly", "@daily"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces duration or HH:MM parsing
type Spec struct {
	Period time.Duration
	Source string // "duration" | "hhmm" | "cron"
	Cron   string // set when Source is "cron"
}

var ErrUneven = errors.New("cron schedule is not evenly spaced")

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParsePeriod parses raw into a strictly positive period.
func ParsePeriod(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("period required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("cron expression required after 'cron:'")
		}
		return parseCron(expr)
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}

	if sp, err := parseInterval(s); err == nil {
		return sp, nil
	}
	return Spec{}, fmt.Errorf(
		"invalid period %q (use a duration like '90s', HH:MM like '00:05', or cron like '*/5 * * * *')",
		raw,
	)
}

func parseInterval(v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Period: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("interval must be > 0")
	}
	return Spec{Period: d, Source: "duration"}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseCron(expr string) (Spec, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}

	var d time.Duration
	switch s := sched.(type) {
	case cron.ConstantDelaySchedule:
		d = s.Delay
	case *cron.SpecSchedule:
		// Spacing is what matters here; UTC keeps DST shifts out of it.
		s.Location = time.UTC
		d, err = uniformSpacing(s)
		if err != nil {
			return Spec{}, fmt.Errorf("cron %q: %w", expr, err)
		}
	default:
		d, err = uniformSpacing(sched)
		if err != nil {
			return Spec{}, fmt.Errorf("cron %q: %w", expr, err)
		}
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("cron %q: period must be > 0", expr)
	}
	return Spec{Period: d, Source: "cron", Cron: expr}, nil
}

const (
	probeActivations = 2048
	probeHorizon     = 800 * 24 * time.Hour
)

// uniformSpacing walks activations from the start of every month of a leap
// year and returns the gap between them if it never varies.
func uniformSpacing(s cron.Schedule) (time.Duration, error) {
	var gap time.Duration
	for month := time.January; month <= time.December; month++ {
		from := time.Date(2024, month, 1, 0, 0, 0, 0, time.UTC).Add(-time.Second)
		limit := from.Add(probeHorizon)

		prev := s.Next(from)
		for i := 0; i < probeActivations && !prev.IsZero() && prev.Before(limit); i++ {
			next := s.Next(prev)
			if next.IsZero() || !next.Before(limit) {
				break
			}
			g := next.Sub(prev)
			if gap == 0 {
				gap = g
			} else if g != gap {
				return 0, fmt.Errorf("%w (saw gaps of %s and %s)", ErrUneven, gap, g)
			}
			prev = next
		}
	}
	if gap == 0 {
		return 0, fmt.Errorf("%w (fewer than two activations)", ErrUneven)
	}
	return gap, nil
}
