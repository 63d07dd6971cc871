package ratelimit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rule allows Limit requests per Window
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

var units = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseRule accepts "5/minute", "5 per minute", "10 per 2 minutes" and
// "10/30s" (any time.ParseDuration string on the right).
func ParseRule(s string) (Rule, error) {
	raw := strings.ToLower(strings.TrimSpace(s))
	countPart, periodPart, ok := strings.Cut(raw, "/")
	if !ok {
		countPart, periodPart, ok = strings.Cut(raw, " per ")
	}
	if !ok {
		return Rule{}, fmt.Errorf("rate limit %q: want COUNT/PERIOD or COUNT per PERIOD", s)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(countPart))
	if err != nil {
		return Rule{}, fmt.Errorf("rate limit %q: bad count: %w", s, err)
	}
	if limit < 1 {
		return Rule{}, fmt.Errorf("rate limit %q: count must be >= 1", s)
	}

	window, err := parsePeriod(strings.TrimSpace(periodPart))
	if err != nil {
		return Rule{}, fmt.Errorf("rate limit %q: %w", s, err)
	}
	return Rule{Limit: limit, Window: window}, nil
}

func parsePeriod(p string) (time.Duration, error) {
	if d, err := time.ParseDuration(p); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("period must be positive")
		}
		return d, nil
	}

	mult := 1
	fields := strings.Fields(p)
	switch len(fields) {
	case 1:
	case 2:
		n, err := strconv.Atoi(fields[0])
		if err != nil || n < 1 {
			return 0, fmt.Errorf("bad period multiplier %q", fields[0])
		}
		mult = n
		fields = fields[1:]
	default:
		return 0, fmt.Errorf("bad period %q", p)
	}

	unit, ok := units[strings.TrimSuffix(fields[0], "s")]
	if !ok {
		return 0, fmt.Errorf("unknown period unit %q (second|minute|hour|day)", fields[0])
	}
	return time.Duration(mult) * unit, nil
}
