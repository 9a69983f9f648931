package core

import (
	"strings"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// ParseHumanDuration parses a duration string, accepting both Go's compact
// format ("30s", "1h30m") and the looser human phrasing connector authors
// tend to write in YAML ("5 minutes", "1 hour"). It falls back to
// str2duration for anything neither form handles (e.g. the day and week
// units in "1d" or "2w").
func ParseHumanDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if converted := humanizeToGoFormat(s); converted != s {
		if d, err := time.ParseDuration(converted); err == nil {
			return d, nil
		}
	}
	return str2duration.ParseDuration(s)
}

func humanizeToGoFormat(s string) string {
	replacements := []struct{ suffix, unit string }{
		{" seconds", "s"}, {" second", "s"},
		{" minutes", "m"}, {" minute", "m"},
		{" hours", "h"}, {" hour", "h"},
	}
	for _, r := range replacements {
		if strings.HasSuffix(s, r.suffix) {
			return strings.TrimSuffix(s, r.suffix) + r.unit
		}
	}
	return s
}

// MinutesDuration converts a connection's syncInterval (minutes) into a
// time.Duration, rejecting non-positive intervals.
func MinutesDuration(minutes float64) time.Duration {
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes * float64(time.Minute))
}
