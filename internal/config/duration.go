package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration. Blank is 0.
// path names the field in errors, e.g. "notifier.retry_base".
func ParseDurationField(path, raw string) (time.Duration, error) {
	return parseDuration(path, raw, 0)
}

// ParseDurationOrDefault returns def when raw is blank or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return parseDuration(path, raw, def)
}

func parseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (try 30s, 5m, 1h)", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", path, s)
	case d == 0:
		return def, nil
	}
	return d, nil
}
