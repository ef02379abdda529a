package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind is the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

func (k SpecKind) String() string {
	if k == SpecInterval {
		return "interval"
	}
	return "cron"
}

// ParsedSpec is a trigger schedule in one of three spellings:
//
//	cron      "*/5 * * * *", "0 30 7 * * *", "@daily", "@every 5m"
//	duration  "15m", "2h30m"
//	HH:MM     "00:15" meaning every 15 minutes
//
// A "cron:" prefix forces cron; "interval:" or "every:" force an interval.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron", "duration" or "hhmm"
}

var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var errBadSchedule = errors.New("use cron like '*/5 * * * *', HH:MM like '00:05', or a duration like '5m'")

// ParseSchedule classifies raw and validates it with the parser the
// service registers jobs with.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}
	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		return parseCron(rest)
	}
	for _, p := range []string{"interval:", "every:"} {
		if rest, ok := cutPrefixFold(s, p); ok {
			return parseInterval(rest)
		}
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return parseCron(s)
	}
	ps, err := parseInterval(s)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return ps, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func parseCron(expr string) (ParsedSpec, error) {
	if expr == "" {
		return ParsedSpec{}, errors.New("cron expression required")
	}
	if _, err := specParser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
}

func parseInterval(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	ps := ParsedSpec{Kind: SpecInterval, Source: "duration"}
	var err error
	if h, m, ok := strings.Cut(v, ":"); ok {
		ps.Source = "hhmm"
		ps.Every, err = hhmmInterval(h, m)
	} else if ps.Every, err = time.ParseDuration(v); err != nil {
		err = errBadSchedule
	}
	if err != nil {
		return ParsedSpec{}, err
	}
	if ps.Every <= 0 {
		return ParsedSpec{}, errors.New("interval must be > 0")
	}
	return ps, nil
}

func hhmmInterval(h, m string) (time.Duration, error) {
	hh, herr := strconv.Atoi(h)
	mm, merr := strconv.Atoi(m)
	switch {
	case herr != nil || merr != nil || len(h) == 0 || len(h) > 3 || len(m) != 2 || hh < 0:
		return 0, errBadSchedule
	case mm > 59:
		return 0, fmt.Errorf("invalid minutes in %s:%s", h, m)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
