package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dosebot/internal/reminder/decision"
	"dosebot/internal/reminder/timeslot"
)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekday accepts three-letter or full English day names, any case.
func ParseWeekday(s string) (time.Weekday, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	if len(k) > 3 {
		for name, d := range weekdays {
			if strings.EqualFold(k, d.String()) {
				k = name
				break
			}
		}
	}
	d, ok := weekdays[k]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q", s)
	}
	return d, nil
}

// Validate checks cross-field constraints that strict decoding cannot.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	r := cfg.Reminders
	if strings.TrimSpace(r.UserID) == "" {
		add("reminders.user_id is required")
	}
	if _, err := r.Location(); err != nil {
		add("reminders.timezone: %v", err)
	}
	if r.Grace() < 0 {
		add("reminders.grace_period_minutes must be >= 0")
	}
	if off := r.FollowupOffset(); off < 0 || off > decision.MaxFollowupOffsetHours {
		add("reminders.followup.offset_hours must be between 0 and %d", decision.MaxFollowupOffsetHours)
	}
	if r.SnoozeMinutes < 0 {
		add("reminders.snooze_minutes must be >= 0")
	}
	if r.WeeklySummary.Enabled {
		if _, err := ParseWeekday(r.WeeklySummary.WeekdayOrDefault()); err != nil {
			add("reminders.weekly_summary.weekday: %v", err)
		}
		if !timeslot.Valid(r.WeeklySummary.AtOrDefault()) {
			add("reminders.weekly_summary.at: %q is not HH:mm", r.WeeklySummary.At)
		}
	}

	if strings.TrimSpace(cfg.Schedules.Path) == "" {
		add("schedules.path is required")
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}
	if _, err := ParseDurationField("scheduler.job_timeout", cfg.Scheduler.JobTimeout); err != nil {
		errs = append(errs, err)
	}

	n := cfg.NotifierOrDefault()
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 {
		add("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0")
	}
	for path, raw := range map[string]string{"notifier.retry_base": n.RetryBase, "notifier.retry_max_delay": n.RetryMaxDelay} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if s := cfg.Storage; s != nil {
		switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
		case "", "none", "memory":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add("storage.path is required for driver %q", d)
			}
		default:
			add("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Telegram.Enabled() && cfg.Telegram.ChatID == 0 {
		add("telegram.chat_id is required when telegram.token is set")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	for path, raw := range map[string]string{
		"debug.read_timeout":  cfg.Debug.ReadTimeout,
		"debug.write_timeout": cfg.Debug.WriteTimeout,
		"debug.idle_timeout":  cfg.Debug.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
