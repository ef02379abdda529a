package config

import (
	"strings"
	"time"
)

// Config is the daemon configuration (JSON or YAML, unknown keys rejected).
type Config struct {
	Reminders RemindersConfig `json:"reminders"`
	Schedules SchedulesConfig `json:"schedules"`
	Scheduler SchedulerConfig `json:"scheduler"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`

	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Debug    DebugConfig    `json:"debug,omitempty"`
}

const (
	DefaultGracePeriodMinutes  = 30
	DefaultFollowupOffsetHours = 2
	DefaultSnoozeMinutes       = 15
	DefaultReconcileEvery      = "@every 5m"
)

// RemindersConfig holds the planner policy.
//
// grace_period_minutes and followup.offset_hours are pointers so an explicit 0
// is distinguishable from "omitted" (defaults 30 and 2).
type RemindersConfig struct {
	UserID             string `json:"user_id"`
	Timezone           string `json:"timezone,omitempty"` // IANA name; empty = local
	GracePeriodMinutes *int   `json:"grace_period_minutes,omitempty"`

	Followup      FollowupConfig      `json:"followup"`
	SnoozeMinutes int                 `json:"snooze_minutes,omitempty"`
	WeeklySummary WeeklySummaryConfig `json:"weekly_summary"`
}

type FollowupConfig struct {
	Enabled     bool `json:"enabled"`
	OffsetHours *int `json:"offset_hours,omitempty"`
}

// WeeklySummaryConfig posts one summary per pet per ISO week.
type WeeklySummaryConfig struct {
	Enabled bool   `json:"enabled"`
	Weekday string `json:"weekday,omitempty"` // mon..sun, default sun
	At      string `json:"at,omitempty"`      // HH:mm, default 18:00
}

func (r RemindersConfig) Grace() int {
	if r.GracePeriodMinutes == nil {
		return DefaultGracePeriodMinutes
	}
	return *r.GracePeriodMinutes
}

func (r RemindersConfig) FollowupOffset() int {
	if r.Followup.OffsetHours == nil {
		return DefaultFollowupOffsetHours
	}
	return *r.Followup.OffsetHours
}

func (r RemindersConfig) Snooze() time.Duration {
	if r.SnoozeMinutes <= 0 {
		return DefaultSnoozeMinutes * time.Minute
	}
	return time.Duration(r.SnoozeMinutes) * time.Minute
}

// Location resolves Timezone; empty means time.Local.
func (r RemindersConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(r.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func (w WeeklySummaryConfig) WeekdayOrDefault() string {
	if d := strings.TrimSpace(w.Weekday); d != "" {
		return strings.ToLower(d)
	}
	return "sun"
}

func (w WeeklySummaryConfig) AtOrDefault() string {
	if at := strings.TrimSpace(w.At); at != "" {
		return at
	}
	return "18:00"
}

// SchedulesConfig points at the treatment schedule file.
type SchedulesConfig struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch"`
}

// SchedulerConfig controls the trigger service.
//
// reconcile_every accepts a cron expression, "@every <dur>", a Go duration, or
// an "HH:MM" interval.
type SchedulerConfig struct {
	Enabled        bool   `json:"enabled"`
	Timezone       string `json:"timezone,omitempty"`
	ReconcileEvery string `json:"reconcile_every,omitempty"`
	JobTimeout     string `json:"job_timeout,omitempty"` // Go duration; "0s" disables
}

func (s SchedulerConfig) ReconcileSpec() string {
	if v := strings.TrimSpace(s.ReconcileEvery); v != "" {
		return v
	}
	return DefaultReconcileEvery
}

// NotifierConfig controls the delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// An omitted section means DefaultNotifier().
type NotifierConfig struct {
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Workers:       2,
		QueueSize:     256,
		RatePerSec:    3,
		RetryMax:      3,
		RetryBase:     "500ms",
		RetryMaxDelay: "10s",
	}
}

func (c *Config) NotifierOrDefault() NotifierConfig {
	if c == nil || c.Notifier == nil {
		return DefaultNotifier()
	}
	return *c.Notifier
}

// StorageConfig controls the reminder index.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./state/dosebot" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// AllowedUserIDs restricts who may press Done/Snooze. Empty allows anyone in the chat.
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

func (t TelegramConfig) Enabled() bool { return strings.TrimSpace(t.Token) != "" }

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DebugConfig controls the optional HTTP endpoint (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - A non-loopback address needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
