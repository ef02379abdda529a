package app

import (
	"fmt"
	"strings"
	"time"

	"dosebot/internal/config"
	"dosebot/internal/notifier"
	"dosebot/internal/observability/debugsrv"
	"dosebot/internal/reminder/decision"
	"dosebot/internal/reminder/planner"
	"dosebot/internal/storage"
	"dosebot/internal/task/scheduler"
	kit "dosebot/internal/transport"
	logx "dosebot/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled && cfg.Telegram.Enabled(),
			ThreadID:   cfg.Logging.Chat.ThreadID,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func plannerConfig(cfg *config.Config) (planner.Config, error) {
	loc, err := cfg.Reminders.Location()
	if err != nil {
		return planner.Config{}, fmt.Errorf("reminders.timezone: %w", err)
	}
	pc := planner.Config{
		UserID:   strings.TrimSpace(cfg.Reminders.UserID),
		Location: loc,
		Policy: decision.Policy{
			GracePeriodMinutes:  cfg.Reminders.Grace(),
			FollowupOffsetHours: cfg.Reminders.FollowupOffset(),
		},
		Followup: cfg.Reminders.Followup.Enabled,
		Snooze:   cfg.Reminders.Snooze(),
	}
	return pc, pc.Validate()
}

func notifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.NotifierOrDefault()
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    float64(n.RatePerSec),
		Burst:         max(1, n.RatePerSec),
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		Target:        kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
	}, nil
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
}

func schedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout := time.Minute
	if raw := strings.TrimSpace(cfg.Scheduler.JobTimeout); raw != "" {
		d, err := config.ParseDurationField("scheduler.job_timeout", raw)
		if err != nil {
			return scheduler.Config{}, err
		}
		timeout = d
	}
	tz := cfg.Scheduler.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = cfg.Reminders.Timezone
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Timezone:       tz,
		DefaultTimeout: timeout,
	}, nil
}

func debugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	out := debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 d.Addr,
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		Pprof:                d.Pprof,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 30*time.Second); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, time.Minute); err != nil {
		return out, err
	}
	return out, nil
}
