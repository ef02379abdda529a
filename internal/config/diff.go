package config

import (
	"reflect"
	"sort"
	"strings"

	logx "dosebot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	fields := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		r := newCfg.Reminders
		changed = append(changed, "reminders")
		fields = append(fields,
			logx.String("reminders.timezone", r.Timezone),
			logx.Int("reminders.grace_period_minutes", r.Grace()),
			logx.Bool("reminders.followup", r.Followup.Enabled),
			logx.Int("reminders.followup_offset_hours", r.FollowupOffset()),
			logx.Duration("reminders.snooze", r.Snooze()),
			logx.Bool("reminders.weekly_summary", r.WeeklySummary.Enabled),
		)
	}

	if oldCfg.Schedules != newCfg.Schedules {
		changed = append(changed, "schedules")
		fields = append(fields,
			logx.String("schedules.path", newCfg.Schedules.Path),
			logx.Bool("schedules.watch", newCfg.Schedules.Watch),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		fields = append(fields,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.reconcile_every", newCfg.Scheduler.ReconcileSpec()),
			logx.String("scheduler.job_timeout", strings.TrimSpace(newCfg.Scheduler.JobTimeout)),
		)
	}

	// A nil section means defaults.
	if oldN, newN := oldCfg.NotifierOrDefault(), newCfg.NotifierOrDefault(); oldN != newN {
		changed = append(changed, "notifier")
		fields = append(fields,
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
		)
	}

	if oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage); oS != nS {
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if oT.Enabled() != nT.Enabled() || oT.Token != nT.Token || oT.ChatID != nT.ChatID ||
		oT.ThreadID != nT.ThreadID || strings.TrimSpace(oT.PollTimeout) != strings.TrimSpace(nT.PollTimeout) ||
		!reflect.DeepEqual(oT.AllowedUserIDs, nT.AllowedUserIDs) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.enabled", nT.Enabled()),
			logx.Bool("telegram.token_changed", oT.Token != nT.Token),
			logx.Bool("telegram.chat_set", nT.ChatID != 0),
			logx.Int("telegram.allowed_users", len(nT.AllowedUserIDs)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		fields = append(fields,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.pprof", newCfg.Debug.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, fields
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
