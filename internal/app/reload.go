package app

import (
	"context"
	"errors"
	"slices"
	"strings"

	"dosebot/internal/config"
	logx "dosebot/pkg/logx"
)

// validate runs the component mappings against cfg so a reload that would
// fail to apply is rejected before commit.
func validate(cfg *config.Config) error {
	var errs []error
	if _, err := plannerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := notifierConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := storageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := schedulerConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := debugConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := validateJobs(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			a.apply(c, lastApplied, newCfg, sections)
			lastApplied = newCfg

			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

// apply fans a committed config out to the running components.
func (a *App) apply(c context.Context, prev, cfg *config.Config, sections []string) {
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev.Telegram.Token != cfg.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}
	if prev.Schedules.Path != cfg.Schedules.Path || prev.Schedules.Watch != cfg.Schedules.Watch {
		a.log.Warn("schedules source changed; restart required for changes to take effect")
	}

	// update log target first (so Apply() doesn't warn when chat logging is enabled)
	a.logs.SetChatTarget(cfg.Telegram.ChatID, cfg.Logging.Chat.ThreadID)
	a.logs.Apply(logConfig(cfg))
	a.setAccess(cfg.Telegram)

	if ncfg, err := notifierConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	replan := false
	if pcfg, err := plannerConfig(cfg); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else if err := a.plan.Apply(pcfg); err != nil {
		a.log.Warn("reminders config rejected; keeping previous", logx.Err(err))
	} else {
		replan = slices.Contains(sections, "reminders")
	}

	if scfg, err := schedulerConfig(cfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.sched.Enabled()
		a.sched.Apply(scfg)
		switch {
		case wasEnabled && !scfg.Enabled:
			a.log.Info("scheduler disabled via config")
			a.sched.Stop(c)
		case !wasEnabled && scfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(c)
		}
	}
	if err := a.registerJobs(cfg); err != nil {
		a.log.Warn("trigger update failed", logx.Err(err))
	}

	if dcfg, err := debugConfig(cfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dcfg)
	}

	if replan {
		a.reconcile(c, "config")
	}
}
