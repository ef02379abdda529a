package app

import (
	"context"
	"fmt"

	"dosebot/internal/config"
	"dosebot/internal/task/scheduler"
	logx "dosebot/pkg/logx"
)

const (
	jobReconcile = "reconcile"
	jobRollover  = "rollover"
	jobWeekly    = "weekly_summary"
)

// registerJobs (re)installs the periodic triggers for cfg. Jobs are upserted
// by name, so calling it again on reload only changes what differs.
func (a *App) registerJobs(cfg *config.Config) error {
	if _, err := a.sched.AddSchedule(jobReconcile, cfg.Scheduler.ReconcileSpec(), 0, func(ctx context.Context) error {
		_, err := a.plan.Reconcile(ctx, "periodic")
		return err
	}); err != nil {
		return fmt.Errorf("scheduler.reconcile_every: %w", err)
	}

	// Day rollover: arm the new day's occurrences and settle yesterday's.
	if _, err := a.sched.AddDaily(jobRollover, "00:00", 0, func(ctx context.Context) error {
		_, err := a.plan.Reconcile(ctx, "rollover")
		return err
	}); err != nil {
		return err
	}

	ws := cfg.Reminders.WeeklySummary
	if !ws.Enabled {
		if a.sched.Remove(jobWeekly) {
			a.log.Info("weekly summary disabled")
		}
		return nil
	}
	day, err := config.ParseWeekday(ws.WeekdayOrDefault())
	if err != nil {
		return fmt.Errorf("reminders.weekly_summary.weekday: %w", err)
	}
	if _, err := a.sched.AddWeekly(jobWeekly, day, ws.AtOrDefault(), 0, func(ctx context.Context) error {
		n, err := a.plan.WeeklySummary(ctx)
		if n > 0 {
			a.log.Debug("weekly summary job", logx.Int("posted", n))
		}
		return err
	}); err != nil {
		return fmt.Errorf("reminders.weekly_summary: %w", err)
	}
	return nil
}

// validateJobs checks the trigger specs of cfg without installing them.
func validateJobs(cfg *config.Config) error {
	if _, err := scheduler.ParseSchedule(cfg.Scheduler.ReconcileSpec()); err != nil {
		return fmt.Errorf("scheduler.reconcile_every: %w", err)
	}
	return nil
}
