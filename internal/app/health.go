package app

import (
	"errors"
	"time"

	"dosebot/internal/notifier"
	"dosebot/internal/reminder/planner"
	rtsup "dosebot/internal/runtime/supervisor"
	"dosebot/internal/task/scheduler"
)

// staleAfter is how old the last reconcile pass may get before /healthz
// reports unhealthy.
const staleAfter = 30 * time.Minute

type healthReport struct {
	Schedules  int                       `json:"schedules"`
	LastPass   planner.Report            `json:"last_pass"`
	Notifier   notifier.Snapshot         `json:"notifier"`
	Scheduler  scheduler.Snapshot        `json:"scheduler"`
	Goroutines map[string]rtsup.Snapshot `json:"supervisors"`
	Events     map[string]uint64         `json:"events"`
}

func (a *App) health() (any, error) {
	rep := healthReport{
		Schedules:  len(a.src.Schedules()),
		LastPass:   a.plan.LastReport(),
		Notifier:   a.notif.Snapshot(),
		Scheduler:  a.sched.Snapshot(),
		Goroutines: map[string]rtsup.Snapshot{},
		Events:     map[string]uint64{"dropped": a.bus.Dropped()},
	}
	if a.sup != nil {
		rep.Goroutines["app"] = a.sup.Snapshot()
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		if sup := sp.Supervisor(); sup != nil {
			rep.Goroutines["telegram"] = sup.Snapshot()
		}
	}

	var errs []error
	if !rep.Notifier.Running {
		errs = append(errs, errors.New("notifier not running"))
	}
	if rep.LastPass.Started.IsZero() {
		errs = append(errs, errors.New("no reconcile pass yet"))
	} else if a.sched.Enabled() && time.Since(rep.LastPass.Started) > staleAfter {
		errs = append(errs, errors.New("last reconcile pass is stale"))
	}
	return rep, errors.Join(errs...)
}
