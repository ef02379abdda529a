package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"dosebot/internal/config"
	"dosebot/internal/reminder/planner"
	"dosebot/internal/storage"
	"dosebot/internal/treatment"
	logx "dosebot/pkg/logx"
)

// PrintPlan computes the plan for now from the config, the schedules file
// and the index, and writes it to w. Nothing is posted or recorded.
func PrintPlan(ctx context.Context, cfgPath string, now time.Time, w io.Writer) error {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return err
	}
	pcfg, err := plannerConfig(cfg)
	if err != nil {
		return err
	}
	sc, err := storageConfig(cfg)
	if err != nil {
		return err
	}
	schedules, err := treatment.Load(cfg.Schedules.Path)
	if err != nil {
		return err
	}
	store, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(ctx)
	if err != nil {
		return err
	}
	state := make(map[uint32]storage.Entry, len(entries))
	for _, e := range entries {
		state[e.ID] = e
	}
	return writePlan(w, planner.BuildPlan(pcfg, schedules, now, state), pcfg.Location)
}

func writePlan(w io.Writer, plan planner.Plan, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "plan at %s\n\n", plan.At.In(loc).Format(time.RFC3339))
	fmt.Fprintln(tw, "ID\tKIND\tFIRE AT\tDECISION\tSCHEDULE\tSLOT\tTITLE")
	for _, r := range plan.Reminders {
		decision := r.Decision.String()
		if r.Ahead {
			decision = "next"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Kind, r.FireAt.In(loc).Format("2006-01-02 15:04"),
			decision, r.ScheduleID, r.Slot, r.Title)
	}
	for _, m := range plan.Missed {
		fmt.Fprintf(tw, "%d\t%s\t%s\tmissed\t%s\t%s\t%s\n", m.ID, m.Kind, m.FireAt.In(loc).Format("2006-01-02 15:04"),
			m.ScheduleID, m.Slot, m.Title)
	}
	for _, sk := range plan.Skipped {
		fmt.Fprintf(tw, "-\tskipped\t-\t%s\t%s\t%s\t%v\n", sk.Param, sk.ScheduleID, sk.Slot, sk.Err)
	}
	if len(plan.Stale) > 0 {
		fmt.Fprintf(tw, "\n%d stale index entries would be removed\n", len(plan.Stale))
	}
	return tw.Flush()
}
