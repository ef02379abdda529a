package planner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"dosebot/internal/eventbus"
	"dosebot/internal/notifier"
	"dosebot/internal/storage"
	logx "dosebot/pkg/logx"
)

// Report summarizes one reconcile pass.
type Report struct {
	RunID     string
	Trigger   string
	Started   time.Time
	Took      time.Duration
	Schedules int
	Desired   int
	Posted    int
	Unchanged int
	Cancelled int
	Missed    int
	Skipped   int
	Removed   int
	Errors    int
}

// Reconcile runs one pass: plan, cancel stale identities, post new or
// changed ones, record them. Per-reminder failures are counted and logged;
// only a failure to read the index aborts the pass.
func (p *Planner) Reconcile(ctx context.Context, trigger string) (Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconcileLocked(ctx, trigger)
}

func (p *Planner) reconcileLocked(ctx context.Context, trigger string) (Report, error) {
	start := time.Now()
	now := p.clk.Now()
	rep := Report{RunID: uuid.NewString(), Trigger: trigger, Started: now}
	log := p.log.With(logx.String("run_id", rep.RunID), logx.String("trigger", trigger))

	state, err := p.loadState(ctx)
	if err != nil {
		p.met.ReconcileError("load")
		log.Error("reconcile aborted", logx.Err(err))
		return rep, err
	}
	schedules := p.src.Schedules()
	rep.Schedules = len(schedules)
	p.met.SetSchedules(len(schedules))

	plan := BuildPlan(p.cfg, schedules, now, state)
	rep.Desired = len(plan.Reminders)

	for _, sk := range plan.Skipped {
		rep.Skipped++
		p.met.ReconcileError("identity")
		log.Warn("slot skipped", logx.String("schedule_id", sk.ScheduleID), logx.String("pet_id", sk.PetID),
			logx.String("slot", sk.Slot), logx.String("param", sk.Param), logx.Err(sk.Err))
	}

	desired := make(map[uint32]Reminder, len(plan.Reminders))
	for _, r := range plan.Reminders {
		desired[r.ID] = r
	}
	missed := make(map[uint32]bool, len(plan.Missed))
	for _, m := range plan.Missed {
		missed[m.ID] = true
	}

	pending := make(map[uint32]notifier.Pending)
	for _, pn := range p.poster.Pending() {
		pending[pn.ID] = pn
	}

	// Cancel first so an identity never has two effective schedules.
	for id, pn := range pending {
		if _, ok := desired[id]; ok {
			continue
		}
		if pn.State == notifier.StateInFlight {
			continue
		}
		if p.poster.Cancel(id) {
			rep.Cancelled++
			delete(p.posted, id)
			p.met.ReminderOp("cancelled", pn.Kind, 1)
			p.publish(eventbus.ReminderCancelled, eventbus.ReminderData{ID: id, Kind: pn.Kind, At: pn.At})
			if e, ok := state[id]; ok && e.Status == storage.StatusScheduled && !missed[id] {
				e.Status, e.UpdatedAt = storage.StatusCancelled, now
				if err := p.store.Put(ctx, e); err != nil {
					rep.Errors++
					log.Warn("record cancel failed", logx.Uint64("id", uint64(id)), logx.Err(err))
				}
			}
		}
	}

	for _, r := range plan.Reminders {
		if pn, ok := pending[r.ID]; ok && pn.Kind == r.Kind.String() && pn.At.Equal(r.FireAt) {
			rep.Unchanged++
			p.posted[r.ID] = r
		} else {
			if err := p.poster.Post(toNotification(r)); err != nil {
				rep.Errors++
				p.met.ReconcileError("post")
				log.Warn("post failed", logx.Uint64("id", uint64(r.ID)), logx.String("kind", r.Kind.String()), logx.Err(err))
				continue
			}
			rep.Posted++
			p.posted[r.ID] = r
			p.met.ReminderOp("posted", r.Kind.String(), 1)
			p.publish(eventbus.ReminderPosted, reminderData(r))
		}
		if r.Ahead {
			continue
		}
		if err := p.record(ctx, state, r, now); err != nil {
			rep.Errors++
			log.Warn("record failed", logx.Uint64("id", uint64(r.ID)), logx.Err(err))
		}
	}

	for _, m := range plan.Missed {
		cur, ok := state[m.ID]
		if ok && cur.Occurrence.Equal(m.Occurrence) && cur.Status == storage.StatusMissed {
			continue
		}
		if _, ok := desired[m.ID]; !ok {
			p.poster.Cancel(m.ID)
		}
		e := m.entry(storage.StatusMissed, now)
		if ok && cur.Occurrence.Equal(m.Occurrence) {
			e.Attempts = cur.Attempts
		}
		if err := p.store.Put(ctx, e); err != nil {
			rep.Errors++
			log.Warn("record missed failed", logx.Uint64("id", uint64(m.ID)), logx.Err(err))
			continue
		}
		rep.Missed++
		p.met.ReminderOp("missed", m.Kind.String(), 1)
		p.publish(eventbus.ReminderMissed, reminderData(m.Reminder))
		log.Info("reminder missed", logx.Uint64("id", uint64(m.ID)), logx.String("kind", m.Kind.String()),
			logx.String("schedule_id", m.ScheduleID), logx.String("slot", m.Slot), logx.Time("occurrence", m.Occurrence))
	}

	for _, id := range plan.Stale {
		p.poster.Cancel(id)
		delete(p.posted, id)
		if err := p.store.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			rep.Errors++
			log.Warn("remove stale entry failed", logx.Uint64("id", uint64(id)), logx.Err(err))
			continue
		}
		rep.Removed++
	}

	rep.Took = time.Since(start)
	p.last = rep
	p.met.ObserveReconcile(trigger, rep.Took)
	p.publish(eventbus.ReconcileDone, rep)

	lvl := log.Debug
	if rep.Posted > 0 || rep.Cancelled > 0 || rep.Missed > 0 || rep.Errors > 0 {
		lvl = log.Info
	}
	lvl("reconcile done",
		logx.Int("schedules", rep.Schedules), logx.Int("desired", rep.Desired), logx.Int("posted", rep.Posted),
		logx.Int("unchanged", rep.Unchanged), logx.Int("cancelled", rep.Cancelled), logx.Int("missed", rep.Missed),
		logx.Int("skipped", rep.Skipped), logx.Int("removed", rep.Removed), logx.Int("errors", rep.Errors),
		logx.Duration("took", rep.Took))
	return rep, nil
}

// record writes r to the index as scheduled unless the entry already says so.
func (p *Planner) record(ctx context.Context, state map[uint32]storage.Entry, r Reminder, now time.Time) error {
	e := r.entry(storage.StatusScheduled, now)
	if cur, ok := state[r.ID]; ok && cur.Kind == r.Kind.String() && cur.Occurrence.Equal(r.Occurrence) {
		if cur.Status == storage.StatusScheduled && cur.FireAt.Equal(r.FireAt) {
			return nil
		}
		e.Attempts = cur.Attempts
	}
	return p.store.Put(ctx, e)
}

func toNotification(r Reminder) notifier.Notification {
	return notifier.Notification{
		ID:      r.ID,
		Kind:    r.Kind.String(),
		At:      r.FireAt,
		Title:   r.Title,
		Body:    r.Body,
		Actions: !r.Kind.Weekly(),
	}
}
