package planner

import (
	"fmt"
	"sort"
	"time"

	"dosebot/internal/reminder"
	"dosebot/internal/reminder/decision"
	"dosebot/internal/reminder/notifid"
	"dosebot/internal/reminder/timeslot"
	"dosebot/internal/storage"
	"dosebot/internal/treatment"
)

// lookahead bounds the search for a schedule's next active day.
const lookahead = 366

// Reminder is one desired notification.
type Reminder struct {
	ID         uint32
	Kind       Kind
	UserID     string
	PetID      string
	ScheduleID string
	Slot       string
	// Occurrence is the slot instant of the day this reminder belongs to
	// (the ISO week start for weekly summaries).
	Occurrence time.Time
	FireAt     time.Time
	Decision   decision.Decision
	Title      string
	Body       string
	// Ahead marks a pre-armed next occurrence. It is posted but not
	// recorded, so the index keeps the current day's outcome.
	Ahead bool
}

func (r Reminder) entry(status storage.Status, now time.Time) storage.Entry {
	return storage.Entry{
		ID:         r.ID,
		Kind:       r.Kind.String(),
		UserID:     r.UserID,
		PetID:      r.PetID,
		ScheduleID: r.ScheduleID,
		Slot:       r.Slot,
		Occurrence: r.Occurrence,
		FireAt:     r.FireAt,
		Status:     status,
		UpdatedAt:  now,
	}
}

// Missed is an occurrence whose fire time passed beyond the grace period.
type Missed struct {
	Reminder
}

// Skip is a slot left out of the plan because its inputs were rejected.
type Skip struct {
	ScheduleID string
	PetID      string
	Slot       string
	Param      string
	Err        error
}

type Plan struct {
	At        time.Time
	Reminders []Reminder
	Missed    []Missed
	Skipped   []Skip
	// Stale lists index entries that no schedule refers to any more.
	Stale []uint32
}

// BuildPlan computes the desired reminders for now. It is a pure function
// of its inputs.
func BuildPlan(cfg Config, schedules []treatment.Schedule, now time.Time, state map[uint32]storage.Entry) Plan {
	cfg = cfg.withDefaults()
	now = now.In(cfg.Location)
	b := &builder{cfg: cfg, now: now, state: state, desired: map[uint32]int{}, slots: map[slotRef]treatment.Schedule{}}
	b.plan.At = now

	for _, s := range schedules {
		for _, slot := range s.Slots() {
			b.slot(s, slot)
		}
	}
	b.carry()

	sort.SliceStable(b.plan.Reminders, func(i, j int) bool {
		ri, rj := b.plan.Reminders[i], b.plan.Reminders[j]
		if !ri.FireAt.Equal(rj.FireAt) {
			return ri.FireAt.Before(rj.FireAt)
		}
		return ri.ID < rj.ID
	})
	sort.Slice(b.plan.Stale, func(i, j int) bool { return b.plan.Stale[i] < b.plan.Stale[j] })
	return b.plan
}

type slotRef struct {
	scheduleID string
	slot       string
}

type builder struct {
	cfg   Config
	now   time.Time
	state map[uint32]storage.Entry
	plan  Plan

	desired map[uint32]int // id -> index in plan.Reminders
	slots   map[slotRef]treatment.Schedule
}

func (b *builder) add(r Reminder) {
	if i, ok := b.desired[r.ID]; ok {
		b.plan.Reminders[i] = r
		return
	}
	b.desired[r.ID] = len(b.plan.Reminders)
	b.plan.Reminders = append(b.plan.Reminders, r)
}

func (b *builder) miss(r Reminder) {
	b.plan.Missed = append(b.plan.Missed, Missed{Reminder: r})
}

func (b *builder) skip(s treatment.Schedule, slot string, err error) {
	b.plan.Skipped = append(b.plan.Skipped, Skip{
		ScheduleID: s.ID, PetID: s.PetID, Slot: slot, Param: reminder.ParamOf(err), Err: err,
	})
}

func (b *builder) base(s treatment.Schedule, slot string) Reminder {
	return Reminder{
		UserID:     b.cfg.UserID,
		PetID:      s.PetID,
		ScheduleID: s.ID,
		Slot:       slot,
	}
}

// slot plans one (schedule, slot) pair for today.
func (b *builder) slot(s treatment.Schedule, slot string) {
	initID, err := notifid.ForSlot(b.cfg.UserID, s.PetID, s.ID, slot, notifid.Initial)
	if err != nil {
		b.skip(s, slot, err)
		return
	}
	fuID, err := notifid.ForSlot(b.cfg.UserID, s.PetID, s.ID, slot, notifid.Followup)
	if err != nil {
		b.skip(s, slot, err)
		return
	}
	b.slots[slotRef{s.ID, slot}] = s

	if !s.ActiveOn(b.now) {
		b.ahead(s, slot, uint32(initID))
		return
	}
	occ, err := timeslot.At(slot, b.now)
	if err != nil {
		b.skip(s, slot, err)
		return
	}
	init := b.base(s, slot)
	init.ID, init.Kind, init.Occurrence = uint32(initID), KindInitial, occ
	init.Title, init.Body = titleFor(s), bodyFor(s, KindInitial, slot)

	cur, known := b.state[init.ID]
	same := known && cur.Occurrence.Equal(occ)
	if same {
		switch {
		case cur.Status == storage.StatusAcknowledged:
			b.ahead(s, slot, init.ID)
			return
		case cur.Status == storage.StatusDelivered, cur.Status == storage.StatusMissed,
			cur.Status == storage.StatusFailed && cur.Attempts >= b.cfg.MaxAttempts:
			if cur.Status == storage.StatusFailed {
				b.miss(init)
			}
			b.ahead(s, slot, init.ID)
			b.followup(s, slot, uint32(fuID), occ)
			return
		}
	}

	d, err := b.cfg.Policy.Evaluate(occ, b.now)
	if err != nil {
		b.skip(s, slot, err)
		return
	}
	init.Decision = d
	switch d {
	case decision.Scheduled:
		init.FireAt = occ
		b.add(init)
	case decision.Immediate:
		init.FireAt = b.now
		// Keep the first immediate fire time so repeated passes do not re-post.
		if same && cur.Status == storage.StatusScheduled && !cur.FireAt.IsZero() &&
			!cur.FireAt.Before(occ) && !cur.FireAt.After(b.now) {
			init.FireAt = cur.FireAt
		}
		b.add(init)
	case decision.Missed:
		init.FireAt = occ
		b.miss(init)
		b.ahead(s, slot, init.ID)
		b.followup(s, slot, uint32(fuID), occ)
	}
}

// followup plans the follow-up for the occurrence occ when it is enabled and
// not already settled.
func (b *builder) followup(s treatment.Schedule, slot string, id uint32, occ time.Time) {
	if !s.FollowupEnabled(b.cfg.Followup) {
		return
	}
	if fe, ok := b.state[id]; ok && fe.Occurrence.Equal(occ) && fe.Status != storage.StatusScheduled {
		return
	}
	at, err := b.cfg.Policy.FollowupAt(occ)
	if err != nil {
		b.skip(s, slot, err)
		return
	}
	fu := b.base(s, slot)
	fu.ID, fu.Kind, fu.Occurrence, fu.FireAt = id, KindFollowup, occ, at
	fu.Title, fu.Body = titleFor(s), bodyFor(s, KindFollowup, slot)

	d, err := b.cfg.Policy.Evaluate(at, b.now)
	if err != nil {
		b.skip(s, slot, err)
		return
	}
	fu.Decision = d
	switch d {
	case decision.Scheduled:
		b.add(fu)
	case decision.Immediate:
		if fe, ok := b.state[id]; ok && fe.Occurrence.Equal(occ) && fe.Status == storage.StatusScheduled &&
			!fe.FireAt.Before(at) && !fe.FireAt.After(b.now) {
			fu.FireAt = fe.FireAt
		} else {
			fu.FireAt = b.now
		}
		b.add(fu)
	case decision.Missed:
		b.miss(fu)
	}
}

// ahead pre-arms the next active day's occurrence of slot.
func (b *builder) ahead(s treatment.Schedule, slot string, id uint32) {
	y, m, d := b.now.Date()
	for i := 1; i <= lookahead; i++ {
		day := time.Date(y, m, d+i, 12, 0, 0, 0, b.now.Location())
		if !s.ActiveOn(day) {
			continue
		}
		occ, err := timeslot.At(slot, day)
		if err != nil {
			b.skip(s, slot, err)
			return
		}
		r := b.base(s, slot)
		r.ID, r.Kind, r.Occurrence, r.FireAt = id, KindInitial, occ, occ
		r.Decision = decision.Scheduled
		r.Title, r.Body = titleFor(s), bodyFor(s, KindInitial, slot)
		r.Ahead = true
		b.add(r)
		return
	}
}

// carry keeps pending follow-up, snooze and weekly entries from the index
// that the schedules did not already plan, and collects stale entries.
func (b *builder) carry() {
	ids := make([]uint32, 0, len(b.state))
	for id := range b.state {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	week := weekStart(b.now)
	for _, id := range ids {
		e := b.state[id]
		kind := entryKind(e)
		if kind == KindWeekly {
			if e.Occurrence.Before(week) {
				b.plan.Stale = append(b.plan.Stale, id)
				continue
			}
			if e.Status == storage.StatusScheduled {
				b.carryEntry(e, e.PetID, "")
			}
			continue
		}
		s, ok := b.slots[slotRef{e.ScheduleID, e.Slot}]
		if !ok {
			b.plan.Stale = append(b.plan.Stale, id)
			continue
		}
		if e.Status != storage.StatusScheduled || (kind != KindFollowup && kind != KindSnooze) {
			continue
		}
		if _, planned := b.desired[id]; planned {
			continue
		}
		if b.acknowledged(e) {
			continue
		}
		b.carryEntry(e, titleFor(s), bodyFor(s, kind, e.Slot))
	}
}

// acknowledged reports whether the initial reminder for e's occurrence was acknowledged.
func (b *builder) acknowledged(e storage.Entry) bool {
	initID, err := notifid.ForSlot(e.UserID, e.PetID, e.ScheduleID, e.Slot, notifid.Initial)
	if err != nil {
		return false
	}
	ie, ok := b.state[uint32(initID)]
	return ok && ie.Occurrence.Equal(e.Occurrence) && ie.Status == storage.StatusAcknowledged
}

func (b *builder) carryEntry(e storage.Entry, title, body string) {
	r := Reminder{
		ID: e.ID, Kind: entryKind(e), UserID: e.UserID, PetID: e.PetID, ScheduleID: e.ScheduleID,
		Slot: e.Slot, Occurrence: e.Occurrence, FireAt: e.FireAt, Title: title, Body: body,
	}
	d, err := b.cfg.Policy.Evaluate(e.FireAt, b.now)
	if err != nil {
		return
	}
	r.Decision = d
	if d == decision.Missed {
		b.miss(r)
		return
	}
	if _, planned := b.desired[r.ID]; planned {
		return
	}
	b.add(r)
}

func weekStart(t time.Time) time.Time { return notifid.WeekStart(t) }

func titleFor(s treatment.Schedule) string {
	if s.Title == "" {
		return s.DisplayName()
	}
	return fmt.Sprintf("%s: %s", s.DisplayName(), s.Title)
}

func bodyFor(s treatment.Schedule, kind Kind, slot string) string {
	var line string
	switch kind {
	case KindFollowup:
		line = fmt.Sprintf("Not marked done yet (due %s).", slot)
	case KindSnooze:
		line = fmt.Sprintf("Snoozed reminder for %s.", slot)
	default:
		line = fmt.Sprintf("Due %s.", slot)
	}
	if s.Notes != "" {
		line += "\n" + s.Notes
	}
	return line
}
