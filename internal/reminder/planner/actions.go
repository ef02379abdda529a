package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"dosebot/internal/eventbus"
	"dosebot/internal/notifier"
	"dosebot/internal/reminder/decision"
	"dosebot/internal/reminder/notifid"
	"dosebot/internal/storage"
	"dosebot/internal/transport"
	"dosebot/internal/treatment"
	logx "dosebot/pkg/logx"
)

// Hooks returns the notifier hooks that feed delivery outcomes back here.
func (p *Planner) Hooks() notifier.Hooks {
	return notifier.Hooks{
		Delivered: func(ctx context.Context, n notifier.Notification, _ transport.MessageRef) {
			if err := p.MarkDelivered(ctx, n); err != nil {
				p.log.Warn("mark delivered failed", logx.Uint64("id", uint64(n.ID)), logx.Err(err))
			}
		},
		Failed: func(ctx context.Context, n notifier.Notification, err error) {
			if merr := p.MarkFailed(ctx, n, err); merr != nil {
				p.log.Warn("mark failed failed", logx.Uint64("id", uint64(n.ID)), logx.Err(merr))
			}
		},
	}
}

// MarkDelivered records a successful delivery and re-plans, which arms the
// follow-up and the next occurrence.
func (p *Planner) MarkDelivered(ctx context.Context, n notifier.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.markLocked(ctx, n, storage.StatusDelivered); err != nil {
		return err
	}
	p.met.ReminderOp("delivered", n.Kind, 1)
	_, err := p.reconcileLocked(ctx, "delivered")
	return err
}

// MarkFailed records a failed delivery. The next pass retries it while the
// occurrence is within the grace period and attempts remain.
func (p *Planner) MarkFailed(ctx context.Context, n notifier.Notification, cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.met.ReminderOp("failed", n.Kind, 1)
	p.log.Warn("reminder delivery failed", logx.Uint64("id", uint64(n.ID)), logx.String("kind", n.Kind), logx.Err(cause))
	return p.markLocked(ctx, n, storage.StatusFailed)
}

func (p *Planner) markLocked(ctx context.Context, n notifier.Notification, status storage.Status) error {
	now := p.clk.Now()
	var e storage.Entry
	if r, ok := p.posted[n.ID]; ok && r.FireAt.Equal(n.At) {
		e = r.entry(status, now)
		if cur, err := p.store.Get(ctx, n.ID); err == nil && cur.Occurrence.Equal(e.Occurrence) {
			e.Attempts = cur.Attempts
		}
		delete(p.posted, n.ID)
	} else {
		cur, err := p.store.Get(ctx, n.ID)
		if err != nil {
			return fmt.Errorf("reminder %d: %w", n.ID, err)
		}
		e = cur
		e.Status, e.UpdatedAt = status, now
	}
	e.Attempts++
	return p.store.Put(ctx, e)
}

// Acknowledge marks the occurrence behind id done: the initial entry is set
// to acknowledged and its pending follow-up and snooze are cancelled. id may
// be the initial, follow-up, snooze or weekly-summary identity.
func (p *Planner) Acknowledge(ctx context.Context, id uint32, actor string) (err error) {
	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.entryLocked(ctx, id)
	if err != nil {
		p.audit(ctx, "acknowledge", actor, storage.Entry{ID: id}, start, err)
		return err
	}
	defer func() { p.audit(ctx, "acknowledge", actor, e, start, err) }()

	now := p.clk.Now()
	if entryKind(e).Weekly() {
		p.poster.Cancel(id)
		e.Status, e.UpdatedAt = storage.StatusAcknowledged, now
		return p.store.Put(ctx, e)
	}

	ids, err := slotIDs(e)
	if err != nil {
		return err
	}
	for _, kind := range notifid.Kinds {
		sid := uint32(ids[kind])
		cur, gerr := p.store.Get(ctx, sid)
		if gerr != nil && !errors.Is(gerr, storage.ErrNotFound) {
			return gerr
		}
		sameOcc := gerr == nil && cur.Occurrence.Equal(e.Occurrence)

		if kind == notifid.Initial {
			ack := e
			if sameOcc {
				ack = cur
			} else {
				ack.ID, ack.Kind, ack.FireAt = sid, KindInitial.String(), e.Occurrence
			}
			// A newer occurrence already owns the initial identity; leave it.
			if gerr == nil && cur.Occurrence.After(e.Occurrence) {
				continue
			}
			ack.Status, ack.UpdatedAt = storage.StatusAcknowledged, now
			if r, ok := p.posted[sid]; ok && r.Occurrence.Equal(e.Occurrence) {
				p.poster.Cancel(sid)
				delete(p.posted, sid)
			}
			if err := p.store.Put(ctx, ack); err != nil {
				return err
			}
			continue
		}
		if !sameOcc {
			continue
		}
		if r, ok := p.posted[sid]; ok && r.Occurrence.Equal(e.Occurrence) {
			p.poster.Cancel(sid)
			delete(p.posted, sid)
		}
		switch {
		case sid == id:
			cur.Status = storage.StatusAcknowledged
		case cur.Status == storage.StatusScheduled:
			cur.Status = storage.StatusCancelled
		default:
			continue
		}
		cur.UpdatedAt = now
		if err := p.store.Put(ctx, cur); err != nil {
			return err
		}
	}

	p.met.ReminderOp("acknowledged", e.Kind, 1)
	p.publish(eventbus.ReminderAcked, entryData(e))
	p.log.Info("reminder acknowledged", logx.Uint64("id", uint64(id)), logx.String("actor", actor),
		logx.String("schedule_id", e.ScheduleID), logx.String("slot", e.Slot))
	return nil
}

// Snooze posts a snooze reminder for the occurrence behind id, due after
// the configured snooze delay. It returns the snooze fire time.
func (p *Planner) Snooze(ctx context.Context, id uint32, actor string) (at time.Time, err error) {
	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	e, err := p.entryLocked(ctx, id)
	defer func() { p.audit(ctx, "snooze", actor, e, start, err) }()
	if err != nil {
		e.ID = id
		return time.Time{}, err
	}
	if entryKind(e).Weekly() {
		return time.Time{}, errors.New("weekly summaries cannot be snoozed")
	}
	ids, err := slotIDs(e)
	if err != nil {
		return time.Time{}, err
	}

	now := p.clk.Now().In(p.cfg.Location)
	r := Reminder{
		ID:         uint32(ids[notifid.Snooze]),
		Kind:       KindSnooze,
		UserID:     e.UserID,
		PetID:      e.PetID,
		ScheduleID: e.ScheduleID,
		Slot:       e.Slot,
		Occurrence: e.Occurrence,
		FireAt:     now.Add(p.cfg.Snooze),
		Decision:   decision.Scheduled,
	}
	if s, ok := p.scheduleByID(e.ScheduleID); ok {
		r.Title, r.Body = titleFor(s), bodyFor(s, KindSnooze, e.Slot)
	}
	if err := p.poster.Post(toNotification(r)); err != nil {
		return time.Time{}, err
	}
	p.posted[r.ID] = r
	if err := p.store.Put(ctx, r.entry(storage.StatusScheduled, now)); err != nil {
		return time.Time{}, err
	}
	p.met.ReminderOp("snoozed", KindSnooze.String(), 1)
	p.publish(eventbus.ReminderSnoozed, reminderData(r))
	p.log.Info("reminder snoozed", logx.Uint64("id", uint64(id)), logx.String("actor", actor), logx.Time("until", r.FireAt))
	return r.FireAt, nil
}

// WeeklySummary posts one summary per pet for the current ISO week. A pet
// whose summary for this week is already recorded is skipped.
func (p *Planner) WeeklySummary(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clk.Now().In(p.cfg.Location)
	week := notifid.WeekStart(now)
	byPet := map[string][]treatment.Schedule{}
	var pets []string
	for _, s := range p.src.Schedules() {
		if !s.IsActive() {
			continue
		}
		if _, seen := byPet[s.PetID]; !seen {
			pets = append(pets, s.PetID)
		}
		byPet[s.PetID] = append(byPet[s.PetID], s)
	}
	sort.Strings(pets)

	posted := 0
	var errs []error
	for _, pet := range pets {
		id, err := notifid.Weekly(p.cfg.UserID, pet, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if cur, err := p.store.Get(ctx, uint32(id)); err == nil && cur.Occurrence.Equal(week) {
			continue
		}
		list := byPet[pet]
		r := Reminder{
			ID:         uint32(id),
			Kind:       KindWeekly,
			UserID:     p.cfg.UserID,
			PetID:      pet,
			Occurrence: week,
			FireAt:     now,
			Decision:   decision.Immediate,
			Title:      list[0].DisplayName(),
			Body:       summaryBody(list, week),
		}
		if err := p.poster.Post(toNotification(r)); err != nil {
			errs = append(errs, fmt.Errorf("pet %s: %w", pet, err))
			continue
		}
		p.posted[r.ID] = r
		if err := p.store.Put(ctx, r.entry(storage.StatusScheduled, now)); err != nil {
			errs = append(errs, fmt.Errorf("pet %s: %w", pet, err))
			continue
		}
		posted++
		p.met.ReminderOp("posted", KindWeekly.String(), 1)
		p.publish(eventbus.ReminderPosted, reminderData(r))
	}
	if posted > 0 {
		p.log.Info("weekly summaries posted", logx.Int("count", posted), logx.Time("week", week))
	}
	return posted, errors.Join(errs...)
}

func summaryBody(list []treatment.Schedule, week time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Week of %s:", week.Format("2006-01-02"))
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = s.ID
		}
		fmt.Fprintf(&b, "\n- %s at %s", title, strings.Join(s.Slots(), ", "))
	}
	return b.String()
}

func (p *Planner) entryLocked(ctx context.Context, id uint32) (storage.Entry, error) {
	e, err := p.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Entry{}, fmt.Errorf("%w: %d", ErrUnknownReminder, id)
	}
	return e, err
}

func (p *Planner) scheduleByID(id string) (treatment.Schedule, bool) {
	for _, s := range p.src.Schedules() {
		if s.ID == id {
			return s, true
		}
	}
	return treatment.Schedule{}, false
}

// slotIDs derives the three per-slot identities of e's slot.
func slotIDs(e storage.Entry) (map[notifid.Kind]notifid.ID, error) {
	out := make(map[notifid.Kind]notifid.ID, len(notifid.Kinds))
	for _, k := range notifid.Kinds {
		id, err := notifid.ForSlot(e.UserID, e.PetID, e.ScheduleID, e.Slot, k)
		if err != nil {
			return nil, err
		}
		out[k] = id
	}
	return out, nil
}

func (p *Planner) audit(ctx context.Context, action, actor string, e storage.Entry, start time.Time, err error) {
	a := storage.AuditEntry{
		At:         p.clk.Now(),
		Actor:      actor,
		Action:     action,
		ReminderID: e.ID,
		PetID:      e.PetID,
		ScheduleID: e.ScheduleID,
		Slot:       e.Slot,
		OK:         err == nil,
		TookMS:     time.Since(start).Milliseconds(),
	}
	if err != nil {
		a.Error = err.Error()
	}
	if aerr := p.store.AppendAudit(ctx, a); aerr != nil {
		p.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}
