// Package decision classifies a reminder's target instant against "now" and
// computes follow-up instants that avoid the late-night window.
//
// Everything here is a pure function of its arguments. "now" is always a
// parameter; nothing in this package reads the system clock.
package decision

import (
	"fmt"
	"time"

	"dosebot/internal/reminder"
)

// Decision is the derived scheduling state of one target instant.
type Decision int

const (
	// Scheduled: target is now or in the future.
	Scheduled Decision = iota
	// Immediate: target passed, but within the grace window; fire now.
	Immediate
	// Missed: target passed beyond the grace window; do not fire.
	Missed
)

const (
	DefaultGracePeriodMinutes  = 30
	DefaultFollowupOffsetHours = 2

	// CutoffHour is the same-day boundary (HH:00) after which a follow-up is deferred.
	// The comparison is against 23:00 exactly, not 23:59.
	CutoffHour = 23
	// DeferHour is the hour a deferred follow-up fires on the next day.
	DeferHour = 8

	// MaxFollowupOffsetHours bounds the offset; anything past a day is
	// deferred anyway, and larger values would overflow time.Duration.
	MaxFollowupOffsetHours = 24 * 366
)

func (d Decision) String() string {
	switch d {
	case Scheduled:
		return "scheduled"
	case Immediate:
		return "immediate"
	case Missed:
		return "missed"
	default:
		return "unknown"
	}
}

// Evaluate classifies target relative to now.
//
// delta == 0 is Scheduled. Lateness is floored to whole minutes and a lateness
// equal to graceMinutes is still Immediate.
func Evaluate(target, now time.Time, graceMinutes int) (Decision, error) {
	if graceMinutes < 0 {
		return Missed, reminder.InvalidArgument("grace_period_minutes", "must be >= 0")
	}
	delta := target.Sub(now)
	if delta >= 0 {
		return Scheduled, nil
	}
	// now.Sub saturates to a positive duration for targets centuries back.
	late := now.Sub(target) / time.Minute
	if late <= time.Duration(graceMinutes) {
		return Immediate, nil
	}
	return Missed, nil
}

// FollowupAt returns initial + offsetHours, unless that lands strictly after
// 23:00 on initial's calendar day; then it returns 08:00 on the day after
// initial's day (in initial's location).
func FollowupAt(initial time.Time, offsetHours int) (time.Time, error) {
	if err := checkOffset(offsetHours); err != nil {
		return time.Time{}, err
	}
	candidate := initial.Add(time.Duration(offsetHours) * time.Hour)
	y, m, d := initial.Date()
	loc := initial.Location()
	cutoff := time.Date(y, m, d, CutoffHour, 0, 0, 0, loc)
	if candidate.After(cutoff) {
		return time.Date(y, m, d+1, DeferHour, 0, 0, 0, loc), nil
	}
	return candidate, nil
}

// Policy bundles the tunables the orchestrator passes to Evaluate and FollowupAt.
type Policy struct {
	GracePeriodMinutes  int
	FollowupOffsetHours int
}

// DefaultPolicy returns the 30 minute grace / 2 hour follow-up defaults.
func DefaultPolicy() Policy {
	return Policy{
		GracePeriodMinutes:  DefaultGracePeriodMinutes,
		FollowupOffsetHours: DefaultFollowupOffsetHours,
	}
}

// Validate rejects negative tunables and offsets above MaxFollowupOffsetHours.
func (p Policy) Validate() error {
	if p.GracePeriodMinutes < 0 {
		return reminder.InvalidArgument("grace_period_minutes", "must be >= 0")
	}
	return checkOffset(p.FollowupOffsetHours)
}

func checkOffset(hours int) error {
	switch {
	case hours < 0:
		return reminder.InvalidArgument("followup_offset_hours", "must be >= 0")
	case hours > MaxFollowupOffsetHours:
		return reminder.InvalidArgument("followup_offset_hours", fmt.Sprintf("must be <= %d", MaxFollowupOffsetHours))
	}
	return nil
}

func (p Policy) Evaluate(target, now time.Time) (Decision, error) {
	return Evaluate(target, now, p.GracePeriodMinutes)
}

func (p Policy) FollowupAt(initial time.Time) (time.Time, error) {
	return FollowupAt(initial, p.FollowupOffsetHours)
}
