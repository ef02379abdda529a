// Package notifid derives stable 31-bit notification identities.
//
// An identity is FNV-1a (32-bit) over a '|'-joined composite key, masked to
// 31 bits. Re-deriving from the same logical inputs after a restart yields the
// same value, which makes posting idempotent and allows cancellation without
// a lookup table.
//
// Collisions between distinct keys happen with probability about 1/2^31 per
// pair. That is accepted for a personal-scale reminder set; it is not a
// cryptographic or adversarial-safe identifier.
package notifid

import (
	"strconv"
	"strings"
	"time"

	"dosebot/internal/reminder"
	"dosebot/internal/reminder/timeslot"
	"dosebot/pkg/fnv1a"
)

// ID is a platform notification identity in [0, MaxID].
type ID uint32

const MaxID ID = 1<<31 - 1

const (
	sep          = "|"
	weeklyPrefix = "weekly_summary"
	dateLayout   = "2006-01-02"
)

// SlotKey returns the composite string hashed by ForSlot. Inputs are validated.
func SlotKey(userID, petID, scheduleID, slot string, kind Kind) (string, error) {
	switch {
	case userID == "":
		return "", reminder.InvalidArgument("user_id", "must not be empty")
	case petID == "":
		return "", reminder.InvalidArgument("pet_id", "must not be empty")
	case scheduleID == "":
		return "", reminder.InvalidArgument("schedule_id", "must not be empty")
	case slot == "":
		return "", reminder.InvalidArgument("time_slot", "must not be empty")
	}
	if _, err := timeslot.Parse(slot); err != nil {
		return "", &reminder.ArgumentError{Param: "time_slot", Reason: "malformed time " + strconv.Quote(slot), Err: err}
	}
	if !kind.Valid() {
		return "", reminder.InvalidArgument("kind", "unrecognized kind (want initial, followup or snooze)")
	}
	return strings.Join([]string{userID, petID, scheduleID, slot, kind.String()}, sep), nil
}

// ForSlot returns the identity of one (user, pet, schedule, slot, kind) reminder.
func ForSlot(userID, petID, scheduleID, slot string, kind Kind) (ID, error) {
	key, err := SlotKey(userID, petID, scheduleID, slot, kind)
	if err != nil {
		return 0, err
	}
	return ID(fnv1a.String31(key)), nil
}

// WeekStart returns midnight of the ISO Monday of d's week, in d's location.
// It is idempotent: a Monday maps to itself.
func WeekStart(d time.Time) time.Time {
	iso := int(d.Weekday())
	if iso == 0 {
		iso = 7
	}
	y, m, day := d.Date()
	return time.Date(y, m, day-(iso-1), 0, 0, 0, 0, d.Location())
}

// WeeklyKey returns the composite string hashed by Weekly.
func WeeklyKey(userID, petID string, date time.Time) (string, error) {
	switch {
	case userID == "":
		return "", reminder.InvalidArgument("user_id", "must not be empty")
	case petID == "":
		return "", reminder.InvalidArgument("pet_id", "must not be empty")
	}
	week := WeekStart(date).Format(dateLayout)
	return strings.Join([]string{weeklyPrefix, userID, petID, week}, sep), nil
}

// Weekly returns the identity of the weekly summary for the week containing date.
func Weekly(userID, petID string, date time.Time) (ID, error) {
	key, err := WeeklyKey(userID, petID, date)
	if err != nil {
		return 0, err
	}
	return ID(fnv1a.String31(key)), nil
}
