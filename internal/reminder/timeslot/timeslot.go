// Package timeslot converts between the canonical "HH:mm" time-of-day text
// and structured values, and builds zoned instants for a reference date.
//
// Parsing is strict: exactly two digits, a colon, two digits, hour 00-23 and
// minute 00-59. Nothing is clamped or defaulted.
package timeslot

import (
	"fmt"
	"regexp"
	"time"

	"dosebot/internal/reminder"
)

// Grammar describes the accepted format in error messages.
const Grammar = `"HH:mm" (two-digit hour 00-23, colon, two-digit minute 00-59)`

var reSlot = regexp.MustCompile(`^[0-9]{2}:[0-9]{2}$`)

// TimeOfDay is a wall-clock hour and minute.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Valid reports whether s is a canonical, in-range "HH:mm" string.
func Valid(s string) bool {
	_, ok := split(s)
	return ok
}

// Parse returns the hour/minute of s or a *reminder.FormatError.
func Parse(s string) (TimeOfDay, error) {
	t, ok := split(s)
	if !ok {
		return TimeOfDay{}, &reminder.FormatError{Input: s, Expected: Grammar}
	}
	return t, nil
}

func split(s string) (TimeOfDay, bool) {
	if !reSlot.MatchString(s) {
		return TimeOfDay{}, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 23 || m > 59 {
		return TimeOfDay{}, false
	}
	return TimeOfDay{Hour: h, Minute: m}, true
}

// String returns the zero-padded "HH:mm" form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant at t on ref's calendar date, in ref's location.
// time.Date resolves DST gaps and overlaps the same way the zone's clock does.
func (t TimeOfDay) On(ref time.Time) time.Time {
	y, mo, d := ref.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, ref.Location())
}

// Format returns the "HH:mm" slot of an instant, using its hour and minute only.
func Format(t time.Time) string {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}.String()
}

// At parses slot and builds the zoned instant for ref's date.
func At(slot string, ref time.Time) (time.Time, error) {
	t, err := Parse(slot)
	if err != nil {
		return time.Time{}, err
	}
	return t.On(ref), nil
}
