package planner

import (
	"dosebot/internal/reminder/notifid"
	"dosebot/internal/storage"
)

// Kind is a reminder's kind: one of the slot kinds from notifid, or the
// per-pet weekly summary. The zero value is not a valid kind.
type Kind struct {
	slot   notifid.Kind
	weekly bool
}

var (
	KindInitial  = Kind{slot: notifid.Initial}
	KindFollowup = Kind{slot: notifid.Followup}
	KindSnooze   = Kind{slot: notifid.Snooze}
	KindWeekly   = Kind{weekly: true}
)

const weeklyName = "weekly_summary"

func SlotKind(k notifid.Kind) Kind { return Kind{slot: k} }

func (k Kind) Weekly() bool { return k.weekly }

// Slot returns the notifid kind; ok is false for weekly summaries.
func (k Kind) Slot() (notifid.Kind, bool) { return k.slot, !k.weekly }

// String is the name stored in the index and handed to the poster.
func (k Kind) String() string {
	if k.weekly {
		return weeklyName
	}
	return k.slot.String()
}

// ParseKind reads a stored kind name.
func ParseKind(s string) (Kind, error) {
	if s == weeklyName {
		return KindWeekly, nil
	}
	k, err := notifid.ParseKind(s)
	if err != nil {
		return Kind{}, err
	}
	return SlotKind(k), nil
}

// entryKind is ParseKind for an index entry; unknown names give the zero Kind.
func entryKind(e storage.Entry) Kind {
	k, _ := ParseKind(e.Kind)
	return k
}
