package notifid

import (
	"strconv"

	"dosebot/internal/reminder"
)

// Kind is the closed set of per-slot reminder kinds.
type Kind int

const (
	Initial Kind = iota + 1
	Followup
	Snooze
)

// Kinds lists every valid Kind.
var Kinds = []Kind{Initial, Followup, Snooze}

// String returns the canonical lowercase name hashed into identities.
func (k Kind) String() string {
	switch k {
	case Initial:
		return "initial"
	case Followup:
		return "followup"
	case Snooze:
		return "snooze"
	default:
		return ""
	}
}

func (k Kind) Valid() bool { return k.String() != "" }

// ParseKind maps a canonical name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, reminder.InvalidArgument("kind", "unrecognized kind "+strconv.Quote(s)+" (want initial, followup or snooze)")
}
