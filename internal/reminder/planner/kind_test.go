package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosebot/internal/reminder"
	"dosebot/internal/reminder/notifid"
	"dosebot/internal/storage"
)

func TestKindNames(t *testing.T) {
	t.Parallel()
	for _, k := range []Kind{KindInitial, KindFollowup, KindSnooze, KindWeekly} {
		got, err := ParseKind(k.String())
		require.NoError(t, err, k.String())
		assert.Equal(t, k, got)
	}
	assert.Equal(t, "weekly_summary", KindWeekly.String())
	assert.Equal(t, KindFollowup, SlotKind(notifid.Followup))

	slot, ok := KindSnooze.Slot()
	assert.True(t, ok)
	assert.Equal(t, notifid.Snooze, slot)
	_, ok = KindWeekly.Slot()
	assert.False(t, ok)
	assert.True(t, KindWeekly.Weekly())
}

func TestParseKindRejectsUnknown(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "Initial", "weekly", "follow-up"} {
		_, err := ParseKind(s)
		require.ErrorIs(t, err, reminder.ErrInvalidArgument, s)
	}
	assert.Equal(t, Kind{}, entryKind(storage.Entry{Kind: "reminder"}))
	assert.NotEqual(t, KindInitial, Kind{})
}
