package decision

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosebot/internal/reminder"
)

func TestEvaluateBoundaries(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		target time.Time
		grace  int
		want   Decision
	}{
		{"now is scheduled", now, 30, Scheduled},
		{"future", now.Add(time.Minute), 30, Scheduled},
		{"far future", now.Add(72 * time.Hour), 30, Scheduled},
		{"15 minutes late", now.Add(-15 * time.Minute), 30, Immediate},
		{"exactly grace", now.Add(-30 * time.Minute), 30, Immediate},
		{"grace plus fraction floors", now.Add(-30*time.Minute - 59*time.Second), 30, Immediate},
		{"one minute past grace", now.Add(-31 * time.Minute), 30, Missed},
		{"one nanosecond late", now.Add(-time.Nanosecond), 0, Immediate},
		{"zero grace one minute late", now.Add(-time.Minute), 0, Missed},
		{"far past", now.Add(-48 * time.Hour), 30, Missed},
		{"zero time", time.Time{}, 30, Missed},
		{"centuries ago", time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC), 30, Missed},
		{"centuries ahead", time.Date(2400, 1, 1, 0, 0, 0, 0, time.UTC), 30, Scheduled},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Evaluate(tt.target, now, tt.grace)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateComparesInstantsAcrossZones(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	target := now.In(loc).Add(-10 * time.Minute)

	got, err := Evaluate(target, now, 30)
	require.NoError(t, err)
	assert.Equal(t, Immediate, got)
}

func TestEvaluateRejectsNegativeGrace(t *testing.T) {
	t.Parallel()
	now := time.Now()
	_, err := Evaluate(now, now, -1)
	require.ErrorIs(t, err, reminder.ErrInvalidArgument)
	assert.Equal(t, "grace_period_minutes", reminder.ParamOf(err))
}

func TestFollowupAt(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	day := func(d, h, m int) time.Time { return time.Date(2024, 6, d, h, m, 0, 0, loc) }

	tests := []struct {
		name    string
		initial time.Time
		offset  int
		want    time.Time
	}{
		{"late initial defers to next morning", day(10, 22, 0), 2, day(11, 8, 0)},
		{"evening stays same day", day(10, 20, 0), 2, day(10, 22, 0)},
		{"landing exactly on cutoff is kept", day(10, 21, 0), 2, day(10, 23, 0)},
		{"one minute past cutoff defers", day(10, 21, 1), 2, day(11, 8, 0)},
		{"large offset uses initial day", day(10, 9, 0), 30, day(11, 8, 0)},
		{"zero offset", day(10, 9, 15), 0, day(10, 9, 15)},
		{"initial after cutoff", day(10, 23, 30), 0, day(11, 8, 0)},
		{"month rollover", time.Date(2024, 6, 30, 22, 0, 0, 0, loc), 2, time.Date(2024, 7, 1, 8, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := FollowupAt(tt.initial, tt.offset)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestFollowupAtRejectsNegativeOffset(t *testing.T) {
	t.Parallel()
	_, err := FollowupAt(time.Now(), -2)
	require.ErrorIs(t, err, reminder.ErrInvalidArgument)
	assert.Equal(t, "followup_offset_hours", reminder.ParamOf(err))
}

func TestFollowupAtBoundsOffset(t *testing.T) {
	t.Parallel()
	initial := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	got, err := FollowupAt(initial, MaxFollowupOffsetHours)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 6, DeferHour, 0, 0, 0, time.UTC), got)

	for _, h := range []int{MaxFollowupOffsetHours + 1, 3_000_000} {
		_, err := FollowupAt(initial, h)
		require.ErrorIs(t, err, reminder.ErrInvalidArgument, h)
		assert.Equal(t, "followup_offset_hours", reminder.ParamOf(err))
	}
	assert.Error(t, Policy{FollowupOffsetHours: 3_000_000}.Validate())
}

func TestPolicy(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	require.NoError(t, p.Validate())

	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	d, err := p.Evaluate(now.Add(-20*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, Immediate, d)

	fu, err := p.FollowupAt(now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), fu)

	assert.Error(t, Policy{GracePeriodMinutes: -1}.Validate())
	assert.Error(t, Policy{FollowupOffsetHours: -1}.Validate())
}

func TestDecisionString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "scheduled", Scheduled.String())
	assert.Equal(t, "immediate", Immediate.String())
	assert.Equal(t, "missed", Missed.String())
	assert.Equal(t, "unknown", Decision(9).String())
}
