package timeslot

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosebot/internal/reminder"
)

func TestValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"08:00", true},
		{"00:00", true},
		{"23:59", true},
		{"24:00", false},
		{"9:00", false},
		{"08:00:00", false},
		{"08:60", false},
		{"08-00", false},
		{" 08:00", false},
		{"08:00\n", false},
		{"0a:00", false},
		{"", false},
		{"０８:００", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Valid(tt.in), "Valid(%q)", tt.in)
	}
}

func TestParseRejectsWithFormatError(t *testing.T) {
	t.Parallel()
	_, err := Parse("9:00")
	require.ErrorIs(t, err, reminder.ErrFormat)

	var fe *reminder.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "9:00", fe.Input)
	assert.Contains(t, err.Error(), "HH:mm")
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	for h := 0; h < 24; h++ {
		for m := 0; m < 60; m += 7 {
			s := TimeOfDay{Hour: h, Minute: m}.String()
			got, err := Parse(s)
			require.NoError(t, err)
			assert.Equal(t, s, got.String())
		}
	}
}

func TestFormatIgnoresSecondsAndDate(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 5, 6, 7, 8, 59, 999, time.UTC)
	assert.Equal(t, "07:08", Format(ts))
}

func TestAtBuildsLocalInstant(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	ref := time.Date(2024, 6, 1, 17, 45, 12, 0, loc)

	got, err := At("08:30", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 8, 30, 0, 0, loc), got)
	assert.Equal(t, loc, got.Location())

	_, err = At("8:30", ref)
	assert.ErrorIs(t, err, reminder.ErrFormat)
}

func TestAtAcrossDSTTransition(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// DST starts 2024-03-10 in New York.
	before, err := At("08:00", time.Date(2024, 3, 9, 12, 0, 0, 0, loc))
	require.NoError(t, err)
	after, err := At("08:00", time.Date(2024, 3, 11, 12, 0, 0, 0, loc))
	require.NoError(t, err)

	_, offBefore := before.Zone()
	_, offAfter := after.Zone()
	assert.Equal(t, -5*3600, offBefore)
	assert.Equal(t, -4*3600, offAfter)
	assert.Equal(t, "08:00", Format(before))
	assert.Equal(t, "08:00", Format(after))
	// Two calendar days apart but one hour shorter in absolute time.
	assert.Equal(t, 47*time.Hour, after.Sub(before))
}
