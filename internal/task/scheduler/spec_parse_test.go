package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := map[string]ParsedSpec{
		"*/5 * * * *":     {Kind: SpecCron, Cron: "*/5 * * * *", Source: "cron"},
		"0 30 7 * * *":    {Kind: SpecCron, Cron: "0 30 7 * * *", Source: "cron"},
		"@every 5m":       {Kind: SpecCron, Cron: "@every 5m", Source: "cron"},
		"CRON: 0 0 * * *": {Kind: SpecCron, Cron: "0 0 * * *", Source: "cron"},
		"15m":             {Kind: SpecInterval, Every: 15 * time.Minute, Source: "duration"},
		"interval:45s":    {Kind: SpecInterval, Every: 45 * time.Second, Source: "duration"},
		"every:00:05":     {Kind: SpecInterval, Every: 5 * time.Minute, Source: "hhmm"},
		"01:30":           {Kind: SpecInterval, Every: 90 * time.Minute, Source: "hhmm"},
	}
	for raw, want := range cases {
		got, err := ParseSchedule(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestParseScheduleRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "daily", "00:00", "01:75", "1:5", "-5m", "cron:", "61 * * * *", "interval:abc", "every:"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}
