package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"dosebot/pkg/fnv1a"
)

// maxStartupSpread caps the extra delay before an interval job's first run.
const maxStartupSpread = 30 * time.Second

// delayedFirst fires once at first, then follows base.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (s *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// spreadInterval builds an "@every" schedule whose first run is pushed back
// by an offset derived from tag, below min(every, maxStartupSpread). The
// same tag always gets the same offset.
func spreadInterval(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	offset := time.Duration(uint64(fnv1a.String(tag)) % uint64(window))
	return &delayedFirst{base: base, first: now.Add(every + offset)}, offset
}
