package scheduler

import (
	"errors"
	"slices"
	"time"
)

const defaultHistorySize = 50

var (
	ErrUnknownJob = errors.New("scheduler: unknown job")
	ErrBusy       = errors.New("scheduler: job already running")
)

// Snapshot reports the registered jobs with their cron entry times and the
// most recent runs, oldest first.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:   s.cfg.Enabled,
		Running:   s.c != nil,
		Timezone:  s.cfg.Timezone,
		Schedules: s.schedulesLocked(),
	}
	if snap.Timezone == "" {
		loc := s.loc
		if loc == nil {
			loc = time.Local
		}
		snap.Timezone = loc.String()
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = slices.Clone(s.history)
	s.hmu.Unlock()
	return snap
}

// schedulesLocked requires s.mu.
func (s *Service) schedulesLocked() []ScheduleInfo {
	out := make([]ScheduleInfo, len(s.defs))
	for i, d := range s.defs {
		out[i] = ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout, Running: d.running.Load()}
		if s.c == nil || d.entryID == 0 {
			continue
		}
		e := s.c.Entry(d.entryID)
		out[i].Next, out[i].Prev = e.Next, e.Prev
	}
	return out
}
