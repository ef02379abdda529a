package supervisor

import (
	"cmp"
	"fmt"
	"slices"
	"time"
)

// TaskStats aggregates the runs of one task name.
type TaskStats struct {
	Name        string        `json:"name"`
	Active      int64         `json:"active"`
	Started     uint64        `json:"started"`
	Panics      uint64        `json:"panics"`
	Restarts    uint64        `json:"restarts"`
	LastStartAt time.Time     `json:"last_start_at"`
	LastErr     string        `json:"last_err,omitempty"`
	LastErrAt   time.Time     `json:"last_err_at,omitempty"`
	LastPanic   string        `json:"last_panic,omitempty"`
	LastRuntime time.Duration `json:"last_runtime"`
}

type Snapshot struct {
	Active     int64       `json:"active"`
	Started    uint64      `json:"started"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

// Snapshot lists task stats, running tasks first, then by name.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Active: s.active.Load(), Started: s.started.Load()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.mu.Lock()
	for _, st := range s.stats {
		snap.Tasks = append(snap.Tasks, *st)
	}
	s.mu.Unlock()

	slices.SortFunc(snap.Tasks, func(a, b TaskStats) int {
		if c := cmp.Compare(b.Active, a.Active); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return snap
}

func (s *Supervisor) update(name string, fn func(st *TaskStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[name]
	if !ok {
		st = &TaskStats{Name: name}
		s.stats[name] = st
	}
	fn(st)
}

func (s *Supervisor) begin(name string, restart bool) time.Time {
	now := time.Now()
	s.update(name, func(st *TaskStats) {
		st.Started++
		st.Active++
		st.LastStartAt = now
		if restart {
			st.Restarts++
		}
	})
	return now
}

func (s *Supervisor) end(name string, startedAt time.Time, err error) {
	now := time.Now()
	s.update(name, func(st *TaskStats) {
		st.Active = max(st.Active-1, 0)
		st.LastRuntime = now.Sub(startedAt)
		if err != nil {
			st.LastErr = err.Error()
			st.LastErrAt = now
		}
	})
}

func (s *Supervisor) notePanic(name string, p any) {
	s.update(name, func(st *TaskStats) {
		st.Panics++
		st.LastPanic = fmt.Sprint(p)
	})
}
