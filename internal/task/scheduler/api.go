package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dosebot/internal/reminder/timeslot"
	logx "dosebot/pkg/logx"
)

// AddSchedule parses schedule and registers either a cron or interval job.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly", "@every 5m"
//   - Interval duration: "5m", "2h30m"
//   - Interval HH:MM: "00:05" (5 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, timeout, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

// AddCron registers job under name, replacing any schedule with the same name.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s.add(name, spec, timeout, job)
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Job) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.add(name, "@every "+every.String(), timeout, job)
}

// AddDaily runs job every day at HH:mm in the scheduler timezone.
func (s *Service) AddDaily(name string, atHHMM string, timeout time.Duration, job Job) (string, error) {
	tod, err := timeslot.Parse(strings.TrimSpace(atHHMM))
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", tod.Minute, tod.Hour), timeout, job)
}

// AddWeekly runs job every week on weekday at HH:mm in the scheduler timezone.
func (s *Service) AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job Job) (string, error) {
	tod, err := timeslot.Parse(strings.TrimSpace(atHHMM))
	if err != nil {
		return "", err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * %d", tod.Minute, tod.Hour, int(weekday)), timeout, job)
}

func (s *Service) add(name, spec string, timeout time.Duration, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name required")
	}
	if job == nil {
		return "", errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert by name so hot reloads never duplicate a trigger.
	_ = s.removeScheduleLocked(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		running: &atomic.Bool{},
	})
	if s.c == nil {
		// Not started yet: registered when Start runs.
		return name, nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 4); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return name, nil
}

// Remove unschedules the job with the given name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// removeScheduleLocked drops all defs matching name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	def := *d
	job := cron.FuncJob(func() { s.fire(def) })

	// Interval schedules get a startup spread; cron specs fire on the clock.
	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
		if err == nil && every > 0 {
			sched, jitter := spreadInterval(every, time.Now().In(s.loc), d.name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// previewNextRunsLocked lists upcoming run times for debug logs. Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
