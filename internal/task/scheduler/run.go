package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	logx "dosebot/pkg/logx"
)

// RunNow executes the named job once, outside its schedule, and waits for it.
// It returns ErrUnknownJob when no job has that name and ErrBusy when the job
// is already running.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var def *scheduleDef
	for i := range s.defs {
		if s.defs[i].name == strings.TrimSpace(name) {
			d := s.defs[i]
			def = &d
			break
		}
	}
	s.mu.Unlock()
	if def == nil {
		return ErrUnknownJob
	}
	if !def.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer def.running.Store(false)
	return s.execute(ctx, *def)
}

// fire is the cron callback for one trigger.
func (s *Service) fire(d scheduleDef) {
	if !d.running.CompareAndSwap(false, true) {
		s.record(RunRecord{Name: d.name, Started: time.Now(), Skipped: true})
		s.log.Debug("job skipped; previous run in flight", logx.String("name", d.name))
		return
	}
	bp := s.base.Load()
	if bp == nil || (*bp).Err() != nil {
		d.running.Store(false)
		return
	}
	base := *bp
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer d.running.Store(false)
		_ = s.execute(base, d)
	}()
}

func (s *Service) execute(parent context.Context, d scheduleDef) (err error) {
	timeout := d.timeout
	if timeout <= 0 {
		s.mu.Lock()
		timeout = s.cfg.DefaultTimeout
		s.mu.Unlock()
	}
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panic", logx.String("name", d.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		rec := RunRecord{Name: d.name, Started: start, Took: time.Since(start)}
		if err != nil {
			rec.Err = err.Error()
			s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", rec.Took), logx.Err(err))
		} else {
			s.log.Debug("job done", logx.String("name", d.name), logx.Duration("took", rec.Took))
		}
		s.record(rec)
	}()
	return d.job(ctx)
}

func (s *Service) record(r RunRecord) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, r)
	if over := len(s.history) - s.histCap; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}
