package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "dosebot/pkg/logx"
)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		parser: specParser,
	}
	s.setHistoryCap(cfg.HistorySize)
	return s
}

func (s *Service) setHistoryCap(n int) {
	if n <= 0 {
		n = defaultHistorySize
	}
	s.hmu.Lock()
	s.histCap = n
	s.hmu.Unlock()
}

// Enabled reports the current config flag. Apply may run concurrently.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps config. A timezone change re-registers every schedule on a
// fresh cron instance.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	s.setHistoryCap(cfg.HistorySize)

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.restartLocked()
	}
}

// Start begins triggering. Definitions added before Start are registered now.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	base, cancel := context.WithCancel(ctx)
	s.base.Store(&base)
	s.baseCancel = cancel
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering, cancels running jobs and waits for them (bounded by ctx).
// Definitions are kept so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	s.mu.Lock()
	c := s.c
	cancel := s.baseCancel
	s.c = nil
	s.baseCancel = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for running jobs")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
