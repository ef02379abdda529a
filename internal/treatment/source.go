package treatment

import (
	"context"
	"sync"

	"dosebot/internal/config"
	"dosebot/pkg/fnv1a"
	logx "dosebot/pkg/logx"
)

// Source holds the current schedules and reloads them from a file. A file
// that fails to load leaves the previous schedules in place.
type Source struct {
	path string
	log  logx.Logger

	mu   sync.RWMutex
	list []Schedule
	sum  uint32
}

func NewSource(path string, log logx.Logger) *Source {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Source{path: path, log: log}
}

// NewStatic returns a Source fixed to list; Reload and Watch are no-ops.
func NewStatic(list []Schedule) *Source {
	s := &Source{log: logx.Nop()}
	s.set(list)
	return s
}

func (s *Source) Path() string { return s.path }

// Schedules returns a copy of the current list.
func (s *Source) Schedules() []Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Clone(s.list)
}

// Reload reads the file. It reports whether the schedules changed.
func (s *Source) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}
	list, err := Load(s.path)
	if err != nil {
		return false, err
	}
	return s.set(list), nil
}

func (s *Source) set(list []Schedule) bool {
	sum := fnv1a.Sum32(fingerprint(list))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list != nil && sum == s.sum {
		return false
	}
	s.list = Clone(list)
	s.sum = sum
	return true
}

// Watch reloads on file changes until ctx is done and calls onChange after
// every reload that changed the schedules.
func (s *Source) Watch(ctx context.Context, onChange func()) error {
	if s.path == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	log := s.log.With(logx.String("comp", "schedules"))
	return config.WatchFile(ctx, s.path, config.DefaultDebounce, log, func() {
		changed, err := s.Reload()
		switch {
		case err != nil:
			log.Warn("schedules rejected; keeping previous", logx.Err(err))
		case changed:
			log.Info("schedules reloaded", logx.Int("count", len(s.Schedules())))
			if onChange != nil {
				onChange()
			}
		default:
			log.Debug("schedules unchanged")
		}
	})
}
