// Package supervisor owns the daemon's long-running goroutines: named tasks
// tied to one context, panic recovery, restart loops with backoff, and a
// point-in-time snapshot for the health endpoint.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "dosebot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}

	started atomic.Uint64
	active  atomic.Int64

	errMu    sync.Mutex
	firstErr error

	mu    sync.Mutex
	stats map[string]*TaskStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first task error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	s := &Supervisor{done: make(chan struct{}), stats: map[string]*TaskStats{}}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error recorded by any task.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

// Go runs fn once in a named goroutine. A panic is recovered and recorded as
// the task's error; context.Canceled counts as a clean stop.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(name, func(ctx context.Context) {
		if err := s.runTracked(ctx, name, false, fn); err != nil {
			s.fail(err)
		}
	})
}

// Go0 is Go for functions without an error result.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn != nil {
		s.Go(name, noErr(fn))
	}
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) spawn(name string, body func(ctx context.Context)) {
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		s.log.Debug("goroutine started", logx.String("name", name))
		body(s.ctx)
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// runTracked runs fn once with panic recovery and stats bookkeeping. The
// returned error is prefixed with name; cancellation returns nil.
func (s *Supervisor) runTracked(ctx context.Context, name string, restart bool, fn func(context.Context) error) error {
	st := s.begin(name, restart)
	err := s.call(ctx, name, fn)
	if err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)) {
		err = nil
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", name, err)
	}
	s.end(name, st, err)
	return err
}

func (s *Supervisor) call(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.notePanic(name, r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) fail(err error) {
	s.setErr(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

func (s *Supervisor) setErr(err error) {
	s.errMu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.errMu.Unlock()
}

func noErr(fn func(context.Context)) func(context.Context) error {
	return func(ctx context.Context) error {
		fn(ctx)
		return nil
	}
}
