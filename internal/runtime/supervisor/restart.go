package supervisor

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	logx "dosebot/pkg/logx"
)

// stableRun resets the backoff when a run lasted at least this long.
const stableRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	minBackoff, maxBackoff time.Duration
	maxRestarts            int // 0 is unlimited
	stopOnCleanExit        bool
	publishFirstErr        bool
}

func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.minBackoff = min
		}
		if max > 0 {
			p.maxBackoff = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The initial run does not count.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// WithPublishFirstError records the first failure in Err while still restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publishFirstErr = enabled }
}

// WithStopOnCleanExit stops (rather than restarts) when fn returns nil. Default true.
func WithStopOnCleanExit(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.stopOnCleanExit = enabled }
}

// GoRestart runs fn and restarts it on error or panic with jittered
// exponential backoff until the supervisor context is cancelled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second, stopOnCleanExit: true}
	for _, o := range opts {
		o(&p)
	}
	p.maxBackoff = max(p.maxBackoff, p.minBackoff)

	s.spawn(name, func(ctx context.Context) {
		backoff := p.minBackoff
		for restarts := 0; ctx.Err() == nil; restarts++ {
			began := time.Now()
			err := s.runTracked(ctx, name, restarts > 0, p.wrap(fn))
			if ctx.Err() != nil || (err == nil && p.stopOnCleanExit) {
				return
			}
			if p.publishFirstErr {
				s.setErr(err)
			}
			if p.maxRestarts > 0 && restarts >= p.maxRestarts {
				s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(err)
				return
			}

			if time.Since(began) >= stableRun {
				backoff = p.minBackoff
			}
			wait := jitter(backoff)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			if !sleepCtx(ctx, wait) {
				return
			}
			backoff = min(backoff*2, p.maxBackoff)
		}
	})
}

// GoRestart0 is GoRestart for loops without an error result.
func (s *Supervisor) GoRestart0(name string, fn func(ctx context.Context), opts ...RestartOption) {
	if fn != nil {
		s.GoRestart(name, noErr(fn), opts...)
	}
}

var errExited = errors.New("exited")

// wrap turns a clean return into errExited when the task must keep running.
func (p restartPolicy) wrap(fn func(context.Context) error) func(context.Context) error {
	if p.stopOnCleanExit {
		return fn
	}
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil || ctx.Err() != nil {
			return err
		}
		return errExited
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// jitter adds up to 20%.
func jitter(d time.Duration) time.Duration {
	j := int64(d) / 5
	if j <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(j+1))
}
