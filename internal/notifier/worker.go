package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"dosebot/internal/eventbus"
	"dosebot/internal/transport"
	logx "dosebot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job, idx int) {
	// Per-worker RNG so concurrent retries do not share a lock.
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(idx)))
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			if !s.claim(j) {
				continue
			}
			s.deliver(ctx, stopCh, j, rng)
		}
	}
}

// claim marks j in flight unless it was cancelled or replaced while queued.
func (s *Service) claim(j job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[j.n.ID]
	if !ok || a.ver != j.ver {
		return false
	}
	a.inFlight = true
	return true
}

// current reports whether j is still the live version for its ID.
func (s *Service) current(j job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.active[j.n.ID]
	return ok && a.ver == j.ver
}

func (s *Service) release(j job) {
	s.mu.Lock()
	if a, ok := s.active[j.n.ID]; ok && a.ver == j.ver {
		delete(s.active, j.n.ID)
	}
	s.mu.Unlock()
	s.updateGauges()
}

func (s *Service) deliver(ctx context.Context, stopCh <-chan struct{}, j job, rng *rand.Rand) {
	defer s.release(j)

	s.mu.Lock()
	cfg := s.cfg
	lim := s.lim
	sink := s.sink
	hooks := s.hooks
	s.mu.Unlock()

	start := s.clk.Now()
	text, opt := Render(j.n)

	var (
		ref      transport.MessageRef
		err      error
		attempts int
	)
attemptLoop:
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		attempts = attempt
		if lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				err = werr
				break
			}
		}
		ref, err = s.sendOnce(ctx, sink, cfg, text, opt)
		if err == nil || IsNoRetry(err) || attempt > cfg.RetryMax {
			break
		}
		if !s.current(j) {
			// Cancelled while retrying; the planner no longer wants it.
			s.log.Debug("retry abandoned; notification cancelled", logx.Uint64("id", uint64(j.n.ID)))
			return
		}
		delay := backoffDelayWithHint(cfg, attempt, err, rng)
		s.log.Debug("send retry scheduled", logx.Uint64("id", uint64(j.n.ID)), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = ErrStopped
			break attemptLoop
		case <-tmr.C:
		}
	}

	took := s.clk.Now().Sub(start)
	if err != nil {
		s.mu.Lock()
		s.failed++
		s.mu.Unlock()
		s.log.Warn("notification failed", logx.Uint64("id", uint64(j.n.ID)), logx.String("kind", j.n.Kind), logx.Int("attempts", attempts), logx.Duration("took", took), logx.Err(err))
		s.met.Delivery("failed")
		s.publish(eventbus.ReminderFailed, j.n, err)
		if hooks.Failed != nil {
			hooks.Failed(context.WithoutCancel(ctx), j.n, err)
		}
		return
	}
	s.mu.Lock()
	s.delivered++
	s.mu.Unlock()
	s.log.Info("notification delivered", logx.Uint64("id", uint64(j.n.ID)), logx.String("kind", j.n.Kind), logx.Int("attempts", attempts), logx.Duration("queue_delay", start.Sub(j.enqueuedAt)))
	s.met.Delivery("ok")
	s.publish(eventbus.ReminderDelivered, j.n, nil)
	if hooks.Delivered != nil {
		hooks.Delivered(context.WithoutCancel(ctx), j.n, ref)
	}
}

func (s *Service) sendOnce(ctx context.Context, sink transport.Sink, cfg Config, text string, opt *transport.SendOptions) (ref transport.MessageRef, err error) {
	if sink == nil {
		return ref, NoRetry(transport.ErrNoTarget)
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("sink panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	ref, err = sink.SendText(sctx, cfg.Target, text, opt)
	if errors.Is(err, transport.ErrNoTarget) {
		err = NoRetry(err)
	}
	return ref, err
}

func backoffDelayWithHint(cfg Config, retry int, err error, rng *rand.Rand) time.Duration {
	if wait, ok := retryHint(err); ok {
		return jittered(min(wait, cfg.RetryMaxDelay), cfg, rng)
	}
	return backoffDelay(cfg, retry, rng)
}

func backoffDelay(cfg Config, retry int, rng *rand.Rand) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	return jittered(d, cfg, rng)
}

func jittered(d time.Duration, cfg Config, rng *rand.Rand) time.Duration {
	if cfg.RetryJitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * cfg.RetryJitter
		d = time.Duration(float64(d) * (1 + r))
	}
	return min(max(d, 0), cfg.RetryMaxDelay)
}
