package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"dosebot/internal/eventbus"
	rtsup "dosebot/internal/runtime/supervisor"
	"dosebot/internal/transport"
	"dosebot/pkg/clock"
	logx "dosebot/pkg/logx"
)

func New(cfg Config, sink transport.Sink, opts ...Option) *Service {
	s := &Service{
		cfg:    withDefaults(cfg),
		sink:   sink,
		log:    logx.Nop(),
		clk:    clock.Real(),
		armed:  make(map[uint32]*armedTimer),
		active: make(map[uint32]*activeJob),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func withDefaults(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.RetryJitter <= 0 {
		cfg.RetryJitter = 0.2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return cfg
}

func limitFor(cfg Config) rate.Limit {
	if cfg.RatePerSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(cfg.RatePerSec)
}

// SetHooks replaces the delivery hooks. The app wires them after the planner exists.
func (s *Service) SetHooks(h Hooks) {
	s.mu.Lock()
	s.hooks = h
	s.mu.Unlock()
}

// Start launches the worker pool. Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	cfg := s.cfg
	s.q = make(chan job, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.lim = rate.NewLimiter(limitFor(cfg), cfg.Burst)
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.running = true

	queue, stopCh := s.q, s.stopCh
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		s.sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue, idx)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop disarms every timer, drops queued work and waits for in-flight sends
// (bounded by ctx). Pending reminders are re-posted by the next reconcile.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	for id, a := range s.armed {
		a.t.Stop()
		delete(s.armed, id)
	}
	for id := range s.active {
		delete(s.active, id)
	}
	sup := s.sup
	s.sup = nil
	s.q = nil
	s.mu.Unlock()

	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("notifier stop", logx.Err(err))
	}
	s.updateGauges()
	s.log.Info("notifier stopped")
}

// Apply updates rate, retry and target settings in place. Worker count and
// queue size take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	lim := s.lim
	s.mu.Unlock()

	if lim != nil {
		lim.SetLimit(limitFor(cfg))
		lim.SetBurst(cfg.Burst)
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.log.Info("notifier pool size changes apply on restart",
			logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
	}
}

// Post arms n to fire at n.At, replacing any pending notification with the
// same ID that has not started sending yet. A past At fires immediately.
func (s *Service) Post(n Notification) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrStopped
	}
	s.disarmLocked(n.ID)
	s.seq++
	ver := s.seq
	delay := n.At.Sub(s.clk.Now())
	if delay < 0 {
		delay = 0
	}
	id := n.ID
	s.armed[id] = &armedTimer{
		n:   n,
		ver: ver,
		t:   time.AfterFunc(delay, func() { s.fire(id, ver) }),
	}
	s.mu.Unlock()

	s.log.Debug("notification armed", logx.Uint64("id", uint64(id)), logx.String("kind", n.Kind), logx.Time("at", n.At), logx.Duration("in", delay))
	s.updateGauges()
	return nil
}

// Cancel disarms id. A queued notification is dropped before sending; one
// already being sent finishes. It reports whether anything was pending.
func (s *Service) Cancel(id uint32) bool {
	s.mu.Lock()
	removed := s.disarmLocked(id)
	s.mu.Unlock()
	if removed {
		s.log.Debug("notification cancelled", logx.Uint64("id", uint64(id)))
		s.updateGauges()
	}
	return removed
}

// disarmLocked removes id from the armed set and from the queued set. Call
// with s.mu held.
func (s *Service) disarmLocked(id uint32) bool {
	removed := false
	if a, ok := s.armed[id]; ok {
		a.t.Stop()
		delete(s.armed, id)
		removed = true
	}
	if a, ok := s.active[id]; ok && !a.inFlight {
		delete(s.active, id)
		removed = true
	}
	return removed
}

// Pending lists armed, queued and in-flight notifications ordered by ID.
func (s *Service) Pending() []Pending {
	s.mu.Lock()
	out := make([]Pending, 0, len(s.armed)+len(s.active))
	for _, a := range s.armed {
		out = append(out, Pending{Notification: a.n, State: StateArmed})
	}
	for id, a := range s.active {
		if _, armed := s.armed[id]; armed {
			continue
		}
		st := StateQueued
		if a.inFlight {
			st = StateInFlight
		}
		out = append(out, Pending{Notification: a.n, State: st})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Running:   s.running,
		Armed:     len(s.armed),
		Delivered: s.delivered,
		Failed:    s.failed,
		Dropped:   s.dropped,
	}
	for _, a := range s.active {
		if a.inFlight {
			snap.InFlight++
		} else {
			snap.Queued++
		}
	}
	if s.q != nil {
		snap.QueueCap = cap(s.q)
	}
	return snap
}

// fire is the timer callback. Stale versions are ignored.
func (s *Service) fire(id uint32, ver uint64) {
	s.mu.Lock()
	a, ok := s.armed[id]
	if !ok || a.ver != ver || !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.armed, id)
	j := job{n: a.n, ver: ver, enqueuedAt: s.clk.Now()}
	select {
	case s.q <- j:
		s.active[id] = &activeJob{n: a.n, ver: ver}
		s.mu.Unlock()
		s.updateGauges()
		return
	default:
	}
	s.dropped++
	hooks := s.hooks
	s.mu.Unlock()

	s.log.Warn("notification dropped; queue full", logx.Uint64("id", uint64(id)), logx.String("kind", a.n.Kind))
	s.met.Delivery("dropped")
	s.publish(eventbus.ReminderFailed, a.n, ErrQueueFull)
	if hooks.Failed != nil {
		hooks.Failed(context.Background(), a.n, ErrQueueFull)
	}
	s.updateGauges()
}

func (s *Service) updateGauges() {
	if s.met == nil {
		return
	}
	s.mu.Lock()
	pending := len(s.armed) + len(s.active)
	depth := 0
	if s.q != nil {
		depth = len(s.q)
	}
	s.mu.Unlock()
	s.met.SetPending(pending)
	s.met.SetQueueDepth(depth)
}

func (s *Service) publish(typ string, n Notification, err error) {
	if s.bus == nil {
		return
	}
	d := eventbus.ReminderData{ID: n.ID, Kind: n.Kind, At: n.At}
	if err != nil {
		d.Err = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clk.Now(), Data: d})
}
