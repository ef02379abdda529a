package notifier

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dosebot/internal/eventbus"
	"dosebot/internal/observability/metrics"
	rtsup "dosebot/internal/runtime/supervisor"
	"dosebot/internal/transport"
	"dosebot/pkg/clock"
	logx "dosebot/pkg/logx"
)

// Notification is one reminder to post. ID is the reminder identity.
type Notification struct {
	ID    uint32
	Kind  string
	At    time.Time
	Title string
	Body  string
	// Actions attaches the Done / Snooze buttons.
	Actions bool
}

type Config struct {
	Workers   int
	QueueSize int

	// RatePerSec <= 0 disables rate limiting.
	RatePerSec float64
	Burst      int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = ±20%

	SendTimeout time.Duration
	Target      transport.ChatTarget
}

// Hooks receive the final outcome of each delivery (after retries).
type Hooks struct {
	Delivered func(ctx context.Context, n Notification, ref transport.MessageRef)
	Failed    func(ctx context.Context, n Notification, err error)
}

// State of a pending notification.
type State string

const (
	StateArmed    State = "armed"
	StateQueued   State = "queued"
	StateInFlight State = "in_flight"
)

// Pending describes a notification that has not finished delivery.
type Pending struct {
	Notification
	State State
}

type Snapshot struct {
	Running   bool
	Armed     int
	Queued    int
	InFlight  int
	QueueCap  int
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option     { return func(s *Service) { s.log = log } }
func WithBus(bus eventbus.Bus) Option       { return func(s *Service) { s.bus = bus } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.met = m } }
func WithClock(c clock.Clock) Option        { return func(s *Service) { s.clk = c } }
func WithHooks(h Hooks) Option              { return func(s *Service) { s.hooks = h } }

type Service struct {
	mu    sync.Mutex
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	met   *metrics.Metrics
	clk   clock.Clock
	sink  transport.Sink
	hooks Hooks

	seq    uint64
	armed  map[uint32]*armedTimer
	active map[uint32]*activeJob

	q       chan job
	lim     *rate.Limiter
	sup     *rtsup.Supervisor
	stopCh  chan struct{}
	running bool

	delivered uint64
	failed    uint64
	dropped   uint64
}

type armedTimer struct {
	n   Notification
	ver uint64
	t   *time.Timer
}

type activeJob struct {
	n        Notification
	ver      uint64
	inFlight bool
}

type job struct {
	n          Notification
	ver        uint64
	enqueuedAt time.Time
}
