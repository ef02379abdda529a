// Package planner turns treatment schedules into posted reminders.
//
// A pass builds the desired reminder set from the schedules, the current
// time and the reminder index (BuildPlan), then reconciles it against the
// poster's pending set and the index: stale identities are cancelled, new or
// changed ones are posted (upsert) and recorded. Passes and delivery hooks
// are serialized, so each identity has at most one effective schedule.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"dosebot/internal/eventbus"
	"dosebot/internal/notifier"
	"dosebot/internal/observability/metrics"
	"dosebot/internal/reminder"
	"dosebot/internal/reminder/decision"
	"dosebot/internal/storage"
	"dosebot/internal/treatment"
	"dosebot/pkg/clock"
	logx "dosebot/pkg/logx"
)

const (
	DefaultSnooze      = 15 * time.Minute
	DefaultMaxAttempts = 3
)

var ErrUnknownReminder = errors.New("unknown reminder")

type Config struct {
	UserID   string
	Location *time.Location
	Policy   decision.Policy
	// Followup enables follow-ups for schedules without their own setting.
	Followup    bool
	Snooze      time.Duration
	MaxAttempts int // delivery attempts per occurrence before giving up
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Snooze <= 0 {
		c.Snooze = DefaultSnooze
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return reminder.InvalidArgument("user_id", "must not be empty")
	}
	return c.Policy.Validate()
}

// ScheduleSource supplies the current treatment schedules.
type ScheduleSource interface {
	Schedules() []treatment.Schedule
}

// Poster arms notifications by identity. Post must replace a pending
// notification with the same ID.
type Poster interface {
	Post(n notifier.Notification) error
	Cancel(id uint32) bool
	Pending() []notifier.Pending
}

type Option func(*Planner)

func WithLogger(log logx.Logger) Option     { return func(p *Planner) { p.log = log } }
func WithBus(bus eventbus.Bus) Option       { return func(p *Planner) { p.bus = bus } }
func WithMetrics(m *metrics.Metrics) Option { return func(p *Planner) { p.met = m } }
func WithClock(c clock.Clock) Option        { return func(p *Planner) { p.clk = c } }

type Planner struct {
	mu     sync.Mutex
	cfg    Config
	src    ScheduleSource
	store  storage.Store
	poster Poster

	log logx.Logger
	bus eventbus.Bus
	met *metrics.Metrics
	clk clock.Clock

	// posted remembers the last reminder handed to the poster per identity,
	// so delivery hooks can record the right occurrence.
	posted map[uint32]Reminder
	last   Report
}

func New(cfg Config, src ScheduleSource, store storage.Store, poster Poster, opts ...Option) (*Planner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if src == nil || store == nil || poster == nil {
		return nil, errors.New("planner: source, store and poster are required")
	}
	p := &Planner{
		cfg:    cfg.withDefaults(),
		src:    src,
		store:  store,
		poster: poster,
		log:    logx.Nop(),
		clk:    clock.Real(),
		posted: make(map[uint32]Reminder),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Apply swaps the policy. The next pass uses it.
func (p *Planner) Apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
	return nil
}

func (p *Planner) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// LastReport returns the report of the most recent pass.
func (p *Planner) LastReport() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Preview builds the plan for now without posting or recording anything.
func (p *Planner) Preview(ctx context.Context) (Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, err := p.loadState(ctx)
	if err != nil {
		return Plan{}, err
	}
	return BuildPlan(p.cfg, p.src.Schedules(), p.clk.Now(), state), nil
}

func (p *Planner) loadState(ctx context.Context) (map[uint32]storage.Entry, error) {
	list, err := p.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	state := make(map[uint32]storage.Entry, len(list))
	for _, e := range list {
		state[e.ID] = e
	}
	return state, nil
}

func (p *Planner) publish(typ string, d any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Time: p.clk.Now(), Data: d})
}

func reminderData(r Reminder) eventbus.ReminderData {
	return eventbus.ReminderData{ID: r.ID, Kind: r.Kind.String(), PetID: r.PetID, ScheduleID: r.ScheduleID, Slot: r.Slot, At: r.FireAt}
}

func entryData(e storage.Entry) eventbus.ReminderData {
	return eventbus.ReminderData{ID: e.ID, Kind: e.Kind, PetID: e.PetID, ScheduleID: e.ScheduleID, Slot: e.Slot, At: e.FireAt}
}
