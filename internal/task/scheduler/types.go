package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "dosebot/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled        bool
	Timezone       string        // IANA TZ, e.g. "Europe/Berlin"; empty = Local
	DefaultTimeout time.Duration // applied when a job is registered with timeout 0
	HistorySize    int           // recent runs kept for Snapshot; default 50
}

type Job func(ctx context.Context) error

type scheduleDef struct {
	name          string
	spec          string // cron spec or @every
	timeout       time.Duration
	job           Job
	entryID       cron.EntryID
	startupSpread time.Duration
	running       *atomic.Bool
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// base is the parent of every job context; cancelled by Stop. Cron
	// callbacks read it without s.mu because a timezone restart waits for
	// them while holding s.mu.
	base       atomic.Pointer[context.Context]
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	hmu     sync.Mutex
	histCap int
	history []RunRecord
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Running bool
	Next    time.Time
	Prev    time.Time
}

// RunRecord describes one finished (or skipped) job run.
type RunRecord struct {
	Name    string
	Started time.Time
	Took    time.Duration
	Skipped bool
	Err     string
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	History   []RunRecord
}
