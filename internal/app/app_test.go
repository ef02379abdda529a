package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosebot/internal/config"
	"dosebot/internal/notifier"
	"dosebot/internal/reminder/notifid"
	"dosebot/internal/reminder/planner"
	"dosebot/internal/storage"
	kit "dosebot/internal/transport"
	"dosebot/internal/treatment"
	"dosebot/pkg/clock"
	logx "dosebot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	sent    []string
	edits   []string
	answers []string
}

func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

type memPoster struct {
	mu      sync.Mutex
	pending map[uint32]notifier.Notification
}

func (p *memPoster) Post(n notifier.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[n.ID] = n
	return nil
}

func (p *memPoster) Cancel(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id]
	delete(p.pending, id)
	return ok
}

func (p *memPoster) Pending() []notifier.Pending {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notifier.Pending
	for _, n := range p.pending {
		out = append(out, notifier.Pending{Notification: n, State: notifier.StateArmed})
	}
	return out
}

const chatID = int64(-100)

func newTestApp(t *testing.T, allowed ...int64) (*App, *fakeAdapter, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	src := treatment.NewStatic([]treatment.Schedule{{
		ID: "sched1", PetID: "pet1", PetName: "Rex", Title: "Pill", Times: []string{"08:00"},
	}})
	clk := clock.NewManual(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC))
	pl, err := planner.New(planner.Config{UserID: "user1", Location: time.UTC}, src, store,
		&memPoster{pending: map[uint32]notifier.Notification{}}, planner.WithClock(clk))
	require.NoError(t, err)

	ad := &fakeAdapter{}
	a := &App{log: logx.Nop(), plan: pl, src: src, adapter: ad, store: store}
	a.setAccess(config.TelegramConfig{ChatID: chatID, AllowedUserIDs: allowed})
	_, err = pl.Reconcile(context.Background(), "test")
	require.NoError(t, err)
	return a, ad, store
}

func initialID(t *testing.T) uint32 {
	t.Helper()
	id, err := notifid.ForSlot("user1", "pet1", "sched1", "08:00", notifid.Initial)
	require.NoError(t, err)
	return uint32(id)
}

func TestCallbackAcknowledge(t *testing.T) {
	a, ad, store := newTestApp(t)
	id := initialID(t)

	a.handleCallback(context.Background(), &kit.Callback{
		ID: "cb1", ChatID: chatID, FromID: 7, FromUsername: "alice", MessageID: 42,
		Text: "💊 Rex: Pill", Data: notifier.ActionData(notifier.ActionAck, id),
	})

	require.Equal(t, []string{"Marked as done"}, ad.answers)
	require.Len(t, ad.edits, 1)
	assert.Contains(t, ad.edits[0], "💊 Rex: Pill")
	assert.Contains(t, ad.edits[0], "Done by @alice")

	e, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusAcknowledged, e.Status)
}

func TestCallbackSnooze(t *testing.T) {
	a, ad, _ := newTestApp(t)
	a.handleCallback(context.Background(), &kit.Callback{
		ID: "cb1", ChatID: chatID, FromID: 7, MessageID: 42,
		Data: notifier.ActionData(notifier.ActionSnooze, initialID(t)),
	})
	require.Equal(t, []string{"Snoozed until 08:15"}, ad.answers)
	require.Len(t, ad.edits, 1)
	assert.Equal(t, "⏰ Snoozed until 08:15 by user 7", ad.edits[0])
}

func TestCallbackAccess(t *testing.T) {
	tests := []struct {
		name   string
		chat   int64
		from   int64
		answer string
	}{
		{"stranger", chatID, 2, "You are not allowed to do that"},
		{"other chat", 555, 1, "You are not allowed to do that"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ad, store := newTestApp(t, 1)
			a.handleCallback(context.Background(), &kit.Callback{
				ID: "cb", ChatID: tt.chat, FromID: tt.from, MessageID: 1,
				Data: notifier.ActionData(notifier.ActionAck, initialID(t)),
			})
			assert.Equal(t, []string{tt.answer}, ad.answers)
			assert.Empty(t, ad.edits)
			e, err := store.Get(context.Background(), initialID(t))
			require.NoError(t, err)
			assert.Equal(t, storage.StatusScheduled, e.Status)
		})
	}
}

func TestCallbackUnknown(t *testing.T) {
	a, ad, _ := newTestApp(t)
	ctx := context.Background()
	a.handleCallback(ctx, &kit.Callback{ID: "cb", ChatID: chatID, Data: "bogus"})
	a.handleCallback(ctx, &kit.Callback{ID: "cb", ChatID: chatID, Data: notifier.ActionData(notifier.ActionAck, 99)})
	assert.Equal(t, []string{"Unknown action", "This reminder is no longer tracked"}, ad.answers)
}

func TestActorName(t *testing.T) {
	assert.Equal(t, "@bob", actorName(" bob ", 1))
	assert.Equal(t, "user 12", actorName("", 12))
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	cfg, err := config.NewManager(writeFile(t, t.TempDir(), "config.yaml", body)).Load()
	require.NoError(t, err)
	return cfg
}

const minimalConfig = `
reminders:
  user_id: "user1"
  timezone: "UTC"
schedules:
  path: "./schedules.yaml"
scheduler:
  enabled: true
`

func TestComponentMapping(t *testing.T) {
	cfg := loadConfig(t, minimalConfig)

	pc, err := plannerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "user1", pc.UserID)
	assert.Equal(t, 30, pc.Policy.GracePeriodMinutes)
	assert.Equal(t, 15*time.Minute, pc.Snooze)

	nc, err := notifierConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, nc.Workers)
	assert.Equal(t, float64(3), nc.RatePerSec)
	assert.Equal(t, 500*time.Millisecond, nc.RetryBase)

	sc, err := storageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", sc.Driver)

	sch, err := schedulerConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "UTC", sch.Timezone, "falls back to the reminders timezone")
	assert.Equal(t, time.Minute, sch.DefaultTimeout)

	assert.NoError(t, validate(cfg))
}

func TestValidateRejectsBadTrigger(t *testing.T) {
	cfg := loadConfig(t, minimalConfig)
	cfg.Scheduler.ReconcileEvery = "every never"
	assert.Error(t, validate(cfg))
}

func TestPrintPlan(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "schedules.yaml", `
schedules:
  - id: sched1
    pet_id: pet1
    pet_name: Rex
    title: Pill
    times: ["08:00", "8pm"]
`)
	cfgPath := writeFile(t, dir, "config.yaml", `
reminders:
  user_id: "user1"
  timezone: "UTC"
schedules:
  path: "`+filepath.Join(dir, "schedules.yaml")+`"
`)

	var out bytes.Buffer
	require.NoError(t, PrintPlan(context.Background(), cfgPath, time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC), &out))
	s := out.String()
	assert.Contains(t, s, "2024-03-04 08:00")
	assert.Contains(t, s, "Rex: Pill")
	assert.Contains(t, s, "time_slot")
}
