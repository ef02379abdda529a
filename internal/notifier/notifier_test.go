package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosebot/internal/eventbus"
	"dosebot/internal/transport"
)

type fakeSink struct {
	mu    sync.Mutex
	sent  []string
	opts  []*transport.SendOptions
	fails []error // consumed per call
}

func (f *fakeSink) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fails) > 0 {
		err := f.fails[0]
		f.fails = f.fails[1:]
		if err != nil {
			return transport.MessageRef{}, err
		}
	}
	f.sent = append(f.sent, text)
	f.opts = append(f.opts, opt)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSink) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type outcomes struct {
	mu        sync.Mutex
	delivered []uint32
	failed    map[uint32]error
}

func (o *outcomes) hooks() Hooks {
	return Hooks{
		Delivered: func(_ context.Context, n Notification, _ transport.MessageRef) {
			o.mu.Lock()
			o.delivered = append(o.delivered, n.ID)
			o.mu.Unlock()
		},
		Failed: func(_ context.Context, n Notification, err error) {
			o.mu.Lock()
			if o.failed == nil {
				o.failed = map[uint32]error{}
			}
			o.failed[n.ID] = err
			o.mu.Unlock()
		},
	}
}

func (o *outcomes) deliveredCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.delivered)
}

func (o *outcomes) failure(id uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failed[id]
}

func startService(t *testing.T, cfg Config, sink transport.Sink, opts ...Option) (*Service, *outcomes) {
	t.Helper()
	out := &outcomes{}
	opts = append(opts, WithHooks(out.hooks()))
	s := New(cfg, sink, opts...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, out
}

func TestPostPastFiresImmediately(t *testing.T) {
	sink := &fakeSink{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.ReminderDelivered)
	defer unsub()
	s, out := startService(t, Config{}, sink, WithBus(bus))

	require.NoError(t, s.Post(Notification{ID: 7, Kind: "initial", At: time.Now().Add(-time.Minute), Title: "Heartworm pill", Actions: true}))

	require.Eventually(t, func() bool { return out.deliveredCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"⏰ Treatment reminder: Heartworm pill"}, sink.texts())
	require.Len(t, sink.opts[0].Buttons, 1)
	assert.Equal(t, "ack:7", sink.opts[0].Buttons[0][0].Data)
	assert.Equal(t, "snooze:7", sink.opts[0].Buttons[0][1].Data)
	assert.Empty(t, s.Pending())

	select {
	case e := <-events:
		assert.Equal(t, uint32(7), e.Data.(eventbus.ReminderData).ID)
	case <-time.After(time.Second):
		t.Fatal("no delivered event")
	}
}

func TestPostUpsertsByID(t *testing.T) {
	sink := &fakeSink{}
	s, out := startService(t, Config{}, sink)

	require.NoError(t, s.Post(Notification{ID: 1, Kind: "initial", At: time.Now().Add(time.Hour), Title: "old"}))
	p := s.Pending()
	require.Len(t, p, 1)
	assert.Equal(t, StateArmed, p[0].State)

	require.NoError(t, s.Post(Notification{ID: 1, Kind: "initial", At: time.Now(), Title: "new"}))
	require.Eventually(t, func() bool { return out.deliveredCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"⏰ Treatment reminder: new"}, sink.texts())
	assert.Empty(t, s.Pending())
}

func TestCancel(t *testing.T) {
	sink := &fakeSink{}
	s, _ := startService(t, Config{}, sink)

	require.NoError(t, s.Post(Notification{ID: 3, Kind: "followup", At: time.Now().Add(50 * time.Millisecond)}))
	assert.True(t, s.Cancel(3))
	assert.False(t, s.Cancel(3))

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, sink.texts())
	assert.Empty(t, s.Pending())
}

func TestRetryThenDeliver(t *testing.T) {
	boom := errors.New("boom")
	sink := &fakeSink{fails: []error{boom, boom}}
	s, out := startService(t, Config{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, sink)

	require.NoError(t, s.Post(Notification{ID: 9, Kind: "snooze", At: time.Now()}))
	require.Eventually(t, func() bool { return out.deliveredCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), s.Snapshot().Delivered)
}

func TestNoRetryFailsOnce(t *testing.T) {
	perm := NoRetry(errors.New("chat not found"))
	sink := &fakeSink{fails: []error{perm, nil}}
	s, out := startService(t, Config{RetryMax: 3, RetryBase: time.Millisecond}, sink)

	require.NoError(t, s.Post(Notification{ID: 11, Kind: "initial", At: time.Now()}))
	require.Eventually(t, func() bool { return out.failure(11) != nil }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, IsNoRetry(out.failure(11)))
	assert.Empty(t, sink.texts())
	assert.Equal(t, uint64(1), s.Snapshot().Failed)
}

func TestMissingSinkIsPermanent(t *testing.T) {
	s, out := startService(t, Config{RetryMax: 5}, nil)
	require.NoError(t, s.Post(Notification{ID: 2, At: time.Now()}))
	require.Eventually(t, func() bool { return out.failure(2) != nil }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, out.failure(2), transport.ErrNoTarget)
}

func TestPostWhenStopped(t *testing.T) {
	s := New(Config{}, &fakeSink{})
	assert.ErrorIs(t, s.Post(Notification{ID: 1, At: time.Now()}), ErrStopped)

	s.Start(context.Background())
	require.NoError(t, s.Post(Notification{ID: 1, At: time.Now().Add(time.Hour)}))
	s.Stop(context.Background())
	assert.Empty(t, s.Pending())
	assert.ErrorIs(t, s.Post(Notification{ID: 1, At: time.Now()}), ErrStopped)
}

func TestParseAction(t *testing.T) {
	a, id, ok := ParseAction(ActionData(ActionSnooze, 2147483647))
	require.True(t, ok)
	assert.Equal(t, ActionSnooze, a)
	assert.Equal(t, uint32(2147483647), id)

	for _, bad := range []string{"", "ack", "ack:", "ack:-1", "done:5", "ack:99999999999"} {
		_, _, ok := ParseAction(bad)
		assert.False(t, ok, bad)
	}
}

func TestRender(t *testing.T) {
	text, opt := Render(Notification{Kind: "weekly_summary", Title: "Rex", Body: "3 treatments this week"})
	assert.Equal(t, "📋 Weekly summary: Rex\n3 treatments this week", text)
	assert.Empty(t, opt.Buttons)
}

func TestBackoffDelay(t *testing.T) {
	cfg := withDefaults(Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2})
	rng := rand.New(rand.NewPCG(1, 2))
	for retry := 1; retry <= 6; retry++ {
		d := backoffDelay(cfg, retry, rng)
		assert.LessOrEqual(t, d, time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
	d := backoffDelayWithHint(cfg, 1, RetryAfter(errors.New("flood"), time.Hour), rng)
	assert.LessOrEqual(t, d, time.Second)
}

func TestLogSink(t *testing.T) {
	ls := NewLogSink(discardLogger())
	ref, err := ls.SendText(context.Background(), transport.ChatTarget{ChatID: 5}, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ref.ChatID)
	assert.Equal(t, 1, ref.MessageID)
}
