package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "dosebot/pkg/logx"
)

const sampleYAML = `
reminders:
  user_id: "user1"
  timezone: "Europe/Berlin"
  grace_period_minutes: 0
  followup:
    enabled: true
    offset_hours: 3
  snooze_minutes: 10
  weekly_summary:
    enabled: true
    weekday: "Monday"
    at: "09:30"
schedules:
  path: "./schedules.yaml"
  watch: true
scheduler:
  enabled: true
  reconcile_every: "@every 1m"
storage:
  driver: file
  path: ./state/dosebot
telegram:
  token: ""
logging:
  level: debug
  console: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", sampleYAML)
	m := NewManager(p)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "user1", cfg.Reminders.UserID)
	assert.Equal(t, 0, cfg.Reminders.Grace(), "explicit zero grace is kept")
	assert.Equal(t, 3, cfg.Reminders.FollowupOffset())
	assert.Equal(t, 10*time.Minute, cfg.Reminders.Snooze())
	assert.Equal(t, "monday", cfg.Reminders.WeeklySummary.WeekdayOrDefault())
	assert.Equal(t, "@every 1m", cfg.Scheduler.ReconcileSpec())
	assert.Equal(t, DefaultNotifier(), cfg.NotifierOrDefault())
	assert.Same(t, cfg, m.Get())

	loc, err := cfg.Reminders.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	var r RemindersConfig
	assert.Equal(t, DefaultGracePeriodMinutes, r.Grace())
	assert.Equal(t, DefaultFollowupOffsetHours, r.FollowupOffset())
	assert.Equal(t, 15*time.Minute, r.Snooze())
	assert.Equal(t, "sun", r.WeeklySummary.WeekdayOrDefault())
	assert.Equal(t, "18:00", r.WeeklySummary.AtOrDefault())
	assert.Equal(t, DefaultReconcileEvery, SchedulerConfig{}.ReconcileSpec())
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	var cfg Config
	err := DecodeFile(writeFile(t, dir, "a.yaml", "reminders:\n  user_id: u\n  bogus: 1\n"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	err = DecodeFile(writeFile(t, dir, "b.json", `{"reminders":{"user_id":"u"}}{"x":1}`), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")

	require.NoError(t, DecodeFile(writeFile(t, dir, "c.json", `{"reminders":{"user_id":"u"}}`), &cfg))
	assert.Equal(t, "u", cfg.Reminders.UserID)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	neg, huge := -1, 3_000_000
	valid := func() *Config {
		return &Config{
			Reminders: RemindersConfig{UserID: "u"},
			Schedules: SchedulesConfig{Path: "s.yaml"},
		}
	}
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name string
		mut  func(c *Config)
		want string
	}{
		{"user required", func(c *Config) { c.Reminders.UserID = " " }, "reminders.user_id"},
		{"bad tz", func(c *Config) { c.Reminders.Timezone = "Mars/Olympus" }, "reminders.timezone"},
		{"negative grace", func(c *Config) { c.Reminders.GracePeriodMinutes = &neg }, "grace_period_minutes"},
		{"negative offset", func(c *Config) { c.Reminders.Followup.OffsetHours = &neg }, "offset_hours"},
		{"offset too large", func(c *Config) { c.Reminders.Followup.OffsetHours = &huge }, "offset_hours"},
		{"weekly at", func(c *Config) {
			c.Reminders.WeeklySummary = WeeklySummaryConfig{Enabled: true, At: "9:30"}
		}, "weekly_summary.at"},
		{"weekly day", func(c *Config) {
			c.Reminders.WeeklySummary = WeeklySummaryConfig{Enabled: true, Weekday: "someday"}
		}, "weekly_summary.weekday"},
		{"schedules path", func(c *Config) { c.Schedules.Path = "" }, "schedules.path"},
		{"storage path", func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, "storage.path"},
		{"storage driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "redis"} }, "storage.driver"},
		{"telegram chat", func(c *Config) { c.Telegram.Token = "t" }, "telegram.chat_id"},
		{"bad duration", func(c *Config) { c.Scheduler.JobTimeout = "soon" }, "scheduler.job_timeout"},
		{"notifier duration", func(c *Config) {
			n := DefaultNotifier()
			n.RetryBase = "-1s"
			c.Notifier = &n
		}, "notifier.retry_base"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid()
			tt.mut(c)
			err := Validate(c)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]time.Weekday{"mon": time.Monday, "SUN": time.Sunday, "Friday": time.Friday} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseWeekday("funday")
	assert.Error(t, err)
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", sampleYAML)
	m := NewManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	ctx := context.Background()

	published, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, published, "unchanged content is not republished")

	writeFile(t, dir, "config.yaml", sampleYAML+"debug:\n  enabled: true\n")
	published, err = m.Reload(ctx)
	require.NoError(t, err)
	require.True(t, published)
	got := <-ch
	assert.True(t, got.Debug.Enabled)

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	writeFile(t, dir, "config.yaml", sampleYAML+"debug:\n  enabled: false\n")
	_, err = m.Reload(ctx)
	require.Error(t, err)
	assert.True(t, m.Get().Debug.Enabled, "rejected config must not be committed")

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestPublishKeepsNewest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)
}

func TestWatchFileDebounces(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "schedules.yaml", "a: 1\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = WatchFile(ctx, p, 50*time.Millisecond, logx.Nop(), func() { calls.Add(1) })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		writeFile(t, dir, "schedules.yaml", "a: 2\n")
	}
	writeFile(t, dir, "other.yaml", "ignored: true\n")

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	cancel()
	<-done
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Telegram: TelegramConfig{Token: "secret-1", ChatID: 1}}
	nw := &Config{
		Telegram:  TelegramConfig{Token: "secret-2", ChatID: 1},
		Scheduler: SchedulerConfig{Enabled: true},
		Notifier:  func() *NotifierConfig { n := DefaultNotifier(); return &n }(),
	}
	changed, fields := SummarizeConfigChange(old, nw)
	assert.Equal(t, []string{"scheduler", "telegram"}, changed, "explicit default notifier is not a change")
	assert.NotEmpty(t, fields)

	changed, _ = SummarizeConfigChange(nil, nil)
	assert.Empty(t, changed)
}
