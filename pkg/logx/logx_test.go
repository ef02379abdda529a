package logx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "dosebot/internal/transport"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
	to   []kit.ChatTarget
}

func (c *captureSink) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	c.to = append(c.to, to)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]zerolog.Level{
		"trace":   zerolog.DebugLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in, zerolog.InfoLevel), in)
	}
}

func TestChatText(t *testing.T) {
	t.Parallel()
	got := chatText([]byte(`{"level":"warn","time":"x","caller":"a.go:1","message":"delivery failed","slot":"08:00","id":42}` + "\n"))
	assert.Equal(t, "⚠️ delivery failed\nid=42\nslot=08:00", got)

	info := chatText([]byte(`{"level":"info","message":"hi"}`))
	assert.Equal(t, "[INFO] hi", info)

	assert.Equal(t, "plain text", chatText([]byte("  plain text  ")))

	long := chatText([]byte(strings.Repeat("a", 5000)))
	assert.Len(t, long, chatMaxLen)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("dropped", String("k", "v"))
	assert.False(t, Nop().IsZero())
	assert.False(t, l.With(String("comp", "x")).IsZero())
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)

	log.With(String("comp", "planner")).Info("pass done", Int("armed", 3))
	log.Debug("below level")
	require.NoError(t, svc.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, `"comp":"planner"`)
	assert.Contains(t, out, `"armed":3`)
	assert.Contains(t, out, `"caller":"logx_test.go:`)
	assert.NotContains(t, out, "below level")
}

func TestApplyChangesLevel(t *testing.T) {
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "a.log")}}, nil)
	defer svc.Close()
	assert.False(t, log.Enabled(LevelInfo))

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "b.log")}})
	assert.True(t, log.Enabled(LevelDebug))
}

func TestChatSinkFiltersByLevel(t *testing.T) {
	sink := &captureSink{}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, nil)
	defer svc.Close()
	svc.SetSender(sink)
	svc.SetChatTarget(-100123, 7)

	log.Info("not mirrored")
	log.Warn("mirrored", Int("n", 1))

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Contains(t, sink.msgs[0], "mirrored")
	assert.Contains(t, sink.msgs[0], "n=1")
	assert.Equal(t, kit.ChatTarget{ChatID: -100123, ThreadID: 7}, sink.to[0])
}
