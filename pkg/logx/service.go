package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "dosebot/internal/transport"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig mirrors warnings and errors into the reminder chat.
type ChatConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const (
	defaultLogFile = "./dosebot.log"
	chatQueueSize  = 64
	chatMaxLen     = 3500
	chatFieldLen   = 400
)

// Service owns the log outputs and swaps them on Apply.
type Service struct {
	root atomic.Pointer[zerolog.Logger]

	mu     sync.Mutex
	cfg    Config
	file   *os.File
	sender kit.Sink
	target kit.ChatTarget
	lim    *rate.Limiter
	minLvl zerolog.Level

	chatQ       chan chatLine
	chatOnce    sync.Once
	chatStop    context.CancelFunc
	chatDone    sync.WaitGroup
	chatDropped atomic.Uint64
}

type chatLine struct {
	to   kit.ChatTarget
	text string
}

// New applies cfg and returns the service with its root logger.
// sender may be nil; chat lines are then dropped until SetSender.
func New(cfg Config, sender kit.Sink) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat

	s := &Service{sender: sender, chatQ: make(chan chatLine, chatQueueSize)}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) SetSender(sender kit.Sink) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// SetChatTarget sets where chat lines go. A zero threadID keeps the configured one.
func (s *Service) SetChatTarget(chatID int64, threadID int) {
	s.mu.Lock()
	s.target.ChatID = chatID
	if threadID != 0 {
		s.target.ThreadID = threadID
	}
	s.mu.Unlock()
}

// ChatDropped counts chat lines lost to a full queue.
func (s *Service) ChatDropped() uint64 { return s.chatDropped.Load() }

// Apply rebuilds the outputs. It is safe to call concurrently with logging.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.minLvl = parseLevel(cfg.Chat.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Chat.RatePerSec)
	s.lim = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Chat.ThreadID != 0 {
		s.target.ThreadID = cfg.Chat.ThreadID
	}

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(os.Stdout))
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	if cfg.Chat.Enabled {
		s.chatOnce.Do(s.startChat)
		outs = append(outs, chatWriter{s})
		if s.target.ChatID == 0 {
			fmt.Fprintln(os.Stderr, "logx: chat logging enabled without a chat id")
		}
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(os.Stdout))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops the chat worker and closes the log file.
func (s *Service) Close() error {
	s.mu.Lock()
	f, stop := s.file, s.chatStop
	s.file, s.chatStop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		s.chatDone.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
}

// startChat runs with s.mu held.
func (s *Service) startChat() {
	ctx, cancel := context.WithCancel(context.Background())
	s.chatStop = cancel
	s.chatDone.Add(1)
	go func() {
		defer s.chatDone.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ln := <-s.chatQ:
				s.mu.Lock()
				sender := s.sender
				s.mu.Unlock()
				if sender != nil {
					_, _ = sender.SendText(ctx, ln.to, ln.text, &kit.SendOptions{DisablePreview: true})
				}
			}
		}
	}()
}

// chatWriter forwards events at or above the chat min level, rate limited.
// It never blocks the logging call.
type chatWriter struct{ s *Service }

func (w chatWriter) Write(p []byte) (int, error) { return w.WriteLevel(zerolog.InfoLevel, p) }

func (w chatWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.s
	s.mu.Lock()
	to, sender, lim, minLvl := s.target, s.sender, s.lim, s.minLvl
	s.mu.Unlock()

	if to.ChatID == 0 || sender == nil || level < minLvl || !lim.Allow() {
		return len(p), nil
	}
	text := chatText(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case s.chatQ <- chatLine{to: to, text: text}:
	default:
		s.chatDropped.Add(1)
	}
	return len(p), nil
}

var levelMarks = map[string]string{
	"warn":  "⚠️",
	"error": "🛑",
	"fatal": "🛑",
	"panic": "🛑",
}

// chatText renders one zerolog JSON line for the chat: the message on the
// first line, then sorted key=value lines. Non-JSON input is sent trimmed.
func chatText(p []byte) string {
	p = bytes.TrimSpace(p)
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(string(p), chatMaxLen)
	}

	lvl, _ := m[zerolog.LevelFieldName].(string)
	msg, _ := m[zerolog.MessageFieldName].(string)
	var b strings.Builder
	if mark, ok := levelMarks[lvl]; ok {
		b.WriteString(mark + " ")
	} else if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s=%s", k, clip(fmt.Sprint(m[k]), chatFieldLen))
	}
	return clip(b.String(), chatMaxLen)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
