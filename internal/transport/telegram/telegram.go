// Package telegram delivers reminders to a Telegram chat and feeds button
// presses (Done / Snooze) back to the app.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"dosebot/internal/notifier"
	rtsup "dosebot/internal/runtime/supervisor"
	kit "dosebot/internal/transport"
	logx "dosebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update // nil while stopped
	sup *rtsup.Supervisor // poll loop, drop reporter, stop watcher

	dropped atomic.Uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	b.Handle(tele.OnText, func(c tele.Context) error {
		if m := toMessage(c.Message()); m != nil {
			a.forward(kit.Update{Kind: kit.UpdateMessage, Message: m})
		}
		return nil
	})
	b.Handle(tele.OnCallback, func(c tele.Context) error {
		if cb := toCallback(c.Callback(), c.Message()); cb != nil {
			a.forward(kit.Update{Kind: kit.UpdateCallback, Callback: cb})
		}
		return nil
	})
	return a, nil
}

// Supervisor returns the adapter's supervisor (nil if not started), for /healthz.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return nil
	}
	return &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
	}
}

// toCallback needs the message the button hangs off; inline-mode
// callbacks without one are ignored.
func toCallback(cb *tele.Callback, m *tele.Message) *kit.Callback {
	if cb == nil || cb.Sender == nil || m == nil || m.Chat == nil {
		return nil
	}
	return &kit.Callback{
		ID:           cb.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       cb.Sender.ID,
		FromUsername: cb.Sender.Username,
		MessageID:    m.ID,
		Text:         m.Text,
		Data:         cb.Data,
	}
}

// forward never blocks the poller; a full channel drops the update.
func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return nil
	}
	a.out = out
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.sup = sup
	a.mu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until Stop; restart it if it returns on its own.
	sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()

	if sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	// Keep shutdown snappy even if getUpdates is still long-polling.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if to.ChatID == 0 {
		return kit.MessageRef{}, kit.ErrNoTarget
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := chunkText(text, maxMessageRunes, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		// Buttons go on the first chunk only.
		if i == 0 {
			sendOpt.ReplyMarkup = inlineMarkup(opt.Buttons)
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces a delivered reminder's text, e.g. to mark it done.
// Passing no buttons removes the keyboard.
func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := chunkText(text, maxMessageRunes, opt.ParseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	rm := inlineMarkup(opt.Buttons)
	if rm == nil {
		rm = &tele.ReplyMarkup{}
	}
	_, err := a.bot.Edit(m, chunks[0], &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ReplyMarkup:           rm,
	})
	return classify(err)
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func inlineMarkup(rows [][]kit.Button) *tele.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, tele.InlineButton{Text: b.Label, Data: b.Data})
		}
		if len(r) > 0 {
			kb = append(kb, r)
		}
	}
	if len(kb) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

// classify maps Telegram errors onto the notifier's retry policy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return notifier.RetryAfter(err, time.Duration(flood.RetryAfter)*time.Second)
	}
	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrUnauthorized):
		return notifier.NoRetry(err)
	}
	return err
}
