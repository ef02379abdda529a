// Package transport holds the chat-facing types shared by delivery sinks and
// adapters. Reminders leave the process through a Sink; user reactions come
// back as Updates.
package transport

import (
	"context"
	"errors"
)

var ErrNoTarget = errors.New("transport: no chat target configured")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

// Callback is a button press. Data carries the Button.Data that was sent.
type Callback struct {
	ID           string
	FromID       int64
	FromUsername string
	ChatID       int64
	ThreadID     int
	MessageID    int
	Text         string // text of the message carrying the button
	Data         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Button is one inline action under a delivered reminder.
type Button struct {
	Label string
	Data  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons is rendered as one inline keyboard row per slice.
	Buttons [][]Button
}

// Sink is the minimal outbound surface: the notifier and the log chat sink
// only ever send text.
type Sink interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Adapter is a full chat integration: outbound messages plus inbound updates.
type Adapter interface {
	Sink
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}
