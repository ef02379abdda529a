package notifier

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"dosebot/internal/transport"
	logx "dosebot/pkg/logx"
)

// Callback actions carried in button data as "<action>:<id>".
const (
	ActionAck    = "ack"
	ActionSnooze = "snooze"
)

func ActionData(action string, id uint32) string {
	return action + ":" + strconv.FormatUint(uint64(id), 10)
}

// ParseAction splits button data produced by ActionData.
func ParseAction(data string) (action string, id uint32, ok bool) {
	action, raw, found := strings.Cut(strings.TrimSpace(data), ":")
	if !found || (action != ActionAck && action != ActionSnooze) {
		return "", 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return "", 0, false
	}
	return action, uint32(v), true
}

var kindHeadings = map[string]string{
	"initial":        "⏰ Treatment reminder",
	"followup":       "🔁 Follow-up",
	"snooze":         "💤 Snoozed reminder",
	"weekly_summary": "📋 Weekly summary",
}

// Render builds the chat text and buttons for n.
func Render(n Notification) (string, *transport.SendOptions) {
	head, ok := kindHeadings[n.Kind]
	if !ok {
		head = "⏰ Reminder"
	}
	var b strings.Builder
	b.WriteString(head)
	if t := strings.TrimSpace(n.Title); t != "" {
		b.WriteString(": ")
		b.WriteString(t)
	}
	if body := strings.TrimSpace(n.Body); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	opt := &transport.SendOptions{DisablePreview: true}
	if n.Actions {
		opt.Buttons = [][]transport.Button{{
			{Label: "✅ Done", Data: ActionData(ActionAck, n.ID)},
			{Label: "💤 Snooze", Data: ActionData(ActionSnooze, n.ID)},
		}}
	}
	return b.String(), opt
}

// LogSink delivers to the log. It is the sink when no chat adapter is configured.
type LogSink struct {
	Log logx.Logger
	seq atomic.Int64
}

func NewLogSink(log logx.Logger) *LogSink { return &LogSink{Log: log} }

func (l *LogSink) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	id := int(l.seq.Add(1))
	buttons := 0
	if opt != nil {
		for _, row := range opt.Buttons {
			buttons += len(row)
		}
	}
	l.Log.Info("reminder", logx.String("text", text), logx.Int("buttons", buttons), logx.Int("message_id", id))
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}
