package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"dosebot/internal/notifier"
	"dosebot/internal/reminder/planner"
	kit "dosebot/internal/transport"
	logx "dosebot/pkg/logx"
)

const actionTimeout = 15 * time.Second

func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up := <-a.updates:
			a.handleUpdate(ctx, up)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, up kit.Update) {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	switch up.Kind {
	case kit.UpdateCallback:
		if up.Callback != nil {
			a.handleCallback(ctx, up.Callback)
		}
	case kit.UpdateMessage:
		if up.Message != nil {
			a.handleMessage(ctx, up.Message)
		}
	}
}

// handleCallback applies a Done / Snooze button press.
func (a *App) handleCallback(ctx context.Context, cb *kit.Callback) {
	action, id, ok := notifier.ParseAction(cb.Data)
	if !ok {
		a.answer(ctx, cb, "Unknown action")
		return
	}
	if !a.permitted(cb.ChatID, cb.FromID) {
		a.log.Warn("callback rejected", logx.Int64("user_id", cb.FromID), logx.String("action", action))
		a.answer(ctx, cb, "You are not allowed to do that")
		return
	}
	actor := actorName(cb.FromUsername, cb.FromID)
	log := a.log.With(logx.String("action", action), logx.Uint64("id", uint64(id)), logx.String("actor", actor))

	var status string
	switch action {
	case notifier.ActionAck:
		if err := a.plan.Acknowledge(ctx, id, actor); err != nil {
			log.Warn("acknowledge failed", logx.Err(err))
			a.answer(ctx, cb, failureText(err))
			return
		}
		status = "✅ Done by " + actor
		a.answer(ctx, cb, "Marked as done")
	case notifier.ActionSnooze:
		at, err := a.plan.Snooze(ctx, id, actor)
		if err != nil {
			log.Warn("snooze failed", logx.Err(err))
			a.answer(ctx, cb, failureText(err))
			return
		}
		status = fmt.Sprintf("⏰ Snoozed until %s by %s", at.Format("15:04"), actor)
		a.answer(ctx, cb, "Snoozed until "+at.Format("15:04"))
	}

	if a.adapter == nil || cb.MessageID == 0 {
		return
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, ThreadID: cb.ThreadID, MessageID: cb.MessageID}
	text := strings.TrimSpace(cb.Text)
	if text != "" {
		text += "\n\n"
	}
	if err := a.adapter.EditText(ctx, ref, text+status, nil); err != nil {
		log.Debug("edit reminder message failed", logx.Err(err))
	}
}

func (a *App) answer(ctx context.Context, cb *kit.Callback, text string) {
	if a.adapter == nil || cb.ID == "" {
		return
	}
	if err := a.adapter.AnswerCallback(ctx, cb.ID, text); err != nil {
		a.log.Debug("answer callback failed", logx.Err(err))
	}
}

// handleMessage serves the few text commands: /next and /status.
func (a *App) handleMessage(ctx context.Context, m *kit.Message) {
	cmd := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(cmd, "/") {
		return
	}
	// "/next@botname" in groups.
	cmd, _, _ = strings.Cut(strings.Fields(cmd)[0], "@")
	if !a.permitted(m.ChatID, m.FromID) {
		return
	}

	var reply string
	switch strings.ToLower(cmd) {
	case "/next":
		reply = a.nextText(8)
	case "/status":
		reply = a.statusText()
	case "/reconcile":
		rep, err := a.plan.Reconcile(ctx, "command")
		if err != nil {
			reply = "Reconcile failed: " + err.Error()
		} else {
			reply = fmt.Sprintf("Reconciled: %d posted, %d unchanged, %d cancelled, %d missed.",
				rep.Posted, rep.Unchanged, rep.Cancelled, rep.Missed)
		}
	default:
		return
	}
	if a.adapter == nil {
		return
	}
	to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if _, err := a.adapter.SendText(ctx, to, reply, &kit.SendOptions{DisablePreview: true}); err != nil {
		a.log.Warn("command reply failed", logx.String("cmd", cmd), logx.Err(err))
	}
}

func (a *App) nextText(limit int) string {
	pending := a.notif.Pending()
	if len(pending) == 0 {
		return "No reminders pending."
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].At.Before(pending[j].At) })
	loc := a.plan.Config().Location
	var b strings.Builder
	b.WriteString("Upcoming reminders:")
	for i, p := range pending {
		if i == limit {
			fmt.Fprintf(&b, "\n… and %d more", len(pending)-limit)
			break
		}
		fmt.Fprintf(&b, "\n• %s  %s (%s)", p.At.In(loc).Format("Mon 15:04"), p.Title, p.Kind)
	}
	return b.String()
}

func (a *App) statusText() string {
	rep := a.plan.LastReport()
	ns := a.notif.Snapshot()
	return fmt.Sprintf("Schedules: %d\nPending: %d armed, %d queued, %d sending\nDelivered: %d, failed: %d\nLast pass: %s (%s), %d posted, %d missed",
		len(a.src.Schedules()), ns.Armed, ns.Queued, ns.InFlight, ns.Delivered, ns.Failed,
		rep.Started.Format(time.DateTime), rep.Trigger, rep.Posted, rep.Missed)
}

func actorName(username string, id int64) string {
	if u := strings.TrimSpace(username); u != "" {
		return "@" + u
	}
	return fmt.Sprintf("user %d", id)
}

func failureText(err error) string {
	if errors.Is(err, planner.ErrUnknownReminder) {
		return "This reminder is no longer tracked"
	}
	return "Something went wrong, try again"
}
