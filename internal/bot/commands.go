package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/resto-billing/internal/billing"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
	"github.com/Spok95/resto-billing/internal/infra/export"
)

const helpText = `Commands:
/status <restaurant_id>
/trial <restaurant_id>
/grant <restaurant_id> <days> [source]
/settrial <restaurant_id> <days>
/setpaid <restaurant_id> <days>
/suspend <restaurant_id> <reason>
/unsuspend <restaurant_id>
/cancel <restaurant_id>
/expire <restaurant_id> [reason]
/events <restaurant_id>
/reconcile
/audit`

// parseCommand splits "/grant@bot 5 30" into "grant" and its arguments.
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd == "" {
		return "", nil, false
	}
	return strings.ToLower(cmd), fields[1:], true
}

func (b *Bot) handle(ctx context.Context, chatID int64, cmd string, args []string) {
	switch cmd {
	case "start", "help":
		msg := tgbotapi.NewMessage(chatID, helpText)
		msg.ReplyMarkup = adminReplyKeyboard()
		b.send(msg)
	case "reconcile":
		b.reconcile(ctx, chatID)
	case "audit":
		b.audit(ctx, chatID)
	case "status", "trial", "unsuspend", "cancel", "events":
		rid, ok := b.restaurantArg(chatID, args)
		if !ok {
			return
		}
		b.runAction(ctx, chatID, cmd, rid)
	case "grant", "settrial", "setpaid":
		if len(args) < 2 {
			b.reply(chatID, "Usage: /"+cmd+" <restaurant_id> <days>")
			return
		}
		rid, ok := b.restaurantArg(chatID, args)
		if !ok {
			return
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			b.reply(chatID, "Days must be a number")
			return
		}
		var sub *subs.Subscription
		switch cmd {
		case "grant":
			source := "ADMIN"
			if len(args) > 2 {
				source = strings.ToUpper(args[2])
			}
			sub, err = b.billing.GrantDays(ctx, rid, n, source, map[string]any{"via": "telegram"})
		case "settrial":
			sub, err = b.billing.SetTrialDays(ctx, rid, n)
		default:
			sub, err = b.billing.SetPaidDays(ctx, rid, n)
		}
		b.result(ctx, chatID, cmd, sub, err)
	case "suspend", "expire":
		rid, ok := b.restaurantArg(chatID, args)
		if !ok {
			return
		}
		reason := strings.Join(args[1:], " ")
		if cmd == "suspend" && reason == "" {
			b.reply(chatID, "Usage: /suspend <restaurant_id> <reason>")
			return
		}
		var (
			sub *subs.Subscription
			err error
		)
		if cmd == "suspend" {
			sub, err = b.billing.Suspend(ctx, rid, reason)
		} else {
			sub, err = b.billing.ForceExpire(ctx, rid, reason)
		}
		b.result(ctx, chatID, cmd, sub, err)
	default:
		b.reply(chatID, "Unknown command. /help")
	}
}

func (b *Bot) restaurantArg(chatID int64, args []string) (int64, bool) {
	if len(args) == 0 {
		b.reply(chatID, "Restaurant id is required")
		return 0, false
	}
	rid, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || rid <= 0 {
		b.reply(chatID, "Invalid restaurant id: "+args[0])
		return 0, false
	}
	return rid, true
}

// runAction serves the single-argument commands and the status keyboard.
func (b *Bot) runAction(ctx context.Context, chatID int64, action string, rid int64) {
	var (
		sub *subs.Subscription
		err error
	)
	switch action {
	case "status":
		sub, err = b.billing.Ensure(ctx, rid)
	case "trial":
		sub, err = b.billing.StartTrial(ctx, rid)
	case "period":
		sub, err = b.billing.GrantDays(ctx, rid, b.billing.Settings().ProPeriodDays, "ADMIN", map[string]any{"via": "telegram"})
	case "unsuspend":
		sub, err = b.billing.Unsuspend(ctx, rid)
	case "cancel":
		sub, err = b.billing.Cancel(ctx, rid)
	case "events":
		b.events(ctx, chatID, rid)
		return
	default:
		b.log.Warn("unknown callback action", "action", action)
		return
	}
	b.result(ctx, chatID, action, sub, err)
}

func (b *Bot) result(ctx context.Context, chatID int64, action string, sub *subs.Subscription, err error) {
	if err != nil {
		b.reply(chatID, describeError(err))
		if !isPrecondition(err) {
			b.log.Error("admin command failed", "action", action, "err", err)
		}
		return
	}
	if action != "status" {
		b.log.Info("admin command applied",
			"restaurant_id", sub.RestaurantID,
			"action", action,
			"status", sub.Status,
		)
	}
	entitled, err := b.billing.IsEntitledNow(ctx, sub.RestaurantID)
	if err != nil {
		b.reply(chatID, describeError(err))
		return
	}
	msg := tgbotapi.NewMessage(chatID, formatSubscription(sub, entitled, b.now()))
	msg.ReplyMarkup = statusKeyboard(sub)
	b.send(msg)
}

func (b *Bot) events(ctx context.Context, chatID int64, rid int64) {
	events, err := b.billing.ListEvents(ctx, rid)
	if err != nil {
		b.reply(chatID, describeError(err))
		return
	}
	sub, err := b.billing.Get(ctx, rid)
	if err != nil {
		b.reply(chatID, describeError(err))
		return
	}
	data, err := export.Events(sub, events)
	if err != nil {
		b.log.Error("events export failed", "restaurant_id", rid, "err", err)
		b.reply(chatID, "Export failed")
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: export.EventsFileName(rid, b.now()), Bytes: data})
	doc.Caption = fmt.Sprintf("Restaurant %d: %d events", rid, len(events))
	b.send(doc)
}

func (b *Bot) reconcile(ctx context.Context, chatID int64) {
	res, err := b.billing.RunReconciliation(ctx, b.now())
	if err != nil {
		b.log.Error("reconciliation from chat failed", "err", err)
		b.reply(chatID, "Reconciliation failed: "+err.Error())
		return
	}
	b.reply(chatID, fmt.Sprintf("Reconciliation done\nscanned: %d\nchanged: %d\nnotified: %d\norphaned: %d\nfailed: %d",
		res.Scanned, res.Changed, res.Notified, res.Orphaned, res.Failed))
}

func (b *Bot) audit(ctx context.Context, chatID int64) {
	rep, err := b.billing.Audit(ctx, b.now())
	if err != nil {
		b.log.Error("audit from chat failed", "err", err)
		b.reply(chatID, "Audit failed: "+err.Error())
		return
	}
	b.sendAudit(chatID, rep)
}

// SendAuditReport delivers a scheduled audit to the admin chat.
func (b *Bot) SendAuditReport(_ context.Context, rep billing.AuditReport) {
	if b.adminChat == 0 {
		return
	}
	b.sendAudit(b.adminChat, rep)
}

func (b *Bot) sendAudit(chatID int64, rep billing.AuditReport) {
	summary := formatAudit(rep)
	data, err := export.AuditReport(rep)
	if err != nil {
		b.log.Error("audit export failed", "err", err)
		b.reply(chatID, summary)
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: export.AuditFileName(rep.RunAt), Bytes: data})
	doc.Caption = summary
	b.send(doc)
}

func formatSubscription(sub *subs.Subscription, entitled bool, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Restaurant %d\n", sub.RestaurantID)
	fmt.Fprintf(&sb, "Status: %s\n", sub.Status)
	fmt.Fprintf(&sb, "Plan: %s\n", sub.Plan)
	if entitled {
		sb.WriteString("Entitled: yes\n")
	} else {
		sb.WriteString("Entitled: no\n")
	}
	line := func(label string, t *time.Time) {
		if t == nil {
			return
		}
		fmt.Fprintf(&sb, "%s: %s", label, t.UTC().Format("2006-01-02 15:04"))
		if d := t.Sub(now); d > 0 {
			fmt.Fprintf(&sb, " (in %s)", humanDays(d))
		}
		sb.WriteString("\n")
	}
	line("Trial ends", sub.TrialEndAt)
	line("Period ends", sub.CurrentPeriodEndAt)
	line("Grace ends", sub.GraceEndAt)
	if sub.CancelAtPeriodEnd {
		sb.WriteString("Cancels at period end\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func humanDays(d time.Duration) string {
	n := int(d.Hours() / 24)
	switch n {
	case 0:
		return "less than a day"
	case 1:
		return "1 day"
	default:
		return fmt.Sprintf("%d days", n)
	}
}

func formatAudit(rep billing.AuditReport) string {
	return fmt.Sprintf("Audit %s\nscanned: %d\nmismatches: %d found, %d fixed\nexpirations fixed: %d\norphaned: %d\nfailed: %d",
		rep.RunAt.UTC().Format("2006-01-02 15:04"),
		rep.Scanned, rep.MismatchesFound, rep.MismatchesFixed,
		rep.ExpirationsFixed, rep.Orphaned, rep.Failed)
}

func isPrecondition(err error) bool {
	var be *billing.Error
	return errors.As(err, &be)
}

func describeError(err error) string {
	var be *billing.Error
	if errors.As(err, &be) {
		kind := strings.TrimPrefix(be.Kind.Error(), "billing: ")
		return fmt.Sprintf("⚠️ %s: %s", kind, be.Reason)
	}
	return "⚠️ internal error, see logs"
}
