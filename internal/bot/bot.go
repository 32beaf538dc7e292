package bot

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/resto-billing/internal/billing"
	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

// Sender is the part of *tgbotapi.BotAPI used to talk to chats.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// API is the part of *tgbotapi.BotAPI the admin bot needs.
type API interface {
	Sender
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Billing is the engine surface driven from the admin chat.
type Billing interface {
	Ensure(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	Get(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	IsEntitledNow(ctx context.Context, restaurantID int64) (bool, error)
	ListEvents(ctx context.Context, restaurantID int64) ([]subs.Event, error)
	Settings() billing.Settings

	StartTrial(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	GrantDays(ctx context.Context, restaurantID int64, n int, source string, meta map[string]any) (*subs.Subscription, error)
	SetTrialDays(ctx context.Context, restaurantID int64, n int) (*subs.Subscription, error)
	SetPaidDays(ctx context.Context, restaurantID int64, n int) (*subs.Subscription, error)
	Suspend(ctx context.Context, restaurantID int64, reason string) (*subs.Subscription, error)
	Unsuspend(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	Cancel(ctx context.Context, restaurantID int64) (*subs.Subscription, error)
	ForceExpire(ctx context.Context, restaurantID int64, reason string) (*subs.Subscription, error)

	RunReconciliation(ctx context.Context, now time.Time) (billing.ReconcileResult, error)
	Audit(ctx context.Context, now time.Time) (billing.AuditReport, error)
}

// Bot serves subscription commands in the admin chat.
type Bot struct {
	api       API
	log       *slog.Logger
	adminChat int64
	billing   Billing
	now       func() time.Time
}

func New(api API, log *slog.Logger, adminChatID int64, billing Billing) *Bot {
	return &Bot{
		api:       api,
		log:       log.With("component", "bot"),
		adminChat: adminChatID,
		billing:   billing,
		now:       time.Now,
	}
}

// Run polls updates until ctx is done.
func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message != nil {
				b.onMessage(ctx, upd.Message)
			} else if upd.CallbackQuery != nil {
				b.onCallback(ctx, upd.CallbackQuery)
			}
		}
	}
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) allowed(chatID int64) bool {
	return b.adminChat != 0 && chatID == b.adminChat
}

func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	cmd, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	if !b.allowed(msg.Chat.ID) {
		b.log.Warn("command from foreign chat ignored", "chat_id", msg.Chat.ID, "command", cmd)
		return
	}
	b.handle(ctx, msg.Chat.ID, cmd, args)
}

func (b *Bot) onCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || !b.allowed(cb.Message.Chat.ID) {
		return
	}
	action, rid, ok := parseCallback(cb.Data)
	if !ok {
		_ = b.answerCallback(cb, "Unknown action", true)
		return
	}
	if err := b.answerCallback(cb, "", false); err != nil {
		b.log.Warn("callback answer failed", "err", err)
	}
	b.runAction(ctx, cb.Message.Chat.ID, action, rid)
}
