package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/resto-billing/internal/billing"
)

// ErrNoChat means the owner has no Telegram chat on record.
var ErrNoChat = errors.New("owner chat unknown")

// Notifier sends owner notifications as Telegram messages.
type Notifier struct {
	api Sender
}

func NewNotifier(api Sender) *Notifier {
	return &Notifier{api: api}
}

func (n *Notifier) Notify(ctx context.Context, msg billing.Notification) error {
	if msg.OwnerChatID == 0 {
		return fmt.Errorf("restaurant %d: %w", msg.RestaurantID, ErrNoChat)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	text := msg.Title
	if msg.Body != "" {
		text += "\n\n" + msg.Body
	}
	if _, err := n.api.Send(tgbotapi.NewMessage(msg.OwnerChatID, text)); err != nil {
		return fmt.Errorf("send to chat %d: %w", msg.OwnerChatID, err)
	}
	return nil
}

// LogNotifier writes notifications to the log. Used when no bot token is set.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, msg billing.Notification) error {
	n.log.Info("owner notification",
		"restaurant_id", msg.RestaurantID,
		"owner_id", msg.OwnerID,
		"title", msg.Title,
		"kind", msg.Metadata["kind"],
	)
	return nil
}
