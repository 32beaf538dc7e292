package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	subs "github.com/Spok95/resto-billing/internal/domain/subscriptions"
)

// statusKeyboard offers the actions that make sense for the current status.
func statusKeyboard(sub *subs.Subscription) tgbotapi.InlineKeyboardMarkup {
	rid := sub.RestaurantID
	var row []tgbotapi.InlineKeyboardButton
	switch sub.Status {
	case subs.StatusSuspended:
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("▶️ Unsuspend", callbackData("unsuspend", rid)))
	case subs.StatusActive, subs.StatusTrialing:
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("➕ Period", callbackData("period", rid)))
		if !sub.CancelAtPeriodEnd {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("✖️ Cancel", callbackData("cancel", rid)))
		}
	default:
		if sub.TrialStartAt == nil {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("🆓 Start trial", callbackData("trial", rid)))
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("➕ Period", callbackData("period", rid)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		row,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📄 Events", callbackData("events", rid)),
			tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", callbackData("status", rid)),
		),
	)
}

// adminReplyKeyboard is the bottom panel of the admin chat.
func adminReplyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.ReplyKeyboardMarkup{
		ResizeKeyboard: true,
		Keyboard: [][]tgbotapi.KeyboardButton{
			{tgbotapi.NewKeyboardButton("/reconcile"), tgbotapi.NewKeyboardButton("/audit")},
			{tgbotapi.NewKeyboardButton("/help")},
		},
	}
}
