package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) answerCallback(cb *tgbotapi.CallbackQuery, text string, alert bool) error {
	resp := tgbotapi.NewCallback(cb.ID, text)
	resp.ShowAlert = alert
	_, err := b.api.Request(resp)
	return err
}

// Callback data format: "sub:<action>:<restaurant_id>".
func callbackData(action string, rid int64) string {
	return fmt.Sprintf("sub:%s:%d", action, rid)
}

func parseCallback(data string) (string, int64, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != "sub" {
		return "", 0, false
	}
	rid, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || rid <= 0 {
		return "", 0, false
	}
	return parts[1], rid, true
}
