package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier adapts the Telegram API to service.Notifier so the lifecycle
// engine can message requesters without depending on the bot.
type Notifier struct {
	api *tgbotapi.BotAPI
}

func NewNotifier(api *tgbotapi.BotAPI) *Notifier {
	return &Notifier{api: api}
}

// Notify sends text to the chat without parse mode: replies embed
// user-provided content verbatim.
func (n *Notifier) Notify(chatID int64, text string) error {
	_, err := n.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
