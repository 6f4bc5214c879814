package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"helpdesk-bot/internal/model"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCreateRequest),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func phoneKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButtonContact(btnSharePhone),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func topicKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(model.Topics))
	for _, topic := range model.Topics {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(topic, cbTopicPrefix+topic),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// requestKeyboard is attached to a fresh group message: staff can reply or
// accept.
func requestKeyboard(requestID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Reply", cbReplyPrefix+requestID),
			tgbotapi.NewInlineKeyboardButtonData("Accept", cbAcceptPrefix+requestID),
		),
	)
}

// solvedKeyboard replaces requestKeyboard once the request is accepted.
func solvedKeyboard(requestID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Reply", cbReplyPrefix+requestID),
			tgbotapi.NewInlineKeyboardButtonData("Solved", cbSolvePrefix+requestID),
		),
	)
}

// replyOnlyKeyboard remains after the request is solved.
func replyOnlyKeyboard(requestID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Reply", cbReplyPrefix+requestID),
		),
	)
}
