package notify

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramNotifier delivers task alerts to a Telegram chat.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram api: %w", err)
	}
	return &TelegramNotifier{api: api, chatID: chatID}, nil
}

func (n *TelegramNotifier) NotifyTask(_ context.Context, taskID uint, title, subtitle string) error {
	text := fmt.Sprintf("📍 <b>%s</b>", html.EscapeString(title))
	if subtitle != "" {
		text += fmt.Sprintf("\n%s", html.EscapeString(subtitle))
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send notification for task %d: %w", taskID, err)
	}
	return nil
}

func (n *TelegramNotifier) NotifyText(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
