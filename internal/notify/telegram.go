package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
)

const (
	telegramAPI = "https://api.telegram.org"

	// telegramMaxText is the sendMessage text limit.
	telegramMaxText = 4096
)

// TelegramSender delivers alerts through the Telegram Bot API sendMessage
// method using HTML formatting.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  newHTTPClient(),
	}
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Send posts the alert with a bold title. Bookmaker keys and team names are
// escaped, since underscores and ampersands are common in both.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(title), html.EscapeString(message))
	return postJSON(ctx, t.client, t.Name(), t.apiBase+"/bot"+t.token+"/sendMessage", telegramMessage{
		ChatID:                t.chatID,
		Text:                  clip(text, telegramMaxText),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
