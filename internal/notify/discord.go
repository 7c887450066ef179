package notify

import (
	"context"
	"net/http"
)

const (
	// Embed limits from the Discord webhook API.
	discordMaxTitle       = 256
	discordMaxDescription = 4096

	discordColor = 0x2ecc71
)

// DiscordSender delivers alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     newHTTPClient(),
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordWebhook struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send posts the alert. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, discordWebhook{
		Embeds: []discordEmbed{{
			Title:       clip(title, discordMaxTitle),
			Description: clip(message, discordMaxDescription),
			Color:       discordColor,
		}},
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
