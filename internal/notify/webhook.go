package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"listing_watch/internal/model"
)

// Discord embed limits.
const (
	maxEmbedTitle       = 256
	maxEmbedDescription = 4096
	maxFieldValue       = 1024
)

// ParseWebhookURL extracts the webhook id and token from a chat webhook URL
// of the form https://host/api/webhooks/{id}/{token}. They are slash
// separated segments 5 and 6.
func ParseWebhookURL(raw string) (id, token string, err error) {
	parts := strings.Split(raw, "/")
	if len(parts) < 7 {
		return "", "", &FormatError{Endpoint: raw, Reason: fmt.Sprintf("want at least 7 path segments, got %d", len(parts))}
	}
	id, token = parts[5], parts[6]
	if id == "" || token == "" {
		return "", "", &FormatError{Endpoint: raw, Reason: "empty webhook id or token"}
	}
	return id, token, nil
}

type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Webhook delivers alerts as embeds to chat webhooks.
type Webhook struct {
	exec webhookExecutor
}

// NewWebhook creates a Webhook channel whose requests time out after timeout.
func NewWebhook(timeout time.Duration) (*Webhook, error) {
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Client = &http.Client{Timeout: timeout}
	s.ShouldRetryOnRateLimit = false
	s.MaxRestRetries = 0
	return &Webhook{exec: s}, nil
}

// Type implements Channel.
func (w *Webhook) Type() model.ChannelType { return model.ChannelDiscord }

// Send implements Channel.
func (w *Webhook) Send(ctx context.Context, route model.NotificationRoute, msg Message) error {
	id, token, err := ParseWebhookURL(route.Endpoint)
	if err != nil {
		return err
	}
	params := &discordgo.WebhookParams{Embeds: []*discordgo.MessageEmbed{Embed(msg)}}
	if _, err := w.exec.WebhookExecute(id, token, true, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("execute webhook: %w", err)
	}
	return nil
}

// Embed converts a message to a chat embed.
func Embed(msg Message) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       truncate(msg.Title, maxEmbedTitle),
		Description: truncate(msg.Description, maxEmbedDescription),
		Color:       msg.Color,
	}
	for _, f := range msg.Fields {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  truncate(f.Value, maxFieldValue),
			Inline: f.Inline,
		})
	}
	if msg.ImageURL != "" {
		e.Image = &discordgo.MessageEmbedImage{URL: msg.ImageURL}
	}
	return e
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
