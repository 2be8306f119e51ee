package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"listing_watch/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers alerts as bot messages. The route endpoint is the chat ID.
type Telegram struct {
	api telegramAPI
}

// NewTelegram creates a Telegram channel for the bot with the given token.
// Every API request, including the startup identity check, is bounded by
// timeout.
func NewTelegram(token string, timeout time.Duration) (*Telegram, error) {
	return newTelegram(token, tgbotapi.APIEndpoint, timeout)
}

func newTelegram(token, endpoint string, timeout time.Duration) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api}, nil
}

// Type implements Channel.
func (t *Telegram) Type() model.ChannelType { return model.ChannelTelegram }

// Send implements Channel. The bot client takes no context, so Send returns
// as soon as ctx is done even if the request is still in flight.
func (t *Telegram) Send(ctx context.Context, route model.NotificationRoute, msg Message) error {
	chatID, err := strconv.ParseInt(route.Endpoint, 10, 64)
	if err != nil {
		return &FormatError{Endpoint: route.Endpoint, Reason: "chat id must be an integer"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := tgbotapi.NewMessage(chatID, msg.PlainText())
	done := make(chan error, 1)
	go func() {
		_, err := t.api.Send(m)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("send telegram message: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
		return nil
	}
}
