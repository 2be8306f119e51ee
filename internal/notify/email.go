package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"listing_watch/internal/model"
)

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Email delivers plain-text alerts through an unauthenticated local relay.
type Email struct {
	from   string
	sender mailSender
}

// NewEmail creates an Email channel submitting to host:port as from.
func NewEmail(host string, port int, from string, timeout time.Duration) (*Email, error) {
	c, err := mail.NewClient(host,
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.NoTLS),
		mail.WithTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}
	return &Email{from: from, sender: c}, nil
}

// Type implements Channel.
func (e *Email) Type() model.ChannelType { return model.ChannelEmail }

// Send implements Channel. The route endpoint is the recipient address.
func (e *Email) Send(ctx context.Context, route model.NotificationRoute, msg Message) error {
	m, err := e.compose(route.Endpoint, msg)
	if err != nil {
		return err
	}
	if err := e.sender.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (e *Email) compose(to string, msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(to); err != nil {
		return nil, &FormatError{Endpoint: to, Reason: err.Error()}
	}
	m.Subject(Subject(msg))
	m.SetBodyString(mail.TypeTextPlain, msg.PlainText())
	return m, nil
}

// Subject returns the email subject line for an alert.
func Subject(msg Message) string {
	return "New Item Alert - " + msg.Title
}
