// Package notify renders listing alerts and delivers them through the
// configured notification channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"listing_watch/internal/model"
)

// Channel delivers a message through one transport. Implementations are
// registered with a Dispatcher under the route type they serve.
type Channel interface {
	Type() model.ChannelType
	Send(ctx context.Context, route model.NotificationRoute, msg Message) error
}

// Field is a named value shown in an alert.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a channel-independent alert.
type Message struct {
	Title       string
	Description string
	Fields      []Field
	URL         string
	ImageURL    string
	Color       int
}

// PlainText renders the message for text-only transports.
func (m Message) PlainText() string {
	var b strings.Builder
	b.WriteString(m.Title)
	b.WriteString("\n")
	for _, f := range m.Fields {
		fmt.Fprintf(&b, "\n%s: %s", textLabel(f.Name), f.Value)
	}
	if m.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(m.Description)
	}
	return b.String()
}

// textLabel drops a leading chat shortcode such as ":date: " from a field
// name. Only embeds render shortcodes.
func textLabel(name string) string {
	if strings.HasPrefix(name, ":") {
		if end := strings.Index(name[1:], ": "); end >= 0 {
			return name[end+3:]
		}
	}
	return name
}

// ErrUnsupportedRouteType is returned for routes whose channel type has no
// registered sender.
var ErrUnsupportedRouteType = errors.New("unsupported route type")

// FormatError reports a route endpoint that does not match the format its
// channel requires.
type FormatError struct {
	Endpoint string
	Reason   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed endpoint %q: %s", e.Endpoint, e.Reason)
}

// DeliveryError wraps any failure to deliver to a single route.
type DeliveryError struct {
	RouteID int64
	Type    model.ChannelType
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to route %d (%s): %v", e.RouteID, e.Type, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
