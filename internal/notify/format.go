package notify

import (
	"time"

	"listing_watch/internal/model"
)

// TimeLayout is the human format used for every time shown in an alert.
const TimeLayout = "02/01/2006 15:04 MST"

const alertColor = 0x00ff00

var currencySymbols = map[string]string{
	"GBP": "£",
	"USD": "$",
	"EUR": "€",
	"AUD": "A$",
	"CAD": "C$",
}

// Formatter renders listings as alert messages in a fixed time zone.
type Formatter struct {
	loc *time.Location
	now func() time.Time
}

// NewFormatter creates a Formatter showing times in loc.
func NewFormatter(loc *time.Location, now func() time.Time) *Formatter {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Formatter{loc: loc, now: now}
}

// Render builds the alert for l as delivered to route.
func (f *Formatter) Render(l model.Listing, route model.NotificationRoute) Message {
	kind := l.ListingType
	if kind == "" {
		kind = l.Kind.String()
	}
	msg := Message{
		Title:    l.Title,
		URL:      l.URL,
		ImageURL: l.ImageURL,
		Color:    alertColor,
		Fields: []Field{
			{Name: "Price", Value: FormatPrice(l.Price), Inline: true},
			{Name: "Type", Value: kind, Inline: true},
			{Name: ":date: Time of Alert", Value: FormatTime(f.now(), f.loc), Inline: true},
			{Name: ":date: Start Time", Value: FormatTime(l.StartTime, f.loc), Inline: true},
			{Name: ":date: End Time", Value: FormatTime(l.EndTime, f.loc), Inline: true},
			{Name: "URL", Value: l.URL, Inline: true},
		},
	}
	if route.IncludeItemDescription {
		msg.Description = l.Description
	}
	return msg
}

// FormatTime converts t to loc and formats it with TimeLayout.
func FormatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimeLayout)
}

// FormatPrice prefixes the amount with its currency symbol, or the ISO code
// when no symbol is known.
func FormatPrice(m model.Money) string {
	amount := m.Amount.StringFixed(2)
	cur := m.Currency
	if cur == "" {
		cur = model.DefaultCurrency
	}
	if sym, ok := currencySymbols[cur]; ok {
		return sym + amount
	}
	return cur + " " + amount
}
