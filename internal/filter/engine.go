// Package filter implements the listing decision engine.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"listing_watch/internal/marketplace"
	"listing_watch/internal/model"
)

// Reason says why a listing was rejected.
type Reason string

// Rejection reasons, in the order the rules are applied.
const (
	ReasonNone               Reason = ""
	ReasonFeedback           Reason = "seller_feedback"
	ReasonNotRecent          Reason = "not_recent"
	ReasonNotEndingSoon      Reason = "not_ending_soon"
	ReasonUnknownKind        Reason = "unknown_kind"
	ReasonTitleKeyword       Reason = "title_anti_keyword"
	ReasonDetailUnavailable  Reason = "detail_unavailable"
	ReasonDescriptionKeyword Reason = "description_anti_keyword"
)

// Decision is the outcome of running a listing through the engine.
type Decision struct {
	Accepted bool
	Reason   Reason
	// Keyword is the anti-keyword that caused a keyword rejection.
	Keyword string
	// Err is the cause of a ReasonDetailUnavailable rejection.
	Err error
}

func accept() Decision { return Decision{Accepted: true} }

func reject(r Reason) Decision { return Decision{Reason: r} }

// String renders the decision for logs.
func (d Decision) String() string {
	switch {
	case d.Accepted:
		return "accept"
	case d.Keyword != "":
		return fmt.Sprintf("reject(%s: %q)", d.Reason, d.Keyword)
	case d.Err != nil:
		return fmt.Sprintf("reject(%s: %v)", d.Reason, d.Err)
	}
	return fmt.Sprintf("reject(%s)", d.Reason)
}

// DetailFetcher fetches the full record of a listing.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, itemID int64) (*marketplace.Detail, error)
}

// Engine decides whether candidate listings match a wanted item.
type Engine struct {
	details DetailFetcher
	now     func() time.Time
	log     *slog.Logger
}

// New creates an Engine. now is the clock used for the time-window rules.
func New(details DetailFetcher, now func() time.Time, log *slog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{details: details, now: now, log: log}
}

// Decide applies the rules in order and stops at the first rejection:
// feedback bounds, time window, title anti-keywords, detail fetch and
// description anti-keywords. On acceptance l.Description holds the plain
// text description.
func (e *Engine) Decide(ctx context.Context, l *model.Listing, item model.WantedItem) Decision {
	if !CheckFeedback(l.SellerFeedback, item) {
		return reject(ReasonFeedback)
	}
	if r := CheckTimeWindow(*l, item, e.now()); r != ReasonNone {
		return reject(r)
	}

	antiKeywords := item.AntiKeywordList()
	if kw, ok := MatchAntiKeyword(l.Title, antiKeywords); ok {
		e.log.Info("filtered anti keyword", "item_id", l.ItemID, "keyword", kw, "scope", "title", "text", l.Title)
		return Decision{Reason: ReasonTitleKeyword, Keyword: kw}
	}

	detail, err := e.details.FetchDetail(ctx, l.ItemID)
	if err != nil {
		e.log.Warn("fetch listing detail", "item_id", l.ItemID, "error", err)
		return Decision{Reason: ReasonDetailUnavailable, Err: err}
	}
	description := PlainText(detail.DescriptionHTML)

	if kw, ok := MatchAntiKeyword(description, antiKeywords); ok {
		e.log.Info("filtered anti keyword", "item_id", l.ItemID, "keyword", kw, "scope", "description", "text", description)
		return Decision{Reason: ReasonDescriptionKeyword, Keyword: kw}
	}

	l.Description = description
	return accept()
}

// CheckFeedback reports whether a seller feedback score lies within the
// wanted item's inclusive bounds.
func CheckFeedback(score int, item model.WantedItem) bool {
	return score >= item.MinFeedback && score <= item.MaxFeedback
}

// CheckTimeWindow applies the kind-dependent recency rule. Fixed-price
// listings must have started less than BuyItNowTime minutes before now;
// auctions must end less than AuctionAlertTime minutes after now.
func CheckTimeWindow(l model.Listing, item model.WantedItem, now time.Time) Reason {
	switch l.Kind {
	case model.KindFixedPrice:
		if now.Sub(l.StartTime) >= minutes(item.BuyItNowTime) {
			return ReasonNotRecent
		}
	case model.KindAuction:
		if l.EndTime.Sub(now) >= minutes(item.AuctionAlertTime) {
			return ReasonNotEndingSoon
		}
	default:
		return ReasonUnknownKind
	}
	return ReasonNone
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// MatchAntiKeyword returns the first anti-keyword contained in text,
// ignoring case.
func MatchAntiKeyword(text string, antiKeywords []string) (string, bool) {
	lower := strings.ToLower(strings.Trim(text, "\n"))
	for _, kw := range antiKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}
