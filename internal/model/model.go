// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when a price carries no explicit currency.
const DefaultCurrency = "GBP"

// Money is an amount in a given ISO 4217 currency.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney builds a Money value, defaulting the currency.
func NewMoney(amount decimal.Decimal, currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: amount, Currency: currency}
}

// Condition is a marketplace item condition code. Zero means "any".
type Condition int

// Supported condition codes.
const (
	ConditionNA                   Condition = 0
	ConditionNew                  Condition = 1000
	ConditionNewOther             Condition = 1500
	ConditionNewWithDefects       Condition = 1750
	ConditionManufacturerRefurb   Condition = 2000
	ConditionSellerRefurb         Condition = 2500
	ConditionLikeNew              Condition = 2750
	ConditionUsed                 Condition = 3000
	ConditionVeryGood             Condition = 4000
	ConditionGood                 Condition = 5000
	ConditionAcceptable           Condition = 6000
	ConditionForPartsOrNotWorking Condition = 7000
)

var conditionLabels = map[Condition]string{
	ConditionNA:                   "N/A",
	ConditionNew:                  "New",
	ConditionNewOther:             "New Other",
	ConditionNewWithDefects:       "New with defects",
	ConditionManufacturerRefurb:   "Manufacturer refurbished",
	ConditionSellerRefurb:         "Seller refurbished",
	ConditionLikeNew:              "Like New",
	ConditionUsed:                 "Used",
	ConditionVeryGood:             "Very Good",
	ConditionGood:                 "Good",
	ConditionAcceptable:           "Acceptable",
	ConditionForPartsOrNotWorking: "For parts or not working",
}

// String returns the human label of the condition.
func (c Condition) String() string {
	if l, ok := conditionLabels[c]; ok {
		return l
	}
	return "Unknown"
}

// Valid reports whether c is one of the known condition codes.
func (c Condition) Valid() bool {
	_, ok := conditionLabels[c]
	return ok
}

// WantedItem is a monitoring rule describing listings to alert on.
type WantedItem struct {
	ID           int64
	Name         string
	Keywords     string
	AntiKeywords string
	MinPrice     Money
	MaxPrice     Money
	MinFeedback  int
	MaxFeedback  int
	// AuctionAlertTime is how many minutes before an auction ends it may alert.
	AuctionAlertTime int
	// BuyItNowTime is the maximum age in minutes of a fixed-price listing.
	BuyItNowTime int
	Condition    Condition
	LocatedIn    string
	Owner        string
	Deleted      bool
	CreatedAt    time.Time
}

// NewWantedItem returns a WantedItem with the stock defaults applied.
func NewWantedItem(name, keywords string) WantedItem {
	return WantedItem{
		Name:             name,
		Keywords:         keywords,
		MinPrice:         NewMoney(decimal.Zero, DefaultCurrency),
		MaxPrice:         NewMoney(decimal.Zero, DefaultCurrency),
		MinFeedback:      5,
		MaxFeedback:      1000,
		AuctionAlertTime: 15,
		BuyItNowTime:     10,
		LocatedIn:        "GB",
	}
}

// AntiKeywordList splits AntiKeywords on commas, dropping blank tokens.
func (w WantedItem) AntiKeywordList() []string {
	var out []string
	for _, s := range strings.Split(w.AntiKeywords, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ChannelType identifies the transport of a notification route.
type ChannelType string

// Supported channel types.
const (
	ChannelDiscord  ChannelType = "DIS"
	ChannelSlack    ChannelType = "SLK"
	ChannelEmail    ChannelType = "EMA"
	ChannelTelegram ChannelType = "TGM"
)

// NotificationRoute is a configured delivery target for alerts.
type NotificationRoute struct {
	ID                     int64
	Name                   string
	Description            string
	Endpoint               string
	Type                   ChannelType
	IncludeItemDescription bool
	Deleted                bool
	CreatedAt              time.Time
	ModifiedAt             time.Time
}

// ListingKind says which time-window rule applies to a listing.
type ListingKind string

// Listing kinds.
const (
	KindAuction    ListingKind = "A"
	KindFixedPrice ListingKind = "F"
)

// String returns a readable name for the kind.
func (k ListingKind) String() string {
	switch k {
	case KindAuction:
		return "auction"
	case KindFixedPrice:
		return "fixed-price"
	}
	return string(k)
}

// Listing is a marketplace item discovered by a search.
type Listing struct {
	ItemID         int64
	WantedItemID   int64
	Title          string
	Description    string
	StartTime      time.Time
	EndTime        time.Time
	ListingType    string
	Kind           ListingKind
	Price          Money
	ImageURL       string
	URL            string
	SellerFeedback int
	PassedFilter   bool
	InsertedAt     time.Time
	Deleted        bool
}
