package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"listing_watch/internal/model"
)

// Default API endpoints.
const (
	DefaultFindingURL  = "https://svcs.ebay.com/services/search/FindingService/v1"
	DefaultShoppingURL = "https://open.api.ebay.com/shopping"
)

const maxBody = 5 * 1024 * 1024

// Options configures an Ebay client.
type Options struct {
	AppID       string
	GlobalID    string
	SiteID      string
	FindingURL  string
	ShoppingURL string
	// RequestsPerSecond caps outgoing API calls. Zero disables limiting.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Ebay implements Client against the eBay Finding and Shopping APIs.
type Ebay struct {
	client  HTTPClient
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewEbay creates an Ebay client using the given HTTP client.
func NewEbay(client HTTPClient, opts Options, log *slog.Logger) *Ebay {
	if opts.FindingURL == "" {
		opts.FindingURL = DefaultFindingURL
	}
	if opts.ShoppingURL == "" {
		opts.ShoppingURL = DefaultShoppingURL
	}
	if opts.GlobalID == "" {
		opts.GlobalID = "EBAY-GB"
	}
	if opts.SiteID == "" {
		opts.SiteID = "3"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Ebay{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// SearchQuery builds the findItemsAdvanced query parameters for item and kind.
func SearchQuery(item model.WantedItem, kind model.ListingKind) url.Values {
	q := url.Values{}
	q.Set("OPERATION-NAME", "findItemsAdvanced")
	q.Set("SERVICE-VERSION", "1.13.0")
	q.Set("RESPONSE-DATA-FORMAT", "JSON")
	q.Set("REST-PAYLOAD", "")
	q.Set("keywords", item.Keywords)
	q.Set("descriptionSearch", "true")
	q.Set("outputSelector(0)", "SellerInfo")

	listingType, sortOrder := "FixedPrice", "StartTimeNewest"
	if kind == model.KindAuction {
		listingType, sortOrder = "Auction", "EndTimeSoonest"
	}
	q.Set("sortOrder", sortOrder)

	n := 0
	add := func(name, value string, param ...string) {
		prefix := fmt.Sprintf("itemFilter(%d)", n)
		q.Set(prefix+".name", name)
		q.Set(prefix+".value", value)
		if len(param) == 2 {
			q.Set(prefix+".paramName", param[0])
			q.Set(prefix+".paramValue", param[1])
		}
		n++
	}
	add("FeedbackScoreMin", strconv.Itoa(item.MinFeedback))
	add("MaxPrice", item.MaxPrice.Amount.StringFixed(2), "Currency", currencyOf(item.MaxPrice))
	add("MinPrice", item.MinPrice.Amount.StringFixed(2), "Currency", currencyOf(item.MinPrice))
	if item.LocatedIn != "" {
		add("LocatedIn", item.LocatedIn)
	}
	add("ListingType", listingType)
	if item.Condition != model.ConditionNA && item.Condition.Valid() {
		add("Condition", strconv.Itoa(int(item.Condition)))
	}
	return q
}

func currencyOf(m model.Money) string {
	if m.Currency == "" {
		return model.DefaultCurrency
	}
	return m.Currency
}

// Search runs findItemsAdvanced for the wanted item restricted to kind.
func (e *Ebay) Search(ctx context.Context, item model.WantedItem, kind model.ListingKind) ([]model.Listing, error) {
	if !item.Condition.Valid() {
		e.log.Warn("ignoring unknown condition code", "wanted_item_id", item.ID, "condition", int(item.Condition))
	}
	e.log.Debug("search listings", "wanted_item_id", item.ID, "kind", kind.String(), "condition", item.Condition.String())

	q := SearchQuery(item, kind)
	q.Set("SECURITY-APPNAME", e.opts.AppID)
	q.Set("GLOBAL-ID", e.opts.GlobalID)

	var resp findingResponse
	if err := e.get(ctx, "search", e.opts.FindingURL, q, &resp); err != nil {
		return nil, err
	}
	if len(resp.FindItemsAdvancedResponse) == 0 {
		return nil, &TransportError{Op: "search", Err: errors.New("empty response envelope")}
	}
	body := resp.FindItemsAdvancedResponse[0]
	if ack := first(body.Ack); ack != "Success" && ack != "Warning" {
		return nil, &TransportError{Op: "search", Err: fmt.Errorf("ack %q: %s", ack, body.errorText())}
	}
	if len(body.SearchResult) == 0 {
		return nil, nil
	}

	var listings []model.Listing
	for _, it := range body.SearchResult[0].Item {
		l, err := it.toListing(kind)
		if err != nil {
			e.log.Warn("skip malformed search item", "item_id", first(it.ItemID), "error", err)
			continue
		}
		l.WantedItemID = item.ID
		listings = append(listings, l)
	}
	return listings, nil
}

// FetchDetail runs GetSingleItem including the seller description.
func (e *Ebay) FetchDetail(ctx context.Context, itemID int64) (*Detail, error) {
	q := url.Values{}
	q.Set("callname", "GetSingleItem")
	q.Set("responseencoding", "JSON")
	q.Set("appid", e.opts.AppID)
	q.Set("siteid", e.opts.SiteID)
	q.Set("version", "967")
	q.Set("ItemID", strconv.FormatInt(itemID, 10))
	q.Set("IncludeSelector", "Description")

	var resp shoppingResponse
	if err := e.get(ctx, "fetch detail", e.opts.ShoppingURL, q, &resp); err != nil {
		return nil, err
	}
	if resp.Ack != "Success" && resp.Ack != "Warning" {
		msg := "no item"
		if len(resp.Errors) > 0 {
			msg = resp.Errors[0].LongMessage
		}
		return nil, &TransportError{Op: "fetch detail", Err: fmt.Errorf("ack %q: %s", resp.Ack, msg)}
	}
	if resp.Item == nil {
		return nil, &TransportError{Op: "fetch detail", Err: errors.New("response has no item")}
	}
	return &Detail{ItemID: itemID, DescriptionHTML: resp.Item.Description}, nil
}

func (e *Ebay) get(ctx context.Context, op, base string, q url.Values, out any) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("rate limit: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", "ListingWatch/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("http get: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// The Finding API JSON encoding wraps every value in an array.
type findingResponse struct {
	FindItemsAdvancedResponse []findingBody `json:"findItemsAdvancedResponse"`
}

type findingBody struct {
	Ack          []string         `json:"ack"`
	SearchResult []searchResult   `json:"searchResult"`
	ErrorMessage []findingErrList `json:"errorMessage"`
}

type findingErrList struct {
	Error []struct {
		Message []string `json:"message"`
	} `json:"error"`
}

func (b findingBody) errorText() string {
	var msgs []string
	for _, el := range b.ErrorMessage {
		for _, e := range el.Error {
			msgs = append(msgs, first(e.Message))
		}
	}
	if len(msgs) == 0 {
		return "no error message"
	}
	return strings.Join(msgs, "; ")
}

type searchResult struct {
	Count string        `json:"@count"`
	Item  []findingItem `json:"item"`
}

type findingItem struct {
	ItemID        []string `json:"itemId"`
	Title         []string `json:"title"`
	GalleryURL    []string `json:"galleryURL"`
	ViewItemURL   []string `json:"viewItemURL"`
	SellingStatus []struct {
		CurrentPrice []struct {
			CurrencyID string `json:"@currencyId"`
			Value      string `json:"__value__"`
		} `json:"currentPrice"`
	} `json:"sellingStatus"`
	ListingInfo []struct {
		StartTime   []string `json:"startTime"`
		EndTime     []string `json:"endTime"`
		ListingType []string `json:"listingType"`
	} `json:"listingInfo"`
	SellerInfo []struct {
		FeedbackScore []string `json:"feedbackScore"`
	} `json:"sellerInfo"`
}

func (it findingItem) toListing(kind model.ListingKind) (model.Listing, error) {
	id, err := strconv.ParseInt(first(it.ItemID), 10, 64)
	if err != nil {
		return model.Listing{}, fmt.Errorf("parse item id: %w", err)
	}
	if len(it.ListingInfo) == 0 {
		return model.Listing{}, errors.New("missing listing info")
	}
	info := it.ListingInfo[0]
	start, err := time.Parse(time.RFC3339, first(info.StartTime))
	if err != nil {
		return model.Listing{}, fmt.Errorf("parse start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, first(info.EndTime))
	if err != nil {
		return model.Listing{}, fmt.Errorf("parse end time: %w", err)
	}

	price := model.NewMoney(decimal.Zero, "")
	if len(it.SellingStatus) > 0 && len(it.SellingStatus[0].CurrentPrice) > 0 {
		cp := it.SellingStatus[0].CurrentPrice[0]
		amount, err := decimal.NewFromString(cp.Value)
		if err != nil {
			return model.Listing{}, fmt.Errorf("parse price: %w", err)
		}
		price = model.NewMoney(amount, cp.CurrencyID)
	}

	feedback := 0
	if len(it.SellerInfo) > 0 {
		if s := first(it.SellerInfo[0].FeedbackScore); s != "" {
			feedback, err = strconv.Atoi(s)
			if err != nil {
				return model.Listing{}, fmt.Errorf("parse feedback score: %w", err)
			}
		}
	}

	return model.Listing{
		ItemID:         id,
		Title:          first(it.Title),
		StartTime:      start.UTC(),
		EndTime:        end.UTC(),
		ListingType:    first(info.ListingType),
		Kind:           kind,
		Price:          price,
		ImageURL:       first(it.GalleryURL),
		URL:            first(it.ViewItemURL),
		SellerFeedback: feedback,
	}, nil
}

type shoppingResponse struct {
	Ack    string `json:"Ack"`
	Errors []struct {
		ShortMessage string `json:"ShortMessage"`
		LongMessage  string `json:"LongMessage"`
	} `json:"Errors"`
	Item *struct {
		ItemID      string `json:"ItemID"`
		Description string `json:"Description"`
	} `json:"Item"`
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
