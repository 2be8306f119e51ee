// Package marketplace wraps the external listing search and detail APIs.
package marketplace

import (
	"context"
	"fmt"
	"net/http"

	"listing_watch/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client finds listings for a wanted item and fetches listing details.
type Client interface {
	// Search returns the current listings of the given kind matching item.
	// An empty result is not an error.
	Search(ctx context.Context, item model.WantedItem, kind model.ListingKind) ([]model.Listing, error)
	// FetchDetail returns the full record of a single listing.
	FetchDetail(ctx context.Context, itemID int64) (*Detail, error)
}

// Detail is the extra information only available from a single-item lookup.
type Detail struct {
	ItemID int64
	// DescriptionHTML is the raw seller description.
	DescriptionHTML string
}

// TransportError reports a failed call to the marketplace API: network
// failures, unexpected statuses, API-level failures and malformed responses.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("marketplace %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
