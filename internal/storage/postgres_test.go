package storage

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// Runs only against a disposable database named by TEST_DATABASE_URL.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	p, err := NewPostgres(ctx, url)
	if err != nil {
		t.Fatalf("new postgres: %v", err)
	}
	if _, err := p.pool.Exec(ctx, `TRUNCATE listings, wanted_item_routes, notification_routes, wanted_items`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPostgresListings(t *testing.T) {
	ctx := context.Background()
	p := newTestPostgres(t)

	l := testListing(42)
	inserted, err := p.InsertListing(ctx, &l)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should write a row")
	}

	dup := testListing(42)
	inserted, err = p.InsertListing(ctx, &dup)
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if inserted {
		t.Error("duplicate item id must not be written")
	}

	got, err := p.GetListing(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(l.Title, got.Title); diff != "" {
		t.Errorf("title mismatch (-want +got):\n%s", diff)
	}
	if !got.Price.Amount.Equal(l.Price.Amount) {
		t.Errorf("price = %s, want %s", got.Price.Amount, l.Price.Amount)
	}

	exists, err := p.ListingExists(ctx, 42)
	if err != nil || !exists {
		t.Errorf("ListingExists = %v, %v; want true, nil", exists, err)
	}
}

func TestPostgresLongListingFields(t *testing.T) {
	ctx := context.Background()
	p := newTestPostgres(t)

	l := testListing(43)
	l.URL = "https://www.ebay.co.uk/itm/43?" + strings.Repeat("tracking=x&", 60)
	l.ImageURL = "https://img.example.com/" + strings.Repeat("a", 400) + ".jpg"
	l.ListingType = "AuctionWithBuyItNowAndBestOffer"

	inserted, err := p.InsertListing(ctx, &l)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("expected row to be written")
	}
	got, err := p.GetListing(ctx, 43)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{l.URL, l.ImageURL, l.ListingType}, []string{got.URL, got.ImageURL, got.ListingType}); diff != "" {
		t.Errorf("long fields mismatch (-want +got):\n%s", diff)
	}
}
