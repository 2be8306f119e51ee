// Package dedup suppresses listings that were already processed.
package dedup

import (
	"context"
	"fmt"
	"time"

	"listing_watch/internal/model"
)

// Store is the subset of the listing store the deduplicator needs.
type Store interface {
	ListingExists(ctx context.Context, itemID int64) (bool, error)
	// InsertListing persists l unless its item ID is already stored and
	// reports whether a row was written.
	InsertListing(ctx context.Context, l *model.Listing) (bool, error)
}

// Deduplicator decides whether listings are new and claims them once.
type Deduplicator struct {
	store Store
	now   func() time.Time
}

// New creates a Deduplicator backed by store.
func New(store Store) *Deduplicator {
	return &Deduplicator{store: store, now: time.Now}
}

// IsNew reports whether itemID has never been stored. It has no side effects.
func (d *Deduplicator) IsNew(ctx context.Context, itemID int64) (bool, error) {
	exists, err := d.store.ListingExists(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("check listing %d: %w", itemID, err)
	}
	return !exists, nil
}

// Claim persists an accepted listing. It returns false when another scan
// stored the same item first, in which case no alert must be sent.
func (d *Deduplicator) Claim(ctx context.Context, l *model.Listing) (bool, error) {
	l.PassedFilter = true
	if l.InsertedAt.IsZero() {
		l.InsertedAt = d.now().UTC()
	}
	inserted, err := d.store.InsertListing(ctx, l)
	if err != nil {
		return false, fmt.Errorf("claim listing %d: %w", l.ItemID, err)
	}
	return inserted, nil
}
