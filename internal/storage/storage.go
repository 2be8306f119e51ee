// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"listing_watch/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateWantedItem(ctx context.Context, item *model.WantedItem) error
	GetWantedItem(ctx context.Context, id int64) (*model.WantedItem, error)
	ListActiveWantedItems(ctx context.Context) ([]model.WantedItem, error)
	DeleteWantedItem(ctx context.Context, id int64) error

	CreateRoute(ctx context.Context, route *model.NotificationRoute) error
	AttachRoute(ctx context.Context, wantedItemID, routeID int64) error
	ListRoutes(ctx context.Context, wantedItemID int64) ([]model.NotificationRoute, error)
	DeleteRoute(ctx context.Context, id int64) error

	ListingExists(ctx context.Context, itemID int64) (bool, error)
	InsertListing(ctx context.Context, l *model.Listing) (bool, error)
	GetListing(ctx context.Context, itemID int64) (*model.Listing, error)
	DeleteListing(ctx context.Context, itemID int64) error

	Close() error
}
