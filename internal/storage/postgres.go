package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"listing_watch/internal/model"
	"listing_watch/migrations"
)

// Postgres implements Storage backed by a PostgreSQL connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and runs pending migrations.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	err = migrations.Run(db, migrations.DialectPostgres)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases all pooled connections.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// CreateWantedItem inserts a new wanted item and populates its ID and CreatedAt.
func (p *Postgres) CreateWantedItem(ctx context.Context, item *model.WantedItem) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO wanted_items (name, keywords, anti_keywords, min_price, min_price_currency,
		   max_price, max_price_currency, min_feedback, max_feedback, auction_alert_time,
		   buy_it_now_time, condition, located_in, owner, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id, created_at`,
		item.Name, item.Keywords, item.AntiKeywords,
		item.MinPrice.Amount, currency(item.MinPrice),
		item.MaxPrice.Amount, currency(item.MaxPrice),
		item.MinFeedback, item.MaxFeedback, item.AuctionAlertTime, item.BuyItNowTime,
		int(item.Condition), item.LocatedIn, item.Owner, item.Deleted,
	).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert wanted item: %w", err)
	}
	return nil
}

// GetWantedItem returns a single wanted item by its ID.
func (p *Postgres) GetWantedItem(ctx context.Context, id int64) (*model.WantedItem, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+wantedItemColumns+` FROM wanted_items WHERE id = $1`, id,
	)
	return scanPgWantedItem(row)
}

// ListActiveWantedItems returns all wanted items that are not soft-deleted.
func (p *Postgres) ListActiveWantedItems(ctx context.Context) ([]model.WantedItem, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+wantedItemColumns+` FROM wanted_items WHERE NOT deleted ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query wanted items: %w", err)
	}
	defer rows.Close()

	var items []model.WantedItem
	for rows.Next() {
		item, err := scanPgWantedItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// DeleteWantedItem soft-deletes a wanted item.
func (p *Postgres) DeleteWantedItem(ctx context.Context, id int64) error {
	return p.softDelete(ctx, `UPDATE wanted_items SET deleted = TRUE WHERE id = $1`, id)
}

// CreateRoute inserts a new notification route.
func (p *Postgres) CreateRoute(ctx context.Context, route *model.NotificationRoute) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO notification_routes (name, description, endpoint, type,
		   include_item_description, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, modified_at`,
		route.Name, route.Description, route.Endpoint, string(route.Type),
		route.IncludeItemDescription, route.Deleted,
	).Scan(&route.ID, &route.CreatedAt, &route.ModifiedAt)
	if err != nil {
		return fmt.Errorf("insert route: %w", err)
	}
	return nil
}

// AttachRoute links a notification route to a wanted item.
func (p *Postgres) AttachRoute(ctx context.Context, wantedItemID, routeID int64) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO wanted_item_routes (wanted_item_id, route_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		wantedItemID, routeID,
	)
	if err != nil {
		return fmt.Errorf("attach route: %w", err)
	}
	return nil
}

// ListRoutes returns the active routes attached to a wanted item.
func (p *Postgres) ListRoutes(ctx context.Context, wantedItemID int64) ([]model.NotificationRoute, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.name, r.description, r.endpoint, r.type, r.include_item_description,
		        r.deleted, r.created_at, r.modified_at
		 FROM notification_routes r
		 JOIN wanted_item_routes wr ON wr.route_id = r.id
		 WHERE wr.wanted_item_id = $1 AND NOT r.deleted
		 ORDER BY r.id`, wantedItemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []model.NotificationRoute
	for rows.Next() {
		var r model.NotificationRoute
		var typ string
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Endpoint, &typ,
			&r.IncludeItemDescription, &r.Deleted, &r.CreatedAt, &r.ModifiedAt); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.Type = model.ChannelType(typ)
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// DeleteRoute soft-deletes a notification route.
func (p *Postgres) DeleteRoute(ctx context.Context, id int64) error {
	return p.softDelete(ctx,
		`UPDATE notification_routes SET deleted = TRUE, modified_at = now() WHERE id = $1`, id)
}

// ListingExists reports whether a listing with itemID has been stored.
func (p *Postgres) ListingExists(ctx context.Context, itemID int64) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM listings WHERE item_id = $1)`, itemID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check listing: %w", err)
	}
	return exists, nil
}

// InsertListing stores l unless the item ID already exists.
func (p *Postgres) InsertListing(ctx context.Context, l *model.Listing) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO listings (item_id, wanted_item_id, title, description, start_time, end_time,
		   listing_type, kind, price, currency, image_url, url, seller_feedback,
		   passed_filter, inserted_at, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         COALESCE($15, now()), $16)
		 ON CONFLICT (item_id) DO NOTHING`,
		l.ItemID, l.WantedItemID, l.Title, l.Description, l.StartTime, l.EndTime,
		l.ListingType, string(l.Kind), l.Price.Amount, currency(l.Price),
		l.ImageURL, l.URL, l.SellerFeedback, l.PassedFilter, nullTime(l), l.Deleted,
	)
	if err != nil {
		return false, fmt.Errorf("insert listing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetListing returns a stored listing by its item ID.
func (p *Postgres) GetListing(ctx context.Context, itemID int64) (*model.Listing, error) {
	var l model.Listing
	var kind string
	err := p.pool.QueryRow(ctx,
		`SELECT item_id, wanted_item_id, title, description, start_time, end_time,
		        listing_type, kind, price, currency, image_url, url, seller_feedback,
		        passed_filter, inserted_at, deleted
		 FROM listings WHERE item_id = $1`, itemID,
	).Scan(&l.ItemID, &l.WantedItemID, &l.Title, &l.Description, &l.StartTime, &l.EndTime,
		&l.ListingType, &kind, &l.Price.Amount, &l.Price.Currency, &l.ImageURL, &l.URL,
		&l.SellerFeedback, &l.PassedFilter, &l.InsertedAt, &l.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("listing %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	l.Kind = model.ListingKind(kind)
	return &l, nil
}

// DeleteListing soft-deletes a stored listing.
func (p *Postgres) DeleteListing(ctx context.Context, itemID int64) error {
	return p.softDelete(ctx, `UPDATE listings SET deleted = TRUE WHERE item_id = $1`, itemID)
}

func (p *Postgres) softDelete(ctx context.Context, query string, args ...any) error {
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(l *model.Listing) any {
	if l.InsertedAt.IsZero() {
		return nil
	}
	return l.InsertedAt
}

func scanPgWantedItem(row pgx.Row) (*model.WantedItem, error) {
	var w model.WantedItem
	var condition int
	err := row.Scan(&w.ID, &w.Name, &w.Keywords, &w.AntiKeywords,
		&w.MinPrice.Amount, &w.MinPrice.Currency, &w.MaxPrice.Amount, &w.MaxPrice.Currency,
		&w.MinFeedback, &w.MaxFeedback, &w.AuctionAlertTime, &w.BuyItNowTime,
		&condition, &w.LocatedIn, &w.Owner, &w.Deleted, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("wanted item: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan wanted item: %w", err)
	}
	w.Condition = model.Condition(condition)
	return &w, nil
}
