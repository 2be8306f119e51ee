package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"listing_watch/internal/model"
	"listing_watch/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases
	// shared between queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db, migrations.DialectSQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const wantedItemColumns = `id, name, keywords, anti_keywords, min_price, min_price_currency,
	max_price, max_price_currency, min_feedback, max_feedback, auction_alert_time,
	buy_it_now_time, condition, located_in, owner, deleted, created_at`

// CreateWantedItem inserts a new wanted item and populates its ID and CreatedAt.
func (s *SQLite) CreateWantedItem(ctx context.Context, item *model.WantedItem) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO wanted_items (name, keywords, anti_keywords, min_price, min_price_currency,
		   max_price, max_price_currency, min_feedback, max_feedback, auction_alert_time,
		   buy_it_now_time, condition, located_in, owner, deleted, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Name, item.Keywords, item.AntiKeywords,
		item.MinPrice.Amount.String(), currency(item.MinPrice),
		item.MaxPrice.Amount.String(), currency(item.MaxPrice),
		item.MinFeedback, item.MaxFeedback, item.AuctionAlertTime, item.BuyItNowTime,
		int(item.Condition), item.LocatedIn, item.Owner, boolToInt(item.Deleted), now,
	)
	if err != nil {
		return fmt.Errorf("insert wanted item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	item.ID = id
	item.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetWantedItem returns a single wanted item by its ID.
func (s *SQLite) GetWantedItem(ctx context.Context, id int64) (*model.WantedItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+wantedItemColumns+` FROM wanted_items WHERE id = ?`, id,
	)
	return scanWantedItem(row)
}

// ListActiveWantedItems returns all wanted items that are not soft-deleted.
func (s *SQLite) ListActiveWantedItems(ctx context.Context) ([]model.WantedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+wantedItemColumns+` FROM wanted_items WHERE deleted = 0 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query wanted items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.WantedItem
	for rows.Next() {
		item, err := scanWantedItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// DeleteWantedItem soft-deletes a wanted item.
func (s *SQLite) DeleteWantedItem(ctx context.Context, id int64) error {
	return s.softDelete(ctx, `UPDATE wanted_items SET deleted = 1 WHERE id = ?`, id)
}

// CreateRoute inserts a new notification route.
func (s *SQLite) CreateRoute(ctx context.Context, route *model.NotificationRoute) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_routes (name, description, endpoint, type,
		   include_item_description, deleted, created_at, modified_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		route.Name, route.Description, route.Endpoint, string(route.Type),
		boolToInt(route.IncludeItemDescription), boolToInt(route.Deleted), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert route: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	route.ID = id
	route.CreatedAt, _ = time.Parse(timeLayout, now)
	route.ModifiedAt = route.CreatedAt
	return nil
}

// AttachRoute links a notification route to a wanted item.
func (s *SQLite) AttachRoute(ctx context.Context, wantedItemID, routeID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO wanted_item_routes (wanted_item_id, route_id) VALUES (?, ?)`,
		wantedItemID, routeID,
	)
	if err != nil {
		return fmt.Errorf("attach route: %w", err)
	}
	return nil
}

// ListRoutes returns the active routes attached to a wanted item.
func (s *SQLite) ListRoutes(ctx context.Context, wantedItemID int64) ([]model.NotificationRoute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.name, r.description, r.endpoint, r.type, r.include_item_description,
		        r.deleted, r.created_at, r.modified_at
		 FROM notification_routes r
		 JOIN wanted_item_routes wr ON wr.route_id = r.id
		 WHERE wr.wanted_item_id = ? AND r.deleted = 0
		 ORDER BY r.id`, wantedItemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var routes []model.NotificationRoute
	for rows.Next() {
		var r model.NotificationRoute
		var typ, created, modified string
		var include, deleted int
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Endpoint, &typ,
			&include, &deleted, &created, &modified); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.Type = model.ChannelType(typ)
		r.IncludeItemDescription = include == 1
		r.Deleted = deleted == 1
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		r.ModifiedAt, _ = time.Parse(timeLayout, modified)
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// DeleteRoute soft-deletes a notification route.
func (s *SQLite) DeleteRoute(ctx context.Context, id int64) error {
	return s.softDelete(ctx,
		`UPDATE notification_routes SET deleted = 1, modified_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id)
}

// ListingExists reports whether a listing with itemID has been stored,
// soft-deleted or not.
func (s *SQLite) ListingExists(ctx context.Context, itemID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE item_id = ?`, itemID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check listing: %w", err)
	}
	return count > 0, nil
}

// InsertListing stores l unless the item ID already exists. The check and
// the write are a single statement.
func (s *SQLite) InsertListing(ctx context.Context, l *model.Listing) (bool, error) {
	inserted := l.InsertedAt
	if inserted.IsZero() {
		inserted = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO listings (item_id, wanted_item_id, title, description, start_time, end_time,
		   listing_type, kind, price, currency, image_url, url, seller_feedback,
		   passed_filter, inserted_at, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(item_id) DO NOTHING`,
		l.ItemID, l.WantedItemID, l.Title, l.Description,
		l.StartTime.UTC().Format(timeLayout), l.EndTime.UTC().Format(timeLayout),
		l.ListingType, string(l.Kind), l.Price.Amount.String(), currency(l.Price),
		l.ImageURL, l.URL, l.SellerFeedback, boolToInt(l.PassedFilter),
		inserted.UTC().Format(timeLayout), boolToInt(l.Deleted),
	)
	if err != nil {
		return false, fmt.Errorf("insert listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// GetListing returns a stored listing by its item ID.
func (s *SQLite) GetListing(ctx context.Context, itemID int64) (*model.Listing, error) {
	var l model.Listing
	var start, end, kind, price, inserted string
	var passed, deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT item_id, wanted_item_id, title, description, start_time, end_time,
		        listing_type, kind, price, currency, image_url, url, seller_feedback,
		        passed_filter, inserted_at, deleted
		 FROM listings WHERE item_id = ?`, itemID,
	).Scan(&l.ItemID, &l.WantedItemID, &l.Title, &l.Description, &start, &end,
		&l.ListingType, &kind, &price, &l.Price.Currency, &l.ImageURL, &l.URL,
		&l.SellerFeedback, &passed, &inserted, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("listing %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	l.Kind = model.ListingKind(kind)
	l.Price.Amount, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	l.StartTime, _ = time.Parse(timeLayout, start)
	l.EndTime, _ = time.Parse(timeLayout, end)
	l.InsertedAt, _ = time.Parse(timeLayout, inserted)
	l.PassedFilter = passed == 1
	l.Deleted = deleted == 1
	return &l, nil
}

// DeleteListing soft-deletes a stored listing. The item ID stays reserved.
func (s *SQLite) DeleteListing(ctx context.Context, itemID int64) error {
	return s.softDelete(ctx, `UPDATE listings SET deleted = 1 WHERE item_id = ?`, itemID)
}

func (s *SQLite) softDelete(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func currency(m model.Money) string {
	if m.Currency == "" {
		return model.DefaultCurrency
	}
	return m.Currency
}

type scannable interface {
	Scan(dest ...any) error
}

func scanWantedItem(row scannable) (*model.WantedItem, error) {
	var w model.WantedItem
	var minPrice, maxPrice string
	var condition, deleted int
	var created sql.NullString
	err := row.Scan(&w.ID, &w.Name, &w.Keywords, &w.AntiKeywords,
		&minPrice, &w.MinPrice.Currency, &maxPrice, &w.MaxPrice.Currency,
		&w.MinFeedback, &w.MaxFeedback, &w.AuctionAlertTime, &w.BuyItNowTime,
		&condition, &w.LocatedIn, &w.Owner, &deleted, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("wanted item: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan wanted item: %w", err)
	}
	if w.MinPrice.Amount, err = decimal.NewFromString(minPrice); err != nil {
		return nil, fmt.Errorf("parse min price: %w", err)
	}
	if w.MaxPrice.Amount, err = decimal.NewFromString(maxPrice); err != nil {
		return nil, fmt.Errorf("parse max price: %w", err)
	}
	w.Condition = model.Condition(condition)
	w.Deleted = deleted == 1
	if created.Valid {
		w.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &w, nil
}
