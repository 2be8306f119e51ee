package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"listing_watch/internal/dedup"
	"listing_watch/internal/filter"
	"listing_watch/internal/model"
	"listing_watch/internal/notify"
)

// Store is the part of the listing store the scheduler reads directly.
type Store interface {
	ListActiveWantedItems(ctx context.Context) ([]model.WantedItem, error)
	ListRoutes(ctx context.Context, wantedItemID int64) ([]model.NotificationRoute, error)
}

// Searcher queries the marketplace for candidate listings.
type Searcher interface {
	Search(ctx context.Context, item model.WantedItem, kind model.ListingKind) ([]model.Listing, error)
}

// Deps holds the pipeline stages a Scheduler drives.
type Deps struct {
	Store      Store
	Searcher   Searcher
	Engine     *filter.Engine
	Dedup      *dedup.Deduplicator
	Formatter  *notify.Formatter
	Dispatcher *notify.Dispatcher
}

// Outcome is what happened to one candidate listing.
type Outcome struct {
	ItemID     int64
	Decision   filter.Decision
	Stored     bool
	Deliveries []notify.Delivery
	// Err is a store failure that skipped the candidate.
	Err error
}

// ScanResult summarises one scan of one wanted item.
type ScanResult struct {
	WantedItemID   int64
	Candidates     int
	Duplicates     int
	SearchFailures int
	Outcomes       []Outcome
	// Err is set when the scan itself failed, e.g. after a panic.
	Err error
}

// Alerted returns the number of listings that were stored and dispatched.
func (r ScanResult) Alerted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Stored {
			n++
		}
	}
	return n
}

// kinds are searched in this order on every scan.
var kinds = []model.ListingKind{model.KindFixedPrice, model.KindAuction}

// Scheduler periodically scans the marketplace for every active wanted item
// and dispatches alerts for new matching listings.
type Scheduler struct {
	Deps
	log     *slog.Logger
	tick    time.Duration
	workers int
}

// New creates a Scheduler that scans once a minute, one item at a time.
func New(deps Deps, log *slog.Logger) *Scheduler {
	return &Scheduler{
		Deps:    deps,
		log:     log,
		tick:    1 * time.Minute,
		workers: 1,
	}
}

// SetTickInterval overrides the default 1-minute scan interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// SetWorkers sets how many wanted items are scanned concurrently.
func (s *Scheduler) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	s.workers = n
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.ScanAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ScanAll(ctx)
		}
	}
}

// ScanAll runs one scan cycle over every active wanted item. Items are
// isolated from each other; cancellation is honoured between items. Items
// skipped by cancellation report ctx.Err() in their result.
func (s *Scheduler) ScanAll(ctx context.Context) []ScanResult {
	scanID := uuid.NewString()
	log := s.log.With("scan_id", scanID)

	items, err := s.Store.ListActiveWantedItems(ctx)
	if err != nil {
		log.Error("list wanted items", "error", err)
		return nil
	}
	log.Debug("scan cycle started", "wanted_items", len(items))

	results := make([]ScanResult, len(items))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, item := range items {
		results[i].WantedItemID = item.ID
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i] = s.scanIsolated(ctx, log, item)
			return nil
		})
	}
	_ = g.Wait()

	alerted := 0
	for _, r := range results {
		alerted += r.Alerted()
	}
	log.Info("scan cycle finished", "wanted_items", len(items), "alerted", alerted, "cancelled", ctx.Err() != nil)
	return results
}

func (s *Scheduler) scanIsolated(ctx context.Context, log *slog.Logger, item model.WantedItem) (res ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ScanResult{WantedItemID: item.ID, Err: fmt.Errorf("panic: %v", r)}
			log.Error("scan wanted item panicked", "wanted_item_id", item.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return s.ScanItem(ctx, item)
}

// ScanItem searches both listing kinds for item, filters the new candidates
// in the order received, and stores then alerts on every accepted listing.
func (s *Scheduler) ScanItem(ctx context.Context, item model.WantedItem) ScanResult {
	log := s.log.With("wanted_item_id", item.ID)
	res := ScanResult{WantedItemID: item.ID}

	var candidates []model.Listing
	for _, kind := range kinds {
		found, err := s.Searcher.Search(ctx, item, kind)
		if err != nil {
			// Treated as no results so one failing kind does not stop the other.
			log.Warn("search listings", "kind", kind, "error", err)
			res.SearchFailures++
			continue
		}
		candidates = append(candidates, found...)
	}
	res.Candidates = len(candidates)

	routes := s.routeLoader(item.ID)
	seen := make(map[int64]bool, len(candidates))
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		l := &candidates[i]
		if seen[l.ItemID] {
			res.Duplicates++
			continue
		}
		seen[l.ItemID] = true

		isNew, err := s.Dedup.IsNew(ctx, l.ItemID)
		if err != nil {
			log.Error("check listing", "item_id", l.ItemID, "error", err)
			res.Outcomes = append(res.Outcomes, Outcome{ItemID: l.ItemID, Err: err})
			continue
		}
		if !isNew {
			res.Duplicates++
			continue
		}
		res.Outcomes = append(res.Outcomes, s.process(ctx, log, l, item, routes))
	}

	if n := res.Alerted(); n > 0 {
		log.Info("sent alerts", "name", item.Name, "count", n)
	}
	return res
}

func (s *Scheduler) process(ctx context.Context, log *slog.Logger, l *model.Listing, item model.WantedItem, routes func(context.Context) ([]model.NotificationRoute, error)) Outcome {
	out := Outcome{ItemID: l.ItemID}
	out.Decision = s.Engine.Decide(ctx, l, item)
	if !out.Decision.Accepted {
		log.Debug("listing rejected", "item_id", l.ItemID, "decision", out.Decision.String())
		return out
	}

	rs, err := routes(ctx)
	if err != nil {
		log.Error("list routes", "error", err)
		out.Err = err
		return out
	}

	claimed, err := s.Dedup.Claim(ctx, l)
	if err != nil {
		log.Error("store listing", "item_id", l.ItemID, "error", err)
		out.Err = err
		return out
	}
	if !claimed {
		log.Debug("listing stored by another scan", "item_id", l.ItemID)
		return out
	}
	out.Stored = true

	listing := *l
	out.Deliveries = s.Dispatcher.Dispatch(context.WithoutCancel(ctx), rs, func(route model.NotificationRoute) notify.Message {
		return s.Formatter.Render(listing, route)
	})
	log.Info("listing alerted", "item_id", l.ItemID, "title", l.Title, "routes", len(rs))
	return out
}

// routeLoader returns a function listing the item's routes at most once.
func (s *Scheduler) routeLoader(wantedItemID int64) func(context.Context) ([]model.NotificationRoute, error) {
	var (
		routes []model.NotificationRoute
		loaded bool
	)
	return func(ctx context.Context) ([]model.NotificationRoute, error) {
		if loaded {
			return routes, nil
		}
		rs, err := s.Store.ListRoutes(ctx, wantedItemID)
		if err != nil {
			return nil, fmt.Errorf("list routes for wanted item %d: %w", wantedItemID, err)
		}
		routes, loaded = rs, true
		return routes, nil
	}
}
