package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"listing_watch/internal/dedup"
	"listing_watch/internal/filter"
	"listing_watch/internal/marketplace"
	"listing_watch/internal/model"
	"listing_watch/internal/notify"
	"listing_watch/internal/storage"
)

var now = time.Date(2020, 5, 4, 17, 0, 0, 0, time.UTC)

type fakeSearcher struct {
	mu       sync.Mutex
	results  map[model.ListingKind][]model.Listing
	errs     map[model.ListingKind]error
	panicOn  string
	onSearch func()
	calls    int
}

func (f *fakeSearcher) Search(_ context.Context, item model.WantedItem, kind model.ListingKind) ([]model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onSearch != nil {
		f.onSearch()
	}
	if item.Name == f.panicOn {
		panic("search exploded")
	}
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	out := slices.Clone(f.results[kind])
	for i := range out {
		out[i].WantedItemID = item.ID
	}
	return out, nil
}

func (f *fakeSearcher) searchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubDetails struct{}

func (stubDetails) FetchDetail(_ context.Context, itemID int64) (*marketplace.Detail, error) {
	return &marketplace.Detail{ItemID: itemID, DescriptionHTML: "<p>Mint condition</p>"}, nil
}

type sentAlert struct {
	RouteID int64
	Title   string
}

type mockChannel struct {
	mu   sync.Mutex
	sent []sentAlert
	err  error
}

func (m *mockChannel) Type() model.ChannelType { return model.ChannelDiscord }

// Send records every attempt, including failed ones.
func (m *mockChannel) Send(_ context.Context, route model.NotificationRoute, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentAlert{RouteID: route.ID, Title: msg.Title})
	return m.err
}

func (m *mockChannel) getSent() []sentAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// createItem stores a wanted item with one discord route attached.
func createItem(t *testing.T, store *storage.SQLite, name string) (model.WantedItem, model.NotificationRoute) {
	t.Helper()
	ctx := context.Background()
	item := model.NewWantedItem(name, "canon 50mm")
	item.AntiKeywords = "vintage,replica"
	if err := store.CreateWantedItem(ctx, &item); err != nil {
		t.Fatalf("create item: %v", err)
	}
	route := model.NotificationRoute{Name: name + " hook", Endpoint: "https://discord.com/api/webhooks/1/tok", Type: model.ChannelDiscord}
	if err := store.CreateRoute(ctx, &route); err != nil {
		t.Fatalf("create route: %v", err)
	}
	if err := store.AttachRoute(ctx, item.ID, route.ID); err != nil {
		t.Fatalf("attach route: %v", err)
	}
	return item, route
}

func fixedPrice(id int64, title string, feedback int) model.Listing {
	return model.Listing{
		ItemID:         id,
		Title:          title,
		StartTime:      now.Add(-5 * time.Minute),
		EndTime:        now.Add(7 * 24 * time.Hour),
		ListingType:    "FixedPrice",
		Kind:           model.KindFixedPrice,
		Price:          model.NewMoney(decimal.RequireFromString("45.50"), "GBP"),
		URL:            "https://www.ebay.co.uk/itm/1",
		SellerFeedback: feedback,
	}
}

func newTestScheduler(store *storage.SQLite, searcher *fakeSearcher, ch *mockChannel) *Scheduler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return now }
	return New(Deps{
		Store:      store,
		Searcher:   searcher,
		Engine:     filter.New(stubDetails{}, clock, log),
		Dedup:      dedup.New(store),
		Formatter:  notify.NewFormatter(time.UTC, clock),
		Dispatcher: notify.NewDispatcher(log, time.Second, ch),
	}, log)
}

func TestScanAllAlertsOncePerListing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, route := createItem(t, store, "Lens")

	listing := fixedPrice(110001, "Modern Camera Lens", 150)
	searcher := &fakeSearcher{results: map[model.ListingKind][]model.Listing{
		model.KindFixedPrice: {listing, listing},
	}}
	ch := &mockChannel{}
	sched := newTestScheduler(store, searcher, ch)

	first := sched.ScanAll(ctx)
	second := sched.ScanAll(ctx)

	want := []sentAlert{{RouteID: route.ID, Title: "Modern Camera Lens"}}
	if diff := cmp.Diff(want, ch.getSent()); diff != "" {
		t.Errorf("sent alerts mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(1, first[0].Alerted()); diff != "" {
		t.Errorf("first cycle alerted mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, first[0].Duplicates); diff != "" {
		t.Errorf("first cycle duplicates mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, second[0].Alerted()); diff != "" {
		t.Errorf("second cycle alerted mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, second[0].Duplicates); diff != "" {
		t.Errorf("second cycle duplicates mismatch (-want +got):\n%s", diff)
	}

	got, err := store.GetListing(ctx, 110001)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if !got.PassedFilter {
		t.Error("stored listing must be marked as passed")
	}
	if diff := cmp.Diff("Mint condition", got.Description); diff != "" {
		t.Errorf("stored description mismatch (-want +got):\n%s", diff)
	}
}

func TestScanItemRejectedListingsNotStored(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	item, _ := createItem(t, store, "Lens")

	searcher := &fakeSearcher{results: map[model.ListingKind][]model.Listing{
		model.KindFixedPrice: {
			fixedPrice(1, "Modern Camera Lens", 3),
			fixedPrice(2, "Vintage Camera Lens", 150),
		},
	}}
	ch := &mockChannel{}
	res := newTestScheduler(store, searcher, ch).ScanItem(ctx, item)

	gotReasons := []filter.Reason{}
	for _, o := range res.Outcomes {
		gotReasons = append(gotReasons, o.Decision.Reason)
	}
	wantReasons := []filter.Reason{filter.ReasonFeedback, filter.ReasonTitleKeyword}
	if diff := cmp.Diff(wantReasons, gotReasons); diff != "" {
		t.Errorf("reasons mismatch (-want +got):\n%s", diff)
	}

	for _, id := range []int64{1, 2} {
		if _, err := store.GetListing(ctx, id); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("listing %d: expected ErrNotFound, got %v", id, err)
		}
	}
	if len(ch.getSent()) != 0 {
		t.Errorf("expected no alerts, got %d", len(ch.getSent()))
	}
}

func TestScanItemSearchFailureTreatedAsEmpty(t *testing.T) {
	store := newTestStore(t)
	item, _ := createItem(t, store, "Lens")

	searcher := &fakeSearcher{
		results: map[model.ListingKind][]model.Listing{
			model.KindFixedPrice: {fixedPrice(7, "Modern Camera Lens", 150)},
		},
		errs: map[model.ListingKind]error{
			model.KindAuction: &marketplace.TransportError{Op: "search", Err: errors.New("timeout")},
		},
	}
	ch := &mockChannel{}
	res := newTestScheduler(store, searcher, ch).ScanItem(context.Background(), item)

	if diff := cmp.Diff(1, res.SearchFailures); diff != "" {
		t.Errorf("search failures mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, res.Alerted()); diff != "" {
		t.Errorf("alerted mismatch (-want +got):\n%s", diff)
	}
}

func TestScanAllIsolatesFailingItem(t *testing.T) {
	store := newTestStore(t)
	createItem(t, store, "boom")
	_, route := createItem(t, store, "Lens")

	searcher := &fakeSearcher{
		results: map[model.ListingKind][]model.Listing{
			model.KindFixedPrice: {fixedPrice(9, "Modern Camera Lens", 150)},
		},
		panicOn: "boom",
	}
	ch := &mockChannel{}
	sched := newTestScheduler(store, searcher, ch)
	sched.SetWorkers(2)

	results := sched.ScanAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Error("expected panicking item to report an error")
	}

	want := []sentAlert{{RouteID: route.ID, Title: "Modern Camera Lens"}}
	if diff := cmp.Diff(want, ch.getSent()); diff != "" {
		t.Errorf("sent alerts mismatch (-want +got):\n%s", diff)
	}
}

func TestScanAllCancelled(t *testing.T) {
	store := newTestStore(t)
	createItem(t, store, "Lens")

	searcher := &fakeSearcher{results: map[model.ListingKind][]model.Listing{
		model.KindFixedPrice: {fixedPrice(3, "Modern Camera Lens", 150)},
	}}
	ch := &mockChannel{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	newTestScheduler(store, searcher, ch).ScanAll(ctx)

	if got := searcher.searchCalls(); got != 0 {
		t.Errorf("expected no searches after cancellation, got %d", got)
	}
	if len(ch.getSent()) != 0 {
		t.Errorf("expected no alerts, got %d", len(ch.getSent()))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	createItem(t, store, "Lens")

	searcher := &fakeSearcher{results: map[model.ListingKind][]model.Listing{
		model.KindFixedPrice: {fixedPrice(5, "Modern Camera Lens", 150)},
	}}
	ch := &mockChannel{}
	sched := newTestScheduler(store, searcher, ch)
	sched.SetTickInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for searcher.searchCalls() < 4 {
		select {
		case <-deadline:
			t.Fatal("scheduler did not scan twice")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if diff := cmp.Diff(1, len(ch.getSent())); diff != "" {
		t.Errorf("alert count mismatch (-want +got):\n%s", diff)
	}
}

func TestScanAllFailedDeliveryNotRetried(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, route := createItem(t, store, "Lens")

	searcher := &fakeSearcher{results: map[model.ListingKind][]model.Listing{
		model.KindFixedPrice: {fixedPrice(110002, "Modern Camera Lens", 150)},
	}}
	ch := &mockChannel{err: errors.New("webhook returned 500")}
	sched := newTestScheduler(store, searcher, ch)

	first := sched.ScanAll(ctx)
	sched.ScanAll(ctx)

	want := []sentAlert{{RouteID: route.ID, Title: "Modern Camera Lens"}}
	if diff := cmp.Diff(want, ch.getSent()); diff != "" {
		t.Errorf("send attempts mismatch (-want +got):\n%s", diff)
	}

	outcomes := first[0].Outcomes
	if len(outcomes) != 1 || !outcomes[0].Stored {
		t.Fatalf("expected one stored outcome, got %+v", outcomes)
	}
	if len(outcomes[0].Deliveries) != 1 || outcomes[0].Deliveries[0].OK() {
		t.Errorf("expected one failed delivery, got %+v", outcomes[0].Deliveries)
	}

	if _, err := store.GetListing(ctx, 110002); err != nil {
		t.Errorf("listing must stay stored after a failed delivery: %v", err)
	}
}

func TestScanAllConcurrentItemsShareListing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createItem(t, store, "Lens")
	createItem(t, store, "Canon")

	searcher := &fakeSearcher{results: map[model.ListingKind][]model.Listing{
		model.KindFixedPrice: {fixedPrice(110003, "Modern Camera Lens", 150)},
	}}
	ch := &mockChannel{}
	sched := newTestScheduler(store, searcher, ch)
	sched.SetWorkers(2)

	results := sched.ScanAll(ctx)

	alerted := 0
	for _, r := range results {
		alerted += r.Alerted()
	}
	if diff := cmp.Diff(1, alerted); diff != "" {
		t.Errorf("stored listings mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, len(ch.getSent())); diff != "" {
		t.Errorf("alert count mismatch (-want +got):\n%s", diff)
	}
	if _, err := store.GetListing(ctx, 110003); err != nil {
		t.Errorf("get listing: %v", err)
	}
}

func TestScanAllCancelledMidCycle(t *testing.T) {
	store := newTestStore(t)
	first, _ := createItem(t, store, "Lens")
	second, _ := createItem(t, store, "Canon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	searcher := &fakeSearcher{onSearch: cancel}
	ch := &mockChannel{}

	results := newTestScheduler(store, searcher, ch).ScanAll(ctx)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	gotIDs := []int64{results[0].WantedItemID, results[1].WantedItemID}
	if diff := cmp.Diff([]int64{first.ID, second.ID}, gotIDs); diff != "" {
		t.Errorf("result ids mismatch (-want +got):\n%s", diff)
	}
	if results[0].Err != nil {
		t.Errorf("scanned item reported error: %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, context.Canceled) {
		t.Errorf("skipped item error = %v, want context.Canceled", results[1].Err)
	}
}
