package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"listing_watch/internal/model"
	"listing_watch/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func listing(id int64) *model.Listing {
	return &model.Listing{
		ItemID:    id,
		Title:     "Canon 50mm Lens",
		Kind:      model.KindFixedPrice,
		StartTime: time.Date(2020, 5, 4, 16, 57, 0, 0, time.UTC),
		EndTime:   time.Date(2020, 5, 11, 16, 57, 0, 0, time.UTC),
	}
}

func TestIsNewAndClaim(t *testing.T) {
	ctx := context.Background()
	d := New(newTestStore(t))
	claimedAt := time.Date(2020, 5, 4, 17, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return claimedAt }

	isNew, err := d.IsNew(ctx, 42)
	if err != nil {
		t.Fatalf("is new: %v", err)
	}
	if !isNew {
		t.Fatal("unseen listing reported as stored")
	}

	// IsNew is side-effect free.
	if isNew, _ := d.IsNew(ctx, 42); !isNew {
		t.Fatal("IsNew must not record the listing")
	}

	l := listing(42)
	ok, err := d.Claim(ctx, l)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatal("first claim must succeed")
	}
	if !l.PassedFilter {
		t.Error("claimed listing must be marked as passed")
	}
	if diff := cmp.Diff(claimedAt, l.InsertedAt); diff != "" {
		t.Errorf("InsertedAt mismatch (-want +got):\n%s", diff)
	}

	if isNew, _ := d.IsNew(ctx, 42); isNew {
		t.Error("claimed listing still reported as new")
	}

	ok, err = d.Claim(ctx, listing(42))
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Error("second claim of the same item must report false")
	}
}

type failingStore struct{ err error }

func (f failingStore) ListingExists(context.Context, int64) (bool, error) { return false, f.err }

func (f failingStore) InsertListing(context.Context, *model.Listing) (bool, error) {
	return false, f.err
}

func TestStoreErrorsPropagate(t *testing.T) {
	storeErr := errors.New("database is locked")
	d := New(failingStore{err: storeErr})

	if _, err := d.IsNew(context.Background(), 1); !errors.Is(err, storeErr) {
		t.Errorf("IsNew error = %v, want wrapped %v", err, storeErr)
	}
	if _, err := d.Claim(context.Background(), listing(1)); !errors.Is(err, storeErr) {
		t.Errorf("Claim error = %v, want wrapped %v", err, storeErr)
	}
}
