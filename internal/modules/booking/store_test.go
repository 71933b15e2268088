// README: DB-backed booking store tests (run with AMB_TEST_DSN).
package booking

import (
	"context"
	"errors"
	"testing"

	"ambulance/internal/testutil"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db := testutil.PGPool(t, "ratings", "payments", "booking_state_events", "bookings", "booking_sequences")
	return NewStore(db)
}

func TestStoreLifecycleRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	f := newFixture(t, store, testPolicy)

	b, err := f.ledger.Create(ctx, scheduledCmd(f.clock.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Code != b.Code || got.TotalAmount != 516000 || got.DownpaymentAmount == nil || *got.DownpaymentAmount != 155000 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(*b.ScheduledAt) {
		t.Fatalf("scheduled_at mismatch")
	}

	if _, err := f.ledger.ApplyPaymentFlags(ctx, b.ID, Flags{DownpaymentPaid: true}); err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if _, err := f.ledger.AttachAssignment(ctx, b.ID, "drv-db", "amb-db"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	got, _ = store.Get(ctx, b.ID)
	if got.Status != StatusConfirmed || got.DriverID == nil || *got.DriverID != "drv-db" {
		t.Fatalf("unexpected stored state %s", got.Status)
	}

	// A stale version never overwrites.
	stale := *got
	ok, err := store.Update(ctx, &stale, got.StatusVersion-1)
	if err != nil || ok {
		t.Fatalf("expected stale update to be rejected, ok=%v err=%v", ok, err)
	}

	hist, err := f.ledger.History(ctx, b.ID)
	if err != nil || len(hist) != 2 {
		t.Fatalf("expected 2 history rows, got %d (%v)", len(hist), err)
	}

	list, err := store.List(ctx, Filter{Statuses: []Status{StatusConfirmed}, Limit: 10})
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 confirmed booking, got %d (%v)", len(list), err)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
