// README: DB-backed fleet store and Redis tracker tests (run with AMB_TEST_DSN / AMB_TEST_REDIS).
package fleet

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"ambulance/internal/modules/booking"
	"ambulance/internal/modules/pricing"
	"ambulance/internal/testutil"
	"ambulance/internal/types"
)

func TestStoreAssignRelease(t *testing.T) {
	ctx := context.Background()
	db := testutil.PGPool(t, "drivers", "ambulances", "ratings", "payments", "booking_state_events", "bookings", "booking_sequences")
	store := NewStore(db)

	quoter := pricing.NewService(nil, pricing.Rate{BasePrice: 500000, PerKmRate: 5000, Downpayment: 3000, DownpaymentRounding: 1000})
	ledger := booking.NewLedger(booking.NewStore(db), quoter, booking.Options{
		Policy: booking.Policy{EmergencyGrace: 72 * time.Hour, EmergencyUnpaidComplete: true},
	})
	resolver := NewResolver(store, ledger, Options{})
	ledger.SetReleaser(resolver)

	amb, err := resolver.UpsertAmbulance(ctx, AmbulanceInput{ID: "amb-db", PlateNumber: "d 1234 xy", Type: "BLS"})
	if err != nil {
		t.Fatalf("upsert ambulance: %v", err)
	}
	if amb.PlateNumber != "D 1234 XY" {
		t.Fatalf("plate not normalised: %s", amb.PlateNumber)
	}
	ambID := amb.ID
	if _, err := resolver.UpsertDriver(ctx, DriverInput{ID: "drv-db", Name: "Sari", HireDate: time.Date(2018, 3, 1, 0, 0, 0, 0, time.UTC), AmbulanceID: &ambID}); err != nil {
		t.Fatalf("upsert driver: %v", err)
	}

	dist := 2.0
	b, err := ledger.Create(ctx, booking.CreateCommand{
		Type:       booking.TypeEmergency,
		UserID:     "user-db",
		Patient:    booking.Patient{Name: "Andi", Age: 60},
		Pickup:     booking.Place{Address: "Jl. Merdeka 1"},
		Contact:    booking.Contact{Phone: "0811000111"},
		DistanceKm: &dist,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}

	got, err := resolver.AutoAssign(ctx, b.ID)
	if err != nil || got == nil {
		t.Fatalf("auto assign: %v", err)
	}
	d, err := store.GetDriver(ctx, "drv-db")
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if d.Status != DriverBusy || d.CurrentBookingID == nil || *d.CurrentBookingID != b.ID {
		t.Fatalf("driver not held: %+v", d)
	}
	busy, err := store.ListDrivers(ctx, DriverAvailable)
	if err != nil || len(busy) != 0 {
		t.Fatalf("expected no available drivers, got %d (%v)", len(busy), err)
	}

	if _, err := ledger.Cancel(ctx, booking.CancelCommand{BookingID: b.ID, Actor: booking.Actor{Type: "admin"}, Reason: "duplicate"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	a, _ := store.GetAmbulance(ctx, "amb-db")
	if a.Status != AmbulanceAvailable || a.CurrentBookingID != nil {
		t.Fatalf("ambulance not released: %+v", a)
	}

	if _, err := store.GetDriver(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRedisTrackerKeepsFirstAttempt(t *testing.T) {
	addr := os.Getenv("AMB_TEST_REDIS")
	if addr == "" {
		t.Skip("AMB_TEST_REDIS not set; skipping redis tracker tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	tr := NewRedisTracker(client)
	id := types.NewID()
	t.Cleanup(func() { _ = tr.Clear(ctx, id) })

	first := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	got, err := tr.FirstAttempt(ctx, id, first)
	if err != nil || !got.Equal(first) {
		t.Fatalf("first attempt: %v (%v)", got, err)
	}
	got, err = tr.FirstAttempt(ctx, id, first.Add(time.Minute))
	if err != nil || !got.Equal(first) {
		t.Fatalf("second attempt must keep the first timestamp, got %v (%v)", got, err)
	}
	if err := tr.Clear(ctx, id); err != nil {
		t.Fatalf("clear: %v", err)
	}
	later := first.Add(time.Hour)
	got, _ = tr.FirstAttempt(ctx, id, later)
	if !got.Equal(later) {
		t.Fatalf("cleared tracker should restart, got %v", got)
	}
}

func TestMemoryTrackerKeepsFirstAttempt(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	first := time.Now()
	_, _ = tr.FirstAttempt(ctx, "b1", first)
	got, _ := tr.FirstAttempt(ctx, "b1", first.Add(time.Second))
	if !got.Equal(first) {
		t.Fatalf("expected first timestamp kept")
	}
}
