// README: Rating intake tests (completed-only, one per booking, admin response).
package rating

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ambulance/internal/modules/booking"
	"ambulance/internal/modules/pricing"
	"ambulance/internal/types"
)

type fixture struct {
	ledger  *booking.Ledger
	service *Service
}

func newFixture(t *testing.T, repo Repository, bookings booking.Repository) fixture {
	t.Helper()
	quoter := pricing.NewService(nil, pricing.Rate{BasePrice: 500000, PerKmRate: 5000, Downpayment: 3000, DownpaymentRounding: 1000})
	ledger := booking.NewLedger(bookings, quoter, booking.Options{
		Policy: booking.Policy{EmergencyGrace: 72 * time.Hour, EmergencyUnpaidComplete: true},
	})
	return fixture{ledger: ledger, service: NewService(repo, ledger, Options{})}
}

// completedTrip runs an emergency booking for user-1 through to completed.
func (f fixture) completedTrip(t *testing.T) *booking.Booking {
	t.Helper()
	ctx := context.Background()
	dist := 3.0
	b, err := f.ledger.Create(ctx, booking.CreateCommand{
		Type:       booking.TypeEmergency,
		UserID:     "user-1",
		Patient:    booking.Patient{Name: "Rina", Age: 30},
		Pickup:     booking.Place{Address: "Jl. Braga 10"},
		Contact:    booking.Contact{Phone: "081200000001"},
		DistanceKm: &dist,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	driver := booking.Actor{Type: "driver"}
	steps := []func() (*booking.Booking, error){
		func() (*booking.Booking, error) { return f.ledger.AttachAssignment(ctx, b.ID, "drv-1", "amb-1") },
		func() (*booking.Booking, error) { return f.ledger.Confirm(ctx, b.ID, booking.SystemActor) },
		func() (*booking.Booking, error) { return f.ledger.Dispatch(ctx, b.ID, driver) },
		func() (*booking.Booking, error) { return f.ledger.MarkInProgress(ctx, b.ID, driver) },
		func() (*booking.Booking, error) { return f.ledger.Complete(ctx, b.ID, driver) },
	}
	for _, step := range steps {
		if b, err = step(); err != nil {
			t.Fatalf("lifecycle step: %v", err)
		}
	}
	return b
}

func TestCreateRating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, NewMemoryStore(), booking.NewMemoryStore())
	b := f.completedTrip(t)

	r, err := f.service.Create(ctx, CreateCommand{BookingID: b.ID, UserID: "user-1", Score: 5, Comment: "  fast and careful "})
	if err != nil {
		t.Fatalf("create rating: %v", err)
	}
	if r.Comment != "fast and careful" || r.DriverID == nil || *r.DriverID != "drv-1" {
		t.Fatalf("unexpected rating %+v", r)
	}

	if _, err := f.service.Create(ctx, CreateCommand{BookingID: b.ID, UserID: "user-1", Score: 4}); !errors.Is(err, ErrAlreadyRated) {
		t.Fatalf("expected ErrAlreadyRated, got %v", err)
	}

	list, err := f.service.ListByDriver(ctx, "drv-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one rating for driver, got %d (%v)", len(list), err)
	}
}

func TestCreateRatingRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, NewMemoryStore(), booking.NewMemoryStore())
	done := f.completedTrip(t)

	dist := 1.0
	open, err := f.ledger.Create(ctx, booking.CreateCommand{
		Type:       booking.TypeEmergency,
		UserID:     "user-1",
		Patient:    booking.Patient{Name: "Rina"},
		Pickup:     booking.Place{Address: "Jl. Braga 10"},
		Contact:    booking.Contact{Phone: "081200000001"},
		DistanceKm: &dist,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name string
		cmd  CreateCommand
		want error
	}{
		{"score too low", CreateCommand{BookingID: done.ID, UserID: "user-1", Score: 0}, ErrValidation},
		{"score too high", CreateCommand{BookingID: done.ID, UserID: "user-1", Score: 6}, ErrValidation},
		{"other user", CreateCommand{BookingID: done.ID, UserID: "user-2", Score: 3}, ErrNotBookingUser},
		{"not completed", CreateCommand{BookingID: open.ID, UserID: "user-1", Score: 3}, ErrNotRatable},
		{"missing booking", CreateCommand{BookingID: "nope", UserID: "user-1", Score: 3}, booking.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.service.Create(ctx, tt.cmd); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestConcurrentRatingsOnePerBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, NewMemoryStore(), booking.NewMemoryStore())
	b := f.completedTrip(t)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()
			if _, err := f.service.Create(ctx, CreateCommand{BookingID: b.ID, UserID: "user-1", Score: score}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i%5 + 1)
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("expected exactly one rating, got %d", ok)
	}
}

func TestRespond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, NewMemoryStore(), booking.NewMemoryStore())
	b := f.completedTrip(t)
	r, err := f.service.Create(ctx, CreateCommand{BookingID: b.ID, UserID: "user-1", Score: 2, Comment: "late"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.service.Respond(ctx, r.ID, "   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, err := f.service.Respond(ctx, r.ID, "Sorry, traffic on Jl. Sudirman.")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got.AdminResponse == nil || got.RespondedAt == nil {
		t.Fatalf("response not recorded")
	}
	stored, _ := f.service.Get(ctx, r.ID)
	if stored.Score != 2 || stored.Comment != "late" || *stored.AdminResponse != "Sorry, traffic on Jl. Sudirman." {
		t.Fatalf("stored rating changed unexpectedly: %+v", stored)
	}
	if _, err := f.service.Respond(ctx, types.ID("missing"), "hi"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
