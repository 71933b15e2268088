// README: Assignment resolver tests (candidate policy, atomic assign, release, dispatch).
package fleet

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"ambulance/internal/lock"
	"ambulance/internal/modules/booking"
	"ambulance/internal/modules/pricing"
	"ambulance/internal/types"
)

type fixture struct {
	ledger   *booking.Ledger
	resolver *Resolver
	repo     *MemoryStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	locker := lock.NewKeyedMutex()
	quoter := pricing.NewService(nil, pricing.Rate{BasePrice: 500000, PerKmRate: 5000, Downpayment: 3000, DownpaymentRounding: 1000})
	ledger := booking.NewLedger(booking.NewMemoryStore(), quoter, booking.Options{
		Locker: locker,
		Policy: booking.Policy{DPWindow: 24 * time.Hour, EmergencyGrace: 72 * time.Hour, EmergencyUnpaidComplete: true, AutoConfirm: true},
	})
	repo := NewMemoryStore()
	resolver := NewResolver(repo, ledger, Options{Locker: locker})
	ledger.SetReleaser(resolver)
	return fixture{ledger: ledger, resolver: resolver, repo: repo}
}

func (f fixture) emergency(t *testing.T, prio booking.Priority) *booking.Booking {
	t.Helper()
	dist := 5.1
	b, err := f.ledger.Create(context.Background(), booking.CreateCommand{
		Type:       booking.TypeEmergency,
		Priority:   prio,
		UserID:     "user-1",
		Patient:    booking.Patient{Name: "Budi", Age: 45},
		Pickup:     booking.Place{Address: "Jl. Asia Afrika 8"},
		Contact:    booking.Contact{Phone: "081298765432"},
		DistanceKm: &dist,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func (f fixture) addPair(t *testing.T, n int, hired time.Time) (types.ID, types.ID) {
	t.Helper()
	ctx := context.Background()
	a, err := f.resolver.UpsertAmbulance(ctx, AmbulanceInput{ID: types.ID(fmt.Sprintf("amb-%d", n)), PlateNumber: fmt.Sprintf("d %04d ab", n), Type: "ALS"})
	if err != nil {
		t.Fatalf("upsert ambulance: %v", err)
	}
	ambID := a.ID
	d, err := f.resolver.UpsertDriver(ctx, DriverInput{ID: types.ID(fmt.Sprintf("drv-%d", n)), Name: fmt.Sprintf("Driver %d", n), HireDate: hired, AmbulanceID: &ambID})
	if err != nil {
		t.Fatalf("upsert driver: %v", err)
	}
	return d.ID, a.ID
}

func TestFindCandidateOldestHireFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.emergency(t, booking.PriorityUrgent)

	c, err := f.resolver.FindCandidate(ctx, b.ID)
	if err != nil || c != nil {
		t.Fatalf("empty fleet must yield no candidate, got %v (%v)", c, err)
	}

	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	f.addPair(t, 1, base.AddDate(2, 0, 0))
	oldDrv, oldAmb := f.addPair(t, 2, base)
	f.addPair(t, 3, base.AddDate(1, 0, 0))

	c, err = f.resolver.FindCandidate(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if c == nil || c.DriverID != oldDrv || c.AmbulanceID != oldAmb {
		t.Fatalf("expected oldest pair %s/%s, got %+v", oldDrv, oldAmb, c)
	}

	// An ambulance in maintenance takes its driver out of the running.
	if _, err := f.resolver.SetAmbulanceStatus(ctx, oldAmb, AmbulanceMaintenance); err != nil {
		t.Fatalf("set status: %v", err)
	}
	c, _ = f.resolver.FindCandidate(ctx, b.ID)
	if c == nil || c.DriverID != "drv-3" {
		t.Fatalf("expected next oldest driver, got %+v", c)
	}

	if _, err := f.resolver.FindCandidate(ctx, "missing"); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected booking not found, got %v", err)
	}
}

func TestAssignAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	drv, amb := f.addPair(t, 1, time.Now().AddDate(-3, 0, 0))
	b := f.emergency(t, booking.PriorityCritical)

	got, err := f.resolver.Assign(ctx, b.ID, drv, amb)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.DriverID == nil || *got.DriverID != drv || got.AmbulanceID == nil || *got.AmbulanceID != amb {
		t.Fatalf("booking not bound to pair")
	}
	d, _ := f.repo.GetDriver(ctx, drv)
	a, _ := f.repo.GetAmbulance(ctx, amb)
	if d.Status != DriverBusy || a.Status != AmbulanceOnDuty {
		t.Fatalf("expected busy/on_duty, got %s/%s", d.Status, a.Status)
	}
	if _, err := f.resolver.SetDriverStatus(ctx, drv, DriverOffline); !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("manual change of a busy driver must be refused, got %v", err)
	}

	if _, err := f.ledger.Cancel(ctx, booking.CancelCommand{BookingID: b.ID, Actor: booking.Actor{Type: "admin"}}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	d, _ = f.repo.GetDriver(ctx, drv)
	a, _ = f.repo.GetAmbulance(ctx, amb)
	if d.Status != DriverAvailable || a.Status != AmbulanceAvailable || d.CurrentBookingID != nil || a.CurrentBookingID != nil {
		t.Fatalf("cancel must release the pair, got %s/%s", d.Status, a.Status)
	}

	// Releasing again, or a booking that never had an assignment, is a no-op.
	if err := f.resolver.Release(ctx, b.ID); err != nil {
		t.Fatalf("second release: %v", err)
	}
	other := f.emergency(t, booking.PriorityUrgent)
	if err := f.resolver.Release(ctx, other.ID); err != nil {
		t.Fatalf("release unassigned: %v", err)
	}
}

func TestReleaseLeavesNewerHoldAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	drv, amb := f.addPair(t, 1, time.Now().AddDate(-1, 0, 0))
	first := f.emergency(t, booking.PriorityUrgent)
	second := f.emergency(t, booking.PriorityUrgent)

	if _, err := f.resolver.Assign(ctx, first.ID, drv, amb); err != nil {
		t.Fatalf("assign first: %v", err)
	}
	if _, err := f.ledger.Cancel(ctx, booking.CancelCommand{BookingID: first.ID}); err != nil {
		t.Fatalf("cancel first: %v", err)
	}
	if _, err := f.resolver.Assign(ctx, second.ID, drv, amb); err != nil {
		t.Fatalf("assign second: %v", err)
	}
	// A stale release for the first booking must not free the pair.
	if err := f.resolver.Release(ctx, first.ID); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	d, _ := f.repo.GetDriver(ctx, drv)
	if d.Status != DriverBusy || d.CurrentBookingID == nil || *d.CurrentBookingID != second.ID {
		t.Fatalf("driver should still serve the second booking")
	}
}

func TestConcurrentAssignSameDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	drv, amb := f.addPair(t, 1, time.Now().AddDate(-1, 0, 0))
	b1 := f.emergency(t, booking.PriorityUrgent)
	b2 := f.emergency(t, booking.PriorityUrgent)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, id := range []types.ID{b1.ID, b2.ID} {
		wg.Add(1)
		go func(bookingID types.ID) {
			defer wg.Done()
			_, err := f.resolver.Assign(ctx, bookingID, drv, amb)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	success, unavailable := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrResourceUnavailable):
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 || unavailable != 1 {
		t.Fatalf("expected one winner and one ResourceUnavailable, got %d/%d", success, unavailable)
	}

	g1, _ := f.ledger.Get(ctx, b1.ID)
	g2, _ := f.ledger.Get(ctx, b2.ID)
	if g1.Assigned() == g2.Assigned() {
		t.Fatalf("exactly one booking should hold the pair")
	}
}

func TestDispatchOncePrioritisesCritical(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addPair(t, 1, time.Now().AddDate(-1, 0, 0))

	urgent := f.emergency(t, booking.PriorityUrgent)
	critical := f.emergency(t, booking.PriorityCritical)

	n, err := f.resolver.DispatchOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one assignment, n=%d err=%v", n, err)
	}
	gc, _ := f.ledger.Get(ctx, critical.ID)
	gu, _ := f.ledger.Get(ctx, urgent.ID)
	if !gc.Assigned() || gu.Assigned() {
		t.Fatalf("critical booking should be served first")
	}

	// Completing the critical trip frees the pair for the urgent one.
	driver := booking.Actor{Type: "driver"}
	for _, step := range []func() (*booking.Booking, error){
		func() (*booking.Booking, error) { return f.ledger.Confirm(ctx, critical.ID, booking.SystemActor) },
		func() (*booking.Booking, error) { return f.ledger.Dispatch(ctx, critical.ID, driver) },
		func() (*booking.Booking, error) { return f.ledger.MarkInProgress(ctx, critical.ID, driver) },
		func() (*booking.Booking, error) { return f.ledger.Complete(ctx, critical.ID, driver) },
	} {
		if _, err := step(); err != nil {
			t.Fatalf("lifecycle step: %v", err)
		}
	}
	n, _ = f.resolver.DispatchOnce(ctx)
	gu, _ = f.ledger.Get(ctx, urgent.ID)
	if n != 1 || !gu.Assigned() {
		t.Fatalf("urgent booking should be assigned after release")
	}
}

func TestManualStatusValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	drv, _ := f.addPair(t, 1, time.Now())
	if _, err := f.resolver.SetDriverStatus(ctx, drv, DriverBusy); !errors.Is(err, ErrValidation) {
		t.Fatalf("busy is not a manual status, got %v", err)
	}
	if _, err := f.resolver.SetDriverStatus(ctx, "nobody", DriverOffline); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.resolver.UpsertDriver(ctx, DriverInput{Name: "No Date"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected hire_date validation, got %v", err)
	}
	ghost := types.ID("ghost")
	if _, err := f.resolver.UpsertDriver(ctx, DriverInput{Name: "X", HireDate: time.Now(), AmbulanceID: &ghost}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown ambulance validation, got %v", err)
	}
}

// TestAssignmentPairProperty runs a random mix of operations and checks that no
// booking ever carries a partial assignment and no resource serves two bookings.
func TestAssignmentPairProperty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 3; i++ {
		f.addPair(t, i, time.Date(2019+i, 1, 1, 0, 0, 0, 0, time.UTC))
	}
	var ids []types.ID
	for i := 0; i < 8; i++ {
		ids = append(ids, f.emergency(t, booking.PriorityUrgent).ID)
	}

	for step := 0; step < 200; step++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(4) {
		case 0:
			_, _ = f.resolver.AutoAssign(ctx, id)
		case 1:
			n := rng.Intn(3)
			_, _ = f.resolver.Assign(ctx, id, types.ID(fmt.Sprintf("drv-%d", n)), types.ID(fmt.Sprintf("amb-%d", n)))
		case 2:
			_, _ = f.ledger.Cancel(ctx, booking.CancelCommand{BookingID: id})
		case 3:
			_ = f.resolver.Release(ctx, id)
		}

		holders := map[types.ID]types.ID{}
		for _, bid := range ids {
			b, _ := f.ledger.Get(ctx, bid)
			if (b.DriverID == nil) != (b.AmbulanceID == nil) {
				t.Fatalf("step %d: partial assignment on %s", step, bid)
			}
		}
		drivers, _ := f.repo.ListDrivers(ctx, "")
		for _, d := range drivers {
			if d.CurrentBookingID == nil {
				if d.Status == DriverBusy {
					t.Fatalf("step %d: busy driver %s without booking", step, d.ID)
				}
				continue
			}
			if prev, ok := holders[*d.CurrentBookingID]; ok {
				t.Fatalf("step %d: booking %s held by %s and %s", step, *d.CurrentBookingID, prev, d.ID)
			}
			holders[*d.CurrentBookingID] = d.ID
			b, _ := f.ledger.Get(ctx, *d.CurrentBookingID)
			if b.Status.IsTerminal() {
				t.Fatalf("step %d: driver %s still holds terminal booking %s", step, d.ID, b.ID)
			}
		}
	}
}

// flakyStore fails the next N driver or ambulance saves.
type flakyStore struct {
	*MemoryStore
	mu            sync.Mutex
	failDrivers   int
	failAmbulance int
}

var errStoreDown = errors.New("store down")

func (s *flakyStore) SaveDriver(ctx context.Context, d *Driver) error {
	s.mu.Lock()
	fail := s.failDrivers > 0
	if fail {
		s.failDrivers--
	}
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.MemoryStore.SaveDriver(ctx, d)
}

func (s *flakyStore) SaveAmbulance(ctx context.Context, a *Ambulance) error {
	s.mu.Lock()
	fail := s.failAmbulance > 0
	if fail {
		s.failAmbulance--
	}
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.MemoryStore.SaveAmbulance(ctx, a)
}

func TestAssignFailureLeavesNothingHalfHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	drv, amb := f.addPair(t, 1, time.Now().AddDate(-3, 0, 0))

	store := &flakyStore{MemoryStore: f.repo}
	resolver := NewResolver(store, f.ledger, Options{Locker: lock.NewKeyedMutex()})

	assertFree := func(t *testing.T, bookingID types.ID) {
		t.Helper()
		d, _ := f.repo.GetDriver(ctx, drv)
		a, _ := f.repo.GetAmbulance(ctx, amb)
		if !d.free() || !a.free() {
			t.Fatalf("pair must stay free: driver %s/%v ambulance %s/%v", d.Status, d.CurrentBookingID, a.Status, a.CurrentBookingID)
		}
		b, _ := f.ledger.Get(ctx, bookingID)
		if b.DriverID != nil || b.AmbulanceID != nil {
			t.Fatalf("booking must stay unassigned, got %v/%v", b.DriverID, b.AmbulanceID)
		}
	}

	tests := []struct {
		name  string
		setup func()
	}{
		{"driver save fails", func() { store.failDrivers = 1 }},
		{"ambulance save fails", func() { store.failAmbulance = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := f.emergency(t, booking.PriorityUrgent)
			tt.setup()
			if _, err := resolver.Assign(ctx, b.ID, drv, amb); !errors.Is(err, errStoreDown) {
				t.Fatalf("expected store error, got %v", err)
			}
			assertFree(t, b.ID)
		})
	}

	// A booking the ledger refuses gives its held pair back.
	cancelled := f.emergency(t, booking.PriorityUrgent)
	if _, err := f.ledger.Cancel(ctx, booking.CancelCommand{BookingID: cancelled.ID, Actor: booking.Actor{Type: "admin"}}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := resolver.Assign(ctx, cancelled.ID, drv, amb); !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	assertFree(t, cancelled.ID)

	// After the failures the pair goes to exactly one booking.
	first := f.emergency(t, booking.PriorityUrgent)
	second := f.emergency(t, booking.PriorityUrgent)
	if _, err := resolver.Assign(ctx, first.ID, drv, amb); err != nil {
		t.Fatalf("assign after failures: %v", err)
	}
	if _, err := resolver.Assign(ctx, second.ID, drv, amb); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("second booking must not get the same driver, got %v", err)
	}
}
