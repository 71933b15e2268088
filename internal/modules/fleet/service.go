// README: Assignment resolver binds available driver and ambulance pairs to bookings.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"ambulance/internal/lock"
	"ambulance/internal/modules/booking"
	"ambulance/internal/observability"
	"ambulance/internal/types"
)

type Repository interface {
	GetDriver(ctx context.Context, id types.ID) (*Driver, error)
	GetAmbulance(ctx context.Context, id types.ID) (*Ambulance, error)
	SaveDriver(ctx context.Context, d *Driver) error
	SaveAmbulance(ctx context.Context, a *Ambulance) error
	// ListDrivers returns drivers oldest hire_date first. Empty status lists all.
	ListDrivers(ctx context.Context, status DriverStatus) ([]Driver, error)
	ListAmbulances(ctx context.Context, status AmbulanceStatus) ([]Ambulance, error)
}

// Bookings is the slice of the booking ledger the resolver needs.
type Bookings interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
	List(ctx context.Context, f booking.Filter) ([]*booking.Booking, error)
	AttachAssignment(ctx context.Context, id, driverID, ambulanceID types.ID) (*booking.Booking, error)
}

type Options struct {
	Locker  lock.Locker
	Tracker Tracker
	Logger  *zap.Logger
	Now     func() time.Time
}

type Resolver struct {
	repo     Repository
	bookings Bookings
	locker   lock.Locker
	tracker  Tracker
	log      *zap.Logger
	now      func() time.Time
}

func NewResolver(repo Repository, bookings Bookings, opts Options) *Resolver {
	r := &Resolver{
		repo:     repo,
		bookings: bookings,
		locker:   opts.Locker,
		tracker:  opts.Tracker,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if r.locker == nil {
		r.locker = lock.NewKeyedMutex()
	}
	if r.tracker == nil {
		r.tracker = NewMemoryTracker()
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// FindCandidate picks the longest-serving available driver whose linked ambulance
// is also available. A nil candidate means nothing is free right now.
func (r *Resolver) FindCandidate(ctx context.Context, bookingID types.ID) (*Candidate, error) {
	if _, err := r.bookings.Get(ctx, bookingID); err != nil {
		return nil, err
	}
	drivers, err := r.repo.ListDrivers(ctx, DriverAvailable)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	for i := range drivers {
		d := &drivers[i]
		if !d.free() || d.AmbulanceID == nil {
			continue
		}
		a, err := r.repo.GetAmbulance(ctx, *d.AmbulanceID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if a.free() {
			return &Candidate{DriverID: d.ID, AmbulanceID: a.ID}, nil
		}
	}
	return nil, nil
}

// Assign commits driver and ambulance to the booking. Both resources are locked
// for the whole check-then-set, so two bookings racing for one driver get exactly
// one winner.
func (r *Resolver) Assign(ctx context.Context, bookingID, driverID, ambulanceID types.ID) (*booking.Booking, error) {
	unlock, err := r.locker.Lock(ctx, lock.DriverKey(string(driverID)), lock.AmbulanceKey(string(ambulanceID)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := r.repo.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	a, err := r.repo.GetAmbulance(ctx, ambulanceID)
	if err != nil {
		return nil, err
	}
	if !d.free() || !a.free() {
		observability.AssignmentAttempts.WithLabelValues("unavailable").Inc()
		return nil, fmt.Errorf("%w: driver %s is %s, ambulance %s is %s", ErrResourceUnavailable, d.ID, d.Status, a.ID, a.Status)
	}

	// Resources are held before the booking is touched; any later failure puts
	// them back, so a booking never points at a driver that still reads free.
	prevDriver, prevAmbulance := *d, *a
	now := r.now()
	held := bookingID
	d.Status = DriverBusy
	d.CurrentBookingID = &held
	d.UpdatedAt = now
	a.Status = AmbulanceOnDuty
	a.CurrentBookingID = &held
	a.UpdatedAt = now
	if err := r.repo.SaveDriver(ctx, d); err != nil {
		observability.AssignmentAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("hold driver: %w", err)
	}
	if err := r.repo.SaveAmbulance(ctx, a); err != nil {
		r.restore(ctx, bookingID, &prevDriver, nil)
		observability.AssignmentAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("hold ambulance: %w", err)
	}

	b, err := r.bookings.AttachAssignment(ctx, bookingID, driverID, ambulanceID)
	if err != nil {
		r.restore(ctx, bookingID, &prevDriver, &prevAmbulance)
		observability.AssignmentAttempts.WithLabelValues("rejected").Inc()
		return nil, err
	}

	observability.AssignmentAttempts.WithLabelValues("assigned").Inc()
	r.log.Info("resources assigned",
		zap.String("booking_id", string(bookingID)),
		zap.String("driver_id", string(driverID)),
		zap.String("ambulance_id", string(ambulanceID)),
	)
	return b, nil
}

// restore writes back the pre-assignment driver and ambulance after a failed
// Assign. The caller holds both resource locks.
func (r *Resolver) restore(ctx context.Context, bookingID types.ID, d *Driver, a *Ambulance) {
	ctx = context.WithoutCancel(ctx)
	if d != nil {
		if err := r.repo.SaveDriver(ctx, d); err != nil {
			r.log.Error("restore driver after failed assignment",
				zap.String("booking_id", string(bookingID)),
				zap.String("driver_id", string(d.ID)),
				zap.Error(err),
			)
		}
	}
	if a != nil {
		if err := r.repo.SaveAmbulance(ctx, a); err != nil {
			r.log.Error("restore ambulance after failed assignment",
				zap.String("booking_id", string(bookingID)),
				zap.String("ambulance_id", string(a.ID)),
				zap.Error(err),
			)
		}
	}
}

// Release frees the driver and ambulance held for bookingID. Resources already
// holding a different booking are left alone.
func (r *Resolver) Release(ctx context.Context, bookingID types.ID) error {
	b, err := r.bookings.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	if !b.Assigned() {
		return nil
	}
	unlock, err := r.locker.Lock(ctx, lock.DriverKey(string(*b.DriverID)), lock.AmbulanceKey(string(*b.AmbulanceID)))
	if err != nil {
		return err
	}
	defer unlock()

	now := r.now()
	d, err := r.repo.GetDriver(ctx, *b.DriverID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if d != nil && holds(d.CurrentBookingID, bookingID) {
		d.Status = DriverAvailable
		d.CurrentBookingID = nil
		d.UpdatedAt = now
		if err := r.repo.SaveDriver(ctx, d); err != nil {
			return fmt.Errorf("release driver: %w", err)
		}
	}
	a, err := r.repo.GetAmbulance(ctx, *b.AmbulanceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if a != nil && holds(a.CurrentBookingID, bookingID) {
		a.Status = AmbulanceAvailable
		a.CurrentBookingID = nil
		a.UpdatedAt = now
		if err := r.repo.SaveAmbulance(ctx, a); err != nil {
			return fmt.Errorf("release ambulance: %w", err)
		}
	}
	r.log.Info("resources released", zap.String("booking_id", string(bookingID)))
	return nil
}

// AutoAssign finds a candidate and commits it, retrying once when another booking
// wins the same pair. A nil booking with no error means no candidate was free.
func (r *Resolver) AutoAssign(ctx context.Context, bookingID types.ID) (*booking.Booking, error) {
	for attempt := 0; attempt < 2; attempt++ {
		c, err := r.FindCandidate(ctx, bookingID)
		if err != nil || c == nil {
			return nil, err
		}
		b, err := r.Assign(ctx, bookingID, c.DriverID, c.AmbulanceID)
		if errors.Is(err, ErrResourceUnavailable) {
			continue
		}
		return b, err
	}
	return nil, nil
}

// DispatchOnce tries to assign every booking still waiting for resources.
// Emergencies go first, most critical and oldest first.
func (r *Resolver) DispatchOnce(ctx context.Context) (int, error) {
	waiting, err := r.bookings.List(ctx, booking.Filter{
		Statuses:   []booking.Status{booking.StatusPending, booking.StatusConfirmed},
		Unassigned: true,
	})
	if err != nil {
		return 0, fmt.Errorf("list waiting bookings: %w", err)
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		return dispatchRank(waiting[i]) < dispatchRank(waiting[j])
	})

	assigned := 0
	for _, w := range waiting {
		if !booking.AssignableStatus(w) {
			continue
		}
		first, err := r.tracker.FirstAttempt(ctx, w.ID, r.now())
		if err != nil {
			r.log.Warn("dispatch tracker", zap.String("booking_id", string(w.ID)), zap.Error(err))
			first = r.now()
		}
		b, err := r.AutoAssign(ctx, w.ID)
		if err != nil {
			if !errors.Is(err, booking.ErrInvalidTransition) {
				r.log.Warn("auto assign", zap.String("booking_id", string(w.ID)), zap.Error(err))
			}
			continue
		}
		if b == nil {
			// Nothing free; later bookings will not fare better this round.
			break
		}
		assigned++
		_ = r.tracker.Clear(ctx, w.ID)
		r.log.Info("booking dispatched to resources",
			zap.String("booking_id", string(w.ID)),
			zap.Int("wait_time_sec", int(r.now().Sub(first).Seconds())),
		)
	}
	return assigned, nil
}

// RunDispatchLoop assigns waiting bookings every tick until ctx is done.
func (r *Resolver) RunDispatchLoop(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.DispatchOnce(ctx); err != nil {
				r.log.Error("dispatch loop", zap.Error(err))
			}
		}
	}
}

func dispatchRank(b *booking.Booking) int {
	switch {
	case b.Type == booking.TypeEmergency && b.Priority == booking.PriorityCritical:
		return 0
	case b.Type == booking.TypeEmergency:
		return 1
	}
	return 2
}

type DriverInput struct {
	ID            types.ID
	Name          string
	Phone         string
	LicenseNumber string
	HireDate      time.Time
	AmbulanceID   *types.ID
}

// UpsertDriver registers or updates a driver's profile. Status is only changed by
// SetDriverStatus and by assignments.
func (r *Resolver) UpsertDriver(ctx context.Context, in DriverInput) (*Driver, error) {
	if in.ID == "" {
		in.ID = types.NewID()
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, invalid("name", "required")
	}
	if in.HireDate.IsZero() {
		return nil, invalid("hire_date", "required")
	}
	if in.AmbulanceID != nil {
		if _, err := r.repo.GetAmbulance(ctx, *in.AmbulanceID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, invalid("ambulance_id", "unknown ambulance")
			}
			return nil, err
		}
	}

	unlock, err := r.locker.Lock(ctx, lock.DriverKey(string(in.ID)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := r.repo.GetDriver(ctx, in.ID)
	if errors.Is(err, ErrNotFound) {
		d = &Driver{ID: in.ID, Status: DriverAvailable}
	} else if err != nil {
		return nil, err
	}
	d.Name = strings.TrimSpace(in.Name)
	d.Phone = strings.TrimSpace(in.Phone)
	d.LicenseNumber = strings.TrimSpace(in.LicenseNumber)
	d.HireDate = in.HireDate.UTC()
	d.AmbulanceID = in.AmbulanceID
	d.UpdatedAt = r.now()
	if err := r.repo.SaveDriver(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

type AmbulanceInput struct {
	ID          types.ID
	PlateNumber string
	Type        string
}

func (r *Resolver) UpsertAmbulance(ctx context.Context, in AmbulanceInput) (*Ambulance, error) {
	if in.ID == "" {
		in.ID = types.NewID()
	}
	if strings.TrimSpace(in.PlateNumber) == "" {
		return nil, invalid("plate_number", "required")
	}

	unlock, err := r.locker.Lock(ctx, lock.AmbulanceKey(string(in.ID)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := r.repo.GetAmbulance(ctx, in.ID)
	if errors.Is(err, ErrNotFound) {
		a = &Ambulance{ID: in.ID, Status: AmbulanceAvailable}
	} else if err != nil {
		return nil, err
	}
	a.PlateNumber = strings.ToUpper(strings.TrimSpace(in.PlateNumber))
	a.Type = strings.TrimSpace(in.Type)
	a.UpdatedAt = r.now()
	if err := r.repo.SaveAmbulance(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetDriverStatus applies a manual status change. Busy is owned by assignments
// and cannot be set by hand; nor can a driver holding a booking be changed.
func (r *Resolver) SetDriverStatus(ctx context.Context, id types.ID, status DriverStatus) (*Driver, error) {
	if status != DriverAvailable && status != DriverMaintenance && status != DriverOffline {
		return nil, invalid("status", "must be available, maintenance or offline")
	}
	unlock, err := r.locker.Lock(ctx, lock.DriverKey(string(id)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := r.repo.GetDriver(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.CurrentBookingID != nil {
		return nil, ErrResourceBusy
	}
	d.Status = status
	d.UpdatedAt = r.now()
	if err := r.repo.SaveDriver(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *Resolver) SetAmbulanceStatus(ctx context.Context, id types.ID, status AmbulanceStatus) (*Ambulance, error) {
	if status != AmbulanceAvailable && status != AmbulanceMaintenance && status != AmbulanceOffline {
		return nil, invalid("status", "must be available, maintenance or offline")
	}
	unlock, err := r.locker.Lock(ctx, lock.AmbulanceKey(string(id)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := r.repo.GetAmbulance(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.CurrentBookingID != nil {
		return nil, ErrResourceBusy
	}
	a.Status = status
	a.UpdatedAt = r.now()
	if err := r.repo.SaveAmbulance(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *Resolver) GetDriver(ctx context.Context, id types.ID) (*Driver, error) {
	return r.repo.GetDriver(ctx, id)
}

func (r *Resolver) GetAmbulance(ctx context.Context, id types.ID) (*Ambulance, error) {
	return r.repo.GetAmbulance(ctx, id)
}

func (r *Resolver) ListDrivers(ctx context.Context, status DriverStatus) ([]Driver, error) {
	return r.repo.ListDrivers(ctx, status)
}

func (r *Resolver) ListAmbulances(ctx context.Context, status AmbulanceStatus) ([]Ambulance, error) {
	return r.repo.ListAmbulances(ctx, status)
}

func holds(current *types.ID, bookingID types.ID) bool {
	return current != nil && *current == bookingID
}
