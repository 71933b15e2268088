// README: Booking ledger implements the lifecycle transitions and persistence.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ambulance/internal/config"
	"ambulance/internal/events"
	"ambulance/internal/lock"
	"ambulance/internal/modules/pricing"
	"ambulance/internal/observability"
	"ambulance/internal/types"
)

type Repository interface {
	NextSequence(ctx context.Context, day time.Time) (int, error)
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	Update(ctx context.Context, b *Booking, version int) (bool, error)
	List(ctx context.Context, f Filter) ([]*Booking, error)
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, id types.ID) ([]Event, error)
}

type Quoter interface {
	Quote(distanceKm float64, scheduled bool) (pricing.Quote, error)
}

// DistanceEstimator fills in distance_km when intake only sends coordinates.
type DistanceEstimator interface {
	DistanceKm(ctx context.Context, from, to types.Point) (float64, error)
}

// Releaser frees the driver and ambulance held for a booking.
type Releaser interface {
	Release(ctx context.Context, bookingID types.ID) error
}

type Policy struct {
	DPWindow         time.Duration
	FinalPaymentLead time.Duration
	EmergencyGrace   time.Duration
	// EmergencyUnpaidComplete lets emergency trips complete before full payment.
	EmergencyUnpaidComplete bool
	// AutoConfirm confirms a pending scheduled booking once its downpayment is paid.
	AutoConfirm bool
}

func PolicyFromConfig(c config.LifecycleConfig) Policy {
	return Policy{
		DPWindow:                c.DPWindow,
		FinalPaymentLead:        c.FinalPaymentLead,
		EmergencyGrace:          c.EmergencyGrace,
		EmergencyUnpaidComplete: c.EmergencyUnpaidComplete,
		AutoConfirm:             c.AutoConfirmOnDownpayment,
	}
}

type Options struct {
	Locker   lock.Locker
	Events   events.Publisher
	Policy   Policy
	Logger   *zap.Logger
	Distance DistanceEstimator
	Now      func() time.Time
}

type Ledger struct {
	repo     Repository
	quoter   Quoter
	locker   lock.Locker
	events   events.Publisher
	policy   Policy
	log      *zap.Logger
	distance DistanceEstimator
	now      func() time.Time
	releaser Releaser
}

func NewLedger(repo Repository, quoter Quoter, opts Options) *Ledger {
	l := &Ledger{
		repo:     repo,
		quoter:   quoter,
		locker:   opts.Locker,
		events:   opts.Events,
		policy:   opts.Policy,
		log:      opts.Logger,
		distance: opts.Distance,
		now:      opts.Now,
	}
	if l.locker == nil {
		l.locker = lock.NewKeyedMutex()
	}
	if l.events == nil {
		l.events = events.Discard
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	return l
}

// SetReleaser wires the fleet resolver after construction; the resolver itself
// depends on the ledger.
func (l *Ledger) SetReleaser(r Releaser) {
	l.releaser = r
}

// Actor identifies who triggered a transition in the state history.
type Actor struct {
	Type string
	ID   *types.ID
}

var SystemActor = Actor{Type: "system"}

type CreateCommand struct {
	Type        Type
	Priority    Priority
	UserID      types.ID
	Patient     Patient
	Pickup      Place
	Destination Place
	Contact     Contact
	Notes       string
	ScheduledAt *time.Time
	// DistanceKm is estimated from the coordinates when nil.
	DistanceKm *float64
}

type CancelCommand struct {
	BookingID types.ID
	Actor     Actor
	Reason    string
}

// Flags are the payment-derived booking fields.
type Flags struct {
	DownpaymentPaid bool
	FullyPaid       bool
}

func (l *Ledger) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	now := l.now()
	if err := l.validateCreate(&cmd, now); err != nil {
		return nil, err
	}

	dist, err := l.resolveDistance(ctx, cmd)
	if err != nil {
		return nil, err
	}
	q, err := l.quoter.Quote(dist, cmd.Type == TypeScheduled)
	if err != nil {
		return nil, invalid("distance_km", err.Error())
	}

	seq, err := l.repo.NextSequence(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("allocate booking code: %w", err)
	}

	b := &Booking{
		ID:            types.NewID(),
		Code:          fmt.Sprintf("AMB%s%04d", now.UTC().Format("20060102"), seq),
		Type:          cmd.Type,
		Priority:      cmd.Priority,
		UserID:        cmd.UserID,
		Patient:       cmd.Patient,
		Pickup:        cmd.Pickup,
		Destination:   cmd.Destination,
		Contact:       cmd.Contact,
		Notes:         cmd.Notes,
		RequestedAt:   now,
		BasePrice:     q.BasePrice,
		DistanceKm:    q.DistanceKm,
		DistancePrice: q.DistancePrice,
		TotalAmount:   q.TotalAmount,
		Status:        StatusPending,
		UpdatedAt:     now,
	}

	switch cmd.Type {
	case TypeScheduled:
		at := *cmd.ScheduledAt
		b.ScheduledAt = &at
		b.DownpaymentAmount = q.DownpaymentAmount
		dp := now.Add(l.policy.DPWindow)
		if dp.After(at) {
			dp = at
		}
		b.DPPaymentDeadline = &dp
		final := at.Add(-l.policy.FinalPaymentLead)
		if final.Before(now) {
			final = now
		}
		b.FinalPaymentDeadline = &final
	case TypeEmergency:
		final := now.Add(l.policy.EmergencyGrace)
		b.FinalPaymentDeadline = &final
	}

	if err := l.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	userID := cmd.UserID
	l.appendEvent(ctx, &Event{
		BookingID:  b.ID,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  "patient",
		ActorID:    &userID,
		CreatedAt:  now,
	})
	observability.BookingTransitions.WithLabelValues(string(StatusPending)).Inc()
	l.log.Info("booking created",
		zap.String("booking_id", string(b.ID)),
		zap.String("booking_code", b.Code),
		zap.String("type", string(b.Type)),
		zap.Int64("total_amount", int64(b.TotalAmount)),
	)

	ev := events.New(events.BookingCreated, b.ID, string(b.Status)).
		With("booking_code", b.Code).
		With("type", string(b.Type)).
		With("total_amount", int64(b.TotalAmount))
	l.events.Publish(ctx, ev)
	if b.Type == TypeEmergency {
		l.events.Publish(ctx, events.New(events.BookingEmergencyCreated, b.ID, string(b.Status)).
			With("booking_code", b.Code).
			With("priority", string(b.Priority)).
			With("pickup", b.Pickup.Address))
	}
	return b, nil
}

func (l *Ledger) validateCreate(cmd *CreateCommand, now time.Time) error {
	if cmd.UserID == "" {
		return invalid("user_id", "required")
	}
	switch cmd.Type {
	case TypeEmergency:
		if cmd.Priority == "" {
			cmd.Priority = PriorityUrgent
		}
		if cmd.Priority != PriorityUrgent && cmd.Priority != PriorityCritical {
			return invalid("priority", "emergency bookings must be urgent or critical")
		}
		if cmd.ScheduledAt != nil {
			return invalid("scheduled_at", "not allowed for emergency bookings")
		}
	case TypeScheduled:
		if cmd.Priority == "" {
			cmd.Priority = PriorityNormal
		}
		if cmd.Priority != PriorityNormal {
			return invalid("priority", "scheduled bookings must be normal priority")
		}
		if cmd.ScheduledAt == nil {
			return invalid("scheduled_at", "required for scheduled bookings")
		}
		if !cmd.ScheduledAt.After(now) {
			return invalid("scheduled_at", "must be in the future")
		}
		if strings.TrimSpace(cmd.Destination.Address) == "" {
			return invalid("destination.address", "required for scheduled bookings")
		}
	default:
		return invalid("type", "must be emergency or scheduled")
	}
	if strings.TrimSpace(cmd.Patient.Name) == "" {
		return invalid("patient.name", "required")
	}
	if cmd.Patient.Age < 0 {
		return invalid("patient.age", "must be >= 0")
	}
	if strings.TrimSpace(cmd.Pickup.Address) == "" {
		return invalid("pickup.address", "required")
	}
	if strings.TrimSpace(cmd.Contact.Phone) == "" {
		return invalid("contact.phone", "required")
	}
	if cmd.DistanceKm != nil && !pricing.ValidDistance(*cmd.DistanceKm) {
		return invalid("distance_km", pricing.ErrInvalidDistance.Error())
	}
	return nil
}

func (l *Ledger) resolveDistance(ctx context.Context, cmd CreateCommand) (float64, error) {
	if cmd.DistanceKm != nil {
		return *cmd.DistanceKm, nil
	}
	if l.distance == nil || cmd.Pickup.Point.IsZero() || cmd.Destination.Point.IsZero() {
		return 0, invalid("distance_km", "required when coordinates are missing")
	}
	km, err := l.distance.DistanceKm(ctx, cmd.Pickup.Point, cmd.Destination.Point)
	if err != nil {
		return 0, fmt.Errorf("estimate distance: %w", err)
	}
	return km, nil
}

// Confirm moves pending to confirmed. Scheduled bookings need a paid downpayment.
func (l *Ledger) Confirm(ctx context.Context, id types.ID, actor Actor) (*Booking, error) {
	b, _, err := l.mutate(ctx, id, mutation{
		to:    StatusConfirmed,
		actor: actor,
		apply: func(b *Booking, _ time.Time) error {
			if b.Type == TypeScheduled && !b.IsDownpaymentPaid {
				return transitionError(b.Status, StatusConfirmed, "downpayment not paid")
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	l.events.Publish(ctx, events.New(events.BookingConfirmed, b.ID, string(b.Status)).With("booking_code", b.Code))
	return b, nil
}

// AttachAssignment records a driver and ambulance on the booking in one write.
// Emergency bookings accept an assignment while still pending.
func (l *Ledger) AttachAssignment(ctx context.Context, id, driverID, ambulanceID types.ID) (*Booking, error) {
	if driverID == "" || ambulanceID == "" {
		return nil, invalid("assignment", "driver and ambulance are both required")
	}
	b, _, err := l.mutate(ctx, id, mutation{
		apply: func(b *Booking, _ time.Time) error {
			if !AssignableStatus(b) {
				return fmt.Errorf("%w: cannot assign in status %s", ErrInvalidTransition, b.Status)
			}
			if b.DriverID != nil || b.AmbulanceID != nil {
				return ErrAlreadyAssigned
			}
			d, a := driverID, ambulanceID
			b.DriverID = &d
			b.AmbulanceID = &a
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("booking assigned",
		zap.String("booking_id", string(b.ID)),
		zap.String("driver_id", string(driverID)),
		zap.String("ambulance_id", string(ambulanceID)),
	)
	l.events.Publish(ctx, events.New(events.BookingDriverAssigned, b.ID, string(b.Status)).
		With("driver_id", string(driverID)).
		With("ambulance_id", string(ambulanceID)))
	return b, nil
}

// AssignableStatus reports whether a booking may receive a driver and ambulance.
func AssignableStatus(b *Booking) bool {
	switch b.Status {
	case StatusConfirmed:
		return true
	case StatusPending:
		return b.Type == TypeEmergency
	}
	return false
}

func (l *Ledger) Dispatch(ctx context.Context, id types.ID, actor Actor) (*Booking, error) {
	b, _, err := l.mutate(ctx, id, mutation{
		to:    StatusDispatched,
		actor: actor,
		apply: func(b *Booking, now time.Time) error {
			if !b.Assigned() {
				return transitionError(b.Status, StatusDispatched, "no driver and ambulance assigned")
			}
			at := latest(now, b.RequestedAt)
			b.DispatchedAt = &at
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	l.events.Publish(ctx, events.New(events.BookingDispatched, b.ID, string(b.Status)).
		With("driver_id", string(*b.DriverID)).
		With("dispatched_at", *b.DispatchedAt))
	return b, nil
}

// MarkArrived records the driver reaching pickup and moves dispatched to in_progress.
// A zero timestamp means now.
func (l *Ledger) MarkArrived(ctx context.Context, id types.ID, at time.Time, actor Actor) (*Booking, error) {
	b, _, err := l.mutate(ctx, id, mutation{
		to:    StatusInProgress,
		actor: actor,
		apply: func(b *Booking, now time.Time) error {
			if at.IsZero() {
				at = now
			}
			at = at.UTC()
			if b.DispatchedAt != nil && at.Before(*b.DispatchedAt) {
				return invalid("arrived_at", "before dispatched_at")
			}
			b.ArrivedAt = &at
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	l.events.Publish(ctx, events.New(events.BookingArrived, b.ID, string(b.Status)).With("arrived_at", *b.ArrivedAt))
	return b, nil
}

func (l *Ledger) MarkInProgress(ctx context.Context, id types.ID, actor Actor) (*Booking, error) {
	return l.MarkArrived(ctx, id, time.Time{}, actor)
}

// Complete finishes the trip and releases the held resources.
func (l *Ledger) Complete(ctx context.Context, id types.ID, actor Actor) (*Booking, error) {
	b, _, err := l.mutate(ctx, id, mutation{
		to:    StatusCompleted,
		actor: actor,
		apply: func(b *Booking, now time.Time) error {
			if b.ArrivedAt == nil {
				return transitionError(b.Status, StatusCompleted, "arrived_at not set")
			}
			if !b.IsFullyPaid && !(b.Type == TypeEmergency && l.policy.EmergencyUnpaidComplete) {
				return transitionError(b.Status, StatusCompleted, "booking not fully paid")
			}
			at := latest(now, *b.ArrivedAt)
			b.CompletedAt = &at
			if b.Type == TypeEmergency {
				final := at.Add(l.policy.EmergencyGrace)
				b.FinalPaymentDeadline = &final
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	l.release(ctx, b)
	l.events.Publish(ctx, events.New(events.BookingCompleted, b.ID, string(b.Status)).
		With("is_fully_paid", b.IsFullyPaid).
		With("completed_at", *b.CompletedAt))
	return b, nil
}

// Cancel is allowed from pending, confirmed and dispatched. Paid payments are left alone.
func (l *Ledger) Cancel(ctx context.Context, cmd CancelCommand) (*Booking, error) {
	b, _, err := l.mutate(ctx, cmd.BookingID, mutation{
		to:    StatusCancelled,
		actor: cmd.Actor,
		note:  cmd.Reason,
		apply: func(b *Booking, now time.Time) error {
			b.CancelledAt = &now
			if cmd.Reason != "" {
				reason := cmd.Reason
				b.CancelReason = &reason
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	l.release(ctx, b)
	l.events.Publish(ctx, events.New(events.BookingCancelled, b.ID, string(b.Status)).
		With("reason", cmd.Reason).
		With("actor_type", cmd.Actor.Type))
	return b, nil
}

// ApplyPaymentFlags stores flags recomputed by the payment reconciler. With
// AutoConfirm on, a pending scheduled booking is confirmed in the same step once
// its downpayment is paid.
func (l *Ledger) ApplyPaymentFlags(ctx context.Context, id types.ID, f Flags) (*Booking, error) {
	var confirmed bool
	b, _, err := l.mutate(ctx, id, mutation{
		actor: SystemActor,
		note:  "downpayment paid",
		apply: func(b *Booking, _ time.Time) error {
			changed := b.IsDownpaymentPaid != f.DownpaymentPaid || b.IsFullyPaid != f.FullyPaid
			b.IsDownpaymentPaid = f.DownpaymentPaid
			b.IsFullyPaid = f.FullyPaid
			if l.policy.AutoConfirm && b.Status == StatusPending && b.Type == TypeScheduled && b.IsDownpaymentPaid {
				confirmed = true
				return nil
			}
			if !changed {
				return errUnchanged
			}
			return nil
		},
		promote: func(*Booking) Status {
			if confirmed {
				return StatusConfirmed
			}
			return ""
		},
	})
	if errors.Is(err, errUnchanged) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	if confirmed {
		l.events.Publish(ctx, events.New(events.BookingConfirmed, b.ID, string(b.Status)).
			With("booking_code", b.Code).
			With("auto", true))
	}
	return b, nil
}

func (l *Ledger) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return l.repo.Get(ctx, id)
}

func (l *Ledger) List(ctx context.Context, f Filter) ([]*Booking, error) {
	return l.repo.List(ctx, f)
}

func (l *Ledger) History(ctx context.Context, id types.ID) ([]Event, error) {
	if _, err := l.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return l.repo.Events(ctx, id)
}

type mutation struct {
	// to is the target status; empty means a field-only update.
	to    Status
	actor Actor
	note  string
	apply func(b *Booking, now time.Time) error
	// promote picks a target status after apply ran, for updates that may or may
	// not transition.
	promote func(b *Booking) Status
}

var errUnchanged = errors.New("booking unchanged")

// mutate is the single write path: lock, load, guard, write with version check,
// record history. Returns the stored booking and the previous status.
func (l *Ledger) mutate(ctx context.Context, id types.ID, m mutation) (*Booking, Status, error) {
	unlock, err := l.locker.Lock(ctx, lock.BookingKey(string(id)))
	if err != nil {
		return nil, "", err
	}
	defer unlock()

	b, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := b.Status
	if m.to != "" && !CanTransition(from, m.to) {
		return nil, from, transitionError(from, m.to, "")
	}
	now := l.now()
	if err := m.apply(b, now); err != nil {
		if errors.Is(err, errUnchanged) {
			return b, from, err
		}
		return nil, from, err
	}
	to := m.to
	if m.promote != nil {
		if p := m.promote(b); p != "" {
			if !CanTransition(from, p) {
				return nil, from, transitionError(from, p, "")
			}
			to = p
		}
	}
	if to != "" {
		b.Status = to
	}
	b.UpdatedAt = now

	ok, err := l.repo.Update(ctx, b, b.StatusVersion)
	if err != nil {
		return nil, from, fmt.Errorf("update booking: %w", err)
	}
	if !ok {
		return nil, from, ErrConflict
	}

	if to != "" {
		l.appendEvent(ctx, &Event{
			BookingID:  b.ID,
			FromStatus: from,
			ToStatus:   to,
			ActorType:  m.actor.Type,
			ActorID:    m.actor.ID,
			Note:       m.note,
			CreatedAt:  now,
		})
		observability.BookingTransitions.WithLabelValues(string(to)).Inc()
		l.log.Info("booking transition",
			zap.String("booking_id", string(b.ID)),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("actor", m.actor.Type),
		)
	}
	return b, from, nil
}

func (l *Ledger) appendEvent(ctx context.Context, e *Event) {
	if err := l.repo.AppendEvent(ctx, e); err != nil {
		l.log.Error("append booking event",
			zap.String("booking_id", string(e.BookingID)),
			zap.Error(err),
		)
	}
}

// release runs after the booking lock is dropped so resource locks are never
// taken inside it.
func (l *Ledger) release(ctx context.Context, b *Booking) {
	if l.releaser == nil || !b.Assigned() {
		return
	}
	if err := l.releaser.Release(ctx, b.ID); err != nil {
		l.log.Error("release assignment",
			zap.String("booking_id", string(b.ID)),
			zap.Error(err),
		)
	}
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
