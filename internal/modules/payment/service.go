// README: Payment reconciler records intents, applies gateway callbacks and keeps booking flags in sync.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ambulance/internal/events"
	"ambulance/internal/lock"
	"ambulance/internal/modules/booking"
	"ambulance/internal/observability"
	"ambulance/internal/types"
)

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id types.ID) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	ListByBooking(ctx context.Context, bookingID types.ID) ([]Payment, error)
	ListPending(ctx context.Context, f PendingFilter) ([]Payment, error)
}

// Bookings is the slice of the booking ledger the reconciler needs.
type Bookings interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
	ApplyPaymentFlags(ctx context.Context, id types.ID, f booking.Flags) (*booking.Booking, error)
}

type Options struct {
	Locker lock.Locker
	Events events.Publisher
	Logger *zap.Logger
	Now    func() time.Time
	// TTL is the default lifetime of a payment attempt.
	TTL time.Duration
}

type Reconciler struct {
	repo     Repository
	bookings Bookings
	locker   lock.Locker
	events   events.Publisher
	log      *zap.Logger
	now      func() time.Time
	ttl      time.Duration
}

func NewReconciler(repo Repository, bookings Bookings, opts Options) *Reconciler {
	r := &Reconciler{
		repo:     repo,
		bookings: bookings,
		locker:   opts.Locker,
		events:   opts.Events,
		log:      opts.Logger,
		now:      opts.Now,
		ttl:      opts.TTL,
	}
	if r.locker == nil {
		r.locker = lock.NewKeyedMutex()
	}
	if r.events == nil {
		r.events = events.Discard
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.ttl <= 0 {
		r.ttl = 24 * time.Hour
	}
	return r
}

type IntentCommand struct {
	BookingID types.ID
	Type      Type
	Method    string
	// Amount defaults to the downpayment or the outstanding balance.
	Amount *types.Money
	// ExpiresAt defaults to now + TTL.
	ExpiresAt      *time.Time
	GatewayRef     string
	GatewayPayload json.RawMessage
}

type CallbackCommand struct {
	TransactionID types.ID
	Status        Status
	PaidAt        *time.Time
	GatewayRef    string
	Payload       json.RawMessage
}

// RecordPaymentIntent opens a pending attempt. At most one live downpayment may
// exist per booking, and emergency bookings take none.
func (r *Reconciler) RecordPaymentIntent(ctx context.Context, cmd IntentCommand) (*Payment, error) {
	if cmd.Type != TypeDownpayment && cmd.Type != TypeFullPayment {
		return nil, invalid("payment_type", "must be downpayment or full_payment")
	}

	unlock, err := r.locker.Lock(ctx, lock.PaymentsKey(string(cmd.BookingID)))
	if err != nil {
		return nil, err
	}
	p, lapsed, err := r.recordLocked(ctx, cmd)
	unlock()
	for _, l := range lapsed {
		observability.PaymentsExpired.Inc()
		r.events.Publish(ctx, paymentEvent(events.PaymentExpired, l))
	}
	if err != nil {
		return nil, err
	}

	r.log.Info("payment intent recorded",
		zap.String("booking_id", string(p.BookingID)),
		zap.String("transaction_id", string(p.TransactionID)),
		zap.String("type", string(p.Type)),
		zap.Int64("amount", int64(p.Amount)),
	)
	r.events.Publish(ctx, paymentEvent(events.PaymentPending, p).With("expires_at", p.ExpiresAt))
	return p, nil
}

// recordLocked also expires lapsed pending downpayments it finds, so a retry is
// not blocked until the sweeper runs. Those are returned for event publishing.
func (r *Reconciler) recordLocked(ctx context.Context, cmd IntentCommand) (*Payment, []*Payment, error) {
	b, err := r.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, nil, err
	}
	if b.Status == booking.StatusCancelled {
		return nil, nil, invalid("booking_id", "booking is cancelled")
	}
	existing, err := r.repo.ListByBooking(ctx, b.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list payments: %w", err)
	}
	flags := ComputeFlags(existing, b.TotalAmount)
	now := r.now()
	var lapsed []*Payment

	p := &Payment{
		TransactionID:      types.NewID(),
		GatewayRef:         strings.TrimSpace(cmd.GatewayRef),
		BookingID:          b.ID,
		Type:               cmd.Type,
		Method:             strings.TrimSpace(cmd.Method),
		TotalBookingAmount: b.TotalAmount,
		Status:             StatusPending,
		CreatedAt:          now,
		ExpiresAt:          now.Add(r.ttl),
		GatewayPayload:     cmd.GatewayPayload,
	}

	switch cmd.Type {
	case TypeDownpayment:
		if b.Type == booking.TypeEmergency || b.DownpaymentAmount == nil {
			return nil, lapsed, ErrDownpaymentNotAllowed
		}
		for i := range existing {
			e := &existing[i]
			if e.Type != TypeDownpayment {
				continue
			}
			if e.lapsed(now) {
				e.Status = StatusExpired
				if err := r.repo.Update(ctx, e); err != nil {
					return nil, lapsed, fmt.Errorf("expire lapsed payment: %w", err)
				}
				lapsed = append(lapsed, e)
				continue
			}
			if e.counts(now) {
				return nil, lapsed, ErrDuplicateDownpayment
			}
		}
		p.Amount = *b.DownpaymentAmount
		pct := percentOf(p.Amount, b.TotalAmount)
		p.DownpaymentPercentage = &pct
		if b.DPPaymentDeadline != nil && b.DPPaymentDeadline.After(now) && b.DPPaymentDeadline.Before(p.ExpiresAt) {
			p.ExpiresAt = *b.DPPaymentDeadline
		}
	case TypeFullPayment:
		if flags.FullyPaid {
			return nil, lapsed, invalid("payment_type", "booking is already fully paid")
		}
		p.Amount = outstanding(existing, b.TotalAmount)
	}

	if cmd.Amount != nil {
		p.Amount = *cmd.Amount
	}
	if p.Amount <= 0 || p.Amount > types.MaxMoney {
		return nil, lapsed, invalid("amount", "must be > 0 and within range")
	}
	if cmd.ExpiresAt != nil {
		if !cmd.ExpiresAt.After(now) {
			return nil, lapsed, invalid("expires_at", "must be in the future")
		}
		p.ExpiresAt = cmd.ExpiresAt.UTC()
	}

	if err := r.repo.Create(ctx, p); err != nil {
		return nil, lapsed, fmt.Errorf("create payment: %w", err)
	}
	return p, lapsed, nil
}

// ApplyGatewayCallback records a gateway outcome. Replaying the outcome a payment
// already has is a no-op; any other change to a finalized payment is refused.
func (r *Reconciler) ApplyGatewayCallback(ctx context.Context, cmd CallbackCommand) (*Payment, error) {
	if !cmd.Status.IsTerminal() {
		return nil, invalid("status", "must be paid, failed or expired")
	}
	p, err := r.repo.Get(ctx, cmd.TransactionID)
	if err != nil {
		return nil, err
	}

	unlock, err := r.locker.Lock(ctx, lock.PaymentsKey(string(p.BookingID)))
	if err != nil {
		return nil, err
	}
	p, outcome, err := r.applyLocked(ctx, cmd)
	unlock()

	observability.PaymentCallbacks.WithLabelValues(outcome).Inc()
	if p != nil && (outcome == "applied" || outcome == "late") {
		r.events.Publish(ctx, paymentEvent(statusKind(p.Status), p))
	}
	return p, err
}

func (r *Reconciler) applyLocked(ctx context.Context, cmd CallbackCommand) (*Payment, string, error) {
	p, err := r.repo.Get(ctx, cmd.TransactionID)
	if err != nil {
		return nil, "error", err
	}
	log := r.log.With(
		zap.String("booking_id", string(p.BookingID)),
		zap.String("transaction_id", string(p.TransactionID)),
	)

	if p.Status.IsTerminal() {
		if p.Status != cmd.Status {
			log.Info("callback refused for finalized payment",
				zap.String("current", string(p.Status)),
				zap.String("requested", string(cmd.Status)),
			)
			return p, "finalized", ErrPaymentAlreadyFinalized
		}
		log.Debug("callback replay ignored", zap.String("status", string(p.Status)))
		if _, err := r.recompute(ctx, p.BookingID); err != nil {
			return p, "replay", err
		}
		return p, "replay", nil
	}

	now := r.now()
	if cmd.GatewayRef != "" {
		p.GatewayRef = cmd.GatewayRef
	}
	if len(cmd.Payload) > 0 {
		p.GatewayPayload = cmd.Payload
	}

	// The gateway's settlement time decides lateness; a delayed delivery of an
	// in-time payment still counts. Future timestamps are clamped to now.
	settled := now
	if cmd.PaidAt != nil && cmd.PaidAt.Before(now) {
		settled = cmd.PaidAt.UTC()
	}

	outcome := "applied"
	var result error
	if cmd.Status == StatusPaid && settled.After(p.ExpiresAt) {
		p.Status = StatusExpired
		outcome = "late"
		result = fmt.Errorf("%w: paid callback after expiry", ErrPaymentAlreadyFinalized)
	} else {
		p.Status = cmd.Status
		if cmd.Status == StatusPaid {
			p.PaidAt = &settled
		}
	}

	if err := r.repo.Update(ctx, p); err != nil {
		return nil, "error", fmt.Errorf("update payment: %w", err)
	}
	log.Info("payment finalized", zap.String("status", string(p.Status)))

	if _, err := r.recompute(ctx, p.BookingID); err != nil {
		return p, outcome, err
	}
	return p, outcome, result
}

// RecomputeBookingFlags rebuilds the booking flags from every payment on record.
func (r *Reconciler) RecomputeBookingFlags(ctx context.Context, bookingID types.ID) (booking.Flags, error) {
	unlock, err := r.locker.Lock(ctx, lock.PaymentsKey(string(bookingID)))
	if err != nil {
		return booking.Flags{}, err
	}
	defer unlock()
	return r.recompute(ctx, bookingID)
}

// recompute expects the payments lock for bookingID to be held.
func (r *Reconciler) recompute(ctx context.Context, bookingID types.ID) (booking.Flags, error) {
	b, err := r.bookings.Get(ctx, bookingID)
	if err != nil {
		return booking.Flags{}, err
	}
	payments, err := r.repo.ListByBooking(ctx, bookingID)
	if err != nil {
		return booking.Flags{}, fmt.Errorf("list payments: %w", err)
	}
	f := ComputeFlags(payments, b.TotalAmount)
	if _, err := r.bookings.ApplyPaymentFlags(ctx, bookingID, f); err != nil {
		return f, fmt.Errorf("apply booking flags: %w", err)
	}
	return f, nil
}

// ExpirePastDeadline moves every pending attempt whose expires_at is before now
// to expired. Safe to run concurrently with callbacks.
func (r *Reconciler) ExpirePastDeadline(ctx context.Context, now time.Time) (int, error) {
	due, err := r.repo.ListPending(ctx, PendingFilter{ExpiresBefore: now, Limit: 500})
	if err != nil {
		return 0, fmt.Errorf("list expired payments: %w", err)
	}
	expired := 0
	for _, d := range due {
		p, err := r.expireOne(ctx, d.TransactionID, d.BookingID, now)
		if err != nil {
			r.log.Warn("expire payment",
				zap.String("transaction_id", string(d.TransactionID)),
				zap.Error(err),
			)
			continue
		}
		if p == nil {
			continue
		}
		expired++
		observability.PaymentsExpired.Inc()
		r.events.Publish(ctx, paymentEvent(events.PaymentExpired, p))
	}
	return expired, nil
}

func (r *Reconciler) expireOne(ctx context.Context, id, bookingID types.ID, now time.Time) (*Payment, error) {
	unlock, err := r.locker.Lock(ctx, lock.PaymentsKey(string(bookingID)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// A callback may have landed between the listing and the lock.
	if p.Status != StatusPending || !p.ExpiresAt.Before(now) {
		return nil, nil
	}
	p.Status = StatusExpired
	if err := r.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	if _, err := r.recompute(ctx, bookingID); err != nil {
		return p, err
	}
	return p, nil
}

// RemindDue emits one reminder per pending attempt expiring within window.
func (r *Reconciler) RemindDue(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	due, err := r.repo.ListPending(ctx, PendingFilter{
		ExpiresAfter:  now,
		ExpiresBefore: now.Add(window),
		Unreminded:    true,
		Limit:         500,
	})
	if err != nil {
		return 0, fmt.Errorf("list due payments: %w", err)
	}
	sent := 0
	for _, d := range due {
		p, err := r.markReminded(ctx, d.TransactionID, d.BookingID, now)
		if err != nil {
			r.log.Warn("remind payment",
				zap.String("transaction_id", string(d.TransactionID)),
				zap.Error(err),
			)
			continue
		}
		if p == nil {
			continue
		}
		sent++
		r.events.Publish(ctx, paymentEvent(events.PaymentReminder, p).
			With("expires_at", p.ExpiresAt).
			With("amount", int64(p.Amount)))
	}
	return sent, nil
}

func (r *Reconciler) markReminded(ctx context.Context, id, bookingID types.ID, now time.Time) (*Payment, error) {
	unlock, err := r.locker.Lock(ctx, lock.PaymentsKey(string(bookingID)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := r.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending || p.RemindedAt != nil {
		return nil, nil
	}
	p.RemindedAt = &now
	if err := r.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Reconciler) Get(ctx context.Context, id types.ID) (*Payment, error) {
	return r.repo.Get(ctx, id)
}

func (r *Reconciler) ListByBooking(ctx context.Context, bookingID types.ID) ([]Payment, error) {
	if _, err := r.bookings.Get(ctx, bookingID); err != nil {
		return nil, err
	}
	return r.repo.ListByBooking(ctx, bookingID)
}

// RunExpirySweeper expires overdue attempts every tick until ctx is done.
func (r *Reconciler) RunExpirySweeper(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.ExpirePastDeadline(ctx, r.now())
			if err != nil {
				r.log.Error("expiry sweep", zap.Error(err))
				continue
			}
			if n > 0 {
				r.log.Info("expired payments", zap.Int("count", n))
			}
		}
	}
}

// RunReminder sends reminders for attempts expiring within window every tick.
func (r *Reconciler) RunReminder(ctx context.Context, tick, window time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RemindDue(ctx, r.now(), window); err != nil {
				r.log.Error("reminder sweep", zap.Error(err))
			}
		}
	}
}

func paymentEvent(kind events.Kind, p *Payment) events.Event {
	e := events.New(kind, p.BookingID, string(p.Status)).
		With("payment_type", string(p.Type)).
		With("amount", int64(p.Amount))
	e.PaymentID = p.TransactionID
	return e
}

func statusKind(s Status) events.Kind {
	switch s {
	case StatusPaid:
		return events.PaymentPaid
	case StatusFailed:
		return events.PaymentFailed
	case StatusExpired:
		return events.PaymentExpired
	}
	return events.PaymentPending
}

func outstanding(payments []Payment, total types.Money) types.Money {
	left := total
	for _, p := range payments {
		if p.Status == StatusPaid {
			left -= p.Amount
		}
	}
	if left < 0 {
		return 0
	}
	return left
}

func percentOf(part, total types.Money) int {
	if total <= 0 {
		return 0
	}
	return int((int64(part)*100 + int64(total)/2) / int64(total))
}
