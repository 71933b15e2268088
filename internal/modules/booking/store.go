// README: Booking store backed by PostgreSQL.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ambulance/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const bookingColumns = `
    id, booking_code, type, priority, user_id, driver_id, ambulance_id,
    patient_name, patient_age, patient_condition,
    pickup_address, pickup_lat, pickup_lng,
    destination_address, destination_lat, destination_lng,
    contact_name, contact_phone, notes,
    requested_at, scheduled_at, dispatched_at, arrived_at, completed_at, cancelled_at, cancel_reason,
    base_price, distance_km, distance_price, total_amount, downpayment_amount,
    is_downpayment_paid, is_fully_paid, dp_payment_deadline, final_payment_deadline,
    status, status_version, updated_at`

func (s *Store) NextSequence(ctx context.Context, day time.Time) (int, error) {
	var n int
	y, m, d := day.UTC().Date()
	err := s.db.QueryRow(ctx, `
        INSERT INTO booking_sequences (day, last_seq) VALUES ($1, 1)
        ON CONFLICT (day) DO UPDATE SET last_seq = booking_sequences.last_seq + 1
        RETURNING last_seq`, time.Date(y, m, d, 0, 0, 0, 0, time.UTC)).Scan(&n)
	return n, err
}

func (s *Store) Create(ctx context.Context, b *Booking) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO bookings (`+bookingColumns+`)
        VALUES (
            $1, $2, $3, $4, $5, $6, $7,
            $8, $9, $10,
            $11, $12, $13,
            $14, $15, $16,
            $17, $18, $19,
            $20, $21, $22, $23, $24, $25, $26,
            $27, $28, $29, $30, $31,
            $32, $33, $34, $35,
            $36, $37, $38
        )`,
		string(b.ID), b.Code, string(b.Type), string(b.Priority), string(b.UserID), idPtr(b.DriverID), idPtr(b.AmbulanceID),
		b.Patient.Name, b.Patient.Age, b.Patient.Condition,
		b.Pickup.Address, b.Pickup.Point.Lat, b.Pickup.Point.Lng,
		b.Destination.Address, b.Destination.Point.Lat, b.Destination.Point.Lng,
		b.Contact.Name, b.Contact.Phone, b.Notes,
		b.RequestedAt, b.ScheduledAt, b.DispatchedAt, b.ArrivedAt, b.CompletedAt, b.CancelledAt, b.CancelReason,
		int64(b.BasePrice), b.DistanceKm, int64(b.DistancePrice), int64(b.TotalAmount), moneyPtr(b.DownpaymentAmount),
		b.IsDownpaymentPaid, b.IsFullyPaid, b.DPPaymentDeadline, b.FinalPaymentDeadline,
		string(b.Status), b.StatusVersion, b.UpdatedAt,
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, string(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// Update writes every mutable column when the stored status_version still equals
// version. It reports false when another writer got there first.
func (s *Store) Update(ctx context.Context, b *Booking, version int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE bookings SET
            driver_id = $1,
            ambulance_id = $2,
            dispatched_at = $3,
            arrived_at = $4,
            completed_at = $5,
            cancelled_at = $6,
            cancel_reason = $7,
            is_downpayment_paid = $8,
            is_fully_paid = $9,
            final_payment_deadline = $10,
            status = $11,
            status_version = status_version + 1,
            updated_at = $12
        WHERE id = $13 AND status_version = $14`,
		idPtr(b.DriverID), idPtr(b.AmbulanceID),
		b.DispatchedAt, b.ArrivedAt, b.CompletedAt, b.CancelledAt, b.CancelReason,
		b.IsDownpaymentPaid, b.IsFullyPaid, b.FinalPaymentDeadline,
		string(b.Status), b.UpdatedAt,
		string(b.ID), version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	b.StatusVersion = version + 1
	return true, nil
}

func (s *Store) List(ctx context.Context, f Filter) ([]*Booking, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		st := make([]string, len(f.Statuses))
		for i, v := range f.Statuses {
			st[i] = string(v)
		}
		args = append(args, st)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, string(f.UserID))
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Unassigned {
		where = append(where, "driver_id IS NULL")
	}
	q := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY requested_at ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRow(ctx, `
        INSERT INTO booking_state_events (
            booking_id, from_status, to_status, actor_type, actor_id, note, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`,
		string(e.BookingID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		idPtr(e.ActorID),
		e.Note,
		e.CreatedAt,
	).Scan(&e.ID)
}

func (s *Store) Events(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, booking_id, from_status, to_status, actor_type, actor_id, note, created_at
        FROM booking_state_events
        WHERE booking_id = $1
        ORDER BY id ASC`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                   Event
			bookingID, from, to string
			actorID             *string
		)
		if err := rows.Scan(&e.ID, &bookingID, &from, &to, &e.ActorType, &actorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.BookingID = types.ID(bookingID)
		e.FromStatus = Status(from)
		e.ToStatus = Status(to)
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row scanner) (*Booking, error) {
	var (
		b                             Booking
		id, typ, prio, userID, status string
		driverID, ambulanceID         *string
		basePrice, distPrice, total   int64
		downpayment                   *int64
	)
	err := row.Scan(
		&id, &b.Code, &typ, &prio, &userID, &driverID, &ambulanceID,
		&b.Patient.Name, &b.Patient.Age, &b.Patient.Condition,
		&b.Pickup.Address, &b.Pickup.Point.Lat, &b.Pickup.Point.Lng,
		&b.Destination.Address, &b.Destination.Point.Lat, &b.Destination.Point.Lng,
		&b.Contact.Name, &b.Contact.Phone, &b.Notes,
		&b.RequestedAt, &b.ScheduledAt, &b.DispatchedAt, &b.ArrivedAt, &b.CompletedAt, &b.CancelledAt, &b.CancelReason,
		&basePrice, &b.DistanceKm, &distPrice, &total, &downpayment,
		&b.IsDownpaymentPaid, &b.IsFullyPaid, &b.DPPaymentDeadline, &b.FinalPaymentDeadline,
		&status, &b.StatusVersion, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.ID = types.ID(id)
	b.Type = Type(typ)
	b.Priority = Priority(prio)
	b.UserID = types.ID(userID)
	b.DriverID = toIDPtr(driverID)
	b.AmbulanceID = toIDPtr(ambulanceID)
	b.BasePrice = types.Money(basePrice)
	b.DistancePrice = types.Money(distPrice)
	b.TotalAmount = types.Money(total)
	if downpayment != nil {
		v := types.Money(*downpayment)
		b.DownpaymentAmount = &v
	}
	b.Status = Status(status)
	return &b, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}

func moneyPtr(v *types.Money) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}
