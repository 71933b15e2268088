// README: Payment store backed by PostgreSQL.
package payment

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

const paymentColumns = `
    transaction_id, gateway_ref, booking_id, payment_type, method,
    amount, total_booking_amount, downpayment_percentage,
    status, created_at, expires_at, paid_at, reminded_at, gateway_payload`

func (s *Store) Create(ctx context.Context, p *Payment) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO payments (`+paymentColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(p.TransactionID), p.GatewayRef, string(p.BookingID), string(p.Type), p.Method,
		int64(p.Amount), int64(p.TotalBookingAmount), p.DownpaymentPercentage,
		string(p.Status), p.CreatedAt, p.ExpiresAt, p.PaidAt, p.RemindedAt, payloadArg(p.GatewayPayload),
	)
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Payment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, string(id))
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *Store) Update(ctx context.Context, p *Payment) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE payments SET
            gateway_ref = $1,
            status = $2,
            paid_at = $3,
            reminded_at = $4,
            gateway_payload = $5
        WHERE transaction_id = $6`,
		p.GatewayRef, string(p.Status), p.PaidAt, p.RemindedAt, payloadArg(p.GatewayPayload),
		string(p.TransactionID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListByBooking(ctx context.Context, bookingID types.ID) ([]Payment, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+paymentColumns+`
        FROM payments
        WHERE booking_id = $1
        ORDER BY created_at ASC, transaction_id ASC`, string(bookingID))
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *Store) ListPending(ctx context.Context, f PendingFilter) ([]Payment, error) {
	where := []string{"status = 'pending'"}
	var args []any
	if !f.ExpiresBefore.IsZero() {
		args = append(args, f.ExpiresBefore)
		where = append(where, fmt.Sprintf("expires_at < $%d", len(args)))
	}
	if !f.ExpiresAfter.IsZero() {
		args = append(args, f.ExpiresAfter)
		where = append(where, fmt.Sprintf("expires_at > $%d", len(args)))
	}
	if f.Unreminded {
		where = append(where, "reminded_at IS NULL")
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + strings.Join(where, " AND ") + ` ORDER BY expires_at ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]Payment, error) {
	defer rows.Close()
	out := make([]Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*Payment, error) {
	var (
		p                        Payment
		txID, bookingID, typ, st string
		amount, total            int64
		paidAt, remindedAt       *time.Time
		payload                  []byte
	)
	err := row.Scan(
		&txID, &p.GatewayRef, &bookingID, &typ, &p.Method,
		&amount, &total, &p.DownpaymentPercentage,
		&st, &p.CreatedAt, &p.ExpiresAt, &paidAt, &remindedAt, &payload,
	)
	if err != nil {
		return nil, err
	}
	p.TransactionID = types.ID(txID)
	p.BookingID = types.ID(bookingID)
	p.Type = Type(typ)
	p.Status = Status(st)
	p.Amount = types.Money(amount)
	p.TotalBookingAmount = types.Money(total)
	p.PaidAt = paidAt
	p.RemindedAt = remindedAt
	if len(payload) > 0 {
		p.GatewayPayload = payload
	}
	return &p, nil
}

// payloadArg sends NULL for an empty payload so the jsonb column stays clean.
func payloadArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
