// README: Payment attempts against a booking and the errors the reconciler returns.
package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ambulance/internal/modules/booking"
	"ambulance/internal/types"
)

type Type string

const (
	TypeDownpayment Type = "downpayment"
	TypeFullPayment Type = "full_payment"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

// IsTerminal reports whether a gateway outcome has been recorded.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusExpired
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusExpired:
		return s, nil
	}
	return "", fmt.Errorf("invalid payment status: %s", v)
}

type Payment struct {
	TransactionID types.ID `json:"transaction_id"`
	GatewayRef    string   `json:"gateway_ref,omitempty"`
	BookingID     types.ID `json:"booking_id"`
	Type          Type     `json:"payment_type"`
	Method        string   `json:"method,omitempty"`

	Amount             types.Money `json:"amount"`
	TotalBookingAmount types.Money `json:"total_booking_amount"`
	// DownpaymentPercentage is whole percent, set only for downpayments.
	DownpaymentPercentage *int `json:"downpayment_percentage,omitempty"`

	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	RemindedAt *time.Time `json:"reminded_at,omitempty"`

	// GatewayPayload is stored as received and never interpreted.
	GatewayPayload json.RawMessage `json:"gateway_payload,omitempty"`
}

// counts reports whether the attempt still blocks a new downpayment. A pending
// attempt stops counting once its expires_at has passed.
func (p *Payment) counts(now time.Time) bool {
	switch p.Status {
	case StatusPaid:
		return true
	case StatusPending:
		return p.ExpiresAt.After(now)
	}
	return false
}

// lapsed reports a pending attempt the sweeper has not reached yet.
func (p *Payment) lapsed(now time.Time) bool {
	return p.Status == StatusPending && !p.ExpiresAt.After(now)
}

// ComputeFlags derives the booking payment flags from every attempt recorded for
// it. The result depends only on the inputs.
func ComputeFlags(payments []Payment, total types.Money) booking.Flags {
	var (
		f       booking.Flags
		paid    types.Money
		anyPaid bool
	)
	for _, p := range payments {
		if p.Status != StatusPaid {
			continue
		}
		anyPaid = true
		paid += p.Amount
		if p.Type == TypeDownpayment {
			f.DownpaymentPaid = true
		}
	}
	f.FullyPaid = anyPaid && paid >= total
	return f
}

var (
	ErrNotFound                = errors.New("payment not found")
	ErrDuplicateDownpayment    = errors.New("downpayment already exists for booking")
	ErrDownpaymentNotAllowed   = fmt.Errorf("%w: emergency bookings do not take downpayments", ErrDuplicateDownpayment)
	ErrPaymentAlreadyFinalized = errors.New("payment already finalized")
	ErrValidation              = errors.New("validation failed")
)

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
