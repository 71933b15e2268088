// README: Booking aggregate, status definitions and the lifecycle state flow.
package booking

import (
	"errors"
	"fmt"
	"time"

	"ambulance/internal/types"
)

type Type string

const (
	TypeEmergency Type = "emergency"
	TypeScheduled Type = "scheduled"
)

type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusDispatched Status = "dispatched"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type Patient struct {
	Name      string `json:"name"`
	Age       int    `json:"age"`
	Condition string `json:"condition,omitempty"`
}

type Place struct {
	Address string      `json:"address"`
	Point   types.Point `json:"point"`
}

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Booking struct {
	ID          types.ID  `json:"id"`
	Code        string    `json:"booking_code"`
	Type        Type      `json:"type"`
	Priority    Priority  `json:"priority"`
	UserID      types.ID  `json:"user_id"`
	DriverID    *types.ID `json:"driver_id"`
	AmbulanceID *types.ID `json:"ambulance_id"`

	Patient     Patient `json:"patient"`
	Pickup      Place   `json:"pickup"`
	Destination Place   `json:"destination"`
	Contact     Contact `json:"contact"`
	Notes       string  `json:"notes,omitempty"`

	RequestedAt  time.Time  `json:"requested_at"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
	DispatchedAt *time.Time `json:"dispatched_at"`
	ArrivedAt    *time.Time `json:"arrived_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CancelledAt  *time.Time `json:"cancelled_at"`
	CancelReason *string    `json:"cancel_reason,omitempty"`

	BasePrice         types.Money  `json:"base_price"`
	DistanceKm        float64      `json:"distance_km"`
	DistancePrice     types.Money  `json:"distance_price"`
	TotalAmount       types.Money  `json:"total_amount"`
	DownpaymentAmount *types.Money `json:"downpayment_amount"`

	IsDownpaymentPaid bool `json:"is_downpayment_paid"`
	IsFullyPaid       bool `json:"is_fully_paid"`

	DPPaymentDeadline    *time.Time `json:"dp_payment_deadline"`
	FinalPaymentDeadline *time.Time `json:"final_payment_deadline"`

	Status        Status    `json:"status"`
	StatusVersion int       `json:"status_version"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (b *Booking) Assigned() bool {
	return b.DriverID != nil && b.AmbulanceID != nil
}

// Event is one row of the append-only state history.
type Event struct {
	ID         int64     `json:"id"`
	BookingID  types.ID  `json:"booking_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorType  string    `json:"actor_type"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Filter narrows List results; zero values match everything.
type Filter struct {
	Statuses   []Status
	Type       Type
	UserID     types.ID
	Unassigned bool
	Limit      int
}

func (f Filter) Match(b *Booking) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if b.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Type != "" && b.Type != f.Type {
		return false
	}
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.Unassigned && b.Assigned() {
		return false
	}
	return true
}

// AllowedTransitions represents the booking state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusDispatched, StatusCancelled},
	StatusDispatched: {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return len(AllowedTransitions[s]) == 0
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	switch s {
	case StatusPending, StatusConfirmed, StatusDispatched, StatusInProgress, StatusCompleted, StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("invalid booking status: %s", v)
}

var (
	ErrNotFound          = errors.New("booking not found")
	ErrInvalidTransition = errors.New("invalid booking transition")
	ErrConflict          = errors.New("booking state conflict")
	ErrValidation        = errors.New("validation failed")
	ErrAlreadyAssigned   = fmt.Errorf("%w: booking already has an assignment", ErrInvalidTransition)
)

// ValidationError reports a rejected input field. errors.Is(err, ErrValidation) holds.
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

func transitionError(from, to Status, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return fmt.Errorf("%w: %s -> %s: %s", ErrInvalidTransition, from, to, reason)
}
