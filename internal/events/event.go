// README: Lifecycle events emitted after booking and payment transitions.
package events

import (
	"context"
	"time"

	"ambulance/internal/types"
)

type Kind string

const (
	BookingCreated          Kind = "booking.created"
	BookingEmergencyCreated Kind = "booking.emergency_created"
	BookingConfirmed        Kind = "booking.confirmed"
	BookingDriverAssigned   Kind = "booking.driver_assigned"
	BookingDispatched       Kind = "booking.dispatched"
	BookingArrived          Kind = "booking.arrived"
	BookingCompleted        Kind = "booking.completed"
	BookingCancelled        Kind = "booking.cancelled"
	PaymentPending          Kind = "payment.pending"
	PaymentPaid             Kind = "payment.paid"
	PaymentFailed           Kind = "payment.failed"
	PaymentExpired          Kind = "payment.expired"
	PaymentReminder         Kind = "payment.reminder"

	// BookingSnapshot is sent once to a tracker client on connect; never published.
	BookingSnapshot Kind = "booking.snapshot"
)

type Event struct {
	ID         types.ID       `json:"id"`
	Kind       Kind           `json:"kind"`
	BookingID  types.ID       `json:"booking_id"`
	PaymentID  types.ID       `json:"payment_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func New(kind Kind, bookingID types.ID, status string) Event {
	return Event{
		ID:         types.NewID(),
		Kind:       kind,
		BookingID:  bookingID,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
}

func (e Event) With(key string, v any) Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = v
	return e
}

// Publisher is fire-and-forget: Publish must never block the caller's transition.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type discard struct{}

func (discard) Publish(context.Context, Event) {}

// Discard drops every event.
var Discard Publisher = discard{}
