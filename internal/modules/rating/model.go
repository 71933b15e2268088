// README: Post-trip rating left by the patient, with an optional admin response.
package rating

import (
	"errors"
	"fmt"
	"time"

	"ambulance/internal/types"
)

type Rating struct {
	ID            types.ID   `json:"id"`
	BookingID     types.ID   `json:"booking_id"`
	UserID        types.ID   `json:"user_id"`
	DriverID      *types.ID  `json:"driver_id,omitempty"`
	Score         int        `json:"score"`
	Comment       string     `json:"comment,omitempty"`
	AdminResponse *string    `json:"admin_response,omitempty"`
	RespondedAt   *time.Time `json:"responded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

const (
	MinScore = 1
	MaxScore = 5
)

var (
	ErrNotFound       = errors.New("rating not found")
	ErrAlreadyRated   = errors.New("booking already rated")
	ErrNotRatable     = errors.New("booking cannot be rated")
	ErrNotBookingUser = errors.New("only the booking's user can rate it")
	ErrValidation     = errors.New("validation failed")
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
