// README: Drivers, ambulances and the assignment candidate they form.
package fleet

import (
	"errors"
	"fmt"
	"time"

	"ambulance/internal/types"
)

type DriverStatus string

const (
	DriverAvailable   DriverStatus = "available"
	DriverBusy        DriverStatus = "busy"
	DriverMaintenance DriverStatus = "maintenance"
	DriverOffline     DriverStatus = "offline"
)

type AmbulanceStatus string

const (
	AmbulanceAvailable   AmbulanceStatus = "available"
	AmbulanceOnDuty      AmbulanceStatus = "on_duty"
	AmbulanceMaintenance AmbulanceStatus = "maintenance"
	AmbulanceOffline     AmbulanceStatus = "offline"
)

type Driver struct {
	ID            types.ID     `json:"id"`
	Name          string       `json:"name"`
	Phone         string       `json:"phone,omitempty"`
	LicenseNumber string       `json:"license_number,omitempty"`
	HireDate      time.Time    `json:"hire_date"`
	Status        DriverStatus `json:"status"`
	// AmbulanceID is the vehicle the driver normally operates. It is not a hold.
	AmbulanceID      *types.ID `json:"ambulance_id,omitempty"`
	CurrentBookingID *types.ID `json:"current_booking_id,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Ambulance struct {
	ID               types.ID        `json:"id"`
	PlateNumber      string          `json:"plate_number"`
	Type             string          `json:"type,omitempty"`
	Status           AmbulanceStatus `json:"status"`
	CurrentBookingID *types.ID       `json:"current_booking_id,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Candidate is one driver and ambulance that can be committed together.
type Candidate struct {
	DriverID    types.ID `json:"driver_id"`
	AmbulanceID types.ID `json:"ambulance_id"`
}

func (d *Driver) free() bool {
	return d.Status == DriverAvailable && d.CurrentBookingID == nil
}

func (a *Ambulance) free() bool {
	return a.Status == AmbulanceAvailable && a.CurrentBookingID == nil
}

func ParseDriverStatus(v string) (DriverStatus, error) {
	s := DriverStatus(v)
	switch s {
	case DriverAvailable, DriverBusy, DriverMaintenance, DriverOffline:
		return s, nil
	}
	return "", fmt.Errorf("invalid driver status: %s", v)
}

func ParseAmbulanceStatus(v string) (AmbulanceStatus, error) {
	s := AmbulanceStatus(v)
	switch s {
	case AmbulanceAvailable, AmbulanceOnDuty, AmbulanceMaintenance, AmbulanceOffline:
		return s, nil
	}
	return "", fmt.Errorf("invalid ambulance status: %s", v)
}

var (
	ErrNotFound            = errors.New("resource not found")
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrResourceBusy        = errors.New("resource is serving a booking")
	ErrValidation          = errors.New("validation failed")
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
