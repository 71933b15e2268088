// README: Fare rate and quote definitions.
package pricing

import (
	"errors"

	"ambulance/internal/types"
)

// MaxDistanceKm caps a single trip; nothing overland in the service area comes close.
const MaxDistanceKm = 10000

var (
	ErrInvalidDistance = errors.New("distance must be between 0 and 10000 km")
	ErrInvalidRate     = errors.New("invalid rate")
)

type Rate struct {
	BasePrice           types.Money       `json:"base_price"`
	PerKmRate           types.Money       `json:"per_km_rate"`
	Downpayment         types.BasisPoints `json:"downpayment_basis_points"`
	DownpaymentRounding types.Money       `json:"downpayment_rounding"`
}

func (r Rate) Validate() error {
	if r.BasePrice < 0 || r.PerKmRate < 0 || r.BasePrice > types.MaxMoney || r.PerKmRate > types.MaxMoney {
		return ErrInvalidRate
	}
	if r.Downpayment <= 0 || r.Downpayment >= 10000 {
		return ErrInvalidRate
	}
	if r.DownpaymentRounding < 1 {
		return ErrInvalidRate
	}
	return nil
}

type Quote struct {
	BasePrice     types.Money
	DistanceKm    float64
	DistancePrice types.Money
	TotalAmount   types.Money
	// DownpaymentAmount is only set for scheduled trips.
	DownpaymentAmount *types.Money
}
