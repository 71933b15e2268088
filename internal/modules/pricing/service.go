// README: Pricing service computes fare quotes from the active rate.
package pricing

import (
	"context"
	"fmt"
	"math"
	"sync"

	"ambulance/internal/config"
	"ambulance/internal/types"
)

type RateStore interface {
	GetRate(ctx context.Context) (Rate, bool, error)
	SaveRate(ctx context.Context, r Rate) error
}

type Service struct {
	store RateStore

	mu   sync.RWMutex
	rate Rate
}

func RateFromConfig(c config.PricingConfig) Rate {
	return Rate{
		BasePrice:           types.Money(c.BasePrice),
		PerKmRate:           types.Money(c.PerKmRate),
		Downpayment:         types.BasisPointsFromFraction(c.DownpaymentFraction),
		DownpaymentRounding: types.Money(c.DownpaymentRounding),
	}
}

// NewService starts from the configured default; store may be nil.
func NewService(store RateStore, def Rate) *Service {
	return &Service{store: store, rate: def}
}

// Load replaces the default with the persisted rate when one exists.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	r, ok, err := s.store.GetRate(ctx)
	if err != nil || !ok {
		return err
	}
	s.mu.Lock()
	s.rate = r
	s.mu.Unlock()
	return nil
}

func (s *Service) Rate() Rate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

func (s *Service) UpdateRate(ctx context.Context, r Rate) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.SaveRate(ctx, r); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.rate = r
	s.mu.Unlock()
	return nil
}

// ValidDistance accepts finite trip lengths in [0, MaxDistanceKm].
func ValidDistance(km float64) bool {
	return !math.IsNaN(km) && !math.IsInf(km, 0) && km >= 0 && km <= MaxDistanceKm
}

// Quote prices a trip. Bookings snapshot the quote, so later rate changes never
// touch existing totals.
func (s *Service) Quote(distanceKm float64, scheduled bool) (Quote, error) {
	if !ValidDistance(distanceKm) {
		return Quote{}, ErrInvalidDistance
	}
	r := s.Rate()
	distPrice, err := types.RoundHalfUp(distanceKm * float64(r.PerKmRate))
	if err != nil {
		return Quote{}, fmt.Errorf("distance price: %w", err)
	}
	total, err := r.BasePrice.Add(distPrice)
	if err != nil {
		return Quote{}, fmt.Errorf("total amount: %w", err)
	}
	q := Quote{
		BasePrice:     r.BasePrice,
		DistanceKm:    distanceKm,
		DistancePrice: distPrice,
		TotalAmount:   total,
	}
	if scheduled {
		dp := q.TotalAmount.ApplyFraction(r.Downpayment, r.DownpaymentRounding)
		q.DownpaymentAmount = &dp
	}
	return q, nil
}
