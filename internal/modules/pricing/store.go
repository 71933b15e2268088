// README: Pricing rate store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"

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

func (s *Store) GetRate(ctx context.Context) (Rate, bool, error) {
	var r Rate
	var base, perKm, bp, rounding int64
	err := s.db.QueryRow(ctx, `
        SELECT base_price, per_km_rate, downpayment_bp, downpayment_rounding
        FROM pricing_rates
        WHERE id = 1`).Scan(&base, &perKm, &bp, &rounding)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, false, nil
	}
	if err != nil {
		return Rate{}, false, err
	}
	r.BasePrice = types.Money(base)
	r.PerKmRate = types.Money(perKm)
	r.Downpayment = types.BasisPoints(bp)
	r.DownpaymentRounding = types.Money(rounding)
	return r, true, nil
}

func (s *Store) SaveRate(ctx context.Context, r Rate) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO pricing_rates (id, base_price, per_km_rate, downpayment_bp, downpayment_rounding, updated_at)
        VALUES (1, $1, $2, $3, $4, NOW())
        ON CONFLICT (id) DO UPDATE SET
            base_price = EXCLUDED.base_price,
            per_km_rate = EXCLUDED.per_km_rate,
            downpayment_bp = EXCLUDED.downpayment_bp,
            downpayment_rounding = EXCLUDED.downpayment_rounding,
            updated_at = NOW()`,
		int64(r.BasePrice), int64(r.PerKmRate), int64(r.Downpayment), int64(r.DownpaymentRounding),
	)
	return err
}
