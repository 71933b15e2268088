// README: Fleet store backed by PostgreSQL.
package fleet

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

const driverColumns = `id, name, phone, license_number, hire_date, status, ambulance_id, current_booking_id, updated_at`

const ambulanceColumns = `id, plate_number, type, status, current_booking_id, updated_at`

func (s *Store) GetDriver(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id))
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func (s *Store) GetAmbulance(ctx context.Context, id types.ID) (*Ambulance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+ambulanceColumns+` FROM ambulances WHERE id = $1`, string(id))
	a, err := scanAmbulance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (s *Store) SaveDriver(ctx context.Context, d *Driver) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO drivers (`+driverColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            name = EXCLUDED.name,
            phone = EXCLUDED.phone,
            license_number = EXCLUDED.license_number,
            hire_date = EXCLUDED.hire_date,
            status = EXCLUDED.status,
            ambulance_id = EXCLUDED.ambulance_id,
            current_booking_id = EXCLUDED.current_booking_id,
            updated_at = EXCLUDED.updated_at`,
		string(d.ID), d.Name, d.Phone, d.LicenseNumber, d.HireDate, string(d.Status),
		idPtr(d.AmbulanceID), idPtr(d.CurrentBookingID), d.UpdatedAt,
	)
	return err
}

func (s *Store) SaveAmbulance(ctx context.Context, a *Ambulance) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO ambulances (`+ambulanceColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO UPDATE SET
            plate_number = EXCLUDED.plate_number,
            type = EXCLUDED.type,
            status = EXCLUDED.status,
            current_booking_id = EXCLUDED.current_booking_id,
            updated_at = EXCLUDED.updated_at`,
		string(a.ID), a.PlateNumber, a.Type, string(a.Status), idPtr(a.CurrentBookingID), a.UpdatedAt,
	)
	return err
}

func (s *Store) ListDrivers(ctx context.Context, status DriverStatus) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+driverColumns+`
        FROM drivers
        WHERE $1 = '' OR status = $1
        ORDER BY hire_date ASC, id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) ListAmbulances(ctx context.Context, status AmbulanceStatus) ([]Ambulance, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+ambulanceColumns+`
        FROM ambulances
        WHERE $1 = '' OR status = $1
        ORDER BY id ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Ambulance, 0)
	for rows.Next() {
		a, err := scanAmbulance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDriver(row scanner) (*Driver, error) {
	var (
		d                      Driver
		id, status             string
		ambulanceID, bookingID *string
	)
	if err := row.Scan(&id, &d.Name, &d.Phone, &d.LicenseNumber, &d.HireDate, &status, &ambulanceID, &bookingID, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.ID = types.ID(id)
	d.Status = DriverStatus(status)
	d.AmbulanceID = toIDPtr(ambulanceID)
	d.CurrentBookingID = toIDPtr(bookingID)
	return &d, nil
}

func scanAmbulance(row scanner) (*Ambulance, error) {
	var (
		a          Ambulance
		id, status string
		bookingID  *string
	)
	if err := row.Scan(&id, &a.PlateNumber, &a.Type, &status, &bookingID, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ID = types.ID(id)
	a.Status = AmbulanceStatus(status)
	a.CurrentBookingID = toIDPtr(bookingID)
	return &a, nil
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
