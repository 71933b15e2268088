// README: Rating store backed by PostgreSQL.
package rating

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ambulance/internal/types"
)

// uniqueViolation is the postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const ratingColumns = `id, booking_id, user_id, driver_id, score, comment, admin_response, responded_at, created_at`

func (s *Store) Create(ctx context.Context, r *Rating) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO ratings (`+ratingColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(r.ID), string(r.BookingID), string(r.UserID), idPtr(r.DriverID),
		r.Score, r.Comment, r.AdminResponse, r.RespondedAt, r.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrAlreadyRated
	}
	return err
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Rating, error) {
	return s.getOne(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE id = $1`, string(id))
}

func (s *Store) GetByBooking(ctx context.Context, bookingID types.ID) (*Rating, error) {
	return s.getOne(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE booking_id = $1`, string(bookingID))
}

func (s *Store) getOne(ctx context.Context, query string, arg string) (*Rating, error) {
	r, err := scanRating(s.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *Store) SaveResponse(ctx context.Context, r *Rating) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE ratings SET admin_response = $1, responded_at = $2
        WHERE id = $3`,
		r.AdminResponse, r.RespondedAt, string(r.ID),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListByDriver(ctx context.Context, driverID types.ID) ([]Rating, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+ratingColumns+` FROM ratings
        WHERE driver_id = $1
        ORDER BY created_at DESC`, string(driverID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Rating, 0)
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRating(row scanner) (*Rating, error) {
	var (
		r                     Rating
		id, bookingID, userID string
		driverID              *string
	)
	if err := row.Scan(&id, &bookingID, &userID, &driverID, &r.Score, &r.Comment,
		&r.AdminResponse, &r.RespondedAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.ID = types.ID(id)
	r.BookingID = types.ID(bookingID)
	r.UserID = types.ID(userID)
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	return &r, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
