// README: Rating intake for completed bookings and admin responses.
package rating

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"ambulance/internal/lock"
	"ambulance/internal/modules/booking"
	"ambulance/internal/types"
)

const maxCommentLen = 2000

type Repository interface {
	Create(ctx context.Context, r *Rating) error
	Get(ctx context.Context, id types.ID) (*Rating, error)
	GetByBooking(ctx context.Context, bookingID types.ID) (*Rating, error)
	SaveResponse(ctx context.Context, r *Rating) error
	ListByDriver(ctx context.Context, driverID types.ID) ([]Rating, error)
}

type Bookings interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
}

type Options struct {
	Locker lock.Locker
	Logger *zap.Logger
	Now    func() time.Time
}

type Service struct {
	repo     Repository
	bookings Bookings
	locker   lock.Locker
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, bookings Bookings, opts Options) *Service {
	s := &Service{repo: repo, bookings: bookings, locker: opts.Locker, log: opts.Logger, now: opts.Now}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

type CreateCommand struct {
	BookingID types.ID
	UserID    types.ID
	Score     int
	Comment   string
}

// Create records the patient's rating of a completed trip. A booking takes at
// most one rating.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Rating, error) {
	if cmd.Score < MinScore || cmd.Score > MaxScore {
		return nil, invalid("score", "must be between 1 and 5")
	}
	comment := strings.TrimSpace(cmd.Comment)
	if len(comment) > maxCommentLen {
		return nil, invalid("comment", "too long")
	}

	unlock, err := s.locker.Lock(ctx, lock.RatingKey(string(cmd.BookingID)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	b, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != cmd.UserID {
		return nil, ErrNotBookingUser
	}
	if b.Status != booking.StatusCompleted {
		return nil, ErrNotRatable
	}
	if _, err := s.repo.GetByBooking(ctx, b.ID); err == nil {
		return nil, ErrAlreadyRated
	}

	r := &Rating{
		ID:        types.NewID(),
		BookingID: b.ID,
		UserID:    cmd.UserID,
		Score:     cmd.Score,
		Comment:   comment,
		CreatedAt: s.now(),
	}
	if b.DriverID != nil {
		d := *b.DriverID
		r.DriverID = &d
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("booking rated",
		zap.String("booking_id", string(b.ID)),
		zap.Int("score", r.Score),
	)
	return r, nil
}

// Respond sets the admin's reply. The rest of a rating never changes.
func (s *Service) Respond(ctx context.Context, id types.ID, text string) (*Rating, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("response", "required")
	}
	if len(text) > maxCommentLen {
		return nil, invalid("response", "too long")
	}
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	r.AdminResponse = &text
	r.RespondedAt = &now
	if err := s.repo.SaveResponse(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Rating, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByBooking(ctx context.Context, bookingID types.ID) (*Rating, error) {
	return s.repo.GetByBooking(ctx, bookingID)
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID) ([]Rating, error) {
	return s.repo.ListByDriver(ctx, driverID)
}
