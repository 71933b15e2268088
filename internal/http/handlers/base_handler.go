// README: Base handler utilities (JSON helpers, caller identity, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ambulance/internal/http/middleware"
	"ambulance/internal/modules/booking"
	"ambulance/internal/modules/fleet"
	"ambulance/internal/modules/payment"
	"ambulance/internal/modules/pricing"
	"ambulance/internal/modules/rating"
	"ambulance/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// isValidID accepts uuid-style ids and the short ids used by fleet admins.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps module errors onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	var (
		bv *booking.ValidationError
		pv *payment.ValidationError
		fv *fleet.ValidationError
		rv *rating.ValidationError
	)
	switch {
	case errors.As(err, &bv):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: bv.Msg, Field: bv.Field})
	case errors.As(err, &pv):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: pv.Msg, Field: pv.Field})
	case errors.As(err, &fv):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: fv.Msg, Field: fv.Field})
	case errors.As(err, &rv):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: rv.Msg, Field: rv.Field})
	case errors.Is(err, pricing.ErrInvalidRate), errors.Is(err, pricing.ErrInvalidDistance),
		errors.Is(err, types.ErrAmountOutOfRange):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, payment.ErrNotFound),
		errors.Is(err, fleet.ErrNotFound), errors.Is(err, rating.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrInvalidTransition), errors.Is(err, booking.ErrConflict),
		errors.Is(err, payment.ErrDuplicateDownpayment), errors.Is(err, payment.ErrPaymentAlreadyFinalized),
		errors.Is(err, fleet.ErrResourceUnavailable), errors.Is(err, fleet.ErrResourceBusy),
		errors.Is(err, rating.ErrAlreadyRated), errors.Is(err, rating.ErrNotRatable):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, rating.ErrNotBookingUser):
		writeError(c, http.StatusForbidden, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func actorOf(c *gin.Context) booking.Actor {
	uid := types.ID(middleware.CallerUID(c))
	return booking.Actor{Type: middleware.CallerRole(c), ID: &uid}
}

// canView reports whether the caller may read the booking: admins always,
// patients their own bookings, drivers the bookings they are assigned to.
func canView(c *gin.Context, b *booking.Booking) bool {
	uid := types.ID(middleware.CallerUID(c))
	switch middleware.CallerRole(c) {
	case middleware.RoleAdmin:
		return true
	case middleware.RolePatient:
		return b.UserID == uid
	case middleware.RoleDriver:
		return b.DriverID != nil && *b.DriverID == uid
	}
	return false
}

// loadVisible fetches the booking and writes 404/403 itself when it returns false.
func loadVisible(c *gin.Context, ledger *booking.Ledger, id types.ID) (*booking.Booking, bool) {
	b, err := ledger.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return nil, false
	}
	if !canView(c, b) {
		writeError(c, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return b, true
}
