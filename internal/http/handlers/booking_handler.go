// README: Booking handlers (intake, reads, lifecycle transitions, assignment).
package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"ambulance/internal/http/middleware"
	"ambulance/internal/modules/booking"
	"ambulance/internal/modules/fleet"
	"ambulance/internal/types"
)

type BookingHandler struct {
	ledger   *booking.Ledger
	resolver *fleet.Resolver
}

func NewBookingHandler(ledger *booking.Ledger, resolver *fleet.Resolver) *BookingHandler {
	return &BookingHandler{ledger: ledger, resolver: resolver}
}

type placeReq struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

func (p placeReq) toPlace() booking.Place {
	pl := booking.Place{Address: p.Address}
	if p.Lat != nil && p.Lng != nil {
		pl.Point = types.Point{Lat: *p.Lat, Lng: *p.Lng}
	}
	return pl
}

type createBookingReq struct {
	Type     string `json:"type" binding:"required,oneof=emergency scheduled"`
	Priority string `json:"priority" binding:"omitempty,oneof=normal urgent critical"`
	// UserID lets an admin book on a patient's behalf; patients always book for themselves.
	UserID  string `json:"user_id"`
	Patient struct {
		Name      string `json:"name"`
		Age       int    `json:"age"`
		Condition string `json:"condition"`
	} `json:"patient"`
	Pickup      placeReq `json:"pickup"`
	Destination placeReq `json:"destination"`
	Contact     struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"contact"`
	Notes       string     `json:"notes"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	DistanceKm  *float64   `json:"distance_km"`
}

func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	userID := types.ID(middleware.CallerUID(c))
	if middleware.CallerRole(c) == middleware.RoleAdmin && req.UserID != "" {
		userID = types.ID(req.UserID)
	}
	b, err := h.ledger.Create(c.Request.Context(), booking.CreateCommand{
		Type:        booking.Type(req.Type),
		Priority:    booking.Priority(req.Priority),
		UserID:      userID,
		Patient:     booking.Patient{Name: req.Patient.Name, Age: req.Patient.Age, Condition: req.Patient.Condition},
		Pickup:      req.Pickup.toPlace(),
		Destination: req.Destination.toPlace(),
		Contact:     booking.Contact{Name: req.Contact.Name, Phone: req.Contact.Phone},
		Notes:       req.Notes,
		ScheduledAt: req.ScheduledAt,
		DistanceKm:  req.DistanceKm,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, ok := loadVisible(c, h.ledger, id)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) History(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, ok := loadVisible(c, h.ledger, id); !ok {
		return
	}
	evs, err := h.ledger.History(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "events": evs})
}

// List serves admins: ?status=pending,confirmed&type=&user_id=&unassigned=true&limit=
func (h *BookingHandler) List(c *gin.Context) {
	var f booking.Filter
	if v := c.Query("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			st, err := booking.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				writeError(c, http.StatusBadRequest, err.Error())
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := c.Query("type"); v != "" {
		f.Type = booking.Type(v)
	}
	f.UserID = types.ID(c.Query("user_id"))
	f.Unassigned = c.Query("unassigned") == "true"
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	list, err := h.ledger.List(c.Request.Context(), f)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": list})
}

func (h *BookingHandler) Confirm(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.ledger.Confirm(c.Request.Context(), id, actorOf(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

type assignReq struct {
	DriverID    string `json:"driver_id"`
	AmbulanceID string `json:"ambulance_id"`
}

// Assign commits an explicit pair, or the best free candidate when the body is empty.
func (h *BookingHandler) Assign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req assignReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	var (
		b   *booking.Booking
		err error
	)
	switch {
	case req.DriverID == "" && req.AmbulanceID == "":
		b, err = h.resolver.AutoAssign(c.Request.Context(), id)
		if err == nil && b == nil {
			writeError(c, http.StatusConflict, fleet.ErrResourceUnavailable.Error())
			return
		}
	case req.DriverID == "" || req.AmbulanceID == "":
		writeError(c, http.StatusBadRequest, "driver_id and ambulance_id go together")
		return
	default:
		b, err = h.resolver.Assign(c.Request.Context(), id, types.ID(req.DriverID), types.ID(req.AmbulanceID))
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

// driverGuard lets admins through and limits drivers to their own assignments.
func (h *BookingHandler) driverGuard(c *gin.Context, id types.ID) bool {
	if middleware.CallerRole(c) != middleware.RoleDriver {
		return true
	}
	_, ok := loadVisible(c, h.ledger, id)
	return ok
}

func (h *BookingHandler) Dispatch(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.driverGuard(c, id) {
		return
	}
	b, err := h.ledger.Dispatch(c.Request.Context(), id, actorOf(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

type arriveReq struct {
	ArrivedAt *time.Time `json:"arrived_at"`
}

func (h *BookingHandler) Arrive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.driverGuard(c, id) {
		return
	}
	var req arriveReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	var at time.Time
	if req.ArrivedAt != nil {
		at = *req.ArrivedAt
	}
	b, err := h.ledger.MarkArrived(c.Request.Context(), id, at, actorOf(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) Complete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok || !h.driverGuard(c, id) {
		return
	}
	b, err := h.ledger.Complete(c.Request.Context(), id, actorOf(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if middleware.CallerRole(c) == middleware.RolePatient {
		if _, ok := loadVisible(c, h.ledger, id); !ok {
			return
		}
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	b, err := h.ledger.Cancel(c.Request.Context(), booking.CancelCommand{
		BookingID: id,
		Actor:     actorOf(c),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}
