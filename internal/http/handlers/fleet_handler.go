// README: Fleet admin handlers for drivers and ambulances.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ambulance/internal/modules/fleet"
	"ambulance/internal/modules/rating"
	"ambulance/internal/types"
)

type FleetHandler struct {
	resolver *fleet.Resolver
	ratings  *rating.Service
}

func NewFleetHandler(resolver *fleet.Resolver, ratings *rating.Service) *FleetHandler {
	return &FleetHandler{resolver: resolver, ratings: ratings}
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *FleetHandler) ListDrivers(c *gin.Context) {
	var status fleet.DriverStatus
	if v := c.Query("status"); v != "" {
		s, err := fleet.ParseDriverStatus(v)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		status = s
	}
	list, err := h.resolver.ListDrivers(c.Request.Context(), status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": list})
}

type driverReq struct {
	Name          string    `json:"name" binding:"required"`
	Phone         string    `json:"phone"`
	LicenseNumber string    `json:"license_number"`
	HireDate      time.Time `json:"hire_date" binding:"required"`
	AmbulanceID   *string   `json:"ambulance_id"`
}

func (h *FleetHandler) PutDriver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req driverReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	in := fleet.DriverInput{
		ID:            id,
		Name:          req.Name,
		Phone:         req.Phone,
		LicenseNumber: req.LicenseNumber,
		HireDate:      req.HireDate,
	}
	if req.AmbulanceID != nil && *req.AmbulanceID != "" {
		amb := types.ID(*req.AmbulanceID)
		in.AmbulanceID = &amb
	}
	d, err := h.resolver.UpsertDriver(c.Request.Context(), in)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *FleetHandler) SetDriverStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	status, err := fleet.ParseDriverStatus(req.Status)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	d, err := h.resolver.SetDriverStatus(c.Request.Context(), id, status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *FleetHandler) DriverRatings(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, err := h.resolver.GetDriver(c.Request.Context(), id); err != nil {
		writeServiceError(c, err)
		return
	}
	list, err := h.ratings.ListByDriver(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"driver_id": id, "ratings": list})
}

func (h *FleetHandler) ListAmbulances(c *gin.Context) {
	var status fleet.AmbulanceStatus
	if v := c.Query("status"); v != "" {
		s, err := fleet.ParseAmbulanceStatus(v)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		status = s
	}
	list, err := h.resolver.ListAmbulances(c.Request.Context(), status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ambulances": list})
}

type ambulanceReq struct {
	PlateNumber string `json:"plate_number" binding:"required"`
	Type        string `json:"type"`
}

func (h *FleetHandler) PutAmbulance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req ambulanceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	a, err := h.resolver.UpsertAmbulance(c.Request.Context(), fleet.AmbulanceInput{
		ID:          id,
		PlateNumber: req.PlateNumber,
		Type:        req.Type,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}

func (h *FleetHandler) SetAmbulanceStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	status, err := fleet.ParseAmbulanceStatus(req.Status)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	a, err := h.resolver.SetAmbulanceStatus(c.Request.Context(), id, status)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, a)
}
