// README: Pricing handlers (fare quote, active rate).
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ambulance/internal/modules/pricing"
	"ambulance/internal/types"
)

type PricingHandler struct {
	pricing *pricing.Service
}

func NewPricingHandler(svc *pricing.Service) *PricingHandler {
	return &PricingHandler{pricing: svc}
}

type quoteResp struct {
	BasePrice         types.Money  `json:"base_price"`
	DistanceKm        float64      `json:"distance_km"`
	DistancePrice     types.Money  `json:"distance_price"`
	TotalAmount       types.Money  `json:"total_amount"`
	DownpaymentAmount *types.Money `json:"downpayment_amount,omitempty"`
}

// Quote serves ?distance_km=3.2&type=scheduled
func (h *PricingHandler) Quote(c *gin.Context) {
	km, err := strconv.ParseFloat(c.Query("distance_km"), 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid distance_km")
		return
	}
	q, err := h.pricing.Quote(km, c.Query("type") == "scheduled")
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, quoteResp{
		BasePrice:         q.BasePrice,
		DistanceKm:        q.DistanceKm,
		DistancePrice:     q.DistancePrice,
		TotalAmount:       q.TotalAmount,
		DownpaymentAmount: q.DownpaymentAmount,
	})
}

func (h *PricingHandler) GetRate(c *gin.Context) {
	writeJSON(c, http.StatusOK, h.pricing.Rate())
}

func (h *PricingHandler) PutRate(c *gin.Context) {
	var r pricing.Rate
	if err := c.ShouldBindJSON(&r); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.pricing.UpdateRate(c.Request.Context(), r); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, h.pricing.Rate())
}
