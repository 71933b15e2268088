// README: Rating handlers (patient rating, admin response).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ambulance/internal/http/middleware"
	"ambulance/internal/modules/rating"
	"ambulance/internal/types"
)

type RatingHandler struct {
	ratings *rating.Service
}

func NewRatingHandler(ratings *rating.Service) *RatingHandler {
	return &RatingHandler{ratings: ratings}
}

type rateReq struct {
	Score   int    `json:"score" binding:"required"`
	Comment string `json:"comment"`
}

func (h *RatingHandler) Create(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	r, err := h.ratings.Create(c.Request.Context(), rating.CreateCommand{
		BookingID: id,
		UserID:    types.ID(middleware.CallerUID(c)),
		Score:     req.Score,
		Comment:   req.Comment,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

type respondReq struct {
	Response string `json:"response" binding:"required"`
}

func (h *RatingHandler) Respond(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req respondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	r, err := h.ratings.Respond(c.Request.Context(), id, req.Response)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
