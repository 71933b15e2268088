// README: Payment handlers (intents, listing, gateway callback).
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"ambulance/internal/modules/booking"
	"ambulance/internal/modules/payment"
	"ambulance/internal/types"
)

type PaymentHandler struct {
	ledger     *booking.Ledger
	reconciler *payment.Reconciler
}

func NewPaymentHandler(ledger *booking.Ledger, reconciler *payment.Reconciler) *PaymentHandler {
	return &PaymentHandler{ledger: ledger, reconciler: reconciler}
}

type intentReq struct {
	Type       string     `json:"payment_type" binding:"required,oneof=downpayment full_payment"`
	Method     string     `json:"method"`
	Amount     *int64     `json:"amount" binding:"omitempty,gt=0"`
	ExpiresAt  *time.Time `json:"expires_at"`
	GatewayRef string     `json:"gateway_ref"`
}

func (h *PaymentHandler) Record(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, ok := loadVisible(c, h.ledger, id); !ok {
		return
	}
	var req intentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	cmd := payment.IntentCommand{
		BookingID:  id,
		Type:       payment.Type(req.Type),
		Method:     req.Method,
		ExpiresAt:  req.ExpiresAt,
		GatewayRef: req.GatewayRef,
	}
	if req.Amount != nil {
		amt := types.Money(*req.Amount)
		cmd.Amount = &amt
	}
	p, err := h.reconciler.RecordPaymentIntent(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, p)
}

func (h *PaymentHandler) List(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if _, ok := loadVisible(c, h.ledger, id); !ok {
		return
	}
	ps, err := h.reconciler.ListByBooking(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"booking_id": id, "payments": ps})
}

type callbackReq struct {
	TransactionID string     `json:"transaction_id" binding:"required"`
	Status        string     `json:"status" binding:"required"`
	PaidAt        *time.Time `json:"paid_at"`
	GatewayRef    string     `json:"gateway_ref"`
}

// Callback records a gateway outcome. The raw body is stored with the payment.
func (h *PaymentHandler) Callback(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		writeError(c, http.StatusBadRequest, "unreadable body")
		return
	}
	var req callbackReq
	if err := binding.JSON.BindBody(raw, &req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid callback payload")
		return
	}
	status, err := payment.ParseStatus(req.Status)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.reconciler.ApplyGatewayCallback(c.Request.Context(), payment.CallbackCommand{
		TransactionID: types.ID(req.TransactionID),
		Status:        status,
		PaidAt:        req.PaidAt,
		GatewayRef:    req.GatewayRef,
		Payload:       json.RawMessage(raw),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}
