// README: Live booking tracker over websocket, fed by the event hub.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ambulance/internal/events"
	"ambulance/internal/modules/booking"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type TrackerHandler struct {
	ledger *booking.Ledger
	hub    *events.Hub
}

func NewTrackerHandler(ledger *booking.Ledger, hub *events.Hub) *TrackerHandler {
	return &TrackerHandler{ledger: ledger, hub: hub}
}

// Stream sends the current booking snapshot, then every lifecycle and payment
// event for the booking until the client goes away.
func (h *TrackerHandler) Stream(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, ok := loadVisible(c, h.ledger, id)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	snapshot := events.New(events.BookingSnapshot, b.ID, string(b.Status)).
		With("booking_code", b.Code).
		With("is_downpayment_paid", b.IsDownpaymentPaid).
		With("is_fully_paid", b.IsFullyPaid)
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}
	unsubscribe := h.hub.Subscribe(b.ID, conn)
	defer unsubscribe()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
