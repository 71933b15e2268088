package events

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"ambulance/internal/types"
)

type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

// Hub pushes events to websocket clients watching a booking. It backs the live
// booking tracker.
type Hub struct {
	mu       sync.RWMutex
	sessions map[types.ID]map[*session]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[types.ID]map[*session]struct{})}
}

func (h *Hub) Name() string { return "websocket" }

// Subscribe registers conn for bookingID and returns a function that removes it.
func (h *Hub) Subscribe(bookingID types.ID, conn *websocket.Conn) func() {
	s := &session{conn: conn}
	h.mu.Lock()
	set, ok := h.sessions[bookingID]
	if !ok {
		set = make(map[*session]struct{})
		h.sessions[bookingID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return func() { h.remove(bookingID, s) }
}

func (h *Hub) remove(bookingID types.ID, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[bookingID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.sessions, bookingID)
	}
}

func (h *Hub) Subscribers(bookingID types.ID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[bookingID])
}

func (h *Hub) Deliver(_ context.Context, e Event) error {
	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions[e.BookingID]))
	for s := range h.sessions[e.BookingID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(e); err != nil {
			h.remove(e.BookingID, s)
			_ = s.conn.Close()
		}
	}
	return nil
}
