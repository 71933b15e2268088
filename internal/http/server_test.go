// README: End-to-end HTTP tests over in-memory services.
package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	httptransport "ambulance/internal/http"
	"ambulance/internal/http/middleware"
	"ambulance/internal/infra"
	"ambulance/internal/lock"
	"ambulance/internal/modules/booking"
	"ambulance/internal/modules/fleet"
	"ambulance/internal/modules/payment"
	"ambulance/internal/modules/pricing"
	"ambulance/internal/modules/rating"
)

// tokenVerifier accepts tokens of the form "role:uid".
type tokenVerifier struct{}

func (tokenVerifier) VerifyToken(_ context.Context, raw string) (*infra.Token, error) {
	role, uid, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, errors.New("bad token")
	}
	return &infra.Token{UID: uid, Role: role}, nil
}

const callbackSecret = "cb-secret"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	locker := lock.NewKeyedMutex()
	quoter := pricing.NewService(nil, pricing.Rate{BasePrice: 500000, PerKmRate: 5000, Downpayment: 3000, DownpaymentRounding: 1000})
	ledger := booking.NewLedger(booking.NewMemoryStore(), quoter, booking.Options{
		Locker: locker,
		Policy: booking.Policy{
			DPWindow:                24 * time.Hour,
			FinalPaymentLead:        2 * time.Hour,
			EmergencyGrace:          72 * time.Hour,
			EmergencyUnpaidComplete: true,
			AutoConfirm:             true,
		},
	})
	resolver := fleet.NewResolver(fleet.NewMemoryStore(), ledger, fleet.Options{Locker: locker})
	ledger.SetReleaser(resolver)
	reconciler := payment.NewReconciler(payment.NewMemoryStore(), ledger, payment.Options{Locker: locker})
	ratings := rating.NewService(rating.NewMemoryStore(), ledger, rating.Options{Locker: locker})

	return httptransport.NewServer(httptransport.ServerDeps{
		Bookings:      ledger,
		Payments:      reconciler,
		Fleet:         resolver,
		Ratings:       ratings,
		Pricing:       quoter,
		Verifier:      tokenVerifier{},
		CallbackToken: callbackSecret,
	}).Routes()
}

func doRequest(h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func expect(t *testing.T, w *httptest.ResponseRecorder, code int) map[string]any {
	t.Helper()
	if w.Code != code {
		t.Fatalf("expected %d, got %d: %s", code, w.Code, w.Body.String())
	}
	return decode(t, w)
}

const (
	patientTok = "patient:user-1"
	otherTok   = "patient:user-2"
	adminTok   = "admin:ops-1"
	driverTok  = "driver:drv-1"
)

func TestScheduledBookingPaymentFlow(t *testing.T) {
	h := newTestServer(t)
	scheduled := time.Now().UTC().Add(72 * time.Hour).Format(time.RFC3339)

	b := expect(t, doRequest(h, http.MethodPost, "/api/bookings", map[string]any{
		"type":         "scheduled",
		"patient":      map[string]any{"name": "Siti", "age": 70},
		"pickup":       map[string]any{"address": "Jl. Dago 12"},
		"destination":  map[string]any{"address": "RS Hasan Sadikin"},
		"contact":      map[string]any{"phone": "081211112222"},
		"scheduled_at": scheduled,
		"distance_km":  3.2,
	}, patientTok), http.StatusCreated)
	if b["total_amount"].(float64) != 516000 || b["downpayment_amount"].(float64) != 155000 {
		t.Fatalf("unexpected amounts %v / %v", b["total_amount"], b["downpayment_amount"])
	}
	id := b["id"].(string)

	p := expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/payments", map[string]any{
		"payment_type": "downpayment", "method": "va",
	}, patientTok), http.StatusCreated)
	if p["amount"].(float64) != 155000 || p["downpayment_percentage"].(float64) != 30 {
		t.Fatalf("unexpected payment %v", p)
	}
	txID := p["transaction_id"].(string)

	// A second downpayment while one is live is refused.
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/payments", map[string]any{
		"payment_type": "downpayment",
	}, patientTok), http.StatusConflict)

	cb := map[string]any{"transaction_id": txID, "status": "paid", "gateway_ref": "GW-1"}
	expect(t, doRequest(h, http.MethodPost, "/api/payments/callback", cb, ""), http.StatusUnauthorized)

	// Payloads missing a required field are rejected before any lookup.
	for _, body := range []string{`{"status":"paid"}`, `{"transaction_id":"` + txID + `"}`, `{"transaction_id":"` + txID + `","status":"paid"`} {
		bad := httptest.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(body))
		bad.Header.Set(middleware.CallbackTokenHeader, callbackSecret)
		bw := httptest.NewRecorder()
		h.ServeHTTP(bw, bad)
		if bw.Code != http.StatusBadRequest {
			t.Fatalf("callback %s: expected 400, got %d", body, bw.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/payments/callback", strings.NewReader(`{"transaction_id":"`+txID+`","status":"paid","gateway_ref":"GW-1"}`))
	req.Header.Set(middleware.CallbackTokenHeader, callbackSecret)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	expect(t, w, http.StatusOK)

	got := expect(t, doRequest(h, http.MethodGet, "/api/bookings/"+id, nil, patientTok), http.StatusOK)
	if got["status"] != "confirmed" || got["is_downpayment_paid"] != true || got["is_fully_paid"] != false {
		t.Fatalf("unexpected booking after downpayment: %v", got)
	}

	list := expect(t, doRequest(h, http.MethodGet, "/api/bookings/"+id+"/payments", nil, adminTok), http.StatusOK)
	if n := len(list["payments"].([]any)); n != 1 {
		t.Fatalf("expected 1 payment, got %d", n)
	}
}

func TestEmergencyLifecycleAndRating(t *testing.T) {
	h := newTestServer(t)

	expect(t, doRequest(h, http.MethodPut, "/api/ambulances/amb-1", map[string]any{"plate_number": "D 1111 AA", "type": "ALS"}, adminTok), http.StatusOK)
	expect(t, doRequest(h, http.MethodPut, "/api/drivers/drv-1", map[string]any{
		"name": "Joko", "hire_date": "2019-05-01T00:00:00Z", "ambulance_id": "amb-1",
	}, adminTok), http.StatusOK)

	b := expect(t, doRequest(h, http.MethodPost, "/api/bookings", map[string]any{
		"type":        "emergency",
		"priority":    "critical",
		"patient":     map[string]any{"name": "Budi", "age": 45},
		"pickup":      map[string]any{"address": "Jl. Asia Afrika 8"},
		"contact":     map[string]any{"phone": "081298765432"},
		"distance_km": 5.1,
	}, patientTok), http.StatusCreated)
	if b["total_amount"].(float64) != 525500 || b["downpayment_amount"] != nil {
		t.Fatalf("unexpected emergency amounts: %v", b)
	}
	id := b["id"].(string)

	// The driver cannot act before being assigned.
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/dispatch", nil, driverTok), http.StatusForbidden)

	assigned := expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/assign", nil, adminTok), http.StatusOK)
	if assigned["driver_id"] != "drv-1" || assigned["ambulance_id"] != "amb-1" {
		t.Fatalf("unexpected assignment %v", assigned)
	}
	// The only pair is busy now.
	expect(t, doRequest(h, http.MethodPost, "/api/drivers/drv-1/status", map[string]any{"status": "offline"}, adminTok), http.StatusConflict)

	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/confirm", nil, adminTok), http.StatusOK)
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/dispatch", nil, driverTok), http.StatusOK)
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/arrive", nil, driverTok), http.StatusOK)

	// Rating before completion is a conflict.
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/rating", map[string]any{"score": 5}, patientTok), http.StatusConflict)

	done := expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/complete", nil, driverTok), http.StatusOK)
	if done["status"] != "completed" {
		t.Fatalf("expected completed, got %v", done["status"])
	}
	drivers := expect(t, doRequest(h, http.MethodGet, "/api/drivers?status=available", nil, adminTok), http.StatusOK)
	if n := len(drivers["drivers"].([]any)); n != 1 {
		t.Fatalf("driver should be available again, got %d", n)
	}

	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/rating", map[string]any{"score": 5}, otherTok), http.StatusForbidden)
	r := expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/rating", map[string]any{"score": 5, "comment": "fast"}, patientTok), http.StatusCreated)
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/rating", map[string]any{"score": 4}, patientTok), http.StatusConflict)
	expect(t, doRequest(h, http.MethodPost, "/api/ratings/"+r["id"].(string)+"/response", map[string]any{"response": "Thank you"}, adminTok), http.StatusOK)

	hist := expect(t, doRequest(h, http.MethodGet, "/api/bookings/"+id+"/history", nil, patientTok), http.StatusOK)
	if n := len(hist["events"].([]any)); n != 5 {
		t.Fatalf("expected 5 history rows, got %d", n)
	}
}

func TestAccessControlAndErrors(t *testing.T) {
	h := newTestServer(t)

	expect(t, doRequest(h, http.MethodGet, "/api/bookings", nil, ""), http.StatusUnauthorized)
	expect(t, doRequest(h, http.MethodGet, "/api/bookings", nil, patientTok), http.StatusForbidden)
	expect(t, doRequest(h, http.MethodGet, "/api/bookings", nil, adminTok), http.StatusOK)

	bad := expect(t, doRequest(h, http.MethodPost, "/api/bookings", map[string]any{
		"type":        "emergency",
		"patient":     map[string]any{"name": "X"},
		"pickup":      map[string]any{"address": ""},
		"contact":     map[string]any{"phone": "0812"},
		"distance_km": 1,
	}, patientTok), http.StatusBadRequest)
	if bad["field"] != "pickup.address" {
		t.Fatalf("expected pickup.address field error, got %v", bad)
	}
	expect(t, doRequest(h, http.MethodPost, "/api/bookings", map[string]any{"type": "taxi"}, patientTok), http.StatusBadRequest)

	b := expect(t, doRequest(h, http.MethodPost, "/api/bookings", map[string]any{
		"type":        "emergency",
		"patient":     map[string]any{"name": "Dewi"},
		"pickup":      map[string]any{"address": "Jl. Riau 3"},
		"contact":     map[string]any{"phone": "0812"},
		"distance_km": 2,
	}, patientTok), http.StatusCreated)
	id := b["id"].(string)
	if b["total_amount"].(float64) != 510000 {
		t.Fatalf("unexpected total %v", b["total_amount"])
	}

	expect(t, doRequest(h, http.MethodGet, "/api/bookings/"+id, nil, otherTok), http.StatusForbidden)
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/cancel", nil, otherTok), http.StatusForbidden)
	expect(t, doRequest(h, http.MethodGet, "/api/bookings/missing-id", nil, adminTok), http.StatusNotFound)

	// No free pair for auto assignment.
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/assign", nil, adminTok), http.StatusConflict)
	// Emergency bookings take no downpayment.
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/payments", map[string]any{"payment_type": "downpayment"}, patientTok), http.StatusConflict)

	cancelled := expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/cancel", map[string]any{"reason": "recovered"}, patientTok), http.StatusOK)
	if cancelled["status"] != "cancelled" {
		t.Fatalf("expected cancelled, got %v", cancelled["status"])
	}
	expect(t, doRequest(h, http.MethodPost, "/api/bookings/"+id+"/cancel", nil, patientTok), http.StatusConflict)

	q := expect(t, doRequest(h, http.MethodGet, "/api/pricing/quote?distance_km=3.2&type=scheduled", nil, patientTok), http.StatusOK)
	if q["total_amount"].(float64) != 516000 || q["downpayment_amount"].(float64) != 155000 {
		t.Fatalf("unexpected quote %v", q)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	w := doRequest(h, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Fatalf("unexpected health response %d %q", w.Code, w.Body.String())
	}
}
