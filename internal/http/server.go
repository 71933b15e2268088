// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"ambulance/internal/events"
	"ambulance/internal/http/handlers"
	"ambulance/internal/http/middleware"
	"ambulance/internal/infra"
	"ambulance/internal/modules/booking"
	"ambulance/internal/modules/fleet"
	"ambulance/internal/modules/payment"
	"ambulance/internal/modules/pricing"
	"ambulance/internal/modules/rating"
)

type ServerDeps struct {
	Bookings *booking.Ledger
	Payments *payment.Reconciler
	Fleet    *fleet.Resolver
	Ratings  *rating.Service
	Pricing  *pricing.Service
	Hub      *events.Hub
	Verifier infra.TokenVerifier
	// CallbackToken guards the gateway callback; empty disables the check.
	CallbackToken string
	Logger        *zap.Logger
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Hub == nil {
		deps.Hub = events.NewHub()
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.deps.Logger), middleware.Logging(s.deps.Logger), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	bookingH := handlers.NewBookingHandler(s.deps.Bookings, s.deps.Fleet)
	paymentH := handlers.NewPaymentHandler(s.deps.Bookings, s.deps.Payments)
	fleetH := handlers.NewFleetHandler(s.deps.Fleet, s.deps.Ratings)
	ratingH := handlers.NewRatingHandler(s.deps.Ratings)
	pricingH := handlers.NewPricingHandler(s.deps.Pricing)
	trackerH := handlers.NewTrackerHandler(s.deps.Bookings, s.deps.Hub)

	// Gateways authenticate with the shared token, not a user bearer token.
	r.POST("/api/payments/callback", middleware.CallbackToken(s.deps.CallbackToken), paymentH.Callback)

	const (
		patient = middleware.RolePatient
		driver  = middleware.RoleDriver
		admin   = middleware.RoleAdmin
	)
	role := middleware.RequireRole

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))
	{
		api.GET("/pricing/quote", pricingH.Quote)
		api.GET("/pricing/rate", role(admin), pricingH.GetRate)
		api.PUT("/pricing/rate", role(admin), pricingH.PutRate)

		api.POST("/bookings", role(patient, admin), bookingH.Create)
		api.GET("/bookings", role(admin), bookingH.List)
		api.GET("/bookings/:id", bookingH.Get)
		api.GET("/bookings/:id/history", bookingH.History)
		api.POST("/bookings/:id/confirm", role(admin), bookingH.Confirm)
		api.POST("/bookings/:id/assign", role(admin), bookingH.Assign)
		api.POST("/bookings/:id/dispatch", role(admin, driver), bookingH.Dispatch)
		api.POST("/bookings/:id/arrive", role(driver, admin), bookingH.Arrive)
		api.POST("/bookings/:id/complete", role(driver, admin), bookingH.Complete)
		api.POST("/bookings/:id/cancel", role(patient, admin), bookingH.Cancel)

		api.POST("/bookings/:id/payments", role(patient, admin), paymentH.Record)
		api.GET("/bookings/:id/payments", paymentH.List)

		api.POST("/bookings/:id/rating", role(patient), ratingH.Create)
		api.POST("/ratings/:id/response", role(admin), ratingH.Respond)

		api.GET("/drivers", role(admin), fleetH.ListDrivers)
		api.PUT("/drivers/:id", role(admin), fleetH.PutDriver)
		api.POST("/drivers/:id/status", role(admin), fleetH.SetDriverStatus)
		api.GET("/drivers/:id/ratings", role(admin), fleetH.DriverRatings)
		api.GET("/ambulances", role(admin), fleetH.ListAmbulances)
		api.PUT("/ambulances/:id", role(admin), fleetH.PutAmbulance)
		api.POST("/ambulances/:id/status", role(admin), fleetH.SetAmbulanceStatus)
	}

	r.GET("/ws/bookings/:id", middleware.Auth(s.deps.Verifier), trackerH.Stream)
	return r
}
