// README: Road distance between pickup and destination via the Google Maps Directions API.
package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"ambulance/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// directionsClient is the subset of *maps.Client the route service calls.
type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client directionsClient
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// TravelEstimate returns the driving duration and distance in kilometres of the
// first route from origin to destination.
func (s *RouteService) TravelEstimate(ctx context.Context, origin, destination types.Point) (time.Duration, float64, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
		Language:    "id",
		Region:      "ID",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, 0, ErrNoRoute
	}

	leg := routes[0].Legs[0]
	return leg.Duration, float64(leg.Distance.Meters) / 1000, nil
}

func (s *RouteService) DistanceKm(ctx context.Context, from, to types.Point) (float64, error) {
	_, km, err := s.TravelEstimate(ctx, from, to)
	return km, err
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}

// Estimator returns the road distance when a route service is configured and
// falls back to the great-circle distance otherwise or when the lookup fails.
type Estimator struct {
	route *RouteService
	log   *zap.Logger
}

// NewEstimator accepts a nil route for haversine-only estimation.
func NewEstimator(route *RouteService, log *zap.Logger) *Estimator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Estimator{route: route, log: log}
}

func (e *Estimator) DistanceKm(ctx context.Context, from, to types.Point) (float64, error) {
	if e.route != nil {
		km, err := e.route.DistanceKm(ctx, from, to)
		if err == nil {
			return km, nil
		}
		e.log.Warn("route lookup failed, using straight-line distance", zap.Error(err))
	}
	return HaversineKm(from, to), nil
}
