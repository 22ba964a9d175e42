// README: Google Distance Matrix adapter implementing geo.Estimator.
package maps

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"dispatch/internal/modules/geo"
	"dispatch/internal/types"
)

// DistanceService estimates rider travel with the Distance Matrix API (driving mode).
type DistanceService struct {
	client  *maps.Client
	limiter *rate.Limiter
}

type DistanceOption func(*distanceConfig)

type distanceConfig struct {
	qps     float64
	burst   int
	baseURL string
}

// WithQPS paces outgoing requests; Google rejects bursts with OVER_QUERY_LIMIT.
func WithQPS(qps float64, burst int) DistanceOption {
	return func(c *distanceConfig) {
		c.qps = qps
		c.burst = burst
	}
}

func WithBaseURL(u string) DistanceOption {
	return func(c *distanceConfig) { c.baseURL = u }
}

// NewDistanceService creates a DistanceService with the given API Key.
func NewDistanceService(apiKey string, opts ...DistanceOption) (*DistanceService, error) {
	client, limiter, err := newClient(apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &DistanceService{client: client, limiter: limiter}, nil
}

func newClient(apiKey string, opts []DistanceOption) (*maps.Client, *rate.Limiter, error) {
	cfg := distanceConfig{qps: 10, burst: 10}
	for _, opt := range opts {
		opt(&cfg)
	}
	clientOpts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(cfg.baseURL))
	}
	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	limit := rate.Inf
	if cfg.qps > 0 {
		limit = rate.Limit(cfg.qps)
	}
	if cfg.burst < 1 {
		cfg.burst = 1
	}
	return client, rate.NewLimiter(limit, cfg.burst), nil
}

func (s *DistanceService) EstimateTravel(ctx context.Context, origin, destination types.Point) (geo.Travel, error) {
	if !origin.Valid() || !destination.Valid() {
		return geo.Travel{}, &geo.PermanentError{Reason: "invalid coordinates"}
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return geo.Travel{}, &geo.TransientError{Reason: "rate limiter", Err: err}
	}

	resp, err := s.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{origin.String()},
		Destinations: []string{destination.String()},
		Mode:         maps.TravelModeDriving,
	})
	if err != nil {
		return geo.Travel{}, classifyAPIError(err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return geo.Travel{}, &geo.TransientError{Reason: "empty distance matrix"}
	}

	el := resp.Rows[0].Elements[0]
	if err := classifyElementStatus(el.Status); err != nil {
		return geo.Travel{}, err
	}
	return geo.Travel{DistanceMeters: el.Distance.Meters, Duration: el.Duration}, nil
}

// classifyElementStatus maps per-element statuses: NOT_FOUND and ZERO_RESULTS
// will not change on retry.
func classifyElementStatus(status string) error {
	switch status {
	case "OK":
		return nil
	case "NOT_FOUND", "ZERO_RESULTS", "MAX_ROUTE_LENGTH_EXCEEDED":
		return &geo.PermanentError{Reason: status}
	default:
		return &geo.TransientError{Reason: "element status " + status}
	}
}

func classifyAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &geo.TransientError{Reason: "timeout", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &geo.TransientError{Reason: "network", Err: err}
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "OVER_QUERY_LIMIT"), strings.Contains(msg, "OVER_DAILY_LIMIT"), strings.Contains(msg, "UNKNOWN_ERROR"):
		return &geo.TransientError{Reason: "quota or upstream", Err: err}
	case strings.Contains(msg, "INVALID_REQUEST"), strings.Contains(msg, "REQUEST_DENIED"), strings.Contains(msg, "MAX_ELEMENTS_EXCEEDED"):
		return &geo.PermanentError{Reason: "rejected request", Err: err}
	default:
		return &geo.TransientError{Reason: "maps api error", Err: err}
	}
}

// DirectionsURL builds a Google Maps directions link for driving from origin to
// destination, optionally through waypoints.
func DirectionsURL(origin, destination types.Point, waypoints ...types.Point) string {
	u := fmt.Sprintf("https://www.google.com/maps/dir/?api=1&origin=%s&destination=%s&travelmode=driving",
		origin.String(), destination.String())
	if len(waypoints) > 0 {
		parts := make([]string, len(waypoints))
		for i, w := range waypoints {
			parts[i] = w.String()
		}
		u += "&waypoints=" + strings.Join(parts, "%7C")
	}
	return u
}
