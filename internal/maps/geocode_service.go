// README: Google Geocoding adapter implementing geo.Geocoder for order intake.
package maps

import (
	"context"
	"strings"

	"golang.org/x/time/rate"
	"googlemaps.github.io/maps"

	"dispatch/internal/modules/geo"
	"dispatch/internal/types"
)

// GeocodeService resolves pickup and drop-off addresses. It shares the
// DistanceOption knobs with DistanceService but keeps its own limiter.
type GeocodeService struct {
	client  *maps.Client
	limiter *rate.Limiter
	region  string
}

func NewGeocodeService(apiKey string, opts ...DistanceOption) (*GeocodeService, error) {
	client, limiter, err := newClient(apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &GeocodeService{client: client, limiter: limiter, region: "in"}, nil
}

// Geocode returns the location of the first match for address.
func (s *GeocodeService) Geocode(ctx context.Context, address string) (types.Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return types.Point{}, geo.ErrAddressNotFound
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return types.Point{}, &geo.TransientError{Reason: "rate limiter", Err: err}
	}

	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{Address: address, Region: s.region})
	if err != nil {
		return types.Point{}, classifyAPIError(err)
	}
	if len(results) == 0 {
		return types.Point{}, geo.ErrAddressNotFound
	}
	loc := results[0].Geometry.Location
	p := types.Point{Lat: loc.Lat, Lng: loc.Lng}
	if !p.Valid() {
		return types.Point{}, &geo.PermanentError{Reason: "geocoder returned invalid coordinates"}
	}
	return p, nil
}
