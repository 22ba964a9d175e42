// README: Straight-line travel estimator for offline runs and benchmarks.
package geo

import (
	"context"
	"time"

	"dispatch/internal/types"
)

// Haversine estimates travel as great-circle distance at a constant speed,
// stretched by a detour factor to approximate road distance.
type Haversine struct {
	SpeedKmh     float64
	DetourFactor float64
}

func NewHaversine(speedKmh float64) Haversine {
	return Haversine{SpeedKmh: speedKmh, DetourFactor: 1.3}
}

func (h Haversine) EstimateTravel(ctx context.Context, origin, destination types.Point) (Travel, error) {
	if err := ctx.Err(); err != nil {
		return Travel{}, &TransientError{Reason: "context done", Err: err}
	}
	if !origin.Valid() || !destination.Valid() {
		return Travel{}, &PermanentError{Reason: "invalid coordinates"}
	}
	if h.SpeedKmh <= 0 {
		return Travel{}, &PermanentError{Reason: "non-positive speed"}
	}
	factor := h.DetourFactor
	if factor < 1 {
		factor = 1
	}
	km := types.HaversineKm(origin, destination) * factor
	hours := km / h.SpeedKmh
	return Travel{
		DistanceMeters: int(km * 1000),
		Duration:       time.Duration(hours * float64(time.Hour)).Round(time.Second),
	}, nil
}
