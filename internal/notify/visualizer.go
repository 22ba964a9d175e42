// README: Visualization sink publishing assignment paths on Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/maps"
	"dispatch/internal/modules/assignment"
	"dispatch/internal/types"
)

const VisualizationChannel = "viz:assignments"

// Marker is one assignment as drawn on a map: rider to pickup to drop-off.
type Marker struct {
	OrderID          types.ID      `json:"orderId"`
	RiderID          types.ID      `json:"riderId"`
	Pickup           types.Point   `json:"pickup"`
	Dropoff          types.Point   `json:"dropoff"`
	Path             []types.Point `json:"path"`
	DirectionsURL    string        `json:"directionsUrl"`
	PickupETASeconds int64         `json:"pickupEtaSeconds"`
}

func NewMarker(rec assignment.Record) (Marker, bool) {
	a := rec.Outcome.Assigned
	if a == nil {
		return Marker{}, false
	}
	o := rec.Order
	return Marker{
		OrderID:          o.ID,
		RiderID:          a.RiderID,
		Pickup:           o.Pickup,
		Dropoff:          o.Dropoff,
		Path:             []types.Point{a.RiderPosition, o.Pickup, o.Dropoff},
		DirectionsURL:    maps.DirectionsURL(a.RiderPosition, o.Dropoff, o.Pickup),
		PickupETASeconds: int64(a.PickupETA.Seconds()),
	}, true
}

type RedisVisualizer struct {
	redis   *redis.Client
	channel string
}

func NewRedisVisualizer(client *redis.Client) *RedisVisualizer {
	return &RedisVisualizer{redis: client, channel: VisualizationChannel}
}

func (v *RedisVisualizer) Name() string { return "visualizer" }

func (v *RedisVisualizer) Record(ctx context.Context, rec assignment.Record) error {
	m, ok := NewMarker(rec)
	if !ok {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return v.redis.Publish(ctx, v.channel, b).Err()
}
