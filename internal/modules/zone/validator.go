// README: Point-in-polygon zone membership (ray casting, boundary inclusive).
package zone

import (
	"math"

	"dispatch/internal/types"
)

// boundaryEpsilon is the tolerance, in degrees, for treating a point as lying on an edge.
const boundaryEpsilon = 1e-12

// Validator decides zone membership. The zero value is ready to use.
type Validator struct{}

// IsInside reports whether p lies inside or on the boundary of any zone.
// Every zone is validated first so a malformed zone fails the call even when
// an earlier zone would have matched.
func (Validator) IsInside(p types.Point, zones []Zone) (bool, error) {
	z, err := Validator{}.Locate(p, zones)
	if err != nil {
		return false, err
	}
	return z != nil, nil
}

// Locate returns the first zone containing p, or nil when p is outside all zones.
func (Validator) Locate(p types.Point, zones []Zone) (*Zone, error) {
	rings := make([][]types.Point, len(zones))
	for i := range zones {
		ring, err := normalizeRing(zones[i])
		if err != nil {
			return nil, err
		}
		rings[i] = ring
	}
	for i := range zones {
		if containsPoint(rings[i], p) {
			return &zones[i], nil
		}
	}
	return nil, nil
}

// Validate checks a single zone without testing any point.
func Validate(z Zone) error {
	_, err := normalizeRing(z)
	return err
}

// normalizeRing drops an explicit closing vertex and rejects rings that cannot
// enclose an area.
func normalizeRing(z Zone) ([]types.Point, error) {
	ring := z.Ring
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		ring = ring[:len(ring)-1]
	}
	for _, v := range ring {
		if !v.Valid() {
			return nil, &ConfigurationError{ZoneID: z.ID, Reason: "vertex out of range"}
		}
	}
	if distinctVertices(ring) < 3 {
		return nil, &ConfigurationError{ZoneID: z.ID, Reason: "polygon needs at least 3 distinct vertices"}
	}
	if math.Abs(signedArea(ring)) <= boundaryEpsilon {
		return nil, &ConfigurationError{ZoneID: z.ID, Reason: "polygon has zero area"}
	}
	return ring, nil
}

func distinctVertices(ring []types.Point) int {
	seen := make(map[types.Point]struct{}, len(ring))
	for _, v := range ring {
		seen[v] = struct{}{}
	}
	return len(seen)
}

func signedArea(ring []types.Point) float64 {
	var sum float64
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		sum += ring[j].Lng*ring[i].Lat - ring[i].Lng*ring[j].Lat
	}
	return sum / 2
}

// containsPoint runs an even-odd ray cast along +x (longitude). Points on an edge
// or vertex count as inside.
func containsPoint(ring []types.Point, p types.Point) bool {
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if onSegment(a, b, p) {
			return true
		}
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			x := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p types.Point) bool {
	cross := (b.Lng-a.Lng)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lng-a.Lng)
	if math.Abs(cross) > boundaryEpsilon {
		return false
	}
	return p.Lng >= math.Min(a.Lng, b.Lng)-boundaryEpsilon && p.Lng <= math.Max(a.Lng, b.Lng)+boundaryEpsilon &&
		p.Lat >= math.Min(a.Lat, b.Lat)-boundaryEpsilon && p.Lat <= math.Max(a.Lat, b.Lat)+boundaryEpsilon
}
