// README: Zone store backed by PostgreSQL (zones table, "(lat,lng);(lat,lng)" coordinates text).
package zone

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) LoadZones(ctx context.Context) ([]Zone, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, title, coordinates, max_travel_minutes
        FROM zones
        WHERE status = 1
        ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []Zone
	for rows.Next() {
		var (
			id, title, coords string
			maxTravel         sql.NullInt32
		)
		if err := rows.Scan(&id, &title, &coords, &maxTravel); err != nil {
			return nil, err
		}
		ring, err := ParseCoordinates(coords)
		if err != nil {
			return nil, &ConfigurationError{ZoneID: id, Reason: err.Error()}
		}
		z := Zone{ID: id, Title: title, Ring: ring}
		if maxTravel.Valid && maxTravel.Int32 > 0 {
			z.MaxTravel = time.Duration(maxTravel.Int32) * time.Minute
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// ParseCoordinates reads "(lat,lng);(lat,lng);..." and also accepts the
// "(lat,lng),(lat,lng)" form used by older admin exports.
func ParseCoordinates(raw string) ([]types.Point, error) {
	normalized := strings.ReplaceAll(raw, "),(", ";")
	normalized = strings.ReplaceAll(normalized, "), (", ";")
	var ring []types.Point
	for _, part := range strings.Split(normalized, ";") {
		part = strings.Trim(strings.TrimSpace(part), "()")
		if part == "" {
			continue
		}
		latlng := strings.Split(part, ",")
		if len(latlng) != 2 {
			return nil, fmt.Errorf("bad vertex %q", part)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(latlng[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude in %q: %w", part, err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(latlng[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude in %q: %w", part, err)
		}
		ring = append(ring, types.Point{Lat: lat, Lng: lng})
	}
	return ring, nil
}
