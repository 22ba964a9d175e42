// README: Per-zone rider route allowlist (which riders serve which zone) with Postgres and YAML sources.
package rider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"dispatch/internal/types"
)

// RouteSource loads zone id -> rider ids.
type RouteSource interface {
	LoadRoutes(ctx context.Context) (map[string][]types.ID, error)
}

// Routes answers which riders are assigned to a zone's route. Zones without
// entries are open to every rider.
type Routes struct {
	table atomic.Pointer[map[string]map[types.ID]struct{}]
}

func NewRoutes(byZone map[string][]types.ID) *Routes {
	r := &Routes{}
	r.Replace(byZone)
	return r
}

func (r *Routes) Replace(byZone map[string][]types.ID) {
	t := make(map[string]map[types.ID]struct{}, len(byZone))
	for zoneID, ids := range byZone {
		if len(ids) == 0 {
			continue
		}
		set := make(map[types.ID]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		t[zoneID] = set
	}
	r.table.Store(&t)
}

// Reload pulls routes from src. On error the current table stays active.
func (r *Routes) Reload(ctx context.Context, src RouteSource) (int, error) {
	byZone, err := src.LoadRoutes(ctx)
	if err != nil {
		return 0, err
	}
	r.Replace(byZone)
	return len(byZone), nil
}

// Filter keeps the riders routed to zoneID. When the zone has no routes, or
// none of its routed riders is among riders, the full list is returned.
func (r *Routes) Filter(zoneID string, riders []Rider) []Rider {
	set, ok := (*r.table.Load())[zoneID]
	if !ok {
		return riders
	}
	out := make([]Rider, 0, len(riders))
	for _, rd := range riders {
		if _, ok := set[rd.ID]; ok {
			out = append(out, rd)
		}
	}
	if len(out) == 0 {
		return riders
	}
	return out
}

type RouteStore struct {
	db *pgxpool.Pool
}

func NewRouteStore(db *pgxpool.Pool) *RouteStore {
	return &RouteStore{db: db}
}

func (s *RouteStore) LoadRoutes(ctx context.Context) (map[string][]types.ID, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT zone_id, rider_id FROM rider_routes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]types.ID{}
	for rows.Next() {
		var zoneID, riderID string
		if err := rows.Scan(&zoneID, &riderID); err != nil {
			return nil, err
		}
		out[zoneID] = append(out[zoneID], types.ID(riderID))
	}
	return out, rows.Err()
}

// RouteFileSource reads routes from YAML; a missing file means no routes:
//
//	routes:
//	  pune-central: [r1, r2]
type RouteFileSource struct {
	Path string
}

func (f RouteFileSource) LoadRoutes(_ context.Context) (map[string][]types.ID, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]types.ID{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	return ParseRoutesYAML(b)
}

func ParseRoutesYAML(b []byte) (map[string][]types.ID, error) {
	var doc struct {
		Routes map[string][]types.ID `yaml:"routes"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode routes yaml: %w", err)
	}
	if doc.Routes == nil {
		doc.Routes = map[string][]types.ID{}
	}
	return doc.Routes, nil
}
