// README: In-process zone set, swapped atomically when reference data is refreshed.
package zone

import (
	"context"
	"sync/atomic"

	"dispatch/internal/types"
)

// Source loads the current set of active zones (Postgres table or YAML file).
type Source interface {
	LoadZones(ctx context.Context) ([]Zone, error)
}

// Registry holds the zone set read by the assignment engine.
type Registry struct {
	validator Validator
	zones     atomic.Pointer[[]Zone]
}

func NewRegistry(zones []Zone) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(zones); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace validates and installs a new zone set. On error the previous set stays active.
func (r *Registry) Replace(zones []Zone) error {
	for _, z := range zones {
		if err := Validate(z); err != nil {
			return err
		}
	}
	cp := make([]Zone, len(zones))
	copy(cp, zones)
	r.zones.Store(&cp)
	return nil
}

// Reload pulls zones from src and installs them.
func (r *Registry) Reload(ctx context.Context, src Source) (int, error) {
	zones, err := src.LoadZones(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.Replace(zones); err != nil {
		return 0, err
	}
	return len(zones), nil
}

func (r *Registry) Zones() []Zone {
	p := r.zones.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (r *Registry) Locate(p types.Point) (*Zone, error) {
	return r.validator.Locate(p, r.Zones())
}

func (r *Registry) Get(id string) (*Zone, bool) {
	for _, z := range r.Zones() {
		if z.ID == id {
			zc := z
			return &zc, true
		}
	}
	return nil, false
}
