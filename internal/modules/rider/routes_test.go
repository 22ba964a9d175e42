package rider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dispatch/internal/types"
)

func ridersNamed(ids ...types.ID) []Rider {
	out := make([]Rider, len(ids))
	for i, id := range ids {
		out[i] = Rider{ID: id, Availability: Available}
	}
	return out
}

func idsOf(riders []Rider) []types.ID {
	out := make([]types.ID, len(riders))
	for i, r := range riders {
		out[i] = r.ID
	}
	return out
}

func TestRoutesFilter(t *testing.T) {
	routes := NewRoutes(map[string][]types.ID{
		"z1": {"r2", "r3"},
		"z2": {"r9"},
		"z3": {},
	})
	all := ridersNamed("r1", "r2", "r3")
	tests := []struct {
		name string
		zone string
		want []types.ID
	}{
		{"routed riders only, order kept", "z1", []types.ID{"r2", "r3"}},
		{"no routed rider nearby falls back", "z2", []types.ID{"r1", "r2", "r3"}},
		{"empty route list is open", "z3", []types.ID{"r1", "r2", "r3"}},
		{"zone without routes is open", "other", []types.ID{"r1", "r2", "r3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idsOf(routes.Filter(tt.zone, all))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestRouteFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	if err := os.WriteFile(path, []byte("routes:\n  z1: [r1, r2]\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	routes := NewRoutes(nil)
	n, err := routes.Reload(context.Background(), RouteFileSource{Path: path})
	if err != nil || n != 1 {
		t.Fatalf("reload: n=%d err=%v", n, err)
	}
	if got := idsOf(routes.Filter("z1", ridersNamed("r0", "r2"))); len(got) != 1 || got[0] != "r2" {
		t.Fatalf("unexpected filter result %v", got)
	}

	missing, err := RouteFileSource{Path: filepath.Join(dir, "absent.yaml")}.LoadRoutes(context.Background())
	if err != nil || len(missing) != 0 {
		t.Fatalf("missing file: %v %v", missing, err)
	}
	if _, err := ParseRoutesYAML([]byte("routes: [oops")); err == nil {
		t.Fatalf("expected decode error")
	}
}
