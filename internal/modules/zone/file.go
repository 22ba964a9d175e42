// README: Zone source backed by a YAML file.
package zone

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dispatch/internal/types"
)

type fileZone struct {
	ID               string        `yaml:"id"`
	Title            string        `yaml:"title"`
	MaxTravelMinutes int           `yaml:"max_travel_minutes"`
	Ring             []types.Point `yaml:"ring"`
}

type fileDoc struct {
	Zones []fileZone `yaml:"zones"`
}

// FileSource reads zones from a YAML document:
//
//	zones:
//	  - id: pune-central
//	    title: Pune Central
//	    max_travel_minutes: 25
//	    ring: [{lat: 18.49, lng: 73.80}, {lat: 18.49, lng: 73.90}, {lat: 18.56, lng: 73.90}]
type FileSource struct {
	Path string
}

func (f FileSource) LoadZones(_ context.Context) ([]Zone, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read zones file: %w", err)
	}
	return ParseYAML(b)
}

func ParseYAML(b []byte) ([]Zone, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("decode yaml: %v", err)}
	}
	zones := make([]Zone, 0, len(doc.Zones))
	for _, fz := range doc.Zones {
		if fz.ID == "" {
			return nil, &ConfigurationError{Reason: "zone without id"}
		}
		zones = append(zones, Zone{
			ID:        fz.ID,
			Title:     fz.Title,
			Ring:      fz.Ring,
			MaxTravel: time.Duration(fz.MaxTravelMinutes) * time.Minute,
		})
	}
	return zones, nil
}
