package zone

import (
	"errors"
	"testing"
	"time"

	"dispatch/internal/types"
)

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []types.Point
	}{
		{"semicolon form", "(18.5,73.8);(18.5,73.9);(18.6,73.9)", []types.Point{{Lat: 18.5, Lng: 73.8}, {Lat: 18.5, Lng: 73.9}, {Lat: 18.6, Lng: 73.9}}},
		{"comma form", "(18.5,73.8),(18.5,73.9),(18.6,73.9)", []types.Point{{Lat: 18.5, Lng: 73.8}, {Lat: 18.5, Lng: 73.9}, {Lat: 18.6, Lng: 73.9}}},
		{"spaces", " (18.5, 73.8) ; (18.5, 73.9) ; (18.6, 73.9) ", []types.Point{{Lat: 18.5, Lng: 73.8}, {Lat: 18.5, Lng: 73.9}, {Lat: 18.6, Lng: 73.9}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCoordinates(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d vertices, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("vertex %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseCoordinates_Malformed(t *testing.T) {
	if _, err := ParseCoordinates("(18.5;73.8)"); err == nil {
		t.Fatal("expected error for vertex without comma")
	}
	if _, err := ParseCoordinates("(abc,73.8);(1,2);(3,4)"); err == nil {
		t.Fatal("expected error for non-numeric latitude")
	}
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
zones:
  - id: pune-central
    title: Pune Central
    max_travel_minutes: 25
    ring:
      - {lat: 18.49, lng: 73.80}
      - {lat: 18.49, lng: 73.90}
      - {lat: 18.56, lng: 73.90}
`)
	zones, err := ParseYAML(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(zones) != 1 {
		t.Fatalf("expected 1 zone, got %d", len(zones))
	}
	z := zones[0]
	if z.ID != "pune-central" || len(z.Ring) != 3 || z.MaxTravel != 25*time.Minute {
		t.Fatalf("unexpected zone: %+v", z)
	}
}

func TestParseYAML_MissingID(t *testing.T) {
	_, err := ParseYAML([]byte("zones:\n  - title: nameless\n"))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
