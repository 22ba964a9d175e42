package maps

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dispatch/internal/modules/geo"
	"dispatch/internal/types"
)

var (
	riderPos = types.Point{Lat: 18.5314, Lng: 73.8446}
	pickup   = types.Point{Lat: 18.5204, Lng: 73.8567}
)

func newTestService(t *testing.T, body string, status int) *DistanceService {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "distancematrix") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	svc, err := NewDistanceService("AIzaTestKey", WithBaseURL(srv.URL), WithQPS(0, 1))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestEstimateTravel_OK(t *testing.T) {
	svc := newTestService(t, `{"status":"OK","origin_addresses":["a"],"destination_addresses":["b"],
"rows":[{"elements":[{"status":"OK","distance":{"text":"2.1 km","value":2100},"duration":{"text":"8 mins","value":480}}]}]}`, http.StatusOK)
	got, err := svc.EstimateTravel(context.Background(), riderPos, pickup)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DistanceMeters != 2100 || got.Duration != 8*time.Minute {
		t.Fatalf("unexpected travel %+v", got)
	}
}

func TestEstimateTravel_ZeroResultsIsPermanent(t *testing.T) {
	svc := newTestService(t, `{"status":"OK","origin_addresses":["a"],"destination_addresses":["b"],
"rows":[{"elements":[{"status":"ZERO_RESULTS"}]}]}`, http.StatusOK)
	_, err := svc.EstimateTravel(context.Background(), riderPos, pickup)
	if !geo.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestEstimateTravel_OverQueryLimitIsTransient(t *testing.T) {
	svc := newTestService(t, `{"status":"OVER_QUERY_LIMIT","error_message":"slow down","rows":[]}`, http.StatusOK)
	_, err := svc.EstimateTravel(context.Background(), riderPos, pickup)
	if !errors.Is(err, geo.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestEstimateTravel_InvalidCoordinates(t *testing.T) {
	svc := newTestService(t, `{}`, http.StatusOK)
	_, err := svc.EstimateTravel(context.Background(), types.Point{Lat: 123, Lng: 0}, pickup)
	if !geo.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		err       error
		permanent bool
	}{
		{context.DeadlineExceeded, false},
		{errors.New("maps: OVER_QUERY_LIMIT - quota"), false},
		{errors.New("maps: INVALID_REQUEST - bad origin"), true},
		{errors.New("maps: REQUEST_DENIED - key"), true},
		{errors.New("something odd"), false},
	}
	for _, tt := range tests {
		got := classifyAPIError(tt.err)
		if geo.IsPermanent(got) != tt.permanent {
			t.Errorf("classifyAPIError(%v) permanent = %v, want %v", tt.err, geo.IsPermanent(got), tt.permanent)
		}
	}
}

func TestDirectionsURL(t *testing.T) {
	got := DirectionsURL(riderPos, pickup)
	want := "https://www.google.com/maps/dir/?api=1&origin=18.531400,73.844600&destination=18.520400,73.856700&travelmode=driving"
	if got != want {
		t.Fatalf("DirectionsURL = %s", got)
	}
	via := DirectionsURL(riderPos, types.Point{Lat: 1, Lng: 2}, pickup, types.Point{Lat: 3, Lng: 4})
	if !strings.HasSuffix(via, "&waypoints=18.520400,73.856700%7C3.000000,4.000000") {
		t.Fatalf("waypoints missing: %s", via)
	}
}
