package preptime

import (
	"errors"
	"testing"
	"time"
)

func kitchenProfile(t *testing.T) Profile {
	t.Helper()
	p, err := NewProfile(map[string]time.Duration{
		"Burger": 10 * time.Minute,
		"fries":  5 * time.Minute,
		"Shake ": 3 * time.Minute,
	})
	if err != nil {
		t.Fatalf("new profile: %v", err)
	}
	return p
}

// Burger (10m) + Fries (5m) is ready after 10 minutes, not 15: items cook in parallel.
func TestEstimateReadyDuration_MaxNotSum(t *testing.T) {
	l := NewLookup(kitchenProfile(t))
	got, err := l.EstimateReadyDuration(map[string]int{"Burger": 1, "Fries": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10*time.Minute {
		t.Fatalf("ready = %v, want 10m", got)
	}
}

func TestEstimateReadyDuration_QuantityDoesNotStackUnderMax(t *testing.T) {
	l := NewLookup(kitchenProfile(t))
	got, err := l.EstimateReadyDuration(map[string]int{"fries": 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5*time.Minute {
		t.Fatalf("ready = %v, want 5m", got)
	}
}

func TestEstimateReadyDuration_SumAggregator(t *testing.T) {
	l := NewLookup(kitchenProfile(t), WithAggregator(SumAggregator{}))
	got, err := l.EstimateReadyDuration(map[string]int{"burger": 1, "fries": 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 20*time.Minute {
		t.Fatalf("ready = %v, want 20m", got)
	}
}

func TestEstimateReadyDuration_Normalization(t *testing.T) {
	l := NewLookup(kitchenProfile(t))
	got, err := l.EstimateReadyDuration(map[string]int{"  SHAKE": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 3*time.Minute {
		t.Fatalf("ready = %v, want 3m", got)
	}
}

func TestEstimateReadyDuration_Empty(t *testing.T) {
	l := NewLookup(kitchenProfile(t))
	got, err := l.EstimateReadyDuration(nil)
	if err != nil || got != 0 {
		t.Fatalf("empty order: got %v, err %v", got, err)
	}
}

func TestEstimateReadyDuration_UnknownItem(t *testing.T) {
	l := NewLookup(kitchenProfile(t))
	_, err := l.EstimateReadyDuration(map[string]int{"burger": 1, "paneer tikka": 1, "zebra cake": 1})
	if !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("expected unknown item error, got %v", err)
	}
	var unknown *UnknownItemError
	if !errors.As(err, &unknown) || unknown.Item != "paneer tikka" {
		t.Fatalf("expected first unknown item in name order, got %v", err)
	}
}

func TestEstimateReadyDuration_Fallback(t *testing.T) {
	l := NewLookup(kitchenProfile(t), WithFallback(10*time.Minute))
	got, err := l.EstimateReadyDuration(map[string]int{"fries": 1, "misal pav": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10*time.Minute {
		t.Fatalf("ready = %v, want 10m", got)
	}
}

func TestNewProfile_RejectsBadEntries(t *testing.T) {
	if _, err := NewProfile(map[string]time.Duration{"burger": 0}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("zero duration: expected configuration error, got %v", err)
	}
	if _, err := NewProfile(map[string]time.Duration{"  ": time.Minute}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("blank name: expected configuration error, got %v", err)
	}
}

func TestAggregatorByName(t *testing.T) {
	for name, want := range map[string]string{"": "max", "MAX": "max", "sum": "sum"} {
		a, err := AggregatorByName(name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if a.Name() != want {
			t.Errorf("%q resolved to %s, want %s", name, a.Name(), want)
		}
	}
	if _, err := AggregatorByName("median"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestReplaceSwapsTable(t *testing.T) {
	l := NewLookup(kitchenProfile(t))
	l.Replace(Profile{"thali": 25 * time.Minute})
	if _, err := l.EstimateReadyDuration(map[string]int{"burger": 1}); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("burger should be gone after replace, got %v", err)
	}
	got, err := l.EstimateReadyDuration(map[string]int{"Thali": 2})
	if err != nil || got != 25*time.Minute {
		t.Fatalf("thali: got %v, err %v", got, err)
	}
}

func TestParseYAML(t *testing.T) {
	p, err := ParseYAML([]byte("items:\n  Burger: 10\n  Fries: 5\n  Chai: 1.5\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p["burger"] != 10*time.Minute || p["fries"] != 5*time.Minute || p["chai"] != 90*time.Second {
		t.Fatalf("unexpected profile: %v", p)
	}
}
