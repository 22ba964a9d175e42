// README: Preparation-time profiles, aggregation strategies and lookup errors.
package preptime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownItem   = errors.New("unknown item")
	ErrConfiguration = errors.New("prep table configuration error")
)

type UnknownItemError struct {
	Item string
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("unknown item %q: no preparation time on record", e.Item)
}

func (e *UnknownItemError) Unwrap() error { return ErrUnknownItem }

type ConfigurationError struct {
	Item   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("prep table entry %q: %s", e.Item, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// Profile maps a normalized item name to its preparation duration.
type Profile map[string]time.Duration

// NewProfile normalizes keys and rejects entries that cannot be used.
func NewProfile(entries map[string]time.Duration) (Profile, error) {
	p := make(Profile, len(entries))
	for name, d := range entries {
		key := NormalizeItem(name)
		if key == "" {
			return nil, &ConfigurationError{Item: name, Reason: "empty item name"}
		}
		if d <= 0 {
			return nil, &ConfigurationError{Item: name, Reason: "duration must be positive"}
		}
		p[key] = d
	}
	return p, nil
}

func NormalizeItem(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ItemPrep is one resolved line of an order.
type ItemPrep struct {
	Item     string
	Quantity int
	Duration time.Duration
}

// Aggregator folds per-item preparation durations into the order's ready duration.
type Aggregator interface {
	Aggregate(lines []ItemPrep) time.Duration
	Name() string
}

// MaxAggregator assumes the kitchen prepares items in parallel: the order is ready
// when its slowest item is. Quantity does not extend the duration.
type MaxAggregator struct{}

func (MaxAggregator) Aggregate(lines []ItemPrep) time.Duration {
	var longest time.Duration
	for _, l := range lines {
		if l.Duration > longest {
			longest = l.Duration
		}
	}
	return longest
}

func (MaxAggregator) Name() string { return "max" }

// SumAggregator assumes items are prepared one after another, each unit in turn.
type SumAggregator struct{}

func (SumAggregator) Aggregate(lines []ItemPrep) time.Duration {
	var total time.Duration
	for _, l := range lines {
		qty := l.Quantity
		if qty < 1 {
			qty = 1
		}
		total += time.Duration(qty) * l.Duration
	}
	return total
}

func (SumAggregator) Name() string { return "sum" }

// AggregatorByName resolves the PREP_AGGREGATION setting.
func AggregatorByName(name string) (Aggregator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "max":
		return MaxAggregator{}, nil
	case "sum":
		return SumAggregator{}, nil
	default:
		return nil, &ConfigurationError{Item: name, Reason: "unknown aggregation strategy"}
	}
}
