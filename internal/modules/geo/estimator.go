// README: Travel estimation contract and its transient/permanent failure taxonomy.
package geo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dispatch/internal/types"
)

var (
	ErrTransient       = errors.New("transient geo error")
	ErrPermanent       = errors.New("permanent geo error")
	ErrAddressNotFound = errors.New("address not found")
)

// Travel is a point-to-point estimate.
type Travel struct {
	DistanceMeters int
	Duration       time.Duration
}

// Estimator returns travel distance and duration between two coordinates.
// Failures are *TransientError (retry may help) or *PermanentError (it will not).
type Estimator interface {
	EstimateTravel(ctx context.Context, origin, destination types.Point) (Travel, error)
}

// Geocoder resolves a free-form address to a coordinate. An address with no
// match fails with ErrAddressNotFound.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

// EstimatorFunc adapts a function to Estimator.
type EstimatorFunc func(ctx context.Context, origin, destination types.Point) (Travel, error)

func (f EstimatorFunc) EstimateTravel(ctx context.Context, origin, destination types.Point) (Travel, error) {
	return f(ctx, origin, destination)
}

// TransientError covers timeouts, rate limiting and upstream outages.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geo transient: %s: %v", e.Reason, e.Err)
	}
	return "geo transient: " + e.Reason
}

func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// PermanentError covers requests that cannot succeed, e.g. invalid coordinates or no route.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geo permanent: %s: %v", e.Reason, e.Err)
	}
	return "geo permanent: " + e.Reason
}

func (e *PermanentError) Unwrap() []error { return []error{ErrPermanent, e.Err} }

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// IsTransient treats anything not explicitly permanent as retryable.
func IsTransient(err error) bool { return err != nil && !IsPermanent(err) }
