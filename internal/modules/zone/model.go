// README: Service zones (delivery polygons) and zone configuration errors.
package zone

import (
	"errors"
	"fmt"
	"time"

	"dispatch/internal/types"
)

var ErrConfiguration = errors.New("zone configuration error")

// ConfigurationError reports malformed zone data. It is never defaulted away.
type ConfigurationError struct {
	ZoneID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.ZoneID == "" {
		return fmt.Sprintf("zone configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("zone %q configuration error: %s", e.ZoneID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// Zone is a serviceable delivery polygon. Ring is an ordered vertex list; the closing
// vertex may be repeated or omitted.
type Zone struct {
	ID    string
	Title string
	Ring  []types.Point
	// MaxTravel bounds rider travel time to pickup for orders in this zone. Zero disables the check.
	MaxTravel time.Duration
}
