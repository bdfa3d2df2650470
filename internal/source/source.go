// Package source produces raw attitude samples for the sampling loop, either
// from a platform motion provider (Live) or from a deterministic generator
// (Demo).
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"levelcube/internal/attitude"
)

var (
	// ErrSensorUnavailable: the motion capability is missing, access was
	// denied, or the provider went silent.
	ErrSensorUnavailable = errors.New("sensor unavailable")
	// ErrSourceStopped: Sample was called after Stop.
	ErrSourceStopped = errors.New("source stopped")
)

// Mode selects the source variant.
type Mode string

const (
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
)

// ModeFor maps the demo toggle to a Mode.
func ModeFor(demo bool) Mode {
	if demo {
		return ModeDemo
	}
	return ModeLive
}

// Sample is one raw attitude and the time it was produced.
type Sample struct {
	Q  attitude.Quaternion
	At time.Time
}

// Source is the capability the sampling loop drives.
type Source interface {
	Mode() Mode
	// Start prepares the source. A Live source that cannot open its provider
	// returns an ErrSensorUnavailable error but stays usable: Sample retries.
	Start(ctx context.Context) error
	// Sample returns the next raw attitude. It honors ctx cancellation.
	Sample(ctx context.Context) (Sample, error)
	// Stop releases resources. Subsequent Sample calls fail with
	// ErrSourceStopped. Stop is idempotent.
	Stop() error
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSensorUnavailable, fmt.Sprintf(format, args...))
}
