// Package ranging provides distance-to-obstruction sensors used as door position feedback.
// A failed or invalid measurement is always an error; callers never see a default distance.
package ranging

import "errors"

// Sensor returns the distance to the nearest obstruction in millimeters.
type Sensor interface {
	Read() (uint32, error)
	Close() error
}

var (
	// ErrRangeStatus is returned when the sensor flags a measurement as invalid.
	ErrRangeStatus = errors.New("ranging: invalid measurement")

	// ErrNoTarget is returned when the signal is too weak to trust.
	ErrNoTarget = errors.New("ranging: no target")

	// ErrTimeout is returned when the sensor does not produce a reading in time.
	ErrTimeout = errors.New("ranging: timed out waiting for measurement")
)
