package door

import "errors"

var (
	// ErrInvalidCommand is returned for an action outside close/open/stop.
	ErrInvalidCommand = errors.New("door: invalid command")

	// ErrBusy is returned when a different move is already in progress.
	ErrBusy = errors.New("door: busy")

	// ErrSensorFault is returned when the distance sensor fails during a move.
	ErrSensorFault = errors.New("door: distance sensor fault")

	// ErrSensorTimeout is returned when the door does not reach the closed
	// threshold within the close timeout.
	ErrSensorTimeout = errors.New("door: timed out waiting for door to close")

	// ErrRelayFault is returned when a relay write fails.
	ErrRelayFault = errors.New("door: relay fault")

	// ErrStopped is the result of a move interrupted by Stop.
	ErrStopped = errors.New("door: move stopped")

	// ErrConfig is returned for an invalid controller configuration.
	ErrConfig = errors.New("door: invalid config")

	// ErrShutdown is returned once the controller has been shut down.
	ErrShutdown = errors.New("door: controller shut down")
)
