// Package gpio provides the relay outputs and motion input with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

import (
	"errors"
	"time"
)

// Relays drives the two actuator relays.
// Implementations refuse to energize one relay while the other is on.
type Relays interface {
	// SetOpen energizes or releases the open relay.
	SetOpen(on bool) error

	// SetClose energizes or releases the close relay.
	SetClose(on bool) error

	// State reports the last commanded logical state of both relays.
	State() (open, close bool)

	// Close releases GPIO resources, leaving both relays off.
	Close() error
}

// MotionHandler receives a rising edge from the motion sensor.
type MotionHandler func(at time.Time)

// MotionSensor delivers rising-edge presence events.
type MotionSensor interface {
	// Subscribe registers h for every rising edge.
	Subscribe(h MotionHandler)

	// MinInterval is the debounce applied at the source. Zero means none.
	MinInterval() time.Duration

	// Close releases GPIO resources.
	Close() error
}

// Pin defaults (BCM numbering)
const (
	DefaultChip     = "gpiochip0"
	DefaultPinOpen  = 18
	DefaultPinClose = 4
	DefaultPinPIR   = 23
)

// ErrInterlock is returned when a relay is energized while the other one is on.
var ErrInterlock = errors.New("gpio: relay interlock: other relay is energized")
