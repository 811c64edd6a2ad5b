//go:build !linux

package gpio

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealRelays is not available on non-Linux platforms.
type RealRelays struct{}

// NewRealRelays returns an error on non-Linux platforms.
func NewRealRelays(chip string, pinOpen, pinClose int, activeLow bool) (*RealRelays, error) {
	return nil, errUnsupported
}

func (r *RealRelays) SetOpen(on bool) error { return errUnsupported }
func (r *RealRelays) SetClose(on bool) error { return errUnsupported }
func (r *RealRelays) State() (bool, bool) { return false, false }
func (r *RealRelays) Close() error { return nil }

// RealMotion is not available on non-Linux platforms.
type RealMotion struct{}

// NewRealMotion returns an error on non-Linux platforms.
func NewRealMotion(chip string, pin int, debounce time.Duration) (*RealMotion, error) {
	return nil, errUnsupported
}

func (m *RealMotion) Subscribe(h MotionHandler) {}
func (m *RealMotion) MinInterval() time.Duration { return 0 }
func (m *RealMotion) Close() error { return nil }
