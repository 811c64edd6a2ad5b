package gpio

import (
	"sync"
	"time"
)

// RelayChange records one successful relay write.
type RelayChange struct {
	Open  bool
	Close bool
}

// FakeRelays is a test double that records every relay write.
// Safe for concurrent use.
type FakeRelays struct {
	mu sync.Mutex

	open  bool
	close bool

	// History contains the relay state after every successful write.
	History []RelayChange

	// OpenError, if set, is returned by SetOpen.
	OpenError error

	// CloseError, if set, is returned by SetClose(true). Releasing always succeeds.
	CloseError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeRelays creates FakeRelays with both relays off.
func NewFakeRelays() *FakeRelays {
	return &FakeRelays{}
}

// SetOpen records the open relay state.
func (f *FakeRelays) SetOpen(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on && f.OpenError != nil {
		return f.OpenError
	}
	if on && f.close {
		return ErrInterlock
	}
	f.open = on
	f.History = append(f.History, RelayChange{Open: f.open, Close: f.close})
	return nil
}

// SetClose records the close relay state.
func (f *FakeRelays) SetClose(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on && f.CloseError != nil {
		return f.CloseError
	}
	if on && f.open {
		return ErrInterlock
	}
	f.close = on
	f.History = append(f.History, RelayChange{Open: f.open, Close: f.close})
	return nil
}

// State returns the current relay state.
func (f *FakeRelays) State() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open, f.close
}

// Changes returns a copy of History.
func (f *FakeRelays) Changes() []RelayChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RelayChange, len(f.History))
	copy(out, f.History)
	return out
}

// Close turns both relays off and marks the fake as closed.
func (f *FakeRelays) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open, f.close = false, false
	f.Closed = true
	return nil
}

// FakeMotion is a test double for the motion sensor. Trigger delivers an edge.
type FakeMotion struct {
	mu       sync.Mutex
	handlers []MotionHandler

	// Interval is returned by MinInterval.
	Interval time.Duration

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeMotion creates a FakeMotion with the given source debounce.
func NewFakeMotion(interval time.Duration) *FakeMotion {
	return &FakeMotion{Interval: interval}
}

// Subscribe registers a handler.
func (f *FakeMotion) Subscribe(h MotionHandler) {
	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
}

// Trigger delivers a rising edge at the given time to every handler.
func (f *FakeMotion) Trigger(at time.Time) {
	f.mu.Lock()
	hs := append([]MotionHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range hs {
		h(at)
	}
}

// MinInterval returns Interval.
func (f *FakeMotion) MinInterval() time.Duration {
	return f.Interval
}

// Close marks the sensor as closed.
func (f *FakeMotion) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
