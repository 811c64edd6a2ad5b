package mqtt

import (
	"context"
	"sync"

	"github.com/sweeney/bark-door/internal/door"
)

// FakePublisher records published events for test assertions.
// Methods are safe for concurrent use; read fields only once publishers are idle.
type FakePublisher struct {
	mu sync.Mutex

	// Transitions contains all door transitions that were published.
	Transitions []door.Transition

	// Payloads contains the JSON payloads for door transitions.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// Notifications contains every message passed to Send.
	Notifications []string

	// PublishError, if set, will be returned by PublishDoor.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// SendError, if set, will be returned by Send.
	SendError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool

	onCommand func(door.Command)
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishDoor records the transition.
func (f *FakePublisher) PublishDoor(t door.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	f.Transitions = append(f.Transitions, t)

	payload, err := FormatDoorPayload(t)
	if err != nil {
		return err
	}
	f.Payloads = append(f.Payloads, payload)

	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Send records a notification.
func (f *FakePublisher) Send(ctx context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendError != nil {
		return f.SendError
	}
	f.Notifications = append(f.Notifications, message)
	return nil
}

// SubscribeCommands stores handler for Deliver.
func (f *FakePublisher) SubscribeCommands(handler func(door.Command)) error {
	f.mu.Lock()
	f.onCommand = handler
	f.mu.Unlock()
	return nil
}

// Deliver simulates an inbound command message.
func (f *FakePublisher) Deliver(payload []byte) error {
	cmd, err := ParseCommandPayload(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	handler := f.onCommand
	f.mu.Unlock()
	if handler != nil {
		handler(cmd)
	}
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SetConnected changes the value returned by IsConnected.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	f.Connected = c
	f.mu.Unlock()
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Transitions = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Notifications = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.SendError = nil
	f.Connected = false
}
