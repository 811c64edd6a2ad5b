// Package notify delivers outbound alerts when motion is detected at a closed door.
package notify

import (
	"context"
	"errors"
)

// ErrSend wraps every failure to deliver a notification.
var ErrSend = errors.New("notify: send failed")

// Sink is the interface for notification delivery (webhook, MQTT, etc).
type Sink interface {
	// Send delivers message. It must respect ctx cancellation.
	Send(ctx context.Context, message string) error
}

// DefaultMessage is sent on motion at a closed door.
const DefaultMessage = "Dog is waiting at the door"

// Multi combines multiple Sink implementations.
type Multi struct {
	sinks []Sink
}

// NewMulti returns a Sink that sends to every non-nil sink.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of configured sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Send implements Sink.Send. Every sink is attempted; failures are joined.
func (m *Multi) Send(ctx context.Context, message string) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
