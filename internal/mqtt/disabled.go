package mqtt

import "github.com/sweeney/bark-door/internal/door"

// Disabled stands in for a publisher when no broker is configured.
type Disabled struct{}

func (Disabled) PublishDoor(door.Transition) error { return nil }
func (Disabled) PublishSystem(SystemEvent) error { return nil }
func (Disabled) Close() error { return nil }
func (Disabled) IsConnected() bool { return false }
