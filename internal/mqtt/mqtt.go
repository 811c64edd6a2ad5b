// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/bark-door/internal/door"
)

// DefaultPrefix is the topic prefix when none is configured.
const DefaultPrefix = "home/bark-door"

// Topics are the MQTT topics used by the daemon, all under one prefix.
type Topics struct {
	Door    string // door transitions
	System  string // lifecycle events and heartbeats
	Notify  string // motion notifications
	Command string // inbound door commands
}

// NewTopics derives the topic set from prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Door:    prefix + "/door",
		System:  prefix + "/system",
		Notify:  prefix + "/notify",
		Command: prefix + "/command",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// PublishDoor sends a door transition to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishDoor(t door.Transition) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// DoorPayload represents the MQTT message payload for a door transition.
type DoorPayload struct {
	Door DoorPayloadInner `json:"door"`
}

// DoorPayloadInner contains the transition details.
type DoorPayloadInner struct {
	Timestamp  string  `json:"timestamp"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Command    string  `json:"command"`
	DistanceMM *uint32 `json:"distance_mm,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// FormatDoorPayload creates the JSON payload for a door transition.
func FormatDoorPayload(t door.Transition) ([]byte, error) {
	inner := DoorPayloadInner{
		Timestamp: t.At.UTC().Format(time.RFC3339),
		From:      t.From.String(),
		To:        t.To.String(),
		Command:   t.Command.String(),
	}
	if t.HasDistance {
		mm := t.DistanceMM
		inner.DistanceMM = &mm
	}
	if t.Err != nil {
		inner.Error = t.Err.Error()
	}
	return json.Marshal(DoorPayload{Door: inner})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// NotifyPayload is published on the notify topic.
type NotifyPayload struct {
	Notify NotifyPayloadInner `json:"notify"`
}

// NotifyPayloadInner carries the notification text.
type NotifyPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// FormatNotifyPayload creates the JSON payload for a motion notification.
func FormatNotifyPayload(at time.Time, message string) ([]byte, error) {
	return json.Marshal(NotifyPayload{Notify: NotifyPayloadInner{
		Timestamp: at.UTC().Format(time.RFC3339),
		Message:   message,
	}})
}

// CommandPayload is the inbound command message, matching the HTTP body.
type CommandPayload struct {
	Action *int `json:"action"`
}

// ParseCommandPayload decodes {"action": n} into a door command.
func ParseCommandPayload(data []byte) (door.Command, error) {
	var p CommandPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return 0, fmt.Errorf("decode command: %w", err)
	}
	if p.Action == nil {
		return 0, fmt.Errorf("%w: missing action", door.ErrInvalidCommand)
	}
	return door.ParseCommand(*p.Action)
}
