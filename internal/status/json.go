package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string            `json:"event,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Door          DoorJSON          `json:"door"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	MQTT          MQTTStatus        `json:"mqtt"`
	Counts        CountsJSON        `json:"move_counts"`
	Notifications NotificationsJSON `json:"notifications"`
	Config        ConfigJSON        `json:"config"`
}

// DoorJSON is the door portion of the status.
type DoorJSON struct {
	State          string  `json:"state"`
	LastCommand    string  `json:"last_command"`
	DistanceMM     *uint32 `json:"distance_mm,omitempty"`
	LastFault      string  `json:"last_fault,omitempty"`
	LastTransition string  `json:"last_transition,omitempty"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of move counts.
type CountsJSON struct {
	Opens  int `json:"opens"`
	Closes int `json:"closes"`
	Stops  int `json:"stops"`
	Faults int `json:"faults"`
}

// NotificationsJSON is the JSON representation of notifier counters.
type NotificationsJSON struct {
	Edges      uint64 `json:"edges"`
	Sent       uint64 `json:"sent"`
	Suppressed uint64 `json:"suppressed"`
	Failed     uint64 `json:"failed"`
	LastSent   string `json:"last_sent,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	ClosedThresholdMM uint32 `json:"close_door_mm"`
	CloseMarginMM     uint32 `json:"close_margin_mm"`
	OpenMs            int64  `json:"open_ms"`
	CloseTimeoutMs    int64  `json:"close_timeout_ms"`
	PollMs            int64  `json:"poll_ms"`
	CooldownMs        int64  `json:"cooldown_ms"`
	HeartbeatMs       int64  `json:"heartbeat_ms"`
	OpenPolicy        string `json:"open_policy"`
	SensorType        string `json:"sensor_type"`
	PinOpen           int    `json:"open_pin"`
	PinClose          int    `json:"close_pin"`
	PinPIR            int    `json:"pir_pin"`
	Broker            string `json:"broker,omitempty"`
	HTTPAddr          string `json:"http_addr,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	d := DoorJSON{
		State:          snap.State.String(),
		LastCommand:    snap.LastCommand.String(),
		LastFault:      snap.LastFault,
		LastTransition: formatTime(snap.LastTransitionAt),
	}
	if snap.HasDistance {
		mm := snap.DistanceMM
		d.DistanceMM = &mm
	}

	n := snap.Notifications
	c := snap.Config
	return StatusInner{
		Door:          d,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: c.Broker},
		Counts: CountsJSON{
			Opens:  snap.Counts.Opens,
			Closes: snap.Counts.Closes,
			Stops:  snap.Counts.Stops,
			Faults: snap.Counts.Faults,
		},
		Notifications: NotificationsJSON{
			Edges:      n.Edges,
			Sent:       n.Sent,
			Suppressed: n.Suppressed,
			Failed:     n.Failed,
			LastSent:   formatTime(n.LastSentAt),
		},
		Config: ConfigJSON{
			ClosedThresholdMM: c.ClosedThresholdMM,
			CloseMarginMM:     c.CloseMarginMM,
			OpenMs:            c.OpenMs,
			CloseTimeoutMs:    c.CloseTimeoutMs,
			PollMs:            c.PollMs,
			CooldownMs:        c.CooldownMs,
			HeartbeatMs:       c.HeartbeatMs,
			OpenPolicy:        c.OpenPolicy,
			SensorType:        c.SensorType,
			PinOpen:           c.PinOpen,
			PinClose:          c.PinClose,
			PinPIR:            c.PinPIR,
			Broker:            c.Broker,
			HTTPAddr:          c.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event or a
// websocket push.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
