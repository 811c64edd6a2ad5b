// Package status provides a thread-safe status tracker for the bark-door daemon.
// It is read by the HTTP handlers, the websocket feed and heartbeat events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/bark-door/internal/door"
	"github.com/sweeney/bark-door/internal/presence"
)

// Config contains daemon configuration for display.
type Config struct {
	ClosedThresholdMM uint32
	CloseMarginMM     uint32
	OpenMs            int64
	CloseTimeoutMs    int64
	PollMs            int64
	CooldownMs        int64
	HeartbeatMs       int64
	OpenPolicy        string
	SensorType        string
	PinOpen           int
	PinClose          int
	PinPIR            int
	Broker            string
	HTTPAddr          string
}

// MoveCounts counts completed moves by outcome.
type MoveCounts struct {
	Opens  int
	Closes int
	Stops  int
	Faults int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State            door.State
	LastCommand      door.Command
	DistanceMM       uint32
	HasDistance      bool
	LastFault        string
	LastTransitionAt time.Time
	Counts           MoveCounts
	Notifications    presence.Stats
	StartTime        time.Time
	Now              time.Time
	MQTTConnected    bool
	Config           Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:       door.StateIdle,
			LastCommand: door.CommandStop,
			StartTime:   startTime,
			Config:      cfg,
		},
		now: time.Now,
	}
}

// ApplyTransition records a door transition. Moves that end in Idle are
// counted: faults first, then stops, then completed opens and closes.
// The Closing->Idle step inside an open is not counted.
func (t *Tracker) ApplyTransition(tr door.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.snap
	s.State = tr.To
	s.LastCommand = tr.Command
	s.LastTransitionAt = tr.At
	if tr.HasDistance {
		s.DistanceMM, s.HasDistance = tr.DistanceMM, true
	}
	if tr.Err != nil {
		s.LastFault = tr.Err.Error()
	}
	if tr.To != door.StateIdle {
		return
	}

	switch {
	case tr.Err != nil:
		s.Counts.Faults++
	case tr.Command == door.CommandStop:
		s.Counts.Stops++
	case tr.From == door.StateOpening && tr.Command == door.CommandOpen:
		s.Counts.Opens++
	case tr.From == door.StateClosing && tr.Command == door.CommandClose:
		s.Counts.Closes++
	}
}

// SetDistance records a reading taken outside a transition.
func (t *Tracker) SetDistance(mm uint32) {
	t.mu.Lock()
	t.snap.DistanceMM, t.snap.HasDistance = mm, true
	t.mu.Unlock()
}

// SetNotifications replaces the notifier counters.
func (t *Tracker) SetNotifications(stats presence.Stats) {
	t.mu.Lock()
	t.snap.Notifications = stats
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
