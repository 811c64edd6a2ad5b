// Package door owns the sliding door state machine: command arbitration, the
// relay interlock, and the bounded, cancellable moves that drive the actuator.
package door

import (
	"fmt"
	"time"
)

// State is the current actuator motion.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOpening:
		return "OPENING"
	case StateClosing:
		return "CLOSING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Command is an externally requested action. The values are the wire format
// used by the web UI: 0 = close, 1 = open, 2 = stop.
type Command int

const (
	CommandClose Command = 0
	CommandOpen  Command = 1
	CommandStop  Command = 2
)

func (c Command) String() string {
	switch c {
	case CommandClose:
		return "CLOSE"
	case CommandOpen:
		return "OPEN"
	case CommandStop:
		return "STOP"
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Valid reports whether c is one of close, open or stop.
func (c Command) Valid() bool {
	return c >= CommandClose && c <= CommandStop
}

// ParseCommand converts a wire action value into a Command.
func ParseCommand(action int) (Command, error) {
	c := Command(action)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: action %d", ErrInvalidCommand, action)
	}
	return c, nil
}

// Outcome tells a caller what Submit did with a command.
type Outcome int

const (
	// OutcomeActed means the command changed (or re-evaluated) the door.
	OutcomeActed Outcome = iota
	// OutcomeIgnored means the same command is already in progress.
	OutcomeIgnored
	// OutcomeBusy means a different move is in progress.
	OutcomeBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeActed:
		return "acted"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeBusy:
		return "busy"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// OpenPolicy selects what Open does when the door is partway open.
type OpenPolicy string

const (
	// PolicyCloseFirst fully closes a partly open door before driving it open.
	PolicyCloseFirst OpenPolicy = "close-first"
	// PolicyDirect drives the open relay immediately.
	PolicyDirect OpenPolicy = "direct"
)

// Transition is emitted every time the door state changes.
type Transition struct {
	At          time.Time
	From        State
	To          State
	Command     Command
	DistanceMM  uint32
	HasDistance bool
	Err         error
}

// Status is a point-in-time view of the controller.
type Status struct {
	State       State
	LastCommand Command
	DistanceMM  uint32
	HasDistance bool
	LastFault   error
}
