package sim

import (
	"errors"
	"testing"
	"time"

	"github.com/sweeney/bark-door/internal/gpio"
)

// manualClock returns a clock function and a way to move it forward.
func manualClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestDoorMovesWithRelays(t *testing.T) {
	clock, step := manualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	d := NewDoor(Options{StartMM: 200, MinMM: 20, MaxMM: 200, SpeedMMPerS: 100, Now: clock})

	d.SetClose(true)
	step(500 * time.Millisecond)
	if got, _ := d.Read(); got != 150 {
		t.Errorf("after 0.5s closing: got %d, want 150", got)
	}

	step(10 * time.Second)
	if got, _ := d.Read(); got != 20 {
		t.Errorf("closing should stop at closed rail: got %d, want 20", got)
	}

	d.SetClose(false)
	d.SetOpen(true)
	step(time.Second)
	if got := d.Position(); got != 120 {
		t.Errorf("after 1s opening: got %d, want 120", got)
	}

	d.SetOpen(false)
	step(time.Second)
	if got := d.Position(); got != 120 {
		t.Errorf("idle door should not move: got %d, want 120", got)
	}
}

func TestDoorInterlock(t *testing.T) {
	d := NewDoor(Options{StartMM: 100})
	d.SetOpen(true)
	if err := d.SetClose(true); !errors.Is(err, gpio.ErrInterlock) {
		t.Errorf("expected ErrInterlock, got %v", err)
	}
}

func TestDoorFailReads(t *testing.T) {
	d := NewDoor(Options{StartMM: 100})
	fault := errors.New("sensor fault")
	d.FailReads(1, fault)

	if _, err := d.Read(); !errors.Is(err, fault) {
		t.Errorf("expected fault, got %v", err)
	}
	if got, err := d.Read(); err != nil || got != 100 {
		t.Errorf("second read: got (%d, %v), want (100, nil)", got, err)
	}
	if d.Reads() != 2 {
		t.Errorf("Reads: got %d, want 2", d.Reads())
	}
}

func TestDoorCloseReleasesRelays(t *testing.T) {
	d := NewDoor(Options{StartMM: 100})
	d.SetOpen(true)
	d.Close()
	open, close := d.State()
	if open || close {
		t.Errorf("expected both relays off, got (%v, %v)", open, close)
	}
}
