// Package sim simulates the sliding door: a linear actuator moving between two
// rails, with the ranging sensor mounted at the closed end. A Door is both the
// relay board and the distance sensor, so it can stand in for the hardware on a
// desktop machine and in tests.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/sweeney/bark-door/internal/gpio"
)

// Options configures a simulated door.
type Options struct {
	StartMM     uint32
	MinMM       uint32  // closed rail
	MaxMM       uint32  // open rail
	SpeedMMPerS float64 // actuator travel speed
	Now         func() time.Time
}

// Door is a simulated actuator plus distance sensor. Safe for concurrent use.
type Door struct {
	mu    sync.Mutex
	pos   float64
	min   float64
	max   float64
	speed float64
	now   func() time.Time
	last  time.Time
	open  bool
	close bool

	failReads int
	readErr   error
	reads     int
}

// NewDoor creates a simulated door at opts.StartMM.
func NewDoor(opts Options) *Door {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxMM == 0 {
		opts.MaxMM = 200
	}
	if opts.SpeedMMPerS == 0 {
		opts.SpeedMMPerS = 20
	}
	d := &Door{
		pos:   float64(opts.StartMM),
		min:   float64(opts.MinMM),
		max:   float64(opts.MaxMM),
		speed: opts.SpeedMMPerS,
		now:   opts.Now,
	}
	d.last = d.now()
	d.clamp()
	return d
}

// advance integrates motion since the last update. Caller holds mu.
func (d *Door) advance() {
	t := d.now()
	dt := t.Sub(d.last).Seconds()
	d.last = t
	if dt <= 0 {
		return
	}
	switch {
	case d.open:
		d.pos += d.speed * dt
	case d.close:
		d.pos -= d.speed * dt
	}
	d.clamp()
}

func (d *Door) clamp() {
	d.pos = math.Max(d.min, math.Min(d.max, d.pos))
}

// SetOpen drives the actuator toward the open rail.
func (d *Door) SetOpen(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on && d.close {
		return gpio.ErrInterlock
	}
	d.advance()
	d.open = on
	return nil
}

// SetClose drives the actuator toward the closed rail.
func (d *Door) SetClose(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if on && d.open {
		return gpio.ErrInterlock
	}
	d.advance()
	d.close = on
	return nil
}

// State returns the relay state.
func (d *Door) State() (bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open, d.close
}

// Read returns the current distance from the sensor, rounded to a millimeter.
func (d *Door) Read() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advance()
	d.reads++
	if d.failReads > 0 {
		d.failReads--
		return 0, d.readErr
	}
	return uint32(math.Round(d.pos)), nil
}

// FailReads makes the next n reads return err.
func (d *Door) FailReads(n int, err error) {
	d.mu.Lock()
	d.failReads = n
	d.readErr = err
	d.mu.Unlock()
}

// Position returns the current position without counting as a read.
func (d *Door) Position() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advance()
	return uint32(math.Round(d.pos))
}

// Reads returns how many times Read was called.
func (d *Door) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Close releases both relays.
func (d *Door) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advance()
	d.open, d.close = false, false
	return nil
}
