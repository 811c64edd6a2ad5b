package door

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sweeney/bark-door/internal/gpio"
	"github.com/sweeney/bark-door/internal/logger"
	"github.com/sweeney/bark-door/internal/ranging"
)

const eventBuffer = 64

type phase int

const (
	phaseClose phase = iota
	phaseOpen
)

// move is one in-flight actuator cycle. stop is closed by Stop; done is closed
// by the move goroutine once it has returned control of the relays.
type move struct {
	cmd    Command
	phases []phase
	stop   chan struct{}
	done   chan struct{}
	err    error
}

// Result is returned by Submit.
type Result struct {
	Outcome Outcome
	m       *move
}

// Wait blocks until the move started (or joined) by the command finishes and
// returns its terminal error. It returns nil immediately when no move is running.
func (r Result) Wait(ctx context.Context) error {
	if r.m == nil {
		return nil
	}
	select {
	case <-r.m.done:
		return r.m.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Controller arbitrates door commands and drives the relays.
// All state is guarded by mu; sensor access is serialized by readMu.
// Lock order is mu then readMu.
type Controller struct {
	cfg    Config
	relays gpio.Relays
	sensor ranging.Sensor
	log    *logger.Logger
	now    func() time.Time

	mu           sync.Mutex
	state        State
	lastCmd      Command
	move         *move
	gen          uint64
	distance     uint32
	hasDistance  bool
	lastFault    error
	closed       bool
	eventsClosed bool
	events       chan Transition

	readMu sync.Mutex
	wg     sync.WaitGroup
}

// NewController validates cfg and returns an idle controller with both relays off.
func NewController(cfg Config, relays gpio.Relays, sensor ranging.Sensor, log *logger.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:     cfg,
		relays:  relays,
		sensor:  sensor,
		log:     log,
		now:     time.Now,
		state:   StateIdle,
		lastCmd: CommandStop,
		events:  make(chan Transition, eventBuffer),
	}
	if err := c.allOffLocked(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRelayFault, err)
	}
	return c, nil
}

// Events delivers state transitions. Events are dropped if the reader falls behind.
func (c *Controller) Events() <-chan Transition {
	return c.events
}

// State returns the current door state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastCommand returns the last command that was acted on.
func (c *Controller) LastCommand() Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCmd
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state,
		LastCommand: c.lastCmd,
		DistanceMM:  c.distance,
		HasDistance: c.hasDistance,
		LastFault:   c.lastFault,
	}
}

// Submit arbitrates cmd against the current state:
//   - a repeat of the command in progress is ignored;
//   - Stop is always honored and interrupts any move;
//   - any other command is accepted only while idle, otherwise ErrBusy.
//
// Moves run on their own goroutine; use Result.Wait to observe the outcome.
func (c *Controller) Submit(cmd Command) (Result, error) {
	if !cmd.Valid() {
		c.log.Warnf("rejecting invalid command %d", int(cmd))
		return Result{}, fmt.Errorf("%w: action %d", ErrInvalidCommand, int(cmd))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Result{}, ErrShutdown
	}

	if cmd == c.lastCmd && c.state != StateIdle {
		c.log.Infof("ignoring repeated %s while %s", cmd, c.state)
		return Result{Outcome: OutcomeIgnored, m: c.move}, nil
	}

	if c.state != StateIdle && cmd != CommandStop {
		c.log.Infof("busy: rejecting %s while %s (last command %s)", cmd, c.state, c.lastCmd)
		return Result{Outcome: OutcomeBusy}, ErrBusy
	}

	c.lastCmd = cmd
	c.log.Infof("command %s (door %s)", cmd, c.state)

	switch cmd {
	case CommandStop:
		return Result{Outcome: OutcomeActed}, c.stopLocked()
	case CommandClose:
		return c.startCloseLocked()
	default:
		return c.startOpenLocked()
	}
}

func (c *Controller) startCloseLocked() (Result, error) {
	mm, err := c.readLocked()
	if err != nil {
		return Result{Outcome: OutcomeActed}, c.faultLocked(CommandClose, err)
	}
	if c.cfg.closedWithinMargin(mm) {
		c.log.Infof("close: door already closed, distance %dmm", mm)
		return Result{Outcome: OutcomeActed}, nil
	}
	c.log.Infof("close: before closing, distance %dmm", mm)
	return c.beginLocked(CommandClose, []phase{phaseClose})
}

func (c *Controller) startOpenLocked() (Result, error) {
	phases := []phase{phaseOpen}
	if c.cfg.OpenPolicy == PolicyCloseFirst {
		mm, err := c.readLocked()
		if err != nil {
			return Result{Outcome: OutcomeActed}, c.faultLocked(CommandOpen, err)
		}
		c.log.Infof("open: at start, distance %dmm", mm)
		if !c.cfg.closedWithinMargin(mm) {
			phases = []phase{phaseClose, phaseOpen}
		}
	}
	return c.beginLocked(CommandOpen, phases)
}

// beginLocked energizes the first phase and hands the move to a worker goroutine.
func (c *Controller) beginLocked(cmd Command, phases []phase) (Result, error) {
	m := &move{
		cmd:    cmd,
		phases: phases,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := c.enterLocked(cmd, phases[0]); err != nil {
		return Result{Outcome: OutcomeActed}, err
	}
	c.move = m
	c.wg.Add(1)
	go c.run(m)
	return Result{Outcome: OutcomeActed, m: m}, nil
}

// enterLocked drives the relay for p and moves the state machine out of Idle.
// On a relay failure both relays are forced off and the door stays idle.
func (c *Controller) enterLocked(cmd Command, p phase) error {
	to := StateClosing
	if p == phaseOpen {
		to = StateOpening
	}
	if err := c.driveLocked(p == phaseOpen); err != nil {
		return c.faultLocked(cmd, fmt.Errorf("%w: %w", ErrRelayFault, err))
	}
	c.transitionLocked(to, cmd, nil)
	return nil
}

// driveLocked releases the opposite relay before energizing the requested one.
func (c *Controller) driveLocked(open bool) error {
	if open {
		if err := c.relays.SetClose(false); err != nil {
			return err
		}
		return c.relays.SetOpen(true)
	}
	if err := c.relays.SetOpen(false); err != nil {
		return err
	}
	return c.relays.SetClose(true)
}

// allOffLocked releases both relays, attempting both even if one fails.
func (c *Controller) allOffLocked() error {
	return errors.Join(c.relays.SetOpen(false), c.relays.SetClose(false))
}

func (c *Controller) stopLocked() error {
	err := c.allOffLocked()
	if c.move != nil {
		close(c.move.stop)
		c.move = nil
	}
	from := c.state
	if from != StateIdle {
		c.transitionLocked(StateIdle, CommandStop, nil)
	}
	c.log.Infof("stop: both relays off, door idle (was %s)", from)
	if err != nil {
		c.lastFault = fmt.Errorf("%w: %w", ErrRelayFault, err)
		c.log.Errorf("stop: %v", c.lastFault)
		return c.lastFault
	}
	return nil
}

// faultLocked forces both relays off, returns the door to Idle and records err.
// A fault raised before the door moved is still reported as an Idle->Idle
// transition so subscribers see it.
func (c *Controller) faultLocked(cmd Command, err error) error {
	if offErr := c.allOffLocked(); offErr != nil {
		err = errors.Join(err, fmt.Errorf("%w: %w", ErrRelayFault, offErr))
	}
	c.lastFault = err
	c.transitionLocked(StateIdle, cmd, err)
	c.log.Errorf("%s: %v", cmd, err)
	return err
}

// run executes the phases of m. Only the goroutine owning m touches the relays
// for it, and only while m is still the current move.
func (c *Controller) run(m *move) {
	defer c.wg.Done()

	var err error
	for i, p := range m.phases {
		if i > 0 {
			if err = c.nextPhase(m, p); err != nil {
				break
			}
		}
		if p == phaseClose {
			err = c.awaitClosed(m)
		} else {
			err = c.awaitOpen(m)
		}
		if err != nil {
			break
		}
	}
	c.finish(m, err)
}

// nextPhase switches from closing to opening, passing through Idle with both
// relays off.
func (c *Controller) nextPhase(m *move, p phase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.move != m {
		return ErrStopped
	}
	if err := c.allOffLocked(); err != nil {
		return fmt.Errorf("%w: %w", ErrRelayFault, err)
	}
	c.transitionLocked(StateIdle, m.cmd, nil)
	c.log.Infof("%s: door closed, distance %dmm, now opening", m.cmd, c.distance)
	if err := c.driveLocked(p == phaseOpen); err != nil {
		return fmt.Errorf("%w: %w", ErrRelayFault, err)
	}
	to := StateClosing
	if p == phaseOpen {
		to = StateOpening
	}
	c.transitionLocked(to, m.cmd, nil)
	return nil
}

// awaitClosed polls the sensor until the door reaches the closed threshold,
// the close timeout elapses, or Stop is issued.
func (c *Controller) awaitClosed(m *move) error {
	deadline := time.NewTimer(c.cfg.CloseTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.cfg.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-m.stop:
			return ErrStopped
		case <-deadline.C:
			return fmt.Errorf("%w after %v", ErrSensorTimeout, c.cfg.CloseTimeout)
		case <-tick.C:
		}

		mm, err := c.read()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSensorFault, err)
		}
		if mm <= c.cfg.ClosedThresholdMM {
			return nil
		}
	}
}

// awaitOpen holds the open relay for the configured duration or until Stop.
func (c *Controller) awaitOpen(m *move) error {
	t := time.NewTimer(c.cfg.OpenDuration)
	defer t.Stop()
	select {
	case <-m.stop:
		return ErrStopped
	case <-t.C:
		return nil
	}
}

// finish returns the door to Idle once a move ends. A move that was stopped
// no longer owns the relays and leaves them alone.
func (c *Controller) finish(m *move, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(m.done)

	if c.move != m {
		m.err = ErrStopped
		return
	}
	c.move = nil

	if offErr := c.allOffLocked(); offErr != nil {
		err = errors.Join(err, fmt.Errorf("%w: %w", ErrRelayFault, offErr))
	}
	if err != nil {
		c.lastFault = err
		c.log.Errorf("%s: move aborted: %v", m.cmd, err)
	} else {
		c.log.Infof("%s: complete, distance %dmm", m.cmd, c.distance)
	}
	c.transitionLocked(StateIdle, m.cmd, err)
	m.err = err
}

// ClosedAndIdle reports whether the door is idle and sensed closed
// (distance at or below the threshold). The sensor is read outside mu; the
// answer is discarded if the state changed meanwhile.
func (c *Controller) ClosedAndIdle() (bool, error) {
	c.mu.Lock()
	if c.state != StateIdle || c.closed {
		c.mu.Unlock()
		return false, nil
	}
	gen := c.gen
	c.mu.Unlock()

	mm, err := c.read()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrSensorFault, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.state != StateIdle {
		return false, nil
	}
	return mm <= c.cfg.ClosedThresholdMM, nil
}

// read takes one sensor reading and records it.
func (c *Controller) read() (uint32, error) {
	c.readMu.Lock()
	mm, err := c.sensor.Read()
	c.readMu.Unlock()
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.distance, c.hasDistance = mm, true
	c.mu.Unlock()
	return mm, nil
}

// readLocked is read for callers already holding mu.
func (c *Controller) readLocked() (uint32, error) {
	c.readMu.Lock()
	mm, err := c.sensor.Read()
	c.readMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSensorFault, err)
	}
	c.distance, c.hasDistance = mm, true
	return mm, nil
}

func (c *Controller) transitionLocked(to State, cmd Command, err error) {
	from := c.state
	c.state = to
	c.gen++
	c.log.Debugf("state %s -> %s (%s)", from, to, cmd)
	if c.eventsClosed {
		return
	}
	ev := Transition{
		At:          c.now(),
		From:        from,
		To:          to,
		Command:     cmd,
		DistanceMM:  c.distance,
		HasDistance: c.hasDistance,
		Err:         err,
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warnf("event buffer full, dropping %s -> %s", from, to)
	}
}

// Shutdown stops any move, waits for the move goroutine to exit, and closes
// the event channel. Further commands return ErrShutdown.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.stopLocked()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.eventsClosed = true
	close(c.events)
	c.mu.Unlock()
	return err
}
