// Package presence turns motion edges into rate-limited notifications,
// sent only while the door is idle and closed.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/bark-door/internal/logger"
	"github.com/sweeney/bark-door/internal/notify"
)

// Defaults.
const (
	DefaultCooldown    = time.Minute
	DefaultSendTimeout = 10 * time.Second
)

// DoorState is the view of the door the notifier needs.
type DoorState interface {
	// ClosedAndIdle reports whether the door is idle and sensed closed.
	ClosedAndIdle() (bool, error)
}

// Config controls the notifier.
type Config struct {
	Cooldown    time.Duration
	SendTimeout time.Duration
	Message     string

	// OnChange, if set, is called with fresh stats after every edge and every
	// completed send. It must not block.
	OnChange func(Stats)
}

// NotificationState is the cooldown bookkeeping.
type NotificationState struct {
	LastSentAt time.Time
	Suppressed bool // last edge was suppressed
}

// Stats counts edge outcomes.
type Stats struct {
	Edges      uint64
	Sent       uint64
	Suppressed uint64
	Failed     uint64
	LastSentAt time.Time
}

// Notifier gates motion edges on door state and cooldown.
type Notifier struct {
	door DoorState
	sink notify.Sink
	cfg  Config
	log  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state NotificationState
	sent  bool
	stats Stats

	wg sync.WaitGroup
}

// New creates a Notifier. Zero durations take their defaults.
func New(door DoorState, sink notify.Sink, cfg Config, log *logger.Logger) *Notifier {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Message == "" {
		cfg.Message = notify.DefaultMessage
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		door:   door,
		sink:   sink,
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnMotion handles one rising edge observed at now. It reports whether a
// notification was dispatched. Delivery is asynchronous; edges are serialized.
func (n *Notifier) OnMotion(now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stats.Edges++

	if n.sent && now.Sub(n.state.LastSentAt) < n.cfg.Cooldown {
		n.suppressLocked("cooldown, last sent %s ago", now.Sub(n.state.LastSentAt).Round(time.Second))
		return false
	}

	closed, err := n.door.ClosedAndIdle()
	if err != nil {
		n.log.Warnf("motion: cannot read door state: %v", err)
		n.suppressLocked("door state unknown")
		return false
	}
	if !closed {
		n.suppressLocked("door not idle and closed")
		return false
	}

	n.sent = true
	n.state = NotificationState{LastSentAt: now}
	n.stats.Sent++
	n.stats.LastSentAt = now
	n.log.Debugf("motion: sending notification")
	n.notifyLocked()

	n.wg.Add(1)
	go n.dispatch()
	return true
}

func (n *Notifier) suppressLocked(format string, args ...interface{}) {
	n.state.Suppressed = true
	n.stats.Suppressed++
	n.log.Debugf("motion: suppressed: "+format, args...)
	n.notifyLocked()
}

func (n *Notifier) dispatch() {
	defer n.wg.Done()

	ctx, cancel := context.WithTimeout(n.ctx, n.cfg.SendTimeout)
	defer cancel()

	if err := n.sink.Send(ctx, n.cfg.Message); err != nil {
		n.log.Warnf("motion: notification failed: %v", err)
		n.mu.Lock()
		n.stats.Failed++
		n.notifyLocked()
		n.mu.Unlock()
		return
	}
	n.log.Infof("motion: notification sent")
}

func (n *Notifier) notifyLocked() {
	if n.cfg.OnChange != nil {
		n.cfg.OnChange(n.stats)
	}
}

// State returns the cooldown bookkeeping.
func (n *Notifier) State() NotificationState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Stats returns edge counters.
func (n *Notifier) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Wait blocks until all in-flight sends have finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// Close cancels in-flight sends and waits for them.
func (n *Notifier) Close() {
	n.cancel()
	n.wg.Wait()
}
