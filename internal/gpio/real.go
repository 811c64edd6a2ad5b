//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "bark-door"

// RealRelays drives the relay board through the Linux GPIO character device.
type RealRelays struct {
	mu        sync.Mutex
	openLine  *gpiocdev.Line
	closeLine *gpiocdev.Line
	activeLow bool
	open      bool
	close     bool
}

// NewRealRelays requests both relay lines as outputs, initially off.
// activeLow is for relay boards that energize on a low pin.
func NewRealRelays(chip string, pinOpen, pinClose int, activeLow bool) (*RealRelays, error) {
	r := &RealRelays{activeLow: activeLow}
	off := r.raw(false)

	openLine, err := gpiocdev.RequestLine(chip, pinOpen, gpiocdev.AsOutput(off), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request open pin %d: %w", pinOpen, err)
	}

	closeLine, err := gpiocdev.RequestLine(chip, pinClose, gpiocdev.AsOutput(off), gpiocdev.WithConsumer(consumer))
	if err != nil {
		openLine.Close()
		return nil, fmt.Errorf("request close pin %d: %w", pinClose, err)
	}

	r.openLine = openLine
	r.closeLine = closeLine
	return r, nil
}

func (r *RealRelays) raw(on bool) int {
	if on != r.activeLow {
		return 1
	}
	return 0
}

// SetOpen energizes or releases the open relay.
func (r *RealRelays) SetOpen(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if on && r.close {
		return ErrInterlock
	}
	if err := r.openLine.SetValue(r.raw(on)); err != nil {
		return fmt.Errorf("set open pin: %w", err)
	}
	r.open = on
	return nil
}

// SetClose energizes or releases the close relay.
func (r *RealRelays) SetClose(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if on && r.open {
		return ErrInterlock
	}
	if err := r.closeLine.SetValue(r.raw(on)); err != nil {
		return fmt.Errorf("set close pin: %w", err)
	}
	r.close = on
	return nil
}

// State returns the last commanded state of both relays.
func (r *RealRelays) State() (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open, r.close
}

// Close drives both relays off before releasing the lines.
func (r *RealRelays) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	off := r.raw(false)
	if r.openLine != nil {
		if err := r.openLine.SetValue(off); err != nil {
			errs = append(errs, fmt.Errorf("release open pin: %w", err))
		}
		if err := r.openLine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close open pin: %w", err))
		}
	}
	if r.closeLine != nil {
		if err := r.closeLine.SetValue(off); err != nil {
			errs = append(errs, fmt.Errorf("release close pin: %w", err))
		}
		if err := r.closeLine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close close pin: %w", err))
		}
	}
	r.open, r.close = false, false

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealMotion watches the PIR output for rising edges.
type RealMotion struct {
	line     *gpiocdev.Line
	interval time.Duration

	mu       sync.RWMutex
	handlers []MotionHandler
}

// NewRealMotion requests the PIR pin as an edge-detecting input.
// Kernel debounce is requested when debounce > 0; chips that cannot debounce
// fall back to an undebounced line and MinInterval reports zero.
func NewRealMotion(chip string, pin int, debounce time.Duration) (*RealMotion, error) {
	m := &RealMotion{}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithEventHandler(m.handleEvent),
	}

	if debounce > 0 {
		line, err := gpiocdev.RequestLine(chip, pin, append(opts, gpiocdev.WithDebounce(debounce))...)
		if err == nil {
			m.line = line
			m.interval = debounce
			return m, nil
		}
	}

	line, err := gpiocdev.RequestLine(chip, pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request pir pin %d: %w", pin, err)
	}
	m.line = line
	return m, nil
}

func (m *RealMotion) handleEvent(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	now := time.Now()
	m.mu.RLock()
	hs := m.handlers
	m.mu.RUnlock()
	for _, h := range hs {
		h(now)
	}
}

// Subscribe registers h for every rising edge.
func (m *RealMotion) Subscribe(h MotionHandler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// MinInterval returns the kernel debounce period in effect.
func (m *RealMotion) MinInterval() time.Duration {
	return m.interval
}

// Close releases the PIR line.
func (m *RealMotion) Close() error {
	if m.line == nil {
		return nil
	}
	if err := m.line.Close(); err != nil {
		return fmt.Errorf("close pir pin: %w", err)
	}
	return nil
}
