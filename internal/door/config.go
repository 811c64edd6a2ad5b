package door

import (
	"fmt"
	"time"
)

// MaxOpenDuration bounds how long the open relay may be driven.
const MaxOpenDuration = 60 * time.Second

// Config is the immutable controller configuration.
type Config struct {
	ClosedThresholdMM uint32        // distance at or below which the door is closed
	CloseMarginMM     uint32        // tolerance band above the threshold
	OpenDuration      time.Duration // how long to drive the open relay
	CloseTimeout      time.Duration // bound on a close move
	PollInterval      time.Duration // sensor polling period during a close move
	OpenPolicy        OpenPolicy
}

// DefaultConfig returns the stock door settings.
func DefaultConfig() Config {
	return Config{
		ClosedThresholdMM: 30,
		CloseMarginMM:     5,
		OpenDuration:      10 * time.Second,
		CloseTimeout:      30 * time.Second,
		PollInterval:      20 * time.Millisecond,
		OpenPolicy:        PolicyCloseFirst,
	}
}

// Validate reports the first setting that would make the controller unsafe.
func (c Config) Validate() error {
	if c.ClosedThresholdMM == 0 {
		return fmt.Errorf("%w: closed threshold must be > 0", ErrConfig)
	}
	if c.OpenDuration <= 0 || c.OpenDuration > MaxOpenDuration {
		return fmt.Errorf("%w: open duration %v must be in (0, %v]", ErrConfig, c.OpenDuration, MaxOpenDuration)
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("%w: close timeout must be > 0", ErrConfig)
	}
	if c.PollInterval <= 0 || c.PollInterval >= c.CloseTimeout {
		return fmt.Errorf("%w: poll interval %v must be in (0, %v)", ErrConfig, c.PollInterval, c.CloseTimeout)
	}
	switch c.OpenPolicy {
	case PolicyCloseFirst, PolicyDirect:
	default:
		return fmt.Errorf("%w: unknown open policy %q", ErrConfig, c.OpenPolicy)
	}
	return nil
}

// closedWithinMargin reports whether mm is inside the closed tolerance band.
func (c Config) closedWithinMargin(mm uint32) bool {
	return mm <= c.ClosedThresholdMM+c.CloseMarginMM
}
