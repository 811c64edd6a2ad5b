//go:build !linux

package ranging

import "errors"

// DefaultVL6180XAddress is the factory I2C address of the VL6180X.
const DefaultVL6180XAddress = 0x29

// VL6180X is not available on non-Linux platforms.
type VL6180X struct{}

// NewVL6180X returns an error on non-Linux platforms.
func NewVL6180X(bus string, addr int) (*VL6180X, error) {
	return nil, errors.New("ranging: i2c not supported on this platform (requires Linux)")
}

func (s *VL6180X) Read() (uint32, error) { return 0, errors.New("ranging: not supported") }
func (s *VL6180X) Close() error { return nil }
