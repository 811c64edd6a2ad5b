//go:build linux

package ranging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultVL6180XAddress is the factory I2C address of the VL6180X.
const DefaultVL6180XAddress = 0x29

// i2cSlave selects the target address on an i2c-dev file (linux/i2c-dev.h).
const i2cSlave = 0x0703

const (
	regModelID             = 0x000
	regInterruptConfig     = 0x014
	regInterruptClear      = 0x015
	regFreshOutOfReset     = 0x016
	regSysrangeStart       = 0x018
	regRangeStatus         = 0x04d
	regInterruptStatus     = 0x04f
	regRangeVal            = 0x062
	vl6180xModelID         = 0xb4
	rangeReadyPolls        = 50
	rangePollInterval      = time.Millisecond
	interruptNewSampleMask = 0x07
	interruptNewSample     = 0x04
)

// Private register settings from the ST application note, loaded once after power-up.
var vl6180xSettings = [][2]uint16{
	{0x0207, 0x01}, {0x0208, 0x01}, {0x0096, 0x00}, {0x0097, 0xfd},
	{0x00e3, 0x00}, {0x00e4, 0x04}, {0x00e5, 0x02}, {0x00e6, 0x01},
	{0x00e7, 0x03}, {0x00f5, 0x02}, {0x00d9, 0x05}, {0x00db, 0xce},
	{0x00dc, 0x03}, {0x00dd, 0xf8}, {0x009f, 0x00}, {0x00a3, 0x3c},
	{0x00b7, 0x00}, {0x00bb, 0x3c}, {0x00b2, 0x09}, {0x00ca, 0x09},
	{0x0198, 0x01}, {0x01b0, 0x17}, {0x01ad, 0x00}, {0x00ff, 0x05},
	{0x0100, 0x05}, {0x0199, 0x05}, {0x01a6, 0x1b}, {0x01ac, 0x3e},
	{0x01a7, 0x1f}, {0x0030, 0x00},
	// Recommended public settings
	{0x0011, 0x10}, {0x010a, 0x30}, {0x003f, 0x46}, {0x0031, 0xff},
	{0x0041, 0x63}, {0x002e, 0x01}, {0x001b, 0x09}, {0x003e, 0x31},
	{regInterruptConfig, 0x24},
}

// VL6180X reads the ST VL6180X time-of-flight sensor over Linux i2c-dev.
// Useful range is roughly 0-200mm.
type VL6180X struct {
	mu  sync.Mutex
	dev *os.File
}

// NewVL6180X opens bus (e.g. /dev/i2c-1) and initializes the sensor at addr.
func NewVL6180X(bus string, addr int) (*VL6180X, error) {
	dev, err := os.OpenFile(bus, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %s: %w", bus, err)
	}
	if err := unix.IoctlSetInt(int(dev.Fd()), i2cSlave, addr); err != nil {
		dev.Close()
		return nil, fmt.Errorf("select i2c address 0x%02x: %w", addr, err)
	}

	s := &VL6180X{dev: dev}
	if err := s.init(); err != nil {
		dev.Close()
		return nil, err
	}
	return s, nil
}

func (s *VL6180X) init() error {
	id, err := s.readReg(regModelID)
	if err != nil {
		return fmt.Errorf("read model id: %w", err)
	}
	if id != vl6180xModelID {
		return fmt.Errorf("unexpected model id 0x%02x", id)
	}

	fresh, err := s.readReg(regFreshOutOfReset)
	if err != nil {
		return fmt.Errorf("read reset flag: %w", err)
	}
	if fresh&0x01 == 0 {
		return nil
	}
	for _, kv := range vl6180xSettings {
		if err := s.writeReg(kv[0], byte(kv[1])); err != nil {
			return fmt.Errorf("load setting 0x%04x: %w", kv[0], err)
		}
	}
	if err := s.writeReg(regFreshOutOfReset, 0x00); err != nil {
		return fmt.Errorf("clear reset flag: %w", err)
	}
	return nil
}

// Read performs one single-shot range measurement.
func (s *VL6180X) Read() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.waitFor(regRangeStatus, 0x01, 0x01); err != nil {
		return 0, fmt.Errorf("wait device ready: %w", err)
	}
	if err := s.writeReg(regSysrangeStart, 0x01); err != nil {
		return 0, fmt.Errorf("start ranging: %w", err)
	}
	if err := s.waitFor(regInterruptStatus, interruptNewSampleMask, interruptNewSample); err != nil {
		return 0, fmt.Errorf("wait sample: %w", err)
	}

	val, err := s.readReg(regRangeVal)
	if err != nil {
		return 0, fmt.Errorf("read range: %w", err)
	}
	if err := s.writeReg(regInterruptClear, 0x07); err != nil {
		return 0, fmt.Errorf("clear interrupt: %w", err)
	}

	status, err := s.readReg(regRangeStatus)
	if err != nil {
		return 0, fmt.Errorf("read range status: %w", err)
	}
	if code := status >> 4; code != 0 {
		return 0, fmt.Errorf("%w: status %d", ErrRangeStatus, code)
	}
	return uint32(val), nil
}

func (s *VL6180X) waitFor(reg uint16, mask, want byte) error {
	for i := 0; i < rangeReadyPolls; i++ {
		v, err := s.readReg(reg)
		if err != nil {
			return err
		}
		if v&mask == want {
			return nil
		}
		time.Sleep(rangePollInterval)
	}
	return ErrTimeout
}

func (s *VL6180X) readReg(reg uint16) (byte, error) {
	if _, err := s.dev.Write([]byte{byte(reg >> 8), byte(reg)}); err != nil {
		return 0, err
	}
	buf := make([]byte, 1)
	if _, err := s.dev.Read(buf); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (s *VL6180X) writeReg(reg uint16, val byte) error {
	_, err := s.dev.Write([]byte{byte(reg >> 8), byte(reg), val})
	return err
}

// Close releases the i2c device.
func (s *VL6180X) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.Close()
}
