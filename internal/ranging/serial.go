package ranging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// TFmini-style UART frame: [0x59][0x59][dist L][dist H][strength L][strength H][temp L][temp H][checksum]
const (
	frameLen    = 9
	frameHeader = 0x59

	// Readings below this signal strength (or saturated at 0xffff) are unreliable.
	minStrength = 100

	serialReadAttempts = 16
)

var errBadChecksum = errors.New("ranging: frame checksum mismatch")

// Frame is one decoded measurement frame.
type Frame struct {
	DistanceCM uint16
	Strength   uint16
}

// ParseFrame decodes a single 9-byte frame.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) != frameLen {
		return Frame{}, fmt.Errorf("ranging: frame length %d, want %d", len(b), frameLen)
	}
	if b[0] != frameHeader || b[1] != frameHeader {
		return Frame{}, errors.New("ranging: missing frame header")
	}
	var sum byte
	for _, v := range b[:frameLen-1] {
		sum += v
	}
	if sum != b[frameLen-1] {
		return Frame{}, errBadChecksum
	}
	return Frame{
		DistanceCM: uint16(b[2]) | uint16(b[3])<<8,
		Strength:   uint16(b[4]) | uint16(b[5])<<8,
	}, nil
}

// Millimeters converts a frame into a distance, rejecting weak signals.
func (f Frame) Millimeters() (uint32, error) {
	if f.Strength < minStrength || f.Strength == 0xffff {
		return 0, fmt.Errorf("%w: strength %d", ErrNoTarget, f.Strength)
	}
	return uint32(f.DistanceCM) * 10, nil
}

// nextFrame finds the first complete frame in buf and returns it together with
// the unconsumed remainder. ok is false when more bytes are needed.
func nextFrame(buf []byte) (frame []byte, rest []byte, ok bool) {
	header := []byte{frameHeader, frameHeader}
	for {
		i := bytes.Index(buf, header)
		if i < 0 {
			// Keep a trailing header byte that may start the next frame.
			if n := len(buf); n > 0 && buf[n-1] == frameHeader {
				return nil, buf[n-1:], false
			}
			return nil, nil, false
		}
		buf = buf[i:]
		if len(buf) < frameLen {
			return nil, buf, false
		}
		if _, err := ParseFrame(buf[:frameLen]); err != nil {
			buf = buf[1:]
			continue
		}
		return buf[:frameLen], buf[frameLen:], true
	}
}

// port is the subset of *serial.Port the ranger uses.
type port interface {
	Read(p []byte) (int, error)
	Flush() error
	Close() error
}

// Serial reads a UART time-of-flight ranger that streams TFmini frames.
type Serial struct {
	mu     sync.Mutex
	port   port
	device string
}

// NewSerial opens the ranger on device at the given baud rate.
func NewSerial(device string, baud int) (*Serial, error) {
	if baud == 0 {
		baud = 115200
	}
	c := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: 100 * time.Millisecond,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	return &Serial{port: port, device: device}, nil
}

// Read discards buffered frames and returns the next fresh measurement.
func (s *Serial) Read() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.port.Flush(); err != nil {
		return 0, fmt.Errorf("flush %s: %w", s.device, err)
	}

	var (
		pending []byte
		lastErr error
	)
	chunk := make([]byte, 32)
	for i := 0; i < serialReadAttempts; i++ {
		n, err := s.port.Read(chunk)
		// A read timeout surfaces as io.EOF with no data.
		if err != nil && !errors.Is(err, io.EOF) {
			lastErr = err
		}
		if n == 0 {
			continue
		}
		pending = append(pending, chunk[:n]...)

		frame, rest, ok := nextFrame(pending)
		pending = rest
		if !ok {
			continue
		}
		f, err := ParseFrame(frame)
		if err != nil {
			continue
		}
		return f.Millimeters()
	}
	if lastErr != nil {
		return 0, fmt.Errorf("%w on %s: %w", ErrTimeout, s.device, lastErr)
	}
	return 0, fmt.Errorf("%w on %s", ErrTimeout, s.device)
}

// Close releases the serial port.
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
