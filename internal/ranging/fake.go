package ranging

import (
	"errors"
	"sync"
)

// Sample is one scripted reading. A non-nil Err is returned instead of MM.
type Sample struct {
	MM  uint32
	Err error
}

// Fake is a test double that returns scripted distances.
// Each call to Read consumes the next sample; the last sample repeats.
// Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	samples []Sample
	index   int
	reads   int

	// ReadError, if set, is returned by every Read.
	ReadError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFake creates a Fake returning the given distances in order.
func NewFake(mm ...uint32) *Fake {
	samples := make([]Sample, len(mm))
	for i, v := range mm {
		samples[i] = Sample{MM: v}
	}
	return &Fake{samples: samples}
}

// NewFakeSamples creates a Fake from samples that may include errors.
func NewFakeSamples(samples []Sample) *Fake {
	return &Fake{samples: samples}
}

// Read returns the next scripted sample.
func (f *Fake) Read() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++

	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.samples) == 0 {
		return 0, errors.New("no samples configured")
	}

	s := f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	}
	if s.Err != nil {
		return 0, s.Err
	}
	return s.MM, nil
}

// Set replaces the script with a single repeating distance.
func (f *Fake) Set(mm uint32) {
	f.mu.Lock()
	f.samples = []Sample{{MM: mm}}
	f.index = 0
	f.mu.Unlock()
}

// Reads returns how many times Read was called.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Close marks the sensor as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
