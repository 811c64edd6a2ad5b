package notify

import (
	"context"
	"sync"
)

// FakeSink is a test double that records sent messages.
// Safe for concurrent use.
type FakeSink struct {
	mu       sync.Mutex
	messages []string

	// SendError, if set, is returned by Send and the message is not recorded.
	SendError error

	// Block, if set, makes Send wait until it is closed or ctx is done.
	Block chan struct{}
}

// Send implements Sink.Send.
func (f *FakeSink) Send(ctx context.Context, message string) error {
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendError != nil {
		return f.SendError
	}
	f.messages = append(f.messages, message)
	return nil
}

// Messages returns a copy of the recorded messages.
func (f *FakeSink) Messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}
