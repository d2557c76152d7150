package exchange

import (
	"context"
	"sync"

	"parley/audio"
)

// Call records one request seen by a Fake.
type Call struct {
	Audio     audio.Blob
	SessionID string
}

// Fake answers every Exchange with a fixed reply or error. When Gate is
// set, Exchange waits on it before answering.
type Fake struct {
	Reply audio.Blob
	Err   error
	Gate  chan struct{}

	mu    sync.Mutex
	calls []Call
}

func NewFake(reply audio.Blob, err error) *Fake {
	return &Fake{Reply: reply, Err: err}
}

func (f *Fake) Exchange(ctx context.Context, blob audio.Blob, sessionID string) (*Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Audio: blob, SessionID: sessionID})
	f.mu.Unlock()

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, &TransportError{Err: ctx.Err()}
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	return &Result{Audio: f.Reply, RequestID: "fake", Metrics: &NetworkMetrics{}}, nil
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
