// Package frame runs the per-frame sampling loop that drives level
// updates while recording or playing.
package frame

import (
	"sync"
	"time"
)

const DefaultInterval = time.Second / 60

func IntervalForFPS(fps int) time.Duration {
	if fps <= 0 {
		return DefaultInterval
	}
	return time.Second / time.Duration(fps)
}

// Loop calls fn once per interval until stopped. At most one goroutine
// runs per Loop.
type Loop struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewLoop(interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{interval: interval}
}

// Start begins ticking. It returns false without starting anything when
// the loop is already running.
func (l *Loop) Start(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return false
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	l.stop, l.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return true
}

// Stop cancels the loop and waits for the in-flight tick to return.
// Must not be called from fn.
func (l *Loop) Stop() {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}
