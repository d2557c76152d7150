package frame

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopTicks(t *testing.T) {
	l := NewLoop(time.Millisecond)
	var n atomic.Int32
	if !l.Start(func() { n.Add(1) }) {
		t.Fatal("Start returned false on idle loop")
	}
	time.Sleep(30 * time.Millisecond)
	l.Stop()
	if n.Load() == 0 {
		t.Error("loop never ticked")
	}
}

func TestLoopSingleInstance(t *testing.T) {
	l := NewLoop(time.Millisecond)
	defer l.Stop()
	l.Start(func() {})
	if l.Start(func() {}) {
		t.Error("second Start should be rejected while running")
	}
	if !l.Running() {
		t.Error("Running = false")
	}
}

func TestLoopStopHaltsTicks(t *testing.T) {
	l := NewLoop(time.Millisecond)
	var n atomic.Int32
	l.Start(func() { n.Add(1) })
	time.Sleep(10 * time.Millisecond)
	l.Stop()
	after := n.Load()
	time.Sleep(10 * time.Millisecond)
	if n.Load() != after {
		t.Error("ticks continued after Stop")
	}
	l.Stop() // idempotent
	if l.Running() {
		t.Error("Running after Stop")
	}
	if !l.Start(func() {}) {
		t.Error("restart after Stop failed")
	}
	l.Stop()
}

func TestIntervalForFPS(t *testing.T) {
	if got := IntervalForFPS(0); got != DefaultInterval {
		t.Errorf("IntervalForFPS(0) = %v", got)
	}
	if got := IntervalForFPS(10); got != 100*time.Millisecond {
		t.Errorf("IntervalForFPS(10) = %v", got)
	}
}
