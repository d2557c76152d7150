package main

import (
	"context"
	"errors"
	"time"

	"parley/conversation"
	"parley/log"
)

const (
	tickInterval        = 100 * time.Millisecond
	silenceWarnEvery    = 8 * time.Second
	silenceAutoCloseDur = 30 * time.Second
	speechLevel         = 0.08 // meter level counted as voice
	speechMinRatio      = 0.10
	speechClearRatio    = 0.25 // higher threshold to clear warning (hysteresis)
)

type SilenceEvent int

const (
	SilenceNone      SilenceEvent = iota
	SilenceWarn                   // no voice detected
	SilenceWarnClear              // speech resumed after warning
	SilenceRepeat                 // repeat cue every 8s
	SilenceAutoClose              // 30s of silence ends a tapped recording
)

func (e SilenceEvent) String() string {
	switch e {
	case SilenceWarn:
		return "warn"
	case SilenceWarnClear:
		return "warn_clear"
	case SilenceRepeat:
		return "repeat"
	case SilenceAutoClose:
		return "auto_close"
	default:
		return "none"
	}
}

// silenceMonitor classifies one level per tick as voice or silence and
// keeps a sliding window of the last silenceAutoCloseDur worth of ticks.
type silenceMonitor struct {
	threshold float64
	warnAt    int
	windowSz  int
	isToggle  func() bool

	ticks   int
	window  []bool
	voiced  int
	warned  bool
	lastCue int
}

func newSilenceMonitor(threshold float64, isToggle func() bool) *silenceMonitor {
	windowSz := int(silenceAutoCloseDur / tickInterval)
	return &silenceMonitor{
		threshold: threshold,
		warnAt:    int(silenceWarnEvery / tickInterval),
		windowSz:  windowSz,
		isToggle:  isToggle,
		window:    make([]bool, windowSz),
	}
}

func (m *silenceMonitor) Reset() {
	m.ticks, m.voiced, m.lastCue = 0, 0, 0
	m.warned = false
	clear(m.window)
}

// recentRatio is the voiced share of the last n ticks.
func (m *silenceMonitor) recentRatio(n int) float64 {
	n = min(n, m.ticks)
	if n == 0 {
		return 1.0
	}
	count := 0
	for i := range n {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(level float64) SilenceEvent {
	voice := level >= m.threshold
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.voiced--
	}
	m.window[idx] = voice
	if voice {
		m.voiced++
	}
	m.ticks++

	r := m.recentRatio(m.warnAt)
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastCue = m.ticks
		return SilenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return SilenceWarnClear
	}

	// Held recordings end on release, never on silence.
	if !m.isToggle() {
		return SilenceNone
	}
	if m.ticks >= m.windowSz && float64(m.voiced)/float64(m.windowSz) < speechMinRatio {
		return SilenceAutoClose
	}
	if m.warned && m.ticks-m.lastCue >= m.warnAt {
		m.lastCue = m.ticks
		return SilenceRepeat
	}
	return SilenceNone
}

type framer interface {
	Frame() conversation.Frame
	Send() error
}

// silenceWatch feeds the monitor with the conversation's level while it
// records and sends the recording on SilenceAutoClose.
type silenceWatch struct {
	src      framer
	mon      *silenceMonitor
	interval time.Duration
	onEvent  func(SilenceEvent)
}

func newSilenceWatch(src framer, isToggle func() bool, onEvent func(SilenceEvent)) *silenceWatch {
	return &silenceWatch{
		src:      src,
		mon:      newSilenceMonitor(speechLevel, isToggle),
		interval: tickInterval,
		onEvent:  onEvent,
	}
}

func (w *silenceWatch) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	recording := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		f := w.src.Frame()
		if f.State != conversation.Recording {
			if recording {
				w.mon.Reset()
				recording = false
			}
			continue
		}
		recording = true

		ev := w.mon.Tick(f.Level)
		if ev == SilenceNone {
			continue
		}
		log.Info("silence_" + ev.String())
		if w.onEvent != nil {
			w.onEvent(ev)
		}
		if ev == SilenceAutoClose {
			if err := w.src.Send(); err != nil && !errors.Is(err, conversation.ErrNotRecording) {
				log.Warnf("silence auto-send failed: %v", err)
			}
			w.mon.Reset()
			recording = false
		}
	}
}
