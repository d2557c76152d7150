package hotkey

import (
	"sync/atomic"
	"time"
)

type Mode string

const (
	ModePTT    Mode = "ptt"
	ModeToggle Mode = "toggle"
)

// Toggle asks the conversation to flip between idle and recording.
type Toggle struct {
	Mode Mode
}

// Hybrid turns key edges into toggles. A tap toggles once on press; the
// next tap toggles again on its release. Holding past longPress makes the
// release itself the second toggle (push-to-talk).
type Hybrid struct {
	toggles chan Toggle
	done    chan struct{}
	ptt     atomic.Bool
}

func NewHybrid(hk Hotkey, longPress time.Duration) *Hybrid {
	h := &Hybrid{
		toggles: make(chan Toggle, 1),
		done:    make(chan struct{}),
	}
	go h.run(hk, longPress)
	return h
}

func (h *Hybrid) Toggles() <-chan Toggle { return h.toggles }

// IsToggle reports whether the recording in progress was started by a tap.
func (h *Hybrid) IsToggle() bool { return !h.ptt.Load() }

func (h *Hybrid) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Hybrid) emit(t Toggle) bool {
	select {
	case h.toggles <- t:
		return true
	case <-h.done:
		return false
	}
}

type hybridState int

const (
	stIdle hybridState = iota
	stToggleRecording
)

func (h *Hybrid) run(hk Hotkey, longPress time.Duration) {
	state := stIdle
	for {
		switch state {
		case stIdle:
			select {
			case <-hk.Keydown():
			case <-h.done:
				return
			}
			h.ptt.Store(false)
			if !h.emit(Toggle{Mode: ModeToggle}) {
				return
			}
			timer := time.NewTimer(longPress)
			select {
			case <-timer.C:
				h.ptt.Store(true)
				select {
				case <-hk.Keyup():
				case <-h.done:
					return
				}
				if !h.emit(Toggle{Mode: ModePTT}) {
					return
				}
			case <-hk.Keyup():
				timer.Stop()
				state = stToggleRecording
			case <-h.done:
				timer.Stop()
				return
			}
		case stToggleRecording:
			select {
			case <-hk.Keydown():
			case <-h.done:
				return
			}
			select {
			case <-hk.Keyup():
			case <-h.done:
				return
			}
			if !h.emit(Toggle{Mode: ModeToggle}) {
				return
			}
			state = stIdle
		}
	}
}
