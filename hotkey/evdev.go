package hotkey

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// Layout of struct input_event on 64-bit kernels: a 16-byte timeval
// followed by type, code and value.
const (
	inputEventSize = 24

	evKey = 1

	valueRelease = 0
	valuePress   = 1
	valueRepeat  = 2
)

type modifier uint8

const (
	modCtrl modifier = 1 << iota
	modShift
	modAlt
)

var modifierCodes = map[uint16]modifier{
	29: modCtrl, 97: modCtrl,
	42: modShift, 54: modShift,
	56: modAlt, 100: modAlt,
}

type keyEvent struct {
	Code  uint16
	Value int32
}

// decodeKeyEvents returns the EV_KEY records in buf. A trailing partial
// record is ignored.
func decodeKeyEvents(buf []byte) []keyEvent {
	var out []keyEvent
	for ; len(buf) >= inputEventSize; buf = buf[inputEventSize:] {
		if binary.LittleEndian.Uint16(buf[16:]) != evKey {
			continue
		}
		out = append(out, keyEvent{
			Code:  binary.LittleEndian.Uint16(buf[18:]),
			Value: int32(binary.LittleEndian.Uint32(buf[20:])),
		})
	}
	return out
}

func (b Binding) modifiers() modifier {
	var m modifier
	if b.Ctrl {
		m |= modCtrl
	}
	if b.Shift {
		m |= modShift
	}
	if b.Alt {
		m |= modAlt
	}
	return m
}

type edge int

const (
	edgeNone edge = iota
	edgeDown
	edgeUp
)

// chordTracker follows the modifier state of one keyboard and reports when
// the bound chord goes down or comes back up. Left and right variants of a
// modifier count as the same modifier; the modifier set must match exactly.
type chordTracker struct {
	code uint16
	want modifier

	held  map[uint16]bool
	chord bool
}

func newChordTracker(b Binding) *chordTracker {
	return &chordTracker{
		code: keyNames[b.Key],
		want: b.modifiers(),
		held: make(map[uint16]bool),
	}
}

func (t *chordTracker) active() modifier {
	var m modifier
	for code, down := range t.held {
		if down {
			m |= modifierCodes[code]
		}
	}
	return m
}

func (t *chordTracker) feed(ev keyEvent) edge {
	if _, ok := modifierCodes[ev.Code]; ok {
		switch ev.Value {
		case valuePress:
			t.held[ev.Code] = true
		case valueRelease:
			t.held[ev.Code] = false
		}
		return edgeNone
	}
	if ev.Code != t.code {
		return edgeNone
	}
	switch ev.Value {
	case valuePress:
		if !t.chord && t.active() == t.want {
			t.chord = true
			return edgeDown
		}
	case valueRelease:
		if t.chord {
			t.chord = false
			return edgeUp
		}
	}
	return edgeNone
}

// parseKeyCaps reads the hex bitmap from
// /sys/class/input/eventN/device/capabilities/key. Words are printed most
// significant first, each one machine word wide.
func parseKeyCaps(s string) ([]uint, error) {
	fields := strings.Fields(s)
	words := make([]uint, len(fields))
	for i, f := range fields {
		w, err := strconv.ParseUint(f, 16, bits.UintSize)
		if err != nil {
			return nil, fmt.Errorf("bad capability word %q: %w", f, err)
		}
		words[len(fields)-1-i] = uint(w)
	}
	return words, nil
}

func hasKey(caps []uint, code uint16) bool {
	word := int(code) / bits.UintSize
	if word >= len(caps) {
		return false
	}
	return caps[word]&(1<<(uint(code)%bits.UintSize)) != 0
}

// typingKeys tells a real keyboard apart from power buttons and media
// remotes, which also advertise EV_KEY.
var typingKeys = []uint16{16, 30, 44, 57} // q, a, z, space

func looksLikeKeyboard(caps []uint, bound uint16) bool {
	for _, code := range typingKeys {
		if !hasKey(caps, code) {
			return false
		}
	}
	return hasKey(caps, bound)
}
