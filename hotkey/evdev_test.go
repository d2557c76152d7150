package hotkey

import (
	"encoding/binary"
	"math/bits"
	"strconv"
	"strings"
	"testing"
)

func rawEvent(typ, code uint16, value int32) []byte {
	b := make([]byte, inputEventSize)
	binary.LittleEndian.PutUint16(b[16:], typ)
	binary.LittleEndian.PutUint16(b[18:], code)
	binary.LittleEndian.PutUint32(b[20:], uint32(value))
	return b
}

func TestDecodeKeyEvents(t *testing.T) {
	var buf []byte
	buf = append(buf, rawEvent(evKey, 29, valuePress)...)
	buf = append(buf, rawEvent(0, 0, 0)...) // EV_SYN
	buf = append(buf, rawEvent(evKey, 57, valueRelease)...)
	buf = append(buf, 1, 2, 3) // partial record

	got := decodeKeyEvents(buf)
	want := []keyEvent{{Code: 29, Value: valuePress}, {Code: 57, Value: valueRelease}}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func feedAll(tr *chordTracker, evs ...keyEvent) []edge {
	var out []edge
	for _, ev := range evs {
		if e := tr.feed(ev); e != edgeNone {
			out = append(out, e)
		}
	}
	return out
}

func press(code uint16) keyEvent   { return keyEvent{Code: code, Value: valuePress} }
func release(code uint16) keyEvent { return keyEvent{Code: code, Value: valueRelease} }
func repeat(code uint16) keyEvent  { return keyEvent{Code: code, Value: valueRepeat} }

const (
	lctrl  = 29
	rshift = 54
	lshift = 42
	lalt   = 56
	space  = 57
)

func TestChordTracker(t *testing.T) {
	b, err := Parse("ctrl+shift+space")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		events []keyEvent
		want   []edge
	}{
		{"chord down and up",
			[]keyEvent{press(lctrl), press(rshift), press(space), release(space)},
			[]edge{edgeDown, edgeUp}},
		{"repeat is not a second press",
			[]keyEvent{press(lctrl), press(lshift), press(space), repeat(space), repeat(space), release(space)},
			[]edge{edgeDown, edgeUp}},
		{"missing modifier",
			[]keyEvent{press(lctrl), press(space), release(space)},
			nil},
		{"extra modifier",
			[]keyEvent{press(lctrl), press(lshift), press(lalt), press(space), release(space)},
			nil},
		{"modifier released first still ends chord",
			[]keyEvent{press(lctrl), press(lshift), press(space), release(lctrl), release(space)},
			[]edge{edgeDown, edgeUp}},
		{"one of two shifts released keeps modifier",
			[]keyEvent{press(lctrl), press(lshift), press(rshift), release(lshift), press(space)},
			[]edge{edgeDown}},
		{"key pressed before modifiers",
			[]keyEvent{press(space), press(lctrl), press(lshift), release(space)},
			nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feedAll(newChordTracker(b), tt.events...)
			if len(got) != len(tt.want) {
				t.Fatalf("edges = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("edges = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

// capsString renders codes the way sysfs does: hex words, most significant
// first.
func capsString(codes ...uint16) string {
	var words []uint
	for _, c := range codes {
		w := int(c) / bits.UintSize
		for len(words) <= w {
			words = append(words, 0)
		}
		words[w] |= 1 << (uint(c) % bits.UintSize)
	}
	parts := make([]string, len(words))
	for i, w := range words {
		parts[len(words)-1-i] = strconv.FormatUint(uint64(w), 16)
	}
	return strings.Join(parts, " ") + "\n"
}

func TestLooksLikeKeyboard(t *testing.T) {
	f9 := keyNames["f9"]
	full, err := parseKeyCaps(capsString(16, 30, 44, 57, f9, 116, 240))
	if err != nil {
		t.Fatal(err)
	}
	if !looksLikeKeyboard(full, f9) {
		t.Error("keyboard with letters and f9 rejected")
	}
	if looksLikeKeyboard(full, keyNames["f12"]) {
		t.Error("keyboard without the bound key accepted")
	}

	power, err := parseKeyCaps(capsString(116))
	if err != nil {
		t.Fatal(err)
	}
	if looksLikeKeyboard(power, f9) {
		t.Error("power button accepted as keyboard")
	}
}

func TestParseKeyCapsRejectsGarbage(t *testing.T) {
	if _, err := parseKeyCaps("ff zz"); err == nil {
		t.Error("expected error")
	}
	caps, err := parseKeyCaps("")
	if err != nil || len(caps) != 0 {
		t.Errorf("empty caps = %v, %v", caps, err)
	}
}
