package hotkey

import (
	"fmt"
	"strings"
)

// Hotkey delivers press and release edges of one global key binding.
type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

const DefaultBinding = "ctrl+shift+space"

// Binding is a modifier set plus one key, parsed from strings such as
// "ctrl+shift+space" or "alt+f9".
type Binding struct {
	Ctrl  bool
	Shift bool
	Alt   bool
	Key   string
}

func Parse(s string) (Binding, error) {
	var b Binding
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		last := i == len(parts)-1
		switch {
		case p == "ctrl" && !last:
			b.Ctrl = true
		case p == "shift" && !last:
			b.Shift = true
		case p == "alt" && !last:
			b.Alt = true
		case last:
			if _, ok := keyNames[p]; !ok {
				return Binding{}, fmt.Errorf("unknown key %q in hotkey %q", p, s)
			}
			b.Key = p
		default:
			return Binding{}, fmt.Errorf("unknown modifier %q in hotkey %q", p, s)
		}
	}
	if !b.Ctrl && !b.Shift && !b.Alt {
		return Binding{}, fmt.Errorf("hotkey %q needs at least one modifier", s)
	}
	return b, nil
}

func (b Binding) String() string {
	var parts []string
	if b.Ctrl {
		parts = append(parts, "Ctrl")
	}
	if b.Shift {
		parts = append(parts, "Shift")
	}
	if b.Alt {
		parts = append(parts, "Alt")
	}
	return strings.Join(append(parts, strings.ToUpper(b.Key[:1])+b.Key[1:]), "+")
}

// keyNames lists the keys a binding may end in, with their evdev codes.
var keyNames = map[string]uint16{
	"space": 57,
	"enter": 28,
	"f1":    59, "f2": 60, "f3": 61, "f4": 62, "f5": 63, "f6": 64,
	"f7": 65, "f8": 66, "f9": 67, "f10": 68, "f11": 87, "f12": 88,
	"a": 30, "b": 48, "c": 46, "d": 32, "e": 18, "f": 33, "g": 34,
	"h": 35, "i": 23, "j": 36, "k": 37, "l": 38, "m": 50, "n": 49,
	"o": 24, "p": 25, "q": 16, "r": 19, "s": 31, "t": 20, "u": 22,
	"v": 47, "w": 17, "x": 45, "y": 21, "z": 44,
}
