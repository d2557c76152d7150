//go:build linux

package hotkey

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const inputGroupHint = "run: sudo usermod -aG input $USER, then re-login"

var errNoKeyboard = errors.New("no keyboard devices found (is user in 'input' group?)")

type linuxHotkey struct {
	binding Binding
	keydown chan struct{}
	keyup   chan struct{}

	mu      sync.Mutex
	devices []*os.File
	closed  bool
}

// New reads key events straight from /dev/input, which works under both
// X11 and Wayland but needs membership of the input group.
func New(b Binding) Hotkey {
	return &linuxHotkey{
		binding: b,
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (h *linuxHotkey) Register() error {
	paths, err := keyboards(keyNames[h.binding.Key])
	if err != nil {
		return fmt.Errorf("finding keyboards: %w", err)
	}
	if len(paths) == 0 {
		return errNoKeyboard
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h.devices = append(h.devices, f)
		go h.watch(f)
	}
	if len(h.devices) == 0 {
		return fmt.Errorf("could not open any keyboard device (%s)", inputGroupHint)
	}
	return nil
}

// watch runs until the device is closed. Each keyboard has its own
// tracker so a modifier held on one does not arm a key on another.
func (h *linuxHotkey) watch(f *os.File) {
	tracker := newChordTracker(h.binding)
	buf := make([]byte, inputEventSize*16)
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		for _, ev := range decodeKeyEvents(buf[:n]) {
			switch tracker.feed(ev) {
			case edgeDown:
				notify(h.keydown)
			case edgeUp:
				notify(h.keyup)
			}
		}
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (h *linuxHotkey) Unregister() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, f := range h.devices {
		f.Close()
	}
}

func (h *linuxHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *linuxHotkey) Keyup() <-chan struct{}   { return h.keyup }

// keyboards lists the event devices able to type the bound key.
func keyboards(bound uint16) ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "event") {
			continue
		}
		data, err := os.ReadFile(filepath.Join("/sys/class/input", name, "device", "capabilities", "key"))
		if err != nil {
			continue
		}
		caps, err := parseKeyCaps(string(data))
		if err != nil || !looksLikeKeyboard(caps, bound) {
			continue
		}
		out = append(out, filepath.Join("/dev/input", name))
	}
	return out, nil
}

func Diagnose() (string, error) {
	paths, err := keyboards(keyNames["space"])
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(paths) == 0 {
		return "", errNoKeyboard
	}
	for _, path := range paths {
		if f, err := os.Open(path); err == nil {
			f.Close()
			return fmt.Sprintf("%d keyboard(s) found, opened %s", len(paths), path), nil
		}
	}
	return "", fmt.Errorf("found %d keyboard(s) but cannot open any (%s)", len(paths), inputGroupHint)
}
