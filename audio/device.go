package audio

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

var ErrSelectionAborted = errors.New("device selection aborted")

// FindDevice returns the capture device called name, or nil for the
// system default when name is empty.
func FindDevice(ctx Context, name string) (*DeviceInfo, error) {
	if name == "" {
		return nil, nil
	}
	devices, err := ctx.Devices()
	if err != nil {
		return nil, &DeviceError{Op: "enumerate", Err: err}
	}
	for i := range devices {
		if devices[i].Name == name {
			return &devices[i], nil
		}
	}
	return nil, &DeviceError{Op: "find " + name, Err: ErrNoDevice}
}

// SelectDevice presents an interactive device picker and returns the selected device.
// If only one device is available, it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, &DeviceError{Op: "enumerate", Err: err}
	}

	if len(devices) == 0 {
		return nil, &DeviceError{Op: "enumerate", Err: ErrNoDevice}
	}

	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	renderDeviceList(devices, cursor)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		switch {
		case n == 1 && buf[0] == 13: // Enter
			fmt.Print("\r\n")
			return &devices[cursor], nil
		case n == 1 && (buf[0] == 3 || buf[0] == 'q'): // Ctrl+C
			fmt.Print("\r\n")
			return nil, ErrSelectionAborted
		case n == 1 && buf[0] == 'j', n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'B':
			cursor = min(cursor+1, len(devices)-1)
		case n == 1 && buf[0] == 'k', n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'A':
			cursor = max(cursor-1, 0)
		}

		fmt.Printf("\x1b[%dA", len(devices)+2)
		renderDeviceList(devices, cursor)
	}
}

func renderDeviceList(devices []DeviceInfo, cursor int) {
	fmt.Print("\r\x1b[J")
	fmt.Print("Select input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range devices {
		btTag := ""
		if IsBluetooth(d.Name) {
			btTag = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Printf("  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
		} else {
			fmt.Printf("    %s%s\r\n", d.Name, btTag)
		}
	}
}
