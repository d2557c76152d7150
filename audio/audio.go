package audio

import (
	"errors"
	"fmt"
	"strings"
)

const (
	WAVHeaderSize  = 44
	BytesPerSample = 2 // S16LE
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Blob is an opaque encoded audio payload plus its MIME type.
type Blob struct {
	Data        []byte
	ContentType string
}

func (b Blob) Len() int { return len(b.Data) }

var ErrNoDevice = errors.New("no audio input device")

// DeviceError reports a failure to acquire or drive an audio device.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

type DataCallback func(data []byte, frameCount uint32)

// Constraints mirror the processing a microphone stream is acquired with.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

func DefaultConstraints() Constraints {
	return Constraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}

type CaptureConfig struct {
	SampleRate  uint32
	Channels    uint32
	Constraints Constraints
}

type PlaybackConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayback(config PlaybackConfig) (PlaybackDevice, error)
	Close()
}

// CaptureDevice is an exclusively owned input stream. Stop returns only
// after the stream has stopped delivering callbacks.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// PlaybackDevice is a long-lived output element. Play streams mono S16LE
// PCM at the configured rate, invoking tap with every fragment handed to
// the hardware, and blocks until the data drained or stop is closed. A
// stop closed before Play is called plays nothing. A nil stop never fires.
type PlaybackDevice interface {
	Play(pcm []byte, tap DataCallback, stop <-chan struct{}) error
	Close()
}

// Stopped reports whether stop has been closed.
func Stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}
