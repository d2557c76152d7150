//go:build !linux

package audio

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, &DeviceError{Op: "open " + device.Name, Err: fmt.Errorf("invalid device ID: %w", err)}
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	c := &malgoCapture{device: device}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			if cb := c.callback.Load(); cb != nil {
				buf := make([]byte, len(data))
				copy(buf, data)
				(*cb)(buf, frameCount)
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, &DeviceError{Op: "open capture", Err: err}
	}
	c.dev = dev
	return c, nil
}

func (m *malgoContext) NewPlayback(config PlaybackConfig) (PlaybackDevice, error) {
	p := &malgoPlayback{}
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: p.fill})
	if err != nil {
		return nil, &DeviceError{Op: "open playback", Err: err}
	}
	p.dev = dev
	return p, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	dev      *malgo.Device
	device   *DeviceInfo
	callback atomic.Pointer[DataCallback]
}

func (c *malgoCapture) Start() error {
	if err := c.dev.Start(); err != nil {
		return &DeviceError{Op: "start capture", Err: err}
	}
	return nil
}

// Stop blocks until miniaudio has joined the capture thread.
func (c *malgoCapture) Stop() {
	c.dev.Stop()
}

func (c *malgoCapture) Close() {
	c.dev.Uninit()
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}

type playSource struct {
	pcm  []byte
	tap  DataCallback
	pos  int
	done chan struct{}
	once sync.Once
}

func (s *playSource) finish() { s.once.Do(func() { close(s.done) }) }

// malgoPlayback keeps one initialised device for its whole lifetime and
// swaps the source it reads from on every Play.
type malgoPlayback struct {
	dev    *malgo.Device
	mu     sync.Mutex
	src    atomic.Pointer[playSource]
	closed bool
}

func (p *malgoPlayback) fill(out, _ []byte, _ uint32) {
	src := p.src.Load()
	if src == nil {
		clear(out)
		return
	}
	n := copy(out, src.pcm[src.pos:])
	clear(out[n:])
	if n > 0 && src.tap != nil {
		src.tap(src.pcm[src.pos:src.pos+n], uint32(n/BytesPerSample))
	}
	src.pos += n
	if src.pos >= len(src.pcm) {
		src.finish()
	}
}

func (p *malgoPlayback) Play(pcm []byte, tap DataCallback, stop <-chan struct{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &DeviceError{Op: "play", Err: errors.New("output closed")}
	}
	if len(pcm) == 0 || Stopped(stop) {
		return nil
	}

	src := &playSource{pcm: pcm, tap: tap, done: make(chan struct{})}
	p.src.Store(src)
	defer p.src.Store(nil)

	if err := p.dev.Start(); err != nil {
		return &DeviceError{Op: "start playback", Err: err}
	}
	select {
	case <-src.done:
	case <-stop:
	}
	return p.dev.Stop()
}

// Close ends a Play in progress and releases the device.
func (p *malgoPlayback) Close() {
	if src := p.src.Load(); src != nil {
		src.finish()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.dev.Uninit()
	}
}
