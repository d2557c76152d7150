//go:build linux

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("parley"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	var source *pulse.Source
	if device != nil {
		s, err := p.client.SourceByID(device.ID)
		if err != nil {
			return nil, &DeviceError{Op: "open " + device.Name, Err: err}
		}
		source = s
	} else {
		s, err := p.client.DefaultSource()
		if err != nil || s == nil {
			return nil, &DeviceError{Op: "open default source", Err: ErrNoDevice}
		}
	}
	return &pulseCapture{
		client: p.client,
		device: device,
		source: source,
		config: config,
	}, nil
}

func (p *pulseContext) NewPlayback(config PlaybackConfig) (PlaybackDevice, error) {
	if _, err := p.client.DefaultSink(); err != nil {
		return nil, &DeviceError{Op: "open default sink", Err: err}
	}
	return &pulsePlayback{client: p.client, config: config}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	source   *pulse.Source
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		cb := c.callback.Load()
		if cb == nil {
			return len(buf), nil
		}
		data := make([]byte, len(buf)*BytesPerSample)
		for i, s := range buf {
			binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
		}
		(*cb)(data, uint32(len(buf)))
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
		pulse.RecordMediaName("parley capture"),
		pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	}
	if c.source != nil {
		opts = append(opts, pulse.RecordSource(c.source))
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return &DeviceError{Op: "record", Err: err}
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		<-c.stop
		stream.Stop()
		stream.Close()
	}()

	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseCapture) Close() {
	c.Stop()
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}

// pulsePlayback opens one pulse stream per Play call on the shared client;
// the client connection is the long-lived element.
type pulsePlayback struct {
	client *pulse.Client
	config PlaybackConfig
	mu     sync.Mutex
	closed bool
}

func (p *pulsePlayback) Play(pcm []byte, tap DataCallback, stop <-chan struct{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return &DeviceError{Op: "play", Err: errors.New("output closed")}
	}
	if Stopped(stop) {
		return nil
	}

	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	pos := 0
	var tapBuf []byte
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) || Stopped(stop) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		if tap != nil {
			tapBuf = append(tapBuf[:0], pcm[pos*2:(pos+n)*2]...)
			tap(tapBuf, uint32(n))
		}
		pos += n
		return n, nil
	})

	opts := []pulse.PlaybackOption{
		pulse.PlaybackSampleRate(int(p.config.SampleRate)),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackMediaName("parley playback"),
	}
	if p.config.Channels == 2 {
		opts = append(opts, pulse.PlaybackStereo)
	} else {
		opts = append(opts, pulse.PlaybackMono)
	}
	stream, err := p.client.NewPlayback(reader, opts...)
	if err != nil {
		return &DeviceError{Op: "playback", Err: err}
	}
	stream.Start()
	stream.Drain()
	stream.Close()
	if err := stream.Error(); err != nil {
		return &DeviceError{Op: "playback", Err: err}
	}
	return nil
}

// Close waits for a Play in progress; callers end it through its stop channel.
func (p *pulsePlayback) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
