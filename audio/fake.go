package audio

import (
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize  = 1024
	fakeSampleRate = 16000
)

// FakeContext stands in for the platform audio stack in tests and the
// headless test mode. Captures replay pcm; playbacks consume their input
// either instantly or at real-time pace.
type FakeContext struct {
	pcm      []byte
	realtime bool

	// CaptureErr, when set, is returned by NewCapture.
	CaptureErr error
	// PlaybackErr, when set, is returned by every FakePlayback.Play.
	PlaybackErr error

	mu        sync.Mutex
	captures  []*FakeCapture
	playbacks []*FakePlayback
}

func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, realtime: realtime}
}

// NewFakeContextFromWAV loads a 16 kHz mono S16LE WAV and strips its header.
func NewFakeContextFromWAV(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContext(data, realtime), nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.CaptureErr != nil {
		return nil, &DeviceError{Op: "open capture", Err: f.CaptureErr}
	}
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

func (f *FakeContext) NewPlayback(_ PlaybackConfig) (PlaybackDevice, error) {
	p := &FakePlayback{realtime: f.realtime, err: f.PlaybackErr}
	f.mu.Lock()
	f.playbacks = append(f.playbacks, p)
	f.mu.Unlock()
	return p, nil
}

// Captures returns every capture device handed out so far.
func (f *FakeContext) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

// Playbacks returns every playback device handed out so far.
func (f *FakeContext) Playbacks() []*FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlayback(nil), f.playbacks...)
}

type FakeCapture struct {
	pcm      []byte
	realtime bool

	mu       sync.Mutex
	cb       DataCallback
	started  bool
	closed   bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

// Feed delivers data to the registered callback as if the device produced it.
func (f *FakeCapture) Feed(data []byte) {
	f.mu.Lock()
	cb := f.cb
	started := f.started
	f.mu.Unlock()
	if cb != nil && started {
		cb(data, uint32(len(data)/BytesPerSample))
	}
}

// AudioDone is closed once the replayed pcm has been fully delivered or
// the capture stopped. It is nil before Start.
func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feedDone
}

func (f *FakeCapture) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	f.started = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()

	if len(f.pcm) == 0 {
		close(feedDone)
		return nil
	}

	chunkBytes := fakeFrameSize * BytesPerSample
	interval := time.Duration(fakeFrameSize) * time.Second / fakeSampleRate
	go func() {
		defer close(feedDone)
		for pos := 0; pos < len(f.pcm); {
			select {
			case <-stopCh:
				return
			default:
			}
			end := min(pos+chunkBytes, len(f.pcm))
			chunk := make([]byte, end-pos)
			copy(chunk, f.pcm[pos:end])
			f.Feed(chunk)
			pos = end

			if f.realtime {
				select {
				case <-stopCh:
					return
				case <-time.After(interval):
				}
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

type FakePlayback struct {
	realtime bool
	err      error

	mu     sync.Mutex
	played int
	plays  int
	closed bool
	hold   chan struct{}
}

// SetHold makes every subsequent Play block after consuming its input
// until hold or the Play's stop channel is closed.
func (p *FakePlayback) SetHold(hold chan struct{}) {
	p.mu.Lock()
	p.hold = hold
	p.mu.Unlock()
}

func (p *FakePlayback) Play(pcm []byte, tap DataCallback, stop <-chan struct{}) error {
	p.mu.Lock()
	p.plays++
	hold := p.hold
	p.mu.Unlock()

	if p.err != nil {
		return &DeviceError{Op: "play", Err: p.err}
	}

	chunkBytes := fakeFrameSize * BytesPerSample
	interval := time.Duration(fakeFrameSize) * time.Second / fakeSampleRate
	for pos := 0; pos < len(pcm) && !Stopped(stop); {
		end := min(pos+chunkBytes, len(pcm))
		if tap != nil {
			tap(pcm[pos:end], uint32((end-pos)/BytesPerSample))
		}
		p.mu.Lock()
		p.played += end - pos
		p.mu.Unlock()
		pos = end
		if p.realtime {
			time.Sleep(interval)
		}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-stop:
		}
	}
	return nil
}

func (p *FakePlayback) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Played returns the total number of bytes consumed across all Play calls.
func (p *FakePlayback) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

func (p *FakePlayback) Plays() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays
}

func (p *FakePlayback) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
