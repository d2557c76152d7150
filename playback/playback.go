// Package playback plays response audio through one output device that is
// opened on first use and kept for the life of the Player.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"parley/audio"
	"parley/decoder"
	"parley/internal/frame"
	"parley/log"
	"parley/meter"
)

type State int

const (
	Idle State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "idle"
}

var (
	ErrBusy   = errors.New("playback already in progress")
	ErrClosed = errors.New("player closed")
)

// PlaybackError reports an output device or decode failure.
type PlaybackError struct {
	Op  string
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s: %v", e.Op, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

type Config struct {
	SampleRate    uint32
	FrameInterval time.Duration
}

type Player struct {
	actx  audio.Context
	meter *meter.Meter
	cfg   Config
	loop  *frame.Loop

	mu      sync.Mutex
	state   State
	dev     audio.PlaybackDevice
	builds  int
	handle  *meter.Handle
	current *decoder.Source
	stop    *stopper
	closed  bool
	wg      sync.WaitGroup

	level   atomic.Uint64
	onLevel atomic.Pointer[func(float64)]
}

func New(actx audio.Context, m *meter.Meter, cfg Config) *Player {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 24000
	}
	return &Player{
		actx:  actx,
		meter: m,
		cfg:   cfg,
		loop:  frame.NewLoop(cfg.FrameInterval),
	}
}

func (p *Player) OnLevel(fn func(float64)) {
	if fn == nil {
		p.onLevel.Store(nil)
		return
	}
	p.onLevel.Store(&fn)
}

func (p *Player) Level() float64 {
	return math.Float64frombits(p.level.Load())
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// DeviceBuilds reports how many times the output device was opened.
func (p *Player) DeviceBuilds() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.builds
}

// stopper ends one Play. It is created with the Play so a stop issued at
// any point after the Player enters Playing reaches the device.
type stopper struct {
	ch   chan struct{}
	once sync.Once
}

func newStopper() *stopper { return &stopper{ch: make(chan struct{})} }

func (s *stopper) stop() { s.once.Do(func() { close(s.ch) }) }

// output returns the shared device, opening it on first use. Caller holds mu.
func (p *Player) output() (audio.PlaybackDevice, error) {
	if p.dev != nil {
		return p.dev, nil
	}
	dev, err := p.actx.NewPlayback(audio.PlaybackConfig{SampleRate: p.cfg.SampleRate, Channels: 1})
	if err != nil {
		return nil, err
	}
	p.dev = dev
	p.builds++
	return dev, nil
}

// Play decodes blob and blocks until it has played out, failed, or ctx is
// cancelled. A Play while another is running returns ErrBusy.
func (p *Player) Play(ctx context.Context, blob audio.Blob) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return &PlaybackError{Op: "play", Err: ErrClosed}
	}
	if p.state == Playing {
		p.mu.Unlock()
		return ErrBusy
	}
	dev, err := p.output()
	if err != nil {
		p.mu.Unlock()
		return &PlaybackError{Op: "open output", Err: err}
	}
	p.state = Playing
	stop := newStopper()
	p.stop = stop
	p.wg.Add(1)
	p.mu.Unlock()
	defer p.wg.Done()

	src, err := decoder.DecodeBlob(blob)
	if err != nil {
		p.finish()
		return &PlaybackError{Op: "decode", Err: err}
	}
	src = src.Resample(int(p.cfg.SampleRate))
	pcm := src.Bytes()

	handle := p.meter.Attach(meter.RolePlayback)
	p.mu.Lock()
	p.handle = handle
	p.current = src
	closed := p.closed
	p.mu.Unlock()
	if closed || ctx.Err() != nil {
		p.finish()
		if closed {
			return &PlaybackError{Op: "play", Err: ErrClosed}
		}
		return ctx.Err()
	}
	p.loop.Start(p.tick)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stop.stop()
		case <-done:
		}
	}()

	log.Infof("playback started audio=%.2fs rate=%d", src.Duration().Seconds(), src.SampleRate)
	start := time.Now()
	err = dev.Play(pcm, func(data []byte, _ uint32) {
		handle.Write(data)
	}, stop.ch)
	close(done)
	p.finish()

	if err != nil {
		return &PlaybackError{Op: "play", Err: err}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Infof("playback finished in %dms", time.Since(start).Milliseconds())
	return nil
}

func (p *Player) tick() {
	p.mu.Lock()
	h := p.handle
	p.mu.Unlock()
	lvl := p.meter.Sample(h)
	p.level.Store(math.Float64bits(lvl))
	if fn := p.onLevel.Load(); fn != nil {
		(*fn)(lvl)
	}
}

func (p *Player) finish() {
	p.loop.Stop()

	p.mu.Lock()
	h := p.handle
	p.handle = nil
	p.current = nil
	p.stop = nil
	p.state = Idle
	p.mu.Unlock()

	p.meter.Detach(h)
	p.level.Store(0)
	if fn := p.onLevel.Load(); fn != nil {
		(*fn)(0)
	}
}

// Stop ends the current playback early. It is a no-op when Idle.
func (p *Player) Stop() {
	p.mu.Lock()
	stop := p.stop
	p.mu.Unlock()
	if stop != nil {
		stop.stop()
	}
}

// Close stops playback, waits for Play to return and releases the device.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	dev, stop := p.dev, p.stop
	p.mu.Unlock()

	if stop != nil {
		stop.stop()
	}
	p.wg.Wait()
	p.loop.Stop()
	if dev != nil {
		dev.Close()
	}
}
