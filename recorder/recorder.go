// Package recorder owns microphone capture for one recording at a time:
// device lifecycle, encoding into a ChunkBuffer and live input level.
package recorder

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"parley/audio"
	"parley/encoder"
	"parley/internal/frame"
	"parley/log"
	"parley/meter"
)

type State int

const (
	Idle State = iota
	Capturing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	default:
		return "unknown"
	}
}

// ErrCapturing is logged when Start is called during a capture.
var ErrCapturing = errors.New("recorder already capturing")

type Config struct {
	Device        *audio.DeviceInfo
	Capture       audio.CaptureConfig
	Format        string
	FrameInterval time.Duration
}

type Recorder struct {
	actx  audio.Context
	meter *meter.Meter
	cfg   Config
	loop  *frame.Loop

	// opMu serialises Start and Stop.
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	capture    audio.CaptureDevice
	cond       *audio.Conditioner
	handle     *meter.Handle
	buf        *ChunkBuffer
	enc        encoder.Encoder
	sampleBuf  []int16
	blockChan  chan []int16
	encodeDone chan struct{}
	flushed    bool
	startedAt  time.Time
	duration   time.Duration
	fed        int

	level   atomic.Uint64
	onLevel atomic.Pointer[func(float64)]
}

func New(actx audio.Context, m *meter.Meter, cfg Config) *Recorder {
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = encoder.SampleRate
	}
	if cfg.Capture.Channels == 0 {
		cfg.Capture.Channels = encoder.Channels
	}
	return &Recorder{
		actx:  actx,
		meter: m,
		cfg:   cfg,
		loop:  frame.NewLoop(cfg.FrameInterval),
		buf:   NewChunkBuffer(),
	}
}

// OnLevel registers fn to be called from the sampling loop on every frame.
func (r *Recorder) OnLevel(fn func(float64)) {
	if fn == nil {
		r.onLevel.Store(nil)
		return
	}
	r.onLevel.Store(&fn)
}

func (r *Recorder) Level() float64 {
	return math.Float64frombits(r.level.Load())
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Duration returns the wall time of the last completed capture.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

// Start opens the microphone and begins buffering. A second Start during a
// capture is logged and ignored.
func (r *Recorder) Start() error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if r.State() == Capturing {
		log.Warnf("recorder start ignored: %v", ErrCapturing)
		return nil
	}

	capture, err := r.actx.NewCapture(r.cfg.Device, r.cfg.Capture)
	if err != nil {
		var de *audio.DeviceError
		if !errors.As(err, &de) {
			err = &audio.DeviceError{Op: "open capture", Err: err}
		}
		return err
	}

	r.buf.Reset()
	enc, err := encoder.New(r.cfg.Format, r.buf, r.cfg.Capture.SampleRate)
	if err != nil {
		capture.Close()
		return err
	}

	handle := r.meter.Attach(meter.RoleCapture)

	r.mu.Lock()
	r.capture = capture
	r.cond = audio.NewConditioner(r.cfg.Capture.Constraints)
	r.handle = handle
	r.enc = enc
	r.sampleBuf = r.sampleBuf[:0]
	r.blockChan = make(chan []int16, 64)
	r.encodeDone = make(chan struct{})
	r.flushed = false
	r.fed = 0
	r.state = Capturing
	blockChan, encodeDone := r.blockChan, r.encodeDone
	r.mu.Unlock()

	go func() {
		defer close(encodeDone)
		for block := range blockChan {
			start := time.Now()
			if err := enc.EncodeBlock(block); err != nil {
				log.Errorf("encode block: %v", err)
			}
			enc.AddEncodeTime(time.Since(start))
		}
	}()

	capture.SetCallback(r.onData)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		r.teardown()
		capture.Close()
		var de *audio.DeviceError
		if !errors.As(err, &de) {
			err = &audio.DeviceError{Op: "start capture", Err: err}
		}
		return err
	}

	r.mu.Lock()
	r.startedAt = time.Now()
	r.mu.Unlock()

	r.loop.Start(r.tick)
	log.Infof("recording started device=%s format=%s", capture.DeviceName(), r.cfg.Format)
	return nil
}

func (r *Recorder) onData(data []byte, _ uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Capturing || r.flushed {
		return
	}

	pcm := make([]byte, len(data))
	copy(pcm, data)
	r.cond.Process(pcm)
	r.handle.Write(pcm)
	r.fed += len(pcm)

	for i := 0; i+1 < len(pcm); i += 2 {
		r.sampleBuf = append(r.sampleBuf, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	for len(r.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, r.sampleBuf[:encoder.BlockSize])
		r.sampleBuf = r.sampleBuf[encoder.BlockSize:]
		r.blockChan <- block
	}
}

func (r *Recorder) tick() {
	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	lvl := r.meter.Sample(h)
	r.level.Store(math.Float64bits(lvl))
	if fn := r.onLevel.Load(); fn != nil {
		(*fn)(lvl)
	}
}

// Stop ends the capture and returns every chunk buffered since Start.
// The device has stopped delivering before any chunk is assembled. When
// Idle it returns an empty blob. An error is returned only if the encoder
// fails to flush; the blob still holds what was buffered.
func (r *Recorder) Stop() (audio.Blob, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.state != Capturing {
		r.mu.Unlock()
		return audio.Blob{}, nil
	}
	capture, enc := r.capture, r.enc
	r.mu.Unlock()

	capture.Stop()
	capture.ClearCallback()

	r.mu.Lock()
	if len(r.sampleBuf) > 0 {
		partial := make([]int16, len(r.sampleBuf))
		copy(partial, r.sampleBuf)
		r.sampleBuf = r.sampleBuf[:0]
		r.blockChan <- partial
	}
	r.flushed = true
	close(r.blockChan)
	encodeDone := r.encodeDone
	fed := r.fed
	r.mu.Unlock()
	<-encodeDone

	flushErr := enc.Close()

	blob := audio.Blob{Data: r.buf.Assemble(), ContentType: enc.ContentType()}
	r.buf.Reset()
	capture.Close()

	r.mu.Lock()
	r.duration = time.Since(r.startedAt)
	dur := r.duration
	r.mu.Unlock()

	r.teardown()

	log.Infof("recording stopped audio=%.2fs raw=%dB encoded=%dB encode=%dms",
		float64(enc.TotalFrames())/float64(r.cfg.Capture.SampleRate), fed, blob.Len(), enc.EncodeTime().Milliseconds())
	log.Debugf("recording wall time %s", dur)
	return blob, flushErr
}

// teardown cancels sampling and returns to Idle. The encoder goroutine must
// have exited or its channel must be closed by the caller.
func (r *Recorder) teardown() {
	r.loop.Stop()

	r.mu.Lock()
	h := r.handle
	if !r.flushed && r.blockChan != nil {
		r.flushed = true
		close(r.blockChan)
	}
	r.handle = nil
	r.capture = nil
	r.enc = nil
	r.cond = nil
	r.state = Idle
	r.mu.Unlock()

	r.meter.Detach(h)
	r.level.Store(0)
	if fn := r.onLevel.Load(); fn != nil {
		(*fn)(0)
	}
}

// Close stops any capture in progress and discards its audio.
func (r *Recorder) Close() {
	if r.State() == Capturing {
		r.Stop()
	}
	r.loop.Stop()
}
