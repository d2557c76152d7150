// Package cue plays the short earcons that mark the start and end of a
// recording and a failed turn.
package cue

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"parley/audio"
	"parley/log"
)

var disabled atomic.Bool

// Disable silences every Player in the process.
func Disable() { disabled.Store(true) }

const (
	sampleRate = 44100

	// Start cue: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// Stop cue: medium pitch, slightly longer
	stopFreq   = 900
	stopVolume = 0.5
	stopDecay  = 40

	// Error cue: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

// Player owns a dedicated output device, separate from response playback.
type Player struct {
	actx audio.Context

	once  sync.Once
	dev   audio.PlaybackDevice
	start []byte
	stop  []byte
	fail  []byte

	mu sync.Mutex
	wg sync.WaitGroup
}

func New(actx audio.Context) *Player {
	return &Player{actx: actx}
}

func (p *Player) init() {
	p.start = generateTick(sampleRate, startFreq, 0.03, startVolume, startDecay)
	p.stop = generateTick(sampleRate, stopFreq, 0.05, stopVolume, stopDecay)
	p.fail = generateDoubleBeep(sampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)

	dev, err := p.actx.NewPlayback(audio.PlaybackConfig{SampleRate: sampleRate, Channels: 1})
	if err != nil {
		log.Warnf("cue output unavailable: %v", err)
		return
	}
	p.dev = dev
}

func (p *Player) play(samples func() []byte) {
	if disabled.Load() {
		return
	}
	p.once.Do(p.init)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev == nil {
		return
	}
	if err := p.dev.Play(samples(), nil, nil); err != nil {
		log.Warnf("cue playback: %v", err)
	}
}

// Start plays the start cue and returns once it has finished, so the cue
// never lands in the recording.
func (p *Player) Start() { p.play(func() []byte { return p.start }) }

func (p *Player) Stop() { p.async(func() []byte { return p.stop }) }

func (p *Player) Error() { p.async(func() []byte { return p.fail }) }

func (p *Player) async(samples func() []byte) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.play(samples)
	}()
}

// Close waits for queued cues and releases the device.
func (p *Player) Close() {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev != nil {
		p.dev.Close()
		p.dev = nil
	}
}

func generateTick(sampleRate int, freq float64, duration float64, volume float64, decay float64) []byte {
	n := int(float64(sampleRate) * duration)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		sample := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

func generateDoubleBeep(sampleRate int, freq float64, beepDur float64, gapDur float64, volume float64, decay float64) []byte {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]byte, int(float64(sampleRate)*gapDur)*2)
	result := make([]byte, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}
