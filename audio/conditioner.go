package audio

import (
	"encoding/binary"
	"math"
)

const (
	gateThreshold = 0.004 // ~-48 dBFS
	gateFloor     = 0.1
	agcTarget     = 0.1 // ~-20 dBFS RMS
	agcMaxGain    = 8.0
	agcMinGain    = 0.5
	agcAttack     = 0.3
	agcRelease    = 0.05
)

// Conditioner applies the software part of the capture constraints to
// S16LE mono PCM in place: a noise gate and an adaptive gain stage.
// Echo cancellation is left to the backend; capture and playback never
// run at the same time in a conversation.
type Conditioner struct {
	c    Constraints
	gain float64
}

func NewConditioner(c Constraints) *Conditioner {
	return &Conditioner{c: c, gain: 1}
}

func (p *Conditioner) Gain() float64 { return p.gain }

func (p *Conditioner) Process(pcm []byte) {
	if !p.c.NoiseSuppression && !p.c.AutoGainControl {
		return
	}
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return
	}

	var sumSquares float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sumSquares += s * s
	}
	rms := math.Sqrt(sumSquares / float64(n))

	scale := 1.0
	if p.c.AutoGainControl && rms > 0 {
		want := math.Min(math.Max(agcTarget/rms, agcMinGain), agcMaxGain)
		rate := agcRelease
		if want < p.gain {
			rate = agcAttack
		}
		p.gain += (want - p.gain) * rate
		scale = p.gain
	}
	if p.c.NoiseSuppression && rms < gateThreshold {
		scale *= gateFloor
	}
	if scale == 1 {
		return
	}

	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) * scale
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
}
