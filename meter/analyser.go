// Package meter turns a live PCM stream into a normalized activity level
// using frequency-domain analysis.
package meter

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8
	MinDecibels      = -100.0
	MaxDecibels      = -30.0

	minFFTSize = 32
	maxFFTSize = 32768
)

// Analyser keeps the most recent fftSize samples of a stream and reduces
// them to 8-bit frequency bins on demand. Bins are smoothed across
// successive reads; no other damping is applied.
type Analyser struct {
	mu        sync.Mutex
	size      int
	smoothing float64

	ring   []float64
	pos    int
	fft    *fourier.FFT
	window []float64
	frame  []float64
	coeffs []complex128
	smooth []float64
}

func ValidFFTSize(n int) bool {
	return n >= minFFTSize && n <= maxFFTSize && n&(n-1) == 0
}

func NewAnalyser(fftSize int, smoothing float64) (*Analyser, error) {
	if !ValidFFTSize(fftSize) {
		return nil, fmt.Errorf("fft size %d must be a power of two in [%d, %d]", fftSize, minFFTSize, maxFFTSize)
	}
	if smoothing < 0 || smoothing > 1 {
		return nil, fmt.Errorf("smoothing %.2f out of range [0, 1]", smoothing)
	}
	return &Analyser{
		size:      fftSize,
		smoothing: smoothing,
		ring:      make([]float64, fftSize),
		fft:       fourier.NewFFT(fftSize),
		window:    blackman(fftSize),
		frame:     make([]float64, fftSize),
		coeffs:    make([]complex128, fftSize/2+1),
		smooth:    make([]float64, fftSize/2),
	}, nil
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

func (a *Analyser) FFTSize() int { return a.size }

func (a *Analyser) FrequencyBinCount() int { return a.size / 2 }

// Write pushes S16LE mono PCM into the analysis window.
func (a *Analyser) Write(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += 2 {
		a.ring[a.pos] = float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		a.pos = (a.pos + 1) % a.size
	}
}

// ByteFrequencyData fills dst (grown as needed) with the current bins,
// each mapped linearly from [MinDecibels, MaxDecibels] onto [0, 255].
func (a *Analyser) ByteFrequencyData(dst []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	bins := a.size / 2
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]

	for i := 0; i < a.size; i++ {
		a.frame[i] = a.ring[(a.pos+i)%a.size] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	scale := 255.0 / (MaxDecibels - MinDecibels)
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.size)
		a.smooth[k] = a.smoothing*a.smooth[k] + (1-a.smoothing)*mag

		db := MinDecibels
		if a.smooth[k] > 0 {
			db = 20 * math.Log10(a.smooth[k])
		}
		v := math.Floor(scale * (db - MinDecibels))
		dst[k] = byte(math.Max(0, math.Min(255, v)))
	}
	return dst
}

func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smooth)
	a.pos = 0
}

// Level reduces 8-bit bins to their arithmetic mean over 255.
func Level(bins []byte) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins)) / 255.0
}
