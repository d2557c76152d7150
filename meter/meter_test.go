package meter

import (
	"encoding/binary"
	"math"
	"testing"
)

func sine(freq, amp float64, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func newMeter(t *testing.T) *Meter {
	t.Helper()
	m, err := New(DefaultFFTSize, DefaultSmoothing)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestNewAnalyserRejectsBadSizes(t *testing.T) {
	for _, n := range []int{0, 16, 100, 255, 65536} {
		if _, err := NewAnalyser(n, DefaultSmoothing); err == nil {
			t.Errorf("NewAnalyser(%d) should fail", n)
		}
	}
	if _, err := NewAnalyser(256, 1.5); err == nil {
		t.Error("smoothing 1.5 should fail")
	}
}

func TestAnalyserBinCount(t *testing.T) {
	a, err := NewAnalyser(256, DefaultSmoothing)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(a.ByteFrequencyData(nil)); got != 128 {
		t.Errorf("bins = %d, want 128", got)
	}
}

func TestAnalyserSilenceIsZero(t *testing.T) {
	a, _ := NewAnalyser(256, DefaultSmoothing)
	a.Write(make([]byte, 1024))
	if l := Level(a.ByteFrequencyData(nil)); l != 0 {
		t.Errorf("silence level = %v, want 0", l)
	}
}

func TestAnalyserToneRaisesLevel(t *testing.T) {
	a, _ := NewAnalyser(256, 0)
	a.Write(sine(1000, 0.8, 512))
	bins := a.ByteFrequencyData(nil)
	peakBin := 0
	for k := range bins {
		if bins[k] > bins[peakBin] {
			peakBin = k
		}
	}
	// 1 kHz at 16 kHz with 256 points lands on bin 16.
	if peakBin < 15 || peakBin > 17 {
		t.Errorf("peak bin = %d, want ~16", peakBin)
	}
	if l := Level(bins); l <= 0 || l > 1 {
		t.Errorf("level = %v, want (0, 1]", l)
	}
}

func TestSmoothingDampsDecay(t *testing.T) {
	a, _ := NewAnalyser(256, DefaultSmoothing)
	a.Write(sine(1000, 0.8, 256))
	loud := Level(a.ByteFrequencyData(nil))
	a.Write(make([]byte, 512))
	after := Level(a.ByteFrequencyData(nil))
	if after <= 0 {
		t.Error("smoothed level dropped straight to 0")
	}
	if after > loud {
		t.Errorf("level rose after silence: %v -> %v", loud, after)
	}
}

func TestLevelBounds(t *testing.T) {
	if Level(nil) != 0 {
		t.Error("Level(nil) != 0")
	}
	full := make([]byte, 128)
	for i := range full {
		full[i] = 255
	}
	if Level(full) != 1 {
		t.Errorf("Level(all 255) = %v", Level(full))
	}
}

func TestSampleWithoutAttach(t *testing.T) {
	m := newMeter(t)
	if l := m.Sample(nil); l != 0 {
		t.Errorf("Sample(nil) = %v", l)
	}
}

func TestSampleAfterDetach(t *testing.T) {
	m := newMeter(t)
	h := m.Attach(RoleCapture)
	h.Write(sine(440, 0.9, 1024))
	if m.Sample(h) <= 0 {
		t.Fatal("expected non-zero level while attached")
	}
	m.Detach(h)
	if l := m.Sample(h); l != 0 {
		t.Errorf("Sample after Detach = %v", l)
	}
	m.Detach(h) // idempotent
}

func TestAttachIdempotentPerRole(t *testing.T) {
	m := newMeter(t)
	a := m.Attach(RoleCapture)
	b := m.Attach(RoleCapture)
	if a != b {
		t.Error("second Attach on a wired role returned a new handle")
	}
	p := m.Attach(RolePlayback)
	if p == a {
		t.Error("roles share a handle")
	}
	if m.Builds() != 2 {
		t.Errorf("Builds = %d, want 2", m.Builds())
	}
}

func TestNodeReusedAcrossSessions(t *testing.T) {
	m := newMeter(t)
	for i := 0; i < 5; i++ {
		h := m.Attach(RoleCapture)
		h.Write(sine(440, 0.5, 512))
		m.Sample(h)
		m.Detach(h)
	}
	if m.Builds() != 1 {
		t.Errorf("Builds = %d, want 1", m.Builds())
	}
	h := m.Attach(RoleCapture)
	if l := m.Sample(h); l != 0 {
		t.Errorf("reattached node carried old audio: level %v", l)
	}
}

func TestSampleAlwaysInRange(t *testing.T) {
	m := newMeter(t)
	h := m.Attach(RolePlayback)
	for _, amp := range []float64{0, 0.001, 0.1, 0.5, 1} {
		h.Write(sine(300, amp, 300))
		if l := m.Sample(h); l < 0 || l > 1 {
			t.Fatalf("amp %.3f: level %v out of range", amp, l)
		}
	}
}

func TestCloseDetachesAll(t *testing.T) {
	m := newMeter(t)
	h := m.Attach(RoleCapture)
	h.Write(sine(440, 0.9, 512))
	m.Close()
	if l := m.Sample(h); l != 0 {
		t.Errorf("Sample after Close = %v", l)
	}
}
