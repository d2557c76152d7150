package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func tone(amp float64, n int) []byte {
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(amp * 32767 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func peak(pcm []byte) int {
	p := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		p = max(p, v)
	}
	return p
}

func TestIsBluetooth(t *testing.T) {
	for _, tt := range []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Jabra Evolve 75", true},
		{"Built-in Microphone", false},
		{"USB Audio (BT)", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBluetooth(tt.name); got != tt.want {
				t.Errorf("IsBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestConditionerPassThrough(t *testing.T) {
	c := NewConditioner(Constraints{})
	pcm := tone(0.01, 1024)
	before := peak(pcm)
	c.Process(pcm)
	if got := peak(pcm); got != before {
		t.Errorf("peak changed with no constraints: %d -> %d", before, got)
	}
}

func TestConditionerGatesNoise(t *testing.T) {
	c := NewConditioner(Constraints{NoiseSuppression: true})
	pcm := tone(0.002, 1024)
	before := peak(pcm)
	c.Process(pcm)
	if got := peak(pcm); got >= before {
		t.Errorf("expected gated signal, peak %d -> %d", before, got)
	}
}

func TestConditionerBoostsQuietSpeech(t *testing.T) {
	c := NewConditioner(Constraints{AutoGainControl: true})
	var last []byte
	for i := 0; i < 50; i++ {
		last = tone(0.02, 1024)
		c.Process(last)
	}
	if c.Gain() <= 1 {
		t.Errorf("Gain = %.2f, want > 1 for quiet input", c.Gain())
	}
	if peak(last) <= peak(tone(0.02, 1024)) {
		t.Error("expected amplified output")
	}
}

func TestConditionerClamps(t *testing.T) {
	c := NewConditioner(Constraints{AutoGainControl: true})
	c.gain = agcMaxGain
	pcm := tone(0.9, 1024)
	c.Process(pcm)
	if p := peak(pcm); p > 32768 {
		t.Errorf("peak %d out of range", p)
	}
}

func TestFakeCaptureFeedsUntilStopped(t *testing.T) {
	ctx := NewFakeContext(tone(0.5, 4096), false)
	dev, err := ctx.NewCapture(nil, CaptureConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	var got int
	dev.SetCallback(func(data []byte, _ uint32) { got += len(data) })
	if err := dev.Start(); err != nil {
		t.Fatal(err)
	}
	dev.Stop()
	dev.ClearCallback()
	if got != 4096*2 {
		t.Errorf("fed %d bytes, want %d", got, 4096*2)
	}
	dev.(*FakeCapture).Feed([]byte{1, 2})
	if got != 4096*2 {
		t.Error("Feed after Stop reached callback")
	}
}

func TestFakeCaptureError(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	ctx.CaptureErr = ErrNoDevice
	_, err := ctx.NewCapture(nil, CaptureConfig{})
	var de *DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if !errors.Is(err, ErrNoDevice) {
		t.Error("DeviceError should unwrap to ErrNoDevice")
	}
}

func TestFakePlaybackTapsEverything(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	out, err := ctx.NewPlayback(PlaybackConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	pcm := tone(0.5, 5000)
	var tapped int
	if err := out.Play(pcm, func(data []byte, _ uint32) { tapped += len(data) }, nil); err != nil {
		t.Fatal(err)
	}
	if tapped != len(pcm) {
		t.Errorf("tapped %d bytes, want %d", tapped, len(pcm))
	}
	if fp := ctx.Playbacks()[0]; fp.Played() != len(pcm) || fp.Plays() != 1 {
		t.Errorf("Played=%d Plays=%d", fp.Played(), fp.Plays())
	}
}

func TestFakePlaybackHonoursEarlyStop(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	out, err := ctx.NewPlayback(PlaybackConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	fp := ctx.Playbacks()[0]
	fp.SetHold(make(chan struct{}))

	stop := make(chan struct{})
	close(stop)
	done := make(chan error, 1)
	go func() { done <- out.Play(tone(0.5, 5000), nil, stop) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Play ignored a stop closed before it started")
	}
	if fp.Played() != 0 {
		t.Errorf("played %d bytes after stop", fp.Played())
	}
}

func TestStopped(t *testing.T) {
	if Stopped(nil) {
		t.Error("nil stop reported stopped")
	}
	stop := make(chan struct{})
	if Stopped(stop) {
		t.Error("open stop reported stopped")
	}
	close(stop)
	if !Stopped(stop) {
		t.Error("closed stop not reported")
	}
}

func TestFindDevice(t *testing.T) {
	ctx := NewFakeContext(nil, false)
	dev, err := FindDevice(ctx, "")
	if err != nil || dev != nil {
		t.Fatalf("empty name: got %v, %v", dev, err)
	}
	dev, err = FindDevice(ctx, "fake")
	if err != nil || dev == nil || dev.ID != "fake" {
		t.Fatalf("fake: got %v, %v", dev, err)
	}
	if _, err := FindDevice(ctx, "missing"); !errors.Is(err, ErrNoDevice) {
		t.Errorf("missing: got %v", err)
	}
}
