package doctor

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"parley/audio"
	"parley/encoder"
	"parley/exchange"
	"parley/hotkey"
	"parley/meter"
	"parley/playback"
	"parley/recorder"
	"parley/session"
)

// speechLevel is the meter level a spoken phrase comfortably exceeds.
const speechLevel = 0.05

type Options struct {
	Endpoint     string
	Device       string
	Hotkey       hotkey.Binding
	PlaybackRate uint32
}

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("parley doctor - interactive system diagnostics")
	fmt.Println("==============================================")

	allPass := true

	if !checkHotkey(opts.Hotkey) {
		allPass = false
	}

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return 1
	}
	defer actx.Close()

	if !checkMicrophone(actx, opts.Device) {
		allPass = false
	}
	if !checkEndpoint(opts.Endpoint) {
		allPass = false
	}
	if !checkOutput(actx, opts.PlaybackRate) {
		allPass = false
	}
	if !checkClipboard() {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkHotkey(b hotkey.Binding) bool {
	fmt.Println()
	fmt.Println("[1/5] Hotkey detection")
	fmt.Printf("Press %s...\n", b)

	hk := hotkey.New(b)
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		if msg, err := hotkey.Diagnose(); err == nil {
			fmt.Printf("  (%s)\n", msg)
		}
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: hotkey detected")
		// Wait for keyup to avoid triggering next step
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		// Reset terminal after hotkey - it may leave terminal in raw mode
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

func checkMicrophone(actx audio.Context, deviceName string) bool {
	fmt.Println()
	fmt.Println("[2/5] Microphone and input level")

	devices, err := actx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}
	device, err := audio.FindDevice(actx, deviceName)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	name := "system default"
	if device != nil {
		name = device.Name
	}
	fmt.Printf("Using device: %s (%d available)\n", name, len(devices))
	if audio.IsBluetooth(name) {
		fmt.Println("  Warning: Bluetooth microphones switch the headset to low quality mode")
	}

	m, err := meter.New(meter.DefaultFFTSize, meter.DefaultSmoothing)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	defer m.Close()

	rec := recorder.New(actx, m, recorder.Config{
		Device: device,
		Capture: audio.CaptureConfig{
			SampleRate:  encoder.SampleRate,
			Channels:    encoder.Channels,
			Constraints: audio.DefaultConstraints(),
		},
		Format: encoder.FormatFLAC,
	})
	defer rec.Close()

	fmt.Println()
	fmt.Print("Press Enter and speak for 3 seconds...")
	bufio.NewReader(os.Stdin).ReadString('\n')

	if err := rec.Start(); err != nil {
		fmt.Printf("  FAIL: recording error: %v\n", err)
		return false
	}
	fmt.Print("  Recording")
	var peak float64
	for i := range 60 {
		time.Sleep(50 * time.Millisecond)
		peak = math.Max(peak, rec.Level())
		if i%10 == 9 {
			fmt.Print(".")
		}
	}
	blob, err := rec.Stop()
	fmt.Println(" done")
	if err != nil {
		fmt.Printf("  FAIL: encoder error: %v\n", err)
		return false
	}
	if blob.Len() == 0 {
		fmt.Println("  FAIL: no audio captured")
		return false
	}

	fmt.Printf("  Recorded %.1f KB (%s), peak level %.2f\n", float64(blob.Len())/1024, blob.ContentType, peak)
	if peak < speechLevel {
		fmt.Println("  FAIL: input level stayed near silence; check the microphone gain or mute switch")
		return false
	}
	fmt.Println("  PASS: speech level detected")
	return true
}

func checkEndpoint(endpoint string) bool {
	fmt.Println()
	fmt.Println("[3/5] Voice endpoint")
	fmt.Printf("Probing %s...\n", endpoint)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rtt, err := exchange.NewClient(endpoint, 0).Probe(ctx)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	fmt.Printf("  PASS: reachable in %dms\n", rtt.Milliseconds())
	return true
}

// toneBlob returns one second of a 440 Hz tone as raw L16.
func toneBlob(rate int) audio.Blob {
	pcm := make([]byte, rate*2)
	for i := 0; i < rate; i++ {
		t := float64(i) / float64(rate)
		s := int16(math.Sin(2*math.Pi*440*t) * 32767 * 0.3)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(uint16(s) >> 8)
	}
	return audio.Blob{Data: pcm, ContentType: fmt.Sprintf("audio/L16;rate=%d;channels=1", rate)}
}

func checkOutput(actx audio.Context, rate uint32) bool {
	fmt.Println()
	fmt.Println("[4/5] Speaker output")

	m, err := meter.New(meter.DefaultFFTSize, meter.DefaultSmoothing)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}
	defer m.Close()

	p := playback.New(actx, m, playback.Config{SampleRate: rate})
	defer p.Close()

	fmt.Println("  Playing a one second tone...")
	if err := p.Play(context.Background(), toneBlob(int(rate))); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	}

	resetTerminal()
	fmt.Print("Did you hear the tone? [y/n]: ")
	confirm, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	confirm = strings.TrimSpace(strings.ToLower(confirm))
	if confirm != "y" && confirm != "yes" {
		fmt.Println("  FAIL: output not confirmed")
		return false
	}
	fmt.Println("  PASS: output verified by user")
	return true
}

func checkClipboard() bool {
	fmt.Println()
	fmt.Println("[5/5] Clipboard (copy session id)")

	if clipboard.Unsupported {
		fmt.Println("  FAIL: no clipboard utility found (install xclip, xsel or wl-clipboard)")
		return false
	}

	prev, _ := clipboard.ReadAll()
	probe := session.NewID(time.Now())
	if err := clipboard.WriteAll(probe); err != nil {
		fmt.Printf("  FAIL: clipboard copy failed: %v\n", err)
		return false
	}
	got, err := clipboard.ReadAll()
	if prev != "" {
		clipboard.WriteAll(prev)
	}
	if err != nil {
		fmt.Printf("  FAIL: clipboard read failed: %v\n", err)
		return false
	}
	if got != probe {
		fmt.Printf("  FAIL: clipboard round trip mismatch (got %q)\n", got)
		return false
	}
	fmt.Println("  PASS: clipboard round trip")
	return true
}
