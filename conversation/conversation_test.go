package conversation

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/audio"
	"parley/encoder"
	"parley/exchange"
	"parley/meter"
	"parley/metrics"
	"parley/playback"
	"parley/recorder"
	"parley/session"
)

type frameLog struct {
	mu     sync.Mutex
	frames []Frame
}

func (l *frameLog) Update(f Frame) {
	l.mu.Lock()
	l.frames = append(l.frames, f)
	l.mu.Unlock()
}

func (l *frameLog) snapshot() []Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Frame(nil), l.frames...)
}

type errLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errLog) Notify(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

// responseWAV builds a 1024-byte mono 16 kHz WAV holding a square wave.
func responseWAV() []byte {
	const total = 1024
	n := (total - 44) / 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(total-8))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(16000))
	binary.Write(&buf, binary.LittleEndian, uint32(32000))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(n*2))
	for i := 0; i < n; i++ {
		v := int16(12000)
		if (i/8)%2 == 0 {
			v = -12000
		}
		binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func speech(n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16((i%50-25)*600)))
	}
	return pcm
}

type rig struct {
	actx   *audio.FakeContext
	rec    *recorder.Recorder
	player *playback.Player
	sess   *session.Manager
	frames *frameLog
	errs   *errLog
	conv   *Conversation
}

func newRig(t *testing.T, ex exchange.Exchanger, opts ...Option) *rig {
	t.Helper()
	actx := audio.NewFakeContext(nil, true)
	m, err := meter.New(meter.DefaultFFTSize, meter.DefaultSmoothing)
	require.NoError(t, err)

	r := &rig{
		actx:   actx,
		rec:    recorder.New(actx, m, recorder.Config{Format: encoder.FormatPCM, FrameInterval: time.Millisecond}),
		player: playback.New(actx, m, playback.Config{SampleRate: 16000, FrameInterval: time.Millisecond}),
		sess:   session.NewManager(session.NewMemoryStore()),
		frames: &frameLog{},
		errs:   &errLog{},
	}
	opts = append([]Option{WithIndicator(r.frames), WithNotifier(r.errs)}, opts...)
	r.conv = New(r.rec, ex, r.player, r.sess, opts...)
	t.Cleanup(r.conv.Close)
	return r
}

func (r *rig) capture(t *testing.T) *audio.FakeCapture {
	t.Helper()
	caps := r.actx.Captures()
	require.NotEmpty(t, caps)
	return caps[len(caps)-1]
}

func TestFullTurn(t *testing.T) {
	ex := exchange.NewFake(audio.Blob{Data: responseWAV(), ContentType: "audio/wav"}, nil)
	r := newRig(t, ex)

	require.NoError(t, r.conv.Toggle())
	assert.Equal(t, Recording, r.conv.State())
	assert.True(t, r.conv.Frame().Active)

	r.capture(t).Feed(speech(32000))

	require.NoError(t, r.conv.Toggle())
	r.conv.Wait()

	assert.Equal(t, Idle, r.conv.State())
	f := r.conv.Frame()
	assert.False(t, f.Active)
	assert.Zero(t, f.Level)
	assert.NoError(t, r.conv.LastError())

	calls := ex.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 64000, calls[0].Audio.Len())
	assert.Equal(t, r.conv.SessionID(), calls[0].SessionID)

	var sawSending, sawPlaying, sawPlayingLevel bool
	for _, fr := range r.frames.snapshot() {
		assert.GreaterOrEqual(t, fr.Level, 0.0)
		assert.LessOrEqual(t, fr.Level, 1.0)
		assert.Equal(t, fr.State.Active(), fr.Active)
		switch fr.State {
		case Sending:
			sawSending = true
		case Playing:
			sawPlaying = true
			if fr.Level > 0 {
				sawPlayingLevel = true
			}
		}
	}
	assert.True(t, sawSending, "no Sending frame")
	assert.True(t, sawPlaying, "no Playing frame")
	assert.True(t, sawPlayingLevel, "playback level never rose")

	frames := r.frames.snapshot()
	last := frames[len(frames)-1]
	assert.Equal(t, Idle, last.State)
	assert.Zero(t, last.Level)
}

func TestTransportErrorReturnsToIdle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newRig(t, exchange.NewClient(srv.URL, 5*time.Second))
	sid := r.conv.SessionID()

	require.NoError(t, r.conv.Toggle())
	r.capture(t).Feed(speech(1600))
	require.NoError(t, r.conv.Toggle())
	r.conv.Wait()

	assert.Equal(t, Idle, r.conv.State())
	var te *exchange.TransportError
	require.True(t, errors.As(r.conv.LastError(), &te))
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, sid, r.conv.SessionID())
	assert.Equal(t, "transport", Kind(te))
	assert.Contains(t, Describe(te), "500")

	errs := r.errs.all()
	require.Len(t, errs, 1)
	assert.True(t, errors.As(errs[0], &te))

	require.NoError(t, r.conv.Toggle())
	blob, err := r.rec.Stop()
	require.NoError(t, err)
	assert.Zero(t, blob.Len(), "chunks from the failed turn leaked into the next recording")
}

func TestResetTwice(t *testing.T) {
	r := newRig(t, exchange.NewFake(audio.Blob{}, nil))

	a, err := r.conv.Reset()
	require.NoError(t, err)
	b, err := r.conv.Reset()
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.NotEmpty(t, b)
	assert.NotEqual(t, a, b)
	assert.Equal(t, b, r.conv.SessionID())
	assert.Equal(t, Idle, r.conv.State())
	assert.False(t, r.conv.Frame().Active)
}

func TestBusyWhileSending(t *testing.T) {
	ex := exchange.NewFake(audio.Blob{Data: responseWAV()}, nil)
	ex.Gate = make(chan struct{})
	r := newRig(t, ex)

	require.NoError(t, r.conv.Toggle())
	require.NoError(t, r.conv.Toggle())
	assert.Equal(t, Sending, r.conv.State())
	assert.False(t, r.conv.Frame().Active)

	assert.ErrorIs(t, r.conv.Toggle(), ErrBusy)
	_, err := r.conv.Reset()
	assert.ErrorIs(t, err, ErrExchangeInFlight)
	assert.Len(t, r.actx.Captures(), 1, "toggle during Sending opened a capture")

	close(ex.Gate)
	r.conv.Wait()
	assert.Equal(t, Idle, r.conv.State())
}

func TestSendOnlyEndsRecording(t *testing.T) {
	r := newRig(t, exchange.NewFake(audio.Blob{Data: responseWAV()}, nil))

	assert.ErrorIs(t, r.conv.Send(), ErrNotRecording)
	assert.Equal(t, Idle, r.conv.State())
	assert.Empty(t, r.actx.Captures(), "Send from Idle opened a capture")

	require.NoError(t, r.conv.Toggle())
	r.capture(t).Feed(speech(1600))
	require.NoError(t, r.conv.Send())
	r.conv.Wait()

	assert.Equal(t, Idle, r.conv.State())
	assert.Equal(t, 1, r.conv.Turns())
}

type emptySessions struct{}

func (emptySessions) Current() (string, error) { return "", nil }
func (emptySessions) Reset() (string, error)   { return "", nil }

func TestMissingSessionBouncesToIdle(t *testing.T) {
	actx := audio.NewFakeContext(nil, false)
	m, err := meter.New(meter.DefaultFFTSize, meter.DefaultSmoothing)
	require.NoError(t, err)
	ex := exchange.NewFake(audio.Blob{}, nil)
	conv := New(
		recorder.New(actx, m, recorder.Config{Format: encoder.FormatPCM}),
		ex,
		playback.New(actx, m, playback.Config{}),
		emptySessions{},
	)
	defer conv.Close()

	require.NoError(t, conv.Toggle())
	err = conv.Toggle()
	var se *session.SessionError
	require.True(t, errors.As(err, &se), "err = %v", err)
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.Equal(t, Idle, conv.State())
	assert.Empty(t, ex.Calls())
}

func TestDeviceErrorLeavesIdle(t *testing.T) {
	r := newRig(t, exchange.NewFake(audio.Blob{}, nil))
	r.actx.CaptureErr = audio.ErrNoDevice

	err := r.conv.Toggle()
	var de *audio.DeviceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, Idle, r.conv.State())
	assert.Equal(t, recorder.Idle, r.rec.State())
	assert.Contains(t, Describe(err), "No microphone")
	assert.Len(t, r.errs.all(), 1)
}

func TestPlaybackErrorReturnsToIdle(t *testing.T) {
	r := newRig(t, exchange.NewFake(audio.Blob{Data: []byte("not audio")}, nil))

	require.NoError(t, r.conv.Toggle())
	require.NoError(t, r.conv.Toggle())
	r.conv.Wait()

	var pe *playback.PlaybackError
	require.True(t, errors.As(r.conv.LastError(), &pe))
	assert.Equal(t, Idle, r.conv.State())
	assert.Zero(t, r.conv.Frame().Level)
}

func TestCloseDuringRecordingReleasesCapture(t *testing.T) {
	r := newRig(t, exchange.NewFake(audio.Blob{}, nil))
	require.NoError(t, r.conv.Toggle())
	capture := r.capture(t)

	r.conv.Close()
	assert.True(t, capture.Closed())
	assert.Equal(t, Idle, r.conv.State())
	assert.ErrorIs(t, r.conv.Toggle(), ErrClosed)
}

func waitState(t *testing.T, c *Conversation, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", c.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCloseDuringSendingIsQuiet(t *testing.T) {
	ex := exchange.NewFake(audio.Blob{Data: responseWAV()}, nil)
	ex.Gate = make(chan struct{})
	m := metrics.NewMetrics()
	r := newRig(t, ex, WithMetrics(m))

	require.NoError(t, r.conv.Toggle())
	r.capture(t).Feed(speech(1600))
	require.NoError(t, r.conv.Toggle())
	assert.Equal(t, Sending, r.conv.State())

	r.conv.Close()

	assert.Equal(t, Idle, r.conv.State())
	assert.NoError(t, r.conv.LastError())
	assert.Empty(t, r.errs.all(), "shutdown surfaced an error")
	assert.Zero(t, testutil.ToFloat64(m.Errors.WithLabelValues("transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("cancelled")))
	assert.Zero(t, testutil.ToFloat64(m.Turns.WithLabelValues("transport_error")))
	assert.Empty(t, r.actx.Playbacks(), "output opened for a cancelled turn")
}

func TestCloseDuringPlayingReleasesOutput(t *testing.T) {
	ex := exchange.NewFake(audio.Blob{Data: responseWAV(), ContentType: "audio/wav"}, nil)
	m := metrics.NewMetrics()
	r := newRig(t, ex, WithMetrics(m))

	// Open the output once so the next response can be held mid-play.
	require.NoError(t, r.player.Play(context.Background(), audio.Blob{Data: responseWAV()}))
	out := r.actx.Playbacks()[0]
	out.SetHold(make(chan struct{}))

	require.NoError(t, r.conv.Toggle())
	r.capture(t).Feed(speech(1600))
	require.NoError(t, r.conv.Toggle())
	waitState(t, r.conv, Playing)

	closed := make(chan struct{})
	go func() {
		r.conv.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return while playing")
	}

	assert.Equal(t, Idle, r.conv.State())
	assert.Equal(t, playback.Idle, r.player.State())
	assert.Zero(t, r.player.Level())
	assert.True(t, out.Closed(), "output device left open")
	assert.Empty(t, r.errs.all(), "shutdown surfaced an error")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("cancelled")))

	n := len(r.frames.snapshot())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, r.frames.snapshot(), n, "level frames published after Close")
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&exchange.TransportError{Err: errors.New("dial tcp: refused")}, "Cannot reach the voice service."},
		{&session.SessionError{Op: "send", Err: session.ErrNoSession}, "No conversation session. Reset the conversation to start a new one."},
		{ErrBusy, "Still working on the previous turn."},
		{errors.New("odd"), "odd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Describe(tt.err))
	}
}
