// Package conversation runs record, send, play turns against a remote
// voice endpoint and publishes activity frames to indicators.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"parley/audio"
	"parley/exchange"
	"parley/log"
	"parley/metrics"
	"parley/session"
)

type State int

const (
	Idle State = iota
	Recording
	Sending
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Sending:
		return "sending"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// Active reports whether the indicator should animate in s.
func (s State) Active() bool { return s == Recording || s == Playing }

var (
	ErrBusy             = errors.New("a turn is already in progress")
	ErrExchangeInFlight = errors.New("exchange in flight")
	ErrClosed           = errors.New("conversation closed")
	ErrNotRecording     = errors.New("not recording")
)

// Frame is what an indicator renders.
type Frame struct {
	State     State
	Active    bool
	Level     float64
	SessionID string
}

type Indicator interface {
	Update(Frame)
}

type Notifier interface {
	Notify(err error)
}

type Recorder interface {
	Start() error
	Stop() (audio.Blob, error)
	Level() float64
	OnLevel(func(float64))
	Duration() time.Duration
	Close()
}

type Player interface {
	Play(ctx context.Context, blob audio.Blob) error
	Level() float64
	OnLevel(func(float64))
	Stop()
	Close()
}

type Sessions interface {
	Current() (string, error)
	Reset() (string, error)
}

// Cues plays short earcons around a turn.
type Cues interface {
	Start()
	Stop()
	Error()
}

type Option func(*Conversation)

func WithIndicator(i Indicator) Option {
	return func(c *Conversation) { c.indicators = append(c.indicators, i) }
}

func WithNotifier(n Notifier) Option {
	return func(c *Conversation) { c.notifiers = append(c.notifiers, n) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Conversation) { c.metrics = m }
}

func WithCues(q Cues) Option {
	return func(c *Conversation) { c.cues = q }
}

type Conversation struct {
	rec  Recorder
	ex   exchange.Exchanger
	pl   Player
	sess Sessions

	indicators []Indicator
	notifiers  []Notifier
	metrics    *metrics.Metrics
	cues       Cues

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// opMu serialises Toggle, Reset and Close.
	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	sessionID string
	lastErr   error
	closed    bool
	turns     int
}

func New(rec Recorder, ex exchange.Exchanger, pl Player, sess Sessions, opts ...Option) *Conversation {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conversation{
		rec:    rec,
		ex:     ex,
		pl:     pl,
		sess:   sess,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if id, err := sess.Current(); err == nil {
		c.sessionID = id
	} else {
		log.Warnf("session unavailable at startup: %v", err)
	}
	rec.OnLevel(func(l float64) { c.levelTick(Recording, l) })
	pl.OnLevel(func(l float64) { c.levelTick(Playing, l) })
	return c
}

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastError returns the most recent surfaced error, nil after a clean turn.
func (c *Conversation) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Turns returns how many turns reached the exchange.
func (c *Conversation) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turns
}

// Frame returns the current indicator frame. The level comes from the
// recorder while Recording and from the player while Playing.
func (c *Conversation) Frame() Frame {
	c.mu.Lock()
	state, sid := c.state, c.sessionID
	c.mu.Unlock()

	f := Frame{State: state, Active: state.Active(), SessionID: sid}
	switch state {
	case Recording:
		f.Level = c.rec.Level()
	case Playing:
		f.Level = c.pl.Level()
	}
	return f
}

func (c *Conversation) levelTick(owner State, level float64) {
	c.mu.Lock()
	state, sid := c.state, c.sessionID
	c.mu.Unlock()
	if state != owner {
		return
	}
	c.publish(Frame{State: state, Active: true, Level: level, SessionID: sid})
}

func (c *Conversation) publish(f Frame) {
	for _, ind := range c.indicators {
		ind.Update(f)
	}
}

func (c *Conversation) setState(s State) {
	c.mu.Lock()
	c.state = s
	sid := c.sessionID
	c.mu.Unlock()
	c.metrics.SetState(int(s))
	c.publish(Frame{State: s, Active: s.Active(), SessionID: sid})
}

// fail surfaces err and returns to Idle.
func (c *Conversation) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	log.Errorf("turn failed: %v", err)
	c.metrics.RecordError(Kind(err))
	if c.cues != nil {
		c.cues.Error()
	}
	for _, n := range c.notifiers {
		n.Notify(err)
	}
	c.setState(Idle)
}

// Toggle starts recording from Idle and ends it from Recording, handing the
// recording to the exchange. In Sending or Playing it returns ErrBusy.
func (c *Conversation) Toggle() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	closed, state := c.closed, c.state
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	switch state {
	case Idle:
		return c.startRecording()
	case Recording:
		return c.stopRecording()
	default:
		log.Warnf("toggle ignored in state %s", state)
		return ErrBusy
	}
}

// Send ends a recording in progress and hands it to the exchange. Unlike
// Toggle it never starts a new recording; outside Recording it returns
// ErrNotRecording.
func (c *Conversation) Send() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	closed, state := c.closed, c.state
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if state != Recording {
		return ErrNotRecording
	}
	return c.stopRecording()
}

func (c *Conversation) startRecording() error {
	if c.cues != nil {
		c.cues.Start()
	}
	if err := c.rec.Start(); err != nil {
		c.fail(err)
		return err
	}
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
	c.setState(Recording)
	return nil
}

func (c *Conversation) stopRecording() error {
	blob, err := c.rec.Stop()
	recordS := c.rec.Duration().Seconds()
	if c.cues != nil {
		c.cues.Stop()
	}
	if err != nil {
		c.fail(err)
		return err
	}
	c.setState(Sending)

	sid, err := c.sess.Current()
	if err == nil && !session.Valid(sid) {
		err = &session.SessionError{Op: "send", Err: session.ErrNoSession}
	}
	if err != nil {
		var se *session.SessionError
		if !errors.As(err, &se) {
			err = &session.SessionError{Op: "send", Err: err}
		}
		c.fail(err)
		c.recordTurn(turnInfo{sessionID: sid, outcome: "session_error", err: err, recordS: recordS, upload: blob.Len(), format: blob.ContentType})
		return err
	}

	c.mu.Lock()
	c.sessionID = sid
	c.turns++
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runTurn(blob, sid, recordS)
	return nil
}

type turnInfo struct {
	sessionID string
	outcome   string
	err       error
	recordS   float64
	upload    int
	format    string
	exchangeS float64
	playbackS float64
	result    *exchange.Result
}

func (c *Conversation) runTurn(blob audio.Blob, sid string, recordS float64) {
	defer c.wg.Done()
	info := turnInfo{sessionID: sid, recordS: recordS, upload: blob.Len(), format: blob.ContentType}

	start := time.Now()
	res, err := c.ex.Exchange(c.ctx, blob, sid)
	info.exchangeS = time.Since(start).Seconds()
	switch {
	case err != nil && c.shuttingDown(err):
		info.outcome = "cancelled"
		c.setState(Idle)
		c.recordTurn(info)
		return
	case err != nil:
		info.outcome, info.err = "transport_error", err
		c.fail(err)
		c.recordTurn(info)
		return
	}
	info.result = res

	c.setState(Playing)
	start = time.Now()
	err = c.pl.Play(c.ctx, res.Audio)
	info.playbackS = time.Since(start).Seconds()
	switch {
	case err == nil:
		info.outcome = "ok"
		c.setState(Idle)
	case c.shuttingDown(err):
		info.outcome = "cancelled"
		c.setState(Idle)
	default:
		info.outcome, info.err = "playback_error", err
		c.fail(err)
	}
	c.recordTurn(info)
}

// shuttingDown reports whether err only reflects Close cancelling the turn.
func (c *Conversation) shuttingDown(err error) bool {
	return c.ctx.Err() != nil && errors.Is(err, context.Canceled)
}

func (c *Conversation) recordTurn(t turnInfo) {
	m := log.TurnMetrics{
		SessionID:    t.sessionID,
		Outcome:      t.outcome,
		RecordS:      t.recordS,
		UploadKB:     float64(t.upload) / 1024,
		UploadFormat: t.format,
		ExchangeMs:   t.exchangeS * 1000,
		PlaybackS:    t.playbackS,
	}
	if t.err != nil {
		m.Error = t.err.Error()
	}
	if r := t.result; r != nil {
		m.RequestID = r.RequestID
		m.ResponseKB = float64(r.Audio.Len()) / 1024
		if nm := r.Metrics; nm != nil {
			m.DNSTimeMs = float64(nm.DNS.Milliseconds())
			m.TLSTimeMs = float64(nm.TLS.Milliseconds())
			m.TTFBMs = float64(nm.TTFB.Milliseconds())
			m.ConnReused = nm.ConnReused
		}
	}
	log.Turn(m)
	c.metrics.RecordTurn(t.outcome, t.recordS, t.upload, t.exchangeS)
}

// Reset replaces the session id. It is refused while an exchange is in
// flight.
func (c *Conversation) Reset() (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	closed, state := c.closed, c.state
	c.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if state == Sending {
		return "", ErrExchangeInFlight
	}

	id, err := c.sess.Reset()
	if err != nil {
		c.metrics.RecordError(Kind(err))
		return "", err
	}
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
	c.metrics.RecordReset()
	c.publish(c.Frame())
	return id, nil
}

// Wait blocks until any in-flight exchange and playback have finished.
func (c *Conversation) Wait() {
	c.wg.Wait()
}

// Close stops any capture or playback in progress, waits for the turn
// goroutine and releases the audio devices. It is safe to call twice.
func (c *Conversation) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	state := c.state
	c.mu.Unlock()

	c.cancel()
	if state == Recording {
		c.rec.Stop()
	}
	c.pl.Stop()
	c.wg.Wait()

	c.rec.Close()
	c.pl.Close()
	c.setState(Idle)
}
