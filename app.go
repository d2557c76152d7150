package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"parley/audio"
	"parley/config"
	"parley/conversation"
	"parley/cue"
	"parley/encoder"
	"parley/exchange"
	"parley/indicator"
	"parley/internal/frame"
	"parley/log"
	"parley/meter"
	"parley/metrics"
	"parley/playback"
	"parley/recorder"
	"parley/session"
)

// app owns every long-lived component of a running client.
type app struct {
	cfg      *config.Config
	device   *audio.DeviceInfo
	meter    *meter.Meter
	sessions *session.Manager
	metrics  *metrics.Metrics
	hub      *indicator.Hub
	cues     *cue.Player
	conv     *conversation.Conversation
}

type appOptions struct {
	// store defaults to a FileStore at cfg.Session.StorePath.
	store session.Store
	// exchanger defaults to an HTTP client for cfg.Endpoint.
	exchanger  exchange.Exchanger
	indicators []conversation.Indicator
	notifiers  []conversation.Notifier
}

func sessionStore(cfg *config.Config) (session.Store, error) {
	path := cfg.Session.StorePath
	if path == "" {
		p, err := session.DefaultPath()
		if err != nil {
			return nil, &session.SessionError{Op: "locate store", Err: err}
		}
		path = p
	}
	return session.NewFileStore(path), nil
}

func newApp(actx audio.Context, cfg *config.Config, opts appOptions) (*app, error) {
	m, err := meter.New(cfg.Meter.FFTSize, cfg.Meter.Smoothing)
	if err != nil {
		return nil, fmt.Errorf("level meter: %w", err)
	}
	device, err := audio.FindDevice(actx, cfg.Audio.Device)
	if err != nil {
		m.Close()
		return nil, err
	}

	store := opts.store
	if store == nil {
		if store, err = sessionStore(cfg); err != nil {
			m.Close()
			return nil, err
		}
	}
	ex := opts.exchanger
	if ex == nil {
		ex = exchange.NewClient(cfg.Endpoint, cfg.RequestTimeout)
	}

	interval := frame.IntervalForFPS(cfg.Meter.FPS)
	rec := recorder.New(actx, m, recorder.Config{
		Device: device,
		Capture: audio.CaptureConfig{
			SampleRate: cfg.Audio.CaptureRate,
			Channels:   encoder.Channels,
			Constraints: audio.Constraints{
				EchoCancellation: cfg.Audio.EchoCancellation,
				NoiseSuppression: cfg.Audio.NoiseSuppression,
				AutoGainControl:  cfg.Audio.AutoGainControl,
			},
		},
		Format:        cfg.Audio.Format,
		FrameInterval: interval,
	})
	pl := playback.New(actx, m, playback.Config{
		SampleRate:    cfg.Audio.PlaybackRate,
		FrameInterval: interval,
	})

	a := &app{
		cfg:      cfg,
		device:   device,
		meter:    m,
		sessions: session.NewManager(store),
		metrics:  metrics.NewMetrics(),
		hub:      indicator.NewHub(),
	}

	copts := []conversation.Option{
		conversation.WithIndicator(a.hub),
		conversation.WithMetrics(a.metrics),
	}
	for _, ind := range opts.indicators {
		copts = append(copts, conversation.WithIndicator(ind))
	}
	for _, n := range opts.notifiers {
		copts = append(copts, conversation.WithNotifier(n))
	}
	if cfg.Audio.Cues {
		a.cues = cue.New(actx)
		copts = append(copts, conversation.WithCues(a.cues))
	}
	a.conv = conversation.New(rec, ex, pl, a.sessions, copts...)
	return a, nil
}

func (a *app) deviceName() string {
	if a.device == nil {
		return "system default"
	}
	return a.device.Name
}

// serve runs the optional metrics and indicator listeners until ctx ends.
func (a *app) serve(ctx context.Context, g *errgroup.Group) {
	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		serveHTTP(ctx, g, "metrics", addr, mux)
	}
	if addr := a.cfg.Indicator.WebsocketAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", a.hub)
		serveHTTP(ctx, g, "indicator", addr, mux)
	}
}

func serveHTTP(ctx context.Context, g *errgroup.Group, name, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		log.Infof("%s server listening on %s", name, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// close tears down the conversation first so no tick touches a closed
// meter or hub.
func (a *app) close() {
	a.conv.Close()
	a.hub.Close()
	if a.cues != nil {
		a.cues.Close()
	}
	a.meter.Close()
}
