package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the conversation counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Turns           *prometheus.CounterVec
	Errors          *prometheus.CounterVec
	ExchangeSeconds prometheus.Histogram
	RecordSeconds   prometheus.Histogram
	UploadBytes     prometheus.Histogram
	State           prometheus.Gauge
	SessionResets   prometheus.Counter
}

// NewMetrics registers every metric on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_turns_total",
			Help: "Total number of conversation turns by outcome",
		}, []string{"outcome"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_errors_total",
			Help: "Total number of surfaced errors by kind",
		}, []string{"kind"}),
		ExchangeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_exchange_seconds",
			Help:    "Round trip time of the remote voice exchange",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		RecordSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_recording_seconds",
			Help:    "Length of recorded turns",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		UploadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_upload_bytes",
			Help:    "Size of recorded audio sent per turn",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		State: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parley_state",
			Help: "Current conversation state (0 idle, 1 recording, 2 sending, 3 playing)",
		}),
		SessionResets: factory.NewCounter(prometheus.CounterOpts{
			Name: "parley_session_resets_total",
			Help: "Total number of conversation session resets",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordTurn(outcome string, recordS float64, uploadBytes int, exchangeS float64) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
	if recordS > 0 {
		m.RecordSeconds.Observe(recordS)
	}
	if uploadBytes > 0 {
		m.UploadBytes.Observe(float64(uploadBytes))
	}
	if exchangeS > 0 {
		m.ExchangeSeconds.Observe(exchangeS)
	}
}

func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.State.Set(float64(state))
}

func (m *Metrics) RecordReset() {
	if m == nil {
		return
	}
	m.SessionResets.Inc()
}
