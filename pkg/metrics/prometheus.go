package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"SignalRelay/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsTotal  *prometheus.CounterVec
	archivedTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	connState     *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrelay_signals_received_total",
				Help: "Total number of signals received, by source",
			},
			[]string{"source", "symbol"},
		),
		archivedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrelay_signals_archived_total",
				Help: "Total number of signals mirrored to an archive backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalrelay_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalrelay_last_price",
				Help: "Last pushed price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalrelay_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		connState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalrelay_realtime_state",
				Help: "Realtime channel state (1 for the current state, 0 otherwise)",
			},
			[]string{"state"},
		),
	}
}

// RecordSignal records a signal received from a source (snapshot or push).
func (r *Recorder) RecordSignal(source, symbol string) {
	r.signalsTotal.WithLabelValues(source, symbol).Inc()
}

// RecordArchived records a signal mirrored to an archive backend.
func (r *Recorder) RecordArchived(backend, symbol string) {
	r.archivedTotal.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordConnState marks the current realtime channel state.
func (r *Recorder) RecordConnState(state models.ConnState) {
	for s := models.StateDisconnected; s <= models.StateFailed; s++ {
		v := 0.0
		if s == state {
			v = 1.0
		}
		r.connState.WithLabelValues(s.String()).Set(v)
	}
}
