// Package metrics exposes Prometheus collectors for the capture pipeline.
// All methods are safe on a nil *Metrics, so components can take an optional
// collector without guarding every call.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaz8081/gostt-capture/internal/wavfile"
)

// Metrics contains the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	// Source metrics
	ChunksReceived *prometheus.CounterVec
	BytesReceived  *prometheus.CounterVec
	SourceErrors   *prometheus.CounterVec
	PendingSamples *prometheus.GaugeVec

	// Mixing metrics
	SamplesMixed   prometheus.Counter
	SamplesFlushed prometheus.Counter
	DrainDuration  prometheus.Histogram

	// Output metrics
	BytesWritten prometheus.Counter
	WriteErrors  *prometheus.CounterVec

	// Session metrics
	Sessions  prometheus.Counter
	Recording prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ChunksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_chunks_received_total",
			Help: "Total number of PCM chunks received per source",
		}, []string{"source"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_bytes_received_total",
			Help: "Total raw PCM bytes received per source",
		}, []string{"source"}),
		SourceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_source_errors_total",
			Help: "Total number of sources that ended with an error",
		}, []string{"source"}),
		PendingSamples: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "capture_pending_samples",
			Help: "Samples buffered per source waiting for the other source",
		}, []string{"source"}),

		SamplesMixed: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_samples_mixed_total",
			Help: "Total number of samples produced by pairing both sources",
		}),
		SamplesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_samples_flushed_total",
			Help: "Total number of unpaired samples written without mixing",
		}),
		DrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_drain_duration_seconds",
			Help:    "Time spent in one mix-and-write pass",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		}),

		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_output_bytes_written_total",
			Help: "Total PCM bytes appended to the output file",
		}),
		WriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_output_write_errors_total",
			Help: "Output write failures by kind",
		}, []string{"kind"}),

		Sessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_sessions_total",
			Help: "Total number of recording sessions started",
		}),
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_recording",
			Help: "1 while a recording session is active",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveChunk records a chunk received from source.
func (m *Metrics) ObserveChunk(source string, bytes int) {
	if m == nil {
		return
	}
	m.ChunksReceived.WithLabelValues(source).Inc()
	m.BytesReceived.WithLabelValues(source).Add(float64(bytes))
}

// ObserveSourceError records a source that ended abnormally.
func (m *Metrics) ObserveSourceError(source string) {
	if m == nil {
		return
	}
	m.SourceErrors.WithLabelValues(source).Inc()
}

// SetPending sets the buffered sample count for source.
func (m *Metrics) SetPending(source string, samples int64) {
	if m == nil {
		return
	}
	m.PendingSamples.WithLabelValues(source).Set(float64(samples))
}

// ObserveWrite records a block appended to the output, mixed or flushed.
func (m *Metrics) ObserveWrite(bytes int, samples int, mixed bool) {
	if m == nil {
		return
	}
	m.BytesWritten.Add(float64(bytes))
	if mixed {
		m.SamplesMixed.Add(float64(samples))
	} else {
		m.SamplesFlushed.Add(float64(samples))
	}
}

// ObserveDrain records the duration of one drain pass.
func (m *Metrics) ObserveDrain(d time.Duration) {
	if m == nil {
		return
	}
	m.DrainDuration.Observe(d.Seconds())
}

// ObserveWriteError records an output failure, classified by kind.
func (m *Metrics) ObserveWriteError(err error) {
	if m == nil {
		return
	}
	kind := "io"
	switch {
	case errors.Is(err, wavfile.ErrDiskFull):
		kind = "disk_full"
	case errors.Is(err, wavfile.ErrPermission):
		kind = "permission"
	}
	m.WriteErrors.WithLabelValues(kind).Inc()
}

// SessionStarted marks the start of a recording session.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.Sessions.Inc()
	m.Recording.Set(1)
}

// SessionStopped marks the end of a recording session.
func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.Recording.Set(0)
}
