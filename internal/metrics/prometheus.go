package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	// Turn metrics, fed from flushed turn events
	Turns          *prometheus.CounterVec
	TurnLatency    *prometheus.HistogramVec
	TurnErrors     *prometheus.CounterVec
	ChunksPerClip  prometheus.Histogram
	SilenceMarkers prometheus.Counter

	// Live gauges
	EventBuffer prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates all collectors and registers them with reg. A nil reg means
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_turns_total",
			Help: "Total number of handled turns by event type",
		}, []string{"event_type"}),
		TurnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mentor_turn_latency_seconds",
			Help:    "Turn handling latency including collaborator calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"event_type"}),
		TurnErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_turn_errors_total",
			Help: "Total number of failed turns by error kind",
		}, []string{"kind"}),
		ChunksPerClip: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mentor_transcribe_chunks",
			Help:    "Number of speech chunks per transcribed clip",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
		SilenceMarkers: f.NewCounter(prometheus.CounterOpts{
			Name: "mentor_silence_markers_total",
			Help: "Total number of silence markers inserted into transcripts",
		}),
		EventBuffer: f.NewGauge(prometheus.GaugeOpts{
			Name: "mentor_event_buffer_size",
			Help: "Current number of turn events waiting to be written",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mentor_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mentor_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// WatchBuffer samples the turn event buffer length into EventBuffer until ctx
// is done.
func (m *Metrics) WatchBuffer(ctx context.Context, bufferLen func() int, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		m.EventBuffer.Set(float64(bufferLen()))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
