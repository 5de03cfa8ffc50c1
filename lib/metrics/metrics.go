// Package metrics holds the prometheus collectors shared by the bridge, the
// outbound pump and the preloader. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nethost"

// Preload outcomes.
const (
	PreloadRead    = "read"
	PreloadMissing = "missing"
	PreloadFailed  = "failed"
)

type Metrics struct {
	inboundDelivered  prometheus.Counter
	inboundRejected   prometheus.Counter
	outboundSubmitted prometheus.Counter
	outboundRejected  prometheus.Counter
	outboundSent      prometheus.Counter
	outboundErrors    prometheus.Counter
	outboundBytes     prometheus.Counter
	preloadFiles      *prometheus.CounterVec
	preloadBytes      prometheus.Counter
	preloadDuration   prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inboundDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "inbound_delivered_total",
			Help: "Inbound messages handed to the native callback.",
		}),
		inboundRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "inbound_rejected_total",
			Help: "Inbound messages rejected because the bridge was not ready.",
		}),
		outboundSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "outbound_submitted_total",
			Help: "Outbound messages accepted onto the outbound channel.",
		}),
		outboundRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "outbound_rejected_total",
			Help: "Outbound messages rejected as malformed or after channel completion.",
		}),
		outboundSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "outbound_sent_total",
			Help: "Outbound messages written to the host stream.",
		}),
		outboundErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "outbound_errors_total",
			Help: "Failed writes to the host stream.",
		}),
		outboundBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "outbound_bytes_total",
			Help: "Payload bytes written to the host stream.",
		}),
		preloadFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "preload", Name: "files_total",
			Help: "Runtime files visited by the preloader, by outcome.",
		}, []string{"outcome"}),
		preloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "preload", Name: "bytes_total",
			Help: "Bytes read into the page cache by the preloader.",
		}),
		preloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "preload", Name: "duration_seconds",
			Help:    "Wall time of one preload pass.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.inboundDelivered,
			m.inboundRejected,
			m.outboundSubmitted,
			m.outboundRejected,
			m.outboundSent,
			m.outboundErrors,
			m.outboundBytes,
			m.preloadFiles,
			m.preloadBytes,
			m.preloadDuration,
		)
	}
	return m
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) InboundDelivered() {
	if m != nil {
		m.inboundDelivered.Inc()
	}
}

func (m *Metrics) InboundRejected() {
	if m != nil {
		m.inboundRejected.Inc()
	}
}

func (m *Metrics) OutboundSubmitted() {
	if m != nil {
		m.outboundSubmitted.Inc()
	}
}

func (m *Metrics) OutboundRejected() {
	if m != nil {
		m.outboundRejected.Inc()
	}
}

// OutboundSent records one write of n payload bytes, failed or not.
func (m *Metrics) OutboundSent(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.outboundErrors.Inc()
		return
	}
	m.outboundSent.Inc()
	m.outboundBytes.Add(float64(n))
}

// PreloadFile records one visited file.
func (m *Metrics) PreloadFile(outcome string, bytes int64) {
	if m == nil {
		return
	}
	m.preloadFiles.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.preloadBytes.Add(float64(bytes))
	}
}

func (m *Metrics) PreloadDuration(d time.Duration) {
	if m != nil {
		m.preloadDuration.Observe(d.Seconds())
	}
}

// Serve exposes g on addr under /metrics until ctx ends.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
