// Package metrics exposes Prometheus instrumentation for the collector
// plus the HTTP endpoint that serves it.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the collector. Each
// instance carries its own registry so independent collectors (and
// tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	EnvelopesTotal *prometheus.CounterVec // labels: kind
	QueueDepth     *prometheus.GaugeVec   // labels: queue
	TasksActive    prometheus.Gauge

	InsertsTotal    *prometheus.CounterVec // labels: kind
	InsertErrors    *prometheus.CounterVec // labels: kind
	PersistDuration prometheus.Histogram
}

// New registers and returns the collector metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EnvelopesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdc_envelopes_total",
			Help: "Envelopes drained from subscription queues (by kind)",
		}, []string{"kind"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mdc_queue_depth",
			Help: "Instantaneous subscription queue depth (by queue)",
		}, []string{"queue"}),
		TasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mdc_subscription_tasks_active",
			Help: "Currently running subscription tasks",
		}),

		InsertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdc_storage_inserts_total",
			Help: "Rows written to storage shards (by kind)",
		}, []string{"kind"}),
		InsertErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mdc_storage_insert_errors_total",
			Help: "Failed storage writes (by kind)",
		}, []string{"kind"}),
		PersistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdc_persist_duration_seconds",
			Help:    "Latency of one envelope's storage write",
			Buckets: prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.EnvelopesTotal,
		m.QueueDepth,
		m.TasksActive,
		m.InsertsTotal,
		m.InsertErrors,
		m.PersistDuration,
	)
	return m
}

// QueueSource reports instantaneous queue depths for /healthz and the
// queue depth gauges.
type QueueSource interface {
	QueueSizes() map[string]int
}

// ObserveQueues copies the source's current depths into the gauges.
func (m *Metrics) ObserveQueues(src QueueSource) {
	for queue, depth := range src.QueueSizes() {
		m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}

// Server exposes /metrics and /healthz.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer builds the metrics HTTP server. queues may be nil, in
// which case /healthz reports no queue depths.
func NewServer(port int, path string, m *Metrics, queues QueueSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status string         `json:"status"`
			Queues map[string]int `json:"queues,omitempty"`
			Time   string         `json:"time"`
		}{
			Status: "ok",
			Time:   time.Now().Format(time.RFC3339),
		}
		if queues != nil {
			status.Queues = queues.QueueSizes()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	return &Server{
		srv: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
		logger: logger,
	}
}

// Start launches the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("metrics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "err", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
