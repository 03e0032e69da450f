package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for device operations.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	activeOperations    prometheus.Gauge

	// Phase metrics
	phasesCompleted *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	attempts        *prometheus.CounterVec

	// Install progress reads
	progressReads *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled configuration yields a no-op collector.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Total number of operations started",
			},
			[]string{"kind"},
		),
		operationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_completed_total",
				Help:      "Total number of operations completed",
			},
			[]string{"kind", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "status"},
		),
		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of running operations",
			},
		),

		phasesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_completed_total",
				Help:      "Total number of phases that reached a terminal status",
			},
			[]string{"kind", "phase", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phases in seconds",
				Buckets:   buckets,
			},
			[]string{"kind", "phase"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of polls by outcome",
			},
			[]string{"kind", "phase", "outcome"},
		),

		progressReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "install_progress_reads_total",
				Help:      "Total number of install progress rows read",
			},
			[]string{"target"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of failed operations by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of failed operations by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.operationsStarted,
		m.operationsCompleted,
		m.operationDuration,
		m.activeOperations,
		m.phasesCompleted,
		m.phaseDuration,
		m.attempts,
		m.progressReads,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// RecordOperationStarted increments the counter for started operations.
func (m *Metrics) RecordOperationStarted(kind string) {
	if m.operationsStarted == nil {
		return
	}
	m.operationsStarted.WithLabelValues(kind).Inc()
	m.activeOperations.Inc()
}

// RecordOperationCompleted records a finished operation with its status and duration.
func (m *Metrics) RecordOperationCompleted(kind, status string, duration time.Duration) {
	if m.operationsCompleted == nil {
		return
	}
	m.operationsCompleted.WithLabelValues(kind, status).Inc()
	m.operationDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// RecordPhase records a phase that reached a terminal status.
func (m *Metrics) RecordPhase(kind, phase, status string, duration time.Duration) {
	if m.phasesCompleted == nil {
		return
	}
	m.phasesCompleted.WithLabelValues(kind, phase, status).Inc()
	if status != "skipped" {
		m.phaseDuration.WithLabelValues(kind, phase).Observe(duration.Seconds())
	}
}

// RecordAttempt records a single poll.
func (m *Metrics) RecordAttempt(kind, phase, outcome string) {
	if m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(kind, phase, outcome).Inc()
}

// RecordProgressRead records an install progress row read from a target.
func (m *Metrics) RecordProgressRead(target string) {
	if m.progressReads == nil {
		return
	}
	m.progressReads.WithLabelValues(target).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is done.
func (m *Metrics) Serve(ctx context.Context, logger zerolog.Logger) {
	if !m.config.Enabled {
		return
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("addr", server.Addr).Str("path", path).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// The metrics endpoint is optional; operations keep running without it.
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}
