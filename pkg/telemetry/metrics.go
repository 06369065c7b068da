package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mbedconf/mbedconf/pkg/engine"
)

// Metrics provides Prometheus metrics for configuration resolution. A nil
// *Metrics and a disabled one are both no-ops.
type Metrics struct {
	config MetricsConfig

	// Resolution metrics
	resolutions        *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	featureIterations  *prometheus.HistogramVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// Policy metrics
	policyViolations *prometheus.CounterVec

	// Watch metrics
	reloads prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolutions_total",
				Help:      "Total number of configuration resolutions",
			},
			[]string{"target", "status"},
		),
		resolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of a full feature resolution in seconds",
				Buckets:   buckets,
			},
			[]string{"target"},
		),
		featureIterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "feature_iterations",
				Help:      "Number of resolution passes until the feature set was stable",
				Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
			},
			[]string{"target"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of resolution errors by kind and class",
			},
			[]string{"kind", "class"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy violations by severity",
			},
			[]string{"policy", "severity"},
		),
		reloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "watch_reloads_total",
				Help:      "Total number of re-resolutions triggered by file changes",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.resolutions,
		m.resolutionDuration,
		m.featureIterations,
		m.errorsByKind,
		m.policyViolations,
		m.reloads,
	)

	return m, nil
}

// RecordResolution records a finished feature resolution.
func (m *Metrics) RecordResolution(target string, iterations int, duration time.Duration, err error) {
	if m == nil || m.resolutions == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
		m.RecordError(err)
	}
	m.resolutions.WithLabelValues(target, status).Inc()
	m.resolutionDuration.WithLabelValues(target).Observe(duration.Seconds())
	m.featureIterations.WithLabelValues(target).Observe(float64(iterations))
}

// RecordError records an error by kind and class. Errors that are not
// configuration errors are counted as kind "other".
func (m *Metrics) RecordError(err error) {
	if m == nil || m.errorsByKind == nil || err == nil {
		return
	}
	kind, class := "other", "hard"
	var cerr *engine.ConfigError
	if errors.As(err, &cerr) {
		kind, class = string(cerr.Kind), string(cerr.Class)
	}
	m.errorsByKind.WithLabelValues(kind, class).Inc()
}

// RecordPolicyViolations records the violations of one policy evaluation.
func (m *Metrics) RecordPolicyViolations(policy, severity string, count int) {
	if m == nil || m.policyViolations == nil || count == 0 {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Add(float64(count))
}

// RecordReload records a re-resolution triggered by watch mode.
func (m *Metrics) RecordReload() {
	if m == nil || m.reloads == nil {
		return
	}
	m.reloads.Inc()
}

// Registry returns the registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing the metrics. The
// returned server is nil when metrics are disabled.
func (m *Metrics) StartMetricsServer() *http.Server {
	if m == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Metrics are best effort
			log.Error().Err(err).Str("address", server.Addr).Msg("Metrics server stopped")
		}
	}()

	return server
}

// kindLabel renders an error kind for span attributes.
func kindLabel(err error) string {
	if k := engine.KindOf(err); k != "" {
		return string(k)
	}
	return "other"
}

// classLabel renders an error class for span attributes.
func classLabel(err error) string {
	if engine.IsSoft(err) {
		return string(engine.ErrorClassSoft)
	}
	return string(engine.ErrorClassHard)
}
