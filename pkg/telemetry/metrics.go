package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the render pipeline.
type Metrics struct {
	config MetricsConfig

	rendersTotal     *prometheus.CounterVec
	renderDuration   *prometheus.HistogramVec
	outputBytes      prometheus.Histogram
	outputsUnchanged prometheus.Counter

	errorsByClass    *prometheus.CounterVec
	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
// A disabled configuration yields a Metrics whose methods do nothing.
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

		rendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Total number of renders by status and input format",
			},
			[]string{"status", "format"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Duration of a render in seconds",
				Buckets:   buckets,
			},
			[]string{"format"},
		),
		outputBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "output_bytes",
				Help:      "Size of rendered Nix text in bytes",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
		),
		outputsUnchanged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outputs_unchanged_total",
				Help:      "Total number of output writes skipped because the text was unchanged",
			},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of failed renders by error class",
			},
			[]string{"class"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of policy findings by policy and severity",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.rendersTotal,
		m.renderDuration,
		m.outputBytes,
		m.outputsUnchanged,
		m.errorsByClass,
		m.policyViolations,
	)

	return m, nil
}

// RecordRender records a finished render.
func (m *Metrics) RecordRender(status, format string, duration time.Duration, bytes int) {
	if m.rendersTotal == nil {
		return
	}
	m.rendersTotal.WithLabelValues(status, format).Inc()
	m.renderDuration.WithLabelValues(format).Observe(duration.Seconds())
	if bytes > 0 {
		m.outputBytes.Observe(float64(bytes))
	}
}

// RecordUnchanged counts an output write skipped because its hash matched.
func (m *Metrics) RecordUnchanged() {
	if m.outputsUnchanged == nil {
		return
	}
	m.outputsUnchanged.Inc()
}

// RecordError records a failed render by error class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// RecordPolicyViolation records one policy finding.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Registry returns the registry holding the metrics, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
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
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics over HTTP until ctx is cancelled. It returns
// immediately when no listen address is configured.
func (m *Metrics) Serve(ctx context.Context) error {
	return m.ServeOn(ctx, m.config.ListenAddress)
}

// ServeOn is Serve with an explicit listen address.
func (m *Metrics) ServeOn(ctx context.Context, addr string) error {
	if !m.config.Enabled || addr == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
