package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Prometheus configuration
	MetricsPath string // HTTP path for metrics endpoint (default: /metrics)
	Address     string // Listen address for the standalone server (default: :9090)

	// Metric options
	Namespace        string    // Prometheus namespace (default: mcp)
	Subsystem        string    // Prometheus subsystem (default: notify)
	HistogramBuckets []float64 // Custom histogram buckets for latency

	// Registerer receives the collectors. Nil uses the default registry.
	Registerer prometheus.Registerer
	// Gatherer backs Handler. Nil uses the default gatherer.
	Gatherer prometheus.Gatherer

	// Labels to add to all metrics
	ConstLabels prometheus.Labels
}

// MetricsProvider records notification delivery metrics
type MetricsProvider interface {
	// RecordNotification records one delivery attempt to one transport
	RecordNotification(ctx context.Context, method, transport, status string, duration time.Duration)
	// RecordInboundMessage records one message handled by the control plane
	RecordInboundMessage(ctx context.Context, method, status string, duration time.Duration)
	// RecordActiveSessions adjusts the live session gauge for a transport
	RecordActiveSessions(ctx context.Context, transport string, delta int)
	// RecordCancellation counts a cooperative cancellation
	RecordCancellation(ctx context.Context, outcome string)

	Handler() http.Handler
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Delivery statuses used as the status label
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusPanic   = "panic"
	StatusSkipped = "skipped"
)

// PrometheusMetricsProvider implements MetricsProvider using Prometheus
type PrometheusMetricsProvider struct {
	config MetricsConfig

	mu     sync.Mutex
	server *http.Server

	notificationDuration *prometheus.HistogramVec
	notificationTotal    *prometheus.CounterVec
	inboundDuration      *prometheus.HistogramVec
	inboundTotal         *prometheus.CounterVec
	activeSessions       *prometheus.GaugeVec
	cancellationTotal    *prometheus.CounterVec
}

// NewMetricsProvider creates a new Prometheus metrics provider
func NewMetricsProvider(config MetricsConfig) (*PrometheusMetricsProvider, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.Subsystem == "" {
		config.Subsystem = "notify"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.Address == "" {
		config.Address = ":9090"
	}
	if config.HistogramBuckets == nil {
		// milliseconds
		config.HistogramBuckets = []float64{0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}

	labels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		labels[k] = v
	}
	if config.ServiceName != "" {
		labels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		labels["version"] = config.ServiceVersion
	}
	if config.Environment != "" {
		labels["environment"] = config.Environment
	}
	config.ConstLabels = labels

	p := &PrometheusMetricsProvider{config: config}
	p.initializeMetrics()

	if err := p.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return p, nil
}

func (p *PrometheusMetricsProvider) initializeMetrics() {
	c := p.config

	p.notificationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "notification_duration_milliseconds",
			Help:        "Duration of a single notification delivery attempt in milliseconds",
			Buckets:     c.HistogramBuckets,
			ConstLabels: c.ConstLabels,
		},
		[]string{"method", "transport", "status"},
	)

	p.notificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "notification_total",
			Help:        "Total number of notification delivery attempts",
			ConstLabels: c.ConstLabels,
		},
		[]string{"method", "transport", "status"},
	)

	p.inboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "inbound_duration_milliseconds",
			Help:        "Duration of inbound control messages in milliseconds",
			Buckets:     c.HistogramBuckets,
			ConstLabels: c.ConstLabels,
		},
		[]string{"method", "status"},
	)

	p.inboundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "inbound_total",
			Help:        "Total number of inbound control messages",
			ConstLabels: c.ConstLabels,
		},
		[]string{"method", "status"},
	)

	p.activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of connected client sessions",
			ConstLabels: c.ConstLabels,
		},
		[]string{"transport"},
	)

	p.cancellationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   c.Namespace,
			Subsystem:   c.Subsystem,
			Name:        "cancellation_total",
			Help:        "Total number of cooperative cancellations",
			ConstLabels: c.ConstLabels,
		},
		[]string{"outcome"},
	)
}

// registerMetrics registers every collector. A collector that is already
// registered is replaced by the existing one so that two providers sharing a
// registry record into the same series.
func (p *PrometheusMetricsProvider) registerMetrics() error {
	reg := p.config.Registerer

	var err error
	if p.notificationDuration, err = register(reg, p.notificationDuration); err != nil {
		return err
	}
	if p.notificationTotal, err = register(reg, p.notificationTotal); err != nil {
		return err
	}
	if p.inboundDuration, err = register(reg, p.inboundDuration); err != nil {
		return err
	}
	if p.inboundTotal, err = register(reg, p.inboundTotal); err != nil {
		return err
	}
	if p.activeSessions, err = register(reg, p.activeSessions); err != nil {
		return err
	}
	if p.cancellationTotal, err = register(reg, p.cancellationTotal); err != nil {
		return err
	}
	return nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordNotification records one delivery attempt
func (p *PrometheusMetricsProvider) RecordNotification(ctx context.Context, method, transport, status string, duration time.Duration) {
	ms := float64(duration.Microseconds()) / 1000
	p.notificationDuration.WithLabelValues(method, transport, status).Observe(ms)
	p.notificationTotal.WithLabelValues(method, transport, status).Inc()
}

// RecordInboundMessage records one handled control message
func (p *PrometheusMetricsProvider) RecordInboundMessage(ctx context.Context, method, status string, duration time.Duration) {
	ms := float64(duration.Microseconds()) / 1000
	p.inboundDuration.WithLabelValues(method, status).Observe(ms)
	p.inboundTotal.WithLabelValues(method, status).Inc()
}

// RecordActiveSessions adjusts the session gauge
func (p *PrometheusMetricsProvider) RecordActiveSessions(ctx context.Context, transport string, delta int) {
	p.activeSessions.WithLabelValues(transport).Add(float64(delta))
}

// RecordCancellation counts a cancellation
func (p *PrometheusMetricsProvider) RecordCancellation(ctx context.Context, outcome string) {
	p.cancellationTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the configured gatherer in the Prometheus text format
func (p *PrometheusMetricsProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.config.Gatherer, promhttp.HandlerOpts{})
}

// Start serves metrics on a dedicated listener. It returns once the listener
// is bound.
func (p *PrometheusMetricsProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server != nil {
		return errors.New("metrics server already started")
	}

	ln, err := net.Listen("tcp", p.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.Address, err)
	}

	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, p.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	p.server = srv

	go func() {
		_ = srv.Serve(ln)
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server
func (p *PrometheusMetricsProvider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.server == nil {
		return nil
	}
	err := p.server.Shutdown(ctx)
	p.server = nil
	return err
}
