// Package mcp assembles the notification subsystem: a transport registry, the
// hub that fans notifications out through it, the client logging adapter,
// the progress and cancellation engine and the inbound control dispatcher.
package mcp

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-notify-go/pkg/clientlog"
	"github.com/ajitpratap0/mcp-notify-go/pkg/hub"
	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/observability"
	"github.com/ajitpratap0/mcp-notify-go/pkg/progress"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-notify-go/pkg/registry"
	"github.com/ajitpratap0/mcp-notify-go/pkg/server"
)

// Version is the module version reported in metrics and traces
const Version = "0.3.0"

// System is one wired notification subsystem
type System struct {
	Registry   *registry.Registry
	Hub        *hub.Hub
	Logs       *clientlog.Adapter
	Progress   *progress.Engine
	Dispatcher *server.Dispatcher
}

type settings struct {
	logger       logging.Logger
	metrics      observability.MetricsProvider
	tracer       trace.Tracer
	defaultLevel protocol.LoggingLevel
	sendTimeout  time.Duration
}

// Option configures New
type Option func(*settings)

// WithLogger sets the logger shared by every component
func WithLogger(logger logging.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMetrics records deliveries, inbound messages and cancellations
func WithMetrics(m observability.MetricsProvider) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithTracer sets the tracer for hub and dispatcher spans
func WithTracer(t trace.Tracer) Option {
	return func(s *settings) {
		s.tracer = t
	}
}

// WithDefaultLevel sets the initial client log level
func WithDefaultLevel(level protocol.LoggingLevel) Option {
	return func(s *settings) {
		s.defaultLevel = level
	}
}

// WithSendTimeout bounds each delivery attempt
func WithSendTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.sendTimeout = d
	}
}

// New wires a System around an empty registry
func New(opts ...Option) *System {
	s := settings{
		logger:       logging.GetGlobalLogger(),
		tracer:       observability.NoopTracer(),
		defaultLevel: protocol.LoggingLevelInfo,
		sendTimeout:  hub.DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(&s)
	}

	reg := registry.New()

	hubOpts := []hub.Option{
		hub.WithLogger(s.logger),
		hub.WithTracer(s.tracer),
		hub.WithSendTimeout(s.sendTimeout),
	}
	progressOpts := []progress.Option{progress.WithLogger(s.logger)}
	dispatcherOpts := []server.DispatcherOption{
		server.WithDispatcherLogger(s.logger),
		server.WithDispatcherTracer(s.tracer),
	}
	if s.metrics != nil {
		hubOpts = append(hubOpts, hub.WithRecorder(s.metrics))
		progressOpts = append(progressOpts, progress.WithRecorder(s.metrics))
		dispatcherOpts = append(dispatcherOpts, server.WithInboundRecorder(s.metrics))
	}

	h := hub.New(reg, hubOpts...)
	logs := clientlog.New(h, s.defaultLevel, clientlog.WithLogger(s.logger))
	engine := progress.New(h, progressOpts...)

	return &System{
		Registry:   reg,
		Hub:        h,
		Logs:       logs,
		Progress:   engine,
		Dispatcher: server.NewDispatcher(logs, engine, dispatcherOpts...),
	}
}

// SetSingleSession installs conn as the initialized single-session
// transport. A nil conn marks the entry uninitialized.
func (s *System) SetSingleSession(conn registry.Conn) {
	s.Registry.Update(func(st *registry.State) {
		st.SingleSession = registry.SingleSession{Initialized: conn != nil, Conn: conn}
	})
}

// SetBroadcastOnly installs handle as the initialized broadcast-only
// transport. A nil handle marks the entry uninitialized.
func (s *System) SetBroadcastOnly(handle registry.Conn) {
	s.Registry.Update(func(st *registry.State) {
		st.BroadcastOnly = registry.BroadcastOnly{Initialized: handle != nil, Handle: handle}
	})
}

// NewServer creates a session server registering into the system's
// registry. Ended sessions have their client log level cleared.
func (s *System) NewServer(opts ...server.Option) *server.Server {
	opts = append([]server.Option{server.WithSessionCleaner(s.Logs)}, opts...)
	return server.New(s.Registry, s.Dispatcher, opts...)
}
