// Package hub delivers notifications through every registered transport.
//
// The hub never retries and never reports per-recipient failures to its
// caller. Each operation returns true when at least one delivery attempt
// succeeded. Failures are logged and recorded as metrics.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/observability"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-notify-go/pkg/registry"
)

// DefaultSendTimeout bounds one delivery attempt
const DefaultSendTimeout = 5 * time.Second

// Recorder receives one observation per delivery attempt
type Recorder interface {
	RecordNotification(ctx context.Context, method, transport, status string, duration time.Duration)
}

// Hub fans notifications out to the transports in a registry
type Hub struct {
	registry    *registry.Registry
	logger      logging.Logger
	recorder    Recorder
	tracer      trace.Tracer
	sendTimeout time.Duration
}

// Option configures a Hub
type Option func(*Hub)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithRecorder records every delivery attempt
func WithRecorder(r Recorder) Option {
	return func(h *Hub) {
		h.recorder = r
	}
}

// WithTracer sets the tracer used for hub spans
func WithTracer(t trace.Tracer) Option {
	return func(h *Hub) {
		h.tracer = t
	}
}

// WithSendTimeout bounds each delivery attempt. Zero disables the bound.
func WithSendTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.sendTimeout = d
	}
}

// New creates a hub delivering through reg
func New(reg *registry.Registry, opts ...Option) *Hub {
	h := &Hub{
		registry:    reg,
		logger:      logging.GetGlobalLogger(),
		tracer:      observability.NoopTracer(),
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithFields(logging.String("component", "Hub"))
	return h
}

// Registry returns the registry the hub delivers through
func (h *Hub) Registry() *registry.Registry {
	return h.registry
}

// BuildNotification builds a notification envelope. It fails only for an
// empty method or params that cannot be marshalled.
func BuildNotification(method string, params interface{}) (*protocol.Notification, error) {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		if method == "" {
			return nil, mcperrors.MissingParameter("method")
		}
		return nil, mcperrors.InvalidParams(method, err)
	}
	return n, nil
}

// SendToAddressedSession delivers n to one session of an addressable
// transport. Only the multi-session transport is addressable.
func (h *Hub) SendToAddressedSession(ctx context.Context, kind registry.Kind, sessionID string, n *protocol.Notification) bool {
	if n == nil {
		return false
	}
	if kind != registry.KindMultiSession {
		h.logger.Debug("transport is not addressable", logging.Transport(kind.String()), logging.Session(sessionID))
		return false
	}
	return h.sendToSession(ctx, h.registry.TransportState(), sessionID, n, "hub.send_to_session")
}

// SendToSession delivers n to one multi-session client
func (h *Hub) SendToSession(ctx context.Context, sessionID string, n *protocol.Notification) bool {
	return h.SendToAddressedSession(ctx, registry.KindMultiSession, sessionID, n)
}

func (h *Hub) sendToSession(ctx context.Context, state registry.State, sessionID string, n *protocol.Notification, spanName string) bool {
	ctx, span := h.startSpan(ctx, spanName, n,
		observability.AttrTransport.String(registry.KindMultiSession.String()),
		observability.AttrSessionID.String(sessionID),
	)
	defer span.End()

	conn, ok := state.Session(sessionID)
	if !ok {
		h.logger.Debug("session not registered",
			logging.Session(sessionID),
			logging.Bool("transport_initialized", state.MultiSession.Initialized),
		)
		h.record(ctx, n, registry.KindMultiSession, observability.StatusSkipped, 0)
		span.SetAttributes(observability.AttrDelivered.Bool(false))
		return false
	}

	delivered := h.deliver(ctx, conn, registry.KindMultiSession, sessionID, n)
	span.SetAttributes(observability.AttrDelivered.Bool(delivered))
	return delivered
}

// SendViaSingleSessionTransport delivers n over the single-session transport
func (h *Hub) SendViaSingleSessionTransport(ctx context.Context, n *protocol.Notification) bool {
	if n == nil {
		return false
	}
	return h.sendSingle(ctx, h.registry.TransportState(), n)
}

func (h *Hub) sendSingle(ctx context.Context, state registry.State, n *protocol.Notification) bool {
	ctx, span := h.startSpan(ctx, "hub.send_single_session", n,
		observability.AttrTransport.String(registry.KindSingleSession.String()))
	defer span.End()

	entry := state.SingleSession
	if !entry.Initialized || entry.Conn == nil {
		h.logger.Debug("single-session transport not initialized")
		span.SetAttributes(observability.AttrDelivered.Bool(false))
		return false
	}

	delivered := h.deliver(ctx, entry.Conn, registry.KindSingleSession, "", n)
	span.SetAttributes(observability.AttrDelivered.Bool(delivered))
	return delivered
}

// SendViaBroadcastTransport publishes n on the broadcast-only transport
func (h *Hub) SendViaBroadcastTransport(ctx context.Context, n *protocol.Notification) bool {
	if n == nil {
		return false
	}
	return h.sendBroadcastOnly(ctx, h.registry.TransportState(), n)
}

func (h *Hub) sendBroadcastOnly(ctx context.Context, state registry.State, n *protocol.Notification) bool {
	ctx, span := h.startSpan(ctx, "hub.send_broadcast_only", n,
		observability.AttrTransport.String(registry.KindBroadcastOnly.String()))
	defer span.End()

	entry := state.BroadcastOnly
	if !entry.Initialized || entry.Handle == nil {
		h.logger.Debug("broadcast-only transport not initialized")
		span.SetAttributes(observability.AttrDelivered.Bool(false))
		return false
	}

	delivered := h.deliver(ctx, entry.Handle, registry.KindBroadcastOnly, "", n)
	span.SetAttributes(observability.AttrDelivered.Bool(delivered))
	return delivered
}

// Broadcast delivers n to every multi-session client, the single-session
// transport and the broadcast-only transport concurrently. The registry is
// read once, so sessions registered during the call are not included. It
// returns true when at least one delivery succeeded.
func (h *Hub) Broadcast(ctx context.Context, n *protocol.Notification, opts ...BroadcastOption) bool {
	if n == nil {
		return false
	}

	var bo broadcastOptions
	for _, opt := range opts {
		opt(&bo)
	}

	ctx, span := h.startSpan(ctx, "hub.broadcast", n, observability.AttrForceHTTP.Bool(bo.forceHTTP))
	defer span.End()

	state := h.registry.TransportState()

	var (
		g          errgroup.Group
		delivered  atomic.Bool
		recipients int
	)

	if state.MultiSession.Initialized {
		for _, id := range state.SessionIDs() {
			if bo.sessionFilter != nil && !bo.sessionFilter(id) {
				continue
			}
			recipients++
			id := id
			g.Go(func() error {
				if h.sendToSession(ctx, state, id, n, "hub.broadcast.session") {
					delivered.Store(true)
				}
				return nil
			})
		}
	}

	if !bo.skipSingle && state.SingleSession.Initialized {
		recipients++
		g.Go(func() error {
			if h.sendSingle(ctx, state, n) {
				delivered.Store(true)
			}
			return nil
		})
	}

	if !bo.skipBroadcast && state.BroadcastOnly.Initialized {
		recipients++
		g.Go(func() error {
			if h.sendBroadcastOnly(ctx, state, n) {
				delivered.Store(true)
			}
			return nil
		})
	}

	_ = g.Wait()

	ok := delivered.Load()
	span.SetAttributes(
		observability.AttrRecipients.Int(recipients),
		observability.AttrDelivered.Bool(ok),
	)

	fields := []logging.Field{
		logging.Method(n.Method),
		logging.Int("recipients", recipients),
		logging.Bool("delivered", ok),
	}
	if bo.forceHTTP {
		fields = append(fields, logging.Bool("force_broadcast_http", true))
	}
	if recipients > 0 && !ok {
		h.logger.Warn("broadcast reached no recipient", fields...)
	} else {
		h.logger.Debug("broadcast complete", fields...)
	}

	return ok
}

// deliver performs one bounded send. Errors and panics count as a failed
// delivery to this recipient only.
func (h *Hub) deliver(ctx context.Context, conn registry.Conn, kind registry.Kind, sessionID string, n *protocol.Notification) bool {
	if h.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.sendTimeout)
		defer cancel()
	}

	start := time.Now()
	logger := h.logger.WithFields(logging.Transport(kind.String()), logging.Method(n.Method))
	if sessionID != "" {
		logger = logger.WithFields(logging.Session(sessionID))
	}

	err := sendBounded(ctx, conn, n)
	elapsed := time.Since(start)
	if err == nil {
		h.record(ctx, n, kind, observability.StatusSuccess, elapsed)
		return true
	}

	span := trace.SpanFromContext(ctx)
	var p *sendPanic
	if errors.As(err, &p) {
		logger.Error("panic in transport send", logging.String("panic", fmt.Sprint(p.value)))
		span.SetStatus(codes.Error, "panic in transport send")
		h.record(ctx, n, kind, observability.StatusPanic, elapsed)
		return false
	}

	status := observability.StatusError
	if ctx.Err() == context.DeadlineExceeded {
		status = observability.StatusTimeout
	}
	logger.WithError(err).Warn("notification delivery failed", logging.Duration("elapsed", elapsed))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	h.record(ctx, n, kind, status, elapsed)
	return false
}

// sendPanic carries a value recovered from a handle's Send
type sendPanic struct {
	value interface{}
}

func (p *sendPanic) Error() string {
	return fmt.Sprintf("panic in transport send: %v", p.value)
}

// sendBounded runs conn.Send on its own goroutine and stops waiting once ctx
// is done. A handle stuck in a blocking write finishes in the background.
func sendBounded(ctx context.Context, conn registry.Conn, n *protocol.Notification) error {
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- &sendPanic{value: r}
			}
		}()
		result <- conn.Send(ctx, n)
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send abandoned: %w", ctx.Err())
	}
}

func (h *Hub) record(ctx context.Context, n *protocol.Notification, kind registry.Kind, status string, d time.Duration) {
	if h.recorder == nil {
		return
	}
	h.recorder.RecordNotification(ctx, n.Method, kind.String(), status, d)
}

func (h *Hub) startSpan(ctx context.Context, name string, n *protocol.Notification, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, observability.AttrMethod.String(n.Method))
	return h.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
