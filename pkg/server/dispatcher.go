package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/observability"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// ErrSessionRequired rejects a level change that names no session and does
// not come from the single-session transport.
var ErrSessionRequired = errors.New("a session is required to change the log level")

// LevelStore holds client log levels
type LevelStore interface {
	SetDefaultLevel(level protocol.LoggingLevel)
	SetSessionLevel(sessionID string, level protocol.LoggingLevel) bool
}

// Canceller flags operations as cancelled
type Canceller interface {
	RequestCancellation(token string)
}

// InboundRecorder observes handled control messages
type InboundRecorder interface {
	RecordInboundMessage(ctx context.Context, method, status string, duration time.Duration)
}

// Dispatcher handles inbound JSON-RPC control messages for every transport
type Dispatcher struct {
	levels    LevelStore
	canceller Canceller
	logger    logging.Logger
	recorder  InboundRecorder
	tracer    trace.Tracer
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithInboundRecorder records every handled message
func WithInboundRecorder(r InboundRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// WithDispatcherTracer sets the tracer
func WithDispatcherTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// NewDispatcher creates a dispatcher updating levels and canceller
func NewDispatcher(levels LevelStore, canceller Canceller, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		levels:    levels,
		canceller: canceller,
		logger:    logging.GetGlobalLogger(),
		tracer:    observability.NoopTracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithFields(logging.String("component", "Dispatcher"))
	return d
}

// HandleSingle handles a message from the single-session transport. It has
// the shape of transport.MessageHandler.
func (d *Dispatcher) HandleSingle(ctx context.Context, raw []byte) []byte {
	return d.Handle(ctx, "", raw)
}

// Handler binds sessionID for a transport read loop
func (d *Dispatcher) Handler(sessionID string) func(ctx context.Context, raw []byte) []byte {
	return func(ctx context.Context, raw []byte) []byte {
		return d.Handle(ctx, sessionID, raw)
	}
}

// Handle processes one raw message from sessionID and returns the encoded
// response, or nil when the message was a notification or a response.
// An empty sessionID addresses the server-wide default.
func (d *Dispatcher) Handle(ctx context.Context, sessionID string, raw []byte) []byte {
	return d.handle(ctx, sessionID, true, raw)
}

// HandleUnbound processes a message that arrived outside any session, such
// as an HTTP post without a session header. Pings and cancellations work;
// logging/setLevel is rejected with invalid params.
func (d *Dispatcher) HandleUnbound(ctx context.Context, raw []byte) []byte {
	return d.handle(ctx, "", false, raw)
}

func (d *Dispatcher) handle(ctx context.Context, sessionID string, ownsDefault bool, raw []byte) []byte {
	start := time.Now()

	env, err := protocol.DecodeEnvelope(raw)
	if err != nil {
		d.logger.Debug("rejecting malformed message", logging.Session(sessionID), logging.ErrorField(err))
		d.record(ctx, "", observability.StatusError, start)
		return d.encode(protocol.NewErrorResponse(nil, mcperrors.ToJSONRPCError(mcperrors.ParseError(err))))
	}

	ctx, span := d.tracer.Start(ctx, "dispatcher.handle",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			observability.AttrMethod.String(env.Method),
			observability.AttrSessionID.String(sessionID),
		),
	)
	defer span.End()

	switch {
	case env.IsNotification():
		if err := d.handleNotification(ctx, sessionID, env); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.record(ctx, env.Method, observability.StatusError, start)
			return nil
		}
		d.record(ctx, env.Method, observability.StatusSuccess, start)
		return nil

	case env.IsRequest():
		result, err := d.handleRequest(ctx, sessionID, ownsDefault, env)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.record(ctx, env.Method, observability.StatusError, start)
			return d.encode(protocol.NewErrorResponse(env.ID, mcperrors.ToJSONRPCError(err)))
		}
		resp, err := protocol.NewResponse(env.ID, result)
		if err != nil {
			d.record(ctx, env.Method, observability.StatusError, start)
			return d.encode(protocol.NewErrorResponse(env.ID, mcperrors.ToJSONRPCError(err)))
		}
		d.record(ctx, env.Method, observability.StatusSuccess, start)
		return d.encode(resp)

	default:
		// responses to server requests are not expected here
		d.record(ctx, env.Method, observability.StatusSkipped, start)
		return nil
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, sessionID string, ownsDefault bool, env *protocol.Envelope) (interface{}, error) {
	switch env.Method {
	case protocol.MethodSetLevel:
		var params protocol.SetLevelParams
		if err := decodeParams(env, &params); err != nil {
			return nil, err
		}
		if !params.Level.Valid() {
			return nil, mcperrors.InvalidLevel(string(params.Level), levelNames())
		}
		switch {
		case sessionID != "":
			d.levels.SetSessionLevel(sessionID, params.Level)
		case ownsDefault:
			d.levels.SetDefaultLevel(params.Level)
		default:
			return nil, mcperrors.InvalidParams(env.Method, ErrSessionRequired)
		}
		d.logger.Info("client log level changed",
			logging.Session(sessionID),
			logging.String("level", string(params.Level)),
		)
		return struct{}{}, nil

	case protocol.MethodPing:
		return struct{}{}, nil

	default:
		return nil, mcperrors.MethodNotFound(env.Method).WithContext(&mcperrors.Context{
			SessionID: sessionID,
			Component: "Dispatcher",
			Operation: "handle_request",
		})
	}
}

func (d *Dispatcher) handleNotification(ctx context.Context, sessionID string, env *protocol.Envelope) error {
	switch env.Method {
	case protocol.MethodCancelled:
		var params protocol.CancelRequestParams
		if err := decodeParams(env, &params); err != nil {
			d.logger.WithError(err).Debug("ignoring malformed cancellation", logging.Session(sessionID))
			return err
		}
		token := cancelToken(params)
		if token == "" {
			return mcperrors.MissingParameter("requestId")
		}
		d.canceller.RequestCancellation(token)
		d.logger.Debug("client requested cancellation",
			logging.Session(sessionID),
			logging.Token(token),
			logging.String("reason", params.Reason),
		)
		return nil

	default:
		d.logger.Debug("ignoring notification", logging.Session(sessionID), logging.Method(env.Method))
		return nil
	}
}

func (d *Dispatcher) record(ctx context.Context, method, status string, start time.Time) {
	if d.recorder != nil {
		d.recorder.RecordInboundMessage(ctx, method, status, time.Since(start))
	}
}

func (d *Dispatcher) encode(resp *protocol.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		d.logger.WithError(err).Error("failed to encode response")
		return nil
	}
	return data
}

func decodeParams(env *protocol.Envelope, v interface{}) error {
	if len(env.Params) == 0 {
		return mcperrors.MissingParameter("params")
	}
	if err := json.Unmarshal(env.Params, v); err != nil {
		return mcperrors.InvalidParams(env.Method, err)
	}
	return nil
}

// cancelToken picks the token to flag: the request id, or the progress
// token when no request id was sent.
func cancelToken(p protocol.CancelRequestParams) string {
	for _, v := range []interface{}{p.RequestID, p.ProgressToken} {
		switch id := v.(type) {
		case nil:
		case string:
			if id != "" {
				return id
			}
		case float64:
			return fmt.Sprintf("%.0f", id)
		default:
			return fmt.Sprint(id)
		}
	}
	return ""
}

func levelNames() []string {
	levels := protocol.LoggingLevels()
	names := make([]string, len(levels))
	for i, l := range levels {
		names[i] = string(l)
	}
	return names
}
