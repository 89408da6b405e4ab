package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// SSEEventType is the event name carrying JSON-RPC messages
const SSEEventType = "message"

// DefaultSSEWriteTimeout bounds a write whose context carries no deadline
const DefaultSSEWriteTimeout = 10 * time.Second

// ErrStreamingUnsupported is returned when the response writer cannot flush
var ErrStreamingUnsupported = errors.New("response writer does not support streaming")

// SSEConn is a multi-session handle writing server-sent events to an open
// HTTP response.
type SSEConn struct {
	sessionID string

	writing chan struct{} // one-slot lock, acquired with a context
	w       http.ResponseWriter
	rc      *http.ResponseController
	flusher http.Flusher

	eventID   atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSEConn writes the event-stream headers and returns the handle. The
// caller keeps the request open until Done is closed.
func NewSSEConn(sessionID string, w http.ResponseWriter) (*SSEConn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, mcperrors.TransportError(NameSSE, "open_stream", ErrStreamingUnsupported)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEConn{
		sessionID: sessionID,
		writing:   make(chan struct{}, 1),
		w:         w,
		rc:        http.NewResponseController(w),
		flusher:   flusher,
		done:      make(chan struct{}),
	}, nil
}

// SessionID returns the session this stream belongs to
func (c *SSEConn) SessionID() string {
	return c.sessionID
}

// Send writes n as a "message" event
func (c *SSEConn) Send(ctx context.Context, n *protocol.Notification) error {
	if err := ctx.Err(); err != nil {
		return mcperrors.MessageSendError(NameSSE, methodOf(n), err)
	}
	data, err := encode(NameSSE, n)
	if err != nil {
		return err
	}
	return c.sendEvent(ctx, SSEEventType, data)
}

// SendEvent writes one event. Data containing newlines is split over
// several data lines.
func (c *SSEConn) SendEvent(eventType string, data []byte) error {
	return c.sendEvent(context.Background(), eventType, data)
}

func (c *SSEConn) sendEvent(ctx context.Context, eventType string, data []byte) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id: evt-%d\n", c.eventID.Add(1))
	fmt.Fprintf(&buf, "event: %s\n", eventType)
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	return c.write(ctx, buf.Bytes())
}

// Ping writes an SSE comment line to keep intermediaries from timing out
func (c *SSEConn) Ping() error {
	return c.write(context.Background(), []byte(": ping\n\n"))
}

// write holds the lock for one event. Waiting for the lock honours ctx and
// the write is bounded by a deadline on the underlying connection.
func (c *SSEConn) write(ctx context.Context, p []byte) error {
	select {
	case c.writing <- struct{}{}:
	case <-ctx.Done():
		return mcperrors.TransportError(NameSSE, "acquire_writer", ctx.Err()).
			WithContext(&mcperrors.Context{SessionID: c.sessionID, Component: "SSEConn"})
	case <-c.done:
		return c.closedError()
	}
	defer func() { <-c.writing }()

	select {
	case <-c.done:
		return c.closedError()
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultSSEWriteTimeout)
	}
	// Writers that cannot take a deadline (recorders, custom wrappers)
	// report ErrNotSupported and are written without one.
	if err := c.rc.SetWriteDeadline(deadline); err == nil {
		defer func() { _ = c.rc.SetWriteDeadline(time.Time{}) }()
	}

	if _, err := c.w.Write(p); err != nil {
		c.closeOnce.Do(func() { close(c.done) })
		return mcperrors.TransportError(NameSSE, "write_event", err).
			WithContext(&mcperrors.Context{SessionID: c.sessionID, Component: "SSEConn"})
	}
	c.flusher.Flush()
	return nil
}

func (c *SSEConn) closedError() error {
	return mcperrors.ConnectionClosed(NameSSE).
		WithContext(&mcperrors.Context{SessionID: c.sessionID, Component: "SSEConn"})
}

// Done is closed when the stream is closed
func (c *SSEConn) Done() <-chan struct{} {
	return c.done
}

// Close marks the stream closed. Later sends fail. It does not wait for a
// write in progress.
func (c *SSEConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
