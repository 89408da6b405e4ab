package transport

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coder/websocket"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// DefaultWSWriteTimeout bounds a websocket write when ctx has no deadline
const DefaultWSWriteTimeout = 10 * time.Second

// WSConn is a multi-session handle over a websocket connection
type WSConn struct {
	sessionID    string
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       logging.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// WSOption configures a WSConn
type WSOption func(*WSConn)

// WithWSWriteTimeout sets the write timeout
func WithWSWriteTimeout(d time.Duration) WSOption {
	return func(c *WSConn) {
		c.writeTimeout = d
	}
}

// WithWSLogger sets the logger
func WithWSLogger(logger logging.Logger) WSOption {
	return func(c *WSConn) {
		c.logger = logger
	}
}

// NewWSConn wraps an accepted websocket connection
func NewWSConn(sessionID string, conn *websocket.Conn, opts ...WSOption) *WSConn {
	c := &WSConn{
		sessionID:    sessionID,
		conn:         conn,
		writeTimeout: DefaultWSWriteTimeout,
		logger:       logging.GetGlobalLogger(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(
		logging.String("component", "WSConn"),
		logging.Transport(NameWebSocket),
		logging.Session(sessionID),
	)
	return c
}

// SessionID returns the session id
func (c *WSConn) SessionID() string {
	return c.sessionID
}

// Send writes n as one text frame
func (c *WSConn) Send(ctx context.Context, n *protocol.Notification) error {
	data, err := encode(NameWebSocket, n)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

func (c *WSConn) write(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return mcperrors.ConnectionClosed(NameWebSocket)
	default:
	}

	if _, ok := ctx.Deadline(); !ok && c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return mcperrors.TransportError(NameWebSocket, "write_frame", err).
			WithContext(&mcperrors.Context{SessionID: c.sessionID, Component: "WSConn"})
	}
	return nil
}

// ReadLoop feeds every inbound text frame to handle and writes non-nil
// responses back. It returns when the peer closes or ctx is done. A normal
// closure returns nil.
func (c *WSConn) ReadLoop(ctx context.Context, handle MessageHandler) error {
	defer c.markClosed()

	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return mcperrors.TransportError(NameWebSocket, "read_frame", err)
		}
		if typ != websocket.MessageText {
			c.logger.Debug("ignoring binary frame", logging.Int("bytes", len(data)))
			continue
		}

		if resp := c.dispatch(ctx, handle, data); resp != nil {
			if err := c.write(ctx, resp); err != nil {
				c.logger.WithError(err).Warn("failed to write response")
			}
		}
	}
}

func (c *WSConn) dispatch(ctx context.Context, handle MessageHandler, data []byte) (resp []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in message handler",
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
			resp = nil
		}
	}()
	return handle(ctx, data)
}

// Done is closed once the connection is closed
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

func (c *WSConn) markClosed() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Close sends a normal closure frame. Closing twice is not an error.
func (c *WSConn) Close() error {
	c.markClosed()
	if err := c.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		c.logger.Debug("close handshake incomplete", logging.ErrorField(err))
	}
	return nil
}
