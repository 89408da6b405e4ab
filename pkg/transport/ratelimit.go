package transport

import (
	"context"

	"golang.org/x/time/rate"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-notify-go/pkg/registry"
)

type limitedConn struct {
	conn    registry.Conn
	limiter *rate.Limiter
}

// Limited wraps conn so that sends wait for a token from a bucket refilled
// at rps with the given burst. A send whose ctx ends while waiting fails.
// A non-positive rps returns conn unchanged.
func Limited(conn registry.Conn, rps float64, burst int) registry.Conn {
	if rps <= 0 {
		return conn
	}
	if burst < 1 {
		burst = 1
	}
	return &limitedConn{conn: conn, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *limitedConn) Send(ctx context.Context, n *protocol.Notification) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return mcperrors.TransportError("rate_limit", "wait", err)
	}
	return l.conn.Send(ctx, n)
}

// Close closes the wrapped handle when it is closable
func (l *limitedConn) Close() error {
	if c, ok := l.conn.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
