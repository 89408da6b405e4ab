package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

const maxStdioLine = 4 * 1024 * 1024

// StdioConn is the single-session handle over newline-delimited JSON on a
// reader/writer pair, normally stdin and stdout.
type StdioConn struct {
	reader io.Reader
	logger logging.Logger

	writing chan struct{} // one-slot lock guarding writer
	writer  *bufio.Writer

	done      chan struct{}
	closeOnce sync.Once
}

// StdioOption configures a StdioConn
type StdioOption func(*StdioConn)

// WithStdioLogger sets the logger
func WithStdioLogger(logger logging.Logger) StdioOption {
	return func(c *StdioConn) {
		c.logger = logger
	}
}

// NewStdioConn creates a stdio handle
func NewStdioConn(r io.Reader, w io.Writer, opts ...StdioOption) *StdioConn {
	c := &StdioConn{
		reader:  r,
		writer:  bufio.NewWriter(w),
		writing: make(chan struct{}, 1),
		logger:  logging.GetGlobalLogger(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logging.String("component", "StdioConn"), logging.Transport(NameStdio))
	return c
}

// Send writes n as one line
func (c *StdioConn) Send(ctx context.Context, n *protocol.Notification) error {
	if err := ctx.Err(); err != nil {
		return mcperrors.MessageSendError(NameStdio, methodOf(n), err)
	}
	data, err := encode(NameStdio, n)
	if err != nil {
		return err
	}
	return c.sendRaw(ctx, data)
}

// SendRaw writes data followed by a newline and flushes
func (c *StdioConn) SendRaw(data []byte) error {
	return c.sendRaw(context.Background(), data)
}

// sendRaw waits for the writer until ctx is done. A peer that stopped
// reading keeps the current write blocked but never queues later callers
// past their own deadline.
func (c *StdioConn) sendRaw(ctx context.Context, data []byte) error {
	select {
	case c.writing <- struct{}{}:
	case <-ctx.Done():
		return mcperrors.TransportError(NameStdio, "acquire_writer", ctx.Err())
	case <-c.done:
		return mcperrors.ConnectionClosed(NameStdio)
	}
	defer func() { <-c.writing }()

	select {
	case <-c.done:
		return mcperrors.ConnectionClosed(NameStdio)
	default:
	}

	if _, err := c.writer.Write(data); err != nil {
		return mcperrors.TransportError(NameStdio, "write_data", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return mcperrors.TransportError(NameStdio, "write_newline", err)
	}
	if err := c.writer.Flush(); err != nil {
		return mcperrors.TransportError(NameStdio, "flush_output", err)
	}
	return nil
}

// Serve reads one message per line and passes it to handle. Non-nil
// responses are written back. It blocks until the reader hits EOF, ctx is
// cancelled or Close is called.
func (c *StdioConn) Serve(ctx context.Context, handle MessageHandler) error {
	g, gctx := errgroup.WithContext(ctx)
	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)

		scanner := bufio.NewScanner(c.reader)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStdioLine)

		for scanner.Scan() {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-c.done:
				return nil
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			data := make([]byte, len(line))
			copy(data, line)

			c.process(gctx, handle, data)
		}

		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-c.done:
			return nil
		default:
		}
		if err := scanner.Err(); err != nil {
			return mcperrors.TransportError(NameStdio, "read_input", err).
				WithContext(&mcperrors.Context{Component: "StdioConn", Operation: "scan_input"})
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			c.closeReader()
			return gctx.Err()
		case <-c.done:
			c.closeReader()
			return nil
		case <-scannerDone:
			return nil
		}
	})

	return g.Wait()
}

func (c *StdioConn) process(ctx context.Context, handle MessageHandler, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in message handler",
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()

	resp := handle(ctx, data)
	if resp == nil {
		return
	}
	if err := c.SendRaw(resp); err != nil {
		c.logger.WithError(err).Warn("failed to write response")
	}
}

func (c *StdioConn) closeReader() {
	if closer, ok := c.reader.(io.Closer); ok {
		_ = closer.Close()
	}
}

// Close stops Serve and flushes pending output. A write still in progress
// is not waited for.
func (c *StdioConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		select {
		case c.writing <- struct{}{}:
			err = c.writer.Flush()
			<-c.writing
		default:
		}
	})
	if err != nil {
		return mcperrors.TransportError(NameStdio, "flush_on_close", err)
	}
	return nil
}

func methodOf(n *protocol.Notification) string {
	if n == nil {
		return ""
	}
	return n.Method
}
