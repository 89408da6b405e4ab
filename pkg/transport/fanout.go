package transport

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-notify-go/pkg/registry"
)

// fanout publishes through several broadcast-only handles as one
type fanout struct {
	handles []registry.Conn
}

// Fanout combines handles into one broadcast-only handle. A send succeeds
// when at least one handle accepted the notification; otherwise the
// handles' errors are joined. With a single handle it is returned as is,
// and with none Fanout returns nil.
func Fanout(handles ...registry.Conn) registry.Conn {
	live := make([]registry.Conn, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			live = append(live, h)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	default:
		return &fanout{handles: live}
	}
}

func (f *fanout) Send(ctx context.Context, n *protocol.Notification) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
		ok   bool
	)
	for _, h := range f.handles {
		h := h
		g.Go(func() error {
			err := h.Send(ctx, n)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				ok = true
			}
			return nil
		})
	}
	_ = g.Wait()

	if ok {
		return nil
	}
	return errors.Join(errs...)
}

// Close closes every closable handle
func (f *fanout) Close() error {
	var errs []error
	for _, h := range f.handles {
		if c, ok := h.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
