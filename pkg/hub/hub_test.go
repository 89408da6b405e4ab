package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/observability"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-notify-go/pkg/registry"
	"github.com/ajitpratap0/mcp-notify-go/pkg/transport"
	"github.com/ajitpratap0/mcp-notify-go/pkg/utils"
)

type fakeConn struct {
	mu       sync.Mutex
	received []*protocol.Notification
	err      error
	panicMsg string
	block    bool
}

func (c *fakeConn) Send(ctx context.Context, n *protocol.Notification) error {
	if c.panicMsg != "" {
		panic(c.panicMsg)
	}
	if c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	c.received = append(c.received, n)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.received)
}

type observation struct {
	method, transport, status string
}

type fakeRecorder struct {
	mu  sync.Mutex
	obs []observation
}

func (r *fakeRecorder) RecordNotification(_ context.Context, method, transport, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{method, transport, status})
}

func (r *fakeRecorder) statuses() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]int{}
	for _, o := range r.obs {
		out[o.transport+"/"+o.status]++
	}
	return out
}

func newHub(t *testing.T, state registry.State, opts ...Option) *Hub {
	t.Helper()
	reg := registry.New()
	reg.SetTransportState(state)
	return New(reg, append([]Option{WithLogger(logging.Nop())}, opts...)...)
}

func message(t *testing.T) *protocol.Notification {
	t.Helper()
	n, err := BuildNotification(protocol.MethodLogMessage, protocol.LoggingMessageParams{
		Level:  protocol.LoggingLevelInfo,
		Logger: protocol.DefaultLoggerName,
		Data:   "hello",
	})
	require.NoError(t, err)
	return n
}

func multi(sessions map[string]registry.Conn) registry.MultiSession {
	return registry.MultiSession{Initialized: true, Sessions: sessions}
}

func TestBuildNotification(t *testing.T) {
	t.Run("envelope", func(t *testing.T) {
		n, err := BuildNotification(protocol.MethodCancelled, protocol.CancelledNotificationParams{
			ProgressToken: "tok",
			Reason:        "user",
		})
		require.NoError(t, err)
		assert.Equal(t, protocol.JSONRPCVersion, n.JSONRPC)
		assert.JSONEq(t, `{"progressToken":"tok","reason":"user"}`, string(n.Params))
	})

	t.Run("nil params become an empty object", func(t *testing.T) {
		n, err := BuildNotification("notifications/custom", nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(n.Params))
	})

	t.Run("empty method", func(t *testing.T) {
		_, err := BuildNotification("", map[string]string{})
		assert.Error(t, err)
	})

	t.Run("unmarshalable params", func(t *testing.T) {
		_, err := BuildNotification("notifications/custom", map[string]interface{}{"ch": make(chan int)})
		assert.Error(t, err)
	})
}

func TestSendToSession(t *testing.T) {
	ctx := context.Background()
	good := &fakeConn{}
	bad := &fakeConn{err: errors.New("broken pipe")}
	boom := &fakeConn{panicMsg: "handle exploded"}

	h := newHub(t, registry.State{
		MultiSession: multi(map[string]registry.Conn{"good": good, "bad": bad, "boom": boom}),
	})

	tests := []struct {
		name string
		kind registry.Kind
		sid  string
		want bool
	}{
		{"registered session", registry.KindMultiSession, "good", true},
		{"ghost session", registry.KindMultiSession, "ghost", false},
		{"empty session id", registry.KindMultiSession, "", false},
		{"failing send", registry.KindMultiSession, "bad", false},
		{"panicking send", registry.KindMultiSession, "boom", false},
		{"single-session is not addressable", registry.KindSingleSession, "good", false},
		{"broadcast-only is not addressable", registry.KindBroadcastOnly, "good", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.SendToAddressedSession(ctx, tt.kind, tt.sid, message(t)))
		})
	}

	assert.True(t, h.SendToSession(ctx, "good", message(t)))
	assert.False(t, h.SendToSession(ctx, "good", nil))
	assert.Equal(t, 2, good.count())

	t.Run("uninitialized transport", func(t *testing.T) {
		h := newHub(t, registry.State{
			MultiSession: registry.MultiSession{Sessions: map[string]registry.Conn{"good": good}},
		})
		assert.False(t, h.SendToSession(ctx, "good", message(t)))
	})
}

func TestSingleAndBroadcastOnly(t *testing.T) {
	ctx := context.Background()

	t.Run("not initialized", func(t *testing.T) {
		h := newHub(t, registry.State{})
		assert.False(t, h.SendViaSingleSessionTransport(ctx, message(t)))
		assert.False(t, h.SendViaBroadcastTransport(ctx, message(t)))
	})

	t.Run("initialized without handle", func(t *testing.T) {
		h := newHub(t, registry.State{
			SingleSession: registry.SingleSession{Initialized: true},
			BroadcastOnly: registry.BroadcastOnly{Initialized: true},
		})
		assert.False(t, h.SendViaSingleSessionTransport(ctx, message(t)))
		assert.False(t, h.SendViaBroadcastTransport(ctx, message(t)))
	})

	t.Run("delivered", func(t *testing.T) {
		single, bcast := &fakeConn{}, &fakeConn{}
		h := newHub(t, registry.State{
			SingleSession: registry.SingleSession{Initialized: true, Conn: single},
			BroadcastOnly: registry.BroadcastOnly{Initialized: true, Handle: bcast},
		})
		assert.True(t, h.SendViaSingleSessionTransport(ctx, message(t)))
		assert.True(t, h.SendViaBroadcastTransport(ctx, message(t)))
		assert.Equal(t, 1, single.count())
		assert.Equal(t, 1, bcast.count())
	})

	t.Run("send errors", func(t *testing.T) {
		h := newHub(t, registry.State{
			SingleSession: registry.SingleSession{Initialized: true, Conn: &fakeConn{err: errors.New("closed")}},
			BroadcastOnly: registry.BroadcastOnly{Initialized: true, Handle: &fakeConn{panicMsg: "nil client"}},
		})
		assert.False(t, h.SendViaSingleSessionTransport(ctx, message(t)))
		assert.False(t, h.SendViaBroadcastTransport(ctx, message(t)))
	})
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()

	t.Run("empty registry", func(t *testing.T) {
		h := newHub(t, registry.State{})
		assert.False(t, h.Broadcast(ctx, message(t)))
		assert.False(t, h.Broadcast(ctx, nil))
	})

	t.Run("every recipient once", func(t *testing.T) {
		detector := utils.NewGoroutineLeakDetector(t).Start()
		defer detector.Check()

		sessions := map[string]registry.Conn{}
		conns := make([]*fakeConn, 0, 20)
		for i := 0; i < 20; i++ {
			c := &fakeConn{}
			conns = append(conns, c)
			sessions[fmt.Sprintf("s-%d", i)] = c
		}
		single, bcast := &fakeConn{}, &fakeConn{}

		h := newHub(t, registry.State{
			MultiSession:  multi(sessions),
			SingleSession: registry.SingleSession{Initialized: true, Conn: single},
			BroadcastOnly: registry.BroadcastOnly{Initialized: true, Handle: bcast},
		})

		require.True(t, h.Broadcast(ctx, message(t)))
		for _, c := range conns {
			assert.Equal(t, 1, c.count())
		}
		assert.Equal(t, 1, single.count())
		assert.Equal(t, 1, bcast.count())
	})

	t.Run("partial failure still succeeds", func(t *testing.T) {
		h := newHub(t, registry.State{
			MultiSession: multi(map[string]registry.Conn{
				"bad":  &fakeConn{err: errors.New("gone")},
				"boom": &fakeConn{panicMsg: "bug"},
			}),
			BroadcastOnly: registry.BroadcastOnly{Initialized: true, Handle: &fakeConn{}},
		})
		assert.True(t, h.Broadcast(ctx, message(t)))
	})

	t.Run("total failure", func(t *testing.T) {
		h := newHub(t, registry.State{
			MultiSession:  multi(map[string]registry.Conn{"bad": &fakeConn{err: errors.New("gone")}}),
			SingleSession: registry.SingleSession{Initialized: true, Conn: &fakeConn{err: errors.New("eof")}},
		})
		assert.False(t, h.Broadcast(ctx, message(t)))
	})

	t.Run("force http does not change delivery", func(t *testing.T) {
		c := &fakeConn{}
		h := newHub(t, registry.State{MultiSession: multi(map[string]registry.Conn{"a": c})})
		assert.True(t, h.Broadcast(ctx, message(t), WithForceBroadcastHTTP()))
		assert.Equal(t, 1, c.count())
	})

	t.Run("filters and skips", func(t *testing.T) {
		a, b, single, bcast := &fakeConn{}, &fakeConn{}, &fakeConn{}, &fakeConn{}
		h := newHub(t, registry.State{
			MultiSession:  multi(map[string]registry.Conn{"a": a, "b": b}),
			SingleSession: registry.SingleSession{Initialized: true, Conn: single},
			BroadcastOnly: registry.BroadcastOnly{Initialized: true, Handle: bcast},
		})

		ok := h.Broadcast(ctx, message(t),
			WithSessionFilter(func(id string) bool { return id == "a" }),
			SkipSingleSession(),
			SkipBroadcastOnly(),
		)
		assert.True(t, ok)
		assert.Equal(t, 1, a.count())
		assert.Equal(t, 0, b.count())
		assert.Equal(t, 0, single.count())
		assert.Equal(t, 0, bcast.count())

		assert.False(t, h.Broadcast(ctx, message(t),
			WithSessionFilter(func(string) bool { return false }),
			SkipSingleSession(),
			SkipBroadcastOnly(),
		))
	})

	t.Run("slow recipient is bounded", func(t *testing.T) {
		fast := &fakeConn{}
		h := newHub(t, registry.State{
			MultiSession: multi(map[string]registry.Conn{"slow": &fakeConn{block: true}, "fast": fast}),
		}, WithSendTimeout(50*time.Millisecond))

		start := time.Now()
		assert.True(t, h.Broadcast(ctx, message(t)))
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, 1, fast.count())
	})

	t.Run("sends run concurrently", func(t *testing.T) {
		const n = 5
		var arrived atomic.Int32
		release := make(chan struct{})

		sessions := map[string]registry.Conn{}
		for i := 0; i < n; i++ {
			sessions[fmt.Sprintf("s-%d", i)] = barrierConn{arrived: &arrived, release: release}
		}
		h := newHub(t, registry.State{MultiSession: multi(sessions)}, WithSendTimeout(5*time.Second))

		go func() {
			deadline := time.After(5 * time.Second)
			for arrived.Load() < n {
				select {
				case <-deadline:
					return
				case <-time.After(time.Millisecond):
				}
			}
			close(release)
		}()

		assert.True(t, h.Broadcast(ctx, message(t)))
		assert.Equal(t, int32(n), arrived.Load())
	})
}

// barrierConn succeeds only once every sibling send is in flight
type barrierConn struct {
	arrived *atomic.Int32
	release chan struct{}
}

func (b barrierConn) Send(ctx context.Context, _ *protocol.Notification) error {
	b.arrived.Add(1)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stalledWriter is a streaming ResponseWriter whose peer stopped reading
type stalledWriter struct {
	header  http.Header
	release chan struct{}
}

func (w *stalledWriter) Header() http.Header { return w.header }
func (w *stalledWriter) WriteHeader(int)     {}
func (w *stalledWriter) Flush()              {}

func (w *stalledWriter) Write(p []byte) (int, error) {
	<-w.release
	return len(p), nil
}

func TestBroadcastStalledStream(t *testing.T) {
	ctx := context.Background()
	w := &stalledWriter{header: http.Header{}, release: make(chan struct{})}
	defer close(w.release)

	stalled, err := transport.NewSSEConn("stalled", w)
	require.NoError(t, err)
	fast := &fakeConn{}
	rec := &fakeRecorder{}

	h := newHub(t, registry.State{
		MultiSession: multi(map[string]registry.Conn{"stalled": stalled, "fast": fast}),
	}, WithSendTimeout(100*time.Millisecond), WithRecorder(rec))

	for i := 0; i < 3; i++ {
		start := time.Now()
		assert.True(t, h.Broadcast(ctx, message(t)))
		assert.Less(t, time.Since(start), 2*time.Second, "broadcast %d waited on the stalled stream", i)
	}
	assert.Equal(t, 3, fast.count())

	start := time.Now()
	assert.False(t, h.SendToSession(ctx, "stalled", message(t)))
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 4, rec.statuses()["multi-session/"+observability.StatusTimeout])
}

func TestBroadcastSnapshot(t *testing.T) {
	reg := registry.New()
	late := &fakeConn{}

	reg.AddSession("adder", connFunc(func(ctx context.Context, n *protocol.Notification) error {
		reg.AddSession("late", late)
		return nil
	}))
	h := New(reg, WithLogger(logging.Nop()))

	assert.True(t, h.Broadcast(context.Background(), message(t)))
	assert.Equal(t, 0, late.count(), "sessions added mid-broadcast are not included")
	assert.True(t, h.SendToSession(context.Background(), "late", message(t)))
}

type connFunc func(ctx context.Context, n *protocol.Notification) error

func (f connFunc) Send(ctx context.Context, n *protocol.Notification) error { return f(ctx, n) }

func TestHubMetrics(t *testing.T) {
	rec := &fakeRecorder{}
	h := newHub(t, registry.State{
		MultiSession:  multi(map[string]registry.Conn{"ok": &fakeConn{}, "bad": &fakeConn{err: errors.New("x")}}),
		BroadcastOnly: registry.BroadcastOnly{Initialized: true, Handle: &fakeConn{panicMsg: "p"}},
	}, WithRecorder(rec))

	h.Broadcast(context.Background(), message(t))
	h.SendToSession(context.Background(), "ghost", message(t))

	assert.Equal(t, map[string]int{
		"multi-session/" + observability.StatusSuccess: 1,
		"multi-session/" + observability.StatusError:   1,
		"multi-session/" + observability.StatusSkipped: 1,
		"broadcast-only/" + observability.StatusPanic:  1,
	}, rec.statuses())
}

func TestHubTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	h := newHub(t, registry.State{
		MultiSession: multi(map[string]registry.Conn{"a": &fakeConn{}}),
	}, WithTracer(tp.Tracer("test")))

	require.True(t, h.Broadcast(context.Background(), message(t), WithForceBroadcastHTTP()))

	var broadcast sdktrace.ReadOnlySpan
	names := map[string]bool{}
	for _, s := range recorder.Ended() {
		names[s.Name()] = true
		if s.Name() == "hub.broadcast" {
			broadcast = s
		}
	}
	require.NotNil(t, broadcast)
	assert.True(t, names["hub.broadcast.session"])

	attrs := map[string]interface{}{}
	for _, kv := range broadcast.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, protocol.MethodLogMessage, attrs[string(observability.AttrMethod)])
	assert.Equal(t, true, attrs[string(observability.AttrForceHTTP)])
	assert.Equal(t, int64(1), attrs[string(observability.AttrRecipients)])
	assert.Equal(t, true, attrs[string(observability.AttrDelivered)])
}
