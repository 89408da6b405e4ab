package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/hub"
	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-notify-go/pkg/registry"
)

// journal records notifications and callbacks in the order they happen
type journal struct {
	mu      sync.Mutex
	entries []string
	sent    []*protocol.Notification
}

func (j *journal) Broadcast(_ context.Context, n *protocol.Notification, _ ...hub.BroadcastOption) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sent = append(j.sent, n)
	j.entries = append(j.entries, n.Method)
	return true
}

func (j *journal) note(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, s)
}

func (j *journal) progressValues(t *testing.T) []float64 {
	t.Helper()
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []float64
	for _, n := range j.sent {
		if n.Method != protocol.MethodProgress {
			continue
		}
		var p protocol.ProgressNotificationParams
		require.NoError(t, json.Unmarshal(n.Params, &p))
		out = append(out, p.Progress)
	}
	return out
}

func (j *journal) count(method string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	c := 0
	for _, n := range j.sent {
		if n.Method == method {
			c++
		}
	}
	return c
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (r *countingRecorder) RecordCancellation(_ context.Context, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func noop(context.Context) error { return nil }

func newEngine(j *journal, opts ...Option) *Engine {
	return New(j, append([]Option{WithLogger(logging.Nop())}, opts...)...)
}

func TestCancellationRegistry(t *testing.T) {
	e := newEngine(&journal{})

	assert.False(t, e.IsCancelled("never-seen"))

	e.RequestCancellation("tok")
	e.RequestCancellation("tok")
	assert.True(t, e.IsCancelled("tok"))

	e.RequestCancellation("")
	assert.False(t, e.IsCancelled(""))

	e.Forget("tok")
	assert.False(t, e.IsCancelled("tok"))

	t.Run("concurrent access", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			token := fmt.Sprintf("t-%d", i%5)
			go func() {
				defer wg.Done()
				e.RequestCancellation(token)
			}()
			go func() {
				defer wg.Done()
				_ = e.IsCancelled(token)
			}()
		}
		wg.Wait()
		for i := 0; i < 5; i++ {
			assert.True(t, e.IsCancelled(fmt.Sprintf("t-%d", i)))
		}
	})
}

func TestEmit(t *testing.T) {
	ctx := context.Background()

	t.Run("progress needs a token", func(t *testing.T) {
		j := &journal{}
		e := newEngine(j)
		assert.False(t, e.EmitProgress(ctx, "", 0.5))
		assert.True(t, e.EmitProgress(ctx, "tok", 0.5))
		assert.Equal(t, []float64{0.5}, j.progressValues(t))
	})

	t.Run("cancelled default reason", func(t *testing.T) {
		j := &journal{}
		e := newEngine(j)
		require.True(t, e.EmitCancelled(ctx, "tok", ""))

		var p protocol.CancelledNotificationParams
		require.NoError(t, json.Unmarshal(j.sent[0].Params, &p))
		assert.Equal(t, "tok", p.ProgressToken)
		assert.Equal(t, protocol.DefaultCancelReason, p.Reason)
	})

	t.Run("no recipients", func(t *testing.T) {
		e := New(hub.New(registry.New(), hub.WithLogger(logging.Nop())), WithLogger(logging.Nop()))
		assert.False(t, e.EmitProgress(ctx, "tok", 1))
		assert.False(t, e.EmitCancelled(ctx, "tok", "user"))
	})
}

func TestRunWithProgress(t *testing.T) {
	ctx := context.Background()

	t.Run("three steps", func(t *testing.T) {
		j := &journal{}
		e := newEngine(j)

		res, err := e.RunWithProgress(ctx, Run{Token: "tok", Steps: []Step{noop, noop, noop}})
		require.NoError(t, err)
		assert.False(t, res.Cancelled)
		assert.Equal(t, 3, res.Completed)
		assert.Equal(t, []float64{1.0 / 3, 2.0 / 3, 1}, j.progressValues(t))
		assert.Zero(t, j.count(protocol.MethodCancelled))
	})

	t.Run("no steps", func(t *testing.T) {
		j := &journal{}
		res, err := newEngine(j).RunWithProgress(ctx, Run{Token: "tok"})
		require.NoError(t, err)
		assert.Equal(t, Result{}, res)
		assert.Empty(t, j.sent)
	})

	t.Run("cancel before second step", func(t *testing.T) {
		j := &journal{}
		rec := &countingRecorder{}
		e := newEngine(j, WithRecorder(rec))

		onCancel := 0
		steps := []Step{
			func(context.Context) error {
				e.RequestCancellation("tok")
				return nil
			},
			func(context.Context) error {
				t.Error("second step must not run")
				return nil
			},
			noop,
		}

		res, err := e.RunWithProgress(ctx, Run{
			Token: "tok",
			Steps: steps,
			OnCancel: func() {
				onCancel++
				j.note("onCancel")
			},
		})
		require.NoError(t, err)
		assert.True(t, res.Cancelled)
		assert.Equal(t, 1, res.Completed)
		assert.Equal(t, 1, onCancel)
		assert.Equal(t, 1, j.count(protocol.MethodCancelled))
		assert.Equal(t, []string{protocol.MethodProgress, "onCancel", protocol.MethodCancelled}, j.entries)
		assert.Equal(t, map[string]int{OutcomeRequested: 1, OutcomeObserved: 1}, rec.outcomes)
	})

	t.Run("cancelled before start", func(t *testing.T) {
		j := &journal{}
		e := newEngine(j)
		e.RequestCancellation("tok")

		res, err := e.RunWithProgress(ctx, Run{Token: "tok", Steps: []Step{noop}})
		require.NoError(t, err)
		assert.Equal(t, Result{Cancelled: true}, res)
		assert.Equal(t, []string{protocol.MethodCancelled}, j.entries)
	})

	t.Run("step error aborts without cancel event", func(t *testing.T) {
		j := &journal{}
		e := newEngine(j)
		boom := errors.New("disk full")

		res, err := e.RunWithProgress(ctx, Run{
			Token: "tok",
			Steps: []Step{noop, func(context.Context) error { return boom }, noop},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.True(t, mcperrors.IsCode(err, mcperrors.CodeOperationFailed))
		assert.False(t, res.Cancelled)
		assert.Equal(t, 1, res.Completed)
		assert.Equal(t, []float64{1.0 / 3}, j.progressValues(t))
		assert.Zero(t, j.count(protocol.MethodCancelled))
	})

	t.Run("done context aborts at step boundary", func(t *testing.T) {
		j := &journal{}
		e := newEngine(j)
		cctx, cancel := context.WithCancel(ctx)

		res, err := e.RunWithProgress(cctx, Run{
			Token: "tok",
			Steps: []Step{
				func(context.Context) error {
					cancel()
					return nil
				},
				noop,
			},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, res.Completed)
		assert.Zero(t, j.count(protocol.MethodCancelled))
	})

	t.Run("nil step rejected before running", func(t *testing.T) {
		j := &journal{}
		ran := 0
		step := func(context.Context) error { ran++; return nil }

		res, err := newEngine(j).RunWithProgress(ctx, Run{Token: "tok", Steps: []Step{step, nil, step}})
		require.Error(t, err)
		assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParameter))
		assert.Contains(t, err.Error(), "steps[1]")
		assert.Equal(t, Result{}, res)
		assert.Zero(t, ran)
		assert.Empty(t, j.sent)
	})

	t.Run("empty token still runs", func(t *testing.T) {
		j := &journal{}
		ran := 0
		step := func(context.Context) error { ran++; return nil }

		res, err := newEngine(j).RunWithProgress(ctx, Run{Steps: []Step{step, step}})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Completed)
		assert.Equal(t, 2, ran)
		assert.Empty(t, j.sent)
	})
}

func TestNewToken(t *testing.T) {
	a, b := NewToken(), NewToken()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
