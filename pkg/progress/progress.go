// Package progress tracks cooperative cancellation of long-running
// operations and reports their progress to clients.
//
// Operations are identified by a progress token. Cancellation only sets a
// flag; RunWithProgress observes it at step boundaries, so a step that has
// started always runs to completion.
package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
	"github.com/ajitpratap0/mcp-notify-go/pkg/hub"
	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// Notifier is the part of the hub the engine delivers through
type Notifier interface {
	Broadcast(ctx context.Context, n *protocol.Notification, opts ...hub.BroadcastOption) bool
}

// CancellationRecorder counts cancellations by outcome
type CancellationRecorder interface {
	RecordCancellation(ctx context.Context, outcome string)
}

// Cancellation outcomes passed to the recorder
const (
	OutcomeRequested = "requested"
	OutcomeObserved  = "observed"
)

// Step is one unit of work in a RunWithProgress sequence
type Step func(ctx context.Context) error

// Run describes a stepwise operation
type Run struct {
	// Token correlates progress and cancellation events. An empty token
	// runs the steps without emitting progress and can never be cancelled.
	Token string
	Steps []Step
	// OnCancel runs before the cancelled notification is emitted
	OnCancel func()
}

// Result reports how a run ended
type Result struct {
	Cancelled bool
	// Completed is the number of steps that ran to completion
	Completed int
}

// Engine holds the cancellation registry
type Engine struct {
	notifier Notifier
	logger   logging.Logger
	recorder CancellationRecorder

	mu        sync.RWMutex
	cancelled map[string]bool
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRecorder counts cancellations
func WithRecorder(r CancellationRecorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// New creates an engine delivering through notifier
func New(notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		notifier:  notifier,
		logger:    logging.GetGlobalLogger(),
		cancelled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithFields(logging.String("component", "Progress"))
	return e
}

// NewToken returns a fresh random progress token
func NewToken() string {
	return uuid.NewString()
}

// RequestCancellation flags token as cancelled. It is a no-op for an empty
// token and idempotent otherwise.
func (e *Engine) RequestCancellation(token string) {
	if token == "" {
		return
	}

	e.mu.Lock()
	already := e.cancelled[token]
	e.cancelled[token] = true
	e.mu.Unlock()

	if !already {
		e.logger.Debug("cancellation requested", logging.Token(token))
		if e.recorder != nil {
			e.recorder.RecordCancellation(context.Background(), OutcomeRequested)
		}
	}
}

// IsCancelled reports whether token was flagged. Unknown tokens are not
// cancelled.
func (e *Engine) IsCancelled(token string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cancelled[token]
}

// Forget drops token from the registry. Call it once an operation has
// finished and its token will not be reused.
func (e *Engine) Forget(token string) {
	e.mu.Lock()
	delete(e.cancelled, token)
	e.mu.Unlock()
}

// EmitProgress broadcasts a progress notification. It returns false
// without sending for an empty token.
func (e *Engine) EmitProgress(ctx context.Context, token string, progress float64) bool {
	if token == "" {
		return false
	}
	n, err := hub.BuildNotification(protocol.MethodProgress, protocol.ProgressNotificationParams{
		ProgressToken: token,
		Progress:      progress,
	})
	if err != nil {
		e.logger.WithError(err).Warn("failed to build progress notification", logging.Token(token))
		return false
	}
	return e.notifier.Broadcast(ctx, n)
}

// EmitCancelled broadcasts a cancelled notification. An empty reason
// becomes "cancelled".
func (e *Engine) EmitCancelled(ctx context.Context, token, reason string) bool {
	if reason == "" {
		reason = protocol.DefaultCancelReason
	}
	n, err := hub.BuildNotification(protocol.MethodCancelled, protocol.CancelledNotificationParams{
		ProgressToken: token,
		Reason:        reason,
	})
	if err != nil {
		e.logger.WithError(err).Warn("failed to build cancelled notification", logging.Token(token))
		return false
	}
	return e.notifier.Broadcast(ctx, n)
}

// RunWithProgress executes run.Steps in order. Before each step it checks
// for cancellation; when cancelled it calls OnCancel, emits one cancelled
// notification and stops. After step i it emits progress (i+1)/N.
//
// A step error stops the run and is returned wrapped; no cancelled
// notification is emitted. A done ctx at a step boundary stops the run the
// same way. A nil step is rejected before anything runs.
func (e *Engine) RunWithProgress(ctx context.Context, run Run) (Result, error) {
	for i, step := range run.Steps {
		if step == nil {
			return Result{}, mcperrors.InvalidParameter(fmt.Sprintf("steps[%d]", i), nil, "a non-nil step")
		}
	}

	total := len(run.Steps)
	logger := e.logger.WithFields(logging.Token(run.Token), logging.Int("steps", total))

	for i, step := range run.Steps {
		if e.IsCancelled(run.Token) {
			logger.Info("operation cancelled", logging.Int("completed", i))
			if run.OnCancel != nil {
				run.OnCancel()
			}
			e.EmitCancelled(ctx, run.Token, protocol.DefaultCancelReason)
			if e.recorder != nil {
				e.recorder.RecordCancellation(ctx, OutcomeObserved)
			}
			return Result{Cancelled: true, Completed: i}, nil
		}

		if err := ctx.Err(); err != nil {
			return Result{Completed: i}, mcperrors.OperationFailed(run.Token, i, err)
		}

		if err := step(ctx); err != nil {
			logger.WithError(err).Warn("step failed", logging.Int("step", i))
			return Result{Completed: i}, mcperrors.OperationFailed(run.Token, i, err)
		}

		e.EmitProgress(ctx, run.Token, float64(i+1)/float64(total))
	}

	return Result{Completed: total}, nil
}

var _ Notifier = (*hub.Hub)(nil)
