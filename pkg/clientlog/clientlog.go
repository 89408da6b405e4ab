// Package clientlog sends log records to connected clients as
// notifications/message, honouring the verbosity each client asked for.
//
// Every session has a minimum level. Sessions that never set one use the
// adapter's default level, which also governs the single-session and
// broadcast-only transports since those cannot be addressed per client.
package clientlog

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/mcp-notify-go/pkg/hub"
	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// Notifier is the part of the hub the adapter delivers through
type Notifier interface {
	Broadcast(ctx context.Context, n *protocol.Notification, opts ...hub.BroadcastOption) bool
}

// Adapter filters and emits client log notifications
type Adapter struct {
	notifier Notifier
	logger   logging.Logger

	mu           sync.RWMutex
	defaultLevel protocol.LoggingLevel
	sessions     map[string]protocol.LoggingLevel
}

// Option configures an Adapter
type Option func(*Adapter)

// WithLogger sets the logger used for delivery diagnostics
func WithLogger(logger logging.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New creates an adapter. An invalid defaultLevel falls back to info.
func New(notifier Notifier, defaultLevel protocol.LoggingLevel, opts ...Option) *Adapter {
	if !defaultLevel.Valid() {
		defaultLevel = protocol.LoggingLevelInfo
	}
	a := &Adapter{
		notifier:     notifier,
		logger:       logging.GetGlobalLogger(),
		defaultLevel: defaultLevel,
		sessions:     make(map[string]protocol.LoggingLevel),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithFields(logging.String("component", "ClientLog"))
	return a
}

// ShouldSend reports whether a record at level passes the threshold minLevel.
// Unknown levels never pass.
func ShouldSend(level, minLevel protocol.LoggingLevel) bool {
	if !level.Valid() || !minLevel.Valid() {
		return false
	}
	return level.Ordinal() >= minLevel.Ordinal()
}

// SetDefaultLevel changes the default level. Invalid levels are ignored.
func (a *Adapter) SetDefaultLevel(level protocol.LoggingLevel) {
	if !level.Valid() {
		a.logger.Debug("ignoring invalid default level", logging.String("level", string(level)))
		return
	}
	a.mu.Lock()
	a.defaultLevel = level
	a.mu.Unlock()
}

// DefaultLevel returns the default level
func (a *Adapter) DefaultLevel() protocol.LoggingLevel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.defaultLevel
}

// SetSessionLevel sets the minimum level for one session. It returns false
// and changes nothing for an empty session id or an invalid level.
func (a *Adapter) SetSessionLevel(sessionID string, level protocol.LoggingLevel) bool {
	if sessionID == "" || !level.Valid() {
		return false
	}
	a.mu.Lock()
	a.sessions[sessionID] = level
	a.mu.Unlock()
	return true
}

// SessionLevel returns the minimum level for a session, or the default level
// when the session never set one.
func (a *Adapter) SessionLevel(sessionID string) protocol.LoggingLevel {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if level, ok := a.sessions[sessionID]; ok {
		return level
	}
	return a.defaultLevel
}

// ClearSession forgets a session's level. Call it when the session ends.
func (a *Adapter) ClearSession(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}

// EmitLog sends a notifications/message record. Multi-session clients are
// filtered by their own level; the single-session and broadcast-only
// transports by the default level. It returns true when at least one
// delivery succeeded. An empty loggerName becomes "server".
func (a *Adapter) EmitLog(ctx context.Context, level protocol.LoggingLevel, data interface{}, loggerName string) bool {
	if !level.Valid() {
		a.logger.Debug("dropping record with invalid level", logging.String("level", string(level)))
		return false
	}
	if loggerName == "" {
		loggerName = protocol.DefaultLoggerName
	}

	n, err := hub.BuildNotification(protocol.MethodLogMessage, protocol.LoggingMessageParams{
		Level:  level,
		Logger: loggerName,
		Data:   data,
	})
	if err != nil {
		a.logger.WithError(err).Warn("failed to build log notification")
		return false
	}

	defaultPasses := ShouldSend(level, a.DefaultLevel())

	opts := []hub.BroadcastOption{
		hub.WithSessionFilter(func(sessionID string) bool {
			return ShouldSend(level, a.SessionLevel(sessionID))
		}),
	}
	if !defaultPasses {
		opts = append(opts, hub.SkipSingleSession(), hub.SkipBroadcastOnly())
	}

	delivered := a.notifier.Broadcast(ctx, n, opts...)
	if !delivered {
		a.logger.Debug("log record reached no client",
			logging.String("level", string(level)),
			logging.String("logger", loggerName),
		)
	}
	return delivered
}

// LogAndNotify emits a record whose data is {message, timestamp} with extra
// merged on top. Keys in extra override message and timestamp.
func (a *Adapter) LogAndNotify(ctx context.Context, level protocol.LoggingLevel, message string, extra map[string]interface{}) bool {
	payload := make(map[string]interface{}, len(extra)+2)
	payload["message"] = message
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	for k, v := range extra {
		payload[k] = v
	}
	return a.EmitLog(ctx, level, payload, "")
}

// Sessions returns the ids with an explicit level
func (a *Adapter) Sessions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	return ids
}

var _ Notifier = (*hub.Hub)(nil)
