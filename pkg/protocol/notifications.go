package protocol

import "strings"

const (
	// Server to client notifications
	MethodLogMessage = "notifications/message"
	MethodProgress   = "notifications/progress"
	MethodCancelled  = "notifications/cancelled"

	// Client to server requests
	MethodSetLevel = "logging/setLevel"
	MethodPing     = "ping"
)

// DefaultLoggerName is used for log notifications that do not name a logger.
const DefaultLoggerName = "server"

// DefaultCancelReason is sent when a cancellation carries no explicit reason.
const DefaultCancelReason = "cancelled"

// LoggingLevel is the severity of a log notification, ordered from
// LoggingLevelDebug (lowest) to LoggingLevelEmergency (highest).
type LoggingLevel string

const (
	LoggingLevelDebug     LoggingLevel = "debug"
	LoggingLevelInfo      LoggingLevel = "info"
	LoggingLevelNotice    LoggingLevel = "notice"
	LoggingLevelWarning   LoggingLevel = "warning"
	LoggingLevelError     LoggingLevel = "error"
	LoggingLevelCritical  LoggingLevel = "critical"
	LoggingLevelAlert     LoggingLevel = "alert"
	LoggingLevelEmergency LoggingLevel = "emergency"
)

var loggingLevelOrder = map[LoggingLevel]int{
	LoggingLevelDebug:     0,
	LoggingLevelInfo:      1,
	LoggingLevelNotice:    2,
	LoggingLevelWarning:   3,
	LoggingLevelError:     4,
	LoggingLevelCritical:  5,
	LoggingLevelAlert:     6,
	LoggingLevelEmergency: 7,
}

// LoggingLevels returns every level in ascending severity.
func LoggingLevels() []LoggingLevel {
	return []LoggingLevel{
		LoggingLevelDebug,
		LoggingLevelInfo,
		LoggingLevelNotice,
		LoggingLevelWarning,
		LoggingLevelError,
		LoggingLevelCritical,
		LoggingLevelAlert,
		LoggingLevelEmergency,
	}
}

// Valid reports whether l is one of the eight known levels.
func (l LoggingLevel) Valid() bool {
	_, ok := loggingLevelOrder[l]
	return ok
}

// Ordinal returns the position of l in the severity order, or -1 if l is
// not a known level.
func (l LoggingLevel) Ordinal() int {
	if o, ok := loggingLevelOrder[l]; ok {
		return o
	}
	return -1
}

// ParseLoggingLevel parses a level name case-insensitively.
func ParseLoggingLevel(s string) (LoggingLevel, bool) {
	l := LoggingLevel(strings.ToLower(strings.TrimSpace(s)))
	return l, l.Valid()
}

// LoggingMessageParams defines parameters for the notifications/message notification
type LoggingMessageParams struct {
	Level  LoggingLevel `json:"level"`
	Logger string       `json:"logger"`
	Data   interface{}  `json:"data"`
}

// ProgressNotificationParams defines parameters for the notifications/progress notification
type ProgressNotificationParams struct {
	ProgressToken string  `json:"progressToken"`
	Progress      float64 `json:"progress"`
}

// CancelledNotificationParams defines parameters for the outbound notifications/cancelled notification
type CancelledNotificationParams struct {
	ProgressToken string `json:"progressToken"`
	Reason        string `json:"reason"`
}

// CancelRequestParams is sent by a client asking the server to stop an
// in-flight operation.
type CancelRequestParams struct {
	RequestID     interface{} `json:"requestId,omitempty"`
	ProgressToken interface{} `json:"progressToken,omitempty"`
	Reason        string      `json:"reason,omitempty"`
}

// SetLevelParams defines parameters for the logging/setLevel request
type SetLevelParams struct {
	Level LoggingLevel `json:"level"`
}
