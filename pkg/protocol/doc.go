// Package protocol defines the JSON-RPC 2.0 messages exchanged between an
// MCP server and its clients for out-of-band notifications.
//
// # Notifications
//
// Three server-to-client notifications are defined:
//
//   - notifications/message: a log record carrying {level, logger, data}
//   - notifications/progress: {progressToken, progress} for a long-running operation
//   - notifications/cancelled: {progressToken, reason} when an operation stops early
//
// Every notification is built with NewNotification, which marshals the params
// once so that a fan-out to many recipients sends identical bytes.
//
// # Logging Levels
//
// LoggingLevel enumerates the eight syslog-style severities in ascending order:
// debug, info, notice, warning, error, critical, alert, emergency. Ordinal gives
// the position used for threshold comparisons.
//
// # Inbound Messages
//
// Clients may send logging/setLevel requests, ping requests and
// notifications/cancelled notifications. DecodeEnvelope classifies raw
// messages before they are dispatched.
package protocol
