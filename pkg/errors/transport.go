package errors

import (
	"fmt"
	"time"
)

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport string        `json:"transport"`
	Operation string        `json:"operation,omitempty"`
	Endpoint  string        `json:"endpoint,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Connected bool          `json:"connected"`
	Retryable bool          `json:"retryable"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

func reason(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// TransportError creates a generic transport error
func TransportError(transport, operation string, cause error) MCPError {
	message := fmt.Sprintf("%s transport error", transport)
	if operation != "" {
		message = fmt.Sprintf("%s transport error during %s", transport, operation)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(
		cause,
		CodeTransportError,
		message,
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: operation,
		Retryable: true,
		Reason:    reason(cause),
	})
}

// MessageSendError creates an error for a notification that could not be written
func MessageSendError(transport, method string, cause error) MCPError {
	message := fmt.Sprintf("failed to send %s via %s", method, transport)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(
		cause,
		CodeTransportError,
		message,
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: "send",
		Connected: true,
		Retryable: true,
		Reason:    reason(cause),
	})
}

// ConnectionFailed creates an error for connection failures
func ConnectionFailed(transport, endpoint string, cause error) MCPError {
	message := fmt.Sprintf("failed to connect via %s to %s", transport, endpoint)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}

	return WrapError(
		cause,
		CodeConnectionFailed,
		message,
		CategoryTransport,
		SeverityCritical,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: "connect",
		Endpoint:  endpoint,
		Retryable: true,
		Reason:    reason(cause),
	})
}

// ConnectionClosed creates an error for sends on a connection that has been closed
func ConnectionClosed(transport string) MCPError {
	return NewError(
		CodeConnectionClosed,
		fmt.Sprintf("%s connection is closed", transport),
		CategoryTransport,
		SeverityWarning,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: "send",
		Reason:    "closed",
	})
}

// ConnectionTimeout creates an error for sends that did not complete in time
func ConnectionTimeout(transport string, timeout time.Duration) MCPError {
	return NewError(
		CodeConnectionTimeout,
		fmt.Sprintf("%s send timed out after %v", transport, timeout),
		CategoryTimeout,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: "send",
		Connected: true,
		Retryable: true,
		Timeout:   timeout,
		Reason:    "timeout",
	})
}

// TransportNotInitialized creates an error for uninitialized transports
func TransportNotInitialized(transport string) MCPError {
	return NewError(
		CodeTransportError,
		fmt.Sprintf("%s transport is not initialized", transport),
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: "check_initialization",
		Reason:    "not initialized",
	})
}

// SessionNotFound creates an error for an addressed session that is not registered
func SessionNotFound(sessionID string) MCPError {
	return NewError(
		CodeSessionNotFound,
		fmt.Sprintf("session '%s' not found", sessionID),
		CategoryNotFound,
		SeverityWarning,
	).WithData(&TransportErrorData{
		Transport: "multi-session",
		SessionID: sessionID,
		Reason:    "unknown session",
	})
}
