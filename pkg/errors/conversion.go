package errors

import (
	"fmt"

	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// ToJSONRPCError converts any error to a JSON-RPC error object. Errors that
// are not MCPErrors become internal errors.
func ToJSONRPCError(err error) *protocol.Error {
	if err == nil {
		return nil
	}

	if mcpErr, ok := AsMCPError(err); ok {
		return &protocol.Error{
			Code:    protocol.ErrorCode(mcpErr.Code()),
			Message: mcpErr.Message(),
			Data:    mcpErr.Data(),
		}
	}

	return &protocol.Error{
		Code:    protocol.InternalError,
		Message: err.Error(),
	}
}

// ToJSONRPCResponse converts err into an error response for requestID
func ToJSONRPCResponse(err error, requestID interface{}) (*protocol.Response, error) {
	if err == nil {
		return nil, fmt.Errorf("cannot create error response from nil error")
	}
	return protocol.NewErrorResponse(requestID, ToJSONRPCError(err)), nil
}

// ParseError creates an error for an inbound message that is not valid JSON-RPC
func ParseError(cause error) MCPError {
	return WrapError(
		cause,
		CodeParseError,
		fmt.Sprintf("parse error: %s", reason(cause)),
		CategoryProtocol,
		SeverityError,
	)
}

// MethodNotFound creates an error for a request naming an unknown method
func MethodNotFound(method string) MCPError {
	return NewError(
		CodeMethodNotFound,
		fmt.Sprintf("method '%s' not found", method),
		CategoryProtocol,
		SeverityWarning,
	)
}

// InvalidParams creates an error for request params that cannot be decoded
func InvalidParams(method string, cause error) MCPError {
	return WrapError(
		cause,
		CodeInvalidParams,
		fmt.Sprintf("invalid params for %s: %s", method, reason(cause)),
		CategoryValidation,
		SeverityError,
	)
}
