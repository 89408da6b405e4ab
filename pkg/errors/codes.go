package errors

// JSON-RPC 2.0 standard error codes
const (
	CodeParseError     int = -32700
	CodeInvalidRequest int = -32600
	CodeMethodNotFound int = -32601
	CodeInvalidParams  int = -32602
	CodeInternalError  int = -32603
)

// Notification subsystem error codes
const (
	// Session errors (-32200 to -32299)
	CodeSessionNotFound int = -32200 // Addressed session is not registered

	// Operation errors (-32300 to -32399)
	CodeOperationCancelled int = -32300 // Operation was cancelled
	CodeOperationTimeout   int = -32301 // Operation timed out
	CodeOperationFailed    int = -32302 // A step of an operation failed

	// Transport errors (-32500 to -32599)
	CodeTransportError    int = -32500 // Generic transport error
	CodeConnectionFailed  int = -32501 // Failed to establish connection
	CodeConnectionClosed  int = -32502 // Connection already closed
	CodeConnectionTimeout int = -32503 // Connection timed out

	// Validation errors (-32750 to -32799)
	CodeValidationError  int = -32750 // Generic validation error
	CodeMissingParameter int = -32751 // Required parameter missing
	CodeInvalidParameter int = -32752 // Parameter has invalid value
)

// ErrorCodeInfo describes a registered error code
type ErrorCodeInfo struct {
	Code     int
	Name     string
	Category Category
	Severity Severity
}

var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", CategoryProtocol, SeverityWarning},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", CategoryValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", CategoryInternal, SeverityError},

	CodeSessionNotFound: {CodeSessionNotFound, "SessionNotFound", CategoryNotFound, SeverityWarning},

	CodeOperationCancelled: {CodeOperationCancelled, "OperationCancelled", CategoryCancelled, SeverityInfo},
	CodeOperationTimeout:   {CodeOperationTimeout, "OperationTimeout", CategoryTimeout, SeverityError},
	CodeOperationFailed:    {CodeOperationFailed, "OperationFailed", CategoryInternal, SeverityError},

	CodeTransportError:    {CodeTransportError, "TransportError", CategoryTransport, SeverityError},
	CodeConnectionFailed:  {CodeConnectionFailed, "ConnectionFailed", CategoryTransport, SeverityCritical},
	CodeConnectionClosed:  {CodeConnectionClosed, "ConnectionClosed", CategoryTransport, SeverityWarning},
	CodeConnectionTimeout: {CodeConnectionTimeout, "ConnectionTimeout", CategoryTransport, SeverityError},

	CodeValidationError:  {CodeValidationError, "ValidationError", CategoryValidation, SeverityError},
	CodeMissingParameter: {CodeMissingParameter, "MissingParameter", CategoryValidation, SeverityError},
	CodeInvalidParameter: {CodeInvalidParameter, "InvalidParameter", CategoryValidation, SeverityError},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the name of an error code
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// IsStandardJSONRPCCode checks if a code is reserved by JSON-RPC 2.0
func IsStandardJSONRPCCode(code int) bool {
	return code >= -32768 && code <= -32000
}
