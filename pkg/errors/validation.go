package errors

import (
	"fmt"
	"strings"
)

// ValidationErrorData contains structured data for validation errors
type ValidationErrorData struct {
	Parameter   string      `json:"parameter,omitempty"`
	Value       interface{} `json:"value,omitempty"`
	Expected    string      `json:"expected,omitempty"`
	ValidValues []string    `json:"valid_values,omitempty"`
}

// InvalidParameter creates an error for a parameter with an invalid value
func InvalidParameter(param string, value interface{}, expected string) MCPError {
	return NewError(
		CodeInvalidParameter,
		fmt.Sprintf("invalid value for parameter '%s': expected %s", param, expected),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{
		Parameter: param,
		Value:     value,
		Expected:  expected,
	})
}

// MissingParameter creates an error for a required parameter that is absent
func MissingParameter(param string) MCPError {
	return NewError(
		CodeMissingParameter,
		fmt.Sprintf("required parameter '%s' is missing", param),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{Parameter: param})
}

// InvalidLevel creates an error for a logging level outside the known set
func InvalidLevel(level string, valid []string) MCPError {
	return NewError(
		CodeInvalidParams,
		fmt.Sprintf("invalid logging level '%s', must be one of: %s", level, strings.Join(valid, ", ")),
		CategoryValidation,
		SeverityError,
	).WithData(&ValidationErrorData{
		Parameter:   "level",
		Value:       level,
		ValidValues: valid,
	})
}

// OperationCancelled creates an error for an operation stopped by a cancellation request
func OperationCancelled(operation string) MCPError {
	return NewError(
		CodeOperationCancelled,
		fmt.Sprintf("operation '%s' was cancelled", operation),
		CategoryCancelled,
		SeverityInfo,
	)
}

// OperationFailed wraps the error returned by a step of a long-running operation
func OperationFailed(operation string, step int, cause error) MCPError {
	return WrapError(
		cause,
		CodeOperationFailed,
		fmt.Sprintf("operation '%s' failed at step %d: %s", operation, step, reason(cause)),
		CategoryInternal,
		SeverityError,
	)
}
