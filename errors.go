package mcp

import (
	"errors"
	"fmt"
	"time"
)

// ToolNotFoundError is returned when a call names a tool that is not registered.
type ToolNotFoundError struct {
	Name string
}

func (e ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ResourceNotFoundError is returned when a read names a resource URI that is
// not registered and matches no registered resource template.
type ResourceNotFoundError struct {
	URI string
}

func (e ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s", e.URI)
}

// PromptNotFoundError is returned when a get names a prompt that is not registered.
type PromptNotFoundError struct {
	Name string
}

func (e PromptNotFoundError) Error() string {
	return fmt.Sprintf("prompt not found: %s", e.Name)
}

// MethodNotFoundError is returned when a request carries a method the
// dispatcher does not route.
type MethodNotFoundError struct {
	Method string
}

func (e MethodNotFoundError) Error() string {
	return fmt.Sprintf("method not found: %s", e.Method)
}

// InvalidParamsError is returned when request params fail structural
// validation, before any handler is invoked.
type InvalidParamsError struct {
	// Cause describes the validation failure when field granularity is unavailable.
	Cause string
	// MissingFields lists required fields absent from the params.
	MissingFields []string
	// InvalidFields maps field names to a description of why they were rejected.
	InvalidFields map[string]string
}

func (e InvalidParamsError) Error() string {
	if e.Cause != "" {
		return fmt.Sprintf("invalid params: %s", e.Cause)
	}
	return fmt.Sprintf("invalid params: missing %v, invalid %v", e.MissingFields, e.InvalidFields)
}

// CancelledError is returned when a request is terminated by a cancel
// notification before its handler completed.
type CancelledError struct {
	RequestID MustString
}

func (e CancelledError) Error() string {
	return fmt.Sprintf("request %s cancelled", string(e.RequestID))
}

// TimeoutError is returned when a handler fails to complete within its
// configured deadline. The racing computation is abandoned, not preempted.
type TimeoutError struct {
	Timeout   time.Duration
	Operation string
}

func (e TimeoutError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
	}
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

// ConcurrencyLimitError is returned when admission control rejects a call
// because the global or per-tool concurrency limit is already saturated.
type ConcurrencyLimitError struct {
	Tool    string
	Current int
	Limit   int
}

func (e ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit reached for %s: %d of %d slots in use", e.Tool, e.Current, e.Limit)
}

// PermissionDeniedError is returned when a call is rejected for policy
// reasons, such as a path escaping the configured sandbox.
type PermissionDeniedError struct {
	Reason string
}

func (e PermissionDeniedError) Error() string {
	if e.Reason == "" {
		return "permission denied"
	}
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

// IsKnownError reports whether err belongs to the closed error taxonomy, as
// opposed to an arbitrary failure bubbling out of handler code. Unknown errors
// still map to a wire error, but are logged at a higher severity.
func IsKnownError(err error) bool {
	switch {
	case errors.As(err, &ToolNotFoundError{}),
		errors.As(err, &ResourceNotFoundError{}),
		errors.As(err, &PromptNotFoundError{}),
		errors.As(err, &MethodNotFoundError{}),
		errors.As(err, &InvalidParamsError{}),
		errors.As(err, &CancelledError{}),
		errors.As(err, &TimeoutError{}),
		errors.As(err, &ConcurrencyLimitError{}),
		errors.As(err, &PermissionDeniedError{}):
		return true
	default:
		return false
	}
}

// toWireError converts any error raised during dispatch into a JSON-RPC error
// object. Known taxonomy kinds map to stable codes with structured data;
// anything unrecognized becomes an internal error carrying only the
// stringified cause, never a stack trace. The request ID, when known, is
// always merged into the data payload.
func toWireError(err error, requestID MustString) *JSONRPCError {
	var wireErr *JSONRPCError

	var (
		toolNotFound     ToolNotFoundError
		resourceNotFound ResourceNotFoundError
		promptNotFound   PromptNotFoundError
		methodNotFound   MethodNotFoundError
		invalidParams    InvalidParamsError
		cancelled        CancelledError
		timeout          TimeoutError
		concurrency      ConcurrencyLimitError
		permission       PermissionDeniedError
	)

	switch {
	case errors.As(err, &toolNotFound):
		wireErr = &JSONRPCError{
			Code:    jsonRPCNotFoundCode,
			Message: toolNotFound.Error(),
			Data:    map[string]any{"tool": toolNotFound.Name},
		}
	case errors.As(err, &resourceNotFound):
		wireErr = &JSONRPCError{
			Code:    jsonRPCNotFoundCode,
			Message: resourceNotFound.Error(),
			Data:    map[string]any{"uri": resourceNotFound.URI},
		}
	case errors.As(err, &promptNotFound):
		wireErr = &JSONRPCError{
			Code:    jsonRPCNotFoundCode,
			Message: promptNotFound.Error(),
			Data:    map[string]any{"prompt": promptNotFound.Name},
		}
	case errors.As(err, &methodNotFound):
		wireErr = &JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: methodNotFound.Error(),
			Data:    map[string]any{"method": methodNotFound.Method},
		}
	case errors.As(err, &invalidParams):
		data := map[string]any{}
		if len(invalidParams.MissingFields) > 0 {
			data["missingFields"] = invalidParams.MissingFields
		}
		if len(invalidParams.InvalidFields) > 0 {
			data["invalidFields"] = invalidParams.InvalidFields
		}
		if invalidParams.Cause != "" {
			data["cause"] = invalidParams.Cause
		}
		wireErr = &JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: invalidParams.Error(),
			Data:    data,
		}
	case errors.As(err, &cancelled):
		wireErr = &JSONRPCError{
			Code:    jsonRPCRequestCancelledCode,
			Message: cancelled.Error(),
			Data:    map[string]any{"requestId": string(cancelled.RequestID)},
		}
	case errors.As(err, &timeout):
		data := map[string]any{"timeoutSeconds": timeout.Timeout.Seconds()}
		if timeout.Operation != "" {
			data["operation"] = timeout.Operation
		}
		wireErr = &JSONRPCError{
			Code:    jsonRPCTimeoutCode,
			Message: timeout.Error(),
			Data:    data,
		}
	case errors.As(err, &concurrency):
		wireErr = &JSONRPCError{
			Code:    jsonRPCPermissionDeniedCode,
			Message: concurrency.Error(),
			Data: map[string]any{
				"tool":    concurrency.Tool,
				"current": concurrency.Current,
				"limit":   concurrency.Limit,
			},
		}
	case errors.As(err, &permission):
		data := map[string]any{}
		if permission.Reason != "" {
			data["reason"] = permission.Reason
		}
		wireErr = &JSONRPCError{
			Code:    jsonRPCPermissionDeniedCode,
			Message: permission.Error(),
			Data:    data,
		}
	default:
		wireErr = &JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: "internal error",
			Data:    map[string]any{"cause": err.Error()},
		}
	}

	if requestID != "" {
		if wireErr.Data == nil {
			wireErr.Data = map[string]any{}
		}
		wireErr.Data["requestId"] = string(requestID)
	}

	return wireErr
}
