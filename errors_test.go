package mcp

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestToWireErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "toolNotFound", err: ToolNotFoundError{Name: "missing"}, wantCode: jsonRPCNotFoundCode},
		{name: "resourceNotFound", err: ResourceNotFoundError{URI: "fly://nope"}, wantCode: jsonRPCNotFoundCode},
		{name: "promptNotFound", err: PromptNotFoundError{Name: "missing"}, wantCode: jsonRPCNotFoundCode},
		{name: "methodNotFound", err: MethodNotFoundError{Method: "nope/nope"}, wantCode: jsonRPCMethodNotFoundCode},
		{name: "invalidParams", err: InvalidParamsError{MissingFields: []string{"name"}}, wantCode: jsonRPCInvalidParamsCode},
		{name: "cancelled", err: CancelledError{RequestID: "3"}, wantCode: jsonRPCRequestCancelledCode},
		{name: "timeout", err: TimeoutError{Timeout: time.Second, Operation: "tools/call:slow"}, wantCode: jsonRPCTimeoutCode},
		{name: "concurrencyLimit", err: ConcurrencyLimitError{Tool: "echo", Current: 1, Limit: 1}, wantCode: jsonRPCPermissionDeniedCode},
		{name: "permissionDenied", err: PermissionDeniedError{Reason: "outside sandbox"}, wantCode: jsonRPCPermissionDeniedCode},
		{name: "unknown", err: errors.New("something odd"), wantCode: jsonRPCInternalErrorCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wireErr := toWireError(tt.err, "req-1")
			if wireErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", wireErr.Code, tt.wantCode)
			}
			if wireErr.Message == "" {
				t.Error("wire error carries no message")
			}
			if got := wireErr.Data["requestId"]; got != "req-1" {
				t.Errorf("data.requestId = %v, want %q", got, "req-1")
			}
		})
	}
}

func TestToWireErrorWrappedTaxonomy(t *testing.T) {
	wrapped := fmt.Errorf("while dispatching: %w", TimeoutError{Timeout: time.Second})

	wireErr := toWireError(wrapped, "5")
	if wireErr.Code != jsonRPCTimeoutCode {
		t.Errorf("wrapped timeout mapped to code %d, want %d", wireErr.Code, jsonRPCTimeoutCode)
	}
}

func TestToWireErrorConcurrencyData(t *testing.T) {
	wireErr := toWireError(ConcurrencyLimitError{Tool: "create_project", Current: 8, Limit: 8}, "9")

	if got := wireErr.Data["tool"]; got != "create_project" {
		t.Errorf("data.tool = %v, want %q", got, "create_project")
	}
	if got := wireErr.Data["current"]; got != 8 {
		t.Errorf("data.current = %v, want 8", got)
	}
	if got := wireErr.Data["limit"]; got != 8 {
		t.Errorf("data.limit = %v, want 8", got)
	}
}

func TestToWireErrorTimeoutData(t *testing.T) {
	wireErr := toWireError(TimeoutError{Timeout: 1500 * time.Millisecond, Operation: "tools/call:slow"}, "")

	if got := wireErr.Data["timeoutSeconds"]; got != 1.5 {
		t.Errorf("data.timeoutSeconds = %v, want 1.5", got)
	}
	if got := wireErr.Data["operation"]; got != "tools/call:slow" {
		t.Errorf("data.operation = %v, want %q", got, "tools/call:slow")
	}
	if _, ok := wireErr.Data["requestId"]; ok {
		t.Error("requestId present in data despite empty request ID")
	}
}

func TestToWireErrorInvalidParamsFields(t *testing.T) {
	wireErr := toWireError(InvalidParamsError{
		MissingFields: []string{"name", "organization"},
		InvalidFields: map[string]string{"platforms": "unknown platform: windows95"},
	}, "2")

	missing, ok := wireErr.Data["missingFields"].([]string)
	if !ok || len(missing) != 2 {
		t.Errorf("data.missingFields = %v, want two entries", wireErr.Data["missingFields"])
	}
	invalid, ok := wireErr.Data["invalidFields"].(map[string]string)
	if !ok || invalid["platforms"] == "" {
		t.Errorf("data.invalidFields = %v, want platforms entry", wireErr.Data["invalidFields"])
	}
}

func TestToWireErrorHidesInternals(t *testing.T) {
	wireErr := toWireError(errors.New("pq: connection refused at 10.0.0.1:5432"), "1")

	if wireErr.Message != "internal error" {
		t.Errorf("message = %q, want the generic internal error message", wireErr.Message)
	}
	// The cause is carried in data so operators can correlate with logs, but
	// the message itself stays generic.
	if got := wireErr.Data["cause"]; got == nil {
		t.Error("data.cause missing for internal error")
	}
}

func TestIsKnownError(t *testing.T) {
	known := []error{
		ToolNotFoundError{Name: "x"},
		ResourceNotFoundError{URI: "x"},
		PromptNotFoundError{Name: "x"},
		MethodNotFoundError{Method: "x"},
		InvalidParamsError{Cause: "x"},
		CancelledError{RequestID: "1"},
		TimeoutError{Timeout: time.Second},
		ConcurrencyLimitError{Tool: "x"},
		PermissionDeniedError{},
		fmt.Errorf("wrapped: %w", CancelledError{RequestID: "2"}),
	}
	for _, err := range known {
		if !IsKnownError(err) {
			t.Errorf("IsKnownError(%T) = false, want true", err)
		}
	}

	if IsKnownError(errors.New("arbitrary")) {
		t.Error("IsKnownError(arbitrary error) = true, want false")
	}
}
