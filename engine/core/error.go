package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Error Codes
// -----------------------------------------------------------------------------

// ErrorCode is the closed set of failure kinds crossing component boundaries.
type ErrorCode string

const (
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrHTTP           ErrorCode = "HTTP_ERROR"
	ErrNetwork        ErrorCode = "NETWORK_ERROR"
	ErrAuthentication ErrorCode = "AUTHENTICATION_ERROR"
	ErrRateLimit      ErrorCode = "RATE_LIMIT_ERROR"
	ErrValidation     ErrorCode = "VALIDATION_ERROR"
	ErrConfiguration  ErrorCode = "CONFIGURATION_ERROR"
	ErrCircuitOpen    ErrorCode = "CIRCUIT_OPEN"
	ErrTemplate       ErrorCode = "TEMPLATE_RESOLUTION"
	ErrCircularDep    ErrorCode = "CIRCULAR_DEPENDENCY"
	ErrWorkflowCycle  ErrorCode = "WORKFLOW_CYCLE"
	ErrDepthExceeded  ErrorCode = "DEPTH_EXCEEDED"
	ErrCanceled       ErrorCode = "CANCELLED"
	ErrUnknown        ErrorCode = "UNKNOWN_ERROR"
)

// Retryable reports whether a failure of this kind may be retried.
// HTTP errors are retryable only for 408, 429 and 5xx statuses.
func (c ErrorCode) Retryable(httpStatus int) bool {
	switch c {
	case ErrTimeout, ErrNetwork, ErrRateLimit:
		return true
	case ErrHTTP:
		return httpStatus == 408 || httpStatus == 429 || httpStatus >= 500
	}
	return false
}

var defaultSuggestions = map[ErrorCode]string{
	ErrTimeout:        "increase the task timeout or check the upstream service latency",
	ErrHTTP:           "inspect the upstream response status and body",
	ErrNetwork:        "check connectivity and DNS resolution for the service host",
	ErrAuthentication: "verify the credentials or token supplied to the service",
	ErrRateLimit:      "reduce the request rate or configure a retry policy with backoff",
	ErrValidation:     "check the workflow input values against the declared parameters",
	ErrConfiguration:  "fix the workflow or task definition before re-running",
	ErrCircuitOpen:    "wait for the break duration to elapse or configure a fallback task",
	ErrTemplate:       "check the template path against the outputs available at that point",
	ErrCircularDep:    "break the dependency cycle between the listed tasks",
	ErrWorkflowCycle:  "remove the recursive workflow reference",
	ErrDepthExceeded:  "flatten the workflow nesting or raise the depth limit",
	ErrCanceled:       "the execution was cancelled by the caller",
}

// -----------------------------------------------------------------------------
// Error
// -----------------------------------------------------------------------------

// Error is the failure payload attached to task and workflow results.
type Error struct {
	Code          ErrorCode      `json:"code"`
	Message       string         `json:"message"`
	Suggestion    string         `json:"suggestion,omitempty"`
	RetryAttempts int            `json:"retry_attempts,omitempty"`
	HTTPStatus    int            `json:"http_status,omitempty"`
	ServiceHost   string         `json:"service_host,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at,omitzero"`
	DurationMs    int64          `json:"duration_ms,omitempty"`
	Details       map[string]any `json:"details,omitempty"`

	cause error
}

// NewError wraps err into an Error with the given code and details.
func NewError(err error, code ErrorCode, details map[string]any) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:       code,
		Message:    msg,
		Suggestion: defaultSuggestions[code],
		OccurredAt: time.Now(),
		Details:    details,
		cause:      err,
	}
}

// Errorf builds an Error with a formatted message and no cause.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(fmt.Errorf(format, args...), code, nil)
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether this specific failure may be retried.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Code.Retryable(e.HTTPStatus)
}

// WithSuggestion overrides the default suggestion for the error code.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithTiming records when the failure happened and how long the attempt ran.
func (e *Error) WithTiming(occurredAt time.Time, duration time.Duration) *Error {
	e.OccurredAt = occurredAt
	e.DurationMs = duration.Milliseconds()
	return e
}

// WithDetail adds one detail entry, allocating the map on first use.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// AsError unwraps err down to a *Error when one is present.
func AsError(err error) (*Error, bool) {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr, true
	}
	return nil, false
}

// FromError coerces any error into a *Error, defaulting to UNKNOWN_ERROR.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if coreErr, ok := AsError(err); ok {
		return coreErr
	}
	if errors.Is(err, context.Canceled) {
		return NewError(err, ErrCanceled, nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(err, ErrTimeout, nil)
	}
	return NewError(err, ErrUnknown, nil)
}

// IsRetryableError reports whether err carries a retryable failure kind.
func IsRetryableError(err error) bool {
	coreErr, ok := AsError(err)
	if !ok {
		return false
	}
	return coreErr.Retryable()
}
