// Copyright 2026 The Actor Engine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid actor name/key/input, malformed data, or constraint
// violations surfaced synchronously to the API caller.
type ValidationError struct {
	// Field identifies which input field failed validation.
	Field string

	// Message is the human-readable error description.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType identifies this as a validation error.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable is always false; the caller must change its input.
func (e *ValidationError) IsRetryable() bool { return false }

// NotFoundError represents a resource not found error (actor, runner,
// workflow, namespace).
type NotFoundError struct {
	// Resource is the type of resource (e.g., "actor", "runner", "workflow").
	Resource string

	// ID is the identifier that was not found.
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType identifies this as a not-found error.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// IsRetryable is always false.
func (e *NotFoundError) IsRetryable() bool { return false }

// ConfigError represents configuration problems (namespace runner config,
// daemon startup config).
type ConfigError struct {
	Key    string
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error { return e.Cause }

// TimeoutError represents operation timeouts: activity timeouts, tunnel ack
// timeouts, route resolution timeouts.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	Cause     error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error { return e.Cause }

// ErrorType identifies this as a timeout error.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable is true: the workflow runtime treats timeouts as recoverable.
func (e *TimeoutError) IsRetryable() bool { return true }

// WorkflowErrorClass classifies a workflow-layer error per spec.md §7.
type WorkflowErrorClass int

const (
	// ClassRecoverable errors are written to history with a backoff deadline
	// and retried on the next wake.
	ClassRecoverable WorkflowErrorClass = iota
	// ClassRetryable errors (transactional conflicts) are retried immediately,
	// without sleeping or recording history.
	ClassRetryable
	// ClassFatal errors stop the workflow; the error string is recorded and
	// surfaced through the owning entity (e.g. the actor record).
	ClassFatal
)

func (c WorkflowErrorClass) String() string {
	switch c {
	case ClassRecoverable:
		return "recoverable"
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// WorkflowError wraps an error produced inside a workflow run with its
// recovery class, so the runtime's step loop can decide whether to sleep,
// retry immediately, or halt.
type WorkflowError struct {
	Class   WorkflowErrorClass
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *WorkflowError) Unwrap() error { return e.Cause }

// ErrorType identifies this error by workflow error class.
func (e *WorkflowError) ErrorType() string { return "workflow_" + e.Class.String() }

// IsRetryable is true for retryable and recoverable classes.
func (e *WorkflowError) IsRetryable() bool {
	return e.Class == ClassRetryable || e.Class == ClassRecoverable
}

// ErrHistoryDiverged is a fatal WorkflowError: a primitive found a history
// event of a different type or lower version than expected at its location.
func ErrHistoryDiverged(location string) *WorkflowError {
	return &WorkflowError{
		Class:   ClassFatal,
		Message: fmt.Sprintf("history diverged at location %s", location),
	}
}

// ErrActivityMaxFailuresReached is a fatal WorkflowError: an activity
// exhausted its retry budget.
func ErrActivityMaxFailuresReached(activity string, attempts int) *WorkflowError {
	return &WorkflowError{
		Class:   ClassFatal,
		Message: fmt.Sprintf("activity %s reached max failures after %d attempts", activity, attempts),
	}
}

// ErrWorkflowEvicted is a recoverable WorkflowError: the worker wants to stop
// driving this workflow run; it will be resumed elsewhere.
var ErrWorkflowEvicted = &WorkflowError{Class: ClassRecoverable, Message: "workflow evicted"}

// TunnelError is the typed gateway/tunnel error family from spec.md §7,
// group "guard".
type TunnelError struct {
	Code    string
	Message string
	Detail  map[string]any
}

// Error implements the error interface.
func (e *TunnelError) Error() string {
	return fmt.Sprintf("guard.%s: %s", e.Code, e.Message)
}

// ErrorType identifies the tunnel error's machine-readable code.
func (e *TunnelError) ErrorType() string { return e.Code }

// IsRetryable reports whether the gateway's outer retry loop should attempt
// this request again.
func (e *TunnelError) IsRetryable() bool {
	switch e.Code {
	case "ConnectionError", "ServiceUnavailable", "WebSocketServiceUnavailable", "WebSocketServiceRetry":
		return true
	default:
		return false
	}
}

// Well-known tunnel error codes, matching spec.md §7 exactly.
const (
	TunnelInvalidRequestBody         = "InvalidRequestBody"
	TunnelInvalidResponseBody        = "InvalidResponseBody"
	TunnelRateLimit                  = "RateLimit"
	TunnelUpstreamError              = "UpstreamError"
	TunnelRequestTimeout             = "RequestTimeout"
	TunnelNoRouteTargets             = "NoRouteTargets"
	TunnelRetryAttemptsExceeded      = "RetryAttemptsExceeded"
	TunnelConnectionError            = "ConnectionError"
	TunnelServiceUnavailable         = "ServiceUnavailable"
	TunnelWebSocketServiceUnavailable = "WebSocketServiceUnavailable"
	TunnelWebSocketServiceHibernate   = "WebSocketServiceHibernate"
	TunnelWebSocketServiceTimeout     = "WebSocketServiceTimeout"
	TunnelWebSocketServiceRetry       = "WebSocketServiceRetry"
	TunnelWebSocketTargetChanged      = "WebSocketTargetChanged"
)

// Well-known runner-pool error codes, matching spec.md §4.7 exactly.
const (
	ServerlessHttpError         = "ServerlessHttpError"
	ServerlessStreamEndedEarly  = "ServerlessStreamEndedEarly"
	ServerlessInvalidSsePayload = "ServerlessInvalidSsePayload"
	ServerlessConnectionError   = "ServerlessConnectionError"
)

// RunnerPoolError is the typed serverless-pool error family from spec.md
// §4.7, attached to a namespace's runner config and surfaced by the gateway
// for fail-fast behavior.
type RunnerPoolError struct {
	Code       string
	StatusCode int
	Body       string
	Message    string
	RawPayload string
	Ts         int64
}

// Error implements the error interface.
func (e *RunnerPoolError) Error() string {
	switch e.Code {
	case ServerlessHttpError:
		return fmt.Sprintf("serverless http error: status=%d body=%s", e.StatusCode, e.Body)
	case ServerlessStreamEndedEarly:
		return "serverless stream ended early"
	case ServerlessInvalidSsePayload:
		return fmt.Sprintf("invalid sse payload: %s (%s)", e.Message, e.RawPayload)
	case ServerlessConnectionError:
		return fmt.Sprintf("serverless connection error: %s", e.Message)
	default:
		return fmt.Sprintf("runner pool error: %s", e.Message)
	}
}

// ErrorType identifies the runner pool error's machine-readable code.
func (e *RunnerPoolError) ErrorType() string { return e.Code }

// bodyCap is the maximum number of characters of a serverless HTTP error
// body retained, per spec.md §4.7.
const bodyCap = 512

// NewServerlessHTTPError builds a RunnerPoolError from a non-2xx response,
// truncating the body to bodyCap characters.
func NewServerlessHTTPError(statusCode int, body string, ts int64) *RunnerPoolError {
	if len(body) > bodyCap {
		body = body[:bodyCap]
	}
	return &RunnerPoolError{Code: ServerlessHttpError, StatusCode: statusCode, Body: body, Ts: ts}
}
