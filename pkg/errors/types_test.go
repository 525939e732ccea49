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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "name", Message: "too long"}
	require.Equal(t, "validation failed on name: too long", err.Error())
	require.Equal(t, "validation", err.ErrorType())
	require.False(t, err.IsRetryable())

	err2 := &ValidationError{Message: "bad input"}
	require.Equal(t, "validation failed: bad input", err2.Error())
}

func TestNotFoundError_Error(t *testing.T) {
	err := &NotFoundError{Resource: "actor", ID: "abc123"}
	require.Equal(t, "actor not found: abc123", err.Error())
	require.Equal(t, "not_found", err.ErrorType())
}

func TestConfigError_Error(t *testing.T) {
	cause := errors.New("parse failure")
	err := &ConfigError{Key: "runner.name", Reason: "empty", Cause: cause}
	require.Equal(t, "config error at runner.name: empty", err.Error())
	require.Equal(t, cause, err.Unwrap())

	err2 := &ConfigError{Reason: "missing"}
	require.Equal(t, "config error: missing", err2.Error())
}

func TestTimeoutError_Error(t *testing.T) {
	err := &TimeoutError{Operation: "tunnel ack", Duration: 2 * time.Second}
	require.Equal(t, "tunnel ack timed out after 2s", err.Error())
	require.Equal(t, "timeout", err.ErrorType())
	require.True(t, err.IsRetryable())
}

func TestWorkflowErrorClass_String(t *testing.T) {
	require.Equal(t, "recoverable", ClassRecoverable.String())
	require.Equal(t, "retryable", ClassRetryable.String())
	require.Equal(t, "fatal", ClassFatal.String())
}

func TestWorkflowError_Classification(t *testing.T) {
	recoverable := &WorkflowError{Class: ClassRecoverable, Message: "backoff"}
	require.True(t, recoverable.IsRetryable())

	retryable := &WorkflowError{Class: ClassRetryable, Message: "conflict"}
	require.True(t, retryable.IsRetryable())

	fatal := &WorkflowError{Class: ClassFatal, Message: "stop"}
	require.False(t, fatal.IsRetryable())
	require.Equal(t, "workflow_fatal", fatal.ErrorType())
}

func TestErrHistoryDiverged(t *testing.T) {
	err := ErrHistoryDiverged("0.1.2")
	require.Equal(t, ClassFatal, err.Class)
	require.Contains(t, err.Error(), "0.1.2")
}

func TestErrActivityMaxFailuresReached(t *testing.T) {
	err := ErrActivityMaxFailuresReached("ValidateInput", 5)
	require.Equal(t, ClassFatal, err.Class)
	require.Contains(t, err.Error(), "ValidateInput")
	require.Contains(t, err.Error(), "5")
}

func TestTunnelError_Retryable(t *testing.T) {
	require.True(t, (&TunnelError{Code: TunnelConnectionError}).IsRetryable())
	require.True(t, (&TunnelError{Code: TunnelServiceUnavailable}).IsRetryable())
	require.False(t, (&TunnelError{Code: TunnelNoRouteTargets}).IsRetryable())

	err := &TunnelError{Code: TunnelRateLimit, Message: "too many requests"}
	require.Equal(t, "guard.RateLimit: too many requests", err.Error())
}

func TestNewServerlessHTTPError_TruncatesBody(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'a'
	}
	err := NewServerlessHTTPError(500, string(body), 1234)
	require.Equal(t, 500, err.StatusCode)
	require.Len(t, err.Body, bodyCap)
	require.Equal(t, "ServerlessHttpError", err.ErrorType())
}

func TestErrorsIs_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := &ConfigError{Key: "k", Reason: "r", Cause: cause}
	require.True(t, errors.Is(wrapped, cause))
}
