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

package log

import (
	"log/slog"
	"time"
)

// FrameEvent describes a single runner<->server wire protocol frame for
// logging purposes.
type FrameEvent struct {
	// Direction is "to_runner" or "to_server".
	Direction string

	// FrameType is the wire message's concrete type (e.g. "ToClientCommands").
	FrameType string

	// RunnerID identifies the runner the frame was sent to or received from.
	RunnerID string

	// ProtocolVersion is the negotiated wire protocol version.
	ProtocolVersion uint16

	// Metadata contains additional frame-specific fields (checkpoints,
	// indexes, actor ids).
	Metadata map[string]any
}

// LogFrame logs a single wire protocol frame at trace level. Production
// deployments run at info level, so this never fires unless a trace-level
// handler is configured.
func LogFrame(logger *slog.Logger, ev *FrameEvent) {
	attrs := []slog.Attr{
		slog.String(EventKey, "frame"),
		slog.String("direction", ev.Direction),
		slog.String("frame_type", ev.FrameType),
		slog.String(RunnerIDKey, ev.RunnerID),
		slog.Int("protocol_version", int(ev.ProtocolVersion)),
	}
	for k, v := range ev.Metadata {
		attrs = append(attrs, slog.Any(k, v))
	}
	Trace(logger, "wire frame", attrs...)
}

// ActivityOutcome describes the result of a single workflow activity
// invocation for logging purposes.
type ActivityOutcome struct {
	Name       string
	WorkflowID string
	Location   string
	Success    bool
	Err        error
	DurationMs int64
}

// LogActivity logs the outcome of a workflow activity run.
func LogActivity(logger *slog.Logger, o *ActivityOutcome) {
	attrs := []any{
		"event", "activity_complete",
		"activity", o.Name,
		WorkflowIDKey, o.WorkflowID,
		"location", o.Location,
		"success", o.Success,
		"duration_ms", o.DurationMs,
	}
	if o.Err != nil {
		attrs = append(attrs, "error", o.Err.Error())
		logger.Error("activity failed", attrs...)
		return
	}
	logger.Debug("activity completed", attrs...)
}

// TimedHandler wraps a function with start/duration logging, mirroring the
// request/response logging shape used throughout the gateway and workflow
// runtime.
type TimedHandler struct {
	logger *slog.Logger
	event  string
}

// NewTimedHandler creates a handler that logs a named event's duration.
func NewTimedHandler(logger *slog.Logger, event string) *TimedHandler {
	return &TimedHandler{logger: logger, event: event}
}

// Run executes fn, logging its duration and outcome.
func (h *TimedHandler) Run(fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start).Milliseconds()

	attrs := []any{
		EventKey, h.event,
		"duration_ms", duration,
		"success", err == nil,
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		h.logger.Error(h.event+" failed", attrs...)
		return err
	}
	h.logger.Debug(h.event+" completed", attrs...)
	return err
}
