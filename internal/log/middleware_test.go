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
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogFrame(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})

	LogFrame(logger, &FrameEvent{
		Direction:       "to_runner",
		FrameType:       "ToClientCommands",
		RunnerID:        "runner-1",
		ProtocolVersion: 2,
		Metadata:        map[string]any{"index": 5},
	})

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "to_runner", decoded["direction"])
	require.Equal(t, "ToClientCommands", decoded["frame_type"])
	require.Equal(t, float64(5), decoded["index"])
}

func TestLogActivity(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	LogActivity(logger, &ActivityOutcome{
		Name:       "AllocateActor",
		WorkflowID: "wf-1",
		Location:   "0",
		Success:    true,
		DurationMs: 12,
	})
	var ok map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &ok))
	require.Equal(t, true, ok["success"])

	buf.Reset()
	LogActivity(logger, &ActivityOutcome{
		Name:       "AllocateActor",
		WorkflowID: "wf-1",
		Success:    false,
		Err:        errors.New("conflict"),
	})
	var failed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &failed))
	require.Equal(t, false, failed["success"])
	require.Equal(t, "conflict", failed["error"])
}

func TestTimedHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	h := NewTimedHandler(logger, "tunnel_request")

	err := h.Run(func() error { return nil })
	require.NoError(t, err)

	err = h.Run(func() error { return errors.New("fail") })
	require.Error(t, err)
}
