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
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "info", cfg.Level)
	require.Equal(t, FormatJSON, cfg.Format)
	require.Equal(t, os.Stderr, cfg.Output)
	require.False(t, cfg.AddSource)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("ENGINE_DEBUG", "")
	t.Setenv("ENGINE_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_SOURCE", "1")

	cfg := FromEnv()
	require.Equal(t, "warn", cfg.Level)
	require.Equal(t, FormatText, cfg.Format)
	require.True(t, cfg.AddSource)
}

func TestFromEnv_DebugOverridesLevel(t *testing.T) {
	t.Setenv("ENGINE_DEBUG", "1")
	t.Setenv("LOG_LEVEL", "error")

	cfg := FromEnv()
	require.Equal(t, "debug", cfg.Level)
	require.True(t, cfg.AddSource)
}

func TestFromEnv_EngineLogLevelTakesPrecedence(t *testing.T) {
	t.Setenv("ENGINE_DEBUG", "")
	t.Setenv("ENGINE_LOG_LEVEL", "error")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := FromEnv()
	require.Equal(t, "error", cfg.Level)
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	logger.Info("hello", "key", "value")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "hello", decoded["msg"])
	require.Equal(t, "value", decoded["key"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"trace":   LevelTrace,
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in), in)
	}
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	base := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	WithRayID(base, "ray-1").Info("a")
	WithWorkflow(base, "wf-1", "pegboard_actor").Info("b")
	WithActor(base, "actor-1", 3).Info("c")
	WithRunner(base, "runner-1").Info("d")

	dec := json.NewDecoder(&buf)
	var lines []map[string]any
	for {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			break
		}
		lines = append(lines, m)
	}
	require.Len(t, lines, 4)
	require.Equal(t, "ray-1", lines[0][RayIDKey])
	require.Equal(t, "wf-1", lines[1][WorkflowIDKey])
	require.Equal(t, "actor-1", lines[2][ActorIDKey])
	require.Equal(t, float64(3), lines[2][GenerationKey])
	require.Equal(t, "runner-1", lines[3][RunnerIDKey])
}

func TestErrorAttr(t *testing.T) {
	attr := Error(errors.New("boom"))
	require.Equal(t, "error", attr.Key)
}

func TestNilConfig(t *testing.T) {
	logger := New(nil)
	require.NotNil(t, logger)
}
