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

package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlePreflight_AnswersOptionsWithoutCallingTunnel(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/actors/x/y", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Headers", "X-Custom")
	w := httptest.NewRecorder()

	handled := handlePreflight(w, req)

	require.True(t, handled)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Custom", w.Header().Get("Access-Control-Allow-Headers"))
	require.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
}

func TestHandlePreflight_IgnoresNonOptionsRequests(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/actors/x/y", nil)
	w := httptest.NewRecorder()

	require.False(t, handlePreflight(w, req))
	require.Equal(t, 0, w.Header().Len())
}

func TestApplyCORSHeaders_SetsVaryWhenOriginIsSpecific(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/actors/x/y", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()

	applyCORSHeaders(w, req)

	require.Equal(t, "Origin", w.Header().Get("Vary"))
}
