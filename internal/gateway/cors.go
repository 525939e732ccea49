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

import "net/http"

// corsMaxAge matches spec.md §4.6's Max-Age: 86400.
const corsMaxAge = "86400"

// applyCORSHeaders echoes the request's Origin and requested headers back,
// per spec.md §4.6. The actor token header isn't available on an OPTIONS
// preflight, so the gateway answers preflight itself rather than letting
// the tunnel see it.
func applyCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS,PATCH")
	if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
		h.Set("Access-Control-Allow-Headers", requested)
	}
	h.Set("Access-Control-Expose-Headers", "*")
	h.Set("Access-Control-Max-Age", corsMaxAge)
	if origin != "*" {
		h.Add("Vary", "Origin")
	}
}

// handlePreflight answers an OPTIONS request at the gateway itself,
// returning true if it did (the caller must not continue processing).
func handlePreflight(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodOptions {
		return false
	}
	applyCORSHeaders(w, r)
	w.WriteHeader(http.StatusNoContent)
	return true
}
