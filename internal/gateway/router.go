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
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rivet-gg/actor-engine/internal/id"
	gwerrors "github.com/rivet-gg/actor-engine/pkg/errors"
	"github.com/rivet-gg/actor-engine/pkg/observability"
)

// RayIDHeader is returned on every response (success or error) so ops can
// correlate a client-reported issue with server logs, per spec.md §4.6.
const RayIDHeader = "X-Rivet-Ray-Id"

// Gateway is the top-level http.Handler implementing spec.md §4.6's request
// pipeline: assign ids, resolve a route, enforce CORS/rate-limit/in-flight
// caps, and proxy over Tunnel/WSTunnel.
type Gateway struct {
	Resolver    Resolver
	RateLimiter *RateLimiter
	InFlight    *InFlightTracker
	Tunnel      *Tunnel
	WSTunnel    *WSTunnel
	Tracer      observability.Tracer
	Logger      *slog.Logger
	Upgrader    websocket.Upgrader
}

// NewGateway wires the default collaborators around resolver and bus-backed
// tunnels. Logger/Tracer may be replaced on the returned value.
func NewGateway(resolver Resolver, tunnel *Tunnel, wsTunnel *WSTunnel) *Gateway {
	return &Gateway{
		Resolver:    resolver,
		RateLimiter: NewRateLimiter(DefaultRateLimitParams),
		InFlight:    NewInFlightTracker(DefaultInFlightLimit),
		Tunnel:      tunnel,
		WSTunnel:    wsTunnel,
		Logger:      slog.Default(),
	}
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if handlePreflight(w, r) {
		return
	}

	rayID := id.New(0).String()
	w.Header().Set(RayIDHeader, rayID)
	applyCORSHeaders(w, r)

	clientIP := clientIPOf(r)

	if !g.RateLimiter.Allow(clientIP) {
		recordRequestError(gwerrors.TunnelRateLimit)
		g.writeError(w, rayID, http.StatusTooManyRequests, &gwerrors.TunnelError{
			Code: gwerrors.TunnelRateLimit, Message: "rate limit exceeded",
			Detail: map[string]any{"method": r.Method, "path": r.URL.Path, "ip": clientIP},
		})
		return
	}

	reqID, ok, err := g.InFlight.Reserve(clientIP)
	if err != nil {
		recordRequestError("reserve_failed")
		g.writeError(w, rayID, http.StatusServiceUnavailable, &gwerrors.TunnelError{Code: gwerrors.TunnelServiceUnavailable, Message: err.Error()})
		return
	}
	if !ok {
		recordRequestError("in_flight_cap")
		g.writeError(w, rayID, http.StatusTooManyRequests, &gwerrors.TunnelError{Code: gwerrors.TunnelRateLimit, Message: "in-flight request cap exceeded"})
		return
	}
	defer g.InFlight.Release(clientIP, reqID)

	ctx, span := g.startSpan(r, rayID)
	defer span.End()

	route, err := g.resolveRoute(r, false)
	if err != nil {
		recordRequestError(gwerrors.TunnelNoRouteTargets)
		g.writeError(w, rayID, http.StatusServiceUnavailable, &gwerrors.TunnelError{Code: gwerrors.TunnelNoRouteTargets, Message: err.Error()})
		return
	}

	start := time.Now()
	recordRequestStart()

	if isWebSocketUpgrade(r) {
		g.serveWebSocket(ctx, w, r, route, rayID, start)
		return
	}
	g.serveHTTP(ctx, w, r, route, rayID, start)
}

func (g *Gateway) serveHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request, route Route, rayID string, start time.Time) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		recordRequestError(gwerrors.TunnelInvalidRequestBody)
		g.writeError(w, rayID, http.StatusBadRequest, &gwerrors.TunnelError{Code: gwerrors.TunnelInvalidRequestBody, Message: err.Error()})
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	attempt := 0
	for {
		attempt++
		resp, err := g.Tunnel.HTTPRequest(ctx, route.RunnerID, route.ActorID, r.Method, route.Path, headers, body)
		if err == nil {
			for k, v := range resp.Headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(resp.StatusCode)
			_, _ = w.Write(resp.Body)
			recordRequestEnd(resp.StatusCode, time.Since(start).Seconds())
			return
		}

		if attempt >= route.Retry.MaxAttempts || !isRetryable(err) {
			recordRequestError(errorCode(err))
			g.writeError(w, rayID, http.StatusServiceUnavailable, err)
			recordRequestEnd(http.StatusServiceUnavailable, time.Since(start).Seconds())
			return
		}

		time.Sleep(backoff(route.Retry.InitialInterval, attempt))
		if reRoute, reErr := g.resolveRoute(r, true); reErr == nil {
			route = reRoute
		}
	}
}

func (g *Gateway) serveWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request, route Route, rayID string, start time.Time) {
	client, err := g.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		recordRequestError(gwerrors.TunnelWebSocketServiceUnavailable)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	outcome := g.WSTunnel.Serve(ctx, client, route.RunnerID, route.ActorID, route.Path, headers)
	recordRequestEnd(http.StatusSwitchingProtocols, time.Since(start).Seconds())

	code := outcome.code
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	reason := outcome.reason
	if outcome.err != nil {
		reason = rayID + ": " + outcome.err.Error()
	}
	_ = client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
	time.Sleep(WebSocketCloseLinger)
	_ = client.Close()
}

func (g *Gateway) resolveRoute(r *http.Request, bypassCache bool) (Route, error) {
	headers := make(map[string][]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = v
	}
	route, err := g.Resolver.Resolve(ResolveRequest{
		Host: r.Host, Path: r.URL.Path, Method: r.Method, Headers: headers, BypassCache: bypassCache,
	})
	if err != nil {
		return Route{}, err
	}
	if route.Retry.MaxAttempts == 0 {
		route.Retry = DefaultRetryPolicy
	}
	return route, nil
}

func (g *Gateway) startSpan(r *http.Request, rayID string) (context.Context, observability.SpanHandle) {
	ctx := r.Context()
	if g.Tracer == nil {
		return ctx, noopSpan{}
	}
	spanCtx, h := g.Tracer.Start(ctx, "gateway.request")
	h.SetAttributes(map[string]any{"ray_id": rayID, "path": r.URL.Path, "method": r.Method})
	return spanCtx, h
}

func (g *Gateway) writeError(w http.ResponseWriter, rayID string, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(RayIDHeader, rayID)
	w.WriteHeader(statusCode)
	body := map[string]any{
		"group":   "guard",
		"code":    errorCode(err),
		"message": err.Error(),
	}
	b, _ := json.Marshal(body)
	_, _ = w.Write(b)
	if g.Logger != nil {
		g.Logger.Warn("gateway request failed", "ray_id", rayID, "code", errorCode(err), "error", err)
	}
}

func errorCode(err error) string {
	var te *gwerrors.TunnelError
	if errors.As(err, &te) {
		return te.Code
	}
	return "UpstreamError"
}

func isRetryable(err error) bool {
	var te *gwerrors.TunnelError
	if errors.As(err, &te) {
		return te.IsRetryable()
	}
	return false
}

func backoff(initial time.Duration, attempt int) time.Duration {
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func clientIPOf(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type noopSpan struct{}

func (noopSpan) End(...observability.SpanEndOption)          {}
func (noopSpan) SetStatus(observability.StatusCode, string)  {}
func (noopSpan) SetAttributes(map[string]any)                {}
func (noopSpan) AddEvent(string, map[string]any)              {}
func (noopSpan) SpanContext() observability.TraceContext     { return observability.TraceContext{} }
func (noopSpan) RecordError(error)                            {}
