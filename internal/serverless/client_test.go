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

package serverless

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	gwerrors "github.com/rivet-gg/actor-engine/pkg/errors"
)

func TestHTTPSSEClient_Connect_ParsesEventsUntilStreamCloses(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: server_init\ndata: {\"runner_id\":\"00000000000000000000000000000001\"}\n\n")
		fmt.Fprint(w, "event: ping\ndata: ok\n\n")
	}))
	defer srv.Close()

	c := NewHTTPSSEClient()
	stream, err := c.Connect(context.Background(), ConnectRequest{
		URL:           srv.URL,
		AdminToken:    "tok",
		TotalSlots:    4,
		RunnerName:    "default",
		NamespaceName: "ns",
	})
	require.NoError(t, err)
	defer stream.Close()

	require.Equal(t, "Bearer tok", gotHeaders.Get("Authorization"))
	require.Equal(t, "4", gotHeaders.Get("X-Rivet-Total-Slots"))
	require.Equal(t, "default", gotHeaders.Get("X-Rivet-Runner-Name"))
	require.Equal(t, "ns", gotHeaders.Get("X-Rivet-Namespace-Name"))
	require.Equal(t, "text/event-stream", gotHeaders.Get("Accept"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "server_init", ev.Name)

	ev, err = stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", ev.Name)
	require.Equal(t, "ok", string(ev.Data))

	_, err = stream.Next(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestHTTPSSEClient_Connect_NonTwoXXReturnsTypedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "upstream overloaded")
	}))
	defer srv.Close()

	c := NewHTTPSSEClient()
	_, err := c.Connect(context.Background(), ConnectRequest{URL: srv.URL})
	require.Error(t, err)

	var poolErr *gwerrors.RunnerPoolError
	require.ErrorAs(t, err, &poolErr)
	require.Equal(t, gwerrors.ServerlessHttpError, poolErr.Code)
	require.Equal(t, http.StatusServiceUnavailable, poolErr.StatusCode)
	require.Equal(t, "upstream overloaded", poolErr.Body)
}

func TestHTTPSSEClient_Connect_TransportFailureReturnsConnectionError(t *testing.T) {
	c := NewHTTPSSEClient()
	_, err := c.Connect(context.Background(), ConnectRequest{URL: "http://127.0.0.1:1"})
	require.Error(t, err)

	var poolErr *gwerrors.RunnerPoolError
	require.ErrorAs(t, err, &poolErr)
	require.Equal(t, gwerrors.ServerlessConnectionError, poolErr.Code)
}

func TestSSEStream_NextReturnsQueuedEventAfterContextCancellation(t *testing.T) {
	// The pump goroutine keeps reading independently of any one Next call's
	// context, so a canceled Next followed by a fresh one still observes the
	// event the pump already parsed rather than losing it.
	pr, pw := io.Pipe()
	stream := newSSEStream(pr)
	defer stream.Close()

	// The pump goroutine is blocked reading pr with nothing written yet, so
	// this canceled call is guaranteed to observe ctx.Done() rather than a
	// race against an event that hasn't been produced.
	canceledCtx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := stream.Next(canceledCtx)
	require.ErrorIs(t, err, context.Canceled)

	go func() {
		fmt.Fprint(pw, "event: ping\ndata: one\n\n")
		pw.Close()
	}()

	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	ev, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", ev.Name)
	require.Equal(t, "one", string(ev.Data))
}
