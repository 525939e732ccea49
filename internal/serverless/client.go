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
	"bufio"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rivet-gg/actor-engine/internal/id"
	gwerrors "github.com/rivet-gg/actor-engine/pkg/errors"
)

// ServerInit is the ToServerlessServerInit payload: the first event every
// outbound connection must receive (spec.md §4.7 step 1).
type ServerInit struct {
	RunnerID              id.ID  `json:"runner_id"`
	RunnerProtocolVersion uint16 `json:"runner_protocol_version"`
}

// Event is one parsed server-sent event.
type Event struct {
	Name string
	Data []byte
}

// Stream reads successive events off one outbound connection. Next blocks
// until the next event, ctx's deadline, or disconnection (io.EOF).
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// ConnectRequest carries the headers spec.md §4.7 requires on every
// outbound SSE request.
type ConnectRequest struct {
	URL           string
	Headers       map[string]string
	AdminToken    string
	TotalSlots    int
	RunnerName    string
	NamespaceName string
}

// SSEClient opens an outbound SSE connection to a serverless endpoint.
type SSEClient interface {
	Connect(ctx context.Context, req ConnectRequest) (Stream, error)
}

// HTTPSSEClient is the real SSEClient: a stdlib net/http POST to
// "{url}/start" left open and read as a chunked SSE body. The teacher
// carries no SSE client of its own (enriched from scratch, per
// SPEC_FULL.md, following internal/runner's activity/workflow shape
// rather than any particular teacher file).
type HTTPSSEClient struct {
	HTTPClient *http.Client
}

// NewHTTPSSEClient returns a client using http.DefaultTransport with no
// response timeout (the outbound connection is meant to stay open for the
// full request lifespan).
func NewHTTPSSEClient() *HTTPSSEClient {
	return &HTTPSSEClient{HTTPClient: &http.Client{}}
}

// Connect implements SSEClient.
func (c *HTTPSSEClient) Connect(ctx context.Context, req ConnectRequest) (Stream, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(req.URL, "/")+"/start", nil)
	if err != nil {
		return nil, &gwerrors.RunnerPoolError{Code: gwerrors.ServerlessConnectionError, Message: err.Error()}
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Rivet-Endpoint", req.URL)
	httpReq.Header.Set("X-Rivet-Total-Slots", strconv.Itoa(req.TotalSlots))
	httpReq.Header.Set("X-Rivet-Runner-Name", req.RunnerName)
	httpReq.Header.Set("X-Rivet-Namespace-Name", req.NamespaceName)
	if req.AdminToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AdminToken)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &gwerrors.RunnerPoolError{Code: gwerrors.ServerlessConnectionError, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, gwerrors.NewServerlessHTTPError(resp.StatusCode, string(body), time.Now().UnixMilli())
	}
	return newSSEStream(resp.Body), nil
}

// sseStream parses the "event: <name>\ndata: <payload>\n\n" framing a
// text/event-stream body uses, one blank-line-terminated block at a time.
// A single background goroutine owns the underlying *bufio.Scanner so
// Next can be canceled by ctx without leaving a second goroutine racing
// the same reader on the next call.
type sseStream struct {
	body   io.ReadCloser
	events chan Event
	errc   chan error
}

func newSSEStream(body io.ReadCloser) *sseStream {
	s := &sseStream{body: body, events: make(chan Event, 1), errc: make(chan error, 1)}
	go s.pump()
	return s
}

func (s *sseStream) pump() {
	scanner := bufio.NewScanner(s.body)
	for {
		ev, err := readOneEvent(scanner)
		if err != nil {
			s.errc <- err
			return
		}
		s.events <- ev
	}
}

func (s *sseStream) Next(ctx context.Context) (Event, error) {
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev := <-s.events:
		return ev, nil
	case err := <-s.errc:
		return Event{}, err
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

func readOneEvent(scanner *bufio.Scanner) (Event, error) {
	var ev Event
	var data strings.Builder
	sawAny := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if sawAny {
				ev.Data = []byte(data.String())
				return ev, nil
			}
			continue
		}
		sawAny = true
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return Event{}, err
	}
	if sawAny {
		ev.Data = []byte(data.String())
		return ev, nil
	}
	return Event{}, io.EOF
}
