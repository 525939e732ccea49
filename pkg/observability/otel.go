// Copyright 2025 Tom Barlow
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

package observability

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OtelExporterKind selects which span exporter NewOtelProvider wires up.
type OtelExporterKind string

const (
	// OtelExporterNone disables export: spans are still created (so
	// instrumented code paths run unchanged) but dropped rather than sent
	// anywhere.
	OtelExporterNone OtelExporterKind = "none"
	// OtelExporterStdout writes spans as JSON to stdout, for local runs.
	OtelExporterStdout OtelExporterKind = "stdout"
	// OtelExporterOTLPGRPC exports via OTLP/gRPC, the default for a
	// collector sidecar.
	OtelExporterOTLPGRPC OtelExporterKind = "otlp-grpc"
	// OtelExporterOTLPHTTP exports via OTLP/HTTP, for collectors reachable
	// only over plain HTTP(S).
	OtelExporterOTLPHTTP OtelExporterKind = "otlp-http"
)

// OtelConfig configures NewOtelProvider. ServiceName is attached to every
// span as the OTel resource's service.name attribute.
type OtelConfig struct {
	ServiceName string
	Exporter    OtelExporterKind
	Endpoint    string // OTLP collector address; ignored by stdout/none.
}

// OtelConfigFromEnv builds an OtelConfig from OTEL_* environment variables,
// the way internal/log.FromEnv builds its Config from LOG_* variables.
func OtelConfigFromEnv() OtelConfig {
	cfg := OtelConfig{
		ServiceName: os.Getenv("OTEL_SERVICE_NAME"),
		Exporter:    OtelExporterKind(os.Getenv("OTEL_TRACES_EXPORTER")),
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "actor-engine"
	}
	if cfg.Exporter == "" {
		cfg.Exporter = OtelExporterNone
	}
	return cfg
}

// OtelProvider adapts an *sdktrace.TracerProvider to this package's vendor-
// neutral TracerProvider interface, so the rest of the repo (internal/gateway
// in particular) depends only on Tracer/SpanHandle and never imports
// go.opentelemetry.io directly.
type OtelProvider struct {
	sdk *sdktrace.TracerProvider
}

// NewOtelProvider builds the exporter cfg.Exporter names, wraps it in a
// batching span processor, and returns a ready-to-use provider. The
// returned provider's Shutdown must be called to flush on process exit.
func NewOtelProvider(ctx context.Context, cfg OtelConfig) (*OtelProvider, error) {
	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: build span exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return &OtelProvider{sdk: tp}, nil
}

func newSpanExporter(ctx context.Context, cfg OtelConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case OtelExporterStdout:
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case OtelExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		return otlptracegrpc.New(ctx, opts...)
	case OtelExporterOTLPHTTP:
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		return otlptracehttp.New(ctx, opts...)
	case OtelExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("observability: unknown exporter %q", cfg.Exporter)
	}
}

// Tracer implements TracerProvider.
func (p *OtelProvider) Tracer(name string) Tracer {
	return &otelTracer{t: p.sdk.Tracer(name)}
}

// Shutdown implements TracerProvider.
func (p *OtelProvider) Shutdown(ctx context.Context) error {
	return p.sdk.Shutdown(ctx)
}

// ForceFlush implements TracerProvider.
func (p *OtelProvider) ForceFlush(ctx context.Context) error {
	return p.sdk.ForceFlush(ctx)
}

type otelTracer struct {
	t oteltrace.Tracer
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanHandle) {
	cfg := SpanConfig{}
	for _, o := range opts {
		o.ApplySpanOption(&cfg)
	}

	var startOpts []oteltrace.SpanStartOption
	if len(cfg.Attributes) > 0 {
		startOpts = append(startOpts, oteltrace.WithAttributes(toKeyValues(cfg.Attributes)...))
	}
	if cfg.Timestamp != nil {
		startOpts = append(startOpts, oteltrace.WithTimestamp(time.Unix(0, *cfg.Timestamp)))
	}
	startOpts = append(startOpts, oteltrace.WithSpanKind(toOtelKind(cfg.SpanKind)))

	newCtx, span := t.t.Start(ctx, name, startOpts...)
	return newCtx, &otelSpanHandle{span: span}
}

type otelSpanHandle struct {
	span oteltrace.Span
}

func (h *otelSpanHandle) End(opts ...SpanEndOption) {
	cfg := SpanEndConfig{}
	for _, o := range opts {
		o.ApplySpanEndOption(&cfg)
	}
	var endOpts []oteltrace.SpanEndOption
	if cfg.Timestamp != nil {
		endOpts = append(endOpts, oteltrace.WithTimestamp(time.Unix(0, *cfg.Timestamp)))
	}
	h.span.End(endOpts...)
}

func (h *otelSpanHandle) SetStatus(code StatusCode, message string) {
	h.span.SetStatus(toOtelStatus(code), message)
}

func (h *otelSpanHandle) SetAttributes(attrs map[string]any) {
	h.span.SetAttributes(toKeyValues(attrs)...)
}

func (h *otelSpanHandle) AddEvent(name string, attrs map[string]any) {
	h.span.AddEvent(name, oteltrace.WithAttributes(toKeyValues(attrs)...))
}

func (h *otelSpanHandle) SpanContext() TraceContext {
	sc := h.span.SpanContext()
	return TraceContext{
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		TraceFlags: byte(sc.TraceFlags()),
		TraceState: sc.TraceState().String(),
	}
}

func (h *otelSpanHandle) RecordError(err error) {
	h.span.RecordError(err)
	h.span.SetStatus(codes.Error, err.Error())
}

func toOtelKind(kind SpanKind) oteltrace.SpanKind {
	switch kind {
	case SpanKindClient:
		return oteltrace.SpanKindClient
	case SpanKindServer:
		return oteltrace.SpanKindServer
	case SpanKindProducer:
		return oteltrace.SpanKindProducer
	case SpanKindConsumer:
		return oteltrace.SpanKindConsumer
	case SpanKindInternal:
		return oteltrace.SpanKindInternal
	default:
		return oteltrace.SpanKindUnspecified
	}
}

func toOtelStatus(code StatusCode) codes.Code {
	switch code {
	case StatusCodeOK:
		return codes.Ok
	case StatusCodeError:
		return codes.Error
	default:
		return codes.Unset
	}
}

func toKeyValues(attrs map[string]any) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, val))
		case bool:
			kvs = append(kvs, attribute.Bool(k, val))
		case int:
			kvs = append(kvs, attribute.Int(k, val))
		case int64:
			kvs = append(kvs, attribute.Int64(k, val))
		case float64:
			kvs = append(kvs, attribute.Float64(k, val))
		default:
			kvs = append(kvs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return kvs
}
