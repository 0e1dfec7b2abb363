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

// Package tracing configures the OpenTelemetry SDK: one span per run and
// one per device attempt, exported to the console or an OTLP collector.
package tracing

import (
	"context"
	"fmt"
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
	"go.opentelemetry.io/otel/trace"
)

// Exporter selects the span export destination.
type Exporter string

const (
	// ExporterNone disables tracing entirely.
	ExporterNone Exporter = "none"
	// ExporterConsole writes spans to stdout, for local debugging.
	ExporterConsole Exporter = "console"
	// ExporterOTLPGRPC ships spans to an OTLP collector over gRPC.
	ExporterOTLPGRPC Exporter = "otlp-grpc"
	// ExporterOTLPHTTP ships spans to an OTLP collector over HTTP.
	ExporterOTLPHTTP Exporter = "otlp-http"
)

// Config controls provider construction.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Exporter       Exporter
	// Endpoint is the collector address for the OTLP exporters.
	Endpoint string
	// SampleRate in [0, 1]; 1 samples everything.
	SampleRate float64
}

// Provider owns the tracer provider and its shutdown.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init builds the provider described by cfg and installs it globally. A
// nil provider (ExporterNone) is valid: spans become no-ops.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Exporter == "" || cfg.Exporter == ExporterNone {
		return nil, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case ExporterConsole:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLPGRPC:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	case ExporterOTLPHTTP:
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: build exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans. Safe on a nil Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

const scopeName = "github.com/netrunner/netrunner/internal/runner"

// StartRunSpan opens the span covering one service run.
func StartRunSpan(ctx context.Context, runtime, service string) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runtime),
			attribute.String("run.service", service),
		))
}

// StartDeviceSpan opens the span covering one device attempt within a run.
func StartDeviceSpan(ctx context.Context, runtime, device string) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, "device_attempt",
		trace.WithAttributes(
			attribute.String("run.id", runtime),
			attribute.String("device.name", device),
		))
}

// EndSpan records the outcome and closes the span.
func EndSpan(span trace.Span, success bool, err error) {
	if err != nil {
		span.RecordError(err)
	}
	if success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "failed")
	}
	span.End()
}
