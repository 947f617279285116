// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// TracingConfig selects a span exporter.
type TracingConfig struct {
	// ServiceName identifies this process in traces.
	// Default: "movi"
	ServiceName string

	// ServiceVersion is attached to the resource when set.
	ServiceVersion string

	// OTLPEndpoint is a gRPC collector address such as "localhost:4317".
	// Takes precedence over Stdout.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for the collector connection.
	OTLPInsecure bool

	// Stdout exports spans as JSON to StdoutWriter.
	Stdout bool

	// StdoutWriter defaults to os.Stderr so spans never mix with chat output.
	StdoutWriter io.Writer
}

// Enabled reports whether any exporter is configured.
func (c TracingConfig) Enabled() bool {
	return c.OTLPEndpoint != "" || c.Stdout
}

// InitTracing installs the global tracer provider and propagator.
//
// # Description
//
// The W3C trace-context and baggage propagator is always installed so that
// outgoing chat requests carry trace headers. A tracer provider is installed
// only when an exporter is configured; otherwise the otel no-op provider
// stays in place and spans cost nothing.
//
// # Inputs
//
//   - ctx: Context for exporter construction
//   - cfg: Exporter selection
//
// # Outputs
//
//   - ShutdownFunc: Flushes pending spans. Always non-nil on success.
//   - error: Non-nil if the exporter could not be created
//
// # Examples
//
//	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
//	    ServiceName:  "movi",
//	    OTLPEndpoint: "localhost:4317",
//	    OTLPInsecure: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer shutdown(context.Background())
//
// # Limitations
//
//   - Sets process-wide globals; call once at startup
func InitTracing(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled() {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "movi"
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(cfg.ServiceVersion))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.OTLPEndpoint != "" {
		var dialOpts []grpc.DialOption
		if cfg.OTLPInsecure {
			dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		}
		conn, err := grpc.NewClient(cfg.OTLPEndpoint, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create OTLP exporter: %w", err), conn.Close())
		}
		return exporter, nil
	}

	w := cfg.StdoutWriter
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return exporter, nil
}
