/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for the access broker.
//
// Custom span attributes use the `claviger.` prefix. Subject emails are
// carried as attributes; proposal token material never is.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "stratumsec.io/claviger"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint string, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		// No-op: tracing disabled
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("claviger"),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// --- Span helpers ---

// StartJoinSpan creates the parent span for a join request.
func StartJoinSpan(ctx context.Context, user, group string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "broker.join",
		trace.WithAttributes(
			attribute.String("claviger.user", user),
			attribute.String("claviger.group", group),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartApproveSpan creates the parent span for an approval request.
func StartApproveSpan(ctx context.Context, approver string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "broker.approve",
		trace.WithAttributes(
			attribute.String("claviger.approver", approver),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartResolveSpan creates a child span for a subject resolution.
func StartResolveSpan(ctx context.Context, user string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "subject.resolve",
		trace.WithAttributes(
			attribute.String("claviger.user", user),
		),
	)
}

// StartProvisionSpan creates a child span for a provisioning call.
func StartProvisionSpan(ctx context.Context, group string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "provision.apply",
		trace.WithAttributes(
			attribute.String("claviger.group", group),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartReloadSpan creates the span for a policy repository reload.
func StartReloadSpan(ctx context.Context, trigger string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "policy.reload",
		trace.WithAttributes(
			attribute.String("claviger.trigger", trigger),
		),
	)
}

// EndSpan records the error state and closes the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
