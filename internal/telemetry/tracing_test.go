/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupTestTracer installs an in-memory span exporter for test assertions.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTraceProviderNoopWhenEmpty(t *testing.T) {
	shutdown, err := InitTraceProvider(context.Background(), "", "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Should be a no-op shutdown
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestStartJoinSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	_, span := StartJoinSpan(ctx, "alice@example.com", "prod.payments.db-writer")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "broker.join" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "broker.join")
	}

	// Check attributes
	attrs := spans[0].Attributes
	foundUser := false
	foundGroup := false
	for _, a := range attrs {
		if string(a.Key) == "claviger.user" && a.Value.AsString() == "alice@example.com" {
			foundUser = true
		}
		if string(a.Key) == "claviger.group" && a.Value.AsString() == "prod.payments.db-writer" {
			foundGroup = true
		}
	}
	if !foundUser {
		t.Error("missing claviger.user attribute")
	}
	if !foundGroup {
		t.Error("missing claviger.group attribute")
	}
}

func TestEndSpanRecordsError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartProvisionSpan(context.Background(), "prod.payments.db-writer")
	EndSpan(span, errors.New("iam backend offline"))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected a recorded error event")
	}

	exporter.Reset()
	_, span = StartReloadSpan(context.Background(), "cron")
	EndSpan(span, nil)
	spans = exporter.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Ok {
		t.Errorf("clean span status = %v, want Ok", spans[0].Status.Code)
	}
}

func TestNestedSpans(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx := context.Background()
	ctx, joinSpan := StartJoinSpan(ctx, "alice@example.com", "prod.payments.db-writer")
	_, resolveSpan := StartResolveSpan(ctx, "alice@example.com")
	resolveSpan.End()
	joinSpan.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}

	// Resolve span should be a child of the join span
	resolveStub := spans[0] // resolve ends first
	joinStub := spans[1]

	if resolveStub.Parent.TraceID() != joinStub.SpanContext.TraceID() {
		t.Error("resolve span should share trace ID with join span")
	}
	if !resolveStub.Parent.SpanID().IsValid() {
		t.Error("resolve span should have a valid parent span ID")
	}
}
