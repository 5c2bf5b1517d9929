/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not authenticated", ErrNotAuthenticated, http.StatusUnauthorized},
		{"wrapped not authenticated", fmt.Errorf("auth: %w", ErrNotAuthenticated), http.StatusUnauthorized},
		{"not found", ErrResourceNotFound, http.StatusNotFound},
		{"access denied", AccessDenied("not authorized"), http.StatusForbidden},
		{"invalid argument", InvalidArgument("expiry", "not a duration"), http.StatusBadRequest},
		{"constraint unsatisfied", &ConstraintUnsatisfiedError{Constraint: "ticket"}, http.StatusBadRequest},
		{"constraint failed", &ConstraintFailedError{Failures: []ConstraintFailure{{Constraint: "x", Diagnostic: "boom"}}}, http.StatusBadRequest},
		{"parse error", &ParseError{Source: "policy.yaml"}, http.StatusBadRequest},
		{"upstream", UpstreamIO("directory lookup", errors.New("connection refused")), http.StatusBadGateway},
		{"unknown", errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestUpstreamIOUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := UpstreamIO("provision", cause)
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false, want true", err)
	}
	if UpstreamIO("provision", nil) != nil {
		t.Error("UpstreamIO(nil) should be nil")
	}
}

func TestAccessDeniedMessage(t *testing.T) {
	err := AccessDenied("membership still active")
	if got := err.Error(); got != "access denied: membership still active" {
		t.Errorf("Error() = %q", got)
	}
	var ad *AccessDeniedError
	if !errors.As(fmt.Errorf("join: %w", err), &ad) {
		t.Fatal("errors.As failed for wrapped AccessDeniedError")
	}
}

func TestConstraintFailedMessage(t *testing.T) {
	err := &ConstraintFailedError{Failures: []ConstraintFailure{
		{Constraint: "ticket", Diagnostic: "required input missing"},
		{Constraint: "window", Diagnostic: "type error"},
	}}
	want := "constraint evaluation failed: ticket: required input missing; window: type error"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestParseErrorMessage(t *testing.T) {
	one := &ParseError{Source: "p.yaml", Issues: []ParseIssue{
		{Severity: "error", Scope: "file", Code: "FILE_INVALID_VERSION", Message: "schemaVersion must be 1"},
	}}
	if got := one.Error(); got != `invalid policy document p.yaml: [FILE_INVALID_VERSION] schemaVersion must be 1` {
		t.Errorf("Error() = %q", got)
	}
	many := &ParseError{Source: "p.yaml", Issues: make([]ParseIssue, 3)}
	if got := many.Error(); got != "invalid policy document p.yaml: 3 errors" {
		t.Errorf("Error() = %q", got)
	}
}
