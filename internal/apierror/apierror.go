/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package apierror defines the error kinds that cross the broker's public
// boundary and their HTTP status mapping. The transport layer is out of
// scope; it is expected to call HTTPStatus and render the message.
//
// Messages never disclose the existence of resources the caller cannot view:
// hidden nodes are reported as not found, not as forbidden.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stratumsec/claviger/internal/principal"
)

// Sentinel kinds without payload.
var (
	// ErrNotAuthenticated means the request carried no usable identity.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrResourceNotFound covers both resources that do not exist and
	// resources the subject may not see.
	ErrResourceNotFound = errors.New("resource not found")
)

// AccessDeniedError reports that the ACL or an unsatisfied constraint denied
// an operation. Membership, when set, is the caller's still-active JIT
// membership of the target group: the one piece of state a denied caller is
// allowed to learn, so they know to wait for expiry instead of retrying.
type AccessDeniedError struct {
	Reason     string
	Membership *principal.Principal
}

func (e *AccessDeniedError) Error() string {
	if e.Reason == "" {
		return "access denied"
	}
	return "access denied: " + e.Reason
}

// AccessDenied builds an AccessDeniedError with a plain reason.
func AccessDenied(format string, args ...any) *AccessDeniedError {
	return &AccessDeniedError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidArgumentError reports misuse of a public API. It is programmer
// error; callers must not retry.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

// InvalidArgument builds an InvalidArgumentError.
func InvalidArgument(field, format string, args ...any) *InvalidArgumentError {
	return &InvalidArgumentError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConstraintUnsatisfiedError reports a constraint that evaluated to false.
type ConstraintUnsatisfiedError struct {
	Constraint string
	Message    string
}

func (e *ConstraintUnsatisfiedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("constraint %q not satisfied", e.Constraint)
	}
	return fmt.Sprintf("constraint %q not satisfied: %s", e.Constraint, e.Message)
}

// ConstraintFailure pairs a constraint name with the diagnostic of its
// evaluation failure.
type ConstraintFailure struct {
	Constraint string
	Diagnostic string
}

// ConstraintFailedError reports constraints that could not be evaluated at
// all: missing required input, or an evaluation error. Distinct from
// unsatisfied.
type ConstraintFailedError struct {
	Failures []ConstraintFailure
}

func (e *ConstraintFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s", f.Constraint, f.Diagnostic)
	}
	return "constraint evaluation failed: " + strings.Join(parts, "; ")
}

// ParseIssue is one diagnostic from the policy document codec, flattened for
// transport.
type ParseIssue struct {
	Severity string
	Scope    string
	Code     string
	Message  string
}

// ParseError aggregates the error-severity diagnostics of a failed document
// parse. Publishing a document that produces a ParseError leaves the
// previous policy snapshot in place.
type ParseError struct {
	Source string
	Issues []ParseIssue
}

func (e *ParseError) Error() string {
	if len(e.Issues) == 1 {
		i := e.Issues[0]
		return fmt.Sprintf("invalid policy document %s: [%s] %s", e.Source, i.Code, i.Message)
	}
	return fmt.Sprintf("invalid policy document %s: %d errors", e.Source, len(e.Issues))
}

// UpstreamIOError wraps a port failure that is not semantic: the directory,
// signer, or provisioner failed to answer.
type UpstreamIOError struct {
	Op  string
	Err error
}

func (e *UpstreamIOError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamIOError) Unwrap() error { return e.Err }

// UpstreamIO wraps err as an upstream I/O failure. A nil err yields nil.
func UpstreamIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamIOError{Op: op, Err: err}
}

// HTTPStatus maps an error to the status code the HTTP layer should emit.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrResourceNotFound):
		return http.StatusNotFound
	}

	var (
		accessDenied  *AccessDeniedError
		invalidArg    *InvalidArgumentError
		unsatisfied   *ConstraintUnsatisfiedError
		failed        *ConstraintFailedError
		parseErr      *ParseError
		upstreamError *UpstreamIOError
	)
	switch {
	case errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &invalidArg), errors.As(err, &unsatisfied),
		errors.As(err, &failed), errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.As(err, &upstreamError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
