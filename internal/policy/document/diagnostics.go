/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package document

import (
	"fmt"

	"github.com/stratumsec/claviger/internal/apierror"
)

// Severity grades an Issue.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Code identifies one class of document diagnostic. The set is closed and
// part of the public contract; clients switch on it.
type Code string

const (
	CodeFileInvalidSyntax   Code = "FILE_INVALID_SYNTAX"
	CodeFileUnknownProperty Code = "FILE_UNKNOWN_PROPERTY"
	CodeFileInvalidVersion  Code = "FILE_INVALID_VERSION"

	CodeEnvironmentMissing Code = "ENVIRONMENT_MISSING"
	CodeEnvironmentInvalid Code = "ENVIRONMENT_INVALID"
	CodeSystemInvalid      Code = "SYSTEM_INVALID"
	CodeGroupInvalid       Code = "GROUP_INVALID"

	CodeACLInvalidPrincipal  Code = "ACL_INVALID_PRINCIPAL"
	CodeACLInvalidPermission Code = "ACL_INVALID_PERMISSION"

	CodeConstraintInvalidType       Code = "CONSTRAINT_INVALID_TYPE"
	CodeConstraintInvalidExpiry     Code = "CONSTRAINT_INVALID_EXPIRY"
	CodeConstraintInvalidExpression Code = "CONSTRAINT_INVALID_EXPRESSION"
	CodeConstraintInvalidVariable   Code = "CONSTRAINT_INVALID_VARIABLE_DECLARATION"

	CodePrivilegeInvalidResourceID   Code = "PRIVILEGE_INVALID_RESOURCE_ID"
	CodePrivilegeDuplicateResourceID Code = "PRIVILEGE_DUPLICATE_RESOURCE_ID"
	CodePrivilegeInvalidRole         Code = "PRIVILEGE_INVALID_ROLE"
)

// Issue is a single parse diagnostic. Scope names the document region the
// issue belongs to: "file", an environment name, or a dotted node path such
// as "env-1.sys-1.g-1".
type Issue struct {
	Severity Severity
	Scope    string
	Code     Code
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s [%s] %s: %s", i.Severity, i.Code, i.Scope, i.Message)
}

// Diagnostics collects the issues of one parse in emission order.
type Diagnostics struct {
	issues []Issue
}

func (d *Diagnostics) errorf(scope string, code Code, format string, args ...any) {
	d.issues = append(d.issues, Issue{
		Severity: SeverityError,
		Scope:    scope,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (d *Diagnostics) warnf(scope string, code Code, format string, args ...any) {
	d.issues = append(d.issues, Issue{
		Severity: SeverityWarning,
		Scope:    scope,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Issues returns all issues in emission order.
func (d *Diagnostics) Issues() []Issue {
	out := make([]Issue, len(d.issues))
	copy(out, d.issues)
	return out
}

// Errors returns only the error-severity issues.
func (d *Diagnostics) Errors() []Issue {
	var out []Issue
	for _, i := range d.issues {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}

// Warnings returns only the warning-severity issues.
func (d *Diagnostics) Warnings() []Issue {
	var out []Issue
	for _, i := range d.issues {
		if i.Severity == SeverityWarning {
			out = append(out, i)
		}
	}
	return out
}

// HasErrors reports whether any issue blocks the parse.
func (d *Diagnostics) HasErrors() bool {
	for _, i := range d.issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err converts the error-severity issues into an *apierror.ParseError, or
// nil when the parse produced no errors. source names the document for the
// error message.
func (d *Diagnostics) Err(source string) error {
	errs := d.Errors()
	if len(errs) == 0 {
		return nil
	}
	issues := make([]apierror.ParseIssue, len(errs))
	for i, e := range errs {
		issues[i] = apierror.ParseIssue{
			Severity: e.Severity.String(),
			Scope:    e.Scope,
			Code:     string(e.Code),
			Message:  e.Message,
		}
	}
	return &apierror.ParseError{Source: source, Issues: issues}
}
