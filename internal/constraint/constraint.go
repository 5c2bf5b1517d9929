/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package constraint implements the predicates a policy attaches to join and
// approve operations. A constraint declares typed inputs; a Check is one
// evaluation instance with those inputs bound. Two kinds exist: the expiry
// sentinel, which carries the membership duration, and CEL expressions over
// the subject, the target group, and the bound inputs.
package constraint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stratumsec/claviger/internal/principal"
)

// Outcome classifies one constraint evaluation.
type Outcome int

const (
	// Satisfied: the predicate evaluated to true.
	Satisfied Outcome = iota
	// Unsatisfied: the predicate evaluated to false.
	Unsatisfied
	// Failed: the predicate could not be evaluated. A required input was
	// missing or evaluation raised.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Satisfied:
		return "satisfied"
	case Unsatisfied:
		return "unsatisfied"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of Check.Execute, with the user-facing message for
// unsatisfied predicates and the diagnostic for failures.
type Result struct {
	Outcome Outcome
	Message string
	Err     error
}

func satisfied() Result { return Result{Outcome: Satisfied} }

func unsatisfied(msg string) Result {
	return Result{Outcome: Unsatisfied, Message: msg}
}

func failed(err error) Result { return Result{Outcome: Failed, Err: err} }

// Context is the fixed evaluation context a Check sees, derived from the
// request. It never includes I/O handles; evaluation is pure.
type Context struct {
	SubjectEmail      string
	SubjectPrincipals []string
	Group             principal.JitGroupID
}

// Constraint is a named predicate declared by policy.
type Constraint interface {
	// Name identifies the constraint within its policy node. Effective
	// constraint sets are merged by this name.
	Name() string
	// DisplayName is the user-facing label, also used as the unsatisfied
	// message.
	DisplayName() string
	// NewCheck creates a fresh evaluation instance with unbound inputs.
	NewCheck() Check
}

// Check is one evaluation of a constraint: bind the declared inputs with
// Set, then Execute against the request context. Checks are not safe for
// concurrent use; each analysis creates its own.
type Check interface {
	// Constraint returns the declaring constraint.
	Constraint() Constraint
	// Inputs returns the declared inputs in declaration order.
	Inputs() []Input
	// Input looks an input up by name.
	Input(name string) (Input, bool)
	// Execute evaluates the predicate with the currently bound inputs.
	Execute(ctx Context) Result
}

// namePattern bounds constraint names. Names key the override semantics of
// effective constraint sets, so they must be stable identifiers.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// ValidName reports whether s can name a constraint.
func ValidName(s string) bool { return namePattern.MatchString(s) }

func checkName(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !namePattern.MatchString(s) {
		return "", fmt.Errorf("invalid constraint name %q", s)
	}
	return s, nil
}

// BindInputs copies raw values into the check's inputs by name. Unknown keys
// are ignored; the first Set failure is returned.
func BindInputs(c Check, values map[string]string) error {
	for name, raw := range values {
		in, ok := c.Input(name)
		if !ok {
			continue
		}
		if err := in.Set(raw); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
	}
	return nil
}

// BoundInputs returns the canonical textual form of every input that has a
// value, keyed by input name.
func BoundInputs(c Check) map[string]string {
	out := make(map[string]string)
	for _, in := range c.Inputs() {
		if v, ok := in.Get(); ok {
			out[in.Name()] = v
		}
	}
	return out
}
