/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package catalog

import (
	"fmt"
	"time"

	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/apierror"
	"github.com/stratumsec/claviger/internal/constraint"
	"github.com/stratumsec/claviger/internal/policy"
	"github.com/stratumsec/claviger/internal/principal"
	"github.com/stratumsec/claviger/internal/subject"
)

// Analysis evaluates one subject against one JIT group: the effective ACL
// for a required mask plus the effective constraints of one class. The
// constraint checks are materialized once; callers bind inputs and may
// Execute repeatedly. An Analysis is not safe for concurrent use.
type Analysis struct {
	group    *policy.JitGroupPolicy
	groupID  principal.JitGroupID
	subject  *subject.Subject
	required acl.Mask
	checks   []constraint.Check
}

// NewAnalysis materializes checks for the group's effective constraints of
// the given class. The group must be attached to a policy tree.
func NewAnalysis(group *policy.JitGroupPolicy, sub *subject.Subject, required acl.Mask, class policy.ConstraintClass) (*Analysis, error) {
	if group == nil || sub == nil {
		return nil, fmt.Errorf("analysis requires a group and a subject")
	}
	id, ok := group.ID()
	if !ok {
		return nil, fmt.Errorf("group %q is not attached to a policy tree", group.Name())
	}
	constraints := group.EffectiveConstraints(class)
	checks := make([]constraint.Check, 0, len(constraints))
	for _, c := range constraints {
		checks = append(checks, c.NewCheck())
	}
	return &Analysis{
		group:    group,
		groupID:  id,
		subject:  sub,
		required: required,
		checks:   checks,
	}, nil
}

// Group returns the analyzed policy node.
func (a *Analysis) Group() *policy.JitGroupPolicy { return a.group }

// GroupID returns the analyzed group's identifier.
func (a *Analysis) GroupID() principal.JitGroupID { return a.groupID }

// Subject returns the analyzed subject.
func (a *Analysis) Subject() *subject.Subject { return a.subject }

// Checks returns the materialized checks in effective-constraint order.
func (a *Analysis) Checks() []constraint.Check { return a.checks }

// Inputs returns every declared input across all checks, in check order.
func (a *Analysis) Inputs() []constraint.Input {
	var inputs []constraint.Input
	for _, c := range a.checks {
		inputs = append(inputs, c.Inputs()...)
	}
	return inputs
}

// BindInputs distributes raw values to every check that declares a matching
// input. Values that no check declares are ignored. A value a check rejects
// is reported as an invalid argument.
func (a *Analysis) BindInputs(values map[string]string) error {
	for _, c := range a.checks {
		if err := constraint.BindInputs(c, values); err != nil {
			return apierror.InvalidArgument("input", "%v", err)
		}
	}
	return nil
}

// BoundInputs returns the canonical textual form of every bound input,
// merged across checks. This is the map that travels inside proposal tokens.
func (a *Analysis) BoundInputs() map[string]string {
	out := make(map[string]string)
	for _, c := range a.checks {
		for name, v := range constraint.BoundInputs(c) {
			out[name] = v
		}
	}
	return out
}

// Execute runs the ACL decision and every check against the subject's
// principals active at now. It may be called again after rebinding inputs.
func (a *Analysis) Execute(now time.Time) Result {
	held := a.subject.ActiveSet(now)
	res := Result{
		AccessByACL: policy.IsAllowedByACL(a.group, held, a.required),
	}
	if m, ok := a.subject.ActiveMembership(a.groupID, now); ok {
		res.ActiveMembership = &m
	}

	ctx := constraint.Context{
		SubjectEmail:      a.subject.Email(),
		SubjectPrincipals: a.subject.ActiveStrings(now),
		Group:             a.groupID,
	}
	for _, c := range a.checks {
		r := c.Execute(ctx)
		f := Finding{Constraint: c.Constraint()}
		switch r.Outcome {
		case constraint.Satisfied:
			res.Satisfied = append(res.Satisfied, f)
			if d, ok := constraint.ChosenExpiry(c); ok {
				res.ChosenExpiry = d
			}
		case constraint.Unsatisfied:
			f.Message = r.Message
			res.Unsatisfied = append(res.Unsatisfied, f)
		case constraint.Failed:
			f.Err = r.Err
			res.Failed = append(res.Failed, f)
		}
	}
	return res
}

// Finding pairs a constraint with the detail of one evaluation. Message is
// set for unsatisfied findings that declare one, Err for failed findings.
type Finding struct {
	Constraint constraint.Constraint
	Message    string
	Err        error
}

// Result is one evaluation of an Analysis.
type Result struct {
	// ActiveMembership is the subject's still-active JIT membership of the
	// target group, if any.
	ActiveMembership *principal.Principal
	// AccessByACL reports whether the effective ACL grants the required
	// mask.
	AccessByACL bool
	Satisfied   []Finding
	Unsatisfied []Finding
	Failed      []Finding
	// ChosenExpiry is the membership duration selected by the expiry
	// check: the bound input, or the fixed value. Zero when the policy
	// declares no expiry or the input is missing.
	ChosenExpiry time.Duration
}

// Options tunes the access decision.
type Options struct {
	// IgnoreConstraints restricts the decision to the ACL. Read surfaces
	// use it to avoid demanding inputs that only a join would bind.
	IgnoreConstraints bool
}

// IsAccessAllowed reports whether the result grants access: the ACL allows,
// and unless constraints are ignored, no check is unsatisfied or failed.
func (r Result) IsAccessAllowed(opts Options) bool {
	if !r.AccessByACL {
		return false
	}
	if opts.IgnoreConstraints {
		return true
	}
	return len(r.Unsatisfied) == 0 && len(r.Failed) == 0
}

// VerifyAccessAllowed returns nil when access is granted, otherwise the
// denial. An ACL denial reveals only whether the subject is already an
// active member; a single unsatisfied constraint with a message surfaces
// that message; evaluation failures carry their diagnostics.
func (r Result) VerifyAccessAllowed(opts Options) error {
	if !r.AccessByACL {
		if m := r.ActiveMembership; m != nil {
			return &apierror.AccessDeniedError{
				Reason:     fmt.Sprintf("already an active member until %s", m.NotAfter.UTC().Format(time.RFC3339)),
				Membership: m,
			}
		}
		return apierror.AccessDenied("not authorized")
	}
	if opts.IgnoreConstraints {
		return nil
	}
	if len(r.Unsatisfied) == 1 && r.Unsatisfied[0].Message != "" {
		return apierror.AccessDenied("%s", r.Unsatisfied[0].Message)
	}
	if len(r.Failed) > 0 {
		e := &apierror.ConstraintFailedError{}
		for _, f := range r.Failed {
			e.Failures = append(e.Failures, apierror.ConstraintFailure{
				Constraint: f.Constraint.Name(),
				Diagnostic: f.Err.Error(),
			})
		}
		return e
	}
	if len(r.Unsatisfied) > 0 {
		f := r.Unsatisfied[0]
		return &apierror.ConstraintUnsatisfiedError{
			Constraint: f.Constraint.Name(),
			Message:    f.Message,
		}
	}
	return nil
}
