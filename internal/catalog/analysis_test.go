/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package catalog

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/apierror"
	"github.com/stratumsec/claviger/internal/constraint"
	"github.com/stratumsec/claviger/internal/policy"
)

func groupNode(t *testing.T, s *staticSource, env, sys, grp string) *policy.JitGroupPolicy {
	t.Helper()
	e, ok := s.Environment(env)
	if !ok {
		t.Fatalf("environment %q missing", env)
	}
	sy, ok := e.System(sys)
	if !ok {
		t.Fatalf("system %q missing", sys)
	}
	g, ok := sy.Group(grp)
	if !ok {
		t.Fatalf("group %q missing", grp)
	}
	return g
}

func TestAnalysisAllowedWithInputs(t *testing.T) {
	grp := groupNode(t, testSource(t), "prod", "payments", "db-writer")

	a, err := NewAnalysis(grp, aliceSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	if got := len(a.Inputs()); got != 2 {
		t.Fatalf("len(Inputs) = %d, want 2", got)
	}

	values := map[string]string{"expiry": "PT2H", "ticket": "OPS-1234"}
	if err := a.BindInputs(values); err != nil {
		t.Fatalf("BindInputs: %v", err)
	}
	if diff := cmp.Diff(values, a.BoundInputs()); diff != "" {
		t.Errorf("BoundInputs (-want +got):\n%s", diff)
	}

	res := a.Execute(testNow)
	if !res.AccessByACL {
		t.Error("AccessByACL = false, want true")
	}
	if len(res.Satisfied) != 2 || len(res.Unsatisfied) != 0 || len(res.Failed) != 0 {
		t.Errorf("findings = %d/%d/%d, want 2/0/0",
			len(res.Satisfied), len(res.Unsatisfied), len(res.Failed))
	}
	if res.ChosenExpiry != 2*time.Hour {
		t.Errorf("ChosenExpiry = %v, want 2h", res.ChosenExpiry)
	}
	if !res.IsAccessAllowed(Options{}) {
		t.Error("IsAccessAllowed = false, want true")
	}
	if err := res.VerifyAccessAllowed(Options{}); err != nil {
		t.Errorf("VerifyAccessAllowed: %v", err)
	}
}

func TestAnalysisIsRerunnable(t *testing.T) {
	grp := groupNode(t, testSource(t), "prod", "payments", "db-writer")

	a, err := NewAnalysis(grp, aliceSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	if err := a.BindInputs(map[string]string{"expiry": "PT2H", "ticket": "OPS-1"}); err != nil {
		t.Fatalf("BindInputs: %v", err)
	}
	if res := a.Execute(testNow); res.ChosenExpiry != 2*time.Hour {
		t.Fatalf("ChosenExpiry = %v, want 2h", res.ChosenExpiry)
	}

	if err := a.BindInputs(map[string]string{"expiry": "PT4H"}); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if res := a.Execute(testNow); res.ChosenExpiry != 4*time.Hour {
		t.Errorf("ChosenExpiry after rebind = %v, want 4h", res.ChosenExpiry)
	}
}

func TestAnalysisRejectsBadInput(t *testing.T) {
	grp := groupNode(t, testSource(t), "prod", "payments", "db-writer")

	a, err := NewAnalysis(grp, aliceSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	var invalid *apierror.InvalidArgumentError
	if err := a.BindInputs(map[string]string{"expiry": "2 hours"}); !errors.As(err, &invalid) {
		t.Errorf("BindInputs err = %v, want InvalidArgumentError", err)
	}
	// Out of the declared [PT1H, PT8H] range.
	if err := a.BindInputs(map[string]string{"expiry": "PT9H"}); !errors.As(err, &invalid) {
		t.Errorf("BindInputs err = %v, want InvalidArgumentError", err)
	}
}

func TestAnalysisMissingInputsFail(t *testing.T) {
	grp := groupNode(t, testSource(t), "prod", "payments", "db-writer")

	a, err := NewAnalysis(grp, aliceSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	res := a.Execute(testNow)
	if len(res.Failed) != 2 {
		t.Fatalf("len(Failed) = %d, want 2", len(res.Failed))
	}
	if res.ChosenExpiry != 0 {
		t.Errorf("ChosenExpiry = %v, want 0", res.ChosenExpiry)
	}
	if res.IsAccessAllowed(Options{}) {
		t.Error("IsAccessAllowed = true, want false")
	}
	if !res.IsAccessAllowed(Options{IgnoreConstraints: true}) {
		t.Error("IsAccessAllowed(ignore) = false, want true")
	}

	var failed *apierror.ConstraintFailedError
	if err := res.VerifyAccessAllowed(Options{}); !errors.As(err, &failed) {
		t.Fatalf("VerifyAccessAllowed err = %v, want ConstraintFailedError", err)
	}
	if len(failed.Failures) != 2 {
		t.Errorf("failures = %d, want 2", len(failed.Failures))
	}
	if err := res.VerifyAccessAllowed(Options{IgnoreConstraints: true}); err != nil {
		t.Errorf("VerifyAccessAllowed(ignore): %v", err)
	}
}

func TestAnalysisUnsatisfiedMessage(t *testing.T) {
	grp := groupNode(t, testSource(t), "prod", "payments", "db-writer")

	a, err := NewAnalysis(grp, aliceSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	if err := a.BindInputs(map[string]string{"expiry": "PT2H", "ticket": "BAD-1234"}); err != nil {
		t.Fatalf("BindInputs: %v", err)
	}
	res := a.Execute(testNow)
	if len(res.Unsatisfied) != 1 {
		t.Fatalf("len(Unsatisfied) = %d, want 1", len(res.Unsatisfied))
	}

	var denied *apierror.AccessDeniedError
	if err := res.VerifyAccessAllowed(Options{}); !errors.As(err, &denied) {
		t.Fatalf("VerifyAccessAllowed err = %v, want AccessDeniedError", err)
	}
	if denied.Reason != "Provide a ticket reference" {
		t.Errorf("Reason = %q", denied.Reason)
	}
}

// A single unsatisfied constraint with a message takes precedence over
// failures of other constraints.
func TestAnalysisUnsatisfiedMessageBeatsFailure(t *testing.T) {
	grp := groupNode(t, testSource(t), "prod", "payments", "db-writer")

	a, err := NewAnalysis(grp, aliceSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	// Ticket bound but wrong, expiry left unbound.
	if err := a.BindInputs(map[string]string{"ticket": "BAD-1234"}); err != nil {
		t.Fatalf("BindInputs: %v", err)
	}
	res := a.Execute(testNow)
	if len(res.Unsatisfied) != 1 || len(res.Failed) != 1 {
		t.Fatalf("findings = %d unsatisfied, %d failed", len(res.Unsatisfied), len(res.Failed))
	}

	var denied *apierror.AccessDeniedError
	if err := res.VerifyAccessAllowed(Options{}); !errors.As(err, &denied) {
		t.Fatalf("VerifyAccessAllowed err = %v, want AccessDeniedError", err)
	}
}

func TestAnalysisUnsatisfiedWithoutMessage(t *testing.T) {
	env, err := policy.NewEnvironment("test", "",
		(&acl.Builder{}).Allow(alice, policy.PermissionJoin).Build(),
		true, policy.ConstraintSet{}, policy.Metadata{Source: "test"})
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}
	sys, err := policy.NewSystem("sys", "", nil, false, policy.ConstraintSet{})
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	never := mustExpression(t, "never", "", "1 == 2", nil)
	grp, err := policy.NewJitGroup("grp", "", nil, false,
		policy.ConstraintSet{Join: []constraint.Constraint{never}}, nil)
	if err != nil {
		t.Fatalf("NewJitGroup: %v", err)
	}
	if err := env.AddSystem(sys); err != nil {
		t.Fatalf("AddSystem: %v", err)
	}
	if err := sys.AddGroup(grp); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}

	a, err := NewAnalysis(grp, aliceSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	res := a.Execute(testNow)

	var unsatisfied *apierror.ConstraintUnsatisfiedError
	if err := res.VerifyAccessAllowed(Options{}); !errors.As(err, &unsatisfied) {
		t.Fatalf("VerifyAccessAllowed err = %v, want ConstraintUnsatisfiedError", err)
	}
	if unsatisfied.Constraint != "never" {
		t.Errorf("Constraint = %q, want never", unsatisfied.Constraint)
	}
}

func TestAnalysisACLDenied(t *testing.T) {
	src := testSource(t)
	grp := groupNode(t, src, "prod", "payments", "db-writer")

	a, err := NewAnalysis(grp, bobSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	res := a.Execute(testNow)
	if res.AccessByACL {
		t.Error("AccessByACL = true, want false")
	}
	var denied *apierror.AccessDeniedError
	if err := res.VerifyAccessAllowed(Options{}); !errors.As(err, &denied) {
		t.Fatalf("VerifyAccessAllowed err = %v, want AccessDeniedError", err)
	}
	if denied.Reason != "not authorized" || denied.Membership != nil {
		t.Errorf("denial = %q membership=%v", denied.Reason, denied.Membership)
	}
	// The ACL denial is not overridden by ignoring constraints.
	if res.IsAccessAllowed(Options{IgnoreConstraints: true}) {
		t.Error("IsAccessAllowed(ignore) = true, want false")
	}
}

func TestAnalysisDeniedRevealsActiveMembership(t *testing.T) {
	grp := groupNode(t, testSource(t), "prod", "payments", "db-writer")

	a, err := NewAnalysis(grp, carolSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	res := a.Execute(testNow)
	if res.ActiveMembership == nil {
		t.Fatal("ActiveMembership = nil, want carol's membership")
	}

	var denied *apierror.AccessDeniedError
	if err := res.VerifyAccessAllowed(Options{}); !errors.As(err, &denied) {
		t.Fatalf("VerifyAccessAllowed err = %v, want AccessDeniedError", err)
	}
	if denied.Membership == nil {
		t.Error("Membership = nil, want the active membership")
	}
	if !strings.Contains(denied.Reason, "already an active member") {
		t.Errorf("Reason = %q", denied.Reason)
	}

	// Once the membership lapses the denial reveals nothing.
	res = a.Execute(testNow.Add(time.Hour))
	if err := res.VerifyAccessAllowed(Options{}); !errors.As(err, &denied) {
		t.Fatalf("VerifyAccessAllowed err = %v, want AccessDeniedError", err)
	}
	if denied.Membership != nil || denied.Reason != "not authorized" {
		t.Errorf("denial after expiry = %q membership=%v", denied.Reason, denied.Membership)
	}
}

func TestAnalysisFixedExpiry(t *testing.T) {
	grp := groupNode(t, testSource(t), "prod", "payments", "log-reader")

	a, err := NewAnalysis(grp, carolSubject(t), policy.PermissionJoin, policy.ClassJoin)
	if err != nil {
		t.Fatalf("NewAnalysis: %v", err)
	}
	if got := len(a.Inputs()); got != 0 {
		t.Fatalf("len(Inputs) = %d, want 0", got)
	}
	res := a.Execute(testNow)
	if !res.IsAccessAllowed(Options{}) {
		t.Fatalf("IsAccessAllowed = false: %v", res.VerifyAccessAllowed(Options{}))
	}
	if res.ChosenExpiry != time.Hour {
		t.Errorf("ChosenExpiry = %v, want 1h", res.ChosenExpiry)
	}
}

func TestAnalysisRequiresAttachedGroup(t *testing.T) {
	grp, err := policy.NewJitGroup("stray", "", nil, false, policy.ConstraintSet{}, nil)
	if err != nil {
		t.Fatalf("NewJitGroup: %v", err)
	}
	if _, err := NewAnalysis(grp, aliceSubject(t), policy.PermissionJoin, policy.ClassJoin); err == nil {
		t.Error("NewAnalysis on detached group succeeded, want error")
	}
}
