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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/apierror"
	"github.com/stratumsec/claviger/internal/constraint"
	"github.com/stratumsec/claviger/internal/policy"
	"github.com/stratumsec/claviger/internal/policy/document"
	"github.com/stratumsec/claviger/internal/principal"
	"github.com/stratumsec/claviger/internal/subject"
)

var (
	alice = principal.User("alice@example.com")
	bob   = principal.User("bob@example.com")
	carol = principal.User("carol@example.com")
	dave  = principal.User("dave@example.com")

	eng       = principal.Group("eng@example.com")
	approvers = principal.Group("approvers@example.com")

	dbWriter  = principal.JitGroupID{Environment: "prod", System: "payments", Name: "db-writer"}
	logReader = principal.JitGroupID{Environment: "prod", System: "payments", Name: "log-reader"}
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type staticSource struct {
	envs []*policy.EnvironmentPolicy
}

func (s *staticSource) Environments() []*policy.EnvironmentPolicy { return s.envs }

func (s *staticSource) Environment(name string) (*policy.EnvironmentPolicy, bool) {
	for _, e := range s.envs {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

func mustExpiry(t *testing.T, name string, min, max time.Duration) *constraint.Expiry {
	t.Helper()
	e, err := constraint.NewExpiry(name, "Membership duration", min, max)
	if err != nil {
		t.Fatalf("NewExpiry: %v", err)
	}
	return e
}

func mustExpression(t *testing.T, name, displayName, expr string, vars []constraint.Variable) *constraint.Expression {
	t.Helper()
	e, err := constraint.NewExpression(name, displayName, expr, vars)
	if err != nil {
		t.Fatalf("NewExpression: %v", err)
	}
	return e
}

// testSource builds two environments:
//
//	prod (View for all authenticated, Export for alice)
//	  payments
//	    db-writer   Join: alice. ApproveOthers: approvers. Hidden from bob.
//	    log-reader  Join: all authenticated, fixed 1h expiry.
//	  secret-sys    hidden from bob
//	dark (View for eng only)
func testSource(t *testing.T) *staticSource {
	t.Helper()

	joinExpiry := mustExpiry(t, "", time.Hour, 8*time.Hour)
	ticket := mustExpression(t, "ticket", "Provide a ticket reference",
		`input.ticket.startsWith("OPS-")`,
		[]constraint.Variable{{
			Type: constraint.TypeString, Name: "ticket", DisplayName: "Ticket", Min: 5, Max: 64,
		}})

	prod, err := policy.NewEnvironment("prod", "Production",
		(&acl.Builder{}).
			Allow(principal.ClassAllAuthenticated, policy.PermissionView).
			Allow(alice, policy.PermissionExport).
			Build(),
		true, policy.ConstraintSet{}, policy.Metadata{Source: "test"})
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}

	payments, err := policy.NewSystem("payments", "Payment backends", nil, false, policy.ConstraintSet{})
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	if err := prod.AddSystem(payments); err != nil {
		t.Fatalf("AddSystem: %v", err)
	}

	dbw, err := policy.NewJitGroup("db-writer", "Write access to payment DB",
		(&acl.Builder{}).
			Allow(alice, policy.PermissionJoin).
			Allow(approvers, policy.PermissionApproveOthers).
			Deny(bob, policy.PermissionView).
			Build(),
		true,
		policy.ConstraintSet{Join: []constraint.Constraint{joinExpiry, ticket}},
		nil)
	if err != nil {
		t.Fatalf("NewJitGroup: %v", err)
	}
	if err := payments.AddGroup(dbw); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}

	lgr, err := policy.NewJitGroup("log-reader", "Read access to payment logs",
		(&acl.Builder{}).
			Allow(principal.ClassAllAuthenticated, policy.PermissionJoin).
			Build(),
		true,
		policy.ConstraintSet{Join: []constraint.Constraint{mustExpiry(t, "", time.Hour, time.Hour)}},
		nil)
	if err != nil {
		t.Fatalf("NewJitGroup: %v", err)
	}
	if err := payments.AddGroup(lgr); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}

	secret, err := policy.NewSystem("secret-sys", "",
		(&acl.Builder{}).Deny(bob, policy.PermissionView).Build(),
		true, policy.ConstraintSet{})
	if err != nil {
		t.Fatalf("NewSystem: %v", err)
	}
	if err := prod.AddSystem(secret); err != nil {
		t.Fatalf("AddSystem: %v", err)
	}

	dark, err := policy.NewEnvironment("dark", "Restricted",
		(&acl.Builder{}).Allow(eng, policy.PermissionView).Build(),
		true, policy.ConstraintSet{}, policy.Metadata{Source: "test"})
	if err != nil {
		t.Fatalf("NewEnvironment: %v", err)
	}

	return &staticSource{envs: []*policy.EnvironmentPolicy{prod, dark}}
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New(testSource(t))
	c.now = func() time.Time { return testNow }
	return c
}

// mustSubject mirrors what the resolver produces: the user, the given
// principals, and the allAuthenticated class.
func mustSubject(t *testing.T, user principal.ID, principals ...principal.Principal) *subject.Subject {
	t.Helper()
	principals = append(principals, principal.Principal{ID: principal.ClassAllAuthenticated})
	s, err := subject.New(user, principals...)
	if err != nil {
		t.Fatalf("subject.New: %v", err)
	}
	return s
}

func aliceSubject(t *testing.T) *subject.Subject {
	return mustSubject(t, alice, principal.Principal{ID: eng})
}

func bobSubject(t *testing.T) *subject.Subject {
	return mustSubject(t, bob)
}

func carolSubject(t *testing.T) *subject.Subject {
	expiry := testNow.Add(45 * time.Minute)
	return mustSubject(t, carol, principal.Principal{ID: dbWriter.ID(), NotAfter: expiry})
}

func daveSubject(t *testing.T) *subject.Subject {
	return mustSubject(t, dave, principal.Principal{ID: approvers})
}

func TestEnvironmentsVisibility(t *testing.T) {
	c := testCatalog(t)

	got := c.Environments(aliceSubject(t))
	want := []EnvironmentView{
		{Name: "dark", Description: "Restricted"},
		{Name: "prod", Description: "Production", CanExport: true,
			Systems: []string{"payments", "secret-sys"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("alice environments (-want +got):\n%s", diff)
	}

	got = c.Environments(bobSubject(t))
	want = []EnvironmentView{
		{Name: "prod", Description: "Production", Systems: []string{"payments"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bob environments (-want +got):\n%s", diff)
	}
}

func TestEnvironmentLookup(t *testing.T) {
	c := testCatalog(t)

	// Lookups canonicalize the name.
	view, err := c.Environment(aliceSubject(t), "PROD")
	if err != nil {
		t.Fatalf("Environment(PROD): %v", err)
	}
	if view.Name != "prod" || !view.CanExport {
		t.Errorf("Environment(PROD) = %+v", view)
	}

	// Hidden and missing environments are indistinguishable.
	for _, name := range []string{"dark", "nope"} {
		if _, err := c.Environment(bobSubject(t), name); !errors.Is(err, apierror.ErrResourceNotFound) {
			t.Errorf("Environment(%q) err = %v, want ErrResourceNotFound", name, err)
		}
	}
}

func TestSystemVisibility(t *testing.T) {
	c := testCatalog(t)

	view, err := c.System(aliceSubject(t), "prod", "payments")
	if err != nil {
		t.Fatalf("System: %v", err)
	}
	if diff := cmp.Diff([]string{"db-writer", "log-reader"}, view.Groups); diff != "" {
		t.Errorf("alice groups (-want +got):\n%s", diff)
	}

	// db-writer denies bob View, so it disappears from the listing.
	view, err = c.System(bobSubject(t), "prod", "payments")
	if err != nil {
		t.Fatalf("System: %v", err)
	}
	if diff := cmp.Diff([]string{"log-reader"}, view.Groups); diff != "" {
		t.Errorf("bob groups (-want +got):\n%s", diff)
	}

	if _, err := c.System(bobSubject(t), "prod", "secret-sys"); !errors.Is(err, apierror.ErrResourceNotFound) {
		t.Errorf("System(secret-sys) err = %v, want ErrResourceNotFound", err)
	}
}

func TestGroupView(t *testing.T) {
	c := testCatalog(t)

	view, err := c.Group(aliceSubject(t), "prod", "payments", "db-writer")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if view.ID != dbWriter {
		t.Errorf("ID = %v, want %v", view.ID, dbWriter)
	}
	if !view.CanJoin || view.CanApprove {
		t.Errorf("alice CanJoin=%v CanApprove=%v, want true false", view.CanJoin, view.CanApprove)
	}
	if view.Membership != nil {
		t.Errorf("alice Membership = %v, want nil", view.Membership)
	}
	if view.Policy() == nil {
		t.Error("Policy() = nil")
	}

	view, err = c.Group(daveSubject(t), "prod", "payments", "db-writer")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if view.CanJoin || !view.CanApprove {
		t.Errorf("dave CanJoin=%v CanApprove=%v, want false true", view.CanJoin, view.CanApprove)
	}

	view, err = c.Group(bobSubject(t), "prod", "payments", "log-reader")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if view.ID != logReader || !view.CanJoin {
		t.Errorf("bob log-reader CanJoin = %v, want true", view.CanJoin)
	}

	view, err = c.Group(carolSubject(t), "prod", "payments", "db-writer")
	if err != nil {
		t.Fatalf("Group: %v", err)
	}
	if view.Membership == nil {
		t.Fatal("carol Membership = nil, want active membership")
	}
	if got := view.Membership.NotAfter; !got.Equal(testNow.Add(45 * time.Minute)) {
		t.Errorf("Membership.NotAfter = %v", got)
	}
}

func TestGroupHiddenOrMissing(t *testing.T) {
	c := testCatalog(t)

	cases := []struct {
		name          string
		sub           *subject.Subject
		env, sys, grp string
	}{
		{"hidden group", bobSubject(t), "prod", "payments", "db-writer"},
		{"missing group", aliceSubject(t), "prod", "payments", "nope"},
		{"missing system", aliceSubject(t), "prod", "nope", "db-writer"},
		{"hidden environment", bobSubject(t), "dark", "payments", "db-writer"},
		{"invalid name", aliceSubject(t), "prod", "payments", "not a name!"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Group(tc.sub, tc.env, tc.sys, tc.grp)
			if !errors.Is(err, apierror.ErrResourceNotFound) {
				t.Errorf("Group err = %v, want ErrResourceNotFound", err)
			}
		})
	}
}

func TestResolveGroupSkipsViewGate(t *testing.T) {
	c := testCatalog(t)

	// dbWriter denies bob the View bit; ResolveGroup must return it anyway.
	grp, err := c.ResolveGroup(dbWriter)
	if err != nil {
		t.Fatalf("ResolveGroup: %v", err)
	}
	if id, ok := grp.ID(); !ok || id != dbWriter {
		t.Errorf("ResolveGroup ID = %v, want %v", id, dbWriter)
	}

	missing := principal.JitGroupID{Environment: "prod", System: "payments", Name: "nope"}
	if _, err := c.ResolveGroup(missing); !errors.Is(err, apierror.ErrResourceNotFound) {
		t.Errorf("ResolveGroup of missing group err = %v, want ErrResourceNotFound", err)
	}
}

func TestExport(t *testing.T) {
	c := testCatalog(t)

	data, err := c.Export(aliceSubject(t), "prod")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	env, diags := document.Parse(data, policy.Metadata{Source: "export"})
	if env == nil {
		t.Fatalf("exported document does not parse: %v", diags.Issues())
	}
	if env.Name() != "prod" {
		t.Errorf("exported environment = %q, want prod", env.Name())
	}

	var denied *apierror.AccessDeniedError
	if _, err := c.Export(bobSubject(t), "prod"); !errors.As(err, &denied) {
		t.Errorf("Export without permission err = %v, want AccessDeniedError", err)
	}
	if _, err := c.Export(bobSubject(t), "dark"); !errors.Is(err, apierror.ErrResourceNotFound) {
		t.Errorf("Export of hidden environment err = %v, want ErrResourceNotFound", err)
	}
}
