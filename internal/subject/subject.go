/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package subject builds the per-request view of a requester: the user plus
// every principal the user holds, each with its validity window.
package subject

import (
	"fmt"
	"sort"
	"time"

	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/principal"
)

// Subject is an immutable snapshot of one requester. The principal set
// always contains the user itself; JIT memberships carry a finite expiry,
// every other principal is open-ended.
type Subject struct {
	user       principal.ID
	principals []principal.Principal
}

// New assembles a subject. The user principal is included automatically;
// duplicate IDs among principals collapse to the first occurrence. It
// enforces the validity invariants: a JIT membership must expire, nothing
// else may carry a window.
func New(user principal.ID, principals ...principal.Principal) (*Subject, error) {
	if user.Kind() != principal.KindUser {
		return nil, fmt.Errorf("subject requires a user principal, got %q", user)
	}
	out := make([]principal.Principal, 0, len(principals)+1)
	out = append(out, principal.Principal{ID: user})
	seen := map[principal.ID]struct{}{user: {}}
	for _, p := range principals {
		if p.ID.IsZero() {
			return nil, fmt.Errorf("subject %q: zero principal", user.Value())
		}
		if p.ID.Kind() == principal.KindJitGroup {
			if p.NotAfter.IsZero() {
				return nil, fmt.Errorf("subject %q: JIT membership %q without expiry", user.Value(), p.ID)
			}
		} else if !p.NotBefore.IsZero() || !p.NotAfter.IsZero() {
			return nil, fmt.Errorf("subject %q: principal %q must not carry a validity window", user.Value(), p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return &Subject{user: user, principals: out}, nil
}

// User returns the requesting user's identifier.
func (s *Subject) User() principal.ID { return s.user }

// Email returns the requesting user's email address.
func (s *Subject) Email() string { return s.user.Value() }

// Principals returns every held principal, active or not.
func (s *Subject) Principals() []principal.Principal {
	out := make([]principal.Principal, len(s.principals))
	copy(out, s.principals)
	return out
}

// ActiveSet returns the identifiers of the principals active at now, in the
// form ACL evaluation consumes.
func (s *Subject) ActiveSet(now time.Time) acl.HeldSet {
	held := make(acl.HeldSet, len(s.principals))
	for _, p := range s.principals {
		if p.ActiveAt(now) {
			held[p.ID] = struct{}{}
		}
	}
	return held
}

// ActiveMembership returns the subject's membership of the given JIT group
// if it is active at now.
func (s *Subject) ActiveMembership(id principal.JitGroupID, now time.Time) (principal.Principal, bool) {
	want := id.ID()
	for _, p := range s.principals {
		if p.ID == want && p.ActiveAt(now) {
			return p, true
		}
	}
	return principal.Principal{}, false
}

// ActiveStrings returns the canonical string forms of the principals active
// at now, sorted, as published to constraint expressions.
func (s *Subject) ActiveStrings(now time.Time) []string {
	out := make([]string, 0, len(s.principals))
	for _, p := range s.principals {
		if p.ActiveAt(now) {
			out = append(out, p.ID.String())
		}
	}
	sort.Strings(out)
	return out
}
