/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package directory defines the lookup port for an external group directory
// and the email scheme under which JIT groups materialize there.
package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stratumsec/claviger/internal/principal"
)

// Membership is one direct group membership as the directory reports it.
type Membership struct {
	// Group is the group's email address.
	Group string
	// Expiry is when the membership lapses; nil when it does not expire.
	// Memberships in JIT-managed groups always carry one.
	Expiry *time.Time
}

// Directory looks up a user's direct group memberships. Implementations call
// an external identity service; they must honor ctx cancellation.
type Directory interface {
	DirectMemberships(ctx context.Context, userEmail string) ([]Membership, error)
}

// Func adapts a plain function to the Directory interface.
type Func func(ctx context.Context, userEmail string) ([]Membership, error)

func (f Func) DirectMemberships(ctx context.Context, userEmail string) ([]Membership, error) {
	return f(ctx, userEmail)
}

// jitLocalPrefix marks directory groups managed by the broker. The local
// part encodes the group triple: jit.<environment>.<system>.<name>.
const jitLocalPrefix = "jit."

// JitGroupEmail renders the directory address a JIT group materializes
// under.
func JitGroupEmail(id principal.JitGroupID, domain string) string {
	return jitLocalPrefix + id.String() + "@" + strings.ToLower(strings.TrimSpace(domain))
}

// ParseJitGroupEmail recovers the group triple from a directory address.
// It returns false when the address is outside domain, does not carry the
// scheme prefix, or encodes an invalid triple. Matching is case-insensitive.
func ParseJitGroupEmail(email, domain string) (principal.JitGroupID, bool) {
	local, dom, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok || dom != strings.ToLower(strings.TrimSpace(domain)) {
		return principal.JitGroupID{}, false
	}
	triple, ok := strings.CutPrefix(local, jitLocalPrefix)
	if !ok {
		return principal.JitGroupID{}, false
	}
	return principal.ParseJitGroupID(triple)
}

// Static is an in-memory Directory for tests and the simulator.
type Static struct {
	mu      sync.RWMutex
	members map[string][]Membership
	err     error
}

// NewStatic returns an empty in-memory directory.
func NewStatic() *Static {
	return &Static{members: make(map[string][]Membership)}
}

// AddMembership records a membership for a user. expiry may be nil.
func (s *Static) AddMembership(userEmail, groupEmail string, expiry *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(userEmail))
	s.members[key] = append(s.members[key], Membership{
		Group:  strings.ToLower(strings.TrimSpace(groupEmail)),
		Expiry: expiry,
	})
}

// SetError makes every subsequent lookup fail with err. Pass nil to clear.
func (s *Static) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) DirectMemberships(ctx context.Context, userEmail string) ([]Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	list := s.members[strings.ToLower(strings.TrimSpace(userEmail))]
	out := make([]Membership, len(list))
	copy(out, list)
	return out, nil
}
