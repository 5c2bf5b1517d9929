/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package policy models the hierarchy an administrator declares: an
// environment containing systems containing JIT groups, each node carrying
// an optional ACL, join and approve constraints, and, on groups, the role
// bindings a membership confers.
//
// Trees are built once (by the document codec or programmatically), wired
// parent to child with AddSystem/AddGroup, and never mutated afterwards.
// Effective ACLs and constraints are computed on read from the parent chain.
package policy

import (
	"fmt"
	"time"

	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/constraint"
	"github.com/stratumsec/claviger/internal/principal"
)

// ConstraintClass selects which operation a constraint set guards.
type ConstraintClass int

const (
	// ClassJoin constraints gate the join operation. At most one expiry
	// constraint is allowed here.
	ClassJoin ConstraintClass = iota
	// ClassApprove constraints gate the approve operation. Expiry
	// constraints are not allowed here.
	ClassApprove
)

func (c ConstraintClass) String() string {
	if c == ClassApprove {
		return "approve"
	}
	return "join"
}

// ConstraintSet holds a node's own constraints per class.
type ConstraintSet struct {
	Join    []constraint.Constraint
	Approve []constraint.Constraint
}

// ForClass returns the constraints of one class.
func (s ConstraintSet) ForClass(c ConstraintClass) []constraint.Constraint {
	if c == ClassApprove {
		return s.Approve
	}
	return s.Join
}

// Validate enforces the structural invariants: at most one expiry constraint
// in the join class, none in the approve class, and unique names per class.
func (s ConstraintSet) Validate() error {
	for _, class := range []ConstraintClass{ClassJoin, ClassApprove} {
		expiries := 0
		seen := make(map[string]struct{})
		for _, c := range s.ForClass(class) {
			if _, dup := seen[c.Name()]; dup {
				return fmt.Errorf("%s constraints: duplicate name %q", class, c.Name())
			}
			seen[c.Name()] = struct{}{}
			if constraint.IsExpiry(c) {
				expiries++
			}
		}
		if class == ClassJoin && expiries > 1 {
			return fmt.Errorf("join constraints: more than one expiry constraint")
		}
		if class == ClassApprove && expiries > 0 {
			return fmt.Errorf("approve constraints: expiry constraint not allowed")
		}
	}
	return nil
}

// Metadata describes where the environment document came from. It is
// attached to the root and inherited by every descendant.
type Metadata struct {
	Source       string
	LastModified time.Time
	Version      string
	// DefaultName substitutes for a missing environment name in the
	// document.
	DefaultName string
}

// Policy is the capability set common to all three node kinds.
type Policy interface {
	// Name is the canonical lowercase node name.
	Name() string
	// Description is free-form display text.
	Description() string
	// ACL returns the node's own entries; ok is false when the node
	// declares none.
	ACL() (acl.ACL, bool)
	// Constraints returns the node's own constraints for a class.
	Constraints(class ConstraintClass) []constraint.Constraint
	// EffectiveACL is the parent's effective ACL followed by the node's
	// own entries.
	EffectiveACL() acl.ACL
	// EffectiveConstraints merges the parent chain by constraint name;
	// a child constraint overrides the parent constraint of the same
	// name in place.
	EffectiveConstraints(class ConstraintClass) []constraint.Constraint
	// Metadata is inherited from the environment root.
	Metadata() Metadata
	// Parent returns the containing node; ok is false on the root.
	Parent() (Policy, bool)
}

// node carries the fields shared by all kinds.
type node struct {
	name        string
	description string
	hasACL      bool
	acl         acl.ACL
	constraints ConstraintSet
	parent      Policy
}

func newNode(name, description string, list acl.ACL, hasACL bool, cs ConstraintSet) (node, error) {
	if !principal.ValidName(name) {
		return node{}, fmt.Errorf("invalid name %q", name)
	}
	if err := cs.Validate(); err != nil {
		return node{}, err
	}
	return node{
		name:        principal.CanonicalName(name),
		description: description,
		hasACL:      hasACL,
		acl:         list,
		constraints: cs,
	}, nil
}

func (n *node) Name() string        { return n.name }
func (n *node) Description() string { return n.description }

func (n *node) ACL() (acl.ACL, bool) {
	if !n.hasACL {
		return nil, false
	}
	return n.acl, true
}

func (n *node) Constraints(class ConstraintClass) []constraint.Constraint {
	return n.constraints.ForClass(class)
}

func (n *node) Parent() (Policy, bool) {
	if n.parent == nil {
		return nil, false
	}
	return n.parent, true
}

func (n *node) effectiveACL() acl.ACL {
	var out acl.ACL
	if n.parent != nil {
		out = append(out, n.parent.EffectiveACL()...)
	}
	if n.hasACL {
		out = append(out, n.acl...)
	}
	return out
}

func (n *node) effectiveConstraints(class ConstraintClass) []constraint.Constraint {
	var out []constraint.Constraint
	if n.parent != nil {
		out = append(out, n.parent.EffectiveConstraints(class)...)
	}
	for _, c := range n.constraints.ForClass(class) {
		replaced := false
		for i, existing := range out {
			if existing.Name() == c.Name() {
				out[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, c)
		}
	}
	return out
}

func (n *node) metadata() Metadata {
	if n.parent != nil {
		return n.parent.Metadata()
	}
	return Metadata{}
}

// IsAllowedByACL evaluates the node's effective ACL against a held
// principal set.
func IsAllowedByACL(p Policy, held acl.HeldSet, required acl.Mask) bool {
	return p.EffectiveACL().IsAllowed(held, required)
}

// EnvironmentPolicy is the tree root.
type EnvironmentPolicy struct {
	node
	meta    Metadata
	systems []*SystemPolicy
	index   map[string]*SystemPolicy
}

// NewEnvironment builds a root node. Pass hasACL false to declare no own
// entries; the document codec substitutes the format default in that case.
func NewEnvironment(name, description string, list acl.ACL, hasACL bool, cs ConstraintSet, meta Metadata) (*EnvironmentPolicy, error) {
	n, err := newNode(name, description, list, hasACL, cs)
	if err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return &EnvironmentPolicy{node: n, meta: meta, index: make(map[string]*SystemPolicy)}, nil
}

func (e *EnvironmentPolicy) Metadata() Metadata { return e.meta }
func (e *EnvironmentPolicy) EffectiveACL() acl.ACL {
	return e.effectiveACL()
}

func (e *EnvironmentPolicy) EffectiveConstraints(class ConstraintClass) []constraint.Constraint {
	return e.effectiveConstraints(class)
}

// AddSystem wires a child system. The child must not already have a parent,
// and its name must be unique among siblings.
func (e *EnvironmentPolicy) AddSystem(s *SystemPolicy) error {
	if s == nil {
		return fmt.Errorf("environment %q: nil system", e.name)
	}
	if s.parent != nil {
		return fmt.Errorf("system %q already has a parent", s.name)
	}
	if _, dup := e.index[s.name]; dup {
		return fmt.Errorf("environment %q: duplicate system %q", e.name, s.name)
	}
	s.parent = e
	e.systems = append(e.systems, s)
	e.index[s.name] = s
	return nil
}

// Systems returns the children in document order.
func (e *EnvironmentPolicy) Systems() []*SystemPolicy {
	out := make([]*SystemPolicy, len(e.systems))
	copy(out, e.systems)
	return out
}

// System looks a child up by canonical name.
func (e *EnvironmentPolicy) System(name string) (*SystemPolicy, bool) {
	s, ok := e.index[principal.CanonicalName(name)]
	return s, ok
}

// SystemPolicy groups the JIT groups of one system.
type SystemPolicy struct {
	node
	groups []*JitGroupPolicy
	index  map[string]*JitGroupPolicy
}

// NewSystem builds an unparented system node.
func NewSystem(name, description string, list acl.ACL, hasACL bool, cs ConstraintSet) (*SystemPolicy, error) {
	n, err := newNode(name, description, list, hasACL, cs)
	if err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}
	return &SystemPolicy{node: n, index: make(map[string]*JitGroupPolicy)}, nil
}

func (s *SystemPolicy) Metadata() Metadata { return s.metadata() }
func (s *SystemPolicy) EffectiveACL() acl.ACL {
	return s.effectiveACL()
}

func (s *SystemPolicy) EffectiveConstraints(class ConstraintClass) []constraint.Constraint {
	return s.effectiveConstraints(class)
}

// AddGroup wires a child group, with the same rules as AddSystem.
func (s *SystemPolicy) AddGroup(g *JitGroupPolicy) error {
	if g == nil {
		return fmt.Errorf("system %q: nil group", s.name)
	}
	if g.parent != nil {
		return fmt.Errorf("group %q already has a parent", g.name)
	}
	if _, dup := s.index[g.name]; dup {
		return fmt.Errorf("system %q: duplicate group %q", s.name, g.name)
	}
	g.parent = s
	s.groups = append(s.groups, g)
	s.index[g.name] = g
	return nil
}

// Groups returns the children in document order.
func (s *SystemPolicy) Groups() []*JitGroupPolicy {
	out := make([]*JitGroupPolicy, len(s.groups))
	copy(out, s.groups)
	return out
}

// Group looks a child up by canonical name.
func (s *SystemPolicy) Group(name string) (*JitGroupPolicy, bool) {
	g, ok := s.index[principal.CanonicalName(name)]
	return g, ok
}

// Environment returns the root, or false when the system is unparented.
func (s *SystemPolicy) Environment() (*EnvironmentPolicy, bool) {
	e, ok := s.parent.(*EnvironmentPolicy)
	return e, ok
}

// JitGroupPolicy is a leaf: the group users join, with the role bindings a
// membership confers.
type JitGroupPolicy struct {
	node
	privileges []RoleBinding
}

// NewJitGroup builds an unparented group node. Role bindings are validated
// for duplicates by checksum.
func NewJitGroup(name, description string, list acl.ACL, hasACL bool, cs ConstraintSet, privileges []RoleBinding) (*JitGroupPolicy, error) {
	n, err := newNode(name, description, list, hasACL, cs)
	if err != nil {
		return nil, fmt.Errorf("group: %w", err)
	}
	seen := make(map[uint32]struct{}, len(privileges))
	for _, rb := range privileges {
		sum := rb.Checksum()
		if _, dup := seen[sum]; dup {
			return nil, fmt.Errorf("group %q: duplicate role binding %s on %s", name, rb.Role, rb.Resource)
		}
		seen[sum] = struct{}{}
	}
	p := make([]RoleBinding, len(privileges))
	copy(p, privileges)
	return &JitGroupPolicy{node: n, privileges: p}, nil
}

func (g *JitGroupPolicy) Metadata() Metadata { return g.metadata() }
func (g *JitGroupPolicy) EffectiveACL() acl.ACL {
	return g.effectiveACL()
}

func (g *JitGroupPolicy) EffectiveConstraints(class ConstraintClass) []constraint.Constraint {
	return g.effectiveConstraints(class)
}

// Privileges returns the role bindings in document order.
func (g *JitGroupPolicy) Privileges() []RoleBinding {
	out := make([]RoleBinding, len(g.privileges))
	copy(out, g.privileges)
	return out
}

// System returns the containing system, or false when unparented.
func (g *JitGroupPolicy) System() (*SystemPolicy, bool) {
	s, ok := g.parent.(*SystemPolicy)
	return s, ok
}

// ID returns the environment-system-name triple. ok is false until the
// group is wired into a complete tree.
func (g *JitGroupPolicy) ID() (principal.JitGroupID, bool) {
	sys, ok := g.parent.(*SystemPolicy)
	if !ok {
		return principal.JitGroupID{}, false
	}
	env, ok := sys.parent.(*EnvironmentPolicy)
	if !ok {
		return principal.JitGroupID{}, false
	}
	return principal.JitGroupID{Environment: env.name, System: sys.name, Name: g.name}, true
}
