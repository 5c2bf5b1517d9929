/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package catalog is the subject-facing view of the policy tree. Every
// lookup is gated on the View permission: a node the subject may not see is
// reported as not found, never as forbidden, so names cannot be enumerated.
// The package also hosts the policy analysis that join and approve decisions
// are built on.
package catalog

import (
	"sort"
	"time"

	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/apierror"
	"github.com/stratumsec/claviger/internal/policy"
	"github.com/stratumsec/claviger/internal/policy/document"
	"github.com/stratumsec/claviger/internal/principal"
	"github.com/stratumsec/claviger/internal/subject"
)

// PolicySource yields the current policy snapshot. Implementations return
// consistent trees: a tree observed by one call does not mutate.
type PolicySource interface {
	// Environments returns every environment of the snapshot.
	Environments() []*policy.EnvironmentPolicy
	// Environment looks an environment up by canonical name.
	Environment(name string) (*policy.EnvironmentPolicy, bool)
}

// Catalog answers read queries against a policy source for one subject at a
// time. It holds no per-subject state and is safe for concurrent use.
type Catalog struct {
	source PolicySource
	now    func() time.Time
}

// New builds a catalog over source.
func New(source PolicySource) *Catalog {
	return &Catalog{source: source, now: time.Now}
}

// EnvironmentView is the catalog entry for one environment.
type EnvironmentView struct {
	Name        string
	Description string
	// CanExport reports whether the subject may export the environment's
	// policy document.
	CanExport bool
	// Systems lists the visible system names, sorted.
	Systems []string
}

// SystemView is the catalog entry for one system.
type SystemView struct {
	Environment string
	Name        string
	Description string
	// Groups lists the visible group names, sorted.
	Groups []string
}

// GroupView is the catalog entry for one JIT group.
type GroupView struct {
	ID          principal.JitGroupID
	Description string
	// CanJoin and CanApprove are ACL-only signals; constraints are not
	// evaluated here.
	CanJoin    bool
	CanApprove bool
	// Membership is the subject's still-active JIT membership, if any.
	Membership *principal.Principal
	Privileges []policy.RoleBinding

	node *policy.JitGroupPolicy
}

// Policy returns the underlying policy node, for analyses.
func (v GroupView) Policy() *policy.JitGroupPolicy { return v.node }

func visible(p policy.Policy, held acl.HeldSet) bool {
	return policy.IsAllowedByACL(p, held, policy.PermissionView)
}

// Environments lists every environment visible to the subject, ordered by
// name.
func (c *Catalog) Environments(sub *subject.Subject) []EnvironmentView {
	held := sub.ActiveSet(c.now())
	var views []EnvironmentView
	for _, env := range c.source.Environments() {
		if !visible(env, held) {
			continue
		}
		views = append(views, c.environmentView(env, held))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// Environment looks up one visible environment by name.
func (c *Catalog) Environment(sub *subject.Subject, name string) (EnvironmentView, error) {
	held := sub.ActiveSet(c.now())
	env, ok := c.lookupEnvironment(name, held)
	if !ok {
		return EnvironmentView{}, apierror.ErrResourceNotFound
	}
	return c.environmentView(env, held), nil
}

// System looks up one visible system, descending through its environment.
func (c *Catalog) System(sub *subject.Subject, envName, sysName string) (SystemView, error) {
	held := sub.ActiveSet(c.now())
	env, ok := c.lookupEnvironment(envName, held)
	if !ok {
		return SystemView{}, apierror.ErrResourceNotFound
	}
	sys, ok := env.System(sysName)
	if !ok || !visible(sys, held) {
		return SystemView{}, apierror.ErrResourceNotFound
	}
	return c.systemView(env, sys, held), nil
}

// Group looks up one visible group, descending through environment and
// system.
func (c *Catalog) Group(sub *subject.Subject, envName, sysName, grpName string) (GroupView, error) {
	id, err := principal.NewJitGroupID(envName, sysName, grpName)
	if err != nil {
		return GroupView{}, apierror.ErrResourceNotFound
	}
	return c.GroupByID(sub, id)
}

// GroupByID is Group keyed by a parsed identifier.
func (c *Catalog) GroupByID(sub *subject.Subject, id principal.JitGroupID) (GroupView, error) {
	now := c.now()
	held := sub.ActiveSet(now)
	grp, err := c.lookupGroup(id, held)
	if err != nil {
		return GroupView{}, err
	}
	view := GroupView{
		ID:          id,
		Description: grp.Description(),
		CanJoin:     policy.IsAllowedByACL(grp, held, policy.PermissionJoin),
		CanApprove:  policy.IsAllowedByACL(grp, held, policy.PermissionApproveOthers),
		Privileges:  grp.Privileges(),
		node:        grp,
	}
	if m, ok := sub.ActiveMembership(id, now); ok {
		view.Membership = &m
	}
	return view, nil
}

// ResolveGroup fetches a group node without the View gate. Callers hold a
// signed proposal token naming the group, so hiding it would not conceal
// anything; the analyses run on the result still enforce permissions.
func (c *Catalog) ResolveGroup(id principal.JitGroupID) (*policy.JitGroupPolicy, error) {
	env, ok := c.source.Environment(id.Environment)
	if !ok {
		return nil, apierror.ErrResourceNotFound
	}
	sys, ok := env.System(id.System)
	if !ok {
		return nil, apierror.ErrResourceNotFound
	}
	grp, ok := sys.Group(id.Name)
	if !ok {
		return nil, apierror.ErrResourceNotFound
	}
	return grp, nil
}

// Export renders the policy document of a visible environment. Beyond
// visibility, the subject must hold the Export permission on it.
func (c *Catalog) Export(sub *subject.Subject, name string) ([]byte, error) {
	held := sub.ActiveSet(c.now())
	env, ok := c.lookupEnvironment(name, held)
	if !ok {
		return nil, apierror.ErrResourceNotFound
	}
	if !policy.IsAllowedByACL(env, held, policy.PermissionExport) {
		return nil, apierror.AccessDenied("not authorized to export environment %q", env.Name())
	}
	return document.Emit(env)
}

func (c *Catalog) lookupEnvironment(name string, held acl.HeldSet) (*policy.EnvironmentPolicy, bool) {
	env, ok := c.source.Environment(principal.CanonicalName(name))
	if !ok || !visible(env, held) {
		return nil, false
	}
	return env, true
}

func (c *Catalog) lookupGroup(id principal.JitGroupID, held acl.HeldSet) (*policy.JitGroupPolicy, error) {
	env, ok := c.lookupEnvironment(id.Environment, held)
	if !ok {
		return nil, apierror.ErrResourceNotFound
	}
	sys, ok := env.System(id.System)
	if !ok || !visible(sys, held) {
		return nil, apierror.ErrResourceNotFound
	}
	grp, ok := sys.Group(id.Name)
	if !ok || !visible(grp, held) {
		return nil, apierror.ErrResourceNotFound
	}
	return grp, nil
}

func (c *Catalog) environmentView(env *policy.EnvironmentPolicy, held acl.HeldSet) EnvironmentView {
	view := EnvironmentView{
		Name:        env.Name(),
		Description: env.Description(),
		CanExport:   policy.IsAllowedByACL(env, held, policy.PermissionExport),
	}
	for _, sys := range env.Systems() {
		if visible(sys, held) {
			view.Systems = append(view.Systems, sys.Name())
		}
	}
	sort.Strings(view.Systems)
	return view
}

func (c *Catalog) systemView(env *policy.EnvironmentPolicy, sys *policy.SystemPolicy, held acl.HeldSet) SystemView {
	view := SystemView{
		Environment: env.Name(),
		Name:        sys.Name(),
		Description: sys.Description(),
	}
	for _, grp := range sys.Groups() {
		if visible(grp, held) {
			view.Groups = append(view.Groups, grp.Name())
		}
	}
	sort.Strings(view.Groups)
	return view
}
