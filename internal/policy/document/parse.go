/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/constraint"
	"github.com/stratumsec/claviger/internal/iso8601"
	"github.com/stratumsec/claviger/internal/policy"
	"github.com/stratumsec/claviger/internal/principal"
)

// scopeFile labels issues that concern the document as a whole rather than
// one node.
const scopeFile = "file"

// unknownFieldPattern matches the strict-decoding errors yaml.v3 produces for
// properties the schema does not declare.
var unknownFieldPattern = regexp.MustCompile(`line (\d+): field (\S+) not found in type`)

// Parse decodes a policy document and builds the policy tree. The returned
// Diagnostics is never nil; the tree is nil whenever any error-severity issue
// was recorded. meta is attached to the environment root, and meta.DefaultName
// substitutes for a missing environment name.
func Parse(data []byte, meta policy.Metadata) (*policy.EnvironmentPolicy, *Diagnostics) {
	diags := &Diagnostics{}

	var root documentRoot
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&root); err != nil && !errors.Is(err, io.EOF) {
		recordDecodeError(diags, err)
		return nil, diags
	}

	switch v := root.SchemaVersion.(type) {
	case nil:
		diags.errorf(scopeFile, CodeFileInvalidVersion, "schemaVersion is required")
	case int:
		if v != SchemaVersion {
			diags.errorf(scopeFile, CodeFileInvalidVersion, "unsupported schemaVersion %d, expected %d", v, SchemaVersion)
		}
	default:
		diags.errorf(scopeFile, CodeFileInvalidVersion, "schemaVersion must be the number %d", SchemaVersion)
	}

	if root.Environment == nil {
		diags.errorf(scopeFile, CodeEnvironmentMissing, "document declares no environment")
		return nil, diags
	}

	b := &builder{diags: diags, meta: meta}
	env := b.environment(root.Environment)
	if diags.HasErrors() {
		return nil, diags
	}
	return env, diags
}

// recordDecodeError translates decoder failures. yaml.TypeError carries one
// sub-error per problem; unknown-field messages get their own code so clients
// can distinguish typos from malformed markup.
func recordDecodeError(diags *Diagnostics, err error) {
	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) {
		diags.errorf(scopeFile, CodeFileInvalidSyntax, "%v", err)
		return
	}
	for _, msg := range typeErr.Errors {
		if m := unknownFieldPattern.FindStringSubmatch(msg); m != nil {
			diags.errorf(scopeFile, CodeFileUnknownProperty, "unknown property %q (line %s)", m[2], m[1])
		} else {
			diags.errorf(scopeFile, CodeFileInvalidSyntax, "%s", msg)
		}
	}
}

// builder walks the decoded document and accumulates diagnostics. Nodes with
// an invalid name get a placeholder so validation of their children can
// continue; the placeholder never escapes because any error suppresses the
// tree.
type builder struct {
	diags *Diagnostics
	meta  policy.Metadata
}

const placeholderName = "invalid"

func (b *builder) environment(doc *environmentDoc) *policy.EnvironmentPolicy {
	name := strings.TrimSpace(doc.Name)
	if name == "" {
		name = strings.TrimSpace(b.meta.DefaultName)
	}
	scope := name
	switch {
	case name == "":
		b.diags.errorf("environment", CodeEnvironmentInvalid, "environment name is missing and no default applies")
		name, scope = placeholderName, "environment"
	case !principal.ValidName(name):
		b.diags.errorf(name, CodeEnvironmentInvalid, "invalid environment name %q", name)
		name = placeholderName
	default:
		name = principal.CanonicalName(name)
		scope = name
	}

	list, declared := b.accessList(scope, doc.Access)
	if !declared {
		list = DefaultEnvironmentACL()
	}
	cs := b.constraints(scope, doc.Constraints)

	env, err := policy.NewEnvironment(name, doc.Description, list, true, cs, b.meta)
	if err != nil {
		b.diags.errorf(scope, CodeEnvironmentInvalid, "%v", err)
		return nil
	}
	if len(doc.Systems) == 0 {
		b.diags.warnf(scope, CodeEnvironmentInvalid, "environment declares no systems")
	}
	for _, sd := range doc.Systems {
		sys := b.system(scope, sd)
		if sys == nil {
			continue
		}
		if err := env.AddSystem(sys); err != nil {
			b.diags.errorf(scope, CodeSystemInvalid, "%v", err)
		}
	}
	return env
}

func (b *builder) system(parentScope string, doc systemDoc) *policy.SystemPolicy {
	name := strings.TrimSpace(doc.Name)
	if !principal.ValidName(name) {
		b.diags.errorf(parentScope, CodeSystemInvalid, "invalid system name %q", doc.Name)
		name = placeholderName
	} else {
		name = principal.CanonicalName(name)
	}
	scope := parentScope + "." + name

	list, declared := b.accessList(scope, doc.Access)
	cs := b.constraints(scope, doc.Constraints)

	sys, err := policy.NewSystem(name, doc.Description, list, declared, cs)
	if err != nil {
		b.diags.errorf(scope, CodeSystemInvalid, "%v", err)
		return nil
	}
	if len(doc.Groups) == 0 {
		b.diags.warnf(scope, CodeSystemInvalid, "system declares no groups")
	}
	for _, gd := range doc.Groups {
		grp := b.group(scope, gd)
		if grp == nil {
			continue
		}
		if err := sys.AddGroup(grp); err != nil {
			b.diags.errorf(scope, CodeGroupInvalid, "%v", err)
		}
	}
	return sys
}

func (b *builder) group(parentScope string, doc groupDoc) *policy.JitGroupPolicy {
	name := strings.TrimSpace(doc.Name)
	if !principal.ValidName(name) {
		b.diags.errorf(parentScope, CodeGroupInvalid, "invalid group name %q", doc.Name)
		name = placeholderName
	} else {
		name = principal.CanonicalName(name)
	}
	scope := parentScope + "." + name

	list, declared := b.accessList(scope, doc.Access)
	cs := b.constraints(scope, doc.Constraints)
	privs := b.privileges(scope, doc.Privileges)

	grp, err := policy.NewJitGroup(name, doc.Description, list, declared, cs, privs)
	if err != nil {
		b.diags.errorf(scope, CodeGroupInvalid, "%v", err)
		return nil
	}
	return grp
}

// accessList builds a node's own ACL. declared is false when the document
// carries no access property at all, so the node only inherits.
func (b *builder) accessList(scope string, docs []aclEntryDoc) (list acl.ACL, declared bool) {
	if docs == nil {
		return nil, false
	}
	var ab acl.Builder
	for i, e := range docs {
		id, ok := principal.Parse(e.Principal)
		if !ok {
			b.diags.errorf(scope, CodeACLInvalidPrincipal, "access entry %d: invalid principal %q", i+1, e.Principal)
			continue
		}
		hasAllow := strings.TrimSpace(e.Allow) != ""
		hasDeny := strings.TrimSpace(e.Deny) != ""
		switch {
		case hasAllow && hasDeny:
			b.diags.errorf(scope, CodeACLInvalidPermission, "access entry %d: allow and deny are mutually exclusive", i+1)
		case !hasAllow && !hasDeny:
			b.diags.errorf(scope, CodeACLInvalidPermission, "access entry %d: allow or deny is required", i+1)
		case hasAllow:
			mask, err := policy.ParsePermissions(e.Allow)
			if err != nil {
				b.diags.errorf(scope, CodeACLInvalidPermission, "access entry %d: %v", i+1, err)
				continue
			}
			ab.Allow(id, mask)
		default:
			mask, err := policy.ParsePermissions(e.Deny)
			if err != nil {
				b.diags.errorf(scope, CodeACLInvalidPermission, "access entry %d: %v", i+1, err)
				continue
			}
			ab.Deny(id, mask)
		}
	}
	return ab.Build(), true
}

func (b *builder) constraints(scope string, doc *constraintsDoc) policy.ConstraintSet {
	var cs policy.ConstraintSet
	if doc == nil {
		return cs
	}
	cs.Join = b.constraintList(scope, policy.ClassJoin, doc.Join)
	cs.Approve = b.constraintList(scope, policy.ClassApprove, doc.Approve)
	return cs
}

func (b *builder) constraintList(scope string, class policy.ConstraintClass, docs []constraintDoc) []constraint.Constraint {
	var out []constraint.Constraint
	expiries := 0
	for i, cd := range docs {
		switch strings.ToLower(strings.TrimSpace(cd.Type)) {
		case "expiry":
			if class == policy.ClassApprove {
				b.diags.errorf(scope, CodeConstraintInvalidExpiry,
					"approve constraint %d: expiry constraints only apply to join", i+1)
				continue
			}
			expiries++
			if expiries > 1 {
				b.diags.errorf(scope, CodeConstraintInvalidExpiry,
					"join constraint %d: more than one expiry constraint", i+1)
				continue
			}
			if c := b.expiry(scope, i+1, cd); c != nil {
				out = append(out, c)
			}
		case "expression":
			if c := b.expression(scope, class, i+1, cd); c != nil {
				out = append(out, c)
			}
		case "":
			b.diags.errorf(scope, CodeConstraintInvalidType, "%s constraint %d: type is required", class, i+1)
		default:
			b.diags.errorf(scope, CodeConstraintInvalidType, "%s constraint %d: unsupported type %q", class, i+1, cd.Type)
		}
	}
	return out
}

func (b *builder) expiry(scope string, ord int, doc constraintDoc) constraint.Constraint {
	if strings.TrimSpace(doc.ExpiryMinDuration) == "" || strings.TrimSpace(doc.ExpiryMaxDuration) == "" {
		b.diags.errorf(scope, CodeConstraintInvalidExpiry,
			"join constraint %d: expiry requires expiryMinDuration and expiryMaxDuration", ord)
		return nil
	}
	min, err := iso8601.Parse(doc.ExpiryMinDuration)
	if err != nil {
		b.diags.errorf(scope, CodeConstraintInvalidExpiry, "join constraint %d: expiryMinDuration: %v", ord, err)
		return nil
	}
	max, err := iso8601.Parse(doc.ExpiryMaxDuration)
	if err != nil {
		b.diags.errorf(scope, CodeConstraintInvalidExpiry, "join constraint %d: expiryMaxDuration: %v", ord, err)
		return nil
	}
	c, err := constraint.NewExpiry(doc.Name, doc.DisplayName, min, max)
	if err != nil {
		b.diags.errorf(scope, CodeConstraintInvalidExpiry, "join constraint %d: %v", ord, err)
		return nil
	}
	return c
}

func (b *builder) expression(scope string, class policy.ConstraintClass, ord int, doc constraintDoc) constraint.Constraint {
	if strings.TrimSpace(doc.Name) == "" {
		b.diags.errorf(scope, CodeConstraintInvalidExpression, "%s constraint %d: name is required", class, ord)
		return nil
	}

	ok := true
	seen := make(map[string]struct{}, len(doc.Variables))
	vars := make([]constraint.Variable, 0, len(doc.Variables))
	for j, vd := range doc.Variables {
		v, err := buildVariable(vd)
		if err != nil {
			b.diags.errorf(scope, CodeConstraintInvalidVariable,
				"constraint %q variable %d: %v", doc.Name, j+1, err)
			ok = false
			continue
		}
		if _, dup := seen[v.Name]; dup {
			b.diags.errorf(scope, CodeConstraintInvalidVariable,
				"constraint %q: duplicate variable %q", doc.Name, v.Name)
			ok = false
			continue
		}
		seen[v.Name] = struct{}{}
		vars = append(vars, v)
	}
	if !ok {
		return nil
	}

	c, err := constraint.NewExpression(doc.Name, doc.DisplayName, doc.Expression, vars)
	if err != nil {
		b.diags.errorf(scope, CodeConstraintInvalidExpression, "%s constraint %d: %v", class, ord, err)
		return nil
	}
	return c
}

func buildVariable(doc variableDoc) (constraint.Variable, error) {
	t, ok := constraint.ParseVarType(doc.Type)
	if !ok {
		return constraint.Variable{}, fmt.Errorf("unsupported variable type %q", doc.Type)
	}
	v := constraint.Variable{
		Type:        t,
		Name:        strings.TrimSpace(doc.Name),
		DisplayName: doc.DisplayName,
	}
	switch t {
	case constraint.TypeString:
		v.Min, v.Max = DefaultStringBounds()
	case constraint.TypeInt:
		v.Min, v.Max = DefaultIntBounds()
	}
	if doc.Min != nil {
		v.Min = *doc.Min
	}
	if doc.Max != nil {
		v.Max = *doc.Max
	}
	if err := constraint.ValidateVariable(v); err != nil {
		return constraint.Variable{}, err
	}
	return v, nil
}

// DefaultStringBounds returns the length bounds assumed for a string
// variable declared without min or max.
func DefaultStringBounds() (min, max int64) {
	return constraint.DefaultStringMinLen, constraint.DefaultStringMaxLen
}

// DefaultIntBounds returns the value bounds assumed for an int variable
// declared without min or max.
func DefaultIntBounds() (min, max int64) {
	return constraint.DefaultIntMin, constraint.DefaultIntMax
}

func (b *builder) privileges(scope string, doc *privilegesDoc) []policy.RoleBinding {
	if doc == nil {
		return nil
	}
	var out []policy.RoleBinding
	seen := make(map[uint32]struct{}, len(doc.IamRoleBindings))
	for i, rb := range doc.IamRoleBindings {
		hasProject := strings.TrimSpace(rb.Project) != ""
		hasResource := strings.TrimSpace(rb.Resource) != ""

		var res policy.ResourceID
		switch {
		case hasProject && hasResource:
			b.diags.errorf(scope, CodePrivilegeDuplicateResourceID,
				"role binding %d: project and resource are mutually exclusive", i+1)
			continue
		case !hasProject && !hasResource:
			b.diags.errorf(scope, CodePrivilegeInvalidResourceID,
				"role binding %d: project or resource is required", i+1)
			continue
		case hasProject:
			r, err := policy.ParseResourceID(rb.Project)
			if err != nil || r.Kind() != policy.ResourceProject {
				b.diags.errorf(scope, CodePrivilegeInvalidResourceID,
					"role binding %d: invalid project %q", i+1, rb.Project)
				continue
			}
			res = r
		default:
			r, err := policy.ParseResourceID(rb.Resource)
			if err != nil {
				b.diags.errorf(scope, CodePrivilegeInvalidResourceID, "role binding %d: %v", i+1, err)
				continue
			}
			res = r
		}

		role, err := policy.ParseRoleID(rb.Role)
		if err != nil {
			b.diags.errorf(scope, CodePrivilegeInvalidRole, "role binding %d: %v", i+1, err)
			continue
		}

		binding := policy.RoleBinding{
			Resource:    res,
			Role:        role,
			Description: rb.Description,
			Condition:   strings.TrimSpace(rb.Condition),
		}
		if _, dup := seen[binding.Checksum()]; dup {
			b.diags.errorf(scope, CodePrivilegeDuplicateResourceID,
				"role binding %d: duplicate binding %s", i+1, binding)
			continue
		}
		seen[binding.Checksum()] = struct{}{}
		out = append(out, binding)
	}
	return out
}
