/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package document converts between the textual policy document format and
// the in-memory policy tree. Parsing is strict and diagnostics-driven: every
// problem is reported as an Issue with a stable code, and a document that
// produces any error-severity issue yields no policy at all. Emission is the
// inverse and omits fields whose value equals the format default, so
// parse-emit-parse is idempotent.
package document

import (
	"github.com/stratumsec/claviger/internal/acl"
	"github.com/stratumsec/claviger/internal/policy"
	"github.com/stratumsec/claviger/internal/principal"
)

// SchemaVersion is the only document schema version this codec accepts.
const SchemaVersion = 1

// DefaultEnvironmentACL is substituted when an environment declares no
// access list: every authenticated user may view the environment, nothing
// more. Systems and groups get no such default; with no access list they
// only inherit.
func DefaultEnvironmentACL() acl.ACL {
	return (&acl.Builder{}).
		Allow(principal.ClassAllAuthenticated, policy.PermissionView).
		Build()
}

// documentRoot mirrors the top level of a policy document. SchemaVersion is
// left untyped so a missing or mistyped value maps to FILE_INVALID_VERSION
// instead of a decoder error.
type documentRoot struct {
	SchemaVersion any             `yaml:"schemaVersion"`
	Environment   *environmentDoc `yaml:"environment"`
}

type environmentDoc struct {
	Name        string          `yaml:"name,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Access      []aclEntryDoc   `yaml:"access,omitempty"`
	Constraints *constraintsDoc `yaml:"constraints,omitempty"`
	Systems     []systemDoc     `yaml:"systems,omitempty"`
}

type systemDoc struct {
	Name        string          `yaml:"name,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Access      []aclEntryDoc   `yaml:"access,omitempty"`
	Constraints *constraintsDoc `yaml:"constraints,omitempty"`
	Groups      []groupDoc      `yaml:"groups,omitempty"`
}

type groupDoc struct {
	Name        string          `yaml:"name,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Access      []aclEntryDoc   `yaml:"access,omitempty"`
	Constraints *constraintsDoc `yaml:"constraints,omitempty"`
	Privileges  *privilegesDoc  `yaml:"privileges,omitempty"`
}

// aclEntryDoc is one access entry. Exactly one of Allow or Deny must be
// given, as a comma-separated permission list.
type aclEntryDoc struct {
	Principal string `yaml:"principal"`
	Allow     string `yaml:"allow,omitempty"`
	Deny      string `yaml:"deny,omitempty"`
}

type constraintsDoc struct {
	Join    []constraintDoc `yaml:"join,omitempty"`
	Approve []constraintDoc `yaml:"approve,omitempty"`
}

type constraintDoc struct {
	Type              string        `yaml:"type"`
	Name              string        `yaml:"name,omitempty"`
	DisplayName       string        `yaml:"displayName,omitempty"`
	ExpiryMinDuration string        `yaml:"expiryMinDuration,omitempty"`
	ExpiryMaxDuration string        `yaml:"expiryMaxDuration,omitempty"`
	Expression        string        `yaml:"expression,omitempty"`
	Variables         []variableDoc `yaml:"variables,omitempty"`
}

// variableDoc declares one typed expression input. Min and Max are pointers
// so an absent bound falls back to the type default instead of zero.
type variableDoc struct {
	Type        string `yaml:"type"`
	Name        string `yaml:"name,omitempty"`
	DisplayName string `yaml:"displayName,omitempty"`
	Min         *int64 `yaml:"min,omitempty"`
	Max         *int64 `yaml:"max,omitempty"`
}

type privilegesDoc struct {
	IamRoleBindings []roleBindingDoc `yaml:"iamRoleBindings,omitempty"`
}

// roleBindingDoc grants a role on a resource. Project is shorthand for
// "projects/<id>"; Resource accepts the qualified forms. Giving both is an
// error.
type roleBindingDoc struct {
	Project     string `yaml:"project,omitempty"`
	Resource    string `yaml:"resource,omitempty"`
	Role        string `yaml:"role"`
	Description string `yaml:"description,omitempty"`
	Condition   string `yaml:"condition,omitempty"`
}
