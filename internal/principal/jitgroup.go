/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package principal

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern constrains each path component of a JIT group: lowercase
// alphanumeric start, then lowercase alphanumerics or hyphens, 24 characters
// at most. Input is lowercased before the check, so "Env-1" and "env-1" name
// the same thing.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,23}$`)

// ValidName reports whether s is acceptable as an environment, system, or
// group name after lowercasing.
func ValidName(s string) bool {
	return namePattern.MatchString(strings.ToLower(strings.TrimSpace(s)))
}

// CanonicalName lowercases and trims a name component. Callers validate with
// ValidName first.
func CanonicalName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// JitGroupID addresses one JIT group by its position in the policy tree.
// All three components are canonical lowercase names.
type JitGroupID struct {
	Environment string
	System      string
	Name        string
}

// NewJitGroupID builds an ID from raw name components, canonicalizing and
// validating each one.
func NewJitGroupID(environment, system, name string) (JitGroupID, error) {
	id := JitGroupID{
		Environment: CanonicalName(environment),
		System:      CanonicalName(system),
		Name:        CanonicalName(name),
	}
	for _, part := range []struct{ label, v string }{
		{"environment", id.Environment},
		{"system", id.System},
		{"group", id.Name},
	} {
		if !namePattern.MatchString(part.v) {
			return JitGroupID{}, fmt.Errorf("invalid %s name %q", part.label, part.v)
		}
	}
	return id, nil
}

// JitGroup builds the prefixed identifier for a group whose components have
// already been validated. It panics on invalid components; use NewJitGroupID
// for untrusted input.
func JitGroup(environment, system, name string) ID {
	id, err := NewJitGroupID(environment, system, name)
	if err != nil {
		panic(err)
	}
	return id.ID()
}

// ParseJitGroupID decodes the dotted triple "env.system.group". Returns
// false if the shape or any component is invalid.
func ParseJitGroupID(s string) (JitGroupID, bool) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return JitGroupID{}, false
	}
	id, err := NewJitGroupID(parts[0], parts[1], parts[2])
	if err != nil {
		return JitGroupID{}, false
	}
	return id, true
}

// String returns the dotted triple form.
func (g JitGroupID) String() string {
	return g.Environment + "." + g.System + "." + g.Name
}

// ID returns the prefixed principal identifier for the group.
func (g JitGroupID) ID() ID {
	return ID{kind: KindJitGroup, value: g.String()}
}

// IsZero reports whether all components are empty.
func (g JitGroupID) IsZero() bool {
	return g.Environment == "" && g.System == "" && g.Name == ""
}
