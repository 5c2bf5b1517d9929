/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package policy

import (
	"fmt"
	"hash/crc32"
	"regexp"
	"strings"
)

// ResourceKind discriminates the IAM resource container types.
type ResourceKind int

const (
	ResourceProject ResourceKind = iota
	ResourceFolder
	ResourceOrganization
)

func (k ResourceKind) prefix() string {
	switch k {
	case ResourceFolder:
		return "folders"
	case ResourceOrganization:
		return "organizations"
	default:
		return "projects"
	}
}

var (
	projectIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
	numericIDPattern = regexp.MustCompile(`^[0-9]{1,19}$`)
)

// ResourceID addresses the container a role binding applies to. The zero
// value is invalid.
type ResourceID struct {
	kind ResourceKind
	id   string
}

// ParseResourceID accepts a qualified path ("projects/<id>", "folders/<n>",
// "organizations/<n>") or a bare project id, which is shorthand for
// "projects/<id>".
func ParseResourceID(s string) (ResourceID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ResourceID{}, fmt.Errorf("empty resource id")
	}
	prefix, rest, qualified := strings.Cut(s, "/")
	if !qualified {
		return newProjectResource(s)
	}
	switch prefix {
	case "projects":
		return newProjectResource(rest)
	case "folders":
		if !numericIDPattern.MatchString(rest) {
			return ResourceID{}, fmt.Errorf("invalid folder id %q", rest)
		}
		return ResourceID{kind: ResourceFolder, id: rest}, nil
	case "organizations":
		if !numericIDPattern.MatchString(rest) {
			return ResourceID{}, fmt.Errorf("invalid organization id %q", rest)
		}
		return ResourceID{kind: ResourceOrganization, id: rest}, nil
	default:
		return ResourceID{}, fmt.Errorf("unknown resource type %q", prefix)
	}
}

func newProjectResource(id string) (ResourceID, error) {
	if !projectIDPattern.MatchString(id) {
		return ResourceID{}, fmt.Errorf("invalid project id %q", id)
	}
	return ResourceID{kind: ResourceProject, id: id}, nil
}

// Kind returns the container type.
func (r ResourceID) Kind() ResourceKind { return r.kind }

// ID returns the bare identifier without the type prefix.
func (r ResourceID) ID() string { return r.id }

// IsZero reports whether the ResourceID is unset.
func (r ResourceID) IsZero() bool { return r.id == "" }

// String returns the qualified path form.
func (r ResourceID) String() string {
	if r.id == "" {
		return ""
	}
	return r.kind.prefix() + "/" + r.id
}

// roleSegment is the role name after the last slash, e.g. "compute.admin".
var roleSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9_.]{1,64}$`)

// RoleID is a predefined role ("roles/<name>") or a custom role defined on a
// project or organization ("projects/<id>/roles/<name>",
// "organizations/<n>/roles/<name>").
type RoleID struct {
	value string
}

// ParseRoleID validates and canonicalizes a role reference.
func ParseRoleID(s string) (RoleID, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "/")
	switch len(parts) {
	case 2:
		if parts[0] != "roles" || !roleSegmentPattern.MatchString(parts[1]) {
			return RoleID{}, fmt.Errorf("invalid role %q", s)
		}
		return RoleID{value: s}, nil
	case 4:
		if parts[2] != "roles" || !roleSegmentPattern.MatchString(parts[3]) {
			return RoleID{}, fmt.Errorf("invalid role %q", s)
		}
		switch parts[0] {
		case "projects":
			if !projectIDPattern.MatchString(parts[1]) {
				return RoleID{}, fmt.Errorf("invalid role %q: bad project id", s)
			}
		case "organizations":
			if !numericIDPattern.MatchString(parts[1]) {
				return RoleID{}, fmt.Errorf("invalid role %q: bad organization id", s)
			}
		default:
			return RoleID{}, fmt.Errorf("invalid role %q", s)
		}
		return RoleID{value: s}, nil
	default:
		return RoleID{}, fmt.Errorf("invalid role %q", s)
	}
}

// String returns the canonical reference.
func (r RoleID) String() string { return r.value }

// IsZero reports whether the RoleID is unset.
func (r RoleID) IsZero() bool { return r.value == "" }

// RoleBinding grants one role on one resource to the group's members for
// the lifetime of their membership. Condition is an optional IAM condition
// expression passed through to the provisioner.
type RoleBinding struct {
	Resource    ResourceID
	Role        RoleID
	Description string
	Condition   string
}

// Checksum is a stable 32-bit fingerprint over all four fields. Two
// bindings are equivalent iff their checksums agree on equal field values;
// it is used for duplicate detection and change tracking.
func (b RoleBinding) Checksum() uint32 {
	var sb strings.Builder
	sb.WriteString(b.Resource.String())
	sb.WriteByte('\n')
	sb.WriteString(b.Role.String())
	sb.WriteByte('\n')
	sb.WriteString(b.Description)
	sb.WriteByte('\n')
	sb.WriteString(b.Condition)
	return crc32.ChecksumIEEE([]byte(sb.String()))
}

func (b RoleBinding) String() string {
	if b.Condition != "" {
		return fmt.Sprintf("%s on %s if %q", b.Role, b.Resource, b.Condition)
	}
	return fmt.Sprintf("%s on %s", b.Role, b.Resource)
}
