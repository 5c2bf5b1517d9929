/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package principal defines the typed identifiers that can appear in an
// access-control entry or in a subject's principal set: end users, directory
// groups, JIT groups, and well-known principal classes.
//
// Identifiers are canonicalized to lowercase at construction; equality and
// ordering are defined over the canonical prefixed string form, e.g.
// "user:alice@example.com" or "jit-group:env-1.sys-1.g-1".
package principal

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the identifier variants.
type Kind int

const (
	// KindInvalid is the zero value; no valid identifier carries it.
	KindInvalid Kind = iota

	// KindUser is an end user, addressed by email.
	KindUser

	// KindGroup is an external directory group, addressed by email.
	KindGroup

	// KindJitGroup is a broker-managed group, addressed by the
	// (environment, system, name) triple.
	KindJitGroup

	// KindClass is a well-known class of principals, e.g. all
	// authenticated users.
	KindClass
)

// String returns the wire prefix for the kind, without the colon.
func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	case KindJitGroup:
		return "jit-group"
	case KindClass:
		return "class"
	default:
		return "invalid"
	}
}

// ID identifies a principal. The zero value is invalid; construct IDs with
// User, Group, JitGroupID.ID, Class, or one of the Parse functions.
type ID struct {
	kind  Kind
	value string // canonical lowercase, without the kind prefix
}

// User returns the identifier for an end user. The email is trimmed and
// lowercased; an empty email yields the zero ID.
func User(email string) ID {
	email = canonicalEmail(email)
	if email == "" {
		return ID{}
	}
	return ID{kind: KindUser, value: email}
}

// Group returns the identifier for an external directory group.
func Group(email string) ID {
	email = canonicalEmail(email)
	if email == "" {
		return ID{}
	}
	return ID{kind: KindGroup, value: email}
}

// Class returns a well-known class identifier.
func Class(name string) ID {
	name = strings.TrimSpace(name)
	if name == "" {
		return ID{}
	}
	return ID{kind: KindClass, value: name}
}

// ClassAllAuthenticated matches every authenticated user, regardless of
// group membership.
var ClassAllAuthenticated = Class("allAuthenticated")

// Kind returns the identifier variant.
func (id ID) Kind() Kind { return id.kind }

// Value returns the canonical value without the kind prefix: the email for
// users and groups, the dotted triple for JIT groups, the class name for
// classes.
func (id ID) Value() string { return id.value }

// String returns the canonical prefixed form, e.g. "group:eng@example.com".
// The zero ID formats as the empty string.
func (id ID) String() string {
	if id.kind == KindInvalid {
		return ""
	}
	return id.kind.String() + ":" + id.value
}

// IsZero reports whether the ID is the invalid zero value.
func (id ID) IsZero() bool { return id.kind == KindInvalid }

// Email returns the email address backing a user or group identifier, or
// false for other kinds.
func (id ID) Email() (string, bool) {
	if id.kind == KindUser || id.kind == KindGroup {
		return id.value, true
	}
	return "", false
}

// JitGroup returns the triple backing a JIT group identifier, or false for
// other kinds.
func (id ID) JitGroup() (JitGroupID, bool) {
	if id.kind != KindJitGroup {
		return JitGroupID{}, false
	}
	g, ok := ParseJitGroupID(id.value)
	return g, ok
}

// Less orders identifiers by their canonical string form.
func (id ID) Less(other ID) bool { return id.String() < other.String() }

// Parse decodes any prefixed identifier form ("user:…", "group:…",
// "jit-group:…", "class:…"). It returns false for malformed input.
func Parse(s string) (ID, bool) {
	s = strings.TrimSpace(s)
	prefix, rest, found := strings.Cut(s, ":")
	if !found || rest == "" {
		return ID{}, false
	}
	switch strings.ToLower(prefix) {
	case "user":
		return ParseUser("user:" + rest)
	case "group":
		return ParseGroup("group:" + rest)
	case "jit-group":
		g, ok := ParseJitGroupID(rest)
		if !ok {
			return ID{}, false
		}
		return g.ID(), true
	case "class":
		if strings.TrimSpace(rest) == "" {
			return ID{}, false
		}
		return Class(rest), true
	default:
		return ID{}, false
	}
}

// ParseUser decodes "user:<email>". Parsing is case-insensitive; the result
// is canonical lowercase. Returns false for malformed input.
func ParseUser(s string) (ID, bool) {
	rest, ok := cutPrefixFold(strings.TrimSpace(s), "user:")
	if !ok {
		return ID{}, false
	}
	email := canonicalEmail(rest)
	if !validEmail(email) {
		return ID{}, false
	}
	return ID{kind: KindUser, value: email}, true
}

// ParseGroup decodes "group:<email>".
func ParseGroup(s string) (ID, bool) {
	rest, ok := cutPrefixFold(strings.TrimSpace(s), "group:")
	if !ok {
		return ID{}, false
	}
	email := canonicalEmail(rest)
	if !validEmail(email) {
		return ID{}, false
	}
	return ID{kind: KindGroup, value: email}, true
}

// cutPrefixFold is strings.CutPrefix with ASCII case folding on the prefix.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

func canonicalEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validEmail applies the minimal shape check used for directory identities:
// one "@", non-empty local part, and a domain containing at least one dot.
func validEmail(s string) bool {
	local, domain, found := strings.Cut(s, "@")
	if !found || local == "" || domain == "" {
		return false
	}
	if strings.ContainsAny(s, " \t\n") || strings.Count(s, "@") > 1 {
		return false
	}
	return strings.Contains(domain, ".")
}

// Principal is an identifier together with the validity window during which
// it contributes to a subject. A zero NotBefore or NotAfter means unbounded
// on that side.
type Principal struct {
	ID        ID
	NotBefore time.Time
	NotAfter  time.Time
}

// ActiveAt reports whether the principal is within its validity window at t.
// The window is half-open: [NotBefore, NotAfter).
func (p Principal) ActiveAt(t time.Time) bool {
	if !p.NotBefore.IsZero() && t.Before(p.NotBefore) {
		return false
	}
	if !p.NotAfter.IsZero() && !t.Before(p.NotAfter) {
		return false
	}
	return true
}

// String formats the principal with its validity for diagnostics.
func (p Principal) String() string {
	switch {
	case p.NotBefore.IsZero() && p.NotAfter.IsZero():
		return p.ID.String()
	case p.NotBefore.IsZero():
		return fmt.Sprintf("%s (until %s)", p.ID, p.NotAfter.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s (%s to %s)", p.ID,
			p.NotBefore.UTC().Format(time.RFC3339), p.NotAfter.UTC().Format(time.RFC3339))
	}
}
