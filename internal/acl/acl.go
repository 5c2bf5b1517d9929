/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package acl implements bitmask access-control lists with deny-overrides
// semantics. The engine is agnostic to what the bits mean; permission names
// are defined where the lists are authored.
package acl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stratumsec/claviger/internal/principal"
)

// Mask is a set of permission bits.
type Mask uint32

// Covers reports whether every bit of required is present in m.
func (m Mask) Covers(required Mask) bool {
	return m&required == required
}

// Effect states whether an entry grants or revokes its mask.
type Effect int

const (
	// Allow grants the entry's bits to the matched principal.
	Allow Effect = iota
	// Deny revokes the entry's bits. A denied bit is removed for the whole
	// subject even if another entry allows it.
	Deny
)

func (e Effect) String() string {
	if e == Deny {
		return "deny"
	}
	return "allow"
}

// Entry is a single allow or deny statement.
type Entry struct {
	Principal principal.ID
	Effect    Effect
	Mask      Mask
}

func (e Entry) String() string {
	return fmt.Sprintf("%s(%s, %#x)", e.Effect, e.Principal, uint32(e.Mask))
}

// ACL is an ordered list of entries. Order is preserved for round-tripping
// and diagnostics; evaluation does not depend on it.
type ACL []Entry

// Builder assembles an ACL. The zero value is ready to use.
type Builder struct {
	entries []Entry
}

// Allow appends an allow entry.
func (b *Builder) Allow(p principal.ID, mask Mask) *Builder {
	b.entries = append(b.entries, Entry{Principal: p, Effect: Allow, Mask: mask})
	return b
}

// Deny appends a deny entry.
func (b *Builder) Deny(p principal.ID, mask Mask) *Builder {
	b.entries = append(b.entries, Entry{Principal: p, Effect: Deny, Mask: mask})
	return b
}

// Build returns the accumulated entries. The builder can keep appending;
// the returned slice is a copy.
func (b *Builder) Build() ACL {
	out := make(ACL, len(b.entries))
	copy(out, b.entries)
	return out
}

// HeldSet is the set of principal identifiers a subject currently holds.
// Expired principals must be filtered out before evaluation.
type HeldSet map[principal.ID]struct{}

// NewHeldSet builds a set from identifiers.
func NewHeldSet(ids ...principal.ID) HeldSet {
	s := make(HeldSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Effective accumulates allow and deny bits over all entries matching the
// held set and returns allowBits &^ denyBits.
func (a ACL) Effective(held HeldSet) Mask {
	var allow, deny Mask
	for _, e := range a {
		if _, ok := held[e.Principal]; !ok {
			continue
		}
		switch e.Effect {
		case Allow:
			allow |= e.Mask
		case Deny:
			deny |= e.Mask
		}
	}
	return allow &^ deny
}

// IsAllowed reports whether the held set is granted every bit of required.
// An empty ACL allows nothing.
func (a ACL) IsAllowed(held HeldSet, required Mask) bool {
	return a.Effective(held).Covers(required)
}

// AllowedPrincipals returns the distinct principals whose own entries,
// evaluated in isolation, grant every bit of required. Deny entries for a
// principal mask its allows. The result is sorted by canonical string.
func (a ACL) AllowedPrincipals(required Mask) []principal.ID {
	type bits struct{ allow, deny Mask }
	byPrincipal := make(map[principal.ID]*bits)
	for _, e := range a {
		b := byPrincipal[e.Principal]
		if b == nil {
			b = &bits{}
			byPrincipal[e.Principal] = b
		}
		switch e.Effect {
		case Allow:
			b.allow |= e.Mask
		case Deny:
			b.deny |= e.Mask
		}
	}
	var out []principal.ID
	for p, b := range byPrincipal {
		if (b.allow &^ b.deny).Covers(required) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// String formats the list for diagnostics.
func (a ACL) String() string {
	parts := make([]string, len(a))
	for i, e := range a {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
