/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package approval

import (
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stratumsec/claviger/internal/principal"
)

// Proposal is a join awaiting peer approval. It travels between requester
// and approver only as a signed token; the broker keeps no proposal state
// besides the replay set.
type Proposal struct {
	// ID is the single-use nonce. Exactly one provision call may ever
	// happen per ID.
	ID string
	// User is the requesting user.
	User principal.ID
	// Group is the target JIT group.
	Group principal.JitGroupID
	// Recipients are the principals that may approve, sorted by canonical
	// string. Group recipients admit any active member.
	Recipients []principal.ID
	// Inputs are the requester's bound constraint inputs, replayed into
	// the analysis at approval time.
	Inputs    map[string]string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// proposalClaims is the wire form. Principals use their canonical strings
// and recipients are sorted, so equal proposals serialize byte-equal.
type proposalClaims struct {
	jwt.RegisteredClaims
	User       string            `json:"usr"`
	Group      string            `json:"grp"`
	Recipients []string          `json:"rcp"`
	Inputs     map[string]string `json:"inp,omitempty"`
}

func (p Proposal) claims(issuer, audience string) proposalClaims {
	rcp := make([]string, len(p.Recipients))
	for i, r := range p.Recipients {
		rcp[i] = r.String()
	}
	sort.Strings(rcp)
	return proposalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        p.ID,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(p.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(p.ExpiresAt),
		},
		User:       p.User.String(),
		Group:      p.Group.String(),
		Recipients: rcp,
		Inputs:     p.Inputs,
	}
}

// proposal validates the claims back into a Proposal. Signature and time
// checks have already happened in the JWT layer.
func (c *proposalClaims) proposal() (Proposal, error) {
	if c.ID == "" {
		return Proposal{}, fmt.Errorf("proposal token has no id")
	}
	user, ok := principal.Parse(c.User)
	if !ok || user.Kind() != principal.KindUser {
		return Proposal{}, fmt.Errorf("proposal token user %q invalid", c.User)
	}
	group, ok := principal.ParseJitGroupID(c.Group)
	if !ok {
		return Proposal{}, fmt.Errorf("proposal token group %q invalid", c.Group)
	}
	if len(c.Recipients) == 0 {
		return Proposal{}, fmt.Errorf("proposal token has no recipients")
	}
	rcp := make([]principal.ID, len(c.Recipients))
	for i, s := range c.Recipients {
		id, ok := principal.Parse(s)
		if !ok || (id.Kind() != principal.KindUser && id.Kind() != principal.KindGroup) {
			return Proposal{}, fmt.Errorf("proposal token recipient %q invalid", s)
		}
		rcp[i] = id
	}
	p := Proposal{
		ID:         c.ID,
		User:       user,
		Group:      group,
		Recipients: rcp,
		Inputs:     c.Inputs,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p, nil
}
