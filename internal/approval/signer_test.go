/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package approval

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stratumsec/claviger/internal/principal"
)

func newTestSigner(t *testing.T) *HMACSigner {
	t.Helper()
	s, err := NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	s.now = func() time.Time { return testNow }
	return s
}

func testProposal() Proposal {
	return Proposal{
		ID:    "p-123",
		User:  alice,
		Group: gPeer,
		// Deliberately unsorted; the wire form sorts by canonical string.
		Recipients: []principal.ID{frank, approvers},
		Inputs:     map[string]string{"expiry": "PT2H", "ticket": "OPS-1234"},
		IssuedAt:   testNow,
		ExpiresAt:  testNow.Add(time.Hour),
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := newTestSigner(t)
	p := testProposal()

	token, err := s.Sign(p)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	back, err := s.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if back.ID != p.ID || back.User != p.User || back.Group != p.Group {
		t.Errorf("id/user/group = %q %v %v", back.ID, back.User, back.Group)
	}
	if len(back.Recipients) != 2 || back.Recipients[0] != approvers || back.Recipients[1] != frank {
		t.Errorf("recipients = %v, want sorted [approvers frank]", back.Recipients)
	}
	if back.Inputs["expiry"] != "PT2H" || back.Inputs["ticket"] != "OPS-1234" {
		t.Errorf("inputs = %v", back.Inputs)
	}
	if !back.IssuedAt.Equal(p.IssuedAt) || !back.ExpiresAt.Equal(p.ExpiresAt) {
		t.Errorf("iat/exp = %v %v, want %v %v", back.IssuedAt, back.ExpiresAt, p.IssuedAt, p.ExpiresAt)
	}
}

// TestVerifyRejectsMutation flips every bit of the token in turn; no mutated
// string may verify.
func TestVerifyRejectsMutation(t *testing.T) {
	s := newTestSigner(t)
	token, err := s.Sign(testProposal())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	for i := 0; i < len(token); i++ {
		for bit := uint(0); bit < 8; bit++ {
			mutated := []byte(token)
			mutated[i] ^= 1 << bit
			if _, err := s.Verify(string(mutated)); err == nil {
				t.Fatalf("mutation at byte %d bit %d verified", i, bit)
			}
		}
	}
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	s := newTestSigner(t)
	other, err := NewHMACSigner([]byte("another-secret-another-secret!!!"))
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	other.now = s.now

	token, err := other.Sign(testProposal())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := s.Verify(token); err == nil {
		t.Error("token signed under a different secret verified")
	}
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	s := newTestSigner(t)

	claims := testProposal().claims(tokenIssuer, tokenAudience)
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign alg=none: %v", err)
	}
	if _, err := s.Verify(token); err == nil {
		t.Error("unsigned token verified")
	}
}

func TestVerifyExpired(t *testing.T) {
	s := newTestSigner(t)
	p := testProposal()

	token, err := s.Sign(p)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	s.now = func() time.Time { return p.ExpiresAt.Add(time.Second) }
	if _, err := s.Verify(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Verify err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyClaimChecks(t *testing.T) {
	s := newTestSigner(t)

	sign := func(t *testing.T, claims proposalClaims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}

	cases := []struct {
		name  string
		claim func(c *proposalClaims)
	}{
		{"wrong issuer", func(c *proposalClaims) { c.Issuer = "someone-else" }},
		{"wrong audience", func(c *proposalClaims) { c.Audience = jwt.ClaimStrings{"other"} }},
		{"missing expiry", func(c *proposalClaims) { c.ExpiresAt = nil }},
		{"missing id", func(c *proposalClaims) { c.ID = "" }},
		{"no recipients", func(c *proposalClaims) { c.Recipients = nil }},
		{"malformed user", func(c *proposalClaims) { c.User = "chicken" }},
		{"class recipient", func(c *proposalClaims) { c.Recipients = []string{"class:allAuthenticated"} }},
		{"malformed group", func(c *proposalClaims) { c.Group = "not/a/group" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			claims := testProposal().claims(tokenIssuer, tokenAudience)
			tc.claim(&claims)
			if _, err := s.Verify(sign(t, claims)); err == nil {
				t.Error("Verify accepted invalid claims")
			}
		})
	}
}

func TestNewHMACSignerRejectsShortSecret(t *testing.T) {
	if _, err := NewHMACSigner([]byte("too-short")); err == nil {
		t.Error("short secret accepted")
	}
}
