/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package approval

import (
	"crypto/sha256"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// Signer seals proposals into opaque tokens and opens them again. Verify
// reports expired, tampered and foreign tokens as errors; semantic checks
// (recipients, replay) stay with the broker.
type Signer interface {
	Sign(p Proposal) (string, error)
	Verify(token string) (Proposal, error)
}

const (
	tokenIssuer   = "stratumsec.io/claviger"
	tokenAudience = "claviger/proposal"

	// minSecretLen rejects secrets short enough to brute-force.
	minSecretLen = 16
	macKeyLen    = 32

	hkdfInfo = "claviger proposal token v1"
)

// HMACSigner signs proposals with HMAC-SHA256. The MAC key is derived from
// the configured secret with HKDF, so rotating the info string invalidates
// all outstanding tokens without touching the secret.
type HMACSigner struct {
	key []byte
	now func() time.Time
}

// NewHMACSigner derives the signing key from secret.
func NewHMACSigner(secret []byte) (*HMACSigner, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d bytes, got %d", minSecretLen, len(secret))
	}
	key := make([]byte, macKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return &HMACSigner{key: key, now: time.Now}, nil
}

func (s *HMACSigner) Sign(p Proposal) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, p.claims(tokenIssuer, tokenAudience))
	return token.SignedString(s.key)
}

func (s *HMACSigner) Verify(token string) (Proposal, error) {
	var claims proposalClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		// Strict decoding rejects nonzero padding bits, so no two distinct
		// token strings verify to the same proposal.
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Proposal{}, err
	}
	return claims.proposal()
}
