/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package provision defines the port through which committed joins
// materialize as time-bound group memberships.
package provision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stratumsec/claviger/internal/principal"
)

// Membership is one grant the broker asks the backing system to create.
type Membership struct {
	User  principal.ID
	Group principal.JitGroupID
	// Expiry is absolute UTC. Implementations may round it up to their
	// granularity but must never round down.
	Expiry        time.Time
	Justification string
}

// Ref identifies a provisioned membership in the backing system.
type Ref struct {
	ID string
	// Expiry is the effective expiry after any backend rounding.
	Expiry time.Time
}

// Provisioner creates memberships. The broker guarantees at most one call
// per committed operation; implementations surface errors verbatim and must
// not provision partially.
type Provisioner interface {
	Provision(ctx context.Context, m Membership) (Ref, error)
}

// Func adapts a plain function to the Provisioner interface.
type Func func(ctx context.Context, m Membership) (Ref, error)

func (f Func) Provision(ctx context.Context, m Membership) (Ref, error) {
	return f(ctx, m)
}

// Recorder is an in-memory Provisioner for tests and the simulator. With a
// positive Granularity it rounds expiries up, like a real backend would.
type Recorder struct {
	Granularity time.Duration

	mu     sync.Mutex
	grants []Membership
	err    error
}

// SetError makes every subsequent call fail with err. Pass nil to clear.
func (r *Recorder) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Grants returns the recorded memberships in call order.
func (r *Recorder) Grants() []Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Membership, len(r.grants))
	copy(out, r.grants)
	return out
}

func (r *Recorder) Provision(ctx context.Context, m Membership) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Ref{}, r.err
	}

	expiry := m.Expiry.UTC()
	if r.Granularity > 0 {
		if rounded := expiry.Truncate(r.Granularity); rounded.Before(expiry) {
			expiry = rounded.Add(r.Granularity)
		}
	}
	m.Expiry = expiry
	r.grants = append(r.grants, m)
	return Ref{ID: fmt.Sprintf("membership-%d", len(r.grants)), Expiry: expiry}, nil
}
