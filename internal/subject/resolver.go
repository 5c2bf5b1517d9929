/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package subject

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/stratumsec/claviger/internal/apierror"
	"github.com/stratumsec/claviger/internal/directory"
	"github.com/stratumsec/claviger/internal/lazy"
	"github.com/stratumsec/claviger/internal/metrics"
	"github.com/stratumsec/claviger/internal/principal"
	"github.com/stratumsec/claviger/internal/telemetry"
)

// DefaultTTL bounds how long a resolved subject is served from cache.
const DefaultTTL = time.Minute

// ResolverConfig carries the resolver's tunables.
type ResolverConfig struct {
	// Domain hosts the broker-managed group addresses; memberships under
	// other domains never parse as JIT groups.
	Domain string
	// TTL overrides DefaultTTL when positive.
	TTL time.Duration
}

// Resolver expands authenticated users into Subjects, caching per user. Each
// cache entry computes at most once per TTL window no matter how many
// requests race; a failed directory lookup is likewise held until the entry
// resets, so a flapping directory is hit at most once per user per window.
type Resolver struct {
	dir    directory.Directory
	domain string
	ttl    time.Duration
	log    logr.Logger

	entries sync.Map // user email → lazy.Value[*Subject]
}

// NewResolver builds a resolver over the directory port.
func NewResolver(dir directory.Directory, cfg ResolverConfig, log logr.Logger) *Resolver {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		dir:    dir,
		domain: cfg.Domain,
		ttl:    ttl,
		log:    log,
	}
}

// Resolve returns the subject for an authenticated user email, from cache
// when fresh.
func (r *Resolver) Resolve(ctx context.Context, email string) (*Subject, error) {
	metrics.RecordSubjectResolve()

	user, ok := principal.ParseUser("user:" + email)
	if !ok {
		return nil, apierror.InvalidArgument("user", "not an email address")
	}

	ctx, span := telemetry.StartResolveSpan(ctx, user.Value())
	v, loaded := r.entries.Load(user.Value())
	if !loaded {
		v, _ = r.entries.LoadOrStore(user.Value(), r.newEntry(user))
	}
	sub, err := v.(lazy.Value[*Subject]).Get(ctx)
	telemetry.EndSpan(span, err)
	return sub, err
}

// Invalidate drops the cached subject for a user so the next resolve
// consults the directory. Call it after provisioning changes memberships.
func (r *Resolver) Invalidate(email string) {
	r.entries.Delete(strings.ToLower(strings.TrimSpace(email)))
}

func (r *Resolver) newEntry(user principal.ID) lazy.Value[*Subject] {
	return lazy.AutoResetPessimistic(r.ttl, func(ctx context.Context) (*Subject, error) {
		return r.lookup(ctx, user)
	})
}

func (r *Resolver) lookup(ctx context.Context, user principal.ID) (*Subject, error) {
	members, err := r.dir.DirectMemberships(ctx, user.Value())
	metrics.RecordDirectoryLookup(err)
	if err != nil {
		return nil, apierror.UpstreamIO("directory lookup", err)
	}

	principals := make([]principal.Principal, 0, len(members)+1)
	for _, m := range members {
		if id, ok := directory.ParseJitGroupEmail(m.Group, r.domain); ok {
			if m.Expiry == nil {
				// Out of contract: broker-managed memberships always expire.
				// Skip rather than grant open-ended access.
				r.log.Info("skipping JIT membership without expiry",
					"user", user.Value(), "group", m.Group)
				continue
			}
			principals = append(principals, principal.Principal{ID: id.ID(), NotAfter: *m.Expiry})
			continue
		}
		gid, ok := principal.ParseGroup("group:" + m.Group)
		if !ok {
			r.log.Info("skipping malformed directory group",
				"user", user.Value(), "group", m.Group)
			continue
		}
		principals = append(principals, principal.Principal{ID: gid})
	}
	principals = append(principals, principal.Principal{ID: principal.ClassAllAuthenticated})

	sub, err := New(user, principals...)
	if err != nil {
		return nil, err
	}
	r.log.V(1).Info("resolved subject", "user", user.Value(), "principals", len(sub.principals))
	return sub, nil
}
