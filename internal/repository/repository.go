/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package repository loads policy documents from configured sources and
// publishes parsed snapshots. The read path always sees a complete,
// immutable snapshot: a reload that produces any error leaves the previous
// snapshot in place.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/stratumsec/claviger/internal/audit"
	"github.com/stratumsec/claviger/internal/metrics"
	"github.com/stratumsec/claviger/internal/policy"
	"github.com/stratumsec/claviger/internal/policy/document"
	"github.com/stratumsec/claviger/internal/telemetry"
)

// Collection is one immutable parsed snapshot: every environment from every
// source, keyed by canonical name.
type Collection struct {
	envs     []*policy.EnvironmentPolicy
	byName   map[string]*policy.EnvironmentPolicy
	loadedAt time.Time
}

// Environments returns the snapshot's environments sorted by name.
func (c *Collection) Environments() []*policy.EnvironmentPolicy {
	out := make([]*policy.EnvironmentPolicy, len(c.envs))
	copy(out, c.envs)
	return out
}

// Environment looks up an environment by name.
func (c *Collection) Environment(name string) (*policy.EnvironmentPolicy, bool) {
	e, ok := c.byName[name]
	return e, ok
}

// LoadedAt is when the snapshot was published, zero for the initial empty
// snapshot.
func (c *Collection) LoadedAt() time.Time { return c.loadedAt }

// Len returns the environment count.
func (c *Collection) Len() int { return len(c.envs) }

// Repository owns the current policy snapshot. Reads go against the
// published pointer and never block; reloads parse everything first and
// swap the pointer only when every document is clean.
type Repository struct {
	sources []Source
	audit   audit.Recorder
	log     logr.Logger
	now     func() time.Time

	current atomic.Pointer[Collection]
	flight  singleflight.Group
}

// New builds a repository over the given sources. The initial snapshot is
// empty; call Reload to publish the first one. rec may be nil.
func New(rec audit.Recorder, log logr.Logger, sources ...Source) *Repository {
	if rec == nil {
		rec = audit.Discard{}
	}
	r := &Repository{
		sources: sources,
		audit:   rec,
		log:     log.WithName("repository"),
		now:     time.Now,
	}
	r.current.Store(&Collection{byName: map[string]*policy.EnvironmentPolicy{}})
	return r
}

// Snapshot returns the currently published collection.
func (r *Repository) Snapshot() *Collection { return r.current.Load() }

// Environments serves the catalog from the current snapshot.
func (r *Repository) Environments() []*policy.EnvironmentPolicy {
	return r.current.Load().Environments()
}

// Environment serves the catalog from the current snapshot.
func (r *Repository) Environment(name string) (*policy.EnvironmentPolicy, bool) {
	return r.current.Load().Environment(name)
}

// Reload parses every document from every source and publishes the result
// as one atomic swap. Any source failure, parse error, or duplicate
// environment name keeps the previous snapshot in place and is returned.
// Concurrent calls share a single load pass.
func (r *Repository) Reload(ctx context.Context) error {
	return r.reload(ctx, "manual")
}

func (r *Repository) reload(ctx context.Context, trigger string) error {
	_, err, _ := r.flight.Do("reload", func() (any, error) {
		ctx, span := telemetry.StartReloadSpan(ctx, trigger)
		col, err := r.load(ctx)
		telemetry.EndSpan(span, err)

		if err != nil {
			metrics.RecordPolicyReload(err, 0)
			r.audit.Record(audit.Event{
				Type:    audit.EventPolicyRejected,
				Summary: err.Error(),
			})
			r.log.Error(err, "policy reload rejected, previous snapshot stays published", "trigger", trigger)
			return nil, err
		}

		r.current.Store(col)
		metrics.RecordPolicyReload(nil, col.Len())
		r.audit.Record(audit.Event{
			Type:    audit.EventPolicyLoaded,
			Summary: fmt.Sprintf("published %d environments", col.Len()),
		})
		r.log.Info("policy snapshot published", "environments", col.Len(), "trigger", trigger)
		return nil, nil
	})
	return err
}

// load parses everything before touching the published snapshot. Parse
// errors are collected across all documents so one reload reports every
// broken file, not just the first.
func (r *Repository) load(ctx context.Context) (*Collection, error) {
	col := &Collection{
		byName:   make(map[string]*policy.EnvironmentPolicy),
		loadedAt: r.now().UTC(),
	}
	origins := make(map[string]string) // environment name -> document origin
	var errs []error

	for _, src := range r.sources {
		docs, err := src.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src.Name(), err)
		}
		for _, doc := range docs {
			env, diags := document.Parse(doc.Data, policy.Metadata{
				Source:       doc.Origin,
				LastModified: doc.Modified,
				DefaultName:  doc.DefaultName,
			})
			for _, w := range diags.Warnings() {
				r.log.Info("policy document warning",
					"origin", doc.Origin, "scope", w.Scope, "code", string(w.Code), "message", w.Message)
			}
			if err := diags.Err(doc.Origin); err != nil {
				errs = append(errs, err)
				continue
			}
			if prev, dup := origins[env.Name()]; dup {
				errs = append(errs, fmt.Errorf("environment %q declared by both %s and %s", env.Name(), prev, doc.Origin))
				continue
			}
			origins[env.Name()] = doc.Origin
			col.envs = append(col.envs, env)
			col.byName[env.Name()] = env
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.Slice(col.envs, func(i, j int) bool { return col.envs[i].Name() < col.envs[j].Name() })
	return col, nil
}
