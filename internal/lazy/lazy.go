/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package lazy provides deferred values with three initialization
// strategies:
//
//   - Opportunistic: concurrent callers may all compute, the first result
//     published wins. Cheap when races are rare and computation is pure.
//   - Pessimistic: a mutex guarantees at-most-one computation; the result,
//     including a computation error, is memoized.
//   - AutoReset: wraps either of the above and discards the inner value
//     after a fixed interval, guarded by a timestamp compare-and-swap so
//     concurrent readers trigger at most one reset per interval.
package lazy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Value is a deferred computation. Get computes on first use and returns the
// memoized result afterwards; whether concurrent first uses compute once or
// many times depends on the strategy.
type Value[T any] interface {
	Get(ctx context.Context) (T, error)
}

type outcome[T any] struct {
	val T
	err error
}

// opportunistic publishes the first computed outcome with a CAS and lets
// concurrent racers discard their own work.
type opportunistic[T any] struct {
	compute func(ctx context.Context) (T, error)
	done    atomic.Pointer[outcome[T]]
}

// Opportunistic returns a Value that may compute multiple times under
// contention but publishes exactly one outcome. Errors are memoized like
// results.
func Opportunistic[T any](compute func(ctx context.Context) (T, error)) Value[T] {
	return &opportunistic[T]{compute: compute}
}

func (v *opportunistic[T]) Get(ctx context.Context) (T, error) {
	if out := v.done.Load(); out != nil {
		return out.val, out.err
	}
	val, err := v.compute(ctx)
	out := &outcome[T]{val: val, err: err}
	if !v.done.CompareAndSwap(nil, out) {
		// Another racer published first; its outcome is canonical.
		out = v.done.Load()
	}
	return out.val, out.err
}

// pessimistic computes under a mutex, exactly once.
type pessimistic[T any] struct {
	compute func(ctx context.Context) (T, error)
	mu      sync.Mutex
	out     *outcome[T]
}

// Pessimistic returns a Value that computes at most once. Concurrent callers
// block until the single computation finishes; the outcome, error included,
// is memoized.
func Pessimistic[T any](compute func(ctx context.Context) (T, error)) Value[T] {
	return &pessimistic[T]{compute: compute}
}

func (v *pessimistic[T]) Get(ctx context.Context) (T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.out == nil {
		val, err := v.compute(ctx)
		v.out = &outcome[T]{val: val, err: err}
	}
	return v.out.val, v.out.err
}

// autoReset swaps in a fresh inner Value once per interval.
type autoReset[T any] struct {
	interval  time.Duration
	make      func() Value[T]
	now       func() time.Time
	lastReset atomic.Int64 // unix nanos of the last swap
	inner     atomic.Pointer[Value[T]]
}

// AutoReset wraps the Values produced by make so the current one is
// discarded after interval. The reset happens on the first Get past the
// deadline; the timestamp CAS guarantees at most one reset per interval no
// matter how many readers race.
func AutoReset[T any](interval time.Duration, make func() Value[T]) Value[T] {
	v := &autoReset[T]{interval: interval, make: make, now: time.Now}
	inner := make()
	v.inner.Store(&inner)
	v.lastReset.Store(v.now().UnixNano())
	return v
}

// AutoResetPessimistic is the common composition: a pessimistic inner value
// recomputed after interval.
func AutoResetPessimistic[T any](interval time.Duration, compute func(ctx context.Context) (T, error)) Value[T] {
	return AutoReset(interval, func() Value[T] { return Pessimistic(compute) })
}

func (v *autoReset[T]) Get(ctx context.Context) (T, error) {
	now := v.now().UnixNano()
	last := v.lastReset.Load()
	if now-last >= int64(v.interval) && v.lastReset.CompareAndSwap(last, now) {
		inner := v.make()
		v.inner.Store(&inner)
	}
	return (*v.inner.Load()).Get(ctx)
}
