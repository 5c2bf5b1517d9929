/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package approval

import (
	"sync"
	"time"

	"github.com/stratumsec/claviger/internal/metrics"
)

// ReplaySet tracks consumed proposal ids. Two generations bound memory: an
// id survives at least maxAge and at most twice that. With maxAge no
// shorter than the proposal TTL, every id is retained for the lifetime of
// its token, which is all replay protection needs.
type ReplaySet struct {
	maxAge time.Duration
	now    func() time.Time

	mu       sync.Mutex
	rotated  time.Time
	current  map[string]struct{}
	previous map[string]struct{}
}

// NewReplaySet builds a set that retains ids for at least maxAge.
func NewReplaySet(maxAge time.Duration) *ReplaySet {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &ReplaySet{
		maxAge:  maxAge,
		now:     time.Now,
		current: make(map[string]struct{}),
	}
}

// Remember records id and reports whether it was new. False means the id
// was consumed before.
func (s *ReplaySet) Remember(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotate()
	if _, dup := s.current[id]; dup {
		return false
	}
	if _, dup := s.previous[id]; dup {
		return false
	}
	s.current[id] = struct{}{}
	metrics.SetReplayEntries(len(s.current) + len(s.previous))
	return true
}

// Forget releases id so a later attempt may consume it again. Called when
// provisioning fails after the id was claimed.
func (s *ReplaySet) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, id)
	delete(s.previous, id)
	metrics.SetReplayEntries(len(s.current) + len(s.previous))
}

// Len reports the tracked id count.
func (s *ReplaySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current) + len(s.previous)
}

// rotate ages out ids older than two generations. Caller holds mu.
func (s *ReplaySet) rotate() {
	now := s.now()
	if s.rotated.IsZero() {
		s.rotated = now
		return
	}
	elapsed := now.Sub(s.rotated)
	switch {
	case elapsed >= 2*s.maxAge:
		s.current = make(map[string]struct{})
		s.previous = nil
		s.rotated = now
	case elapsed >= s.maxAge:
		s.previous = s.current
		s.current = make(map[string]struct{})
		s.rotated = now
	}
}
