/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// tickInterval bounds how late a due reload can fire.
const tickInterval = 30 * time.Second

// Refresher drives scheduled repository reloads. The schedule is either a
// Go duration ("90s") or a cron expression ("*/5 * * * *", "@every 1m").
type Refresher struct {
	repo     *Repository
	schedule string
	log      logr.Logger
	now      func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	ticker  *time.Ticker
	started time.Time
	lastRun time.Time
	wg      sync.WaitGroup
}

// NewRefresher validates the schedule and builds a refresher for repo. The
// loop does not run until Start.
func NewRefresher(repo *Repository, schedule string, log logr.Logger) (*Refresher, error) {
	if _, _, err := parseSchedule(schedule); err != nil {
		return nil, err
	}
	return &Refresher{
		repo:     repo,
		schedule: schedule,
		log:      log.WithName("refresher"),
		now:      time.Now,
	}, nil
}

// Start starts the refresh loop. It is safe to call Start multiple times.
func (f *Refresher) Start(ctx context.Context) {
	f.mu.Lock()
	if f.ticker != nil {
		f.mu.Unlock()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.ticker = time.NewTicker(tickInterval)
	f.started = f.now().UTC()
	ticker := f.ticker
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				f.runOnce(loopCtx, now.UTC())
			}
		}
	}()
}

// Stop stops background refreshing and waits for an in-flight reload.
func (f *Refresher) Stop() {
	f.mu.Lock()
	if f.ticker == nil {
		f.mu.Unlock()
		return
	}

	f.ticker.Stop()
	f.ticker = nil
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *Refresher) runOnce(ctx context.Context, now time.Time) {
	f.mu.Lock()
	anchor := f.started
	if !f.lastRun.IsZero() {
		anchor = f.lastRun
	}
	due, err := scheduleDue(f.schedule, anchor, now)
	if err != nil {
		f.mu.Unlock()
		f.log.Error(err, "invalid refresh schedule", "schedule", f.schedule)
		return
	}
	if !due {
		f.mu.Unlock()
		return
	}
	f.lastRun = now
	f.mu.Unlock()

	if err := f.repo.reload(ctx, "schedule"); err != nil {
		// Already logged and audited by the repository; keep a debug trace.
		f.log.V(1).Info("scheduled reload failed", "error", err.Error())
	}
}

// scheduleDue reports whether the schedule's next firing after anchor has
// passed.
func scheduleDue(schedule string, anchor, now time.Time) (bool, error) {
	interval, spec, err := parseSchedule(schedule)
	if err != nil {
		return false, err
	}
	if spec != nil {
		return !spec.Next(anchor.UTC()).After(now.UTC()), nil
	}
	return !anchor.UTC().Add(interval).After(now.UTC()), nil
}

func parseSchedule(schedule string) (time.Duration, cron.Schedule, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return 0, nil, fmt.Errorf("schedule is required")
	}

	if interval, err := time.ParseDuration(schedule); err == nil {
		if interval <= 0 {
			return 0, nil, fmt.Errorf("refresh interval must be > 0")
		}
		return interval, nil, nil
	}

	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return 0, nil, fmt.Errorf("schedule %q is neither a duration nor a cron expression: %w", schedule, err)
	}
	return 0, spec, nil
}
