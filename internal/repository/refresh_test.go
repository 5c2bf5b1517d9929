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
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func TestScheduleDue(t *testing.T) {
	anchor := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		schedule string
		now      time.Time
		want     bool
		wantErr  bool
	}{
		{name: "duration not yet due", schedule: "1m", now: anchor.Add(30 * time.Second), want: false},
		{name: "duration due exactly", schedule: "1m", now: anchor.Add(time.Minute), want: true},
		{name: "duration overdue", schedule: "1m", now: anchor.Add(2 * time.Hour), want: true},
		{name: "cron due", schedule: "*/5 * * * *", now: anchor.Add(5 * time.Minute), want: true},
		{name: "cron not due", schedule: "*/5 * * * *", now: anchor.Add(4 * time.Minute), want: false},
		{name: "every descriptor", schedule: "@every 1m", now: anchor.Add(61 * time.Second), want: true},
		{name: "empty", schedule: "", wantErr: true},
		{name: "zero duration", schedule: "0s", wantErr: true},
		{name: "negative duration", schedule: "-1m", wantErr: true},
		{name: "garbage", schedule: "whenever", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := scheduleDue(tc.schedule, anchor, tc.now)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("scheduleDue(%q) did not fail", tc.schedule)
				}
				return
			}
			if err != nil {
				t.Fatalf("scheduleDue(%q): %v", tc.schedule, err)
			}
			if got != tc.want {
				t.Errorf("scheduleDue(%q) = %v, want %v", tc.schedule, got, tc.want)
			}
		})
	}
}

func TestNewRefresherValidatesSchedule(t *testing.T) {
	repo := New(nil, logr.Discard(), NewStaticSource("static"))

	for _, schedule := range []string{"", "0s", "-5m", "not a schedule"} {
		if _, err := NewRefresher(repo, schedule, logr.Discard()); err == nil {
			t.Errorf("NewRefresher(%q) accepted an invalid schedule", schedule)
		}
	}
	for _, schedule := range []string{"90s", "*/2 * * * *", "@every 1m"} {
		if _, err := NewRefresher(repo, schedule, logr.Discard()); err != nil {
			t.Errorf("NewRefresher(%q): %v", schedule, err)
		}
	}
}

func TestRefresherRunsWhenDue(t *testing.T) {
	src := NewStaticSource("static", Document{Origin: "a.yaml", Data: envDoc("env-a")})
	repo := New(nil, logr.Discard(), src)

	f, err := NewRefresher(repo, "1m", logr.Discard())
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}
	start := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	f.started = start
	ctx := context.Background()

	f.runOnce(ctx, start.Add(30*time.Second))
	if got := repo.Environments(); len(got) != 0 {
		t.Fatal("reload ran before the interval elapsed")
	}

	f.runOnce(ctx, start.Add(61*time.Second))
	if got := repo.Environments(); len(got) != 1 {
		t.Fatalf("got %d environments after due tick, want 1", len(got))
	}

	// lastRun advanced, so the next tick inside the same interval is a no-op.
	src.SetDocuments(
		Document{Origin: "a.yaml", Data: envDoc("env-a")},
		Document{Origin: "b.yaml", Data: envDoc("env-b")},
	)
	f.runOnce(ctx, start.Add(90*time.Second))
	if got := repo.Environments(); len(got) != 1 {
		t.Fatal("reload ran again before the next interval")
	}

	f.runOnce(ctx, start.Add(3*time.Minute))
	if got := repo.Environments(); len(got) != 2 {
		t.Fatalf("got %d environments after second due tick, want 2", len(got))
	}
}

func TestRefresherStartStop(t *testing.T) {
	repo := New(nil, logr.Discard(), NewStaticSource("static"))
	f, err := NewRefresher(repo, "1h", logr.Discard())
	if err != nil {
		t.Fatalf("NewRefresher: %v", err)
	}

	f.Stop() // never started

	ctx := context.Background()
	f.Start(ctx)
	f.Start(ctx) // second Start is a no-op
	f.Stop()

	f.Start(ctx) // restart after Stop
	f.Stop()
}
