/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// WebhookNotifier posts rendered notices as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	URL     string
	Headers map[string]string // optional auth headers

	client   *http.Client
	renderer *Renderer
}

// NewWebhookNotifier builds a webhook notifier. Times in the payload body
// are rendered in loc.
func NewWebhookNotifier(url string, headers map[string]string, loc *time.Location) *WebhookNotifier {
	return &WebhookNotifier{
		URL:      url,
		Headers:  headers,
		client:   &http.Client{Timeout: 10 * time.Second},
		renderer: NewRenderer(loc),
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n Notice) error {
	recipients := make([]string, len(n.Recipients))
	for i, r := range n.Recipients {
		recipients[i] = r.String()
	}
	payload := map[string]any{
		"kind":       string(n.Kind),
		"user":       n.User.Value(),
		"group":      n.Group.String(),
		"recipients": recipients,
		"subject":    w.renderer.Subject(n),
		"body":       w.renderer.Body(n),
		"expiry":     n.Expiry.UTC().Format(time.RFC3339),
	}
	if n.Token != "" {
		payload["token"] = n.Token
	}
	if !n.Approver.IsZero() {
		payload["approver"] = n.Approver.Value()
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Fanout delivers each notice to every notifier, applying a per-group rate
// limit when configured. Individual failures are logged and joined; the
// remaining notifiers still run.
type Fanout struct {
	notifiers []Notifier
	limiter   *RateLimiter
	log       logr.Logger
}

// NewFanout builds a fanout. limiter may be nil.
func NewFanout(log logr.Logger, limiter *RateLimiter, notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers, limiter: limiter, log: log}
}

func (f *Fanout) Notify(ctx context.Context, n Notice) error {
	if f.limiter != nil && !f.limiter.Allow(n.Group.String()) {
		f.log.Info("notification rate-limited", "group", n.Group.String())
		return nil
	}

	var errs []error
	for _, nt := range f.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			f.log.Error(err, "notification failed", "kind", string(n.Kind), "group", n.Group.String())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RateLimiter bounds notices per key per hour.
type RateLimiter struct {
	maxPerHour int
	now        func() time.Time

	mu     sync.Mutex
	counts map[string][]time.Time
}

// NewRateLimiter builds a limiter allowing maxPerHour notices per key.
func NewRateLimiter(maxPerHour int) *RateLimiter {
	return &RateLimiter{
		maxPerHour: maxPerHour,
		now:        time.Now,
		counts:     make(map[string][]time.Time),
	}
}

// Allow reports whether another notice for key fits the budget.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-1 * time.Hour)

	recent := make([]time.Time, 0, len(rl.counts[key]))
	for _, t := range rl.counts[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxPerHour {
		rl.counts[key] = recent
		return false
	}

	rl.counts[key] = append(recent, now)
	return true
}
