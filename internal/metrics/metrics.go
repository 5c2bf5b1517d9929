/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the access broker.
//
// All metrics are registered with the default registry so any embedding
// process that serves promhttp exposes them without extra wiring.
//
// Metric naming follows Prometheus conventions:
//   - claviger_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the join and approval counters.
const (
	OutcomeCommitted = "committed"
	OutcomeProposed  = "proposed"
	OutcomeDenied    = "denied"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

var (
	// JoinsTotal counts join requests by terminal outcome.
	JoinsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claviger_joins_total",
			Help: "Total join requests by outcome.",
		},
		[]string{"outcome"},
	)

	// ApprovalsTotal counts approval requests by terminal outcome.
	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claviger_approvals_total",
			Help: "Total approval requests by outcome.",
		},
		[]string{"outcome"},
	)

	// AnalysisDurationSeconds is a histogram of policy analysis latency.
	AnalysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claviger_analysis_duration_seconds",
			Help:    "Duration of policy analyses in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// SubjectResolvesTotal counts subject resolutions, cached or not.
	SubjectResolvesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claviger_subject_resolves_total",
			Help: "Total subject resolutions served, including cache hits.",
		},
	)

	// DirectoryLookupsTotal counts calls that actually reached the
	// directory, by status. Subtract from SubjectResolvesTotal for the
	// cache hit rate.
	DirectoryLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claviger_directory_lookups_total",
			Help: "Total directory membership lookups by status.",
		},
		[]string{"status"},
	)

	// PolicyReloadsTotal counts repository reloads by status.
	PolicyReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claviger_policy_reloads_total",
			Help: "Total policy repository reloads by status.",
		},
		[]string{"status"},
	)

	// PolicyEnvironments is the number of environments in the published
	// snapshot.
	PolicyEnvironments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "claviger_policy_environments",
			Help: "Environments in the currently published policy snapshot.",
		},
	)

	// ProvisionsTotal counts provisioning calls by status.
	ProvisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claviger_provisions_total",
			Help: "Total membership provisioning calls by status.",
		},
		[]string{"status"},
	)

	// NotificationsTotal counts delivered notifications by status.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claviger_notifications_total",
			Help: "Total notifications dispatched by status.",
		},
		[]string{"status"},
	)

	// ReplayEntries is the current size of the proposal replay set.
	ReplayEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "claviger_replay_entries",
			Help: "Proposal identifiers currently held in the replay set.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		JoinsTotal,
		ApprovalsTotal,
		AnalysisDurationSeconds,
		SubjectResolvesTotal,
		DirectoryLookupsTotal,
		PolicyReloadsTotal,
		PolicyEnvironments,
		ProvisionsTotal,
		NotificationsTotal,
		ReplayEntries,
	)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordJoin records one join request with its outcome and analysis latency.
func RecordJoin(outcome string, duration time.Duration) {
	JoinsTotal.WithLabelValues(outcome).Inc()
	AnalysisDurationSeconds.Observe(duration.Seconds())
}

// RecordApproval records one approval request with its outcome and analysis
// latency.
func RecordApproval(outcome string, duration time.Duration) {
	ApprovalsTotal.WithLabelValues(outcome).Inc()
	AnalysisDurationSeconds.Observe(duration.Seconds())
}

// RecordSubjectResolve records one subject resolution.
func RecordSubjectResolve() {
	SubjectResolvesTotal.Inc()
}

// RecordDirectoryLookup records one directory call.
func RecordDirectoryLookup(err error) {
	DirectoryLookupsTotal.WithLabelValues(status(err)).Inc()
}

// RecordPolicyReload records one repository reload and, on success, the
// snapshot size.
func RecordPolicyReload(err error, environments int) {
	PolicyReloadsTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		PolicyEnvironments.Set(float64(environments))
	}
}

// RecordProvision records one provisioning call.
func RecordProvision(err error) {
	ProvisionsTotal.WithLabelValues(status(err)).Inc()
}

// RecordNotification records one notification dispatch.
func RecordNotification(err error) {
	NotificationsTotal.WithLabelValues(status(err)).Inc()
}

// SetReplayEntries publishes the replay set size.
func SetReplayEntries(n int) {
	ReplayEntries.Set(float64(n))
}
