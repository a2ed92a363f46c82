/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics defines the Prometheus metrics exported by the importer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeNoOp    = "noop"
)

// Poll result label values.
const (
	PollTask  = "task"
	PollEmpty = "empty"
	PollError = "error"
)

// DefaultStageDurationBuckets cover sub-second git operations up to
// multi-minute source downloads.
var DefaultStageDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// ImportMetrics holds Prometheus metrics for the import pipeline.
type ImportMetrics struct {
	// TasksTotal counts finished tasks by outcome and source kind.
	TasksTotal *prometheus.CounterVec
	// BranchesTotal counts branch imports by outcome and error kind.
	BranchesTotal *prometheus.CounterVec
	// StageDuration tracks time spent per import stage.
	StageDuration *prometheus.HistogramVec
	// TasksInFlight is the number of tasks currently being imported.
	TasksInFlight prometheus.Gauge
	// ConflictRetries counts branch steps restarted after a push conflict.
	ConflictRetries prometheus.Counter
	// PollsTotal counts task source polls by result.
	PollsTotal *prometheus.CounterVec
	// PoolBusyTotal counts dispatch attempts deferred because the pool was full.
	PoolBusyTotal prometheus.Counter
}

// NewImportMetrics creates and registers import metrics with the default registry.
func NewImportMetrics() *ImportMetrics {
	return NewImportMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewImportMetricsWithRegisterer creates import metrics on a custom registerer.
func NewImportMetricsWithRegisterer(reg prometheus.Registerer) *ImportMetrics {
	factory := promauto.With(reg)
	return &ImportMetrics{
		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "distgit_import_tasks_total",
			Help: "Total number of finished import tasks",
		}, []string{"outcome", "source_kind"}),

		BranchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "distgit_import_branches_total",
			Help: "Total number of branch imports",
		}, []string{"outcome", "error_kind"}),

		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "distgit_import_stage_duration_seconds",
			Help:    "Import stage duration in seconds",
			Buckets: DefaultStageDurationBuckets,
		}, []string{"stage"}),

		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "distgit_import_tasks_in_flight",
			Help: "Number of import tasks currently running",
		}),

		ConflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "distgit_import_conflict_retries_total",
			Help: "Total number of branch imports restarted after a push conflict",
		}),

		PollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "distgit_pool_polls_total",
			Help: "Total number of task source polls",
		}, []string{"result"}),

		PoolBusyTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "distgit_pool_busy_total",
			Help: "Total number of dispatches deferred because all workers were busy",
		}),
	}
}

// Initialize pre-registers label combinations so they appear in /metrics at startup.
func (m *ImportMetrics) Initialize() {
	m.TasksInFlight.Set(0)
	for _, r := range []string{PollTask, PollEmpty, PollError} {
		m.PollsTotal.WithLabelValues(r).Add(0)
	}
}

// RecordTask counts a finished task.
func (m *ImportMetrics) RecordTask(success bool, sourceKind string) {
	m.TasksTotal.WithLabelValues(outcome(success), sourceKind).Inc()
}

// RecordBranch counts a finished branch import.
func (m *ImportMetrics) RecordBranch(result, errorKind string) {
	m.BranchesTotal.WithLabelValues(result, errorKind).Inc()
}

// ObserveStage records the duration of an import stage.
func (m *ImportMetrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetInFlight sets the number of running tasks.
func (m *ImportMetrics) SetInFlight(n int) {
	m.TasksInFlight.Set(float64(n))
}

// RecordConflictRetry counts a conflict-driven branch restart.
func (m *ImportMetrics) RecordConflictRetry() {
	m.ConflictRetries.Inc()
}

// RecordPoll counts a task source poll.
func (m *ImportMetrics) RecordPoll(result string) {
	m.PollsTotal.WithLabelValues(result).Inc()
}

// RecordPoolBusy counts a deferred dispatch.
func (m *ImportMetrics) RecordPoolBusy() {
	m.PoolBusyTotal.Inc()
}

// ImportRecorder is the interface for recording import metrics.
// This allows for no-op implementations when metrics are disabled.
type ImportRecorder interface {
	RecordTask(success bool, sourceKind string)
	RecordBranch(result, errorKind string)
	ObserveStage(stage string, d time.Duration)
	SetInFlight(n int)
	RecordConflictRetry()
	RecordPoll(result string)
	RecordPoolBusy()
}

// NoOpImportMetrics is a no-op implementation for when metrics are disabled.
type NoOpImportMetrics struct{}

// RecordTask is a no-op implementation for disabled metrics.
func (NoOpImportMetrics) RecordTask(bool, string) {
	// Intentionally empty: metrics are disabled
}

// RecordBranch is a no-op implementation for disabled metrics.
func (NoOpImportMetrics) RecordBranch(string, string) {
	// Intentionally empty: metrics are disabled
}

// ObserveStage is a no-op implementation for disabled metrics.
func (NoOpImportMetrics) ObserveStage(string, time.Duration) {
	// Intentionally empty: metrics are disabled
}

// SetInFlight is a no-op implementation for disabled metrics.
func (NoOpImportMetrics) SetInFlight(int) {
	// Intentionally empty: metrics are disabled
}

// RecordConflictRetry is a no-op implementation for disabled metrics.
func (NoOpImportMetrics) RecordConflictRetry() {
	// Intentionally empty: metrics are disabled
}

// RecordPoll is a no-op implementation for disabled metrics.
func (NoOpImportMetrics) RecordPoll(string) {
	// Intentionally empty: metrics are disabled
}

// RecordPoolBusy is a no-op implementation for disabled metrics.
func (NoOpImportMetrics) RecordPoolBusy() {
	// Intentionally empty: metrics are disabled
}

func outcome(success bool) string {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// Ensure implementations satisfy the interface.
var (
	_ ImportRecorder = (*ImportMetrics)(nil)
	_ ImportRecorder = NoOpImportMetrics{}
)
