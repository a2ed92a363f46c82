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

package tasksource

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric status constants.
const (
	StatusSuccess = "success"
	StatusEmpty   = "empty"
	StatusError   = "error"
)

// Operation name constants.
const (
	OpFetch  = "fetch"
	OpReport = "report"
)

// DefaultOperationDurationBuckets are the default histogram buckets for
// source operations. Front-end calls are HTTP round trips.
var DefaultOperationDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// SourceMetrics holds Prometheus metrics for task source operations.
type SourceMetrics struct {
	// OperationsTotal tracks operations by kind and status.
	OperationsTotal *prometheus.CounterVec

	// OperationDuration tracks operation latency.
	OperationDuration *prometheus.HistogramVec

	// TasksReceived counts descriptors returned by Fetch.
	TasksReceived prometheus.Counter
}

// NewSourceMetrics creates and registers source metrics with reg.
func NewSourceMetrics(reg prometheus.Registerer) *SourceMetrics {
	factory := promauto.With(reg)
	return &SourceMetrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "distgit_task_source_operations_total",
			Help: "Total number of task source operations",
		}, []string{"operation", "status"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "distgit_task_source_operation_duration_seconds",
			Help:    "Task source operation duration in seconds",
			Buckets: DefaultOperationDurationBuckets,
		}, []string{"operation"}),

		TasksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "distgit_task_source_tasks_received_total",
			Help: "Total number of task descriptors received",
		}),
	}
}

// Initialize pre-registers label combinations so they appear at startup.
func (m *SourceMetrics) Initialize() {
	for _, op := range []string{OpFetch, OpReport} {
		m.OperationsTotal.WithLabelValues(op, StatusSuccess).Add(0)
		m.OperationsTotal.WithLabelValues(op, StatusError).Add(0)
		m.OperationDuration.WithLabelValues(op)
	}
	m.OperationsTotal.WithLabelValues(OpFetch, StatusEmpty).Add(0)
}

// RecordOperation records one operation.
func (m *SourceMetrics) RecordOperation(operation, status string, durationSeconds float64) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordReceived counts received descriptors.
func (m *SourceMetrics) RecordReceived(n int) {
	m.TasksReceived.Add(float64(n))
}

// SourceMetricsRecorder is the interface for recording source metrics.
type SourceMetricsRecorder interface {
	RecordOperation(operation, status string, durationSeconds float64)
	RecordReceived(n int)
}

// NoOpSourceMetrics is a no-op implementation of SourceMetricsRecorder.
type NoOpSourceMetrics struct{}

// RecordOperation is a no-op.
func (NoOpSourceMetrics) RecordOperation(string, string, float64) {}

// RecordReceived is a no-op.
func (NoOpSourceMetrics) RecordReceived(int) {}

var (
	_ SourceMetricsRecorder = (*SourceMetrics)(nil)
	_ SourceMetricsRecorder = NoOpSourceMetrics{}
)
