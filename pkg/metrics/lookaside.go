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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LookasideMetrics holds Prometheus metrics for the lookaside cache.
type LookasideMetrics struct {
	// BytesStored counts bytes written as new blobs.
	BytesStored prometheus.Counter
	// BlobsStored counts new blobs.
	BlobsStored prometheus.Counter
	// DedupHits counts puts that found the blob already stored.
	DedupHits prometheus.Counter
	// MirrorErrors counts failed mirror operations by operation.
	MirrorErrors *prometheus.CounterVec
}

// NewLookasideMetrics creates and registers lookaside metrics with the default registry.
func NewLookasideMetrics() *LookasideMetrics {
	return NewLookasideMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLookasideMetricsWithRegisterer creates lookaside metrics on a custom registerer.
func NewLookasideMetricsWithRegisterer(reg prometheus.Registerer) *LookasideMetrics {
	factory := promauto.With(reg)
	return &LookasideMetrics{
		BytesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "distgit_lookaside_bytes_stored_total",
			Help: "Total bytes written to the lookaside cache",
		}),
		BlobsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "distgit_lookaside_blobs_stored_total",
			Help: "Total number of blobs written to the lookaside cache",
		}),
		DedupHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "distgit_lookaside_dedup_hits_total",
			Help: "Total number of puts that matched an existing blob",
		}),
		MirrorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "distgit_lookaside_mirror_errors_total",
			Help: "Total number of failed lookaside mirror operations",
		}, []string{"operation"}),
	}
}

// RecordStored counts a newly stored blob of the given size.
func (m *LookasideMetrics) RecordStored(size int64) {
	m.BlobsStored.Inc()
	m.BytesStored.Add(float64(size))
}

// RecordDedupHit counts a put that matched an existing blob.
func (m *LookasideMetrics) RecordDedupHit() {
	m.DedupHits.Inc()
}

// RecordMirrorError counts a failed mirror operation.
func (m *LookasideMetrics) RecordMirrorError(op string) {
	m.MirrorErrors.WithLabelValues(op).Inc()
}

// LookasideRecorder is the interface for recording lookaside metrics.
type LookasideRecorder interface {
	RecordStored(size int64)
	RecordDedupHit()
	RecordMirrorError(op string)
}

// NoOpLookasideMetrics is a no-op implementation for when metrics are disabled.
type NoOpLookasideMetrics struct{}

// RecordStored is a no-op implementation for disabled metrics.
func (NoOpLookasideMetrics) RecordStored(int64) {
	// Intentionally empty: metrics are disabled
}

// RecordDedupHit is a no-op implementation for disabled metrics.
func (NoOpLookasideMetrics) RecordDedupHit() {
	// Intentionally empty: metrics are disabled
}

// RecordMirrorError is a no-op implementation for disabled metrics.
func (NoOpLookasideMetrics) RecordMirrorError(string) {
	// Intentionally empty: metrics are disabled
}

var (
	_ LookasideRecorder = (*LookasideMetrics)(nil)
	_ LookasideRecorder = NoOpLookasideMetrics{}
)
