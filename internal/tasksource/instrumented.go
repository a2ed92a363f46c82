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
	"context"
	"errors"
	"time"

	"github.com/altairalabs/distgit-importer/internal/task"
)

// InstrumentedSource wraps a Source with Prometheus metrics.
type InstrumentedSource struct {
	source  Source
	metrics SourceMetricsRecorder
}

// NewInstrumentedSource creates a new instrumented source wrapper.
func NewInstrumentedSource(source Source, metrics SourceMetricsRecorder) *InstrumentedSource {
	return &InstrumentedSource{
		source:  source,
		metrics: metrics,
	}
}

// Fetch delegates to the wrapped source. ErrNoTask is recorded as an empty
// poll, not an error.
func (s *InstrumentedSource) Fetch(ctx context.Context) ([]task.Descriptor, error) {
	start := time.Now()

	descs, err := s.source.Fetch(ctx)

	status := StatusSuccess
	switch {
	case errors.Is(err, ErrNoTask):
		status = StatusEmpty
	case err != nil:
		status = StatusError
	}
	s.metrics.RecordOperation(OpFetch, status, time.Since(start).Seconds())
	if err == nil {
		s.metrics.RecordReceived(len(descs))
	}
	return descs, err
}

// Report delegates to the wrapped source.
func (s *InstrumentedSource) Report(ctx context.Context, result *task.Result) error {
	start := time.Now()

	err := s.source.Report(ctx, result)

	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	s.metrics.RecordOperation(OpReport, status, time.Since(start).Seconds())
	return err
}

// Close closes the wrapped source.
func (s *InstrumentedSource) Close() error {
	return s.source.Close()
}

var _ Source = (*InstrumentedSource)(nil)
