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
	"sync"

	"github.com/altairalabs/distgit-importer/internal/task"
)

// MemorySource is an in-memory Source. Like the front-end, it keeps
// returning a task until a result for it has been reported.
type MemorySource struct {
	mu      sync.Mutex
	pending []task.Descriptor
	results []*task.Result
	closed  bool
}

// NewMemorySource creates a MemorySource holding descs.
func NewMemorySource(descs ...task.Descriptor) *MemorySource {
	s := &MemorySource{}
	s.Add(descs...)
	return s
}

// Add queues descriptors.
func (s *MemorySource) Add(descs ...task.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, descs...)
}

// AddJSON queues a raw descriptor.
func (s *MemorySource) AddJSON(raw string) {
	s.Add(task.DecodeDescriptor([]byte(raw)))
}

// Fetch returns every descriptor without a reported result.
func (s *MemorySource) Fetch(context.Context) ([]task.Descriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.pending) == 0 {
		return nil, ErrNoTask
	}
	return append([]task.Descriptor(nil), s.pending...), nil
}

// Report records result and removes its task from the pending list.
func (s *MemorySource) Report(_ context.Context, result *task.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.results = append(s.results, result)
	kept := s.pending[:0]
	for _, d := range s.pending {
		if d.TaskID != result.TaskID {
			kept = append(kept, d)
		}
	}
	s.pending = kept
	return nil
}

// Results returns the reported results in order.
func (s *MemorySource) Results() []*task.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*task.Result(nil), s.results...)
}

// Close closes the source.
func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Source = (*MemorySource)(nil)
