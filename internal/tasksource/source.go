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

// Package tasksource provides the boundary through which the importer
// receives task descriptors and reports results.
package tasksource

import (
	"context"
	"errors"

	"github.com/altairalabs/distgit-importer/internal/task"
)

// Common errors returned by sources.
var (
	// ErrNoTask is returned by Fetch when no task is waiting.
	ErrNoTask = errors.New("no task available")

	// ErrClosed is returned when operating on a closed source.
	ErrClosed = errors.New("task source is closed")
)

// Source supplies pending import tasks and accepts their results.
type Source interface {
	// Fetch returns the currently pending descriptors, or ErrNoTask when
	// there are none. A source may return a task again until its result has
	// been reported.
	Fetch(ctx context.Context) ([]task.Descriptor, error)

	// Report delivers the result of a finished task.
	Report(ctx context.Context, result *task.Result) error

	// Close releases resources held by the source.
	Close() error
}
