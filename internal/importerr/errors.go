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

// Package importerr defines the error taxonomy shared by the import pipeline.
//
// Components wrap one of the sentinel errors with fmt.Errorf("%w: ...") and
// callers classify failures with KindOf and IsRetryable.
package importerr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per failure kind.
var (
	// ErrMalformedTask indicates a task descriptor that cannot be parsed.
	ErrMalformedTask = errors.New("malformed task")
	// ErrMalformedSource indicates a source reference of unrecognized shape.
	ErrMalformedSource = errors.New("malformed source")
	// ErrFetch indicates a transient failure retrieving source material.
	ErrFetch = errors.New("fetch failed")
	// ErrStorage indicates a local filesystem failure.
	ErrStorage = errors.New("storage failure")
	// ErrGitTransport indicates the git remote could not be reached.
	ErrGitTransport = errors.New("git transport failure")
	// ErrBranchNotFound indicates neither the branch nor a base branch exists upstream.
	ErrBranchNotFound = errors.New("branch not found")
	// ErrConflict indicates the remote branch advanced between sync and push.
	ErrConflict = errors.New("push conflict")
	// ErrInternal indicates an unexpected failure such as a worker panic.
	ErrInternal = errors.New("internal error")
)

// Kind is the reported classification of a failure.
type Kind string

// Failure kinds as reported upstream.
const (
	KindNone           Kind = ""
	KindMalformedTask  Kind = "malformed_task"
	KindMalformedSrc   Kind = "malformed_source"
	KindFetch          Kind = "fetch"
	KindStorage        Kind = "storage"
	KindGitTransport   Kind = "git_transport"
	KindBranchNotFound Kind = "branch_not_found"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrMalformedTask, KindMalformedTask},
	{ErrMalformedSource, KindMalformedSrc},
	{ErrFetch, KindFetch},
	{ErrStorage, KindStorage},
	{ErrGitTransport, KindGitTransport},
	{ErrBranchNotFound, KindBranchNotFound},
	{ErrConflict, KindConflict},
	{ErrInternal, KindInternal},
}

// KindOf classifies err. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether err is transient: fetch, git transport and
// push conflicts.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrFetch) || errors.Is(err, ErrGitTransport) || errors.Is(err, ErrConflict)
}

// Wrap annotates err with a sentinel unless it is already classified.
func Wrap(sentinel error, err error, msg string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindInternal || errors.Is(err, ErrInternal) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", sentinel, msg, err)
}
