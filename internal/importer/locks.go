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

package importer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/altairalabs/distgit-importer/internal/distgit"
)

// BranchLocks serializes work on the same repository branch. Locks are
// created on demand and dropped when no holder or waiter remains.
type BranchLocks struct {
	mu    sync.Mutex
	locks map[string]*branchLock
}

type branchLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewBranchLocks creates an empty lock table.
func NewBranchLocks() *BranchLocks {
	return &BranchLocks{locks: make(map[string]*branchLock)}
}

// LockKey returns the key guarding ref: one lock per (user/project, branch).
func LockKey(ref distgit.Ref) string {
	return fmt.Sprintf("%s/%s@%s", ref.User, ref.Project, ref.Branch)
}

// Lock blocks until the key is free or ctx is done. The returned function
// releases the lock.
func (l *BranchLocks) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	bl, ok := l.locks[key]
	if !ok {
		bl = &branchLock{sem: semaphore.NewWeighted(1)}
		l.locks[key] = bl
	}
	bl.refs++
	l.mu.Unlock()

	if err := bl.sem.Acquire(ctx, 1); err != nil {
		l.release(key, bl, false)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, bl, true) })
	}, nil
}

func (l *BranchLocks) release(key string, bl *branchLock, held bool) {
	if held {
		bl.sem.Release(1)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bl.refs--
	if bl.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (l *BranchLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
