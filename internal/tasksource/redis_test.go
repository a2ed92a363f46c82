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
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/distgit-importer/internal/task"
)

func newRedisSource(t *testing.T, batch int) (*RedisSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisSourceFromClient(client, RedisOptions{Queue: "tasks", BatchSize: batch})
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisSource_Fetch(t *testing.T) {
	s, mr := newRedisSource(t, 2)
	for _, d := range []string{
		`{"task_id": 1, "user": "foo", "project": "bar", "branches": ["f22"], "source_json": "{}"}`,
		`{"task_id": 2, "user": "foo", "project": "bar", "branches": ["f22"], "source_json": "{}"}`,
		`{"task_id": 3, "user": "foo", "project": "bar", "branches": ["f22"], "source_json": "{}"}`,
	} {
		_, err := mr.Push("tasks", d)
		require.NoError(t, err)
	}

	first, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), first[0].TaskID)
	assert.Equal(t, int64(2), first[1].TaskID)

	second, err := s.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, int64(3), second[0].TaskID)

	_, err = s.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoTask)
}

func TestRedisSource_Report(t *testing.T) {
	s, mr := newRedisSource(t, 0)

	res := task.NewResult(42)
	res.Fail([]string{"f22"}, "fetch", "GET failed")
	require.NoError(t, s.Report(context.Background(), res))

	items, err := mr.List("tasks:results")
	require.NoError(t, err)
	require.Len(t, items, 1)

	var got task.Result
	require.NoError(t, json.Unmarshal([]byte(items[0]), &got))
	assert.Equal(t, int64(42), got.TaskID)
	assert.False(t, got.Success)
	assert.Equal(t, "fetch", got.Branches["f22"].ErrorKind)
	assert.Equal(t, "tasks:results", s.ResultsKey())
}

func TestRedisSource_Closed(t *testing.T) {
	s, _ := newRedisSource(t, 0)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
