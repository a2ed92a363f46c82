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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/altairalabs/distgit-importer/internal/task"
)

const resultsSuffix = ":results"

// RedisOptions contains Redis-specific configuration options.
type RedisOptions struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password is the Redis password (optional).
	Password string

	// DB is the Redis database number.
	DB int

	// Queue is the list producers push descriptors onto. Results are pushed
	// to Queue + ":results".
	Queue string

	// BatchSize is the maximum number of descriptors taken per Fetch.
	BatchSize int
}

// RedisSource reads descriptors from a Redis list. Each Fetch pops up to
// BatchSize entries; results are appended to the results list as JSON.
type RedisSource struct {
	client *redis.Client
	opts   RedisOptions
	mu     sync.RWMutex
	closed bool
}

// NewRedisSource connects to Redis and instruments the client with tracing.
func NewRedisSource(opts RedisOptions) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to instrument Redis client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSourceFromClient(client, opts), nil
}

// NewRedisSourceFromClient creates a RedisSource from an existing client.
func NewRedisSourceFromClient(client *redis.Client, opts RedisOptions) *RedisSource {
	if opts.Queue == "" {
		opts.Queue = "distgit:tasks"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &RedisSource{client: client, opts: opts}
}

// Fetch pops up to BatchSize descriptors.
func (s *RedisSource) Fetch(ctx context.Context) ([]task.Descriptor, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	items, err := s.client.LPopCount(ctx, s.opts.Queue, s.opts.BatchSize).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(items) == 0) {
		return nil, ErrNoTask
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from %s: %w", s.opts.Queue, err)
	}

	descs := make([]task.Descriptor, 0, len(items))
	for _, item := range items {
		descs = append(descs, task.DecodeDescriptor([]byte(item)))
	}
	return descs, nil
}

// Report appends the result to the results list.
func (s *RedisSource) Report(ctx context.Context, result *task.Result) error {
	if s.isClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := s.client.RPush(ctx, s.ResultsKey(), data).Err(); err != nil {
		return fmt.Errorf("failed to push result: %w", err)
	}
	return nil
}

// ResultsKey returns the list results are appended to.
func (s *RedisSource) ResultsKey() string {
	return s.opts.Queue + resultsSuffix
}

// Close closes the Redis connection.
func (s *RedisSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *RedisSource) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

var _ Source = (*RedisSource)(nil)
