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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/altairalabs/distgit-importer/internal/task"
)

// Front-end endpoints, relative to the base URL.
const (
	importingPath = "/backend/importing/"
	completedPath = "/backend/import-completed/"
)

const maxResponseBytes = 16 << 20

// FrontendOptions configures a FrontendSource.
type FrontendOptions struct {
	// BaseURL is the front-end root, e.g. https://copr.example.org.
	BaseURL string

	// User and Password are sent as basic auth on every request.
	User     string
	Password string

	// Timeout bounds a single request.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultFrontendOptions returns FrontendOptions with defaults.
func DefaultFrontendOptions() FrontendOptions {
	return FrontendOptions{
		User:             "user",
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// FrontendSource polls the front-end HTTP API for tasks and posts results
// back. Calls go through a circuit breaker so an unavailable front-end is not
// hammered by every poll.
type FrontendSource struct {
	opts    FrontendOptions
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     logr.Logger

	mu     sync.RWMutex
	closed bool
}

// FrontendOption configures a FrontendSource.
type FrontendOption func(*FrontendSource)

// WithFrontendHTTPClient replaces the default traced HTTP client.
func WithFrontendHTTPClient(c *http.Client) FrontendOption {
	return func(s *FrontendSource) { s.client = c }
}

// NewFrontendSource creates a FrontendSource.
func NewFrontendSource(opts FrontendOptions, log logr.Logger, options ...FrontendOption) *FrontendSource {
	defaults := DefaultFrontendOptions()
	if opts.User == "" {
		opts.User = defaults.User
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = defaults.FailureThreshold
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = defaults.OpenTimeout
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")

	s := &FrontendSource{
		opts: opts,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log.WithName("frontend-source"),
	}
	threshold := opts.FailureThreshold
	s.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "frontend",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Info("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	for _, o := range options {
		o(s)
	}
	return s
}

// Fetch retrieves the list of tasks waiting for import.
func (s *FrontendSource) Fetch(ctx context.Context) ([]task.Descriptor, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	body, err := s.do(ctx, http.MethodGet, importingPath, nil)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode task list: %w", err)
	}
	if len(raw) == 0 {
		return nil, ErrNoTask
	}

	descs := make([]task.Descriptor, 0, len(raw))
	for _, r := range raw {
		descs = append(descs, task.DecodeDescriptor(r))
	}
	return descs, nil
}

// Report posts a task result to the front-end.
func (s *FrontendSource) Report(ctx context.Context, result *task.Result) error {
	if s.isClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	_, err = s.do(ctx, http.MethodPost, completedPath, data)
	return err
}

// Close marks the source closed and drops idle connections.
func (s *FrontendSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.client.CloseIdleConnections()
	return nil
}

func (s *FrontendSource) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	body, err := s.breaker.Execute(func() ([]byte, error) {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, s.opts.BaseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(s.opts.User, s.opts.Password)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("front-end unavailable: %w", err)
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return body, nil
}

func (s *FrontendSource) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

var _ Source = (*FrontendSource)(nil)
