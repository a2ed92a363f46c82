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

// Package pool polls a task source and dispatches import tasks to a bounded
// set of workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"

	"github.com/altairalabs/distgit-importer/internal/importerr"
	"github.com/altairalabs/distgit-importer/internal/task"
	"github.com/altairalabs/distgit-importer/internal/tasksource"
	"github.com/altairalabs/distgit-importer/pkg/metrics"
)

const reportTimeout = 30 * time.Second

var errUndelivered = errors.New("result not delivered before shutdown")

// Runner executes one import task.
type Runner interface {
	Run(ctx context.Context, t *task.ImportTask) *task.Result
}

// Publisher receives every reported result, e.g. to emit events.
type Publisher interface {
	Publish(ctx context.Context, result *task.Result) error
}

// Config holds pool settings.
type Config struct {
	// Workers is the maximum number of concurrent imports.
	Workers int

	// Inline runs each task on the polling goroutine, one at a time.
	Inline bool

	// SleepTime is the wait after a poll that found no task.
	SleepTime time.Duration

	// BusySleepTime is the wait while every worker is busy.
	BusySleepTime time.Duration

	// FrontendBaseURL is passed to task.Parse to classify sources.
	FrontendBaseURL string
}

// Pool is the polling supervisor.
type Pool struct {
	cfg       Config
	source    tasksource.Source
	runner    Runner
	publisher Publisher
	metrics   metrics.ImportRecorder
	log       logr.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu         sync.Mutex
	dispatched map[int64]struct{}
	inFlight   int
	unreported []*task.Result
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.ImportRecorder) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithPublisher publishes every result after it is reported.
func WithPublisher(pub Publisher) Option {
	return func(p *Pool) { p.publisher = pub }
}

// New creates a Pool.
func New(cfg Config, source tasksource.Source, runner Runner, log logr.Logger, opts ...Option) *Pool {
	if cfg.Workers < 1 || cfg.Inline {
		cfg.Workers = 1
	}
	p := &Pool{
		cfg:        cfg,
		source:     source,
		runner:     runner,
		metrics:    metrics.NoOpImportMetrics{},
		log:        log.WithName("pool"),
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		dispatched: make(map[int64]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls until ctx is cancelled, then waits for running tasks to finish,
// makes a last attempt at undelivered reports and returns nil. Task failures
// never stop the pool.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("pool started", "workers", p.cfg.Workers, "inline", p.cfg.Inline)
	defer func() {
		p.wg.Wait()
		p.drainReports(context.WithoutCancel(ctx))
		p.log.Info("pool stopped")
	}()

	for ctx.Err() == nil {
		p.retryReports(ctx)

		descs, err := p.source.Fetch(ctx)
		switch {
		case errors.Is(err, tasksource.ErrNoTask):
			p.metrics.RecordPoll(metrics.PollEmpty)
			sleep(ctx, p.cfg.SleepTime)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			p.metrics.RecordPoll(metrics.PollError)
			p.log.Error(err, "failed to fetch tasks")
			sleep(ctx, p.cfg.SleepTime)
			continue
		}
		p.metrics.RecordPoll(metrics.PollTask)

		dispatched := 0
		for _, desc := range descs {
			if !p.dispatch(ctx, desc) {
				continue
			}
			dispatched++
		}
		if dispatched == 0 {
			sleep(ctx, p.cfg.SleepTime)
		}
	}
	return nil
}

// dispatch starts desc unless it was already dispatched. It blocks, polling
// every BusySleepTime, while the pool is saturated. A task that cannot start
// before ctx is done is reported failed.
func (p *Pool) dispatch(ctx context.Context, desc task.Descriptor) bool {
	if p.seen(desc.TaskID) {
		return false
	}

	t, err := task.Parse(desc, p.cfg.FrontendBaseURL)
	if err != nil {
		// Descriptors without a usable id stay unclaimed so each one is reported.
		if desc.TaskID != 0 {
			p.claim(desc.TaskID)
		}
		p.rejectMalformed(ctx, desc, err)
		return true
	}

	p.claim(t.TaskID)
	if !p.acquire(ctx) {
		p.abandon(ctx, t)
		return true
	}
	p.track(1)

	if p.cfg.Inline {
		p.work(ctx, t)
		return true
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.work(ctx, t)
	}()
	return true
}

// acquire waits for a free worker. It fails once ctx is done.
func (p *Pool) acquire(ctx context.Context) bool {
	for ctx.Err() == nil {
		if p.sem.TryAcquire(1) {
			return true
		}
		p.metrics.RecordPoolBusy()
		sleep(ctx, p.cfg.BusySleepTime)
	}
	return false
}

func (p *Pool) work(ctx context.Context, t *task.ImportTask) {
	defer p.sem.Release(1)
	defer p.track(-1)

	result := p.runSafely(ctx, t)
	p.report(ctx, result)
}

// runSafely runs t, converting a panic into an internal failure.
func (p *Pool) runSafely(ctx context.Context, t *task.ImportTask) (result *task.Result) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: panic: %v", importerr.ErrInternal, r)
			p.log.Error(err, "import panicked", "task_id", t.TaskID)
			result = task.NewResult(t.TaskID)
			result.Fail(t.Branches, string(importerr.KindInternal), err.Error())
		}
	}()
	return p.runner.Run(ctx, t)
}

func (p *Pool) rejectMalformed(ctx context.Context, desc task.Descriptor, err error) {
	kind := importerr.KindOf(err)
	p.log.Error(err, "rejecting malformed task", "task_id", desc.TaskID, "error_kind", kind)
	result := task.NewResult(desc.TaskID)
	result.Fail(desc.Branches, string(kind), err.Error())
	p.metrics.RecordTask(false, "unknown")
	p.report(ctx, result)
}

// abandon reports a task that was fetched but never started.
func (p *Pool) abandon(ctx context.Context, t *task.ImportTask) {
	err := fmt.Errorf("%w: importer stopped before the task started", importerr.ErrInternal)
	p.log.Info("task not started before shutdown", "task_id", t.TaskID)
	result := task.NewResult(t.TaskID)
	result.Fail(t.Branches, string(importerr.KindInternal), err.Error())
	p.metrics.RecordTask(false, t.Source.Kind.String())
	p.report(ctx, result)
}

// report delivers result even while the pool is shutting down. Failed
// deliveries are retried before the next poll.
func (p *Pool) report(ctx context.Context, result *task.Result) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	if err := p.source.Report(rctx, result); err != nil {
		p.log.Error(err, "failed to report result, will retry", "task_id", result.TaskID)
		p.mu.Lock()
		p.unreported = append(p.unreported, result)
		p.mu.Unlock()
		return
	}
	p.log.V(1).Info("result reported", "task_id", result.TaskID, "success", result.Success)
	p.publish(rctx, result)
}

func (p *Pool) retryReports(ctx context.Context) {
	p.mu.Lock()
	pending := p.unreported
	p.unreported = nil
	p.mu.Unlock()

	for _, r := range pending {
		p.report(ctx, r)
	}
}

// drainReports retries undelivered reports once more and logs the ones
// that are still undelivered.
func (p *Pool) drainReports(ctx context.Context) {
	p.retryReports(ctx)

	p.mu.Lock()
	lost := p.unreported
	p.unreported = nil
	p.mu.Unlock()
	for _, r := range lost {
		p.log.Error(errUndelivered, "dropping result", "task_id", r.TaskID, "success", r.Success)
	}
}

func (p *Pool) publish(ctx context.Context, result *task.Result) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, result); err != nil {
		p.log.Error(err, "failed to publish result event", "task_id", result.TaskID)
	}
}

func (p *Pool) seen(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.dispatched[id]
	return ok
}

func (p *Pool) claim(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dispatched[id] = struct{}{}
}

func (p *Pool) track(delta int) {
	p.mu.Lock()
	p.inFlight += delta
	n := p.inFlight
	p.mu.Unlock()
	p.metrics.SetInFlight(n)
}

// InFlight returns the number of running tasks.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
