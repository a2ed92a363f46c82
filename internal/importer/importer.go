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

// Package importer runs one import task end to end: fetch and unpack the
// source once, then for each requested branch sync the checkout, store large
// files in the lookaside cache, commit and push.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"

	"github.com/altairalabs/distgit-importer/internal/distgit"
	"github.com/altairalabs/distgit-importer/internal/fetcher"
	"github.com/altairalabs/distgit-importer/internal/importerr"
	"github.com/altairalabs/distgit-importer/internal/lookaside"
	"github.com/altairalabs/distgit-importer/internal/task"
	"github.com/altairalabs/distgit-importer/internal/tracing"
	"github.com/altairalabs/distgit-importer/pkg/logctx"
	"github.com/altairalabs/distgit-importer/pkg/logging"
	"github.com/altairalabs/distgit-importer/pkg/metrics"
)

// Stage is a step of the import state machine.
type Stage string

// Import stages in execution order. StageErrored is reachable from any step.
const (
	StageFetching   Stage = "fetching"
	StageUnpacking  Stage = "unpacking"
	StageSyncing    Stage = "syncing"
	StageStoring    Stage = "storing"
	StageCommitting Stage = "committing"
	StageReporting  Stage = "reporting"
	StageDone       Stage = "done"
	StageErrored    Stage = "errored"
)

var tracer = otel.Tracer("github.com/altairalabs/distgit-importer/internal/importer")

// BranchRepository is one branch checkout.
type BranchRepository interface {
	Sync(ctx context.Context) error
	Apply(files []fetcher.File, manifest *distgit.Manifest, prune bool) error
	CommitAndPush(ctx context.Context, message string) (distgit.PushResult, error)
}

// RepositoryOpener returns the checkout for a branch.
type RepositoryOpener func(ref distgit.Ref) (BranchRepository, error)

// StoreOpener opens repositories from a distgit.Store.
func StoreOpener(s *distgit.Store) RepositoryOpener {
	return func(ref distgit.Ref) (BranchRepository, error) {
		return s.Open(ref)
	}
}

// Lookaside stores large files.
type Lookaside interface {
	PutFile(ctx context.Context, project, filename, path string) (lookaside.Entry, error)
}

// Config holds importer settings.
type Config struct {
	// ScratchDir is where per-task scratch directories are created.
	ScratchDir string

	// ConflictRetries bounds how often a branch step restarts after a
	// rejected push.
	ConflictRetries int

	// FetchRetries bounds how often a transient download failure is retried.
	FetchRetries int

	// FetchBackoff is the delay schedule between download attempts. Steps is
	// derived from FetchRetries.
	FetchBackoff wait.Backoff

	// ConflictBackoff is the delay schedule between conflict retries. Steps
	// is derived from ConflictRetries.
	ConflictBackoff wait.Backoff
}

// DefaultConfig returns the default retry schedule.
func DefaultConfig() Config {
	return Config{
		ScratchDir:      os.TempDir(),
		ConflictRetries: 3,
		FetchRetries:    3,
		FetchBackoff:    wait.Backoff{Duration: 2 * time.Second, Factor: 2, Jitter: 0.1, Cap: time.Minute},
		ConflictBackoff: retry.DefaultRetry,
	}
}

// Importer runs import tasks. It is safe for concurrent use; work on the
// same branch is serialized through BranchLocks.
type Importer struct {
	cfg       Config
	fetcher   fetcher.Fetcher
	lookaside Lookaside
	open      RepositoryOpener
	locks     *BranchLocks
	metrics   metrics.ImportRecorder
	cgit      *CgitList
	log       logr.Logger

	taskLogBase *zap.Logger
	taskLogDir  string
}

// Option configures an Importer.
type Option func(*Importer)

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.ImportRecorder) Option {
	return func(i *Importer) { i.metrics = m }
}

// WithCgitList records imported repositories in the cgit list.
func WithCgitList(c *CgitList) Option {
	return func(i *Importer) { i.cgit = c }
}

// WithBranchLocks shares a lock table between importers.
func WithBranchLocks(l *BranchLocks) Option {
	return func(i *Importer) { i.locks = l }
}

// WithTaskLogs writes each task's log to dir/<task_id>.log in addition to base.
func WithTaskLogs(base *zap.Logger, dir string) Option {
	return func(i *Importer) {
		i.taskLogBase = base
		i.taskLogDir = dir
	}
}

// New creates an Importer.
func New(cfg Config, f fetcher.Fetcher, cache Lookaside, open RepositoryOpener, log logr.Logger, opts ...Option) *Importer {
	i := &Importer{
		cfg:       cfg,
		fetcher:   f,
		lookaside: cache,
		open:      open,
		locks:     NewBranchLocks(),
		metrics:   metrics.NoOpImportMetrics{},
		log:       log.WithName("importer"),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// taskRun is the state shared by the branches of one task.
type taskRun struct {
	task    *task.ImportTask
	sources *fetcher.LocalSources
	log     logr.Logger

	cleanupDir string

	storeOnce sync.Once
	manifest  *distgit.Manifest
	storeErr  error
}

// Run imports t and returns its result. Failures are reported in the result,
// never returned.
func (i *Importer) Run(ctx context.Context, t *task.ImportTask) *task.Result {
	ctx = logctx.WithLoggingContext(ctx, &logctx.LoggingFields{
		TaskID:    t.TaskID,
		User:      t.User,
		Project:   t.Project,
		AttemptID: uuid.NewString(),
	})
	log, closeLog := i.taskLogger(t.TaskID)
	defer closeLog()
	log = logctx.LoggerWithContext(log, ctx)

	ctx, span := tracer.Start(ctx, "importer.Run", trace.WithAttributes(
		tracing.TaskAttributes(t.TaskID, t.Owner(), t.Source.Kind.String(), t.Branches)...))
	defer span.End()

	result := task.NewResult(t.TaskID)
	log.Info("import started", "source", t.Source.URL, "kind", t.Source.Kind.String(), "branches", t.Branches)

	run, err := i.prepare(ctx, log, t)
	if err == nil {
		defer run.cleanup()
		result.PkgName = run.sources.Package.Name
		result.PkgVersion = run.sources.Package.EVR()
		for _, branch := range t.Branches {
			result.SetBranch(branch, i.importBranch(ctx, run, branch))
		}
	} else {
		kind := importerr.KindOf(err)
		log.Error(err, "import failed before branch work", "stage", StageErrored, "error_kind", kind)
		result.Fail(t.Branches, string(kind), err.Error())
	}

	i.enterStage(log, StageReporting)
	i.metrics.RecordTask(result.Success, t.Source.Kind.String())
	if !result.Success {
		span.SetStatus(codes.Error, "import failed")
		log.Info("import finished with failures", "stage", StageDone, "failed", result.FailedBranches())
	} else {
		tracing.SetSuccess(span)
		log.Info("import finished", "stage", StageDone, "package", result.PkgName, "version", result.PkgVersion)
	}
	return result
}

// prepare fetches and unpacks the source into a fresh scratch directory.
func (i *Importer) prepare(ctx context.Context, log logr.Logger, t *task.ImportTask) (*taskRun, error) {
	if err := os.MkdirAll(i.cfg.ScratchDir, 0750); err != nil {
		return nil, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	scratch, err := os.MkdirTemp(i.cfg.ScratchDir, fmt.Sprintf("task-%d-", t.TaskID))
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %v", importerr.ErrStorage, err)
	}
	run := &taskRun{task: t, log: log}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(scratch)
		}
	}()

	var downloaded string
	err = i.timed(ctx, log, StageFetching, func(ctx context.Context) error {
		return retryFetch(ctx, i.fetchBackoff(), func(ctx context.Context) error {
			var err error
			downloaded, err = i.fetcher.Download(ctx, t.Source, scratch)
			if err != nil && importerr.IsRetryable(err) && !fetcher.IsPermanent(err) {
				log.Info("download failed, will retry", "error", err.Error())
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	err = i.timed(ctx, log, StageUnpacking, func(ctx context.Context) error {
		var err error
		run.sources, err = i.fetcher.Unpack(ctx, t.Source, downloaded, scratch)
		return err
	})
	if err != nil {
		return nil, err
	}

	run.cleanupDir = scratch
	ok = true
	log.Info("source unpacked", "package", run.sources.Package.Name, "evr", run.sources.Package.EVR(),
		"git_files", len(run.sources.GitFiles()), "lookaside_files", len(run.sources.LookasideFiles()))
	return run, nil
}

func (i *Importer) fetchBackoff() wait.Backoff {
	b := i.cfg.FetchBackoff
	b.Steps = i.cfg.FetchRetries + 1
	return b
}

func (i *Importer) conflictBackoff() wait.Backoff {
	b := i.cfg.ConflictBackoff
	b.Steps = i.cfg.ConflictRetries + 1
	return b
}

// retryFetch retries transient download failures. Waits end early when ctx
// is cancelled.
func retryFetch(ctx context.Context, backoff wait.Backoff, fn func(context.Context) error) error {
	var last error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		last = fn(ctx)
		switch {
		case last == nil:
			return true, nil
		case importerr.IsRetryable(last) && !fetcher.IsPermanent(last):
			return false, nil
		default:
			return false, last
		}
	})
	if err != nil && wait.Interrupted(err) && last != nil {
		return last
	}
	return err
}

// importBranch runs the sync, store and commit steps for one branch under
// its branch lock, restarting from sync on push conflicts.
func (i *Importer) importBranch(ctx context.Context, run *taskRun, branch string) task.BranchResult {
	t := run.task
	ctx = logctx.WithBranch(ctx, branch)
	log := run.log.WithValues("branch", branch)
	ref := distgit.Ref{User: t.User, Project: t.Project, Package: run.sources.Package.Name, Branch: branch}
	ctx = logctx.WithPackage(ctx, ref.Package)

	ctx, span := tracer.Start(ctx, "importer.Branch", trace.WithAttributes(attribute.String(tracing.AttrBranch, branch)))
	defer span.End()

	res, err := i.lockedBranch(ctx, log, run, ref)
	if err != nil {
		kind := importerr.KindOf(err)
		tracing.RecordError(span, err, string(kind))
		log.Error(err, "branch import failed", "stage", StageErrored, "error_kind", kind)
		i.metrics.RecordBranch(metrics.OutcomeFailure, string(kind))
		return task.BranchResult{Error: err.Error(), ErrorKind: string(kind)}
	}

	outcome := metrics.OutcomeSuccess
	if res.NoOp {
		outcome = metrics.OutcomeNoOp
	} else if err := i.cgit.Add(ref.RepoPath() + ".git"); err != nil {
		log.Error(err, "failed to update cgit list")
	}
	i.metrics.RecordBranch(outcome, "")
	return task.BranchResult{Success: true, GitHash: res.Hash}
}

func (i *Importer) lockedBranch(ctx context.Context, log logr.Logger, run *taskRun, ref distgit.Ref) (distgit.PushResult, error) {
	unlock, err := i.locks.Lock(ctx, LockKey(ref))
	if err != nil {
		return distgit.PushResult{}, fmt.Errorf("%w: waiting for branch lock: %v", importerr.ErrInternal, err)
	}
	defer unlock()

	repo, err := i.open(ref)
	if err != nil {
		return distgit.PushResult{}, err
	}

	var (
		res     distgit.PushResult
		last    error
		attempt int
	)
	err = wait.ExponentialBackoffWithContext(ctx, i.conflictBackoff(), func(ctx context.Context) (bool, error) {
		attempt++
		if attempt > 1 {
			i.metrics.RecordConflictRetry()
			log.Info("push rejected, restarting from sync", "attempt", attempt)
		}
		res, last = i.branchAttempt(ctx, log, run, repo)
		switch {
		case last == nil:
			return true, nil
		case errors.Is(last, importerr.ErrConflict):
			return false, nil
		default:
			return false, last
		}
	})
	if err != nil && wait.Interrupted(err) && last != nil {
		return res, last
	}
	return res, err
}

func (i *Importer) branchAttempt(ctx context.Context, log logr.Logger, run *taskRun, repo BranchRepository) (distgit.PushResult, error) {
	if err := i.timed(ctx, log, StageSyncing, repo.Sync); err != nil {
		return distgit.PushResult{}, err
	}

	err := i.timed(ctx, log, StageStoring, func(ctx context.Context) error {
		manifest, err := i.store(ctx, run)
		if err != nil {
			return err
		}
		return repo.Apply(run.sources.GitFiles(), manifest, !run.sources.SpecOnly)
	})
	if err != nil {
		return distgit.PushResult{}, err
	}

	// Nothing is committed once the task is cancelled; the next Sync
	// discards the applied tree.
	if err := ctx.Err(); err != nil {
		return distgit.PushResult{}, fmt.Errorf("%w: cancelled before commit: %v", importerr.ErrInternal, err)
	}

	var res distgit.PushResult
	err = i.timed(ctx, log, StageCommitting, func(ctx context.Context) error {
		var err error
		res, err = repo.CommitAndPush(ctx, commitMessage(run))
		return err
	})
	return res, err
}

// store puts the lookaside files of the task into the cache once and
// returns the manifest. Spec-only imports have no manifest.
func (i *Importer) store(ctx context.Context, run *taskRun) (*distgit.Manifest, error) {
	if run.sources.SpecOnly {
		return nil, nil
	}
	run.storeOnce.Do(func() {
		manifest := distgit.NewManifest()
		for _, f := range run.sources.LookasideFiles() {
			entry, err := i.lookaside.PutFile(ctx, run.task.Project, f.Name, f.Path)
			if err != nil {
				run.storeErr = err
				return
			}
			manifest.Add(entry.Filename, entry.Hash)
			run.log.V(1).Info("stored in lookaside", "file", entry.Filename, "hash", entry.Hash, "size", entry.Size)
		}
		run.manifest = manifest
	})
	return run.manifest, run.storeErr
}

func commitMessage(run *taskRun) string {
	pkg := run.sources.Package
	return fmt.Sprintf("Import %s-%s\n\nAutomatic import of task %d from %s.\n",
		pkg.Name, pkg.EVR(), run.task.TaskID, run.task.Source.Filename())
}

func (i *Importer) timed(ctx context.Context, log logr.Logger, stage Stage, fn func(context.Context) error) error {
	ctx = logctx.WithStage(ctx, string(stage))
	i.enterStage(log, stage)
	start := time.Now()
	err := fn(ctx)
	i.metrics.ObserveStage(string(stage), time.Since(start))
	return err
}

func (i *Importer) enterStage(log logr.Logger, stage Stage) {
	log.V(1).Info("entering stage", "stage", stage)
}

func (i *Importer) taskLogger(taskID int64) (logr.Logger, func()) {
	if i.taskLogBase == nil || i.taskLogDir == "" {
		return i.log, func() {}
	}
	log, closeLog, err := logging.TaskLogger(i.taskLogBase, i.taskLogDir, taskID)
	if err != nil {
		i.log.Error(err, "per-task log unavailable", "task_id", taskID)
		return i.log, func() {}
	}
	return log.WithName("importer"), func() { _ = closeLog() }
}

func (r *taskRun) cleanup() {
	if r.cleanupDir != "" {
		_ = os.RemoveAll(r.cleanupDir)
	}
}
