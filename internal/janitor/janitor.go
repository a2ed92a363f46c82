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

// Package janitor runs periodic housekeeping: removing scratch directories
// left behind by interrupted imports and re-uploading lookaside blobs the
// mirror is missing.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// ScratchPrefix is the name prefix of per-task scratch directories. Only
// entries with this prefix are ever removed.
const ScratchPrefix = "task-"

// Resyncer re-uploads blobs missing from a mirror.
type Resyncer interface {
	Resync(ctx context.Context) (int, error)
}

// Config configures the janitor.
type Config struct {
	// Schedule is a standard cron expression or descriptor such as "@hourly".
	Schedule string

	// ScratchDir is scanned for stale task directories.
	ScratchDir string

	// MaxAge is the age after which a scratch directory is considered stale.
	MaxAge time.Duration
}

// Report summarizes one sweep.
type Report struct {
	ScratchRemoved int
	BlobsUploaded  int
}

// Janitor performs scheduled cleanup.
type Janitor struct {
	cfg      Config
	schedule cron.Schedule
	resync   Resyncer
	log      logr.Logger
	now      func() time.Time
}

// New validates the schedule and creates a Janitor. resync may be nil.
func New(cfg Config, resync Resyncer, log logr.Logger) (*Janitor, error) {
	sched, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}
	return &Janitor{
		cfg:      cfg,
		schedule: sched,
		resync:   resync,
		log:      log.WithName("janitor"),
		now:      time.Now,
	}, nil
}

// Run executes sweeps on the schedule until ctx is cancelled. A sweep still
// running at shutdown is waited for.
func (j *Janitor) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLogger(j.log),
		cron.WithChain(cron.Recover(j.log), cron.SkipIfStillRunning(j.log)),
	)
	c.Schedule(j.schedule, cron.FuncJob(func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.log.Error(err, "sweep failed")
		}
	}))

	j.log.Info("janitor started", "schedule", j.cfg.Schedule, "next", j.schedule.Next(j.now()))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Sweep removes stale scratch directories and resyncs the mirror.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   []error
	)

	removed, err := j.sweepScratch()
	report.ScratchRemoved = removed
	if err != nil {
		errs = append(errs, err)
	}

	if j.resync != nil {
		uploaded, err := j.resync.Resync(ctx)
		report.BlobsUploaded = uploaded
		if err != nil {
			errs = append(errs, fmt.Errorf("mirror resync: %w", err))
		}
	}

	j.log.Info("sweep finished", "scratch_removed", report.ScratchRemoved, "blobs_uploaded", report.BlobsUploaded)
	return report, errors.Join(errs...)
}

func (j *Janitor) sweepScratch() (int, error) {
	if j.cfg.ScratchDir == "" || j.cfg.MaxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(j.cfg.ScratchDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}

	cutoff := j.now().Add(-j.cfg.MaxAge)
	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), ScratchPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.cfg.ScratchDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
		j.log.V(1).Info("removed stale scratch directory", "path", path, "modified", info.ModTime())
	}
	return removed, errors.Join(errs...)
}
