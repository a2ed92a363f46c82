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

package main

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/altairalabs/distgit-importer/internal/config"
	"github.com/altairalabs/distgit-importer/internal/distgit"
	"github.com/altairalabs/distgit-importer/internal/fetcher"
	"github.com/altairalabs/distgit-importer/internal/importer"
	"github.com/altairalabs/distgit-importer/internal/janitor"
	"github.com/altairalabs/distgit-importer/internal/lookaside"
	"github.com/altairalabs/distgit-importer/internal/lookaside/mirror"
	"github.com/altairalabs/distgit-importer/internal/notify"
	"github.com/altairalabs/distgit-importer/internal/pool"
	"github.com/altairalabs/distgit-importer/internal/tasksource"
	"github.com/altairalabs/distgit-importer/pkg/metrics"
)

// app holds the wired components of the importer process.
type app struct {
	cache   *lookaside.Cache
	pool    *pool.Pool
	janitor *janitor.Janitor

	closers []func() error
}

// newApp wires every component from opts. Metrics are registered on reg.
func newApp(ctx context.Context, opts config.Options, zlog *zap.Logger, reg prometheus.Registerer) (*app, error) {
	log := zapr.NewLogger(zlog)
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	importMetrics := metrics.NewImportMetricsWithRegisterer(reg)
	importMetrics.Initialize()
	lookasideMetrics := metrics.NewLookasideMetricsWithRegisterer(reg)
	sourceMetrics := tasksource.NewSourceMetrics(reg)
	sourceMetrics.Initialize()

	// --- Lookaside ---
	store, err := mirror.New(ctx, opts.Mirror)
	if err != nil {
		return nil, fmt.Errorf("creating lookaside mirror: %w", err)
	}
	if store != nil {
		a.closers = append(a.closers, store.Close)
	}
	a.cache, err = lookaside.New(lookaside.Config{
		Root:    opts.LookasideLocation,
		Mirror:  store,
		Metrics: lookasideMetrics,
	}, log)
	if err != nil {
		return nil, err
	}

	// --- Importer ---
	fetchOpts := fetcherOptions(opts)
	if err := fetchOpts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid classification: %w", err)
	}
	repos := distgit.NewStore(distgit.Options{
		BaseURL:           opts.GitBaseURL,
		AuthToken:         opts.GitAuthToken,
		WorkDir:           opts.WorkDir,
		DefaultBaseBranch: opts.DefaultBaseBranch,
		Author:            distgit.Identity{Name: opts.GitUserName, Email: opts.GitUserEmail},
	}, log)
	imp := importer.New(importerConfig(opts),
		fetcher.NewHTTPFetcher(fetchOpts, log),
		a.cache,
		importer.StoreOpener(repos),
		log,
		importer.WithMetrics(importMetrics),
		importer.WithCgitList(importer.NewCgitList(opts.CgitPkgListLocation)),
		importer.WithTaskLogs(zlog, opts.PerTaskLogDir),
	)

	// --- Task source ---
	source, err := newSource(opts, log)
	if err != nil {
		return nil, err
	}
	instrumented := tasksource.NewInstrumentedSource(source, sourceMetrics)
	a.closers = append(a.closers, instrumented.Close)

	poolOpts := []pool.Option{pool.WithMetrics(importMetrics)}
	if len(opts.Kafka.Brokers) > 0 {
		pub, err := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers:     opts.Kafka.Brokers,
			Topic:       opts.Kafka.Topic,
			Acks:        opts.Kafka.Acks,
			Compression: opts.Kafka.Compression,
		}, log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		poolOpts = append(poolOpts, pool.WithPublisher(pub))
	}
	a.pool = pool.New(poolConfig(opts), instrumented, imp, log, poolOpts...)

	// --- Janitor ---
	a.janitor, err = janitor.New(janitor.Config{
		Schedule:   opts.JanitorSchedule,
		ScratchDir: opts.ScratchDir,
		MaxAge:     opts.ScratchMaxAge.Std(),
	}, a.cache, log)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// Close releases resources in reverse creation order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func newSource(opts config.Options, log logr.Logger) (tasksource.Source, error) {
	switch opts.TaskSource.Type {
	case config.TaskSourceRedis:
		src, err := tasksource.NewRedisSource(tasksource.RedisOptions{
			Addr:     opts.TaskSource.RedisAddr,
			Password: opts.TaskSource.RedisPassword,
			DB:       opts.TaskSource.RedisDB,
			Queue:    opts.TaskSource.RedisQueue,
		})
		if err != nil {
			return nil, fmt.Errorf("creating redis task source: %w", err)
		}
		return src, nil
	default:
		fo := tasksource.DefaultFrontendOptions()
		fo.BaseURL = opts.FrontendBaseURL
		fo.Password = opts.FrontendAuth
		return tasksource.NewFrontendSource(fo, log), nil
	}
}

func fetcherOptions(opts config.Options) fetcher.Options {
	fo := fetcher.DefaultOptions()
	fo.Timeout = opts.FetchTimeout.Std()
	fo.MaxBytes = opts.FetchMaxBytes
	fo.RateLimit = opts.FetchRateLimit
	fo.Burst = opts.FetchBurst
	fo.FrontendAuth = opts.FrontendAuth

	c := opts.Classification
	if len(c.GitPatterns) > 0 {
		fo.Policy.GitPatterns = c.GitPatterns
	}
	if len(c.LookasidePatterns) > 0 {
		fo.Policy.LookasidePatterns = c.LookasidePatterns
	}
	if c.LargeFileThreshold > 0 {
		fo.Policy.LargeFileThreshold = c.LargeFileThreshold
	}
	return fo
}

func importerConfig(opts config.Options) importer.Config {
	cfg := importer.DefaultConfig()
	cfg.ScratchDir = opts.ScratchDir
	cfg.ConflictRetries = opts.ConflictRetries
	cfg.FetchRetries = opts.FetchRetries
	return cfg
}

func poolConfig(opts config.Options) pool.Config {
	return pool.Config{
		Workers:         opts.Workers(),
		Inline:          !opts.MultipleThreads,
		SleepTime:       opts.SleepTime.Std(),
		BusySleepTime:   opts.PoolBusySleepTime.Std(),
		FrontendBaseURL: opts.FrontendBaseURL,
	}
}
