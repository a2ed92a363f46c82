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

// Command importer polls the front-end for import tasks and materializes
// packaged sources into dist-git branch repositories and the lookaside cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/altairalabs/distgit-importer/internal/config"
	"github.com/altairalabs/distgit-importer/internal/lookaside"
	"github.com/altairalabs/distgit-importer/internal/tracing"
	"github.com/altairalabs/distgit-importer/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

// flags groups all CLI flags for the importer binary.
type flags struct {
	configPath  string
	metricsAddr string
	logDir      string
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "/etc/distgit-importer/importer.yaml", "Path to the configuration YAML")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Metrics address (overrides metrics_addr)")
	fs.StringVar(&f.logDir, "log-dir", "", "Log directory (overrides log_dir)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// loadOptions reads the config file, applies environment and flag overrides
// and validates the result.
func loadOptions(f *flags) (config.Options, error) {
	opts, err := config.Load(f.configPath)
	if err != nil {
		return opts, err
	}
	opts.ApplyEnv()
	if f.metricsAddr != "" {
		opts.MetricsAddr = f.metricsAddr
	}
	if f.logDir != "" {
		opts.LogDir = f.logDir
	}
	if err := opts.Validate(); err != nil {
		return opts, fmt.Errorf("invalid configuration: %w", err)
	}
	return opts, nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	opts, err := loadOptions(f)
	if err != nil {
		return err
	}

	// --- Logger ---
	zlog, syncLog, err := logging.NewProcessLogger(opts.LogDir)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()
	log := zapr.NewLogger(zlog)

	// --- Signal context ---
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Tracing ---
	tp, err := tracing.NewProvider(ctx, opts.Tracing)
	if err != nil {
		return fmt.Errorf("creating tracing provider: %w", err)
	}
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutCancel()
		_ = tp.Shutdown(shutCtx)
	}()

	a, err := newApp(ctx, opts, zlog, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.pool.Run(gctx) })
	g.Go(func() error { return a.janitor.Run(gctx) })

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		serve(gctx, g, log, "metrics", opts.MetricsAddr, mux)
	}
	if opts.LookasideHTTPAddr != "" {
		mux := http.NewServeMux()
		lookaside.NewHandler(a.cache, log).RegisterRoutes(mux)
		serve(gctx, g, log, "lookaside", opts.LookasideHTTPAddr, mux)
	}

	log.Info("importer started",
		"frontend", opts.FrontendBaseURL,
		"git_base_url", opts.GitBaseURL,
		"workers", opts.Workers(),
		"task_source", opts.TaskSource.Type)
	err = g.Wait()
	log.Info("importer stopped")
	return err
}

// serve runs an HTTP server in g until ctx is done.
func serve(ctx context.Context, g *errgroup.Group, log logr.Logger, name, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		log.Info("starting server", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutCancel()
		return srv.Shutdown(shutCtx)
	})
}
