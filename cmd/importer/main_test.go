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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/altairalabs/distgit-importer/internal/config"
	"github.com/altairalabs/distgit-importer/internal/fetcher"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "importer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func baseConfig(t *testing.T) string {
	dir := t.TempDir()
	return `
frontend_base_url: http://front.example.org
frontend_auth: secret
git_base_url: ` + filepath.Join(dir, "git") + `
lookaside_location: ` + filepath.Join(dir, "lookaside") + `
work_dir: ` + filepath.Join(dir, "work") + `
scratch_dir: ` + filepath.Join(dir, "scratch") + `
sleep_time: 10
pool_busy_sleep_time: 0.5
multiple_threads: false
mirror:
  backend: memory
classification:
  git_patterns: ["*.spec", "*.patch", "*.conf"]
  large_file_threshold: 4096
`
}

func TestParseFlags(t *testing.T) {
	f, err := parseFlags([]string{"-config", "/tmp/x.yaml", "-metrics-addr", ":9999"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.yaml", f.configPath)
	assert.Equal(t, ":9999", f.metricsAddr)

	_, err = parseFlags([]string{"-unknown"})
	assert.Error(t, err)
}

func TestLoadOptions(t *testing.T) {
	t.Setenv("DISTGIT_FRONTEND_AUTH", "from-env")
	path := writeConfig(t, baseConfig(t))

	opts, err := loadOptions(&flags{configPath: path, metricsAddr: ":9191", logDir: "/var/log/x"})
	require.NoError(t, err)

	assert.Equal(t, "from-env", opts.FrontendAuth)
	assert.Equal(t, ":9191", opts.MetricsAddr)
	assert.Equal(t, "/var/log/x", opts.LogDir)
	assert.Equal(t, 1, opts.Workers())
}

func TestLoadOptions_Invalid(t *testing.T) {
	path := writeConfig(t, "sleep_time: 10\n")
	_, err := loadOptions(&flags{configPath: path})
	assert.ErrorContains(t, err, "frontend_base_url is required")
}

func TestFetcherOptions(t *testing.T) {
	opts := config.DefaultOptions()
	opts.FrontendAuth = "secret"
	opts.FetchTimeout = config.Duration(time.Minute)
	opts.Classification.LargeFileThreshold = 4096

	fo := fetcherOptions(opts)
	assert.Equal(t, time.Minute, fo.Timeout)
	assert.Equal(t, "secret", fo.FrontendAuth)
	assert.Equal(t, "user", fo.FrontendUser)
	assert.Equal(t, int64(4096), fo.Policy.LargeFileThreshold)
	assert.Equal(t, fetcher.DefaultPolicy().GitPatterns, fo.Policy.GitPatterns)

	opts.Classification.GitPatterns = []string{"*.conf"}
	assert.Equal(t, []string{"*.conf"}, fetcherOptions(opts).Policy.GitPatterns)
}

func TestPoolAndImporterConfig(t *testing.T) {
	opts := config.DefaultOptions()
	opts.MultipleThreads = false
	opts.ConflictRetries = 7

	pc := poolConfig(opts)
	assert.True(t, pc.Inline)
	assert.Equal(t, 1, pc.Workers)
	assert.Equal(t, 10*time.Second, pc.SleepTime)

	ic := importerConfig(opts)
	assert.Equal(t, 7, ic.ConflictRetries)
	assert.Equal(t, opts.ScratchDir, ic.ScratchDir)
}

func TestNewApp(t *testing.T) {
	path := writeConfig(t, baseConfig(t))
	opts, err := loadOptions(&flags{configPath: path})
	require.NoError(t, err)

	a, err := newApp(context.Background(), opts, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.cache)
	assert.NotNil(t, a.pool)
	assert.NotNil(t, a.janitor)
	assert.DirExists(t, opts.LookasideLocation)
}

func TestNewApp_InvalidSchedule(t *testing.T) {
	path := writeConfig(t, baseConfig(t)+"janitor_schedule: whenever\n")
	opts, err := loadOptions(&flags{configPath: path})
	require.NoError(t, err)

	_, err = newApp(context.Background(), opts, zap.NewNop(), prometheus.NewRegistry())
	assert.Error(t, err)
}
