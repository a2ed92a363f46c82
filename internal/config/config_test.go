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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/distgit-importer/internal/lookaside/mirror"
)

const sampleConfig = `
frontend_base_url: http://front
frontend_auth: secure_password
git_base_url: https://my_git_base_url.org
lookaside_location: /srv/lookaside
cgit_pkg_list_location: /srv/cgit
sleep_time: 10
pool_busy_sleep_time: 0.5
log_dir: /var/log/distgit
per_task_log_dir: /var/log/distgit/tasks
multiple_threads: true
git_user_name: Test user
git_user_email: test@test.org
conflict_retries: 5
fetch_timeout: 2m
classification:
  large_file_threshold: 1048576
`

func validOptions() Options {
	opts := DefaultOptions()
	opts.FrontendBaseURL = "http://front"
	opts.GitBaseURL = "https://my_git_base_url.org"
	opts.LookasideLocation = "/srv/lookaside"
	return opts
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.Equal(t, 10*time.Second, opts.SleepTime.Std())
	assert.Equal(t, 500*time.Millisecond, opts.PoolBusySleepTime.Std())
	assert.True(t, opts.MultipleThreads)
	assert.Equal(t, 4, opts.MaxWorkers)
	assert.Equal(t, 3, opts.ConflictRetries)
	assert.Equal(t, "master", opts.DefaultBaseBranch)
	assert.Equal(t, TaskSourceFrontend, opts.TaskSource.Type)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0600))

	opts, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://front", opts.FrontendBaseURL)
	assert.Equal(t, "secure_password", opts.FrontendAuth)
	assert.Equal(t, 10*time.Second, opts.SleepTime.Std())
	assert.Equal(t, 500*time.Millisecond, opts.PoolBusySleepTime.Std())
	assert.Equal(t, 2*time.Minute, opts.FetchTimeout.Std())
	assert.Equal(t, "Test user", opts.GitUserName)
	assert.Equal(t, "/srv/cgit", opts.CgitPkgListLocation)
	assert.Equal(t, 5, opts.ConflictRetries)
	assert.Equal(t, int64(1048576), opts.Classification.LargeFileThreshold)
	// Defaults survive for keys absent from the file.
	assert.Equal(t, 3, opts.FetchRetries)
	require.NoError(t, opts.Validate())
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sleep_time: soon\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DISTGIT_FRONTEND_BASE_URL", "https://copr.example.org")
	t.Setenv("DISTGIT_SLEEP_TIME", "3s")
	t.Setenv("DISTGIT_MAX_WORKERS", "8")
	t.Setenv("DISTGIT_MULTIPLE_THREADS", "false")

	opts := validOptions()
	opts.ApplyEnv()

	assert.Equal(t, "https://copr.example.org", opts.FrontendBaseURL)
	assert.Equal(t, 3*time.Second, opts.SleepTime.Std())
	assert.Equal(t, 8, opts.MaxWorkers)
	assert.False(t, opts.MultipleThreads)
	assert.Equal(t, 1, opts.Workers())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Options)
		wantErr bool
	}{
		{name: "valid", modify: func(*Options) {}},
		{name: "missing frontend", modify: func(o *Options) { o.FrontendBaseURL = "" }, wantErr: true},
		{name: "relative frontend", modify: func(o *Options) { o.FrontendBaseURL = "front" }, wantErr: true},
		{name: "missing git base", modify: func(o *Options) { o.GitBaseURL = "" }, wantErr: true},
		{name: "missing lookaside", modify: func(o *Options) { o.LookasideLocation = "" }, wantErr: true},
		{name: "zero sleep", modify: func(o *Options) { o.SleepTime = 0 }, wantErr: true},
		{name: "zero busy sleep", modify: func(o *Options) { o.PoolBusySleepTime = 0 }, wantErr: true},
		{name: "no workers", modify: func(o *Options) { o.MaxWorkers = 0 }, wantErr: true},
		{name: "negative retries", modify: func(o *Options) { o.ConflictRetries = -1 }, wantErr: true},
		{name: "redis without addr", modify: func(o *Options) { o.TaskSource.Type = TaskSourceRedis }, wantErr: true},
		{name: "unknown source", modify: func(o *Options) { o.TaskSource.Type = "kafka" }, wantErr: true},
		{name: "s3 mirror without bucket", modify: func(o *Options) { o.Mirror.Backend = mirror.BackendS3 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.modify(&opts)
			err := opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"10", 10 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"1m30s", 90 * time.Second},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
