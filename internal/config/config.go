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

// Package config provides configuration management for the importer.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/altairalabs/distgit-importer/internal/lookaside/mirror"
	"github.com/altairalabs/distgit-importer/internal/tracing"
)

// Task source types.
const (
	TaskSourceFrontend = "frontend"
	TaskSourceRedis    = "redis"
)

// Duration is a time.Duration that unmarshals from either a Go duration
// string ("10s") or a bare number of seconds (10, 0.5).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Classification configures how unpacked files are split between git and
// the lookaside cache.
type Classification struct {
	GitPatterns        []string `yaml:"git_patterns"`
	LookasidePatterns  []string `yaml:"lookaside_patterns"`
	LargeFileThreshold int64    `yaml:"large_file_threshold"`
}

// TaskSource selects where tasks are polled from.
type TaskSource struct {
	// Type is "frontend" (default) or "redis".
	Type       string `yaml:"type"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisQueue string `yaml:"redis_queue"`
	RedisDB    int    `yaml:"redis_db"`

	// RedisPassword is normally supplied through DISTGIT_REDIS_PASSWORD.
	RedisPassword string `yaml:"redis_password"`
}

// Kafka configures result event publishing. Publishing is disabled when
// Brokers is empty.
type Kafka struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Acks        string   `yaml:"acks"`
	Compression string   `yaml:"compression"`
}

// Options holds all configuration options for the importer.
type Options struct {
	// FrontendBaseURL is polled for tasks and receives results. Its host
	// distinguishes uploaded artifacts from remote URLs.
	FrontendBaseURL string `yaml:"frontend_base_url"`

	// FrontendAuth is the password used for basic auth against the front-end.
	FrontendAuth string `yaml:"frontend_auth"`

	// GitBaseURL is the root of the branch repository remotes.
	GitBaseURL string `yaml:"git_base_url"`

	// GitAuthToken is an optional password/token for git HTTP transport.
	GitAuthToken string `yaml:"git_auth_token"`

	// LookasideLocation is the filesystem root of the content-addressed store.
	LookasideLocation string `yaml:"lookaside_location"`

	// SleepTime is the idle-poll backoff interval.
	SleepTime Duration `yaml:"sleep_time"`

	// PoolBusySleepTime is the backoff interval when all workers are busy.
	PoolBusySleepTime Duration `yaml:"pool_busy_sleep_time"`

	LogDir        string `yaml:"log_dir"`
	PerTaskLogDir string `yaml:"per_task_log_dir"`

	// MultipleThreads enables concurrent dispatch. When false tasks run one
	// at a time on the polling goroutine.
	MultipleThreads bool `yaml:"multiple_threads"`

	GitUserName  string `yaml:"git_user_name"`
	GitUserEmail string `yaml:"git_user_email"`

	// WorkDir holds the per-branch git working trees.
	WorkDir string `yaml:"work_dir"`

	// ScratchDir holds per-task download and unpack directories.
	ScratchDir string `yaml:"scratch_dir"`

	// CgitPkgListLocation, when set, receives a cgit_pkg_list file listing
	// every imported package repository.
	CgitPkgListLocation string `yaml:"cgit_pkg_list_location"`

	MaxWorkers        int    `yaml:"max_workers"`
	ConflictRetries   int    `yaml:"conflict_retries"`
	FetchRetries      int    `yaml:"fetch_retries"`
	DefaultBaseBranch string `yaml:"default_base_branch"`

	FetchTimeout   Duration `yaml:"fetch_timeout"`
	FetchMaxBytes  int64    `yaml:"fetch_max_bytes"`
	FetchRateLimit float64  `yaml:"fetch_rate_limit"`
	FetchBurst     int      `yaml:"fetch_burst"`

	Classification Classification `yaml:"classification"`
	TaskSource     TaskSource     `yaml:"task_source"`
	Mirror         mirror.Config  `yaml:"mirror"`
	Kafka          Kafka          `yaml:"kafka"`
	Tracing        tracing.Config `yaml:"tracing"`

	// MetricsAddr is the address the metrics endpoint binds to. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// LookasideHTTPAddr serves lookaside blobs over HTTP when set.
	LookasideHTTPAddr string `yaml:"lookaside_http_addr"`

	// JanitorSchedule is the cron schedule for scratch cleanup and mirror resync.
	JanitorSchedule string   `yaml:"janitor_schedule"`
	ScratchMaxAge   Duration `yaml:"scratch_max_age"`
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		SleepTime:         Duration(10 * time.Second),
		PoolBusySleepTime: Duration(500 * time.Millisecond),
		MultipleThreads:   true,
		GitUserName:       "distgit-importer",
		GitUserEmail:      "distgit-importer@localhost",
		WorkDir:           "/var/lib/distgit-importer/work",
		ScratchDir:        os.TempDir(),
		MaxWorkers:        4,
		ConflictRetries:   3,
		FetchRetries:      3,
		DefaultBaseBranch: "master",
		FetchTimeout:      Duration(5 * time.Minute),
		FetchMaxBytes:     2 << 30,
		FetchRateLimit:    10,
		FetchBurst:        5,
		TaskSource:        TaskSource{Type: TaskSourceFrontend, RedisQueue: "distgit:tasks"},
		Kafka:             Kafka{Topic: "distgit.import.completed"},
		Tracing:           tracing.Config{ServiceName: "distgit-importer", SampleRate: 1.0},
		MetricsAddr:       ":9090",
		JanitorSchedule:   "@hourly",
		ScratchMaxAge:     Duration(24 * time.Hour),
	}
}

// Load reads a YAML configuration file on top of DefaultOptions.
func Load(path string) (Options, error) {
	opts := DefaultOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return opts, nil
}

// ApplyEnv overrides options from DISTGIT_* environment variables.
func (o *Options) ApplyEnv() {
	o.FrontendBaseURL = getEnvOrDefault("DISTGIT_FRONTEND_BASE_URL", o.FrontendBaseURL)
	o.FrontendAuth = getEnvOrDefault("DISTGIT_FRONTEND_AUTH", o.FrontendAuth)
	o.GitBaseURL = getEnvOrDefault("DISTGIT_GIT_BASE_URL", o.GitBaseURL)
	o.GitAuthToken = getEnvOrDefault("DISTGIT_GIT_AUTH_TOKEN", o.GitAuthToken)
	o.LookasideLocation = getEnvOrDefault("DISTGIT_LOOKASIDE_LOCATION", o.LookasideLocation)
	o.WorkDir = getEnvOrDefault("DISTGIT_WORK_DIR", o.WorkDir)
	o.LogDir = getEnvOrDefault("DISTGIT_LOG_DIR", o.LogDir)
	o.PerTaskLogDir = getEnvOrDefault("DISTGIT_PER_TASK_LOG_DIR", o.PerTaskLogDir)
	o.SleepTime = Duration(getDurationEnv("DISTGIT_SLEEP_TIME", o.SleepTime.Std()))
	o.PoolBusySleepTime = Duration(getDurationEnv("DISTGIT_POOL_BUSY_SLEEP_TIME", o.PoolBusySleepTime.Std()))
	o.MaxWorkers = getIntEnv("DISTGIT_MAX_WORKERS", o.MaxWorkers)
	o.MultipleThreads = getBoolEnv("DISTGIT_MULTIPLE_THREADS", o.MultipleThreads)
	o.TaskSource.RedisAddr = getEnvOrDefault("DISTGIT_REDIS_ADDR", o.TaskSource.RedisAddr)
	o.TaskSource.RedisPassword = getEnvOrDefault("DISTGIT_REDIS_PASSWORD", o.TaskSource.RedisPassword)
	o.MetricsAddr = getEnvOrDefault("DISTGIT_METRICS_ADDR", o.MetricsAddr)
}

// Validate checks if the Options are valid.
func (o *Options) Validate() error {
	var errs []error
	if o.FrontendBaseURL == "" {
		errs = append(errs, errors.New("frontend_base_url is required"))
	} else if u, err := url.Parse(o.FrontendBaseURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("frontend_base_url %q is not an absolute URL", o.FrontendBaseURL))
	}
	if o.GitBaseURL == "" {
		errs = append(errs, errors.New("git_base_url is required"))
	}
	if o.LookasideLocation == "" {
		errs = append(errs, errors.New("lookaside_location is required"))
	}
	if o.WorkDir == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}
	if o.SleepTime <= 0 {
		errs = append(errs, errors.New("sleep_time must be positive"))
	}
	if o.PoolBusySleepTime <= 0 {
		errs = append(errs, errors.New("pool_busy_sleep_time must be positive"))
	}
	if o.MaxWorkers < 1 {
		errs = append(errs, errors.New("max_workers must be at least 1"))
	}
	if o.ConflictRetries < 0 || o.FetchRetries < 0 {
		errs = append(errs, errors.New("retry counts must not be negative"))
	}
	if o.GitUserName == "" || o.GitUserEmail == "" {
		errs = append(errs, errors.New("git_user_name and git_user_email are required"))
	}
	switch o.TaskSource.Type {
	case "", TaskSourceFrontend:
	case TaskSourceRedis:
		if o.TaskSource.RedisAddr == "" {
			errs = append(errs, errors.New("task_source.redis_addr is required for the redis task source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown task_source.type %q", o.TaskSource.Type))
	}
	if err := o.Mirror.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Workers returns the effective worker count, honoring MultipleThreads.
func (o *Options) Workers() int {
	if !o.MultipleThreads {
		return 1
	}
	return o.MaxWorkers
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := parseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}
