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

// Package logging provides shared logger initialization for the importer
// binaries: a process logger that tees to a log directory and per-task file
// loggers that tee into the process logger.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ProcessLogFile is the name of the process-wide log file inside the log directory.
const ProcessLogFile = "importer.log"

// NewLogger creates a logr.Logger backed by Zap.
// It checks the LOG_LEVEL environment variable: "debug" or "trace" selects a
// development config with debug-level output; any other value (including empty)
// selects production config.
// Returns the logger and a sync function the caller should defer.
func NewLogger() (logr.Logger, func(), error) {
	zapLog, err := newZapLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logr.Logger{}, nil, err
	}
	sync := func() { _ = zapLog.Sync() }
	return zapr.NewLogger(zapLog), sync, nil
}

// NewProcessLogger creates the process logger. When logDir is non-empty the
// console output is teed into logDir/importer.log as JSON.
func NewProcessLogger(logDir string) (*zap.Logger, func(), error) {
	level := os.Getenv("LOG_LEVEL")
	base, err := newZapLogger(level)
	if err != nil {
		return nil, nil, err
	}
	if logDir == "" {
		return base, func() { _ = base.Sync() }, nil
	}

	fileCore, closeFile, err := newFileCore(filepath.Join(logDir, ProcessLogFile), levelFor(level))
	if err != nil {
		return nil, nil, err
	}
	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	sync := func() {
		_ = logger.Sync()
		_ = closeFile()
	}
	return logger, sync, nil
}

// TaskLogger returns a logger that writes to both the process logger and
// dir/<taskID>.log. The returned close function flushes and closes the file.
// An empty dir yields the process logger unchanged.
func TaskLogger(base *zap.Logger, dir string, taskID int64) (logr.Logger, func() error, error) {
	if dir == "" {
		return zapr.NewLogger(base), func() error { return nil }, nil
	}
	path := filepath.Join(dir, strconv.FormatInt(taskID, 10)+".log")
	fileCore, closeFile, err := newFileCore(path, zapcore.DebugLevel)
	if err != nil {
		return logr.Logger{}, nil, err
	}
	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	closer := func() error {
		_ = logger.Sync()
		return closeFile()
	}
	return zapr.NewLogger(logger), closer, nil
}

func newFileCore(path string, level zapcore.LevelEnabler) (zapcore.Core, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zapcore.NewCore(encoder, zapcore.AddSync(f), level), f.Close, nil
}

func levelFor(level string) zapcore.Level {
	if level == "debug" || level == "trace" {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

func newZapLogger(level string) (*zap.Logger, error) {
	if level == "debug" || level == "trace" {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	return zap.NewProduction()
}
