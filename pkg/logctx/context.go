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

// Package logctx provides structured logging context management.
// It allows storing and extracting the import fields (task, owner, branch,
// stage) from context.Context so every component logs them consistently.
package logctx

import (
	"context"
	"strconv"

	"github.com/go-logr/logr"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
const (
	// ContextKeyTaskID identifies the import task.
	ContextKeyTaskID contextKey = "task_id"

	// ContextKeyUser identifies the submitting user.
	ContextKeyUser contextKey = "user"

	// ContextKeyProject identifies the target project.
	ContextKeyProject contextKey = "project"

	// ContextKeyPackage identifies the package being imported.
	ContextKeyPackage contextKey = "package"

	// ContextKeyBranch identifies the distribution branch being written.
	ContextKeyBranch contextKey = "branch"

	// ContextKeyStage identifies the import stage.
	ContextKeyStage contextKey = "stage"

	// ContextKeyAttemptID correlates all log lines of one import attempt.
	ContextKeyAttemptID contextKey = "attempt_id"
)

// allContextKeys lists all context keys that should be extracted for logging.
var allContextKeys = []contextKey{
	ContextKeyTaskID,
	ContextKeyUser,
	ContextKeyProject,
	ContextKeyPackage,
	ContextKeyBranch,
	ContextKeyStage,
	ContextKeyAttemptID,
}

// WithTaskID returns a new context with the task ID set.
func WithTaskID(ctx context.Context, taskID int64) context.Context {
	return context.WithValue(ctx, ContextKeyTaskID, strconv.FormatInt(taskID, 10))
}

// WithUser returns a new context with the user set.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// WithProject returns a new context with the project set.
func WithProject(ctx context.Context, project string) context.Context {
	return context.WithValue(ctx, ContextKeyProject, project)
}

// WithPackage returns a new context with the package name set.
func WithPackage(ctx context.Context, pkg string) context.Context {
	return context.WithValue(ctx, ContextKeyPackage, pkg)
}

// WithBranch returns a new context with the branch set.
func WithBranch(ctx context.Context, branch string) context.Context {
	return context.WithValue(ctx, ContextKeyBranch, branch)
}

// WithStage returns a new context with the import stage set.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, ContextKeyStage, stage)
}

// WithAttemptID returns a new context with the attempt correlation ID set.
func WithAttemptID(ctx context.Context, attemptID string) context.Context {
	return context.WithValue(ctx, ContextKeyAttemptID, attemptID)
}

// LoggingFields holds all standard logging context fields.
type LoggingFields struct {
	TaskID    int64
	User      string
	Project   string
	Package   string
	Branch    string
	Stage     string
	AttemptID string
}

// WithLoggingContext returns a new context with multiple logging fields set at once.
// Only non-empty values are set.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.TaskID != 0 {
		ctx = WithTaskID(ctx, fields.TaskID)
	}
	if fields.User != "" {
		ctx = WithUser(ctx, fields.User)
	}
	if fields.Project != "" {
		ctx = WithProject(ctx, fields.Project)
	}
	if fields.Package != "" {
		ctx = WithPackage(ctx, fields.Package)
	}
	if fields.Branch != "" {
		ctx = WithBranch(ctx, fields.Branch)
	}
	if fields.Stage != "" {
		ctx = WithStage(ctx, fields.Stage)
	}
	if fields.AttemptID != "" {
		ctx = WithAttemptID(ctx, fields.AttemptID)
	}
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	fields := LoggingFields{
		User:      stringValue(ctx, ContextKeyUser),
		Project:   stringValue(ctx, ContextKeyProject),
		Package:   stringValue(ctx, ContextKeyPackage),
		Branch:    stringValue(ctx, ContextKeyBranch),
		Stage:     stringValue(ctx, ContextKeyStage),
		AttemptID: stringValue(ctx, ContextKeyAttemptID),
	}
	fields.TaskID = TaskID(ctx)
	return fields
}

// LogrValues extracts context values and returns them as key-value pairs
// suitable for use with logr.Logger.WithValues().
// Only non-empty values are included.
func LogrValues(ctx context.Context) []interface{} {
	var values []interface{}
	for _, key := range allContextKeys {
		if s := stringValue(ctx, key); s != "" {
			values = append(values, string(key), s)
		}
	}
	return values
}

// LoggerWithContext returns a logger enriched with all context values.
func LoggerWithContext(log logr.Logger, ctx context.Context) logr.Logger {
	values := LogrValues(ctx)
	if len(values) == 0 {
		return log
	}
	return log.WithValues(values...)
}

// TaskID extracts the task ID from the context, or 0 when unset.
func TaskID(ctx context.Context) int64 {
	id, err := strconv.ParseInt(stringValue(ctx, ContextKeyTaskID), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Branch extracts the branch from the context.
func Branch(ctx context.Context) string {
	return stringValue(ctx, ContextKeyBranch)
}

// Stage extracts the import stage from the context.
func Stage(ctx context.Context) string {
	return stringValue(ctx, ContextKeyStage)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
