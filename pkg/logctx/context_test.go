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

package logctx

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
)

func TestWithTaskID(t *testing.T) {
	ctx := WithTaskID(context.Background(), 123)

	if got := TaskID(ctx); got != 123 {
		t.Errorf("TaskID() = %d, want %d", got, 123)
	}
}

func TestTaskID_Unset(t *testing.T) {
	if got := TaskID(context.Background()); got != 0 {
		t.Errorf("TaskID() = %d, want 0", got)
	}
}

func TestWithBranch(t *testing.T) {
	ctx := WithBranch(context.Background(), "f22")

	if got := Branch(ctx); got != "f22" {
		t.Errorf("Branch() = %q, want %q", got, "f22")
	}
}

func TestWithStage(t *testing.T) {
	ctx := WithStage(context.Background(), "syncing")

	if got := Stage(ctx); got != "syncing" {
		t.Errorf("Stage() = %q, want %q", got, "syncing")
	}
}

func TestWithLoggingContext(t *testing.T) {
	ctx := WithLoggingContext(context.Background(), &LoggingFields{
		TaskID:  124,
		User:    "foo",
		Project: "bar",
		Branch:  "f23",
	})

	fields := ExtractLoggingFields(ctx)
	if fields.TaskID != 124 {
		t.Errorf("TaskID = %d, want 124", fields.TaskID)
	}
	if fields.User != "foo" || fields.Project != "bar" || fields.Branch != "f23" {
		t.Errorf("unexpected fields: %+v", fields)
	}
	if fields.Stage != "" || fields.Package != "" {
		t.Errorf("unset fields should be empty: %+v", fields)
	}
}

func TestWithLoggingContext_Nil(t *testing.T) {
	ctx := context.Background()
	if got := WithLoggingContext(ctx, nil); got != ctx {
		t.Error("expected the same context for nil fields")
	}
}

func TestLogrValues(t *testing.T) {
	ctx := WithTaskID(context.Background(), 7)
	ctx = WithProject(ctx, "bar")
	ctx = WithPackage(ctx, "")

	values := LogrValues(ctx)
	want := []interface{}{"task_id", "7", "project", "bar"}
	if len(values) != len(want) {
		t.Fatalf("LogrValues() = %v, want %v", values, want)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("LogrValues()[%d] = %v, want %v", i, values[i], want[i])
		}
	}
}

func TestLoggerWithContext_NoValues(t *testing.T) {
	log := logr.Discard()
	got := LoggerWithContext(log, context.Background())
	if got != log {
		t.Error("expected logger unchanged without context values")
	}
}
