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

package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestProvider creates a Provider backed by an in-memory span exporter so
// that tests can inspect the attributes that are actually recorded on spans.
func newTestProvider(t *testing.T) (*Provider, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewTestProvider(tp), exporter
}

func findAttr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, a := range span.Attributes {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{})
	require.NoError(t, err)
	assert.NotNil(t, provider.Tracer())
	assert.NotNil(t, provider.TracerProvider())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProvider_Enabled(t *testing.T) {
	// Provider creation succeeds without a reachable collector; export is async.
	provider, err := NewProvider(context.Background(), Config{
		Enabled:    true,
		Endpoint:   "127.0.0.1:0",
		SampleRate: 0.5,
		Insecure:   true,
	})
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	require.NotNil(t, provider.tp)
	assert.Equal(t, provider.tp, provider.TracerProvider())
}

func TestSamplerFor(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), samplerFor(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), samplerFor(0).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), samplerFor(0.25).Description())
}

func TestTaskAttributesAndErrors(t *testing.T) {
	provider, exporter := newTestProvider(t)

	_, span := provider.Tracer().Start(context.Background(), "import",
		trace.WithAttributes(TaskAttributes(123, "foo/bar", "remote_url", []string{"f22", "f23"})...))
	RecordError(span, errors.New("push rejected"), "conflict")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	s := spans[0]

	id, ok := findAttr(s, AttrTaskID)
	require.True(t, ok)
	assert.Equal(t, int64(123), id.AsInt64())
	branches, ok := findAttr(s, AttrBranches)
	require.True(t, ok)
	assert.Equal(t, []string{"f22", "f23"}, branches.AsStringSlice())
	kind, ok := findAttr(s, AttrErrorKind)
	require.True(t, ok)
	assert.Equal(t, "conflict", kind.AsString())
	assert.Equal(t, codes.Error, s.Status.Code)
}

func TestRecordError_Nil(t *testing.T) {
	provider, exporter := newTestProvider(t)

	_, span := provider.Tracer().Start(context.Background(), "ok")
	RecordError(span, nil, "fetch")
	SetSuccess(span)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	_, ok := findAttr(spans[0], AttrErrorKind)
	assert.False(t, ok)
}
