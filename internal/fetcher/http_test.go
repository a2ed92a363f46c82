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

package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/distgit-importer/internal/fetcher/fetchertest"
	"github.com/altairalabs/distgit-importer/internal/importerr"
	"github.com/altairalabs/distgit-importer/internal/task"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.RateLimit = 0
	opts.Timeout = 5 * time.Second
	return opts
}

func newTestFetcher(opts Options) *HTTPFetcher {
	return NewHTTPFetcher(opts, logr.Discard(), WithHTTPClient(http.DefaultClient))
}

func TestDownload_RemoteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Header["Authorization"]
		assert.False(t, ok, "remote downloads must not carry credentials")
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := newTestFetcher(testOptions())
	ref := task.SourceReference{Kind: task.SourceRemoteURL, URL: srv.URL + "/pkgs/foo-1.0-1.src.rpm"}

	path, err := f.Download(context.Background(), ref, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "foo-1.0-1.src.rpm", filepath.Base(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownload_UploadedArtifactUsesBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.FrontendAuth = "secret"
	f := newTestFetcher(opts)
	ref := task.SourceReference{Kind: task.SourceUploadedArtifact, URL: srv.URL + "/tmp/foo.src.rpm"}

	_, err := f.Download(context.Background(), ref, t.TempDir())
	require.NoError(t, err)
}

func TestDownload_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusNotFound, true},
		{http.StatusForbidden, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			f := newTestFetcher(testOptions())
			ref := task.SourceReference{Kind: task.SourceRemoteURL, URL: srv.URL + "/foo.src.rpm"}
			_, err := f.Download(context.Background(), ref, t.TempDir())
			require.Error(t, err)
			assert.ErrorIs(t, err, importerr.ErrFetch)
			assert.True(t, importerr.IsRetryable(err))
			assert.Equal(t, tt.permanent, IsPermanent(err))
		})
	}
}

func TestDownload_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	opts := testOptions()
	opts.MaxBytes = 16
	f := newTestFetcher(opts)
	ref := task.SourceReference{Kind: task.SourceRemoteURL, URL: srv.URL + "/big.src.rpm"}

	_, err := f.Download(context.Background(), ref, t.TempDir())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestDownload_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := newTestFetcher(testOptions())
	_, err := f.Download(context.Background(), task.SourceReference{Kind: task.SourceRemoteURL, URL: url + "/x.src.rpm"}, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, importerr.ErrFetch)
	assert.False(t, IsPermanent(err))
}

func TestFetch_SpecOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Name: hello\nVersion: 2.10\nRelease: 1%{?dist}\n"))
	}))
	defer srv.Close()

	f := newTestFetcher(testOptions())
	ref := task.SourceReference{Kind: task.SourceSpecOnly, URL: srv.URL + "/specs/hello.spec"}

	src, err := f.Fetch(context.Background(), ref, t.TempDir())
	require.NoError(t, err)
	assert.True(t, src.SpecOnly)
	assert.Equal(t, "hello", src.Package.Name)
	assert.Equal(t, "2.10-1", src.Package.EVR())
	assert.Equal(t, "hello.spec", src.Spec.Name)
}

func TestFetch_SRPM(t *testing.T) {
	srpm, err := fetchertest.BuildSRPM(fetchertest.Package{
		Name:    "foo",
		Version: "1.0",
		Release: "1",
		Files: map[string][]byte{
			"foo.spec":       []byte("Name: foo\nVersion: 1.0\nRelease: 1\n"),
			"foo-1.0.tar.gz": {0x1f, 0x8b, 0x08, 0x00},
		},
	})
	require.NoError(t, err)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write(srpm)
	}))
	defer srv.Close()

	f := newTestFetcher(testOptions())
	ref := task.SourceReference{Kind: task.SourceRemoteURL, URL: srv.URL + "/foo-1.0-1.src.rpm"}

	src, err := f.Fetch(context.Background(), ref, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "foo", src.Package.Name)
	assert.Equal(t, "foo.spec", src.Spec.Name)
	require.Len(t, src.LookasideFiles(), 1)
	assert.Equal(t, "foo-1.0.tar.gz", src.LookasideFiles()[0].Name)
	require.Len(t, src.GitFiles(), 1)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "foo.spec", downloadName(task.SourceReference{Kind: task.SourceSpecOnly, URL: "http://x/a/foo.spec"}))
	assert.Equal(t, "package.spec", downloadName(task.SourceReference{Kind: task.SourceSpecOnly, URL: "http://x/"}))
	assert.Equal(t, "package.src.rpm", downloadName(task.SourceReference{Kind: task.SourceRemoteURL, URL: "::"}))
}
