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

package importer

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/altairalabs/distgit-importer/internal/distgit"
	"github.com/altairalabs/distgit-importer/internal/distgit/distgittest"
	"github.com/altairalabs/distgit-importer/internal/fetcher"
	"github.com/altairalabs/distgit-importer/internal/fetcher/fetchertest"
	"github.com/altairalabs/distgit-importer/internal/importerr"
	"github.com/altairalabs/distgit-importer/internal/lookaside"
	"github.com/altairalabs/distgit-importer/internal/task"
	"github.com/altairalabs/distgit-importer/pkg/metrics"
)

const frontendURL = "http://frontend.example.org"

var tarball = []byte("\x1f\x8b\x08\x00pkg-1.0 archive bytes")

type env struct {
	t        *testing.T
	gitBase  string
	remote   string
	cache    *lookaside.Cache
	store    *distgit.Store
	scratch  string
	srv      *httptest.Server
	srpms    map[string][]byte
	statuses map[string][]int
	hits     map[string]*atomic.Int32
	mu       sync.Mutex
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		t:        t,
		gitBase:  t.TempDir(),
		scratch:  t.TempDir(),
		srpms:    map[string][]byte{},
		statuses: map[string][]int{},
		hits:     map[string]*atomic.Int32{},
	}
	e.remote = distgittest.NewRemote(t, e.gitBase, "foo/bar/pkg")

	cache, err := lookaside.New(lookaside.Config{Root: t.TempDir()}, logr.Discard())
	require.NoError(t, err)
	e.cache = cache

	e.store = distgit.NewStore(distgit.Options{
		BaseURL:           e.gitBase,
		WorkDir:           t.TempDir(),
		DefaultBaseBranch: "master",
		Author:            distgit.Identity{Name: "Test user", Email: "test@test.org"},
	}, logr.Discard())

	e.srv = httptest.NewServer(http.HandlerFunc(e.serve))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) serve(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	hits, ok := e.hits[r.URL.Path]
	if !ok {
		hits = &atomic.Int32{}
		e.hits[r.URL.Path] = hits
	}
	body, found := e.srpms[r.URL.Path]
	var status int
	if queue := e.statuses[r.URL.Path]; len(queue) > 0 {
		status, e.statuses[r.URL.Path] = queue[0], queue[1:]
	}
	e.mu.Unlock()

	hits.Add(1)
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(body)
}

func (e *env) addSRPM(path, version string) {
	e.t.Helper()
	data, err := fetchertest.BuildSRPM(fetchertest.Package{
		Name:    "pkg",
		Version: version,
		Release: "1",
		Files: map[string][]byte{
			"pkg.spec":        []byte(fmt.Sprintf("Name: pkg\nVersion: %s\nRelease: 1\n", version)),
			"fix-build.patch": []byte("--- a/x\n+++ b/x\n"),
			"pkg-1.0.tar.gz":  tarball,
		},
	})
	require.NoError(e.t, err)
	e.mu.Lock()
	e.srpms[path] = data
	e.mu.Unlock()
}

func (e *env) addFile(path, content string) {
	e.mu.Lock()
	e.srpms[path] = []byte(content)
	e.mu.Unlock()
}

func (e *env) failNext(path string, statuses ...int) {
	e.mu.Lock()
	e.statuses[path] = append(e.statuses[path], statuses...)
	e.mu.Unlock()
}

func (e *env) hitCount(path string) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.hits[path]; ok {
		return h.Load()
	}
	return 0
}

func (e *env) config() Config {
	cfg := DefaultConfig()
	cfg.ScratchDir = e.scratch
	cfg.FetchBackoff = wait.Backoff{Duration: time.Millisecond, Factor: 1}
	cfg.ConflictBackoff = wait.Backoff{Duration: time.Millisecond, Factor: 1}
	return cfg
}

func (e *env) fetcher() *fetcher.HTTPFetcher {
	opts := fetcher.DefaultOptions()
	opts.RateLimit = 0
	return fetcher.NewHTTPFetcher(opts, logr.Discard(), fetcher.WithHTTPClient(http.DefaultClient))
}

func (e *env) importer(opts ...Option) *Importer {
	return New(e.config(), e.fetcher(), e.cache, StoreOpener(e.store), logr.Discard(), opts...)
}

func (e *env) task(id int64, path string, branches ...string) *task.ImportTask {
	e.t.Helper()
	tk, err := task.Parse(task.Descriptor{
		TaskID:     id,
		User:       "foo",
		Project:    "bar",
		Branches:   branches,
		SourceJSON: fmt.Sprintf(`{"url": %q}`, e.srv.URL+path),
	}, frontendURL)
	require.NoError(e.t, err)
	return tk
}

func TestRun_EndToEnd(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	reg := prometheus.NewRegistry()
	m := metrics.NewImportMetricsWithRegisterer(reg)
	cgitDir := t.TempDir()

	imp := e.importer(WithMetrics(m), WithCgitList(NewCgitList(cgitDir)))
	res := imp.Run(context.Background(), e.task(123, "/pkg.src.rpm", "f22"))

	require.True(t, res.Success, "result: %+v", res)
	assert.Equal(t, int64(123), res.TaskID)
	assert.Equal(t, "pkg", res.PkgName)
	assert.Equal(t, "1.0-1", res.PkgVersion)
	require.Contains(t, res.Branches, "f22")
	assert.True(t, res.Branches["f22"].Success)

	sum := sha512.Sum512(tarball)
	hash := hex.EncodeToString(sum[:])
	stored := filepath.Join(e.cache.Root(), "bar", "pkg-1.0.tar.gz", hash)
	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, tarball, data)

	head := distgittest.Head(t, e.remote, "f22")
	assert.Equal(t, res.Branches["f22"].GitHash, head.Hash.String())
	files := distgittest.Files(t, e.remote, "f22")
	assert.Contains(t, files, "pkg.spec")
	assert.Contains(t, files, "fix-build.patch")
	assert.NotContains(t, files, "pkg-1.0.tar.gz")
	assert.Equal(t, "SHA512 (pkg-1.0.tar.gz) = "+hash+"\n", files[distgit.SourcesFile])

	list, err := os.ReadFile(filepath.Join(cgitDir, CgitListFile))
	require.NoError(t, err)
	assert.Equal(t, "foo/bar/pkg.git\n", string(list))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues(metrics.OutcomeSuccess, "remote_url")))

	entries, err := os.ReadDir(e.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories must be removed")
}

func TestRun_FreshPackageOnSeveralBranches(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	imp := e.importer()

	res := imp.Run(context.Background(), e.task(125, "/pkg.src.rpm", "f22", "f23"))

	require.True(t, res.Success, "result: %+v", res)
	for _, b := range []string{"f22", "f23"} {
		require.Contains(t, res.Branches, b)
		assert.True(t, res.Branches[b].Success, "branch %s: %+v", b, res.Branches[b])
		assert.Equal(t, res.Branches[b].GitHash, distgittest.Head(t, e.remote, b).Hash.String())
	}
	// f23 starts from the base branch created by the first import.
	assert.Equal(t, res.Branches["f22"].GitHash, res.Branches["f23"].GitHash)
	assert.Equal(t, res.Branches["f22"].GitHash, distgittest.Head(t, e.remote, "master").Hash.String())

	// Later tasks can add further branches to the package.
	later := imp.Run(context.Background(), e.task(126, "/pkg.src.rpm", "f24"))
	require.True(t, later.Success, "result: %+v", later)
	assert.True(t, distgittest.HasBranch(t, e.remote, "f24"))
}

func TestRun_SpecOnly(t *testing.T) {
	e := newEnv(t)
	seeded := map[string]string{
		"pkg.spec":          "Name: pkg\nVersion: 0.9\nRelease: 1\n",
		"fix-build.patch":   "--- a/x\n+++ b/x\n",
		distgit.SourcesFile: "SHA512 (pkg-0.9.tar.gz) = abc123\n",
		".gitignore":        "/pkg-0.9.tar.gz\n",
	}
	bases := map[string]string{}
	for _, b := range []string{"f22", "f23"} {
		bases[b] = distgittest.Seed(t, e.remote, b, seeded).String()
	}
	spec := "Name: pkg\nVersion: 1.0\nRelease: 1\n"
	e.addFile("/pkg.spec", spec)

	res := e.importer().Run(context.Background(), e.task(125, "/pkg.spec", "f22", "f23"))

	require.True(t, res.Success, "result: %+v", res)
	assert.Equal(t, "pkg", res.PkgName)
	assert.Equal(t, "1.0-1", res.PkgVersion)
	for _, b := range []string{"f22", "f23"} {
		head := distgittest.Head(t, e.remote, b)
		assert.Equal(t, res.Branches[b].GitHash, head.Hash.String())
		require.Len(t, head.ParentHashes, 1)
		assert.Equal(t, bases[b], head.ParentHashes[0].String())

		files := distgittest.Files(t, e.remote, b)
		assert.Equal(t, spec, files["pkg.spec"])
		// Nothing else is pruned or rewritten by a spec-only import.
		assert.Equal(t, seeded["fix-build.patch"], files["fix-build.patch"])
		assert.Equal(t, seeded[distgit.SourcesFile], files[distgit.SourcesFile])
		assert.Equal(t, seeded[".gitignore"], files[".gitignore"])
	}

	entries, err := os.ReadDir(e.cache.Root())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.True(t, strings.HasPrefix(entry.Name(), "."), "unexpected lookaside entry %s", entry.Name())
	}
}

func TestRun_Idempotent(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	imp := e.importer()

	first := imp.Run(context.Background(), e.task(123, "/pkg.src.rpm", "f22"))
	second := imp.Run(context.Background(), e.task(123, "/pkg.src.rpm", "f22"))

	require.True(t, first.Success, "first: %+v", first)
	require.True(t, second.Success, "second: %+v", second)
	assert.Equal(t, first.Branches["f22"].GitHash, second.Branches["f22"].GitHash)

	head := distgittest.Head(t, e.remote, "f22")
	assert.Equal(t, first.Branches["f22"].GitHash, head.Hash.String())
	assert.Empty(t, head.ParentHashes, "second run must not add a commit")
}

func TestRun_ConcurrentTasksSerializePerBranch(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/v1.src.rpm", "1.0")
	e.addSRPM("/v2.src.rpm", "2.0")
	imp := e.importer()

	var wg sync.WaitGroup
	results := make([]*task.Result, 2)
	for n, path := range []string{"/v1.src.rpm", "/v2.src.rpm"} {
		wg.Add(1)
		go func(n int, path string) {
			defer wg.Done()
			results[n] = imp.Run(context.Background(), e.task(int64(200+n), path, "f22"))
		}(n, path)
	}
	wg.Wait()

	for _, r := range results {
		require.True(t, r.Success, "result: %+v", r)
	}
	a, b := results[0].Branches["f22"].GitHash, results[1].Branches["f22"].GitHash
	require.NotEqual(t, a, b)

	head := distgittest.Head(t, e.remote, "f22")
	require.Len(t, head.ParentHashes, 1)
	switch head.Hash.String() {
	case a:
		assert.Equal(t, b, head.ParentHashes[0].String())
	case b:
		assert.Equal(t, a, head.ParentHashes[0].String())
	default:
		t.Fatalf("head %s is neither task's commit", head.Hash)
	}
	assert.Equal(t, 0, imp.locks.Len())
}

func TestRun_FetchRetriesTransientFailures(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	e.failNext("/pkg.src.rpm", http.StatusServiceUnavailable, http.StatusBadGateway)

	res := e.importer().Run(context.Background(), e.task(7, "/pkg.src.rpm", "f22"))

	require.True(t, res.Success, "result: %+v", res)
	assert.Equal(t, int32(3), e.hitCount("/pkg.src.rpm"))
}

func TestRun_FetchPermanentFailure(t *testing.T) {
	e := newEnv(t)

	res := e.importer().Run(context.Background(), e.task(8, "/missing.src.rpm", "f22", "f23"))

	assert.False(t, res.Success)
	assert.Equal(t, string(importerr.KindFetch), res.ErrorKind)
	assert.Equal(t, int32(1), e.hitCount("/missing.src.rpm"))
	for _, b := range []string{"f22", "f23"} {
		require.Contains(t, res.Branches, b)
		assert.False(t, res.Branches[b].Success)
		assert.Equal(t, string(importerr.KindFetch), res.Branches[b].ErrorKind)
	}
	assert.False(t, distgittest.HasBranch(t, e.remote, "f22"))
}

func TestRun_MalformedSource(t *testing.T) {
	e := newEnv(t)
	e.mu.Lock()
	e.srpms["/junk.src.rpm"] = []byte("this is not an rpm")
	e.mu.Unlock()

	res := e.importer().Run(context.Background(), e.task(9, "/junk.src.rpm", "f22"))

	assert.False(t, res.Success)
	assert.Equal(t, string(importerr.KindMalformedSrc), res.Branches["f22"].ErrorKind)
}

func TestRun_PerTaskLog(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	logDir := t.TempDir()

	res := e.importer(WithTaskLogs(zap.NewNop(), logDir)).Run(context.Background(), e.task(124, "/pkg.src.rpm", "f22"))
	require.True(t, res.Success)

	data, err := os.ReadFile(filepath.Join(logDir, "124.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "import finished"))
}

// fakeRepo is a scripted BranchRepository.
type fakeRepo struct {
	mu       sync.Mutex
	syncErr  error
	pushErrs []error
	syncs    int
	pushes   int
	manifest *distgit.Manifest
	prune    bool
	onPush   func()
}

func (f *fakeRepo) Sync(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return f.syncErr
}

func (f *fakeRepo) Apply(_ []fetcher.File, manifest *distgit.Manifest, prune bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifest = manifest
	f.prune = prune
	return nil
}

func (f *fakeRepo) CommitAndPush(context.Context, string) (distgit.PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	if f.onPush != nil {
		f.onPush()
	}
	if len(f.pushErrs) > 0 {
		err := f.pushErrs[0]
		f.pushErrs = f.pushErrs[1:]
		if err != nil {
			return distgit.PushResult{}, err
		}
	}
	return distgit.PushResult{Hash: fmt.Sprintf("%040d", f.pushes)}, nil
}

func fakeOpener(repos map[string]*fakeRepo) RepositoryOpener {
	return func(ref distgit.Ref) (BranchRepository, error) {
		return repos[ref.Branch], nil
	}
}

func TestRun_BranchFailureIsIsolated(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	repos := map[string]*fakeRepo{
		"f22": {},
		"f23": {syncErr: fmt.Errorf("%w: no f23", importerr.ErrBranchNotFound)},
	}
	imp := New(e.config(), e.fetcher(), e.cache, fakeOpener(repos), logr.Discard())

	res := imp.Run(context.Background(), e.task(125, "/pkg.src.rpm", "f22", "f23"))

	assert.False(t, res.Success)
	assert.True(t, res.Branches["f22"].Success)
	assert.False(t, res.Branches["f23"].Success)
	assert.Equal(t, string(importerr.KindBranchNotFound), res.Branches["f23"].ErrorKind)
	assert.Equal(t, 1, repos["f23"].syncs, "branch-not-found is not retried")
	assert.Equal(t, 1, repos["f22"].pushes)
	require.NotNil(t, repos["f22"].manifest)
	assert.Equal(t, 1, repos["f22"].manifest.Len())
	assert.True(t, repos["f22"].prune)
}

func TestRun_ConflictRetriesFromSync(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	conflict := fmt.Errorf("%w: remote moved", importerr.ErrConflict)
	repos := map[string]*fakeRepo{"f22": {pushErrs: []error{conflict, conflict}}}
	reg := prometheus.NewRegistry()
	m := metrics.NewImportMetricsWithRegisterer(reg)
	imp := New(e.config(), e.fetcher(), e.cache, fakeOpener(repos), logr.Discard(), WithMetrics(m))

	res := imp.Run(context.Background(), e.task(126, "/pkg.src.rpm", "f22"))

	require.True(t, res.Success, "result: %+v", res)
	assert.Equal(t, 3, repos["f22"].syncs)
	assert.Equal(t, 3, repos["f22"].pushes)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConflictRetries))
}

func TestRun_ConflictRetriesAreBounded(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	conflict := fmt.Errorf("%w: remote moved", importerr.ErrConflict)
	repos := map[string]*fakeRepo{"f22": {pushErrs: []error{conflict, conflict, conflict, conflict, conflict, conflict}}}
	cfg := e.config()
	cfg.ConflictRetries = 2
	imp := New(cfg, e.fetcher(), e.cache, fakeOpener(repos), logr.Discard())

	res := imp.Run(context.Background(), e.task(127, "/pkg.src.rpm", "f22"))

	assert.False(t, res.Success)
	assert.Equal(t, string(importerr.KindConflict), res.Branches["f22"].ErrorKind)
	assert.Equal(t, 3, repos["f22"].pushes)
}

func TestRun_ConflictBackoffStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	conflict := fmt.Errorf("%w: remote moved", importerr.ErrConflict)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repos := map[string]*fakeRepo{"f22": {pushErrs: []error{conflict, conflict}, onPush: cancel}}
	cfg := e.config()
	cfg.ConflictBackoff = wait.Backoff{Duration: time.Hour, Factor: 1}
	imp := New(cfg, e.fetcher(), e.cache, fakeOpener(repos), logr.Discard())

	done := make(chan *task.Result, 1)
	go func() { done <- imp.Run(ctx, e.task(129, "/pkg.src.rpm", "f22")) }()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, string(importerr.KindConflict), res.Branches["f22"].ErrorKind)
		assert.Equal(t, 1, repos["f22"].pushes)
	case <-time.After(10 * time.Second):
		t.Fatal("conflict backoff did not stop on cancellation")
	}
}

func TestRun_CancelledBeforeBranchWork(t *testing.T) {
	e := newEnv(t)
	e.addSRPM("/pkg.src.rpm", "1.0")
	repos := map[string]*fakeRepo{"f22": {}}
	imp := New(e.config(), e.fetcher(), e.cache, fakeOpener(repos), logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := imp.Run(ctx, e.task(128, "/pkg.src.rpm", "f22"))

	assert.False(t, res.Success)
	assert.Equal(t, 0, repos["f22"].pushes)
}
