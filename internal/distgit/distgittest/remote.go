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

// Package distgittest provides in-process git remotes for tests.
package distgittest

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/require"
)

var installOnce sync.Once

// InstallLocalTransport serves local path remotes with go-git's in-process
// server so tests do not depend on a git binary.
func InstallLocalTransport() {
	installOnce.Do(func() {
		client.InstallProtocol("file", server.NewClient(server.DefaultLoader))
	})
}

// NewRemote creates an empty bare repository at base/<repoPath>.git and
// returns its path.
func NewRemote(t *testing.T, base, repoPath string) string {
	t.Helper()
	InstallLocalTransport()
	dir := filepath.Join(base, repoPath+".git")
	require.NoError(t, os.MkdirAll(dir, 0750))
	_, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	return dir
}

// Seed pushes a commit with files onto branch of the bare remote.
func Seed(t *testing.T, remote, branch string, files map[string]string) plumbing.Hash {
	t.Helper()
	InstallLocalTransport()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remote}})
	require.NoError(t, err)

	ref := plumbing.NewBranchReferenceName(branch)
	err = repo.Fetch(&git.FetchOptions{RefSpecs: []config.RefSpec{"+refs/heads/*:refs/remotes/origin/*"}})
	if err == nil || err == git.NoErrAlreadyUpToDate {
		if tip, rerr := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true); rerr == nil {
			require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(ref, tip.Hash())))
		}
	}
	require.NoError(t, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, ref)))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	if _, err := repo.Reference(ref, true); err == nil {
		require.NoError(t, wt.Checkout(&git.CheckoutOptions{Branch: ref, Force: true}))
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	sig := &object.Signature{Name: "seed", Email: "seed@example.com", When: time.Now()}
	hash, err := wt.Commit("seed "+branch, &git.CommitOptions{Author: sig, AllowEmptyCommits: true})
	require.NoError(t, err)
	require.NoError(t, repo.Push(&git.PushOptions{
		RefSpecs: []config.RefSpec{config.RefSpec(ref + ":" + ref)},
	}))
	return hash
}

// Head returns the tip commit of branch in the bare remote.
func Head(t *testing.T, remote, branch string) *object.Commit {
	t.Helper()
	repo, err := git.PlainOpen(remote)
	require.NoError(t, err)
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(t, err)
	commit, err := repo.CommitObject(ref.Hash())
	require.NoError(t, err)
	return commit
}

// HasBranch reports whether branch exists in the bare remote.
func HasBranch(t *testing.T, remote, branch string) bool {
	t.Helper()
	repo, err := git.PlainOpen(remote)
	require.NoError(t, err)
	_, err = repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	return err == nil
}

// Files returns the contents of every file at the tip of branch.
func Files(t *testing.T, remote, branch string) map[string]string {
	t.Helper()
	commit := Head(t, remote, branch)
	tree, err := commit.Tree()
	require.NoError(t, err)
	out := map[string]string{}
	require.NoError(t, tree.Files().ForEach(func(f *object.File) error {
		content, err := f.Contents()
		if err != nil {
			return err
		}
		out[f.Name] = content
		return nil
	}))
	return out
}

// FileNames returns the sorted file names at the tip of branch.
func FileNames(t *testing.T, remote, branch string) []string {
	t.Helper()
	var names []string
	for name := range Files(t, remote, branch) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
