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

// Package distgit maintains per-branch checkouts of package git repositories:
// reset to the remote tip, apply imported content, commit and push.
package distgit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/altairalabs/distgit-importer/internal/fetcher"
	"github.com/altairalabs/distgit-importer/internal/importerr"
	"github.com/altairalabs/distgit-importer/internal/tracing"
)

// OriginName is the name of the remote every checkout tracks.
const OriginName = "origin"

var (
	tracer = otel.Tracer("github.com/altairalabs/distgit-importer/internal/distgit")

	fetchSpec = config.RefSpec("+refs/heads/*:refs/remotes/" + OriginName + "/*")
)

// Identity is the author of every commit made by the importer.
type Identity struct {
	Name  string
	Email string
}

// Options configures a Store.
type Options struct {
	// BaseURL is the root of the remotes; a repository lives at
	// BaseURL/<user>/<project>/<package>.git.
	BaseURL string

	// AuthToken authenticates HTTP(S) remotes when set.
	AuthToken string

	// WorkDir holds one working tree per (repository, branch).
	WorkDir string

	// DefaultBaseBranch seeds branches that do not exist upstream yet.
	DefaultBaseBranch string

	Author Identity
}

// Ref identifies one branch of one package repository.
type Ref struct {
	User    string
	Project string
	Package string
	Branch  string
}

// RepoPath returns "<user>/<project>/<package>".
func (r Ref) RepoPath() string {
	return r.User + "/" + r.Project + "/" + r.Package
}

func (r Ref) String() string {
	return r.RepoPath() + "@" + r.Branch
}

// Store opens branch repositories under a work directory.
type Store struct {
	opts Options
	log  logr.Logger
}

// NewStore creates a Store.
func NewStore(opts Options, log logr.Logger) *Store {
	if opts.DefaultBaseBranch == "" {
		opts.DefaultBaseBranch = "master"
	}
	return &Store{opts: opts, log: log.WithName("distgit")}
}

// RemoteURL returns the remote of the package repository.
func (s *Store) RemoteURL(ref Ref) string {
	return strings.TrimSuffix(s.opts.BaseURL, "/") + "/" + ref.RepoPath() + ".git"
}

// Dir returns the working tree location of ref.
func (s *Store) Dir(ref Ref) string {
	return filepath.Join(s.opts.WorkDir, ref.User, ref.Project, ref.Package, ref.Branch)
}

// Open returns the branch repository for ref. No network access happens
// until Sync.
func (s *Store) Open(ref Ref) (*Repository, error) {
	for _, part := range []string{ref.User, ref.Project, ref.Package, ref.Branch} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return nil, fmt.Errorf("%w: invalid repository reference %q", importerr.ErrMalformedTask, ref.String())
		}
	}
	remote := s.RemoteURL(ref)
	var auth transport.AuthMethod
	if s.opts.AuthToken != "" && (strings.HasPrefix(remote, "http://") || strings.HasPrefix(remote, "https://")) {
		auth = &githttp.BasicAuth{Username: "git", Password: s.opts.AuthToken}
	}
	return &Repository{
		ref:        ref,
		dir:        s.Dir(ref),
		remoteURL:  remote,
		baseBranch: s.opts.DefaultBaseBranch,
		author:     s.opts.Author,
		auth:       auth,
		log:        s.log.WithValues("repo", ref.RepoPath(), "branch", ref.Branch),
	}, nil
}

// PushResult is the outcome of CommitAndPush.
type PushResult struct {
	// Hash is the branch tip after the operation.
	Hash string
	// NoOp is true when the tree was unchanged and nothing was pushed.
	NoOp bool
}

// Repository is one branch checkout. It is not safe for concurrent use; the
// caller serializes access per (project, branch).
type Repository struct {
	ref        Ref
	dir        string
	remoteURL  string
	baseBranch string
	author     Identity
	auth       transport.AuthMethod
	log        logr.Logger

	repo *git.Repository
	// upstream is the remote branch tip seen by the last Sync, nil when the
	// branch does not exist upstream.
	upstream *plumbing.Reference
	// seedBase is set when Sync found an empty remote; the first push then
	// also creates the default base branch so later branches have a base.
	seedBase bool
}

// Dir returns the working tree location.
func (r *Repository) Dir() string {
	return r.dir
}

// Sync resets the working tree to the tip of the remote branch. A branch
// missing upstream is based on the default base branch, and an empty remote
// starts an orphan branch whose first push also creates the base branch.
func (r *Repository) Sync(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "distgit.Sync", trace.WithAttributes(
		attribute.String(tracing.AttrRemote, r.ref.RepoPath()),
		attribute.String(tracing.AttrBranch, r.ref.Branch),
	))
	defer func() { endSpan(span, err) }()

	if err := r.open(); err != nil {
		return err
	}
	r.upstream = nil
	r.seedBase = false

	err = r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: OriginName,
		RefSpecs:   []config.RefSpec{fetchSpec},
		Auth:       r.auth,
		Force:      true,
		Prune:      true,
		Tags:       git.NoTags,
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		r.log.V(1).Info("remote is empty, starting orphan branch")
		if err := r.orphan(); err != nil {
			return err
		}
		r.seedBase = r.baseBranch != "" && r.baseBranch != r.ref.Branch
		return nil
	default:
		return fmt.Errorf("%w: fetch %s: %v", importerr.ErrGitTransport, r.remoteURL, err)
	}

	base, err := r.repo.Reference(plumbing.NewRemoteReferenceName(OriginName, r.ref.Branch), true)
	switch {
	case err == nil:
		r.upstream = base
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		base, err = r.repo.Reference(plumbing.NewRemoteReferenceName(OriginName, r.baseBranch), true)
		if err != nil {
			return fmt.Errorf("%w: %s has no branch %q and no base branch %q",
				importerr.ErrBranchNotFound, r.remoteURL, r.ref.Branch, r.baseBranch)
		}
		r.log.Info("branch missing upstream, basing on default branch", "base", r.baseBranch)
	default:
		return fmt.Errorf("%w: resolve %s: %v", importerr.ErrStorage, r.ref.Branch, err)
	}

	local := plumbing.NewBranchReferenceName(r.ref.Branch)
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(local, base.Hash())); err != nil {
		return fmt.Errorf("%w: set %s: %v", importerr.ErrStorage, local, err)
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Force: true}); err != nil {
		return fmt.Errorf("%w: checkout %s: %v", importerr.ErrStorage, local, err)
	}
	if err := wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("%w: clean: %v", importerr.ErrStorage, err)
	}
	r.log.V(1).Info("synced", "head", base.Hash().String())
	return nil
}

// Apply writes files into the tree root. A non-nil manifest replaces the
// sources file and extends .gitignore with its file names. With prune set,
// tracked files that are not part of files are removed.
func (r *Repository) Apply(files []fetcher.File, manifest *Manifest, prune bool) error {
	if r.repo == nil {
		return fmt.Errorf("%w: Apply before Sync", importerr.ErrInternal)
	}

	keep := map[string]bool{SourcesFile: true, GitignoreFile: true}
	for _, f := range files {
		dst, err := securejoin.SecureJoin(r.dir, f.Name)
		if err != nil {
			return fmt.Errorf("%w: %v", importerr.ErrMalformedSource, err)
		}
		if err := copyFile(f.Path, dst); err != nil {
			return err
		}
		keep[f.Name] = true
	}

	if manifest != nil {
		data, _ := manifest.MarshalText()
		if err := os.WriteFile(filepath.Join(r.dir, SourcesFile), data, 0644); err != nil {
			return fmt.Errorf("%w: write sources: %v", importerr.ErrStorage, err)
		}
		if err := r.updateGitignore(manifest); err != nil {
			return err
		}
	}

	if prune {
		return r.prune(keep)
	}
	return nil
}

// CommitAndPush stages every change, commits it and pushes the branch. An
// unchanged tree on an existing upstream branch is a no-op. A push rejected
// because the remote moved since Sync yields importerr.ErrConflict.
func (r *Repository) CommitAndPush(ctx context.Context, message string) (res PushResult, err error) {
	ctx, span := tracer.Start(ctx, "distgit.CommitAndPush", trace.WithAttributes(
		attribute.String(tracing.AttrRemote, r.ref.RepoPath()),
		attribute.String(tracing.AttrBranch, r.ref.Branch),
	))
	defer func() { endSpan(span, err) }()

	if r.repo == nil {
		return PushResult{}, fmt.Errorf("%w: CommitAndPush before Sync", importerr.ErrInternal)
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return PushResult{}, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return PushResult{}, fmt.Errorf("%w: stage: %v", importerr.ErrStorage, err)
	}
	status, err := wt.Status()
	if err != nil {
		return PushResult{}, fmt.Errorf("%w: status: %v", importerr.ErrStorage, err)
	}

	var head plumbing.Hash
	if status.IsClean() {
		if r.upstream != nil {
			r.log.Info("no changes, skipping push", "head", r.upstream.Hash().String())
			return PushResult{Hash: r.upstream.Hash().String(), NoOp: true}, nil
		}
		ref, err := r.repo.Head()
		if err != nil {
			return PushResult{}, fmt.Errorf("%w: nothing to commit on new branch %s", importerr.ErrInternal, r.ref.Branch)
		}
		head = ref.Hash()
	} else {
		now := time.Now()
		sig := &object.Signature{Name: r.author.Name, Email: r.author.Email, When: now}
		head, err = wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
		if err != nil {
			return PushResult{}, fmt.Errorf("%w: commit: %v", importerr.ErrStorage, err)
		}
	}

	if err := r.push(ctx); err != nil {
		return PushResult{}, err
	}

	tracking := plumbing.NewHashReference(plumbing.NewRemoteReferenceName(OriginName, r.ref.Branch), head)
	if err := r.repo.Storer.SetReference(tracking); err != nil {
		return PushResult{}, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	r.upstream = tracking
	if r.seedBase {
		r.log.Info("created default base branch", "base", r.baseBranch, "head", head.String())
		r.seedBase = false
	}
	r.log.Info("pushed", "head", head.String())
	return PushResult{Hash: head.String()}, nil
}

func (r *Repository) push(ctx context.Context) error {
	local := plumbing.NewBranchReferenceName(r.ref.Branch)
	opts := &git.PushOptions{
		RemoteName: OriginName,
		RefSpecs:   []config.RefSpec{config.RefSpec(local + ":" + local)},
		Auth:       r.auth,
	}
	if r.seedBase {
		// Unforced, so a base created concurrently is rejected as a conflict.
		base := plumbing.NewBranchReferenceName(r.baseBranch)
		opts.RefSpecs = append(opts.RefSpecs, config.RefSpec(local+":"+base))
	}
	if r.upstream != nil {
		opts.RequireRemoteRefs = []config.RefSpec{
			config.RefSpec(fmt.Sprintf("%s:%s", r.upstream.Hash(), local)),
		}
	}

	err := r.repo.PushContext(ctx, opts)
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case isRejected(err):
		return fmt.Errorf("%w: push %s to %s: %v", importerr.ErrConflict, r.ref.Branch, r.remoteURL, err)
	default:
		return fmt.Errorf("%w: push %s to %s: %v", importerr.ErrGitTransport, r.ref.Branch, r.remoteURL, err)
	}
}

// isRejected reports whether a push failed because the remote ref moved.
func isRejected(err error) bool {
	if errors.Is(err, git.ErrNonFastForwardUpdate) || errors.Is(err, git.ErrForceNeeded) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"non-fast-forward", "required to be", "fetch first", "rejected", "failed to lock"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// open loads the local repository, creating it when missing or unreadable.
func (r *Repository) open() error {
	if r.repo != nil {
		return nil
	}
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			r.log.Info("discarding unreadable checkout", "error", err.Error())
		}
		return r.init()
	}
	r.repo = repo

	remote, err := repo.Remote(OriginName)
	if err == nil && len(remote.Config().URLs) > 0 && remote.Config().URLs[0] == r.remoteURL {
		return nil
	}
	_ = repo.DeleteRemote(OriginName)
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: OriginName, URLs: []string{r.remoteURL}}); err != nil {
		return fmt.Errorf("%w: configure remote: %v", importerr.ErrStorage, err)
	}
	return nil
}

func (r *Repository) init() error {
	r.repo = nil
	if err := os.RemoveAll(r.dir); err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	repo, err := git.PlainInit(r.dir, false)
	if err != nil {
		return fmt.Errorf("%w: init %s: %v", importerr.ErrStorage, r.dir, err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: OriginName, URLs: []string{r.remoteURL}}); err != nil {
		return fmt.Errorf("%w: configure remote: %v", importerr.ErrStorage, err)
	}
	r.repo = repo
	return nil
}

// orphan recreates the checkout with HEAD on an unborn branch.
func (r *Repository) orphan() error {
	if err := r.init(); err != nil {
		return err
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(r.ref.Branch))
	if err := r.repo.Storer.SetReference(head); err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	return nil
}

func (r *Repository) updateGitignore(manifest *Manifest) error {
	path := filepath.Join(r.dir, GitignoreFile)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: read .gitignore: %v", importerr.ErrStorage, err)
	}

	present := map[string]bool{}
	lines := strings.Split(strings.TrimRight(string(existing), "\n"), "\n")
	if len(existing) == 0 {
		lines = nil
	}
	for _, l := range lines {
		present[strings.TrimSpace(l)] = true
	}
	changed := false
	for _, e := range manifest.Entries() {
		entry := "/" + e.Filename
		if !present[entry] {
			lines = append(lines, entry)
			present[entry] = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return fmt.Errorf("%w: write .gitignore: %v", importerr.ErrStorage, err)
	}
	return nil
}

func (r *Repository) prune(keep map[string]bool) error {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return fmt.Errorf("%w: read index: %v", importerr.ErrStorage, err)
	}
	var stale []string
	for _, e := range idx.Entries {
		if !keep[e.Name] {
			stale = append(stale, e.Name)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	for _, name := range stale {
		if _, err := wt.Remove(name); err != nil {
			return fmt.Errorf("%w: remove %s: %v", importerr.ErrStorage, name, err)
		}
	}
	r.log.V(1).Info("pruned stale files", "files", stale)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: copy %s: %v", importerr.ErrStorage, filepath.Base(dst), err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	tracing.RecordError(span, err, string(importerr.KindOf(err)))
	span.End()
}
