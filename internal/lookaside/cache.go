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

// Package lookaside implements the content-addressed blob store that holds
// large source files outside git history.
//
// Blobs live at <root>/<project>/<filename>/<sha512 hex>. Writes stream into
// <root>/.tmp and are renamed into place, so readers never observe partial
// blobs and concurrent writers need no lock.
package lookaside

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/go-logr/logr"

	"github.com/altairalabs/distgit-importer/internal/importerr"
	"github.com/altairalabs/distgit-importer/internal/lookaside/mirror"
	"github.com/altairalabs/distgit-importer/pkg/metrics"
)

// HashAlgorithm names the digest used for entry identity, as written in
// sources manifests.
const HashAlgorithm = "SHA512"

const tmpDirName = ".tmp"

var (
	// ErrNotFound is returned when no blob exists for a (project, filename, hash).
	ErrNotFound = errors.New("lookaside entry not found")
	// ErrInvalidPath is returned for names or hashes that do not fit the layout.
	ErrInvalidPath = fmt.Errorf("%w: invalid path", importerr.ErrStorage)
)

// Entry identifies one stored blob.
type Entry struct {
	Project  string
	Filename string
	Hash     string
	Path     string
	Size     int64
}

// Key returns the mirror object key for the entry.
func (e Entry) Key() string {
	return e.Project + "/" + e.Filename + "/" + e.Hash
}

// Config configures a Cache.
type Config struct {
	// Root is the lookaside_location directory.
	Root string
	// Mirror optionally replicates every new blob. Nil disables mirroring.
	Mirror mirror.BlobStore
	// Metrics records store activity. Nil disables metrics.
	Metrics metrics.LookasideRecorder
}

// Cache is a filesystem lookaside store.
type Cache struct {
	root    string
	tmpDir  string
	mirror  mirror.BlobStore
	metrics metrics.LookasideRecorder
	log     logr.Logger
}

// New creates the cache, creating the root directory if needed.
func New(cfg Config, log logr.Logger) (*Cache, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: lookaside root is required", importerr.ErrStorage)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	tmpDir := filepath.Join(root, tmpDirName)
	if err := os.MkdirAll(tmpDir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create lookaside directory: %v", importerr.ErrStorage, err)
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NoOpLookasideMetrics{}
	}
	return &Cache{
		root:    root,
		tmpDir:  tmpDir,
		mirror:  cfg.Mirror,
		metrics: m,
		log:     log.WithName("lookaside"),
	}, nil
}

// Root returns the absolute cache root.
func (c *Cache) Root() string {
	return c.root
}

// Put stores the content read from r under (project, filename). Storing
// identical content twice returns the existing entry without rewriting it.
func (c *Cache) Put(ctx context.Context, project, filename string, r io.Reader) (Entry, error) {
	if err := validateName(project); err != nil {
		return Entry{}, err
	}
	if err := validateName(filename); err != nil {
		return Entry{}, err
	}

	tmp, err := os.CreateTemp(c.tmpDir, "put-*")
	if err != nil {
		return Entry{}, fmt.Errorf("%w: create temp file: %v", importerr.ErrStorage, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	h := sha512.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		_ = tmp.Close()
		if ctx.Err() != nil {
			return Entry{}, ctx.Err()
		}
		return Entry{}, fmt.Errorf("%w: write %s: %v", importerr.ErrStorage, filename, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Entry{}, fmt.Errorf("%w: sync %s: %v", importerr.ErrStorage, filename, err)
	}
	if err := tmp.Close(); err != nil {
		return Entry{}, fmt.Errorf("%w: close %s: %v", importerr.ErrStorage, filename, err)
	}

	entry := Entry{
		Project:  project,
		Filename: filename,
		Hash:     hex.EncodeToString(h.Sum(nil)),
		Size:     size,
	}
	entry.Path = filepath.Join(c.root, project, filename, entry.Hash)

	if _, err := os.Stat(entry.Path); err == nil {
		c.metrics.RecordDedupHit()
		c.log.V(1).Info("blob already stored", "project", project, "filename", filename, "hash", entry.Hash)
		return entry, nil
	}

	if err := os.MkdirAll(filepath.Dir(entry.Path), 0750); err != nil {
		return Entry{}, fmt.Errorf("%w: create %s: %v", importerr.ErrStorage, filepath.Dir(entry.Path), err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return Entry{}, fmt.Errorf("%w: chmod %s: %v", importerr.ErrStorage, filename, err)
	}
	if err := os.Rename(tmpPath, entry.Path); err != nil {
		return Entry{}, fmt.Errorf("%w: rename into %s: %v", importerr.ErrStorage, entry.Path, err)
	}
	committed = true

	c.metrics.RecordStored(size)
	c.log.Info("blob stored", "project", project, "filename", filename, "hash", entry.Hash, "size", size)
	c.replicate(ctx, entry)
	return entry, nil
}

// PutFile stores the file at path under (project, filename).
func (c *Cache) PutFile(ctx context.Context, project, filename, path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: open %s: %v", importerr.ErrStorage, path, err)
	}
	defer func() { _ = f.Close() }()
	return c.Put(ctx, project, filename, f)
}

// Has reports whether the blob exists locally.
func (c *Cache) Has(project, filename, hash string) (bool, error) {
	_, err := c.Path(project, filename, hash)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Path returns the on-disk path of a stored blob.
func (c *Cache) Path(project, filename, hash string) (string, error) {
	p, err := c.resolve(project, filename, hash)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s/%s/%s", ErrNotFound, project, filename, hash)
		}
		return "", fmt.Errorf("%w: stat %s: %v", importerr.ErrStorage, p, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", importerr.ErrStorage, p)
	}
	return p, nil
}

func (c *Cache) resolve(project, filename, hash string) (string, error) {
	for _, part := range []string{project, filename} {
		if err := validateName(part); err != nil {
			return "", err
		}
	}
	if !isHexDigest(hash) {
		return "", fmt.Errorf("%w: hash %q", ErrInvalidPath, hash)
	}
	p, err := securejoin.SecureJoin(c.root, filepath.Join(project, filename, hash))
	if err != nil {
		return "", fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	return p, nil
}

// validateName rejects path components that could escape or alias the
// store layout.
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty path component", ErrInvalidPath)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidPath, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a separator", ErrInvalidPath, name)
	}
	return nil
}

func isHexDigest(s string) bool {
	if len(s) != sha512.Size*2 {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
