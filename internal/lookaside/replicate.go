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

package lookaside

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/altairalabs/distgit-importer/internal/importerr"
	"github.com/altairalabs/distgit-importer/internal/lookaside/mirror"
)

// Mirror operation labels.
const (
	opPut     = "put"
	opList    = "list"
	opRestore = "restore"
)

// replicate uploads a new blob to the mirror. The local store is
// authoritative: failures are logged and counted, and Resync retries later.
func (c *Cache) replicate(ctx context.Context, e Entry) {
	if c.mirror == nil {
		return
	}
	if err := c.upload(ctx, e); err != nil {
		c.metrics.RecordMirrorError(opPut)
		c.log.Error(err, "mirror upload failed", "key", e.Key())
	}
}

func (c *Cache) upload(ctx context.Context, e Entry) error {
	f, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return c.mirror.Put(ctx, e.Key(), f, e.Size)
}

// Restore downloads a blob missing locally from the mirror, verifying its
// hash before placing it in the store.
func (c *Cache) Restore(ctx context.Context, project, filename, hash string) (Entry, error) {
	if c.mirror == nil {
		return Entry{}, fmt.Errorf("%w: %s/%s/%s (no mirror)", ErrNotFound, project, filename, hash)
	}
	if _, err := c.resolve(project, filename, hash); err != nil {
		return Entry{}, err
	}
	key := project + "/" + filename + "/" + hash
	rc, err := c.mirror.Get(ctx, key)
	if err != nil {
		if errors.Is(err, mirror.ErrObjectNotFound) {
			return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		c.metrics.RecordMirrorError(opRestore)
		return Entry{}, fmt.Errorf("%w: mirror get %s: %v", importerr.ErrStorage, key, err)
	}
	defer func() { _ = rc.Close() }()

	entry, err := c.Put(ctx, project, filename, rc)
	if err != nil {
		return Entry{}, err
	}
	if entry.Hash != hash {
		c.metrics.RecordMirrorError(opRestore)
		return Entry{}, fmt.Errorf("%w: mirror object %s has hash %s", importerr.ErrStorage, key, entry.Hash)
	}
	c.log.Info("blob restored from mirror", "key", key)
	return entry, nil
}

// Resync uploads every local blob the mirror does not have yet and returns
// the number of uploads.
func (c *Cache) Resync(ctx context.Context) (int, error) {
	if c.mirror == nil {
		return 0, nil
	}
	projects, err := os.ReadDir(c.root)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", importerr.ErrStorage, c.root, err)
	}

	uploaded := 0
	for _, p := range projects {
		if !p.IsDir() || strings.HasPrefix(p.Name(), ".") {
			continue
		}
		n, err := c.resyncProject(ctx, p.Name())
		uploaded += n
		if err != nil {
			return uploaded, err
		}
	}
	return uploaded, nil
}

func (c *Cache) resyncProject(ctx context.Context, project string) (int, error) {
	keys, err := c.mirror.List(ctx, project+"/")
	if err != nil {
		c.metrics.RecordMirrorError(opList)
		return 0, fmt.Errorf("mirror list %s: %w", project, err)
	}
	remote := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		remote[k] = struct{}{}
	}

	uploaded := 0
	projectDir := filepath.Join(c.root, project)
	err = filepath.WalkDir(projectDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(projectDir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 2 || !isHexDigest(parts[1]) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		e := Entry{Project: project, Filename: parts[0], Hash: parts[1], Path: path, Size: info.Size()}
		if _, ok := remote[e.Key()]; ok {
			return nil
		}
		if err := c.upload(ctx, e); err != nil {
			c.metrics.RecordMirrorError(opPut)
			return fmt.Errorf("mirror upload %s: %w", e.Key(), err)
		}
		uploaded++
		return nil
	})
	return uploaded, err
}
