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

// Package mirror replicates lookaside blobs to object storage
// (S3, GCS, Azure Blob) so a lost local store can be rebuilt.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrObjectNotFound is returned when a requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore abstracts raw object I/O across cloud storage backends.
type BlobStore interface {
	// Put uploads size bytes from body to the given key.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error

	// Get opens the object at key for reading.
	// Returns ErrObjectNotFound if the key does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns all keys matching the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks whether an object exists at the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping checks connectivity to the underlying store.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// New creates the BlobStore selected by cfg. It returns nil without error
// when no backend is configured.
func New(ctx context.Context, cfg Config) (BlobStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case BackendNone:
		return nil, nil
	case BackendS3:
		return NewS3BlobStore(ctx, cfg.Bucket, cfg.S3)
	case BackendGCS:
		return NewGCSBlobStore(ctx, cfg.Bucket, cfg.GCS)
	case BackendAzure:
		return NewAzureBlobStore(ctx, cfg.Bucket, cfg.Azure)
	case BackendMemory:
		return NewMemoryBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", cfg.Backend)
	}
}
