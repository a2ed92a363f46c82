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

// Package fetcher retrieves task source material into a scratch directory
// and unpacks it into files destined for git or the lookaside cache.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/altairalabs/distgit-importer/internal/task"
)

// Scratch subdirectories.
const (
	downloadDir = "download"
	unpackedDir = "unpacked"
)

// FileClass says where an unpacked file is stored.
type FileClass int

const (
	// ClassGit files are committed to the branch repository.
	ClassGit FileClass = iota
	// ClassLookaside files are stored in the lookaside cache and listed in
	// the sources manifest.
	ClassLookaside
)

func (c FileClass) String() string {
	if c == ClassLookaside {
		return "lookaside"
	}
	return "git"
}

// File is one unpacked file.
type File struct {
	// Name is the file name inside the package.
	Name string
	// Path is the file's location in the scratch directory.
	Path  string
	Size  int64
	Class FileClass
}

// PackageInfo is the package identity read from the source.
type PackageInfo struct {
	Name    string
	Epoch   int
	Version string
	Release string
}

// EVR returns "[epoch:]version-release".
func (p PackageInfo) EVR() string {
	evr := p.Version
	if p.Release != "" {
		evr += "-" + p.Release
	}
	if p.Epoch > 0 {
		evr = strconv.Itoa(p.Epoch) + ":" + evr
	}
	return evr
}

// LocalSources is the unpacked content of a task's source.
type LocalSources struct {
	Package PackageInfo
	// Spec is the package's spec file.
	Spec File
	// Files lists every unpacked file, the spec included.
	Files []File
	// SpecOnly is true when the source was a bare spec file.
	SpecOnly bool
}

// GitFiles returns the files committed directly to git.
func (l *LocalSources) GitFiles() []File {
	return l.filter(ClassGit)
}

// LookasideFiles returns the files offloaded to the lookaside cache.
func (l *LocalSources) LookasideFiles() []File {
	return l.filter(ClassLookaside)
}

func (l *LocalSources) filter(class FileClass) []File {
	var out []File
	for _, f := range l.Files {
		if f.Class == class {
			out = append(out, f)
		}
	}
	return out
}

// Fetcher retrieves and unpacks task sources. Download and Unpack are
// separate so callers can account for the two stages independently.
type Fetcher interface {
	// Download retrieves the referenced resource into scratchDir and returns
	// the local path. Failures wrap importerr.ErrFetch.
	Download(ctx context.Context, ref task.SourceReference, scratchDir string) (string, error)

	// Unpack extracts a downloaded resource into scratchDir.
	Unpack(ctx context.Context, ref task.SourceReference, downloaded, scratchDir string) (*LocalSources, error)
}

// Fetch downloads and unpacks ref into scratchDir.
func Fetch(ctx context.Context, f Fetcher, ref task.SourceReference, scratchDir string) (*LocalSources, error) {
	downloaded, err := f.Download(ctx, ref, scratchDir)
	if err != nil {
		return nil, err
	}
	return f.Unpack(ctx, ref, downloaded, scratchDir)
}

// Options configures an HTTPFetcher.
type Options struct {
	// Timeout bounds a single download.
	Timeout time.Duration

	// MaxBytes bounds a single download.
	MaxBytes int64

	// MaxUnpackedBytes bounds the total size extracted from one package.
	MaxUnpackedBytes int64

	// RateLimit is the number of downloads started per second.
	RateLimit float64

	// Burst is the rate limiter burst.
	Burst int

	// FrontendUser and FrontendAuth authenticate uploaded artifact downloads.
	FrontendUser string
	FrontendAuth string

	// Policy classifies unpacked files.
	Policy Policy
}

// DefaultOptions returns default fetcher options.
func DefaultOptions() Options {
	return Options{
		Timeout:          5 * time.Minute,
		MaxBytes:         2 << 30,
		MaxUnpackedBytes: 8 << 30,
		RateLimit:        10,
		Burst:            5,
		FrontendUser:     "user",
		Policy:           DefaultPolicy(),
	}
}

// permanentError marks fetch failures a retry cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...any) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err is a fetch failure that should not be
// retried, such as a 404 or an oversized download.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
