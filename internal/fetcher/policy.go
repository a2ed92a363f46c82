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
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// sniffLen is how much of a file is inspected for binary content.
const sniffLen = 8 << 10

// Policy decides which unpacked files are committed to git and which are
// offloaded to the lookaside cache.
//
// Evaluation order: GitPatterns, then LookasidePatterns, then the size
// threshold, then binary detection. Spec files always go to git.
type Policy struct {
	// GitPatterns are path.Match patterns for files committed to git.
	GitPatterns []string
	// LookasidePatterns are path.Match patterns for files sent to lookaside.
	LookasidePatterns []string
	// LargeFileThreshold sends unmatched files at least this large to
	// lookaside. Zero disables the threshold.
	LargeFileThreshold int64
}

// DefaultPolicy sends archives and binary payloads to lookaside and spec
// and patch files to git.
func DefaultPolicy() Policy {
	return Policy{
		GitPatterns: []string{"*.spec", "*.patch", "*.diff"},
		LookasidePatterns: []string{
			"*.tar", "*.tar.*", "*.tgz", "*.tbz", "*.tbz2", "*.txz", "*.tzst",
			"*.zip", "*.gem", "*.crate", "*.jar", "*.whl", "*.rpm",
			"*.gz", "*.bz2", "*.xz", "*.lz", "*.lzma", "*.zst", "*.7z",
		},
	}
}

// Validate checks that every pattern is well formed.
func (p Policy) Validate() error {
	for _, patterns := range [][]string{p.GitPatterns, p.LookasidePatterns} {
		for _, pattern := range patterns {
			if _, err := path.Match(pattern, ""); err != nil {
				return fmt.Errorf("invalid classification pattern %q: %w", pattern, err)
			}
		}
	}
	if p.LargeFileThreshold < 0 {
		return fmt.Errorf("large_file_threshold must not be negative")
	}
	return nil
}

// Classify returns the storage class of the file name, reading from
// filePath only when content sniffing is needed.
func (p Policy) Classify(name, filePath string, size int64) (FileClass, error) {
	base := strings.ToLower(path.Base(name))
	if strings.HasSuffix(base, ".spec") || matchAny(p.GitPatterns, base) {
		return ClassGit, nil
	}
	if matchAny(p.LookasidePatterns, base) {
		return ClassLookaside, nil
	}
	if p.LargeFileThreshold > 0 && size >= p.LargeFileThreshold {
		return ClassLookaside, nil
	}
	binary, err := looksBinary(filePath)
	if err != nil {
		return ClassGit, err
	}
	if binary {
		return ClassLookaside, nil
	}
	return ClassGit, nil
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(strings.ToLower(pattern), name); ok {
			return true
		}
	}
	return false
}

// looksBinary reports whether the first sniffLen bytes contain a NUL.
func looksBinary(filePath string) (bool, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return bytes.IndexByte(buf[:n], 0) >= 0, nil
}
