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

package distgit

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/altairalabs/distgit-importer/internal/importerr"
)

// Well-known files at the root of a branch tree.
const (
	SourcesFile   = "sources"
	GitignoreFile = ".gitignore"
)

// ManifestAlgorithm is the hash label written into the sources manifest.
const ManifestAlgorithm = "SHA512"

var (
	taggedLine = regexp.MustCompile(`^([A-Z0-9]+) \((.+)\) = ([0-9a-fA-F]+)$`)
	legacyLine = regexp.MustCompile(`^([0-9a-fA-F]+)\s+(\S.*)$`)
)

// ManifestEntry is one line of the sources manifest.
type ManifestEntry struct {
	Filename string
	Hash     string
}

// Manifest lists the lookaside files a branch needs, keyed by file name.
type Manifest struct {
	entries map[string]string
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{entries: map[string]string{}}
}

// Add records filename with its content hash, replacing an older hash.
func (m *Manifest) Add(filename, hash string) {
	m.entries[filename] = hash
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Hash returns the recorded hash of filename.
func (m *Manifest) Hash(filename string) (string, bool) {
	h, ok := m.entries[filename]
	return h, ok
}

// Entries returns the entries sorted by file name.
func (m *Manifest) Entries() []ManifestEntry {
	out := make([]ManifestEntry, 0, len(m.entries))
	for name, hash := range m.entries {
		out = append(out, ManifestEntry{Filename: name, Hash: hash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// MarshalText renders the manifest in the "SHA512 (file) = hash" format.
func (m *Manifest) MarshalText() ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range m.Entries() {
		fmt.Fprintf(&buf, "%s (%s) = %s\n", ManifestAlgorithm, e.Filename, e.Hash)
	}
	return buf.Bytes(), nil
}

// ParseManifest reads a sources manifest. Both the tagged format and the
// older "<md5>  <file>" format are accepted.
func ParseManifest(data []byte) (*Manifest, error) {
	m := NewManifest()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if g := taggedLine.FindStringSubmatch(line); g != nil {
			m.Add(g[2], strings.ToLower(g[3]))
			continue
		}
		if g := legacyLine.FindStringSubmatch(line); g != nil {
			m.Add(g[2], strings.ToLower(g[1]))
			continue
		}
		return nil, fmt.Errorf("%w: sources line %d: unrecognized format", importerr.ErrMalformedSource, n)
	}
	return m, scanner.Err()
}
